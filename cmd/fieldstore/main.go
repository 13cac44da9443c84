// Command fieldstore loads a search form description and inspects, documents
// or serves it.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/goliatone/go-fieldstore/internal/specfile"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "\033[31mError:\033[0m %s\n", err)
		os.Exit(1)
	}
}

type rootOptions struct {
	spec    string
	verbose bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "fieldstore",
		Short: "Inspect and serve search form field stores",
		Long: `fieldstore works with search forms described in a JSON form file.

Every command reads the form file given with --spec:

  fieldstore inspect --spec form.json "/products?q=boots&tags[]=new"
  fieldstore openapi --spec form.json
  fieldstore serve --spec form.json --addr :8080`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.spec, "spec", "f", "", "Form description file (required)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log store activity to stderr")

	cmd.AddCommand(
		inspectCmd(opts),
		openapiCmd(opts),
		serveCmd(opts),
		versionCmd(),
	)
	return cmd
}

func (o *rootOptions) load() (*specfile.File, error) {
	if o.spec == "" {
		return nil, fmt.Errorf("--spec is required")
	}
	return specfile.LoadFile(o.spec)
}

func (o *rootOptions) logger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "fieldstore %s (%s)\n", version, commit)
		},
	}
}
