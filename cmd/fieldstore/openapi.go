package main

import (
	"context"
	"encoding/json"
	"io"

	"github.com/spf13/cobra"

	fieldstore "github.com/goliatone/go-fieldstore"
	"github.com/goliatone/go-fieldstore/schema/openapi"
)

type openapiOptions struct {
	title       string
	path        string
	operationID string
	summary     string
	descriptors bool
	extensions  bool
}

func openapiCmd(root *rootOptions) *cobra.Command {
	opts := openapiOptions{}

	cmd := &cobra.Command{
		Use:   "openapi",
		Short: "Print the query parameters of a form as OpenAPI",
		Long: `Print an OpenAPI document with one search operation whose query
parameters are the form fields, named the way the URL adapter writes them.

Examples:
  fieldstore openapi --spec form.json
  fieldstore openapi --spec form.json --path /products --operation-id searchProducts
  fieldstore openapi --spec form.json --descriptors`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOpenAPI(cmd.Context(), cmd.OutOrStdout(), root, opts)
		},
	}
	cmd.Flags().StringVar(&opts.title, "title", "", "Info title (default \"Search Form\")")
	cmd.Flags().StringVar(&opts.path, "path", "", "Operation path (default /search)")
	cmd.Flags().StringVar(&opts.operationID, "operation-id", "", "Operation id")
	cmd.Flags().StringVar(&opts.summary, "summary", "", "Operation summary")
	cmd.Flags().BoolVar(&opts.descriptors, "descriptors", false, "Print the plain field descriptors instead")
	cmd.Flags().BoolVar(&opts.extensions, "extensions", true, "Include x-fieldstore-* extensions")
	return cmd
}

func runOpenAPI(ctx context.Context, out io.Writer, root *rootOptions, opts openapiOptions) error {
	file, err := root.load()
	if err != nil {
		return err
	}
	store, err := file.NewStore(ctx)
	if err != nil {
		return err
	}

	var generator fieldstore.SchemaGenerator
	if !opts.descriptors {
		genOpts := []openapi.GeneratorOption{
			openapi.WithInfo(opts.title, ""),
			openapi.WithOperation(opts.path, "get", opts.operationID, openapi.WithOperationSummary(opts.summary)),
		}
		for _, field := range file.Fields {
			genOpts = append(genOpts, openapi.WithParameterDescription(field.Name, field.Label))
		}
		if !opts.extensions {
			genOpts = append(genOpts, openapi.WithoutExtensions())
		}
		generator = openapi.NewGenerator(genOpts...)
	}
	doc, err := store.Schema(generator)
	if err != nil {
		return err
	}
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(doc.Document)
}
