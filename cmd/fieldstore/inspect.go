package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	fieldstore "github.com/goliatone/go-fieldstore"
	"github.com/goliatone/go-fieldstore/persistence"
)

func inspectCmd(root *rootOptions) *cobra.Command {
	var sets []string

	cmd := &cobra.Command{
		Use:   "inspect [location]",
		Short: "Hydrate a form from a URL and print its state",
		Long: `Hydrate the form from the query string of location and print the
resulting values, validation errors and active filter chips as JSON.

With --set the given values are flushed and persisted first, so the printed
location is the URL the form would navigate to. Repeat --set for every item
of an array field.

Examples:
  fieldstore inspect --spec form.json "/search?q=boots&tags[]=new"
  fieldstore inspect --spec form.json /search --set q=boots --set tags=new --set tags=sale`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			location := "/"
			if len(args) == 1 {
				location = args[0]
			}
			return runInspect(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), root, location, sets)
		},
	}
	cmd.Flags().StringArrayVar(&sets, "set", nil, "name=value to flush before printing")
	return cmd
}

type inspectReport struct {
	ID          string                             `json:"id"`
	Location    string                             `json:"location"`
	Values      persistence.Dictionary             `json:"values"`
	Submittable []string                           `json:"submittable,omitempty"`
	Errors      map[string]*fieldstore.FieldErrors `json:"errors,omitempty"`
	Chips       []fieldstore.Chip                  `json:"chips"`
}

func runInspect(ctx context.Context, out, logs io.Writer, root *rootOptions, location string, sets []string) error {
	file, err := root.load()
	if err != nil {
		return err
	}
	adapter, err := persistence.NewURLAdapter(location)
	if err != nil {
		return fmt.Errorf("location: %w", err)
	}
	store, err := file.NewStore(ctx, fieldstore.WithAdapter(adapter), fieldstore.WithLogger(root.logger(logs)))
	if err != nil {
		return err
	}
	if err := awaitReady(ctx, store); err != nil {
		return err
	}

	if len(sets) > 0 {
		names, values, err := parseAssignments(ctx, store, sets)
		if err != nil {
			return err
		}
		for _, name := range names {
			if err := store.Flush(name, values[name]); err != nil {
				return err
			}
		}
		if err := store.Persist(ctx); err != nil {
			return err
		}
	}

	collection := store.Collection()
	report := inspectReport{
		ID:          store.ID(),
		Location:    adapter.Location(),
		Values:      collection.Primitives(),
		Submittable: collection.Actives().Submittables().Names(),
		Errors:      collection.Errors(),
		Chips:       collection.ActiveFilters(true),
	}
	if report.Chips == nil {
		report.Chips = []fieldstore.Chip{}
	}
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(report)
}

func awaitReady(ctx context.Context, store *fieldstore.Store) error {
	ready := make(chan struct{})
	store.WhenReady("cli", func() { close(ready) })
	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// parseAssignments decodes name=value pairs through the field serializers.
// Repeated names build the items of array fields; a trailing [] on the name
// is accepted.
func parseAssignments(ctx context.Context, store *fieldstore.Store, sets []string) ([]string, map[string]any, error) {
	var names []string
	raw := map[string][]string{}
	for _, set := range sets {
		name, value, ok := strings.Cut(set, "=")
		name = persistence.NormalizeKey(strings.TrimSpace(name))
		if !ok || name == "" {
			return nil, nil, fmt.Errorf("--set %q: expected name=value", set)
		}
		if _, seen := raw[name]; !seen {
			names = append(names, name)
		}
		raw[name] = append(raw[name], value)
	}

	values := make(map[string]any, len(names))
	for _, name := range names {
		field, ok := store.Get(name)
		if !ok {
			return nil, nil, &fieldstore.FieldNotFoundError{Name: name, Operation: "set"}
		}
		wire := persistence.Scalar(raw[name][0])
		if field.Type.IsArray() {
			wire = persistence.List(raw[name]...)
		} else if len(raw[name]) > 1 {
			return nil, nil, fmt.Errorf("--set %s: field is not an array", name)
		}
		value, err := field.Serializer.Unserialize(wire)
		if err != nil {
			return nil, nil, fmt.Errorf("--set %s: %w", name, err)
		}
		if deferred, ok := value.(*fieldstore.Deferred); ok {
			if value, err = deferred.Await(ctx); err != nil {
				return nil, nil, fmt.Errorf("--set %s: %w", name, err)
			}
		}
		values[name] = value
	}
	return names, values, nil
}
