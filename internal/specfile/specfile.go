// Package specfile loads declarative form descriptions from JSON.
//
// A form file lists the fields of a search form with their defaults, in wire
// form, and their rules:
//
//	{
//	  "id": "products",
//	  "engine": "expr",
//	  "fields": [
//	    {"name": "q", "type": "string", "submittable": true, "label": "Search",
//	     "rules": [{"kind": "minLength", "min": 3}]},
//	    {"name": "tags", "type": "string[]", "default": ["new"]},
//	    {"name": "maxPrice", "type": "number"},
//	    {"name": "price", "type": "number",
//	     "rules": [{"kind": "expression", "expr": "maxPrice == nil || value <= maxPrice"}]}
//	  ]
//	}
package specfile

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
	"slices"

	fieldstore "github.com/goliatone/go-fieldstore"
	"github.com/goliatone/go-fieldstore/internal/hydrate"
	"github.com/goliatone/go-fieldstore/persistence"
)

// Rule kinds.
const (
	KindRequired   = "required"
	KindFilled     = "filled"
	KindLength     = "length"
	KindMinLength  = "minLength"
	KindMaxLength  = "maxLength"
	KindRange      = "range"
	KindAfter      = "after"
	KindBefore     = "before"
	KindExpression = "expression"
)

var engines = []string{"", "expr", "cel", "js"}

// File is a decoded form description.
type File struct {
	ID       string      `json:"id,omitempty"`
	Engine   string      `json:"engine,omitempty"`
	FailFast *bool       `json:"failFast,omitempty"`
	Fields   []FieldSpec `json:"fields"`
}

// FieldSpec describes one field.
type FieldSpec struct {
	Name        string             `json:"name"`
	Type        string             `json:"type"`
	Default     *persistence.Value `json:"default,omitempty"`
	Submittable bool               `json:"submittable,omitempty"`
	// Label enables active filter chips rendered as "Label: value".
	Label string     `json:"label,omitempty"`
	Rules []RuleSpec `json:"rules,omitempty"`
}

// RuleSpec describes one rule. Which members apply depends on Kind.
type RuleSpec struct {
	Kind    string   `json:"kind"`
	Message string   `json:"message,omitempty"`
	OnlyIf  string   `json:"onlyIf,omitempty"`
	Field   string   `json:"field,omitempty"`
	Min     *float64 `json:"min,omitempty"`
	Max     *float64 `json:"max,omitempty"`
	Bound   string   `json:"bound,omitempty"`
	Expr    string   `json:"expr,omitempty"`
}

// Load decodes a form file, rejecting unknown keys.
func Load(r io.Reader, name string) (*File, error) {
	var payload map[string]any
	if err := json.NewDecoder(r).Decode(&payload); err != nil {
		return nil, fmt.Errorf("specfile: read %s: %w", name, err)
	}
	decoder := hydrate.NewDecoder(
		hydrate.WithDisallowUnknownFields[File](),
		hydrate.WithPostHook(func(_ hydrate.Context, file *File) error {
			return file.validate()
		}),
	)
	file, err := decoder.Decode(hydrate.Context{Form: name}, payload)
	if err != nil {
		return nil, fmt.Errorf("specfile: %w", err)
	}
	return &file, nil
}

// LoadFile opens and decodes path.
func LoadFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("specfile: %w", err)
	}
	defer f.Close()
	return Load(f, path)
}

func (f *File) validate() error {
	if len(f.Fields) == 0 {
		return fmt.Errorf("no fields declared")
	}
	if !slices.Contains(engines, f.Engine) {
		return fmt.Errorf("unknown engine %q", f.Engine)
	}
	seen := map[string]bool{}
	for _, field := range f.Fields {
		if field.Name == "" {
			return fmt.Errorf("field without name")
		}
		if seen[field.Name] {
			return fmt.Errorf("field %q declared twice", field.Name)
		}
		seen[field.Name] = true
		if !fieldstore.FieldType(field.Type).Valid() {
			return fmt.Errorf("field %q: unknown type %q", field.Name, field.Type)
		}
	}
	return nil
}

// Options returns the store options the file implies.
func (f *File) Options() []fieldstore.Option {
	var opts []fieldstore.Option
	if f.ID != "" {
		opts = append(opts, fieldstore.WithID(f.ID))
	}
	if f.FailFast != nil {
		opts = append(opts, fieldstore.WithFailFast(*f.FailFast))
	}
	return opts
}

// Definitions converts the fields, in file order. Expression rules share one
// engine built from the file's evaluator name and engineOpts.
func (f *File) Definitions(engineOpts ...fieldstore.EngineOption) ([]fieldstore.Definition, error) {
	engine, err := f.engine(engineOpts)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(f.Fields))
	for _, spec := range f.Fields {
		names = append(names, spec.Name)
	}
	defs := make([]fieldstore.Definition, 0, len(f.Fields))
	for _, spec := range f.Fields {
		def, err := spec.definition(engine, names)
		if err != nil {
			return nil, fmt.Errorf("specfile: field %q: %w", spec.Name, err)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// NewStore builds a store configured by the file, followed by opts, and
// registers every field.
func (f *File) NewStore(ctx context.Context, opts ...fieldstore.Option) (*fieldstore.Store, error) {
	defs, err := f.Definitions()
	if err != nil {
		return nil, err
	}
	store, err := fieldstore.New(append(f.Options(), opts...)...)
	if err != nil {
		return nil, err
	}
	for _, def := range defs {
		if err := store.Register(ctx, def); err != nil {
			return nil, err
		}
	}
	return store, nil
}

func (f *File) engine(opts []fieldstore.EngineOption) (*fieldstore.ExpressionEngine, error) {
	needed := slices.ContainsFunc(f.Fields, func(field FieldSpec) bool {
		return slices.ContainsFunc(field.Rules, func(rule RuleSpec) bool { return rule.Kind == KindExpression })
	})
	if !needed {
		return nil, nil
	}
	cache, err := fieldstore.NewLRUProgramCache(128)
	if err != nil {
		return nil, err
	}
	evaluator, err := fieldstore.NewEvaluatorByName(f.Engine, cache, nil)
	if err != nil {
		return nil, fmt.Errorf("specfile: %w", err)
	}
	return fieldstore.NewExpressionEngine(append([]fieldstore.EngineOption{fieldstore.WithEvaluator(evaluator)}, opts...)...), nil
}

func (s FieldSpec) definition(engine *fieldstore.ExpressionEngine, names []string) (fieldstore.Definition, error) {
	fieldType := fieldstore.FieldType(s.Type)
	serializer, err := fieldstore.DefaultSerializer(fieldType)
	if err != nil {
		return fieldstore.Definition{}, err
	}
	opts := []fieldstore.FieldOption{fieldstore.WithSerializer(serializer)}
	if s.Submittable {
		opts = append(opts, fieldstore.Submittable())
	}
	if s.Default != nil {
		value, err := serializer.Unserialize(*s.Default)
		if err != nil {
			return fieldstore.Definition{}, fmt.Errorf("default: %w", err)
		}
		opts = append(opts, fieldstore.WithDefault(value))
	}
	if s.Label != "" {
		opts = append(opts, fieldstore.WithHumanizer(labeler(s.Label, serializer)))
	}
	bounds := serializer
	if fieldType.IsArray() {
		bounds, _ = fieldstore.DefaultSerializer(fieldType.Elem())
	}
	rules := make([]fieldstore.Rule, 0, len(s.Rules))
	for i, spec := range s.Rules {
		rule, err := spec.rule(s.Name, bounds, engine, names)
		if err != nil {
			return fieldstore.Definition{}, fmt.Errorf("rule %d: %w", i, err)
		}
		rules = append(rules, rule)
	}
	if len(rules) > 0 {
		opts = append(opts, fieldstore.WithRules(rules...))
	}
	return fieldstore.Define(s.Name, fieldType, opts...), nil
}

func (r RuleSpec) rule(field string, bounds fieldstore.Serializer, engine *fieldstore.ExpressionEngine, names []string) (fieldstore.Rule, error) {
	var opts []fieldstore.RuleOption
	if r.Message != "" {
		opts = append(opts, fieldstore.Message(r.Message))
	}
	if r.OnlyIf != "" {
		opts = append(opts, fieldstore.OnlyIf(fieldstore.FieldActive(r.OnlyIf)))
	}

	switch r.Kind {
	case KindRequired:
		return fieldstore.Required(opts...), nil
	case KindFilled:
		if r.Field == "" {
			return nil, fmt.Errorf("filled needs a field")
		}
		return fieldstore.Filled(r.Field, opts...), nil
	case KindLength:
		if r.Min == nil || r.Max == nil {
			return nil, fmt.Errorf("length needs min and max")
		}
		return fieldstore.Length(int(*r.Min), int(*r.Max), opts...), nil
	case KindMinLength:
		if r.Min == nil {
			return nil, fmt.Errorf("minLength needs min")
		}
		return fieldstore.MinLength(int(*r.Min), opts...), nil
	case KindMaxLength:
		if r.Max == nil {
			return nil, fmt.Errorf("maxLength needs max")
		}
		return fieldstore.MaxLength(int(*r.Max), opts...), nil
	case KindRange:
		if r.Min == nil && r.Max == nil {
			return nil, fmt.Errorf("range needs min or max")
		}
		return fieldstore.Range(optional(r.Min), optional(r.Max), opts...), nil
	case KindAfter, KindBefore:
		bound, err := bounds.Unserialize(persistence.Scalar(r.Bound))
		if err != nil || bound == nil {
			return nil, fmt.Errorf("%s bound %q: invalid", r.Kind, r.Bound)
		}
		if r.Kind == KindAfter {
			return fieldstore.After(bound, opts...), nil
		}
		return fieldstore.Before(bound, opts...), nil
	case KindExpression:
		if r.Expr == "" {
			return nil, fmt.Errorf("expression needs expr")
		}
		if err := engine.Check(r.Expr, names...); err != nil {
			return nil, err
		}
		return engine.Rule(field, r.Expr, opts...), nil
	}
	return nil, fmt.Errorf("unknown rule kind %q", r.Kind)
}

func optional(value *float64) any {
	if value == nil {
		return nil
	}
	return *value
}

// labeler renders "label: value" chips, one per item for array fields.
func labeler(label string, serializer fieldstore.Serializer) fieldstore.Humanizer {
	return func(value any, _ *fieldstore.Collection) fieldstore.Label {
		wire := serializer.Serialize(value)
		if !wire.List {
			return fieldstore.Text(label + ": " + wire.String())
		}
		rv := reflect.ValueOf(value)
		if rv.Kind() != reflect.Slice || rv.Len() != len(wire.Items) {
			return fieldstore.Label{}
		}
		items := make([]fieldstore.LabelItem, 0, len(wire.Items))
		for i, text := range wire.Items {
			items = append(items, fieldstore.LabelItem{Value: rv.Index(i).Interface(), Label: label + ": " + text})
		}
		return fieldstore.Items(items...)
	}
}
