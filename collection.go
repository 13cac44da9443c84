package fieldstore

import (
	"cmp"
	"iter"
	"reflect"
	"slices"
	"strings"

	"github.com/goliatone/go-fieldstore/internal/hydrate"
	"github.com/goliatone/go-fieldstore/persistence"
)

// Collection is an immutable, ordered view of the fields at snapshot time.
// Fields iterate in registration order. A nil Collection is empty.
type Collection struct {
	fields map[string]Field
	order  []string
}

func newCollection(fields map[string]Field, order []string) *Collection {
	if fields == nil {
		fields = map[string]Field{}
	}
	return &Collection{fields: fields, order: order}
}

func (c *Collection) Len() int {
	if c == nil {
		return 0
	}
	return len(c.order)
}

// Fields returns the fields in registration order.
func (c *Collection) Fields() []Field {
	return slices.Collect(c.All())
}

// Names returns the field names in registration order.
func (c *Collection) Names() []string {
	if c == nil {
		return nil
	}
	return slices.Clone(c.order)
}

func (c *Collection) All() iter.Seq[Field] {
	return func(yield func(Field) bool) {
		if c == nil {
			return
		}
		for _, name := range c.order {
			if !yield(c.fields[name]) {
				return
			}
		}
	}
}

func (c *Collection) Get(name string) (Field, bool) {
	if c == nil {
		return Field{}, false
	}
	field, ok := c.fields[name]
	return field, ok
}

func (c *Collection) Has(name string) bool {
	_, ok := c.Get(name)
	return ok
}

// Map projects every field through fn.
func (c *Collection) Map(fn func(Field) any) []any {
	out := make([]any, 0, c.Len())
	for field := range c.All() {
		out = append(out, fn(field))
	}
	return out
}

// Filter returns the fields for which keep holds, preserving order.
func (c *Collection) Filter(keep func(Field) bool) *Collection {
	fields := map[string]Field{}
	var order []string
	for field := range c.All() {
		if keep(field) {
			fields[field.Name] = field
			order = append(order, field.Name)
		}
	}
	return newCollection(fields, order)
}

func (c *Collection) ForEach(fn func(Field)) {
	for field := range c.All() {
		fn(field)
	}
}

// Values maps names to current values.
func (c *Collection) Values() map[string]any {
	out := make(map[string]any, c.Len())
	for field := range c.All() {
		out[field.Name] = field.Value
	}
	return out
}

// Primitives serializes active values to their wire form. Fields holding nil
// or the empty string are omitted.
func (c *Collection) Primitives() persistence.Dictionary {
	out := persistence.Dictionary{}
	for field := range c.All() {
		if !field.IsActive() {
			continue
		}
		serializer := field.Serializer
		if serializer == nil {
			var err error
			if serializer, err = DefaultSerializer(field.Type); err != nil {
				continue
			}
		}
		out[field.Name] = serializer.Serialize(field.Value)
	}
	return out
}

// Actives keeps fields whose value is not nil, blank or an empty list.
func (c *Collection) Actives() *Collection {
	return c.Filter(func(field Field) bool {
		return !isBlank(field.Value) && !isBlankString(field.Value)
	})
}

// Submittables keeps fields flagged as submittable.
func (c *Collection) Submittables() *Collection {
	return c.Filter(func(field Field) bool { return field.Submittable })
}

// Errors maps invalid field names to their error state.
func (c *Collection) Errors() map[string]*FieldErrors {
	out := map[string]*FieldErrors{}
	for field := range c.All() {
		if field.Errors != nil {
			out[field.Name] = field.Errors
		}
	}
	return out
}

// HasErrors reports whether any field is invalid.
func (c *Collection) HasErrors() bool {
	for field := range c.All() {
		if field.Errors != nil {
			return true
		}
	}
	return false
}

// Chip is one removable active-filter entry.
type Chip struct {
	Field string `json:"field"`
	Value any    `json:"value"`
	Label string `json:"label"`
}

// ActiveFilters renders humanized chips for active fields with a Humanizer.
// Fields are ordered by most recent update unless preserveOrder is set, in
// which case registration order is kept. A per-item label yields one chip
// per item.
func (c *Collection) ActiveFilters(preserveOrder bool) []Chip {
	fields := c.Filter(func(field Field) bool {
		return field.Humanize != nil && !isBlank(field.Value) && !isBlankString(field.Value)
	}).Fields()
	if !preserveOrder {
		slices.SortStableFunc(fields, func(a, b Field) int {
			return cmp.Compare(b.UpdatedAt.UnixNano(), a.UpdatedAt.UnixNano())
		})
	}
	var chips []Chip
	for _, field := range fields {
		label := field.Humanize(field.Value, c)
		if len(label.Items) > 0 {
			for _, item := range label.Items {
				chips = append(chips, Chip{Field: field.Name, Value: item.Value, Label: item.Label})
			}
			continue
		}
		if label.Text != "" {
			chips = append(chips, Chip{Field: field.Name, Value: field.Value, Label: label.Text})
		}
	}
	return chips
}

// without returns the value field holds once chip is removed: the remaining
// items for array fields, nil otherwise.
func (c *Collection) without(chip Chip) (any, bool) {
	field, ok := c.Get(chip.Field)
	if !ok {
		return nil, false
	}
	if !field.Type.IsArray() {
		return nil, true
	}
	rv := reflect.ValueOf(field.Value)
	if rv.Kind() != reflect.Slice {
		return nil, true
	}
	target, ok := normalize(field.Type.Elem(), chip.Value)
	if !ok {
		target = chip.Value
	}
	kept := reflect.MakeSlice(rv.Type(), 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		item := rv.Index(i)
		if valuesEqual(field.Type.Elem(), nil, item.Interface(), target) {
			continue
		}
		kept = reflect.Append(kept, item)
	}
	return kept.Interface(), true
}

// Decode projects the values into target, a pointer to a struct with json
// tags matching field names.
func (c *Collection) Decode(target any) error {
	return hydrate.Into(hydrate.Context{}, c.Values(), target)
}

// Decode projects the values of c into T.
func Decode[T any](c *Collection) (T, error) {
	return hydrate.NewDecoder[T]().Decode(hydrate.Context{}, c.Values())
}

func isBlankString(value any) bool {
	s, ok := value.(string)
	return ok && strings.TrimSpace(s) == ""
}
