package persistence

import (
	"encoding/json"
	"fmt"
	"slices"
)

// Value is the wire form of a persisted field: a single string for scalar
// fields or a list of strings for array fields.
type Value struct {
	Items []string
	List  bool
}

// Scalar wraps a single string.
func Scalar(value string) Value {
	return Value{Items: []string{value}}
}

// List wraps a list of strings. An empty list is still a list.
func List(items ...string) Value {
	if items == nil {
		items = []string{}
	}
	return Value{Items: slices.Clone(items), List: true}
}

// String returns the scalar representation. Lists resolve to their first item.
func (v Value) String() string {
	if len(v.Items) == 0 {
		return ""
	}
	return v.Items[0]
}

// Strings returns a copy of the items. Scalars resolve to a single item list.
func (v Value) Strings() []string {
	return slices.Clone(v.Items)
}

// IsZero reports whether the value carries nothing to persist.
func (v Value) IsZero() bool {
	return len(v.Items) == 0
}

// Equal compares two values including their shape.
func (v Value) Equal(other Value) bool {
	return v.List == other.List && slices.Equal(v.Items, other.Items)
}

// MarshalJSON encodes scalars as strings and lists as string arrays.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.List {
		items := v.Items
		if items == nil {
			items = []string{}
		}
		return json.Marshal(items)
	}
	if len(v.Items) == 0 {
		return []byte("null"), nil
	}
	return json.Marshal(v.Items[0])
}

// UnmarshalJSON accepts a string, an array of strings or null.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch typed := raw.(type) {
	case nil:
		*v = Value{}
	case string:
		*v = Scalar(typed)
	case []any:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			s, ok := item.(string)
			if !ok {
				return fmt.Errorf("persistence: list item %v is not a string", item)
			}
			items = append(items, s)
		}
		*v = List(items...)
	default:
		return fmt.Errorf("persistence: unsupported value %T", raw)
	}
	return nil
}

// Dictionary maps field names to their persisted wire values.
type Dictionary map[string]Value

// Clone returns a deep copy of the dictionary.
func (d Dictionary) Clone() Dictionary {
	if d == nil {
		return Dictionary{}
	}
	out := make(Dictionary, len(d))
	for key, value := range d {
		out[key] = Value{Items: slices.Clone(value.Items), List: value.List}
	}
	return out
}

// Lookup returns the value stored under name and whether it carries data.
func (d Dictionary) Lookup(name string) (Value, bool) {
	value, ok := d[name]
	if !ok || value.IsZero() && !value.List {
		return Value{}, false
	}
	return value, true
}

// Keys returns the dictionary keys sorted alphabetically.
func (d Dictionary) Keys() []string {
	keys := make([]string, 0, len(d))
	for key := range d {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}
