package fieldstore

import (
	"maps"
	"reflect"
	"slices"
	"time"
)

// normalize coerces value into the native shape of t. Integers become float64
// for number fields and slices are copied so the store never aliases caller
// memory. nil is valid for every type.
func normalize(t FieldType, value any) (any, bool) {
	if value == nil {
		return nil, true
	}
	if t.IsArray() {
		return normalizeSlice(t, value)
	}
	return normalizeScalar(t, value)
}

func normalizeScalar(t FieldType, value any) (any, bool) {
	switch t {
	case TypeString:
		v, ok := value.(string)
		return v, ok
	case TypeNumber:
		return toFloat(value)
	case TypeBoolean:
		v, ok := value.(bool)
		return v, ok
	case TypeDate:
		switch v := value.(type) {
		case time.Time:
			return v, true
		case *time.Time:
			if v == nil {
				return nil, true
			}
			return *v, true
		}
		return nil, false
	case TypeObject:
		v, ok := value.(map[string]any)
		if !ok {
			return nil, false
		}
		if v == nil {
			return nil, true
		}
		return maps.Clone(v), true
	}
	return nil, false
}

func normalizeSlice(t FieldType, value any) (any, bool) {
	elem := t.Elem()
	switch t {
	case TypeStrings:
		if v, ok := value.([]string); ok {
			return cloneOrEmpty(v), true
		}
	case TypeNumbers:
		if v, ok := value.([]float64); ok {
			return cloneOrEmpty(v), true
		}
	case TypeBooleans:
		if v, ok := value.([]bool); ok {
			return cloneOrEmpty(v), true
		}
	case TypeDates:
		if v, ok := value.([]time.Time); ok {
			return cloneOrEmpty(v), true
		}
	case TypeObjects:
		if v, ok := value.([]map[string]any); ok {
			out := make([]map[string]any, len(v))
			for i, item := range v {
				out[i] = maps.Clone(item)
			}
			return out, true
		}
	default:
		return nil, false
	}

	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice {
		return nil, false
	}
	items := make([]any, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		item, ok := normalizeScalar(elem, rv.Index(i).Interface())
		if !ok || item == nil {
			return nil, false
		}
		items = append(items, item)
	}
	switch t {
	case TypeStrings:
		return collect[string](items), true
	case TypeNumbers:
		return collect[float64](items), true
	case TypeBooleans:
		return collect[bool](items), true
	case TypeDates:
		return collect[time.Time](items), true
	default:
		return collect[map[string]any](items), true
	}
}

func collect[T any](items []any) []T {
	out := make([]T, 0, len(items))
	for _, item := range items {
		out = append(out, item.(T))
	}
	return out
}

func cloneOrEmpty[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return slices.Clone(in)
}

func toFloat(value any) (any, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	}
	return nil, false
}

// isActiveValue reports whether value is neither nil nor the empty string.
func isActiveValue(value any) bool {
	if value == nil {
		return false
	}
	if s, ok := value.(string); ok && s == "" {
		return false
	}
	return true
}

// isBlank reports nil, "" and empty slices.
func isBlank(value any) bool {
	if !isActiveValue(value) {
		return true
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Slice {
		return rv.Len() == 0
	}
	return false
}

// valuesEqual applies the dirty-check equality: both nil are equal, one nil is
// not, then the custom equality, then the per-type default.
func valuesEqual(t FieldType, custom Equality, a, b any) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	if custom != nil {
		return custom(a, b)
	}
	switch t {
	case TypeDate:
		x, okx := a.(time.Time)
		y, oky := b.(time.Time)
		if okx && oky {
			return x.UnixMilli() == y.UnixMilli()
		}
	case TypeDates:
		x, okx := a.([]time.Time)
		y, oky := b.([]time.Time)
		if okx && oky {
			return slices.EqualFunc(x, y, func(p, q time.Time) bool {
				return p.UnixMilli() == q.UnixMilli()
			})
		}
	case TypeString, TypeNumber, TypeBoolean:
		return a == b
	}
	return reflect.DeepEqual(a, b)
}
