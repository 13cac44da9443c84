package fieldstore

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-fieldstore/persistence"
)

// Serializer converts field values to their persisted wire form and back.
// Unserialize may return a *Deferred to resolve asynchronously; any other
// result is used immediately. A nil result or an error falls back to the
// field default.
type Serializer interface {
	Serialize(value any) persistence.Value
	Unserialize(raw persistence.Value) (any, error)
}

// SerializerFuncs adapts a pair of functions to Serializer.
type SerializerFuncs struct {
	SerializeFunc   func(any) persistence.Value
	UnserializeFunc func(persistence.Value) (any, error)
}

func (s SerializerFuncs) Serialize(value any) persistence.Value {
	if s.SerializeFunc == nil {
		return persistence.Value{}
	}
	return s.SerializeFunc(value)
}

func (s SerializerFuncs) Unserialize(raw persistence.Value) (any, error) {
	if s.UnserializeFunc == nil {
		return nil, nil
	}
	return s.UnserializeFunc(raw)
}

// AsyncSerializer keeps the Serialize side of base and resolves Unserialize in
// the background through resolve, typically a lookup against a remote service.
func AsyncSerializer(base Serializer, resolve func(raw persistence.Value) (any, error)) Serializer {
	return asyncSerializer{base: base, resolve: resolve}
}

type asyncSerializer struct {
	base    Serializer
	resolve func(persistence.Value) (any, error)
}

func (s asyncSerializer) Serialize(value any) persistence.Value {
	return s.base.Serialize(value)
}

func (s asyncSerializer) Unserialize(raw persistence.Value) (any, error) {
	items := raw.Strings()
	return Defer(func() (any, error) {
		return s.resolve(persistence.Value{Items: items, List: raw.List})
	}), nil
}

// DefaultSerializer returns the built-in serializer for t.
func DefaultSerializer(t FieldType) (Serializer, error) {
	switch t {
	case TypeString:
		return scalarSerializer{format: formatString, parse: parseString}, nil
	case TypeNumber:
		return scalarSerializer{format: formatNumber, parse: parseNumber}, nil
	case TypeBoolean:
		return scalarSerializer{format: formatBoolean, parse: parseBoolean}, nil
	case TypeDate:
		return scalarSerializer{format: formatDate, parse: parseDate}, nil
	case TypeObject:
		return scalarSerializer{format: formatObject, parse: parseObject}, nil
	case TypeStrings, TypeNumbers, TypeBooleans, TypeDates, TypeObjects:
		elem, _ := DefaultSerializer(t.Elem())
		return listSerializer{elem: elem.(scalarSerializer), fieldType: t}, nil
	}
	return nil, fmt.Errorf("fieldstore: cannot auto-resolve serializer for type %q: %w", t, ErrSerializerUnavailable)
}

type scalarSerializer struct {
	format func(any) string
	parse  func(string) (any, error)
}

func (s scalarSerializer) Serialize(value any) persistence.Value {
	return persistence.Scalar(s.format(value))
}

func (s scalarSerializer) Unserialize(raw persistence.Value) (any, error) {
	text := raw.String()
	if text == "" {
		return nil, nil
	}
	return s.parse(text)
}

type listSerializer struct {
	elem      scalarSerializer
	fieldType FieldType
}

func (s listSerializer) Serialize(value any) persistence.Value {
	items := []string{}
	forEachItem(value, func(item any) {
		items = append(items, s.elem.format(item))
	})
	return persistence.List(items...)
}

// Unserialize drops items that do not parse.
func (s listSerializer) Unserialize(raw persistence.Value) (any, error) {
	parsed := make([]any, 0, len(raw.Items))
	for _, item := range raw.Items {
		if item == "" {
			continue
		}
		value, err := s.elem.parse(item)
		if err != nil || value == nil {
			continue
		}
		parsed = append(parsed, value)
	}
	out, ok := normalize(s.fieldType, parsed)
	if !ok {
		return nil, fmt.Errorf("fieldstore: cannot unserialize %v as %s", raw.Items, s.fieldType)
	}
	return out, nil
}

func forEachItem(value any, fn func(any)) {
	switch v := value.(type) {
	case []string:
		for _, item := range v {
			fn(item)
		}
	case []float64:
		for _, item := range v {
			fn(item)
		}
	case []bool:
		for _, item := range v {
			fn(item)
		}
	case []time.Time:
		for _, item := range v {
			fn(item)
		}
	case []map[string]any:
		for _, item := range v {
			fn(item)
		}
	case []any:
		for _, item := range v {
			fn(item)
		}
	}
}

func formatString(value any) string {
	if s, ok := value.(string); ok {
		return s
	}
	return fmt.Sprint(value)
}

func parseString(text string) (any, error) {
	return text, nil
}

func formatNumber(value any) string {
	if f, ok := toFloat(value); ok {
		return strconv.FormatFloat(f.(float64), 'f', -1, 64)
	}
	return fmt.Sprint(value)
}

func parseNumber(text string) (any, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		return nil, fmt.Errorf("fieldstore: parse number %q: %w", text, err)
	}
	return f, nil
}

func formatBoolean(value any) string {
	if b, ok := value.(bool); ok {
		return strconv.FormatBool(b)
	}
	return fmt.Sprint(value)
}

// parseBoolean treats anything but "true" as false.
func parseBoolean(text string) (any, error) {
	return text == "true", nil
}

// formatDate renders the UTC calendar date. The zero time renders empty.
func formatDate(value any) string {
	t, ok := value.(time.Time)
	if !ok || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.DateOnly)
}

// parseDate accepts epoch milliseconds, a calendar date (midnight UTC) or an
// RFC 3339 timestamp.
func parseDate(text string) (any, error) {
	trimmed := strings.TrimSpace(text)
	if ms, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	if len(trimmed) == len(time.DateOnly) {
		t, err := time.Parse(time.DateOnly, trimmed)
		if err != nil {
			return nil, fmt.Errorf("fieldstore: parse date %q: %w", text, err)
		}
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, trimmed)
	if err != nil {
		return nil, fmt.Errorf("fieldstore: parse date %q: %w", text, err)
	}
	return t, nil
}

func formatObject(value any) string {
	payload, err := json.Marshal(value)
	if err != nil {
		return ""
	}
	return string(payload)
}

func parseObject(text string) (any, error) {
	var out map[string]any
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, fmt.Errorf("fieldstore: parse object: %w", err)
	}
	return out, nil
}
