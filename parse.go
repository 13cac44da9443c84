package fieldstore

import (
	"fmt"

	"github.com/goliatone/go-fieldstore/persistence"
)

// ParseValue is the outcome of resolving a persisted value: either an
// immediate Value or a Pending deferred.
type ParseValue struct {
	Deferred bool
	Value    any
	Pending  *Deferred
}

func immediate(value any) ParseValue {
	return ParseValue{Value: value}
}

// parse calls serializer.Unserialize on raw and classifies the result. This is
// the only place that inspects the shape of an unserialize result. Errors,
// panics, nil results and values of the wrong type all resolve to fallback.
func parse(field Definition, serializer Serializer, raw persistence.Value, fallback any) (parsed ParseValue, err error) {
	defer func() {
		if r := recover(); r != nil {
			parsed = immediate(fallback)
			err = fmt.Errorf("fieldstore: unserialize %q panicked: %v", field.Name, r)
		}
	}()

	result, err := serializer.Unserialize(raw)
	if err != nil {
		return immediate(fallback), fmt.Errorf("fieldstore: unserialize %q: %w", field.Name, err)
	}
	switch typed := result.(type) {
	case *Deferred:
		if typed == nil {
			return immediate(fallback), nil
		}
		return ParseValue{Deferred: true, Pending: typed}, nil
	case nil:
		return immediate(fallback), nil
	}
	value, ok := normalize(field.Type, result)
	if !ok {
		return immediate(fallback), &TypeMismatchError{Name: field.Name, Type: field.Type, Value: result}
	}
	if value == nil {
		return immediate(fallback), nil
	}
	return immediate(value), nil
}
