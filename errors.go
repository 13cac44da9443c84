package fieldstore

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDuplicateField is matched by DuplicateFieldError.
	ErrDuplicateField = errors.New("fieldstore: duplicate field registration")
	// ErrFieldNotFound is matched by FieldNotFoundError.
	ErrFieldNotFound = errors.New("fieldstore: field not found")
	// ErrTypeMismatch is matched by TypeMismatchError.
	ErrTypeMismatch = errors.New("fieldstore: value does not match field type")
	// ErrSerializerUnavailable is returned when no default serializer exists
	// for a field type.
	ErrSerializerUnavailable = errors.New("fieldstore: serializer unavailable")
	// ErrStoreRequired is returned by helpers that were handed a nil store.
	ErrStoreRequired = errors.New("fieldstore: store is required")
)

// Description is the structured form of a programmer error. A Formatter turns
// it into the text returned by Error().
type Description struct {
	Title    string
	Problem  string
	Solution string
	Context  map[string]string
}

// Formatter renders descriptions.
type Formatter interface {
	Format(Description) string
}

// FormatterFunc adapts a function to Formatter.
type FormatterFunc func(Description) string

// Format implements Formatter.
func (f FormatterFunc) Format(d Description) string {
	if f == nil {
		return DefaultFormatter().Format(d)
	}
	return f(d)
}

// DefaultFormatter renders descriptions on a single line.
func DefaultFormatter() Formatter {
	return lineFormatter{}
}

type lineFormatter struct{}

func (lineFormatter) Format(d Description) string {
	var b strings.Builder
	b.WriteString("fieldstore: ")
	b.WriteString(strings.ToLower(d.Title))
	if d.Problem != "" {
		b.WriteString(": ")
		b.WriteString(d.Problem)
	}
	if d.Solution != "" {
		b.WriteString(" (")
		b.WriteString(d.Solution)
		b.WriteString(")")
	}
	return b.String()
}

// DescribedError is implemented by every programmer error of the package.
type DescribedError interface {
	error
	Describe() Description
}

// Explain renders err with formatter when err carries a Description.
func Explain(err error, formatter Formatter) string {
	if err == nil {
		return ""
	}
	if formatter == nil {
		formatter = DefaultFormatter()
	}
	var described DescribedError
	if errors.As(err, &described) {
		return formatter.Format(described.Describe())
	}
	return err.Error()
}

// DuplicateFieldError is returned when a name is registered twice.
type DuplicateFieldError struct {
	Name       string
	Registered []string
	formatter  Formatter
}

func (e *DuplicateFieldError) Describe() Description {
	return Description{
		Title:    "Duplicate field registration",
		Problem:  fmt.Sprintf("field %q is already registered", e.Name),
		Solution: "field names must be unique within one store; check for two components using the same name",
		Context: map[string]string{
			"registered": strings.Join(e.Registered, ", "),
			"total":      fmt.Sprint(len(e.Registered)),
		},
	}
}

func (e *DuplicateFieldError) Error() string {
	return formatterOrDefault(e.formatter).Format(e.Describe())
}

func (e *DuplicateFieldError) Is(target error) bool {
	return target == ErrDuplicateField
}

// FieldNotFoundError is returned when an operation names an unknown field.
type FieldNotFoundError struct {
	Name      string
	Operation Operation
	formatter Formatter
}

func (e *FieldNotFoundError) Describe() Description {
	return Description{
		Title:    "Field not found",
		Problem:  fmt.Sprintf("field %q does not exist", e.Name),
		Solution: "register the field before calling " + string(e.Operation),
	}
}

func (e *FieldNotFoundError) Error() string {
	return formatterOrDefault(e.formatter).Format(e.Describe())
}

func (e *FieldNotFoundError) Is(target error) bool {
	return target == ErrFieldNotFound
}

// TypeMismatchError is returned when a value does not have the native shape
// of the field type.
type TypeMismatchError struct {
	Name      string
	Type      FieldType
	Value     any
	formatter Formatter
}

func (e *TypeMismatchError) Describe() Description {
	return Description{
		Title:    "Type mismatch",
		Problem:  fmt.Sprintf("field %q of type %s cannot hold %T", e.Name, e.Type, e.Value),
		Solution: fmt.Sprintf("pass a %s value or nil", e.Type.native()),
	}
}

func (e *TypeMismatchError) Error() string {
	return formatterOrDefault(e.formatter).Format(e.Describe())
}

func (e *TypeMismatchError) Is(target error) bool {
	return target == ErrTypeMismatch
}

func formatterOrDefault(f Formatter) Formatter {
	if f == nil {
		return DefaultFormatter()
	}
	return f
}
