package fieldstore

import (
	"slices"
	"strings"
	"time"
)

// FieldType names the native shape of a field value.
type FieldType string

const (
	TypeString   FieldType = "string"
	TypeNumber   FieldType = "number"
	TypeBoolean  FieldType = "boolean"
	TypeDate     FieldType = "date"
	TypeObject   FieldType = "object"
	TypeStrings  FieldType = "string[]"
	TypeNumbers  FieldType = "number[]"
	TypeBooleans FieldType = "boolean[]"
	TypeDates    FieldType = "date[]"
	TypeObjects  FieldType = "object[]"
)

// FieldTypes lists every supported type, scalars first.
func FieldTypes() []FieldType {
	return []FieldType{
		TypeString, TypeNumber, TypeBoolean, TypeDate, TypeObject,
		TypeStrings, TypeNumbers, TypeBooleans, TypeDates, TypeObjects,
	}
}

// Valid reports whether t is one of the supported types.
func (t FieldType) Valid() bool {
	return slices.Contains(FieldTypes(), t)
}

// IsArray reports whether t is an array type.
func (t FieldType) IsArray() bool {
	return strings.HasSuffix(string(t), "[]")
}

// Elem returns the scalar type of an array type, or t itself.
func (t FieldType) Elem() FieldType {
	return FieldType(strings.TrimSuffix(string(t), "[]"))
}

func (t FieldType) native() string {
	switch t {
	case TypeString:
		return "string"
	case TypeNumber:
		return "float64"
	case TypeBoolean:
		return "bool"
	case TypeDate:
		return "time.Time"
	case TypeObject:
		return "map[string]any"
	case TypeStrings:
		return "[]string"
	case TypeNumbers:
		return "[]float64"
	case TypeBooleans:
		return "[]bool"
	case TypeDates:
		return "[]time.Time"
	case TypeObjects:
		return "[]map[string]any"
	default:
		return "unknown"
	}
}

// Equality reports whether two non-nil values of the same field are equal.
type Equality func(a, b any) bool

// Label is what a Humanizer produces: a single text for scalar fields or one
// item per value for array fields.
type Label struct {
	Text  string
	Items []LabelItem
}

// LabelItem labels one value of an array field.
type LabelItem struct {
	Value any
	Label string
}

// Text builds a scalar label.
func Text(text string) Label {
	return Label{Text: text}
}

// Items builds a per-item label.
func Items(items ...LabelItem) Label {
	return Label{Items: items}
}

// IsZero reports whether the label carries nothing to show.
func (l Label) IsZero() bool {
	return l.Text == "" && len(l.Items) == 0
}

// Humanizer renders a field value for active-filter chips.
type Humanizer func(value any, fields *Collection) Label

// Definition is the registration input of a field.
type Definition struct {
	Name    string
	Type    FieldType
	Default any
	// Serializer overrides the default serializer of Type.
	Serializer  Serializer
	Validate    Schema
	Humanize    Humanizer
	Submittable bool
	Equal       Equality
}

// FieldOption customises a Definition built by one of the type constructors.
type FieldOption func(*Definition)

// WithDefault sets the default value.
func WithDefault(value any) FieldOption {
	return func(d *Definition) {
		d.Default = value
	}
}

// WithSerializer overrides the serializer.
func WithSerializer(serializer Serializer) FieldOption {
	return func(d *Definition) {
		d.Serializer = serializer
	}
}

// WithSchema sets a schema computed from the validation context.
func WithSchema(schema Schema) FieldOption {
	return func(d *Definition) {
		d.Validate = schema
	}
}

// WithRules sets a fixed list of rules.
func WithRules(rules ...Rule) FieldOption {
	return func(d *Definition) {
		d.Validate = Rules(rules...)
	}
}

// WithHumanizer sets the chip label renderer.
func WithHumanizer(humanize Humanizer) FieldOption {
	return func(d *Definition) {
		d.Humanize = humanize
	}
}

// WithEquality overrides the dirty check.
func WithEquality(equal Equality) FieldOption {
	return func(d *Definition) {
		d.Equal = equal
	}
}

// Submittable marks the field as one whose changes trigger a submission.
func Submittable() FieldOption {
	return func(d *Definition) {
		d.Submittable = true
	}
}

// Define builds a definition of any type.
func Define(name string, fieldType FieldType, opts ...FieldOption) Definition {
	def := Definition{Name: name, Type: fieldType}
	for _, opt := range opts {
		if opt != nil {
			opt(&def)
		}
	}
	return def
}

func String(name string, opts ...FieldOption) Definition {
	return Define(name, TypeString, opts...)
}

func Number(name string, opts ...FieldOption) Definition {
	return Define(name, TypeNumber, opts...)
}

func Boolean(name string, opts ...FieldOption) Definition {
	return Define(name, TypeBoolean, opts...)
}

func Date(name string, opts ...FieldOption) Definition {
	return Define(name, TypeDate, opts...)
}

func Object(name string, opts ...FieldOption) Definition {
	return Define(name, TypeObject, opts...)
}

func Strings(name string, opts ...FieldOption) Definition {
	return Define(name, TypeStrings, opts...)
}

func Numbers(name string, opts ...FieldOption) Definition {
	return Define(name, TypeNumbers, opts...)
}

func Booleans(name string, opts ...FieldOption) Definition {
	return Define(name, TypeBooleans, opts...)
}

func Dates(name string, opts ...FieldOption) Definition {
	return Define(name, TypeDates, opts...)
}

func Objects(name string, opts ...FieldOption) Definition {
	return Define(name, TypeObjects, opts...)
}

// Field is a registered field as seen in a snapshot. Fields are values; slices
// and maps held in Value must be treated as read-only.
type Field struct {
	Definition
	Value       any
	IsHydrating bool
	Errors      *FieldErrors
	UpdatedAt   time.Time

	hydration uint64
}

// DefaultValue returns the value the field resets to.
func (f Field) DefaultValue() any {
	return f.Default
}

// HasErrors reports whether the last validation failed.
func (f Field) HasErrors() bool {
	return f.Errors != nil
}

// IsActive reports whether the field carries a value worth persisting.
func (f Field) IsActive() bool {
	return isActiveValue(f.Value)
}

// Meta is a metadata patch applied by Store.Update. Nil members are left
// untouched.
type Meta struct {
	Submittable *bool
}

// SetSubmittable builds a patch toggling Submittable.
func SetSubmittable(submittable bool) Meta {
	return Meta{Submittable: &submittable}
}

// IsEmpty reports whether the patch changes nothing.
func (m Meta) IsEmpty() bool {
	return m.Submittable == nil
}

// Operation tags the mutation that produced a State.
type Operation string

const (
	OpNone       Operation = ""
	OpSet        Operation = "set"
	OpFlush      Operation = "flush"
	OpUpdate     Operation = "update"
	OpHydrate    Operation = "hydrate"
	OpRegister   Operation = "register"
	OpUnregister Operation = "unregister"
	OpRehydrate  Operation = "rehydrate"
	OpReset      Operation = "reset"
)

// State is the immutable snapshot broadcast after every committed mutation.
type State struct {
	Collection  *Collection
	Operation   Operation
	Touched     []string
	IsHydrating bool
	Version     uint64
}

// HydrationStatus is reported by each step of a rehydration.
type HydrationStatus string

const (
	HydrationPending    HydrationStatus = "pending"
	HydrationProcessing HydrationStatus = "processing"
	HydrationCompleted  HydrationStatus = "completed"
	HydrationUnchanged  HydrationStatus = "unchanged"
)

// HydrationResponse carries a status and the names whose value changed so
// far.
type HydrationResponse struct {
	Status  HydrationStatus
	Touched []string
}
