package fieldstore

import (
	"github.com/goliatone/go-fieldstore/persistence"
)

// SchemaFormat identifies the representation held by a SchemaDocument.
type SchemaFormat string

const (
	SchemaFormatDescriptors SchemaFormat = "descriptors"
	SchemaFormatOpenAPI     SchemaFormat = "openapi"
)

// SchemaDocument is the output of a SchemaGenerator.
type SchemaDocument struct {
	Format   SchemaFormat `json:"format"`
	Document any          `json:"document"`
}

// SchemaGenerator renders a description of a field set.
type SchemaGenerator interface {
	Generate(fields []FieldDescriptor) (SchemaDocument, error)
}

// FieldDescriptor describes a field as it appears on the wire.
type FieldDescriptor struct {
	Name        string             `json:"name"`
	Type        FieldType          `json:"type"`
	// Param is the query parameter key, with the [] suffix for arrays.
	Param       string             `json:"param"`
	Default     *persistence.Value `json:"default,omitempty"`
	Submittable bool               `json:"submittable,omitempty"`
	Validated   bool               `json:"validated,omitempty"`
}

// DescribeDefinitions describes definitions in the given order.
func DescribeDefinitions(defs ...Definition) []FieldDescriptor {
	out := make([]FieldDescriptor, 0, len(defs))
	for _, def := range defs {
		out = append(out, describe(def))
	}
	return out
}

// DescribeFields describes the fields of c in registration order.
func DescribeFields(c *Collection) []FieldDescriptor {
	out := make([]FieldDescriptor, 0, c.Len())
	for field := range c.All() {
		out = append(out, describe(field.Definition))
	}
	return out
}

func describe(def Definition) FieldDescriptor {
	descriptor := FieldDescriptor{
		Name:        def.Name,
		Type:        def.Type,
		Param:       def.Name,
		Submittable: def.Submittable,
		Validated:   def.Validate != nil,
	}
	if def.Type.IsArray() {
		descriptor.Param = persistence.ArrayKey(def.Name)
	}
	if !isActiveValue(def.Default) {
		return descriptor
	}
	serializer := def.Serializer
	if serializer == nil {
		var err error
		if serializer, err = DefaultSerializer(def.Type); err != nil {
			return descriptor
		}
	}
	value := serializer.Serialize(def.Default)
	descriptor.Default = &value
	return descriptor
}

// DefaultSchemaGenerator returns the generator emitting the descriptors as is.
func DefaultSchemaGenerator() SchemaGenerator {
	return descriptorGenerator{}
}

type descriptorGenerator struct{}

func (descriptorGenerator) Generate(fields []FieldDescriptor) (SchemaDocument, error) {
	if fields == nil {
		fields = []FieldDescriptor{}
	}
	return SchemaDocument{Format: SchemaFormatDescriptors, Document: fields}, nil
}

// Schema describes the registered fields with generator, or with the
// descriptor generator when nil.
func (s *Store) Schema(generator SchemaGenerator) (SchemaDocument, error) {
	if generator == nil {
		generator = DefaultSchemaGenerator()
	}
	return generator.Generate(DescribeFields(s.Collection()))
}
