// Package openapi renders a field set as an OpenAPI operation whose query
// parameters follow the URL adapter conventions: scalar fields are plain keys
// and array fields repeat a `name[]` key.
package openapi

import (
	fieldstore "github.com/goliatone/go-fieldstore"
)

type generator struct {
	config generatorConfig
}

// NewGenerator constructs an OpenAPI schema generator.
func NewGenerator(opts ...GeneratorOption) fieldstore.SchemaGenerator {
	config := defaultGeneratorConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(&config)
		}
	}
	return generator{config: config}
}

func (g generator) Generate(fields []fieldstore.FieldDescriptor) (fieldstore.SchemaDocument, error) {
	document, err := newDocumentBuilder(g.config, fields).build()
	if err != nil {
		return fieldstore.SchemaDocument{}, err
	}
	return fieldstore.SchemaDocument{
		Format:   fieldstore.SchemaFormatOpenAPI,
		Document: document,
	}, nil
}

// schemaFor maps a field type to its parameter schema.
func schemaFor(fieldType fieldstore.FieldType) map[string]any {
	if fieldType.IsArray() {
		return map[string]any{
			"type":  "array",
			"items": schemaFor(fieldType.Elem()),
		}
	}
	switch fieldType {
	case fieldstore.TypeNumber:
		return map[string]any{"type": "number"}
	case fieldstore.TypeBoolean:
		return map[string]any{"type": "boolean"}
	case fieldstore.TypeDate:
		return map[string]any{"type": "string", "format": "date"}
	case fieldstore.TypeObject:
		return map[string]any{"type": "string", "format": "json"}
	default:
		return map[string]any{"type": "string"}
	}
}
