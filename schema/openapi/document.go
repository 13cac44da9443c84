package openapi

import (
	"fmt"
	"sort"
	"strings"

	fieldstore "github.com/goliatone/go-fieldstore"
)

type documentBuilder struct {
	config generatorConfig
	fields []fieldstore.FieldDescriptor
}

func newDocumentBuilder(config generatorConfig, fields []fieldstore.FieldDescriptor) *documentBuilder {
	return &documentBuilder{config: config, fields: fields}
}

func (b *documentBuilder) build() (map[string]any, error) {
	document := map[string]any{
		"openapi": b.config.openAPIVersion,
		"info":    b.buildInfo(),
		"paths":   b.buildPaths(),
	}
	if err := validateDocument(document); err != nil {
		return nil, err
	}
	return document, nil
}

func (b *documentBuilder) buildInfo() map[string]any {
	info := map[string]any{
		"title":   b.config.info.Title,
		"version": b.config.info.Version,
	}
	if b.config.info.Description != "" {
		info["description"] = b.config.info.Description
	}
	return info
}

func (b *documentBuilder) buildPaths() map[string]any {
	responses := make(map[string]any, len(b.config.responses))
	statuses := make([]string, 0, len(b.config.responses))
	for status := range b.config.responses {
		statuses = append(statuses, status)
	}
	sort.Strings(statuses)
	for _, status := range statuses {
		responses[status] = map[string]any{
			"description": b.config.responses[status],
		}
	}

	operation := map[string]any{
		"operationId": b.operationID(),
		"parameters":  b.buildParameters(),
		"responses":   responses,
	}
	if summary := strings.TrimSpace(b.config.operation.Summary); summary != "" {
		operation["summary"] = summary
	}

	return map[string]any{
		b.config.operation.Path: map[string]any{
			b.method(): operation,
		},
	}
}

// buildParameters emits one query parameter per field in field order.
func (b *documentBuilder) buildParameters() []any {
	parameters := make([]any, 0, len(b.fields))
	for _, field := range b.fields {
		schema := schemaFor(field.Type)
		if field.Default != nil {
			if field.Type.IsArray() {
				schema["default"] = field.Default.Strings()
			} else {
				schema["default"] = field.Default.String()
			}
		}
		parameter := map[string]any{
			"name":     field.Param,
			"in":       "query",
			"required": false,
			"schema":   schema,
		}
		if description := b.config.descriptions[field.Name]; description != "" {
			parameter["description"] = description
		}
		if field.Type.IsArray() {
			parameter["style"] = "form"
			parameter["explode"] = true
		}
		if b.config.extensions {
			parameter["x-fieldstore-type"] = string(field.Type)
			if field.Submittable {
				parameter["x-fieldstore-submittable"] = true
			}
			if field.Validated {
				parameter["x-fieldstore-validated"] = true
			}
		}
		parameters = append(parameters, parameter)
	}
	return parameters
}

func (b *documentBuilder) method() string {
	method := strings.ToLower(b.config.operation.Method)
	if method == "" {
		method = "get"
	}
	return method
}

func (b *documentBuilder) operationID() string {
	if b.config.operation.OperationID != "" {
		return b.config.operation.OperationID
	}
	return fmt.Sprintf("%s:%s", b.method(), b.config.operation.Path)
}

func validateDocument(document map[string]any) error {
	if document == nil {
		return fmt.Errorf("openapi: document cannot be nil")
	}
	openapi, _ := document["openapi"].(string)
	if openapi == "" {
		return fmt.Errorf("openapi: document missing version string")
	}
	info, _ := document["info"].(map[string]any)
	if info == nil {
		return fmt.Errorf("openapi: document missing info section")
	}
	if title, _ := info["title"].(string); title == "" {
		return fmt.Errorf("openapi: info.title must be set")
	}
	if version, _ := info["version"].(string); version == "" {
		return fmt.Errorf("openapi: info.version must be set")
	}
	paths, _ := document["paths"].(map[string]any)
	if len(paths) == 0 {
		return fmt.Errorf("openapi: document must define at least one path")
	}
	for pathKey, pathValue := range paths {
		if !strings.HasPrefix(pathKey, "/") {
			return fmt.Errorf("openapi: path %q must start with /", pathKey)
		}
		pathItem, _ := pathValue.(map[string]any)
		if len(pathItem) == 0 {
			return fmt.Errorf("openapi: path %q missing operations", pathKey)
		}
		for method, operationValue := range pathItem {
			operation, _ := operationValue.(map[string]any)
			if operation == nil {
				return fmt.Errorf("openapi: operation %s %s invalid payload", method, pathKey)
			}
			if _, ok := operation["operationId"].(string); !ok {
				return fmt.Errorf("openapi: operation %s %s missing operationId", method, pathKey)
			}
			parameters, ok := operation["parameters"].([]any)
			if !ok {
				return fmt.Errorf("openapi: operation %s %s missing parameters", method, pathKey)
			}
			seen := map[string]bool{}
			for _, raw := range parameters {
				parameter, _ := raw.(map[string]any)
				name, _ := parameter["name"].(string)
				if name == "" {
					return fmt.Errorf("openapi: operation %s %s has an unnamed parameter", method, pathKey)
				}
				if seen[name] {
					return fmt.Errorf("openapi: operation %s %s repeats parameter %q", method, pathKey, name)
				}
				seen[name] = true
			}
			if _, ok := operation["responses"].(map[string]any); !ok {
				return fmt.Errorf("openapi: operation %s %s missing responses", method, pathKey)
			}
		}
	}
	return nil
}
