package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// kind is the declared type of a configuration field.
type kind int

const (
	kindString kind = iota
	kindBool
	kindInt
)

func (k kind) String() string {
	switch k {
	case kindBool:
		return "boolean"
	case kindInt:
		return "integer"
	default:
		return "string"
	}
}

// field declares one configuration parameter: its dot-notation key, its
// type, and its default. The whole resolver is driven by this table; adding
// a parameter means adding a row here and a property to configSchema.
type field struct {
	key  string
	kind kind
	def  any
}

var fields = []field{
	{key: "apiKey", kind: kindString, def: ""},
	{key: "debug", kind: kindBool, def: false},
	{key: "sessionTimeout", kind: kindInt, def: DefaultSessionTimeoutMinutes},
}

// configSchema declares the value constraints checked after coercion.
// Bounds live here rather than in handler code so there is exactly one
// place that says what a valid configuration looks like.
const configSchema = `{
	"type": "object",
	"properties": {
		"apiKey": {"type": "string"},
		"debug": {"type": "boolean"},
		"sessionTimeout": {
			"type": "integer",
			"minimum": 5,
			"maximum": 120
		}
	}
}`

var (
	schemaOnce sync.Once
	schema     *gojsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(configSchema))
	})
	return schema, schemaErr
}

// Resolve turns a flat mapping of dot-notation string keys into a validated
// Config. Declared fields are coerced to their declared type and defaulted
// when absent; unrecognized keys are ignored for forward compatibility.
// Mistyped or out-of-bounds values are rejected with a *SchemaViolationError
// naming the offending key.
func Resolve(rawParams map[string]string) (*Config, error) {
	doc := make(map[string]any)
	for _, f := range fields {
		raw, ok := rawParams[f.key]
		if !ok {
			setPath(doc, f.key, f.def)
			continue
		}
		val, err := coerce(f, raw)
		if err != nil {
			return nil, err
		}
		setPath(doc, f.key, val)
	}

	s, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("failed to compile configuration schema: %w", err)
	}
	result, err := s.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("failed to validate configuration: %w", err)
	}
	if !result.Valid() {
		first := result.Errors()[0]
		return nil, newViolation(first.Field(), first.Description())
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal configuration: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	return &cfg, nil
}

// ResolveQuery flattens single-valued URL query parameters and resolves
// them. Repeated keys keep their first value.
func ResolveQuery(query map[string][]string) (*Config, error) {
	flat := make(map[string]string, len(query))
	for key, values := range query {
		if len(values) > 0 {
			flat[key] = values[0]
		}
	}
	return Resolve(flat)
}

// coerce converts the raw string value to the field's declared type.
func coerce(f field, raw string) (any, error) {
	switch f.kind {
	case kindBool:
		switch {
		case strings.EqualFold(raw, "true"):
			return true, nil
		case strings.EqualFold(raw, "false"):
			return false, nil
		default:
			return nil, newViolation(f.key, fmt.Sprintf("expected %s, got %q", f.kind, raw))
		}
	case kindInt:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, newViolation(f.key, fmt.Sprintf("expected %s, got %q", f.kind, raw))
		}
		return n, nil
	default:
		return raw, nil
	}
}

// setPath expands a dot-notation key into the nested field it addresses,
// creating intermediate objects as needed.
func setPath(doc map[string]any, key string, val any) {
	parts := strings.Split(key, ".")
	for _, part := range parts[:len(parts)-1] {
		next, ok := doc[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			doc[part] = next
		}
		doc = next
	}
	doc[parts[len(parts)-1]] = val
}
