// Package validation checks request payloads against declarative schemas.
package validation

import (
	_ "embed"
	"fmt"
	"regexp"

	"gopkg.in/yaml.v3"
)

//go:embed schemas.yaml
var embeddedSchemas []byte

// FieldType is the JSON type a field is coerced to.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeNumber  FieldType = "number"
	TypeInteger FieldType = "integer"
	TypeBoolean FieldType = "boolean"
)

// Pattern is a regular expression a string field must match.
type Pattern struct {
	Regex   string `yaml:"regex"`
	Message string `yaml:"message"`

	re *regexp.Regexp
}

// Field declares the constraints of one payload field.
type Field struct {
	Name       string            `yaml:"name"`
	Type       FieldType         `yaml:"type"`
	Required   bool              `yaml:"required"`
	AllowEmpty bool              `yaml:"allow_empty"`
	Trim       bool              `yaml:"trim"`
	Lowercase  bool              `yaml:"lowercase"`
	MinLength  *int              `yaml:"min_length"`
	MaxLength  *int              `yaml:"max_length"`
	Min        *float64          `yaml:"min"`
	Max        *float64          `yaml:"max"`
	Email      bool              `yaml:"email"`
	Enum       []string          `yaml:"enum"`
	Patterns   []Pattern         `yaml:"patterns"`
	Default    any               `yaml:"default"`
	Messages   map[string]string `yaml:"messages"`
}

// Schema is the ordered rule set of one endpoint.
type Schema struct {
	Name   string  `yaml:"-"`
	Fields []Field `yaml:"fields"`
}

// Registry holds every schema, keyed by name. It is read-only after load.
type Registry struct {
	schemas map[string]*Schema
}

// LoadRegistry parses the built-in schemas.
func LoadRegistry() (*Registry, error) {
	return ParseRegistry(embeddedSchemas)
}

// ParseRegistry parses and compiles schemas from YAML.
func ParseRegistry(data []byte) (*Registry, error) {
	var raw map[string]*Schema
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse schemas: %w", err)
	}

	reg := &Registry{schemas: make(map[string]*Schema, len(raw))}
	for name, schema := range raw {
		if schema == nil {
			return nil, fmt.Errorf("schema %q is empty", name)
		}
		schema.Name = name
		if err := schema.compile(); err != nil {
			return nil, fmt.Errorf("schema %q: %w", name, err)
		}
		reg.schemas[name] = schema
	}
	return reg, nil
}

// Schema returns the named schema.
func (r *Registry) Schema(name string) (*Schema, error) {
	schema, ok := r.schemas[name]
	if !ok {
		return nil, fmt.Errorf("unknown schema %q", name)
	}
	return schema, nil
}

// MustSchema is Schema for route setup; an unknown name panics.
func (r *Registry) MustSchema(name string) *Schema {
	schema, err := r.Schema(name)
	if err != nil {
		panic(err)
	}
	return schema
}

func (s *Schema) compile() error {
	seen := make(map[string]struct{}, len(s.Fields))
	for i := range s.Fields {
		f := &s.Fields[i]
		if f.Name == "" {
			return fmt.Errorf("field %d has no name", i)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("field %q declared twice", f.Name)
		}
		seen[f.Name] = struct{}{}

		switch f.Type {
		case "":
			f.Type = TypeString
		case TypeString, TypeNumber, TypeInteger, TypeBoolean:
		default:
			return fmt.Errorf("field %q: unsupported type %q", f.Name, f.Type)
		}

		for j := range f.Patterns {
			re, err := regexp.Compile(f.Patterns[j].Regex)
			if err != nil {
				return fmt.Errorf("field %q: %w", f.Name, err)
			}
			f.Patterns[j].re = re
		}

		if f.Default != nil {
			value, ok := coerce(f.Type, f.Default)
			if !ok {
				return fmt.Errorf("field %q: default %v is not a %s", f.Name, f.Default, f.Type)
			}
			f.Default = value
		}
	}
	return nil
}

func (f *Field) message(rule, fallback string) string {
	if msg, ok := f.Messages[rule]; ok && msg != "" {
		return msg
	}
	return fallback
}
