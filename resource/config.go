package resource

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
)

type FieldType string

const (
	FieldTypeString FieldType = "string"
	FieldTypeBool   FieldType = "bool"
	FieldTypeInt    FieldType = "int"
	FieldTypeNumber FieldType = "number"
)

type Config struct {
	Resource string           `yaml:"resource"`
	Path     string           `yaml:"path"`
	Label    string           `yaml:"label"`
	Fields   []FieldConfig    `yaml:"fields"`
	Rules    []RuleConfig     `yaml:"rules"`
	Seed     []map[string]any `yaml:"seed"`

	// Default true
	Search *bool `yaml:"search"`

	programs []cel.Program
}

func (c *Config) GetField(name string) *FieldConfig {
	for i := range c.Fields {
		if c.Fields[i].Name == name {
			return &c.Fields[i]
		}
	}
	return nil
}

// GetSearchableFields returns the fields a free text query is matched against.
func (c *Config) GetSearchableFields() []string {
	var fields []string
	for _, f := range c.Fields {
		if f.Type == FieldTypeString {
			fields = append(fields, f.Name)
		}
	}
	return fields
}

func (c *Config) Searchable() bool {
	return c.Search == nil || *c.Search
}

// setDefaults fills in the values that can be derived from the resource name.
func (c *Config) setDefaults() {
	if c.Path == "" {
		c.Path = "/" + c.Resource
	}
	c.Path = "/" + strings.Trim(c.Path, "/")

	if c.Label == "" {
		label := strings.TrimSuffix(c.Resource, "s")
		if label == "" {
			label = c.Resource
		}
		c.Label = strings.ToUpper(label[:1]) + label[1:]
	}

	for i := range c.Fields {
		if c.Fields[i].Type == "" {
			c.Fields[i].Type = FieldTypeString
		}
	}
}

type FieldConfig struct {
	Name     string    `yaml:"name"`
	Type     FieldType `yaml:"type"`
	Required bool      `yaml:"required"`
	Default  any       `yaml:"default"`
	// Trim surrounding whitespace before storing a string value.
	Trim bool `yaml:"trim"`
}

type RuleConfig struct {
	Expression string `yaml:"expression"`
	Message    string `yaml:"message"`
}

func (r RuleConfig) message() string {
	if r.Message != "" {
		return r.Message
	}
	return fmt.Sprintf("rule %q not satisfied", r.Expression)
}
