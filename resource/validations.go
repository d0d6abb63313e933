package resource

import (
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
)

var resourceNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

type Configs []*Config

func (c Configs) Get(name string) *Config {
	for _, rc := range c {
		if rc.Resource == name {
			return rc
		}
	}
	return nil
}

func (c Configs) Validate() error {
	if len(c) == 0 {
		return fmt.Errorf("at least one resource config required")
	}

	// Verify that every individual config is valid
	for i, rc := range c {
		if err := rc.Validate(); err != nil {
			if rc.Resource != "" {
				return fmt.Errorf("resource %q: %w", rc.Resource, err)
			}
			return fmt.Errorf("resource %d: %w", i, err)
		}
	}

	if err := c.verifyUniqueness(); err != nil {
		return err
	}

	return nil
}

func (c Configs) verifyUniqueness() error {
	names := map[string]bool{}
	paths := map[string]string{}
	for _, rc := range c {
		if names[rc.Resource] {
			return fmt.Errorf("resource %q is defined more than once", rc.Resource)
		}
		names[rc.Resource] = true

		if other, ok := paths[rc.Path]; ok {
			return fmt.Errorf("resources %q and %q share the path %q", other, rc.Resource, rc.Path)
		}
		paths[rc.Path] = rc.Resource
	}
	return nil
}

// Validate checks the config, fills in derived defaults and compiles the rules.
func (c *Config) Validate() error {
	if c.Resource == "" {
		return fmt.Errorf("resource required")
	}

	if !resourceNameRe.MatchString(c.Resource) {
		return fmt.Errorf("invalid resource name %q", c.Resource)
	}

	c.setDefaults()

	if len(c.Fields) == 0 {
		return fmt.Errorf("at least one field required")
	}

	for i, f := range c.Fields {
		if err := f.Validate(); err != nil {
			if f.Name != "" {
				return fmt.Errorf("field %q: %w", f.Name, err)
			}
			return fmt.Errorf("field %d: %w", i, err)
		}

		if slices.ContainsFunc(c.Fields[:i], func(other FieldConfig) bool {
			return other.Name == f.Name
		}) {
			return fmt.Errorf("field %q is defined more than once", f.Name)
		}
	}

	if err := c.compileRules(); err != nil {
		return err
	}

	if err := c.validateSeed(); err != nil {
		return err
	}

	return nil
}

func (c FieldConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name required")
	}

	if c.Name == "id" {
		return fmt.Errorf("id is reserved")
	}

	switch c.Type {
	case FieldTypeString, FieldTypeBool, FieldTypeInt, FieldTypeNumber:
	default:
		return fmt.Errorf("invalid type: %s", c.Type)
	}

	if c.Default != nil {
		if c.Required {
			return fmt.Errorf("a required field can not have a default")
		}
		raw, err := json.Marshal(c.Default)
		if err != nil {
			return fmt.Errorf("default: %w", err)
		}
		if _, err := c.decode(raw); err != nil {
			return fmt.Errorf("default: %w", err)
		}
	}

	return nil
}

func (c *Config) validateSeed() error {
	seen := map[int64]bool{}
	for i, s := range c.Seed {
		rec, err := c.seedRecord(s)
		if err != nil {
			return fmt.Errorf("seed %d: %w", i, err)
		}
		if seen[rec.ID] {
			return fmt.Errorf("seed %d: duplicate id %d", i, rec.ID)
		}
		seen[rec.ID] = true
	}
	return nil
}
