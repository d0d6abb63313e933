package resource

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/theleeeo/records/model"
)

var ErrNotJSON = errors.New("Request must be JSON")

// FieldError is returned when a value does not match the schema of the resource.
type FieldError struct {
	Field string
	Msg   string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field '%s' %s", e.Field, e.Msg)
}

// Decode decodes a complete record body. Unknown keys are ignored, missing
// optional fields get their default.
func (c *Config) Decode(body []byte) (map[string]any, error) {
	raw, err := decodeObject(body)
	if err != nil {
		return nil, err
	}

	fields := make(map[string]any, len(c.Fields))
	for _, f := range c.Fields {
		v, ok := raw[f.Name]
		if !ok {
			if f.Required {
				return nil, &FieldError{Field: f.Name, Msg: "is required"}
			}
			if f.Default != nil {
				def, err := f.defaultValue()
				if err != nil {
					return nil, err
				}
				fields[f.Name] = def
			}
			continue
		}

		val, err := f.decode(v)
		if err != nil {
			return nil, err
		}
		fields[f.Name] = val
	}

	return fields, nil
}

// DecodePartial decodes only the fields present in the body.
func (c *Config) DecodePartial(body []byte) (map[string]any, error) {
	raw, err := decodeObject(body)
	if err != nil {
		return nil, err
	}

	fields := map[string]any{}
	for _, f := range c.Fields {
		v, ok := raw[f.Name]
		if !ok {
			continue
		}

		val, err := f.decode(v)
		if err != nil {
			return nil, err
		}
		fields[f.Name] = val
	}

	return fields, nil
}

func (c *Config) seedRecord(s map[string]any) (model.Record, error) {
	id, ok := s["id"]
	if !ok {
		return model.Record{}, fmt.Errorf("id required")
	}

	body, err := json.Marshal(s)
	if err != nil {
		return model.Record{}, err
	}

	var idVal int64
	idRaw, _ := json.Marshal(id)
	if err := json.Unmarshal(idRaw, &idVal); err != nil || idVal <= 0 {
		return model.Record{}, fmt.Errorf("id must be a positive integer")
	}

	fields, err := c.Decode(body)
	if err != nil {
		return model.Record{}, err
	}

	return model.Record{ID: idVal, Fields: fields}, nil
}

// SeedRecords returns the configured initial records, in configured order.
func (c *Config) SeedRecords() ([]model.Record, error) {
	records := make([]model.Record, 0, len(c.Seed))
	for i, s := range c.Seed {
		rec, err := c.seedRecord(s)
		if err != nil {
			return nil, fmt.Errorf("seed %d: %w", i, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func decodeObject(body []byte) (map[string]json.RawMessage, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '{' {
		return nil, ErrNotJSON
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, ErrNotJSON
	}
	return raw, nil
}

func (f FieldConfig) defaultValue() (any, error) {
	raw, err := json.Marshal(f.Default)
	if err != nil {
		return nil, err
	}
	return f.decode(raw)
}

func (f FieldConfig) decode(raw json.RawMessage) (any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, &FieldError{Field: f.Name, Msg: "must not be null"}
	}

	switch f.Type {
	case FieldTypeString:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, &FieldError{Field: f.Name, Msg: "must be a string"}
		}
		if f.Trim {
			s = strings.TrimSpace(s)
		}
		if f.Required && strings.TrimSpace(s) == "" {
			return nil, &FieldError{Field: f.Name, Msg: "must not be empty"}
		}
		return s, nil

	case FieldTypeBool:
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, &FieldError{Field: f.Name, Msg: "must be a boolean"}
		}
		return b, nil

	case FieldTypeInt:
		if !isNumber(raw) {
			return nil, &FieldError{Field: f.Name, Msg: "must be an integer"}
		}
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, &FieldError{Field: f.Name, Msg: "must be an integer"}
		}
		i, err := n.Int64()
		if err != nil {
			return nil, &FieldError{Field: f.Name, Msg: "must be an integer"}
		}
		return i, nil

	case FieldTypeNumber:
		if !isNumber(raw) {
			return nil, &FieldError{Field: f.Name, Msg: "must be a number"}
		}
		var n float64
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, &FieldError{Field: f.Name, Msg: "must be a number"}
		}
		return n, nil
	}

	return nil, fmt.Errorf("field '%s' has unknown type %s", f.Name, f.Type)
}

func isNumber(raw json.RawMessage) bool {
	return raw[0] == '-' || (raw[0] >= '0' && raw[0] <= '9')
}
