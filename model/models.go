package model

import (
	"encoding/json"
	"fmt"
	"maps"
)

// Record is a single entry of a resource. It is serialized flat, with the id
// next to the domain fields.
type Record struct {
	ID     int64
	Fields map[string]any
}

func (r Record) Clone() Record {
	return Record{
		ID:     r.ID,
		Fields: maps.Clone(r.Fields),
	}
}

// Map returns the flat representation of the record, id included.
func (r Record) Map() map[string]any {
	m := make(map[string]any, len(r.Fields)+1)
	maps.Copy(m, r.Fields)
	m["id"] = r.ID
	return m
}

func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Map())
}

func (r *Record) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	idRaw, ok := raw["id"]
	if !ok {
		return fmt.Errorf("id required")
	}
	var id int64
	if err := json.Unmarshal(idRaw, &id); err != nil {
		return fmt.Errorf("invalid id: %w", err)
	}
	delete(raw, "id")

	fields := make(map[string]any, len(raw))
	for k, v := range raw {
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return fmt.Errorf("field %q: %w", k, err)
		}
		fields[k] = val
	}

	r.ID = id
	r.Fields = fields
	return nil
}

type DeleteResult struct {
	Result  bool   `json:"result"`
	Message string `json:"message"`
	ID      int64  `json:"id"`
}
