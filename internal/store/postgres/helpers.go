package postgres

import (
	"encoding/json"
	"fmt"
)

func errInvalidUnits(s string) error {
	return fmt.Errorf("postgres: invalid smallest-unit integer %q", s)
}

// jsonbOf marshals v for a JSONB column, falling back to an empty object
// for a nil map so NOT NULL columns never receive a Go nil.
func jsonbOf(v map[string]any) ([]byte, error) {
	if v == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(v)
}

// jsonbOfPtr marshals v for a nullable JSONB column, leaving it NULL when
// v is nil.
func jsonbOfPtr(v map[string]any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func unmarshalMap(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
