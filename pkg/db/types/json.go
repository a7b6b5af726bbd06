package dbtypes

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSON stores raw JSON documents in jsonb (postgres) or text (sqlite) columns.
// Values are written as strings so both drivers accept them unchanged.
type JSON json.RawMessage

func (j *JSON) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*j = nil
	case string:
		*j = append((*j)[:0], v...)
	case []byte:
		*j = append((*j)[:0], v...)
	default:
		return fmt.Errorf("JSON: unsupported Scan type %T", src)
	}
	return nil
}

func (j JSON) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	if !json.Valid(j) {
		return nil, fmt.Errorf("JSON: invalid document")
	}
	return string(j), nil
}

func (j JSON) MarshalJSON() ([]byte, error) {
	if len(j) == 0 {
		return []byte("null"), nil
	}
	return j, nil
}

func (j *JSON) UnmarshalJSON(data []byte) error {
	*j = append((*j)[:0], data...)
	return nil
}

// MustJSON marshals v, falling back to null on failure.
func MustJSON(v any) JSON {
	raw, err := json.Marshal(v)
	if err != nil {
		return JSON("null")
	}
	return JSON(raw)
}
