package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// StringList is a []string stored as a JSON array in a TEXT column. It backs
// agent capabilities and webhook event subscriptions on both sqlite and
// postgres without dialect-specific array types.
type StringList []string

// Value implements driver.Valuer. A nil list is stored as an empty JSON array
// so columns can stay NOT NULL.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	data, err := json.Marshal([]string(l))
	if err != nil {
		return nil, fmt.Errorf("db: StringList.Value: %w", err)
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("db: StringList.Scan: expected string or []byte, got %T", value)
	}
	if len(data) == 0 {
		*l = nil
		return nil
	}

	var out []string
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("db: StringList.Scan: %w", err)
	}
	*l = out
	return nil
}

// Contains reports whether the list holds s exactly (case-sensitive).
func (l StringList) Contains(s string) bool {
	for _, item := range l {
		if item == s {
			return true
		}
	}
	return false
}

// Document is a free-form JSON object stored as TEXT. It backs the agent
// metadata blob, which the core passes through without interpreting.
type Document map[string]interface{}

// Value implements driver.Valuer. A nil document is stored as an empty JSON
// object so columns can stay NOT NULL.
func (d Document) Value() (driver.Value, error) {
	if d == nil {
		return "{}", nil
	}
	data, err := json.Marshal(map[string]interface{}(d))
	if err != nil {
		return nil, fmt.Errorf("db: Document.Value: %w", err)
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (d *Document) Scan(value interface{}) error {
	if value == nil {
		*d = nil
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("db: Document.Scan: expected string or []byte, got %T", value)
	}
	if len(data) == 0 {
		*d = nil
		return nil
	}

	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("db: Document.Scan: %w", err)
	}
	*d = out
	return nil
}
