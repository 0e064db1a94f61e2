package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"log/slog"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"
)

// StringSet is an insertion-ordered list of distinct strings stored as a JSON array.
type StringSet []string

// Add appends value unless it is already present. It reports whether the set grew.
func (s *StringSet) Add(value string) bool {
	for _, existing := range *s {
		if existing == value {
			return false
		}
	}
	*s = append(*s, value)
	return true
}

// Union adds every value of other, keeping first-seen order.
func (s *StringSet) Union(other StringSet) {
	for _, value := range other {
		s.Add(value)
	}
}

// Contains reports whether value is in the set.
func (s StringSet) Contains(value string) bool {
	for _, existing := range s {
		if existing == value {
			return true
		}
	}
	return false
}

// Scan scan value into StringSet, implements sql.Scanner interface
func (s *StringSet) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*s = StringSet{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("failed to unmarshal StringSet value: %v", value)
	}

	var values []string
	if err := json.Unmarshal(raw, &values); err != nil {
		return fmt.Errorf("failed to unmarshal StringSet value: %w", err)
	}
	*s = StringSet(values)
	return nil
}

// Value return json value, implement driver.Valuer interface
func (s StringSet) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(s))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// MarshalJSON implements the json.Marshaler interface
func (s StringSet) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(s))
}

// PerformWrite executes a write transaction with retry logic for SQLite busy errors.
// This is a wrapper that delegates to cartridge's sqlite.PerformWrite implementation.
func PerformWrite(logger *slog.Logger, dbConn *gorm.DB, f func(tx *gorm.DB) error) error {
	return sqlite.PerformWrite(logger, dbConn, f)
}
