package views

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidEvent is wrapped by every validation failure.
var ErrInvalidEvent = errors.New("invalid view event")

// ValidationError describes why a single event cannot be aggregated.
type ValidationError struct {
	ID     string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %q: %s", ErrInvalidEvent, e.ID, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidEvent
}

// Validate checks the fields the rollups depend on.
func Validate(e ViewEvent) error {
	if strings.TrimSpace(e.IP) == "" {
		return &ValidationError{ID: e.ID, Reason: "missing ip"}
	}
	if strings.TrimSpace(e.Page) == "" {
		return &ValidationError{ID: e.ID, Reason: "missing page"}
	}
	if len(e.Timestamp) < len(DateLayout) {
		return &ValidationError{ID: e.ID, Reason: "missing or truncated timestamp"}
	}
	if _, err := time.Parse(DateLayout, e.Date()); err != nil {
		return &ValidationError{ID: e.ID, Reason: fmt.Sprintf("timestamp %q has no valid date", e.Timestamp)}
	}
	return nil
}

// Partition splits events into the ones that pass Validate and the errors of
// the ones that do not, preserving input order on both sides.
func Partition(events []ViewEvent) ([]ViewEvent, []error) {
	valid := make([]ViewEvent, 0, len(events))
	var invalid []error
	for _, e := range events {
		if err := Validate(e); err != nil {
			invalid = append(invalid, err)
			continue
		}
		valid = append(valid, e)
	}
	return valid, invalid
}
