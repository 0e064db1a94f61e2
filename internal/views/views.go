// Package views holds the raw page-view events the rollup jobs read from.
package views

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// TableName of the source collection.
const TableName = "views"

// ErrWriteConflict is returned when the event being updated disappeared
// between read and write.
var ErrWriteConflict = errors.New("view event changed concurrently")

// DateLayout and MonthLayout are the period keys derived from event timestamps.
const (
	DateLayout  = "2006-01-02"
	MonthLayout = "2006-01"
)

// ViewEvent is one recorded page visit. Timestamps are ISO-8601 strings so
// they sort lexically the same way they sort chronologically.
type ViewEvent struct {
	ID           string `gorm:"primaryKey;size:64" json:"id"`
	Timestamp    string `gorm:"index" json:"timestamp"`
	IP           string `gorm:"column:ip" json:"ip"`
	Page         string `json:"page"`
	InternalView *bool  `gorm:"column:internal_view" json:"internalView,omitempty"`
}

// TableName overrides the gorm default.
func (ViewEvent) TableName() string {
	return TableName
}

// Classified reports whether the event already carries an internalView flag.
func (e ViewEvent) Classified() bool {
	return e.InternalView != nil
}

// Date returns the YYYY-MM-DD portion of the timestamp.
func (e ViewEvent) Date() string {
	return prefix(e.Timestamp, len(DateLayout))
}

// Month returns the YYYY-MM portion of the timestamp.
func (e ViewEvent) Month() string {
	return prefix(e.Timestamp, len(MonthLayout))
}

func prefix(s string, n int) string {
	if len(s) < n {
		return s
	}
	return s[:n]
}

// StartOfDay returns the exclusive upper bound, as a timestamp prefix, for
// events recorded before the UTC calendar day containing now.
func StartOfDay(now time.Time) string {
	return now.UTC().Format(DateLayout)
}

// FetchBefore loads every event whose timestamp sorts strictly before bound.
func FetchBefore(ctx context.Context, db *gorm.DB, bound string) ([]ViewEvent, error) {
	var events []ViewEvent
	err := db.WithContext(ctx).
		Where("timestamp < ?", bound).
		Order("timestamp ASC").
		Order("id ASC").
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("error fetching view events before %s: %w", bound, err)
	}
	return events, nil
}

// NewestBefore returns the most recent event whose timestamp sorts strictly
// before cutoff, or nil when there is none.
func NewestBefore(ctx context.Context, db *gorm.DB, cutoff string) (*ViewEvent, error) {
	var event ViewEvent
	err := db.WithContext(ctx).
		Where("timestamp < ?", cutoff).
		Order("timestamp DESC").
		Order("id DESC").
		Limit(1).
		Take(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("error fetching newest view event before %s: %w", cutoff, err)
	}
	return &event, nil
}

// SetInternalView writes the internalView flag of a single event.
func SetInternalView(ctx context.Context, db *gorm.DB, id string, internal bool) error {
	result := db.WithContext(ctx).
		Model(&ViewEvent{}).
		Where("id = ?", id).
		Update("internal_view", internal)
	if result.Error != nil {
		return fmt.Errorf("error updating internal view flag of %s: %w", id, result.Error)
	}
	if result.RowsAffected != 1 {
		return fmt.Errorf("error updating internal view flag of %s: %w", id, ErrWriteConflict)
	}
	return nil
}
