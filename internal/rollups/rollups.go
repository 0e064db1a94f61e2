// Package rollups derives the top-page and period statistics from a batch of
// view events.
//
// The package is organized into two parts:
//   - rollups.go: the persisted rollup documents
//   - compute.go: the pure aggregation over an in-memory event batch
package rollups

import (
	"viewrollup/internal/models"
)

// Sink collection names.
const (
	TopPagesTable      = "top_pages"
	PeriodRollupsTable = "period_rollups"
)

// Period granularities.
const (
	GranularityDay   = "day"
	GranularityMonth = "month"
)

// TopPage counts visits to a single page path.
type TopPage struct {
	ID          string `gorm:"primaryKey;size:64" json:"id"`
	PagePath    string `gorm:"not null" json:"pagePath"`
	TotalVisits int    `gorm:"not null;default:0" json:"totalVisits"`
}

// TableName overrides the gorm default.
func (TopPage) TableName() string {
	return TopPagesTable
}

// PeriodRollup summarizes the events of one day (YYYY-MM-DD) or one month (YYYY-MM).
type PeriodRollup struct {
	ID                string           `gorm:"primaryKey;size:64" json:"id"`
	Date              string           `gorm:"index;not null" json:"date"`
	TotalPageViews    int              `gorm:"not null;default:0" json:"totalPageViews"`
	InternalPageViews int              `gorm:"not null;default:0" json:"internalPageViews"`
	UniqueVisitorIPs  models.StringSet `gorm:"column:unique_visitor_ips;type:text" json:"uniqueVisitorIps"`
}

// TableName overrides the gorm default.
func (PeriodRollup) TableName() string {
	return PeriodRollupsTable
}

// Granularity reports whether the rollup covers a day or a month.
func (p PeriodRollup) Granularity() string {
	if len(p.Date) == len("2006-01") {
		return GranularityMonth
	}
	return GranularityDay
}

// ExternalPageViews is the number of views not attributed to the internal ip.
func (p PeriodRollup) ExternalPageViews() int {
	return p.TotalPageViews - p.InternalPageViews
}
