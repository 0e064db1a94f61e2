package rollups

import (
	"sort"
	"time"

	"viewrollup/internal/views"
)

// Snapshot is the full set of derived documents for one aggregation run.
type Snapshot struct {
	TopPages []TopPage
	Periods  []PeriodRollup
}

// Compute builds the snapshot for a batch. Days of the month containing now
// (UTC) are kept at day granularity, every earlier month collapses into one
// month record.
func Compute(events []views.ViewEvent, now time.Time, internalIP string) Snapshot {
	currentMonth := now.UTC().Format(views.MonthLayout)
	days := DailyRollups(events, internalIP)
	months := MonthlyRollups(days, currentMonth)

	return Snapshot{
		TopPages: TopPages(events),
		Periods:  Merge(days, months, currentMonth),
	}
}

// TopPages counts events per page, ordered by count descending. Ties keep
// the order in which pages were first seen.
func TopPages(events []views.ViewEvent) []TopPage {
	index := make(map[string]int)
	pages := make([]TopPage, 0)
	for _, e := range events {
		i, ok := index[e.Page]
		if !ok {
			i = len(pages)
			index[e.Page] = i
			pages = append(pages, TopPage{PagePath: e.Page})
		}
		pages[i].TotalVisits++
	}

	sort.SliceStable(pages, func(a, b int) bool {
		return pages[a].TotalVisits > pages[b].TotalVisits
	})
	return pages
}

// DailyRollups groups events by the date portion of their timestamp, in
// first-seen date order.
func DailyRollups(events []views.ViewEvent, internalIP string) []PeriodRollup {
	index := make(map[string]int)
	days := make([]PeriodRollup, 0)
	for _, e := range events {
		date := e.Date()
		i, ok := index[date]
		if !ok {
			i = len(days)
			index[date] = i
			days = append(days, PeriodRollup{Date: date})
		}

		day := &days[i]
		day.TotalPageViews++
		if e.IP == internalIP {
			day.InternalPageViews++
		}
		day.UniqueVisitorIPs.Add(e.IP)
	}
	return days
}

// MonthlyRollups folds the day records of every month other than
// currentMonth into one record per month, in first-seen month order.
func MonthlyRollups(days []PeriodRollup, currentMonth string) []PeriodRollup {
	index := make(map[string]int)
	months := make([]PeriodRollup, 0)
	for _, day := range days {
		month := monthOf(day.Date)
		if month == currentMonth {
			continue
		}

		i, ok := index[month]
		if !ok {
			i = len(months)
			index[month] = i
			months = append(months, PeriodRollup{Date: month})
		}

		m := &months[i]
		m.TotalPageViews += day.TotalPageViews
		m.InternalPageViews += day.InternalPageViews
		m.UniqueVisitorIPs.Union(day.UniqueVisitorIPs)
	}
	return months
}

// Merge returns the current month's day records followed by the month
// records. Day records of earlier months are dropped since their months
// already account for them.
func Merge(days, months []PeriodRollup, currentMonth string) []PeriodRollup {
	merged := make([]PeriodRollup, 0, len(months)+len(days))
	for _, day := range days {
		if monthOf(day.Date) == currentMonth {
			merged = append(merged, day)
		}
	}
	return append(merged, months...)
}

func monthOf(date string) string {
	if len(date) < len(views.MonthLayout) {
		return date
	}
	return date[:len(views.MonthLayout)]
}
