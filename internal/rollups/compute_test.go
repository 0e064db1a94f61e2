package rollups_test

import (
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"viewrollup/internal/models"
	"viewrollup/internal/rollups"
	"viewrollup/internal/views"
)

const internalIP = "80.62.20.6"

func event(timestamp, ip, page string) views.ViewEvent {
	return views.ViewEvent{Timestamp: timestamp, IP: ip, Page: page}
}

func TestComputeJulyScenario(t *testing.T) {
	batch := []views.ViewEvent{
		event("2020-07-01T08:00:00.000Z", "80.62.20.6", "/"),
		event("2020-07-01T09:30:00.000Z", "1.2.3.4", "/blog"),
		event("2020-06-15T12:00:00.000Z", "1.2.3.4", "/"),
	}
	now := time.Date(2020, time.July, 10, 14, 0, 0, 0, time.UTC)

	snapshot := rollups.Compute(batch, now, internalIP)

	require.Len(t, snapshot.Periods, 2)

	day := snapshot.Periods[0]
	assert.Equal(t, "2020-07-01", day.Date)
	assert.Equal(t, rollups.GranularityDay, day.Granularity())
	assert.Equal(t, 2, day.TotalPageViews)
	assert.Equal(t, 1, day.InternalPageViews)
	assert.Equal(t, models.StringSet{"80.62.20.6", "1.2.3.4"}, day.UniqueVisitorIPs)

	month := snapshot.Periods[1]
	assert.Equal(t, "2020-06", month.Date)
	assert.Equal(t, rollups.GranularityMonth, month.Granularity())
	assert.Equal(t, 1, month.TotalPageViews)
	assert.Equal(t, 0, month.InternalPageViews)
	assert.Equal(t, models.StringSet{"1.2.3.4"}, month.UniqueVisitorIPs)

	require.Len(t, snapshot.TopPages, 2)
	assert.Equal(t, "/", snapshot.TopPages[0].PagePath)
	assert.Equal(t, 2, snapshot.TopPages[0].TotalVisits)
	assert.Equal(t, "/blog", snapshot.TopPages[1].PagePath)
}

func TestTopPagesStableOnTies(t *testing.T) {
	batch := []views.ViewEvent{
		event("2020-07-01T00:00:00Z", "1.1.1.1", "/c"),
		event("2020-07-01T00:00:00Z", "1.1.1.1", "/a"),
		event("2020-07-01T00:00:00Z", "1.1.1.1", "/b"),
		event("2020-07-01T00:00:00Z", "1.1.1.1", "/b"),
		event("2020-07-01T00:00:00Z", "1.1.1.1", "/a"),
		event("2020-07-01T00:00:00Z", "1.1.1.1", "/d"),
	}

	pages := rollups.TopPages(batch)

	var paths []string
	for _, p := range pages {
		paths = append(paths, p.PagePath)
	}
	assert.Equal(t, []string{"/a", "/b", "/c", "/d"}, paths)
	assert.Equal(t, []int{2, 2, 1, 1}, []int{pages[0].TotalVisits, pages[1].TotalVisits, pages[2].TotalVisits, pages[3].TotalVisits})
}

func TestComputeEmptyBatch(t *testing.T) {
	snapshot := rollups.Compute(nil, time.Now(), internalIP)
	assert.Empty(t, snapshot.TopPages)
	assert.Empty(t, snapshot.Periods)
}

func TestComputeFirstDayOfMonthHasNoDayRecords(t *testing.T) {
	batch := []views.ViewEvent{
		event("2020-06-30T23:59:59.000Z", "1.2.3.4", "/"),
		event("2020-05-02T10:00:00.000Z", "5.6.7.8", "/"),
	}
	now := time.Date(2020, time.July, 1, 0, 5, 0, 0, time.UTC)

	snapshot := rollups.Compute(batch, now, internalIP)

	require.Len(t, snapshot.Periods, 2)
	for _, p := range snapshot.Periods {
		assert.Equal(t, rollups.GranularityMonth, p.Granularity())
	}
}

func TestMonthlyRollupsUnionAcrossDays(t *testing.T) {
	days := []rollups.PeriodRollup{
		{Date: "2020-05-01", TotalPageViews: 3, InternalPageViews: 1, UniqueVisitorIPs: models.StringSet{"a", "b"}},
		{Date: "2020-05-20", TotalPageViews: 2, InternalPageViews: 2, UniqueVisitorIPs: models.StringSet{"b", "c"}},
		{Date: "2020-07-03", TotalPageViews: 4, UniqueVisitorIPs: models.StringSet{"d"}},
	}

	months := rollups.MonthlyRollups(days, "2020-07")

	require.Len(t, months, 1)
	assert.Equal(t, "2020-05", months[0].Date)
	assert.Equal(t, 5, months[0].TotalPageViews)
	assert.Equal(t, 3, months[0].InternalPageViews)
	assert.Equal(t, models.StringSet{"a", "b", "c"}, months[0].UniqueVisitorIPs)
	// inputs are not aliased by the month records
	assert.Equal(t, models.StringSet{"a", "b"}, days[0].UniqueVisitorIPs)
}

func TestComputeProperties(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 11))
	ips := []string{internalIP, "1.2.3.4", "5.6.7.8", "9.9.9.9", "10.0.0.1"}
	pages := []string{"/", "/blog", "/about", "/contact"}
	now := time.Date(2021, time.March, 18, 9, 0, 0, 0, time.UTC)

	for run := 0; run < 25; run++ {
		t.Run(fmt.Sprintf("batch %d", run), func(t *testing.T) {
			size := r.IntN(300)
			batch := make([]views.ViewEvent, 0, size)
			internalByPeriod := make(map[string]int)
			for i := 0; i < size; i++ {
				ts := now.AddDate(0, 0, -1-r.IntN(120)).Add(-time.Duration(r.IntN(86400)) * time.Second)
				e := event(ts.Format("2006-01-02T15:04:05.000Z"), ips[r.IntN(len(ips))], pages[r.IntN(len(pages))])
				batch = append(batch, e)
				if e.IP == internalIP {
					key := e.Month()
					if key == "2021-03" {
						key = e.Date()
					}
					internalByPeriod[key]++
				}
			}

			snapshot := rollups.Compute(batch, now, internalIP)

			visits := 0
			for _, p := range snapshot.TopPages {
				visits += p.TotalVisits
			}
			assert.Equal(t, len(batch), visits)

			total := 0
			seen := make(map[string]bool)
			for _, p := range snapshot.Periods {
				assert.False(t, seen[p.Date], "period %s emitted twice", p.Date)
				seen[p.Date] = true

				total += p.TotalPageViews
				assert.LessOrEqual(t, p.InternalPageViews, p.TotalPageViews)
				assert.Equal(t, internalByPeriod[p.Date], p.InternalPageViews)
				assert.LessOrEqual(t, len(p.UniqueVisitorIPs), p.TotalPageViews)

				distinct := make(map[string]bool)
				for _, ip := range p.UniqueVisitorIPs {
					assert.False(t, distinct[ip], "duplicate ip %s in %s", ip, p.Date)
					distinct[ip] = true
				}

				if p.Granularity() == rollups.GranularityDay {
					assert.Equal(t, "2021-03", p.Date[:7])
				} else {
					assert.NotEqual(t, "2021-03", p.Date)
				}
			}
			assert.Equal(t, len(batch), total)
		})
	}
}
