package jobs

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"viewrollup/internal/metrics"
	"viewrollup/internal/testsupport"
)

func newTestScheduler(t *testing.T, a *fakeAggregator, m *metrics.Metrics) *Scheduler {
	t.Helper()
	cfg := testsupport.TestConfig()
	cfg.JobsEnabled = true
	r := NewRunner(&fakeClassifier{}, a, m, testsupport.GetLogger())
	s, err := NewScheduler(r, testsupport.GetLogger(), cfg)
	require.NoError(t, err)
	return s
}

func TestSchedulerSkipsOverlappingRun(t *testing.T) {
	m := metrics.New("europe-west1")
	a := &fakeAggregator{started: make(chan struct{}, 1), release: make(chan struct{})}
	s := newTestScheduler(t, a, m)

	done := make(chan bool)
	go func() { done <- s.Trigger(JobAggregate) }()
	<-a.started

	assert.False(t, s.Trigger(JobAggregate), "second run must be skipped")
	assert.True(t, s.Trigger(JobClassify), "other jobs are not blocked")

	close(a.release)
	assert.True(t, <-done)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobRuns.WithLabelValues(JobAggregate, StatusSuccess, "none")))

	a.started = nil
	assert.True(t, s.Trigger(JobAggregate), "guard is released after the run")
}

func TestSchedulerStopCancelsInFlightRun(t *testing.T) {
	m := metrics.New("europe-west1")
	a := &fakeAggregator{started: make(chan struct{}, 1), release: make(chan struct{})}
	s := newTestScheduler(t, a, m)
	require.NoError(t, s.Start())
	assert.True(t, s.IsRunning())

	done := make(chan bool)
	go func() { done <- s.Trigger(JobAggregate) }()
	<-a.started

	s.stopTimeout = time.Second
	s.Stop()
	assert.False(t, s.IsRunning())
	assert.True(t, <-done)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobRuns.WithLabelValues(JobAggregate, StatusFailure, string(KindCanceled))))
}

func TestSchedulerDisabled(t *testing.T) {
	cfg := testsupport.TestConfig()
	cfg.JobsEnabled = false
	r := NewRunner(&fakeClassifier{}, &fakeAggregator{}, metrics.New("europe-west1"), testsupport.GetLogger())
	s, err := NewScheduler(r, testsupport.GetLogger(), cfg)
	require.NoError(t, err)

	require.NoError(t, s.Start())
	assert.False(t, s.IsRunning())
}

func TestSchedulerRejectsInvalidSchedule(t *testing.T) {
	cfg := testsupport.TestConfig()
	cfg.AggregateSchedule = "every day"
	r := NewRunner(&fakeClassifier{}, &fakeAggregator{}, metrics.New("europe-west1"), testsupport.GetLogger())

	_, err := NewScheduler(r, testsupport.GetLogger(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "aggregate")
}
