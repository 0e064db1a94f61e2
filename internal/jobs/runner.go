package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"viewrollup/internal/aggregator"
	"viewrollup/internal/classifier"
	"viewrollup/internal/metrics"
)

// ClassifierJob is satisfied by *classifier.Classifier.
type ClassifierJob interface {
	Run(ctx context.Context) (classifier.Outcome, error)
}

// AggregatorJob is satisfied by *aggregator.Aggregator.
type AggregatorJob interface {
	Run(ctx context.Context) (aggregator.Report, error)
}

// Runner executes jobs and turns their outcome into a Result. Failures are
// logged and counted but never retried.
type Runner struct {
	classifier ClassifierJob
	aggregator AggregatorJob
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

func NewRunner(c ClassifierJob, a AggregatorJob, m *metrics.Metrics, logger *slog.Logger) *Runner {
	return &Runner{
		classifier: c,
		aggregator: a,
		metrics:    m,
		logger:     logger,
	}
}

// Run executes the named job.
func (r *Runner) Run(ctx context.Context, job string) Result {
	switch job {
	case JobClassify:
		return r.Classify(ctx)
	case JobAggregate:
		return r.Aggregate(ctx)
	default:
		return NewResult(job, nil, fmt.Errorf("%w: %q", ErrUnknownJob, job))
	}
}

// Classify runs the classifier once.
func (r *Runner) Classify(ctx context.Context) Result {
	start := time.Now()
	outcome, err := r.classifier.Run(ctx)
	return r.finish(JobClassify, start, outcome, err)
}

// Aggregate runs the aggregator once.
func (r *Runner) Aggregate(ctx context.Context) Result {
	start := time.Now()
	report, err := r.aggregator.Run(ctx)

	r.metrics.EventsAggregated.Set(float64(report.EventsFetched))
	r.metrics.EventsSkipped.Add(float64(report.EventsSkipped))
	r.metrics.DocumentsWritten.WithLabelValues(JobAggregate).Add(float64(report.DocumentsWritten))

	return r.finish(JobAggregate, start, report, err)
}

func (r *Runner) finish(job string, start time.Time, details any, err error) Result {
	result := NewResult(job, details, err)
	elapsed := time.Since(start)
	r.metrics.ObserveRun(job, result.Status, string(result.Kind), elapsed)

	if err != nil {
		r.logger.Error("Job failed",
			slog.String("job", job),
			slog.String("kind", string(result.Kind)),
			slog.Duration("elapsed", elapsed),
			slog.Any("error", err))
		return result
	}

	r.logger.Info("Job completed", slog.String("job", job), slog.Duration("elapsed", elapsed))
	return result
}
