// Package aggregator recomputes the top-page and period rollups from the
// full event history and replaces the derived collections with them.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"viewrollup/internal/config"
	"viewrollup/internal/lease"
	"viewrollup/internal/models"
	"viewrollup/internal/pkg/async"
	"viewrollup/internal/replacer"
	"viewrollup/internal/rollups"
	"viewrollup/internal/views"
)

// LeaseKey names the lease held for the duration of a run.
const LeaseKey = "aggregate"

// ErrPartial marks failures that happened after at least one delete
// committed, leaving the derived collections partially replaced.
var ErrPartial = errors.New("derived collections partially replaced")

// Options holds the tunables of a run.
type Options struct {
	InternalIP         string
	InvalidEventPolicy string
	WriteBatchSize     int
	WriteConcurrency   int
}

// OptionsFromConfig extracts the aggregation settings.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		InternalIP:         cfg.InternalIP,
		InvalidEventPolicy: cfg.InvalidEventPolicy,
		WriteBatchSize:     cfg.WriteBatchSize,
		WriteConcurrency:   cfg.WriteConcurrency,
	}
}

// Report describes a completed (or aborted) run.
type Report struct {
	Cutoff           string            `json:"cutoff" yaml:"cutoff"`
	EventsFetched    int               `json:"eventsFetched" yaml:"eventsFetched"`
	EventsInvalid    int               `json:"eventsInvalid" yaml:"eventsInvalid"`
	EventsSkipped    int               `json:"eventsSkipped" yaml:"eventsSkipped"`
	TopPages         int               `json:"topPages" yaml:"topPages"`
	Periods          int               `json:"periods" yaml:"periods"`
	Purged           []replacer.Result `json:"purged" yaml:"purged"`
	DocumentsWritten int               `json:"documentsWritten" yaml:"documentsWritten"`
	Duration         time.Duration     `json:"duration" yaml:"duration"`
}

// Aggregator runs the delete-then-write rollup refresh.
type Aggregator struct {
	db       *gorm.DB
	logger   *slog.Logger
	leases   lease.Backend
	replacer *replacer.Replacer
	pool     *async.Pool
	opts     Options
	now      func() time.Time
}

// New creates an Aggregator.
func New(db *gorm.DB, logger *slog.Logger, leases lease.Backend, r *replacer.Replacer, opts Options) *Aggregator {
	if opts.WriteBatchSize <= 0 {
		opts.WriteBatchSize = 100
	}
	if opts.InvalidEventPolicy == "" {
		opts.InvalidEventPolicy = config.InvalidEventsPropagate
	}
	return &Aggregator{
		db:       db,
		logger:   logger,
		leases:   leases,
		replacer: r,
		pool:     async.NewPool(opts.WriteConcurrency),
		opts:     opts,
		now:      time.Now,
	}
}

// WithClock replaces the invocation time source; used by tests.
func (a *Aggregator) WithClock(now func() time.Time) *Aggregator {
	a.now = now
	return a
}

// Run performs one aggregation. Overlapping runs are rejected with
// lease.ErrLockNotAcquired before any data is read.
func (a *Aggregator) Run(ctx context.Context) (Report, error) {
	start := time.Now()
	invokedAt := a.now()
	report := Report{Cutoff: views.StartOfDay(invokedAt)}

	lock, err := lease.Acquire(ctx, a.leases, LeaseKey)
	if err != nil {
		return report, fmt.Errorf("failed to acquire aggregation lease: %w", err)
	}
	defer func() {
		// release even when ctx was cancelled mid-run
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := lock.Unlock(releaseCtx); err != nil {
			a.logger.Warn("Failed to release aggregation lease", slog.Any("error", err))
		}
	}()

	events, err := views.FetchBefore(ctx, a.db, report.Cutoff)
	if err != nil {
		return report, err
	}
	report.EventsFetched = len(events)

	valid, invalid := views.Partition(events)
	report.EventsInvalid = len(invalid)
	if len(invalid) > 0 {
		switch a.opts.InvalidEventPolicy {
		case config.InvalidEventsFail:
			return report, fmt.Errorf("%d of %d events failed validation: %w", len(invalid), len(events), errors.Join(invalid...))
		case config.InvalidEventsSkip:
			report.EventsSkipped = len(invalid)
			a.logInvalid("Skipping invalid view event", invalid)
		default:
			valid = events
			a.logInvalid("Aggregating invalid view event", invalid)
		}
	}

	snapshot := rollups.Compute(valid, invokedAt, a.opts.InternalIP)
	report.TopPages = len(snapshot.TopPages)
	report.Periods = len(snapshot.Periods)

	var deleted int64
	for _, collection := range []string{rollups.TopPagesTable, rollups.PeriodRollupsTable} {
		purged, err := a.replacer.Purge(ctx, collection)
		report.Purged = append(report.Purged, purged)
		deleted += purged.Deleted
		if err != nil {
			// nothing committed yet means the sinks are still intact
			if deleted > 0 {
				err = fmt.Errorf("%w: %w", ErrPartial, err)
			}
			return report, err
		}
	}

	written, err := a.write(ctx, snapshot)
	report.DocumentsWritten = written
	if err != nil {
		return report, fmt.Errorf("%w: %w", ErrPartial, err)
	}

	report.Duration = time.Since(start)
	a.logger.Info("Aggregation completed",
		slog.String("cutoff", report.Cutoff),
		slog.Int("events", report.EventsFetched),
		slog.Int("invalid", report.EventsInvalid),
		slog.Int("skipped", report.EventsSkipped),
		slog.Int("top_pages", report.TopPages),
		slog.Int("periods", report.Periods),
		slog.Duration("duration", report.Duration))

	return report, nil
}

// logInvalid logs the first few validation errors of a batch.
func (a *Aggregator) logInvalid(msg string, invalid []error) {
	for i, verr := range invalid {
		if i == 5 {
			a.logger.Warn("More invalid view events omitted", slog.Int("count", len(invalid)-i))
			return
		}
		a.logger.Warn(msg, slog.Any("error", verr))
	}
}

// write inserts the snapshot as fresh documents, chunked and dispatched on
// the worker pool. Chunks have no relative order.
func (a *Aggregator) write(ctx context.Context, snapshot rollups.Snapshot) (int, error) {
	var tasks []async.Task
	sizes := make(map[string]int)

	for i, batch := range chunks(snapshot.TopPages, a.opts.WriteBatchSize) {
		for j := range batch {
			batch[j].ID = uuid.NewString()
		}
		name := fmt.Sprintf("%s#%d", rollups.TopPagesTable, i)
		sizes[name] = len(batch)
		tasks = append(tasks, a.insertTask(name, &batch))
	}
	for i, batch := range chunks(snapshot.Periods, a.opts.WriteBatchSize) {
		for j := range batch {
			batch[j].ID = uuid.NewString()
		}
		name := fmt.Sprintf("%s#%d", rollups.PeriodRollupsTable, i)
		sizes[name] = len(batch)
		tasks = append(tasks, a.insertTask(name, &batch))
	}

	if len(tasks) == 0 {
		return 0, nil
	}

	results := a.pool.Execute(ctx, tasks)
	written := 0
	for name, result := range results {
		if result.Err == nil {
			written += sizes[name]
		}
	}
	if err := async.FirstError(ctx, tasks, results); err != nil {
		return written, fmt.Errorf("failed to write rollup documents: %w", err)
	}
	return written, nil
}

func (a *Aggregator) insertTask(name string, docs any) async.Task {
	return async.Task{
		Name: name,
		Execute: func(ctx context.Context) error {
			return models.PerformWrite(a.logger, a.db.WithContext(ctx), func(tx *gorm.DB) error {
				return tx.Create(docs).Error
			})
		},
	}
}

func chunks[T any](items []T, size int) [][]T {
	var out [][]T
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		out = append(out, items[start:end])
	}
	return out
}
