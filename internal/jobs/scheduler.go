package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"viewrollup/internal/config"
)

const defaultStopTimeout = 20 * time.Second

// Scheduler triggers the jobs in-process on their cron schedules
type Scheduler struct {
	runner    *Runner
	logger    *slog.Logger
	cron      *cron.Cron
	ctx       context.Context
	cancel    context.CancelFunc
	enabled   bool
	isRunning bool
	schedules map[string]string

	// how long Stop waits for in-flight runs
	stopTimeout time.Duration

	// guards against overlapping runs of the same job
	processingMutex sync.Mutex
	processing      map[string]bool
}

func NewScheduler(runner *Runner, logger *slog.Logger, cfg *config.Config) (*Scheduler, error) {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Scheduler{
		runner: runner,
		logger: logger,
		cron: cron.New(
			cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow)),
			cron.WithChain(cron.Recover(cron.DefaultLogger)),
		),
		ctx:     ctx,
		cancel:  cancel,
		enabled: cfg.JobsEnabled,
		schedules: map[string]string{
			JobClassify:  cfg.ClassifySchedule,
			JobAggregate: cfg.AggregateSchedule,
		},
		processing:  make(map[string]bool),
		stopTimeout: defaultStopTimeout,
	}

	for _, job := range Names {
		spec := s.schedules[job]
		if _, err := s.cron.AddFunc(spec, func() { s.Trigger(job) }); err != nil {
			cancel()
			return nil, fmt.Errorf("invalid schedule %q for job %s: %w", spec, job, err)
		}
	}

	return s, nil
}

// Trigger runs a job now unless a previous run of it is still executing.
// It reports whether the job ran.
func (s *Scheduler) Trigger(job string) bool {
	return s.executeJobSafely(job, func(ctx context.Context) Result {
		return s.runner.Run(ctx, job)
	})
}

// executeJobSafely runs a job only if no other run of the same job is executing
func (s *Scheduler) executeJobSafely(jobName string, jobFunc func(context.Context) Result) bool {
	s.processingMutex.Lock()
	if s.processing[jobName] {
		s.logger.Debug("Skipping job execution - previous run still executing", slog.String("job", jobName))
		s.processingMutex.Unlock()
		return false
	}
	s.processing[jobName] = true
	s.processingMutex.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic recovered in background job",
				slog.String("job", jobName),
				slog.Any("panic", r))
		}

		s.processingMutex.Lock()
		delete(s.processing, jobName)
		s.processingMutex.Unlock()
	}()

	jobFunc(s.ctx)
	return true
}

// Start begins the cron schedules
func (s *Scheduler) Start() error {
	if !s.enabled {
		s.logger.Info("Background jobs are disabled.")
		return nil
	}

	if s.isRunning {
		s.logger.Info("Background jobs already running.")
		return nil
	}

	s.cron.Start()
	s.isRunning = true

	s.logger.Info("Background jobs started",
		slog.String("classify_schedule", s.schedules[JobClassify]),
		slog.String("aggregate_schedule", s.schedules[JobAggregate]))

	return nil
}

// Stop halts the schedules, cancels in-flight runs and waits for them to
// return, up to the stop timeout.
func (s *Scheduler) Stop() {
	timeout := s.stopTimeout
	s.logger.Info("Stopping background jobs...")
	s.enabled = false

	done := s.cron.Stop()
	s.cancel()

	select {
	case <-done.Done():
	case <-time.After(timeout):
		s.logger.Warn("Timed out waiting for background jobs", slog.Duration("timeout", timeout))
	}

	s.isRunning = false
	s.logger.Info("Background jobs stopped")
}

// IsRunning returns whether the schedules are active
func (s *Scheduler) IsRunning() bool {
	return s.isRunning
}
