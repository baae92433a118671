// Package maintenance holds background jobs that keep the execution history
// consistent.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/calcflow/pkg/metrics"
	"github.com/dukex/calcflow/pkg/models"
	"github.com/dukex/calcflow/pkg/persistence"
	"github.com/robfig/cron/v3"
)

const DefaultSchedule = "@every 1m"

var ErrInvalidTimeout = errors.New("stale execution timeout must be positive")

// Store is the part of the execution repository the reaper needs.
type Store interface {
	StaleExecutions(ctx context.Context, cutoff time.Time) ([]*models.CalculationExecution, error)
	UpdateExecution(ctx context.Context, execution *models.CalculationExecution) error
}

// Reaper aborts running executions that recorded no activity for longer
// than a timeout, which happens when a process dies between two steps of a
// run. A single step that runs longer than the timeout is indistinguishable
// from a dead run, so the timeout must exceed the slowest step.
type Reaper struct {
	logger   *slog.Logger
	store    Store
	timeout  time.Duration
	schedule string
	metrics  *metrics.Metrics
	now      func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	entryID cron.EntryID
	cancel  context.CancelFunc
}

type Option func(*Reaper)

// WithSchedule sets the cron spec the reaper runs on. Standard five-field
// specs and descriptors such as "@every 30s" are accepted.
func WithSchedule(spec string) Option {
	return func(r *Reaper) {
		r.schedule = spec
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reaper) {
		r.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Reaper) {
		r.now = now
	}
}

func NewReaper(logger *slog.Logger, store Store, timeout time.Duration, opts ...Option) (*Reaper, error) {
	if timeout <= 0 {
		return nil, ErrInvalidTimeout
	}

	r := &Reaper{
		logger:   logger.With("module", "reaper"),
		store:    store,
		timeout:  timeout,
		schedule: DefaultSchedule,
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(r)
	}

	if _, err := cron.ParseStandard(r.schedule); err != nil {
		return nil, fmt.Errorf("invalid reaper schedule '%s': %w", r.schedule, err)
	}

	return r, nil
}

// Reap marks every running execution with no recorded activity since now
// minus the timeout as aborted, returning how many it aborted. An execution
// that reached a terminal status in the meantime is left alone.
func (r *Reaper) Reap(ctx context.Context) (int, error) {
	now := r.now().UTC()

	stale, err := r.store.StaleExecutions(ctx, now.Add(-r.timeout))
	if err != nil {
		return 0, fmt.Errorf("failed to list stale executions: %w", err)
	}

	var (
		reaped int
		errs   []error
	)

	for _, execution := range stale {
		end := now

		execution.Status = models.ExecutionStatusAborted
		execution.EndTime = &end
		execution.UpdatedAt = end
		execution.ExecutionTime = now.Sub(execution.StartTime).Seconds()
		execution.ErrorMessage = fmt.Sprintf("execution abandoned after %s", r.timeout)

		if err := r.store.UpdateExecution(ctx, execution); err != nil {
			if errors.Is(err, persistence.ErrExecutionFinalized) {
				continue
			}

			errs = append(errs, fmt.Errorf("failed to abort execution %s: %w", execution.ID, err))

			continue
		}

		r.logger.InfoContext(ctx, "Aborted stale execution",
			"execution_id", execution.ID,
			"pipeline_id", execution.PipelineID,
			"started", execution.StartTime,
			"last_activity", execution.LastActivity())

		reaped++
	}

	r.metrics.RecordReaped(reaped)

	return reaped, errors.Join(errs...)
}

// Start schedules Reap until ctx is done or Stop is called.
func (r *Reaper) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cron != nil {
		return errors.New("reaper already started")
	}

	ctx, cancel := context.WithCancel(ctx)

	c := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	entryID, err := c.AddFunc(r.schedule, func() {
		if _, err := r.Reap(ctx); err != nil {
			r.logger.ErrorContext(ctx, "Stale execution sweep failed", "error", err)
		}
	})
	if err != nil {
		cancel()

		return fmt.Errorf("failed to schedule reaper: %w", err)
	}

	r.cron = c
	r.entryID = entryID
	r.cancel = cancel

	c.Start()

	r.logger.Info("Started stale execution reaper", "schedule", r.schedule, "timeout", r.timeout)

	go func() {
		<-ctx.Done()
		r.Stop()
	}()

	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (r *Reaper) Stop() {
	r.mu.Lock()

	c, cancel := r.cron, r.cancel
	r.cron, r.cancel = nil, nil

	r.mu.Unlock()

	if c == nil {
		return
	}

	cancel()
	<-c.Stop().Done()

	r.logger.Info("Stopped stale execution reaper")
}

// NextRun reports when the next sweep is due; zero when not started.
func (r *Reaper) NextRun() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cron == nil {
		return time.Time{}
	}

	return r.cron.Entry(r.entryID).Next
}
