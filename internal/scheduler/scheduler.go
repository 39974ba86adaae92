// Package scheduler implements the wall-clock-driven firing loop for the
// ReviewPulse service. The scheduler polls the durable job store for due
// triggers and dispatches each firing to a bounded worker pool.
//
// Guarantees:
//
//   - At most one concurrently-running firing per trigger key: a due signal
//     for a key already in flight is dropped, never queued.
//   - Coalescing: a backlog of missed occurrences (multi-week outage)
//     collapses into one catch-up firing targeting the most recent missed
//     occurrence; acknowledging it advances a recurring trigger's next-fire
//     past the acknowledgment instant.
//   - Misfire policy: a trigger discovered later than its scheduled instant
//     by more than the grace period still fires once, logged as a misfire.
//     Lateness is measured from the most recent missed occurrence; beyond
//     the skip bound that occurrence is skipped entirely and logged, never
//     silently accumulated.
//
// The scheduler is an explicit instance owned by the process's composition
// root; nothing in this package holds ambient global state.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"reviewpulse/internal/jobstore"
)

// Handler executes one firing of a trigger. The record carries the opaque
// payload registered with the trigger (e.g. a subscription ID for one-shot
// immediate-analysis triggers).
type Handler func(ctx context.Context, rec jobstore.TriggerRecord) error

// Config holds the scheduling loop tunables.
type Config struct {
	// PollInterval is how often the job store is queried for due triggers.
	PollInterval time.Duration
	// Workers bounds the number of concurrently executing firings.
	Workers int
	// GracePeriod is the lateness beyond which a firing is logged as a
	// misfire (it still fires, once, as a catch-up).
	GracePeriod time.Duration
	// SkipAfter is the lateness beyond which a missed occurrence is skipped
	// entirely instead of fired.
	SkipAfter time.Duration
}

// Defaults for zero-valued Config fields.
const (
	DefaultPollInterval = 30 * time.Second
	DefaultWorkers      = 4
	DefaultGracePeriod  = 5 * time.Minute
	DefaultSkipAfter    = 14 * 24 * time.Hour
)

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = DefaultGracePeriod
	}
	if c.SkipAfter <= 0 {
		c.SkipAfter = DefaultSkipAfter
	}
	return c
}

// Scheduler owns the firing loop. Create with New, register handlers, then
// call Run (blocking) from the composition root.
type Scheduler struct {
	store  jobstore.Store
	cfg    Config
	retry  RetryPolicy
	logger *slog.Logger

	// handler dispatch: exact keys first, then longest matching prefix.
	handlers map[string]Handler
	prefixes map[string]Handler

	sem *semaphore.Weighted

	mu       sync.Mutex
	inflight map[string]struct{}

	wg  sync.WaitGroup
	now func() time.Time
}

// New creates a Scheduler over the given job store. A nil retry policy
// defaults to NeverRetry; a nil logger defaults to slog.Default().
func New(store jobstore.Store, cfg Config, retry RetryPolicy, logger *slog.Logger) *Scheduler {
	cfg = cfg.withDefaults()
	if retry == nil {
		retry = NeverRetry{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:    store,
		cfg:      cfg,
		retry:    retry,
		logger:   logger,
		handlers: make(map[string]Handler),
		prefixes: make(map[string]Handler),
		sem:      semaphore.NewWeighted(int64(cfg.Workers)),
		inflight: make(map[string]struct{}),
		now:      time.Now,
	}
}

// Register binds a handler to an exact trigger key.
func (s *Scheduler) Register(key string, h Handler) {
	s.handlers[key] = h
}

// RegisterPrefix binds a handler to every trigger key sharing the prefix.
// Used for per-subscription one-shot keys ("immediate:<id>").
func (s *Scheduler) RegisterPrefix(prefix string, h Handler) {
	s.prefixes[prefix] = h
}

// Run drives the polling loop until ctx is cancelled, then waits for
// in-flight firings to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "scheduler loop starting",
		"poll_interval", s.cfg.PollInterval.String(),
		"workers", s.cfg.Workers,
		"grace_period", s.cfg.GracePeriod.String(),
	)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	// Fire immediately on startup so restarts pick up missed occurrences
	// without waiting a full poll interval.
	if err := s.RunOnce(ctx, s.now().UTC()); err != nil {
		s.logger.ErrorContext(ctx, "initial dispatch failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "scheduler loop stopping, draining in-flight firings")
			s.wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			if err := s.RunOnce(ctx, s.now().UTC()); err != nil {
				// A failed poll is retried on the next tick; the job store
				// keeps triggers due until acknowledged.
				s.logger.ErrorContext(ctx, "dispatch failed", "error", err)
			}
		}
	}
}

// RunOnce performs a single dispatch pass: query due triggers as of asOf and
// fire each eligible one on the worker pool. Exposed for deterministic tests
// and for the job-runner CLI.
func (s *Scheduler) RunOnce(ctx context.Context, asOf time.Time) error {
	due, err := s.store.Due(ctx, asOf)
	if err != nil {
		return fmt.Errorf("querying due triggers: %w", err)
	}

	for _, rec := range due {
		s.dispatch(ctx, rec, asOf)
	}
	return nil
}

// Wait blocks until all in-flight firings complete. Intended for tests.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// dispatch applies the misfire policy and hands one trigger to the pool.
//
// The store keeps the oldest missed occurrence in NextFire, but the misfire
// policy and the handler target operate on the most recent missed occurrence:
// a recurring trigger rediscovered after an outage fires once for the latest
// occurrence and lateness is measured from it.
func (s *Scheduler) dispatch(ctx context.Context, rec jobstore.TriggerRecord, asOf time.Time) {
	rec.NextFire = jobstore.EffectiveOccurrence(rec, asOf)
	lateness := asOf.Sub(rec.NextFire)

	if lateness > s.cfg.SkipAfter {
		s.logger.WarnContext(ctx, "skipping trigger beyond misfire skip bound",
			"trigger_key", rec.Key,
			"scheduled", rec.NextFire.Format(time.RFC3339),
			"lateness", lateness.String(),
		)
		if err := s.store.Complete(ctx, rec.Key, asOf); err != nil {
			s.logger.ErrorContext(ctx, "failed to acknowledge skipped trigger",
				"trigger_key", rec.Key,
				"error", err,
			)
		}
		return
	}

	handler := s.lookupHandler(rec.Key)
	if handler == nil {
		s.logger.ErrorContext(ctx, "no handler registered for trigger",
			"trigger_key", rec.Key,
		)
		return
	}

	if !s.claim(rec.Key) {
		// Already firing; drop this due signal rather than queueing it.
		s.logger.InfoContext(ctx, "trigger already in flight, dropping due signal",
			"trigger_key", rec.Key,
		)
		return
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		s.release(rec.Key)
		s.logger.InfoContext(ctx, "dropping due trigger, worker pool unavailable",
			"trigger_key", rec.Key,
			"error", err,
		)
		return
	}

	grace := rec.GracePeriod
	if grace <= 0 {
		grace = s.cfg.GracePeriod
	}
	misfire := lateness > grace

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.sem.Release(1)
		defer s.release(rec.Key)
		s.fire(ctx, rec, handler, misfire, lateness)
	}()
}

// fire executes one firing through the retry policy and acknowledges the
// trigger. A failed firing is still acknowledged: re-execution happens only
// via a later scheduled or manual run, relying on the batch ledger's
// idempotency rather than hot-looping on the same occurrence.
func (s *Scheduler) fire(ctx context.Context, rec jobstore.TriggerRecord, handler Handler, misfire bool, lateness time.Duration) {
	firedAt := s.now().UTC()

	if misfire {
		s.logger.WarnContext(ctx, "misfired trigger firing as catch-up",
			"trigger_key", rec.Key,
			"scheduled", rec.NextFire.Format(time.RFC3339),
			"lateness", lateness.String(),
		)
	} else {
		s.logger.InfoContext(ctx, "trigger firing",
			"trigger_key", rec.Key,
			"scheduled", rec.NextFire.Format(time.RFC3339),
		)
	}

	var err error
	for attempt := 1; ; attempt++ {
		err = s.runHandler(ctx, rec, handler)
		if err == nil || !s.retry.ShouldRetry(attempt, err) {
			break
		}
		s.logger.WarnContext(ctx, "retrying trigger firing",
			"trigger_key", rec.Key,
			"attempt", attempt,
			"error", err,
		)
	}

	if err != nil {
		s.logger.ErrorContext(ctx, "trigger firing failed",
			"trigger_key", rec.Key,
			"error", err,
		)
	} else {
		s.logger.InfoContext(ctx, "trigger firing complete",
			"trigger_key", rec.Key,
			"duration", s.now().UTC().Sub(firedAt).String(),
		)
	}

	if ackErr := s.store.Complete(ctx, rec.Key, firedAt); ackErr != nil {
		s.logger.ErrorContext(ctx, "failed to acknowledge trigger firing",
			"trigger_key", rec.Key,
			"error", ackErr,
		)
	}
}

// runHandler isolates handler panics so one bad firing cannot take down the
// scheduler process.
func (s *Scheduler) runHandler(ctx context.Context, rec jobstore.TriggerRecord, handler Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("trigger handler panic: %v", r)
		}
	}()
	return handler(ctx, rec)
}

func (s *Scheduler) lookupHandler(key string) Handler {
	if h, ok := s.handlers[key]; ok {
		return h
	}
	var best Handler
	bestLen := -1
	for prefix, h := range s.prefixes {
		if strings.HasPrefix(key, prefix) && len(prefix) > bestLen {
			best = h
			bestLen = len(prefix)
		}
	}
	return best
}

func (s *Scheduler) claim(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[key]; busy {
		return false
	}
	s.inflight[key] = struct{}{}
	return true
}

func (s *Scheduler) release(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, key)
}
