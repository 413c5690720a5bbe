package projection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/semyenov/graphql-microservices-sub001/internal/domain"
	"github.com/semyenov/graphql-microservices-sub001/internal/eventstore"
	"github.com/semyenov/graphql-microservices-sub001/internal/metrics"
)

// Runner statuses
const (
	StatusStopped    = "stopped"
	StatusRunning    = "running"
	StatusRebuilding = "rebuilding"
)

// Projection is a named read-model builder.
// Handle must be idempotent: re-applying an already-applied batch
// has to be a no-op, since the checkpoint only advances after a
// successful handler call and retries re-deliver the same batch.
type Projection interface {
	// Name is the unique projection name used for checkpoint tracking
	Name() string

	// EventTypes returns the event types this projection consumes.
	// Empty means all events.
	EventTypes() []string

	// Handle applies a batch of matching events to the read model
	Handle(ctx context.Context, events []domain.Event) error
}

// RunnerConfig configures a projection runner
type RunnerConfig struct {
	PollInterval   time.Duration
	BatchSize      int
	HandlerTimeout time.Duration
	RetryBackoff   time.Duration
	MaxBackoff     time.Duration
}

// DefaultRunnerConfig returns the default runner configuration
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		PollInterval:   time.Second,
		BatchSize:      100,
		HandlerTimeout: 30 * time.Second,
		RetryBackoff:   time.Second,
		MaxBackoff:     30 * time.Second,
	}
}

// Runner replays the global event log into one projection's read model,
// polling from a persisted checkpoint and advancing it only after the
// handler has applied a batch successfully
type Runner struct {
	projection  Projection
	store       eventstore.EventStore
	checkpoints CheckpointStore
	cfg         RunnerConfig
	metrics     *metrics.Metrics

	mu     sync.Mutex
	status string
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRunner creates a runner for one projection
func NewRunner(projection Projection, store eventstore.EventStore, checkpoints CheckpointStore, cfg RunnerConfig, collector *metrics.Metrics) *Runner {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultRunnerConfig().BatchSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultRunnerConfig().PollInterval
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRunnerConfig().RetryBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultRunnerConfig().MaxBackoff
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = DefaultRunnerConfig().HandlerTimeout
	}
	return &Runner{
		projection:  projection,
		store:       store,
		checkpoints: checkpoints,
		cfg:         cfg,
		metrics:     collector,
		status:      StatusStopped,
	}
}

// Start launches the runner loop
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != StatusStopped {
		return fmt.Errorf("projection %q is already %s", r.projection.Name(), r.status)
	}

	r.startLocked(ctx)
	return nil
}

// startLocked transitions to running and spawns the loop.
// The caller holds r.mu and has validated the current status.
func (r *Runner) startLocked(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	r.status = StatusRunning
	r.cancel = cancel
	r.done = make(chan struct{})

	if err := r.checkpoints.SetActive(ctx, r.projection.Name(), true); err != nil {
		log.Warn().Err(err).Str("projection", r.projection.Name()).Msg("Failed to flag checkpoint active")
	}

	go r.runLoop(loopCtx)
}

// Stop stops the runner loop and waits for it to exit.
// The poll sleep is interrupted promptly via context cancellation.
func (r *Runner) Stop() {
	r.mu.Lock()
	if r.status != StatusRunning {
		r.mu.Unlock()
		return
	}
	r.status = StatusStopped
	cancel := r.cancel
	done := r.done
	r.mu.Unlock()

	cancel()
	<-done

	if err := r.checkpoints.SetActive(context.Background(), r.projection.Name(), false); err != nil {
		log.Warn().Err(err).Str("projection", r.projection.Name()).Msg("Failed to flag checkpoint inactive")
	}
}

// Rebuild stops the runner if needed, resets the checkpoint to 0 and
// restarts, causing a full replay. The handler must tolerate replaying
// all history against an already-populated read model (upsert semantics).
// The status stays rebuilding for the whole reset, never dipping back
// to stopped where a concurrent Start could slip in.
func (r *Runner) Rebuild(ctx context.Context) error {
	r.mu.Lock()
	if r.status == StatusRebuilding {
		r.mu.Unlock()
		return fmt.Errorf("projection %q is already rebuilding", r.projection.Name())
	}
	wasRunning := r.status == StatusRunning
	r.mu.Unlock()

	if wasRunning {
		r.Stop()
	}

	r.mu.Lock()
	r.status = StatusRebuilding
	r.mu.Unlock()

	if err := r.checkpoints.Reset(ctx, r.projection.Name()); err != nil {
		r.mu.Lock()
		r.status = StatusStopped
		r.mu.Unlock()
		return err
	}

	log.Info().Str("projection", r.projection.Name()).Msg("Projection checkpoint reset for rebuild")

	r.mu.Lock()
	defer r.mu.Unlock()
	r.startLocked(ctx)
	return nil
}

// Status returns the runner status
func (r *Runner) Status() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Lag returns the distance between the log head and the checkpoint
func (r *Runner) Lag(ctx context.Context) (int64, error) {
	head, err := r.store.HeadPosition(ctx)
	if err != nil {
		return 0, err
	}
	checkpoint, err := r.checkpoints.Load(ctx, r.projection.Name())
	if err != nil {
		return 0, err
	}
	return head - checkpoint, nil
}

// runLoop polls the global log until the context is cancelled.
// Handler failures never terminate the loop: the batch is retried with
// backoff and the checkpoint stays put until it succeeds.
func (r *Runner) runLoop(ctx context.Context) {
	defer close(r.done)

	name := r.projection.Name()
	log.Info().Str("projection", name).Msg("Projection runner started")

	backoffStreak := 0
	for {
		advanced, err := r.processBatch(ctx)

		var delay time.Duration
		switch {
		case err != nil:
			backoffStreak++
			delay = r.retryDelay(backoffStreak)
			log.Error().Err(err).Str("projection", name).Dur("backoff", delay).Msg("Projection batch failed, retrying same batch")
		case advanced:
			backoffStreak = 0
			// More events may be waiting, poll again immediately
			delay = 0
		default:
			backoffStreak = 0
			delay = r.cfg.PollInterval
		}

		select {
		case <-ctx.Done():
			log.Info().Str("projection", name).Msg("Projection runner stopped")
			return
		case <-time.After(delay):
		}
	}
}

// processBatch reads one unfiltered batch from the checkpoint, dispatches
// the matching subset and advances the checkpoint to the position of the
// last event in the unfiltered batch, so the cursor never stalls on event
// types this projection ignores. Returns whether the checkpoint advanced.
func (r *Runner) processBatch(ctx context.Context) (bool, error) {
	name := r.projection.Name()

	checkpoint, err := r.checkpoints.Load(ctx, name)
	if err != nil {
		return false, err
	}

	events, err := r.store.ReadAllEvents(ctx, checkpoint+1, r.cfg.BatchSize, eventstore.ReadAllFilter{})
	if err != nil {
		return false, err
	}

	if len(events) == 0 {
		r.reportLag(ctx, checkpoint)
		return false, nil
	}

	matching := filterEvents(events, r.projection.EventTypes())
	if len(matching) > 0 {
		handlerCtx, cancel := context.WithTimeout(ctx, r.cfg.HandlerTimeout)
		err = r.projection.Handle(handlerCtx, matching)
		cancel()
		if err != nil {
			r.metrics.IncrementCounter(metrics.ProjectionErrors)
			return false, err
		}
		r.metrics.IncrementCounterBy(metrics.ProjectionHandled, int64(len(matching)))
	}

	newCheckpoint := events[len(events)-1].GlobalPosition
	if err := r.checkpoints.Save(ctx, name, newCheckpoint); err != nil {
		return false, err
	}

	r.reportLag(ctx, newCheckpoint)
	return true, nil
}

// retryDelay widens the retry backoff up to MaxBackoff
func (r *Runner) retryDelay(streak int) time.Duration {
	delay := r.cfg.RetryBackoff
	for i := 1; i < streak; i++ {
		delay *= 2
		if delay >= r.cfg.MaxBackoff {
			return r.cfg.MaxBackoff
		}
	}
	return delay
}

// reportLag refreshes the per-projection lag gauge
func (r *Runner) reportLag(ctx context.Context, checkpoint int64) {
	head, err := r.store.HeadPosition(ctx)
	if err != nil {
		return
	}
	r.metrics.SetGauge(metrics.ProjectionLagBase+r.projection.Name(), head-checkpoint)
}

// filterEvents returns the subset of events matching the type filter.
// An empty filter matches everything.
func filterEvents(events []domain.Event, eventTypes []string) []domain.Event {
	if len(eventTypes) == 0 {
		return events
	}

	allowed := make(map[string]struct{}, len(eventTypes))
	for _, t := range eventTypes {
		allowed[t] = struct{}{}
	}

	var matching []domain.Event
	for _, event := range events {
		if _, ok := allowed[event.Type]; ok {
			matching = append(matching, event)
		}
	}
	return matching
}
