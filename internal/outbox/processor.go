package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/semyenov/graphql-microservices-sub001/internal/metrics"
	"github.com/semyenov/graphql-microservices-sub001/internal/models"
)

// Publisher delivers an outbox entry to the external bus.
// Delivery is at-least-once; consumers must deduplicate by event id.
type Publisher interface {
	Publish(ctx context.Context, entry models.OutboxEntry) error
}

// ProcessorConfig configures the outbox processor
type ProcessorConfig struct {
	PollInterval   time.Duration
	BatchSize      int
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	PublishTimeout time.Duration
}

// DefaultProcessorConfig returns the default processor configuration
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		PollInterval:   time.Second,
		BatchSize:      50,
		MaxAttempts:    5,
		BaseDelay:      500 * time.Millisecond,
		MaxDelay:       time.Minute,
		PublishTimeout: 10 * time.Second,
	}
}

// Processor drains the outbox in the background: it claims batches of
// pending entries, publishes them to the external bus and marks them
// published, retrying failures with exponential backoff
type Processor struct {
	store     *GormOutboxStore
	publisher Publisher
	cfg       ProcessorConfig
	metrics   *metrics.Metrics

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewProcessor creates a new outbox processor
func NewProcessor(store *GormOutboxStore, publisher Publisher, cfg ProcessorConfig, collector *metrics.Metrics) *Processor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultProcessorConfig().BatchSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultProcessorConfig().PollInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultProcessorConfig().MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultProcessorConfig().BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultProcessorConfig().MaxDelay
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultProcessorConfig().PublishTimeout
	}
	return &Processor{
		store:     store,
		publisher: publisher,
		cfg:       cfg,
		metrics:   collector,
	}
}

// Start launches the processor loop
func (p *Processor) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	p.running = true
	p.cancel = cancel
	p.done = make(chan struct{})

	go p.runLoop(loopCtx)
}

// Stop stops the processor and waits for the loop to exit.
// In-flight publishes are interrupted via context cancellation.
func (p *Processor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	done := p.done
	p.mu.Unlock()

	cancel()
	<-done
}

// IsRunning reports whether the processor loop is active
func (p *Processor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// runLoop drains the outbox until the context is cancelled.
// A single item's failure never terminates the loop; systemic failures
// widen the polling delay but the loop keeps going.
func (p *Processor) runLoop(ctx context.Context) {
	defer close(p.done)

	log.Info().Msg("Outbox processor started")

	errStreak := 0
	for {
		processed, err := p.processBatch(ctx)

		delay := p.cfg.PollInterval
		switch {
		case err != nil:
			errStreak++
			delay = p.widenDelay(errStreak)
			log.Error().Err(err).Dur("backoff", delay).Msg("Outbox batch failed")
		case processed >= p.cfg.BatchSize:
			// Full batch claimed, drain immediately
			errStreak = 0
			delay = 0
		default:
			errStreak = 0
		}

		p.reportBacklog(ctx)

		select {
		case <-ctx.Done():
			log.Info().Msg("Outbox processor stopped")
			return
		case <-time.After(delay):
		}
	}
}

// processBatch claims and publishes one batch.
// Returns the number of claimed entries.
func (p *Processor) processBatch(ctx context.Context) (int, error) {
	entries, err := p.store.ClaimBatch(ctx, p.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			// Shutdown mid-batch: remaining processing entries are
			// reclaimed later by the staleness job
			return len(entries), nil
		}
		p.publishEntry(ctx, entry)
	}

	return len(entries), nil
}

// publishEntry publishes a single claimed entry and records the outcome
func (p *Processor) publishEntry(ctx context.Context, entry models.OutboxEntry) {
	publishCtx, cancel := context.WithTimeout(ctx, p.cfg.PublishTimeout)
	err := p.publisher.Publish(publishCtx, entry)
	cancel()

	if err == nil {
		if markErr := p.store.MarkPublished(ctx, entry.ID); markErr != nil {
			// The entry stays processing and is reclaimed later;
			// the consumer sees a duplicate, which at-least-once allows
			log.Error().Err(markErr).Str("event_id", entry.EventID).Msg("Failed to mark outbox entry as published")
			return
		}
		p.metrics.IncrementCounter(metrics.OutboxPublished)
		log.Debug().Str("event_id", entry.EventID).Str("routing_key", entry.RoutingKey).Msg("Outbox entry published")
		return
	}

	// A timeout is a transient failure like any other: retry with backoff
	attempts := entry.Attempts + 1
	if attempts >= p.cfg.MaxAttempts {
		if markErr := p.store.MarkFailed(ctx, entry.ID, attempts, err.Error()); markErr != nil {
			log.Error().Err(markErr).Str("event_id", entry.EventID).Msg("Failed to mark outbox entry as failed")
			return
		}
		p.metrics.IncrementCounter(metrics.OutboxFailed)
		log.Error().Err(err).
			Str("event_id", entry.EventID).
			Int("attempts", attempts).
			Msg("Outbox entry exhausted retries")
		return
	}

	nextAttemptAt := time.Now().UTC().Add(p.backoffDelay(attempts))
	if markErr := p.store.Reschedule(ctx, entry.ID, attempts, nextAttemptAt, err.Error()); markErr != nil {
		log.Error().Err(markErr).Str("event_id", entry.EventID).Msg("Failed to reschedule outbox entry")
		return
	}
	p.metrics.IncrementCounter(metrics.OutboxRetries)
	log.Warn().Err(err).
		Str("event_id", entry.EventID).
		Int("attempts", attempts).
		Time("next_attempt_at", nextAttemptAt).
		Msg("Outbox publish failed, rescheduled")
}

// backoffDelay computes baseDelay * 2^attempts capped at MaxDelay
func (p *Processor) backoffDelay(attempts int) time.Duration {
	delay := p.cfg.BaseDelay
	for i := 0; i < attempts; i++ {
		delay *= 2
		if delay >= p.cfg.MaxDelay {
			return p.cfg.MaxDelay
		}
	}
	return delay
}

// widenDelay grows the poll delay under systemic failure
func (p *Processor) widenDelay(streak int) time.Duration {
	delay := p.cfg.PollInterval
	for i := 1; i < streak; i++ {
		delay *= 2
		if delay >= p.cfg.MaxDelay {
			return p.cfg.MaxDelay
		}
	}
	return delay
}

// reportBacklog refreshes the outbox backlog gauge
func (p *Processor) reportBacklog(ctx context.Context) {
	backlog, err := p.store.Backlog(ctx)
	if err != nil {
		return
	}
	p.metrics.SetGauge(metrics.OutboxBacklog, backlog)
}
