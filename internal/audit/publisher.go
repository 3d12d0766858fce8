package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// FailureCounter observes audit events that could not be published. The
// platform metrics struct satisfies it; publish failures never affect the
// authentication outcome but must stay visible.
type FailureCounter interface {
	IncrementAuditFailures()
}

// Publisher captures structured audit events. It is append-only and uses the
// storage layer for persistence so tests can swap sinks easily.
type Publisher struct {
	store    Store
	events   chan Event
	wg       sync.WaitGroup
	logger   *slog.Logger
	failures FailureCounter
	async    bool
}

// PublisherOption configures the Publisher.
type PublisherOption func(*Publisher)

// WithAsyncBuffer enables async processing with the specified buffer size.
// Events are queued and persisted in a background goroutine.
func WithAsyncBuffer(size int) PublisherOption {
	return func(p *Publisher) {
		if size > 0 {
			p.events = make(chan Event, size)
			p.async = true
		}
	}
}

// WithPublisherLogger sets a logger for async error reporting.
func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithFailureCounter makes drops and persistence failures countable.
func WithFailureCounter(c FailureCounter) PublisherOption {
	return func(p *Publisher) {
		p.failures = c
	}
}

func NewPublisher(store Store, opts ...PublisherOption) *Publisher {
	p := &Publisher{store: store}
	for _, opt := range opts {
		opt(p)
	}
	if p.async {
		p.wg.Add(1)
		go p.processEvents()
	}
	return p
}

// processEvents runs in a goroutine and persists events from the channel.
func (p *Publisher) processEvents() {
	defer p.wg.Done()
	for event := range p.events {
		if err := p.store.Append(context.Background(), event); err != nil {
			p.recordFailure()
			if p.logger != nil {
				p.logger.Error("failed to persist audit event",
					"error", err,
					"action", event.Action,
					"identity", event.Identity,
				)
			}
		}
	}
}

// Close shuts down the async publisher and waits for pending events to drain.
func (p *Publisher) Close() {
	if p.async && p.events != nil {
		close(p.events)
		p.wg.Wait()
	}
}

// Emit records an event. It never blocks the caller's hot path: in async
// mode a full buffer drops the event (counted), and in sync mode a store
// failure is counted and logged but still never surfaces to the caller.
func (p *Publisher) Emit(ctx context.Context, base Event) {
	if base.Timestamp.IsZero() {
		base.Timestamp = time.Now()
	}
	if p.async {
		select {
		case p.events <- base:
		default:
			p.recordFailure()
			if p.logger != nil {
				p.logger.Warn("audit buffer full, event dropped",
					"action", base.Action,
					"identity", base.Identity,
				)
			}
		}
		return
	}
	if err := p.store.Append(ctx, base); err != nil {
		p.recordFailure()
		if p.logger != nil {
			p.logger.ErrorContext(ctx, "failed to persist audit event",
				"error", err,
				"action", base.Action,
				"identity", base.Identity,
			)
		}
	}
}

// List returns the audit trail for one identity where the sink supports it.
func (p *Publisher) List(ctx context.Context, identity string) ([]Event, error) {
	return p.store.ListByIdentity(ctx, identity)
}

func (p *Publisher) recordFailure() {
	if p.failures != nil {
		p.failures.IncrementAuditFailures()
	}
}
