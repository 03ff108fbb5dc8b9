package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/mssola/useragent"

	"quentry-gateway/pkg/requestcontext"
)

// ErrBufferFull is returned in async mode when the event buffer is saturated.
// Audit emission never blocks request handling.
var ErrBufferFull = errors.New("audit buffer full")

// Sink receives every event after it has been stored, e.g. a message broker.
type Sink interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Publisher enriches and fans out audit events. Synchronous by default;
// WithAsyncBuffer switches to a buffered worker that drops events when full.
type Publisher struct {
	store  Store
	sinks  []Sink
	logger *slog.Logger
	clock  func() time.Time

	buffer chan Event
	wg     sync.WaitGroup

	closeOnce sync.Once
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithAsyncBuffer processes events on a background worker with the given
// buffer size.
func WithAsyncBuffer(size int) PublisherOption {
	return func(p *Publisher) {
		if size > 0 {
			p.buffer = make(chan Event, size)
		}
	}
}

// WithSink attaches an additional delivery target.
func WithSink(sink Sink) PublisherOption {
	return func(p *Publisher) {
		if sink != nil {
			p.sinks = append(p.sinks, sink)
		}
	}
}

// WithPublisherClock sets the clock function for testability.
func WithPublisherClock(clock func() time.Time) PublisherOption {
	return func(p *Publisher) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// NewPublisher constructs a publisher writing to store.
func NewPublisher(store Store, logger *slog.Logger, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		store:  store,
		logger: logger,
		clock:  time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}

	if p.buffer != nil {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Emit records an event. Timestamp, category and caller metadata are filled
// in from the context when absent. In async mode a full buffer drops the
// event rather than stall the request path.
func (p *Publisher) Emit(ctx context.Context, event Event) error {
	p.enrich(ctx, &event)

	if p.buffer == nil {
		return p.deliver(context.WithoutCancel(ctx), event)
	}

	select {
	case p.buffer <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		p.logger.Warn("audit event dropped", "action", event.Action, "subject", event.Subject)
		return ErrBufferFull
	}
}

// List returns the events recorded for a subject.
func (p *Publisher) List(ctx context.Context, subject string) ([]Event, error) {
	return p.store.ListBySubject(ctx, subject)
}

// Close drains the async buffer and closes all sinks.
func (p *Publisher) Close() {
	p.closeOnce.Do(func() {
		if p.buffer != nil {
			close(p.buffer)
			p.wg.Wait()
		}
		for _, sink := range p.sinks {
			if err := sink.Close(); err != nil {
				p.logger.Warn("audit sink close failed", "error", err)
			}
		}
	})
}

func (p *Publisher) enrich(ctx context.Context, event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = p.clock()
	}
	if event.Category == "" {
		event.Category = CategoryOf(event.Action)
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	if event.ClientIP == "" {
		event.ClientIP = requestcontext.ClientIP(ctx)
	}
	if event.Browser == "" {
		if raw := requestcontext.UserAgent(ctx); raw != "" {
			ua := useragent.New(raw)
			name, version := ua.Browser()
			event.Browser = name + " " + version
			event.OS = ua.OS()
		}
	}
}

func (p *Publisher) deliver(ctx context.Context, event Event) error {
	if err := p.store.Append(ctx, event); err != nil {
		p.logger.Error("audit store append failed", "action", event.Action, "error", err)
		return err
	}
	for _, sink := range p.sinks {
		if err := sink.Publish(ctx, event); err != nil {
			p.logger.Warn("audit sink publish failed", "action", event.Action, "error", err)
		}
	}
	return nil
}

func (p *Publisher) worker() {
	defer p.wg.Done()
	for event := range p.buffer {
		_ = p.deliver(context.Background(), event)
	}
}
