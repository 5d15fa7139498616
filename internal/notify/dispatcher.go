package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultQueueSize bounds the number of events waiting to be published.
const DefaultQueueSize = 1024

// Observer receives one callback per publish outcome.
type Observer interface {
	ObserveNotification(eventType string, result string)
}

// Dispatcher publishes events asynchronously. Notify never blocks on the
// publisher and never returns an error to the caller.
type Dispatcher struct {
	publisher      Publisher
	retry          RetryConfig
	publishTimeout time.Duration
	logger         *slog.Logger
	observer       Observer

	mu     sync.Mutex
	queue  chan Event
	closed bool
	wg     sync.WaitGroup
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithRetry overrides the retry policy.
func WithRetry(config RetryConfig) DispatcherOption {
	return func(d *Dispatcher) {
		d.retry = config
	}
}

// WithQueueSize overrides the queue capacity.
func WithQueueSize(size int) DispatcherOption {
	return func(d *Dispatcher) {
		if size > 0 {
			d.queue = make(chan Event, size)
		}
	}
}

// WithPublishTimeout bounds each publish attempt.
func WithPublishTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.publishTimeout = timeout
		}
	}
}

// WithDispatcherLogger sets the logger for publish failures.
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithObserver registers an observer for publish outcomes.
func WithObserver(observer Observer) DispatcherOption {
	return func(d *Dispatcher) {
		d.observer = observer
	}
}

// NewDispatcher constructs a Dispatcher around publisher. Call Start before
// Notify and Close on shutdown.
func NewDispatcher(publisher Publisher, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		publisher:      publisher,
		retry:          DefaultRetryConfig(),
		publishTimeout: 10 * time.Second,
		queue:          make(chan Event, DefaultQueueSize),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	return d
}

// Start launches the publishing worker.
func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for event := range d.queue {
			d.publish(event)
		}
	}()
}

// Notify enqueues events in order. Events are dropped, and logged, when the
// queue is full or the dispatcher is closed.
func (d *Dispatcher) Notify(ctx context.Context, events ...Event) {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, event := range events {
		if d.closed {
			d.drop(ctx, event, "dispatcher closed")
			continue
		}
		select {
		case d.queue <- event:
		default:
			d.drop(ctx, event, "queue full")
		}
	}
}

// Close stops accepting events and waits for queued ones to be published.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) publish(event Event) {
	retry := d.retry.normalized()
	ctx, cancel := context.WithTimeout(context.Background(), retry.budget(d.publishTimeout))
	defer cancel()

	err := withRetry(ctx, retry, func() error {
		attemptCtx, attemptCancel := context.WithTimeout(ctx, d.publishTimeout)
		defer attemptCancel()
		return d.publisher.Publish(attemptCtx, event)
	})
	if err != nil {
		d.logger.Error("domain event not published", "event_type", string(event.Type), "entity_id", event.EntityID, "error", err)
		d.observe(event, "failed")
		return
	}
	d.observe(event, "published")
}

func (d *Dispatcher) drop(ctx context.Context, event Event, reason string) {
	d.logger.WarnContext(ctx, "domain event dropped", "event_type", string(event.Type), "entity_id", event.EntityID, "reason", reason)
	d.observe(event, "dropped")
}

func (d *Dispatcher) observe(event Event, result string) {
	if d.observer != nil {
		d.observer.ObserveNotification(string(event.Type), result)
	}
}
