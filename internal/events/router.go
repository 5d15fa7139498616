package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/example/activities-management/internal/logging"
)

// Disposition records what the router did with a message.
type Disposition string

const (
	DispositionHandled      Disposition = "handled"
	DispositionFailed       Disposition = "failed"
	DispositionMalformed    Disposition = "malformed"
	DispositionUnrecognized Disposition = "unrecognized"
	DispositionDisabled     Disposition = "disabled"
	DispositionUnhandled    Disposition = "unhandled"
)

// Handler reacts to a classified event. A returned error is treated as
// transient and causes the message to be redelivered.
type Handler interface {
	HandleEvent(ctx context.Context, event Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, event Event) error

// HandleEvent implements Handler.
func (f HandlerFunc) HandleEvent(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Observer receives one callback per routed message.
type Observer interface {
	ObserveInboundEvent(eventType string, disposition string)
}

// Router classifies raw messages and dispatches them to registered handlers.
type Router struct {
	enabled  map[Type]struct{}
	handlers map[Type][]Handler
	logger   *slog.Logger
	observer Observer
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the fallback logger used when the context carries none.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) {
		r.logger = logger
	}
}

// WithObserver registers an observer for routing outcomes.
func WithObserver(observer Observer) Option {
	return func(r *Router) {
		r.observer = observer
	}
}

// NewRouter constructs a Router that processes only the enabled types.
func NewRouter(enabled []Type, opts ...Option) *Router {
	r := &Router{
		enabled:  make(map[Type]struct{}, len(enabled)),
		handlers: make(map[Type][]Handler),
	}
	for _, t := range enabled {
		r.enabled[t] = struct{}{}
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Register adds handlers for t. Handlers run in registration order.
func (r *Router) Register(t Type, handlers ...Handler) {
	r.handlers[t] = append(r.handlers[t], handlers...)
}

// Enabled reports whether t is processed.
func (r *Router) Enabled(t Type) bool {
	_, ok := r.enabled[t]
	return ok
}

// HandleMessage routes body and returns only the errors that warrant redelivery.
func (r *Router) HandleMessage(ctx context.Context, body []byte) error {
	_, err := r.Route(ctx, body)
	return err
}

// Route decodes, classifies and dispatches one message. Malformed,
// unrecognized and disabled messages are logged and dropped without error.
func (r *Router) Route(ctx context.Context, body []byte) (Disposition, error) {
	logger := r.loggerFor(ctx)

	envelope, err := Decode(body)
	if err != nil {
		logger.WarnContext(ctx, "dropping malformed event", "error", err)
		r.observe("", DispositionMalformed)
		return DispositionMalformed, nil
	}

	event, err := Classify(envelope)
	if err != nil {
		disposition, label := DispositionMalformed, envelope.Type
		if errors.Is(err, ErrUnrecognizedType) {
			// Unbounded type names stay out of metric labels.
			disposition, label = DispositionUnrecognized, "other"
		}
		logger.InfoContext(ctx, "dropping event", "event_type", envelope.Type, "disposition", string(disposition), "error", err)
		r.observe(label, disposition)
		return disposition, nil
	}

	return r.Dispatch(ctx, event)
}

// Dispatch hands a classified event to every handler registered for its type.
// All handlers run; their errors are joined.
func (r *Router) Dispatch(ctx context.Context, event Event) (Disposition, error) {
	eventType := event.Type()
	logger := r.loggerFor(ctx).With("event_type", string(eventType), "person_id", event.PersonID, "facility_code", event.FacilityCode)

	if !r.Enabled(eventType) {
		logger.InfoContext(ctx, "dropping disabled event type")
		r.observe(string(eventType), DispositionDisabled)
		return DispositionDisabled, nil
	}

	handlers := r.handlers[eventType]
	if len(handlers) == 0 {
		logger.WarnContext(ctx, "no handler registered for event type")
		r.observe(string(eventType), DispositionUnhandled)
		return DispositionUnhandled, nil
	}

	ctx = logging.ContextWithLogger(ctx, logger)
	var errs []error
	for _, handler := range handlers {
		if err := handler.HandleEvent(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		err := errors.Join(errs...)
		logger.ErrorContext(ctx, "event handling failed", "error", err)
		r.observe(string(eventType), DispositionFailed)
		return DispositionFailed, fmt.Errorf("handle %s: %w", eventType, err)
	}

	logger.InfoContext(ctx, "event handled")
	r.observe(string(eventType), DispositionHandled)
	return DispositionHandled, nil
}

func (r *Router) loggerFor(ctx context.Context) *slog.Logger {
	return logging.Resolve(ctx, r.logger)
}

func (r *Router) observe(eventType string, disposition Disposition) {
	if r.observer == nil {
		return
	}
	if eventType == "" {
		eventType = "unknown"
	}
	r.observer.ObserveInboundEvent(eventType, string(disposition))
}
