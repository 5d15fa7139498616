package application

import "log/slog"

// ServiceOption configures optional collaborators shared by the services.
type ServiceOption func(*serviceOptions)

type serviceOptions struct {
	logger   *slog.Logger
	notifier Notifier
	metrics  Metrics
}

// WithLogger sets the base logger. A logger carried in the request context
// takes precedence.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(o *serviceOptions) {
		o.logger = logger
	}
}

// WithNotifier sets the outbound notifier.
func WithNotifier(notifier Notifier) ServiceOption {
	return func(o *serviceOptions) {
		o.notifier = notifier
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(metrics Metrics) ServiceOption {
	return func(o *serviceOptions) {
		o.metrics = metrics
	}
}

func buildOptions(opts []ServiceOption) serviceOptions {
	var o serviceOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	o.logger = defaultLogger(o.logger)
	if o.notifier == nil {
		o.notifier = noopNotifier{}
	}
	if o.metrics == nil {
		o.metrics = noopMetrics{}
	}
	return o
}
