package testfixtures

import (
	"io"
	"log/slog"
	"time"

	"github.com/example/activities-management/internal/application"
	"github.com/example/activities-management/internal/appointment"
	"github.com/example/activities-management/internal/recurrence"
)

// ServiceFactory assists tests with constructing application services using
// deterministic identifiers, clocks and a recording notifier.
type ServiceFactory struct {
	Clock       *Clock
	IDGenerator *IDGenerator
	Notifier    *RecordingNotifier
	Location    *time.Location
	Logger      *slog.Logger
}

// ServiceFactoryOption configures a ServiceFactory instance.
type ServiceFactoryOption func(*ServiceFactory)

// NewServiceFactory constructs a ServiceFactory with defaults. Logs are
// discarded unless WithLogger is supplied.
func NewServiceFactory(opts ...ServiceFactoryOption) *ServiceFactory {
	factory := &ServiceFactory{}
	for _, opt := range opts {
		opt(factory)
	}
	if factory.Clock == nil {
		factory.Clock = NewClock(time.Time{})
	}
	if factory.IDGenerator == nil {
		factory.IDGenerator = NewIDGenerator("id")
	}
	if factory.Notifier == nil {
		factory.Notifier = &RecordingNotifier{}
	}
	if factory.Location == nil {
		factory.Location = time.UTC
	}
	if factory.Logger == nil {
		factory.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return factory
}

// WithClock overrides the clock used by the factory.
func WithClock(clock *Clock) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Clock = clock
	}
}

// WithIDGenerator overrides the identifier generator used by the factory.
func WithIDGenerator(generator *IDGenerator) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.IDGenerator = generator
	}
}

// WithLocation sets the facility time zone.
func WithLocation(loc *time.Location) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Location = loc
	}
}

// WithLogger overrides the discard logger.
func WithLogger(logger *slog.Logger) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Logger = logger
	}
}

// AppointmentStore is the persistence needed by appointment services.
type AppointmentStore interface {
	application.SeriesRepository
	application.OccurrenceRepository
}

func (f *ServiceFactory) options(extra []application.ServiceOption) []application.ServiceOption {
	opts := []application.ServiceOption{application.WithLogger(f.Logger), application.WithNotifier(f.Notifier)}
	return append(opts, extra...)
}

// NewAppointmentService builds an appointment service over store.
func (f *ServiceFactory) NewAppointmentService(store AppointmentStore, opts ...application.ServiceOption) *application.AppointmentService {
	return application.NewAppointmentService(
		store,
		store,
		recurrence.NewPlanner(recurrence.DefaultMaxOccurrences),
		appointment.NewResolver(f.Location),
		appointment.NewReasonCatalog(),
		f.IDGenerator.NextFunc(),
		f.Clock.NowFunc(),
		f.options(opts)...,
	)
}

// NewAllocationService builds an allocation service over allocations.
func (f *ServiceFactory) NewAllocationService(allocations application.AllocationRepository, opts ...application.ServiceOption) *application.AllocationService {
	return application.NewAllocationService(allocations, f.Location, f.IDGenerator.NextFunc(), f.Clock.NowFunc(), f.options(opts)...)
}

// NewAllocationReconciler builds the movement event reconciler.
func (f *ServiceFactory) NewAllocationReconciler(allocations application.AllocationRepository, opts ...application.ServiceOption) *application.AllocationReconciler {
	return application.NewAllocationReconciler(allocations, f.Location, f.Clock.NowFunc(), f.options(opts)...)
}

// NewAttendeeReleaseHandler builds the handler that removes released people
// from future appointments.
func (f *ServiceFactory) NewAttendeeReleaseHandler(occurrences application.OccurrenceRepository, opts ...application.ServiceOption) *application.AttendeeReleaseHandler {
	return application.NewAttendeeReleaseHandler(occurrences, appointment.NewResolver(f.Location), f.Clock.NowFunc(), f.options(opts)...)
}
