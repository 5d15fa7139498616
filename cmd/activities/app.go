package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/example/activities-management/internal/application"
	"github.com/example/activities-management/internal/appointment"
	"github.com/example/activities-management/internal/awsclient"
	"github.com/example/activities-management/internal/config"
	"github.com/example/activities-management/internal/events"
	httptransport "github.com/example/activities-management/internal/http"
	"github.com/example/activities-management/internal/jobs"
	"github.com/example/activities-management/internal/metrics"
	"github.com/example/activities-management/internal/notify"
	"github.com/example/activities-management/internal/persistence/memory"
	"github.com/example/activities-management/internal/persistence/migration"
	"github.com/example/activities-management/internal/persistence/sqlstore"
	"github.com/example/activities-management/internal/queue"
	"github.com/example/activities-management/internal/recurrence"
)

const shutdownTimeout = 10 * time.Second

type store interface {
	application.SeriesRepository
	application.OccurrenceRepository
	application.AllocationRepository
	Ping(ctx context.Context) error
	Close() error
}

// app holds the wired service graph. Closing it flushes pending
// notifications and releases the store.
type app struct {
	cfg         config.Config
	logger      *slog.Logger
	store       store
	dispatcher  *notify.Dispatcher
	allocations *application.AllocationService
	eventRouter *events.Router
	consumer    *queue.Consumer
	scheduler   *jobs.Scheduler
	handler     http.Handler
	closed      bool
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	st, err := openStore(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, store: st}
	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger
	recorder := metrics.New()
	loc := cfg.Location()
	now := time.Now
	ids := uuid.NewString

	var clients awsclient.Clients
	if cfg.Inbound.QueueURL != "" || cfg.Outbound.TopicARN != "" {
		var err error
		clients, err = awsclient.New(ctx, awsclient.Config{Region: cfg.AWS.Region, Endpoint: cfg.AWS.Endpoint})
		if err != nil {
			return err
		}
	}

	var publisher notify.Publisher = notify.NewLogPublisher(logger)
	if cfg.Outbound.TopicARN != "" {
		publisher = notify.NewSNSPublisher(clients.SNS, cfg.Outbound.TopicARN)
	} else {
		logger.Warn("no outbound topic configured, domain events are only logged")
	}
	a.dispatcher = notify.NewDispatcher(publisher,
		notify.WithRetry(cfg.Outbound.Retry),
		notify.WithQueueSize(cfg.Outbound.QueueSize),
		notify.WithDispatcherLogger(logger),
		notify.WithObserver(recorder),
	)
	a.dispatcher.Start()

	opts := []application.ServiceOption{
		application.WithLogger(logger),
		application.WithNotifier(a.dispatcher),
		application.WithMetrics(recorder),
	}
	resolver := appointment.NewResolver(loc)
	appointments := application.NewAppointmentService(a.store, a.store,
		recurrence.NewPlanner(recurrence.DefaultMaxOccurrences),
		resolver,
		appointment.NewReasonCatalog(cfg.CancellationReasons...),
		ids, now, opts...)
	a.allocations = application.NewAllocationService(a.store, loc, ids, now, opts...)
	reconciler := application.NewAllocationReconciler(a.store, loc, now, opts...)
	attendees := application.NewAttendeeReleaseHandler(a.store, resolver, now, opts...)

	a.eventRouter = events.NewRouter(cfg.EventTypes(), events.WithLogger(logger), events.WithObserver(recorder))
	a.eventRouter.Register(events.TypePersonReleasedTemporary, reconciler)
	a.eventRouter.Register(events.TypePersonReturned, reconciler)
	a.eventRouter.Register(events.TypePersonReleasedPermanent, reconciler, attendees)

	if cfg.Inbound.QueueURL != "" {
		a.consumer = queue.NewConsumer(clients.SQS, cfg.Inbound.QueueURL, a.eventRouter,
			queue.WithConcurrency(cfg.Inbound.Concurrency),
			queue.WithWaitTime(cfg.Inbound.WaitTime),
			queue.WithLogger(logger),
		)
	} else {
		logger.Warn("no inbound queue configured, movement events will not be consumed")
	}

	scheduler, err := jobs.NewScheduler(a.allocations, cfg.PlannedChangesCron, loc, logger)
	if err != nil {
		return err
	}
	a.scheduler = scheduler

	keys := make([]application.APIClientKey, 0, len(cfg.APIClients))
	for _, client := range cfg.APIClients {
		keys = append(keys, application.APIClientKey{Name: client.Name, KeyHash: client.KeyHash})
	}
	auth := application.NewAuthService(keys, application.VerifyAPIKey, logger)

	a.handler = httptransport.NewRouter(httptransport.RouterConfig{
		Appointments: httptransport.NewAppointmentHandler(appointments, logger),
		Allocations:  httptransport.NewAllocationHandler(a.allocations, logger),
		Authenticate: httptransport.RequireAPIKey(auth, logger),
		Metrics:      recorder.Handler(),
		Health:       a.store.Ping,
		Logger:       logger,
		Middleware:   []func(http.Handler) http.Handler{httptransport.RequestLogger(logger)},
	})
	return nil
}

// Run serves HTTP, consumes the inbound queue and runs the planned change
// job until ctx is cancelled or one of them fails.
func (a *app) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.HTTPPort),
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.scheduler.Start()
	a.logger.Info("planned change job scheduled", "next_run", a.scheduler.Next())

	g, gctx := errgroup.WithContext(ctx)
	if a.consumer != nil {
		g.Go(func() error {
			return a.consumer.Run(gctx)
		})
	}
	g.Go(func() error {
		a.logger.Info("activities API listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("failed to shutdown server", "error", err)
		}
		return nil
	})

	err := g.Wait()
	a.logger.Info("shutting down")
	return err
}

// Close stops the job scheduler, drains notifications and closes the store.
// It is safe to call more than once.
func (a *app) Close() {
	if a.closed {
		return
	}
	a.closed = true

	if a.scheduler != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := a.scheduler.Stop(ctx); err != nil {
			a.logger.Warn("planned change job did not stop in time", "error", err)
		}
		cancel()
	}
	if a.dispatcher != nil {
		a.dispatcher.Close()
	}
	if err := a.store.Close(); err != nil {
		a.logger.Error("failed to close storage", "error", err)
	}
}

func openStore(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (store, error) {
	var (
		dialect migration.Dialect
		dsn     string
	)
	switch cfg.Driver {
	case config.DriverMemory:
		logger.Warn("using in-memory storage, data is lost on restart")
		return memory.New(), nil
	case config.DriverSQLite:
		dialect, dsn = migration.DialectSQLite, cfg.SQLitePath
	case config.DriverPostgres:
		dialect, dsn = migration.DialectPostgres, cfg.PostgresDSN
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}

	st, err := sqlstore.Open(ctx, dialect, dsn, logger)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	applied, err := st.Migrate(ctx)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	logger.Info("storage ready", "driver", cfg.Driver, "migrations_applied", applied)
	return st, nil
}
