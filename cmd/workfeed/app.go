package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/sync/errgroup"

	"workfeed/internal/api"
	"workfeed/internal/broker"
	"workfeed/internal/config"
	"workfeed/internal/constants"
	"workfeed/internal/deduplication"
	"workfeed/internal/ingest"
	"workfeed/internal/logger"
	"workfeed/internal/notify"
	"workfeed/internal/reconciler"
	"workfeed/internal/transport"
	"workfeed/pkg/bootstrap"
	"workfeed/pkg/health"
	"workfeed/pkg/metrics"
	"workfeed/pkg/tracing"
)

type App struct {
	*bootstrap.Base
	store          *reconciler.Reconciler
	ingestor       *ingest.Ingestor
	queue          *notify.Async
	brokerSink     *notify.BrokerSink
	transports     []transport.Transport
	health         *health.CheckerRegistry
	server         *http.Server
	tracerProvider *tracing.TracerProvider
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName(constants.ServiceName)
	}
	return &App{
		Base:   bootstrap.NewBase(cfg, log),
		health: health.NewCheckerRegistry(),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	tp, err := tracing.Init(a.Config.Tracing, tracing.ServiceInfo{
		Name:        constants.ServiceName,
		Version:     version,
		Environment: a.Config.Environment,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterIngestMetrics()
	metrics.RegisterTransportMetrics()
	metrics.RegisterNotificationMetrics()
	metrics.RegisterBrokerMetrics()
	metrics.RegisterAPIMetrics()
	if a.Config.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
	}

	if err := a.InitRedis(ctx); err != nil {
		return fmt.Errorf("failed to initialize redis: %w", err)
	}
	if err := a.InitBroker(); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	store, err := reconciler.New(a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create reconciler: %w", err)
	}
	a.store = store

	a.initNotifications()
	a.ingestor = ingest.New(a.store, a.queue, a.Logger)

	if err := a.initTransports(ctx); err != nil {
		return fmt.Errorf("failed to initialize transports: %w", err)
	}

	a.initHealth()
	a.initHTTPServer(ctx)
	return nil
}

func (a *App) initNotifications() {
	sinks := []notify.Sink{notify.NewLogSink(a.Logger)}

	topic := a.Config.Broker.Kafka.NotificationTopic
	if a.Producer != nil && topic != "" {
		var repo deduplication.Repository = deduplication.NewMemoryRepository()
		if a.Redis != nil {
			repo = deduplication.NewRepository(a.Redis)
		}
		repo = deduplication.NewCircuitBreakerRepository(repo, a.Config.CircuitBreaker)
		guard := deduplication.NewGuard(repo, a.Config.Notifications.Guard, a.Logger)

		a.brokerSink = notify.NewBrokerSink(a.Producer, topic, guard, broker.RetryPolicy(a.Config.Broker.Kafka.Retry), a.Logger)
		sinks = append(sinks, a.brokerSink)
	}

	a.queue = notify.NewAsync(notify.NewMultiSink(sinks...), a.Config.Notifications.QueueSize, a.Logger)
}

func (a *App) initTransports(ctx context.Context) error {
	rt := a.Config.Realtime
	endpoints := rt.Endpoints(a.Config.Environment)
	handler := a.ingestor.HandleEnvelope
	onError := a.ingestor.TransportError

	socketURL := endpoints.SocketURL
	if socketURL == "" && endpoints.APIBaseURL != "" {
		derived, err := transport.DeriveSocketURL(endpoints.APIBaseURL, constants.SocketPath)
		if err != nil {
			return err
		}
		socketURL = derived
	}
	if socketURL != "" {
		cfg := transport.DefaultSocketConfig(socketURL)
		cfg.Token = rt.Token
		if rt.ReconnectInterval > 0 {
			cfg.InitialInterval = rt.ReconnectInterval
		}
		if rt.MaxReconnectInterval > 0 {
			cfg.MaxInterval = rt.MaxReconnectInterval
		}
		if rt.MaxReconnectAttempts > 0 {
			cfg.MaxAttempts = rt.MaxReconnectAttempts
		}
		a.transports = append(a.transports, transport.NewSocket(cfg, handler, onError, a.Logger, transport.RealScheduler()))
	}

	if endpoints.SSEURL != "" {
		cfg := transport.DefaultSSEConfig(endpoints.SSEURL)
		cfg.Client = tracing.HTTPClient(0)
		if rt.SSEReconnectInterval > 0 {
			cfg.InitialInterval = rt.SSEReconnectInterval
		}
		if rt.MaxReconnectAttempts > 0 {
			cfg.MaxAttempts = rt.MaxReconnectAttempts
		}
		a.transports = append(a.transports, transport.NewSSE(cfg, handler, onError, a.Logger, transport.RealScheduler()))
	}

	if endpoints.PollURL != "" {
		a.transports = append(a.transports, transport.NewPoller(transport.PollerConfig{
			URL:      endpoints.PollURL,
			Interval: rt.PollInterval,
			Filters: transport.PollFilters{
				Search:     rt.Filters.Search,
				Priority:   rt.Filters.Priority,
				Status:     rt.Filters.Status,
				AssignedTo: rt.Filters.AssignedTo,
				Industry:   rt.Filters.Industry,
			},
			Client: tracing.HTTPClient(constants.DefaultHTTPTimeout),
		}, handler, onError, a.Logger))
	}

	if rt.IdentityPoll.Enabled && endpoints.APIBaseURL != "" {
		a.transports = append(a.transports, transport.NewIdentityPoller(transport.IdentityPollerConfig{
			BaseURL:  endpoints.APIBaseURL,
			Limit:    rt.IdentityPoll.Limit,
			Interval: rt.IdentityPoll.Interval,
			Client:   tracing.HTTPClient(constants.DefaultHTTPTimeout),
		}, a.ingestor.Seed, a.ingestor.Merge, onError, a.Logger))
	}

	if a.Consumer != nil {
		a.transports = append(a.transports, transport.NewBrokerAdapter(
			a.Consumer, a.Config.Broker.Kafka.InputTopic, a.ingestor.Ingest, onError, a.Logger))
	}

	if len(a.transports) == 0 {
		a.Logger.WarnwCtx(ctx, "No transports configured; the feed will stay empty")
	}
	return nil
}

func (a *App) initHealth() {
	if a.Redis != nil {
		a.health.Register(health.NewRedisChecker(a.Redis))
	}
	if a.Config.Broker.Kafka.Enabled() {
		a.health.Register(health.NewKafkaChecker(a.Config.Broker.Kafka.Brokers))
	}
	for _, t := range a.transports {
		a.health.Register(health.NewTransportChecker(t.Name(), func() (bool, bool, string) {
			s := t.Status()
			return s.Enabled, s.Connected, s.Error
		}))
	}
}

func (a *App) initHTTPServer(ctx context.Context) {
	sources := make([]api.StatusSource, 0, len(a.transports))
	for _, t := range a.transports {
		sources = append(sources, t)
	}
	handler := api.NewHandler(a.store, sources, a.health, a.Logger)

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      api.NewRouter(ctx, a.Config, handler, a.Logger),
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
	}
	a.server.RegisterOnShutdown(handler.CloseStreams)
}

// Run connects the transports (when auto-connect is on) and serves the API
// until ctx is canceled.
func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfowCtx(ctx, "HTTP server starting", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	if a.Config.Realtime.AutoConnect {
		for _, t := range a.transports {
			a.Logger.InfowCtx(ctx, "Connecting transport", "transport", t.Name())
			t.Connect(gCtx)
		}
	}

	g.Go(func() error {
		<-gCtx.Done()
		a.disconnectTransports()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown error: %w", err)
		}
		return gCtx.Err()
	})

	return g.Wait()
}

func (a *App) disconnectTransports() {
	for _, t := range a.transports {
		t.Disconnect()
	}
}

func (a *App) Shutdown(ctx context.Context) error {
	additionalShutdown := func(ctx context.Context) []error {
		var errs []error

		a.disconnectTransports()

		if a.server != nil {
			if err := a.server.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("HTTP server shutdown error: %w", err))
			}
		}

		if a.queue != nil {
			if err := a.queue.Close(ctx); err != nil {
				errs = append(errs, fmt.Errorf("notification queue close error: %w", err))
			}
		}
		if a.brokerSink != nil {
			a.brokerSink.Wait()
		}

		if a.tracerProvider != nil {
			if err := a.tracerProvider.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
			}
		}

		return errs
	}

	return a.Base.Shutdown(ctx, additionalShutdown)
}
