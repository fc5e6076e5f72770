package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	sentryslog "github.com/getsentry/sentry-go/slog"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gitshopapp/checkout/internal/cache"
	"github.com/gitshopapp/checkout/internal/config"
	"github.com/gitshopapp/checkout/internal/db"
	"github.com/gitshopapp/checkout/internal/email"
	"github.com/gitshopapp/checkout/internal/handlers"
	"github.com/gitshopapp/checkout/internal/logging"
	"github.com/gitshopapp/checkout/internal/metrics"
	"github.com/gitshopapp/checkout/internal/notify"
	"github.com/gitshopapp/checkout/internal/services"
	"github.com/gitshopapp/checkout/internal/session"
	"github.com/gitshopapp/checkout/internal/store"
	"github.com/gitshopapp/checkout/internal/wompi"
)

type App struct {
	Config         *config.Config
	Logger         *slog.Logger
	Store          store.Store
	CacheProvider  cache.Provider
	SessionManager *session.Manager
	Payments       *services.PaymentService
	Reconciler     *services.ReconcileService
	Handlers       *handlers.Handlers

	dispatcher *notify.Dispatcher
	closers    []func() error
	cancel     context.CancelFunc
	background sync.WaitGroup
}

func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Environment:      cfg.AppEnv,
			EnableTracing:    true,
			TracesSampleRate: 0.2,
		}); err != nil {
			return nil, fmt.Errorf("failed to initialize sentry: %w", err)
		}
	}

	logger := newLogger(cfg)
	a := &App{Config: cfg, Logger: logger}

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()

	if err := a.init(startupCtx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg, logger := a.Config, a.Logger

	st, err := newStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	a.Store = st
	a.closers = append(a.closers, func() error { st.Close(); return nil })

	cacheProvider, err := cache.NewProvider(ctx, cache.Config{
		Provider:              cfg.CacheProvider,
		RedisConnectionString: cfg.RedisConnectionString,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize cache provider: %w", err)
	}
	a.CacheProvider = cacheProvider
	a.closers = append(a.closers, cacheProvider.Close)

	sessionStore, err := session.NewStore(ctx, session.Config{
		Provider:              cfg.SessionStoreProvider,
		RedisConnectionString: cfg.RedisConnectionString,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize session store: %w", err)
	}
	a.SessionManager = session.NewManager(sessionStore, cfg.SecureCookies())
	a.closers = append(a.closers, a.SessionManager.Close)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	paymentMetrics := metrics.NewPayments(registry)
	metricsHandler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})

	baseURL := cfg.WompiAPIBaseURL
	if baseURL == "" {
		baseURL = wompi.BaseURLFor(cfg.WompiEnv)
	}
	client, err := wompi.NewClient(wompi.ClientConfig{
		BaseURL:    baseURL,
		PrivateKey: cfg.WompiPrivateKey,
		Timeout:    cfg.WompiTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize wompi client: %w", err)
	}

	verifier, err := wompi.NewVerifier(cfg.WompiEventsSecret, cfg.ProductionGrade())
	if err != nil {
		return fmt.Errorf("failed to initialize webhook verifier: %w", err)
	}
	if verifier.Permissive() {
		logger.Warn("WOMPI_EVENTS_SECRET is not set, webhook signatures will not be verified")
	}

	notifier, err := a.newNotifier(ctx, cfg, logger)
	if err != nil {
		return err
	}

	engine, err := services.NewFulfillmentEngine(st.Orders(), notifier, cfg.LowStockThreshold, paymentMetrics, logger.With("component", "fulfillment"))
	if err != nil {
		return fmt.Errorf("failed to initialize fulfillment engine: %w", err)
	}
	payments, err := services.NewPaymentService(st, services.ConsistencyValidator{Currency: cfg.StoreCurrency}, engine, notifier, paymentMetrics, logger.With("component", "payment_service"))
	if err != nil {
		return fmt.Errorf("failed to initialize payment service: %w", err)
	}
	a.Payments = payments

	reconciler, err := services.NewReconcileService(st, payments, client, cfg.ReconcileConcurrency, paymentMetrics, logger.With("component", "reconcile_service"))
	if err != nil {
		return fmt.Errorf("failed to initialize reconcile service: %w", err)
	}
	a.Reconciler = reconciler

	h, err := handlers.New(handlers.Dependencies{
		Config:         cfg,
		Store:          st,
		CacheProvider:  cacheProvider,
		SessionManager: a.SessionManager,
		Verifier:       verifier,
		Fetcher:        client,
		Payments:       payments,
		Reconciler:     reconciler,
		Metrics:        paymentMetrics,
		MetricsHandler: metricsHandler,
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize handlers: %w", err)
	}
	a.Handlers = h
	return nil
}

// StartBackground launches the reconcile scheduler when RECONCILE_INTERVAL is set.
func (a *App) StartBackground() error {
	if a.Config.ReconcileInterval <= 0 {
		return nil
	}
	scheduler, err := services.NewReconcileScheduler(a.Reconciler, a.Config.ReconcileInterval, a.Config.ReconcileWindow, a.Logger.With("component", "reconcile_scheduler"))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.background.Add(1)
	go func() {
		defer a.background.Done()
		scheduler.Run(ctx)
	}()
	return nil
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
	}
	a.background.Wait()

	if a.dispatcher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := a.dispatcher.Wait(ctx); err != nil {
			a.Logger.Warn("notifications still in flight at shutdown", "error", err)
		}
		cancel()
	}

	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.Warn("failed to close resource", "error", err)
		}
	}
	sentry.Flush(2 * time.Second)
}

func newStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	switch cfg.StoreProvider {
	case "memory":
		logger.Warn("using in-memory store, data is lost on restart")
		return store.NewMemoryStore(), nil
	case "postgres", "":
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(pool); err != nil {
			pool.Close()
			return nil, err
		}
		st, err := db.NewStore(pool)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unsupported store provider: %s", cfg.StoreProvider)
	}
}

// newNotifier composes the configured sinks behind a background dispatcher.
func (a *App) newNotifier(ctx context.Context, cfg *config.Config, logger *slog.Logger) (notify.Notifier, error) {
	sinks := notify.Multi{notify.NewLogNotifier(logger.With("component", "notifier"))}

	provider, err := email.NewProvider(email.Config{
		Provider: cfg.EmailProvider,
		APIKey:   cfg.EmailAPIKey,
		From:     cfg.EmailFrom,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize email provider: %w", err)
	}
	if provider != nil {
		if err := provider.ValidateAPIKey(ctx); err != nil {
			logger.Warn("email provider rejected the configured API key, notifications may fail", "provider", cfg.EmailProvider, "error", err)
		}
		emailNotifier, err := notify.NewEmailNotifier(provider, cfg.StaffEmails, cfg.BaseURL, cfg.StoreCurrency)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize email notifier: %w", err)
		}
		sinks = append(sinks, emailNotifier)
	}

	if len(cfg.KafkaBrokers) > 0 {
		producer, err := notify.NewKafkaProducer(cfg.KafkaBrokers)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize kafka producer: %w", err)
		}
		kafkaNotifier, err := notify.NewKafkaNotifier(producer, cfg.KafkaTopic, logger)
		if err != nil {
			_ = producer.Close()
			return nil, fmt.Errorf("failed to initialize kafka notifier: %w", err)
		}
		a.closers = append(a.closers, kafkaNotifier.Close)
		sinks = append(sinks, kafkaNotifier)
	}

	dispatcher, err := notify.NewDispatcher(sinks, logger, 0)
	if err != nil {
		return nil, err
	}
	a.dispatcher = dispatcher
	return dispatcher, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var console slog.Handler
	switch strings.ToLower(strings.TrimSpace(cfg.LogFormat)) {
	case "json":
		console = slog.NewJSONHandler(os.Stdout, opts)
	default:
		console = tint.NewHandler(os.Stdout, &tint.Options{Level: cfg.LogLevel})
	}

	if cfg.SentryDSN == "" {
		return slog.New(console)
	}
	reporter := sentryslog.Option{
		EventLevel: []slog.Level{slog.LevelError},
		LogLevel:   []slog.Level{},
	}.NewSentryHandler(context.Background())
	return slog.New(logging.MultiHandler(console, reporter))
}
