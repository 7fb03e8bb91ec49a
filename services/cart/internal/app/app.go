package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/utafrali/EcommerceGo/pkg/database"
	"github.com/utafrali/EcommerceGo/pkg/health"
	"github.com/utafrali/EcommerceGo/pkg/httpclient"
	pkgkafka "github.com/utafrali/EcommerceGo/pkg/kafka"
	"github.com/utafrali/EcommerceGo/pkg/tracing"
	"github.com/utafrali/EcommerceGo/services/cart/internal/authority"
	"github.com/utafrali/EcommerceGo/services/cart/internal/catalog"
	"github.com/utafrali/EcommerceGo/services/cart/internal/config"
	"github.com/utafrali/EcommerceGo/services/cart/internal/event"
	handler "github.com/utafrali/EcommerceGo/services/cart/internal/handler/http"
	"github.com/utafrali/EcommerceGo/services/cart/internal/persistence"
	"github.com/utafrali/EcommerceGo/services/cart/internal/reconcile"
	"github.com/utafrali/EcommerceGo/services/cart/internal/service"
)

// processedEventTTL bounds how long consumed event ids are remembered.
const processedEventTTL = time.Hour

// App wires together all dependencies and runs the cart service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	rdb            *redis.Client
	producer       *pkgkafka.Producer
	consumer       *pkgkafka.Consumer
	sessions       *service.SessionManager
	httpServer     *http.Server
	tracerShutdown func(context.Context) error

	shutdownOnce sync.Once
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize tracing. A disabled tracer returns a no-op shutdown.
	tcfg := tracing.DefaultConfig("cart-service")
	tcfg.Environment = cfg.Environment
	tcfg.OTLPEndpoint = cfg.OTELEndpoint
	tcfg.SampleRate = cfg.OTELSampleRate
	tcfg.Enabled = cfg.OTELEnabled
	tracerShutdown, err := tracing.InitTracer(ctx, tcfg)
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	// Initialize Redis client.
	rcfg := database.DefaultRedisConfig()
	rcfg.Addr = cfg.RedisAddr
	rcfg.Password = cfg.RedisPass
	rcfg.DB = cfg.RedisDB
	rcfg.PoolSize = cfg.RedisPoolSize
	rdb, err := database.NewRedisClient(ctx, rcfg)
	if err != nil {
		_ = tracerShutdown(context.Background())
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	if err := database.RegisterPoolMetrics(rdb, "cart"); err != nil {
		logger.Warn("redis pool metrics not registered", slog.String("error", err.Error()))
	}
	if cfg.SlowCommandThresholdMs > 0 {
		database.SetSlowCommandLogging(time.Duration(cfg.SlowCommandThresholdMs)*time.Millisecond, logger)
	}
	logger.Info("connected to Redis",
		slog.String("addr", cfg.RedisAddr),
		slog.Int("db", cfg.RedisDB),
	)

	// Initialize Kafka producer.
	producer := pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
	logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))

	// Build the dependency graph.
	deps := service.Dependencies{
		Cache:  persistence.NewRedisCache(rdb, cfg.SnapshotTTL()),
		Events: event.NewProducer(producer, logger),
	}

	if cfg.AuthorityURL != "" {
		doer := httpclient.NewCircuitBreakerClient(
			httpclient.New(httpclient.SingleAttemptConfig(cfg.RemoteTimeout())),
			httpclient.DefaultCircuitBreakerConfig("cart-authority"),
			logger,
		)
		client := authority.New(doer, cfg.AuthorityURL, logger)
		deps.Authority = func(userID string) reconcile.Authority {
			return client.ForUser(userID)
		}
	} else {
		logger.Warn("CART_AUTHORITY_URL is empty, signed-in carts are disabled")
	}

	if cfg.CatalogURL != "" {
		ccfg := httpclient.DefaultConfig()
		ccfg.Timeout = cfg.CatalogTimeout()
		doer := httpclient.NewCircuitBreakerClient(
			httpclient.New(ccfg),
			httpclient.DefaultCircuitBreakerConfig("catalog"),
			logger,
		)
		deps.Catalog = catalog.New(doer, cfg.CatalogURL, logger)
	}

	sessions := service.NewSessionManager(deps, cfg.SessionIdle(), logger)

	// Every instance consumes all cart events, so each gets its own group.
	groupID := fmt.Sprintf("%s-%s", cfg.KafkaConsumerGroup, uuid.NewString())
	consumer := pkgkafka.NewConsumer(pkgkafka.ConsumerConfig{
		Brokers:  cfg.KafkaBrokers,
		GroupID:  groupID,
		Topics:   []string{event.TopicCartUpdated, event.TopicCartCleared},
		MinBytes: 1,
		MaxBytes: 10e6,
	}, pkgkafka.IdempotentHandler(
		pkgkafka.NewMemoryIdempotencyStore(processedEventTTL),
		event.NewDivergenceHandler(sessions, logger),
		logger,
	), logger)

	// Health checks.
	healthHandler := health.NewHandler()
	healthHandler.Register("redis", func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})
	healthHandler.RegisterOptional("kafka", producer.Ping)

	// HTTP router.
	router := handler.NewRouter(sessions, healthHandler, logger, handler.RouterOptions{
		PprofCIDRs:     cfg.PprofAllowedCIDRs,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &App{
		cfg:            cfg,
		logger:         logger,
		rdb:            rdb,
		producer:       producer,
		consumer:       consumer,
		sessions:       sessions,
		httpServer:     httpServer,
		tracerShutdown: tracerShutdown,
	}, nil
}

// Run starts the HTTP server, the event consumer and the session reaper, and
// blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	bgCtx, stopBackground := context.WithCancel(ctx)
	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		a.sessions.RunReaper(bgCtx, a.cfg.ReapInterval())
	}()
	go func() {
		defer wg.Done()
		if err := a.consumer.Start(bgCtx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("kafka consumer stopped", slog.String("error", err.Error()))
		}
	}()

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case runErr = <-errCh:
	}

	stopBackground()
	wg.Wait()

	if err := a.Shutdown(); err != nil {
		return errors.Join(runErr, err)
	}
	return runErr
}

// Shutdown gracefully stops all components. Calls after the first are no-ops.
func (a *App) Shutdown() error {
	a.shutdownOnce.Do(a.shutdown)
	return nil
}

func (a *App) shutdown() {
	a.logger.Info("shutting down application...")

	// Graceful HTTP server shutdown with a 10-second deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
	}

	if err := a.consumer.Close(); err != nil {
		a.logger.Error("kafka consumer close error", slog.String("error", err.Error()))
	}

	// Flush open sessions before their persistence and event sinks go away.
	a.sessions.Close(shutdownCtx)

	// Close Kafka producer.
	if err := a.producer.Close(); err != nil {
		a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
	}

	// Close Redis client.
	if err := a.rdb.Close(); err != nil {
		a.logger.Error("redis close error", slog.String("error", err.Error()))
	}

	if err := a.tracerShutdown(shutdownCtx); err != nil {
		a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
	}

	a.logger.Info("application shutdown complete")
}
