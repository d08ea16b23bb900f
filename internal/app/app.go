package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/SaleDjerfi/shopit/internal/auth"
	"github.com/SaleDjerfi/shopit/internal/cache"
	"github.com/SaleDjerfi/shopit/internal/config"
	"github.com/SaleDjerfi/shopit/internal/event"
	handler "github.com/SaleDjerfi/shopit/internal/handler/http"
	"github.com/SaleDjerfi/shopit/internal/repository"
	badgerstore "github.com/SaleDjerfi/shopit/internal/repository/badger"
	"github.com/SaleDjerfi/shopit/internal/repository/postgres"
	"github.com/SaleDjerfi/shopit/internal/service"
	"github.com/SaleDjerfi/shopit/migrations"
	"github.com/SaleDjerfi/shopit/pkg/breaker"
	"github.com/SaleDjerfi/shopit/pkg/database"
	"github.com/SaleDjerfi/shopit/pkg/health"
	pkgkafka "github.com/SaleDjerfi/shopit/pkg/kafka"
	"github.com/SaleDjerfi/shopit/pkg/middleware"
	"github.com/SaleDjerfi/shopit/pkg/tracing"
)

// Version is reported to the tracing backend.
const Version = "1.0.0"

// closer releases one dependency during shutdown.
type closer struct {
	name  string
	close func() error
}

// App wires together all dependencies and runs the catalog service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	httpServer     *http.Server
	closers        []closer
	tracerShutdown func(context.Context) error
}

type stores struct {
	products repository.ProductRepository
	reviews  repository.ReviewRepository
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a := &App{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			_ = a.closeAll()
			if a.tracerShutdown != nil {
				_ = a.tracerShutdown(context.Background())
			}
		}
	}()

	// Initialize OpenTelemetry tracing.
	tracerShutdown, err := tracing.InitTracer(ctx, cfg.Tracing(Version))
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	a.tracerShutdown = tracerShutdown

	healthHandler := health.NewHandler()

	st, err := a.openStore(ctx, healthHandler)
	if err != nil {
		return nil, err
	}

	productCache, err := a.openCache(ctx, healthHandler)
	if err != nil {
		return nil, err
	}

	publisher := a.openPublisher(healthHandler)

	// Build the dependency graph.
	productService := service.NewProductService(st.products, productCache, publisher, logger)
	reviewService := service.NewReviewService(st.reviews, productCache, publisher, logger, cfg.ReviewCommentMax)

	gate := auth.NewGate(auth.NewVerifier(cfg.JWTSecret))
	limiter := middleware.NewRateLimiter(cfg.ReviewRateLimitRPS, cfg.ReviewRateLimitBurst, 10*time.Minute)

	routes := handler.Routes(
		handler.NewProductHandler(productService, logger),
		handler.NewReviewHandler(reviewService, logger),
		gate,
		limiter,
	)
	router := handler.NewRouter(routes, healthHandler, logger, handler.RouterConfig{
		ServiceName:       cfg.ServiceName,
		AllowedOrigins:    cfg.CORSAllowedOrigins,
		PublicCacheMaxAge: cfg.PublicCacheMaxAge,
	})

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ok = true
	return a, nil
}

func (a *App) openStore(ctx context.Context, h *health.Handler) (*stores, error) {
	switch a.cfg.StoreDriver {
	case config.DriverBadger:
		db, err := badgerstore.Open(a.cfg.Badger(), a.logger)
		if err != nil {
			return nil, fmt.Errorf("open badger: %w", err)
		}
		a.closers = append(a.closers, closer{"badger", db.Close})
		a.logger.Info("opened badger store",
			slog.String("path", a.cfg.BadgerPath),
			slog.Bool("in_memory", a.cfg.BadgerInMemory),
		)
		h.RegisterCritical("badger", func(context.Context) error {
			return db.Ping()
		})
		return &stores{
			products: badgerstore.NewProductRepository(db),
			reviews:  badgerstore.NewReviewRepository(db),
		}, nil

	default:
		pool, err := database.NewPostgresPool(ctx, a.cfg.Postgres(), a.logger)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		a.closers = append(a.closers, closer{"postgres", func() error { pool.Close(); return nil }})
		a.logger.Info("connected to PostgreSQL",
			slog.String("host", a.cfg.PostgresHost),
			slog.Int("port", a.cfg.PostgresPort),
			slog.String("database", a.cfg.PostgresDB),
		)
		if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, pool, a.cfg.ServiceName); err != nil {
			a.logger.Warn("pool metrics not registered", slog.String("error", err.Error()))
		}

		if err := database.RunMigrations(ctx, pool, migrations.FS, a.logger); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		a.logger.Info("database migrations completed")

		if a.cfg.SlowQueryThresholdMs > 0 {
			database.SetSlowQueryLogging(time.Duration(a.cfg.SlowQueryThresholdMs)*time.Millisecond, a.logger)
		}

		h.RegisterCritical("postgres", func(ctx context.Context) error {
			return pool.Ping(ctx)
		})
		return &stores{
			products: postgres.NewProductRepository(pool),
			reviews:  postgres.NewReviewRepository(pool),
		}, nil
	}
}

func (a *App) openCache(ctx context.Context, h *health.Handler) (cache.ProductCache, error) {
	if !a.cfg.RedisEnabled {
		return cache.Noop{}, nil
	}

	client, err := database.NewRedisClient(ctx, a.cfg.Redis())
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	a.closers = append(a.closers, closer{"redis", client.Close})
	a.logger.Info("connected to Redis", slog.String("addr", a.cfg.Redis().Addr()))

	h.RegisterNonCritical("redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
	return cache.NewRedisProductCache(client, a.cfg.ProductCacheTTL, breaker.DefaultConfig("redis-product-cache"), a.logger), nil
}

func (a *App) openPublisher(h *health.Handler) event.Publisher {
	if !a.cfg.KafkaEnabled {
		return event.Noop{}
	}

	producer := pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(a.cfg.KafkaBrokers), a.logger)
	a.closers = append(a.closers, closer{"kafka", producer.Close})
	a.logger.Info("kafka producer initialized", slog.Any("brokers", a.cfg.KafkaBrokers))

	h.RegisterNonCritical("kafka", producer.Ping)
	return event.NewProducer(producer, a.cfg.KafkaTopicPrefix, breaker.DefaultConfig("kafka-product-events"), a.logger)
}

// Handler returns the HTTP handler serving the catalog.
func (a *App) Handler() http.Handler {
	return a.httpServer.Handler
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		return errors.Join(err, a.Shutdown())
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components in order: the HTTP server drains
// in-flight requests, pending spans are flushed, then the event producer,
// cache and store are closed in reverse order of opening.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	httpCtx, httpCancel := context.WithTimeout(context.Background(), a.cfg.HTTPShutdownTimeout)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if err := a.closeAll(); err != nil {
		errs = append(errs, err)
	}

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

func (a *App) closeAll() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			a.logger.Error("close error", slog.String("component", c.name), slog.String("error", err.Error()))
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
