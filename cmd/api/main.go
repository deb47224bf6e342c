package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/swagger"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	gotel "go.opentelemetry.io/otel"

	"doccontrol/docs"
	"doccontrol/internal/audit"
	"doccontrol/internal/config"
	"doccontrol/internal/database"
	"doccontrol/internal/database/migration"
	handlers "doccontrol/internal/http/handler"
	"doccontrol/internal/http/middleware"
	"doccontrol/internal/lifecycle"
	"doccontrol/internal/logging"
	"doccontrol/internal/notify"
	"doccontrol/internal/organization"
	tracing "doccontrol/internal/otel"
	"doccontrol/internal/repository"
	"doccontrol/internal/repository/memory"
	"doccontrol/internal/repository/postgres"
	"doccontrol/internal/retry"
	"doccontrol/internal/service"
	"doccontrol/internal/storage"
)

// connectPolicy waits for a database that starts alongside the service.
var connectPolicy = retry.Policy{MaxAttempts: 10, InitialBackoff: 500 * time.Millisecond, MaxBackoff: 5 * time.Second}

// @title Document Control API
// @version 1.0
// @description Document lifecycle, notification fan-out and audit.
// @BasePath /
func main() {
	// Load configuration from environment variables (.env auto-loaded if present)
	cfg := config.Load()

	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.Location())
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, logger)
	if err != nil {
		fatal(logger, "failed to initialize tracing", err)
	}

	policy := retry.Policy{
		MaxAttempts:    uint(max(cfg.Lifecycle.MaxAttempts, 1)),
		InitialBackoff: cfg.Lifecycle.BackoffInitial,
		MaxBackoff:     cfg.Lifecycle.BackoffMax,
	}

	var store repository.EntityStore
	switch cfg.StoreDriver {
	case config.StoreMemory:
		store = memory.New()
		logger.Warn("using in-memory entity store, data is lost on restart")
	case config.StorePostgres:
		db, err := database.NewPostgres(ctx, cfg.Database, connectPolicy)
		if err != nil {
			fatal(logger, "failed to connect to database", err)
		}
		defer db.Close()

		if err := migration.EnsureMigrated(ctx, db, logger, cfg.Database.Host); err != nil {
			fatal(logger, "failed to migrate database", err)
		}
		store = postgres.NewEntityPostgres(db)
	default:
		fatal(logger, "unknown store driver", errors.New(cfg.StoreDriver))
	}
	health := map[string]handlers.Pinger{"store": store}

	// Submitted files are optional; without object storage requests carry metadata only.
	var files storage.Storage
	if cfg.MinIO.Enabled() {
		objStore, err := storage.NewMinIO(cfg.MinIO)
		if err != nil {
			fatal(logger, "failed to initialize object storage", err)
		}
		files = objStore
		health["object_storage"] = objStore
	}

	var broker notify.Broker = notify.NewMemoryBroker()
	if cfg.Redis.URL != "" {
		rb, err := notify.NewRedisBroker(cfg.Redis.URL, logger)
		if err != nil {
			fatal(logger, "failed to connect to redis", err)
		}
		defer rb.Close()
		broker = rb
		health["redis"] = rb
	}

	var sinks []audit.Sink
	if len(cfg.Kafka.Brokers) > 0 {
		sink, err := audit.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.AuditTopic)
		if err != nil {
			fatal(logger, "failed to initialize audit mirror", err)
		}
		defer sink.Close()
		sinks = append(sinks, sink)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	lifecycleMetrics, err := lifecycle.NewMetrics(reg)
	if err != nil {
		fatal(logger, "failed to register lifecycle metrics", err)
	}
	httpMetrics, err := middleware.NewPrometheusMiddleware(reg)
	if err != nil {
		fatal(logger, "failed to register http metrics", err)
	}

	recorder := audit.NewRecorder(store, logger, sinks...)
	dispatcher := notify.NewDispatcher(store,
		notify.WithBroker(broker),
		notify.WithWidth(cfg.Lifecycle.FanoutWidth),
		notify.WithRetryPolicy(policy),
		notify.WithLogger(logger),
	)
	machine := lifecycle.New(store, dispatcher, recorder,
		lifecycle.WithRetryPolicy(policy),
		lifecycle.WithMetrics(lifecycleMetrics),
		lifecycle.WithTracer(gotel.Tracer("doccontrol/lifecycle")),
		lifecycle.WithLogger(logger),
	)

	deps := handlers.Dependencies{
		Documents:     service.NewDocumentService(machine, store, files, logger),
		Organizations: organization.NewService(store, recorder, policy, logger),
		Inbox:         notify.NewInbox(store, broker),
		Audit:         recorder,
		Health:        health,
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: handlers.ErrorHandler(),
		BodyLimit:    32 << 20,
	})

	app.Use(otelfiber.Middleware())
	// RequestID middleware adds/propagates X-Request-ID and stores it in context
	app.Use(middleware.RequestID())
	app.Use(middleware.Actor())
	app.Use(middleware.LoggerWithSlog(logger))
	app.Use(httpMetrics.Handler())

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))

	handlers.RegisterRoutes(app, deps)

	// Swagger UI with dynamic host and scheme
	app.Get("/swagger/*", func(c *fiber.Ctx) error {
		scheme := c.Protocol()
		if proto := c.Get("X-Forwarded-Proto"); proto != "" {
			scheme = strings.Split(proto, ",")[0]
		}

		docs.SwaggerInfo.Host = c.Get("Host")
		docs.SwaggerInfo.Schemes = []string{scheme}

		return swagger.HandlerDefault(c)
	})

	addr := ":" + cfg.Port
	go func() {
		logger.Info("server starting", "addr", addr, "store", cfg.StoreDriver, "object_storage", files != nil)
		if err := app.Listen(addr); err != nil {
			logger.Error("server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("tracing shutdown failed", "error", err)
	}
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}
