package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	reportapp "github.com/erp/arledger/internal/application/report"
	"github.com/erp/arledger/internal/infrastructure/auth"
	"github.com/erp/arledger/internal/infrastructure/cache"
	"github.com/erp/arledger/internal/infrastructure/config"
	"github.com/erp/arledger/internal/infrastructure/export"
	"github.com/erp/arledger/internal/infrastructure/logger"
	"github.com/erp/arledger/internal/infrastructure/migration"
	"github.com/erp/arledger/internal/infrastructure/persistence"
	"github.com/erp/arledger/internal/infrastructure/source"
	"github.com/erp/arledger/internal/infrastructure/storage"
	"github.com/erp/arledger/internal/infrastructure/telemetry"
	"github.com/erp/arledger/internal/interfaces/http/handler"
	"github.com/erp/arledger/internal/interfaces/http/middleware"
	"github.com/erp/arledger/internal/interfaces/http/router"
	"github.com/erp/arledger/migrations"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "dev"

const shutdownTimeout = 30 * time.Second

//	@title			arledger API
//	@version		1.0
//	@description	Accounts receivable reconciliation and collections analytics
//	@BasePath		/api/v1

//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Bearer token authentication. Format: "Bearer {token}"

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	logCfg := &logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	}
	log, err := logger.New(logCfg)
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	ctx := context.Background()

	// Logs bridge: rebuild the logger with the OTel core teed in
	loggerProvider, err := telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{
		Enabled:           cfg.Telemetry.LogsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize log exporter", zap.Error(err))
	}
	if loggerProvider.IsEnabled() {
		log, err = logger.New(logCfg, telemetry.NewZapOTELCore(telemetry.ZapBridgeConfig{
			ServiceName:    cfg.Telemetry.ServiceName,
			LoggerProvider: loggerProvider,
			Level:          logger.ParseLevel(cfg.Telemetry.LogsLevel),
		}))
		if err != nil {
			panic("Failed to initialize logger: " + err.Error())
		}
	}
	defer func() { _ = logger.Sync(log) }()

	log.Info("Starting arledger server",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("version", version),
	)

	tracerProvider, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracing", zap.Error(err))
	}

	profilerCfg := telemetry.DefaultProfilerConfig(cfg.Telemetry.ProfilingServerAddress, cfg.Telemetry.ServiceName)
	profilerCfg.Enabled = cfg.Telemetry.ProfilingEnabled
	profiler, err := telemetry.NewProfiler(profilerCfg, log)
	if err != nil {
		log.Warn("Continuous profiling unavailable", zap.Error(err))
	}
	if cfg.Telemetry.SpanProfilesEnabled && profiler != nil && profiler.IsEnabled() {
		if err := tracerProvider.EnableSpanProfiles(); err != nil {
			log.Warn("Failed to link spans to profiles", zap.Error(err))
		}
	}

	var promMetrics *telemetry.PrometheusMetrics
	if cfg.Metrics.Enabled {
		promMetrics = telemetry.NewPrometheusMetrics(cfg.Metrics.Namespace)
	}

	if cfg.Database.AutoMigrate {
		if err := migrateUp(cfg, log); err != nil {
			log.Fatal("Failed to apply migrations", zap.Error(err))
		}
	}

	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level), 200*time.Millisecond)
	db, err := persistence.NewDatabase(&cfg.Database,
		persistence.WithLogger(gormLog),
		persistence.WithPlugins(telemetry.NewDBTracingPlugin(telemetry.DBTracingConfig{
			Enabled:    cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled,
			LogFullSQL: cfg.App.Env != "production",
			DBName:     cfg.Database.DBName,
		}, log)),
	)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connected successfully")

	rowSource, err := source.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to open ledger source", zap.Error(err))
	}

	store, err := cache.NewBundleStore(ctx, cfg, log, true)
	if err != nil {
		log.Fatal("Failed to create run cache", zap.Error(err))
	}

	artifacts, err := storage.New(ctx, cfg.Storage, cfg.Export.OutputDir, log)
	if err != nil {
		log.Fatal("Failed to open artifact storage", zap.Error(err))
	}

	baseOptions, err := cfg.Report.EngineOptions()
	if err != nil {
		log.Fatal("Invalid report configuration", zap.Error(err))
	}

	var runMetrics reportapp.Metrics
	if promMetrics != nil {
		runMetrics = promMetrics
	}
	reportService := reportapp.NewReportService(baseOptions, log, reportapp.WithMetrics(runMetrics))
	generationService := reportapp.NewGenerationService(reportService, rowSource, log,
		reportapp.WithExporters(export.FromConfig(cfg.Export, artifacts, log)...),
		reportapp.WithHistory(persistence.NewGormReportRunRepository(db.DB)),
		reportapp.WithBundleStore(store),
		reportapp.WithRunMetrics(runMetrics),
	)

	systemHandler := handler.NewSystemHandler(cfg.App.Name, version,
		handler.HealthCheck{Name: "database", Check: func(context.Context) error { return db.Ping() }},
		handler.HealthCheck{Name: "source", Check: rowSource.Ping},
	)

	var jwtService *auth.JWTService
	if cfg.JWT.Enabled {
		jwtService = auth.NewJWTService(cfg.JWT)
	}

	var runLimiter *middleware.RateLimiter
	if cfg.HTTP.RunRateLimit > 0 {
		runLimiter = middleware.NewRateLimiter(cfg.HTTP.RunRateLimit, cfg.HTTP.RunRateWindow)
		log.Info("Report run rate limiting enabled",
			zap.Int("runs", cfg.HTTP.RunRateLimit),
			zap.Duration("window", cfg.HTTP.RunRateWindow),
		)
	}

	engine, err := router.NewEngine(router.EngineDeps{
		Config:     cfg,
		Logger:     log,
		Reports:    handler.NewReportHandler(generationService),
		System:     systemHandler,
		Metrics:    promMetrics,
		JWT:        jwtService,
		RunLimiter: runLimiter,
	})
	if err != nil {
		log.Fatal("Failed to build HTTP engine", zap.Error(err))
	}

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	// Release in reverse order of construction
	if runLimiter != nil {
		runLimiter.Stop()
	}
	if err := store.Close(); err != nil {
		log.Error("Error closing run cache", zap.Error(err))
	}
	rowSource.Close()
	if err := db.Close(); err != nil {
		log.Error("Error closing database", zap.Error(err))
	}
	if profiler != nil {
		if err := profiler.Stop(); err != nil {
			log.Error("Error stopping profiler", zap.Error(err))
		}
	}
	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down tracer provider", zap.Error(err))
	}
	if err := loggerProvider.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down logger provider", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}

// migrateUp applies the embedded migrations over a dedicated connection
func migrateUp(cfg *config.Config, log *zap.Logger) error {
	m, err := migration.Open(cfg.Database.DSN(), migration.Embedded(migrations.FS, ""), log)
	if err != nil {
		return err
	}
	defer func() {
		if err := m.Close(); err != nil {
			log.Warn("Failed to close migrator", zap.Error(err))
		}
	}()
	return m.Up()
}
