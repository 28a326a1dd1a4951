package router

import (
	"github.com/erp/arledger/internal/infrastructure/auth"
	"github.com/erp/arledger/internal/infrastructure/config"
	"github.com/erp/arledger/internal/infrastructure/logger"
	"github.com/erp/arledger/internal/infrastructure/telemetry"
	"github.com/erp/arledger/internal/interfaces/http/handler"
	"github.com/erp/arledger/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// EngineDeps are the collaborators of the HTTP engine. Metrics, JWT and
// RunLimiter are optional.
type EngineDeps struct {
	Config     *config.Config
	Logger     *zap.Logger
	Reports    *handler.ReportHandler
	System     *handler.SystemHandler
	Metrics    *telemetry.PrometheusMetrics
	JWT        *auth.JWTService
	RunLimiter *middleware.RateLimiter
}

// NewEngine builds the gin engine with the middleware chain and every route
// of the report API
func NewEngine(deps EngineDeps) (*gin.Engine, error) {
	cfg := deps.Config
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	middleware.SetupValidator()

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
		return nil, err
	}

	engine.Use(
		middleware.RequestID(),
		logger.Recovery(deps.Logger),
		middleware.TracingWithConfig(middleware.TracingConfig{
			ServiceName: cfg.Telemetry.ServiceName,
			Enabled:     cfg.Telemetry.Enabled,
		}),
		logger.GinMiddleware(deps.Logger),
		middleware.Secure(),
		middleware.BodyLimit(cfg.HTTP.MaxBodySize),
	)
	if deps.Metrics != nil {
		engine.Use(middleware.HTTPMetrics(deps.Metrics))
	}

	engine.GET("/health", deps.System.Health)
	engine.GET("/ready", deps.System.Ping)
	if deps.Metrics != nil && cfg.Metrics.Enabled {
		engine.GET(cfg.Metrics.Path, gin.WrapH(deps.Metrics.Handler()))
	}

	var apiMiddleware []gin.HandlerFunc
	if deps.JWT != nil {
		apiMiddleware = append(apiMiddleware, middleware.JWTAuthMiddlewareWithConfig(middleware.JWTMiddlewareConfig{
			JWTService: deps.JWT,
			Logger:     deps.Logger,
		}))
	}
	apiMiddleware = append(apiMiddleware, middleware.TracingAttributeInjector())
	if cfg.Telemetry.ProfilingEnabled {
		apiMiddleware = append(apiMiddleware, middleware.Profiling())
	}

	r := NewRouter(engine, WithAPIVersion("v1"), WithMiddleware(apiMiddleware...))
	r.Register(systemRoutes(deps.System))
	r.Register(reportRoutes(deps.Reports, cfg, deps.RunLimiter))
	r.Setup()

	return engine, nil
}

func systemRoutes(h *handler.SystemHandler) *DomainGroup {
	return NewDomainGroup("system", "/system").
		GET("/info", h.GetSystemInfo)
}

func reportRoutes(h *handler.ReportHandler, cfg *config.Config, limiter *middleware.RateLimiter) *DomainGroup {
	reports := NewDomainGroup("reports", "/reports")
	runs := reports.Group("runs", "/runs")

	create := []gin.HandlerFunc{middleware.RequireScope(auth.ScopeReportsWrite)}
	if limiter != nil {
		create = append(create, middleware.RateLimit(limiter))
	}
	create = append(create, middleware.Timeout(cfg.HTTP.RunTimeout), h.CreateRun)

	read := middleware.RequireScope(auth.ScopeReportsRead)
	runs.POST("", create...).
		GET("", read, h.ListRuns).
		GET("/:id", read, h.GetRun).
		GET("/:id/tables/:table", read, h.GetTable)
	return reports
}
