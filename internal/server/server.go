package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/diego-ramazzini/muniagent/config"
	"github.com/diego-ramazzini/muniagent/internal/agent"
	"github.com/diego-ramazzini/muniagent/internal/ingest"
	"github.com/diego-ramazzini/muniagent/internal/provider"
	"github.com/diego-ramazzini/muniagent/internal/store"
	"github.com/diego-ramazzini/muniagent/internal/telemetry"
	"github.com/diego-ramazzini/muniagent/internal/upload"
	"github.com/diego-ramazzini/muniagent/internal/websearch"
)

// NewEcho builds the routing skeleton shared by Run and the handler tests:
// recover middleware, CORS, the unified JSON error handler and the health
// endpoint.
func NewEcho(logger *log.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, HTTPError{Error: msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie", "Authorization"},
		AllowCredentials: true,
	}))
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	return e
}

// Run wires the full service and blocks serving HTTP.
func Run(cfg *config.Config) error {
	httpLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	agentLogger := log.New(log.Writer(), "[AGENT] ", log.LstdFlags)

	e := NewEcho(httpLogger)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	dsn, err := cfg.Databases.Postgres.DSN()
	if err != nil {
		return fmt.Errorf("postgres not configured: %w", err)
	}
	if err := Migrate("file://migrations", dsn, "up", 0); err != nil {
		httpLogger.Printf("migrations not applied: %v", err)
	}

	ctx := context.Background()
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}

	prov, err := provider.NewProvider(provider.OpenRouter, cfg.Providers.OpenRouter)
	if err != nil {
		return fmt.Errorf("building provider: %w", err)
	}

	var rdb *redis.Client
	if cfg.Databases.Redis.Host != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Databases.Redis.Addr(),
			Password: cfg.Databases.Redis.Pass,
			DB:       cfg.Databases.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis connection failed (%s): %w", cfg.Databases.Redis.Addr(), err)
		}
	}

	var tracker agent.EscalationTracker
	switch cfg.Agent.EscalationBackend {
	case "redis":
		if rdb == nil {
			return fmt.Errorf("escalation backend redis requires databases.redis.host")
		}
		tracker = agent.NewRedisEscalations(rdb, nil)
	default:
		tracker = agent.NewMemoryEscalations()
	}

	var searcher websearch.Searcher
	if cfg.Providers.Serper.APIKey != "" {
		searcher = websearch.NewSerper(cfg.Providers.Serper.APIKey)
	}

	metrics := telemetry.New()
	ag := agent.New(cfg.Agent, prov, st, tracker, st, searcher, metrics, agentLogger)

	uploads, err := upload.NewManager(cfg.Upload, cfg.Databases.Redis, prov, nil)
	if err != nil {
		return fmt.Errorf("building upload manager: %w", err)
	}

	ch := &ChatHandler{
		Sessions:  st,
		Agent:     ag,
		Uploads:   uploads,
		MaxFileMB: cfg.Upload.MaxFileMB,
		Logger:    httpLogger,
	}
	ch.Register(e)

	if cfg.Server.JWTSecret == "" {
		httpLogger.Printf("staff console disabled: server.jwt_secret not configured")
	} else {
		sh := &StaffHandler{
			Store:     st,
			Agent:     ag,
			Secret:    []byte(cfg.Server.JWTSecret),
			Threshold: cfg.Agent.ConfidenceThreshold,
		}
		sh.Register(e.Group("/api/staff"))
	}

	if cfg.Ingest.Schedule != "" {
		sched := &ingest.Scheduler{
			Ingester: ingest.New(cfg.Ingest, st, prov, nil),
			Schedule: cfg.Ingest.Schedule,
			Rdb:      rdb,
			Stop:     make(chan struct{}),
		}
		sched.Start()
	}

	addr := cfg.Server.Listen
	if addr == "" {
		addr = ":8080"
	}
	httpLogger.Printf("listening on %s", addr)
	return e.Start(addr)
}
