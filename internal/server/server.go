// Package server exposes the query orchestrator over HTTP.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mirojs/graphrag-orchestration/internal/config"
	"github.com/mirojs/graphrag-orchestration/internal/queue"
	mid "github.com/mirojs/graphrag-orchestration/internal/server/middleware"
	"github.com/mirojs/graphrag-orchestration/pkg/logger"
	"github.com/mirojs/graphrag-orchestration/pkg/query"
	"github.com/mirojs/graphrag-orchestration/pkg/route"
	pgstore "github.com/mirojs/graphrag-orchestration/pkg/store/pgx"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/go-playground/validator"
	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		return err
	}
	return nil
}

// New builds the echo instance around app.
func New(app *mid.App) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Validator = &CustomValidator{validator: validator.New()}

	e.Use(mid.AppContextMiddleware(app))
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("1M"))

	RegisterRoutes(e)
	return e
}

// Init wires the server from cfg and blocks until SIGINT or SIGTERM.
func Init(cfg config.Config) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := pgstore.Migrate(cfg.DatabaseURL); err != nil {
		logger.Fatal("Failed to migrate database", "err", err)
	}
	pool, err := pgstore.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Failed to connect to database", "err", err)
	}
	defer pool.Close()
	graph := pgstore.NewGraphDBStorageWithConnection(pool)

	aiClient, err := cfg.NewAIClient()
	if err != nil {
		logger.Fatal("Failed to create AI client", "err", err)
	}

	router := route.NewRouter(aiClient, route.Config{
		ClassifierTimeout: cfg.Timeouts.AI,
		CacheSize:         cfg.Retrieval.RouterCacheSize,
		CacheTTL:          cfg.Retrieval.RouterCacheTTL,
	})
	orchestrator := query.NewOrchestrator(graph, aiClient, cfg.QueryConfig(), query.WithRouter(router))

	var keyFn jwt.Keyfunc
	if cfg.AuthURL != "" {
		k, err := keyfunc.NewDefault([]string{cfg.AuthURL + "/jwks"})
		if err != nil {
			logger.Fatal("Failed to load jwks keys", "err", err)
		}
		keyFn = k.Keyfunc
	}

	app := &mid.App{
		Orchestrator: orchestrator,
		Keyfunc:      keyFn,
		MasterAPIKey: cfg.MasterKey,
	}

	conn, err := queue.Dial(cfg.Queue.URL())
	if err != nil {
		logger.Warn("RabbitMQ unavailable, canonicalization endpoint and cache invalidation disabled", "err", err)
	} else {
		defer conn.Close()
		ch, err := conn.Channel()
		if err != nil {
			logger.Fatal("Failed to open channel", "err", err)
		}
		defer ch.Close()
		if err := queue.SetupQueues(ch, []string{queue.CanonicalizeQueue}); err != nil {
			logger.Fatal("Failed to set up queues", "err", err)
		}
		app.Queue = ch

		subCh, err := conn.Channel()
		if err != nil {
			logger.Fatal("Failed to open subscription channel", "err", err)
		}
		defer subCh.Close()
		err = queue.SubscribeTopic(ctx, subCh, queue.CacheInvalidateTopic, func(body []byte) {
			var msg queue.CacheInvalidateMsg
			if err := json.Unmarshal(body, &msg); err != nil || msg.GroupID == "" {
				logger.Warn("Ignoring malformed cache invalidation", "body", string(body))
				return
			}
			orchestrator.Cache().Invalidate(msg.GroupID)
			router.Invalidate()
			logger.Info("Invalidated tenant cache", "tenant", msg.GroupID)
		})
		if err != nil {
			logger.Fatal("Failed to subscribe to cache invalidation", "err", err)
		}
	}

	e := New(app)

	go func() {
		logger.Info("Starting server", "port", cfg.Port)
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed shutting down server", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shutdown server", "err", err)
	}
}
