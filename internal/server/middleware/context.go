package middleware

import (
	"context"

	"github.com/mirojs/graphrag-orchestration/internal/queue"
	"github.com/mirojs/graphrag-orchestration/pkg/query"
	"github.com/mirojs/graphrag-orchestration/pkg/route"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// Orchestrator is the query surface the handlers call.
type Orchestrator interface {
	Answer(ctx context.Context, tenant, question string) (*query.Answer, error)
	Route(ctx context.Context, question string) route.Decision
}

type AppUser struct {
	UserID      string
	Role        string
	Groups      []string
	Permissions []string
}

type App struct {
	Orchestrator Orchestrator
	// Queue publishes canonicalization jobs; nil disables the endpoint.
	Queue        queue.Publisher
	Keyfunc      jwt.Keyfunc
	MasterAPIKey string
}

type AppContext struct {
	echo.Context
	App  *App
	User *AppUser
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := &AppContext{c, app, nil}
			return next(cc)
		}
	}
}
