package server

import (
	"net/http"

	"github.com/mirojs/graphrag-orchestration/internal/server/middleware"
	"github.com/mirojs/graphrag-orchestration/internal/server/routes"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})

	apiRoutes := e.Group("/api", middleware.AuthMiddleware)

	groupRoutes := apiRoutes.Group("/groups/:group", middleware.RequireGroupAccess)
	groupRoutes.POST("/query", routes.QueryHandler)
	groupRoutes.POST("/route", routes.RouteHandler)
	groupRoutes.POST("/canonicalize", routes.CanonicalizeHandler, middleware.RequirePermission("graph.canonicalize"))
}
