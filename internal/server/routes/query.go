package routes

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/mirojs/graphrag-orchestration/internal/server/middleware"
	"github.com/mirojs/graphrag-orchestration/pkg/common"
	"github.com/mirojs/graphrag-orchestration/pkg/logger"

	"github.com/labstack/echo/v4"
)

type queryParams struct {
	Group    string `param:"group" validate:"required"`
	Question string `json:"question" validate:"required,max=4000"`
}

func bindQuery(c echo.Context) (*queryParams, error) {
	params := new(queryParams)
	if err := c.Bind(params); err != nil {
		return nil, err
	}
	params.Question = strings.TrimSpace(params.Question)
	if err := c.Validate(params); err != nil {
		return nil, err
	}
	return params, nil
}

// QueryHandler answers a question over the group's graph.
func QueryHandler(c echo.Context) error {
	params, err := bindQuery(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}

	app := c.(*middleware.AppContext).App
	answer, err := app.Orchestrator.Answer(c.Request().Context(), params.Group, params.Question)
	if err != nil {
		return c.JSON(statusFor(err), map[string]string{"error": messageFor(err)})
	}
	return c.JSON(http.StatusOK, answer)
}

// RouteHandler returns the route a question would take without answering it.
func RouteHandler(c echo.Context) error {
	params, err := bindQuery(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}

	app := c.(*middleware.AppContext).App
	decision := app.Orchestrator.Route(c.Request().Context(), params.Question)
	return c.JSON(http.StatusOK, decision)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, common.ErrInputValidation):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return 499
	case errors.Is(err, common.ErrTransport), errors.Is(err, common.ErrMalformedResponse):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func messageFor(err error) string {
	if errors.Is(err, common.ErrInputValidation) {
		return err.Error()
	}
	logger.Error("[Server] query failed", "err", err)
	return http.StatusText(statusFor(err))
}
