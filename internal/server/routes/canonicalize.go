package routes

import (
	"encoding/json"
	"net/http"

	"github.com/mirojs/graphrag-orchestration/internal/queue"
	"github.com/mirojs/graphrag-orchestration/internal/server/middleware"
	"github.com/mirojs/graphrag-orchestration/pkg/logger"

	"github.com/labstack/echo/v4"
)

// CanonicalizeHandler queues a canonicalization run for the group.
func CanonicalizeHandler(c echo.Context) error {
	type canonicalizeParams struct {
		Group     string `param:"group" validate:"required"`
		Summarize bool   `json:"summarize"`
	}

	params := new(canonicalizeParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}

	app := c.(*middleware.AppContext).App
	if app.Queue == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "Queue unavailable"})
	}

	data, err := json.Marshal(queue.CanonicalizeMsg{GroupID: params.Group, Summarize: params.Summarize})
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}
	if err := queue.PublishFIFO(app.Queue, queue.CanonicalizeQueue, data); err != nil {
		logger.Error("[Server] failed to queue canonicalization", "group", params.Group, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}

	return c.JSON(http.StatusAccepted, map[string]string{"status": "queued"})
}
