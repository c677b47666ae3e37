package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"market-sentry/pkg/logger"

	"github.com/labstack/echo/v4"
)

// StreamEvents relays newly surfaced alerts to the dashboard as Server-Sent
// Events. Each client gets its own subscription; a disconnect just cancels it.
func (h *SentryHandler) StreamEvents(c echo.Context) error {
	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "streaming not supported")
	}

	c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().WriteHeader(http.StatusOK)
	flusher.Flush()

	alerts, cancel := h.coordinator.Subscribe()
	defer cancel()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case alert, open := <-alerts:
			if !open {
				return nil
			}
			payload, err := json.Marshal(alert)
			if err != nil {
				h.logger.Error("Failed to marshal alert for SSE", logger.ErrorField(err))
				continue
			}
			if _, err := fmt.Fprintf(c.Response().Writer, "event: alert\ndata: %s\n\n", payload); err != nil {
				return nil
			}
			flusher.Flush()
		}
	}
}
