package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"market-sentry/internal/entity"
	"market-sentry/internal/sentry/dto"
	"market-sentry/internal/sentry/notify"
	"market-sentry/internal/sentry/projection"
	"market-sentry/internal/sentry/service"
	"market-sentry/pkg/logger"

	"github.com/labstack/echo/v4"
)

// SentryHandler exposes the sync coordinator to the dashboard.
type SentryHandler struct {
	coordinator service.CoordinatorService
	dispatcher  *notify.Dispatcher
	feed        *notify.ToastFeed
	logger      *logger.Logger
}

// NewSentryHandler creates a new SentryHandler.
func NewSentryHandler(coordinator service.CoordinatorService, dispatcher *notify.Dispatcher, feed *notify.ToastFeed, logger *logger.Logger) *SentryHandler {
	return &SentryHandler{coordinator: coordinator, dispatcher: dispatcher, feed: feed, logger: logger}
}

// RegisterRoutes registers the sentry routes to the Echo group.
func (h *SentryHandler) RegisterRoutes(g *echo.Group) {
	g.GET("/alerts", h.GetAlerts)
	g.GET("/overview", h.GetOverview)
	g.GET("/status", h.GetStatus)
	g.GET("/snapshot", h.GetSnapshot)
	g.GET("/toasts", h.GetToasts)
	g.POST("/refresh", h.Refresh)
	g.POST("/alerts/:key/dismiss", h.DismissAlert)
	g.POST("/alerts/:key/snooze", h.SnoozeAlert)
	g.POST("/alerts/:key/execute", h.ExecuteAlert)
	g.GET("/preferences", h.GetPreferences)
	g.PUT("/preferences", h.UpdatePreferences)
	g.GET("/events", h.StreamEvents)
}

// GetAlerts returns the filtered alert history, most recent first.
func (h *SentryHandler) GetAlerts(c echo.Context) error {
	opts := projection.FilterOptions{
		Action: entity.SuggestedAction(c.QueryParam("status")),
		Symbol: c.QueryParam("symbol"),
		Search: c.QueryParam("q"),
	}
	if raw := c.QueryParam("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid 'from' timestamp"})
		}
		opts.From = t
	}
	if raw := c.QueryParam("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid 'to' timestamp"})
		}
		opts.To = t
	}

	return c.JSON(http.StatusOK, h.coordinator.Filter(opts))
}

// GetOverview returns the dashboard's headline counts.
func (h *SentryHandler) GetOverview(c echo.Context) error {
	o := h.coordinator.Overview()
	return c.JSON(http.StatusOK, dto.OverviewResponse{
		ActiveAlertCount:    o.ActiveAlertCount,
		HighConfidenceCount: o.HighConfidenceCount,
		BuySignalCount:      o.BuySignalCount,
		SellSignalCount:     o.SellSignalCount,
	})
}

// GetStatus returns the connection and refresh state.
func (h *SentryHandler) GetStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, dto.StatusResponse{
		ConnectionState:  h.coordinator.ConnectionState(),
		CountdownSeconds: h.coordinator.CountdownSeconds(),
		LastSnapshotAt:   h.coordinator.LastSnapshotAt(),
		AlertCount:       len(h.coordinator.Alerts()),
	})
}

// GetSnapshot returns the last successful scan snapshot.
func (h *SentryHandler) GetSnapshot(c echo.Context) error {
	snapshot := h.coordinator.Snapshot()
	if snapshot == nil {
		return c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "No snapshot yet"})
	}
	return c.JSON(http.StatusOK, snapshot)
}

// GetToasts returns the live toast feed.
func (h *SentryHandler) GetToasts(c echo.Context) error {
	return c.JSON(http.StatusOK, h.feed.Active())
}

// Refresh forces an out-of-cycle snapshot fetch.
func (h *SentryHandler) Refresh(c echo.Context) error {
	h.coordinator.RefreshNow()
	return c.NoContent(http.StatusAccepted)
}

// DismissAlert removes an alert from the history.
func (h *SentryHandler) DismissAlert(c echo.Context) error {
	return h.alertAction(c, h.coordinator.Dismiss)
}

// SnoozeAlert snoozes an alert.
func (h *SentryHandler) SnoozeAlert(c echo.Context) error {
	return h.alertAction(c, h.coordinator.Snooze)
}

// ExecuteAlert opens a paper trade from an alert.
func (h *SentryHandler) ExecuteAlert(c echo.Context) error {
	return h.alertAction(c, h.coordinator.Execute)
}

// GetPreferences returns the notification preferences.
func (h *SentryHandler) GetPreferences(c echo.Context) error {
	return c.JSON(http.StatusOK, h.dispatcher.Preferences())
}

// UpdatePreferences patches the notification preferences.
func (h *SentryHandler) UpdatePreferences(c echo.Context) error {
	var req dto.UpdatePreferenceRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request payload"})
	}

	prefs := h.dispatcher.Preferences()
	if req.SoundEnabled != nil {
		prefs.SoundEnabled = *req.SoundEnabled
	}
	if req.NotificationPermission != nil {
		switch p := entity.NotificationPermission(*req.NotificationPermission); p {
		case entity.PermissionGranted, entity.PermissionDenied, entity.PermissionDefault:
			prefs.NotificationPermission = p
		default:
			return c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid notification permission"})
		}
	}
	h.dispatcher.SetPreferences(prefs)

	return c.JSON(http.StatusOK, prefs)
}

func (h *SentryHandler) alertAction(c echo.Context, action func(ctx context.Context, key string) error) error {
	key := c.Param("key")
	if key == "" {
		return c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Missing alert key"})
	}
	if err := action(c.Request().Context(), key); err != nil {
		if errors.Is(err, service.ErrAlertNotFound) {
			return c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "Alert not found"})
		}
		h.logger.Error("Alert action failed", logger.ErrorField(err))
		return c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "Alert action failed"})
	}
	return c.NoContent(http.StatusAccepted)
}
