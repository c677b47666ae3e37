package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"market-sentry/internal/entity"
	"market-sentry/internal/sentry/dto"
	"market-sentry/internal/sentry/metrics"
	"market-sentry/internal/sentry/notify"
	"market-sentry/internal/sentry/projection"
	"market-sentry/internal/sentry/service"
	"market-sentry/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCoordinator struct {
	alerts     []entity.Alert
	snapshot   *entity.ScanSnapshot
	refreshed  bool
	dismissed  []string
	statusTime *time.Time
}

func (s *stubCoordinator) AttachChannel(service.PushChannel) {}
func (s *stubCoordinator) Start(context.Context)             {}
func (s *stubCoordinator) Stop()                             {}
func (s *stubCoordinator) RefreshNow()                       { s.refreshed = true }

func (s *stubCoordinator) Alerts() []entity.Alert            { return s.alerts }
func (s *stubCoordinator) Snapshot() *entity.ScanSnapshot    { return s.snapshot }
func (s *stubCoordinator) LastSnapshotAt() *time.Time        { return s.statusTime }
func (s *stubCoordinator) CountdownSeconds() int             { return 42 }

func (s *stubCoordinator) Overview() projection.Overview {
	return projection.BuildOverview(s.alerts, 85)
}

func (s *stubCoordinator) Filter(opts projection.FilterOptions) []entity.Alert {
	return projection.Filter(s.alerts, opts)
}

func (s *stubCoordinator) ConnectionState() entity.ConnectionState {
	return entity.ConnConnected
}

func (s *stubCoordinator) Dismiss(_ context.Context, key string) error {
	for _, a := range s.alerts {
		if a.Key() == key {
			s.dismissed = append(s.dismissed, key)
			return nil
		}
	}
	return service.ErrAlertNotFound
}

func (s *stubCoordinator) Snooze(ctx context.Context, key string) error {
	return s.Dismiss(ctx, key)
}

func (s *stubCoordinator) Execute(ctx context.Context, key string) error {
	return s.Dismiss(ctx, key)
}

func (s *stubCoordinator) Subscribe() (<-chan entity.Alert, func()) {
	ch := make(chan entity.Alert)
	close(ch)
	return ch, func() {}
}

func (s *stubCoordinator) HandleStreamMessage(dto.StreamMessage)        {}
func (s *stubCoordinator) HandleConnectionState(entity.ConnectionState) {}

func newTestHandler(t *testing.T, coordinator *stubCoordinator) (*SentryHandler, *echo.Echo, *notify.Dispatcher) {
	t.Helper()
	log, err := logger.New("error", "json")
	require.NoError(t, err)

	feed := notify.NewToastFeed(time.Minute)
	m := metrics.New(prometheus.NewRegistry())
	dispatcher := notify.NewDispatcher(log, feed, entity.UserPreference{SoundEnabled: true, NotificationPermission: entity.PermissionDefault}, time.Minute, m, nil, nil)

	h := NewSentryHandler(coordinator, dispatcher, feed, log)
	e := echo.New()
	h.RegisterRoutes(e.Group("/api/v1"))
	return h, e, dispatcher
}

func sampleAlerts() []entity.Alert {
	return []entity.Alert{
		{ID: 1, Symbol: "BTC", Kind: "Hammer", ConfidencePct: 92, SuggestedAction: entity.ActionBuy, EmittedAt: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)},
		{ID: 2, Symbol: "ETH", Kind: "Doji", ConfidencePct: 60, SuggestedAction: entity.ActionSell, EmittedAt: time.Date(2026, 8, 1, 11, 0, 0, 0, time.UTC)},
	}
}

func TestGetAlerts(t *testing.T) {
	_, e, _ := newTestHandler(t, &stubCoordinator{alerts: sampleAlerts()})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/alerts?status=BUY", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got []entity.Alert
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "BTC", got[0].Symbol)
}

func TestGetAlerts_BadTimestamp(t *testing.T) {
	_, e, _ := newTestHandler(t, &stubCoordinator{})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/alerts?from=yesterday", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetOverview(t *testing.T) {
	_, e, _ := newTestHandler(t, &stubCoordinator{alerts: sampleAlerts()})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/overview", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got dto.OverviewResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 2, got.ActiveAlertCount)
	assert.Equal(t, 1, got.HighConfidenceCount)
	assert.Equal(t, 1, got.BuySignalCount)
	assert.Equal(t, 1, got.SellSignalCount)
}

func TestGetStatus(t *testing.T) {
	_, e, _ := newTestHandler(t, &stubCoordinator{alerts: sampleAlerts()})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got dto.StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, entity.ConnConnected, got.ConnectionState)
	assert.Equal(t, 42, got.CountdownSeconds)
	assert.Equal(t, 2, got.AlertCount)
}

func TestGetSnapshot_NotFound(t *testing.T) {
	_, e, _ := newTestHandler(t, &stubCoordinator{})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/snapshot", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRefresh(t *testing.T) {
	stub := &stubCoordinator{}
	_, e, _ := newTestHandler(t, stub)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/refresh", nil))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, stub.refreshed)
}

func TestDismissAlert(t *testing.T) {
	stub := &stubCoordinator{alerts: sampleAlerts()}
	_, e, _ := newTestHandler(t, stub)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/alerts/id:1/dismiss", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/alerts/id:99/dismiss", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdatePreferences(t *testing.T) {
	_, e, dispatcher := newTestHandler(t, &stubCoordinator{})

	body := strings.NewReader(`{"sound_enabled": false, "notification_permission": "granted"}`)
	req := httptest.NewRequest(http.MethodPut, "/api/v1/preferences", body)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	prefs := dispatcher.Preferences()
	assert.False(t, prefs.SoundEnabled)
	assert.Equal(t, entity.PermissionGranted, prefs.NotificationPermission)
}

func TestUpdatePreferences_InvalidPermission(t *testing.T) {
	_, e, _ := newTestHandler(t, &stubCoordinator{})

	body := strings.NewReader(`{"notification_permission": "always"}`)
	req := httptest.NewRequest(http.MethodPut, "/api/v1/preferences", body)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
