package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"market-sentry/internal/entity"
	"market-sentry/internal/sentry/config"
	"market-sentry/internal/sentry/dto"
	"market-sentry/internal/sentry/metrics"
	"market-sentry/internal/sentry/normalizer"
	"market-sentry/internal/sentry/notify"
	"market-sentry/internal/sentry/store"
	"market-sentry/pkg/clock"
	"market-sentry/pkg/common"
	"market-sentry/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	mu            sync.Mutex
	snapshotCalls int
	alertCalls    int
	snapshotErr   error
	activeAlerts  []entity.Alert
	dismissed     []string
	snoozed       []string
	executed      []string
}

func (f *fakeRepo) FetchSnapshot(ctx context.Context) (*entity.ScanSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshotCalls++
	if f.snapshotErr != nil {
		return nil, f.snapshotErr
	}
	return &entity.ScanSnapshot{TakenAt: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)}, nil
}

func (f *fakeRepo) FetchActiveAlerts(ctx context.Context) ([]entity.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alertCalls++
	out := make([]entity.Alert, len(f.activeAlerts))
	copy(out, f.activeAlerts)
	return out, nil
}

func (f *fakeRepo) DismissAlert(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dismissed = append(f.dismissed, key)
	return nil
}

func (f *fakeRepo) SnoozeAlert(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snoozed = append(f.snoozed, key)
	return nil
}

func (f *fakeRepo) ExecuteAlert(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed = append(f.executed, key)
	return nil
}

func (f *fakeRepo) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshotCalls, f.alertCalls
}

type fakeChannel struct {
	mu     sync.Mutex
	opened bool
	closed bool
	state  entity.ConnectionState
}

func (f *fakeChannel) Open(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = true
	f.state = entity.ConnConnected
}

func (f *fakeChannel) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.state = entity.ConnDisconnected
}

func (f *fakeChannel) State() entity.ConnectionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

type coordinatorFixture struct {
	coordinator CoordinatorService
	repo        *fakeRepo
	channel     *fakeChannel
	clk         *clock.Mock
	feed        *notify.ToastFeed
	store       *store.AlertStore
}

func newFixture(t *testing.T) *coordinatorFixture {
	t.Helper()
	log, err := logger.New("error", "json")
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Sync.SnapshotInterval = "180s"
	cfg.Sync.AlertPollInterval = "10s"
	cfg.Sync.HistoryCap = 50
	cfg.Sync.HighConfidenceThreshold = 85

	clk := clock.NewMock(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	norm := normalizer.New(log, clk)
	alertStore := store.NewAlertStore(cfg.Sync.HistoryCap)
	feed := notify.NewToastFeed(time.Minute)
	m := metrics.New(prometheus.NewRegistry())
	dispatcher := notify.NewDispatcher(log, feed, entity.UserPreference{SoundEnabled: true}, time.Minute, m, nil, nil)

	repo := &fakeRepo{}
	coordinator := NewCoordinatorService(cfg, log, repo, norm, alertStore, dispatcher, m, clk)
	channel := &fakeChannel{}
	coordinator.AttachChannel(channel)

	return &coordinatorFixture{
		coordinator: coordinator,
		repo:        repo,
		channel:     channel,
		clk:         clk,
		feed:        feed,
		store:       alertStore,
	}
}

func patternAlertMessage(t *testing.T, symbol, timestamp string) dto.StreamMessage {
	t.Helper()
	data, err := json.Marshal(map[string]interface{}{
		"symbol":    symbol,
		"timestamp": timestamp,
		"pattern":   "Hammer",
		"price":     42000,
		"action":    "BUY",
	})
	require.NoError(t, err)
	return dto.StreamMessage{Event: common.StreamEventPatternAlert, Data: data}
}

func TestCoordinator_NewAlertSurfacesOnce(t *testing.T) {
	f := newFixture(t)

	// Same logical alert arrives by push first, then by poll.
	f.coordinator.HandleStreamMessage(patternAlertMessage(t, "BTC", "2026-08-01T10:00:00Z"))

	f.repo.mu.Lock()
	f.repo.activeAlerts = []entity.Alert{{
		Symbol:    "BTC",
		EmittedAt: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
		Kind:      "Hammer",
	}}
	f.repo.mu.Unlock()

	f.coordinator.Start(context.Background())
	defer f.coordinator.Stop()

	assert.Equal(t, 1, f.store.Len())

	toasts := f.feed.Active()
	require.Len(t, toasts, 1)
	assert.Equal(t, notify.ToastLevelAlert, toasts[0].Level)
	assert.True(t, toasts[0].Sound)
}

func TestCoordinator_CountdownResetAndPushIndependence(t *testing.T) {
	f := newFixture(t)

	f.coordinator.Start(context.Background())
	defer f.coordinator.Stop()

	// The priming fetch resets the countdown to the full period.
	require.Equal(t, 180, f.coordinator.CountdownSeconds())

	f.clk.Advance(2 * time.Second)
	require.Eventually(t, func() bool {
		return f.coordinator.CountdownSeconds() == 178
	}, time.Second, 5*time.Millisecond)

	// A push event feeds the store but never touches the countdown.
	f.coordinator.HandleStreamMessage(patternAlertMessage(t, "ETH", "2026-08-01T11:00:00Z"))
	assert.Equal(t, 178, f.coordinator.CountdownSeconds())
	assert.Equal(t, 1, f.store.Len())

	// A forced refresh fetches and resets the countdown.
	f.coordinator.RefreshNow()
	require.Eventually(t, func() bool {
		snapshots, _ := f.repo.counts()
		return snapshots == 2 && f.coordinator.CountdownSeconds() == 180
	}, time.Second, 5*time.Millisecond)
}

func TestCoordinator_CountdownExpiryTriggersFetch(t *testing.T) {
	f := newFixture(t)

	f.coordinator.Start(context.Background())
	defer f.coordinator.Stop()

	f.clk.Advance(181 * time.Second)
	require.Eventually(t, func() bool {
		snapshots, _ := f.repo.counts()
		return snapshots >= 2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestCoordinator_AlertPollCadence(t *testing.T) {
	f := newFixture(t)

	f.coordinator.Start(context.Background())
	defer f.coordinator.Stop()

	_, initial := f.repo.counts()
	require.Equal(t, 1, initial)

	f.clk.Advance(25 * time.Second)
	require.Eventually(t, func() bool {
		_, alerts := f.repo.counts()
		return alerts >= 3
	}, 2*time.Second, 5*time.Millisecond)
}

func TestCoordinator_TeardownCancelsTimers(t *testing.T) {
	f := newFixture(t)

	f.coordinator.Start(context.Background())
	f.coordinator.Stop()

	snapshots, alerts := f.repo.counts()

	// Advancing simulated time far past both periods must trigger nothing.
	f.clk.Advance(600 * time.Second)
	time.Sleep(50 * time.Millisecond)

	gotSnapshots, gotAlerts := f.repo.counts()
	assert.Equal(t, snapshots, gotSnapshots)
	assert.Equal(t, alerts, gotAlerts)
	assert.True(t, f.channel.closed)
}

func TestCoordinator_SnapshotFailureKeepsLastGoodData(t *testing.T) {
	f := newFixture(t)

	f.coordinator.Start(context.Background())
	defer f.coordinator.Stop()
	require.NotNil(t, f.coordinator.Snapshot())
	before := f.coordinator.LastSnapshotAt()
	require.NotNil(t, before)

	f.repo.mu.Lock()
	f.repo.snapshotErr = context.DeadlineExceeded
	f.repo.mu.Unlock()

	f.coordinator.RefreshNow()
	require.Eventually(t, func() bool {
		snapshots, _ := f.repo.counts()
		return snapshots == 2
	}, time.Second, 5*time.Millisecond)

	// The stale snapshot stays visible and a warning toast is surfaced.
	assert.NotNil(t, f.coordinator.Snapshot())
	assert.Equal(t, before, f.coordinator.LastSnapshotAt())
	require.Eventually(t, func() bool {
		for _, toast := range f.feed.Active() {
			if toast.Level == notify.ToastLevelWarning {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	// The cycle is not fatal: countdown was reset and keeps running.
	assert.Equal(t, 180, f.coordinator.CountdownSeconds())
}

func TestCoordinator_SubscribeReceivesNewAlerts(t *testing.T) {
	f := newFixture(t)

	f.coordinator.Start(context.Background())
	defer f.coordinator.Stop()

	alerts, cancel := f.coordinator.Subscribe()
	defer cancel()

	f.coordinator.HandleStreamMessage(patternAlertMessage(t, "BTC", "2026-08-01T10:00:00Z"))

	select {
	case alert := <-alerts:
		assert.Equal(t, "BTC", alert.Symbol)
	case <-time.After(time.Second):
		t.Fatal("expected a published alert")
	}

	// A redelivery publishes nothing.
	f.coordinator.HandleStreamMessage(patternAlertMessage(t, "BTC", "2026-08-01T10:00:00Z"))
	select {
	case <-alerts:
		t.Fatal("duplicate alert must not be published")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCoordinator_DismissRemovesLocallyAndCallsBackend(t *testing.T) {
	f := newFixture(t)

	f.coordinator.Start(context.Background())
	defer f.coordinator.Stop()

	f.coordinator.HandleStreamMessage(patternAlertMessage(t, "BTC", "2026-08-01T10:00:00Z"))
	require.Equal(t, 1, f.store.Len())

	key := f.store.Alerts()[0].Key()
	require.NoError(t, f.coordinator.Dismiss(context.Background(), key))
	assert.Equal(t, 0, f.store.Len())

	require.Eventually(t, func() bool {
		f.repo.mu.Lock()
		defer f.repo.mu.Unlock()
		return len(f.repo.dismissed) == 1 && f.repo.dismissed[0] == key
	}, time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, f.coordinator.Dismiss(context.Background(), key), ErrAlertNotFound)
}

func TestCoordinator_ScanUpdateReplacesSnapshot(t *testing.T) {
	f := newFixture(t)

	data, err := json.Marshal(map[string]interface{}{
		"scan": map[string]interface{}{
			"taken_at": "2026-08-01T11:00:00Z",
			"results":  []map[string]interface{}{{"symbol": "BTC", "status": "pattern", "pattern": "Doji"}},
		},
	})
	require.NoError(t, err)

	f.coordinator.HandleStreamMessage(dto.StreamMessage{Event: common.StreamEventScanUpdate, Data: data})

	snapshot := f.coordinator.Snapshot()
	require.NotNil(t, snapshot)
	require.Len(t, snapshot.Results, 1)
	assert.Equal(t, "BTC", snapshot.Results[0].Symbol)
}

func TestCoordinator_MalformedStreamPayloadIgnored(t *testing.T) {
	f := newFixture(t)

	f.coordinator.HandleStreamMessage(dto.StreamMessage{Event: common.StreamEventPatternAlert, Data: []byte(`{not json`)})
	assert.Equal(t, 0, f.store.Len())

	// The pipeline still processes the next valid payload.
	f.coordinator.HandleStreamMessage(patternAlertMessage(t, "BTC", "2026-08-01T10:00:00Z"))
	assert.Equal(t, 1, f.store.Len())
}
