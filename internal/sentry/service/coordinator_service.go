package service

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"market-sentry/internal/entity"
	"market-sentry/internal/sentry/config"
	"market-sentry/internal/sentry/dto"
	"market-sentry/internal/sentry/metrics"
	"market-sentry/internal/sentry/normalizer"
	"market-sentry/internal/sentry/notify"
	"market-sentry/internal/sentry/projection"
	"market-sentry/internal/sentry/repository"
	"market-sentry/internal/sentry/store"
	"market-sentry/pkg/clock"
	"market-sentry/pkg/common"
	"market-sentry/pkg/logger"
	"market-sentry/pkg/utils"
)

const (
	defaultSnapshotInterval  = 180 * time.Second
	defaultAlertPollInterval = 10 * time.Second
	actionCallTimeout        = 10 * time.Second
)

// PushChannel is the push transport the coordinator drives. Implemented by
// the stream consumer; abstracted so the scheduler can be tested without a
// live socket.
type PushChannel interface {
	Open(ctx context.Context)
	Close()
	State() entity.ConnectionState
}

// CoordinatorService owns the sync lifecycle: the polling timers, the push
// channel, and the shared alert/snapshot state. Views read through it and
// never mutate state directly.
type CoordinatorService interface {
	AttachChannel(ch PushChannel)
	Start(ctx context.Context)
	Stop()
	RefreshNow()

	Alerts() []entity.Alert
	Snapshot() *entity.ScanSnapshot
	Overview() projection.Overview
	Filter(opts projection.FilterOptions) []entity.Alert
	ConnectionState() entity.ConnectionState
	CountdownSeconds() int
	LastSnapshotAt() *time.Time

	Dismiss(ctx context.Context, key string) error
	Snooze(ctx context.Context, key string) error
	Execute(ctx context.Context, key string) error

	Subscribe() (<-chan entity.Alert, func())

	HandleStreamMessage(msg dto.StreamMessage)
	HandleConnectionState(state entity.ConnectionState)
}

// NewCoordinatorService creates the sync coordinator.
func NewCoordinatorService(cfg *config.Config, log *logger.Logger, repo repository.BackendRepository, norm *normalizer.Normalizer, alertStore *store.AlertStore, dispatcher *notify.Dispatcher, m *metrics.Metrics, clk clock.Clock) CoordinatorService {
	snapshotInterval := defaultSnapshotInterval
	if d, err := time.ParseDuration(cfg.Sync.SnapshotInterval); err == nil && d > 0 {
		snapshotInterval = d
	}
	alertPollInterval := defaultAlertPollInterval
	if d, err := time.ParseDuration(cfg.Sync.AlertPollInterval); err == nil && d > 0 {
		alertPollInterval = d
	}

	c := &coordinatorService{
		cfg:               cfg,
		log:               log,
		repo:              repo,
		normalizer:        norm,
		store:             alertStore,
		dispatcher:        dispatcher,
		metrics:           m,
		clk:               clk,
		snapshotInterval:  snapshotInterval,
		alertPollInterval: alertPollInterval,
		refreshChan:       make(chan struct{}, 1),
		subscribers:       make(map[int]chan entity.Alert),
	}
	c.countdown.Store(int32(snapshotInterval / time.Second))
	return c
}

type coordinatorService struct {
	cfg        *config.Config
	log        *logger.Logger
	repo       repository.BackendRepository
	normalizer *normalizer.Normalizer
	store      *store.AlertStore
	dispatcher *notify.Dispatcher
	metrics    *metrics.Metrics
	clk        clock.Clock
	channel    PushChannel

	snapshotInterval  time.Duration
	alertPollInterval time.Duration

	countdown   atomic.Int32
	refreshChan chan struct{}

	mu             sync.Mutex
	running        bool
	stopChan       chan struct{}
	cancel         context.CancelFunc
	wg             sync.WaitGroup
	lastSnapshotAt *time.Time

	subMu       sync.Mutex
	subscribers map[int]chan entity.Alert
	nextSubID   int
}

// AttachChannel wires the push channel. Must be called before Start.
func (c *coordinatorService) AttachChannel(ch PushChannel) {
	c.channel = ch
}

// Start opens the push channel and launches both polling loops. The two
// cadences are independent: the snapshot countdown and the active-alert poll
// feed the same store but never block each other.
func (c *coordinatorService) Start(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.stopChan = make(chan struct{})
	stop := c.stopChan
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	if c.channel != nil {
		c.channel.Open(runCtx)
	}

	// Prime the dashboard before the first countdown expires.
	c.fetchSnapshot(runCtx)
	c.pollAlerts(runCtx)

	// Tickers are created here, not inside the goroutines, so they exist by
	// the time Start returns and a mock clock advanced right after Start
	// still drives them.
	countdownTicker := c.clk.NewTicker(time.Second)
	alertPollTicker := c.clk.NewTicker(c.alertPollInterval)

	c.wg.Add(2)
	utils.GoSafe(func() {
		defer c.wg.Done()
		c.runCountdownLoop(runCtx, stop, countdownTicker)
	})
	utils.GoSafe(func() {
		defer c.wg.Done()
		c.runAlertPollLoop(runCtx, stop, alertPollTicker)
	})

	c.log.Info("Sync coordinator started",
		logger.Field("snapshot_interval", c.snapshotInterval),
		logger.Field("alert_poll_interval", c.alertPollInterval))
}

// Stop tears down the timers and the push channel and waits for the loops to
// exit. A timer firing after Stop is a no-op: both loops are gone and their
// tickers stopped.
func (c *coordinatorService) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stopChan)
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if c.channel != nil {
		c.channel.Close()
	}
	c.wg.Wait()

	c.subMu.Lock()
	for id, ch := range c.subscribers {
		close(ch)
		delete(c.subscribers, id)
	}
	c.subMu.Unlock()

	c.log.Info("Sync coordinator stopped")
}

// RefreshNow forces an out-of-cycle snapshot fetch on the countdown loop.
func (c *coordinatorService) RefreshNow() {
	select {
	case c.refreshChan <- struct{}{}:
	default:
	}
}

// runCountdownLoop decrements the snapshot countdown once per second. At zero
// it fetches and resets; success and failure both reset so a dead backend
// keeps a steady cycle. Push events never touch the countdown.
func (c *coordinatorService) runCountdownLoop(ctx context.Context, stop chan struct{}, ticker clock.Ticker) {
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-c.refreshChan:
			c.fetchSnapshot(ctx)
		case <-ticker.C():
			if c.countdown.Add(-1) <= 0 {
				c.fetchSnapshot(ctx)
			}
		}
	}
}

// runAlertPollLoop re-fetches the active-alert list on a fixed interval.
func (c *coordinatorService) runAlertPollLoop(ctx context.Context, stop chan struct{}, ticker clock.Ticker) {
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C():
			c.pollAlerts(ctx)
		}
	}
}

func (c *coordinatorService) fetchSnapshot(ctx context.Context) {
	defer c.countdown.Store(int32(c.snapshotInterval / time.Second))

	snapshot, err := c.repo.FetchSnapshot(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.metrics.PollFailures.WithLabelValues("snapshot").Inc()
		c.log.ErrorContext(ctx, "Snapshot refresh failed", logger.ErrorField(err))
		c.dispatcher.NotifyFailure("Snapshot refresh failed, showing last good data")
		return
	}

	c.store.SetSnapshot(snapshot)
	now := c.clk.Now()
	c.mu.Lock()
	c.lastSnapshotAt = &now
	c.mu.Unlock()
}

func (c *coordinatorService) pollAlerts(ctx context.Context) {
	alerts, err := c.repo.FetchActiveAlerts(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.metrics.PollFailures.WithLabelValues("alerts").Inc()
		c.log.ErrorContext(ctx, "Active-alert poll failed", logger.ErrorField(err))
		c.dispatcher.NotifyFailure("Alert check failed, retrying on next cycle")
		return
	}
	c.ingest(ctx, alerts)
}

// ingest runs every incoming alert through the dedup store; only a fresh
// identity triggers notification and fan-out, regardless of which transport
// delivered it.
func (c *coordinatorService) ingest(ctx context.Context, alerts []entity.Alert) {
	for i := range alerts {
		c.metrics.AlertsReceived.Inc()
		if !c.store.Offer(alerts[i]) {
			c.metrics.AlertsDeduplicated.Inc()
			continue
		}
		c.dispatcher.Notify(ctx, &alerts[i])
		c.publish(alerts[i])
	}
}

// HandleStreamMessage is the push-channel fan-in. Malformed payloads are
// logged and dropped; the channel itself is never torn down over one bad
// message.
func (c *coordinatorService) HandleStreamMessage(msg dto.StreamMessage) {
	ctx := context.Background()
	switch msg.Event {
	case common.StreamEventPatternAlert:
		alerts, err := c.normalizer.Normalize(msg.Data, normalizer.SourcePatternAlert)
		if err != nil {
			c.log.Warn("Dropping malformed pattern alert", logger.ErrorField(err))
			return
		}
		c.ingest(ctx, alerts)

	case common.StreamEventAlertBatch:
		alerts, err := c.normalizer.Normalize(msg.Data, normalizer.SourceAlertBatch)
		if err != nil {
			c.log.Warn("Dropping malformed alert batch", logger.ErrorField(err))
			return
		}
		c.ingest(ctx, alerts)

	case common.StreamEventScanUpdate:
		var payload dto.ScanSnapshotPayload
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			c.log.Warn("Dropping malformed scan update", logger.ErrorField(err))
			return
		}
		snapshot, err := c.normalizer.NormalizeSnapshot(&payload)
		if err != nil {
			c.log.Warn("Dropping malformed scan update", logger.ErrorField(err))
			return
		}
		// Pushed snapshots replace state but do not reset the poll countdown.
		c.store.SetSnapshot(snapshot)

	case common.StreamEventMarketTick:
		tick, err := c.normalizer.NormalizeTick(msg.Data)
		if err != nil {
			c.log.Debug("Dropping malformed market tick", logger.ErrorField(err))
			return
		}
		c.store.SetLastPrice(tick.Symbol, tick.Price)

	default:
		c.log.Debug("Ignoring unknown stream event", logger.StringField("event", msg.Event))
	}
}

// HandleConnectionState observes push-channel transitions for metrics and
// operator visibility. Polling continues regardless, so a dead channel only
// degrades real-time-ness, never consistency.
func (c *coordinatorService) HandleConnectionState(state entity.ConnectionState) {
	switch state {
	case entity.ConnDisconnected:
		c.metrics.ConnectionState.Set(0)
	case entity.ConnConnecting:
		c.metrics.ConnectionState.Set(1)
		c.metrics.StreamReconnects.Inc()
	case entity.ConnConnected:
		c.metrics.ConnectionState.Set(2)
	}
	c.log.Info("Push channel state changed", logger.StringField("state", string(state)))
}

// Alerts returns the deduplicated history, most recent arrival first.
func (c *coordinatorService) Alerts() []entity.Alert {
	return c.store.Alerts()
}

// Snapshot returns the last successful scan snapshot.
func (c *coordinatorService) Snapshot() *entity.ScanSnapshot {
	return c.store.Snapshot()
}

// Overview derives the dashboard's headline counts.
func (c *coordinatorService) Overview() projection.Overview {
	return projection.BuildOverview(c.store.Alerts(), c.cfg.Sync.HighConfidenceThreshold)
}

// Filter returns the alerts matching the given options.
func (c *coordinatorService) Filter(opts projection.FilterOptions) []entity.Alert {
	return projection.Filter(c.store.Alerts(), opts)
}

// ConnectionState reports the push channel's current state.
func (c *coordinatorService) ConnectionState() entity.ConnectionState {
	if c.channel == nil {
		return entity.ConnDisconnected
	}
	return c.channel.State()
}

// CountdownSeconds reports the seconds until the next snapshot refresh.
func (c *coordinatorService) CountdownSeconds() int {
	v := c.countdown.Load()
	if v < 0 {
		return 0
	}
	return int(v)
}

// LastSnapshotAt reports when the last successful snapshot arrived.
func (c *coordinatorService) LastSnapshotAt() *time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSnapshotAt
}

// Dismiss removes the alert locally and tells the backend in the background.
// The local removal never waits on the network.
func (c *coordinatorService) Dismiss(ctx context.Context, key string) error {
	if !c.store.Remove(key) {
		return ErrAlertNotFound
	}
	c.fireAndForget("dismiss", key, c.repo.DismissAlert)
	return nil
}

// Snooze removes the alert locally; the backend owns redelivery after the
// snooze window ends.
func (c *coordinatorService) Snooze(ctx context.Context, key string) error {
	if !c.store.Remove(key) {
		return ErrAlertNotFound
	}
	c.fireAndForget("snooze", key, c.repo.SnoozeAlert)
	return nil
}

// Execute asks the backend to open a paper trade from the alert. The alert
// stays in the history.
func (c *coordinatorService) Execute(ctx context.Context, key string) error {
	if _, ok := c.store.Get(key); !ok {
		return ErrAlertNotFound
	}
	c.fireAndForget("execute", key, c.repo.ExecuteAlert)
	return nil
}

// Subscribe returns a channel receiving every newly surfaced alert plus a
// cancel func. Slow subscribers drop alerts rather than stall ingestion.
func (c *coordinatorService) Subscribe() (<-chan entity.Alert, func()) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	id := c.nextSubID
	c.nextSubID++
	ch := make(chan entity.Alert, 16)
	c.subscribers[id] = ch
	return ch, func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		if existing, ok := c.subscribers[id]; ok {
			close(existing)
			delete(c.subscribers, id)
		}
	}
}

func (c *coordinatorService) publish(alert entity.Alert) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subscribers {
		select {
		case ch <- alert:
		default:
		}
	}
}

func (c *coordinatorService) fireAndForget(op, key string, call func(ctx context.Context, key string) error) {
	utils.GoSafe(func() {
		ctx, cancel := context.WithTimeout(context.Background(), actionCallTimeout)
		defer cancel()
		if err := call(ctx, key); err != nil {
			c.log.Warn("Backend action call failed",
				logger.StringField("op", op),
				logger.StringField("alert", key),
				logger.ErrorField(err))
		}
	})
}
