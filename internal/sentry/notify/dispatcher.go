// Package notify dispatches the side effects for newly surfaced alerts: the
// toast feed, the sound flag, and the external notification sinks. Exactly
// once delivery relies on the dedup store's verdict being the sole trigger
// gate; the dispatcher itself never deduplicates.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"market-sentry/internal/entity"
	"market-sentry/internal/sentry/metrics"
	"market-sentry/pkg/logger"

	"golang.org/x/time/rate"
)

const defaultFailureToastInterval = 30 * time.Second

// Dispatcher fans a new alert out to every enabled notification effect.
type Dispatcher struct {
	log     *logger.Logger
	feed    *ToastFeed
	metrics *metrics.Metrics

	// userSinks mirror the browser's system notifications and only fire
	// when the user granted notification permission. fanoutSinks feed
	// downstream machines and always fire.
	userSinks   []Strategy
	fanoutSinks []Strategy

	failureLimiter *rate.Limiter

	mu    sync.RWMutex
	prefs entity.UserPreference
}

// NewDispatcher creates a dispatcher. Nil strategies are skipped so callers
// can pass unconfigured sinks directly.
func NewDispatcher(log *logger.Logger, feed *ToastFeed, prefs entity.UserPreference, failureToastInterval time.Duration, m *metrics.Metrics, userSinks, fanoutSinks []Strategy) *Dispatcher {
	if failureToastInterval <= 0 {
		failureToastInterval = defaultFailureToastInterval
	}
	return &Dispatcher{
		log:            log,
		feed:           feed,
		metrics:        m,
		userSinks:      compact(userSinks),
		fanoutSinks:    compact(fanoutSinks),
		failureLimiter: rate.NewLimiter(rate.Every(failureToastInterval), 1),
		prefs:          prefs,
	}
}

// Notify fires every effect for a new alert. Each effect is independently
// preference-gated and best-effort; a failing sink is logged and swallowed so
// the sync pipeline never stalls on a notification.
func (d *Dispatcher) Notify(ctx context.Context, alert *entity.Alert) {
	prefs := d.Preferences()

	msg := fmt.Sprintf("%s: %s pattern on %s", alert.SuggestedAction, alert.Kind, alert.Symbol)
	d.feed.Push(ToastLevelAlert, msg, prefs.SoundEnabled)
	d.metrics.NotificationsSent.WithLabelValues("toast").Inc()

	d.send(ctx, d.fanoutSinks, alert)
	if prefs.NotificationPermission == entity.PermissionGranted {
		d.send(ctx, d.userSinks, alert)
	}
}

// NotifyFailure surfaces a transient failure as a warning toast. Repeated
// failures are rate-limited so a dead backend does not spam the feed.
func (d *Dispatcher) NotifyFailure(message string) {
	if !d.failureLimiter.Allow() {
		return
	}
	d.feed.Push(ToastLevelWarning, message, false)
}

// Preferences returns the current notification preferences.
func (d *Dispatcher) Preferences() entity.UserPreference {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.prefs
}

// SetPreferences replaces the notification preferences.
func (d *Dispatcher) SetPreferences(prefs entity.UserPreference) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.prefs = prefs
}

func (d *Dispatcher) send(ctx context.Context, sinks []Strategy, alert *entity.Alert) {
	for _, s := range sinks {
		if err := s.Send(ctx, alert); err != nil {
			d.log.ErrorContext(ctx, "Notification sink failed",
				logger.ErrorField(err),
				logger.StringField("sink", s.Name()),
				logger.StringField("alert", alert.Key()))
			continue
		}
		d.metrics.NotificationsSent.WithLabelValues(s.Name()).Inc()
	}
}

func compact(sinks []Strategy) []Strategy {
	out := make([]Strategy, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}
