package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"market-sentry/internal/entity"
	"market-sentry/internal/sentry/config"
	"market-sentry/internal/sentry/dto"
	"market-sentry/internal/sentry/normalizer"
	"market-sentry/pkg/logger"

	"golang.org/x/time/rate"
)

const (
	defaultRequestTimeout = 15 * time.Second
	defaultBackoffBase    = time.Second
	defaultMaxRetries     = 2
)

// BackendRepository provides access to the market-analysis backend's REST API.
type BackendRepository interface {
	FetchSnapshot(ctx context.Context) (*entity.ScanSnapshot, error)
	FetchActiveAlerts(ctx context.Context) ([]entity.Alert, error)
	DismissAlert(ctx context.Context, key string) error
	SnoozeAlert(ctx context.Context, key string) error
	ExecuteAlert(ctx context.Context, key string) error
}

type backendRepository struct {
	cfg            *config.Config
	log            *logger.Logger
	httpClient     *http.Client
	requestLimiter *rate.Limiter
	normalizer     *normalizer.Normalizer
	maxRetries     int
	backoffBase    time.Duration
	sleep          func(ctx context.Context, d time.Duration) error
}

// NewBackendRepository creates a new backend repository.
func NewBackendRepository(cfg *config.Config, log *logger.Logger, n *normalizer.Normalizer) BackendRepository {
	timeout := defaultRequestTimeout
	if d, err := time.ParseDuration(cfg.Backend.RequestTimeout); err == nil && d > 0 {
		timeout = d
	}
	backoffBase := defaultBackoffBase
	if d, err := time.ParseDuration(cfg.Backend.RetryBackoffBase); err == nil && d > 0 {
		backoffBase = d
	}
	maxRetries := cfg.Backend.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	perMinute := cfg.Backend.MaxRequestPerMinute
	if perMinute <= 0 {
		perMinute = 60
	}

	return &backendRepository{
		cfg: cfg,
		log: log,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		requestLimiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
		normalizer:     n,
		maxRetries:     maxRetries,
		backoffBase:    backoffBase,
		sleep:          sleepCtx,
	}
}

// FetchSnapshot issues a timed GET against the snapshot endpoint and maps the
// body into a ScanSnapshot. Non-2xx status and malformed bodies are retried
// with exponential backoff before failing with a TransportError.
func (r *backendRepository) FetchSnapshot(ctx context.Context) (*entity.ScanSnapshot, error) {
	var snapshot *entity.ScanSnapshot
	err := r.sendWithRetry(ctx, http.MethodGet, r.cfg.Backend.BaseURL+"/api/scan/snapshot", "fetch snapshot", func(body []byte) error {
		var payload dto.ScanSnapshotPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			return fmt.Errorf("malformed snapshot body: %w", err)
		}
		s, err := r.normalizer.NormalizeSnapshot(&payload)
		if err != nil {
			return err
		}
		snapshot = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// FetchActiveAlerts retrieves the backend's current active-alert list. A
// garbled batch envelope is re-fetched like a non-2xx status; per-entry
// malformation inside a valid envelope is the normalizer's concern.
func (r *backendRepository) FetchActiveAlerts(ctx context.Context) ([]entity.Alert, error) {
	var alerts []entity.Alert
	err := r.sendWithRetry(ctx, http.MethodGet, r.cfg.Backend.BaseURL+"/api/alerts/active", "fetch active alerts", func(body []byte) error {
		out, err := r.normalizer.Normalize(body, normalizer.SourceAlertBatch)
		if err != nil {
			return err
		}
		alerts = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return alerts, nil
}

// DismissAlert tells the backend the user dismissed an alert. Fire-and-forget:
// the sync core does not depend on the response for correctness.
func (r *backendRepository) DismissAlert(ctx context.Context, key string) error {
	return r.sendWithRetry(ctx, http.MethodPost, r.cfg.Backend.BaseURL+"/api/alerts/"+key+"/dismiss", "dismiss alert", nil)
}

// SnoozeAlert tells the backend the user snoozed an alert.
func (r *backendRepository) SnoozeAlert(ctx context.Context, key string) error {
	return r.sendWithRetry(ctx, http.MethodPost, r.cfg.Backend.BaseURL+"/api/alerts/"+key+"/snooze", "snooze alert", nil)
}

// ExecuteAlert asks the backend to open a paper trade from an alert.
func (r *backendRepository) ExecuteAlert(ctx context.Context, key string) error {
	return r.sendWithRetry(ctx, http.MethodPost, r.cfg.Backend.BaseURL+"/api/alerts/"+key+"/execute", "execute alert", nil)
}

// sendWithRetry issues the request up to maxRetries+1 times with exponential
// backoff (base doubling per attempt). A malformed body counts as a failed
// attempt like a non-2xx status: decode runs inside the loop so a garbled
// response is re-fetched. Attempts on the returned TransportError is the
// number of requests actually issued. The retry budget is bounded so a dead
// backend cannot generate runaway load.
func (r *backendRepository) sendWithRetry(ctx context.Context, method, url, op string, decode func(body []byte) error) error {
	var (
		lastErr    error
		lastStatus int
		issued     int
	)

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			delay := r.backoffBase << (attempt - 1)
			r.log.DebugContext(ctx, "Retrying backend request",
				logger.StringField("op", op),
				logger.IntField("attempt", attempt+1),
				logger.Field("delay", delay))
			if err := r.sleep(ctx, delay); err != nil {
				return &TransportError{Op: op, StatusCode: lastStatus, Attempts: issued, Err: err}
			}
		}

		body, status, err := r.send(ctx, method, url)
		issued++
		if err == nil {
			if decode == nil {
				return nil
			}
			if err = decode(body); err == nil {
				return nil
			}
		}
		lastErr = err
		lastStatus = status

		if ctx.Err() != nil {
			break
		}
	}

	return &TransportError{Op: op, StatusCode: lastStatus, Attempts: issued, Err: lastErr}
}

func (r *backendRepository) send(ctx context.Context, method, url string) ([]byte, int, error) {
	if err := r.requestLimiter.Wait(ctx); err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")
	if r.cfg.Backend.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.cfg.Backend.APIKey)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resp.StatusCode, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(body, 200))
	}

	return body, resp.StatusCode, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
