// Package normalizer maps the backend's heterogeneous push/pull payloads into
// the unified alert shape. Normalization is fail-soft: a malformed payload is
// reported to the caller for logging and dropped, it never aborts a batch or
// panics.
package normalizer

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"market-sentry/internal/entity"
	"market-sentry/internal/sentry/dto"
	"market-sentry/pkg/clock"
	"market-sentry/pkg/logger"
)

// SourceKind discriminates the payload shapes the backend delivers.
type SourceKind string

const (
	SourcePatternAlert SourceKind = "pattern-alert"
	SourceAlertBatch   SourceKind = "alert-batch"
	SourceScanSnapshot SourceKind = "scan-snapshot"
	SourceMarketTick   SourceKind = "market-tick"
)

// MalformedPayloadError reports a payload that could not be normalized.
type MalformedPayloadError struct {
	Source SourceKind
	Reason string
	Err    error
}

func (e *MalformedPayloadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed %s payload: %s: %v", e.Source, e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed %s payload: %s", e.Source, e.Reason)
}

func (e *MalformedPayloadError) Unwrap() error { return e.Err }

// Normalizer converts raw backend payloads into entity.Alert values.
type Normalizer struct {
	log *logger.Logger
	clk clock.Clock
}

// New creates a Normalizer.
func New(log *logger.Logger, clk clock.Clock) *Normalizer {
	return &Normalizer{log: log, clk: clk}
}

// Normalize maps a raw payload of the given source kind into zero or more
// alerts. Individually malformed entries inside a batch are logged and
// skipped; only an unparseable envelope yields a MalformedPayloadError.
// Market ticks and scan snapshots produce no alerts.
func (n *Normalizer) Normalize(raw []byte, source SourceKind) ([]entity.Alert, error) {
	switch source {
	case SourcePatternAlert:
		var payload dto.PatternAlertPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, &MalformedPayloadError{Source: source, Reason: "invalid JSON", Err: err}
		}
		alert, err := n.normalizeAlert(&payload)
		if err != nil {
			return nil, err
		}
		return []entity.Alert{*alert}, nil

	case SourceAlertBatch:
		var payload dto.AlertBatchPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			// Some endpoints return a bare array instead of the envelope.
			if errList := json.Unmarshal(raw, &payload.Alerts); errList != nil {
				return nil, &MalformedPayloadError{Source: source, Reason: "invalid JSON", Err: err}
			}
		}
		alerts := make([]entity.Alert, 0, len(payload.Alerts))
		for i := range payload.Alerts {
			alert, err := n.normalizeAlert(&payload.Alerts[i])
			if err != nil {
				n.log.Warn("Dropping malformed alert in batch", logger.ErrorField(err), logger.IntField("index", i))
				continue
			}
			alerts = append(alerts, *alert)
		}
		return alerts, nil

	case SourceScanSnapshot, SourceMarketTick:
		// Informational payloads that carry no alert of their own.
		return nil, nil

	default:
		return nil, &MalformedPayloadError{Source: source, Reason: "unknown source kind"}
	}
}

// NormalizeSnapshot maps a snapshot payload into a ScanSnapshot, enforcing the
// at-most-once-per-symbol invariant by keeping the first occurrence.
func (n *Normalizer) NormalizeSnapshot(payload *dto.ScanSnapshotPayload) (*entity.ScanSnapshot, error) {
	takenAt, err := parseTimestamp(payload.Scan.TakenAt)
	if err != nil {
		takenAt = n.clk.Now()
	}

	seen := make(map[string]struct{}, len(payload.Scan.Results))
	results := make([]entity.AssetResult, 0, len(payload.Scan.Results))
	for _, raw := range payload.Scan.Results {
		if raw.Symbol == "" {
			n.log.Warn("Dropping snapshot row without symbol")
			continue
		}
		if _, dup := seen[raw.Symbol]; dup {
			n.log.Warn("Dropping duplicate snapshot row", logger.StringField("symbol", raw.Symbol))
			continue
		}
		seen[raw.Symbol] = struct{}{}

		status := entity.AssetStatusIdle
		if raw.Status == string(entity.AssetStatusPattern) {
			status = entity.AssetStatusPattern
		}
		confidence := entity.ConfidenceUnknown
		if raw.Confidence != nil {
			confidence = *raw.Confidence
		}
		results = append(results, entity.AssetResult{
			Symbol:        raw.Symbol,
			Status:        status,
			Pattern:       raw.Pattern,
			ConfidencePct: confidence,
			Price:         raw.Price,
		})
	}

	return &entity.ScanSnapshot{TakenAt: takenAt, Results: results}, nil
}

// NormalizeTick maps a market-tick payload, used only to refresh snapshot
// prices. A tick without a symbol is dropped.
func (n *Normalizer) NormalizeTick(raw []byte) (*dto.MarketTickPayload, error) {
	var tick dto.MarketTickPayload
	if err := json.Unmarshal(raw, &tick); err != nil {
		return nil, &MalformedPayloadError{Source: SourceMarketTick, Reason: "invalid JSON", Err: err}
	}
	if tick.Symbol == "" {
		return nil, &MalformedPayloadError{Source: SourceMarketTick, Reason: "missing symbol"}
	}
	return &tick, nil
}

func (n *Normalizer) normalizeAlert(payload *dto.PatternAlertPayload) (*entity.Alert, error) {
	if payload.Symbol == "" {
		return nil, &MalformedPayloadError{Source: SourcePatternAlert, Reason: "missing symbol"}
	}

	emittedAt, err := parseTimestamp(payload.Timestamp)
	if err != nil {
		return nil, &MalformedPayloadError{Source: SourcePatternAlert, Reason: "unparseable timestamp " + strconv.Quote(payload.Timestamp), Err: err}
	}

	confidence := entity.ConfidenceUnknown
	if payload.Confidence != nil {
		confidence = *payload.Confidence
	}

	alert := &entity.Alert{
		ID:              payload.ID,
		Symbol:          payload.Symbol,
		EmittedAt:       emittedAt,
		Kind:            payload.Pattern,
		ConfidencePct:   confidence,
		Price:           payload.Price,
		SuggestedAction: normalizeAction(payload.Action),
		Explanation:     payload.Explanation,
		ReceivedAt:      n.clk.Now(),
	}

	if payload.Risk != nil {
		risk := &entity.RiskSuggestion{
			Entry:           payload.Risk.Entry,
			StopLoss:        payload.Risk.StopLoss,
			TakeProfit:      payload.Risk.TakeProfit,
			RiskRewardRatio: payload.Risk.RiskRewardRatio,
		}
		if err := risk.Validate(alert.SuggestedAction); err != nil {
			n.log.Warn("Dropping implausible risk suggestion", logger.ErrorField(err), logger.StringField("symbol", alert.Symbol))
		} else {
			alert.Risk = risk
		}
	}

	return alert, nil
}

func normalizeAction(raw string) entity.SuggestedAction {
	switch entity.SuggestedAction(raw) {
	case entity.ActionBuy, entity.ActionSell, entity.ActionContinuation:
		return entity.SuggestedAction(raw)
	default:
		return entity.ActionNone
	}
}

// parseTimestamp accepts RFC3339 strings and unix epoch values in seconds or
// milliseconds, the three formats observed from the backend.
func parseTimestamp(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	epoch, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognized timestamp format")
	}
	if epoch > 1e12 {
		return time.UnixMilli(epoch).UTC(), nil
	}
	return time.Unix(epoch, 0).UTC(), nil
}
