package entity

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SuggestedAction is the trade action the backend recommends for an alert.
type SuggestedAction string

const (
	ActionBuy          SuggestedAction = "BUY"
	ActionSell         SuggestedAction = "SELL"
	ActionContinuation SuggestedAction = "CONTINUATION"
	ActionNone         SuggestedAction = "NONE"
)

// ConfidenceUnknown marks an alert whose confidence was absent from the payload.
const ConfidenceUnknown float64 = -1

// RiskSuggestion carries the backend's suggested trade levels for an alert.
type RiskSuggestion struct {
	Entry           decimal.Decimal `json:"entry"`
	StopLoss        decimal.Decimal `json:"stop_loss"`
	TakeProfit      decimal.Decimal `json:"take_profit"`
	RiskRewardRatio float64         `json:"risk_reward_ratio"`
}

// Validate checks the sanity of the suggested levels relative to the action:
// the stop loss must sit below the entry for a BUY and above it for a SELL.
func (r *RiskSuggestion) Validate(action SuggestedAction) error {
	if r.Entry.Sign() <= 0 || r.StopLoss.Sign() <= 0 || r.TakeProfit.Sign() <= 0 {
		return fmt.Errorf("risk suggestion levels must be positive")
	}
	switch action {
	case ActionBuy:
		if r.StopLoss.GreaterThanOrEqual(r.Entry) {
			return fmt.Errorf("stop loss %s must be below entry %s for a BUY", r.StopLoss, r.Entry)
		}
	case ActionSell:
		if r.StopLoss.LessThanOrEqual(r.Entry) {
			return fmt.Errorf("stop loss %s must be above entry %s for a SELL", r.StopLoss, r.Entry)
		}
	}
	return nil
}

// Alert is one detected condition surfaced to the user. Alerts are immutable
// once created; a redelivery with the same identity is discarded, never merged.
type Alert struct {
	ID              int64           `json:"id,omitempty"`
	Symbol          string          `json:"symbol"`
	EmittedAt       time.Time       `json:"emitted_at"`
	Kind            string          `json:"kind"`
	ConfidencePct   float64         `json:"confidence_pct"`
	Price           decimal.Decimal `json:"price"`
	SuggestedAction SuggestedAction `json:"suggested_action"`
	Explanation     string          `json:"explanation,omitempty"`
	Risk            *RiskSuggestion `json:"risk,omitempty"`
	ReceivedAt      time.Time       `json:"received_at"`
}

// Key returns the canonical identity of the alert: the backend-assigned
// numeric id when present, otherwise symbol plus emission timestamp. The key
// is stable across redelivery from any transport.
func (a *Alert) Key() string {
	if a.ID > 0 {
		return fmt.Sprintf("id:%d", a.ID)
	}
	return a.Symbol + "|" + a.EmittedAt.UTC().Format(time.RFC3339Nano)
}

// HasConfidence reports whether the backend supplied a confidence score.
func (a *Alert) HasConfidence() bool {
	return a.ConfidencePct >= 0
}
