package dto

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// StreamMessage is the envelope for every message on the backend push channel.
type StreamMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// RiskSuggestionPayload carries the backend's suggested trade levels.
type RiskSuggestionPayload struct {
	Entry           decimal.Decimal `json:"entry"`
	StopLoss        decimal.Decimal `json:"stop_loss"`
	TakeProfit      decimal.Decimal `json:"take_profit"`
	RiskRewardRatio float64         `json:"risk_reward_ratio"`
}

// PatternAlertPayload is a single pattern-detection alert as delivered by the
// backend, either pushed on the stream or returned by the active-alerts
// endpoint. Confidence and risk fields are optional.
type PatternAlertPayload struct {
	ID          int64                  `json:"id,omitempty"`
	Symbol      string                 `json:"symbol"`
	Timestamp   string                 `json:"timestamp"`
	Pattern     string                 `json:"pattern"`
	Confidence  *float64               `json:"confidence,omitempty"`
	Price       decimal.Decimal        `json:"price"`
	Action      string                 `json:"action,omitempty"`
	Explanation string                 `json:"explanation,omitempty"`
	Risk        *RiskSuggestionPayload `json:"risk,omitempty"`
}

// AlertBatchPayload is a batched new-alert delivery.
type AlertBatchPayload struct {
	Alerts []PatternAlertPayload `json:"alerts"`
}

// AssetResultPayload is one asset's row in a scan snapshot.
type AssetResultPayload struct {
	Symbol     string          `json:"symbol"`
	Status     string          `json:"status"`
	Pattern    string          `json:"pattern,omitempty"`
	Confidence *float64        `json:"confidence,omitempty"`
	Price      decimal.Decimal `json:"price,omitempty"`
}

// ScanSnapshotPayload is the body returned by the snapshot endpoint and
// carried by scan-update stream messages.
type ScanSnapshotPayload struct {
	Scan struct {
		TakenAt string               `json:"taken_at"`
		Results []AssetResultPayload `json:"results"`
	} `json:"scan"`
}

// MarketTickPayload is a raw market tick pushed on the stream.
type MarketTickPayload struct {
	Symbol      string          `json:"symbol"`
	Price       decimal.Decimal `json:"price"`
	TimestampMs int64           `json:"timestamp_ms"`
}
