package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// AssetStatus describes the scan state of one monitored asset.
type AssetStatus string

const (
	AssetStatusIdle    AssetStatus = "idle"
	AssetStatusPattern AssetStatus = "pattern"
)

// AssetResult is the scan outcome for a single monitored asset.
type AssetResult struct {
	Symbol        string          `json:"symbol"`
	Status        AssetStatus     `json:"status"`
	Pattern       string          `json:"pattern,omitempty"`
	ConfidencePct float64         `json:"confidence_pct,omitempty"`
	Price         decimal.Decimal `json:"price,omitempty"`
}

// ScanSnapshot is a full periodic refresh of monitored-asset state. Each
// symbol appears at most once. A new snapshot replaces the previous one
// wholesale; snapshots are never partially merged.
type ScanSnapshot struct {
	TakenAt time.Time     `json:"taken_at"`
	Results []AssetResult `json:"results"`
}
