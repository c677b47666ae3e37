package dto

import (
	"time"

	"market-sentry/internal/entity"
)

// ErrorResponse represents a generic error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// StatusResponse reports the sync coordinator's connection and refresh state.
type StatusResponse struct {
	ConnectionState  entity.ConnectionState `json:"connection_state"`
	CountdownSeconds int                    `json:"countdown_seconds"`
	LastSnapshotAt   *time.Time             `json:"last_snapshot_at,omitempty"`
	AlertCount       int                    `json:"alert_count"`
}

// OverviewResponse carries the dashboard's headline counts.
type OverviewResponse struct {
	ActiveAlertCount    int `json:"active_alert_count"`
	HighConfidenceCount int `json:"high_confidence_count"`
	BuySignalCount      int `json:"buy_signal_count"`
	SellSignalCount     int `json:"sell_signal_count"`
}

// ToastResponse is one transient notice in the toast feed.
type ToastResponse struct {
	ID        string    `json:"id"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Sound     bool      `json:"sound"`
	CreatedAt time.Time `json:"created_at"`
}

// UpdatePreferenceRequest updates the notification preferences.
type UpdatePreferenceRequest struct {
	SoundEnabled           *bool   `json:"sound_enabled,omitempty"`
	NotificationPermission *string `json:"notification_permission,omitempty"`
}
