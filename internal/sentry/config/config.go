package config

import (
	"market-sentry/pkg/config"
)

// Backend holds configuration for the upstream market-analysis REST API.
type Backend struct {
	BaseURL             string `mapstructure:"base_url"`
	RequestTimeout      string `mapstructure:"request_timeout"`
	MaxRetries          int    `mapstructure:"max_retries"`
	RetryBackoffBase    string `mapstructure:"retry_backoff_base"`
	MaxRequestPerMinute int    `mapstructure:"max_request_per_minute"`
	APIKey              string `mapstructure:"api_key"`
}

// Stream holds configuration for the backend push channel.
type Stream struct {
	URL               string `mapstructure:"url"`
	MaxReconnects     int    `mapstructure:"max_reconnects"`
	ReconnectDelay    string `mapstructure:"reconnect_delay"`
	MaxReconnectDelay string `mapstructure:"max_reconnect_delay"`
	PingInterval      string `mapstructure:"ping_interval"`
}

// Sync holds the polling cadences and dedup store sizing.
type Sync struct {
	SnapshotInterval        string  `mapstructure:"snapshot_interval"`
	AlertPollInterval       string  `mapstructure:"alert_poll_interval"`
	HistoryCap              int     `mapstructure:"history_cap"`
	HighConfidenceThreshold float64 `mapstructure:"high_confidence_threshold"`
}

// Notify holds notification dispatcher configuration.
type Notify struct {
	ToastDuration        string `mapstructure:"toast_duration"`
	FailureToastInterval string `mapstructure:"failure_toast_interval"`
	SoundEnabled         bool   `mapstructure:"sound_enabled"`
	Permission           string `mapstructure:"permission"`
	DigestSchedule       string `mapstructure:"digest_schedule"`
}

// Config holds the full configuration for the sentry service.
type Config struct {
	App      config.App      `mapstructure:"app"`
	Logger   config.Logger   `mapstructure:"logger"`
	Redis    config.Redis    `mapstructure:"redis"`
	API      config.API      `mapstructure:"api"`
	Telegram config.Telegram `mapstructure:"telegram"`
	Backend  Backend         `mapstructure:"backend"`
	Stream   Stream          `mapstructure:"stream"`
	Sync     Sync            `mapstructure:"sync"`
	Notify   Notify          `mapstructure:"notify"`
}

// Load loads the sentry configuration from the given path.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := config.Load(path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
