package common

const (
	RedisStreamNewAlerts = "sentry.alerts.new"

	// Named events on the backend push channel.
	StreamEventSessionAck   = "session.ack"
	StreamEventPatternAlert = "pattern.alert"
	StreamEventAlertBatch   = "alerts.batch"
	StreamEventScanUpdate   = "scan.update"
	StreamEventMarketTick   = "market.tick"
)
