package notify

import (
	"context"
	"encoding/json"

	"market-sentry/internal/entity"
	"market-sentry/pkg/common"
	redisPkg "market-sentry/pkg/redis"

	"github.com/redis/go-redis/v9"
)

// StreamStrategy publishes every new alert to a Redis stream so downstream
// consumers (paper-trading bots, recorders) can react without polling this
// service.
type StreamStrategy struct {
	redisClient  *redisPkg.Client
	streamMaxLen int64
}

// NewStreamStrategy creates a Redis stream notification strategy.
func NewStreamStrategy(redisClient *redisPkg.Client, streamMaxLen int64) *StreamStrategy {
	return &StreamStrategy{redisClient: redisClient, streamMaxLen: streamMaxLen}
}

// Name returns the sink name.
func (s *StreamStrategy) Name() string { return "redis-stream" }

// Send appends the alert to the stream, trimming it to the configured length.
func (s *StreamStrategy) Send(ctx context.Context, alert *entity.Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return err
	}
	return s.redisClient.XAdd(ctx, &redis.XAddArgs{
		Stream: common.RedisStreamNewAlerts,
		Values: map[string]interface{}{"payload": payload},
		MaxLen: s.streamMaxLen,
	}).Err()
}
