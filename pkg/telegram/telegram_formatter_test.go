package telegram

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"market-sentry/internal/entity"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatAlert(t *testing.T) {
	alert := &entity.Alert{
		ID:              7,
		Symbol:          "BTC",
		EmittedAt:       time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
		Kind:            "Hammer",
		ConfidencePct:   88,
		Price:           decimal.RequireFromString("42000.50"),
		SuggestedAction: entity.ActionBuy,
		Explanation:     "Strong reversal signal on the 4h candle",
		Risk: &entity.RiskSuggestion{
			Entry:           decimal.NewFromInt(42000),
			StopLoss:        decimal.NewFromInt(41000),
			TakeProfit:      decimal.NewFromInt(45000),
			RiskRewardRatio: 3,
		},
	}

	msg := FormatAlert(alert)
	assert.Contains(t, msg, "*Hammer Pattern Detected*")
	assert.Contains(t, msg, "*Symbol:* BTC")
	assert.Contains(t, msg, "*Price:* 42000.5")
	assert.Contains(t, msg, "*Confidence:* 88%")
	assert.Contains(t, msg, "🟢 *Action:* BUY")
	assert.Contains(t, msg, "Stop Loss: 41000")
	assert.Contains(t, msg, "Strong reversal signal")
}

func TestFormatAlert_UnknownConfidenceOmitted(t *testing.T) {
	alert := &entity.Alert{
		Symbol:          "ETH",
		EmittedAt:       time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
		Kind:            "Doji",
		ConfidencePct:   entity.ConfidenceUnknown,
		Price:           decimal.NewFromInt(3100),
		SuggestedAction: entity.ActionNone,
	}

	msg := FormatAlert(alert)
	assert.NotContains(t, msg, "Confidence")
	assert.Contains(t, msg, "⚪ *Action:* NONE")
}

func TestFormatDailyDigest_Empty(t *testing.T) {
	messages := FormatDailyDigest(nil)
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0], "No alerts surfaced today")
}

func TestFormatDailyDigest_SingleMessage(t *testing.T) {
	alerts := []entity.Alert{
		{Symbol: "BTC", Kind: "Hammer", ConfidencePct: 88, Price: decimal.NewFromInt(42000), SuggestedAction: entity.ActionBuy, EmittedAt: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)},
		{Symbol: "ETH", Kind: "Doji", ConfidencePct: entity.ConfidenceUnknown, Price: decimal.NewFromInt(3100), SuggestedAction: entity.ActionSell, EmittedAt: time.Date(2026, 8, 1, 11, 0, 0, 0, time.UTC)},
	}

	messages := FormatDailyDigest(alerts)
	require.Len(t, messages, 1)
	assert.True(t, strings.Contains(messages[0], "*Daily Alert Digest*"))
	assert.Contains(t, messages[0], "*BTC*")
	assert.Contains(t, messages[0], "(88%)")
	assert.Contains(t, messages[0], "*ETH*")
	// Unknown confidence never renders a percentage for that entry.
	assert.Equal(t, 1, strings.Count(messages[0], "%)"))
}

func TestFormatDailyDigest_ChunksAtMessageLimit(t *testing.T) {
	var alerts []entity.Alert
	for i := 0; i < 300; i++ {
		alerts = append(alerts, entity.Alert{
			Symbol:          fmt.Sprintf("SYM%03d", i),
			Kind:            "Three Line Strike",
			ConfidencePct:   float64(50 + i%50),
			Price:           decimal.NewFromInt(int64(1000 + i)),
			SuggestedAction: entity.ActionBuy,
			EmittedAt:       time.Date(2026, 8, 1, 9, 0, i%60, 0, time.UTC),
		})
	}

	messages := FormatDailyDigest(alerts)
	require.Greater(t, len(messages), 1)

	for _, msg := range messages {
		assert.LessOrEqual(t, len(msg), 4096)
	}
	assert.Contains(t, messages[0], "*Daily Alert Digest*")
	assert.Contains(t, messages[1], "Part 2")

	// Every alert lands in exactly one chunk.
	var total int
	for _, msg := range messages {
		total += strings.Count(msg, "*SYM")
	}
	assert.Equal(t, 300, total)
}
