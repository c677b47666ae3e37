package telegram

import (
	"fmt"
	"strings"

	"market-sentry/internal/entity"
)

// FormatAlert renders one alert as a Markdown message for Telegram.
func FormatAlert(a *entity.Alert) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("🚨 *%s Pattern Detected* 🚨\n\n", a.Kind))
	b.WriteString(fmt.Sprintf("📈 *Symbol:* %s\n", a.Symbol))
	b.WriteString(fmt.Sprintf("💰 *Price:* %s\n", a.Price.String()))

	if a.HasConfidence() {
		b.WriteString(fmt.Sprintf("🎯 *Confidence:* %.0f%%\n", a.ConfidencePct))
	}

	b.WriteString(fmt.Sprintf("%s *Action:* %s\n", actionIcon(a.SuggestedAction), a.SuggestedAction))

	if a.Risk != nil {
		b.WriteString("\n📊 *Suggested Levels*\n")
		b.WriteString(fmt.Sprintf("  • Entry: %s\n", a.Risk.Entry.String()))
		b.WriteString(fmt.Sprintf("  • Stop Loss: %s\n", a.Risk.StopLoss.String()))
		b.WriteString(fmt.Sprintf("  • Take Profit: %s\n", a.Risk.TakeProfit.String()))
		b.WriteString(fmt.Sprintf("  • Risk/Reward: %.2f\n", a.Risk.RiskRewardRatio))
	}

	if a.Explanation != "" {
		b.WriteString(fmt.Sprintf("\n💬 %s\n", a.Explanation))
	}

	b.WriteString(fmt.Sprintf("\n🕐 %s", a.EmittedAt.Format("2006-01-02 15:04:05 MST")))

	return b.String()
}

// FormatDailyDigest renders the day's alert history as Markdown messages,
// chunked so each stays under Telegram's message size limit.
func FormatDailyDigest(alerts []entity.Alert) []string {
	if len(alerts) == 0 {
		return []string{"📭 No alerts surfaced today."}
	}

	const maxLen = 4090
	var messages []string
	var current strings.Builder
	part := 1

	startNewPart := func() {
		current.Reset()
		if part == 1 {
			current.WriteString("📋 *Daily Alert Digest* 📋\n\n")
		} else {
			current.WriteString(fmt.Sprintf("---*Daily Alert Digest, Part %d*---\n\n", part))
		}
	}

	startNewPart()

	for i := range alerts {
		a := &alerts[i]
		var entry strings.Builder
		entry.WriteString(fmt.Sprintf("%s *%s* — %s @ %s", actionIcon(a.SuggestedAction), a.Symbol, a.Kind, a.Price.String()))
		if a.HasConfidence() {
			entry.WriteString(fmt.Sprintf(" (%.0f%%)", a.ConfidencePct))
		}
		entry.WriteString(fmt.Sprintf("\n   %s\n", a.EmittedAt.Format("15:04:05")))

		if current.Len()+entry.Len() > maxLen {
			messages = append(messages, current.String())
			part++
			startNewPart()
		}
		current.WriteString(entry.String())
	}

	messages = append(messages, current.String())
	return messages
}

func actionIcon(action entity.SuggestedAction) string {
	switch action {
	case entity.ActionBuy:
		return "🟢"
	case entity.ActionSell:
		return "🔴"
	case entity.ActionContinuation:
		return "🔵"
	default:
		return "⚪"
	}
}
