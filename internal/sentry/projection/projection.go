// Package projection derives UI-ready values from the alert history. All
// functions are pure: same inputs, same outputs, no side effects.
package projection

import (
	"strings"
	"time"

	"market-sentry/internal/entity"
)

// DefaultHighConfidenceThreshold is the confidence cutoff for the
// high-confidence badge when none is configured.
const DefaultHighConfidenceThreshold = 85

// Overview carries the dashboard's headline counts.
type Overview struct {
	ActiveAlertCount    int
	HighConfidenceCount int
	BuySignalCount      int
	SellSignalCount     int
}

// BuildOverview computes the headline counts over the current history.
func BuildOverview(alerts []entity.Alert, highConfidenceThreshold float64) Overview {
	if highConfidenceThreshold <= 0 {
		highConfidenceThreshold = DefaultHighConfidenceThreshold
	}
	o := Overview{ActiveAlertCount: len(alerts)}
	for i := range alerts {
		a := &alerts[i]
		if a.HasConfidence() && a.ConfidencePct > highConfidenceThreshold {
			o.HighConfidenceCount++
		}
		switch a.SuggestedAction {
		case entity.ActionBuy:
			o.BuySignalCount++
		case entity.ActionSell:
			o.SellSignalCount++
		}
	}
	return o
}

// FilterOptions narrows the alert list. Zero values mean "no constraint".
type FilterOptions struct {
	Action entity.SuggestedAction
	Symbol string
	From   time.Time
	To     time.Time
	Search string
}

// Filter returns the alerts matching the options, preserving arrival order so
// the result is deterministic for a given history and option set.
func Filter(alerts []entity.Alert, opts FilterOptions) []entity.Alert {
	out := make([]entity.Alert, 0, len(alerts))
	search := strings.ToLower(opts.Search)
	for i := range alerts {
		a := &alerts[i]
		if opts.Action != "" && a.SuggestedAction != opts.Action {
			continue
		}
		if opts.Symbol != "" && !strings.EqualFold(a.Symbol, opts.Symbol) {
			continue
		}
		if !opts.From.IsZero() && a.EmittedAt.Before(opts.From) {
			continue
		}
		if !opts.To.IsZero() && a.EmittedAt.After(opts.To) {
			continue
		}
		if search != "" && !matchesSearch(a, search) {
			continue
		}
		out = append(out, *a)
	}
	return out
}

func matchesSearch(a *entity.Alert, search string) bool {
	return strings.Contains(strings.ToLower(a.Symbol), search) ||
		strings.Contains(strings.ToLower(a.Kind), search) ||
		strings.Contains(strings.ToLower(a.Explanation), search)
}
