package notify

import (
	"context"

	"market-sentry/internal/entity"
)

// Strategy defines one external notification sink. Sinks are best-effort: a
// send failure is logged by the dispatcher and swallowed.
type Strategy interface {
	Name() string
	Send(ctx context.Context, alert *entity.Alert) error
}
