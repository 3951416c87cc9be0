package ports

import (
	"context"

	"tradecore/internal/domain"
)

// Alerter defines the alerting collaborator. Notify is fire-and-forget from
// the core's perspective: delivery failures are the adapter's problem and
// must never block or fail the caller.
type Alerter interface {
	Notify(ctx context.Context, message string, severity domain.AlertSeverity)
}
