package ports

import (
	"context"

	"tradecore/internal/domain"
)

// EventStore defines the persistence collaborator: an append-only stream of
// order state transitions and risk-gate decisions. The core does not require
// synchronous durability to proceed, but composite parent/child linkage must
// be recoverable from the journal after a process restart.
type EventStore interface {
	// AppendOrderEvent records one order state transition.
	AppendOrderEvent(ctx context.Context, event domain.OrderEvent) error

	// AppendRiskDecision records one risk-gate validation outcome.
	AppendRiskDecision(ctx context.Context, decision domain.RiskDecision) error

	// ReplayOrders rebuilds the last known state of every journaled order,
	// including parent/child linkage, in creation order.
	ReplayOrders(ctx context.Context) ([]*domain.Order, error)
}
