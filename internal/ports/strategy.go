package ports

import (
	"context"

	"tradecore/internal/domain"
)

// Strategy defines the contract for a unit of decision logic bound to one
// symbol. The dispatcher guarantees a strategy only ever sees ticks for its
// own symbol, delivered in arrival order, and never runs two of the
// strategy's handlers concurrently, so implementations may keep plain internal
// state (price history, indicator windows) without synchronization.
type Strategy interface {
	// ID uniquely identifies the strategy instance; subscription is
	// idempotent per ID.
	ID() string

	// Symbol returns the single symbol this strategy trades.
	Symbol() string

	// OnTick updates internal indicators and may synchronously emit zero or
	// more signals (push model).
	OnTick(ctx context.Context, tick domain.Tick) []domain.Signal

	// GenerateSignals is polled on an interval independent of tick arrival
	// (pull model); used by strategies that throttle their own signal rate.
	GenerateSignals(ctx context.Context) []domain.Signal

	// OnFill notifies the strategy once per terminal fill event for an order
	// its signal produced, including broker rejections.
	OnFill(ctx context.Context, order *domain.Order)
}
