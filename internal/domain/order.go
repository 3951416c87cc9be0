package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrTerminalOrder is returned when a mutation is attempted on an order that
// already reached a terminal status. Callers doing this have a bug; the
// mutation is rejected defensively instead of panicking.
var ErrTerminalOrder = errors.New("order already in terminal state")

// Order is the canonical record of an order owned by the lifecycle manager.
// After creation it is mutated only by broker events, and becomes immutable
// once a terminal status is reached.
type Order struct {
	ID                string      // Internal order identifier (UUID)
	Symbol            string      // Trading symbol
	Side              OrderSide   // BUY or SELL
	Kind              OrderKind   // MARKET, LIMIT, BRACKET or COVER
	Role              ChildRole   // Set only on composite children
	Quantity          float64     // Requested quantity, always > 0
	Price             float64     // Limit price (0 for market)
	StopPrice         float64     // Trigger price for stop legs
	TakeProfit        float64     // Profit target for BRACKET parents
	StopLoss          float64     // Protective stop for BRACKET/COVER parents
	Status            OrderStatus // Current lifecycle state
	FilledQuantity    float64     // Cumulative filled quantity
	RemainingQuantity float64     // Quantity still open
	AvgFillPrice      float64     // Volume-weighted fill price
	ParentID          string      // Owning composite order, if any
	ChildIDs          []string    // Child legs, if composite parent
	StrategyID        string      // Strategy whose signal produced the order
	BrokerOrderID     string      // Venue-assigned identifier once accepted
	Reason            string      // Broker rejection reason, if rejected
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IsOpen reports whether the order can still transition.
func (o *Order) IsOpen() bool {
	return !o.Status.IsTerminal()
}

// IsComposite reports whether the order owns protective child legs.
func (o *Order) IsComposite() bool {
	return o.Kind == KindBracket || o.Kind == KindCover
}

// ApplyFill records a fill and advances the state machine.
// Invariant: FilledQuantity + RemainingQuantity == Quantity.
func (o *Order) ApplyFill(qty, price float64, at time.Time) error {
	if o.Status.IsTerminal() {
		return fmt.Errorf("order %s is terminal (%s): %w", o.ID, o.Status, ErrTerminalOrder)
	}
	if qty <= 0 || qty > o.RemainingQuantity+1e-9 {
		return fmt.Errorf("fill quantity %f invalid for remaining %f on order %s", qty, o.RemainingQuantity, o.ID)
	}
	total := o.FilledQuantity + qty
	if total > 0 {
		o.AvgFillPrice = (o.AvgFillPrice*o.FilledQuantity + price*qty) / total
	}
	o.FilledQuantity = total
	o.RemainingQuantity = o.Quantity - total
	if o.RemainingQuantity <= 1e-9 {
		o.RemainingQuantity = 0
		o.Status = StatusFilled
	} else {
		o.Status = StatusPartial
	}
	o.UpdatedAt = at
	return nil
}

// MarkCancelled moves the order to CANCELLED, zeroing the open quantity.
func (o *Order) MarkCancelled(at time.Time) error {
	if o.Status.IsTerminal() {
		return fmt.Errorf("order %s is terminal (%s): %w", o.ID, o.Status, ErrTerminalOrder)
	}
	o.RemainingQuantity = 0
	o.Status = StatusCancelled
	o.UpdatedAt = at
	return nil
}

// MarkRejected moves the order to REJECTED with the broker's reason attached.
func (o *Order) MarkRejected(reason string, at time.Time) error {
	if o.Status.IsTerminal() {
		return fmt.Errorf("order %s is terminal (%s): %w", o.ID, o.Status, ErrTerminalOrder)
	}
	o.RemainingQuantity = 0
	o.Status = StatusRejected
	o.Reason = reason
	o.UpdatedAt = at
	return nil
}
