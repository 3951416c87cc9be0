package ports

import (
	"context"
	"time"

	"tradecore/internal/domain"
)

// OrderSpec is the broker-facing description of a single order leg. Composite
// orders are decomposed by the lifecycle manager before reaching the broker;
// a broker only ever sees simple market/limit/stop legs.
type OrderSpec struct {
	ClientOrderID string           // Internal order ID, echoed back in events
	Symbol        string           // Trading symbol
	Side          domain.OrderSide // BUY or SELL
	Quantity      float64          // Always > 0
	LimitPrice    float64          // 0 for market orders
	StopPrice     float64          // Trigger price for stop legs, 0 otherwise
	ReduceOnly    bool             // Protective legs must not increase exposure
}

// BrokerEventType classifies asynchronous events from the venue.
type BrokerEventType string

const (
	BrokerEventFill   BrokerEventType = "FILL"
	BrokerEventCancel BrokerEventType = "CANCEL"
	BrokerEventReject BrokerEventType = "REJECT"
)

// BrokerEvent is an asynchronous fill/cancel/reject notification keyed by the
// broker's own order identifier.
type BrokerEvent struct {
	Type          BrokerEventType
	BrokerOrderID string
	FillQuantity  float64 // Quantity filled by this event (FILL only)
	FillPrice     float64 // Execution price of this event (FILL only)
	Reason        string  // Venue reason for REJECT/CANCEL
	At            time.Time
}

// BrokerEventHandler receives asynchronous broker events. Implementations must
// be safe for concurrent invocation by the broker adapter.
type BrokerEventHandler func(event BrokerEvent)

// Broker defines the interface to an external execution venue. All methods
// performing I/O take a context; callers must not hold internal locks across
// these calls.
type Broker interface {
	// PlaceOrder submits one order leg and returns the venue-assigned ID.
	PlaceOrder(ctx context.Context, spec OrderSpec) (brokerOrderID string, err error)

	// CancelOrder requests cancellation of an open order. Returns false when
	// the venue no longer knows the order (already filled or cancelled).
	CancelOrder(ctx context.Context, brokerOrderID string) (bool, error)

	// QueryOpenOrders lists the broker order IDs of all currently open orders,
	// used by the reconciliation sweep.
	QueryOpenOrders(ctx context.Context) ([]string, error)

	// LiquidateAll requests closure of every open position at market.
	LiquidateAll(ctx context.Context) error

	// SetEventHandler registers the receiver of asynchronous broker events.
	// Must be called before the first PlaceOrder.
	SetEventHandler(handler BrokerEventHandler)
}
