package domain

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// Opposite returns the closing side for an entry side.
func (s OrderSide) Opposite() OrderSide {
	if s == Buy {
		return Sell
	}
	return Buy
}

// SignalAction is the action a strategy requests in a signal.
type SignalAction string

const (
	ActionBuy  SignalAction = "BUY"
	ActionSell SignalAction = "SELL"
	ActionHold SignalAction = "HOLD"
)

// Side maps a non-HOLD action to an order side.
func (a SignalAction) Side() OrderSide {
	if a == ActionSell {
		return Sell
	}
	return Buy
}

// OrderKind distinguishes simple and composite orders.
type OrderKind string

const (
	KindMarket  OrderKind = "MARKET"
	KindLimit   OrderKind = "LIMIT"
	KindBracket OrderKind = "BRACKET"
	KindCover   OrderKind = "COVER"
)

// OrderStatus represents the lifecycle state of an order.
// PENDING and PARTIAL are the only non-terminal states.
type OrderStatus string

const (
	StatusPending   OrderStatus = "PENDING"
	StatusPartial   OrderStatus = "PARTIAL"
	StatusFilled    OrderStatus = "FILLED"
	StatusCancelled OrderStatus = "CANCELLED"
	StatusRejected  OrderStatus = "REJECTED"
)

// IsTerminal reports whether the status is immutable.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected:
		return true
	default:
		return false
	}
}

// ChildRole identifies the purpose of a composite order's child leg.
type ChildRole string

const (
	RoleTakeProfit ChildRole = "TAKE_PROFIT"
	RoleStopLoss   ChildRole = "STOP_LOSS"
)

// AlertSeverity grades alerting collaborator notifications.
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "INFO"
	SeverityWarning  AlertSeverity = "WARNING"
	SeverityCritical AlertSeverity = "CRITICAL"
)
