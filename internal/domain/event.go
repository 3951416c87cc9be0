package domain

import "time"

// OrderEventType classifies entries in the append-only order journal.
type OrderEventType string

const (
	EventOrderCreated   OrderEventType = "ORDER_CREATED"
	EventOrderAccepted  OrderEventType = "ORDER_ACCEPTED"
	EventOrderFilled    OrderEventType = "ORDER_FILLED"
	EventOrderCancelled OrderEventType = "ORDER_CANCELLED"
	EventOrderRejected  OrderEventType = "ORDER_REJECTED"
)

// OrderEvent is one append-only journal record of an order state transition.
// The journal is the source of truth for recovering composite parent/child
// linkage after a restart.
type OrderEvent struct {
	Type          OrderEventType
	OrderID       string
	ParentID      string
	Symbol        string
	Side          OrderSide
	Kind          OrderKind
	Role          ChildRole
	StrategyID    string
	BrokerOrderID string
	Quantity      float64
	Price         float64
	StopPrice     float64
	TakeProfit    float64
	StopLoss      float64
	FillQuantity  float64
	FillPrice     float64
	Reason        string
	At            time.Time
}

// RiskDecision is the journaled outcome of one risk-gate validation.
type RiskDecision struct {
	SignalID   string
	StrategyID string
	Symbol     string
	Allowed    bool
	Reason     string
	At         time.Time
}
