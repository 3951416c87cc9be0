package orders

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"tradecore/internal/domain"
	"tradecore/internal/ports"
)

var (
	// ErrUnknownOrder is returned for IDs the manager has never seen.
	ErrUnknownOrder = errors.New("order not found")
	// ErrInvalidTransition is an InvariantViolation: the caller attempted an
	// operation that is illegal from the order's current state.
	ErrInvalidTransition = errors.New("invalid order state transition")
)

// TerminalHandler is notified once per terminal fill or rejection for orders
// carrying a strategy ID, so the owning strategy can do its bookkeeping.
type TerminalHandler func(ctx context.Context, order *domain.Order)

// Config tunes the lifecycle manager.
type Config struct {
	// PlaceTimeout bounds each broker placement call. On timeout the order
	// stays PENDING for the reconciliation sweep; assuming an outcome on
	// timeout is unsafe in either direction.
	PlaceTimeout time.Duration
}

// Manager owns the canonical order state machine, the derived position
// ledger, and composite (bracket/cover) decomposition. Orders are created on
// risk-gate approval and mutated only by broker events afterwards. Broker
// calls are never made while holding the manager lock.
type Manager struct {
	cfg    Config
	logger ports.Logger
	broker ports.Broker
	store  ports.EventStore

	mu          sync.Mutex
	orders      map[string]*domain.Order
	byBroker    map[string]string // broker order ID -> internal ID
	positions   map[string]*domain.Position
	realizedPnL float64
	onTerminal  TerminalHandler

	now   func() time.Time
	newID func() string
}

// NewManager creates an order lifecycle manager.
func NewManager(cfg Config, broker ports.Broker, store ports.EventStore, logger ports.Logger) (*Manager, error) {
	if broker == nil || store == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for order manager")
	}
	if cfg.PlaceTimeout <= 0 {
		cfg.PlaceTimeout = 5 * time.Second
	}
	return &Manager{
		cfg:       cfg,
		logger:    logger,
		broker:    broker,
		store:     store,
		orders:    make(map[string]*domain.Order),
		byBroker:  make(map[string]string),
		positions: make(map[string]*domain.Position),
		now:       time.Now,
		newID:     uuid.NewString,
	}, nil
}

// SetTerminalHandler registers the terminal fill/reject router. Must be called
// before the first Place.
func (m *Manager) SetTerminalHandler(h TerminalHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTerminal = h
}

// Place creates orders for an already-validated intent and submits them to the
// broker. BRACKET intents create only the LIMIT entry here; the protective
// children are created when the entry fills, never before; an eager stop-loss
// would rest against a position that was never opened. COVER intents create
// the entry and its mandatory stop simultaneously, and the entry is rejected
// if the stop cannot be placed.
func (m *Manager) Place(ctx context.Context, sig *domain.Signal) (*domain.Order, error) {
	op := "Place"
	if sig.Quantity <= 0 {
		return nil, fmt.Errorf("%s: quantity must be positive: %w", op, ports.ErrInvalidRequest)
	}

	parent := m.buildParent(sig)
	m.mu.Lock()
	m.orders[parent.ID] = parent
	m.mu.Unlock()
	m.journalCreated(ctx, parent)

	if err := m.submit(ctx, parent); err != nil {
		return m.snapshot(parent.ID), err
	}

	if parent.Kind == domain.KindCover {
		if err := m.placeCoverStop(ctx, parent); err != nil {
			return m.snapshot(parent.ID), err
		}
	}
	return m.snapshot(parent.ID), nil
}

func (m *Manager) buildParent(sig *domain.Signal) *domain.Order {
	now := m.now()
	kind := sig.Kind
	if kind == "" {
		if sig.Price > 0 {
			kind = domain.KindLimit
		} else {
			kind = domain.KindMarket
		}
	}
	return &domain.Order{
		ID:                m.newID(),
		Symbol:            sig.Symbol,
		Side:              sig.Action.Side(),
		Kind:              kind,
		Quantity:          sig.Quantity,
		Price:             sig.Price,
		TakeProfit:        sig.TakeProfit,
		StopLoss:          sig.StopLoss,
		Status:            domain.StatusPending,
		RemainingQuantity: sig.Quantity,
		StrategyID:        sig.StrategyID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// submit sends one order leg to the broker and applies the outcome. The
// manager lock is not held across the call.
func (m *Manager) submit(ctx context.Context, o *domain.Order) error {
	op := "submit"
	spec := ports.OrderSpec{
		ClientOrderID: o.ID,
		Symbol:        o.Symbol,
		Side:          o.Side,
		Quantity:      o.Quantity,
		StopPrice:     o.StopPrice,
		ReduceOnly:    o.Role != "",
	}
	// A BRACKET entry rests as a limit order at the signal price.
	if o.Kind == domain.KindLimit || o.Kind == domain.KindBracket || (o.Kind == domain.KindCover && o.Price > 0) {
		spec.LimitPrice = o.Price
	}
	if o.Role == domain.RoleTakeProfit {
		spec.LimitPrice = o.Price
		spec.StopPrice = 0
	}

	callCtx, cancel := context.WithTimeout(ctx, m.cfg.PlaceTimeout)
	defer cancel()

	brokerID, err := m.broker.PlaceOrder(callCtx, spec)
	now := m.now()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			// Timeout: outcome unknown. The order stays PENDING and the
			// reconciliation sweep resolves it against the venue.
			m.logger.Warn(ctx, op+": broker placement timed out, order left pending", map[string]interface{}{
				"orderID": o.ID, "symbol": o.Symbol,
			})
			return fmt.Errorf("%s: placement timed out for order %s: %w", op, o.ID, ports.ErrReconciliation)
		}
		m.mu.Lock()
		_ = o.MarkRejected(err.Error(), now)
		terminal := m.cloneLocked(o)
		m.mu.Unlock()
		m.journal(ctx, domain.OrderEvent{
			Type: domain.EventOrderRejected, OrderID: o.ID, Symbol: o.Symbol, Reason: err.Error(), At: now,
		})
		m.notifyTerminal(ctx, terminal)
		return fmt.Errorf("%s: %w: %v", op, ports.ErrOrderPlacementFailed, err)
	}

	m.mu.Lock()
	o.BrokerOrderID = brokerID
	o.UpdatedAt = now
	m.byBroker[brokerID] = o.ID
	m.mu.Unlock()
	m.journal(ctx, domain.OrderEvent{
		Type: domain.EventOrderAccepted, OrderID: o.ID, Symbol: o.Symbol, BrokerOrderID: brokerID, At: now,
	})
	return nil
}

// placeCoverStop creates and submits the mandatory stop leg of a COVER order.
// If the stop cannot be placed the entry is cancelled at the venue and marked
// rejected: the cover guarantee is "stop always present", not "eventually".
func (m *Manager) placeCoverStop(ctx context.Context, parent *domain.Order) error {
	op := "placeCoverStop"
	stop := m.buildChild(parent, domain.RoleStopLoss)
	m.mu.Lock()
	m.orders[stop.ID] = stop
	parent.ChildIDs = append(parent.ChildIDs, stop.ID)
	m.mu.Unlock()
	m.journalCreated(ctx, stop)

	if err := m.submit(ctx, stop); err != nil {
		m.logger.Error(ctx, err, op+": mandatory stop placement failed, unwinding entry", map[string]interface{}{
			"parentID": parent.ID, "stopID": stop.ID,
		})
		if cancelErr := m.Cancel(ctx, parent.ID); cancelErr != nil {
			m.logger.Error(ctx, cancelErr, op+": failed to unwind cover entry", map[string]interface{}{"parentID": parent.ID})
		}
		return fmt.Errorf("%s: cover stop placement failed: %w", op, err)
	}
	return nil
}

func (m *Manager) buildChild(parent *domain.Order, role domain.ChildRole) *domain.Order {
	now := m.now()
	child := &domain.Order{
		ID:                m.newID(),
		Symbol:            parent.Symbol,
		Side:              parent.Side.Opposite(),
		Role:              role,
		Quantity:          parent.Quantity,
		Status:            domain.StatusPending,
		RemainingQuantity: parent.Quantity,
		ParentID:          parent.ID,
		StrategyID:        parent.StrategyID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if role == domain.RoleTakeProfit {
		child.Kind = domain.KindLimit
		child.Price = parent.TakeProfit
	} else {
		child.Kind = domain.KindMarket
		child.StopPrice = parent.StopLoss
	}
	return child
}

// OnBrokerEvent is the only mutator of order state after creation. It applies
// asynchronous fill/cancel/reject events keyed by broker order ID.
func (m *Manager) OnBrokerEvent(ctx context.Context, event ports.BrokerEvent) {
	op := "OnBrokerEvent"
	m.mu.Lock()
	id, ok := m.byBroker[event.BrokerOrderID]
	if !ok {
		m.mu.Unlock()
		m.logger.Warn(ctx, op+": event for unknown broker order", map[string]interface{}{
			"brokerOrderID": event.BrokerOrderID, "type": event.Type,
		})
		return
	}
	o := m.orders[id]
	if o.Status.IsTerminal() {
		m.mu.Unlock()
		// Late event after a local terminal transition, e.g. the losing side
		// of an OCO race. Reported for the reconciliation sweep, not fatal.
		m.logger.Warn(ctx, op+": event for terminal order", map[string]interface{}{
			"orderID": id, "status": string(event.Type), "err": ports.ErrReconciliation.Error(),
		})
		return
	}
	m.mu.Unlock()

	switch event.Type {
	case ports.BrokerEventFill:
		m.applyFill(ctx, id, event)
	case ports.BrokerEventCancel:
		m.applyCancel(ctx, id, event.Reason)
	case ports.BrokerEventReject:
		m.applyReject(ctx, id, event.Reason)
	default:
		m.logger.Warn(ctx, op+": unknown broker event type", map[string]interface{}{"type": event.Type})
	}
}

func (m *Manager) applyFill(ctx context.Context, id string, event ports.BrokerEvent) {
	at := event.At
	if at.IsZero() {
		at = m.now()
	}

	m.mu.Lock()
	o := m.orders[id]
	if err := o.ApplyFill(event.FillQuantity, event.FillPrice, at); err != nil {
		m.mu.Unlock()
		m.logger.Error(ctx, err, "fill could not be applied", map[string]interface{}{"orderID": id})
		return
	}
	realized := m.positionLocked(o.Symbol).ApplyFill(o.Side, event.FillQuantity, event.FillPrice)
	m.realizedPnL += realized
	filled := o.Status == domain.StatusFilled
	terminal := m.cloneLocked(o)
	parentID := o.ParentID
	isBracketEntry := o.Kind == domain.KindBracket && o.ParentID == ""
	m.mu.Unlock()

	m.journal(ctx, domain.OrderEvent{
		Type: domain.EventOrderFilled, OrderID: id, Symbol: terminal.Symbol, Side: terminal.Side,
		FillQuantity: event.FillQuantity, FillPrice: event.FillPrice, At: at,
	})

	if !filled {
		return
	}
	if isBracketEntry {
		m.spawnBracketChildren(ctx, id)
	}
	if parentID != "" {
		m.cancelSibling(ctx, parentID, id)
	}
	m.notifyTerminal(ctx, terminal)
}

// spawnBracketChildren atomically creates the take-profit and stop-loss legs
// once the bracket entry has filled.
func (m *Manager) spawnBracketChildren(ctx context.Context, parentID string) {
	op := "spawnBracketChildren"
	m.mu.Lock()
	parent := m.orders[parentID]
	if len(parent.ChildIDs) > 0 {
		// Children already exist; a duplicate fill event must not spawn more.
		m.mu.Unlock()
		return
	}
	tp := m.buildChild(parent, domain.RoleTakeProfit)
	sl := m.buildChild(parent, domain.RoleStopLoss)
	m.orders[tp.ID] = tp
	m.orders[sl.ID] = sl
	parent.ChildIDs = append(parent.ChildIDs, tp.ID, sl.ID)
	m.mu.Unlock()

	m.journalCreated(ctx, tp)
	m.journalCreated(ctx, sl)
	m.logger.Info(ctx, op+": protective legs created", map[string]interface{}{
		"parentID": parentID, "takeProfitID": tp.ID, "stopLossID": sl.ID,
	})

	for _, child := range []*domain.Order{tp, sl} {
		if err := m.submit(ctx, child); err != nil {
			m.logger.Error(ctx, err, op+": protective leg placement failed", map[string]interface{}{
				"parentID": parentID, "childID": child.ID, "role": child.Role,
			})
		}
	}
}

// cancelSibling enforces one-cancels-other: the first fill acknowledgment is
// authoritative and the other leg is cancelled. A cancel that arrives too late
// at the venue is tolerated and reported as a reconciliation warning.
func (m *Manager) cancelSibling(ctx context.Context, parentID, filledChildID string) {
	op := "cancelSibling"
	m.mu.Lock()
	parent, ok := m.orders[parentID]
	if !ok {
		m.mu.Unlock()
		return
	}
	var sibling *domain.Order
	for _, childID := range parent.ChildIDs {
		if childID != filledChildID {
			if c := m.orders[childID]; c != nil && c.IsOpen() {
				sibling = c
			}
		}
	}
	m.mu.Unlock()

	if sibling == nil {
		return
	}
	if err := m.Cancel(ctx, sibling.ID); err != nil {
		m.logger.Warn(ctx, op+": sibling cancel failed, leaving for reconciliation", map[string]interface{}{
			"parentID": parentID, "siblingID": sibling.ID, "err": err.Error(),
		})
	}
}

func (m *Manager) applyCancel(ctx context.Context, id, reason string) {
	now := m.now()
	m.mu.Lock()
	o := m.orders[id]
	if err := o.MarkCancelled(now); err != nil {
		m.mu.Unlock()
		return
	}
	children := m.openChildrenLocked(o)
	m.mu.Unlock()

	m.journal(ctx, domain.OrderEvent{
		Type: domain.EventOrderCancelled, OrderID: id, Symbol: o.Symbol, Reason: reason, At: now,
	})
	// Cancelling a composite parent cascades to its still-open children.
	for _, childID := range children {
		if err := m.Cancel(ctx, childID); err != nil {
			m.logger.Warn(ctx, "cascade cancel failed", map[string]interface{}{"childID": childID, "err": err.Error()})
		}
	}
}

func (m *Manager) applyReject(ctx context.Context, id, reason string) {
	now := m.now()
	m.mu.Lock()
	o := m.orders[id]
	if err := o.MarkRejected(reason, now); err != nil {
		m.mu.Unlock()
		return
	}
	terminal := m.cloneLocked(o)
	m.mu.Unlock()

	m.journal(ctx, domain.OrderEvent{
		Type: domain.EventOrderRejected, OrderID: id, Symbol: o.Symbol, Reason: reason, At: now,
	})
	m.notifyTerminal(ctx, terminal)
}

// Cancel requests cancellation of an order. Legal only from PENDING/PARTIAL;
// cancelling a composite parent cascade-cancels its still-open children.
func (m *Manager) Cancel(ctx context.Context, orderID string) error {
	op := "Cancel"
	m.mu.Lock()
	o, ok := m.orders[orderID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%s: %s: %w", op, orderID, ErrUnknownOrder)
	}
	if o.Status.IsTerminal() {
		m.mu.Unlock()
		return fmt.Errorf("%s: order %s in state %s: %w", op, orderID, o.Status, ErrInvalidTransition)
	}
	brokerID := o.BrokerOrderID
	children := m.openChildrenLocked(o)
	m.mu.Unlock()

	if brokerID != "" {
		found, err := m.broker.CancelOrder(ctx, brokerID)
		if err != nil && !errors.Is(err, ports.ErrOrderNotFound) {
			return fmt.Errorf("%s: %w: %v", op, ports.ErrOrderCancelFailed, err)
		}
		if !found {
			m.logger.Warn(ctx, op+": order unknown at venue, likely already resolved", map[string]interface{}{
				"orderID": orderID, "brokerOrderID": brokerID,
			})
		}
	}

	now := m.now()
	m.mu.Lock()
	cancelErr := o.MarkCancelled(now)
	m.mu.Unlock()
	if cancelErr != nil {
		// A broker event won the race and finalized the order first.
		m.logger.Warn(ctx, op+": order reached terminal state during cancel", map[string]interface{}{
			"orderID": orderID, "err": ports.ErrReconciliation.Error(),
		})
		return nil
	}
	m.journal(ctx, domain.OrderEvent{
		Type: domain.EventOrderCancelled, OrderID: orderID, Symbol: o.Symbol, At: now,
	})

	for _, childID := range children {
		if err := m.Cancel(ctx, childID); err != nil {
			m.logger.Warn(ctx, op+": cascade cancel failed", map[string]interface{}{"childID": childID, "err": err.Error()})
		}
	}
	return nil
}

// Order returns a copy of the order, or nil if unknown.
func (m *Manager) Order(orderID string) *domain.Order {
	return m.snapshot(orderID)
}

// OpenOrders returns copies of every PENDING/PARTIAL order.
func (m *Manager) OpenOrders() []*domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	var open []*domain.Order
	for _, o := range m.orders {
		if o.IsOpen() {
			open = append(open, m.cloneLocked(o))
		}
	}
	return open
}

// Position returns the current position for a symbol (zero value when flat).
func (m *Manager) Position(symbol string) domain.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.positions[symbol]; ok {
		return *p
	}
	return domain.Position{Symbol: symbol}
}

// Equity returns the baseline plus realized and unrealized PnL.
func (m *Manager) Equity(initial float64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	equity := initial + m.realizedPnL
	for _, p := range m.positions {
		equity += p.UnrealizedPnL()
	}
	return equity
}

// MarkPrice updates the position ledger's view of the last traded price.
func (m *Manager) MarkPrice(tick domain.Tick) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.positions[tick.Symbol]; ok {
		p.CurrentPrice = tick.Price
	} else {
		m.positions[tick.Symbol] = &domain.Position{Symbol: tick.Symbol, CurrentPrice: tick.Price}
	}
}

// Restore rebuilds order state and composite linkage from the event journal
// after a process restart. Positions are re-derived from journaled fills.
func (m *Manager) Restore(ctx context.Context) error {
	op := "Restore"
	replayed, err := m.store.ReplayOrders(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range replayed {
		m.orders[o.ID] = o
		if o.BrokerOrderID != "" {
			m.byBroker[o.BrokerOrderID] = o.ID
		}
		if o.FilledQuantity > 0 {
			m.realizedPnL += m.positionLocked(o.Symbol).ApplyFill(o.Side, o.FilledQuantity, o.AvgFillPrice)
		}
	}
	m.logger.Info(ctx, op+": order state recovered from journal", map[string]interface{}{"orders": len(replayed)})
	return nil
}

// Reconcile sweeps local open orders against the venue's open-order list and
// finalizes any the venue no longer knows. Run periodically; also resolves
// orders left PENDING by placement timeouts.
func (m *Manager) Reconcile(ctx context.Context) error {
	op := "Reconcile"
	openAtVenue, err := m.broker.QueryOpenOrders(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	known := make(map[string]struct{}, len(openAtVenue))
	for _, id := range openAtVenue {
		known[id] = struct{}{}
	}

	for _, o := range m.OpenOrders() {
		if o.BrokerOrderID == "" {
			m.logger.Warn(ctx, op+": order was never acknowledged by the venue", map[string]interface{}{
				"orderID": o.ID, "age": m.now().Sub(o.CreatedAt).String(),
			})
			continue
		}
		if _, ok := known[o.BrokerOrderID]; !ok {
			m.logger.Warn(ctx, op+": open order unknown at venue, marking cancelled", map[string]interface{}{
				"orderID": o.ID, "brokerOrderID": o.BrokerOrderID,
			})
			m.applyCancel(ctx, o.ID, "reconciliation: not open at venue")
		}
	}
	return nil
}

// --- internal helpers ---

func (m *Manager) positionLocked(symbol string) *domain.Position {
	p, ok := m.positions[symbol]
	if !ok {
		p = &domain.Position{Symbol: symbol}
		m.positions[symbol] = p
	}
	return p
}

func (m *Manager) openChildrenLocked(o *domain.Order) []string {
	var open []string
	for _, childID := range o.ChildIDs {
		if c, ok := m.orders[childID]; ok && c.IsOpen() {
			open = append(open, childID)
		}
	}
	return open
}

func (m *Manager) cloneLocked(o *domain.Order) *domain.Order {
	cp := *o
	cp.ChildIDs = append([]string(nil), o.ChildIDs...)
	return &cp
}

func (m *Manager) snapshot(orderID string) *domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orders[orderID]; ok {
		return m.cloneLocked(o)
	}
	return nil
}

func (m *Manager) notifyTerminal(ctx context.Context, o *domain.Order) {
	m.mu.Lock()
	handler := m.onTerminal
	m.mu.Unlock()
	if handler != nil && o.StrategyID != "" {
		handler(ctx, o)
	}
}

func (m *Manager) journalCreated(ctx context.Context, o *domain.Order) {
	m.journal(ctx, domain.OrderEvent{
		Type: domain.EventOrderCreated, OrderID: o.ID, ParentID: o.ParentID, Symbol: o.Symbol,
		Side: o.Side, Kind: o.Kind, Role: o.Role, StrategyID: o.StrategyID,
		Quantity: o.Quantity, Price: o.Price, StopPrice: o.StopPrice,
		TakeProfit: o.TakeProfit, StopLoss: o.StopLoss, At: o.CreatedAt,
	})
}

func (m *Manager) journal(ctx context.Context, event domain.OrderEvent) {
	if err := m.store.AppendOrderEvent(ctx, event); err != nil {
		// Journaling is not synchronous durability; losing one append is
		// logged, not fatal to the trading path.
		m.logger.Error(ctx, err, "failed to append order event", map[string]interface{}{
			"orderID": event.OrderID, "type": event.Type,
		})
	}
}
