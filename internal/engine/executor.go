package engine

import (
	"context"
	"fmt"
	"sync"

	"tradecore/internal/domain"
	"tradecore/internal/orders"
	"tradecore/internal/ports"
	"tradecore/internal/risk"
)

// FillRouter delivers terminal order events back to the owning strategy.
// Implemented by the dispatcher, which serializes the delivery with the
// strategy's other handlers.
type FillRouter interface {
	DeliverFill(strategyID string, order *domain.Order)
}

// Config tunes the executor.
type Config struct {
	// LaneQueueSize bounds each per-symbol signal lane.
	LaneQueueSize int
}

// Executor is the single-writer path between strategies and the broker: all
// validate+place pairs for one symbol run on one goroutine, so two intents
// that individually pass the position-value check can never both be approved
// when their combination would violate it. Different symbols proceed fully in
// parallel.
type Executor struct {
	cfg     Config
	logger  ports.Logger
	gate    *risk.Gate
	manager *orders.Manager
	store   ports.EventStore

	mu     sync.Mutex
	lanes  map[string]chan domain.Signal
	router FillRouter
	wg     sync.WaitGroup
	closed bool
}

// New creates an executor and registers it as the order manager's terminal
// handler.
func New(cfg Config, gate *risk.Gate, manager *orders.Manager, store ports.EventStore, logger ports.Logger) (*Executor, error) {
	if gate == nil || manager == nil || store == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for executor")
	}
	if cfg.LaneQueueSize <= 0 {
		cfg.LaneQueueSize = 128
	}
	e := &Executor{
		cfg:     cfg,
		logger:  logger,
		gate:    gate,
		manager: manager,
		store:   store,
		lanes:   make(map[string]chan domain.Signal),
	}
	manager.SetTerminalHandler(e.onTerminal)
	return e, nil
}

// SetFillRouter attaches the route back to strategies for fill bookkeeping.
func (e *Executor) SetFillRouter(router FillRouter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.router = router
}

// Submit accepts one signal from the dispatcher. HOLD signals are dropped
// here and never reach the risk gate. Submission is non-blocking: a full lane
// sheds the signal with a warning rather than stalling the strategy worker.
func (e *Executor) Submit(ctx context.Context, sig domain.Signal) {
	if sig.Action == domain.ActionHold {
		return
	}
	// Lane lookup, lane creation, and the enqueue all happen under the lock
	// that Close takes before closing lanes: a signal can neither hit a lane
	// mid-close nor re-create one after shutdown. The send never blocks, so
	// the hold is bounded.
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	lane, ok := e.lanes[sig.Symbol]
	if !ok {
		lane = make(chan domain.Signal, e.cfg.LaneQueueSize)
		e.lanes[sig.Symbol] = lane
		e.wg.Add(1)
		go e.runLane(sig.Symbol, lane)
	}
	select {
	case lane <- sig:
		e.mu.Unlock()
	default:
		e.mu.Unlock()
		e.logger.Warn(ctx, "Signal dropped: symbol lane full", map[string]interface{}{
			"symbol": sig.Symbol, "strategyID": sig.StrategyID,
		})
	}
}

// runLane is the serialized validate+place critical section for one symbol.
func (e *Executor) runLane(symbol string, lane chan domain.Signal) {
	defer e.wg.Done()
	ctx := context.Background()
	for sig := range lane {
		decision := e.gate.Validate(ctx, &sig)
		if err := e.store.AppendRiskDecision(ctx, decision); err != nil {
			e.logger.Error(ctx, err, "failed to append risk decision", map[string]interface{}{"signalID": sig.ID})
		}
		if !decision.Allowed {
			// An expected negative result, not an error.
			e.logger.Debug(ctx, "Intent rejected by risk gate", map[string]interface{}{
				"symbol": symbol, "strategyID": sig.StrategyID, "reason": decision.Reason,
			})
			continue
		}
		if _, err := e.manager.Place(ctx, &sig); err != nil {
			e.logger.Warn(ctx, "Order placement did not complete", map[string]interface{}{
				"symbol": symbol, "strategyID": sig.StrategyID, "err": err.Error(),
			})
		}
	}
}

func (e *Executor) onTerminal(ctx context.Context, order *domain.Order) {
	e.mu.Lock()
	router := e.router
	e.mu.Unlock()
	if router != nil {
		router.DeliverFill(order.StrategyID, order)
	}
}

// Close drains and stops all symbol lanes.
func (e *Executor) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	for symbol, lane := range e.lanes {
		delete(e.lanes, symbol)
		close(lane)
	}
	e.mu.Unlock()
	e.wg.Wait()
}
