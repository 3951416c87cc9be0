package halt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"tradecore/internal/domain"
	"tradecore/internal/orders"
	"tradecore/internal/ports"
)

// Flag is the process-wide emergency stop flag. The dispatcher reads it on
// every tick and the risk gate on every validation; transitions to true are
// one-way until an operator-level Reset.
type Flag struct {
	halted atomic.Bool
}

// Set returns true if this call performed the false -> true transition.
func (f *Flag) Set() bool {
	return f.halted.CompareAndSwap(false, true)
}

// Halted reports whether the flag is set.
func (f *Flag) Halted() bool {
	return f.halted.Load()
}

// Reset clears the flag. This is a privileged operator action, never invoked
// by the core itself.
func (f *Flag) Reset() {
	f.halted.Store(false)
}

// Config tunes the halt protocol.
type Config struct {
	// CancelConcurrency bounds the fan-out of the cancel sweep. Venue latency
	// dominates, so cancels go out concurrently rather than serially.
	CancelConcurrency int
}

// Controller implements the emergency halt protocol: stop new order flow,
// cancel all open orders, request liquidation, and alert. Trigger is safe to
// invoke concurrently from multiple sources (manual kill switch, risk breach,
// stale-heartbeat detector); only the first caller executes the destructive
// steps, but every caller's reason is alerted.
type Controller struct {
	cfg     Config
	flag    *Flag
	manager *orders.Manager
	broker  ports.Broker
	alerter ports.Alerter
	logger  ports.Logger
}

// NewController creates the halt controller.
func NewController(cfg Config, flag *Flag, manager *orders.Manager, broker ports.Broker, alerter ports.Alerter, logger ports.Logger) (*Controller, error) {
	if flag == nil || manager == nil || broker == nil || alerter == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for halt controller")
	}
	if cfg.CancelConcurrency <= 0 {
		cfg.CancelConcurrency = 8
	}
	return &Controller{
		cfg:     cfg,
		flag:    flag,
		manager: manager,
		broker:  broker,
		alerter: alerter,
		logger:  logger,
	}, nil
}

// Trigger runs the protocol. Individual step failures are logged and the
// remaining steps still run; the protocol always attempts every step.
func (c *Controller) Trigger(ctx context.Context, reason string) {
	op := "Trigger"
	// Every distinct reason is recorded even when the destructive steps have
	// already run.
	defer c.alerter.Notify(ctx, "emergency halt: "+reason, domain.SeverityCritical)

	if !c.flag.Set() {
		c.logger.Warn(ctx, op+": halt already active, recording reason only", map[string]interface{}{"reason": reason})
		return
	}
	c.logger.Warn(ctx, op+": EMERGENCY HALT ENGAGED", map[string]interface{}{"reason": reason})

	c.cancelSweep(ctx)

	if err := c.broker.LiquidateAll(ctx); err != nil {
		c.logger.Error(ctx, err, op+": liquidation request failed")
	} else {
		c.logger.Info(ctx, op+": liquidation requested")
	}
}

// cancelSweep cancels every PENDING/PARTIAL order with bounded concurrency,
// tolerating individual failures. Partial success is acceptable; total
// silence is not.
func (c *Controller) cancelSweep(ctx context.Context) {
	op := "cancelSweep"
	open := c.manager.OpenOrders()
	if len(open) == 0 {
		c.logger.Info(ctx, op+": no open orders to cancel")
		return
	}

	sem := make(chan struct{}, c.cfg.CancelConcurrency)
	var wg sync.WaitGroup
	var failed atomic.Int64
	for _, o := range open {
		wg.Add(1)
		sem <- struct{}{}
		go func(orderID string) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := c.manager.Cancel(ctx, orderID); err != nil {
				failed.Add(1)
				c.logger.Error(ctx, err, op+": cancel failed", map[string]interface{}{"orderID": orderID})
			}
		}(o.ID)
	}
	wg.Wait()
	c.logger.Info(ctx, op+": cancel sweep finished", map[string]interface{}{
		"total": len(open), "failed": failed.Load(),
	})
}
