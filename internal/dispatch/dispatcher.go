package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"tradecore/internal/domain"
	"tradecore/internal/halt"
	"tradecore/internal/ports"
)

// SignalSink receives the signals strategies emit. Implemented by the
// per-symbol executor.
type SignalSink interface {
	Submit(ctx context.Context, sig domain.Signal)
}

// Config tunes the dispatcher.
type Config struct {
	// QueueSize bounds each strategy's work queue. When a slow strategy's
	// queue is full, new ticks for it are dropped so the ingestion path
	// never blocks on a handler.
	QueueSize int
	// PollInterval drives the pull model: every interval each strategy's
	// GenerateSignals is polled through its own work queue. 0 disables
	// polling.
	PollInterval time.Duration
}

// A work item is either a tick delivery, a fill notification, or a pull-model
// poll. All three go through the same per-strategy queue so a strategy's
// handlers never run concurrently with each other.
type workItem struct {
	tick *domain.Tick
	fill *domain.Order
	poll bool
}

type subscriber struct {
	strat ports.Strategy
	queue chan workItem
}

// Dispatcher routes ticks to subscribed strategies and their signals onward.
// The subscription table is read on every tick and written only at strategy
// registration/removal, so reads take an RLock. Each subscriber gets its own
// serialized worker goroutine; strategies for the same tick run concurrently
// with each other but a single strategy is never re-entered.
type Dispatcher struct {
	cfg    Config
	logger ports.Logger
	flag   *halt.Flag
	sink   SignalSink

	mu       sync.RWMutex
	bySymbol map[string][]*subscriber
	byID     map[string]*subscriber

	dropped  atomic.Uint64
	wg       sync.WaitGroup
	pollStop chan struct{}
	pollOnce sync.Once
	closed   atomic.Bool
}

// New creates a dispatcher. The sink is attached via SetSink before any
// strategy is subscribed.
func New(cfg Config, flag *halt.Flag, logger ports.Logger) (*Dispatcher, error) {
	if flag == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for dispatcher")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	return &Dispatcher{
		cfg:      cfg,
		logger:   logger,
		flag:     flag,
		bySymbol: make(map[string][]*subscriber),
		byID:     make(map[string]*subscriber),
		pollStop: make(chan struct{}),
	}, nil
}

// SetSink attaches the signal consumer.
func (d *Dispatcher) SetSink(sink SignalSink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sink = sink
}

// Subscribe registers a strategy under its symbol. Idempotent per strategy ID.
func (d *Dispatcher) Subscribe(strat ports.Strategy) error {
	if strat == nil || strat.ID() == "" || strat.Symbol() == "" {
		return fmt.Errorf("strategy must have an ID and a symbol: %w", ports.ErrInvalidRequest)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.byID[strat.ID()]; exists {
		return nil
	}
	sub := &subscriber{
		strat: strat,
		queue: make(chan workItem, d.cfg.QueueSize),
	}
	d.byID[strat.ID()] = sub
	d.bySymbol[strat.Symbol()] = append(d.bySymbol[strat.Symbol()], sub)

	d.wg.Add(1)
	go d.worker(sub)

	d.logger.Info(context.Background(), "Strategy subscribed", map[string]interface{}{
		"strategyID": strat.ID(), "symbol": strat.Symbol(),
	})
	return nil
}

// Unsubscribe removes a strategy and stops its worker.
func (d *Dispatcher) Unsubscribe(strategyID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sub, ok := d.byID[strategyID]
	if !ok {
		return
	}
	delete(d.byID, strategyID)
	symbol := sub.strat.Symbol()
	subs := d.bySymbol[symbol]
	for i, s := range subs {
		if s == sub {
			d.bySymbol[symbol] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	// Closing under the write lock pairs with the read lock held across every
	// enqueue, so a queue is never closed between a snapshot and a send.
	close(sub.queue)
}

// OnTick routes one inbound tick to every strategy subscribed to its symbol.
// When the halt flag is set the tick is dropped, not queued. Enqueueing is
// non-blocking: a stalled strategy loses ticks instead of stalling ingestion.
func (d *Dispatcher) OnTick(tick domain.Tick) {
	if d.flag.Halted() {
		return
	}
	// The read lock is held across the enqueue itself: Unsubscribe and Close
	// close queues under the write lock, so a queue captured here cannot be
	// closed before the send. The send never blocks, so the hold is bounded.
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, sub := range d.bySymbol[tick.Symbol] {
		t := tick
		select {
		case sub.queue <- workItem{tick: &t}:
		default:
			d.dropped.Add(1)
			d.logger.Warn(context.Background(), "Tick dropped: strategy queue full", map[string]interface{}{
				"strategyID": sub.strat.ID(), "symbol": tick.Symbol,
			})
		}
	}
}

// DeliverFill hands a terminal order event to the owning strategy through its
// serialized queue. Fills are delivered even while halted.
func (d *Dispatcher) DeliverFill(strategyID string, order *domain.Order) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	sub, ok := d.byID[strategyID]
	if !ok {
		return
	}
	select {
	case sub.queue <- workItem{fill: order}:
	default:
		d.logger.Warn(context.Background(), "Fill notification dropped: strategy queue full", map[string]interface{}{
			"strategyID": strategyID, "orderID": order.ID,
		})
	}
}

// StartPolling launches the pull-model poll loop. No-op when PollInterval is
// zero; safe to call once.
func (d *Dispatcher) StartPolling(ctx context.Context) {
	if d.cfg.PollInterval <= 0 {
		return
	}
	d.pollOnce.Do(func() {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			ticker := time.NewTicker(d.cfg.PollInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-d.pollStop:
					return
				case <-ticker.C:
					if d.flag.Halted() {
						continue
					}
					d.pollAll()
				}
			}
		}()
	})
}

func (d *Dispatcher) pollAll() {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, sub := range d.byID {
		select {
		case sub.queue <- workItem{poll: true}:
		default:
			// A full queue means the strategy is busy; it will be polled again
			// on the next interval.
		}
	}
}

// DroppedTicks returns the count of ticks dropped due to full queues.
func (d *Dispatcher) DroppedTicks() uint64 {
	return d.dropped.Load()
}

// Close stops polling and all workers, draining their queues.
func (d *Dispatcher) Close() {
	if !d.closed.CompareAndSwap(false, true) {
		return
	}
	close(d.pollStop)
	d.mu.Lock()
	for id, sub := range d.byID {
		delete(d.byID, id)
		close(sub.queue)
	}
	d.bySymbol = make(map[string][]*subscriber)
	d.mu.Unlock()
	d.wg.Wait()
}

// worker processes one subscriber's queue in arrival order. A panicking or
// erroring strategy is isolated: the failure is logged and never propagates
// to other strategies or the ingestion path.
func (d *Dispatcher) worker(sub *subscriber) {
	defer d.wg.Done()
	ctx := context.Background()
	for item := range sub.queue {
		d.process(ctx, sub, item)
	}
}

func (d *Dispatcher) process(ctx context.Context, sub *subscriber, item workItem) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error(ctx, fmt.Errorf("strategy panic: %v", r), "Strategy handler panicked", map[string]interface{}{
				"strategyID": sub.strat.ID(),
			})
		}
	}()

	var sigs []domain.Signal
	switch {
	case item.tick != nil:
		sigs = sub.strat.OnTick(ctx, *item.tick)
	case item.fill != nil:
		sub.strat.OnFill(ctx, item.fill)
	case item.poll:
		sigs = sub.strat.GenerateSignals(ctx)
	}

	if len(sigs) == 0 {
		return
	}
	d.mu.RLock()
	sink := d.sink
	d.mu.RUnlock()
	if sink == nil {
		return
	}
	for _, sig := range sigs {
		sink.Submit(ctx, sig)
	}
}
