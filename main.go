package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"os"
	"os/signal"
	"syscall"
	"time"

	"tradecore/config"
	"tradecore/internal/adapters/alert"
	"tradecore/internal/adapters/binance"
	"tradecore/internal/adapters/logger"
	"tradecore/internal/adapters/simbroker"
	"tradecore/internal/adapters/sqlite"
	"tradecore/internal/dispatch"
	"tradecore/internal/domain"
	"tradecore/internal/engine"
	"tradecore/internal/halt"
	"tradecore/internal/orders"
	"tradecore/internal/ports"
	"tradecore/internal/risk"
	"tradecore/internal/strategy/strategies"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger := logger.New(logger.Config{
		Level:     cfg.LogLevel,
		FilePath:  cfg.LogFile,
		MaxSizeMB: cfg.LogMaxSize,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	appLogger.Info(ctx, "Logger initialized", map[string]interface{}{"level": cfg.LogLevel})

	// 3. Initialize Event Store
	store, err := sqlite.NewEventStore(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize event store: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing event store")
		}
	}()

	// 4. Initialize Broker
	var (
		broker ports.Broker
		sim    *simbroker.SimBroker
		live   *binance.Broker
	)
	switch cfg.BrokerMode {
	case config.BrokerModeBinance:
		live, err = binance.NewBroker(binance.BrokerConfig{
			APIKey:       cfg.APIKey,
			SecretKey:    cfg.SecretKey,
			UseTestnet:   cfg.IsTestnet,
			PollInterval: cfg.BrokerPollInterval,
			Logger:       appLogger,
		})
		if err != nil {
			log.Fatalf("FATAL: Failed to initialize Binance broker: %v", err)
		}
		broker = live
	default:
		sim = simbroker.New(appLogger)
		broker = sim
	}
	appLogger.Info(ctx, "Broker initialized", map[string]interface{}{"mode": cfg.BrokerMode})

	// 5. Order Lifecycle Manager
	alerter := alert.New(alert.Config{WebhookURL: cfg.AlertWebhookURL}, appLogger)
	manager, err := orders.NewManager(orders.Config{PlaceTimeout: cfg.PlaceTimeout}, broker, store, appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize order manager: %v", err)
	}
	if err := manager.Restore(ctx); err != nil {
		appLogger.Error(ctx, err, "Journal replay failed; starting with empty order book")
	}

	// 6. Emergency Halt + Risk Gate
	flag := &halt.Flag{}
	controller, err := halt.NewController(halt.Config{}, flag, manager, broker, alerter, appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize halt controller: %v", err)
	}

	breaker := risk.NewBreaker(risk.BreakerConfig{
		FailureThreshold: cfg.BreakerFailureThreshold,
		FailureWindow:    cfg.BreakerFailureWindow,
		Cooldown:         cfg.BreakerCooldown,
	})
	gate, err := risk.NewGate(risk.Config{
		MaxDrawdownPercent:   cfg.MaxDrawdownPercent,
		MaxPositionValue:     cfg.MaxPositionValue,
		MaxDailyLoss:         cfg.MaxDailyLoss,
		MaxOrderValue:        cfg.MaxOrderValue,
		StopLossPercent:      cfg.StopLossPercent,
		EmergencyStopEnabled: cfg.EmergencyStopEnabled,
		InitialEquity:        cfg.InitialEquity,
		OrderRatePerSecond:   cfg.OrderRatePerSecond,
		OrderRateBurst:       cfg.OrderRateBurst,
	}, breaker, manager, flag.Halted, controller.Trigger, appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize risk gate: %v", err)
	}

	// 7. Execution + Dispatch
	executor, err := engine.New(engine.Config{}, gate, manager, store, appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize executor: %v", err)
	}
	defer executor.Close()

	dispatcher, err := dispatch.New(dispatch.Config{
		QueueSize:    cfg.DispatchQueueSize,
		PollInterval: cfg.PollInterval,
	}, flag, appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize dispatcher: %v", err)
	}
	defer dispatcher.Close()
	dispatcher.SetSink(executor)
	executor.SetFillRouter(dispatcher)

	// Broker events flow into the lifecycle manager from here on.
	broker.SetEventHandler(func(event ports.BrokerEvent) {
		manager.OnBrokerEvent(context.Background(), event)
	})

	// 8. Strategies
	if cfg.MomentumEnabled {
		for i, symbol := range cfg.Symbols {
			strat, err := strategies.NewMomentum(strategies.MomentumConfig{
				StrategyID:        "momentum-" + symbol,
				Symbol:            symbol,
				FastPeriod:        cfg.MomentumFastPeriod,
				SlowPeriod:        cfg.MomentumSlowPeriod,
				Quantity:          cfg.MomentumQuantity,
				StopLossPercent:   cfg.StopLossPercent,
				TakeProfitPercent: cfg.MomentumTakeProfitPercent,
			}, appLogger)
			if err != nil {
				log.Fatalf("FATAL: Failed to build momentum strategy %d: %v", i, err)
			}
			if err := dispatcher.Subscribe(strat); err != nil {
				log.Fatalf("FATAL: Failed to subscribe strategy: %v", err)
			}
		}
	}
	if cfg.MeanRevEnabled {
		for i, symbol := range cfg.Symbols {
			strat, err := strategies.NewMeanReversion(strategies.MeanReversionConfig{
				StrategyID:      "meanrev-" + symbol,
				Symbol:          symbol,
				RSIPeriod:       cfg.MeanRevRSIPeriod,
				Overbought:      cfg.MeanRevOverbought,
				Oversold:        cfg.MeanRevOversold,
				Quantity:        cfg.MeanRevQuantity,
				StopLossPercent: cfg.StopLossPercent,
				MinInterval:     cfg.MeanRevMinInterval,
			}, appLogger)
			if err != nil {
				log.Fatalf("FATAL: Failed to build mean-reversion strategy %d: %v", i, err)
			}
			if err := dispatcher.Subscribe(strat); err != nil {
				log.Fatalf("FATAL: Failed to subscribe strategy: %v", err)
			}
		}
	}
	go dispatcher.StartPolling(ctx)

	// 9. Background loops: portfolio limits, reconciliation, daily reset.
	go func() {
		ticker := time.NewTicker(cfg.PortfolioCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				gate.CheckPortfolioLimits(ctx)
			}
		}
	}()
	go func() {
		ticker := time.NewTicker(cfg.ReconcileInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := manager.Reconcile(ctx); err != nil {
					appLogger.Warn(ctx, "Reconciliation sweep failed", map[string]interface{}{"error": err.Error()})
				}
			}
		}
	}()
	go func() {
		for {
			now := time.Now().UTC()
			next := now.Truncate(24 * time.Hour).Add(24 * time.Hour)
			select {
			case <-ctx.Done():
				return
			case <-time.After(next.Sub(now)):
				gate.ResetDaily(ctx)
			}
		}
	}()
	if live != nil {
		go live.StartPolling(ctx)
	}

	// 10. Market data: mark prices, paper matching, then strategy fan-out.
	tickHandler := func(tick domain.Tick) {
		manager.MarkPrice(tick)
		if sim != nil {
			sim.OnTick(tick)
		}
		dispatcher.OnTick(tick)
	}

	stream, err := binance.NewTickStream(binance.StreamConfig{
		Logger:               appLogger,
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize tick stream: %v", err)
	}
	streamErr := make(chan error, 1)
	go func() {
		streamErr <- stream.Stream(ctx, cfg.Symbols, tickHandler, func(err error) {
			appLogger.Warn(ctx, "Market data stream error", map[string]interface{}{"error": err.Error()})
		})
	}()
	appLogger.Info(ctx, "Trading core started", map[string]interface{}{"symbols": cfg.Symbols})

	// 11. Wait for shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		appLogger.Info(ctx, "Shutdown signal received", map[string]interface{}{"signal": sig.String()})
	case err := <-streamErr:
		if err != nil && ctx.Err() == nil {
			appLogger.Error(ctx, err, "Market data stream terminated")
		}
	}
	cancel()
	appLogger.Info(context.Background(), "Trading core stopped")
}
