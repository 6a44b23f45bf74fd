// Package main wires the EA bridge together: persistence, the per-account
// command queue, tick ingest, the signal engine, position management, the
// protective risk workers and the multi-port HTTP surface. Every component
// is constructed explicitly here and injected by hand; nothing reaches for
// process-global state.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/atlas-ea/bridge/internal/alerting"
	"github.com/atlas-ea/bridge/internal/autotrader"
	"github.com/atlas-ea/bridge/internal/commctl"
	"github.com/atlas-ea/bridge/internal/config"
	"github.com/atlas-ea/bridge/internal/events"
	"github.com/atlas-ea/bridge/internal/httpapi"
	"github.com/atlas-ea/bridge/internal/marketdata"
	"github.com/atlas-ea/bridge/internal/metrics"
	"github.com/atlas-ea/bridge/internal/opsws"
	"github.com/atlas-ea/bridge/internal/positionmgr"
	"github.com/atlas-ea/bridge/internal/queue"
	"github.com/atlas-ea/bridge/internal/riskworkers"
	"github.com/atlas-ea/bridge/internal/signalengine"
	"github.com/atlas-ea/bridge/internal/store"
	"github.com/atlas-ea/bridge/internal/tickbuffer"
	"github.com/atlas-ea/bridge/internal/workers"
	"github.com/atlas-ea/bridge/pkg/types"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (yaml)")
	logLevel := flag.String("log-level", "", "Override log level (debug, info, warn, error)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	logger := setupLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("starting EA bridge",
		zap.Int("control_port", cfg.Server.ControlPort),
		zap.Int("tick_port", cfg.Server.TickPort),
		zap.String("db_path", cfg.Data.DBPath))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics.Init()

	// Persistence.
	db, err := store.New(cfg.Data.DBPath, logger)
	if err != nil {
		logger.Fatal("opening database", zap.Error(err))
	}
	defer db.Close()

	accounts := store.NewAccountStore(db)
	ticks := store.NewTickStore(db)
	ohlc := store.NewOHLCStore(db)
	signals := store.NewSignalStore(db)
	commands := store.NewCommandStore(db)
	trades := store.NewTradeStore(db)
	history := store.NewTradeHistoryStore(db)
	brokerSymbols := store.NewBrokerSymbolStore(db)
	overrides := store.NewSymbolOverrideStore(db)
	decisions := store.NewAIDecisionStore(db)
	symbolPerf := store.NewSymbolPerformanceStore(db)
	news := store.NewNewsEventStore(db)
	settings, err := store.NewSettingsStore(db)
	if err != nil {
		logger.Fatal("loading global settings", zap.Error(err))
	}

	// Event bus and dashboard hub.
	bus := events.NewEventBus(logger, events.DefaultEventBusConfig())
	hub := opsws.NewHub(logger)
	go hub.Run()

	audit := &decisionAudit{store: decisions, bus: bus}

	// Command queue, optionally Redis-notified for low-latency delivery.
	var notifier commctl.Notifier = queue.NoopNotifier{}
	if cfg.Data.RedisAddr != "" {
		redisNotifier, err := queue.NewRedisNotifier(ctx, cfg.Data.RedisAddr, logger)
		if err != nil {
			logger.Warn("redis unavailable, falling back to poll-only delivery", zap.Error(err))
		} else {
			defer redisNotifier.Close()
			notifier = redisNotifier
		}
	}
	cmdQueue := commctl.NewCommandQueue(commands, notifier, cfg.CommandQueue.DefaultTimeout, cfg.CommandQueue.DefaultMaxRetries, logger)
	if all, err := accounts.List(); err != nil {
		logger.Fatal("listing accounts for queue restore", zap.Error(err))
	} else {
		ids := make([]string, 0, len(all))
		for _, a := range all {
			ids = append(ids, a.ID)
		}
		if err := cmdQueue.Restore(ids); err != nil {
			logger.Fatal("restoring command queues", zap.Error(err))
		}
	}
	sweeper := commctl.NewTimeoutSweeper(cmdQueue, commands, cfg.CommandQueue.SweepInterval, logger)
	go sweeper.Run(ctx)

	// Connection registry with staleness sweep.
	heartbeatTimeout := time.Duration(cfg.Server.HeartbeatIntervalSeconds) * 3 * time.Second
	registry := commctl.NewConnectionRegistry(heartbeatTimeout, logger)
	go func() {
		ticker := time.NewTicker(heartbeatTimeout / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				registry.Sweep(now.UTC())
			}
		}
	}()

	reconciler := commctl.NewReconciler(trades, history, commands, logger)

	// Market data: spread stats + OHLC coverage.
	market := marketdata.New(ohlc, logger)

	// Position management.
	symbolClasses := positionmgr.DefaultSymbolClasses()
	if cfg.AssetClassesPath != "" {
		if loaded, err := positionmgr.LoadSymbolClasses(cfg.AssetClassesPath); err != nil {
			logger.Warn("asset class table not loaded, using built-in defaults", zap.String("path", cfg.AssetClassesPath), zap.Error(err))
		} else {
			symbolClasses = loaded
		}
	}
	tpslManager := positionmgr.New(brokerSymbols, overrides, symbolClasses, logger)
	trailer := positionmgr.NewTrailer(cmdQueue, history, trades, logger)
	extender := positionmgr.NewExtender(cmdQueue, history, trades, logger)
	monitor := positionmgr.NewMonitor(trailer, extender, settings, logger)

	// Signal engine.
	weights := signalengine.DefaultWeights()
	if cfg.IndicatorWeightsPath != "" {
		if loaded, err := signalengine.LoadWeights(cfg.IndicatorWeightsPath); err != nil {
			logger.Warn("indicator weights not loaded, using built-in defaults", zap.String("path", cfg.IndicatorWeightsPath), zap.Error(err))
		} else {
			weights = loaded
		}
	}
	engine := signalengine.New(ohlc, signals, tpslManager, audit, &busSignalPublisher{bus: bus}, tpslManager, weights, signalengine.Config{MTFConfluenceEnabled: true}, logger)

	// Protective workers.
	breaker := riskworkers.NewCircuitBreaker(accounts, audit, logger)
	drawdown := riskworkers.NewDrawdownWorker(accounts, trades, settings, breaker, cmdQueue, logger)
	go drawdown.Run(ctx)
	slCooldown := riskworkers.NewSLCooldownWorker(trades, audit, logger)
	go slCooldown.Run(ctx)
	newsPause := riskworkers.NewNewsPauseWorker(news, logger)
	perfPause := riskworkers.NewPerformancePause(symbolPerf, logger)
	cooldowns := riskworkers.NewCombinedCooldowns(slCooldown, newsPause, perfPause)
	timeoutWorker := riskworkers.NewTimeoutWorker(accounts, trades, settings, cmdQueue, audit, logger)
	go timeoutWorker.Run(ctx)
	strategyValidate := riskworkers.NewStrategyValidateWorker(accounts, trades, commands, signals, snapshotAdapter{engine: engine}, cmdQueue, audit, logger)
	go strategyValidate.Run(ctx)

	retention := store.NewRetentionWorker(ticks, decisions, cfg.Data.TickRetention, cfg.Data.DecisionRetention, logger)
	go retention.Run(ctx)

	// Auto-trader.
	gate := autotrader.New(settings, registry, cooldowns, trades, drawdown, market, ticks, brokerSymbols, accounts, tpslManager, cmdQueue, audit, autotrader.DefaultConfig(), logger)

	// Worker pool and tick-driven schedulers.
	pool := workers.NewPool(logger, workers.DefaultPoolConfig("bridge"))
	pool.Start()
	signalSched := workers.NewSignalScheduler(pool, engine,
		[]types.Timeframe{types.TimeframeM15, types.TimeframeH1, types.TimeframeH4}, 3*time.Second, logger)
	positionSched := workers.NewPositionMonitorScheduler(pool, trades, monitor, logger)

	// Tick buffer: ingest -> ring -> batch insert, fanning each tick onto
	// the bus for the schedulers.
	buffer := tickbuffer.New(ticks, cfg.TickBuffer.RingSize, cfg.TickBuffer.FlushThreshold, cfg.TickBuffer.FlushInterval, logger, func(t types.Tick) {
		bus.Publish(events.NewTickEvent(t.AccountID, t.Symbol, t.Bid, t.Ask))
	})
	go buffer.Run(ctx)

	bus.Subscribe(events.EventTypeTick, func(e events.Event) error {
		tick, ok := e.(*events.TickEvent)
		if !ok {
			return nil
		}
		signalSched.OnTick(tick.AccountID, tick.Symbol)
		positionSched.OnTick(tick.AccountID, tick.Symbol, tick.Bid, tick.Ask)
		return nil
	})

	// Fresh signals feed the auto-trader, gated by the master switch.
	bus.Subscribe(events.EventTypeSignal, func(e events.Event) error {
		ev, ok := e.(*events.SignalEvent)
		if !ok {
			return nil
		}
		hub.BroadcastSignalCreated(ev)
		if !settings.Get().AutoTradeEnabled {
			return nil
		}
		sig, err := signals.ActiveFor(ev.AccountID, ev.Symbol, ev.Timeframe)
		if err != nil || sig == nil {
			return err
		}
		return gate.Evaluate(sig)
	})

	bus.Subscribe(events.EventTypeRiskAlert, func(e events.Event) error {
		hub.BroadcastRiskAlert(e)
		return nil
	})

	if cfg.AlertWebhookURL != "" {
		alerting.NewWebhookForwarder(cfg.AlertWebhookURL, logger).Subscribe(bus)
	}

	// HTTP surface.
	server := httpapi.NewServer(logger, cfg.Server, httpapi.Deps{
		Accounts:      accounts,
		BrokerSymbols: brokerSymbols,
		Commands:      commands,
		Signals:       signals,
		Trades:        trades,
		History:       history,
		SymbolPerf:    symbolPerf,
		TickStore:     ticks,
		Decisions:     decisions,
		Registry:      registry,
		Queue:         cmdQueue,
		Reconciler:    reconciler,
		Ticks:         buffer,
		Market:        market,
		SLHits:        slCooldown,
		Breaker:       breaker,
		Hub:           hub,
	})
	listenErrs := server.Start()

	// Shutdown: stop accepting work, let workers finish, flush the buffer.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-listenErrs:
		logger.Error("listener failed", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", zap.Error(err))
	}
	cancel()
	if err := pool.Stop(); err != nil {
		logger.Warn("worker pool shutdown incomplete", zap.Error(err))
	}
	bus.Stop()
	logger.Info("bridge stopped")
}

// decisionAudit writes every gating/protective decision to the store and
// mirrors CRITICAL ones onto the event bus as risk alerts for the dashboard
// and webhook forwarder.
type decisionAudit struct {
	store *store.AIDecisionStore
	bus   *events.EventBus
}

func (a *decisionAudit) Log(d *types.AIDecision) error {
	if err := a.store.Log(d); err != nil {
		return err
	}
	if d.Impact == types.ImpactCritical {
		a.bus.Publish(events.NewRiskAlertEvent(d.AccountID, d.DecisionType, d.Impact, d.Reasoning))
	}
	return nil
}

// busSignalPublisher adapts the event bus to signalengine's Publisher.
type busSignalPublisher struct {
	bus *events.EventBus
}

func (p *busSignalPublisher) PublishSignal(accountID, symbol string, tf types.Timeframe, signalType types.SignalType, confidence decimal.Decimal) {
	p.bus.Publish(events.NewSignalEvent(accountID, symbol, tf, signalType, confidence))
}

// snapshotAdapter bridges signalengine's Snapshot result into riskworkers'
// locally declared EngineSnapshot, avoiding a package dependency from the
// workers onto the engine.
type snapshotAdapter struct {
	engine *signalengine.Engine
}

func (a snapshotAdapter) Snapshot(symbol string, tf types.Timeframe) (riskworkers.EngineSnapshot, error) {
	s, err := a.engine.Snapshot(symbol, tf)
	if err != nil {
		return riskworkers.EngineSnapshot{}, err
	}
	return riskworkers.EngineSnapshot{
		Direction:        s.Direction,
		Confidence:       s.Confidence,
		PatternPresent:   s.PatternPresent,
		InsufficientData: s.InsufficientData,
	}, nil
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
