package riskworkers

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-ea/bridge/pkg/types"
	"github.com/atlas-ea/bridge/pkg/utils"
)

// strategyValidateInterval is the worker's periodic cadence.
const strategyValidateInterval = 5 * time.Minute

// confidenceDropThreshold is the "dropped by ≥ 20 points" rule of §4.5.5.
const confidenceDropThreshold = 20.0

// SnapshotEngine is the read-only subset of internal/signalengine's Engine
// needed to re-run the pipeline in "validation mode" without persisting a
// new signal.
type SnapshotEngine interface {
	Snapshot(symbol string, tf types.Timeframe) (EngineSnapshot, error)
}

// EngineSnapshot mirrors signalengine.Snapshot, duplicated here so this
// package doesn't import internal/signalengine directly — wiring supplies a
// thin adapter in cmd/server.
type EngineSnapshot struct {
	Direction        types.SignalType
	Confidence       float64
	PatternPresent   bool
	InsufficientData bool
}

// CommandLookup recovers a command by ID, used to find the signal a trade
// was opened from.
type CommandLookup interface {
	Get(id string) (*types.Command, error)
}

// SignalLookup recovers a signal by ID regardless of its current status,
// used to recover the originating timeframe and confidence of a trade.
type SignalLookup interface {
	Get(id string) (*types.Signal, error)
}

// StrategyValidateWorker re-checks whether the strategy that opened a
// currently-losing trade is still valid, closing the trade when the
// direction has flipped, confidence has collapsed, or the entry pattern is
// gone. A winning trade is never touched, even if its strategy no longer
// validates; invalidation is reserved for losers only.
type StrategyValidateWorker struct {
	accounts  AccountStore
	trades    TradeStore
	commandsQ CommandLookup
	signals   SignalLookup
	engine    SnapshotEngine
	emitter   CommandEmitter
	decisions DecisionLog
	logger    *zap.Logger
}

// NewStrategyValidateWorker builds a StrategyValidateWorker.
func NewStrategyValidateWorker(accounts AccountStore, trades TradeStore, commandsQ CommandLookup, signals SignalLookup, engine SnapshotEngine, emitter CommandEmitter, decisions DecisionLog, logger *zap.Logger) *StrategyValidateWorker {
	return &StrategyValidateWorker{
		accounts:  accounts,
		trades:    trades,
		commandsQ: commandsQ,
		signals:   signals,
		engine:    engine,
		emitter:   emitter,
		decisions: decisions,
		logger:    logger.Named("riskworkers.strategyvalidate"),
	}
}

// Run loops until ctx is cancelled, re-validating every open losing trade
// each interval.
func (w *StrategyValidateWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(strategyValidateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Sweep(); err != nil {
				w.logger.Warn("strategy validation sweep failed", zap.Error(err))
			}
		}
	}
}

func (w *StrategyValidateWorker) Sweep() error {
	accounts, err := w.accounts.List()
	if err != nil {
		return fmt.Errorf("listing accounts: %w", err)
	}
	for _, account := range accounts {
		open, err := w.trades.OpenByAccount(account.ID)
		if err != nil {
			w.logger.Warn("loading open trades failed", zap.String("account_id", account.ID), zap.Error(err))
			continue
		}
		for _, t := range open {
			if !t.PnL.IsNegative() {
				continue // never closes a winning trade
			}
			w.validate(account.ID, t)
		}
	}
	return nil
}

func (w *StrategyValidateWorker) validate(accountID string, t types.Trade) {
	tf, entryConfidence, ok := w.originatingSignal(t)
	if !ok {
		return // no recoverable signal context; nothing to compare against
	}

	snap, err := w.engine.Snapshot(t.Symbol, tf)
	if err != nil {
		w.logger.Warn("snapshot failed", zap.String("ticket_id", t.TicketID), zap.Error(err))
		return
	}
	if snap.InsufficientData {
		return
	}

	directionFlipped := snap.Direction != types.SignalHold && snap.Direction != t.Side
	confidenceDropped := entryConfidence-snap.Confidence >= confidenceDropThreshold
	patternGone := !snap.PatternPresent

	if !directionFlipped && !confidenceDropped && !patternGone {
		return
	}

	reason := invalidationReason(directionFlipped, confidenceDropped, patternGone)
	cmd := &types.Command{
		ID:             utils.GenerateCommandID(),
		AccountID:      accountID,
		Type:           types.CommandCloseTrade,
		Symbol:         t.Symbol,
		TicketID:       t.TicketID,
		Reason:         string(types.CloseReasonStrategyInvalid),
		Priority:       types.PriorityNormal,
		Status:         types.CommandPending,
		CreatedAt:      time.Now().UTC(),
	}
	if err := w.emitter.Enqueue(cmd); err != nil {
		w.logger.Warn("strategy-invalid close enqueue failed", zap.String("ticket_id", t.TicketID), zap.Error(err))
		return
	}
	w.logger.Info("trade invalidated by strategy re-check", zap.String("ticket_id", t.TicketID), zap.String("reason", reason))
	if w.decisions == nil {
		return
	}
	_ = w.decisions.Log(&types.AIDecision{
		ID:           utils.GenerateID("dec"),
		AccountID:    accountID,
		Symbol:       t.Symbol,
		DecisionType: "STRATEGY_INVALIDATED",
		Approved:     true,
		Impact:       types.ImpactHigh,
		Outcome:      "close",
		Reasoning:    reason,
		CreatedAt:    time.Now().UTC(),
	})
}

// originatingSignal recovers the timeframe and entry confidence of the
// signal that produced this trade's opening command, via the
// trade -> command -> signal chain. Returns ok=false when the chain can't
// be recovered (e.g. a manually-opened or reconciled trade).
func (w *StrategyValidateWorker) originatingSignal(t types.Trade) (types.Timeframe, float64, bool) {
	if t.LinkedCommandID == "" {
		return "", 0, false
	}
	cmd, err := w.commandsQ.Get(t.LinkedCommandID)
	if err != nil || cmd == nil || cmd.LinkedSignalID == "" {
		return "", 0, false
	}
	sig, err := w.signals.Get(cmd.LinkedSignalID)
	if err != nil || sig == nil {
		return "", 0, false
	}
	conf, _ := sig.Confidence.Float64()
	return sig.Timeframe, conf, true
}

func invalidationReason(directionFlipped, confidenceDropped, patternGone bool) string {
	switch {
	case directionFlipped:
		return "signal direction flipped"
	case confidenceDropped:
		return "confidence dropped below entry threshold"
	case patternGone:
		return "entry pattern no longer present"
	default:
		return "strategy no longer valid"
	}
}
