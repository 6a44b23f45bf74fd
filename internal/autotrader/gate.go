// Package autotrader turns fresh signals into OPEN_TRADE commands under the
// guardrail gating pipeline.
package autotrader

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-ea/bridge/internal/sizing"
	"github.com/atlas-ea/bridge/pkg/types"
	"github.com/atlas-ea/bridge/pkg/utils"
)

// SettingsSource supplies the live, DB-backed trading config, backed by
// internal/store's SettingsStore.
type SettingsSource interface {
	Get() types.GlobalSettings
}

// ConnectionHealth reports EA link health, backed by internal/commctl's
// ConnectionRegistry.
type ConnectionHealth interface {
	IsHealthy(accountID string) bool
}

// CooldownSource reports whether a symbol is currently paused, by SL-hit
// cooldown or news-event pause, backed by internal/riskworkers.
type CooldownSource interface {
	Paused(accountID, symbol string) (bool, string)
}

// TradeSource supplies open trades for position-cap and correlation checks,
// backed by internal/store's TradeStore.
type TradeSource interface {
	OpenByAccount(accountID string) ([]types.Trade, error)
}

// DrawdownSource reports whether the account's daily loss is under limit,
// backed by internal/riskworkers's drawdown worker.
type DrawdownSource interface {
	DailyDrawdownExceeded(accountID string) (bool, decimal.Decimal, error)
}

// SpreadSource supplies current and rolling-average spread for a symbol,
// backed by internal/marketdata.
type SpreadSource interface {
	Current(accountID, symbol string) (decimal.Decimal, error)
	RollingAverage(accountID, symbol string, window time.Duration) (decimal.Decimal, error)
}

// TickSource supplies the latest tick age, backed by internal/store's
// TickStore.
type TickSource interface {
	Latest(accountID, symbol string) (*types.Tick, error)
}

// BrokerSymbolSource supplies contract specs for sizing and spread caps.
type BrokerSymbolSource interface {
	Get(accountID, symbol string) (*types.BrokerSymbol, error)
}

// AccountSource supplies account balance/state for the circuit breaker and
// position sizing.
type AccountSource interface {
	Get(accountID string) (*types.Account, error)
}

// CommandEmitter queues the resulting OPEN_TRADE command.
type CommandEmitter interface {
	Enqueue(c *types.Command) error
}

// DecisionLog records every gating rejection for the audit trail.
type DecisionLog interface {
	Log(d *types.AIDecision) error
}

// assetClassSpreadCap holds the hard per-class spread caps, expressed in quote-currency units for symbols without a
// pip concept (XAU, indices, crypto) and in pips otherwise.
var assetClassSpreadCap = map[types.AssetClass]float64{
	types.AssetForexMajor:  3,
	types.AssetForexMinor:  5,
	types.AssetForexExotic: 10,
	types.AssetMetals:      0.50,
	types.AssetIndices:     5,
	types.AssetCrypto:      50,
}

// correlationGroups maps a symbol to its pre-declared correlation group;
// symbols outside any group are treated as uncorrelated with everything.
var correlationGroups = map[string]string{
	"EURUSD": "eur_usd_bloc", "GBPUSD": "eur_usd_bloc", "AUDUSD": "eur_usd_bloc", "NZDUSD": "eur_usd_bloc",
	"USDJPY": "usd_jpy_bloc", "EURJPY": "usd_jpy_bloc", "GBPJPY": "usd_jpy_bloc",
	"XAUUSD": "metals", "XAGUSD": "metals",
}

const maxCorrelatedSameDirection = 2

// Gate runs the 13-step signal-gating pipeline for one fresh signal.
type Gate struct {
	settings      SettingsSource
	connections   ConnectionHealth
	cooldowns     CooldownSource
	trades        TradeSource
	drawdown      DrawdownSource
	spreads       SpreadSource
	ticks         TickSource
	brokerSymbols BrokerSymbolSource
	accounts      AccountSource
	classes       positionmgrResolver
	commands      CommandEmitter
	decisions     DecisionLog
	logger        *zap.Logger

	maxSignalAgeMinutes int
	maxOpenPositions    int
	maxOpenPerSymbol    int
}

// positionmgrResolver mirrors signalengine.AssetClassResolver without
// importing positionmgr, so the gate can classify a symbol for its spread
// cap without a cyclic dependency.
type positionmgrResolver interface {
	ResolveAssetClass(symbol string) types.AssetClass
}

// Config tunes the gate's static thresholds not already covered by
// GlobalSettings.
type Config struct {
	MaxSignalAgeMinutes int
	MaxOpenPositions    int
	MaxOpenPerSymbol    int
}

// DefaultConfig returns the canonical gating defaults.
func DefaultConfig() Config {
	return Config{MaxSignalAgeMinutes: 60, MaxOpenPositions: 10, MaxOpenPerSymbol: 2}
}

// New builds a Gate.
func New(
	settings SettingsSource, connections ConnectionHealth, cooldowns CooldownSource, trades TradeSource,
	drawdown DrawdownSource, spreads SpreadSource, ticks TickSource, brokerSymbols BrokerSymbolSource,
	accounts AccountSource, classes positionmgrResolver, commands CommandEmitter, decisions DecisionLog,
	cfg Config, logger *zap.Logger,
) *Gate {
	return &Gate{
		settings: settings, connections: connections, cooldowns: cooldowns, trades: trades,
		drawdown: drawdown, spreads: spreads, ticks: ticks, brokerSymbols: brokerSymbols,
		accounts: accounts, classes: classes, commands: commands, decisions: decisions,
		logger:              logger.Named("autotrader"),
		maxSignalAgeMinutes: cfg.MaxSignalAgeMinutes,
		maxOpenPositions:    cfg.MaxOpenPositions,
		maxOpenPerSymbol:    cfg.MaxOpenPerSymbol,
	}
}

// Evaluate runs the full gating pipeline for a fresh signal and, if every
// gate passes, emits an OPEN_TRADE command.
func (g *Gate) Evaluate(sig *types.Signal) error {
	account, err := g.accounts.Get(sig.AccountID)
	if err != nil {
		return fmt.Errorf("loading account %s: %w", sig.AccountID, err)
	}
	if account == nil {
		return g.reject(sig, "ACCOUNT_NOT_FOUND", "account record missing")
	}

	// 1. Circuit breaker.
	if account.CircuitBreakerTripped {
		return g.reject(sig, "CIRCUIT_BREAKER", "circuit breaker tripped for account")
	}

	// 2. EA connection healthy.
	if !g.connections.IsHealthy(sig.AccountID) {
		return g.reject(sig, "CONNECTION_UNHEALTHY", "EA connection is not healthy")
	}

	// 3. Signal age.
	if time.Since(sig.CreatedAt) > time.Duration(g.maxSignalAgeMinutes)*time.Minute {
		return g.reject(sig, "SIGNAL_STALE", fmt.Sprintf("signal age exceeds %d minutes", g.maxSignalAgeMinutes))
	}

	// 4. Symbol cooldown (SL-hit protection, news pause, per-symbol disable).
	if paused, reason := g.cooldowns.Paused(sig.AccountID, sig.Symbol); paused {
		return g.reject(sig, "RISK_LIMIT", fmt.Sprintf("symbol paused: %s", reason))
	}

	open, err := g.trades.OpenByAccount(sig.AccountID)
	if err != nil {
		return fmt.Errorf("loading open trades for %s: %w", sig.AccountID, err)
	}

	// 5. Global max open positions.
	settings := g.settings.Get()
	if len(open) >= settings.MaxOpenTradesPerAccount {
		return g.reject(sig, "MAX_POSITIONS", "global open-position cap reached")
	}

	// 6. Max open positions per symbol.
	perSymbol := 0
	for _, t := range open {
		if t.Symbol == sig.Symbol {
			perSymbol++
		}
	}
	if perSymbol >= g.maxOpenPerSymbol {
		return g.reject(sig, "MAX_POSITIONS_SYMBOL", fmt.Sprintf("%s already has %d open positions", sig.Symbol, perSymbol))
	}

	// 7. Correlation exposure.
	if group, ok := correlationGroups[sig.Symbol]; ok {
		sameDirection := 0
		for _, t := range open {
			if correlationGroups[t.Symbol] == group && t.Side == sig.Type {
				sameDirection++
			}
		}
		if sameDirection >= maxCorrelatedSameDirection {
			return g.reject(sig, "CORRELATION_LIMIT", fmt.Sprintf("correlation group %s already has %d %s positions", group, sameDirection, sig.Type))
		}
	}

	// 8. Daily drawdown.
	exceeded, pct, err := g.drawdown.DailyDrawdownExceeded(sig.AccountID)
	if err != nil {
		g.logger.Warn("drawdown check failed, proceeding", zap.Error(err))
	} else if exceeded {
		return g.reject(sig, "DAILY_DRAWDOWN", fmt.Sprintf("daily drawdown %.2f%% exceeds limit", pct.InexactFloat64()))
	}

	// 9. Confidence threshold.
	minConfidence := settings.MinConfidencePct
	if sig.Confidence.LessThan(minConfidence) {
		return g.reject(sig, "LOW_CONFIDENCE", fmt.Sprintf("confidence %s below minimum %s", sig.Confidence, minConfidence))
	}

	// 10. Pre-execution spread check.
	if err := g.checkSpread(sig); err != nil {
		return g.reject(sig, "SPREAD_TOO_WIDE", err.Error())
	}

	// 11. Tick freshness.
	tick, err := g.ticks.Latest(sig.AccountID, sig.Symbol)
	if err != nil {
		return fmt.Errorf("loading latest tick for %s: %w", sig.Symbol, err)
	}
	if tick == nil || time.Since(tick.Timestamp) > 60*time.Second {
		return g.reject(sig, "STALE_TICK", "no tick within the last 60 seconds")
	}

	// 12. Position sizing.
	volume, err := g.sizePosition(sig, account, settings)
	if err != nil {
		return g.reject(sig, "SIZING_REJECTED", err.Error())
	}

	// 13. Emit command.
	cmd := &types.Command{
		ID:              utils.GenerateCommandID(),
		AccountID:       sig.AccountID,
		Type:            types.CommandOpenTrade,
		Symbol:          sig.Symbol,
		Volume:          volume,
		Price:           sig.EntryPrice,
		StopLoss:        sig.StopLoss,
		TakeProfit:      sig.TakeProfit,
		Reason:          fmt.Sprintf("autotrade: %s", sig.Reasoning),
		LinkedSignalID:  sig.ID,
		Priority:        types.PriorityNormal,
		Status:          types.CommandPending,
		CreatedAt:       time.Now().UTC(),
	}
	if err := g.commands.Enqueue(cmd); err != nil {
		return fmt.Errorf("enqueuing open-trade command: %w", err)
	}
	g.logApproval(sig)
	return nil
}

func (g *Gate) checkSpread(sig *types.Signal) error {
	current, err := g.spreads.Current(sig.AccountID, sig.Symbol)
	if err != nil {
		return fmt.Errorf("loading current spread: %w", err)
	}
	avg, err := g.spreads.RollingAverage(sig.AccountID, sig.Symbol, 60*time.Minute)
	if err != nil {
		return fmt.Errorf("loading rolling spread average: %w", err)
	}
	currentF, _ := current.Float64()
	avgF, _ := avg.Float64()
	if avgF > 0 && currentF > avgF*3 {
		return fmt.Errorf("spread %.5f exceeds 3x 60m average %.5f", currentF, avgF)
	}

	class := g.classes.ResolveAssetClass(sig.Symbol)
	capSpread := currentF
	switch class {
	case types.AssetForexMajor, types.AssetForexMinor, types.AssetForexExotic:
		if bs, err := g.brokerSymbols.Get(sig.AccountID, sig.Symbol); err == nil && bs != nil && !bs.PipSize.IsZero() {
			pipSize, _ := bs.PipSize.Float64()
			capSpread = currentF / pipSize
		}
	}
	if cap, ok := assetClassSpreadCap[class]; ok && capSpread > cap {
		return fmt.Errorf("spread %.5f exceeds %s hard cap %.2f", capSpread, class, cap)
	}
	return nil
}

// sizePosition turns the account's risk-per-trade percentage into a lot
// size for this signal's stop distance. pip_value_per_lot is approximated
// as pip_size * contract_size, ignoring quote-currency conversion — a
// deliberate simplification.
func (g *Gate) sizePosition(sig *types.Signal, account *types.Account, settings types.GlobalSettings) (decimal.Decimal, error) {
	bs, err := g.brokerSymbols.Get(sig.AccountID, sig.Symbol)
	if err != nil {
		return decimal.Zero, fmt.Errorf("loading broker symbol: %w", err)
	}
	if bs == nil {
		return decimal.Zero, fmt.Errorf("no broker symbol spec for %s", sig.Symbol)
	}

	riskPct := settings.RiskPerTradePct
	riskAmount := account.Balance.Mul(riskPct).Div(decimal.NewFromInt(100))

	slDistance := sig.EntryPrice.Sub(sig.StopLoss).Abs()
	pipValuePerLot := bs.PipSize.Mul(bs.ContractSize)
	if pipValuePerLot.IsZero() {
		return decimal.Zero, fmt.Errorf("symbol %s has zero pip value per lot", sig.Symbol)
	}
	slDistanceInCurrency := slDistance.Div(bs.PipSize).Mul(pipValuePerLot)

	return sizing.Calculate(riskAmount, slDistanceInCurrency, sizing.Bounds{
		Min:  bs.VolumeMin,
		Max:  bs.VolumeMax,
		Step: bs.VolumeStep,
	})
}

func (g *Gate) reject(sig *types.Signal, decisionType, reasoning string) error {
	if g.decisions != nil {
		if err := g.decisions.Log(&types.AIDecision{
			ID:           utils.GenerateID("dec"),
			AccountID:    sig.AccountID,
			Symbol:       sig.Symbol,
			SignalID:     sig.ID,
			DecisionType: decisionType,
			Approved:     false,
			Impact:       types.ImpactMedium,
			Outcome:      "rejected",
			Reasoning:    reasoning,
			CreatedAt:    time.Now().UTC(),
		}); err != nil {
			g.logger.Warn("failed to log gating rejection", zap.String("decision_type", decisionType), zap.Error(err))
		}
	}
	return nil
}

func (g *Gate) logApproval(sig *types.Signal) {
	if g.decisions == nil {
		return
	}
	if err := g.decisions.Log(&types.AIDecision{
		ID:           utils.GenerateID("dec"),
		AccountID:    sig.AccountID,
		Symbol:       sig.Symbol,
		SignalID:     sig.ID,
		DecisionType: "AUTOTRADE_OPEN",
		Approved:     true,
		Impact:       types.ImpactLow,
		Outcome:      "approved",
		Reasoning:    fmt.Sprintf("signal %s passed all gates", sig.ID),
		CreatedAt:    time.Now().UTC(),
	}); err != nil {
		g.logger.Warn("failed to log gating approval", zap.Error(err))
	}
}
