package autotrader_test

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlas-ea/bridge/internal/autotrader"
	"github.com/atlas-ea/bridge/pkg/types"
)

type gateFixture struct {
	settings    *fakeSettings
	connections *fakeConnections
	cooldowns   *fakeCooldowns
	trades      *fakeTrades
	drawdown    *fakeDrawdown
	spreads     *fakeSpreads
	ticks       *fakeTicks
	symbols     *fakeBrokerSymbols
	accounts    *fakeAccounts
	commands    *fakeEmitter
	decisions   *fakeDecisions
	gate        *autotrader.Gate
}

type fakeSettings struct{ settings types.GlobalSettings }

func (f *fakeSettings) Get() types.GlobalSettings { return f.settings }

type fakeConnections struct{ healthy bool }

func (f *fakeConnections) IsHealthy(string) bool { return f.healthy }

type fakeCooldowns struct {
	paused bool
	reason string
}

func (f *fakeCooldowns) Paused(string, string) (bool, string) { return f.paused, f.reason }

type fakeTrades struct{ open []types.Trade }

func (f *fakeTrades) OpenByAccount(string) ([]types.Trade, error) { return f.open, nil }

type fakeDrawdown struct {
	exceeded bool
	pct      decimal.Decimal
}

func (f *fakeDrawdown) DailyDrawdownExceeded(string) (bool, decimal.Decimal, error) {
	return f.exceeded, f.pct, nil
}

type fakeSpreads struct {
	current decimal.Decimal
	average decimal.Decimal
}

func (f *fakeSpreads) Current(string, string) (decimal.Decimal, error) { return f.current, nil }
func (f *fakeSpreads) RollingAverage(string, string, time.Duration) (decimal.Decimal, error) {
	return f.average, nil
}

type fakeTicks struct{ tick *types.Tick }

func (f *fakeTicks) Latest(string, string) (*types.Tick, error) { return f.tick, nil }

type fakeBrokerSymbols struct{ spec *types.BrokerSymbol }

func (f *fakeBrokerSymbols) Get(string, string) (*types.BrokerSymbol, error) { return f.spec, nil }

type fakeAccounts struct{ account *types.Account }

func (f *fakeAccounts) Get(string) (*types.Account, error) { return f.account, nil }

type fakeEmitter struct {
	mu       sync.Mutex
	commands []types.Command
}

func (f *fakeEmitter) Enqueue(c *types.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, *c)
	return nil
}

type fakeDecisions struct {
	mu   sync.Mutex
	rows []types.AIDecision
}

func (f *fakeDecisions) Log(d *types.AIDecision) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, *d)
	return nil
}

func (f *fakeDecisions) lastType() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.rows) == 0 {
		return ""
	}
	return f.rows[len(f.rows)-1].DecisionType
}

type staticResolver struct{ class types.AssetClass }

func (r staticResolver) ResolveAssetClass(string) types.AssetClass { return r.class }

func newGateFixture(t *testing.T) *gateFixture {
	t.Helper()
	settings := types.DefaultGlobalSettings()
	settings.AutoTradeEnabled = true

	fx := &gateFixture{
		settings:    &fakeSettings{settings: settings},
		connections: &fakeConnections{healthy: true},
		cooldowns:   &fakeCooldowns{},
		trades:      &fakeTrades{},
		drawdown:    &fakeDrawdown{},
		spreads: &fakeSpreads{
			current: decimal.NewFromFloat(0.00002),
			average: decimal.NewFromFloat(0.00002),
		},
		ticks: &fakeTicks{tick: &types.Tick{
			Symbol:    "EURUSD",
			Bid:       decimal.NewFromFloat(1.08499),
			Ask:       decimal.NewFromFloat(1.08501),
			Timestamp: time.Now().UTC(),
		}},
		symbols: &fakeBrokerSymbols{spec: &types.BrokerSymbol{
			Symbol:       "EURUSD",
			AssetClass:   types.AssetForexMajor,
			Digits:       5,
			PipSize:      decimal.NewFromFloat(0.0001),
			ContractSize: decimal.NewFromInt(100000),
			VolumeMin:    decimal.NewFromFloat(0.01),
			VolumeMax:    decimal.NewFromInt(100),
			VolumeStep:   decimal.NewFromFloat(0.01),
		}},
		accounts: &fakeAccounts{account: &types.Account{
			ID:      "acct-1",
			Balance: decimal.NewFromInt(10000),
		}},
		commands:  &fakeEmitter{},
		decisions: &fakeDecisions{},
	}
	fx.gate = autotrader.New(
		fx.settings, fx.connections, fx.cooldowns, fx.trades, fx.drawdown,
		fx.spreads, fx.ticks, fx.symbols, fx.accounts,
		staticResolver{class: types.AssetForexMajor}, fx.commands, fx.decisions,
		autotrader.DefaultConfig(), zap.NewNop(),
	)
	return fx
}

func freshSignal() *types.Signal {
	return &types.Signal{
		ID:         "sig-1",
		AccountID:  "acct-1",
		Symbol:     "EURUSD",
		Timeframe:  types.TimeframeH1,
		Type:       types.SignalBuy,
		Confidence: decimal.NewFromInt(72),
		EntryPrice: decimal.NewFromFloat(1.08500),
		StopLoss:   decimal.NewFromFloat(1.08404),
		TakeProfit: decimal.NewFromFloat(1.08660),
		Status:     types.SignalStatusActive,
		CreatedAt:  time.Now().UTC(),
	}
}

func TestGateEmitsOpenTradeCommand(t *testing.T) {
	fx := newGateFixture(t)

	require.NoError(t, fx.gate.Evaluate(freshSignal()))
	require.Len(t, fx.commands.commands, 1)

	cmd := fx.commands.commands[0]
	require.Equal(t, types.CommandOpenTrade, cmd.Type)
	require.Equal(t, "EURUSD", cmd.Symbol)
	require.Equal(t, "sig-1", cmd.LinkedSignalID)
	require.Equal(t, types.PriorityNormal, cmd.Priority)

	// 1% of 10000 = 100 EUR risk over a 9.6-pip stop at 10 EUR/pip/lot,
	// floored to the 0.01 step.
	require.True(t, cmd.Volume.Equal(decimal.NewFromFloat(1.04)), "volume = %s", cmd.Volume)
	require.Equal(t, "AUTOTRADE_OPEN", fx.decisions.lastType())
}

func TestGateRejectsWhenCircuitBreakerTripped(t *testing.T) {
	fx := newGateFixture(t)
	fx.accounts.account.CircuitBreakerTripped = true

	require.NoError(t, fx.gate.Evaluate(freshSignal()))
	require.Empty(t, fx.commands.commands)
	require.Equal(t, "CIRCUIT_BREAKER", fx.decisions.lastType())
}

func TestGateRejectsUnhealthyConnection(t *testing.T) {
	fx := newGateFixture(t)
	fx.connections.healthy = false

	require.NoError(t, fx.gate.Evaluate(freshSignal()))
	require.Empty(t, fx.commands.commands)
	require.Equal(t, "CONNECTION_UNHEALTHY", fx.decisions.lastType())
}

func TestGateRejectsStaleSignal(t *testing.T) {
	fx := newGateFixture(t)
	sig := freshSignal()
	sig.CreatedAt = time.Now().UTC().Add(-2 * time.Hour)

	require.NoError(t, fx.gate.Evaluate(sig))
	require.Empty(t, fx.commands.commands)
	require.Equal(t, "SIGNAL_STALE", fx.decisions.lastType())
}

func TestGateRejectsPausedSymbol(t *testing.T) {
	fx := newGateFixture(t)
	fx.cooldowns.paused = true
	fx.cooldowns.reason = "2 SL hits within 4h"

	require.NoError(t, fx.gate.Evaluate(freshSignal()))
	require.Empty(t, fx.commands.commands)
	require.Equal(t, "RISK_LIMIT", fx.decisions.lastType())
}

func TestGateRejectsAtGlobalPositionCap(t *testing.T) {
	fx := newGateFixture(t)
	for i := 0; i < fx.settings.settings.MaxOpenTradesPerAccount; i++ {
		fx.trades.open = append(fx.trades.open, types.Trade{Symbol: "USDJPY", Side: types.SignalSell})
	}

	require.NoError(t, fx.gate.Evaluate(freshSignal()))
	require.Empty(t, fx.commands.commands)
	require.Equal(t, "MAX_POSITIONS", fx.decisions.lastType())
}

func TestGateRejectsAtPerSymbolCap(t *testing.T) {
	fx := newGateFixture(t)
	fx.trades.open = []types.Trade{
		{Symbol: "EURUSD", Side: types.SignalBuy},
		{Symbol: "EURUSD", Side: types.SignalSell},
	}

	require.NoError(t, fx.gate.Evaluate(freshSignal()))
	require.Empty(t, fx.commands.commands)
	require.Equal(t, "MAX_POSITIONS_SYMBOL", fx.decisions.lastType())
}

func TestGateRejectsCorrelatedExposure(t *testing.T) {
	fx := newGateFixture(t)
	// GBPUSD and AUDUSD share EURUSD's correlation bloc; two BUYs exhaust it.
	fx.trades.open = []types.Trade{
		{Symbol: "GBPUSD", Side: types.SignalBuy},
		{Symbol: "AUDUSD", Side: types.SignalBuy},
	}

	require.NoError(t, fx.gate.Evaluate(freshSignal()))
	require.Empty(t, fx.commands.commands)
	require.Equal(t, "CORRELATION_LIMIT", fx.decisions.lastType())
}

func TestGateRejectsOnDailyDrawdown(t *testing.T) {
	fx := newGateFixture(t)
	fx.drawdown.exceeded = true
	fx.drawdown.pct = decimal.NewFromFloat(-6.2)

	require.NoError(t, fx.gate.Evaluate(freshSignal()))
	require.Empty(t, fx.commands.commands)
	require.Equal(t, "DAILY_DRAWDOWN", fx.decisions.lastType())
}

func TestGateRejectsLowConfidence(t *testing.T) {
	fx := newGateFixture(t)
	sig := freshSignal()
	sig.Confidence = decimal.NewFromInt(60)

	require.NoError(t, fx.gate.Evaluate(sig))
	require.Empty(t, fx.commands.commands)
	require.Equal(t, "LOW_CONFIDENCE", fx.decisions.lastType())
}

func TestGateRejectsWideSpread(t *testing.T) {
	fx := newGateFixture(t)
	// 4x the rolling average trips the 3x rule.
	fx.spreads.current = decimal.NewFromFloat(0.00008)

	require.NoError(t, fx.gate.Evaluate(freshSignal()))
	require.Empty(t, fx.commands.commands)
	require.Equal(t, "SPREAD_TOO_WIDE", fx.decisions.lastType())
}

func TestGateRejectsStaleTick(t *testing.T) {
	fx := newGateFixture(t)
	fx.ticks.tick.Timestamp = time.Now().UTC().Add(-5 * time.Minute)

	require.NoError(t, fx.gate.Evaluate(freshSignal()))
	require.Empty(t, fx.commands.commands)
	require.Equal(t, "STALE_TICK", fx.decisions.lastType())
}

func TestGateRejectsUnsizableVolume(t *testing.T) {
	fx := newGateFixture(t)
	// A volume step far above the computed size floors the snap to zero.
	fx.symbols.spec.VolumeStep = decimal.NewFromInt(50)

	require.NoError(t, fx.gate.Evaluate(freshSignal()))
	require.Empty(t, fx.commands.commands)
	require.Equal(t, "SIZING_REJECTED", fx.decisions.lastType())
}
