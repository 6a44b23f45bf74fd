package riskworkers_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlas-ea/bridge/internal/riskworkers"
	"github.com/atlas-ea/bridge/pkg/types"
)

type fakeCommandLookup struct {
	commands map[string]*types.Command
}

func (f fakeCommandLookup) Get(id string) (*types.Command, error) { return f.commands[id], nil }

type fakeSignalLookup struct {
	signals map[string]*types.Signal
}

func (f fakeSignalLookup) Get(id string) (*types.Signal, error) { return f.signals[id], nil }

type fakeSnapshotEngine struct {
	snap riskworkers.EngineSnapshot
	err  error
}

func (f fakeSnapshotEngine) Snapshot(symbol string, tf types.Timeframe) (riskworkers.EngineSnapshot, error) {
	return f.snap, f.err
}

func losingTrade() types.Trade {
	return types.Trade{
		TicketID:        "T1",
		Symbol:          "EURUSD",
		Side:            types.SignalBuy,
		PnL:             decimal.NewFromInt(-50),
		LinkedCommandID: "cmd-1",
	}
}

func TestStrategyValidateClosesOnDirectionFlip(t *testing.T) {
	accounts := newFakeAccountStore(&types.Account{ID: "acct-1"})
	trades := newFakeTradeStore()
	trades.open["acct-1"] = []types.Trade{losingTrade()}

	commands := fakeCommandLookup{commands: map[string]*types.Command{
		"cmd-1": {LinkedSignalID: "sig-1"},
	}}
	signals := fakeSignalLookup{signals: map[string]*types.Signal{
		"sig-1": {Timeframe: types.TimeframeH1, Confidence: decimal.NewFromInt(80)},
	}}
	engine := fakeSnapshotEngine{snap: riskworkers.EngineSnapshot{Direction: types.SignalSell, Confidence: 75, PatternPresent: true}}
	emitter := &fakeCommandEmitter{}

	w := riskworkers.NewStrategyValidateWorker(accounts, trades, commands, signals, engine, emitter, &fakeDecisionLog{}, zap.NewNop())
	require.NoError(t, w.Sweep())

	require.Len(t, emitter.commands, 1)
	require.Equal(t, string(types.CloseReasonStrategyInvalid), emitter.commands[0].Reason)
}

func TestStrategyValidateClosesOnConfidenceCollapse(t *testing.T) {
	accounts := newFakeAccountStore(&types.Account{ID: "acct-1"})
	trades := newFakeTradeStore()
	trades.open["acct-1"] = []types.Trade{losingTrade()}

	commands := fakeCommandLookup{commands: map[string]*types.Command{
		"cmd-1": {LinkedSignalID: "sig-1"},
	}}
	signals := fakeSignalLookup{signals: map[string]*types.Signal{
		"sig-1": {Timeframe: types.TimeframeH1, Confidence: decimal.NewFromInt(80)},
	}}
	engine := fakeSnapshotEngine{snap: riskworkers.EngineSnapshot{Direction: types.SignalBuy, Confidence: 55, PatternPresent: true}}
	emitter := &fakeCommandEmitter{}

	w := riskworkers.NewStrategyValidateWorker(accounts, trades, commands, signals, engine, emitter, &fakeDecisionLog{}, zap.NewNop())
	require.NoError(t, w.Sweep())
	require.Len(t, emitter.commands, 1)
}

func TestStrategyValidateNeverClosesAWinner(t *testing.T) {
	accounts := newFakeAccountStore(&types.Account{ID: "acct-1"})
	trades := newFakeTradeStore()
	winner := losingTrade()
	winner.PnL = decimal.NewFromInt(50)
	trades.open["acct-1"] = []types.Trade{winner}

	engine := fakeSnapshotEngine{snap: riskworkers.EngineSnapshot{Direction: types.SignalSell, Confidence: 10}}
	emitter := &fakeCommandEmitter{}

	w := riskworkers.NewStrategyValidateWorker(accounts, trades, fakeCommandLookup{}, fakeSignalLookup{}, engine, emitter, &fakeDecisionLog{}, zap.NewNop())
	require.NoError(t, w.Sweep())
	require.Empty(t, emitter.commands)
}

func TestStrategyValidateLeavesStillValidTradeAlone(t *testing.T) {
	accounts := newFakeAccountStore(&types.Account{ID: "acct-1"})
	trades := newFakeTradeStore()
	trades.open["acct-1"] = []types.Trade{losingTrade()}

	commands := fakeCommandLookup{commands: map[string]*types.Command{
		"cmd-1": {LinkedSignalID: "sig-1"},
	}}
	signals := fakeSignalLookup{signals: map[string]*types.Signal{
		"sig-1": {Timeframe: types.TimeframeH1, Confidence: decimal.NewFromInt(80)},
	}}
	engine := fakeSnapshotEngine{snap: riskworkers.EngineSnapshot{Direction: types.SignalBuy, Confidence: 78, PatternPresent: true}}
	emitter := &fakeCommandEmitter{}

	w := riskworkers.NewStrategyValidateWorker(accounts, trades, commands, signals, engine, emitter, &fakeDecisionLog{}, zap.NewNop())
	require.NoError(t, w.Sweep())
	require.Empty(t, emitter.commands)
}

func TestStrategyValidateSkipsTradeWithNoLinkedSignal(t *testing.T) {
	accounts := newFakeAccountStore(&types.Account{ID: "acct-1"})
	trades := newFakeTradeStore()
	unlinked := losingTrade()
	unlinked.LinkedCommandID = ""
	trades.open["acct-1"] = []types.Trade{unlinked}

	engine := fakeSnapshotEngine{snap: riskworkers.EngineSnapshot{Direction: types.SignalSell, Confidence: 10}}
	emitter := &fakeCommandEmitter{}

	w := riskworkers.NewStrategyValidateWorker(accounts, trades, fakeCommandLookup{}, fakeSignalLookup{}, engine, emitter, &fakeDecisionLog{}, zap.NewNop())
	require.NoError(t, w.Sweep())
	require.Empty(t, emitter.commands)
}
