package riskworkers_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlas-ea/bridge/internal/riskworkers"
	"github.com/atlas-ea/bridge/pkg/types"
)

type fakePerformance struct {
	rows map[string]*types.SymbolPerformanceTracking
}

func (f *fakePerformance) Get(accountID, symbol string) (*types.SymbolPerformanceTracking, error) {
	return f.rows[symbol], nil
}

func TestPerformancePauseDisablesLowWinRate(t *testing.T) {
	p := riskworkers.NewPerformancePause(&fakePerformance{rows: map[string]*types.SymbolPerformanceTracking{
		"XAUUSD": {Symbol: "XAUUSD", TotalTrades: 12, Wins: 2, Losses: 10},
	}}, zap.NewNop())

	paused, reason := p.Paused("acct-1", "XAUUSD")
	require.True(t, paused)
	require.Contains(t, reason, "win rate")
}

func TestPerformancePauseRequiresSampleSize(t *testing.T) {
	p := riskworkers.NewPerformancePause(&fakePerformance{rows: map[string]*types.SymbolPerformanceTracking{
		"XAUUSD": {Symbol: "XAUUSD", TotalTrades: 4, Wins: 0, Losses: 4},
	}}, zap.NewNop())

	paused, _ := p.Paused("acct-1", "XAUUSD")
	require.False(t, paused)
}

func TestPerformancePauseLeavesHealthySymbolsAlone(t *testing.T) {
	p := riskworkers.NewPerformancePause(&fakePerformance{rows: map[string]*types.SymbolPerformanceTracking{
		"EURUSD": {Symbol: "EURUSD", TotalTrades: 20, Wins: 11, Losses: 9},
	}}, zap.NewNop())

	paused, _ := p.Paused("acct-1", "EURUSD")
	require.False(t, paused)

	paused, _ = p.Paused("acct-1", "UNKNOWN")
	require.False(t, paused)
}
