package riskworkers

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/atlas-ea/bridge/pkg/types"
)

const (
	// perfDisableWinRatePct is the rolling win-rate floor under which a
	// symbol stops auto-trading.
	perfDisableWinRatePct = 30.0
	// perfDisableMinTrades is the sample size required before the win-rate
	// floor applies, so a cold symbol isn't disabled off two losses.
	perfDisableMinTrades = 10
)

// PerformanceSource supplies the per-symbol win/loss rollup, backed by
// internal/store's SymbolPerformanceStore.
type PerformanceSource interface {
	Get(accountID, symbol string) (*types.SymbolPerformanceTracking, error)
}

// PerformancePause disables symbols whose rolling win rate has collapsed.
// It satisfies autotrader's CooldownSource and composes with the SL-hit and
// news pauses via CombinedCooldowns.
type PerformancePause struct {
	perf   PerformanceSource
	logger *zap.Logger
}

// NewPerformancePause builds a PerformancePause.
func NewPerformancePause(perf PerformanceSource, logger *zap.Logger) *PerformancePause {
	return &PerformancePause{perf: perf, logger: logger.Named("riskworkers.perfdisable")}
}

// Paused reports whether a symbol is auto-disabled by performance.
func (p *PerformancePause) Paused(accountID, symbol string) (bool, string) {
	row, err := p.perf.Get(accountID, symbol)
	if err != nil || row == nil {
		return false, ""
	}
	if row.TotalTrades < perfDisableMinTrades {
		return false, ""
	}

	winRate := float64(row.Wins) / float64(row.TotalTrades) * 100
	if winRate >= perfDisableWinRatePct {
		return false, ""
	}
	return true, fmt.Sprintf("symbol disabled: win rate %.1f%% over %d trades below %.0f%%",
		winRate, row.TotalTrades, perfDisableWinRatePct)
}
