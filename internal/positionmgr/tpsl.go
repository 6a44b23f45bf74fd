// Package positionmgr computes initial TP/SL for new signals, trails SL and
// extends TP on open trades, and derives exit metrics when the EA reports a
// close.
package positionmgr

import (
	"fmt"
	"math"
	"os"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/atlas-ea/bridge/pkg/types"
)

// ClassParams holds the ATR multipliers and risk bounds for one asset class,
// an 8-row table keyed by asset class.
type ClassParams struct {
	ATRTPMult      float64
	ATRSLMult      float64
	MaxTPPct       float64
	MinSLPct       float64
	FallbackATRPct float64
	TrailingMult   float64
}

var classTable = map[types.AssetClass]ClassParams{
	types.AssetForexMajor:  {2.0, 1.2, 1.0, 0.15, 0.08, 0.8},
	types.AssetForexMinor:  {2.5, 1.3, 1.2, 0.20, 0.12, 0.9},
	types.AssetForexExotic: {3.0, 1.5, 2.0, 0.50, 0.20, 1.0},
	types.AssetCrypto:      {1.8, 1.0, 5.0, 1.00, 2.00, 0.7},
	types.AssetMetals:      {2.2, 1.2, 2.0, 0.50, 0.80, 0.8},
	types.AssetIndices:     {2.0, 1.2, 1.5, 0.30, 0.60, 0.9},
	types.AssetCommodities: {2.5, 1.5, 3.0, 0.80, 1.50, 1.0},
	types.AssetStocks:      {2.0, 1.3, 2.0, 0.50, 1.00, 0.9},
}

func paramsFor(class types.AssetClass) ClassParams {
	if p, ok := classTable[class]; ok {
		return p
	}
	return classTable[types.AssetForexMajor]
}

// BrokerSymbolSource supplies the live per-account contract spec reported by
// the EA, backed by internal/store's BrokerSymbolStore.
type BrokerSymbolSource interface {
	Get(accountID, symbol string) (*types.BrokerSymbol, error)
}

// OverrideSource supplies per-symbol TP/SL/confidence overrides (e.g.
// XAUUSD), backed by internal/store's SymbolOverrideStore.
type OverrideSource interface {
	Get(symbol string) (*types.SymbolOverride, error)
}

// symbolClassTable is the static symbol->class fallback used until a symbol
// has synced broker specs, loaded once at boot from configs/asset_classes.yaml.
type symbolClassTable map[string]types.AssetClass

// LoadSymbolClasses reads the static symbol-to-class table.
func LoadSymbolClasses(path string) (symbolClassTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading asset classes %s: %w", path, err)
	}
	var t symbolClassTable
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("parsing asset classes %s: %w", path, err)
	}
	return t, nil
}

// DefaultSymbolClasses is the fallback used when no artifact file is
// configured, covering the major pairs and XAUUSD so a fresh checkout still
// classifies common symbols correctly.
func DefaultSymbolClasses() symbolClassTable {
	return symbolClassTable{
		"EURUSD": types.AssetForexMajor, "GBPUSD": types.AssetForexMajor,
		"USDJPY": types.AssetForexMajor, "USDCHF": types.AssetForexMajor,
		"AUDUSD": types.AssetForexMajor, "USDCAD": types.AssetForexMajor,
		"NZDUSD": types.AssetForexMajor,
		"EURGBP": types.AssetForexMinor, "EURJPY": types.AssetForexMinor,
		"GBPJPY": types.AssetForexMinor, "AUDJPY": types.AssetForexMinor,
		"USDTRY": types.AssetForexExotic, "USDZAR": types.AssetForexExotic,
		"USDMXN": types.AssetForexExotic,
		"XAUUSD": types.AssetMetals, "XAGUSD": types.AssetMetals,
		"BTCUSD": types.AssetCrypto, "ETHUSD": types.AssetCrypto,
		"US30": types.AssetIndices, "US500": types.AssetIndices, "NAS100": types.AssetIndices,
		"USOIL": types.AssetCommodities, "UKOIL": types.AssetCommodities,
	}
}

// Manager attaches initial TP/SL to fresh signals and implements
// signalengine.AssetClassResolver for indicator weighting.
type Manager struct {
	brokerSymbols BrokerSymbolSource
	overrides     OverrideSource
	symbolClasses symbolClassTable
	logger        *zap.Logger
}

// New builds a Manager.
func New(brokerSymbols BrokerSymbolSource, overrides OverrideSource, symbolClasses symbolClassTable, logger *zap.Logger) *Manager {
	return &Manager{
		brokerSymbols: brokerSymbols,
		overrides:     overrides,
		symbolClasses: symbolClasses,
		logger:        logger.Named("positionmgr"),
	}
}

// ResolveAssetClass implements signalengine.AssetClassResolver using the
// static symbol table only; the signal engine has no account context.
func (m *Manager) ResolveAssetClass(symbol string) types.AssetClass {
	if class, ok := m.symbolClasses[symbol]; ok {
		return class
	}
	return types.AssetForexMajor
}

const defaultDigits = 5
const defaultStopsLevelPoints = 10

// Attach resolves asset class, computes
// direction-asymmetric TP/SL off ATR (or its percent-of-entry fallback),
// widen to the minimum realized R:R, clamp to the broker's stops_level, and
// reject if the configured max_tp_%/min_sl_% bounds are still violated.
func (m *Manager) Attach(accountID, symbol string, direction types.SignalType, entry decimal.Decimal, atr float64) (tp, sl decimal.Decimal, ok bool, reason string) {
	class := m.resolveAccountAssetClass(accountID, symbol)
	params := paramsFor(class)

	digits := defaultDigits
	stopsLevelPoints := defaultStopsLevelPoints
	var bs *types.BrokerSymbol
	if m.brokerSymbols != nil {
		var err error
		bs, err = m.brokerSymbols.Get(accountID, symbol)
		if err != nil {
			m.logger.Warn("loading broker symbol failed, using defaults", zap.String("symbol", symbol), zap.Error(err))
		}
	}
	if bs != nil {
		digits = bs.Digits
		stopsLevelPoints = int(bs.StopsLevel.IntPart())
	}

	entryF, _ := entry.Float64()

	atrDistance := atr
	if atrDistance <= 0 {
		atrDistance = entryF * params.FallbackATRPct / 100
		// Without a real ATR the fallback distance can undercut the class's
		// SL floor; raise it to min_sl_% of entry. The SL multiplier is applied
		// afterwards, so a multiplier below 1 yields an SL under that floor.
		if floor := entryF * params.MinSLPct / 100; atrDistance < floor {
			atrDistance = floor
		}
	}

	tpMult, slMult := params.ATRTPMult, params.ATRSLMult
	minRR := 1.5
	if direction == types.SignalBuy {
		tpMult *= 1.2
		slMult *= 0.9
		minRR = 2.0
	}

	if override, err := m.overrideFor(symbol); err == nil && override != nil {
		if !override.TPMultiplierOverride.IsZero() {
			tpMult = override.TPMultiplierOverride.InexactFloat64()
		}
		if !override.SLMultiplierOverride.IsZero() {
			slMult = override.SLMultiplierOverride.InexactFloat64()
		}
	}

	tpDistance := atrDistance * tpMult
	slDistance := atrDistance * slMult
	if slDistance <= 0 {
		return decimal.Zero, decimal.Zero, false, "sl distance computed as zero"
	}

	maxTPDistance := entryF * params.MaxTPPct / 100
	if rr := tpDistance / slDistance; rr < minRR {
		widened := slDistance * minRR
		if widened <= maxTPDistance {
			tpDistance = widened
		} else {
			tpDistance = maxTPDistance
		}
	}

	point := math.Pow(10, -float64(digits))
	minBrokerDistance := float64(stopsLevelPoints) * point
	widenedForBroker := false
	if tpDistance < minBrokerDistance {
		tpDistance = minBrokerDistance
		widenedForBroker = true
	}
	if slDistance < minBrokerDistance {
		slDistance = minBrokerDistance
		widenedForBroker = true
	}

	tpPctOfEntry := tpDistance / entryF * 100
	if tpPctOfEntry > params.MaxTPPct {
		return decimal.Zero, decimal.Zero, false, fmt.Sprintf("tp distance %.3f%% exceeds max_tp_%% %.2f%%", tpPctOfEntry, params.MaxTPPct)
	}

	var tpF, slF float64
	if direction == types.SignalBuy {
		tpF = entryF + tpDistance
		slF = entryF - slDistance
	} else {
		tpF = entryF - tpDistance
		slF = entryF + slDistance
	}

	tp = decimal.NewFromFloat(tpF).Round(int32(digits))
	sl = decimal.NewFromFloat(slF).Round(int32(digits))

	reason = fmt.Sprintf("class=%s rr>=%.1f", class, minRR)
	if widenedForBroker {
		reason += " widened to broker stops_level"
	}
	return tp, sl, true, reason
}

func (m *Manager) resolveAccountAssetClass(accountID, symbol string) types.AssetClass {
	if m.brokerSymbols != nil {
		if bs, err := m.brokerSymbols.Get(accountID, symbol); err == nil && bs != nil && bs.AssetClass != "" {
			return bs.AssetClass
		}
	}
	return m.ResolveAssetClass(symbol)
}

func (m *Manager) overrideFor(symbol string) (*types.SymbolOverride, error) {
	if m.overrides == nil {
		return nil, nil
	}
	return m.overrides.Get(symbol)
}
