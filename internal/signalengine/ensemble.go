package signalengine

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/atlas-ea/bridge/pkg/types"
)

// Vote is one indicator's directional opinion for a single evaluation.
type Vote struct {
	Indicator string
	Direction types.SignalType // Buy, Sell or Hold
	Strength  float64          // 0..1, normalized distance from neutral
	Weight    float64          // per-asset-class weight, 0 if the indicator failed
}

// WeightTable holds per-asset-class, per-indicator weights, loaded once at
// boot from configs/indicator_weights.yaml, an offline backtest artifact
// never recomputed by this codebase.
type WeightTable map[types.AssetClass]map[string]float64

// LoadWeights reads the weight table from a YAML file.
func LoadWeights(path string) (WeightTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading indicator weights %s: %w", path, err)
	}
	var wt WeightTable
	if err := yaml.Unmarshal(raw, &wt); err != nil {
		return nil, fmt.Errorf("parsing indicator weights %s: %w", path, err)
	}
	return wt, nil
}

// DefaultWeights returns an equal-weighted table used when no artifact file
// is configured, so the engine still runs in a fresh checkout.
func DefaultWeights() WeightTable {
	equal := map[string]float64{
		"rsi": 1, "macd": 1, "bollinger": 1, "ema_cross": 1, "adx": 1,
		"stochastic": 1, "obv": 1, "ichimoku": 1, "vwap": 1, "supertrend": 1, "pattern": 1,
	}
	wt := make(WeightTable)
	for _, class := range []types.AssetClass{
		types.AssetForexMajor, types.AssetForexMinor, types.AssetForexExotic,
		types.AssetCrypto, types.AssetMetals, types.AssetIndices,
		types.AssetCommodities, types.AssetStocks,
	} {
		wt[class] = equal
	}
	return wt
}

func (wt WeightTable) weightFor(class types.AssetClass, indicator string) float64 {
	if perClass, ok := wt[class]; ok {
		if w, ok := perClass[indicator]; ok {
			return w
		}
	}
	return 1
}

// EnsembleResult is the outcome of vote tallying, confluence thresholding, and bias correction.
type EnsembleResult struct {
	Direction     types.SignalType
	Confidence    float64 // 0..100
	BuyCount      int
	SellCount     int
	AgreeingCount int
	Votes         []Vote
}

// Evaluate tallies votes and applies the ensemble's validation and
// BUY-side bias correction rules:
//   - BUY requires >=3 agreeing indicators AND ensemble confidence >=65%,
//     AND buy_count >= sell_count+2; final BUY confidence is then -5pts.
//   - SELL requires >=2 agreeing indicators AND ensemble confidence >=60%,
//     on simple majority.
// Returns Direction=HOLD if neither side validates.
func Evaluate(votes []Vote) EnsembleResult {
	var buyCount, sellCount int
	var buyWeighted, sellWeighted, totalWeight float64

	for _, v := range votes {
		switch v.Direction {
		case types.SignalBuy:
			buyCount++
			buyWeighted += v.Weight * v.Strength
		case types.SignalSell:
			sellCount++
			sellWeighted += v.Weight * v.Strength
		}
		totalWeight += v.Weight
	}

	result := EnsembleResult{Direction: types.SignalHold, BuyCount: buyCount, SellCount: sellCount, Votes: votes}
	if totalWeight == 0 {
		return result
	}

	buyConfidence := 100 * buyWeighted / totalWeight
	sellConfidence := 100 * sellWeighted / totalWeight

	buyValid := buyCount >= 3 && buyConfidence >= 65 && buyCount >= sellCount+2
	sellValid := sellCount >= 2 && sellConfidence >= 60 && sellCount > buyCount

	switch {
	case buyValid:
		result.Direction = types.SignalBuy
		result.Confidence = buyConfidence - 5 // empirical BUY-side correction
		result.AgreeingCount = buyCount
	case sellValid:
		result.Direction = types.SignalSell
		result.Confidence = sellConfidence
		result.AgreeingCount = sellCount
	}
	if result.Confidence < 0 {
		result.Confidence = 0
	}
	return result
}
