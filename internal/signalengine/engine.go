package signalengine

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-ea/bridge/pkg/types"
	"github.com/atlas-ea/bridge/pkg/utils"
)

// BarSource supplies recent closed bars for one symbol/timeframe, backed by
// internal/store's OHLCStore.
type BarSource interface {
	LastN(symbol string, tf types.Timeframe, n int) ([]types.OHLCBar, error)
}

// SignalSink persists the pipeline's upsert decision, backed by
// internal/store's SignalStore.
type SignalSink interface {
	Upsert(sig *types.Signal) (replaced bool, err error)
}

// TPSLAttacher delegates initial TP/SL computation to internal/positionmgr.
type TPSLAttacher interface {
	Attach(accountID, symbol string, direction types.SignalType, entry decimal.Decimal, atr float64) (tp, sl decimal.Decimal, ok bool, reason string)
}

// DecisionLog records every drop/veto for the audit trail (an AIDecision
// row), backed by internal/store.s AIDecisionStore.
type DecisionLog interface {
	Log(d *types.AIDecision) error
}

// Publisher emits signal_created notifications onto the event bus.
type Publisher interface {
	PublishSignal(accountID, symbol string, tf types.Timeframe, signalType types.SignalType, confidence decimal.Decimal)
}

// AssetClassResolver resolves asset class
// from a symbol-to-class table, falling back to a default, backed by
// internal/store's BrokerSymbolStore (populated from the EA's broker_symbols
// sync) and configs/asset_classes.yaml for symbols not yet synced.
type AssetClassResolver interface {
	ResolveAssetClass(symbol string) types.AssetClass
}

const (
	barWarmup             = 210 // enough trailing history for Ichimoku's 52-period span and EMA200
	defaultMaxAgeMinutes   = 60
	minGenerationConfidence = 50
)

// Engine runs the indicator -> ensemble -> TP/SL -> upsert pipeline of
// for one (account, symbol, timeframe) at a time.
type Engine struct {
	bars      BarSource
	sink      SignalSink
	tpsl      TPSLAttacher
	decisions DecisionLog
	publisher Publisher
	classes   AssetClassResolver
	cache     *IndicatorCache
	weights   WeightTable
	logger    *zap.Logger

	mtfEnabled bool
}

// Config tunes the engine's optional behaviors.
type Config struct {
	MTFConfluenceEnabled bool
}

// New builds an Engine.
func New(bars BarSource, sink SignalSink, tpsl TPSLAttacher, decisions DecisionLog, publisher Publisher, classes AssetClassResolver, weights WeightTable, cfg Config, logger *zap.Logger) *Engine {
	return &Engine{
		bars:       bars,
		sink:       sink,
		tpsl:       tpsl,
		decisions:  decisions,
		publisher:  publisher,
		classes:    classes,
		cache:      NewIndicatorCache(),
		weights:    weights,
		logger:     logger.Named("signalengine"),
		mtfEnabled: cfg.MTFConfluenceEnabled,
	}
}

// higherTimeframe maps a timeframe to the one used for MTF confluence, or ""
// if none is defined (e.g. MN1 has no higher frame to confirm against).
var higherTimeframe = map[types.Timeframe]types.Timeframe{
	types.TimeframeM1:  types.TimeframeM15,
	types.TimeframeM5:  types.TimeframeM30,
	types.TimeframeM15: types.TimeframeH1,
	types.TimeframeM30: types.TimeframeH4,
	types.TimeframeH1:  types.TimeframeH4,
	types.TimeframeH4:  types.TimeframeD1,
	types.TimeframeD1:  types.TimeframeW1,
}

// Evaluate runs one full pipeline pass. It is the caller's (internal/workers'
// SignalScheduler) job to invoke this per subscribed key throttled to a few
// seconds' cadence.
func (e *Engine) Evaluate(accountID, symbol string, tf types.Timeframe) error {
	bars, err := e.bars.LastN(symbol, tf, barWarmup)
	if err != nil {
		return fmt.Errorf("loading bars for %s/%s: %w", symbol, tf, err)
	}
	if len(bars) < 30 {
		return nil // not enough history to evaluate yet
	}

	barCloseTime := bars[len(bars)-1].OpenTime
	closes, highs, lows, volumes := seriesOf(bars)
	plainBars := toPatternBars(bars)
	flags := DetectPatterns(plainBars)

	votes := e.computeVotes(symbol, tf, barCloseTime, closes, highs, lows, volumes)
	votes = append(votes, e.votePattern(symbol, flags))
	ensemble := Evaluate(votes)

	if ensemble.Direction == types.SignalHold {
		return nil
	}

	if e.mtfEnabled {
		if higher, ok := higherTimeframe[tf]; ok {
			conflict, err := e.mtfConflict(symbol, higher, ensemble.Direction)
			if err != nil {
				e.logger.Warn("MTF confluence check failed, proceeding without it",
					zap.String("symbol", symbol), zap.Error(err))
			} else if conflict {
				e.logDecision(accountID, symbol, "MTF_CONFLICT", types.ImpactMedium, false,
					fmt.Sprintf("higher timeframe %s contradicts %s signal", higher, ensemble.Direction))
				return nil
			}
		}
	}

	entry := decimal.NewFromFloat(closes[len(closes)-1]).Round(8)
	atrSeries := ATR(highs, lows, closes, 14)
	atrVal, _ := atrSeries.Last()

	tp, sl, ok, reason := e.tpsl.Attach(accountID, symbol, ensemble.Direction, entry, atrVal)
	if !ok {
		e.logDecision(accountID, symbol, "TPSL_REJECTED", types.ImpactMedium, false, reason)
		return nil
	}

	if ensemble.Confidence < minGenerationConfidence {
		e.logDecision(accountID, symbol, "LOW_CONFIDENCE", types.ImpactLow, false,
			fmt.Sprintf("confidence %.1f below minimum %.0f", ensemble.Confidence, float64(minGenerationConfidence)))
		return nil
	}

	sig := &types.Signal{
		ID:         utils.GenerateSignalID(),
		AccountID:  accountID,
		Symbol:     symbol,
		Timeframe:  tf,
		Type:       ensemble.Direction,
		Confidence: decimal.NewFromFloat(ensemble.Confidence).Round(2),
		EntryPrice: entry,
		StopLoss:   sl,
		TakeProfit: tp,
		Reasoning:  fmt.Sprintf("%d/%d indicators agree, %s", ensemble.AgreeingCount, len(votes), reason),
		Status:     types.SignalStatusActive,
		CreatedAt:  time.Now().UTC(),
		ExpiresAt:  time.Now().UTC().Add(defaultMaxAgeMinutes * time.Minute),
	}

	replaced, err := e.sink.Upsert(sig)
	if err != nil {
		return fmt.Errorf("upserting signal for %s/%s/%s: %w", accountID, symbol, tf, err)
	}
	if replaced && e.publisher != nil {
		e.publisher.PublishSignal(accountID, symbol, tf, sig.Type, sig.Confidence)
	}
	return nil
}

// Snapshot result, the read-only counterpart to Evaluate used by
// riskworkers' strategy validation worker: it re-runs the
// indicator/ensemble/pattern pipeline for a symbol/timeframe without
// persisting or publishing a signal.
type Snapshot struct {
	Direction       types.SignalType
	Confidence      float64
	PatternPresent  bool
	InsufficientData bool
}

// Snapshot computes the current ensemble verdict for (symbol, tf) without
// side effects, so a protective worker can compare it against an open
// trade's entry conditions in "validation mode".
func (e *Engine) Snapshot(symbol string, tf types.Timeframe) (Snapshot, error) {
	bars, err := e.bars.LastN(symbol, tf, barWarmup)
	if err != nil {
		return Snapshot{}, fmt.Errorf("loading bars for %s/%s: %w", symbol, tf, err)
	}
	if len(bars) < 30 {
		return Snapshot{InsufficientData: true}, nil
	}

	barCloseTime := bars[len(bars)-1].OpenTime
	closes, highs, lows, volumes := seriesOf(bars)
	plainBars := toPatternBars(bars)
	flags := DetectPatterns(plainBars)

	votes := e.computeVotes(symbol, tf, barCloseTime, closes, highs, lows, volumes)
	votes = append(votes, e.votePattern(symbol, flags))
	ensemble := Evaluate(votes)

	return Snapshot{
		Direction:      ensemble.Direction,
		Confidence:     ensemble.Confidence,
		PatternPresent: flags.BullishEngulfing || flags.BearishEngulfing || flags.Hammer || flags.ShootingStar || flags.MorningStar || flags.EveningStar,
	}, nil
}

// computeVotes runs every indicator under panic recovery, degrading a
// failing indicator to a zero-weight HOLD vote and a WARN log rather than
// aborting the pipeline.
func (e *Engine) computeVotes(symbol string, tf types.Timeframe, barClose time.Time, closes, highs, lows, volumes []float64) []Vote {
	type voter struct {
		name string
		fn   func() Vote
	}
	voters := []voter{
		{"rsi", func() Vote { return e.voteRSI(symbol, tf, barClose, closes) }},
		{"macd", func() Vote { return e.voteMACD(symbol, tf, barClose, closes) }},
		{"bollinger", func() Vote { return e.voteBollinger(symbol, tf, barClose, closes) }},
		{"ema_cross", func() Vote { return e.voteEMACross(symbol, tf, barClose, closes) }},
		{"adx", func() Vote { return e.voteADX(symbol, tf, barClose, highs, lows, closes) }},
		{"stochastic", func() Vote { return e.voteStochastic(symbol, tf, barClose, highs, lows, closes) }},
		{"obv", func() Vote { return e.voteOBV(symbol, tf, barClose, closes, volumes) }},
		{"ichimoku", func() Vote { return e.voteIchimoku(symbol, tf, barClose, highs, lows, closes) }},
		{"vwap", func() Vote { return e.voteVWAP(symbol, tf, barClose, highs, lows, closes, volumes) }},
		{"supertrend", func() Vote { return e.voteSuperTrend(symbol, tf, barClose, highs, lows, closes) }},
	}

	votes := make([]Vote, 0, len(voters))
	for _, v := range voters {
		votes = append(votes, e.safeVote(v.name, v.fn))
	}
	return votes
}

func (e *Engine) safeVote(name string, fn func() Vote) (result Vote) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("indicator panicked, degrading to HOLD", zap.String("indicator", name), zap.Any("recover", r))
			result = Vote{Indicator: name, Direction: types.SignalHold, Weight: 0}
		}
	}()
	return fn()
}

func (e *Engine) assetClassWeight(symbol string, indicator string) float64 {
	class := e.classes.ResolveAssetClass(symbol)
	return e.weights.weightFor(class, indicator)
}

func (e *Engine) voteRSI(symbol string, tf types.Timeframe, barClose time.Time, closes []float64) Vote {
	v, err := e.cache.Get(symbol, tf, "rsi", barClose, func() (any, error) {
		return RSI(closes, 14), nil
	})
	if err != nil {
		return Vote{Indicator: "rsi", Direction: types.SignalHold}
	}
	val, ok := v.(Series).Last()
	w := e.assetClassWeight(symbol, "rsi")
	if !ok {
		return Vote{Indicator: "rsi", Direction: types.SignalHold, Weight: 0}
	}
	switch {
	case val < 30:
		return Vote{Indicator: "rsi", Direction: types.SignalBuy, Strength: (30 - val) / 30, Weight: w}
	case val > 70:
		return Vote{Indicator: "rsi", Direction: types.SignalSell, Strength: (val - 70) / 30, Weight: w}
	default:
		return Vote{Indicator: "rsi", Direction: types.SignalHold, Weight: w}
	}
}

func (e *Engine) voteMACD(symbol string, tf types.Timeframe, barClose time.Time, closes []float64) Vote {
	v, err := e.cache.Get(symbol, tf, "macd", barClose, func() (any, error) {
		return MACD(closes, 12, 26, 9), nil
	})
	if err != nil {
		return Vote{Indicator: "macd", Direction: types.SignalHold}
	}
	r := v.(MACDResult)
	hist, ok := r.Histogram.Last()
	w := e.assetClassWeight(symbol, "macd")
	if !ok {
		return Vote{Indicator: "macd", Direction: types.SignalHold, Weight: 0}
	}
	strength := clamp01(absf(hist) / (absf(hist) + 1))
	if hist > 0 {
		return Vote{Indicator: "macd", Direction: types.SignalBuy, Strength: strength, Weight: w}
	}
	if hist < 0 {
		return Vote{Indicator: "macd", Direction: types.SignalSell, Strength: strength, Weight: w}
	}
	return Vote{Indicator: "macd", Direction: types.SignalHold, Weight: w}
}

func (e *Engine) voteBollinger(symbol string, tf types.Timeframe, barClose time.Time, closes []float64) Vote {
	v, err := e.cache.Get(symbol, tf, "bollinger", barClose, func() (any, error) {
		return Bollinger(closes, 20, 2), nil
	})
	if err != nil {
		return Vote{Indicator: "bollinger", Direction: types.SignalHold}
	}
	r := v.(BollingerResult)
	upper, okU := r.Upper.Last()
	lower, okL := r.Lower.Last()
	w := e.assetClassWeight(symbol, "bollinger")
	if !okU || !okL {
		return Vote{Indicator: "bollinger", Direction: types.SignalHold, Weight: 0}
	}
	last := closes[len(closes)-1]
	switch {
	case last <= lower:
		return Vote{Indicator: "bollinger", Direction: types.SignalBuy, Strength: 1, Weight: w}
	case last >= upper:
		return Vote{Indicator: "bollinger", Direction: types.SignalSell, Strength: 1, Weight: w}
	default:
		return Vote{Indicator: "bollinger", Direction: types.SignalHold, Weight: w}
	}
}

func (e *Engine) voteEMACross(symbol string, tf types.Timeframe, barClose time.Time, closes []float64) Vote {
	v20, err := e.cache.Get(symbol, tf, "ema20", barClose, func() (any, error) { return EMA(closes, 20), nil })
	if err != nil {
		return Vote{Indicator: "ema_cross", Direction: types.SignalHold}
	}
	v50, err := e.cache.Get(symbol, tf, "ema50", barClose, func() (any, error) { return EMA(closes, 50), nil })
	if err != nil {
		return Vote{Indicator: "ema_cross", Direction: types.SignalHold}
	}
	v200, err := e.cache.Get(symbol, tf, "ema200", barClose, func() (any, error) { return EMA(closes, 200), nil })
	if err != nil {
		return Vote{Indicator: "ema_cross", Direction: types.SignalHold}
	}
	e20, ok20 := v20.(Series).Last()
	e50, ok50 := v50.(Series).Last()
	w := e.assetClassWeight(symbol, "ema_cross")
	if !ok20 || !ok50 {
		return Vote{Indicator: "ema_cross", Direction: types.SignalHold, Weight: 0}
	}
	spread := clamp01(absf(e20-e50) / e50)
	// A 20/50 cross against the 200-period regime is half-trusted.
	if e200, ok200 := v200.(Series).Last(); ok200 {
		last := closes[len(closes)-1]
		if (e20 > e50 && last < e200) || (e20 < e50 && last > e200) {
			spread *= 0.5
		}
	}
	if e20 > e50 {
		return Vote{Indicator: "ema_cross", Direction: types.SignalBuy, Strength: spread, Weight: w}
	}
	return Vote{Indicator: "ema_cross", Direction: types.SignalSell, Strength: spread, Weight: w}
}

func (e *Engine) voteIchimoku(symbol string, tf types.Timeframe, barClose time.Time, highs, lows, closes []float64) Vote {
	v, err := e.cache.Get(symbol, tf, "ichimoku", barClose, func() (any, error) {
		return Ichimoku(highs, lows), nil
	})
	if err != nil {
		return Vote{Indicator: "ichimoku", Direction: types.SignalHold}
	}
	r := v.(IchimokuResult)
	conv, okC := r.Conversion.Last()
	base, okB := r.Base.Last()
	spanA, okA := r.SpanA.Last()
	spanB, okSB := r.SpanB.Last()
	w := e.assetClassWeight(symbol, "ichimoku")
	if !okC || !okB || !okA || !okSB || base == 0 {
		return Vote{Indicator: "ichimoku", Direction: types.SignalHold, Weight: 0}
	}

	cloudTop, cloudBottom := spanA, spanB
	if spanB > spanA {
		cloudTop, cloudBottom = spanB, spanA
	}
	last := closes[len(closes)-1]
	strength := clamp01(absf(conv-base) / base * 100)
	switch {
	case last > cloudTop && conv > base:
		return Vote{Indicator: "ichimoku", Direction: types.SignalBuy, Strength: strength, Weight: w}
	case last < cloudBottom && conv < base:
		return Vote{Indicator: "ichimoku", Direction: types.SignalSell, Strength: strength, Weight: w}
	default:
		return Vote{Indicator: "ichimoku", Direction: types.SignalHold, Weight: w}
	}
}

func (e *Engine) voteVWAP(symbol string, tf types.Timeframe, barClose time.Time, highs, lows, closes, volumes []float64) Vote {
	v, err := e.cache.Get(symbol, tf, "vwap", barClose, func() (any, error) {
		return VWAP(highs, lows, closes, volumes), nil
	})
	if err != nil {
		return Vote{Indicator: "vwap", Direction: types.SignalHold}
	}
	val, ok := v.(Series).Last()
	w := e.assetClassWeight(symbol, "vwap")
	if !ok || val == 0 {
		return Vote{Indicator: "vwap", Direction: types.SignalHold, Weight: 0}
	}
	last := closes[len(closes)-1]
	deviation := clamp01(absf(last-val) / val * 100)
	if last > val {
		return Vote{Indicator: "vwap", Direction: types.SignalBuy, Strength: deviation, Weight: w}
	}
	if last < val {
		return Vote{Indicator: "vwap", Direction: types.SignalSell, Strength: deviation, Weight: w}
	}
	return Vote{Indicator: "vwap", Direction: types.SignalHold, Weight: w}
}

func (e *Engine) voteADX(symbol string, tf types.Timeframe, barClose time.Time, highs, lows, closes []float64) Vote {
	v, err := e.cache.Get(symbol, tf, "adx", barClose, func() (any, error) {
		return ADX(highs, lows, closes, 14), nil
	})
	if err != nil {
		return Vote{Indicator: "adx", Direction: types.SignalHold}
	}
	val, ok := v.(Series).Last()
	w := e.assetClassWeight(symbol, "adx")
	if !ok || val < 25 {
		return Vote{Indicator: "adx", Direction: types.SignalHold, Weight: w}
	}
	// ADX measures trend strength, not direction; direction comes from price
	// slope over the ADX lookback.
	if closes[len(closes)-1] > closes[len(closes)-15] {
		return Vote{Indicator: "adx", Direction: types.SignalBuy, Strength: clamp01((val - 25) / 50), Weight: w}
	}
	return Vote{Indicator: "adx", Direction: types.SignalSell, Strength: clamp01((val - 25) / 50), Weight: w}
}

func (e *Engine) voteStochastic(symbol string, tf types.Timeframe, barClose time.Time, highs, lows, closes []float64) Vote {
	v, err := e.cache.Get(symbol, tf, "stochastic", barClose, func() (any, error) {
		return Stochastic(highs, lows, closes, 14, 3), nil
	})
	if err != nil {
		return Vote{Indicator: "stochastic", Direction: types.SignalHold}
	}
	r := v.(StochasticResult)
	k, ok := r.K.Last()
	w := e.assetClassWeight(symbol, "stochastic")
	if !ok {
		return Vote{Indicator: "stochastic", Direction: types.SignalHold, Weight: 0}
	}
	switch {
	case k < 20:
		return Vote{Indicator: "stochastic", Direction: types.SignalBuy, Strength: (20 - k) / 20, Weight: w}
	case k > 80:
		return Vote{Indicator: "stochastic", Direction: types.SignalSell, Strength: (k - 80) / 20, Weight: w}
	default:
		return Vote{Indicator: "stochastic", Direction: types.SignalHold, Weight: w}
	}
}

func (e *Engine) voteOBV(symbol string, tf types.Timeframe, barClose time.Time, closes, volumes []float64) Vote {
	v, err := e.cache.Get(symbol, tf, "obv", barClose, func() (any, error) {
		return OBV(closes, volumes), nil
	})
	if err != nil || len(closes) < 11 {
		return Vote{Indicator: "obv", Direction: types.SignalHold}
	}
	obv := v.(Series)
	w := e.assetClassWeight(symbol, "obv")
	n := len(obv)
	if obv[n-1] > obv[n-11] {
		return Vote{Indicator: "obv", Direction: types.SignalBuy, Strength: 0.5, Weight: w}
	}
	if obv[n-1] < obv[n-11] {
		return Vote{Indicator: "obv", Direction: types.SignalSell, Strength: 0.5, Weight: w}
	}
	return Vote{Indicator: "obv", Direction: types.SignalHold, Weight: w}
}

func (e *Engine) voteSuperTrend(symbol string, tf types.Timeframe, barClose time.Time, highs, lows, closes []float64) Vote {
	v, err := e.cache.Get(symbol, tf, "supertrend", barClose, func() (any, error) {
		_, up := SuperTrend(highs, lows, closes, 10, 3)
		return up, nil
	})
	if err != nil {
		return Vote{Indicator: "supertrend", Direction: types.SignalHold}
	}
	up := v.([]bool)
	w := e.assetClassWeight(symbol, "supertrend")
	if len(up) == 0 {
		return Vote{Indicator: "supertrend", Direction: types.SignalHold, Weight: 0}
	}
	if up[len(up)-1] {
		return Vote{Indicator: "supertrend", Direction: types.SignalBuy, Strength: 0.6, Weight: w}
	}
	return Vote{Indicator: "supertrend", Direction: types.SignalSell, Strength: 0.6, Weight: w}
}

// votePattern folds candlestick pattern detection into the ensemble as one
// more weighted voter, confirmed by volume and short-term trend.
func (e *Engine) votePattern(symbol string, flags PatternFlags) Vote {
	w := e.assetClassWeight(symbol, "pattern")
	bullish := flags.BullishEngulfing || flags.Hammer || flags.MorningStar
	bearish := flags.BearishEngulfing || flags.ShootingStar || flags.EveningStar

	strength := 0.4
	if flags.VolumeConfirmed {
		strength += 0.3
	}
	if flags.TrendConfirmed {
		strength += 0.3
	}

	switch {
	case bullish && !bearish:
		return Vote{Indicator: "pattern", Direction: types.SignalBuy, Strength: clamp01(strength), Weight: w}
	case bearish && !bullish:
		return Vote{Indicator: "pattern", Direction: types.SignalSell, Strength: clamp01(strength), Weight: w}
	default:
		return Vote{Indicator: "pattern", Direction: types.SignalHold, Weight: w}
	}
}

// mtfConflict checks that the higher timeframe does not
// contradict direction via ADX/EMA/SuperTrend agreement.
func (e *Engine) mtfConflict(symbol string, higher types.Timeframe, direction types.SignalType) (bool, error) {
	bars, err := e.bars.LastN(symbol, higher, barWarmup)
	if err != nil {
		return false, err
	}
	if len(bars) < 60 {
		return false, nil // not enough higher-TF history to veto on
	}
	closes, highs, lows, _ := seriesOf(bars)

	adx, _ := ADX(highs, lows, closes, 14).Last()
	ema20, _ := EMA(closes, 20).Last()
	ema50, _ := EMA(closes, 50).Last()
	_, up := SuperTrend(highs, lows, closes, 10, 3)
	higherUp := len(up) > 0 && up[len(up)-1]

	if adx < 20 {
		return false, nil // no strong higher-TF trend to conflict with
	}
	higherBullish := ema20 > ema50 && higherUp
	higherBearish := ema20 < ema50 && !higherUp

	if direction == types.SignalBuy && higherBearish {
		return true, nil
	}
	if direction == types.SignalSell && higherBullish {
		return true, nil
	}
	return false, nil
}

func (e *Engine) logDecision(accountID, symbol, decisionType string, impact types.DecisionImpact, approved bool, reasoning string) {
	if e.decisions == nil {
		return
	}
	outcome := "rejected"
	if approved {
		outcome = "approved"
	}
	err := e.decisions.Log(&types.AIDecision{
		ID:           utils.GenerateID("dec"),
		AccountID:    accountID,
		Symbol:       symbol,
		DecisionType: decisionType,
		Approved:     approved,
		Impact:       impact,
		Outcome:      outcome,
		Reasoning:    reasoning,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		e.logger.Warn("failed to log AI decision", zap.String("decision_type", decisionType), zap.Error(err))
	}
}

func seriesOf(bars []types.OHLCBar) (closes, highs, lows, volumes []float64) {
	n := len(bars)
	closes = make([]float64, n)
	highs = make([]float64, n)
	lows = make([]float64, n)
	volumes = make([]float64, n)
	for i, b := range bars {
		closes[i], _ = b.Close.Float64()
		highs[i], _ = b.High.Float64()
		lows[i], _ = b.Low.Float64()
		volumes[i], _ = b.Volume.Float64()
	}
	return
}

func toPatternBars(bars []types.OHLCBar) []Bar {
	out := make([]Bar, len(bars))
	for i, b := range bars {
		open, _ := b.Open.Float64()
		high, _ := b.High.Float64()
		low, _ := b.Low.Float64()
		close_, _ := b.Close.Float64()
		vol, _ := b.Volume.Float64()
		out[i] = Bar{Open: open, High: high, Low: low, Close: close_, Volume: vol}
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
