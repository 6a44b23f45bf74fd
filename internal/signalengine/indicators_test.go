package signalengine

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func constSeries(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func rampSeries(start, step float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	return out
}

func TestSMAOnConstantSeries(t *testing.T) {
	s := SMA(constSeries(1.5, 50), 20)
	last, ok := s.Last()
	require.True(t, ok)
	require.InDelta(t, 1.5, last, 1e-12)
}

func TestEMAConvergesTowardConstant(t *testing.T) {
	s := EMA(constSeries(2.0, 100), 20)
	last, ok := s.Last()
	require.True(t, ok)
	require.InDelta(t, 2.0, last, 1e-9)
}

func TestRSISaturatesOnMonotonicRise(t *testing.T) {
	s := RSI(rampSeries(100, 0.5, 60), 14)
	last, ok := s.Last()
	require.True(t, ok)
	require.Greater(t, last, 90.0)
	require.LessOrEqual(t, last, 100.0)
}

func TestRSISaturatesLowOnMonotonicFall(t *testing.T) {
	s := RSI(rampSeries(100, -0.5, 60), 14)
	last, ok := s.Last()
	require.True(t, ok)
	require.Less(t, last, 10.0)
	require.GreaterOrEqual(t, last, 0.0)
}

func TestRSIInsufficientData(t *testing.T) {
	s := RSI(constSeries(1, 5), 14)
	_, ok := s.Last()
	require.False(t, ok)
}

func TestATRMatchesConstantRange(t *testing.T) {
	n := 40
	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	for i := 0; i < n; i++ {
		highs[i] = 101
		lows[i] = 100
		closes[i] = 100.5
	}
	s := ATR(highs, lows, closes, 14)
	last, ok := s.Last()
	require.True(t, ok)
	require.InDelta(t, 1.0, last, 1e-9)
}

func TestBollingerMidlineIsSMA(t *testing.T) {
	closes := rampSeries(10, 0.1, 60)
	b := Bollinger(closes, 20, 2)

	mid, ok := b.Middle.Last()
	require.True(t, ok)
	sma, _ := SMA(closes, 20).Last()
	require.InDelta(t, sma, mid, 1e-12)

	upper, _ := b.Upper.Last()
	lower, _ := b.Lower.Last()
	require.Greater(t, upper, mid)
	require.Less(t, lower, mid)
	require.InDelta(t, mid, (upper+lower)/2, 1e-9)
}

func TestMACDCrossesPositiveOnUptrend(t *testing.T) {
	closes := append(constSeries(100, 60), rampSeries(100, 0.8, 40)...)
	m := MACD(closes, 12, 26, 9)
	macd, ok := m.MACD.Last()
	require.True(t, ok)
	require.Greater(t, macd, 0.0)
}

func TestSuperTrendFlagsUptrend(t *testing.T) {
	n := 80
	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	for i := 0; i < n; i++ {
		base := 100 + float64(i)
		highs[i] = base + 0.5
		lows[i] = base - 0.5
		closes[i] = base
	}
	_, up := SuperTrend(highs, lows, closes, 10, 3)
	require.True(t, up[len(up)-1], "a steady climb must end in the bullish regime")
}

func TestDetectPatternsBullishEngulfing(t *testing.T) {
	bars := []Bar{
		{Open: 101, High: 101.5, Low: 99.5, Close: 100, Volume: 900},
		{Open: 100.6, High: 101.2, Low: 100.0, Close: 100.2, Volume: 800},
		{Open: 100.1, High: 101.6, Low: 100.0, Close: 101.2, Volume: 1500},
	}
	flags := DetectPatterns(bars)
	require.True(t, flags.BullishEngulfing)
	require.False(t, flags.BearishEngulfing)
}

func TestSeriesLastEmpty(t *testing.T) {
	var s Series
	_, ok := s.Last()
	require.False(t, ok)
	require.True(t, math.IsNaN(float64(nanSeries(1)[0])))
}
