// Package signalengine computes technical indicators, detects candlestick
// patterns, and runs the weighted-ensemble confluence pipeline to produce
// at most one active Signal per (account, symbol, timeframe).
package signalengine

import "math"

// Series is one indicator's output, NaN-padded over the warm-up period so
// callers can index it the same way as the input closes/highs/lows.
type Series []float64

func nanSeries(n int) Series {
	s := make(Series, n)
	for i := range s {
		s[i] = math.NaN()
	}
	return s
}

// Last returns the most recent non-NaN value and whether one was found.
func (s Series) Last() (float64, bool) {
	for i := len(s) - 1; i >= 0; i-- {
		if !math.IsNaN(s[i]) {
			return s[i], true
		}
	}
	return 0, false
}

// SMA is the simple moving average over period closes.
func SMA(closes []float64, period int) Series {
	out := nanSeries(len(closes))
	if period <= 0 || len(closes) < period {
		return out
	}
	sum := 0.0
	for i, c := range closes {
		sum += c
		if i >= period {
			sum -= closes[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// EMA is the exponential moving average, seeded with the first SMA value.
func EMA(closes []float64, period int) Series {
	out := nanSeries(len(closes))
	if period <= 0 || len(closes) < period {
		return out
	}
	k := 2.0 / float64(period+1)
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += closes[i]
	}
	out[period-1] = sum / float64(period)
	for i := period; i < len(closes); i++ {
		out[i] = (closes[i]-out[i-1])*k + out[i-1]
	}
	return out
}

func stdDev(closes []float64, period int, mean Series) Series {
	out := nanSeries(len(closes))
	for i := period - 1; i < len(closes); i++ {
		if math.IsNaN(mean[i]) {
			continue
		}
		var variance float64
		for j := 0; j < period; j++ {
			d := closes[i-j] - mean[i]
			variance += d * d
		}
		out[i] = math.Sqrt(variance / float64(period))
	}
	return out
}

// RSI(14) via Wilder's smoothed average gain/loss.
func RSI(closes []float64, period int) Series {
	out := nanSeries(len(closes))
	if len(closes) < period+1 {
		return out
	}
	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			avgGain += delta
		} else {
			avgLoss -= delta
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = rsiFromAvg(avgGain, avgLoss)

	for i := period + 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = rsiFromAvg(avgGain, avgLoss)
	}
	return out
}

func rsiFromAvg(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// MACDResult bundles the three MACD(12,26,9) series.
type MACDResult struct {
	MACD      Series
	Signal    Series
	Histogram Series
}

// MACD computes the MACD line, signal line and histogram.
func MACD(closes []float64, fast, slow, signal int) MACDResult {
	fastEMA := EMA(closes, fast)
	slowEMA := EMA(closes, slow)
	macdLine := nanSeries(len(closes))
	for i := range closes {
		if math.IsNaN(fastEMA[i]) || math.IsNaN(slowEMA[i]) {
			continue
		}
		macdLine[i] = fastEMA[i] - slowEMA[i]
	}

	firstValid := -1
	for i, v := range macdLine {
		if !math.IsNaN(v) {
			firstValid = i
			break
		}
	}
	signalLine := nanSeries(len(closes))
	histogram := nanSeries(len(closes))
	if firstValid == -1 || len(closes)-firstValid < signal {
		return MACDResult{MACD: macdLine, Signal: signalLine, Histogram: histogram}
	}

	k := 2.0 / float64(signal+1)
	sum := 0.0
	for i := firstValid; i < firstValid+signal; i++ {
		sum += macdLine[i]
	}
	seedIdx := firstValid + signal - 1
	signalLine[seedIdx] = sum / float64(signal)
	histogram[seedIdx] = macdLine[seedIdx] - signalLine[seedIdx]
	for i := seedIdx + 1; i < len(closes); i++ {
		signalLine[i] = (macdLine[i]-signalLine[i-1])*k + signalLine[i-1]
		histogram[i] = macdLine[i] - signalLine[i]
	}
	return MACDResult{MACD: macdLine, Signal: signalLine, Histogram: histogram}
}

// BollingerResult bundles the upper/middle/lower bands.
type BollingerResult struct {
	Upper, Middle, Lower Series
}

// Bollinger computes Bollinger Bands(period, stdDevMult).
func Bollinger(closes []float64, period int, stdDevMult float64) BollingerResult {
	middle := SMA(closes, period)
	std := stdDev(closes, period, middle)
	upper := nanSeries(len(closes))
	lower := nanSeries(len(closes))
	for i := range closes {
		if math.IsNaN(middle[i]) {
			continue
		}
		upper[i] = middle[i] + std[i]*stdDevMult
		lower[i] = middle[i] - std[i]*stdDevMult
	}
	return BollingerResult{Upper: upper, Middle: middle, Lower: lower}
}

// ATR is the Average True Range over period bars (Wilder smoothing).
func ATR(highs, lows, closes []float64, period int) Series {
	out := nanSeries(len(closes))
	if len(closes) < period+1 {
		return out
	}
	trueRanges := make([]float64, len(closes))
	for i := 1; i < len(closes); i++ {
		hl := highs[i] - lows[i]
		hc := math.Abs(highs[i] - closes[i-1])
		lc := math.Abs(lows[i] - closes[i-1])
		trueRanges[i] = math.Max(hl, math.Max(hc, lc))
	}
	sum := 0.0
	for i := 1; i <= period; i++ {
		sum += trueRanges[i]
	}
	atr := sum / float64(period)
	out[period] = atr
	for i := period + 1; i < len(closes); i++ {
		atr = (atr*float64(period-1) + trueRanges[i]) / float64(period)
		out[i] = atr
	}
	return out
}

// ADX is the Average Directional Index over period bars.
func ADX(highs, lows, closes []float64, period int) Series {
	n := len(closes)
	out := nanSeries(n)
	if n < 2*period+1 {
		return out
	}
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	tr := make([]float64, n)
	for i := 1; i < n; i++ {
		upMove := highs[i] - highs[i-1]
		downMove := lows[i-1] - lows[i]
		if upMove > downMove && upMove > 0 {
			plusDM[i] = upMove
		}
		if downMove > upMove && downMove > 0 {
			minusDM[i] = downMove
		}
		hl := highs[i] - lows[i]
		hc := math.Abs(highs[i] - closes[i-1])
		lc := math.Abs(lows[i] - closes[i-1])
		tr[i] = math.Max(hl, math.Max(hc, lc))
	}

	smooth := func(values []float64) []float64 {
		s := make([]float64, n)
		sum := 0.0
		for i := 1; i <= period; i++ {
			sum += values[i]
		}
		s[period] = sum
		for i := period + 1; i < n; i++ {
			s[i] = s[i-1] - s[i-1]/float64(period) + values[i]
		}
		return s
	}
	smTR := smooth(tr)
	smPlusDM := smooth(plusDM)
	smMinusDM := smooth(minusDM)

	dx := nanSeries(n)
	for i := period; i < n; i++ {
		if smTR[i] == 0 {
			continue
		}
		plusDI := 100 * smPlusDM[i] / smTR[i]
		minusDI := 100 * smMinusDM[i] / smTR[i]
		if plusDI+minusDI == 0 {
			continue
		}
		dx[i] = 100 * math.Abs(plusDI-minusDI) / (plusDI + minusDI)
	}

	sum := 0.0
	count := 0
	firstADXIdx := -1
	for i := period; i < n && count < period; i++ {
		if math.IsNaN(dx[i]) {
			continue
		}
		sum += dx[i]
		count++
		firstADXIdx = i
	}
	if count < period {
		return out
	}
	out[firstADXIdx] = sum / float64(period)
	for i := firstADXIdx + 1; i < n; i++ {
		if math.IsNaN(dx[i]) {
			out[i] = out[i-1]
			continue
		}
		out[i] = (out[i-1]*float64(period-1) + dx[i]) / float64(period)
	}
	return out
}

// StochasticResult bundles %K and %D.
type StochasticResult struct {
	K, D Series
}

// Stochastic computes the %K/%D oscillator over (kPeriod, dPeriod).
func Stochastic(highs, lows, closes []float64, kPeriod, dPeriod int) StochasticResult {
	n := len(closes)
	k := nanSeries(n)
	for i := kPeriod - 1; i < n; i++ {
		hi, lo := highs[i], lows[i]
		for j := i - kPeriod + 1; j <= i; j++ {
			if highs[j] > hi {
				hi = highs[j]
			}
			if lows[j] < lo {
				lo = lows[j]
			}
		}
		if hi == lo {
			k[i] = 50
			continue
		}
		k[i] = 100 * (closes[i] - lo) / (hi - lo)
	}
	d := SMA(k, dPeriod)
	return StochasticResult{K: k, D: d}
}

// OBV is the On-Balance Volume cumulative series.
func OBV(closes, volumes []float64) Series {
	out := make(Series, len(closes))
	for i := range closes {
		if i == 0 {
			out[i] = volumes[i]
			continue
		}
		switch {
		case closes[i] > closes[i-1]:
			out[i] = out[i-1] + volumes[i]
		case closes[i] < closes[i-1]:
			out[i] = out[i-1] - volumes[i]
		default:
			out[i] = out[i-1]
		}
	}
	return out
}

// IchimokuResult bundles the conversion, base and leading span lines.
type IchimokuResult struct {
	Conversion, Base, SpanA, SpanB Series
}

// Ichimoku computes the conversion(9)/base(26)/leading-span lines.
func Ichimoku(highs, lows []float64) IchimokuResult {
	n := len(highs)
	mid := func(period, shift int) Series {
		out := nanSeries(n)
		for i := period - 1; i < n; i++ {
			hi, lo := highs[i], lows[i]
			for j := i - period + 1; j <= i; j++ {
				if highs[j] > hi {
					hi = highs[j]
				}
				if lows[j] < lo {
					lo = lows[j]
				}
			}
			idx := i + shift
			if idx >= 0 && idx < n {
				out[idx] = (hi + lo) / 2
			} else if shift == 0 {
				out[i] = (hi + lo) / 2
			}
		}
		return out
	}
	conversion := mid(9, 0)
	base := mid(26, 0)
	spanA := nanSeries(n)
	for i := range conversion {
		if !math.IsNaN(conversion[i]) && !math.IsNaN(base[i]) {
			spanA[i] = (conversion[i] + base[i]) / 2
		}
	}
	spanB := mid(52, 0)
	return IchimokuResult{Conversion: conversion, Base: base, SpanA: spanA, SpanB: spanB}
}

// VWAP is the cumulative volume-weighted average price since the first bar
// of the series (callers pass one trading session's bars for a session VWAP).
func VWAP(highs, lows, closes, volumes []float64) Series {
	out := make(Series, len(closes))
	var cumPV, cumVol float64
	for i := range closes {
		typical := (highs[i] + lows[i] + closes[i]) / 3
		cumPV += typical * volumes[i]
		cumVol += volumes[i]
		if cumVol == 0 {
			out[i] = closes[i]
			continue
		}
		out[i] = cumPV / cumVol
	}
	return out
}

// SuperTrend computes the SuperTrend line and its BUY/SELL direction flag
// (true = uptrend) using ATR(period) and the given multiplier.
func SuperTrend(highs, lows, closes []float64, period int, multiplier float64) (Series, []bool) {
	n := len(closes)
	atr := ATR(highs, lows, closes, period)
	line := nanSeries(n)
	up := make([]bool, n)

	var prevUpper, prevLower float64
	trendUp := true
	for i := 0; i < n; i++ {
		if math.IsNaN(atr[i]) {
			up[i] = trendUp
			continue
		}
		mid := (highs[i] + lows[i]) / 2
		basicUpper := mid + multiplier*atr[i]
		basicLower := mid - multiplier*atr[i]

		finalUpper := basicUpper
		if i > 0 && (basicUpper > prevUpper || closes[i-1] > prevUpper) {
			finalUpper = math.Min(basicUpper, prevUpper)
			if closes[i-1] > prevUpper {
				finalUpper = basicUpper
			}
		}
		finalLower := basicLower
		if i > 0 && (basicLower < prevLower || closes[i-1] < prevLower) {
			finalLower = math.Max(basicLower, prevLower)
			if closes[i-1] < prevLower {
				finalLower = basicLower
			}
		}

		switch {
		case trendUp && closes[i] < finalLower:
			trendUp = false
		case !trendUp && closes[i] > finalUpper:
			trendUp = true
		}

		if trendUp {
			line[i] = finalLower
		} else {
			line[i] = finalUpper
		}
		up[i] = trendUp
		prevUpper, prevLower = finalUpper, finalLower
	}
	return line, up
}
