// Package marketdata answers OHLC coverage/ingest requests and tracks the
// rolling spread statistics the auto-trader gate consumes, fed by the EA's
// tick-batch ingest path rather than a streamed subscription.
package marketdata

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-ea/bridge/pkg/types"
)

// OHLCStore is the subset of internal/store's OHLCStore the service needs.
type OHLCStore interface {
	UpsertBatch(bars []types.OHLCBar) error
	CoverageGaps(symbol string, tf types.Timeframe, start, end time.Time, barWidth time.Duration) ([]time.Time, error)
}

// timeframeWidths maps a timeframe to its fixed bar width, used to walk
// coverage boundaries. Historical ingest does not check that bar open times
// are aligned to this width.
var timeframeWidths = map[types.Timeframe]time.Duration{
	types.TimeframeM1:  time.Minute,
	types.TimeframeM5:  5 * time.Minute,
	types.TimeframeM15: 15 * time.Minute,
	types.TimeframeM30: 30 * time.Minute,
	types.TimeframeH1:  time.Hour,
	types.TimeframeH4:  4 * time.Hour,
	types.TimeframeD1:  24 * time.Hour,
	types.TimeframeW1:  7 * 24 * time.Hour,
	types.TimeframeMN1: 30 * 24 * time.Hour,
}

// TimeframeWidth returns the fixed duration of one bar for tf, or zero for an
// unrecognized timeframe.
func TimeframeWidth(tf types.Timeframe) time.Duration {
	return timeframeWidths[tf]
}

// Coverage is the result of an ohlc_coverage check.
type Coverage struct {
	CoveragePercent decimal.Decimal
	NeedsUpdate     bool
	MissingBars     int
}

// spreadSample is one observed bid/ask spread at a point in time, kept in a
// bounded per-symbol window so RollingAverage can scan back without hitting
// the database.
type spreadSample struct {
	at     time.Time
	spread decimal.Decimal
}

const maxSamplesPerSymbol = 4096

type symbolKey struct {
	accountID string
	symbol    string
}

// Service answers OHLC coverage/ingest requests and tracks rolling spread
// statistics fed by the tick ingest path.
type Service struct {
	ohlc   OHLCStore
	logger *zap.Logger

	mu      sync.Mutex
	samples map[symbolKey][]spreadSample
}

// New builds a Service.
func New(ohlc OHLCStore, logger *zap.Logger) *Service {
	return &Service{
		ohlc:    ohlc,
		logger:  logger.Named("marketdata"),
		samples: make(map[symbolKey][]spreadSample),
	}
}

// OnTick records a bid/ask observation for rolling spread statistics,
// called from the tick ingest path for every tick as it arrives.
func (s *Service) OnTick(accountID string, t types.Tick) {
	spread := t.Ask.Sub(t.Bid)
	key := symbolKey{accountID: accountID, symbol: t.Symbol}

	s.mu.Lock()
	defer s.mu.Unlock()
	samples := append(s.samples[key], spreadSample{at: t.Timestamp, spread: spread})
	if len(samples) > maxSamplesPerSymbol {
		samples = samples[len(samples)-maxSamplesPerSymbol:]
	}
	s.samples[key] = samples
}

// Current returns the most recently observed spread for a symbol, satisfying
// autotrader's SpreadSource.
func (s *Service) Current(accountID, symbol string) (decimal.Decimal, error) {
	key := symbolKey{accountID: accountID, symbol: symbol}
	s.mu.Lock()
	defer s.mu.Unlock()
	samples := s.samples[key]
	if len(samples) == 0 {
		return decimal.Zero, fmt.Errorf("no spread samples for %s/%s", accountID, symbol)
	}
	return samples[len(samples)-1].spread, nil
}

// RollingAverage returns the mean spread over the trailing window, satisfying
// autotrader's SpreadSource.
func (s *Service) RollingAverage(accountID, symbol string, window time.Duration) (decimal.Decimal, error) {
	key := symbolKey{accountID: accountID, symbol: symbol}
	cutoff := time.Now().UTC().Add(-window)

	s.mu.Lock()
	samples := s.samples[key]
	s.mu.Unlock()

	if len(samples) == 0 {
		return decimal.Zero, fmt.Errorf("no spread samples for %s/%s", accountID, symbol)
	}

	sum := decimal.Zero
	count := 0
	for _, sm := range samples {
		if sm.at.Before(cutoff) {
			continue
		}
		sum = sum.Add(sm.spread)
		count++
	}
	if count == 0 {
		// Window has no recent samples; fall back to the latest known spread
		// rather than reporting zero, which would pass every spread gate.
		return samples[len(samples)-1].spread, nil
	}
	return sum.Div(decimal.NewFromInt(int64(count))), nil
}

// PruneOlderThan drops spread samples older than cutoff across all tracked
// symbols, bounding memory when a symbol goes quiet. Intended to run
// alongside the tick retention worker.
func (s *Service) PruneOlderThan(cutoff time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, samples := range s.samples {
		kept := samples[:0]
		for _, sm := range samples {
			if sm.at.After(cutoff) {
				kept = append(kept, sm)
			}
		}
		if len(kept) == 0 {
			delete(s.samples, key)
			continue
		}
		s.samples[key] = kept
	}
}

// Coverage reports what fraction of the requested window has stored bars and
// whether the EA should upload more history, implementing the ohlc_coverage
// ohlc_coverage endpoint contract.
func (s *Service) Coverage(symbol string, tf types.Timeframe, requiredBars int) (Coverage, error) {
	width := TimeframeWidth(tf)
	if width == 0 {
		return Coverage{}, fmt.Errorf("unknown timeframe %q", tf)
	}
	if requiredBars <= 0 {
		return Coverage{CoveragePercent: decimal.NewFromInt(100), NeedsUpdate: false}, nil
	}

	end := time.Now().UTC().Truncate(width)
	start := end.Add(-time.Duration(requiredBars) * width)

	gaps, err := s.ohlc.CoverageGaps(symbol, tf, start, end, width)
	if err != nil {
		return Coverage{}, fmt.Errorf("checking coverage for %s/%s: %w", symbol, tf, err)
	}

	present := requiredBars - len(gaps)
	if present < 0 {
		present = 0
	}
	pct := decimal.NewFromInt(int64(present)).Div(decimal.NewFromInt(int64(requiredBars))).Mul(decimal.NewFromInt(100))

	return Coverage{
		CoveragePercent: pct,
		NeedsUpdate:     len(gaps) > 0,
		MissingBars:     len(gaps),
	}, nil
}

// IngestHistorical idempotently stores EA-uploaded bars via OHLCStore's
// (symbol, timeframe, open_time) upsert: resubmitting the same bars is a
// no-op.
func (s *Service) IngestHistorical(bars []types.OHLCBar) error {
	if len(bars) == 0 {
		return nil
	}
	if err := s.ohlc.UpsertBatch(bars); err != nil {
		return fmt.Errorf("ingesting %d historical bars: %w", len(bars), err)
	}
	s.logger.Debug("ingested historical bars", zap.Int("count", len(bars)), zap.String("symbol", bars[0].Symbol))
	return nil
}
