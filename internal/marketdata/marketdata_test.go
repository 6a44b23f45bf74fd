package marketdata_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlas-ea/bridge/internal/marketdata"
	"github.com/atlas-ea/bridge/pkg/types"
)

type fakeOHLCStore struct {
	upserted []types.OHLCBar
	gaps     []time.Time
	gapsErr  error
}

func (f *fakeOHLCStore) UpsertBatch(bars []types.OHLCBar) error {
	f.upserted = append(f.upserted, bars...)
	return nil
}

func (f *fakeOHLCStore) CoverageGaps(symbol string, tf types.Timeframe, start, end time.Time, barWidth time.Duration) ([]time.Time, error) {
	return f.gaps, f.gapsErr
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestCurrentReturnsMostRecentSpread(t *testing.T) {
	svc := marketdata.New(&fakeOHLCStore{}, zap.NewNop())

	now := time.Now().UTC()
	svc.OnTick("acct-1", types.Tick{Symbol: "EURUSD", Bid: dec("1.08500"), Ask: dec("1.08503"), Timestamp: now.Add(-time.Minute)})
	svc.OnTick("acct-1", types.Tick{Symbol: "EURUSD", Bid: dec("1.08510"), Ask: dec("1.08516"), Timestamp: now})

	got, err := svc.Current("acct-1", "EURUSD")
	require.NoError(t, err)
	require.True(t, got.Equal(dec("0.00006")), "got %s", got)
}

func TestCurrentErrorsWithoutSamples(t *testing.T) {
	svc := marketdata.New(&fakeOHLCStore{}, zap.NewNop())
	_, err := svc.Current("acct-1", "EURUSD")
	require.Error(t, err)
}

func TestRollingAverageIgnoresSamplesOutsideWindow(t *testing.T) {
	svc := marketdata.New(&fakeOHLCStore{}, zap.NewNop())
	now := time.Now().UTC()

	svc.OnTick("acct-1", types.Tick{Symbol: "EURUSD", Bid: dec("1.0"), Ask: dec("1.002"), Timestamp: now.Add(-2 * time.Hour)})
	svc.OnTick("acct-1", types.Tick{Symbol: "EURUSD", Bid: dec("1.0"), Ask: dec("1.001"), Timestamp: now})

	avg, err := svc.RollingAverage("acct-1", "EURUSD", time.Hour)
	require.NoError(t, err)
	require.True(t, avg.Equal(dec("0.001")), "got %s", avg)
}

func TestRollingAverageFallsBackToLatestWhenWindowEmpty(t *testing.T) {
	svc := marketdata.New(&fakeOHLCStore{}, zap.NewNop())
	stale := time.Now().UTC().Add(-3 * time.Hour)
	svc.OnTick("acct-1", types.Tick{Symbol: "EURUSD", Bid: dec("1.0"), Ask: dec("1.0007"), Timestamp: stale})

	avg, err := svc.RollingAverage("acct-1", "EURUSD", time.Hour)
	require.NoError(t, err)
	require.True(t, avg.Equal(dec("0.0007")), "got %s", avg)
}

func TestPruneOlderThanDropsStaleSymbols(t *testing.T) {
	svc := marketdata.New(&fakeOHLCStore{}, zap.NewNop())
	stale := time.Now().UTC().Add(-24 * time.Hour)
	svc.OnTick("acct-1", types.Tick{Symbol: "EURUSD", Bid: dec("1.0"), Ask: dec("1.001"), Timestamp: stale})

	svc.PruneOlderThan(time.Now().UTC().Add(-time.Hour))

	_, err := svc.Current("acct-1", "EURUSD")
	require.Error(t, err)
}

func TestCoverageComputesPercentAndNeedsUpdate(t *testing.T) {
	store := &fakeOHLCStore{gaps: []time.Time{time.Now(), time.Now()}}
	svc := marketdata.New(store, zap.NewNop())

	cov, err := svc.Coverage("EURUSD", types.TimeframeM1, 10)
	require.NoError(t, err)
	require.Equal(t, 2, cov.MissingBars)
	require.True(t, cov.NeedsUpdate)
	require.True(t, cov.CoveragePercent.Equal(dec("80")), "got %s", cov.CoveragePercent)
}

func TestCoverageFullWhenNoGaps(t *testing.T) {
	store := &fakeOHLCStore{}
	svc := marketdata.New(store, zap.NewNop())

	cov, err := svc.Coverage("EURUSD", types.TimeframeH1, 50)
	require.NoError(t, err)
	require.False(t, cov.NeedsUpdate)
	require.True(t, cov.CoveragePercent.Equal(dec("100")), "got %s", cov.CoveragePercent)
}

func TestCoverageRejectsUnknownTimeframe(t *testing.T) {
	svc := marketdata.New(&fakeOHLCStore{}, zap.NewNop())
	_, err := svc.Coverage("EURUSD", types.Timeframe("BOGUS"), 10)
	require.Error(t, err)
}

func TestIngestHistoricalIsIdempotentAtStoreLayer(t *testing.T) {
	store := &fakeOHLCStore{}
	svc := marketdata.New(store, zap.NewNop())

	bars := []types.OHLCBar{{Symbol: "EURUSD", Timeframe: types.TimeframeH1, Open: dec("1.085"), High: dec("1.086"), Low: dec("1.084"), Close: dec("1.0855"), Volume: dec("100")}}
	require.NoError(t, svc.IngestHistorical(bars))
	require.NoError(t, svc.IngestHistorical(bars))
	require.Len(t, store.upserted, 2)
}
