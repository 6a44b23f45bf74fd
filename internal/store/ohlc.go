package store

import (
	"fmt"
	"time"

	"github.com/atlas-ea/bridge/pkg/types"
)

// OHLCStore persists historical and streaming candlesticks.
type OHLCStore struct {
	db *DB
}

// NewOHLCStore builds an OHLCStore.
func NewOHLCStore(db *DB) *OHLCStore {
	return &OHLCStore{db: db}
}

// UpsertBatch idempotently ingests bars, keyed by (symbol, timeframe,
// open_time) — re-ingesting the same historical range is a no-op overwrite,
// keeping historical ingest idempotent.
func (s *OHLCStore) UpsertBatch(bars []types.OHLCBar) error {
	if len(bars) == 0 {
		return nil
	}

	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("beginning OHLC batch transaction: %w", err)
	}

	for _, b := range bars {
		_, err := tx.NamedExec(`
			INSERT INTO ohlc_bars (symbol, timeframe, open_time, open, high, low, close, volume)
			VALUES (:symbol, :timeframe, :open_time, :open, :high, :low, :close, :volume)
			ON CONFLICT(symbol, timeframe, open_time) DO UPDATE SET
				open = excluded.open, high = excluded.high, low = excluded.low,
				close = excluded.close, volume = excluded.volume`, b)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("upserting bar %s/%s@%s: %w", b.Symbol, b.Timeframe, b.OpenTime, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing OHLC batch: %w", err)
	}
	return nil
}

// Range returns bars for a symbol/timeframe between start and end, ascending.
func (s *OHLCStore) Range(symbol string, tf types.Timeframe, start, end time.Time) ([]types.OHLCBar, error) {
	var bars []types.OHLCBar
	err := s.db.Select(&bars, `
		SELECT * FROM ohlc_bars
		WHERE symbol = ? AND timeframe = ? AND open_time >= ? AND open_time <= ?
		ORDER BY open_time ASC`, symbol, tf, start, end)
	if err != nil {
		return nil, fmt.Errorf("loading OHLC range for %s/%s: %w", symbol, tf, err)
	}
	return bars, nil
}

// LastN returns the most recent n bars for a symbol/timeframe, ascending.
func (s *OHLCStore) LastN(symbol string, tf types.Timeframe, n int) ([]types.OHLCBar, error) {
	var bars []types.OHLCBar
	err := s.db.Select(&bars, `
		SELECT * FROM (
			SELECT * FROM ohlc_bars WHERE symbol = ? AND timeframe = ?
			ORDER BY open_time DESC LIMIT ?
		) ORDER BY open_time ASC`, symbol, tf, n)
	if err != nil {
		return nil, fmt.Errorf("loading last %d bars for %s/%s: %w", n, symbol, tf, err)
	}
	return bars, nil
}

// CoverageGaps reports missing bar boundaries between start and end for a
// fixed-width timeframe, used by marketdata's ohlc_coverage check.
func (s *OHLCStore) CoverageGaps(symbol string, tf types.Timeframe, start, end time.Time, barWidth time.Duration) ([]time.Time, error) {
	bars, err := s.Range(symbol, tf, start, end)
	if err != nil {
		return nil, err
	}
	present := make(map[int64]bool, len(bars))
	for _, b := range bars {
		present[b.OpenTime.Unix()] = true
	}

	var gaps []time.Time
	for t := start; t.Before(end); t = t.Add(barWidth) {
		if !present[t.Unix()] {
			gaps = append(gaps, t)
		}
	}
	return gaps, nil
}
