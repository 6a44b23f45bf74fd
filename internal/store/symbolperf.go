package store

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-ea/bridge/pkg/types"
)

// SymbolPerformanceStore rolls up win/loss/PnL stats per (account, symbol),
// consulted by the strategy validator and reporting surfaces.
type SymbolPerformanceStore struct {
	db *DB
}

// NewSymbolPerformanceStore builds a SymbolPerformanceStore.
func NewSymbolPerformanceStore(db *DB) *SymbolPerformanceStore {
	return &SymbolPerformanceStore{db: db}
}

// RecordClose updates the rollup for a symbol after a trade closes. The
// running total is read-modified-written in decimal rather than summed in
// SQL, keeping PnL accumulation exact instead of routing it through float64.
func (s *SymbolPerformanceStore) RecordClose(accountID, symbol string, pnl decimal.Decimal) error {
	now := time.Now().UTC()
	win, loss := 0, 0
	if pnl.GreaterThan(decimal.Zero) {
		win = 1
	} else if pnl.LessThan(decimal.Zero) {
		loss = 1
	}

	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("beginning symbol performance update: %w", err)
	}
	defer tx.Rollback()

	var existing decimal.Decimal
	err = tx.Get(&existing, `SELECT total_pnl FROM symbol_performance WHERE account_id = ? AND symbol = ?`, accountID, symbol)
	newTotal := pnl
	if err == nil {
		newTotal = existing.Add(pnl)
	}

	_, err = tx.Exec(`
		INSERT INTO symbol_performance (account_id, symbol, total_trades, wins, losses, total_pnl, last_trade_at)
		VALUES (?, ?, 1, ?, ?, ?, ?)
		ON CONFLICT(account_id, symbol) DO UPDATE SET
			total_trades = total_trades + 1,
			wins = wins + excluded.wins,
			losses = losses + excluded.losses,
			total_pnl = excluded.total_pnl,
			last_trade_at = excluded.last_trade_at
	`, accountID, symbol, win, loss, newTotal, now)
	if err != nil {
		return fmt.Errorf("recording symbol performance for %s/%s: %w", accountID, symbol, err)
	}
	return tx.Commit()
}

// Get fetches the rollup row for a symbol, or nil if no trades recorded yet.
func (s *SymbolPerformanceStore) Get(accountID, symbol string) (*types.SymbolPerformanceTracking, error) {
	var row types.SymbolPerformanceTracking
	err := s.db.Get(&row, `SELECT * FROM symbol_performance WHERE account_id = ? AND symbol = ?`, accountID, symbol)
	if err != nil {
		return nil, nil
	}
	return &row, nil
}
