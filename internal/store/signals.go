package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/atlas-ea/bridge/pkg/types"
)

// SignalStore persists Signal rows, enforcing the at-most-one-active-signal
// invariant per (account, symbol, timeframe) via the partial unique index
// created in Migrate.
type SignalStore struct {
	db *DB
}

// NewSignalStore builds a SignalStore.
func NewSignalStore(db *DB) *SignalStore {
	return &SignalStore{db: db}
}

// Upsert inserts a new active signal or replaces the existing active one for
// the same (account, symbol, timeframe). The active row is replaced when the
// incoming confidence is not lower OR the direction differs (a flip always
// wins); otherwise the older signal is kept and only its updated_at is
// bumped, so concurrent generators cannot clobber a stronger same-direction
// signal with a weaker one.
func (s *SignalStore) Upsert(sig *types.Signal) (bool, error) {
	if sig.UpdatedAt.IsZero() {
		sig.UpdatedAt = time.Now().UTC()
	}
	res, err := s.db.NamedExec(`
		INSERT INTO signals (
			id, account_id, symbol, timeframe, signal_type, confidence,
			entry_price, stop_loss, take_profit, reasoning, status, created_at, updated_at, expires_at
		) VALUES (
			:id, :account_id, :symbol, :timeframe, :signal_type, :confidence,
			:entry_price, :stop_loss, :take_profit, :reasoning, :status, :created_at, :updated_at, :expires_at
		)
		ON CONFLICT(account_id, symbol, timeframe) WHERE status = 'active' DO UPDATE SET
			id = excluded.id,
			signal_type = excluded.signal_type,
			confidence = excluded.confidence,
			entry_price = excluded.entry_price,
			stop_loss = excluded.stop_loss,
			take_profit = excluded.take_profit,
			reasoning = excluded.reasoning,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			expires_at = excluded.expires_at
		WHERE CAST(excluded.confidence AS REAL) >= CAST(signals.confidence AS REAL)
			OR excluded.signal_type != signals.signal_type
	`, sig)
	if err != nil {
		return false, fmt.Errorf("upserting signal for %s/%s/%s: %w", sig.AccountID, sig.Symbol, sig.Timeframe, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading rows affected for signal upsert: %w", err)
	}
	if n > 0 {
		return true, nil
	}

	// Replace rejected: keep the older signal but record that a fresh
	// evaluation reconfirmed the key.
	_, err = s.db.Exec(`
		UPDATE signals SET updated_at = ?
		WHERE account_id = ? AND symbol = ? AND timeframe = ? AND status = 'active'`,
		sig.UpdatedAt, sig.AccountID, sig.Symbol, sig.Timeframe)
	if err != nil {
		return false, fmt.Errorf("bumping updated_at for kept signal %s/%s/%s: %w", sig.AccountID, sig.Symbol, sig.Timeframe, err)
	}
	return false, nil
}

// ActiveFor returns the active signal for a (account, symbol, timeframe), or
// nil if none exists.
func (s *SignalStore) ActiveFor(accountID, symbol string, tf types.Timeframe) (*types.Signal, error) {
	var sig types.Signal
	err := s.db.Get(&sig, `
		SELECT * FROM signals WHERE account_id = ? AND symbol = ? AND timeframe = ? AND status = 'active'`,
		accountID, symbol, tf)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading active signal for %s/%s/%s: %w", accountID, symbol, tf, err)
	}
	return &sig, nil
}

// Get returns a signal by ID regardless of status, or nil if it doesn't
// exist — used to recover a trade's originating timeframe for strategy
// validation.
func (s *SignalStore) Get(id string) (*types.Signal, error) {
	var sig types.Signal
	err := s.db.Get(&sig, `SELECT * FROM signals WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading signal %s: %w", id, err)
	}
	return &sig, nil
}

// MarkStatus transitions a signal out of the active state (consumed, expired,
// superseded).
func (s *SignalStore) MarkStatus(id string, status types.SignalStatus) error {
	_, err := s.db.Exec(`UPDATE signals SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("marking signal %s as %s: %w", id, status, err)
	}
	return nil
}

// ExpireOlderThan marks active signals past their expires_at as expired,
// returning how many were transitioned.
func (s *SignalStore) ExpireOlderThan(now time.Time) (int64, error) {
	res, err := s.db.Exec(`UPDATE signals SET status = 'expired' WHERE status = 'active' AND expires_at < ?`, now)
	if err != nil {
		return 0, fmt.Errorf("expiring signals: %w", err)
	}
	return res.RowsAffected()
}
