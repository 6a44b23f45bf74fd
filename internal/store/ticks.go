package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/atlas-ea/bridge/pkg/types"
)

// TickStore persists raw ticks, written in batches by the tickbuffer flusher.
type TickStore struct {
	db *DB
}

// NewTickStore builds a TickStore.
func NewTickStore(db *DB) *TickStore {
	return &TickStore{db: db}
}

// InsertBatch writes a slice of ticks in a single transaction.
func (s *TickStore) InsertBatch(ticks []types.Tick) error {
	if len(ticks) == 0 {
		return nil
	}

	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("beginning tick batch transaction: %w", err)
	}

	for _, t := range ticks {
		_, err := tx.NamedExec(`
			INSERT INTO ticks (id, account_id, symbol, bid, ask, timestamp)
			VALUES (:id, :account_id, :symbol, :bid, :ask, :timestamp)`, t)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting tick %s: %w", t.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing tick batch: %w", err)
	}
	return nil
}

// Latest returns the most recent tick for a symbol, or nil if none exist.
func (s *TickStore) Latest(accountID, symbol string) (*types.Tick, error) {
	var t types.Tick
	err := s.db.Get(&t, `
		SELECT * FROM ticks WHERE account_id = ? AND symbol = ?
		ORDER BY timestamp DESC LIMIT 1`, accountID, symbol)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("loading latest tick for %s/%s: %w", accountID, symbol, err)
	}
	return &t, nil
}

// DeleteOlderThan removes ticks older than the retention cutoff, run by the
// periodic RetentionWorker.
func (s *TickStore) DeleteOlderThan(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM ticks WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting expired ticks: %w", err)
	}
	return res.RowsAffected()
}
