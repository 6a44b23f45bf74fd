package store

import (
	"fmt"
	"time"

	"github.com/atlas-ea/bridge/pkg/types"
)

// TradeHistoryStore appends audit events for trade lifecycle changes: SL/TP
// moves, trailing stage advances, TP extensions, reconciliation closures.
type TradeHistoryStore struct {
	db *DB
}

// NewTradeHistoryStore builds a TradeHistoryStore.
func NewTradeHistoryStore(db *DB) *TradeHistoryStore {
	return &TradeHistoryStore{db: db}
}

// Append records one history event for a trade.
func (s *TradeHistoryStore) Append(e *types.TradeHistoryEvent) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.NamedExec(`
		INSERT INTO trade_history_events (
			id, trade_id, event_type, old_value, new_value, detail,
			source, price_at_change, spread_at_change, created_at
		) VALUES (
			:id, :trade_id, :event_type, :old_value, :new_value, :detail,
			:source, :price_at_change, :spread_at_change, :created_at
		)`, e)
	if err != nil {
		return fmt.Errorf("appending history event for trade %s: %w", e.TradeID, err)
	}
	return nil
}

// ForTrade returns every history event for a trade, oldest first.
func (s *TradeHistoryStore) ForTrade(tradeID string) ([]types.TradeHistoryEvent, error) {
	var events []types.TradeHistoryEvent
	err := s.db.Select(&events, `
		SELECT * FROM trade_history_events WHERE trade_id = ? ORDER BY created_at ASC`, tradeID)
	if err != nil {
		return nil, fmt.Errorf("loading history for trade %s: %w", tradeID, err)
	}
	return events, nil
}
