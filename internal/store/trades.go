package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/atlas-ea/bridge/pkg/types"
)

// TradeStore persists trades mirrored from the EA's open/closed positions.
type TradeStore struct {
	db *DB
}

// NewTradeStore builds a TradeStore.
func NewTradeStore(db *DB) *TradeStore {
	return &TradeStore{db: db}
}

// Upsert inserts or updates a trade keyed by (account_id, ticket_id).
func (s *TradeStore) Upsert(t *types.Trade) error {
	if t.OpenedAt.IsZero() {
		t.OpenedAt = time.Now().UTC()
	}
	_, err := s.db.NamedExec(`
		INSERT INTO trades (
			id, account_id, ticket_id, symbol, side, volume, open_price, close_price,
			stop_loss, take_profit, initial_stop_loss, initial_take_profit, pnl, status,
			source, entry_reason, close_reason,
			trailing_stage, tp_extensions, linked_command_id, opened_at, closed_at
		) VALUES (
			:id, :account_id, :ticket_id, :symbol, :side, :volume, :open_price, :close_price,
			:stop_loss, :take_profit, :initial_stop_loss, :initial_take_profit, :pnl, :status,
			:source, :entry_reason, :close_reason,
			:trailing_stage, :tp_extensions, :linked_command_id, :opened_at, :closed_at
		)
		ON CONFLICT(account_id, ticket_id) DO UPDATE SET
			close_price = excluded.close_price,
			stop_loss = excluded.stop_loss,
			take_profit = excluded.take_profit,
			pnl = excluded.pnl,
			status = excluded.status,
			close_reason = excluded.close_reason,
			trailing_stage = excluded.trailing_stage,
			tp_extensions = excluded.tp_extensions,
			closed_at = excluded.closed_at
	`, t)
	if err != nil {
		return fmt.Errorf("upserting trade %s/%s: %w", t.AccountID, t.TicketID, err)
	}
	return nil
}

// OpenByAccount returns every open trade for an account.
func (s *TradeStore) OpenByAccount(accountID string) ([]types.Trade, error) {
	var trades []types.Trade
	err := s.db.Select(&trades, `SELECT * FROM trades WHERE account_id = ? AND status = 'open'`, accountID)
	if err != nil {
		return nil, fmt.Errorf("loading open trades for %s: %w", accountID, err)
	}
	return trades, nil
}

// AllOpen returns every open trade across all accounts, used by the tick-
// driven trailing/extension monitors.
func (s *TradeStore) AllOpen() ([]types.Trade, error) {
	var trades []types.Trade
	if err := s.db.Select(&trades, `SELECT * FROM trades WHERE status = 'open'`); err != nil {
		return nil, fmt.Errorf("loading all open trades: %w", err)
	}
	return trades, nil
}

// ByTicket fetches a trade by (account, broker ticket).
func (s *TradeStore) ByTicket(accountID, ticketID string) (*types.Trade, error) {
	var t types.Trade
	err := s.db.Get(&t, `SELECT * FROM trades WHERE account_id = ? AND ticket_id = ?`, accountID, ticketID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading trade %s/%s: %w", accountID, ticketID, err)
	}
	return &t, nil
}

// Get fetches a trade by its internal ID.
func (s *TradeStore) Get(id string) (*types.Trade, error) {
	var t types.Trade
	err := s.db.Get(&t, `SELECT * FROM trades WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading trade %s: %w", id, err)
	}
	return &t, nil
}

// RecentClosed returns the most recently closed trades for an account,
// newest first, used by the SL-cooldown worker's 4h lookback window.
func (s *TradeStore) RecentClosed(accountID string, since time.Time) ([]types.Trade, error) {
	var trades []types.Trade
	err := s.db.Select(&trades, `
		SELECT * FROM trades WHERE account_id = ? AND status = 'closed' AND closed_at >= ?
		ORDER BY closed_at DESC`, accountID, since)
	if err != nil {
		return nil, fmt.Errorf("loading recently closed trades for %s: %w", accountID, err)
	}
	return trades, nil
}
