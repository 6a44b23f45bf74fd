package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-ea/bridge/pkg/types"
)

// AccountStore persists Account rows.
type AccountStore struct {
	db *DB
}

// NewAccountStore builds an AccountStore.
func NewAccountStore(db *DB) *AccountStore {
	return &AccountStore{db: db}
}

// Upsert inserts or updates an account by ID.
func (s *AccountStore) Upsert(a *types.Account) error {
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	_, err := s.db.NamedExec(`
		INSERT INTO accounts (
			id, login, broker, currency, balance, equity, margin, free_margin,
			initial_balance, profit_today,
			auto_trade_enabled, circuit_breaker_tripped, failed_command_count,
			sl_cooldown_until, created_at, updated_at
		) VALUES (
			:id, :login, :broker, :currency, :balance, :equity, :margin, :free_margin,
			:initial_balance, :profit_today,
			:auto_trade_enabled, :circuit_breaker_tripped, :failed_command_count,
			:sl_cooldown_until, :created_at, :updated_at
		)
		ON CONFLICT(id) DO UPDATE SET
			login = excluded.login,
			broker = excluded.broker,
			currency = excluded.currency,
			balance = excluded.balance,
			equity = excluded.equity,
			margin = excluded.margin,
			free_margin = excluded.free_margin,
			profit_today = excluded.profit_today,
			auto_trade_enabled = excluded.auto_trade_enabled,
			circuit_breaker_tripped = excluded.circuit_breaker_tripped,
			failed_command_count = excluded.failed_command_count,
			sl_cooldown_until = excluded.sl_cooldown_until,
			updated_at = excluded.updated_at
	`, a)
	if err != nil {
		return fmt.Errorf("upserting account %s: %w", a.ID, err)
	}
	return nil
}

// Get fetches one account by ID.
func (s *AccountStore) Get(id string) (*types.Account, error) {
	var a types.Account
	err := s.db.Get(&a, `SELECT * FROM accounts WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading account %s: %w", id, err)
	}
	return &a, nil
}

// List returns every known account.
func (s *AccountStore) List() ([]types.Account, error) {
	var accounts []types.Account
	if err := s.db.Select(&accounts, `SELECT * FROM accounts ORDER BY created_at`); err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	return accounts, nil
}

// UpdateBalances applies a heartbeat's reported account state.
func (s *AccountStore) UpdateBalances(accountID string, balance, equity, margin, freeMargin decimal.Decimal) error {
	_, err := s.db.Exec(`
		UPDATE accounts SET balance = ?, equity = ?, margin = ?, free_margin = ?, updated_at = ?
		WHERE id = ?`, balance, equity, margin, freeMargin, time.Now().UTC(), accountID)
	if err != nil {
		return fmt.Errorf("updating balances for %s: %w", accountID, err)
	}
	return nil
}

// SetProfitToday overwrites the rolling intraday P&L figure, recomputed by
// the drawdown worker from trades closed since UTC midnight.
func (s *AccountStore) SetProfitToday(accountID string, profit decimal.Decimal) error {
	_, err := s.db.Exec(`UPDATE accounts SET profit_today = ?, updated_at = ? WHERE id = ?`,
		profit, time.Now().UTC(), accountID)
	if err != nil {
		return fmt.Errorf("setting profit_today for %s: %w", accountID, err)
	}
	return nil
}

// SetCircuitBreaker flips the tripped flag and resets failed_command_count
// when clearing, since reset is a manual admin action.
func (s *AccountStore) SetCircuitBreaker(accountID string, tripped bool) error {
	_, err := s.db.Exec(`
		UPDATE accounts SET circuit_breaker_tripped = ?, failed_command_count = CASE WHEN ? THEN failed_command_count ELSE 0 END, updated_at = ?
		WHERE id = ?`, tripped, tripped, time.Now().UTC(), accountID)
	if err != nil {
		return fmt.Errorf("setting circuit breaker for %s: %w", accountID, err)
	}
	return nil
}

// IncrementFailedCommands bumps failed_command_count and returns the new value.
func (s *AccountStore) IncrementFailedCommands(accountID string) (int, error) {
	_, err := s.db.Exec(`UPDATE accounts SET failed_command_count = failed_command_count + 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), accountID)
	if err != nil {
		return 0, fmt.Errorf("incrementing failed commands for %s: %w", accountID, err)
	}
	var count int
	if err := s.db.Get(&count, `SELECT failed_command_count FROM accounts WHERE id = ?`, accountID); err != nil {
		return 0, fmt.Errorf("reading failed command count for %s: %w", accountID, err)
	}
	return count, nil
}

// SetInitialBalanceIfUnset captures initial_balance the first time an
// account connects; the value is captured once at first connect. A
// later call is a no-op so a restart never resets the drawdown baseline.
func (s *AccountStore) SetInitialBalanceIfUnset(accountID string, balance decimal.Decimal) error {
	_, err := s.db.Exec(`
		UPDATE accounts SET initial_balance = ?, updated_at = ?
		WHERE id = ? AND initial_balance = '0'`, balance, time.Now().UTC(), accountID)
	if err != nil {
		return fmt.Errorf("setting initial balance for %s: %w", accountID, err)
	}
	return nil
}

// SetSLCooldown sets or clears the SL cooldown expiry.
func (s *AccountStore) SetSLCooldown(accountID string, until *time.Time) error {
	_, err := s.db.Exec(`UPDATE accounts SET sl_cooldown_until = ?, updated_at = ? WHERE id = ?`,
		until, time.Now().UTC(), accountID)
	if err != nil {
		return fmt.Errorf("setting SL cooldown for %s: %w", accountID, err)
	}
	return nil
}
