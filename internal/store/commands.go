package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-ea/bridge/pkg/types"
)

// CommandStore persists queued EA commands. The in-memory priority queue in
// commctl is rebuilt from PENDING rows here at startup.
type CommandStore struct {
	db *DB
}

// NewCommandStore builds a CommandStore.
func NewCommandStore(db *DB) *CommandStore {
	return &CommandStore{db: db}
}

// Insert persists a new command, defaulting CreatedAt if unset.
func (s *CommandStore) Insert(c *types.Command) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.NamedExec(`
		INSERT INTO commands (
			id, account_id, command_type, symbol, volume, price, stop_loss, take_profit,
			ticket_id, reason, linked_signal_id, priority, status, retry_count, max_retries, timeout_seconds,
			created_at, sent_at, completed_at
		) VALUES (
			:id, :account_id, :command_type, :symbol, :volume, :price, :stop_loss, :take_profit,
			:ticket_id, :reason, :linked_signal_id, :priority, :status, :retry_count, :max_retries, :timeout_seconds,
			:created_at, :sent_at, :completed_at
		)`, c)
	if err != nil {
		return fmt.Errorf("inserting command %s: %w", c.ID, err)
	}
	return nil
}

// PendingByAccount returns all PENDING commands for an account, ordered by
// priority desc then created_at asc (FIFO tiebreak) — used to rebuild the
// in-memory heap at startup.
func (s *CommandStore) PendingByAccount(accountID string) ([]types.Command, error) {
	var cmds []types.Command
	err := s.db.Select(&cmds, `
		SELECT * FROM commands WHERE account_id = ? AND status = 'PENDING'
		ORDER BY priority DESC, created_at ASC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("loading pending commands for %s: %w", accountID, err)
	}
	return cmds, nil
}

// ExecutingOlderThan returns EXECUTING commands whose sent_at is before
// cutoff, used by the timeout sweeper.
func (s *CommandStore) ExecutingOlderThan(cutoff time.Time) ([]types.Command, error) {
	var cmds []types.Command
	err := s.db.Select(&cmds, `SELECT * FROM commands WHERE status = 'EXECUTING' AND sent_at < ?`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("loading stale executing commands: %w", err)
	}
	return cmds, nil
}

// MarkSent transitions a command to EXECUTING and stamps sent_at.
func (s *CommandStore) MarkSent(id string) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(`UPDATE commands SET status = 'EXECUTING', sent_at = ? WHERE id = ?`, now, id)
	if err != nil {
		return fmt.Errorf("marking command %s sent: %w", id, err)
	}
	return nil
}

// MarkCompleted transitions a command to COMPLETED.
func (s *CommandStore) MarkCompleted(id string) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(`UPDATE commands SET status = 'COMPLETED', completed_at = ? WHERE id = ?`, now, id)
	if err != nil {
		return fmt.Errorf("marking command %s completed: %w", id, err)
	}
	return nil
}

// Requeue demotes an EXECUTING command back to PENDING with an incremented
// retry_count, or to FAILED if max_retries has been reached.
func (s *CommandStore) Requeue(id string) (failed bool, err error) {
	var c types.Command
	if e := s.db.Get(&c, `SELECT * FROM commands WHERE id = ?`, id); e != nil {
		return false, fmt.Errorf("loading command %s to requeue: %w", id, e)
	}

	if c.RetryCount+1 >= c.MaxRetries {
		_, e := s.db.Exec(`UPDATE commands SET status = 'FAILED', retry_count = retry_count + 1, completed_at = ? WHERE id = ?`,
			time.Now().UTC(), id)
		if e != nil {
			return false, fmt.Errorf("failing command %s: %w", id, e)
		}
		return true, nil
	}

	_, e := s.db.Exec(`UPDATE commands SET status = 'PENDING', retry_count = retry_count + 1, sent_at = NULL WHERE id = ?`, id)
	if e != nil {
		return false, fmt.Errorf("requeuing command %s: %w", id, e)
	}
	return false, nil
}

// MarkFailed transitions a command straight to FAILED, bypassing the retry
// ladder. Used for permanent (non-retriable) EA errors.
func (s *CommandStore) MarkFailed(id string) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(`UPDATE commands SET status = 'FAILED', completed_at = ? WHERE id = ?`, now, id)
	if err != nil {
		return fmt.Errorf("marking command %s failed: %w", id, err)
	}
	return nil
}

// Get fetches one command by ID.
func (s *CommandStore) Get(id string) (*types.Command, error) {
	var c types.Command
	err := s.db.Get(&c, `SELECT * FROM commands WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading command %s: %w", id, err)
	}
	return &c, nil
}

// FindMatchingCommand locates the most recent completed OPEN_TRADE command
// for (accountID, symbol, side) whose volume matches a reconciliation-time
// reported position, satisfying commctl.CommandLookup so the Reconciler can
// attribute a broker position it discovers with no open Trade row to the
// command that opened it. Direction is carried by the linked signal rather
// than the command itself, so the match joins through linked_signal_id. A
// lookup failure is logged and treated as no-match rather than surfaced,
// since a missed attribution only costs the trade its source/signal link.
func (s *CommandStore) FindMatchingCommand(accountID, symbol string, volume decimal.Decimal, side types.SignalType) *types.Command {
	var c types.Command
	err := s.db.Get(&c, `
		SELECT c.* FROM commands c
		JOIN signals sg ON sg.id = c.linked_signal_id
		WHERE c.account_id = ? AND c.symbol = ? AND c.command_type = 'OPEN_TRADE'
			AND c.status = 'COMPLETED' AND sg.signal_type = ? AND c.volume = ?
		ORDER BY c.completed_at DESC LIMIT 1`, accountID, symbol, side, volume)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		s.db.logger.Warn("matching command lookup failed", zap.String("account_id", accountID), zap.String("symbol", symbol), zap.Error(err))
		return nil
	}
	return &c
}

// FindRecentCloseCommand locates the most recently completed CLOSE_TRADE
// command issued for a ticket, used to recover the protective-worker reason
// (TIMEOUT, STRATEGY_INVALIDATED, EMERGENCY_CLOSE) behind a close the EA
// reports generically as MANUAL.
func (s *CommandStore) FindRecentCloseCommand(accountID, ticketID string) *types.Command {
	var c types.Command
	err := s.db.Get(&c, `
		SELECT * FROM commands
		WHERE account_id = ? AND ticket_id = ? AND command_type = 'CLOSE_TRADE' AND status = 'COMPLETED'
		ORDER BY completed_at DESC LIMIT 1`, accountID, ticketID)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		s.db.logger.Warn("recent close command lookup failed", zap.String("account_id", accountID), zap.String("ticket_id", ticketID), zap.Error(err))
		return nil
	}
	return &c
}
