package store

import (
	"fmt"
	"time"

	"github.com/atlas-ea/bridge/pkg/types"
)

// AIDecisionStore is the append-only audit trail every gating and protective
// worker writes to — one row per decision, retained for a bounded window by
// the retention worker.
type AIDecisionStore struct {
	db *DB
}

// NewAIDecisionStore builds an AIDecisionStore.
func NewAIDecisionStore(db *DB) *AIDecisionStore {
	return &AIDecisionStore{db: db}
}

// Log records a decision. Never returns an error to the caller's own
// control flow concerns — callers should log locally on failure rather than
// fail the operation the decision describes.
func (s *AIDecisionStore) Log(d *types.AIDecision) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.NamedExec(`
		INSERT INTO ai_decisions (
			id, account_id, symbol, signal_id, decision_type, approved,
			impact, outcome, reasoning, details, action_required, created_at
		) VALUES (
			:id, :account_id, :symbol, :signal_id, :decision_type, :approved,
			:impact, :outcome, :reasoning, :details, :action_required, :created_at
		)`, d)
	if err != nil {
		return fmt.Errorf("logging AI decision for %s: %w", d.AccountID, err)
	}
	return nil
}

// RecentForAccount returns the most recent decisions for an account, newest first.
func (s *AIDecisionStore) RecentForAccount(accountID string, limit int) ([]types.AIDecision, error) {
	var decisions []types.AIDecision
	err := s.db.Select(&decisions, `
		SELECT * FROM ai_decisions WHERE account_id = ? ORDER BY created_at DESC LIMIT ?`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("loading recent decisions for %s: %w", accountID, err)
	}
	return decisions, nil
}

// DeleteOlderThan removes decisions past the retention cutoff.
func (s *AIDecisionStore) DeleteOlderThan(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM ai_decisions WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting expired AI decisions: %w", err)
	}
	return res.RowsAffected()
}
