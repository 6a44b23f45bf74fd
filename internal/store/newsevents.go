package store

import (
	"fmt"
	"time"

	"github.com/atlas-ea/bridge/pkg/types"
)

// NewsEventStore persists calendar rows populated by an external ingester
// (out of scope for this service — only consumption is implemented).
type NewsEventStore struct {
	db *DB
}

// NewNewsEventStore builds a NewsEventStore.
func NewNewsEventStore(db *DB) *NewsEventStore {
	return &NewsEventStore{db: db}
}

// Insert adds a news event row.
func (s *NewsEventStore) Insert(e *types.NewsEvent) error {
	_, err := s.db.NamedExec(`
		INSERT INTO news_events (id, currency, title, impact, event_time)
		VALUES (:id, :currency, :title, :impact, :event_time)`, e)
	if err != nil {
		return fmt.Errorf("inserting news event %s: %w", e.ID, err)
	}
	return nil
}

// AroundWindow returns events for a currency whose event_time falls within
// [from, to), used by newspause.go's T-15min/T+5min pause window.
func (s *NewsEventStore) AroundWindow(currency string, from, to time.Time) ([]types.NewsEvent, error) {
	var events []types.NewsEvent
	err := s.db.Select(&events, `
		SELECT * FROM news_events WHERE currency = ? AND event_time >= ? AND event_time < ?
		ORDER BY event_time ASC`, currency, from, to)
	if err != nil {
		return nil, fmt.Errorf("loading news events for %s: %w", currency, err)
	}
	return events, nil
}
