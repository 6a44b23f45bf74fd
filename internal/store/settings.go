package store

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/atlas-ea/bridge/pkg/types"
)

func (db *DB) seedGlobalSettings() error {
	var count int
	if err := db.Get(&count, `SELECT COUNT(*) FROM global_settings WHERE id = 1`); err != nil {
		return fmt.Errorf("checking global_settings seed: %w", err)
	}
	if count > 0 {
		return nil
	}

	s := types.DefaultGlobalSettings()
	s.UpdatedAt = time.Now().UTC()
	_, err := db.NamedExec(`
		INSERT INTO global_settings (
			id, auto_trade_enabled, min_confidence_pct, risk_per_trade_pct,
			max_open_trades_per_account, max_daily_loss_pct, max_total_drawdown_pct,
			trade_timeout_hours, trade_timeout_action, sl_cooldown_hits_threshold,
			sl_cooldown_window_hours, sl_cooldown_pause_minutes, dynamic_tp_enabled, updated_at
		) VALUES (
			:id, :auto_trade_enabled, :min_confidence_pct, :risk_per_trade_pct,
			:max_open_trades_per_account, :max_daily_loss_pct, :max_total_drawdown_pct,
			:trade_timeout_hours, :trade_timeout_action, :sl_cooldown_hits_threshold,
			:sl_cooldown_window_hours, :sl_cooldown_pause_minutes, :dynamic_tp_enabled, :updated_at
		)`, s)
	if err != nil {
		return fmt.Errorf("seeding global_settings: %w", err)
	}
	return nil
}

// SettingsStore caches the single global_settings row in memory, refreshed
// on every admin update, so request handlers never hit the database for the
// hot-path gating checks in autotrader.
type SettingsStore struct {
	db *DB

	mu    sync.RWMutex
	cache types.GlobalSettings
}

// NewSettingsStore loads the current row into the in-memory cache.
func NewSettingsStore(db *DB) (*SettingsStore, error) {
	s := &SettingsStore{db: db}
	if err := s.refresh(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SettingsStore) refresh() error {
	var row types.GlobalSettings
	if err := s.db.Get(&row, `SELECT * FROM global_settings WHERE id = 1`); err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("global_settings row missing, Migrate must run first")
		}
		return fmt.Errorf("loading global_settings: %w", err)
	}
	s.mu.Lock()
	s.cache = row
	s.mu.Unlock()
	return nil
}

// Get returns the cached snapshot of GlobalSettings.
func (s *SettingsStore) Get() types.GlobalSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache
}

// Update persists new settings and refreshes the cache, matching the
// "process-wide state paired with mutex + persisted audit record" pattern.
func (s *SettingsStore) Update(settings types.GlobalSettings) error {
	settings.ID = 1
	settings.UpdatedAt = time.Now().UTC()
	_, err := s.db.NamedExec(`
		UPDATE global_settings SET
			auto_trade_enabled = :auto_trade_enabled,
			min_confidence_pct = :min_confidence_pct,
			risk_per_trade_pct = :risk_per_trade_pct,
			max_open_trades_per_account = :max_open_trades_per_account,
			max_daily_loss_pct = :max_daily_loss_pct,
			max_total_drawdown_pct = :max_total_drawdown_pct,
			trade_timeout_hours = :trade_timeout_hours,
			trade_timeout_action = :trade_timeout_action,
			sl_cooldown_hits_threshold = :sl_cooldown_hits_threshold,
			sl_cooldown_window_hours = :sl_cooldown_window_hours,
			sl_cooldown_pause_minutes = :sl_cooldown_pause_minutes,
			dynamic_tp_enabled = :dynamic_tp_enabled,
			updated_at = :updated_at
		WHERE id = 1`, settings)
	if err != nil {
		return fmt.Errorf("updating global_settings: %w", err)
	}
	return s.refresh()
}
