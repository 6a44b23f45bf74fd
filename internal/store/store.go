// Package store provides SQLite-backed persistence for every durable entity
// of the bridge: accounts, ticks, signals, commands, trades and their audit
// trails. Connections (EA liveness) are memory-only and live in commctl.
package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// DB wraps the sqlx connection shared by every repository in this package.
type DB struct {
	*sqlx.DB
	logger *zap.Logger
}

// New opens (creating if necessary) the SQLite database at path and runs
// Migrate before returning.
func New(path string, logger *zap.Logger) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	conn, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	conn.SetMaxOpenConns(1) // modernc.org/sqlite: serialize writers, matches single-process model

	db := &DB{DB: conn, logger: logger.Named("store")}
	if err := db.Migrate(); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	db.logger.Info("database ready", zap.String("path", path))
	return db, nil
}

// Migrate creates every table and index the bridge needs. It is safe to run
// on every boot.
func (db *DB) Migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		login TEXT NOT NULL,
		broker TEXT NOT NULL,
		currency TEXT NOT NULL,
		balance TEXT NOT NULL DEFAULT '0',
		equity TEXT NOT NULL DEFAULT '0',
		margin TEXT NOT NULL DEFAULT '0',
		free_margin TEXT NOT NULL DEFAULT '0',
		initial_balance TEXT NOT NULL DEFAULT '0',
		profit_today TEXT NOT NULL DEFAULT '0',
		auto_trade_enabled INTEGER NOT NULL DEFAULT 0,
		circuit_breaker_tripped INTEGER NOT NULL DEFAULT 0,
		failed_command_count INTEGER NOT NULL DEFAULT 0,
		sl_cooldown_until DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS ticks (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		bid TEXT NOT NULL,
		ask TEXT NOT NULL,
		timestamp DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_ticks_symbol_time ON ticks(account_id, symbol, timestamp);

	CREATE TABLE IF NOT EXISTS ohlc_bars (
		symbol TEXT NOT NULL,
		timeframe TEXT NOT NULL,
		open_time DATETIME NOT NULL,
		open TEXT NOT NULL,
		high TEXT NOT NULL,
		low TEXT NOT NULL,
		close TEXT NOT NULL,
		volume TEXT NOT NULL,
		PRIMARY KEY (symbol, timeframe, open_time)
	);

	CREATE TABLE IF NOT EXISTS signals (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		timeframe TEXT NOT NULL,
		signal_type TEXT NOT NULL,
		confidence TEXT NOT NULL,
		entry_price TEXT NOT NULL,
		stop_loss TEXT NOT NULL,
		take_profit TEXT NOT NULL,
		reasoning TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_signals_active
		ON signals(account_id, symbol, timeframe) WHERE status = 'active';

	CREATE TABLE IF NOT EXISTS commands (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		command_type TEXT NOT NULL,
		symbol TEXT NOT NULL,
		volume TEXT NOT NULL DEFAULT '0',
		price TEXT NOT NULL DEFAULT '0',
		stop_loss TEXT NOT NULL DEFAULT '0',
		take_profit TEXT NOT NULL DEFAULT '0',
		ticket_id TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT '',
		linked_signal_id TEXT NOT NULL DEFAULT '',
		priority INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0,
		max_retries INTEGER NOT NULL DEFAULT 3,
		timeout_seconds INTEGER NOT NULL DEFAULT 30,
		created_at DATETIME NOT NULL,
		sent_at DATETIME,
		completed_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_commands_account_status ON commands(account_id, status);

	CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		ticket_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		volume TEXT NOT NULL,
		open_price TEXT NOT NULL,
		close_price TEXT NOT NULL DEFAULT '0',
		stop_loss TEXT NOT NULL DEFAULT '0',
		take_profit TEXT NOT NULL DEFAULT '0',
		initial_stop_loss TEXT NOT NULL DEFAULT '0',
		initial_take_profit TEXT NOT NULL DEFAULT '0',
		pnl TEXT NOT NULL DEFAULT '0',
		status TEXT NOT NULL,
		source TEXT NOT NULL,
		entry_reason TEXT NOT NULL DEFAULT '',
		close_reason TEXT NOT NULL DEFAULT '',
		trailing_stage INTEGER NOT NULL DEFAULT 0,
		tp_extensions INTEGER NOT NULL DEFAULT 0,
		linked_command_id TEXT NOT NULL DEFAULT '',
		opened_at DATETIME NOT NULL,
		closed_at DATETIME,
		UNIQUE(account_id, ticket_id)
	);
	CREATE INDEX IF NOT EXISTS idx_trades_account_status ON trades(account_id, status);

	CREATE TABLE IF NOT EXISTS trade_history_events (
		id TEXT PRIMARY KEY,
		trade_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		old_value TEXT NOT NULL DEFAULT '0',
		new_value TEXT NOT NULL DEFAULT '0',
		detail TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL DEFAULT '',
		price_at_change TEXT NOT NULL DEFAULT '0',
		spread_at_change TEXT NOT NULL DEFAULT '0',
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_trade_history_trade ON trade_history_events(trade_id);

	CREATE TABLE IF NOT EXISTS broker_symbols (
		account_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		asset_class TEXT NOT NULL,
		digits INTEGER NOT NULL,
		pip_size TEXT NOT NULL,
		stops_level TEXT NOT NULL,
		volume_min TEXT NOT NULL,
		volume_max TEXT NOT NULL,
		volume_step TEXT NOT NULL,
		contract_size TEXT NOT NULL,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (account_id, symbol)
	);

	CREATE TABLE IF NOT EXISTS symbol_overrides (
		symbol TEXT PRIMARY KEY,
		tp_mult_override TEXT NOT NULL DEFAULT '0',
		sl_mult_override TEXT NOT NULL DEFAULT '0',
		min_confidence_override TEXT NOT NULL DEFAULT '0',
		trailing_aggressive INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS global_settings (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		auto_trade_enabled INTEGER NOT NULL,
		min_confidence_pct TEXT NOT NULL,
		risk_per_trade_pct TEXT NOT NULL,
		max_open_trades_per_account INTEGER NOT NULL,
		max_daily_loss_pct TEXT NOT NULL,
		max_total_drawdown_pct TEXT NOT NULL,
		trade_timeout_hours TEXT NOT NULL,
		trade_timeout_action TEXT NOT NULL,
		sl_cooldown_hits_threshold INTEGER NOT NULL,
		sl_cooldown_window_hours TEXT NOT NULL,
		sl_cooldown_pause_minutes INTEGER NOT NULL,
		dynamic_tp_enabled INTEGER NOT NULL DEFAULT 1,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS ai_decisions (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		symbol TEXT NOT NULL DEFAULT '',
		signal_id TEXT NOT NULL DEFAULT '',
		decision_type TEXT NOT NULL,
		approved INTEGER NOT NULL DEFAULT 0,
		impact TEXT NOT NULL,
		outcome TEXT NOT NULL,
		reasoning TEXT NOT NULL DEFAULT '',
		details TEXT NOT NULL DEFAULT '',
		action_required INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_ai_decisions_account_time ON ai_decisions(account_id, created_at);

	CREATE TABLE IF NOT EXISTS symbol_performance (
		account_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		total_trades INTEGER NOT NULL DEFAULT 0,
		wins INTEGER NOT NULL DEFAULT 0,
		losses INTEGER NOT NULL DEFAULT 0,
		total_pnl TEXT NOT NULL DEFAULT '0',
		last_trade_at DATETIME,
		PRIMARY KEY (account_id, symbol)
	);

	CREATE TABLE IF NOT EXISTS news_events (
		id TEXT PRIMARY KEY,
		currency TEXT NOT NULL,
		title TEXT NOT NULL,
		impact TEXT NOT NULL,
		event_time DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_news_events_currency_time ON news_events(currency, event_time);
	`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("schema migration: %w", err)
	}

	return db.seedGlobalSettings()
}
