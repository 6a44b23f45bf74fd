package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/atlas-ea/bridge/pkg/types"
)

// BrokerSymbolStore persists per-account, per-symbol contract specs reported
// by the EA (digits, stops_level, volume step/min/max).
type BrokerSymbolStore struct {
	db *DB
}

// NewBrokerSymbolStore builds a BrokerSymbolStore.
func NewBrokerSymbolStore(db *DB) *BrokerSymbolStore {
	return &BrokerSymbolStore{db: db}
}

// Upsert inserts or refreshes a symbol spec.
func (s *BrokerSymbolStore) Upsert(bs *types.BrokerSymbol) error {
	bs.UpdatedAt = time.Now().UTC()
	_, err := s.db.NamedExec(`
		INSERT INTO broker_symbols (
			account_id, symbol, asset_class, digits, pip_size, stops_level,
			volume_min, volume_max, volume_step, contract_size, updated_at
		) VALUES (
			:account_id, :symbol, :asset_class, :digits, :pip_size, :stops_level,
			:volume_min, :volume_max, :volume_step, :contract_size, :updated_at
		)
		ON CONFLICT(account_id, symbol) DO UPDATE SET
			asset_class = excluded.asset_class,
			digits = excluded.digits,
			pip_size = excluded.pip_size,
			stops_level = excluded.stops_level,
			volume_min = excluded.volume_min,
			volume_max = excluded.volume_max,
			volume_step = excluded.volume_step,
			contract_size = excluded.contract_size,
			updated_at = excluded.updated_at
	`, bs)
	if err != nil {
		return fmt.Errorf("upserting broker symbol %s/%s: %w", bs.AccountID, bs.Symbol, err)
	}
	return nil
}

// Get fetches one symbol spec.
func (s *BrokerSymbolStore) Get(accountID, symbol string) (*types.BrokerSymbol, error) {
	var bs types.BrokerSymbol
	err := s.db.Get(&bs, `SELECT * FROM broker_symbols WHERE account_id = ? AND symbol = ?`, accountID, symbol)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading broker symbol %s/%s: %w", accountID, symbol, err)
	}
	return &bs, nil
}

// SymbolOverrideStore persists per-symbol TP/SL/confidence overrides (e.g.
// XAUUSD's aggressive trailing and higher confidence floor).
type SymbolOverrideStore struct {
	db *DB
}

// NewSymbolOverrideStore builds a SymbolOverrideStore.
func NewSymbolOverrideStore(db *DB) *SymbolOverrideStore {
	return &SymbolOverrideStore{db: db}
}

// Get fetches the override row for a symbol, or nil if the symbol has no
// override and should fall back to the asset-class table.
func (s *SymbolOverrideStore) Get(symbol string) (*types.SymbolOverride, error) {
	var o types.SymbolOverride
	err := s.db.Get(&o, `SELECT * FROM symbol_overrides WHERE symbol = ?`, symbol)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading symbol override %s: %w", symbol, err)
	}
	return &o, nil
}

// Upsert inserts or replaces a symbol override row.
func (s *SymbolOverrideStore) Upsert(o *types.SymbolOverride) error {
	_, err := s.db.NamedExec(`
		INSERT INTO symbol_overrides (symbol, tp_mult_override, sl_mult_override, min_confidence_override, trailing_aggressive)
		VALUES (:symbol, :tp_mult_override, :sl_mult_override, :min_confidence_override, :trailing_aggressive)
		ON CONFLICT(symbol) DO UPDATE SET
			tp_mult_override = excluded.tp_mult_override,
			sl_mult_override = excluded.sl_mult_override,
			min_confidence_override = excluded.min_confidence_override,
			trailing_aggressive = excluded.trailing_aggressive
	`, o)
	if err != nil {
		return fmt.Errorf("upserting symbol override %s: %w", o.Symbol, err)
	}
	return nil
}
