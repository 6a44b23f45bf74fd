package store_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlas-ea/bridge/internal/store"
	"github.com/atlas-ea/bridge/pkg/types"
)

func newTestDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bridge.db")
	db, err := store.New(path, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestGlobalSettingsSeededOnFirstBoot(t *testing.T) {
	db := newTestDB(t)
	settings, err := store.NewSettingsStore(db)
	require.NoError(t, err)

	got := settings.Get()
	require.False(t, got.AutoTradeEnabled)
	require.True(t, got.MinConfidencePct.Equal(decimal.NewFromInt(65)))
}

func TestSignalUpsertEnforcesSingleActivePerKey(t *testing.T) {
	db := newTestDB(t)
	signals := store.NewSignalStore(db)

	base := &types.Signal{
		ID:         "sig-1",
		AccountID:  "acct-1",
		Symbol:     "EURUSD",
		Timeframe:  types.TimeframeM15,
		Type:       types.SignalBuy,
		Confidence: decimal.NewFromInt(70),
		EntryPrice: decimal.NewFromFloat(1.0850),
		Status:     types.SignalStatusActive,
		CreatedAt:  time.Now().UTC(),
		ExpiresAt:  time.Now().UTC().Add(time.Hour),
	}
	applied, err := signals.Upsert(base)
	require.NoError(t, err)
	require.True(t, applied)

	weaker := *base
	weaker.ID = "sig-2"
	weaker.Confidence = decimal.NewFromInt(55)
	applied, err = signals.Upsert(&weaker)
	require.NoError(t, err)
	require.False(t, applied, "a lower-confidence signal must not replace the active one")

	active, err := signals.ActiveFor("acct-1", "EURUSD", types.TimeframeM15)
	require.NoError(t, err)
	require.NotNil(t, active)
	require.Equal(t, "sig-1", active.ID)

	stronger := *base
	stronger.ID = "sig-3"
	stronger.Confidence = decimal.NewFromInt(85)
	applied, err = signals.Upsert(&stronger)
	require.NoError(t, err)
	require.True(t, applied, "a higher-confidence signal must replace the active one")

	active, err = signals.ActiveFor("acct-1", "EURUSD", types.TimeframeM15)
	require.NoError(t, err)
	require.Equal(t, "sig-3", active.ID)
}

func TestSignalUpsertReplacesOnDirectionFlip(t *testing.T) {
	db := newTestDB(t)
	signals := store.NewSignalStore(db)

	base := &types.Signal{
		ID:         "sig-buy",
		AccountID:  "acct-1",
		Symbol:     "EURUSD",
		Timeframe:  types.TimeframeM15,
		Type:       types.SignalBuy,
		Confidence: decimal.NewFromInt(70),
		Status:     types.SignalStatusActive,
		CreatedAt:  time.Now().UTC(),
		ExpiresAt:  time.Now().UTC().Add(time.Hour),
	}
	applied, err := signals.Upsert(base)
	require.NoError(t, err)
	require.True(t, applied)

	// A direction flip replaces the active signal even at lower confidence.
	flipped := *base
	flipped.ID = "sig-sell"
	flipped.Type = types.SignalSell
	flipped.Confidence = decimal.NewFromInt(55)
	applied, err = signals.Upsert(&flipped)
	require.NoError(t, err)
	require.True(t, applied, "a direction flip must replace the active signal")

	active, err := signals.ActiveFor("acct-1", "EURUSD", types.TimeframeM15)
	require.NoError(t, err)
	require.Equal(t, "sig-sell", active.ID)
	require.Equal(t, types.SignalSell, active.Type)
}

func TestSignalUpsertBumpsUpdatedAtWhenKeepingOlder(t *testing.T) {
	db := newTestDB(t)
	signals := store.NewSignalStore(db)

	base := &types.Signal{
		ID:         "sig-1",
		AccountID:  "acct-1",
		Symbol:     "EURUSD",
		Timeframe:  types.TimeframeM15,
		Type:       types.SignalBuy,
		Confidence: decimal.NewFromInt(70),
		Status:     types.SignalStatusActive,
		CreatedAt:  time.Now().UTC().Add(-time.Minute),
		UpdatedAt:  time.Now().UTC().Add(-time.Minute),
		ExpiresAt:  time.Now().UTC().Add(time.Hour),
	}
	_, err := signals.Upsert(base)
	require.NoError(t, err)

	weaker := *base
	weaker.ID = "sig-2"
	weaker.Confidence = decimal.NewFromInt(55)
	weaker.UpdatedAt = time.Now().UTC()
	applied, err := signals.Upsert(&weaker)
	require.NoError(t, err)
	require.False(t, applied)

	active, err := signals.ActiveFor("acct-1", "EURUSD", types.TimeframeM15)
	require.NoError(t, err)
	require.Equal(t, "sig-1", active.ID, "the older signal is kept")
	require.True(t, active.UpdatedAt.After(base.UpdatedAt), "updated_at is bumped on the keep path")
}

func TestSignalUpsertAllowsDistinctKeys(t *testing.T) {
	db := newTestDB(t)
	signals := store.NewSignalStore(db)

	mk := func(id, symbol string, tf types.Timeframe) *types.Signal {
		return &types.Signal{
			ID: id, AccountID: "acct-1", Symbol: symbol, Timeframe: tf,
			Type: types.SignalBuy, Confidence: decimal.NewFromInt(70),
			Status: types.SignalStatusActive, CreatedAt: time.Now().UTC(),
			ExpiresAt: time.Now().UTC().Add(time.Hour),
		}
	}

	_, err := signals.Upsert(mk("s1", "EURUSD", types.TimeframeM15))
	require.NoError(t, err)
	_, err = signals.Upsert(mk("s2", "EURUSD", types.TimeframeH1))
	require.NoError(t, err)
	_, err = signals.Upsert(mk("s3", "GBPUSD", types.TimeframeM15))
	require.NoError(t, err)

	a, err := signals.ActiveFor("acct-1", "EURUSD", types.TimeframeM15)
	require.NoError(t, err)
	require.Equal(t, "s1", a.ID)
	b, err := signals.ActiveFor("acct-1", "EURUSD", types.TimeframeH1)
	require.NoError(t, err)
	require.Equal(t, "s2", b.ID)
}

func TestOHLCUpsertBatchIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	ohlc := store.NewOHLCStore(db)

	open := time.Now().UTC().Truncate(time.Hour)
	bars := []types.OHLCBar{{
		Symbol: "EURUSD", Timeframe: types.TimeframeH1, OpenTime: open,
		Open: decimal.NewFromFloat(1.09), High: decimal.NewFromFloat(1.095),
		Low: decimal.NewFromFloat(1.085), Close: decimal.NewFromFloat(1.091),
		Volume: decimal.NewFromInt(1200),
	}}

	require.NoError(t, ohlc.UpsertBatch(bars))
	require.NoError(t, ohlc.UpsertBatch(bars))

	got, err := ohlc.Range("EURUSD", types.TimeframeH1, open.Add(-time.Minute), open.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 1, "re-ingesting the same bar must not duplicate rows")
}

func TestCommandRequeueFailsAfterMaxRetries(t *testing.T) {
	db := newTestDB(t)
	commands := store.NewCommandStore(db)

	cmd := &types.Command{
		ID: "cmd-1", AccountID: "acct-1", Type: types.CommandCloseTrade,
		Symbol: "EURUSD", Status: types.CommandExecuting, RetryCount: 2, MaxRetries: 3,
	}
	require.NoError(t, commands.Insert(cmd))

	failed, err := commands.Requeue("cmd-1")
	require.NoError(t, err)
	require.True(t, failed, "third retry attempt should exhaust max_retries")

	got, err := commands.Get("cmd-1")
	require.NoError(t, err)
	require.Equal(t, types.CommandFailed, got.Status)
}

func TestAccountCircuitBreakerResetClearsFailedCount(t *testing.T) {
	db := newTestDB(t)
	accounts := store.NewAccountStore(db)

	acct := &types.Account{ID: "acct-1", Login: "100200", Broker: "demo", Currency: "USD"}
	require.NoError(t, accounts.Upsert(acct))

	_, err := accounts.IncrementFailedCommands("acct-1")
	require.NoError(t, err)
	_, err = accounts.IncrementFailedCommands("acct-1")
	require.NoError(t, err)

	require.NoError(t, accounts.SetCircuitBreaker("acct-1", true))
	got, err := accounts.Get("acct-1")
	require.NoError(t, err)
	require.True(t, got.CircuitBreakerTripped)
	require.Equal(t, 2, got.FailedCommandCount)

	require.NoError(t, accounts.SetCircuitBreaker("acct-1", false))
	got, err = accounts.Get("acct-1")
	require.NoError(t, err)
	require.False(t, got.CircuitBreakerTripped)
	require.Equal(t, 0, got.FailedCommandCount)
}
