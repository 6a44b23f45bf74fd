package riskworkers_test

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlas-ea/bridge/internal/riskworkers"
	"github.com/atlas-ea/bridge/pkg/types"
)

type fakeAccountStore struct {
	mu       sync.Mutex
	accounts map[string]*types.Account
}

func newFakeAccountStore(accounts ...*types.Account) *fakeAccountStore {
	f := &fakeAccountStore{accounts: make(map[string]*types.Account)}
	for _, a := range accounts {
		f.accounts[a.ID] = a
	}
	return f
}

func (f *fakeAccountStore) Get(accountID string) (*types.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accounts[accountID], nil
}

func (f *fakeAccountStore) List() ([]types.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.Account
	for _, a := range f.accounts {
		out = append(out, *a)
	}
	return out, nil
}

func (f *fakeAccountStore) SetCircuitBreaker(accountID string, tripped bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[accountID].CircuitBreakerTripped = tripped
	return nil
}

func (f *fakeAccountStore) IncrementFailedCommands(accountID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[accountID].FailedCommandCount++
	return f.accounts[accountID].FailedCommandCount, nil
}

func (f *fakeAccountStore) SetProfitToday(accountID string, profit decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[accountID].ProfitToday = profit
	return nil
}

type fakeTradeStore struct {
	mu     sync.Mutex
	open   map[string][]types.Trade
	closed map[string][]types.Trade
}

func newFakeTradeStore() *fakeTradeStore {
	return &fakeTradeStore{open: make(map[string][]types.Trade), closed: make(map[string][]types.Trade)}
}

func (f *fakeTradeStore) OpenByAccount(accountID string) ([]types.Trade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.Trade(nil), f.open[accountID]...), nil
}

func (f *fakeTradeStore) RecentClosed(accountID string, since time.Time) ([]types.Trade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.Trade
	for _, t := range f.closed[accountID] {
		if t.ClosedAt != nil && t.ClosedAt.After(since) {
			out = append(out, t)
		}
	}
	return out, nil
}

type fakeSettingsSource struct {
	settings types.GlobalSettings
}

func (f fakeSettingsSource) Get() types.GlobalSettings { return f.settings }

type fakeCommandEmitter struct {
	mu       sync.Mutex
	commands []*types.Command
}

func (f *fakeCommandEmitter) Enqueue(c *types.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, c)
	return nil
}

type fakeDecisionLog struct {
	mu        sync.Mutex
	decisions []*types.AIDecision
}

func (f *fakeDecisionLog) Log(d *types.AIDecision) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decisions = append(f.decisions, d)
	return nil
}

func TestTimeoutWorkerClosesAgedTradeWhenActionIsClose(t *testing.T) {
	account := &types.Account{ID: "acct-1", Balance: decimal.NewFromInt(10000)}
	accounts := newFakeAccountStore(account)
	trades := newFakeTradeStore()
	trades.open["acct-1"] = []types.Trade{{
		TicketID: "T1", Symbol: "EURUSD", Side: types.SignalBuy,
		OpenedAt: time.Now().UTC().Add(-30 * time.Hour),
	}}
	settings := fakeSettingsSource{settings: types.GlobalSettings{
		TradeTimeoutHours: decimal.NewFromInt(24), TradeTimeoutAction: "close",
	}}
	emitter := &fakeCommandEmitter{}
	decisions := &fakeDecisionLog{}

	w := riskworkers.NewTimeoutWorker(accounts, trades, settings, emitter, decisions, zap.NewNop())
	require.NoError(t, w.Sweep())

	require.Len(t, emitter.commands, 1)
	require.Equal(t, types.CommandCloseTrade, emitter.commands[0].Type)
	require.Equal(t, string(types.CloseReasonTimeout), emitter.commands[0].Reason)
}

func TestTimeoutWorkerIgnoresTradesUnderLimit(t *testing.T) {
	account := &types.Account{ID: "acct-1", Balance: decimal.NewFromInt(10000)}
	accounts := newFakeAccountStore(account)
	trades := newFakeTradeStore()
	trades.open["acct-1"] = []types.Trade{{
		TicketID: "T1", Symbol: "EURUSD", Side: types.SignalBuy,
		OpenedAt: time.Now().UTC().Add(-2 * time.Hour),
	}}
	settings := fakeSettingsSource{settings: types.GlobalSettings{
		TradeTimeoutHours: decimal.NewFromInt(24), TradeTimeoutAction: "close",
	}}
	emitter := &fakeCommandEmitter{}

	w := riskworkers.NewTimeoutWorker(accounts, trades, settings, emitter, &fakeDecisionLog{}, zap.NewNop())
	require.NoError(t, w.Sweep())
	require.Empty(t, emitter.commands)
}

func TestTimeoutWorkerIgnoreActionNeverEnqueues(t *testing.T) {
	account := &types.Account{ID: "acct-1", Balance: decimal.NewFromInt(10000)}
	accounts := newFakeAccountStore(account)
	trades := newFakeTradeStore()
	trades.open["acct-1"] = []types.Trade{{
		TicketID: "T1", Symbol: "EURUSD", Side: types.SignalBuy,
		OpenedAt: time.Now().UTC().Add(-100 * time.Hour),
	}}
	settings := fakeSettingsSource{settings: types.GlobalSettings{
		TradeTimeoutHours: decimal.NewFromInt(24), TradeTimeoutAction: "ignore",
	}}
	emitter := &fakeCommandEmitter{}

	w := riskworkers.NewTimeoutWorker(accounts, trades, settings, emitter, &fakeDecisionLog{}, zap.NewNop())
	require.NoError(t, w.Sweep())
	require.Empty(t, emitter.commands)
}
