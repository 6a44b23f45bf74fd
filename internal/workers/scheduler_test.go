package workers_test

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlas-ea/bridge/internal/workers"
	"github.com/atlas-ea/bridge/pkg/types"
)

type countingEvaluator struct {
	mu    sync.Mutex
	calls []string
}

func (c *countingEvaluator) Evaluate(accountID, symbol string, tf types.Timeframe) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, accountID+"/"+symbol+"/"+string(tf))
	return nil
}

func (c *countingEvaluator) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func newRunningPool(t *testing.T) *workers.Pool {
	t.Helper()
	cfg := workers.DefaultPoolConfig("test")
	cfg.NumWorkers = 2
	cfg.QueueSize = 64
	pool := workers.NewPool(zap.NewNop(), cfg)
	pool.Start()
	t.Cleanup(func() { _ = pool.Stop() })
	return pool
}

func TestSignalSchedulerEvaluatesEachConfiguredTimeframe(t *testing.T) {
	pool := newRunningPool(t)
	evaluator := &countingEvaluator{}
	sched := workers.NewSignalScheduler(pool, evaluator, []types.Timeframe{types.TimeframeM1, types.TimeframeM5}, time.Hour, zap.NewNop())

	sched.OnTick("acct-1", "EURUSD")
	require.Eventually(t, func() bool { return evaluator.count() == 2 }, time.Second, 5*time.Millisecond)
}

func TestSignalSchedulerThrottlesRepeatedTicks(t *testing.T) {
	pool := newRunningPool(t)
	evaluator := &countingEvaluator{}
	sched := workers.NewSignalScheduler(pool, evaluator, []types.Timeframe{types.TimeframeM1}, time.Hour, zap.NewNop())

	sched.OnTick("acct-1", "EURUSD")
	require.Eventually(t, func() bool { return evaluator.count() == 1 }, time.Second, 5*time.Millisecond)

	sched.OnTick("acct-1", "EURUSD")
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, evaluator.count())
}

type fakeOpenTradeSource struct {
	trades []types.Trade
}

func (f fakeOpenTradeSource) OpenByAccount(accountID string) ([]types.Trade, error) {
	return f.trades, nil
}

type recordingPositionHandler struct {
	mu      sync.Mutex
	tickets []string
}

func (r *recordingPositionHandler) OnTick(trade *types.Trade, price, spread decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tickets = append(r.tickets, trade.TicketID)
	return nil
}

func (r *recordingPositionHandler) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tickets)
}

func TestPositionMonitorSchedulerFansOutPerOpenTradeOnSymbol(t *testing.T) {
	pool := newRunningPool(t)
	trades := fakeOpenTradeSource{trades: []types.Trade{
		{TicketID: "T1", Symbol: "EURUSD", Side: types.SignalBuy, Status: types.TradeOpen},
		{TicketID: "T2", Symbol: "GBPUSD", Side: types.SignalBuy, Status: types.TradeOpen},
	}}
	handler := &recordingPositionHandler{}
	sched := workers.NewPositionMonitorScheduler(pool, trades, handler, zap.NewNop())

	sched.OnTick("acct-1", "EURUSD", decimal.NewFromFloat(1.085), decimal.NewFromFloat(1.0852))
	require.Eventually(t, func() bool { return handler.count() == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, "T1", handler.tickets[0])
}
