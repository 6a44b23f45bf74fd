package positionmgr

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlas-ea/bridge/pkg/types"
)

type captureEmitter struct {
	mu       sync.Mutex
	commands []types.Command
}

func (c *captureEmitter) Enqueue(cmd *types.Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commands = append(c.commands, *cmd)
	return nil
}

type captureHistory struct {
	mu     sync.Mutex
	events []types.TradeHistoryEvent
}

func (c *captureHistory) Append(e *types.TradeHistoryEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, *e)
	return nil
}

type captureTrades struct {
	mu      sync.Mutex
	upserts []types.Trade
}

func (c *captureTrades) Upsert(t *types.Trade) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.upserts = append(c.upserts, *t)
	return nil
}

func openBuyTrade() *types.Trade {
	return &types.Trade{
		ID:         "trade-1",
		AccountID:  "acct-1",
		TicketID:   "1001",
		Symbol:     "EURUSD",
		Side:       types.SignalBuy,
		Volume:     decimal.NewFromFloat(0.12),
		OpenPrice:  decimal.NewFromFloat(1.08500),
		StopLoss:   decimal.NewFromFloat(1.08404),
		TakeProfit: decimal.NewFromFloat(1.08660),
		Status:     types.TradeOpen,
		OpenedAt:   time.Now().UTC().Add(-time.Hour),
	}
}

func newTestTrailer(emitter *captureEmitter, history *captureHistory, trades *captureTrades) *Trailer {
	tr := NewTrailer(emitter, history, trades, zap.NewNop())
	return tr
}

func withoutRateLimit(t *testing.T) {
	t.Helper()
	old := trailingRateLimit
	trailingRateLimit = 0
	t.Cleanup(func() { trailingRateLimit = old })
}

func TestTrailerProgressesThroughStages(t *testing.T) {
	withoutRateLimit(t)

	emitter := &captureEmitter{}
	history := &captureHistory{}
	trades := &captureTrades{}
	tr := newTestTrailer(emitter, history, trades)

	trade := openBuyTrade()
	spread := decimal.NewFromFloat(0.00002)

	// 20% of the 0.00160 distance: break-even stage moves SL to
	// entry + spread*1.3.
	price := decimal.NewFromFloat(1.08532)
	require.NoError(t, tr.OnTick(trade, price, spread))
	require.Equal(t, int(stageBreakEven), trade.TrailingStage)
	expectBE := decimal.NewFromFloat(1.08500 + 0.00002*1.3).Round(8)
	require.True(t, trade.StopLoss.Equal(expectBE), "sl = %s", trade.StopLoss)

	// 40%: partial trailing, SL = price - 30% of remaining distance.
	price = decimal.NewFromFloat(1.08564)
	prevSL := trade.StopLoss
	require.NoError(t, tr.OnTick(trade, price, spread))
	require.Equal(t, int(stagePartial), trade.TrailingStage)
	require.True(t, trade.StopLoss.GreaterThan(prevSL), "sl must only tighten")

	// 60%: aggressive trailing.
	price = decimal.NewFromFloat(1.08596)
	prevSL = trade.StopLoss
	require.NoError(t, tr.OnTick(trade, price, spread))
	require.Equal(t, int(stageAggressive), trade.TrailingStage)
	require.True(t, trade.StopLoss.GreaterThan(prevSL))

	// 80%: near-TP lock.
	price = decimal.NewFromFloat(1.08628)
	prevSL = trade.StopLoss
	require.NoError(t, tr.OnTick(trade, price, spread))
	require.Equal(t, int(stageNearTP), trade.TrailingStage)
	require.True(t, trade.StopLoss.GreaterThan(prevSL))

	// One command and one history event per stage move.
	require.Len(t, emitter.commands, 4)
	require.Len(t, history.events, 4)
	for _, cmd := range emitter.commands {
		require.Equal(t, types.CommandModifyTrade, cmd.Type)
		require.Equal(t, "1001", cmd.TicketID)
	}
	for _, e := range history.events {
		require.Equal(t, "SL_MODIFIED", e.EventType)
		require.Equal(t, "trailing_stop_manager", e.Source)
		require.False(t, e.PriceAtChange.IsZero())
		require.True(t, e.SpreadAtChange.Equal(spread))
	}
}

func TestTrailerNeverMovesSLBackward(t *testing.T) {
	withoutRateLimit(t)

	emitter := &captureEmitter{}
	tr := newTestTrailer(emitter, &captureHistory{}, &captureTrades{})

	trade := openBuyTrade()
	spread := decimal.NewFromFloat(0.00002)

	// Jump straight to 60%: aggressive stage.
	require.NoError(t, tr.OnTick(trade, decimal.NewFromFloat(1.08596), spread))
	require.Equal(t, int(stageAggressive), trade.TrailingStage)
	slAfter := trade.StopLoss

	// Price retreats to the 20% zone: the break-even stage is below the
	// recorded stage, so nothing moves.
	require.NoError(t, tr.OnTick(trade, decimal.NewFromFloat(1.08532), spread))
	require.True(t, trade.StopLoss.Equal(slAfter))
	require.Equal(t, int(stageAggressive), trade.TrailingStage)
	require.Len(t, emitter.commands, 1)
}

func TestTrailerRateLimitsMoves(t *testing.T) {
	emitter := &captureEmitter{}
	tr := newTestTrailer(emitter, &captureHistory{}, &captureTrades{})

	trade := openBuyTrade()
	spread := decimal.NewFromFloat(0.00002)

	require.NoError(t, tr.OnTick(trade, decimal.NewFromFloat(1.08532), spread))
	require.Len(t, emitter.commands, 1)

	// Next stage fires immediately after: suppressed by the rate limit.
	require.NoError(t, tr.OnTick(trade, decimal.NewFromFloat(1.08564), spread))
	require.Len(t, emitter.commands, 1)
}

func TestTrailerMirrorsForSell(t *testing.T) {
	withoutRateLimit(t)

	emitter := &captureEmitter{}
	tr := newTestTrailer(emitter, &captureHistory{}, &captureTrades{})

	trade := openBuyTrade()
	trade.Side = types.SignalSell
	trade.TakeProfit = decimal.NewFromFloat(1.08340)
	trade.StopLoss = decimal.NewFromFloat(1.08596)

	// 60% toward a SELL TP: SL moves down, stays above price.
	price := decimal.NewFromFloat(1.08404)
	require.NoError(t, tr.OnTick(trade, price, decimal.NewFromFloat(0.00002)))
	require.Equal(t, int(stageAggressive), trade.TrailingStage)
	require.True(t, trade.StopLoss.LessThan(decimal.NewFromFloat(1.08596)))
	require.True(t, trade.StopLoss.GreaterThan(price))
}

func TestTrailerIgnoresClosedTrades(t *testing.T) {
	withoutRateLimit(t)

	emitter := &captureEmitter{}
	tr := newTestTrailer(emitter, &captureHistory{}, &captureTrades{})

	trade := openBuyTrade()
	trade.Status = types.TradeClosed
	require.NoError(t, tr.OnTick(trade, decimal.NewFromFloat(1.08628), decimal.NewFromFloat(0.00002)))
	require.Empty(t, emitter.commands)
}
