package positionmgr

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-ea/bridge/pkg/types"
	"github.com/atlas-ea/bridge/pkg/utils"
)

// trailingStage names the monotonic progression of the trailing-stop state machine.
type trailingStage int

const (
	stageNone trailingStage = iota
	stageBreakEven
	stagePartial
	stageAggressive
	stageNearTP
)

var trailingRateLimit = 10 * time.Second

// CommandEmitter queues a command for delivery to the EA, backed by
// internal/commctl's CommandQueue.
type CommandEmitter interface {
	Enqueue(c *types.Command) error
}

// HistoryAppender records every SL/TP modification, backed by
// internal/store's TradeHistoryStore.
type HistoryAppender interface {
	Append(e *types.TradeHistoryEvent) error
}

// TradeUpdater persists the new SL/TP and trailing bookkeeping, backed by
// internal/store's TradeStore.
type TradeUpdater interface {
	Upsert(t *types.Trade) error
}

// Trailer runs the tick-driven SL trailing loop for one open trade at a time.
type Trailer struct {
	commands CommandEmitter
	history  HistoryAppender
	trades   TradeUpdater
	logger   *zap.Logger

	lastMove map[string]time.Time
}

// NewTrailer builds a Trailer.
func NewTrailer(commands CommandEmitter, history HistoryAppender, trades TradeUpdater, logger *zap.Logger) *Trailer {
	return &Trailer{
		commands: commands,
		history:  history,
		trades:   trades,
		logger:   logger.Named("positionmgr.trailer"),
		lastMove: make(map[string]time.Time),
	}
}

// OnTick evaluates one trade against the latest price. spread feeds the
// break-even stage's entry-plus-cushion rule.
func (t *Trailer) OnTick(trade *types.Trade, price, spread decimal.Decimal) error {
	if trade.Status != types.TradeOpen {
		return nil
	}
	priceF, _ := price.Float64()
	entryF, _ := trade.OpenPrice.Float64()
	tpF, _ := trade.TakeProfit.Float64()
	slF, _ := trade.StopLoss.Float64()
	spreadF, _ := spread.Float64()

	if tpF == entryF {
		return nil
	}

	buy := trade.Side == types.SignalBuy
	profitPct, _ := price.Sub(trade.OpenPrice).Div(trade.TakeProfit.Sub(trade.OpenPrice)).Float64()
	if profitPct < 0.2 {
		return nil
	}

	stage, newSL := t.resolveStage(profitPct, buy, entryF, priceF, tpF, slF, spreadF)
	if stage == stageNone || int(stage) <= trade.TrailingStage {
		return nil
	}

	if last, ok := t.lastMove[trade.ID]; ok && time.Since(last) < trailingRateLimit {
		return nil
	}

	if buy && newSL <= slF {
		return nil
	}
	if !buy && newSL >= slF {
		return nil
	}

	return t.applyMove(trade, stage, newSL, price, spread)
}

func (t *Trailer) resolveStage(profitPct float64, buy bool, entry, price, tp, currentSL, spread float64) (trailingStage, float64) {
	remaining := math.Abs(tp - price)
	direction := 1.0
	if !buy {
		direction = -1.0
	}

	switch {
	case profitPct >= 0.8:
		return stageNearTP, price - direction*remaining*0.10
	case profitPct >= 0.6:
		return stageAggressive, price - direction*remaining*0.15
	case profitPct >= 0.4:
		return stagePartial, price - direction*remaining*0.30
	case profitPct >= 0.2:
		return stageBreakEven, entry + direction*spread*1.3
	default:
		return stageNone, currentSL
	}
}

func (t *Trailer) applyMove(trade *types.Trade, stage trailingStage, newSL float64, price, spread decimal.Decimal) error {
	slDecimal := decimal.NewFromFloat(newSL).Round(8)
	cmd := &types.Command{
		ID:         utils.GenerateCommandID(),
		AccountID:  trade.AccountID,
		Type:       types.CommandModifyTrade,
		Symbol:     trade.Symbol,
		TicketID:   trade.TicketID,
		StopLoss:   slDecimal,
		TakeProfit: trade.TakeProfit,
		Reason:     "trailing_stop",
		Priority:   types.PriorityNormal,
		Status:     types.CommandPending,
		CreatedAt:  time.Now().UTC(),
	}
	if err := t.commands.Enqueue(cmd); err != nil {
		return err
	}

	oldSL := trade.StopLoss
	trade.StopLoss = slDecimal
	trade.TrailingStage = int(stage)
	if err := t.trades.Upsert(trade); err != nil {
		return err
	}

	t.lastMove[trade.ID] = time.Now()

	return t.history.Append(&types.TradeHistoryEvent{
		ID:             utils.GenerateEventID(),
		TradeID:        trade.ID,
		EventType:      "SL_MODIFIED",
		OldValue:       oldSL,
		NewValue:       slDecimal,
		Detail:         "trailing stage advanced",
		Source:         "trailing_stop_manager",
		PriceAtChange:  price,
		SpreadAtChange: spread,
		CreatedAt:      time.Now().UTC(),
	})
}
