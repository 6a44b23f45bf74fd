package positionmgr

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-ea/bridge/pkg/types"
	"github.com/atlas-ea/bridge/pkg/utils"
)

const maxTPExtensions = 5

// Extender runs dynamic TP extension on each tick for an
// open trade. Monitor calls it only while the global dynamic_tp_enabled
// setting is on.
type Extender struct {
	commands CommandEmitter
	history  HistoryAppender
	trades   TradeUpdater
	logger   *zap.Logger
}

// NewExtender builds an Extender.
func NewExtender(commands CommandEmitter, history HistoryAppender, trades TradeUpdater, logger *zap.Logger) *Extender {
	return &Extender{commands: commands, history: history, trades: trades, logger: logger.Named("positionmgr.extender")}
}

// OnTick extends TP once price has covered 80% of the distance from entry to
// the current TP,
// up to maxTPExtensions times, skipping an extension that would land on the
// wrong side of the current price.
func (x *Extender) OnTick(trade *types.Trade, price decimal.Decimal) error {
	if trade.Status != types.TradeOpen {
		return nil
	}
	if trade.TPExtensions >= maxTPExtensions {
		return nil
	}

	priceF, _ := price.Float64()
	entryF, _ := trade.OpenPrice.Float64()
	tpF, _ := trade.TakeProfit.Float64()
	if tpF == entryF {
		return nil
	}

	buy := trade.Side == types.SignalBuy
	profitPct := (priceF - entryF) / (tpF - entryF)
	if !buy {
		profitPct = (entryF - priceF) / (entryF - tpF)
	}
	if profitPct < 0.8 {
		return nil
	}

	// The increment is a fixed half of the trade's ORIGINAL TP distance, so
	// successive extensions step by the same amount instead of compounding
	// off the already-extended target.
	originalTPF, _ := trade.InitialTakeProfit.Float64()
	if originalTPF == entryF || trade.InitialTakeProfit.IsZero() {
		originalTPF = tpF
	}

	direction := 1.0
	if !buy {
		direction = -1.0
	}
	extension := 0.5 * math.Abs(originalTPF-entryF) * direction
	newTP := tpF + extension

	if buy && newTP <= priceF {
		return nil
	}
	if !buy && newTP >= priceF {
		return nil
	}

	return x.applyExtension(trade, decimal.NewFromFloat(newTP).Round(8), price)
}

func (x *Extender) applyExtension(trade *types.Trade, newTP, price decimal.Decimal) error {
	cmd := &types.Command{
		ID:             utils.GenerateCommandID(),
		AccountID:      trade.AccountID,
		Type:           types.CommandModifyTrade,
		Symbol:         trade.Symbol,
		TicketID:       trade.TicketID,
		StopLoss:       trade.StopLoss,
		TakeProfit:     newTP,
		Reason:         "dynamic_extension",
		Priority:       types.PriorityNormal,
		Status:         types.CommandPending,
		CreatedAt:      time.Now().UTC(),
	}
	if err := x.commands.Enqueue(cmd); err != nil {
		return err
	}

	oldTP := trade.TakeProfit
	trade.TakeProfit = newTP
	trade.TPExtensions++
	if err := x.trades.Upsert(trade); err != nil {
		return err
	}

	return x.history.Append(&types.TradeHistoryEvent{
		ID:            utils.GenerateEventID(),
		TradeID:       trade.ID,
		EventType:     "TP_MODIFIED",
		OldValue:      oldTP,
		NewValue:      newTP,
		Detail:        "dynamic_extension",
		Source:        "dynamic_tp",
		PriceAtChange: price,
		CreatedAt:     time.Now().UTC(),
	})
}
