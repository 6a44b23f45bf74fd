package commctl

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-ea/bridge/pkg/types"
	"github.com/atlas-ea/bridge/pkg/utils"
)

// TradeStore is the persistence dependency of the Reconciler.
type TradeStore interface {
	Upsert(t *types.Trade) error
	OpenByAccount(accountID string) ([]types.Trade, error)
	ByTicket(accountID, ticketID string) (*types.Trade, error)
}

// TradeHistoryStore records trade audit events.
type TradeHistoryStore interface {
	Append(e *types.TradeHistoryEvent) error
}

// CommandLookup finds a recently-sent command matching a newly observed
// trade, used to attribute source=auto_trade and link a signal.
type CommandLookup interface {
	FindMatchingCommand(accountID, symbol string, volume decimal.Decimal, side types.SignalType) *types.Command
}

// ReportedPosition is one entry of an EA's trades_sync payload.
type ReportedPosition struct {
	TicketID   string
	Symbol     string
	Side       types.SignalType
	Volume     decimal.Decimal
	OpenPrice  decimal.Decimal
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
}

// Reconciler implements trade reconciliation against an EA's reported
// position list: the EA is the source of truth for which tickets are open.
type Reconciler struct {
	trades  TradeStore
	history TradeHistoryStore
	lookup  CommandLookup
	logger  *zap.Logger
}

// NewReconciler builds a Reconciler. lookup may be nil, in which case every
// newly observed trade is attributed to source=MT5 (manual).
func NewReconciler(trades TradeStore, history TradeHistoryStore, lookup CommandLookup, logger *zap.Logger) *Reconciler {
	return &Reconciler{trades: trades, history: history, lookup: lookup, logger: logger.Named("commctl.reconcile")}
}

// Reconcile processes one trades_sync payload for an account: closes trades
// the EA no longer reports, creates or updates trades it does report, and
// appends a TradeHistoryEvent for every SL/TP change.
func (r *Reconciler) Reconcile(accountID string, reported []ReportedPosition) error {
	eaTickets := make(map[string]ReportedPosition, len(reported))
	for _, p := range reported {
		eaTickets[p.TicketID] = p
	}

	dbOpen, err := r.trades.OpenByAccount(accountID)
	if err != nil {
		return fmt.Errorf("loading open trades for %s: %w", accountID, err)
	}

	for _, t := range dbOpen {
		if _, stillOpen := eaTickets[t.TicketID]; stillOpen {
			continue
		}
		now := time.Now().UTC()
		t.Status = types.TradeClosed
		t.ClosedAt = &now
		t.CloseReason = types.CloseReasonReconciliation
		if err := r.trades.Upsert(&t); err != nil {
			return fmt.Errorf("closing reconciled trade %s: %w", t.ID, err)
		}
		r.appendHistory(t.ID, "RECONCILED_CLOSE", decimal.Zero, decimal.Zero, "ticket no longer reported by EA")
	}

	for _, p := range reported {
		existing, err := r.trades.ByTicket(accountID, p.TicketID)
		if err != nil {
			return fmt.Errorf("loading trade %s/%s: %w", accountID, p.TicketID, err)
		}

		if existing != nil {
			r.applySLTPChanges(existing, p)
			if err := r.trades.Upsert(existing); err != nil {
				return fmt.Errorf("updating reconciled trade %s: %w", existing.ID, err)
			}
			continue
		}

		newTrade := &types.Trade{
			ID:                utils.GenerateTradeID(),
			AccountID:         accountID,
			TicketID:          p.TicketID,
			Symbol:            p.Symbol,
			Side:              p.Side,
			Volume:            p.Volume,
			OpenPrice:         p.OpenPrice,
			StopLoss:          p.StopLoss,
			TakeProfit:        p.TakeProfit,
			InitialStopLoss:   p.StopLoss,
			InitialTakeProfit: p.TakeProfit,
			Status:            types.TradeOpen,
			OpenedAt:          time.Now().UTC(),
		}

		var matched *types.Command
		if r.lookup != nil {
			matched = r.lookup.FindMatchingCommand(accountID, p.Symbol, p.Volume, p.Side)
		}
		if matched != nil {
			newTrade.Source = types.TradeSourceAutoTrade
			newTrade.LinkedCommandID = matched.ID
			newTrade.EntryReason = matched.Reason
		} else {
			newTrade.Source = types.TradeSourceManual
			newTrade.EntryReason = "Manual (MT5)"
		}

		if err := r.trades.Upsert(newTrade); err != nil {
			return fmt.Errorf("creating reconciled trade %s/%s: %w", accountID, p.TicketID, err)
		}
	}

	return nil
}

func (r *Reconciler) applySLTPChanges(existing *types.Trade, p ReportedPosition) {
	if !existing.StopLoss.Equal(p.StopLoss) {
		r.appendHistory(existing.ID, "SL_MODIFIED", existing.StopLoss, p.StopLoss, "reconciliation")
	}
	if !existing.TakeProfit.Equal(p.TakeProfit) {
		r.appendHistory(existing.ID, "TP_MODIFIED", existing.TakeProfit, p.TakeProfit, "reconciliation")
	}
	existing.StopLoss = p.StopLoss
	existing.TakeProfit = p.TakeProfit
}

func (r *Reconciler) appendHistory(tradeID, eventType string, oldValue, newValue decimal.Decimal, detail string) {
	evt := &types.TradeHistoryEvent{
		ID:        utils.GenerateEventID(),
		TradeID:   tradeID,
		EventType: eventType,
		OldValue:  oldValue,
		NewValue:  newValue,
		Detail:    detail,
		Source:    "reconciliation",
		CreatedAt: time.Now().UTC(),
	}
	if err := r.history.Append(evt); err != nil {
		r.logger.Warn("failed to append trade history event", zap.String("trade_id", tradeID), zap.Error(err))
	}
}
