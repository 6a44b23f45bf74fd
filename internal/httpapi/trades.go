package httpapi

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-ea/bridge/internal/apperr"
	"github.com/atlas-ea/bridge/internal/commctl"
	"github.com/atlas-ea/bridge/internal/positionmgr"
	"github.com/atlas-ea/bridge/pkg/types"
	"github.com/atlas-ea/bridge/pkg/utils"
)

type reportedPositionPayload struct {
	Ticket     string          `json:"ticket"`
	Symbol     string          `json:"symbol"`
	Side       types.SignalType `json:"side"`
	Volume     decimal.Decimal `json:"volume"`
	OpenPrice  decimal.Decimal `json:"open_price"`
	StopLoss   decimal.Decimal `json:"sl"`
	TakeProfit decimal.Decimal `json:"tp"`
}

type tradesSyncRequest struct {
	AccountID string                    `json:"account_id"`
	Positions []reportedPositionPayload `json:"positions"`
}

func (s *Server) handleTradesSync(w http.ResponseWriter, r *http.Request) {
	var req tradesSyncRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.AccountID == "" {
		s.writeError(w, apperr.New(apperr.Validation, "account_id is required"))
		return
	}

	reported := make([]commctl.ReportedPosition, 0, len(req.Positions))
	for _, p := range req.Positions {
		if p.Ticket == "" || p.Symbol == "" {
			continue
		}
		reported = append(reported, commctl.ReportedPosition{
			TicketID:   p.Ticket,
			Symbol:     p.Symbol,
			Side:       p.Side,
			Volume:     p.Volume,
			OpenPrice:  p.OpenPrice,
			StopLoss:   p.StopLoss,
			TakeProfit: p.TakeProfit,
		})
	}

	if err := s.deps.Reconciler.Reconcile(req.AccountID, reported); err != nil {
		s.writeError(w, apperr.Wrap(apperr.Transient, "reconciliation failed", err))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "synced": len(reported)})
}

type tradeUpdateRequest struct {
	AccountID   string          `json:"account_id"`
	Ticket      string          `json:"ticket"`
	Status      string          `json:"status"` // "open" | "closed"
	StopLoss    decimal.Decimal `json:"sl,omitempty"`
	TakeProfit  decimal.Decimal `json:"tp,omitempty"`
	ClosePrice  decimal.Decimal `json:"close_price,omitempty"`
	CloseReason string          `json:"close_reason,omitempty"`
	Profit      decimal.Decimal `json:"profit,omitempty"`
	CloseTime   int64           `json:"close_time,omitempty"` // unix seconds
}

func (s *Server) handleTradeUpdate(w http.ResponseWriter, r *http.Request) {
	var req tradeUpdateRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.AccountID == "" || req.Ticket == "" {
		s.writeError(w, apperr.New(apperr.Validation, "account_id and ticket are required"))
		return
	}

	trade, err := s.deps.Trades.ByTicket(req.AccountID, req.Ticket)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if trade == nil {
		s.writeError(w, apperr.New(apperr.NotFound, "unknown ticket"))
		return
	}

	switch req.Status {
	case "closed":
		// Late duplicate close report: the first one already settled the row.
		if trade.Status == types.TradeClosed {
			s.writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
			return
		}
		if err := s.closeTrade(trade, req); err != nil {
			s.writeError(w, err)
			return
		}
	default:
		s.applyStopUpdates(trade, req.StopLoss, req.TakeProfit)
		if err := s.deps.Trades.Upsert(trade); err != nil {
			s.writeError(w, err)
			return
		}
	}

	if s.deps.Hub != nil {
		s.deps.Hub.BroadcastTradeUpdate(trade)
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// applyStopUpdates mirrors EA-side SL/TP changes into the trade row,
// appending an audit event per changed value.
func (s *Server) applyStopUpdates(trade *types.Trade, sl, tp decimal.Decimal) {
	if !sl.IsZero() && !trade.StopLoss.Equal(sl) {
		s.appendHistory(trade.ID, "SL_MODIFIED", trade.StopLoss, sl, "ea trade update")
		trade.StopLoss = sl
	}
	if !tp.IsZero() && !trade.TakeProfit.Equal(tp) {
		s.appendHistory(trade.ID, "TP_MODIFIED", trade.TakeProfit, tp, "ea trade update")
		trade.TakeProfit = tp
	}
}

// closeTrade settles a trade the EA reports as closed: resolves the close
// reason (adopting a protective worker's reason over a generic MANUAL),
// computes exit metrics, updates symbol performance and notifies the SL-hit
// cooldown tracker.
func (s *Server) closeTrade(trade *types.Trade, req tradeUpdateRequest) error {
	closeTime := time.Now().UTC()
	if req.CloseTime > 0 {
		closeTime = time.Unix(req.CloseTime, 0).UTC()
	}

	reason := normalizeCloseReason(req.CloseReason)
	if reason == types.CloseReasonManual {
		if cmd := s.deps.Commands.FindRecentCloseCommand(trade.AccountID, trade.TicketID); cmd != nil {
			reason = positionmgr.AdoptWorkerCloseReason(reason, types.CloseReason(cmd.Reason))
		}
	}

	trade.Status = types.TradeClosed
	trade.ClosePrice = req.ClosePrice
	trade.CloseReason = reason
	trade.PnL = req.Profit
	trade.ClosedAt = &closeTime

	pipSize := decimal.Zero
	if bs, err := s.deps.BrokerSymbols.Get(trade.AccountID, trade.Symbol); err == nil && bs != nil {
		pipSize = bs.PipSize
	}
	exitBid, exitAsk := decimal.Zero, decimal.Zero
	if s.deps.TickStore != nil {
		if tick, err := s.deps.TickStore.Latest(trade.AccountID, trade.Symbol); err == nil && tick != nil {
			exitBid, exitAsk = tick.Bid, tick.Ask
		}
	}

	m := positionmgr.ComputeExitMetrics(trade, closeTime, pipSize, exitBid, exitAsk)
	s.logger.Info("trade closed",
		zap.String("ticket_id", trade.TicketID),
		zap.String("symbol", trade.Symbol),
		zap.String("close_reason", string(reason)),
		zap.String("pips_captured", m.PipsCaptured.String()),
		zap.String("risk_reward_realized", m.RiskRewardRealized.String()),
		zap.Float64("hold_minutes", m.HoldDurationMinutes),
		zap.String("session", m.Session))

	if err := s.deps.Trades.Upsert(trade); err != nil {
		return err
	}

	if s.deps.SymbolPerf != nil {
		if err := s.deps.SymbolPerf.RecordClose(trade.AccountID, trade.Symbol, trade.PnL); err != nil {
			s.logger.Warn("recording symbol performance failed", zap.String("symbol", trade.Symbol), zap.Error(err))
		}
	}
	if reason == types.CloseReasonSL && s.deps.SLHits != nil {
		s.deps.SLHits.OnSLHit(trade.AccountID, trade.Symbol, closeTime)
	}
	return nil
}

// normalizeCloseReason maps the EA terminal's close-reason vocabulary onto
// the bridge's enum; an unrecognized or empty reason is treated as MANUAL so
// the worker-reason adoption rule still gets a chance to refine it.
func normalizeCloseReason(raw string) types.CloseReason {
	switch raw {
	case "SL", "SL_HIT", "STOP_LOSS":
		return types.CloseReasonSL
	case "TP", "TP_HIT", "TAKE_PROFIT":
		return types.CloseReasonTP
	case string(types.CloseReasonTrailing):
		return types.CloseReasonTrailing
	case string(types.CloseReasonEmergency):
		return types.CloseReasonEmergency
	case string(types.CloseReasonTimeout), "TIME_EXIT":
		return types.CloseReasonTimeout
	case string(types.CloseReasonStrategyInvalid), "STRATEGY_INVALID":
		return types.CloseReasonStrategyInvalid
	default:
		return types.CloseReasonManual
	}
}

func (s *Server) appendHistory(tradeID, eventType string, oldValue, newValue decimal.Decimal, detail string) {
	if s.deps.History == nil {
		return
	}
	evt := &types.TradeHistoryEvent{
		ID:        utils.GenerateEventID(),
		TradeID:   tradeID,
		EventType: eventType,
		OldValue:  oldValue,
		NewValue:  newValue,
		Detail:    detail,
		Source:    "ea",
		CreatedAt: time.Now().UTC(),
	}
	if err := s.deps.History.Append(evt); err != nil {
		s.logger.Warn("appending trade history event failed", zap.String("trade_id", tradeID), zap.Error(err))
	}
}

type symbolSpecRequest struct {
	AccountID    string          `json:"account_id"`
	Symbol       string          `json:"symbol"`
	AssetClass   string          `json:"asset_class,omitempty"`
	Digits       int             `json:"digits"`
	PipSize      decimal.Decimal `json:"pip_size"`
	StopsLevel   decimal.Decimal `json:"stops_level"`
	VolumeMin    decimal.Decimal `json:"volume_min"`
	VolumeMax    decimal.Decimal `json:"volume_max"`
	VolumeStep   decimal.Decimal `json:"volume_step"`
	ContractSize decimal.Decimal `json:"contract_size"`
}

// handleSymbolSpec upserts broker-reported contract specs for a symbol. The
// EA pushes these once per symbol on startup and whenever the broker updates
// them.
func (s *Server) handleSymbolSpec(w http.ResponseWriter, r *http.Request) {
	var req symbolSpecRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.AccountID == "" || req.Symbol == "" {
		s.writeError(w, apperr.New(apperr.Validation, "account_id and symbol are required"))
		return
	}

	bs := &types.BrokerSymbol{
		AccountID:    req.AccountID,
		Symbol:       req.Symbol,
		AssetClass:   types.AssetClass(req.AssetClass),
		Digits:       req.Digits,
		PipSize:      req.PipSize,
		StopsLevel:   req.StopsLevel,
		VolumeMin:    req.VolumeMin,
		VolumeMax:    req.VolumeMax,
		VolumeStep:   req.VolumeStep,
		ContractSize: req.ContractSize,
	}
	if err := s.deps.BrokerSymbols.Upsert(bs); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
