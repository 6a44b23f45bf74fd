package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-ea/bridge/internal/apperr"
	"github.com/atlas-ea/bridge/internal/metrics"
	"github.com/atlas-ea/bridge/pkg/types"
	"github.com/atlas-ea/bridge/pkg/utils"
)

type connectRequest struct {
	AccountNumber string          `json:"account_number"`
	Broker        string          `json:"broker"`
	Currency      string          `json:"currency"`
	Balance       decimal.Decimal `json:"balance"`
	Equity        decimal.Decimal `json:"equity"`
}

type connectResponse struct {
	AccountID                string `json:"account_id"`
	HeartbeatIntervalSeconds int    `json:"heartbeat_interval_seconds"`
}

// accountIDFor derives the stable account ID for a broker login. The same
// (login, broker) pair always resumes the same account row.
func accountIDFor(login, broker string) string {
	norm := func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "_")
	}
	return fmt.Sprintf("acct_%s_%s", norm(login), norm(broker))
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.AccountNumber == "" || req.Broker == "" {
		s.writeError(w, apperr.New(apperr.Validation, "account_number and broker are required"))
		return
	}

	id := accountIDFor(req.AccountNumber, req.Broker)
	existing, err := s.deps.Accounts.Get(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if existing == nil {
		account := &types.Account{
			ID:       id,
			Login:    req.AccountNumber,
			Broker:   req.Broker,
			Currency: req.Currency,
			Balance:  req.Balance,
			Equity:   req.Equity,
		}
		if err := s.deps.Accounts.Upsert(account); err != nil {
			s.writeError(w, err)
			return
		}
	}
	if !req.Balance.IsZero() {
		if err := s.deps.Accounts.SetInitialBalanceIfUnset(id, req.Balance); err != nil {
			s.writeError(w, err)
			return
		}
	}

	s.deps.Registry.Connect(id)
	s.logger.Info("EA connected",
		zap.String("account_id", id),
		zap.String("broker", req.Broker))

	s.writeJSON(w, http.StatusOK, connectResponse{
		AccountID:                id,
		HeartbeatIntervalSeconds: s.config.HeartbeatIntervalSeconds,
	})
}

type accountScopedRequest struct {
	AccountID string `json:"account_id"`
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	var req accountScopedRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	s.deps.Registry.Remove(req.AccountID)
	s.logger.Info("EA disconnected", zap.String("account_id", req.AccountID))
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type heartbeatRequest struct {
	AccountID  string          `json:"account_id"`
	Balance    decimal.Decimal `json:"balance"`
	Equity     decimal.Decimal `json:"equity"`
	Margin     decimal.Decimal `json:"margin"`
	FreeMargin decimal.Decimal `json:"free_margin"`
}

type commandsResponse struct {
	Status   string          `json:"status"`
	Commands []types.Command `json:"commands"`
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.AccountID == "" {
		s.writeError(w, apperr.New(apperr.Validation, "account_id is required"))
		return
	}

	if err := s.deps.Accounts.UpdateBalances(req.AccountID, req.Balance, req.Equity, req.Margin, req.FreeMargin); err != nil {
		s.writeError(w, err)
		return
	}
	s.deps.Registry.Heartbeat(req.AccountID)
	if conn := s.deps.Registry.Get(req.AccountID); conn != nil {
		metrics.SetConnectionHealth(req.AccountID, conn.HealthScore)
	}

	s.drainCommands(w, req.AccountID)
}

func (s *Server) handleGetCommands(w http.ResponseWriter, r *http.Request) {
	var req accountScopedRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.AccountID == "" {
		s.writeError(w, apperr.New(apperr.Validation, "account_id is required"))
		return
	}
	s.drainCommands(w, req.AccountID)
}

func (s *Server) drainCommands(w http.ResponseWriter, accountID string) {
	cmds, err := s.deps.Queue.Drain(accountID, maxCommandsPerPoll)
	if err != nil {
		s.writeError(w, apperr.Wrap(apperr.Transient, "draining command queue", err))
		return
	}
	for _, c := range cmds {
		metrics.RecordCommandSent(accountID, string(c.Type))
	}
	if cmds == nil {
		cmds = []types.Command{}
	}
	s.writeJSON(w, http.StatusOK, commandsResponse{Status: "ok", Commands: cmds})
}

type commandResponseRequest struct {
	CommandID string          `json:"command_id"`
	Status    string          `json:"status"` // "completed" | "failed"
	TicketID  string          `json:"ticket,omitempty"`
	OpenPrice decimal.Decimal `json:"open_price,omitempty"`
	Error     string          `json:"error,omitempty"`
	Retriable *bool           `json:"retriable,omitempty"`
}

// retriableErrorText matches the EA error strings that indicate a transient
// broker/terminal condition worth retrying.
var retriableErrorText = []string{"timeout", "connection", "network", "temporary", "try again"}

func errorTextRetriable(msg string) bool {
	lower := strings.ToLower(msg)
	for _, s := range retriableErrorText {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

func (s *Server) handleCommandResponse(w http.ResponseWriter, r *http.Request) {
	var req commandResponseRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	cmd, err := s.deps.Commands.Get(req.CommandID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if cmd == nil {
		s.writeError(w, apperr.New(apperr.NotFound, "unknown command_id"))
		return
	}

	// Late duplicate of an already-settled command: acknowledge and drop.
	if cmd.Status == types.CommandCompleted || cmd.Status == types.CommandFailed {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	switch req.Status {
	case "completed":
		if err := s.completeCommand(cmd, req); err != nil {
			s.writeError(w, err)
			return
		}
	case "failed":
		if err := s.failCommand(cmd, req); err != nil {
			s.writeError(w, err)
			return
		}
	default:
		s.writeError(w, apperr.New(apperr.Validation, "status must be completed or failed"))
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) completeCommand(cmd *types.Command, req commandResponseRequest) error {
	if err := s.deps.Queue.Complete(cmd.ID); err != nil {
		return apperr.Wrap(apperr.Transient, "completing command", err)
	}

	if cmd.Type == types.CommandOpenTrade && req.TicketID != "" {
		if err := s.recordOpenedTrade(cmd, req); err != nil {
			return err
		}
	}

	if cmd.SentAt != nil {
		s.logger.Info("command completed",
			zap.String("command_id", cmd.ID),
			zap.String("type", string(cmd.Type)),
			zap.Duration("latency", time.Since(*cmd.SentAt)))
	}
	return nil
}

// recordOpenedTrade creates the Trade row for a successful OPEN_TRADE
// response, unless an earlier trades_sync already created it for this
// ticket (in which case the link is left to reconciliation).
func (s *Server) recordOpenedTrade(cmd *types.Command, req commandResponseRequest) error {
	existing, err := s.deps.Trades.ByTicket(cmd.AccountID, req.TicketID)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	openPrice := req.OpenPrice
	if openPrice.IsZero() {
		openPrice = cmd.Price
	}
	trade := &types.Trade{
		ID:                utils.GenerateTradeID(),
		AccountID:         cmd.AccountID,
		TicketID:          req.TicketID,
		Symbol:            cmd.Symbol,
		Volume:            cmd.Volume,
		OpenPrice:         openPrice,
		StopLoss:          cmd.StopLoss,
		TakeProfit:        cmd.TakeProfit,
		InitialStopLoss:   cmd.StopLoss,
		InitialTakeProfit: cmd.TakeProfit,
		Status:            types.TradeOpen,
		Source:            types.TradeSourceAutoTrade,
		EntryReason:       cmd.Reason,
		LinkedCommandID:   cmd.ID,
		OpenedAt:          time.Now().UTC(),
	}
	if sig, err := s.signalFor(cmd.LinkedSignalID); err == nil && sig != nil {
		trade.Side = sig.Type
	}
	if err := s.deps.Trades.Upsert(trade); err != nil {
		return err
	}
	if s.deps.Hub != nil {
		s.deps.Hub.BroadcastTradeUpdate(trade)
	}
	return nil
}

// signalFor loads the signal linked to a command via the trades table's
// signal store; split out so recordOpenedTrade tolerates a missing link.
func (s *Server) signalFor(signalID string) (*types.Signal, error) {
	if signalID == "" || s.deps.Signals == nil {
		return nil, nil
	}
	return s.deps.Signals.Get(signalID)
}

func (s *Server) failCommand(cmd *types.Command, req commandResponseRequest) error {
	retriable := errorTextRetriable(req.Error)
	if req.Retriable != nil {
		retriable = *req.Retriable
	}

	var permanentlyFailed bool
	if retriable {
		failed, err := s.deps.Queue.Fail(cmd.ID)
		if err != nil {
			return apperr.Wrap(apperr.Transient, "requeuing failed command", err)
		}
		permanentlyFailed = failed
	} else {
		if err := s.deps.Queue.FailPermanently(cmd.ID); err != nil {
			return apperr.Wrap(apperr.Transient, "failing command", err)
		}
		permanentlyFailed = true
	}

	s.logger.Warn("command failed",
		zap.String("command_id", cmd.ID),
		zap.String("type", string(cmd.Type)),
		zap.String("error", req.Error),
		zap.Bool("retriable", retriable),
		zap.Bool("permanent", permanentlyFailed))

	if permanentlyFailed {
		metrics.RecordCommandFailed(cmd.AccountID, string(cmd.Type))
		if cmd.Type == types.CommandOpenTrade && s.deps.Breaker != nil {
			if err := s.deps.Breaker.RecordCommandFailure(cmd.AccountID); err != nil {
				s.logger.Warn("recording command failure for circuit breaker failed", zap.Error(err))
			}
		}
	}
	return nil
}
