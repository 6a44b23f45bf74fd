package httpapi

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-ea/bridge/internal/apperr"
	"github.com/atlas-ea/bridge/pkg/types"
)

type eaLogRequest struct {
	AccountID string `json:"account_id"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}

// handleEALog forwards an EA-side log line into the bridge's structured log
// stream, keyed by account so operator tooling can filter per terminal.
func (s *Server) handleEALog(w http.ResponseWriter, r *http.Request) {
	var req eaLogRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.Message == "" {
		s.writeError(w, apperr.New(apperr.Validation, "message is required"))
		return
	}

	fields := []zap.Field{
		zap.String("account_id", req.AccountID),
		zap.String("origin", "ea"),
	}
	switch req.Level {
	case "error":
		s.logger.Error(req.Message, fields...)
	case "warn", "warning":
		s.logger.Warn(req.Message, fields...)
	case "debug":
		s.logger.Debug(req.Message, fields...)
	default:
		s.logger.Info(req.Message, fields...)
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleRecentDecisions lists the latest gating/protective decisions for an
// account, the ops-side view of the decision audit trail.
func (s *Server) handleRecentDecisions(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("account_id")
	if accountID == "" {
		s.writeError(w, apperr.New(apperr.Validation, "account_id query parameter is required"))
		return
	}
	limit := 50
	if s.deps.Decisions == nil {
		s.writeJSON(w, http.StatusOK, map[string]any{"decisions": []types.AIDecision{}})
		return
	}
	rows, err := s.deps.Decisions.RecentForAccount(accountID, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if rows == nil {
		rows = []types.AIDecision{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"decisions": rows})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	conns := s.deps.Registry.All()
	healthy := 0
	for _, c := range conns {
		if c.State == types.ConnectionConnected {
			healthy++
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":              "ok",
		"uptime_seconds":      int(time.Since(s.started).Seconds()),
		"connections_total":   len(conns),
		"connections_healthy": healthy,
	})
}

type accountStatus struct {
	Connection      *types.Connection `json:"connection,omitempty"`
	PendingCommands int               `json:"pending_commands"`
	OpenTrades      int               `json:"open_trades"`
}

// handleSystemStatus reports the per-account view an operator needs at a
// glance: connection state, queue depth and open positions.
func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.deps.Accounts.List()
	if err != nil {
		s.writeError(w, err)
		return
	}

	perAccount := make(map[string]accountStatus, len(accounts))
	for _, a := range accounts {
		st := accountStatus{Connection: s.deps.Registry.Get(a.ID)}
		if pending, err := s.deps.Commands.PendingByAccount(a.ID); err == nil {
			st.PendingCommands = len(pending)
		}
		if open, err := s.deps.Trades.OpenByAccount(a.ID); err == nil {
			st.OpenTrades = len(open)
		}
		perAccount[a.ID] = st
	}

	resp := map[string]any{
		"time":     time.Now().UTC().Format(time.RFC3339),
		"accounts": perAccount,
	}
	if s.deps.Hub != nil {
		resp["dashboard_clients"] = s.deps.Hub.ClientCount()
	}
	s.writeJSON(w, http.StatusOK, resp)
}
