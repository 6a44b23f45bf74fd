// Package httpapi exposes the EA-facing HTTP surface across its dedicated
// ports: control (connect/heartbeat/commands), tick ingest, trade sync, EA
// logs, and the ops channel (health, system status, dashboard WebSocket).
// Each port gets its own router and listener so a flood on the tick channel
// cannot starve command delivery.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/atlas-ea/bridge/internal/apperr"
	"github.com/atlas-ea/bridge/internal/commctl"
	"github.com/atlas-ea/bridge/internal/marketdata"
	"github.com/atlas-ea/bridge/internal/metrics"
	"github.com/atlas-ea/bridge/internal/opsws"
	"github.com/atlas-ea/bridge/internal/store"
	"github.com/atlas-ea/bridge/internal/tickbuffer"
	"github.com/atlas-ea/bridge/pkg/types"
)

const apiKeyHeader = "X-API-Key"

// maxCommandsPerPoll bounds how many queued commands one heartbeat or
// get_commands poll may drain.
const maxCommandsPerPoll = 10

// SLHitRecorder receives SL-hit close notifications, backed by
// internal/riskworkers' SLCooldownWorker.
type SLHitRecorder interface {
	OnSLHit(accountID, symbol string, at time.Time)
}

// CommandFailureRecorder advances the per-account failed-command count on a
// permanent OPEN_TRADE failure, backed by internal/riskworkers'
// CircuitBreaker.
type CommandFailureRecorder interface {
	RecordCommandFailure(accountID string) error
}

// Deps collects every collaborator the handlers need. Hub, SLHits, Breaker
// and Decisions may be nil; the corresponding hooks are skipped.
type Deps struct {
	Accounts      *store.AccountStore
	BrokerSymbols *store.BrokerSymbolStore
	Commands      *store.CommandStore
	Signals       *store.SignalStore
	Trades        *store.TradeStore
	History       *store.TradeHistoryStore
	SymbolPerf    *store.SymbolPerformanceStore
	TickStore     *store.TickStore
	Decisions     *store.AIDecisionStore
	Registry      *commctl.ConnectionRegistry
	Queue         *commctl.CommandQueue
	Reconciler    *commctl.Reconciler
	Ticks         *tickbuffer.Buffer
	Market        *marketdata.Service
	SLHits        SLHitRecorder
	Breaker       CommandFailureRecorder
	Hub           *opsws.Hub
}

// Server owns the per-port HTTP listeners of the EA bridge.
type Server struct {
	logger *zap.Logger
	config types.ServerConfig
	deps   Deps

	started time.Time

	mu      sync.Mutex
	servers []*http.Server
}

// NewServer builds the Server and its routers. Start must be called to bind
// the listeners.
func NewServer(logger *zap.Logger, config types.ServerConfig, deps Deps) *Server {
	return &Server{
		logger:  logger.Named("httpapi"),
		config:  config,
		deps:    deps,
		started: time.Now().UTC(),
	}
}

// controlRouter serves the command/control channel: session lifecycle,
// heartbeats, command polling and command responses.
func (s *Server) controlRouter() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/api/status", s.handleStatus).Methods("GET")
	r.HandleFunc("/api/connect", s.auth(s.handleConnect)).Methods("POST")
	r.HandleFunc("/api/disconnect", s.auth(s.handleDisconnect)).Methods("POST")
	r.HandleFunc("/api/heartbeat", s.auth(s.handleHeartbeat)).Methods("POST")
	r.HandleFunc("/api/get_commands", s.auth(s.handleGetCommands)).Methods("POST")
	r.HandleFunc("/api/command_response", s.auth(s.handleCommandResponse)).Methods("POST")
	return r
}

// tickRouter serves the high-volume ingest channel: tick batches and
// historical OHLC upload/coverage checks.
func (s *Server) tickRouter() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/api/ticks/batch", s.auth(s.handleTicksBatch)).Methods("POST")
	r.HandleFunc("/api/ohlc/coverage", s.auth(s.handleOHLCCoverage)).Methods("POST")
	r.HandleFunc("/api/ohlc/historical", s.auth(s.handleOHLCHistorical)).Methods("POST")
	return r
}

// tradeRouter serves the position channel: full syncs and single updates.
func (s *Server) tradeRouter() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/api/trades/sync", s.auth(s.handleTradesSync)).Methods("POST")
	r.HandleFunc("/api/trades/update", s.auth(s.handleTradeUpdate)).Methods("POST")
	r.HandleFunc("/api/symbols/spec", s.auth(s.handleSymbolSpec)).Methods("POST")
	return r
}

// logRouter serves the EA log channel.
func (s *Server) logRouter() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/api/log", s.auth(s.handleEALog)).Methods("POST")
	return r
}

// opsRouter serves the operator channel: health, system status and the live
// dashboard WebSocket. CORS-wrapped since the dashboard runs on another
// origin during development.
func (s *Server) opsRouter() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/api/system/status", s.handleSystemStatus).Methods("GET")
	r.HandleFunc("/api/decisions", s.handleRecentDecisions).Methods("GET")
	if s.deps.Hub != nil {
		r.HandleFunc("/ws", s.deps.Hub.ServeWS)
	}
	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}).Handler(r)
}

// Start binds every configured listener. Listener errors other than a clean
// shutdown are reported on the returned channel.
func (s *Server) Start() <-chan error {
	errs := make(chan error, 8)

	bind := func(port int, name string, handler http.Handler) {
		if port == 0 {
			return
		}
		srv := &http.Server{
			Addr:         fmt.Sprintf("%s:%d", s.config.Host, port),
			Handler:      handler,
			ReadTimeout:  s.config.ReadTimeout,
			WriteTimeout: s.config.WriteTimeout,
		}
		s.mu.Lock()
		s.servers = append(s.servers, srv)
		s.mu.Unlock()

		s.logger.Info("listener starting", zap.String("channel", name), zap.String("addr", srv.Addr))
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errs <- fmt.Errorf("%s listener: %w", name, err)
			}
		}()
	}

	bind(s.config.ControlPort, "control", s.controlRouter())
	bind(s.config.TickPort, "ticks", s.tickRouter())
	bind(s.config.TradeSyncPort, "trades", s.tradeRouter())
	bind(s.config.LogPort, "ea_log", s.logRouter())
	bind(s.config.OpsPort, "ops", s.opsRouter())
	bind(s.config.MetricsPort, "metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	return errs
}

// Stop shuts every listener down, waiting for in-flight requests up to the
// context deadline.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	servers := s.servers
	s.servers = nil
	s.mu.Unlock()

	var firstErr error
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// auth enforces the shared API key on EA-facing endpoints. An empty
// configured key disables the check (local development).
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.config.APIKey != "" && r.Header.Get(apiKeyHeader) != s.config.APIKey {
			s.writeError(w, apperr.New(apperr.Auth, "invalid api key"))
			return
		}
		next(w, r)
	}
}

func (s *Server) decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Wrap(apperr.Validation, "malformed request body", err)
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("response encode failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	if e, ok := apperr.As(err); ok {
		s.writeJSON(w, apperr.HTTPStatus(e.Kind), map[string]any{
			"error":     e.Message,
			"kind":      string(e.Kind),
			"retriable": e.Retriable,
		})
		return
	}
	s.logger.Error("internal error", zap.Error(err))
	s.writeJSON(w, http.StatusInternalServerError, map[string]any{
		"error":     "internal error",
		"kind":      string(apperr.Internal),
		"retriable": true,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
