package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlas-ea/bridge/internal/commctl"
	"github.com/atlas-ea/bridge/internal/marketdata"
	"github.com/atlas-ea/bridge/internal/store"
	"github.com/atlas-ea/bridge/internal/tickbuffer"
	"github.com/atlas-ea/bridge/pkg/types"
	"github.com/atlas-ea/bridge/pkg/utils"
)

type recordedSLHit struct {
	accountID string
	symbol    string
}

type fakeSLHits struct {
	mu   sync.Mutex
	hits []recordedSLHit
}

func (f *fakeSLHits) OnSLHit(accountID, symbol string, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hits = append(f.hits, recordedSLHit{accountID: accountID, symbol: symbol})
}

type fakeBreaker struct {
	mu       sync.Mutex
	failures []string
}

func (f *fakeBreaker) RecordCommandFailure(accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, accountID)
	return nil
}

type testHarness struct {
	server   *Server
	db       *store.DB
	accounts *store.AccountStore
	commands *store.CommandStore
	trades   *store.TradeStore
	queue    *commctl.CommandQueue
	registry *commctl.ConnectionRegistry
	slHits   *fakeSLHits
	breaker  *fakeBreaker
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	logger := zap.NewNop()

	db, err := store.New(filepath.Join(t.TempDir(), "bridge.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	accounts := store.NewAccountStore(db)
	commands := store.NewCommandStore(db)
	signals := store.NewSignalStore(db)
	trades := store.NewTradeStore(db)
	history := store.NewTradeHistoryStore(db)
	brokerSymbols := store.NewBrokerSymbolStore(db)
	symbolPerf := store.NewSymbolPerformanceStore(db)
	tickStore := store.NewTickStore(db)
	ohlc := store.NewOHLCStore(db)

	queue := commctl.NewCommandQueue(commands, nil, 30*time.Second, 3, logger)
	registry := commctl.NewConnectionRegistry(30*time.Second, logger)
	reconciler := commctl.NewReconciler(trades, history, commands, logger)
	market := marketdata.New(ohlc, logger)
	buffer := tickbuffer.New(tickStore, 128, 64, time.Second, logger, nil)

	slHits := &fakeSLHits{}
	breaker := &fakeBreaker{}

	cfg := types.DefaultServerConfig()
	cfg.APIKey = "secret"

	server := NewServer(logger, cfg, Deps{
		Accounts:      accounts,
		BrokerSymbols: brokerSymbols,
		Commands:      commands,
		Signals:       signals,
		Trades:        trades,
		History:       history,
		SymbolPerf:    symbolPerf,
		TickStore:     tickStore,
		Registry:      registry,
		Queue:         queue,
		Reconciler:    reconciler,
		Ticks:         buffer,
		Market:        market,
		SLHits:        slHits,
		Breaker:       breaker,
	})

	return &testHarness{
		server:   server,
		db:       db,
		accounts: accounts,
		commands: commands,
		trades:   trades,
		queue:    queue,
		registry: registry,
		slHits:   slHits,
		breaker:  breaker,
	}
}

func (h *testHarness) post(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func (h *testHarness) connect(t *testing.T) string {
	t.Helper()
	rec := h.post(t, h.server.controlRouter(), "/api/connect", map[string]any{
		"account_number": "12345",
		"broker":         "TestBroker",
		"currency":       "EUR",
		"balance":        10000,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp connectResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.AccountID)
	return resp.AccountID
}

func TestConnectRejectsBadAPIKey(t *testing.T) {
	h := newHarness(t)

	raw, _ := json.Marshal(map[string]any{"account_number": "1", "broker": "b"})
	req := httptest.NewRequest(http.MethodPost, "/api/connect", bytes.NewReader(raw))
	req.Header.Set("X-API-Key", "wrong")
	rec := httptest.NewRecorder()
	h.server.controlRouter().ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestConnectCreatesAccountAndResumesIt(t *testing.T) {
	h := newHarness(t)

	id := h.connect(t)
	account, err := h.accounts.Get(id)
	require.NoError(t, err)
	require.NotNil(t, account)
	require.Equal(t, "12345", account.Login)
	require.True(t, account.InitialBalance.Equal(decimal.NewFromInt(10000)))

	// A second connect resumes the same account.
	require.Equal(t, id, h.connect(t))
}

func TestHeartbeatUpdatesBalancesAndDrainsCommands(t *testing.T) {
	h := newHarness(t)
	id := h.connect(t)

	cmd := &types.Command{
		ID:        utils.GenerateCommandID(),
		AccountID: id,
		Type:      types.CommandOpenTrade,
		Symbol:    "EURUSD",
		Volume:    decimal.NewFromFloat(0.10),
		Priority:  types.PriorityNormal,
	}
	require.NoError(t, h.queue.Enqueue(cmd))

	rec := h.post(t, h.server.controlRouter(), "/api/heartbeat", map[string]any{
		"account_id": id,
		"balance":    10100,
		"equity":     10120,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp commandsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Commands, 1)
	require.Equal(t, cmd.ID, resp.Commands[0].ID)

	account, err := h.accounts.Get(id)
	require.NoError(t, err)
	require.True(t, account.Balance.Equal(decimal.NewFromInt(10100)))

	// Delivered commands are EXECUTING until the response arrives, and a
	// second poll must not re-deliver them.
	stored, err := h.commands.Get(cmd.ID)
	require.NoError(t, err)
	require.Equal(t, types.CommandExecuting, stored.Status)

	rec = h.post(t, h.server.controlRouter(), "/api/get_commands", map[string]any{"account_id": id})
	require.Equal(t, http.StatusOK, rec.Code)
	resp = commandsResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Empty(t, resp.Commands)
}

func TestCommandResponseCompletedCreatesTrade(t *testing.T) {
	h := newHarness(t)
	id := h.connect(t)

	cmd := &types.Command{
		ID:         utils.GenerateCommandID(),
		AccountID:  id,
		Type:       types.CommandOpenTrade,
		Symbol:     "EURUSD",
		Volume:     decimal.NewFromFloat(0.12),
		Price:      decimal.NewFromFloat(1.08500),
		StopLoss:   decimal.NewFromFloat(1.08404),
		TakeProfit: decimal.NewFromFloat(1.08660),
		Reason:     "autotrade: H1 BUY 72%",
		Priority:   types.PriorityNormal,
	}
	require.NoError(t, h.queue.Enqueue(cmd))
	_, err := h.queue.Drain(id, 10)
	require.NoError(t, err)

	rec := h.post(t, h.server.controlRouter(), "/api/command_response", map[string]any{
		"command_id": cmd.ID,
		"status":     "completed",
		"ticket":     "7001",
		"open_price": 1.08502,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	stored, err := h.commands.Get(cmd.ID)
	require.NoError(t, err)
	require.Equal(t, types.CommandCompleted, stored.Status)

	trade, err := h.trades.ByTicket(id, "7001")
	require.NoError(t, err)
	require.NotNil(t, trade)
	require.Equal(t, types.TradeSourceAutoTrade, trade.Source)
	require.Equal(t, cmd.ID, trade.LinkedCommandID)
	require.True(t, trade.OpenPrice.Equal(decimal.NewFromFloat(1.08502)))
	require.True(t, trade.InitialStopLoss.Equal(cmd.StopLoss))

	// A duplicate response for the settled command is ignored.
	rec = h.post(t, h.server.controlRouter(), "/api/command_response", map[string]any{
		"command_id": cmd.ID,
		"status":     "failed",
		"error":      "late duplicate",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	stored, err = h.commands.Get(cmd.ID)
	require.NoError(t, err)
	require.Equal(t, types.CommandCompleted, stored.Status)
}

func TestCommandResponsePermanentFailureHitsBreaker(t *testing.T) {
	h := newHarness(t)
	id := h.connect(t)

	cmd := &types.Command{
		ID:        utils.GenerateCommandID(),
		AccountID: id,
		Type:      types.CommandOpenTrade,
		Symbol:    "EURUSD",
		Volume:    decimal.NewFromFloat(0.10),
		Priority:  types.PriorityNormal,
	}
	require.NoError(t, h.queue.Enqueue(cmd))
	_, err := h.queue.Drain(id, 10)
	require.NoError(t, err)

	rec := h.post(t, h.server.controlRouter(), "/api/command_response", map[string]any{
		"command_id": cmd.ID,
		"status":     "failed",
		"error":      "invalid stops", // not a retriable error string
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	stored, err := h.commands.Get(cmd.ID)
	require.NoError(t, err)
	require.Equal(t, types.CommandFailed, stored.Status)
	require.Equal(t, []string{id}, h.breaker.failures)
}

func TestCommandResponseRetriableFailureRequeues(t *testing.T) {
	h := newHarness(t)
	id := h.connect(t)

	cmd := &types.Command{
		ID:        utils.GenerateCommandID(),
		AccountID: id,
		Type:      types.CommandOpenTrade,
		Symbol:    "EURUSD",
		Volume:    decimal.NewFromFloat(0.10),
		Priority:  types.PriorityNormal,
	}
	require.NoError(t, h.queue.Enqueue(cmd))
	_, err := h.queue.Drain(id, 10)
	require.NoError(t, err)

	rec := h.post(t, h.server.controlRouter(), "/api/command_response", map[string]any{
		"command_id": cmd.ID,
		"status":     "failed",
		"error":      "network timeout, try again",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	stored, err := h.commands.Get(cmd.ID)
	require.NoError(t, err)
	require.Equal(t, types.CommandPending, stored.Status)
	require.Equal(t, 1, stored.RetryCount)
	require.Empty(t, h.breaker.failures)
}

func TestTicksBatchIngests(t *testing.T) {
	h := newHarness(t)
	id := h.connect(t)

	rec := h.post(t, h.server.tickRouter(), "/api/ticks/batch", map[string]any{
		"account_id": id,
		"ticks": []map[string]any{
			{"symbol": "EURUSD", "bid": 1.08499, "ask": 1.08501},
			{"symbol": "EURUSD", "bid": 1.08500, "ask": 1.08502},
			{"symbol": "", "bid": 1, "ask": 1}, // dropped: no symbol
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Accepted int `json:"accepted"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.Accepted)
}

func TestOHLCHistoricalIsIdempotent(t *testing.T) {
	h := newHarness(t)

	payload := map[string]any{
		"bars": []map[string]any{
			{"symbol": "EURUSD", "timeframe": "H1", "open_time": 1700000000, "open": 1.08, "high": 1.09, "low": 1.07, "close": 1.085, "volume": 1200},
			{"symbol": "EURUSD", "timeframe": "H1", "open_time": 1700003600, "open": 1.085, "high": 1.091, "low": 1.081, "close": 1.09, "volume": 900},
		},
	}
	for i := 0; i < 2; i++ {
		rec := h.post(t, h.server.tickRouter(), "/api/ohlc/historical", payload)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	var count int
	require.NoError(t, h.db.Get(&count, `SELECT COUNT(*) FROM ohlc_bars`))
	require.Equal(t, 2, count)
}

func TestTradesSyncClosesMissingTickets(t *testing.T) {
	h := newHarness(t)
	id := h.connect(t)

	for _, ticket := range []string{"A", "B", "C"} {
		require.NoError(t, h.trades.Upsert(&types.Trade{
			ID:        utils.GenerateTradeID(),
			AccountID: id,
			TicketID:  ticket,
			Symbol:    "EURUSD",
			Side:      types.SignalBuy,
			Volume:    decimal.NewFromFloat(0.10),
			OpenPrice: decimal.NewFromFloat(1.08500),
			Status:    types.TradeOpen,
			Source:    types.TradeSourceAutoTrade,
			OpenedAt:  time.Now().UTC(),
		}))
	}

	rec := h.post(t, h.server.tradeRouter(), "/api/trades/sync", map[string]any{
		"account_id": id,
		"positions": []map[string]any{
			{"ticket": "A", "symbol": "EURUSD", "side": "BUY", "volume": 0.10, "open_price": 1.08500},
			{"ticket": "B", "symbol": "EURUSD", "side": "BUY", "volume": 0.10, "open_price": 1.08500},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	open, err := h.trades.OpenByAccount(id)
	require.NoError(t, err)
	require.Len(t, open, 2)

	closed, err := h.trades.ByTicket(id, "C")
	require.NoError(t, err)
	require.Equal(t, types.TradeClosed, closed.Status)
	require.Equal(t, types.CloseReasonReconciliation, closed.CloseReason)
}

func TestTradeUpdateCloseRecordsSLHit(t *testing.T) {
	h := newHarness(t)
	id := h.connect(t)

	require.NoError(t, h.trades.Upsert(&types.Trade{
		ID:              utils.GenerateTradeID(),
		AccountID:       id,
		TicketID:        "9001",
		Symbol:          "XAUUSD",
		Side:            types.SignalBuy,
		Volume:          decimal.NewFromFloat(0.05),
		OpenPrice:       decimal.NewFromInt(2400),
		InitialStopLoss: decimal.NewFromInt(2390),
		Status:          types.TradeOpen,
		Source:          types.TradeSourceAutoTrade,
		OpenedAt:        time.Now().UTC().Add(-time.Hour),
	}))

	rec := h.post(t, h.server.tradeRouter(), "/api/trades/update", map[string]any{
		"account_id":   id,
		"ticket":       "9001",
		"status":       "closed",
		"close_price":  2390,
		"close_reason": "SL",
		"profit":       -50,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	trade, err := h.trades.ByTicket(id, "9001")
	require.NoError(t, err)
	require.Equal(t, types.TradeClosed, trade.Status)
	require.Equal(t, types.CloseReasonSL, trade.CloseReason)
	require.Equal(t, []recordedSLHit{{accountID: id, symbol: "XAUUSD"}}, h.slHits.hits)

	// A duplicate close report is ignored.
	rec = h.post(t, h.server.tradeRouter(), "/api/trades/update", map[string]any{
		"account_id":   id,
		"ticket":       "9001",
		"status":       "closed",
		"close_price":  2390,
		"close_reason": "SL",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, h.slHits.hits, 1)
}

func TestTradeUpdateCloseAdoptsWorkerReason(t *testing.T) {
	h := newHarness(t)
	id := h.connect(t)

	require.NoError(t, h.trades.Upsert(&types.Trade{
		ID:        utils.GenerateTradeID(),
		AccountID: id,
		TicketID:  "9002",
		Symbol:    "EURUSD",
		Side:      types.SignalBuy,
		Volume:    decimal.NewFromFloat(0.10),
		OpenPrice: decimal.NewFromFloat(1.08500),
		Status:    types.TradeOpen,
		Source:    types.TradeSourceAutoTrade,
		OpenedAt:  time.Now().UTC().Add(-30 * time.Hour),
	}))

	// A protective worker issued (and the EA completed) a CLOSE_TRADE with
	// the TIMEOUT reason before the EA reported the close as MANUAL.
	closeCmd := &types.Command{
		ID:        utils.GenerateCommandID(),
		AccountID: id,
		Type:      types.CommandCloseTrade,
		Symbol:    "EURUSD",
		TicketID:  "9002",
		Reason:    string(types.CloseReasonTimeout),
		Priority:  types.PriorityHigh,
	}
	require.NoError(t, h.queue.Enqueue(closeCmd))
	_, err := h.queue.Drain(id, 10)
	require.NoError(t, err)
	require.NoError(t, h.queue.Complete(closeCmd.ID))

	rec := h.post(t, h.server.tradeRouter(), "/api/trades/update", map[string]any{
		"account_id":   id,
		"ticket":       "9002",
		"status":       "closed",
		"close_price":  1.08520,
		"close_reason": "MANUAL",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	trade, err := h.trades.ByTicket(id, "9002")
	require.NoError(t, err)
	require.Equal(t, types.CloseReasonTimeout, trade.CloseReason)
}

func TestSystemStatusReportsPerAccountDetail(t *testing.T) {
	h := newHarness(t)
	id := h.connect(t)

	require.NoError(t, h.queue.Enqueue(&types.Command{
		ID:        utils.GenerateCommandID(),
		AccountID: id,
		Type:      types.CommandOpenTrade,
		Symbol:    "EURUSD",
		Priority:  types.PriorityNormal,
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/system/status", nil)
	rec := httptest.NewRecorder()
	h.server.opsRouter().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Accounts map[string]struct {
			PendingCommands int `json:"pending_commands"`
		} `json:"accounts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Accounts[id].PendingCommands)
}

func TestAccountIDForIsStable(t *testing.T) {
	a := accountIDFor("12345", "IC Markets")
	b := accountIDFor("12345 ", "ic markets")
	require.Equal(t, a, b)
	require.Equal(t, fmt.Sprintf("acct_%s_%s", "12345", "ic_markets"), a)
}
