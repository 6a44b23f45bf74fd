package workers

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-ea/bridge/pkg/types"
)

// SignalEvaluator re-runs the signal pipeline for one (account, symbol,
// timeframe), backed by internal/signalengine's Engine.
type SignalEvaluator interface {
	Evaluate(accountID, symbol string, tf types.Timeframe) error
}

// signalKey identifies one subscribed (account, symbol, timeframe) the
// scheduler evaluates on tick arrival.
type signalKey struct {
	accountID string
	symbol    string
	tf        types.Timeframe
}

// SignalScheduler fans tick arrivals out to per-(account, symbol,
// timeframe) evaluation tasks submitted onto a shared Pool, throttled so a
// busy symbol evaluates at most once per throttle interval rather than once
// per tick. The scheduler is pure policy on top of the shared Pool; it runs
// no goroutines of its own, and a mutex guards its per-key throttle state.
type SignalScheduler struct {
	pool      *Pool
	evaluator SignalEvaluator
	timeframes []types.Timeframe
	throttle  time.Duration
	logger    *zap.Logger

	mu       sync.Mutex
	lastRun  map[signalKey]time.Time
	inFlight map[signalKey]bool
}

// NewSignalScheduler builds a SignalScheduler. timeframes lists which
// timeframes every symbol gets evaluated on for each arriving tick;
// throttle bounds how often a given key may re-evaluate.
func NewSignalScheduler(pool *Pool, evaluator SignalEvaluator, timeframes []types.Timeframe, throttle time.Duration, logger *zap.Logger) *SignalScheduler {
	if throttle <= 0 {
		throttle = 3 * time.Second
	}
	return &SignalScheduler{
		pool:       pool,
		evaluator:  evaluator,
		timeframes: timeframes,
		throttle:   throttle,
		logger:     logger.Named("workers.signalscheduler"),
		lastRun:    make(map[signalKey]time.Time),
		inFlight:   make(map[signalKey]bool),
	}
}

// OnTick is the events bus handler for EventTypeTick: it submits one
// evaluation task per configured timeframe for the ticking symbol, skipping
// any key that ran within the throttle window or already has a task
// in-flight.
func (s *SignalScheduler) OnTick(accountID, symbol string) {
	now := time.Now().UTC()
	for _, tf := range s.timeframes {
		key := signalKey{accountID: accountID, symbol: symbol, tf: tf}

		s.mu.Lock()
		if s.inFlight[key] || now.Sub(s.lastRun[key]) < s.throttle {
			s.mu.Unlock()
			continue
		}
		s.inFlight[key] = true
		s.mu.Unlock()

		s.submit(key)
	}
}

func (s *SignalScheduler) submit(key signalKey) {
	err := s.pool.SubmitFunc(func() error {
		defer func() {
			s.mu.Lock()
			s.lastRun[key] = time.Now().UTC()
			delete(s.inFlight, key)
			s.mu.Unlock()
		}()
		return s.evaluator.Evaluate(key.accountID, key.symbol, key.tf)
	})
	if err != nil {
		s.mu.Lock()
		delete(s.inFlight, key)
		s.mu.Unlock()
		s.logger.Warn("signal evaluation task dropped, pool saturated",
			zap.String("account_id", key.accountID), zap.String("symbol", key.symbol), zap.String("timeframe", string(key.tf)), zap.Error(err))
	}
}

// PositionTickHandler reacts to a tick for one open trade, backed by
// internal/positionmgr's Trailer.
type PositionTickHandler interface {
	OnTick(trade *types.Trade, price, spread decimal.Decimal) error
}

// OpenTradeSource supplies an account's open trades, backed by
// internal/store's TradeStore.
type OpenTradeSource interface {
	OpenByAccount(accountID string) ([]types.Trade, error)
}

// PositionMonitorScheduler fans a tick out to one task per open trade on
// that symbol, running trailing-stop and TP-extension checks. This bridge
// uses the fan-out-on-tick form since MT5 accounts rarely carry more than a
// handful of concurrent positions per symbol.
type PositionMonitorScheduler struct {
	pool    *Pool
	trades  OpenTradeSource
	handler PositionTickHandler
	logger  *zap.Logger
}

// NewPositionMonitorScheduler builds a PositionMonitorScheduler.
func NewPositionMonitorScheduler(pool *Pool, trades OpenTradeSource, handler PositionTickHandler, logger *zap.Logger) *PositionMonitorScheduler {
	return &PositionMonitorScheduler{pool: pool, trades: trades, handler: handler, logger: logger.Named("workers.positionmonitor")}
}

// OnTick submits one monitoring task per open trade on (accountID, symbol).
func (s *PositionMonitorScheduler) OnTick(accountID, symbol string, bid, ask decimal.Decimal) {
	open, err := s.trades.OpenByAccount(accountID)
	if err != nil {
		s.logger.Warn("loading open trades for tick failed", zap.String("symbol", symbol), zap.Error(err))
		return
	}
	spread := ask.Sub(bid)
	for _, t := range open {
		if t.Symbol != symbol {
			continue
		}
		t := t
		price := bid
		if t.Side == types.SignalSell {
			price = ask
		}
		if err := s.pool.SubmitFunc(func() error {
			return s.handler.OnTick(&t, price, spread)
		}); err != nil {
			s.logger.Warn("position monitor task dropped, pool saturated", zap.String("ticket_id", t.TicketID), zap.Error(err))
		}
	}
}
