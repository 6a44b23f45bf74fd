package riskworkers

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-ea/bridge/pkg/types"
	"github.com/atlas-ea/bridge/pkg/utils"
)

// TradeStore is the subset of internal/store's TradeStore the drawdown
// worker needs.
type TradeStore interface {
	RecentClosed(accountID string, since time.Time) ([]types.Trade, error)
	OpenByAccount(accountID string) ([]types.Trade, error)
}

// CommandEmitter queues an emergency CLOSE_TRADE command.
type CommandEmitter interface {
	Enqueue(c *types.Command) error
}

// criticalDrawdownMultiplier is the emergency-close threshold: 1.5x the
// circuit breaker's own daily-loss limit.
const criticalDrawdownMultiplier = 1.5

// DrawdownWorker recomputes profit_today every interval and force-closes all
// open positions on critical drawdown.
type DrawdownWorker struct {
	accounts AccountStore
	trades   TradeStore
	settings SettingsSource
	breaker  *CircuitBreaker
	commands CommandEmitter
	logger   *zap.Logger
	interval time.Duration
}

// SettingsSource supplies the live, DB-backed trading config.
type SettingsSource interface {
	Get() types.GlobalSettings
}

// NewDrawdownWorker builds a DrawdownWorker.
func NewDrawdownWorker(accounts AccountStore, trades TradeStore, settings SettingsSource, breaker *CircuitBreaker, commands CommandEmitter, logger *zap.Logger) *DrawdownWorker {
	return &DrawdownWorker{
		accounts: accounts, trades: trades, settings: settings, breaker: breaker, commands: commands,
		logger:   logger.Named("riskworkers.drawdown"),
		interval: 60 * time.Second,
	}
}

// Run loops until ctx is cancelled, re-evaluating every account each tick.
func (w *DrawdownWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.tick(); err != nil {
				w.logger.Warn("drawdown tick failed", zap.Error(err))
			}
		}
	}
}

func (w *DrawdownWorker) tick() error {
	accounts, err := w.accounts.List()
	if err != nil {
		return err
	}
	settings := w.settings.Get()
	midnight := time.Now().UTC().Truncate(24 * time.Hour)

	for _, account := range accounts {
		closed, err := w.trades.RecentClosed(account.ID, midnight)
		if err != nil {
			w.logger.Warn("loading closed trades failed", zap.String("account_id", account.ID), zap.Error(err))
			continue
		}
		profit := decimal.Zero
		for _, t := range closed {
			profit = profit.Add(t.PnL)
		}
		if err := w.accounts.SetProfitToday(account.ID, profit); err != nil {
			w.logger.Warn("updating profit_today failed", zap.String("account_id", account.ID), zap.Error(err))
		}

		if err := w.breaker.Evaluate(account.ID, settings); err != nil {
			w.logger.Warn("circuit breaker evaluation failed", zap.String("account_id", account.ID), zap.Error(err))
		}

		if account.Balance.IsZero() {
			continue
		}
		dailyLossPct := profit.Div(account.Balance).Mul(decimal.NewFromInt(100))
		criticalThreshold := settings.MaxDailyLossPct.Mul(decimal.NewFromFloat(criticalDrawdownMultiplier)).Neg()
		if dailyLossPct.LessThanOrEqual(criticalThreshold) {
			if err := w.emergencyCloseAll(account.ID); err != nil {
				w.logger.Warn("emergency close failed", zap.String("account_id", account.ID), zap.Error(err))
			}
		}
	}
	return nil
}

// DailyDrawdownExceeded reports whether an account's profit_today breach
// of max_daily_loss_pct should block new auto-trades, satisfying
// autotrader's DrawdownSource. It reads the profit_today this worker's tick
// last recomputed rather than recalculating on the hot path.
func (w *DrawdownWorker) DailyDrawdownExceeded(accountID string) (bool, decimal.Decimal, error) {
	account, err := w.accounts.Get(accountID)
	if err != nil {
		return false, decimal.Zero, err
	}
	if account == nil || account.Balance.IsZero() {
		return false, decimal.Zero, nil
	}

	settings := w.settings.Get()
	dailyLossPct := account.ProfitToday.Div(account.Balance).Mul(decimal.NewFromInt(100))
	limit := settings.MaxDailyLossPct.Neg()
	return dailyLossPct.LessThanOrEqual(limit), dailyLossPct.Abs(), nil
}

func (w *DrawdownWorker) emergencyCloseAll(accountID string) error {
	open, err := w.trades.OpenByAccount(accountID)
	if err != nil {
		return err
	}
	for _, t := range open {
		cmd := &types.Command{
			ID:             utils.GenerateCommandID(),
			AccountID:      accountID,
			Type:           types.CommandCloseTrade,
			Symbol:         t.Symbol,
			TicketID:       t.TicketID,
			Reason:         string(types.CloseReasonEmergency),
			Priority:       types.PriorityCritical,
			Status:         types.CommandPending,
			CreatedAt:      time.Now().UTC(),
		}
		if err := w.commands.Enqueue(cmd); err != nil {
			w.logger.Warn("emergency close enqueue failed", zap.String("ticket_id", t.TicketID), zap.Error(err))
		}
	}
	return nil
}
