package riskworkers

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-ea/bridge/pkg/types"
	"github.com/atlas-ea/bridge/pkg/utils"
)

// timeoutSweepInterval is the worker's periodic cadence.
const timeoutSweepInterval = 5 * time.Minute

// TimeoutWorker force-closes, alerts on, or ignores any open trade whose age
// exceeds GlobalSettings.TradeTimeoutHours, per the global
// GlobalSettings.TradeTimeoutAction.
type TimeoutWorker struct {
	accounts  AccountStore
	trades    TradeStore
	settings  SettingsSource
	commands  CommandEmitter
	decisions DecisionLog
	logger    *zap.Logger
}

// NewTimeoutWorker builds a TimeoutWorker.
func NewTimeoutWorker(accounts AccountStore, trades TradeStore, settings SettingsSource, commands CommandEmitter, decisions DecisionLog, logger *zap.Logger) *TimeoutWorker {
	return &TimeoutWorker{
		accounts:  accounts,
		trades:    trades,
		settings:  settings,
		commands:  commands,
		decisions: decisions,
		logger:    logger.Named("riskworkers.timeout"),
	}
}

// Run loops until ctx is cancelled, sweeping every account's open trades each
// interval.
func (w *TimeoutWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(timeoutSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Sweep(); err != nil {
				w.logger.Warn("timeout sweep failed", zap.Error(err))
			}
		}
	}
}

func (w *TimeoutWorker) Sweep() error {
	accounts, err := w.accounts.List()
	if err != nil {
		return fmt.Errorf("listing accounts: %w", err)
	}
	settings := w.settings.Get()
	maxAge := settings.TradeTimeoutHours

	for _, account := range accounts {
		open, err := w.trades.OpenByAccount(account.ID)
		if err != nil {
			w.logger.Warn("loading open trades failed", zap.String("account_id", account.ID), zap.Error(err))
			continue
		}
		now := time.Now().UTC()
		for _, t := range open {
			ageHours := decimal.NewFromFloat(now.Sub(t.OpenedAt).Hours())
			if ageHours.LessThanOrEqual(maxAge) {
				continue
			}
			w.handleTimedOut(account.ID, t, ageHours, settings.TradeTimeoutAction)
		}
	}
	return nil
}

func (w *TimeoutWorker) handleTimedOut(accountID string, t types.Trade, ageHours decimal.Decimal, action string) {
	switch action {
	case "close":
		cmd := &types.Command{
			ID:             utils.GenerateCommandID(),
			AccountID:      accountID,
			Type:           types.CommandCloseTrade,
			Symbol:         t.Symbol,
			TicketID:       t.TicketID,
			Reason:         string(types.CloseReasonTimeout),
			Priority:       types.PriorityHigh,
			Status:         types.CommandPending,
			CreatedAt:      time.Now().UTC(),
		}
		if err := w.commands.Enqueue(cmd); err != nil {
			w.logger.Warn("timeout close enqueue failed", zap.String("ticket_id", t.TicketID), zap.Error(err))
			return
		}
		w.logDecision(accountID, t, ageHours, "close")
	case "ignore":
		return
	default: // "alert", or any unrecognized action
		w.logger.Info("trade exceeded timeout", zap.String("account_id", accountID), zap.String("ticket_id", t.TicketID), zap.String("age_hours", ageHours.StringFixed(1)))
		w.logDecision(accountID, t, ageHours, "alert")
	}
}

func (w *TimeoutWorker) logDecision(accountID string, t types.Trade, ageHours decimal.Decimal, outcome string) {
	if w.decisions == nil {
		return
	}
	_ = w.decisions.Log(&types.AIDecision{
		ID:           utils.GenerateID("dec"),
		AccountID:    accountID,
		Symbol:       t.Symbol,
		DecisionType: "TRADE_TIMEOUT",
		Approved:     true,
		Impact:       types.ImpactMedium,
		Outcome:      outcome,
		Reasoning:    fmt.Sprintf("ticket %s open for %s hours", t.TicketID, ageHours.StringFixed(1)),
		CreatedAt:    time.Now().UTC(),
	})
}
