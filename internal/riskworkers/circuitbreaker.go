// Package riskworkers runs the independent periodic protection tasks of
// the account: circuit breaker evaluation, drawdown protection, SL-hit
// cooldown, trade timeout, strategy (re-)validation and news pauses.
package riskworkers

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-ea/bridge/pkg/types"
	"github.com/atlas-ea/bridge/pkg/utils"
)

// AccountStore is the subset of internal/store's AccountStore the protection
// workers need.
type AccountStore interface {
	Get(accountID string) (*types.Account, error)
	List() ([]types.Account, error)
	SetCircuitBreaker(accountID string, tripped bool) error
	IncrementFailedCommands(accountID string) (int, error)
	SetProfitToday(accountID string, profit decimal.Decimal) error
}

// DecisionLog records every trip and protective action for the audit trail.
type DecisionLog interface {
	Log(d *types.AIDecision) error
}

const consecutiveFailureLimit = 3

// CircuitBreaker evaluates the account-level trip conditions. It is checked
// inline at the top of every auto-trader evaluation (via Account's own
// circuit_breaker_tripped flag) rather than running as a timer; this type
// owns the logic that decides WHEN to flip that flag.
type CircuitBreaker struct {
	accounts  AccountStore
	decisions DecisionLog
	logger    *zap.Logger

	maxDailyLossPct    decimal.Decimal
	maxTotalDrawdownPct decimal.Decimal
}

// NewCircuitBreaker builds a CircuitBreaker. The percentage limits are read
// from GlobalSettings by the caller and passed per Evaluate call; Evaluate
// uses only those, and the limit fields set here are not consulted.
func NewCircuitBreaker(accounts AccountStore, decisions DecisionLog, logger *zap.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		accounts:            accounts,
		decisions:           decisions,
		logger:              logger.Named("riskworkers.circuitbreaker"),
		maxDailyLossPct:     decimal.NewFromFloat(5.0),
		maxTotalDrawdownPct: decimal.NewFromFloat(20.0),
	}
}

// Evaluate re-checks one account's trip conditions against the supplied
// GlobalSettings thresholds, tripping the breaker and logging a CRITICAL
// AIDecision on first violation found.
func (cb *CircuitBreaker) Evaluate(accountID string, settings types.GlobalSettings) error {
	account, err := cb.accounts.Get(accountID)
	if err != nil {
		return fmt.Errorf("loading account %s: %w", accountID, err)
	}
	if account == nil || account.CircuitBreakerTripped {
		return nil
	}

	if !account.Balance.IsZero() {
		dailyLossPct := account.ProfitToday.Div(account.Balance).Mul(decimal.NewFromInt(100))
		if dailyLossPct.LessThanOrEqual(settings.MaxDailyLossPct.Neg()) {
			return cb.trip(accountID, "daily loss limit", dailyLossPct)
		}
	}

	if !account.InitialBalance.IsZero() {
		drawdownPct := account.InitialBalance.Sub(account.Balance).Div(account.InitialBalance).Mul(decimal.NewFromInt(100))
		if drawdownPct.GreaterThanOrEqual(settings.MaxTotalDrawdownPct) {
			return cb.trip(accountID, "total drawdown limit", drawdownPct)
		}
	}

	if account.FailedCommandCount >= consecutiveFailureLimit {
		return cb.trip(accountID, "consecutive command failures", decimal.NewFromInt(int64(account.FailedCommandCount)))
	}

	return nil
}

// RecordCommandFailure increments the failed-command counter after a
// permanently-failed or timed-out command, tripping the breaker once it
// reaches the limit.
func (cb *CircuitBreaker) RecordCommandFailure(accountID string) error {
	count, err := cb.accounts.IncrementFailedCommands(accountID)
	if err != nil {
		return fmt.Errorf("incrementing failed command count for %s: %w", accountID, err)
	}
	if count >= consecutiveFailureLimit {
		return cb.trip(accountID, "consecutive command failures", decimal.NewFromInt(int64(count)))
	}
	return nil
}

func (cb *CircuitBreaker) trip(accountID, cause string, value decimal.Decimal) error {
	if err := cb.accounts.SetCircuitBreaker(accountID, true); err != nil {
		return fmt.Errorf("tripping circuit breaker for %s: %w", accountID, err)
	}
	cb.logger.Warn("circuit breaker tripped", zap.String("account_id", accountID), zap.String("cause", cause), zap.String("value", value.String()))
	if cb.decisions == nil {
		return nil
	}
	return cb.decisions.Log(&types.AIDecision{
		ID:           utils.GenerateID("dec"),
		AccountID:    accountID,
		DecisionType: "CIRCUIT_BREAKER_TRIPPED",
		Approved:       false,
		Impact:         types.ImpactCritical,
		ActionRequired: true,
		Outcome:        "tripped",
		Reasoning:    fmt.Sprintf("%s: %s", cause, value.String()),
		CreatedAt:    time.Now().UTC(),
	})
}
