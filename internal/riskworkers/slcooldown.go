package riskworkers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-ea/bridge/pkg/types"
	"github.com/atlas-ea/bridge/pkg/utils"
)

const (
	slHitWindow     = 4 * time.Hour
	slHitThreshold  = 2
	slPauseDuration = 60 * time.Minute
	slSweepInterval = time.Minute
)

// symbolKey groups SL-hit tracking by account and symbol; pauses are
// per-symbol, unlike Account.SLCooldownUntil which the rest of the schema
// reserves for an account-wide cooldown.
type symbolKey struct {
	accountID string
	symbol    string
}

// SLCooldownWorker pauses a symbol after repeated stop-outs: two or more SL hits on
// the same symbol within a rolling four-hour window pause new signals on
// that symbol for sixty minutes. State lives only in memory — a restart
// clears accumulated SL hits, same as the process's in-memory command
// queues and the per-account flag cell the rest of the gating pipeline
// uses.
type SLCooldownWorker struct {
	trades    TradeStore
	decisions DecisionLog
	logger    *zap.Logger

	mu      sync.Mutex
	hits    map[symbolKey][]time.Time
	pausedUntil map[symbolKey]time.Time
}

// NewSLCooldownWorker builds an SLCooldownWorker.
func NewSLCooldownWorker(trades TradeStore, decisions DecisionLog, logger *zap.Logger) *SLCooldownWorker {
	return &SLCooldownWorker{
		trades:      trades,
		decisions:   decisions,
		logger:      logger.Named("riskworkers.slcooldown"),
		hits:        make(map[symbolKey][]time.Time),
		pausedUntil: make(map[symbolKey]time.Time),
	}
}

// Run periodically re-scans recently closed trades of the accounts already
// tracked in memory, so a missed event for such an account still converges
// on the correct pause state within one sweep. Accounts with no recorded hit
// or pause since the last restart are not scanned.
func (w *SLCooldownWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(slSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep()
		}
	}
}

func (w *SLCooldownWorker) sweep() {
	accountsSeen := make(map[string]bool)
	w.mu.Lock()
	for k := range w.hits {
		accountsSeen[k.accountID] = true
	}
	for k := range w.pausedUntil {
		accountsSeen[k.accountID] = true
	}
	w.mu.Unlock()

	since := time.Now().UTC().Add(-slHitWindow)
	for accountID := range accountsSeen {
		closed, err := w.trades.RecentClosed(accountID, since)
		if err != nil {
			w.logger.Warn("loading recent closed trades failed", zap.String("account_id", accountID), zap.Error(err))
			continue
		}
		for _, t := range closed {
			if t.CloseReason != types.CloseReasonSL {
				continue
			}
			closedAt := time.Now().UTC()
			if t.ClosedAt != nil {
				closedAt = *t.ClosedAt
			}
			w.OnSLHit(accountID, t.Symbol, closedAt)
		}
	}
}

// OnSLHit records a stop-loss hit and pauses the symbol once the threshold
// is reached. Called both from the periodic sweep and directly by whatever
// processes a trade close in real time.
func (w *SLCooldownWorker) OnSLHit(accountID, symbol string, at time.Time) {
	key := symbolKey{accountID: accountID, symbol: symbol}
	cutoff := time.Now().UTC().Add(-slHitWindow)

	w.mu.Lock()
	for _, h := range w.hits[key] {
		if h.Equal(at) {
			w.mu.Unlock()
			return
		}
	}
	hits := append(w.hits[key], at)
	kept := hits[:0]
	for _, h := range hits {
		if h.After(cutoff) {
			kept = append(kept, h)
		}
	}
	w.hits[key] = kept
	trip := len(kept) >= slHitThreshold
	if trip {
		w.pausedUntil[key] = time.Now().UTC().Add(slPauseDuration)
	}
	w.mu.Unlock()

	if !trip {
		return
	}
	w.logger.Warn("symbol paused after repeated SL hits", zap.String("account_id", accountID), zap.String("symbol", symbol), zap.Int("hits", len(kept)))
	if w.decisions == nil {
		return
	}
	_ = w.decisions.Log(&types.AIDecision{
		ID:           utils.GenerateID("dec"),
		AccountID:    accountID,
		Symbol:       symbol,
		DecisionType: "RISK_LIMIT",
		Approved:     false,
		Impact:       types.ImpactHigh,
		Outcome:      "symbol_paused",
		Reasoning:    fmt.Sprintf("%d stop-loss hits within %s", len(kept), slHitWindow),
		CreatedAt:    time.Now().UTC(),
	})
}

// Paused reports whether symbol is currently under an SL-hit cooldown,
// satisfying autotrader's CooldownSource.
func (w *SLCooldownWorker) Paused(accountID, symbol string) (bool, string) {
	key := symbolKey{accountID: accountID, symbol: symbol}
	w.mu.Lock()
	defer w.mu.Unlock()
	until, ok := w.pausedUntil[key]
	if !ok || time.Now().UTC().After(until) {
		return false, ""
	}
	return true, "sl_hit_cooldown"
}
