package riskworkers

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-ea/bridge/pkg/types"
)

// newsPreWindow and newsPostWindow bracket a high-impact event from T-15min to T+5min
// pause bracket around a high-impact event.
const (
	newsPreWindow  = 15 * time.Minute
	newsPostWindow = 5 * time.Minute
)

// highImpact is the set of NewsEvent.Impact values that trigger a pause;
// low/medium impact events are recorded but never pause trading.
const highImpact = "HIGH"

// NewsEventStore is the subset of internal/store's NewsEventStore the
// worker needs.
type NewsEventStore interface {
	AroundWindow(currency string, from, to time.Time) ([]types.NewsEvent, error)
}

// NewsPauseWorker consults the externally-populated economic calendar and
// pauses trading on any symbol touching a currency with a high-impact event
// in its pause bracket. Unlike the other protection workers this one has no
// periodic loop of its own — Paused is a pure read evaluated fresh on every
// call by the gate, since the calendar itself changes only via an external
// ingester's Insert calls.
type NewsPauseWorker struct {
	news   NewsEventStore
	logger *zap.Logger
}

// NewNewsPauseWorker builds a NewsPauseWorker.
func NewNewsPauseWorker(news NewsEventStore, logger *zap.Logger) *NewsPauseWorker {
	return &NewsPauseWorker{news: news, logger: logger.Named("riskworkers.newspause")}
}

// Paused reports whether symbol is currently paused by a high-impact news
// event touching one of its component currencies, satisfying autotrader's
// CooldownSource.
func (w *NewsPauseWorker) Paused(accountID, symbol string) (bool, string) {
	now := time.Now().UTC()
	// An event at time T pauses [T-15min, T+5min); a symbol is paused now
	// iff some event's time falls in [now-5min, now+15min).
	from := now.Add(-newsPostWindow)
	to := now.Add(newsPreWindow)

	for _, currency := range symbolCurrencies(symbol) {
		events, err := w.news.AroundWindow(currency, from, to)
		if err != nil {
			w.logger.Warn("news calendar lookup failed", zap.String("symbol", symbol), zap.String("currency", currency), zap.Error(err))
			continue
		}
		for _, e := range events {
			if !strings.EqualFold(e.Impact, highImpact) {
				continue
			}
			return true, "news_pause:" + e.Title
		}
	}
	return false, ""
}

// symbolCurrencies splits an MT5-style symbol into its component currencies.
// Forex pairs are six letters (EURUSD -> EUR, USD); anything else is treated
// as a single pseudo-currency equal to the symbol itself (XAUUSD still
// splits as XAU/USD since it follows the same six-letter convention, but
// indices and crypto like US30 or BTCUSD fall back to the whole symbol).
func symbolCurrencies(symbol string) []string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if len(s) == 6 {
		allLetters := true
		for _, r := range s {
			if r < 'A' || r > 'Z' {
				allLetters = false
				break
			}
		}
		if allLetters {
			return []string{s[:3], s[3:]}
		}
	}
	return []string{s}
}
