package signalengine

import (
	"sync"
	"time"

	"github.com/atlas-ea/bridge/pkg/types"
)

// cacheKey identifies one indicator's output for one closed bar. Keying by
// bar_close_time (rather than an independent per-indicator TTL) is what keeps
// a single evaluation's indicators all reflecting the same closing bar —
// a "cache coherence" requirement: indicators computed within one pass must not be invalidated mid-evaluation.
type cacheKey struct {
	Symbol    string
	Timeframe types.Timeframe
	Indicator string
	BarClose  int64
}

type inflight struct {
	done chan struct{}
	val  any
	err  error
}

// IndicatorCache is a concurrency-safe, read-through cache of indicator
// results. A miss triggers computation under a per-key lock so concurrent
// evaluators for the same (symbol, timeframe, bar) never duplicate work —
// a hand-rolled single-flight, since no pack repo imports golang.org/x/sync.
type IndicatorCache struct {
	mu      sync.Mutex
	entries map[cacheKey]any
	calls   map[cacheKey]*inflight
}

// NewIndicatorCache builds an empty cache.
func NewIndicatorCache() *IndicatorCache {
	return &IndicatorCache{
		entries: make(map[cacheKey]any),
		calls:   make(map[cacheKey]*inflight),
	}
}

// Get returns the cached value for (symbol, timeframe, indicator, barClose),
// computing it via compute if absent. Concurrent callers for the same key
// block on the first caller's computation rather than repeating it.
func (c *IndicatorCache) Get(symbol string, tf types.Timeframe, indicator string, barClose time.Time, compute func() (any, error)) (any, error) {
	key := cacheKey{Symbol: symbol, Timeframe: tf, Indicator: indicator, BarClose: barClose.Unix()}

	c.mu.Lock()
	if v, ok := c.entries[key]; ok {
		c.mu.Unlock()
		return v, nil
	}
	if f, ok := c.calls[key]; ok {
		c.mu.Unlock()
		<-f.done
		return f.val, f.err
	}

	f := &inflight{done: make(chan struct{})}
	c.calls[key] = f
	c.mu.Unlock()

	f.val, f.err = compute()
	close(f.done)

	c.mu.Lock()
	if f.err == nil {
		c.entries[key] = f.val
	}
	delete(c.calls, key)
	c.mu.Unlock()

	return f.val, f.err
}

// InvalidateBar drops every cached indicator for a symbol/timeframe older
// than the newly closed bar, called when a fresh bar closes so evaluations
// never mix a stale cohort with the new one.
func (c *IndicatorCache) InvalidateBar(symbol string, tf types.Timeframe, newBarClose time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := newBarClose.Unix()
	for k := range c.entries {
		if k.Symbol == symbol && k.Timeframe == tf && k.BarClose < cutoff {
			delete(c.entries, k)
		}
	}
}
