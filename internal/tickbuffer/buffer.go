// Package tickbuffer provides a bounded, per-symbol ring buffer for
// high-volume tick ingest, drained periodically to persistent storage.
package tickbuffer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-ea/bridge/pkg/types"
)

// ring is a fixed-capacity circular buffer for one symbol's ticks. A full
// ring drops the oldest tick rather than blocking the ingest path.
type ring struct {
	mu      sync.Mutex
	buf     []types.Tick
	head    int
	size    int
	dropped uint64
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]types.Tick, capacity)}
}

func (r *ring) push(t types.Tick) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size == len(r.buf) {
		r.head = (r.head + 1) % len(r.buf)
		r.dropped++
	} else {
		r.size++
	}
	idx := (r.head + r.size - 1) % len(r.buf)
	r.buf[idx] = t
}

func (r *ring) drain() []types.Tick {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]types.Tick, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	r.head, r.size = 0, 0
	return out
}

// Sink persists a batch of ticks; implemented by store.TickStore.
type Sink interface {
	InsertBatch(ticks []types.Tick) error
}

// Buffer fans tick writes out across one ring per symbol and flushes them on
// a timer or once a per-symbol threshold is reached.
type Buffer struct {
	sink      Sink
	logger    *zap.Logger
	capacity  int
	threshold int
	interval  time.Duration

	mu     sync.RWMutex
	rings  map[string]*ring
	onTick func(types.Tick)
}

// New builds a Buffer. onTick, if set, is invoked synchronously on every
// ingested tick — used to publish tick events onto the event bus for the
// signal engine's evaluation triggers.
func New(sink Sink, capacity int, threshold int, interval time.Duration, logger *zap.Logger, onTick func(types.Tick)) *Buffer {
	return &Buffer{
		sink:      sink,
		logger:    logger.Named("tickbuffer"),
		capacity:  capacity,
		threshold: threshold,
		interval:  interval,
		rings:     make(map[string]*ring),
		onTick:    onTick,
	}
}

// Ingest adds a tick to its symbol's ring, creating the ring on first use.
func (b *Buffer) Ingest(t types.Tick) {
	b.mu.RLock()
	r, ok := b.rings[t.Symbol]
	b.mu.RUnlock()

	if !ok {
		b.mu.Lock()
		r, ok = b.rings[t.Symbol]
		if !ok {
			r = newRing(b.capacity)
			b.rings[t.Symbol] = r
		}
		b.mu.Unlock()
	}

	r.push(t)
	if b.onTick != nil {
		b.onTick(t)
	}

	r.mu.Lock()
	full := r.size >= b.threshold
	r.mu.Unlock()
	if full {
		b.flushSymbol(t.Symbol, r)
	}
}

// Run blocks, flushing every ring on each tick of the configured interval
// until ctx is cancelled.
func (b *Buffer) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.flushAll()
			return
		case <-ticker.C:
			b.flushAll()
		}
	}
}

func (b *Buffer) flushAll() {
	b.mu.RLock()
	symbols := make([]string, 0, len(b.rings))
	rings := make([]*ring, 0, len(b.rings))
	for sym, r := range b.rings {
		symbols = append(symbols, sym)
		rings = append(rings, r)
	}
	b.mu.RUnlock()

	for i, sym := range symbols {
		b.flushSymbol(sym, rings[i])
	}
}

func (b *Buffer) flushSymbol(symbol string, r *ring) {
	batch := r.drain()
	if len(batch) == 0 {
		return
	}
	if err := b.sink.InsertBatch(batch); err != nil {
		b.logger.Warn("tick flush failed", zap.String("symbol", symbol), zap.Int("count", len(batch)), zap.Error(err))
		return
	}
	b.logger.Debug("flushed ticks", zap.String("symbol", symbol), zap.Int("count", len(batch)))
}

// DroppedCount returns the total ticks dropped due to a full ring for a
// symbol, exposed via internal/metrics.
func (b *Buffer) DroppedCount(symbol string) uint64 {
	b.mu.RLock()
	r, ok := b.rings[symbol]
	b.mu.RUnlock()
	if !ok {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}
