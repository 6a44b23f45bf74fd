package commctl

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-ea/bridge/pkg/types"
)

// CommandStore is the persistence dependency of CommandQueue.
type CommandStore interface {
	Insert(c *types.Command) error
	PendingByAccount(accountID string) ([]types.Command, error)
	ExecutingOlderThan(cutoff time.Time) ([]types.Command, error)
	MarkSent(id string) error
	MarkCompleted(id string) error
	Requeue(id string) (failed bool, err error)
	MarkFailed(id string) error
	Get(id string) (*types.Command, error)
}

// Notifier optionally announces that new commands are ready for an account,
// supplementing the DB as a latency optimization.
// Implemented by internal/queue's Redis pub/sub layer when configured.
type Notifier interface {
	NotifyCommandsReady(accountID string)
}

type queueItem struct {
	command  types.Command
	seq      int64
	index    int
}

// accountHeap orders PENDING commands by priority desc, FIFO (sequence asc)
// as tiebreak.
type accountHeap []*queueItem

func (h accountHeap) Len() int { return len(h) }
func (h accountHeap) Less(i, j int) bool {
	if h[i].command.Priority != h[j].command.Priority {
		return h[i].command.Priority > h[j].command.Priority
	}
	return h[i].seq < h[j].seq
}
func (h accountHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *accountHeap) Push(x any) {
	item := x.(*queueItem)
	item.index = len(*h)
	*h = append(*h, item)
}
func (h *accountHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// CommandQueue maintains one priority heap of PENDING commands per account,
// backed by CommandStore as the durable source of truth: every enqueue is
// persisted before it is pushed, and on crash recovery the heaps are rebuilt
// from PENDING rows.
type CommandQueue struct {
	mu       sync.Mutex
	heaps    map[string]*accountHeap
	seq      int64
	store    CommandStore
	notifier Notifier
	logger   *zap.Logger

	defaultTimeout    time.Duration
	defaultMaxRetries int
}

// NewCommandQueue builds a CommandQueue. notifier may be nil.
func NewCommandQueue(store CommandStore, notifier Notifier, defaultTimeout time.Duration, defaultMaxRetries int, logger *zap.Logger) *CommandQueue {
	return &CommandQueue{
		heaps:             make(map[string]*accountHeap),
		store:             store,
		notifier:          notifier,
		logger:            logger.Named("commctl.queue"),
		defaultTimeout:    defaultTimeout,
		defaultMaxRetries: defaultMaxRetries,
	}
}

// Restore rebuilds every account's heap from PENDING rows, called once at
// startup after a crash or restart.
func (q *CommandQueue) Restore(accountIDs []string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, accountID := range accountIDs {
		pending, err := q.store.PendingByAccount(accountID)
		if err != nil {
			return fmt.Errorf("restoring queue for %s: %w", accountID, err)
		}
		h := &accountHeap{}
		heap.Init(h)
		for _, c := range pending {
			q.seq++
			heap.Push(h, &queueItem{command: c, seq: q.seq})
		}
		q.heaps[accountID] = h
	}
	return nil
}

// Per-tier response deadlines: urgent commands are given less time before
// the sweeper retries them.
const (
	timeoutSecondsHigh     = 10
	timeoutSecondsCritical = 5
)

// timeoutForPriority maps a command's priority tier to its default
// timeout_seconds when the caller didn't set one explicitly.
func (q *CommandQueue) timeoutForPriority(priority int) int {
	switch {
	case priority >= types.PriorityCritical:
		return timeoutSecondsCritical
	case priority >= types.PriorityHigh:
		return timeoutSecondsHigh
	default:
		return int(q.defaultTimeout.Seconds())
	}
}

// Enqueue persists a new Command row, then pushes it onto the account's heap.
func (q *CommandQueue) Enqueue(c *types.Command) error {
	if c.ID == "" {
		return fmt.Errorf("enqueue: command ID must be set")
	}
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = q.timeoutForPriority(c.Priority)
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = q.defaultMaxRetries
	}
	c.Status = types.CommandPending

	if err := q.store.Insert(c); err != nil {
		return fmt.Errorf("enqueue %s: %w", c.ID, err)
	}

	q.mu.Lock()
	h, ok := q.heaps[c.AccountID]
	if !ok {
		h = &accountHeap{}
		heap.Init(h)
		q.heaps[c.AccountID] = h
	}
	q.seq++
	heap.Push(h, &queueItem{command: *c, seq: q.seq})
	q.mu.Unlock()

	if q.notifier != nil {
		q.notifier.NotifyCommandsReady(c.AccountID)
	}
	return nil
}

// Drain pops up to n commands from the account's heap, transitioning each to
// EXECUTING and stamping sent_at.
func (q *CommandQueue) Drain(accountID string, n int) ([]types.Command, error) {
	q.mu.Lock()
	h, ok := q.heaps[accountID]
	if !ok || h.Len() == 0 {
		q.mu.Unlock()
		return nil, nil
	}

	drained := make([]types.Command, 0, n)
	for h.Len() > 0 && len(drained) < n {
		item := heap.Pop(h).(*queueItem)
		drained = append(drained, item.command)
	}
	q.mu.Unlock()

	out := make([]types.Command, 0, len(drained))
	for _, c := range drained {
		if err := q.store.MarkSent(c.ID); err != nil {
			q.logger.Warn("failed to mark command sent", zap.String("command_id", c.ID), zap.Error(err))
			continue
		}
		c.Status = types.CommandExecuting
		out = append(out, c)
	}
	return out, nil
}

// Complete marks a command COMPLETED after a successful command_response.
func (q *CommandQueue) Complete(commandID string) error {
	return q.store.MarkCompleted(commandID)
}

// Fail requeues or permanently fails a command whose EA response reported an
// error, or which timed out without a response. Returns whether the command
// was permanently failed (max_retries exhausted).
func (q *CommandQueue) Fail(commandID string) (bool, error) {
	failed, err := q.store.Requeue(commandID)
	if err != nil {
		return false, err
	}
	if !failed {
		c, err := q.store.Get(commandID)
		if err != nil {
			return false, err
		}
		if c != nil {
			q.mu.Lock()
			h, ok := q.heaps[c.AccountID]
			if !ok {
				h = &accountHeap{}
				heap.Init(h)
				q.heaps[c.AccountID] = h
			}
			q.seq++
			heap.Push(h, &queueItem{command: *c, seq: q.seq})
			q.mu.Unlock()
		}
	}
	return failed, nil
}

// FailPermanently marks a command FAILED without consuming retries, used for
// non-retriable EA errors (broker rejection, validation) where repeating the
// command cannot succeed.
func (q *CommandQueue) FailPermanently(commandID string) error {
	return q.store.MarkFailed(commandID)
}

// TimeoutSweeper periodically requeues or fails EXECUTING commands whose
// timeout_seconds has elapsed without a command_response.
type TimeoutSweeper struct {
	queue    *CommandQueue
	store    CommandStore
	interval time.Duration
	logger   *zap.Logger
}

// NewTimeoutSweeper builds a TimeoutSweeper.
func NewTimeoutSweeper(queue *CommandQueue, store CommandStore, interval time.Duration, logger *zap.Logger) *TimeoutSweeper {
	return &TimeoutSweeper{queue: queue, store: store, interval: interval, logger: logger.Named("commctl.timeout_sweeper")}
}

// Run blocks, sweeping on each tick of interval until ctx is cancelled.
func (s *TimeoutSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *TimeoutSweeper) sweep() {
	// A fixed lookback covers the common timeout window; per-command
	// timeout_seconds is enforced by filtering the candidates below.
	candidates, err := s.store.ExecutingOlderThan(time.Now().UTC().Add(-1 * time.Second))
	if err != nil {
		s.logger.Warn("timeout sweep query failed", zap.Error(err))
		return
	}

	now := time.Now().UTC()
	for _, c := range candidates {
		if c.SentAt == nil {
			continue
		}
		if now.Sub(*c.SentAt) < time.Duration(c.TimeoutSeconds)*time.Second {
			continue
		}
		failed, err := s.queue.Fail(c.ID)
		if err != nil {
			s.logger.Warn("failed to requeue timed-out command", zap.String("command_id", c.ID), zap.Error(err))
			continue
		}
		if failed {
			s.logger.Warn("command permanently failed after timeout", zap.String("command_id", c.ID), zap.String("account_id", c.AccountID))
		}
	}
}
