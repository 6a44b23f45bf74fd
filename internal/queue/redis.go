// Package queue provides an optional Redis pub/sub fanout for command
// readiness notifications, letting a get_commands long-poll handler wake
// immediately instead of on its next poll tick when another goroutine (or,
// in a multi-instance deployment, another process) enqueues work for an
// account.
package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const channelPrefix = "bridge:commands:ready:"

// RedisNotifier implements commctl.Notifier over a Redis pub/sub channel
// per account, and also lets local long-poll handlers subscribe to the same
// readiness events via Await.
type RedisNotifier struct {
	client *redis.Client
	logger *zap.Logger

	mu     sync.Mutex
	waiter map[string][]chan struct{}
}

// NewRedisNotifier dials addr (host:port) and returns a RedisNotifier, or an
// error if the connection cannot be established.
func NewRedisNotifier(ctx context.Context, addr string, logger *zap.Logger) (*RedisNotifier, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}
	n := &RedisNotifier{
		client: client,
		logger: logger.Named("queue.redis"),
		waiter: make(map[string][]chan struct{}),
	}
	go n.listen(ctx)
	return n, nil
}

// NotifyCommandsReady publishes a readiness event for accountID, satisfying
// commctl.Notifier.
func (n *RedisNotifier) NotifyCommandsReady(accountID string) {
	if err := n.client.Publish(context.Background(), channelPrefix+accountID, "1").Err(); err != nil {
		n.logger.Warn("publishing command-ready event failed", zap.String("account_id", accountID), zap.Error(err))
	}
}

// Await blocks until a readiness event arrives for accountID or ctx is
// cancelled. internal/httpapi's get_commands handler does not call it; it
// drains whatever is queued when the request arrives.
func (n *RedisNotifier) Await(ctx context.Context, accountID string) {
	ch := make(chan struct{}, 1)
	n.mu.Lock()
	n.waiter[accountID] = append(n.waiter[accountID], ch)
	n.mu.Unlock()

	select {
	case <-ch:
	case <-ctx.Done():
	}

	n.mu.Lock()
	waiters := n.waiter[accountID]
	for i, w := range waiters {
		if w == ch {
			n.waiter[accountID] = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}
	n.mu.Unlock()
}

func (n *RedisNotifier) listen(ctx context.Context) {
	pubsub := n.client.PSubscribe(ctx, channelPrefix+"*")
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			accountID := msg.Channel[len(channelPrefix):]
			n.mu.Lock()
			waiters := n.waiter[accountID]
			n.waiter[accountID] = nil
			n.mu.Unlock()
			for _, w := range waiters {
				select {
				case w <- struct{}{}:
				default:
				}
			}
		}
	}
}

// Close releases the underlying Redis client.
func (n *RedisNotifier) Close() error {
	return n.client.Close()
}

// NoopNotifier satisfies commctl.Notifier when no Redis address is
// configured; get_commands handlers fall back to short-interval polling.
type NoopNotifier struct{}

// NotifyCommandsReady is a no-op.
func (NoopNotifier) NotifyCommandsReady(string) {}
