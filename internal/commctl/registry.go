// Package commctl implements the communication core: connection health
// tracking, the per-account command queue, and trade reconciliation between
// the EA's reported positions and local state.
package commctl

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-ea/bridge/pkg/types"
)

const (
	healthScoreMax = 100
	healthScoreMin = 0
	healthDelta    = 10
	healthRecovery = 5

	failedThresholdConsecutive = 5
)

// trackedConn wraps the public Connection snapshot with registry-private
// bookkeeping not exposed to callers.
type trackedConn struct {
	conn                types.Connection
	consecutiveFailures int
}

// ConnectionRegistry tracks per-account EA connection state and health,
// implementing the communication core's connection health state machine.
type ConnectionRegistry struct {
	mu    sync.RWMutex
	conns map[string]*trackedConn

	logger           *zap.Logger
	heartbeatTimeout time.Duration
}

// NewConnectionRegistry builds a registry using heartbeatTimeout as the
// staleness window for RECONNECTING/FAILED promotion.
func NewConnectionRegistry(heartbeatTimeout time.Duration, logger *zap.Logger) *ConnectionRegistry {
	return &ConnectionRegistry{
		conns:            make(map[string]*trackedConn),
		logger:           logger.Named("commctl.registry"),
		heartbeatTimeout: heartbeatTimeout,
	}
}

// Connect registers a new or returning account, starting it in CONNECTING
// state until its first successful heartbeat.
func (r *ConnectionRegistry) Connect(accountID string) types.Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	tc, ok := r.conns[accountID]
	if !ok {
		tc = &trackedConn{conn: types.Connection{
			AccountID:      accountID,
			State:          types.ConnectionConnecting,
			HealthScore:    healthScoreMax,
			ConnectedSince: time.Now().UTC(),
		}}
		r.conns[accountID] = tc
	}
	return tc.conn
}

// Heartbeat records a successful heartbeat: resets consecutive failures,
// bumps health score, and promotes the connection to CONNECTED.
func (r *ConnectionRegistry) Heartbeat(accountID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tc, ok := r.conns[accountID]
	if !ok {
		tc = &trackedConn{conn: types.Connection{AccountID: accountID, ConnectedSince: time.Now().UTC()}}
		r.conns[accountID] = tc
	}

	tc.conn.LastSeen = time.Now().UTC()
	tc.consecutiveFailures = 0
	tc.conn.State = types.ConnectionConnected
	tc.conn.HealthScore = clampHealth(tc.conn.HealthScore + healthRecovery)
}

// RecordFailure records a missed/failed heartbeat poll, decaying health and
// promoting the state toward RECONNECTING/FAILED per the consecutive-failure
// threshold.
func (r *ConnectionRegistry) RecordFailure(accountID string, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tc, ok := r.conns[accountID]
	if !ok {
		return
	}
	tc.consecutiveFailures++
	tc.conn.LastError = reason
	tc.conn.HealthScore = clampHealth(tc.conn.HealthScore - healthDelta)

	if tc.consecutiveFailures >= failedThresholdConsecutive {
		tc.conn.State = types.ConnectionFailed
	} else {
		tc.conn.State = types.ConnectionReconnecting
	}
}

// Sweep re-evaluates every connection's staleness against now, promoting
// stale CONNECTED connections to RECONNECTING and very-stale ones to FAILED.
// Intended to run on a periodic ticker alongside the heartbeat path, since an
// EA that simply stops polling never calls RecordFailure itself.
func (r *ConnectionRegistry) Sweep(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, tc := range r.conns {
		if tc.conn.State == types.ConnectionConnecting {
			continue
		}
		age := now.Sub(tc.conn.LastSeen)
		switch {
		case age > 3*r.heartbeatTimeout:
			tc.conn.State = types.ConnectionFailed
		case age > r.heartbeatTimeout:
			tc.conn.State = types.ConnectionReconnecting
		}
	}
}

// Remove drops an account's connection record on a clean /disconnect.
// Queued commands are unaffected; they deliver on the next /connect.
func (r *ConnectionRegistry) Remove(accountID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, accountID)
}

// Get returns a snapshot of the connection, or nil if unknown.
func (r *ConnectionRegistry) Get(accountID string) *types.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tc, ok := r.conns[accountID]
	if !ok {
		return nil
	}
	cp := tc.conn
	return &cp
}

// IsHealthy reports whether commands should be delivered to this account:
// CONNECTED, heartbeat recency under the timeout, fewer than 3 consecutive
// failures, and health score above 50.
func (r *ConnectionRegistry) IsHealthy(accountID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tc, ok := r.conns[accountID]
	if !ok {
		return false
	}
	return tc.conn.State == types.ConnectionConnected &&
		time.Since(tc.conn.LastSeen) < r.heartbeatTimeout &&
		tc.consecutiveFailures < 3 &&
		tc.conn.HealthScore > 50
}

// All returns a snapshot of every tracked connection.
func (r *ConnectionRegistry) All() []types.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.Connection, 0, len(r.conns))
	for _, tc := range r.conns {
		out = append(out, tc.conn)
	}
	return out
}

func clampHealth(v int) int {
	if v > healthScoreMax {
		return healthScoreMax
	}
	if v < healthScoreMin {
		return healthScoreMin
	}
	return v
}
