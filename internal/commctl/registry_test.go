package commctl_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlas-ea/bridge/internal/commctl"
	"github.com/atlas-ea/bridge/pkg/types"
)

func TestConnectStartsConnecting(t *testing.T) {
	reg := commctl.NewConnectionRegistry(30*time.Second, zap.NewNop())
	c := reg.Connect("acct-1")
	require.Equal(t, types.ConnectionConnecting, c.State)
	require.Equal(t, 100, c.HealthScore)
}

func TestHeartbeatPromotesToConnected(t *testing.T) {
	reg := commctl.NewConnectionRegistry(30*time.Second, zap.NewNop())
	reg.Connect("acct-1")
	reg.Heartbeat("acct-1")

	got := reg.Get("acct-1")
	require.Equal(t, types.ConnectionConnected, got.State)
	require.True(t, reg.IsHealthy("acct-1"))
}

func TestFiveConsecutiveFailuresTripsFailed(t *testing.T) {
	reg := commctl.NewConnectionRegistry(30*time.Second, zap.NewNop())
	reg.Connect("acct-1")
	reg.Heartbeat("acct-1")

	for i := 0; i < 4; i++ {
		reg.RecordFailure("acct-1", "no response")
		require.Equal(t, types.ConnectionReconnecting, reg.Get("acct-1").State)
	}
	reg.RecordFailure("acct-1", "no response")
	require.Equal(t, types.ConnectionFailed, reg.Get("acct-1").State)
	require.False(t, reg.IsHealthy("acct-1"))
}

func TestHealthScoreClampedToRange(t *testing.T) {
	reg := commctl.NewConnectionRegistry(30*time.Second, zap.NewNop())
	reg.Connect("acct-1")

	for i := 0; i < 20; i++ {
		reg.RecordFailure("acct-1", "timeout")
	}
	require.Equal(t, 0, reg.Get("acct-1").HealthScore)

	for i := 0; i < 30; i++ {
		reg.Heartbeat("acct-1")
	}
	require.Equal(t, 100, reg.Get("acct-1").HealthScore)
}

func TestHeartbeatResetsConsecutiveFailures(t *testing.T) {
	reg := commctl.NewConnectionRegistry(30*time.Second, zap.NewNop())
	reg.Connect("acct-1")
	reg.Heartbeat("acct-1")

	reg.RecordFailure("acct-1", "timeout")
	reg.RecordFailure("acct-1", "timeout")
	reg.Heartbeat("acct-1")
	// after a reset, four more failures should not yet reach FAILED.
	for i := 0; i < 4; i++ {
		reg.RecordFailure("acct-1", "timeout")
	}
	require.Equal(t, types.ConnectionReconnecting, reg.Get("acct-1").State)
}

func TestSweepPromotesStaleConnections(t *testing.T) {
	reg := commctl.NewConnectionRegistry(30*time.Second, zap.NewNop())
	reg.Connect("acct-1")
	reg.Heartbeat("acct-1")

	future := time.Now().UTC().Add(40 * time.Second)
	reg.Sweep(future)
	require.Equal(t, types.ConnectionReconnecting, reg.Get("acct-1").State)

	farFuture := time.Now().UTC().Add(100 * time.Second)
	reg.Sweep(farFuture)
	require.Equal(t, types.ConnectionFailed, reg.Get("acct-1").State)
}
