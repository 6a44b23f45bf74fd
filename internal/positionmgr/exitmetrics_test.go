package positionmgr_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/atlas-ea/bridge/internal/positionmgr"
	"github.com/atlas-ea/bridge/pkg/types"
)

func TestResolveSessionPriority(t *testing.T) {
	cases := []struct {
		hour int
		want string
	}{
		{13, "NY"},     // London/NY overlap: NY wins
		{8, "London"},  // London only (Asia ends at 08)
		{23, "Asia"},   // Asia/Sydney overlap: Asia wins
		{22, "Sydney"}, // Sydney only
		{2, "Asia"},    // Asia wraps past midnight
		{17, "NY"},
	}
	for _, tc := range cases {
		at := time.Date(2025, 3, 10, tc.hour, 30, 0, 0, time.UTC)
		require.Equal(t, tc.want, positionmgr.ResolveSession(at), "hour %d", tc.hour)
	}
}

func TestComputeExitMetricsBuy(t *testing.T) {
	openedAt := time.Date(2025, 3, 10, 13, 0, 0, 0, time.UTC)
	closedAt := openedAt.Add(90 * time.Minute)

	trade := &types.Trade{
		Side:            types.SignalBuy,
		OpenPrice:       decimal.NewFromFloat(1.08500),
		ClosePrice:      decimal.NewFromFloat(1.08660),
		InitialStopLoss: decimal.NewFromFloat(1.08404),
		OpenedAt:        openedAt,
	}

	m := positionmgr.ComputeExitMetrics(trade, closedAt,
		decimal.NewFromFloat(0.0001),
		decimal.NewFromFloat(1.08658), decimal.NewFromFloat(1.08661))

	require.True(t, m.PipsCaptured.Equal(decimal.NewFromFloat(16.0)), "pips = %s", m.PipsCaptured)
	require.True(t, m.RiskRewardRealized.Equal(decimal.NewFromFloat(1.67)), "rr = %s", m.RiskRewardRealized)
	require.InDelta(t, 90.0, m.HoldDurationMinutes, 0.01)
	require.Equal(t, "NY", m.Session)
	require.True(t, m.ExitSpread.Equal(decimal.NewFromFloat(0.00003)))
}

func TestComputeExitMetricsSellLoss(t *testing.T) {
	openedAt := time.Date(2025, 3, 10, 7, 30, 0, 0, time.UTC)
	closedAt := openedAt.Add(30 * time.Minute)

	trade := &types.Trade{
		Side:            types.SignalSell,
		OpenPrice:       decimal.NewFromFloat(1.08500),
		ClosePrice:      decimal.NewFromFloat(1.08596), // stopped out
		InitialStopLoss: decimal.NewFromFloat(1.08596),
		OpenedAt:        openedAt,
	}

	m := positionmgr.ComputeExitMetrics(trade, closedAt,
		decimal.NewFromFloat(0.0001), decimal.Zero, decimal.Zero)

	require.True(t, m.PipsCaptured.IsNegative(), "pips = %s", m.PipsCaptured)
	require.True(t, m.RiskRewardRealized.Equal(decimal.NewFromInt(-1)), "rr = %s", m.RiskRewardRealized)
	require.Equal(t, "London", m.Session)
}

func TestAdoptWorkerCloseReason(t *testing.T) {
	// A generic MANUAL close adopts the protective worker's reason.
	got := positionmgr.AdoptWorkerCloseReason(types.CloseReasonManual, types.CloseReasonTimeout)
	require.Equal(t, types.CloseReasonTimeout, got)

	// A specific EA-reported reason is never overwritten.
	got = positionmgr.AdoptWorkerCloseReason(types.CloseReasonTP, types.CloseReasonTimeout)
	require.Equal(t, types.CloseReasonTP, got)

	// No worker command on record: the reported reason stands.
	got = positionmgr.AdoptWorkerCloseReason(types.CloseReasonManual, "")
	require.Equal(t, types.CloseReasonManual, got)
}
