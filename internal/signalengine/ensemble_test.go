package signalengine_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/atlas-ea/bridge/internal/signalengine"
	"github.com/atlas-ea/bridge/pkg/types"
)

func vote(dir types.SignalType, weight, strength float64) signalengine.Vote {
	return signalengine.Vote{Direction: dir, Weight: weight, Strength: strength}
}

func TestEnsembleBuyRequiresThreeAgreeingAndMargin(t *testing.T) {
	// Three strong BUY votes, one SELL: buy_count >= sell_count+2 holds and
	// confidence clears 65, so BUY validates with the 5-point correction.
	votes := []signalengine.Vote{
		vote(types.SignalBuy, 1, 0.9),
		vote(types.SignalBuy, 1, 0.9),
		vote(types.SignalBuy, 1, 0.9),
		vote(types.SignalSell, 0.5, 0.2),
	}
	r := signalengine.Evaluate(votes)
	require.Equal(t, types.SignalBuy, r.Direction)
	require.Equal(t, 3, r.AgreeingCount)

	// Weighted confidence 100*2.7/3.5 ≈ 77.1, minus the BUY correction.
	require.InDelta(t, 72.14, r.Confidence, 0.1)
}

func TestEnsembleBuyBlockedWithoutTwoVoteMargin(t *testing.T) {
	// 3 BUY vs 2 SELL: margin of 1 fails the buy_count >= sell_count+2 rule
	// even though three indicators agree.
	votes := []signalengine.Vote{
		vote(types.SignalBuy, 1, 0.9),
		vote(types.SignalBuy, 1, 0.9),
		vote(types.SignalBuy, 1, 0.9),
		vote(types.SignalSell, 0.1, 0.1),
		vote(types.SignalSell, 0.1, 0.1),
	}
	r := signalengine.Evaluate(votes)
	require.Equal(t, types.SignalHold, r.Direction)
}

func TestEnsembleSellValidatesOnSimpleMajority(t *testing.T) {
	votes := []signalengine.Vote{
		vote(types.SignalSell, 1, 0.9),
		vote(types.SignalSell, 1, 0.8),
		vote(types.SignalBuy, 0.5, 0.3),
	}
	r := signalengine.Evaluate(votes)
	require.Equal(t, types.SignalSell, r.Direction)
	require.Equal(t, 2, r.AgreeingCount)
	// SELL gets no bias correction: 100*1.7/2.5 = 68.
	require.InDelta(t, 68.0, r.Confidence, 0.01)
}

func TestEnsembleSellBlockedBelowConfidenceFloor(t *testing.T) {
	// Two agreeing SELL votes whose weighted confidence sits under 60.
	votes := []signalengine.Vote{
		vote(types.SignalSell, 1, 0.5),
		vote(types.SignalSell, 1, 0.5),
		vote(types.SignalHold, 1, 0),
	}
	r := signalengine.Evaluate(votes)
	require.Equal(t, types.SignalHold, r.Direction)
}

func TestEnsembleHoldOnNoVotes(t *testing.T) {
	r := signalengine.Evaluate(nil)
	require.Equal(t, types.SignalHold, r.Direction)
	require.Zero(t, r.Confidence)
}
