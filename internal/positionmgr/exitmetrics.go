package positionmgr

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-ea/bridge/pkg/types"
)

// ExitMetrics is the computed snapshot recorded when a trade transitions
// open -> closed.
type ExitMetrics struct {
	PipsCaptured        decimal.Decimal
	RiskRewardRealized  decimal.Decimal
	HoldDurationMinutes float64
	Session             string
	ExitBid             decimal.Decimal
	ExitAsk             decimal.Decimal
	ExitSpread          decimal.Decimal
}

// Session boundaries in UTC hour-of-day. Overlaps are allowed; primary
// session is chosen by priority NY > London > Asia > Sydney.
type sessionWindow struct {
	name          string
	startHour     int
	endHour       int // exclusive, wraps past midnight when endHour < startHour
	priority      int
}

var sessions = []sessionWindow{
	{"NY", 12, 21, 4},
	{"London", 7, 16, 3},
	{"Asia", 23, 8, 2},
	{"Sydney", 21, 6, 1},
}

func inWindow(hour, start, end int) bool {
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end // wraps midnight
}

// ResolveSession picks the primary UTC trading session for a timestamp.
func ResolveSession(at time.Time) string {
	hour := at.UTC().Hour()
	best := ""
	bestPriority := -1
	for _, w := range sessions {
		if inWindow(hour, w.startHour, w.endHour) && w.priority > bestPriority {
			best = w.name
			bestPriority = w.priority
		}
	}
	return best
}

// ComputeExitMetrics computes the pips/R:R/hold-duration
// calculation. pipSize comes from the symbol's BrokerSymbol spec.
func ComputeExitMetrics(trade *types.Trade, closeTime time.Time, pipSize, exitBid, exitAsk decimal.Decimal) ExitMetrics {
	direction := decimal.NewFromInt(1)
	if trade.Side == types.SignalSell {
		direction = decimal.NewFromInt(-1)
	}

	priceDelta := trade.ClosePrice.Sub(trade.OpenPrice).Mul(direction)
	pips := decimal.Zero
	if !pipSize.IsZero() {
		pips = priceDelta.Div(pipSize)
	}

	rr := decimal.Zero
	slDistance := trade.OpenPrice.Sub(trade.InitialStopLoss).Mul(direction)
	if !slDistance.IsZero() {
		rr = priceDelta.Div(slDistance.Abs())
		if slDistance.Sign() < 0 {
			rr = rr.Neg()
		}
	}

	holdMinutes := 0.0
	if !trade.OpenedAt.IsZero() {
		holdMinutes = closeTime.Sub(trade.OpenedAt).Minutes()
	}

	return ExitMetrics{
		PipsCaptured:        pips.Round(1),
		RiskRewardRealized:  rr.Round(2),
		HoldDurationMinutes: holdMinutes,
		Session:             ResolveSession(closeTime),
		ExitBid:             exitBid,
		ExitAsk:             exitAsk,
		ExitSpread:          exitAsk.Sub(exitBid),
	}
}

// AdoptWorkerCloseReason implements the close-reason adoption
// rule: a generic MANUAL close reported by the EA is overwritten with the
// more specific reason from a protective worker's own CLOSE_TRADE command,
// when one was the one that triggered this close.
func AdoptWorkerCloseReason(reportedReason types.CloseReason, workerIssuedReason types.CloseReason) types.CloseReason {
	if reportedReason == types.CloseReasonManual && workerIssuedReason != "" {
		return workerIssuedReason
	}
	return reportedReason
}
