// Package sizing computes the trade volume for an approved signal: a fixed
// fractional risk amount divided by the per-lot currency risk of the stop
// distance, clamped to the broker's volume bounds and snapped to its step.
package sizing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atlas-ea/bridge/pkg/utils"
)

// Bounds carries the broker-reported volume constraints a computed size
// must respect.
type Bounds struct {
	Min  decimal.Decimal
	Max  decimal.Decimal
	Step decimal.Decimal
}

// Calculate divides riskAmount by slDistanceInCurrency, clamps the result to
// bounds and snaps it to the volume step. It returns an error if the
// post-snap volume is zero or still below the minimum, matching the
// "if post-snap volume is zero or violates bounds, reject" rule.
func Calculate(riskAmount, slDistanceInCurrency decimal.Decimal, bounds Bounds) (decimal.Decimal, error) {
	if slDistanceInCurrency.IsZero() {
		return decimal.Zero, fmt.Errorf("sl distance computed as zero currency risk")
	}

	raw := riskAmount.Div(slDistanceInCurrency)
	volume := utils.ClampDecimal(raw, bounds.Min, bounds.Max)
	volume = utils.RoundToStepSize(volume, bounds.Step)

	if volume.IsZero() || volume.LessThan(bounds.Min) {
		return decimal.Zero, fmt.Errorf("post-snap volume %s is zero or below volume_min %s", volume, bounds.Min)
	}
	return volume, nil
}
