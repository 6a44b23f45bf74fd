package riskworkers

// CooldownSource matches autotrader's CooldownSource, duplicated here so
// this package doesn't import internal/autotrader.
type CooldownSource interface {
	Paused(accountID, symbol string) (bool, string)
}

// CombinedCooldowns satisfies autotrader's CooldownSource by checking every
// underlying source in order and returning the first pause found, so the
// gate's single step 4 check covers SL-hit cooldown, news pauses, and any
// future per-symbol-disabled source without changing the gate's interface.
type CombinedCooldowns struct {
	sources []CooldownSource
}

// NewCombinedCooldowns builds a CombinedCooldowns over the given sources.
func NewCombinedCooldowns(sources ...CooldownSource) *CombinedCooldowns {
	return &CombinedCooldowns{sources: sources}
}

// Paused returns the first pause reported by any source.
func (c *CombinedCooldowns) Paused(accountID, symbol string) (bool, string) {
	for _, s := range c.sources {
		if paused, reason := s.Paused(accountID, symbol); paused {
			return true, reason
		}
	}
	return false, ""
}
