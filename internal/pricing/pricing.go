// Package pricing computes request costs from token usage. A model carries
// one pricing mode: fixed per-million rates, volume tiers, or a flat
// per-request charge.
package pricing

import (
	"fmt"
	"math"

	"llmgate/internal/unified"
)

// Mode names accepted in model pricing configuration.
const (
	ModeFixed      = "fixed"
	ModeTiered     = "tiered"
	ModePerRequest = "per_request"
)

// Rates holds per-million-token prices for one tier or a fixed schedule.
type Rates struct {
	Input       float64 `json:"input" yaml:"input"`
	Output      float64 `json:"output" yaml:"output"`
	CachedInput float64 `json:"cached_input,omitempty" yaml:"cached_input,omitempty"`
	CacheWrite  float64 `json:"cache_write,omitempty" yaml:"cache_write,omitempty"`
}

// Tier is one step of a tiered schedule. Start is the first total token
// count (input plus output) the tier applies to; the tier covering a
// request is chosen by that total volume alone and prices all of its
// tokens.
type Tier struct {
	Start int64 `json:"start" yaml:"start"`
	Rates `yaml:",inline"`
}

// ModelPricing is the configured pricing for one concrete model.
type ModelPricing struct {
	Mode       string  `json:"mode" yaml:"mode"`
	Rates      Rates   `json:"rates,omitempty" yaml:"rates,omitempty"`
	Tiers      []Tier  `json:"tiers,omitempty" yaml:"tiers,omitempty"`
	PerRequest float64 `json:"per_request,omitempty" yaml:"per_request,omitempty"`
}

// Cost is the priced breakdown of a single request, in dollars rounded
// half-up to six decimals per component.
type Cost struct {
	Input      float64
	Output     float64
	CacheRead  float64
	CacheWrite float64
	Total      float64
}

// Strategy prices a request from its usage.
type Strategy interface {
	Mode() string
	Cost(usage unified.Usage) Cost
}

// New builds the strategy for a model's pricing block, validating it the
// way config load does.
func New(mp ModelPricing) (Strategy, error) {
	switch mp.Mode {
	case ModeFixed, "":
		return fixedStrategy{rates: mp.Rates}, nil
	case ModeTiered:
		if err := ValidateTiers(mp.Tiers); err != nil {
			return nil, err
		}

		return tieredStrategy{tiers: mp.Tiers}, nil
	case ModePerRequest:
		if mp.PerRequest < 0 {
			return nil, &unified.ConfigurationError{Detail: "per_request price must be non-negative"}
		}

		return perRequestStrategy{price: round6(mp.PerRequest)}, nil
	default:
		return nil, &unified.ConfigurationError{
			Detail: fmt.Sprintf("unknown pricing mode %q", mp.Mode),
		}
	}
}

// ValidateTiers checks a tiered schedule at load time: at least one tier,
// the first starting at zero, strictly increasing starts, and
// non-negative rates.
func ValidateTiers(tiers []Tier) error {
	if len(tiers) == 0 {
		return &unified.ConfigurationError{Detail: "tiered pricing requires at least one tier"}
	}

	if tiers[0].Start != 0 {
		return &unified.ConfigurationError{
			Detail: fmt.Sprintf("first tier must start at 0, got %d", tiers[0].Start),
		}
	}

	for i, tier := range tiers {
		if i > 0 && tier.Start <= tiers[i-1].Start {
			return &unified.ConfigurationError{
				Detail: fmt.Sprintf("tier %d start %d must exceed tier %d start %d",
					i, tier.Start, i-1, tiers[i-1].Start),
			}
		}

		if tier.Input < 0 || tier.Output < 0 || tier.CachedInput < 0 || tier.CacheWrite < 0 {
			return &unified.ConfigurationError{
				Detail: fmt.Sprintf("tier %d has a negative rate", i),
			}
		}
	}

	return nil
}

// round6 rounds a dollar amount half-up to six decimal places.
func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

// rateCost prices token counts against per-million rates.
func rateCost(rates Rates, usage unified.Usage) Cost {
	const million = 1_000_000

	billedInput := usage.InputTokens - usage.CachedInputTokens
	if billedInput < 0 {
		billedInput = 0
	}

	cost := Cost{
		Input:      round6(float64(billedInput) * rates.Input / million),
		Output:     round6(float64(usage.OutputTokens) * rates.Output / million),
		CacheRead:  round6(float64(usage.CachedInputTokens) * rates.CachedInput / million),
		CacheWrite: round6(float64(usage.CacheCreationTokens) * rates.CacheWrite / million),
	}
	cost.Total = round6(cost.Input + cost.Output + cost.CacheRead + cost.CacheWrite)

	return cost
}
