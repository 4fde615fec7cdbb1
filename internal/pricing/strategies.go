package pricing

import "llmgate/internal/unified"

type fixedStrategy struct {
	rates Rates
}

func (s fixedStrategy) Mode() string { return ModeFixed }

func (s fixedStrategy) Cost(usage unified.Usage) Cost {
	return rateCost(s.rates, usage)
}

func (s fixedStrategy) AverageCost() float64 {
	return (s.rates.Input + s.rates.Output) / 2
}

// tieredStrategy prices a request by the single tier whose range covers
// the request's total token volume. Tiers are validated and sorted by
// Start at construction.
type tieredStrategy struct {
	tiers []Tier
}

func (s tieredStrategy) Mode() string { return ModeTiered }

func (s tieredStrategy) Cost(usage unified.Usage) Cost {
	total := int64(usage.InputTokens) + int64(usage.OutputTokens)

	return rateCost(s.tierFor(total).Rates, usage)
}

func (s tieredStrategy) tierFor(total int64) Tier {
	selected := s.tiers[0]
	for _, tier := range s.tiers[1:] {
		if tier.Start > total {
			break
		}

		selected = tier
	}

	return selected
}

func (s tieredStrategy) AverageCost() float64 {
	first := s.tiers[0]

	return (first.Input + first.Output) / 2
}

type perRequestStrategy struct {
	price float64
}

func (s perRequestStrategy) Mode() string { return ModePerRequest }

func (s perRequestStrategy) Cost(unified.Usage) Cost {
	return Cost{Total: s.price}
}

func (s perRequestStrategy) AverageCost() float64 { return s.price }

// AverageCost returns a representative blended rate for a strategy, used
// to weight cheaper models higher during selection. Strategies that
// cannot provide one weigh as zero.
func AverageCost(s Strategy) float64 {
	type averager interface{ AverageCost() float64 }

	if a, ok := s.(averager); ok {
		return a.AverageCost()
	}

	return 0
}
