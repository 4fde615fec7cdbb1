// Package balancer selects one upstream binding among a logical model's
// candidates. Three strategies are provided: round_robin, random and
// hybrid, which weights candidates by configured quality and inverse
// average cost.
package balancer

import (
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"

	"llmgate/internal/pricing"
	"llmgate/internal/registry"
	"llmgate/internal/unified"
)

// Strategy names accepted in router configuration.
const (
	StrategyRoundRobin = "round_robin"
	StrategyRandom     = "random"
	StrategyHybrid     = "hybrid"
)

// Strategy picks one binding from a non-empty candidate list.
type Strategy interface {
	Name() string
	Select(logical string, candidates []*registry.Binding) *registry.Binding
}

// New returns the named strategy. Unknown names are a configuration
// error.
func New(name string) (Strategy, error) {
	switch name {
	case StrategyRoundRobin, "":
		return NewRoundRobin(), nil
	case StrategyRandom:
		return Random{}, nil
	case StrategyHybrid:
		return Hybrid{}, nil
	default:
		return nil, &unified.ConfigurationError{
			Detail: fmt.Sprintf("unknown balancer strategy %q", name),
		}
	}
}

// RoundRobin cycles through candidates with an independent counter per
// logical model, so traffic on one model does not skew another's
// rotation.
type RoundRobin struct {
	counters sync.Map // logical name -> *atomic.Uint64
}

func NewRoundRobin() *RoundRobin { return &RoundRobin{} }

func (r *RoundRobin) Name() string { return StrategyRoundRobin }

func (r *RoundRobin) Select(logical string, candidates []*registry.Binding) *registry.Binding {
	if len(candidates) == 0 {
		return nil
	}

	counter, _ := r.counters.LoadOrStore(logical, &atomic.Uint64{})
	n := counter.(*atomic.Uint64).Add(1) - 1

	return candidates[n%uint64(len(candidates))]
}

// Random picks uniformly.
type Random struct{}

func (Random) Name() string { return StrategyRandom }

func (Random) Select(_ string, candidates []*registry.Binding) *registry.Binding {
	if len(candidates) == 0 {
		return nil
	}

	return candidates[rand.Intn(len(candidates))]
}

// Hybrid draws proportionally to quality weight divided by average cost,
// so a higher-quality or cheaper binding is chosen more often without
// starving the rest. When no candidate yields a positive weight the draw
// falls back to uniform.
type Hybrid struct{}

func (Hybrid) Name() string { return StrategyHybrid }

func (Hybrid) Select(_ string, candidates []*registry.Binding) *registry.Binding {
	if len(candidates) == 0 {
		return nil
	}

	weights := make([]float64, len(candidates))

	var total float64
	for i, binding := range candidates {
		weights[i] = hybridWeight(binding)
		total += weights[i]
	}

	if total <= 0 {
		return candidates[rand.Intn(len(candidates))]
	}

	draw := rand.Float64() * total
	for i, weight := range weights {
		draw -= weight
		if draw < 0 {
			return candidates[i]
		}
	}

	return candidates[len(candidates)-1]
}

func hybridWeight(binding *registry.Binding) float64 {
	quality := binding.Weight
	if quality <= 0 {
		return 0
	}

	if binding.Pricing == nil {
		return quality
	}

	avg := pricing.AverageCost(binding.Pricing)
	if avg <= 0 {
		return quality
	}

	return quality / avg
}
