package loadbalance

import (
	"fmt"
	"math/rand"

	"osrf/registry"
)

// WeightedRandom selects workers probabilistically by weight. A worker with
// weight 10 receives roughly twice the traffic of one with weight 5; a zero
// weight counts as 1 so unweighted directory entries still get traffic.
type WeightedRandom struct{}

func (b *WeightedRandom) Pick(instances []registry.Instance) (*registry.Instance, error) {
	if len(instances) == 0 {
		return nil, fmt.Errorf("no workers available")
	}

	total := 0
	for _, inst := range instances {
		total += weightOf(inst)
	}

	r := rand.Intn(total)
	for i := range instances {
		r -= weightOf(instances[i])
		if r < 0 {
			return &instances[i], nil
		}
	}
	return &instances[len(instances)-1], nil
}

func (b *WeightedRandom) Name() string {
	return "WeightedRandom"
}

func weightOf(inst registry.Instance) int {
	if inst.Weight <= 0 {
		return 1
	}
	return inst.Weight
}
