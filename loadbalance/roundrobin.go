package loadbalance

import (
	"fmt"
	"sync/atomic"

	"osrf/registry"
)

// RoundRobin distributes messages evenly across workers in order, using an
// atomic counter so Pick needs no lock.
type RoundRobin struct {
	counter int64
}

func (b *RoundRobin) Pick(instances []registry.Instance) (*registry.Instance, error) {
	if len(instances) == 0 {
		return nil, fmt.Errorf("no workers available")
	}
	index := atomic.AddInt64(&b.counter, 1) % int64(len(instances))
	return &instances[index], nil
}

func (b *RoundRobin) Name() string {
	return "RoundRobin"
}
