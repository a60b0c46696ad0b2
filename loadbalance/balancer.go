// Package loadbalance provides worker-selection strategies.
//
// The broker uses a Balancer to spread service-addressed messages across the
// workers subscribed to a service; clients that resolve workers through the
// directory use one to pick a peer before pinning.
package loadbalance

import "osrf/registry"

// Balancer selects one worker from the live set. Pick is called on every
// routed message and must be goroutine-safe.
type Balancer interface {
	Pick(instances []registry.Instance) (*registry.Instance, error)
	Name() string
}
