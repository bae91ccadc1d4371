// Package loadbalance picks the instance an RPC is sent to.
//
// Three strategies are implemented:
//   - RoundRobin:      Stateless services, equal-capacity instances
//   - WeightedRandom:  Heterogeneous instances (different CPU/memory)
//   - ConsistentHash:  Stateful services requiring cache affinity
package loadbalance

import (
	"github.com/pkg/errors"

	"h2rpc/registry"
)

// ErrNoInstances is returned when the instance list is empty.
var ErrNoInstances = errors.New("loadbalance: no instances available")

// Balancer selects one instance per call. key is the caller's affinity key
// (the H2rpc-Affinity-Key header) and may be empty; only key-based strategies
// look at it. Implementations must be goroutine-safe.
type Balancer interface {
	Pick(instances []registry.ServiceInstance, key string) (*registry.ServiceInstance, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}

// New returns the balancer registered under name: "roundrobin",
// "weightedrandom" or "consistenthash".
func New(name string) (Balancer, error) {
	switch name {
	case "roundrobin", "":
		return &RoundRobinBalancer{}, nil
	case "weightedrandom":
		return &WeightedRandomBalancer{}, nil
	case "consistenthash":
		return NewConsistentHashBalancer(), nil
	}
	return nil, errors.Errorf("loadbalance: unknown strategy %q", name)
}
