package loadbalance

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"h2rpc/registry"
)

var testInstances = []registry.ServiceInstance{
	{Addr: ":8001", Weight: 10, Version: "1.0"},
	{Addr: ":8002", Weight: 5, Version: "1.0"},
	{Addr: ":8003", Weight: 10, Version: "1.0"},
}

func TestRoundRobin(t *testing.T) {
	b := &RoundRobinBalancer{}

	results := make([]string, 3)
	for i := 0; i < 3; i++ {
		inst, err := b.Pick(testInstances, "")
		require.NoError(t, err)
		results[i] = inst.Addr
	}
	assert.Equal(t, []string{":8001", ":8002", ":8003"}, results)

	inst, _ := b.Pick(testInstances, "")
	assert.Equal(t, results[0], inst.Addr, "should wrap around")
}

func TestEmptyInstances(t *testing.T) {
	for _, b := range []Balancer{&RoundRobinBalancer{}, &WeightedRandomBalancer{}, NewConsistentHashBalancer()} {
		_, err := b.Pick(nil, "k")
		assert.ErrorIs(t, err, ErrNoInstances, b.Name())
	}
}

func TestWeightedRandom(t *testing.T) {
	b := &WeightedRandomBalancer{}

	counts := map[string]int{}
	n := 10000
	for i := 0; i < n; i++ {
		inst, err := b.Pick(testInstances, "")
		require.NoError(t, err)
		counts[inst.Addr]++
	}

	// weights 10:5:10, so :8001 should see about twice the traffic of :8002
	ratio := float64(counts[":8001"]) / float64(counts[":8002"])
	assert.True(t, ratio > 1.5 && ratio < 2.5, "ratio :8001/:8002 = %.2f, expect ~2.0", ratio)
}

func TestWeightedRandomZeroWeights(t *testing.T) {
	b := &WeightedRandomBalancer{}
	inst, err := b.Pick([]registry.ServiceInstance{{Addr: ":1"}, {Addr: ":2"}}, "")
	require.NoError(t, err)
	assert.NotEmpty(t, inst.Addr)
}

func TestConsistentHash(t *testing.T) {
	b := NewConsistentHashBalancer()

	inst1, _ := b.Pick(testInstances, "user-123")
	inst2, _ := b.Pick(testInstances, "user-123")
	assert.Equal(t, inst1.Addr, inst2.Addr, "same key must map to the same instance")

	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		inst, _ := b.Pick(testInstances, fmt.Sprintf("key-%d", i))
		seen[inst.Addr] = true
	}
	assert.GreaterOrEqual(t, len(seen), 2)
}

func TestConsistentHashRebuildsOnChange(t *testing.T) {
	b := NewConsistentHashBalancer()
	_, err := b.Pick(testInstances, "k")
	require.NoError(t, err)

	only := []registry.ServiceInstance{{Addr: ":9000"}}
	inst, err := b.Pick(only, "k")
	require.NoError(t, err)
	assert.Equal(t, ":9000", inst.Addr)
}

func TestNew(t *testing.T) {
	for name, want := range map[string]string{
		"roundrobin":     "RoundRobin",
		"weightedrandom": "WeightedRandom",
		"consistenthash": "ConsistentHash",
	} {
		b, err := New(name)
		require.NoError(t, err)
		assert.Equal(t, want, b.Name())
	}
	_, err := New("fastest")
	assert.Error(t, err)
}
