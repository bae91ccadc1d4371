package registry

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs only against a live etcd: H2RPC_ETCD_ENDPOINTS=127.0.0.1:2379
func TestEtcdRegisterAndDiscover(t *testing.T) {
	endpoints := os.Getenv("H2RPC_ETCD_ENDPOINTS")
	if endpoints == "" {
		t.Skip("H2RPC_ETCD_ENDPOINTS not set")
	}

	reg, err := NewEtcdRegistry(strings.Split(endpoints, ","), 2*time.Second, nil)
	require.NoError(t, err)
	defer reg.Close()

	inst1 := ServiceInstance{Addr: "127.0.0.1:8001", Weight: 10, Version: "1.0"}
	inst2 := ServiceInstance{Addr: "127.0.0.1:8002", Weight: 5, Version: "1.0"}

	require.NoError(t, reg.Register("Arith", inst1, 10))
	require.NoError(t, reg.Register("Arith", inst2, 10))
	defer reg.Deregister("Arith", inst2.Addr)

	instances, err := reg.Discover("Arith")
	require.NoError(t, err)
	assert.Len(t, instances, 2)

	require.NoError(t, reg.Deregister("Arith", inst1.Addr))
	time.Sleep(100 * time.Millisecond)

	instances, err = reg.Discover("Arith")
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, inst2.Addr, instances[0].Addr)
}
