package tidekv

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSelectServer_NoServers(t *testing.T) {
	_, err := DefaultSelectServer("key", nil)
	assert.ErrorIs(t, err, ErrNoServers)
}

func TestDefaultSelectServer_SingleServer(t *testing.T) {
	servers := []string{"host1:6380"}

	for i := 0; i < 50; i++ {
		addr, err := DefaultSelectServer(fmt.Sprintf("key-%d", i), servers)
		require.NoError(t, err)
		assert.Equal(t, "host1:6380", addr)
	}
}

func TestDefaultSelectServer_Deterministic(t *testing.T) {
	servers := []string{"host1:6380", "host2:6380", "host3:6380"}

	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("key-%d", i)
		first, err := DefaultSelectServer(key, servers)
		require.NoError(t, err)

		again, err := DefaultSelectServer(key, servers)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestDefaultSelectServer_Distribution(t *testing.T) {
	servers := []string{"host1:6380", "host2:6380", "host3:6380"}
	counts := make(map[string]int, len(servers))

	const keys = 3000
	for i := 0; i < keys; i++ {
		addr, err := DefaultSelectServer(fmt.Sprintf("key-%d", i), servers)
		require.NoError(t, err)
		counts[addr]++
	}

	// Every server gets a share, and no server is wildly over-loaded.
	mean := keys / len(servers)
	for _, addr := range servers {
		assert.Greater(t, counts[addr], mean/2, "server %s underloaded", addr)
		assert.Less(t, counts[addr], mean*2, "server %s overloaded", addr)
	}
}

func TestStaticSelectServer(t *testing.T) {
	servers := []string{"host1:6380", "host2:6380"}
	selector := staticSelectServer(1)

	for i := 0; i < 20; i++ {
		addr, err := selector(fmt.Sprintf("key-%d", i), servers)
		require.NoError(t, err)
		assert.Equal(t, "host2:6380", addr)
	}
}
