package tidekv

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipeConstructor builds connections over net.Pipe so pool behavior can be
// tested without a listener. The server ends are closed with the test.
func pipeConstructor(t *testing.T) func(ctx context.Context) (*Connection, error) {
	t.Helper()
	return func(ctx context.Context) (*Connection, error) {
		clientEnd, serverEnd := net.Pipe()
		t.Cleanup(func() { serverEnd.Close() })
		return NewConnection(clientEnd), nil
	}
}

func TestPuddlePool_AcquireRelease(t *testing.T) {
	pool, err := NewPuddlePool(pipeConstructor(t), 2)
	require.NoError(t, err)
	defer pool.Close()

	res, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res.Value())

	stats := pool.Stats()
	assert.Equal(t, int32(1), stats.TotalConns)
	assert.Equal(t, int32(1), stats.ActiveConns)
	assert.Equal(t, uint64(1), stats.CreatedConns)

	res.Release()

	stats = pool.Stats()
	assert.Equal(t, int32(1), stats.IdleConns)
	assert.Equal(t, int32(0), stats.ActiveConns)
}

func TestPuddlePool_Reuse(t *testing.T) {
	pool, err := NewPuddlePool(pipeConstructor(t), 2)
	require.NoError(t, err)
	defer pool.Close()

	res, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	first := res.Value()
	res.Release()

	res, err = pool.Acquire(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, res.Value())
	res.Release()

	assert.Equal(t, uint64(1), pool.Stats().CreatedConns)
}

func TestPuddlePool_Destroy(t *testing.T) {
	pool, err := NewPuddlePool(pipeConstructor(t), 2)
	require.NoError(t, err)
	defer pool.Close()

	res, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	res.Destroy()

	stats := pool.Stats()
	assert.Equal(t, int32(0), stats.TotalConns)
	assert.Equal(t, uint64(1), stats.DestroyedConns)
}

func TestPuddlePool_AcquireAllIdle(t *testing.T) {
	pool, err := NewPuddlePool(pipeConstructor(t), 4)
	require.NoError(t, err)
	defer pool.Close()

	a, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	b, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	a.Release()
	b.Release()

	idle := pool.AcquireAllIdle()
	assert.Len(t, idle, 2)
	for _, res := range idle {
		res.ReleaseUnused()
	}
}
