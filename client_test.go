package tidekv

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidekv/tidekv/engine"
	"github.com/tidekv/tidekv/kv"
	"github.com/tidekv/tidekv/server"
)

// startTestServer runs an in-process server on an ephemeral port and tears it
// down with the test. It returns the engine so tests can inspect state the
// client cannot see.
func startTestServer(t *testing.T) (*engine.Engine, string) {
	t.Helper()

	eng := engine.New(engine.Config{ShardCount: 16, SweepInterval: -1})
	t.Cleanup(eng.Close)

	srv := server.New(eng, server.Config{Addr: "127.0.0.1:0"})
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, srv.Listen(ctx))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.ListenAndServe(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return eng, srv.Addr().String()
}

func newTestClient(t *testing.T, addrs ...string) *Client {
	t.Helper()
	client, err := NewClient(addrs, Config{MaxSize: 4})
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func TestClient_SetGetDelete(t *testing.T) {
	_, addr := startTestServer(t)
	client := newTestClient(t, addr)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, Item{Key: "user:1", Value: kv.Str("Alice")}))

	item, err := client.Get(ctx, "user:1")
	require.NoError(t, err)
	require.True(t, item.Found)
	got, ok := item.Value.Str()
	require.True(t, ok)
	assert.Equal(t, "Alice", got)

	existed, err := client.Delete(ctx, "user:1")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = client.Delete(ctx, "user:1")
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestClient_GetMiss(t *testing.T) {
	_, addr := startTestServer(t)
	client := newTestClient(t, addr)

	item, err := client.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, item.Found)
}

func TestClient_StoredNullIsFound(t *testing.T) {
	_, addr := startTestServer(t)
	client := newTestClient(t, addr)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, Item{Key: "nil-value", Value: kv.Null()}))

	item, err := client.Get(ctx, "nil-value")
	require.NoError(t, err)
	assert.True(t, item.Found)
	assert.Equal(t, kv.KindNull, item.Value.Kind())

	found, err := client.Exists(ctx, "nil-value")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestClient_NestedValues(t *testing.T) {
	_, addr := startTestServer(t)
	client := newTestClient(t, addr)
	ctx := context.Background()

	balance, err := kv.ParseDec("10.50")
	require.NoError(t, err)
	stored := kv.MapOf(
		kv.Pair{Key: "name", Value: kv.Str("Alice")},
		kv.Pair{Key: "scores", Value: kv.ListOf(kv.Int(10), kv.Float(9.5))},
		kv.Pair{Key: "balance", Value: balance},
	)
	require.NoError(t, client.Set(ctx, Item{Key: "user:1", Value: stored}))

	item, err := client.Get(ctx, "user:1")
	require.NoError(t, err)
	require.True(t, item.Found)
	assert.True(t, stored.Equal(item.Value))
}

func TestClient_IncrDecr(t *testing.T) {
	_, addr := startTestServer(t)
	client := newTestClient(t, addr)
	ctx := context.Background()

	n, err := client.Incr(ctx, "counter", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	n, err = client.Incr(ctx, "counter", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(8), n)

	n, err = client.Decr(ctx, "counter", 10)
	require.NoError(t, err)
	assert.Equal(t, int64(-2), n)
}

func TestClient_IncrWrongType(t *testing.T) {
	_, addr := startTestServer(t)
	client := newTestClient(t, addr)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, Item{Key: "name", Value: kv.Str("Alice")}))

	_, err := client.Incr(ctx, "name", 1)
	assert.ErrorIs(t, err, ErrWrongType)
}

func TestClient_CompareAndSwap(t *testing.T) {
	_, addr := startTestServer(t)
	client := newTestClient(t, addr)
	ctx := context.Background()

	// expected=nil asserts absence, so CAS doubles as atomic create.
	swapped, err := client.CompareAndSwap(ctx, "lock", nil, kv.Str("owner-a"))
	require.NoError(t, err)
	assert.True(t, swapped)

	swapped, err = client.CompareAndSwap(ctx, "lock", nil, kv.Str("owner-b"))
	require.NoError(t, err)
	assert.False(t, swapped)

	expected := kv.Str("owner-a")
	swapped, err = client.CompareAndSwap(ctx, "lock", &expected, kv.Str("owner-b"))
	require.NoError(t, err)
	assert.True(t, swapped)

	item, err := client.Get(ctx, "lock")
	require.NoError(t, err)
	got, _ := item.Value.Str()
	assert.Equal(t, "owner-b", got)
}

func TestClient_TTLExpiry(t *testing.T) {
	_, addr := startTestServer(t)
	client := newTestClient(t, addr)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, Item{Key: "session", Value: kv.Str("token"), TTL: 50 * time.Millisecond}))

	item, err := client.Get(ctx, "session")
	require.NoError(t, err)
	require.True(t, item.Found)

	time.Sleep(80 * time.Millisecond)

	item, err = client.Get(ctx, "session")
	require.NoError(t, err)
	assert.False(t, item.Found)
}

func TestClient_KeyValidation(t *testing.T) {
	// No server: validation must fail before any I/O.
	client, err := NewClient([]string{"127.0.0.1:1"}, Config{})
	require.NoError(t, err)
	t.Cleanup(client.Close)
	ctx := context.Background()

	_, err = client.Get(ctx, "")
	assert.ErrorIs(t, err, ErrEmptyKey)

	long := make([]byte, 257)
	for i := range long {
		long[i] = 'k'
	}
	err = client.Set(ctx, Item{Key: string(long), Value: kv.Int(1)})
	assert.ErrorIs(t, err, ErrKeyTooLong)

	_, err = client.MGet(ctx, []string{"fine", ""})
	assert.ErrorIs(t, err, ErrEmptyKey)
}

func TestClient_NoServers(t *testing.T) {
	_, err := NewClient(nil, Config{})
	assert.ErrorIs(t, err, ErrNoServers)
}

func TestClient_Batch(t *testing.T) {
	_, addr := startTestServer(t)
	client := newTestClient(t, addr)
	ctx := context.Background()

	items := []Item{
		{Key: "a", Value: kv.Int(1)},
		{Key: "b", Value: kv.Str("two")},
		{Key: "c", Value: kv.Bool(true)},
	}
	require.NoError(t, client.MSet(ctx, items))

	got, err := client.MGet(ctx, []string{"a", "missing", "c", "b"})
	require.NoError(t, err)
	require.Len(t, got, 4)

	assert.True(t, got[0].Found)
	assert.True(t, kv.Int(1).Equal(got[0].Value))
	assert.False(t, got[1].Found)
	assert.True(t, got[2].Found)
	assert.True(t, kv.Bool(true).Equal(got[2].Value))
	assert.True(t, got[3].Found)
	assert.True(t, kv.Str("two").Equal(got[3].Value))

	exists, err := client.MExists(ctx, []string{"missing", "a"})
	require.NoError(t, err)
	assert.Equal(t, []bool{false, true}, exists)

	removed, err := client.MDel(ctx, []string{"a", "b", "missing"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)
}

func TestClient_BatchEmpty(t *testing.T) {
	_, addr := startTestServer(t)
	client := newTestClient(t, addr)
	ctx := context.Background()

	items, err := client.MGet(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, items)

	require.NoError(t, client.MSet(ctx, nil))

	removed, err := client.MDel(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestClient_MultiServer(t *testing.T) {
	engA, addrA := startTestServer(t)
	engB, addrB := startTestServer(t)
	client := newTestClient(t, addrA, addrB)
	ctx := context.Background()

	const keys = 100
	items := make([]Item, keys)
	for i := range items {
		items[i] = Item{Key: "key-" + strconv.Itoa(i), Value: kv.Int(int64(i))}
	}
	require.NoError(t, client.MSet(ctx, items))

	// Every key must be readable back through the same routing.
	names := make([]string, keys)
	for i := range names {
		names[i] = items[i].Key
	}
	got, err := client.MGet(ctx, names)
	require.NoError(t, err)
	for i, item := range got {
		require.True(t, item.Found, "key %s", names[i])
		assert.True(t, items[i].Value.Equal(item.Value))
	}

	// Both servers should own a share of the keyspace.
	assert.Positive(t, engA.Stats().Keys)
	assert.Positive(t, engB.Stats().Keys)
	assert.Equal(t, int64(keys), engA.Stats().Keys+engB.Stats().Keys)
}

func TestClient_Ping(t *testing.T) {
	_, addr := startTestServer(t)
	client := newTestClient(t, addr)

	require.NoError(t, client.Ping(context.Background()))
}

func TestClient_Info(t *testing.T) {
	_, addr := startTestServer(t)
	client := newTestClient(t, addr)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, Item{Key: "k", Value: kv.Int(1)}))

	infos, err := client.Info(ctx)
	require.NoError(t, err)
	require.Contains(t, infos, addr)

	info := infos[addr]
	version, ok := info.MapGet("version")
	require.True(t, ok)
	v, _ := version.Str()
	assert.Equal(t, server.Version, v)

	keys, ok := info.MapGet("keys")
	require.True(t, ok)
	n, _ := keys.Int()
	assert.Equal(t, int64(1), n)
}

func TestClient_Stats(t *testing.T) {
	_, addr := startTestServer(t)
	client := newTestClient(t, addr)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, Item{Key: "a", Value: kv.Int(1)}))
	_, err := client.Get(ctx, "a")
	require.NoError(t, err)
	_, err = client.Get(ctx, "missing")
	require.NoError(t, err)
	_, err = client.Incr(ctx, "counter", 1)
	require.NoError(t, err)

	stats := client.Stats()
	assert.Equal(t, uint64(2), stats.Gets)
	assert.Equal(t, uint64(1), stats.GetHits)
	assert.Equal(t, uint64(1), stats.Sets)
	assert.Equal(t, uint64(1), stats.Incrs)
}

func TestClient_PoolStats(t *testing.T) {
	_, addr := startTestServer(t)
	client := newTestClient(t, addr)

	require.NoError(t, client.Ping(context.Background()))

	all := client.AllPoolStats()
	require.Len(t, all, 1)
	assert.Equal(t, addr, all[0].Addr)
	assert.Positive(t, all[0].PoolStats.AcquireCount)
}

func TestClient_CircuitBreaker(t *testing.T) {
	// Nothing listens on this port; every exchange fails.
	client, err := NewClient([]string{"127.0.0.1:1"}, Config{
		NewCircuitBreaker: NewCircuitBreakerConfig(1, 0, time.Minute),
	})
	require.NoError(t, err)
	t.Cleanup(client.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := 0; i < 5; i++ {
		_, err = client.Get(ctx, "k")
		require.Error(t, err)
	}

	// The breaker is open now: failures return without dialing.
	start := time.Now()
	_, err = client.Get(ctx, "k")
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)

	all := client.AllPoolStats()
	require.Len(t, all, 1)
	assert.Equal(t, "open", all[0].CircuitBreakerState.String())
}

func TestClient_ConcurrentAccess(t *testing.T) {
	_, addr := startTestServer(t)
	client := newTestClient(t, addr)
	ctx := context.Background()

	const workers = 8
	const perWorker = 25

	errs := make(chan error, workers)
	for w := 0; w < workers; w++ {
		go func(w int) {
			for i := 0; i < perWorker; i++ {
				if _, err := client.Incr(ctx, "shared", 1); err != nil {
					errs <- err
					return
				}
			}
			errs <- nil
		}(w)
	}
	for w := 0; w < workers; w++ {
		require.NoError(t, <-errs)
	}

	n, err := client.Incr(ctx, "shared", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(workers*perWorker), n)
}
