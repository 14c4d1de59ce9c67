package engine

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidekv/tidekv/kv"
)

func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = -1 // tests drive expiry explicitly unless stated
	}
	e := New(cfg)
	t.Cleanup(e.Close)
	return e
}

func TestSetGetRoundTrip(t *testing.T) {
	e := newTestEngine(t, Config{})

	values := []kv.Value{
		kv.Null(),
		kv.Bool(true),
		kv.Int(-7),
		kv.Float(1.25),
		kv.Str("alice"),
		kv.Bin([]byte{1, 2, 3}),
		kv.ListOf(kv.Int(1), kv.Str("two")),
		kv.MapOf(kv.Pair{Key: "nested", Value: kv.ListOf(kv.Bool(false))}),
	}
	for i, v := range values {
		key := fmt.Sprintf("key:%d", i)
		require.NoError(t, e.Set(key, v, 0))

		got, found := e.Get(key)
		require.True(t, found, "key %s", key)
		assert.True(t, v.Equal(got), "key %s: got %s want %s", key, got, v)
		assert.Equal(t, v.Kind(), got.Kind())
	}
}

func TestKeyLengthBoundary(t *testing.T) {
	e := newTestEngine(t, Config{})

	exact := strings.Repeat("k", MaxKeyLength)
	require.NoError(t, e.Set(exact, kv.Int(1), 0))
	_, found := e.Get(exact)
	assert.True(t, found)

	over := strings.Repeat("k", MaxKeyLength+1)
	err := e.Set(over, kv.Int(1), 0)
	require.ErrorIs(t, err, ErrKeyTooLong)
	assert.False(t, e.Exists(over))
	assert.Equal(t, int64(1), e.Stats().Keys)

	assert.ErrorIs(t, e.Set("", kv.Int(1), 0), ErrEmptyKey)
}

func TestDeleteIdempotence(t *testing.T) {
	e := newTestEngine(t, Config{})

	assert.False(t, e.Delete("missing"))

	require.NoError(t, e.Set("k", kv.Str("v"), 0))
	assert.True(t, e.Delete("k"))
	assert.False(t, e.Delete("k"))
}

func TestDeleteExpiredCountsAsExpiry(t *testing.T) {
	e := newTestEngine(t, Config{})

	require.NoError(t, e.Set("k", kv.Int(1), 20*time.Millisecond))
	time.Sleep(40 * time.Millisecond)

	// The entry is past its expiry but still physically present (no sweep,
	// no read touched it). Delete reclaims it, reports a miss, and records
	// the expiry like the read paths do.
	assert.False(t, e.Delete("k"))
	st := e.Stats()
	assert.Equal(t, int64(0), st.Keys)
	assert.Equal(t, int64(1), st.ExpiredTotal)
	assert.Equal(t, int64(0), st.MemoryBytes)
}

func TestExists(t *testing.T) {
	e := newTestEngine(t, Config{})

	assert.False(t, e.Exists("k"))
	require.NoError(t, e.Set("k", kv.Null(), 0))
	// A stored Null is an entry like any other.
	assert.True(t, e.Exists("k"))
}

func TestIncrDecr(t *testing.T) {
	e := newTestEngine(t, Config{})

	// Absent key counts as zero: first increment creates the entry at delta.
	n, err := e.IncrBy("counter", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	n, err = e.IncrBy("counter", -2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	v, found := e.Get("counter")
	require.True(t, found)
	assert.True(t, v.Equal(kv.Int(3)))
}

func TestIncrWrongType(t *testing.T) {
	e := newTestEngine(t, Config{})

	require.NoError(t, e.Set("name", kv.Str("alice"), 0))
	_, err := e.IncrBy("name", 1)
	require.ErrorIs(t, err, ErrWrongType)

	// The entry is untouched.
	v, found := e.Get("name")
	require.True(t, found)
	assert.True(t, v.Equal(kv.Str("alice")))
}

func TestIncrOnExpiredEntryRestartsAtDelta(t *testing.T) {
	e := newTestEngine(t, Config{})

	require.NoError(t, e.Set("counter", kv.Int(100), 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)

	n, err := e.IncrBy("counter", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestLostUpdateFreedom(t *testing.T) {
	e := newTestEngine(t, Config{})
	require.NoError(t, e.Set("counter", kv.Int(0), 0))

	const callers = 100
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			_, err := e.IncrBy("counter", 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	v, found := e.Get("counter")
	require.True(t, found)
	assert.True(t, v.Equal(kv.Int(callers)))
}

func TestCompareAndSwap(t *testing.T) {
	e := newTestEngine(t, Config{})
	require.NoError(t, e.Set("task:1:state", kv.Str("PENDING"), 0))

	pending := kv.Str("PENDING")
	swapped, err := e.CompareAndSwap("task:1:state", &pending, kv.Str("STARTED"))
	require.NoError(t, err)
	assert.True(t, swapped)

	v, found := e.Get("task:1:state")
	require.True(t, found)
	assert.True(t, v.Equal(kv.Str("STARTED")))

	// The same transition again must fail and leave the value alone.
	swapped, err = e.CompareAndSwap("task:1:state", &pending, kv.Str("STARTED"))
	require.NoError(t, err)
	assert.False(t, swapped)

	v, _ = e.Get("task:1:state")
	assert.True(t, v.Equal(kv.Str("STARTED")))
}

func TestCompareAndSwapExpectAbsent(t *testing.T) {
	e := newTestEngine(t, Config{})

	// nil expected means "claim only if absent".
	swapped, err := e.CompareAndSwap("claim", nil, kv.Bool(true))
	require.NoError(t, err)
	assert.True(t, swapped)

	swapped, err = e.CompareAndSwap("claim", nil, kv.Bool(true))
	require.NoError(t, err)
	assert.False(t, swapped)
}

func TestCompareAndSwapConcurrentSingleWinner(t *testing.T) {
	e := newTestEngine(t, Config{})
	require.NoError(t, e.Set("job", kv.Str("PENDING"), 0))

	const contenders = 50
	var wg sync.WaitGroup
	var wins atomic.Int64
	wg.Add(contenders)
	for i := 0; i < contenders; i++ {
		go func(id int) {
			defer wg.Done()
			pending := kv.Str("PENDING")
			swapped, err := e.CompareAndSwap("job", &pending, kv.Int(int64(id)))
			assert.NoError(t, err)
			if swapped {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), wins.Load())
}

func TestTTLExpiry(t *testing.T) {
	e := newTestEngine(t, Config{})

	require.NoError(t, e.Set("user:1", kv.Str("Alice"), 50*time.Millisecond))

	v, found := e.Get("user:1")
	require.True(t, found)
	assert.True(t, v.Equal(kv.Str("Alice")))

	time.Sleep(80 * time.Millisecond)

	_, found = e.Get("user:1")
	assert.False(t, found)
	// Lazy expiry physically removed the entry.
	assert.Equal(t, int64(0), e.Stats().Keys)
}

func TestTTLOverwriteClearsExpiry(t *testing.T) {
	e := newTestEngine(t, Config{})

	require.NoError(t, e.Set("k", kv.Int(1), 20*time.Millisecond))
	require.NoError(t, e.Set("k", kv.Int(2), 0))
	time.Sleep(40 * time.Millisecond)

	v, found := e.Get("k")
	require.True(t, found)
	assert.True(t, v.Equal(kv.Int(2)))
}

func TestBackgroundSweep(t *testing.T) {
	e := New(Config{SweepInterval: 20 * time.Millisecond})
	defer e.Close()

	for i := 0; i < 32; i++ {
		require.NoError(t, e.Set(fmt.Sprintf("tmp:%d", i), kv.Int(int64(i)), 10*time.Millisecond))
	}

	// Without any further access the sweep alone must reclaim the entries.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if st := e.Stats(); st.Keys == 0 && st.SweptTotal > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	st := e.Stats()
	t.Fatalf("sweep did not reclaim expired entries: keys=%d swept=%d", st.Keys, st.SweptTotal)
}

func TestBatchOrdering(t *testing.T) {
	e := newTestEngine(t, Config{})
	require.NoError(t, e.Set("a", kv.Int(1), 0))
	require.NoError(t, e.Set("b", kv.Int(2), 0))

	got := e.MGet([]string{"a", "b", "c"})
	require.Len(t, got, 3)
	assert.True(t, got[0].Found)
	assert.True(t, got[0].Value.Equal(kv.Int(1)))
	assert.True(t, got[1].Found)
	assert.True(t, got[1].Value.Equal(kv.Int(2)))
	assert.False(t, got[2].Found)

	exists := e.MExists([]string{"c", "a", "b"})
	assert.Equal(t, []bool{false, true, true}, exists)
}

func TestBatchDeleteCount(t *testing.T) {
	e := newTestEngine(t, Config{})
	require.NoError(t, e.Set("a", kv.Int(1), 0))
	require.NoError(t, e.Set("b", kv.Int(2), 0))

	assert.Equal(t, int64(2), e.MDel([]string{"a", "b", "c"}))
	assert.Equal(t, int64(0), e.MDel([]string{"a", "b", "c"}))
}

func TestMSetValidatesAllKeysFirst(t *testing.T) {
	e := newTestEngine(t, Config{})

	items := []Item{
		{Key: "good", Value: kv.Int(1)},
		{Key: strings.Repeat("x", MaxKeyLength+1), Value: kv.Int(2)},
	}
	err := e.MSet(items)
	require.ErrorIs(t, err, ErrKeyTooLong)
	// Fail-fast: nothing from the batch was stored.
	assert.False(t, e.Exists("good"))
}

func TestMSetWithPerItemTTL(t *testing.T) {
	e := newTestEngine(t, Config{})

	err := e.MSet([]Item{
		{Key: "short", Value: kv.Int(1), TTL: 20 * time.Millisecond},
		{Key: "long", Value: kv.Int(2)},
	})
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	assert.False(t, e.Exists("short"))
	assert.True(t, e.Exists("long"))
}

func TestMaxMemoryRejectsWrites(t *testing.T) {
	e := newTestEngine(t, Config{MaxMemory: 1024})

	err := e.Set("big", kv.Bin(make([]byte, 2048)), 0)
	require.ErrorIs(t, err, ErrMaxMemory)
	assert.False(t, e.Exists("big"))

	// Small writes still fit.
	require.NoError(t, e.Set("small", kv.Int(1), 0))

	// Deleting releases the budget.
	before := e.Stats().MemoryBytes
	assert.True(t, e.Delete("small"))
	assert.Less(t, e.Stats().MemoryBytes, before)
}

func TestShardDistribution(t *testing.T) {
	e := newTestEngine(t, Config{ShardCount: 64})

	const keys = 20000
	counts := make([]int, e.ShardCount())
	for i := 0; i < keys; i++ {
		counts[e.ShardIndex(fmt.Sprintf("user:%d:profile", i))]++
	}

	mean := keys / e.ShardCount()
	for idx, c := range counts {
		assert.Greater(t, c, mean/2, "shard %d underloaded: %d", idx, c)
		assert.Less(t, c, mean*2, "shard %d overloaded: %d", idx, c)
	}
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	e := newTestEngine(t, Config{})
	for i := 0; i < 100; i++ {
		require.NoError(t, e.Set(fmt.Sprintf("warm:%d", i), kv.Int(int64(i)), 0))
	}

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(2)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				e.Get(fmt.Sprintf("warm:%d", i%100))
				e.Exists(fmt.Sprintf("warm:%d", (i+7)%100))
			}
		}(w)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("hot:%d:%d", w, i%10)
				_ = e.Set(key, kv.Int(int64(i)), 0)
				e.Delete(key)
			}
		}(w)
	}
	wg.Wait()
}
