// Package engine implements the sharded in-memory storage engine.
//
// Keys are partitioned across a fixed number of independently-locked shards
// by hashing the key; operations on the same key are linearized by that
// key's shard lock, while operations on different shards proceed fully in
// parallel. Entries can carry a time-to-live: expired entries are treated as
// absent on every read path and removed at that point, and a background
// sweep reclaims expired entries that nobody touches.
//
// Batch operations (MGet, MSet, MDel, MExists) decompose into independent
// single-key steps. The batch as a whole is not atomic; only each per-key
// step is. A batch never holds two shard locks at the same time.
package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeebo/xxh3"

	"github.com/tidekv/tidekv/kv"
)

// MaxKeyLength is the hard cap on key length in bytes.
const MaxKeyLength = 256

const (
	defaultShardCount    = 256
	defaultSweepInterval = time.Minute

	// entryOverhead is the bookkeeping estimate per entry added on top of
	// the key and value sizes for memory accounting.
	entryOverhead = 64
)

// Config configures an Engine. The zero value gets sensible defaults from New.
type Config struct {
	// ShardCount fixes the number of partitions at construction time.
	// Default 256. There is no live resharding.
	ShardCount int

	// MaxMemory is an approximate byte budget for stored entries.
	// Zero means unlimited. Writes that would exceed it fail with
	// ErrMaxMemory.
	MaxMemory int64

	// SweepInterval is how often the background sweep walks the shards
	// removing expired entries. Default one minute. Negative disables
	// the sweep; lazy expiry on access still applies.
	SweepInterval time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.ShardCount <= 0 {
		out.ShardCount = defaultShardCount
	}
	if out.SweepInterval == 0 {
		out.SweepInterval = defaultSweepInterval
	}
	return out
}

type entry struct {
	value     kv.Value
	expiresAt time.Time // zero means no expiry
	size      int64
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

type shard struct {
	mu    sync.RWMutex
	items map[string]*entry
}

// Engine is the authoritative, concurrency-safe store. It is shared by
// reference across all connection handlers and the background sweep; it is
// never copied. Construct with New, tear down with Close.
type Engine struct {
	shards    []*shard
	maxMemory int64

	memory  atomic.Int64 // estimated bytes across all shards
	swept   atomic.Int64 // entries removed by the background sweep
	expired atomic.Int64 // entries removed lazily on access

	stop      chan struct{}
	closeOnce sync.Once
	sweepDone chan struct{}
}

// Lookup is one positional result of MGet.
type Lookup struct {
	Value kv.Value
	Found bool
}

// Item is one key/value pair of MSet. TTL of zero means no expiry.
type Item struct {
	Key   string
	Value kv.Value
	TTL   time.Duration
}

// New constructs an Engine and starts its background sweep.
func New(cfg Config) *Engine {
	cfg = cfg.withDefaults()

	e := &Engine{
		shards:    make([]*shard, cfg.ShardCount),
		maxMemory: cfg.MaxMemory,
		stop:      make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
	for i := range e.shards {
		e.shards[i] = &shard{items: make(map[string]*entry)}
	}

	if cfg.SweepInterval > 0 {
		go e.sweepLoop(cfg.SweepInterval)
	} else {
		close(e.sweepDone)
	}
	return e
}

// Close stops the background sweep. The engine remains readable afterwards;
// Close exists so tests and shutdown paths do not leak the sweep goroutine.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		close(e.stop)
	})
	<-e.sweepDone
}

// ShardCount returns the fixed partition count.
func (e *Engine) ShardCount() int { return len(e.shards) }

func (e *Engine) shardFor(key string) *shard {
	return e.shards[xxh3.HashString(key)%uint64(len(e.shards))]
}

// ShardIndex exposes the key-to-shard mapping for distribution tests.
func (e *Engine) ShardIndex(key string) int {
	return int(xxh3.HashString(key) % uint64(len(e.shards)))
}

func validateKey(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	return nil
}

// Get returns the value stored under key. found is false when the key is
// absent or its entry has expired; an expired entry is removed as a side
// effect.
func (e *Engine) Get(key string) (kv.Value, bool) {
	if validateKey(key) != nil {
		return kv.Value{}, false
	}
	s := e.shardFor(key)
	now := time.Now()

	s.mu.RLock()
	ent, ok := s.items[key]
	if ok && !ent.expired(now) {
		v := ent.value
		s.mu.RUnlock()
		return v, true
	}
	s.mu.RUnlock()

	if ok {
		e.removeExpired(s, key, now)
	}
	return kv.Value{}, false
}

// Exists reports whether key holds a live entry, with the same expiry
// semantics as Get but without materializing the value.
func (e *Engine) Exists(key string) bool {
	if validateKey(key) != nil {
		return false
	}
	s := e.shardFor(key)
	now := time.Now()

	s.mu.RLock()
	ent, ok := s.items[key]
	live := ok && !ent.expired(now)
	s.mu.RUnlock()

	if ok && !live {
		e.removeExpired(s, key, now)
	}
	return live
}

// removeExpired re-checks under the write lock and deletes the entry if it
// is still present and still expired. The re-check matters: another writer
// may have replaced the entry between lock modes.
func (e *Engine) removeExpired(s *shard, key string, now time.Time) {
	s.mu.Lock()
	if ent, ok := s.items[key]; ok && ent.expired(now) {
		delete(s.items, key)
		e.memory.Add(-ent.size)
		e.expired.Add(1)
	}
	s.mu.Unlock()
}

// Set stores value under key, overwriting any existing entry. A ttl of zero
// means no expiry.
func (e *Engine) Set(key string, value kv.Value, ttl time.Duration) error {
	if err := validateKey(key); err != nil {
		return err
	}
	ent := newEntry(key, value, ttl, time.Now())

	s := e.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	var replaced int64
	if old, ok := s.items[key]; ok {
		replaced = old.size
	}
	if err := e.reserve(ent.size - replaced); err != nil {
		return err
	}
	s.items[key] = ent
	return nil
}

// Delete removes key. It returns whether an entry was actually removed;
// deleting a missing key is a no-op returning false, never an error.
func (e *Engine) Delete(key string) bool {
	if validateKey(key) != nil {
		return false
	}
	s := e.shardFor(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.items[key]
	if !ok {
		return false
	}
	delete(s.items, key)
	e.memory.Add(-ent.size)
	// An entry past its expiry counts as absent even though it was still
	// physically present, so deleting it reports false and counts as an
	// expiry like the other lazy-removal paths.
	if ent.expired(time.Now()) {
		e.expired.Add(1)
		return false
	}
	return true
}

// IncrBy atomically adds delta to the Int stored under key and returns the
// new value. A missing or expired key counts as zero, so the entry is
// created holding delta. A live entry of any other kind fails with
// ErrWrongType. Decrement is an IncrBy with a negative delta.
func (e *Engine) IncrBy(key string, delta int64) (int64, error) {
	if err := validateKey(key); err != nil {
		return 0, err
	}
	s := e.shardFor(key)
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.items[key]
	if !ok || ent.expired(now) {
		fresh := newEntry(key, kv.Int(delta), 0, now)
		var replaced int64
		if ok {
			replaced = ent.size
			e.expired.Add(1)
		}
		if err := e.reserve(fresh.size - replaced); err != nil {
			if ok {
				delete(s.items, key)
				e.memory.Add(-ent.size)
			}
			return 0, err
		}
		s.items[key] = fresh
		return delta, nil
	}

	cur, isInt := ent.value.Int()
	if !isInt {
		return 0, ErrWrongType
	}
	next := cur + delta
	ent.value = kv.Int(next)
	return next, nil
}

// CompareAndSwap atomically compares the current value under key against
// expected and, on a match, replaces it with value. expected == nil means
// "expect the key to be absent". It returns whether the swap happened; a
// false return leaves the entry untouched and is not an error.
//
// A successful swap on an existing entry preserves that entry's expiry; a
// swap that creates the entry stores it without expiry.
func (e *Engine) CompareAndSwap(key string, expected *kv.Value, value kv.Value) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	s := e.shardFor(key)
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.items[key]
	live := ok && !ent.expired(now)

	if !live {
		if ok {
			delete(s.items, key)
			e.memory.Add(-ent.size)
			e.expired.Add(1)
		}
		if expected != nil {
			return false, nil
		}
		fresh := newEntry(key, value, 0, now)
		if err := e.reserve(fresh.size); err != nil {
			return false, err
		}
		s.items[key] = fresh
		return true, nil
	}

	if expected == nil || !ent.value.Equal(*expected) {
		return false, nil
	}

	newSize := entrySize(key, value)
	if err := e.reserve(newSize - ent.size); err != nil {
		return false, err
	}
	ent.value = value
	ent.size = newSize
	return true, nil
}

// MGet looks up each key in order. Result position i corresponds to keys[i],
// with Found=false for absent or expired keys.
func (e *Engine) MGet(keys []string) []Lookup {
	out := make([]Lookup, len(keys))
	for i, k := range keys {
		v, found := e.Get(k)
		out[i] = Lookup{Value: v, Found: found}
	}
	return out
}

// MSet stores each item in turn. All keys are validated up front so an
// over-length key anywhere in the batch fails fast before any entry is
// created; after that, items apply independently and the first storage
// failure aborts the remainder.
func (e *Engine) MSet(items []Item) error {
	for _, it := range items {
		if err := validateKey(it.Key); err != nil {
			return err
		}
	}
	for _, it := range items {
		if err := e.Set(it.Key, it.Value, it.TTL); err != nil {
			return err
		}
	}
	return nil
}

// MDel removes each key in turn and returns how many entries were actually
// removed.
func (e *Engine) MDel(keys []string) int64 {
	var n int64
	for _, k := range keys {
		if e.Delete(k) {
			n++
		}
	}
	return n
}

// MExists checks each key in order. Result position i corresponds to keys[i].
func (e *Engine) MExists(keys []string) []bool {
	out := make([]bool, len(keys))
	for i, k := range keys {
		out[i] = e.Exists(k)
	}
	return out
}

// reserve applies a memory-estimate delta, rejecting growth past the budget.
// Callers hold the owning shard's write lock, which bounds overshoot from
// concurrent reservations to one in-flight entry per shard.
func (e *Engine) reserve(delta int64) error {
	if delta <= 0 {
		e.memory.Add(delta)
		return nil
	}
	if e.maxMemory > 0 && e.memory.Load()+delta > e.maxMemory {
		return ErrMaxMemory
	}
	e.memory.Add(delta)
	return nil
}

func newEntry(key string, value kv.Value, ttl time.Duration, now time.Time) *entry {
	ent := &entry{value: value, size: entrySize(key, value)}
	if ttl > 0 {
		ent.expiresAt = now.Add(ttl)
	}
	return ent
}

func entrySize(key string, value kv.Value) int64 {
	return int64(len(key) + value.Size() + entryOverhead)
}

// sweepLoop periodically walks all shards removing expired entries, bounding
// memory growth from write-and-forget TTL keys. It locks one shard at a time.
func (e *Engine) sweepLoop(interval time.Duration) {
	defer close(e.sweepDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			e.sweep(time.Now())
		}
	}
}

func (e *Engine) sweep(now time.Time) {
	for _, s := range e.shards {
		s.mu.Lock()
		for key, ent := range s.items {
			if ent.expired(now) {
				delete(s.items, key)
				e.memory.Add(-ent.size)
				e.swept.Add(1)
			}
		}
		s.mu.Unlock()
	}
}

// Stats is a point-in-time snapshot of engine counters.
type Stats struct {
	Keys         int64
	Shards       int
	MemoryBytes  int64
	MaxMemory    int64
	SweptTotal   int64
	ExpiredTotal int64
}

// Stats counts live and expired-but-unswept entries across all shards.
func (e *Engine) Stats() Stats {
	var keys int64
	for _, s := range e.shards {
		s.mu.RLock()
		keys += int64(len(s.items))
		s.mu.RUnlock()
	}
	return Stats{
		Keys:         keys,
		Shards:       len(e.shards),
		MemoryBytes:  e.memory.Load(),
		MaxMemory:    e.maxMemory,
		SweptTotal:   e.swept.Load(),
		ExpiredTotal: e.expired.Load(),
	}
}
