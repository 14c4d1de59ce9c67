package tidekv

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/tidekv/tidekv/kv"
	"github.com/tidekv/tidekv/wire"
)

// NoTTL stores an item without expiry.
const NoTTL = 0

// Item is one key/value pair as seen by the client. Found reports whether the
// key was present; a stored Null value with Found=true is distinct from a
// missing key.
type Item struct {
	Key   string
	Value kv.Value
	TTL   time.Duration
	Found bool
}

// Querier is the single-key interface implemented by Client.
type Querier interface {
	Get(ctx context.Context, key string) (Item, error)
	Set(ctx context.Context, item Item) error
	Delete(ctx context.Context, key string) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)
	Incr(ctx context.Context, key string, delta int64) (int64, error)
	Decr(ctx context.Context, key string, delta int64) (int64, error)
	CompareAndSwap(ctx context.Context, key string, expected *kv.Value, value kv.Value) (bool, error)
}

// Config holds client configuration. The zero value is usable with a single
// server: defaults are applied by NewClient.
type Config struct {
	// MaxSize is the maximum number of connections per server pool.
	// Defaults to 8.
	MaxSize int32

	// MaxConnLifetime is the maximum duration a connection can be reused.
	// Zero means no limit.
	MaxConnLifetime time.Duration

	// MaxConnIdleTime is the maximum duration a connection can sit idle
	// before being closed. Zero means no limit.
	MaxConnIdleTime time.Duration

	// HealthCheckInterval is how often idle connections are pinged.
	// Zero disables health checks.
	HealthCheckInterval time.Duration

	// Dialer is used to create new connections. If nil, a default
	// net.Dialer is used.
	Dialer *net.Dialer

	// Pool is the connection pool factory. If nil, NewPuddlePool is used.
	Pool PoolFactory

	// SelectServer picks which server owns a key. If nil,
	// DefaultSelectServer is used.
	SelectServer SelectServerFunc

	// NewCircuitBreaker creates a circuit breaker per server address.
	// If nil, no circuit breaker is used.
	NewCircuitBreaker func(serverAddr string) CircuitBreaker

	// for testing purposes only
	constructor func(ctx context.Context) (*Connection, error)
}

// serverPool binds a pool and its optional circuit breaker to an address.
type serverPool struct {
	addr           string
	pool           Pool
	circuitBreaker CircuitBreaker // nil if not configured
}

// Client talks to one or more servers. Connection pools are created lazily
// per server address; all methods are safe for concurrent use.
type Client struct {
	servers      []string
	selectServer SelectServerFunc

	mu    sync.RWMutex
	pools map[string]*serverPool

	cfg Config

	stopHealthCheck chan struct{}

	stats *clientStatsCollector
}

var _ Querier = (*Client)(nil)

// NewClient creates a client for the given server addresses.
func NewClient(servers []string, config Config) (*Client, error) {
	if len(servers) == 0 {
		return nil, ErrNoServers
	}

	if config.SelectServer == nil {
		config.SelectServer = DefaultSelectServer
	}
	if config.Dialer == nil {
		config.Dialer = &net.Dialer{}
	}
	if config.Pool == nil {
		config.Pool = NewPuddlePool
	}
	if config.MaxSize <= 0 {
		config.MaxSize = 8
	}

	client := &Client{
		servers:         append([]string(nil), servers...),
		selectServer:    config.SelectServer,
		pools:           make(map[string]*serverPool),
		cfg:             config,
		stopHealthCheck: make(chan struct{}),
		stats:           &clientStatsCollector{},
	}

	if config.HealthCheckInterval > 0 {
		go client.healthCheckLoop()
	}

	return client, nil
}

// Close stops the health check loop and destroys all pooled connections.
func (c *Client) Close() {
	if c.cfg.HealthCheckInterval > 0 {
		close(c.stopHealthCheck)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, sp := range c.pools {
		sp.pool.Close()
	}
}

// Stats returns a snapshot of client operation counters.
func (c *Client) Stats() ClientStats {
	return c.stats.snapshot()
}

// ServerPoolStats describes one server's pool and breaker state.
type ServerPoolStats struct {
	Addr                string
	PoolStats           PoolStats
	CircuitBreakerState gobreaker.State
}

// AllPoolStats returns stats for every pool created so far.
func (c *Client) AllPoolStats() []ServerPoolStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := make([]ServerPoolStats, 0, len(c.pools))
	for _, sp := range c.pools {
		s := ServerPoolStats{
			Addr:      sp.addr,
			PoolStats: sp.pool.Stats(),
		}
		if sp.circuitBreaker != nil {
			s.CircuitBreakerState = sp.circuitBreaker.State()
		}
		stats = append(stats, s)
	}
	return stats
}

// poolForKey returns the pool of the server that owns key, creating it lazily.
func (c *Client) poolForKey(key string) (*serverPool, error) {
	addr, err := c.selectServer(key, c.servers)
	if err != nil {
		return nil, err
	}
	return c.getOrCreatePool(addr)
}

func (c *Client) getOrCreatePool(addr string) (*serverPool, error) {
	c.mu.RLock()
	sp, exists := c.pools[addr]
	c.mu.RUnlock()
	if exists {
		return sp, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check after acquiring the write lock.
	if sp, exists := c.pools[addr]; exists {
		return sp, nil
	}

	constructor := c.cfg.constructor
	if constructor == nil {
		constructor = func(ctx context.Context) (*Connection, error) {
			netConn, err := c.cfg.Dialer.DialContext(ctx, "tcp", addr)
			if err != nil {
				return nil, err
			}
			return NewConnection(netConn), nil
		}
	}

	pool, err := c.cfg.Pool(constructor, c.cfg.MaxSize)
	if err != nil {
		return nil, err
	}

	sp = &serverPool{addr: addr, pool: pool}
	if c.cfg.NewCircuitBreaker != nil {
		sp.circuitBreaker = c.cfg.NewCircuitBreaker(addr)
	}
	c.pools[addr] = sp
	return sp, nil
}

// execBatch runs a pipelined exchange against one server, wrapped in its
// circuit breaker when one is configured.
func (c *Client) execBatch(ctx context.Context, sp *serverPool, reqs []*wire.Request) ([]*wire.Response, error) {
	if sp.circuitBreaker != nil {
		resps, err := sp.circuitBreaker.Execute(func() ([]*wire.Response, error) {
			return c.execBatchDirect(ctx, sp, reqs)
		})
		if err != nil {
			c.stats.recordError()
			return nil, err
		}
		return resps, nil
	}
	return c.execBatchDirect(ctx, sp, reqs)
}

func (c *Client) execBatchDirect(ctx context.Context, sp *serverPool, reqs []*wire.Request) ([]*wire.Response, error) {
	resource, err := sp.pool.Acquire(ctx)
	if err != nil {
		c.stats.recordError()
		return nil, err
	}

	resps, err := resource.Value().SendBatch(ctx, reqs)
	if err != nil {
		// A failed exchange leaves the stream in an unknown state.
		resource.Destroy()
		c.stats.recordError()
		return nil, err
	}

	resource.Release()
	return resps, nil
}

func (c *Client) exec(ctx context.Context, sp *serverPool, req *wire.Request) (*wire.Response, error) {
	resps, err := c.execBatch(ctx, sp, []*wire.Request{req})
	if err != nil {
		return nil, err
	}
	return resps[0], nil
}

// execKey routes a single-key request to its server.
func (c *Client) execKey(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	if err := validateKey(req.Key); err != nil {
		c.stats.recordError()
		return nil, err
	}
	sp, err := c.poolForKey(req.Key)
	if err != nil {
		c.stats.recordError()
		return nil, err
	}
	return c.exec(ctx, sp, req)
}

// Get retrieves the value stored under key. A missing or expired key is not
// an error: the returned Item has Found=false.
func (c *Client) Get(ctx context.Context, key string) (Item, error) {
	resp, err := c.execKey(ctx, &wire.Request{Op: wire.OpGet, Key: key})
	if err != nil {
		return Item{}, err
	}

	if resp.IsNull() {
		c.stats.recordGet(false)
		return Item{Key: key}, nil
	}
	if resp.IsError() {
		c.stats.recordError()
		return Item{}, errorFromResponse(resp)
	}

	value, err := resp.Value()
	if err != nil {
		c.stats.recordError()
		return Item{}, err
	}

	c.stats.recordGet(true)
	return Item{Key: key, Value: value, Found: true}, nil
}

// Set stores item.Value under item.Key, replacing any previous value. A TTL
// of zero means no expiry.
func (c *Client) Set(ctx context.Context, item Item) error {
	resp, err := c.execKey(ctx, &wire.Request{
		Op:    wire.OpSet,
		Key:   item.Key,
		Value: item.Value,
		TTL:   item.TTL,
	})
	if err != nil {
		return err
	}

	if resp.IsError() {
		c.stats.recordError()
		return errorFromResponse(resp)
	}

	c.stats.recordSet(1)
	return nil
}

// Delete removes key and reports whether it existed.
func (c *Client) Delete(ctx context.Context, key string) (bool, error) {
	resp, err := c.execKey(ctx, &wire.Request{Op: wire.OpDel, Key: key})
	if err != nil {
		return false, err
	}
	existed, err := c.boolResult(resp)
	if err != nil {
		return false, err
	}

	c.stats.recordDelete(1)
	return existed, nil
}

// Exists reports whether key holds a live value.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	resp, err := c.execKey(ctx, &wire.Request{Op: wire.OpExists, Key: key})
	if err != nil {
		return false, err
	}
	return c.boolResult(resp)
}

// Incr adds delta to the integer stored under key and returns the new value.
// A missing key is created holding delta. Returns ErrWrongType if the key
// holds a non-integer value.
func (c *Client) Incr(ctx context.Context, key string, delta int64) (int64, error) {
	return c.arith(ctx, wire.OpIncr, key, delta)
}

// Decr subtracts delta from the integer stored under key. Semantics mirror
// Incr: a missing key is created holding -delta.
func (c *Client) Decr(ctx context.Context, key string, delta int64) (int64, error) {
	return c.arith(ctx, wire.OpDecr, key, delta)
}

func (c *Client) arith(ctx context.Context, op wire.Op, key string, delta int64) (int64, error) {
	resp, err := c.execKey(ctx, &wire.Request{Op: op, Key: key, Delta: delta})
	if err != nil {
		return 0, err
	}

	if resp.IsError() {
		c.stats.recordError()
		return 0, errorFromResponse(resp)
	}

	value, err := resp.Value()
	if err != nil {
		c.stats.recordError()
		return 0, err
	}
	n, ok := value.Int()
	if !ok {
		c.stats.recordError()
		return 0, fmt.Errorf("tidekv: %s returned a %s value", op, value.Kind())
	}

	c.stats.recordIncr()
	return n, nil
}

// CompareAndSwap atomically replaces the value under key with value, but only
// if the current value equals expected. A nil expected asserts the key is
// absent, making CAS usable as an atomic create. Reports whether the swap
// happened.
func (c *Client) CompareAndSwap(ctx context.Context, key string, expected *kv.Value, value kv.Value) (bool, error) {
	req := &wire.Request{Op: wire.OpCAS, Key: key, Value: value}
	if expected == nil {
		req.ExpectAbsent = true
	} else {
		req.Expected = *expected
	}

	resp, err := c.execKey(ctx, req)
	if err != nil {
		return false, err
	}
	swapped, err := c.boolResult(resp)
	if err != nil {
		return false, err
	}

	c.stats.recordCAS()
	return swapped, nil
}

// Ping checks connectivity to every configured server.
func (c *Client) Ping(ctx context.Context) error {
	var lastErr error
	for _, addr := range c.servers {
		sp, err := c.getOrCreatePool(addr)
		if err != nil {
			lastErr = err
			continue
		}
		resp, err := c.exec(ctx, sp, &wire.Request{Op: wire.OpPing})
		if err != nil {
			lastErr = err
			continue
		}
		if !resp.IsOK() || string(resp.Payload) != wire.PongPayload {
			lastErr = &ServerError{Token: wire.TokenGeneric, Message: "unexpected ping response from " + addr}
		}
	}
	return lastErr
}

// Info fetches runtime statistics from every configured server, keyed by
// address. Each entry is the map value returned by that server.
func (c *Client) Info(ctx context.Context) (map[string]kv.Value, error) {
	infos := make(map[string]kv.Value, len(c.servers))
	for _, addr := range c.servers {
		sp, err := c.getOrCreatePool(addr)
		if err != nil {
			return nil, err
		}
		resp, err := c.exec(ctx, sp, &wire.Request{Op: wire.OpInfo})
		if err != nil {
			return nil, err
		}
		if resp.IsError() {
			c.stats.recordError()
			return nil, errorFromResponse(resp)
		}
		value, err := resp.Value()
		if err != nil {
			c.stats.recordError()
			return nil, err
		}
		infos[addr] = value
	}
	return infos, nil
}

// boolResult decodes an OK response carrying a single boolean.
func (c *Client) boolResult(resp *wire.Response) (bool, error) {
	if resp.IsError() {
		c.stats.recordError()
		return false, errorFromResponse(resp)
	}
	value, err := resp.Value()
	if err != nil {
		c.stats.recordError()
		return false, err
	}
	b, ok := value.Bool()
	if !ok {
		c.stats.recordError()
		return false, fmt.Errorf("tidekv: expected boolean response, got %s", value.Kind())
	}
	return b, nil
}

// healthCheckLoop periodically prunes stale idle connections.
func (c *Client) healthCheckLoop() {
	ticker := time.NewTicker(c.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopHealthCheck:
			return
		case <-ticker.C:
			c.checkAllPools()
		}
	}
}

func (c *Client) checkAllPools() {
	c.mu.RLock()
	pools := make([]*serverPool, 0, len(c.pools))
	for _, sp := range c.pools {
		pools = append(pools, sp)
	}
	c.mu.RUnlock()

	for _, sp := range pools {
		c.checkPoolConnections(sp.pool)
	}
}

// checkPoolConnections destroys idle connections that are past their lifetime
// or idle limits, or that fail a ping.
func (c *Client) checkPoolConnections(pool Pool) {
	now := time.Now()

	for _, res := range pool.AcquireAllIdle() {
		if c.cfg.MaxConnLifetime > 0 && now.Sub(res.CreationTime()) > c.cfg.MaxConnLifetime {
			res.Destroy()
			continue
		}
		if c.cfg.MaxConnIdleTime > 0 && res.IdleDuration() > c.cfg.MaxConnIdleTime {
			res.Destroy()
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		err := res.Value().Ping(ctx)
		cancel()
		if err != nil {
			res.Destroy()
			continue
		}

		res.ReleaseUnused()
	}
}
