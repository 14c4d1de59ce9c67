package tidekv

import (
	"sync/atomic"
)

// PoolStats is a snapshot of one server pool's connection statistics.
type PoolStats struct {
	AcquireCount      uint64 // total acquire attempts
	AcquireWaitCount  uint64 // acquires that had to wait for a free connection
	CreatedConns      uint64 // total connections created
	DestroyedConns    uint64 // total connections destroyed
	AcquireErrors     uint64 // failed acquire attempts
	AcquireWaitTimeNs uint64 // total nanoseconds spent waiting

	TotalConns  int32 // connections in pool, active and idle
	IdleConns   int32 // idle connections available
	ActiveConns int32 // connections currently in use
}

// ClientStats is a snapshot of client operation counters. Batch commands
// count each key they touch, so MGet of 10 keys adds 10 to Gets.
type ClientStats struct {
	Gets    uint64 // lookups, including batch
	GetHits uint64 // lookups that found the key
	Sets    uint64 // stores, including batch
	Deletes uint64 // deletes, including batch
	Incrs   uint64 // increments and decrements
	CASes   uint64 // compare-and-swap attempts
	Errors  uint64 // errors across all operations
}

// clientStatsCollector updates client counters atomically. The client records
// into it; callers read snapshots via Client.Stats.
type clientStatsCollector struct {
	gets    atomic.Uint64
	getHits atomic.Uint64
	sets    atomic.Uint64
	deletes atomic.Uint64
	incrs   atomic.Uint64
	cases   atomic.Uint64
	errors  atomic.Uint64
}

func (c *clientStatsCollector) recordGet(found bool) {
	c.gets.Add(1)
	if found {
		c.getHits.Add(1)
	}
}

func (c *clientStatsCollector) recordSet(n int)    { c.sets.Add(uint64(n)) }
func (c *clientStatsCollector) recordDelete(n int) { c.deletes.Add(uint64(n)) }
func (c *clientStatsCollector) recordIncr()        { c.incrs.Add(1) }
func (c *clientStatsCollector) recordCAS()         { c.cases.Add(1) }
func (c *clientStatsCollector) recordError()       { c.errors.Add(1) }

func (c *clientStatsCollector) snapshot() ClientStats {
	return ClientStats{
		Gets:    c.gets.Load(),
		GetHits: c.getHits.Load(),
		Sets:    c.sets.Load(),
		Deletes: c.deletes.Load(),
		Incrs:   c.incrs.Load(),
		CASes:   c.cases.Load(),
		Errors:  c.errors.Load(),
	}
}
