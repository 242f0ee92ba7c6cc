// Package memory implements the memory-pressure instrumentation behind
// annvdb.DB.MemoryUsage()/SetMemoryLimit(), scoped down from the teacher's
// cross-collection manager to a single-process budget: there is no
// pressure coordination across processes (that would be distribution),
// no registered-cache eviction, and no background monitor goroutine —
// just a tracked limit and an on-demand usage snapshot.
package memory

import (
	"runtime"
	"sync"
)

// Usage is a point-in-time breakdown of what a database instance holds
// in memory: the HNSW arena (graph + i8 vectors), any mmapped region of
// the f32 re-rank store, and the decoded-vector LRU cache, plus the
// process-wide Go heap for context.
type Usage struct {
	ArenaBytes   int64
	MmapBytes    int64
	CacheBytes   int64
	TotalTracked int64
	ProcessHeap  int64
	LimitBytes   int64
	OverLimit    bool
}

// Budget tracks an optional ceiling on TotalTracked bytes. It does not
// enforce the ceiling, and neither does the orchestrator: OverLimit is
// only reported to callers of annvdb.DB.MemoryUsage.
type Budget struct {
	mu    sync.RWMutex
	limit int64
}

// NewBudget creates a budget with no limit (0 means unlimited).
func NewBudget() *Budget {
	return &Budget{}
}

// SetLimit sets the tracked-bytes ceiling; 0 disables the limit.
func (b *Budget) SetLimit(bytes int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.limit = bytes
}

// Limit returns the current ceiling, or 0 if unlimited.
func (b *Budget) Limit() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.limit
}

// Snapshot combines the caller-supplied component sizes with the
// current Go heap in use into one Usage report.
func (b *Budget) Snapshot(arenaBytes, mmapBytes, cacheBytes int64) Usage {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	total := arenaBytes + mmapBytes + cacheBytes
	limit := b.Limit()

	return Usage{
		ArenaBytes:   arenaBytes,
		MmapBytes:    mmapBytes,
		CacheBytes:   cacheBytes,
		TotalTracked: total,
		ProcessHeap:  int64(memStats.HeapInuse),
		LimitBytes:   limit,
		OverLimit:    limit > 0 && total > limit,
	}
}
