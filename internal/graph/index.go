package graph

import (
	"fmt"

	"github.com/xDarkicex/annvdb/internal/arena"
)

const sentinel = -1

// maxCandCap sizes the "cand" min-heap. searchLayer's working bound
// clamp(ef*2+32, ef, MaxEf) never exceeds MaxEf, so this size leaves
// headroom beyond it.
const maxCandCap = MaxEf*2 + 32

// Index is the HNSW graph engine (components C, D, E, G). It owns the
// arena, the i8 vector store living inside it, the offsets table, the
// visited-stamp tracker and every scratch buffer the query/insert hot
// paths reuse. None of it is safe for concurrent use — callers serialize
// access per §5 of the spec.
type Index struct {
	cfg    Config
	frozen bool

	ar      *arena.Arena
	offsets []uint32 // offsets[id] == 0 means absent
	vecBase uint32   // arena offset of the i8 vector store

	entryPoint int32 // sentinel -1
	maxLevel   int32 // sentinel -1
	size       int32

	rng     *xorshift32
	visited *visitedSet

	cand *candHeap // min-heap, working candidate set
	res  *candHeap // max-heap, worst-at-root result set

	sortedIDs   []int32
	sortedDists []int32
	usedMark    []bool
	selectIDs   []int32
	selectDists []int32
	oldNeigh    []int32

	resultsCap int32
	results    []byte // resultsCap * 8 bytes, (id int32, dist int32) pairs

	efClamped bool
}

// NewIndex constructs an uninitialized engine; InitIndex must be called
// before any graph operation.
func NewIndex() *Index {
	return &Index{entryPoint: sentinel, maxLevel: sentinel, rng: newXorshift32(1)}
}

// UpdateConfig sets the frozen hyperparameters. It is permitted only
// before InitIndex, or idempotently with identical values afterward; any
// other attempt is fatal per §4.G / §7.1 (ConfigMismatch).
func (idx *Index) UpdateConfig(dim, m, efConstruction int32) {
	next := Config{
		Dim:            dim,
		M:              m,
		MMax0:          DefaultMMax0(m),
		MaxLayers:      4,
		EfConstruction: efConstruction,
		EfSearch:       efConstruction,
	}
	if idx.frozen {
		if !idx.cfg.frozenEqual(next) {
			panic(fmt.Sprintf("graph: fatal config mismatch: DIM/M/EF_CONSTRUCTION cannot change after init (have %+v, want %+v)", idx.cfg, next))
		}
		return
	}
	idx.cfg.Dim, idx.cfg.M, idx.cfg.MMax0, idx.cfg.EfConstruction = dim, m, DefaultMMax0(m), efConstruction
	if idx.cfg.MaxLayers == 0 {
		idx.cfg.MaxLayers = 4
	}
	if idx.cfg.EfSearch == 0 {
		idx.cfg.EfSearch = efConstruction
	}
}

// UpdateSearchConfig sets EF_SEARCH. It is always permitted and
// non-positive values are ignored.
func (idx *Index) UpdateSearchConfig(efSearch int32) {
	if efSearch <= 0 {
		return
	}
	idx.cfg.EfSearch = efSearch
}

// SeedRNG reseeds the level generator; a zero seed is replaced internally.
func (idx *Index) SeedRNG(seed uint32) { idx.rng.seed(seed) }

// SetResultsCap grows (or shrinks) the results buffer.
func (idx *Index) SetResultsCap(n int32) {
	if n <= 0 {
		n = 1
	}
	idx.resultsCap = n
	idx.results = make([]byte, n*8)
}

func (idx *Index) GetResultsCap() int32 { return idx.resultsCap }
func (idx *Index) GetMaxEf() int32      { return MaxEf }
func (idx *Index) GetMaxElements() int32 { return idx.cfg.Capacity }

// ArenaUsage and ArenaCapacity report the bump allocator's current
// high-water mark and total capacity in bytes, for memory-pressure
// instrumentation.
func (idx *Index) ArenaUsage() int64    { return int64(idx.ar.Usage()) }
func (idx *Index) ArenaCapacity() int64 { return int64(idx.ar.Cap()) }

func (idx *Index) WasEfClamped() bool { return idx.efClamped }
func (idx *Index) ClearEfClamped()    { idx.efClamped = false }

// InitIndex (re)initializes the engine for a given capacity. It is safe to
// call again (e.g. after a successful dump load or a compaction) — it
// freezes the current config the first time it's called.
func (idx *Index) InitIndex(capacity int32) error {
	if err := idx.cfg.validateFrozen(); err != nil {
		return err
	}
	if idx.cfg.EfConstruction <= 0 {
		return fmt.Errorf("graph: UpdateConfig must be called before InitIndex")
	}
	idx.frozen = true
	idx.cfg.Capacity = capacity

	idx.ar = arena.New(int(capacity) * int(idx.cfg.Dim))
	idx.offsets = make([]uint32, capacity)
	idx.vecBase = idx.ar.Alloc(uint32(capacity)*uint32(idx.cfg.Dim), arena.DefaultAlign)

	idx.entryPoint = sentinel
	idx.maxLevel = sentinel
	idx.size = 0

	idx.visited = newVisitedSet(capacity)
	idx.cand = newCandHeap(maxCandCap, false)
	idx.res = newCandHeap(MaxEf, true)
	idx.sortedIDs = make([]int32, MaxEf)
	idx.sortedDists = make([]int32, MaxEf)
	idx.usedMark = make([]bool, MaxEf)
	idx.selectIDs = make([]int32, MaxEf)
	idx.selectDists = make([]int32, MaxEf)

	oldCap := idx.cfg.MMax0
	if idx.cfg.M > oldCap {
		oldCap = idx.cfg.M
	}
	idx.oldNeigh = make([]int32, oldCap)

	if idx.resultsCap == 0 {
		idx.SetResultsCap(10)
	}
	idx.efClamped = false
	return nil
}

// HasNode reports whether id is a present node.
func (idx *Index) HasNode(id int32) bool {
	return id >= 0 && id < int32(len(idx.offsets)) && idx.offsets[id] != 0
}

func (idx *Index) node(id int32) nodeView {
	return newNodeView(idx.ar.Bytes(), idx.offsets[id], idx.cfg)
}

// vectorAt returns the DIM-byte i8 vector slot for id.
func (idx *Index) vectorAt(id int32) []byte {
	base := idx.vecBase + uint32(id)*uint32(idx.cfg.Dim)
	return idx.ar.Bytes()[base : base+uint32(idx.cfg.Dim)]
}

func (idx *Index) clampEf(ef int32) int32 {
	if ef > MaxEf {
		idx.efClamped = true
		return MaxEf
	}
	return ef
}

// GetResultsPtr exposes the raw results buffer (id,dist record pairs)
// written by the last Search call.
func (idx *Index) GetResultsPtr() []byte { return idx.results }
