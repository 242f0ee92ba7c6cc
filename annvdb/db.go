// Package annvdb is the database orchestrator (§4.F): it binds the HNSW
// graph engine to disk-resident float32 vectors, an external-id↔internal-id
// metadata map, a crash-consistent write pipeline, snapshot/oplog
// recovery, and compaction.
package annvdb

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/xDarkicex/annvdb/internal/fstore"
	"github.com/xDarkicex/annvdb/internal/graph"
	"github.com/xDarkicex/annvdb/internal/memory"
	"github.com/xDarkicex/annvdb/internal/metastore"
	"github.com/xDarkicex/annvdb/internal/obs"
	"github.com/xDarkicex/annvdb/internal/oplog"
	"github.com/xDarkicex/annvdb/internal/quant"
)

// Embedder converts host input (text, binary, an image path — whatever
// the caller's domain needs) into a raw f32 vector. It is an external
// collaborator per §6; annvdb normalizes its output to unit L2 before
// quantizing.
type Embedder interface {
	Embed(ctx context.Context, input any) ([]float32, error)
}

// Item is one upsert request: either Vector is already populated, or
// Input is handed to the configured Embedder.
type Item struct {
	ExternalID string
	Vector     []float32
	Input      any
	Metadata   map[string]any
}

// ScoreMode selects the §4.F query-pipeline score conversion.
type ScoreMode int

const (
	ScoreL2 ScoreMode = iota
	ScoreCosine
	ScoreSimilarity
)

// SearchResult is one ranked query hit.
type SearchResult struct {
	ExternalID string
	Score      float32
	Metadata   map[string]any
}

// DB is one open database instance over a storage directory.
type DB struct {
	cfg Config

	instanceLock *fifoLock
	dirLock      *fifoLock

	idx      *graph.Index
	vecStore *fstore.Store
	meta     *metastore.Store
	log      *oplog.Log

	embedder Embedder
	cache    *lru.Cache[int32, []float32]
	budget   *memory.Budget

	metrics *obs.Metrics
	logger  *zap.Logger
	health  *obs.HealthChecker
	closed  bool

	lastCompaction time.Time
}

// Open creates or opens a database at the configured storage directory,
// recovering from the latest snapshot and replaying the oplog per §4.F
// "Recovery on open".
func Open(opts ...Option) (*DB, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("annvdb: apply option: %w", err)
		}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.StoragePath, 0o755); err != nil {
		return nil, fmt.Errorf("annvdb: create storage directory: %w", err)
	}

	logger, err := obs.NewLogger(cfg.Development)
	if err != nil {
		return nil, fmt.Errorf("annvdb: build logger: %w", err)
	}

	var metrics *obs.Metrics
	if cfg.MetricsEnabled {
		metrics, _ = obs.NewMetrics()
	}

	meta, err := metastore.Open(filePath(cfg, "meta.json"))
	if err != nil {
		return nil, fmt.Errorf("annvdb: open metadata store: %w", err)
	}

	log, err := oplog.Open(filePath(cfg, "ann.oplog"))
	if err != nil {
		return nil, fmt.Errorf("annvdb: open oplog: %w", err)
	}

	vecStore, err := fstore.Open(filePath(cfg, "vectors.f32.bin"), cfg.Dim, cfg.Capacity)
	if err != nil {
		return nil, fmt.Errorf("annvdb: open f32 store: %w", err)
	}

	idx := graph.NewIndex()
	idx.UpdateConfig(cfg.Dim, cfg.M, cfg.EfConstruction)
	idx.UpdateSearchConfig(cfg.BaseEfSearch)
	idx.SeedRNG(cfg.Seed)
	idx.SetResultsCap(cfg.ResultsCap)
	if err := idx.InitIndex(cfg.Capacity); err != nil {
		return nil, fmt.Errorf("annvdb: init index: %w", err)
	}

	cache, err := lru.New[int32, []float32](4096)
	if err != nil {
		return nil, fmt.Errorf("annvdb: build vector cache: %w", err)
	}

	db := &DB{
		cfg:          *cfg,
		instanceLock: newFifoLock(),
		dirLock:      globalLockFor(cfg.StoragePath + "/" + cfg.Prefix),
		idx:          idx,
		vecStore:     vecStore,
		meta:         meta,
		log:          log,
		cache:        cache,
		budget:       memory.NewBudget(),
		metrics:      metrics,
		logger:       logger,
		health:       obs.NewHealthChecker(),
	}
	db.registerHealthChecks()

	if err := db.recoverOnOpen(); err != nil {
		logger.Error("recovery on open failed", zap.Error(err))
		return nil, fmt.Errorf("annvdb: recover on open: %w", err)
	}
	return db, nil
}

func filePath(cfg *Config, name string) string {
	if cfg.Prefix != "" {
		name = cfg.Prefix + "." + name
	}
	return filepath.Join(cfg.StoragePath, name)
}

func (db *DB) path(name string) string {
	return filePath(&db.cfg, name)
}

// recoverOnOpen implements §4.F "Recovery on open": try the dump; if
// absent/corrupt and auto-rebuild is enabled with active entries, rebuild
// from the f32 store; then replay the oplog.
func (db *DB) recoverOnOpen() error {
	dumpPath := db.path("dump.bin")
	f, err := os.Open(dumpPath)
	loaded := false
	if err == nil {
		defer f.Close()
		if loadErr := db.idx.LoadIndex(f); loadErr == nil {
			loaded = true
		} else {
			db.logger.Warn("dump load failed, falling back to rebuild", zap.Error(loadErr))
		}
	}

	if !loaded && db.cfg.AutoRebuildOnLoad && db.meta.ActiveCount() > 0 {
		if err := db.rebuildGraphFromStore(); err != nil {
			return fmt.Errorf("rebuild from f32 store: %w", err)
		}
	}

	entries, err := oplog.Replay(db.path("ann.oplog"))
	if err != nil {
		return fmt.Errorf("replay oplog: %w", err)
	}
	for _, e := range entries {
		rec, ok := db.meta.GetByInternalID(e.ID)
		if !ok || rec.Deleted {
			if db.metrics != nil {
				db.metrics.OplogReplaySkipped.Inc()
			}
			continue
		}
		switch e.Op {
		case oplog.OpUpsert:
			vecs, err := db.vecStore.ReadMany([]int32{e.ID})
			if err != nil {
				return fmt.Errorf("read vector for replay of id %d: %w", e.ID, err)
			}
			i8 := make([]byte, db.cfg.Dim)
			if err := quant.Quantize(vecs[0], i8); err != nil {
				return fmt.Errorf("quantize during replay of id %d: %w", e.ID, err)
			}
			if err := db.idx.Insert(e.ID, i8); err != nil {
				return fmt.Errorf("graph insert during replay of id %d: %w", e.ID, err)
			}
			if db.metrics != nil {
				db.metrics.OplogReplayedTotal.Inc()
			}
		case oplog.OpDelete:
			db.meta.MarkDeletedMany([]string{rec.ExternalID})
		}
	}
	return nil
}

// rebuildGraphFromStore reinserts every active record from the f32 store
// at its existing internal id into a fresh, same-capacity graph. It is
// the non-compact rebuild: used both for the absent/corrupt-dump recovery
// path and for the rebuild triggered by the deleted-ratio threshold in
// Delete. It never renumbers ids and never reclaims capacity — that is
// Compact's job.
func (db *DB) rebuildGraphFromStore() error {
	active := db.meta.FilterInternalIDSet(func(r *metastore.Record) bool { return !r.Deleted })
	ids := make([]int32, 0, len(active))
	for id := range active {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	idx := graph.NewIndex()
	idx.UpdateConfig(db.cfg.Dim, db.cfg.M, db.cfg.EfConstruction)
	idx.UpdateSearchConfig(db.cfg.BaseEfSearch)
	idx.SeedRNG(db.cfg.Seed)
	idx.SetResultsCap(db.cfg.ResultsCap)
	if err := idx.InitIndex(db.cfg.Capacity); err != nil {
		return err
	}

	vecs, err := db.vecStore.ReadMany(ids)
	if err != nil {
		return fmt.Errorf("read vectors for rebuild: %w", err)
	}
	i8 := make([]byte, db.cfg.Dim)
	for i, id := range ids {
		if err := quant.Quantize(vecs[i], i8); err != nil {
			return fmt.Errorf("quantize id %d during rebuild: %w", id, err)
		}
		if err := idx.Insert(id, i8); err != nil {
			return fmt.Errorf("insert id %d during rebuild: %w", id, err)
		}
	}
	db.idx = idx
	return nil
}

// Insert implements the §4.F insert pipeline under the per-DB lock
// nested inside the per-directory global lock.
func (db *DB) Insert(ctx context.Context, items []Item) error {
	db.dirLock.Lock()
	defer db.dirLock.Unlock()
	db.instanceLock.Lock()
	defer db.instanceLock.Unlock()

	if db.closed {
		return ErrClosed
	}
	if len(items) == 0 {
		return nil
	}

	externalIDs := make([]string, len(items))
	for i, it := range items {
		externalIDs[i] = it.ExternalID
	}
	existing := db.meta.GetMany(externalIDs)

	if err := db.meta.BeginBulk(); err != nil {
		return fmt.Errorf("annvdb: begin bulk: %w", err)
	}
	rollback := true
	defer func() {
		if rollback {
			db.meta.EndBulk(false)
			if db.metrics != nil {
				db.metrics.MetadataRollbackTotal.Inc()
			}
		}
	}()

	type resolved struct {
		id    int32
		isNew bool
		vec   []float32
		i8    []byte
		item  Item
	}
	resolvedItems := make([]resolved, len(items))

	var newCount int32
	for i, it := range items {
		if existing[i] == nil {
			newCount++
		}
	}
	start := db.meta.AllocInternalIDs(newCount)
	if start+newCount > db.cfg.Capacity {
		return fmt.Errorf("%w: need internal ids [%d,%d), capacity is %d", ErrOutOfCapacity, start, start+newCount, db.cfg.Capacity)
	}
	next := start

	newRecords := make([]*metastore.Record, 0, newCount)
	for i, it := range items {
		r := resolved{item: it}
		if existing[i] != nil {
			r.id = existing[i].InternalID
			r.isNew = false
		} else {
			r.id = next
			next++
			r.isNew = true
			newRecords = append(newRecords, &metastore.Record{
				ExternalID: it.ExternalID,
				InternalID: r.id,
				Metadata:   it.Metadata,
			})
		}
		resolvedItems[i] = r
	}
	db.meta.AddMany(newRecords)

	for i := range resolvedItems {
		r := &resolvedItems[i]
		vec := r.item.Vector
		if vec == nil {
			if db.embedder == nil {
				return fmt.Errorf("annvdb: item %q has no vector and no embedder is configured", r.item.ExternalID)
			}
			embedded, err := db.embedder.Embed(ctx, r.item.Input)
			if err != nil {
				return fmt.Errorf("annvdb: embed %q: %w", r.item.ExternalID, err)
			}
			vec = embedded
		}
		if len(vec) != int(db.cfg.Dim) {
			return fmt.Errorf("%w: item %q has length %d, want %d", ErrDimensionMismatch, r.item.ExternalID, len(vec), db.cfg.Dim)
		}
		quant.Normalize(vec)
		r.vec = vec
		r.i8 = make([]byte, db.cfg.Dim)
		if err := quant.Quantize(vec, r.i8); err != nil {
			return fmt.Errorf("annvdb: quantize %q: %w", r.item.ExternalID, err)
		}
	}

	// New ids were allocated contiguously starting at `start`, and
	// resolvedItems preserves that order, so every run of consecutive
	// new items can go through WriteRun in one shot; existing ids are
	// scattered and go through WriteVector individually.
	runStart := int32(-1)
	var run [][]float32
	flushRun := func() error {
		if len(run) == 0 {
			return nil
		}
		if err := db.vecStore.WriteRun(runStart, run); err != nil {
			return fmt.Errorf("annvdb: write vector run at %d: %w", runStart, err)
		}
		run = run[:0]
		runStart = -1
		return nil
	}
	for _, r := range resolvedItems {
		if r.isNew {
			if runStart == -1 {
				runStart = r.id
			}
			run = append(run, r.vec)
			continue
		}
		if err := flushRun(); err != nil {
			return err
		}
		if err := db.vecStore.WriteVector(r.id, r.vec); err != nil {
			return fmt.Errorf("annvdb: write vector id %d: %w", r.id, err)
		}
	}
	if err := flushRun(); err != nil {
		return err
	}
	if err := db.vecStore.Fsync(); err != nil {
		return fmt.Errorf("%w: %v", ErrShortIO, err)
	}

	ids := make([]int32, len(resolvedItems))
	for i, r := range resolvedItems {
		if err := db.idx.Insert(r.id, r.i8); err != nil {
			return fmt.Errorf("annvdb: graph insert id %d: %w", r.id, err)
		}
		ids[i] = r.id
		db.cache.Remove(r.id)
	}

	if err := db.log.AppendUnique(ids); err != nil {
		return fmt.Errorf("annvdb: append oplog: %w", err)
	}

	rollback = false
	if err := db.meta.EndBulk(true); err != nil {
		return fmt.Errorf("annvdb: commit bulk: %w", err)
	}

	if db.metrics != nil {
		for _, r := range resolvedItems {
			if r.isNew {
				db.metrics.VectorInserts.Inc()
			} else {
				db.metrics.VectorUpdates.Inc()
			}
		}
	}
	return nil
}

// Delete soft-deletes the given external ids per §4.F "Delete", and
// schedules a non-compact rebuild if the deleted ratio crosses the
// configured threshold.
func (db *DB) Delete(ctx context.Context, externalIDs []string) error {
	db.dirLock.Lock()
	defer db.dirLock.Unlock()
	db.instanceLock.Lock()
	defer db.instanceLock.Unlock()

	if db.closed {
		return ErrClosed
	}

	records := db.meta.GetMany(externalIDs)
	ids := make([]int32, 0, len(externalIDs))
	for i, r := range records {
		if r != nil && !r.Deleted {
			ids = append(ids, r.InternalID)
		}
	}

	db.meta.MarkDeletedMany(externalIDs)
	for _, id := range ids {
		if err := db.log.Append(oplog.OpDelete, id); err != nil {
			return fmt.Errorf("annvdb: append delete to oplog: %w", err)
		}
		db.cache.Remove(id)
	}
	if db.metrics != nil {
		db.metrics.VectorDeletes.Add(float64(len(ids)))
	}

	total := db.meta.TotalCount()
	if total > 0 && float64(db.meta.DeletedSinceRebuild())/float64(total) > db.cfg.DeletedRebuildThreshold {
		if err := db.rebuildGraphFromStore(); err != nil {
			return fmt.Errorf("annvdb: scheduled rebuild after delete threshold: %w", err)
		}
		db.meta.ResetDeletedSinceRebuild()
		if db.metrics != nil {
			db.metrics.GraphRebuildsTotal.Inc()
		}
	}
	return nil
}

// Query implements the §4.F query pipeline: quantized ANN search,
// metadata filtering, f32 re-rank, and score conversion.
func (db *DB) Query(ctx context.Context, vector []float32, k int32, mode ScoreMode, filter func(map[string]any) bool) ([]SearchResult, error) {
	db.instanceLock.Lock()
	defer db.instanceLock.Unlock()

	if db.closed {
		return nil, ErrClosed
	}
	if len(vector) != int(db.cfg.Dim) {
		return nil, fmt.Errorf("%w: query vector has length %d, want %d", ErrDimensionMismatch, len(vector), db.cfg.Dim)
	}

	q := make([]float32, len(vector))
	copy(q, vector)
	quant.Normalize(q)

	qi8 := make([]byte, db.cfg.Dim)
	if err := quant.Quantize(q, qi8); err != nil {
		return nil, fmt.Errorf("annvdb: quantize query: %w", err)
	}

	efSearch := db.cfg.BaseEfSearch
	if k*2 > efSearch {
		efSearch = k * 2
	}
	db.idx.UpdateSearchConfig(efSearch)

	annK := k * db.cfg.RerankMultiplier
	if k > annK {
		annK = k
	}
	if annK > db.cfg.MaxAnnK {
		annK = db.cfg.MaxAnnK
	}
	if annK > graph.MaxEf {
		annK = graph.MaxEf
	}
	if db.idx.GetResultsCap() < annK {
		db.idx.SetResultsCap(annK)
	}

	found := db.idx.Search(qi8, annK)
	if db.metrics != nil {
		db.metrics.SearchQueries.Inc()
		if db.idx.WasEfClamped() {
			db.metrics.EfClampedTotal.Inc()
			db.idx.ClearEfClamped()
		}
	}

	rec := db.idx.GetResultsPtr()
	candidateIDs := make([]int32, 0, found)
	for i := int32(0); i < found; i++ {
		id := int32(rec[i*8]) | int32(rec[i*8+1])<<8 | int32(rec[i*8+2])<<16 | int32(rec[i*8+3])<<24
		metaRec, ok := db.meta.GetByInternalID(id)
		if !ok || metaRec.Deleted {
			continue
		}
		if filter != nil && !filter(metaRec.Metadata) {
			continue
		}
		candidateIDs = append(candidateIDs, id)
	}

	vecs, err := db.readVectorsCached(candidateIDs)
	if err != nil {
		return nil, fmt.Errorf("annvdb: read candidate vectors: %w", err)
	}

	type scored struct {
		id int32
		l2 float32
	}
	rankings := make([]scored, len(candidateIDs))
	for i, id := range candidateIDs {
		rankings[i] = scored{id: id, l2: exactL2Sq(q, vecs[i])}
	}
	sort.Slice(rankings, func(a, b int) bool {
		if rankings[a].l2 != rankings[b].l2 {
			return rankings[a].l2 < rankings[b].l2
		}
		return rankings[a].id < rankings[b].id
	})

	limit := int(k)
	if limit > len(rankings) {
		limit = len(rankings)
	}
	out := make([]SearchResult, limit)
	for i := 0; i < limit; i++ {
		r := rankings[i]
		metaRec, _ := db.meta.GetByInternalID(r.id)
		out[i] = SearchResult{
			ExternalID: metaRec.ExternalID,
			Score:      convertScore(mode, r.l2),
			Metadata:   metaRec.Metadata,
		}
	}
	return out, nil
}

// readVectorsCached consults the LRU cache before falling back to the
// f32 store for any miss, then populates the cache for next time.
func (db *DB) readVectorsCached(ids []int32) ([][]float32, error) {
	out := make([][]float32, len(ids))
	var missIdx []int
	var missIDs []int32
	for i, id := range ids {
		if v, ok := db.cache.Get(id); ok {
			out[i] = v
			continue
		}
		missIdx = append(missIdx, i)
		missIDs = append(missIDs, id)
	}
	if len(missIDs) == 0 {
		return out, nil
	}
	fetched, err := db.vecStore.ReadMany(missIDs)
	if err != nil {
		return nil, err
	}
	for j, i := range missIdx {
		out[i] = fetched[j]
		db.cache.Add(missIDs[j], fetched[j])
	}
	return out, nil
}

func exactL2Sq(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

func convertScore(mode ScoreMode, l2sq float32) float32 {
	switch mode {
	case ScoreCosine:
		v := 1 - l2sq/2
		return clampF32(v, -1, 1)
	case ScoreSimilarity:
		v := 1 - l2sq/4
		return clampF32(v, 0, 1)
	default:
		return l2sq
	}
}

func clampF32(v, lo, hi float32) float32 {
	return float32(math.Min(float64(hi), math.Max(float64(lo), float64(v))))
}

// Snapshot implements §4.F "Snapshot": serialize the graph to a temp
// file, fsync, atomic-rename to dump.bin; write a JSON sidecar; truncate
// the oplog only after the rename succeeds.
func (db *DB) Snapshot() error {
	db.dirLock.Lock()
	defer db.dirLock.Unlock()
	db.instanceLock.Lock()
	defer db.instanceLock.Unlock()

	if db.closed {
		return ErrClosed
	}
	return db.snapshotLocked()
}

// snapshotLocked is Snapshot's body without the lock acquisition, so
// Compact can fold a post-compaction dump write into the same critical
// section instead of re-entering the (non-reentrant) fifoLocks.
func (db *DB) snapshotLocked() error {
	tmp := db.path("dump.bin.tmp")
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("annvdb: create snapshot temp file: %w", err)
	}
	if _, err := db.idx.SaveIndex(f); err != nil {
		f.Close()
		return fmt.Errorf("annvdb: save index: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("%w: snapshot fsync: %v", ErrShortIO, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("annvdb: close snapshot temp file: %w", err)
	}
	if err := os.Rename(tmp, db.path("dump.bin")); err != nil {
		return fmt.Errorf("annvdb: rename snapshot into place: %w", err)
	}

	if err := db.writeStateSidecar(); err != nil {
		return err
	}
	if err := db.meta.SaveNow(); err != nil {
		return fmt.Errorf("annvdb: persist metadata: %w", err)
	}
	if err := db.log.Truncate(); err != nil {
		return fmt.Errorf("annvdb: truncate oplog: %w", err)
	}
	if db.metrics != nil {
		db.metrics.SnapshotsTotal.Inc()
	}
	return nil
}

func (db *DB) writeStateSidecar() error {
	state := fmt.Sprintf(
		`{"dim":%d,"m":%d,"ef_construction":%d,"capacity":%d,"results_cap":%d,"max_elements":%d,"active_count":%d}`,
		db.cfg.Dim, db.cfg.M, db.cfg.EfConstruction, db.cfg.Capacity, db.idx.GetResultsCap(), db.idx.GetMaxElements(), db.meta.ActiveCount(),
	)
	tmp := db.path("dump.json.tmp")
	if err := os.WriteFile(tmp, []byte(state), 0o644); err != nil {
		return fmt.Errorf("annvdb: write state sidecar: %w", err)
	}
	if err := os.Rename(tmp, db.path("dump.json")); err != nil {
		return fmt.Errorf("annvdb: rename state sidecar: %w", err)
	}
	return nil
}

// Compact implements §4.F's compaction rebuild, the largest-share
// responsibility distinct from the non-compact rebuild in
// rebuildGraphFromStore: it densely renumbers every active record to
// [0, active_count), writes a fresh f32 store and a fresh metadata file
// to temp paths, and atomically renames both into place, growing
// capacity if the active set is crowding the current one. This is what
// actually reclaims internal ids — AllocInternalIDs never reuses an id
// freed by a soft delete, so a delete-heavy workload would otherwise
// permanently exhaust capacity even while ActiveCount stays low.
func (db *DB) Compact() error {
	db.dirLock.Lock()
	defer db.dirLock.Unlock()
	db.instanceLock.Lock()
	defer db.instanceLock.Unlock()

	if db.closed {
		return ErrClosed
	}

	start := time.Now()

	activeSet := db.meta.FilterInternalIDSet(func(r *metastore.Record) bool { return !r.Deleted })
	oldIDs := make([]int32, 0, len(activeSet))
	for id := range activeSet {
		oldIDs = append(oldIDs, id)
	}
	sort.Slice(oldIDs, func(i, j int) bool { return oldIDs[i] < oldIDs[j] })
	activeCount := int32(len(oldIDs))

	newCapacity := db.cfg.Capacity
	if activeCount > 0 && float64(activeCount)/float64(newCapacity) > 0.8 {
		newCapacity *= 2
	}

	vecs, err := db.vecStore.ReadMany(oldIDs)
	if err != nil {
		return fmt.Errorf("annvdb: read vectors for compaction: %w", err)
	}

	tmpVecPath := db.path("vectors.f32.bin.compact")
	newVecStore, err := fstore.Open(tmpVecPath, db.cfg.Dim, newCapacity)
	if err != nil {
		return fmt.Errorf("annvdb: open compaction f32 store: %w", err)
	}
	if activeCount > 0 {
		if err := newVecStore.WriteRun(0, vecs); err != nil {
			newVecStore.Close()
			os.Remove(tmpVecPath)
			return fmt.Errorf("annvdb: write compacted vectors: %w", err)
		}
	}
	if err := newVecStore.Fsync(); err != nil {
		newVecStore.Close()
		os.Remove(tmpVecPath)
		return fmt.Errorf("%w: compaction fsync: %v", ErrShortIO, err)
	}
	if err := newVecStore.Close(); err != nil {
		os.Remove(tmpVecPath)
		return fmt.Errorf("annvdb: close compaction f32 store: %w", err)
	}

	finalVecPath := db.path("vectors.f32.bin")
	if err := os.Rename(tmpVecPath, finalVecPath); err != nil {
		return fmt.Errorf("annvdb: rename compacted f32 store into place: %w", err)
	}
	reopenedVecStore, err := fstore.Open(finalVecPath, db.cfg.Dim, newCapacity)
	if err != nil {
		return fmt.Errorf("annvdb: reopen compacted f32 store: %w", err)
	}

	newIdx := graph.NewIndex()
	newIdx.UpdateConfig(db.cfg.Dim, db.cfg.M, db.cfg.EfConstruction)
	newIdx.UpdateSearchConfig(db.cfg.BaseEfSearch)
	newIdx.SeedRNG(db.cfg.Seed)
	newIdx.SetResultsCap(db.cfg.ResultsCap)
	if err := newIdx.InitIndex(newCapacity); err != nil {
		reopenedVecStore.Close()
		return fmt.Errorf("annvdb: init compacted index: %w", err)
	}

	newRecords := make([]*metastore.Record, activeCount)
	i8 := make([]byte, db.cfg.Dim)
	for newID, oldID := range oldIDs {
		if err := quant.Quantize(vecs[newID], i8); err != nil {
			reopenedVecStore.Close()
			return fmt.Errorf("annvdb: quantize id %d during compaction: %w", oldID, err)
		}
		if err := newIdx.Insert(int32(newID), i8); err != nil {
			reopenedVecStore.Close()
			return fmt.Errorf("annvdb: insert id %d during compaction: %w", newID, err)
		}
		oldRec, ok := db.meta.GetByInternalID(oldID)
		if !ok {
			reopenedVecStore.Close()
			return fmt.Errorf("annvdb: active record for internal id %d vanished during compaction", oldID)
		}
		newRecords[newID] = &metastore.Record{
			ExternalID: oldRec.ExternalID,
			InternalID: int32(newID),
			Metadata:   oldRec.Metadata,
		}
	}

	tmpMetaPath := db.path("meta.json.compact")
	newMeta := metastore.NewFromRecords(tmpMetaPath, newRecords, activeCount)
	if err := newMeta.SaveNow(); err != nil {
		reopenedVecStore.Close()
		return fmt.Errorf("annvdb: write compacted metadata: %w", err)
	}
	finalMetaPath := db.path("meta.json")
	if err := os.Rename(tmpMetaPath, finalMetaPath); err != nil {
		reopenedVecStore.Close()
		return fmt.Errorf("annvdb: rename compacted metadata into place: %w", err)
	}
	reopenedMeta, err := metastore.Open(finalMetaPath)
	if err != nil {
		reopenedVecStore.Close()
		return fmt.Errorf("annvdb: reopen compacted metadata: %w", err)
	}

	if err := db.vecStore.Close(); err != nil {
		db.logger.Warn("failed to close pre-compaction f32 store", zap.Error(err))
	}

	db.idx = newIdx
	db.vecStore = reopenedVecStore
	db.meta = reopenedMeta
	db.cfg.Capacity = newCapacity
	db.cache.Purge()
	db.lastCompaction = time.Now()

	if err := db.snapshotLocked(); err != nil {
		return fmt.Errorf("annvdb: snapshot after compaction: %w", err)
	}

	if db.metrics != nil {
		db.metrics.CompactionsTotal.Inc()
		db.metrics.CompactionLatency.Observe(time.Since(start).Seconds())
	}
	return nil
}

// Stats summarizes the current state of the database, grounded in the
// teacher's Collection.Stats().
type Stats struct {
	ActiveCount         int32
	TotalCount          int32
	DeletedSinceRebuild int32
	DeletedRatio        float64
	MaxElements         int32
	Dimension           int32
	EfClamped           bool
	LastCompactionAt    time.Time
}

func (db *DB) Stats() Stats {
	db.instanceLock.Lock()
	defer db.instanceLock.Unlock()
	total := db.meta.TotalCount()
	var ratio float64
	if total > 0 {
		ratio = float64(db.meta.DeletedSinceRebuild()) / float64(total)
	}
	return Stats{
		ActiveCount:         db.meta.ActiveCount(),
		TotalCount:          total,
		DeletedSinceRebuild: db.meta.DeletedSinceRebuild(),
		DeletedRatio:        ratio,
		MaxElements:         db.idx.GetMaxElements(),
		Dimension:           db.cfg.Dim,
		EfClamped:           db.idx.WasEfClamped(),
		LastCompactionAt:    db.lastCompaction,
	}
}

// MemoryUsage reports the arena, mmap, and decoded-vector cache
// contribution to process memory, per SPEC_FULL.md's memory-pressure
// instrumentation supplement.
func (db *DB) MemoryUsage() memory.Usage {
	db.instanceLock.Lock()
	defer db.instanceLock.Unlock()
	cacheBytes := int64(db.cache.Len()) * int64(db.cfg.Dim) * 4
	return db.budget.Snapshot(db.idx.ArenaUsage(), db.vecStore.MmapBytes(), cacheBytes)
}

// SetMemoryLimit sets (or, with 0, clears) the tracked-bytes ceiling that
// MemoryUsage().OverLimit reports against.
func (db *DB) SetMemoryLimit(bytes int64) {
	db.budget.SetLimit(bytes)
}

func (db *DB) registerHealthChecks() {
	db.health.Register("dump_readable", func(ctx context.Context) *obs.CheckResult {
		if _, err := os.Stat(db.path("dump.bin")); err != nil && !os.IsNotExist(err) {
			return &obs.CheckResult{Healthy: false, Message: err.Error()}
		}
		return &obs.CheckResult{Healthy: true, Message: "ok"}
	})
	db.health.Register("oplog_writable", func(ctx context.Context) *obs.CheckResult {
		if db.closed {
			return &obs.CheckResult{Healthy: false, Message: "database closed"}
		}
		return &obs.CheckResult{Healthy: true, Message: "ok"}
	})
}

// Health runs every registered probe.
func (db *DB) Health(ctx context.Context) *obs.HealthStatus {
	return db.health.Check(ctx)
}

// Close releases the f32 store and oplog file handles and syncs the
// logger. It does not write a snapshot or persist the metadata store;
// only Snapshot and Compact do.
func (db *DB) Close() error {
	db.instanceLock.Lock()
	defer db.instanceLock.Unlock()
	if db.closed {
		return nil
	}
	db.closed = true
	if err := db.vecStore.Close(); err != nil {
		return fmt.Errorf("annvdb: close f32 store: %w", err)
	}
	if err := db.log.Close(); err != nil {
		return fmt.Errorf("annvdb: close oplog: %w", err)
	}
	return db.logger.Sync()
}
