package annvdb

import (
	"context"
	"errors"
	"math/rand"
	"strconv"
	"testing"

	"github.com/xDarkicex/annvdb/internal/graph"
)

func newTestDB(t *testing.T, opts ...Option) *DB {
	t.Helper()
	dir := t.TempDir()
	base := []Option{
		WithStoragePath(dir),
		WithDimension(16),
		WithMode(ModeFast),
		WithCapacity(256),
		WithSeed(12345),
		WithMetrics(false),
	}
	db, err := Open(append(base, opts...)...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func randVec(r *rand.Rand, dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = r.Float32()*2 - 1
	}
	return v
}

func TestInsertAndQueryFindsSelf(t *testing.T) {
	db := newTestDB(t)
	r := rand.New(rand.NewSource(1))
	ctx := context.Background()

	items := make([]Item, 50)
	for i := range items {
		items[i] = Item{ExternalID: strconv.Itoa(i), Vector: randVec(r, 16)}
	}
	if err := db.Insert(ctx, items); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	for i, it := range items {
		results, err := db.Query(ctx, it.Vector, 1, ScoreL2, nil)
		if err != nil {
			t.Fatalf("Query(%d): %v", i, err)
		}
		if len(results) != 1 {
			t.Fatalf("Query(%d): got %d results, want 1", i, len(results))
		}
		if results[0].ExternalID != it.ExternalID {
			t.Errorf("Query(%d): got external id %q, want %q", i, results[0].ExternalID, it.ExternalID)
		}
	}
}

func TestUpdateExistingExternalIDReplacesVector(t *testing.T) {
	db := newTestDB(t)
	r := rand.New(rand.NewSource(2))
	ctx := context.Background()

	v1 := randVec(r, 16)
	if err := db.Insert(ctx, []Item{{ExternalID: "a", Vector: v1}}); err != nil {
		t.Fatalf("first Insert: %v", err)
	}
	v2 := randVec(r, 16)
	if err := db.Insert(ctx, []Item{{ExternalID: "a", Vector: v2}}); err != nil {
		t.Fatalf("second Insert: %v", err)
	}

	stats := db.Stats()
	if stats.TotalCount != 1 {
		t.Fatalf("TotalCount = %d, want 1 after re-inserting the same external id", stats.TotalCount)
	}

	results, err := db.Query(ctx, v2, 1, ScoreL2, nil)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 1 || results[0].ExternalID != "a" {
		t.Fatalf("Query after update did not return the updated record: %+v", results)
	}
}

func TestDeleteExcludesFromQuery(t *testing.T) {
	db := newTestDB(t)
	r := rand.New(rand.NewSource(3))
	ctx := context.Background()

	items := make([]Item, 20)
	for i := range items {
		items[i] = Item{ExternalID: strconv.Itoa(i), Vector: randVec(r, 16)}
	}
	if err := db.Insert(ctx, items); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if err := db.Delete(ctx, []string{items[0].ExternalID}); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	results, err := db.Query(ctx, items[0].Vector, 5, ScoreL2, nil)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	for _, res := range results {
		if res.ExternalID == items[0].ExternalID {
			t.Fatalf("deleted external id %q still appeared in query results", items[0].ExternalID)
		}
	}

	stats := db.Stats()
	if stats.ActiveCount != 19 {
		t.Errorf("ActiveCount = %d, want 19", stats.ActiveCount)
	}
}

func TestSnapshotAndReopenRecoversIndex(t *testing.T) {
	dir := t.TempDir()
	r := rand.New(rand.NewSource(4))
	ctx := context.Background()

	db := newTestDB(t, WithStoragePath(dir))
	items := make([]Item, 30)
	for i := range items {
		items[i] = Item{ExternalID: strconv.Itoa(i), Vector: randVec(r, 16)}
	}
	if err := db.Insert(ctx, items); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := db.Snapshot(); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(
		WithStoragePath(dir),
		WithDimension(16),
		WithMode(ModeFast),
		WithCapacity(256),
		WithSeed(12345),
		WithMetrics(false),
	)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	stats := reopened.Stats()
	if stats.ActiveCount != 30 {
		t.Fatalf("ActiveCount after reopen = %d, want 30", stats.ActiveCount)
	}

	results, err := reopened.Query(ctx, items[0].Vector, 1, ScoreL2, nil)
	if err != nil {
		t.Fatalf("Query after reopen: %v", err)
	}
	if len(results) != 1 || results[0].ExternalID != items[0].ExternalID {
		t.Fatalf("Query after reopen did not find the expected nearest neighbor: %+v", results)
	}
}

func TestDeleteThresholdTriggersRebuild(t *testing.T) {
	db := newTestDB(t, WithDeletedRebuildThreshold(0.2))
	r := rand.New(rand.NewSource(5))
	ctx := context.Background()

	items := make([]Item, 10)
	for i := range items {
		items[i] = Item{ExternalID: strconv.Itoa(i), Vector: randVec(r, 16)}
	}
	if err := db.Insert(ctx, items); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if err := db.Delete(ctx, []string{items[0].ExternalID, items[1].ExternalID, items[2].ExternalID}); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if db.Stats().DeletedSinceRebuild != 0 {
		t.Errorf("DeletedSinceRebuild = %d, want 0 after threshold-triggered rebuild", db.Stats().DeletedSinceRebuild)
	}

	results, err := db.Query(ctx, items[5].Vector, 1, ScoreL2, nil)
	if err != nil {
		t.Fatalf("Query after rebuild: %v", err)
	}
	if len(results) != 1 || results[0].ExternalID != items[5].ExternalID {
		t.Fatalf("Query after rebuild did not find the expected nearest neighbor: %+v", results)
	}
}

func TestInsertExceedingCapacityReturnsOutOfCapacity(t *testing.T) {
	db := newTestDB(t, WithCapacity(5))
	r := rand.New(rand.NewSource(6))
	ctx := context.Background()

	items := make([]Item, 5)
	for i := range items {
		items[i] = Item{ExternalID: strconv.Itoa(i), Vector: randVec(r, 16)}
	}
	if err := db.Insert(ctx, items); err != nil {
		t.Fatalf("Insert to fill capacity: %v", err)
	}

	overflow := []Item{{ExternalID: "overflow", Vector: randVec(r, 16)}}
	err := db.Insert(ctx, overflow)
	if !errors.Is(err, ErrOutOfCapacity) {
		t.Fatalf("Insert past capacity: got %v, want ErrOutOfCapacity", err)
	}

	stats := db.Stats()
	if stats.TotalCount != 5 {
		t.Fatalf("TotalCount = %d, want 5 (rejected insert must leave metadata unchanged)", stats.TotalCount)
	}

	results, err := db.Query(ctx, overflow[0].Vector, 1, ScoreL2, nil)
	if err != nil {
		t.Fatalf("Query after rejected insert: %v", err)
	}
	for _, res := range results {
		if res.ExternalID == "overflow" {
			t.Fatalf("rejected insert still reached the graph: %+v", results)
		}
	}
}

func TestQueryClampsEfBeyondMaxEf(t *testing.T) {
	db := newTestDB(t)
	r := rand.New(rand.NewSource(7))
	ctx := context.Background()

	items := make([]Item, 20)
	for i := range items {
		items[i] = Item{ExternalID: strconv.Itoa(i), Vector: randVec(r, 16)}
	}
	if err := db.Insert(ctx, items); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	bigK := graph.MaxEf/2 + 100 // forces BaseEfSearch/k*2 past graph.MaxEf
	if _, err := db.Query(ctx, items[0].Vector, int32(bigK), ScoreL2, nil); err != nil {
		t.Fatalf("Query: %v", err)
	}

	if !db.Stats().EfClamped {
		t.Fatalf("EfClamped = false, want true after a query whose ef exceeded graph.MaxEf")
	}
}

func TestCompactRenumbersAndReclaimsCapacity(t *testing.T) {
	db := newTestDB(t, WithCapacity(20))
	r := rand.New(rand.NewSource(8))
	ctx := context.Background()

	items := make([]Item, 20)
	for i := range items {
		items[i] = Item{ExternalID: strconv.Itoa(i), Vector: randVec(r, 16)}
	}
	if err := db.Insert(ctx, items); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	toDelete := make([]string, 10)
	for i := range toDelete {
		toDelete[i] = items[i].ExternalID
	}
	if err := db.Delete(ctx, toDelete); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if err := db.Compact(); err != nil {
		t.Fatalf("Compact: %v", err)
	}

	stats := db.Stats()
	if stats.ActiveCount != 10 {
		t.Fatalf("ActiveCount after compact = %d, want 10", stats.ActiveCount)
	}
	if stats.TotalCount != 10 {
		t.Fatalf("TotalCount after compact = %d, want 10 (deleted records dropped on renumbering)", stats.TotalCount)
	}
	if stats.DeletedSinceRebuild != 0 {
		t.Fatalf("DeletedSinceRebuild after compact = %d, want 0", stats.DeletedSinceRebuild)
	}
	if stats.LastCompactionAt.IsZero() {
		t.Fatalf("LastCompactionAt is zero after Compact")
	}

	// Capacity was reclaimed: the freed ids must be usable by new inserts
	// even though the original capacity was only 20 and 10 ids are
	// already live — this would fail with ErrOutOfCapacity before
	// compaction reclaimed the 10 deleted ids.
	more := make([]Item, 10)
	for i := range more {
		more[i] = Item{ExternalID: "new-" + strconv.Itoa(i), Vector: randVec(r, 16)}
	}
	if err := db.Insert(ctx, more); err != nil {
		t.Fatalf("Insert after compact: %v", err)
	}

	for _, it := range items[10:] {
		results, err := db.Query(ctx, it.Vector, 1, ScoreL2, nil)
		if err != nil {
			t.Fatalf("Query(%s) after compact: %v", it.ExternalID, err)
		}
		if len(results) != 1 || results[0].ExternalID != it.ExternalID {
			t.Fatalf("Query(%s) after compact did not find itself: %+v", it.ExternalID, results)
		}
	}
}

