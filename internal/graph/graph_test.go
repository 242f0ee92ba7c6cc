package graph

import (
	"bytes"
	"math/rand"
	"testing"
)

func newTestIndex(t *testing.T, capacity int32) *Index {
	t.Helper()
	idx := NewIndex()
	idx.UpdateConfig(16, 8, 64)
	idx.UpdateSearchConfig(64)
	if err := idx.InitIndex(capacity); err != nil {
		t.Fatalf("InitIndex: %v", err)
	}
	idx.SeedRNG(12345)
	idx.SetResultsCap(10)
	return idx
}

func randVec(r *rand.Rand, dim int32) []byte {
	v := make([]byte, dim)
	for i := range v {
		v[i] = byte(int8(r.Intn(255) - 127))
	}
	return v
}

func TestInsertAndSearchFindsSelf(t *testing.T) {
	idx := newTestIndex(t, 256)
	r := rand.New(rand.NewSource(1))

	vecs := make([][]byte, 100)
	for i := int32(0); i < 100; i++ {
		v := randVec(r, 16)
		vecs[i] = v
		if err := idx.Insert(i, v); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}

	for i := int32(0); i < 100; i++ {
		got := idx.Search(vecs[i], 5)
		if got == 0 {
			t.Fatalf("Search(%d): expected results, got none", i)
		}
		rec := idx.GetResultsPtr()
		firstID := int32(rec[0]) | int32(rec[1])<<8 | int32(rec[2])<<16 | int32(rec[3])<<24
		if firstID != i {
			t.Fatalf("Search(%d): expected self as nearest neighbor, got %d", i, firstID)
		}
	}
}

func TestUpdateAndReconnectChangesVector(t *testing.T) {
	idx := newTestIndex(t, 64)
	r := rand.New(rand.NewSource(2))

	for i := int32(0); i < 30; i++ {
		if err := idx.Insert(i, randVec(r, 16)); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}

	newVec := make([]byte, 16)
	for i := range newVec {
		newVec[i] = 5
	}
	if err := idx.UpdateAndReconnect(0, newVec); err != nil {
		t.Fatalf("UpdateAndReconnect: %v", err)
	}

	got := idx.Search(newVec, 1)
	if got == 0 {
		t.Fatalf("expected a result after update")
	}
	rec := idx.GetResultsPtr()
	firstID := int32(rec[0]) | int32(rec[1])<<8 | int32(rec[2])<<16 | int32(rec[3])<<24
	if firstID != 0 {
		t.Fatalf("expected updated node 0 to be nearest to its own new vector, got %d", firstID)
	}
}

func TestDumpRoundTrip(t *testing.T) {
	idx := newTestIndex(t, 128)
	r := rand.New(rand.NewSource(3))

	vecs := make([][]byte, 50)
	for i := int32(0); i < 50; i++ {
		v := randVec(r, 16)
		vecs[i] = v
		if err := idx.Insert(i, v); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}

	var buf bytes.Buffer
	if _, err := idx.SaveIndex(&buf); err != nil {
		t.Fatalf("SaveIndex: %v", err)
	}

	loaded := NewIndex()
	loaded.UpdateConfig(16, 8, 64)
	loaded.UpdateSearchConfig(64)
	if err := loaded.InitIndex(128); err != nil {
		t.Fatalf("InitIndex: %v", err)
	}

	if err := loaded.LoadIndex(&buf); err != nil {
		t.Fatalf("LoadIndex: %v", err)
	}

	for i := int32(0); i < 50; i++ {
		if !loaded.HasNode(i) {
			t.Fatalf("expected node %d to be present after load", i)
		}
	}

	for i := int32(0); i < 50; i++ {
		got := loaded.Search(vecs[i], 1)
		if got == 0 {
			t.Fatalf("Search(%d) after load: expected a result", i)
		}
		rec := loaded.GetResultsPtr()
		firstID := int32(rec[0]) | int32(rec[1])<<8 | int32(rec[2])<<16 | int32(rec[3])<<24
		if firstID != i {
			t.Fatalf("Search(%d) after load: expected self, got %d", i, firstID)
		}
	}
}

func TestLoadIndexRejectsConfigMismatch(t *testing.T) {
	idx := newTestIndex(t, 32)
	r := rand.New(rand.NewSource(4))
	for i := int32(0); i < 10; i++ {
		if err := idx.Insert(i, randVec(r, 16)); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}

	var buf bytes.Buffer
	if _, err := idx.SaveIndex(&buf); err != nil {
		t.Fatalf("SaveIndex: %v", err)
	}

	mismatched := NewIndex()
	mismatched.UpdateConfig(32, 8, 64)
	if err := mismatched.InitIndex(32); err != nil {
		t.Fatalf("InitIndex: %v", err)
	}
	if err := mismatched.LoadIndex(&buf); err == nil {
		t.Fatalf("expected config mismatch error, got nil")
	}
}
