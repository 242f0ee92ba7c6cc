package oplog

import (
	"path/filepath"
	"testing"
)

func TestAppendUniqueDedupesAndPreservesOrder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "oplog.txt")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := l.AppendUnique([]int32{3, 1, 3, 2, 1}); err != nil {
		t.Fatalf("AppendUnique: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	entries, err := Replay(path)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	want := []int32{3, 1, 2}
	if len(entries) != len(want) {
		t.Fatalf("got %d entries, want %d", len(entries), len(want))
	}
	for i, e := range entries {
		if e.Op != OpUpsert || e.ID != want[i] {
			t.Fatalf("entry %d = %+v, want U %d", i, e, want[i])
		}
	}
}

func TestTruncateEmptiesLog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "oplog.txt")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := l.Append(OpUpsert, 5); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := l.Append(OpDelete, 5); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := l.Truncate(); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	entries, err := Replay(path)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty log after truncate, got %d entries", len(entries))
	}
}

func TestReplayMissingFileReturnsNoEntries(t *testing.T) {
	entries, err := Replay(filepath.Join(t.TempDir(), "absent.txt"))
	if err != nil {
		t.Fatalf("Replay of absent file: %v", err)
	}
	if entries != nil {
		t.Fatalf("expected nil entries for absent file, got %v", entries)
	}
}
