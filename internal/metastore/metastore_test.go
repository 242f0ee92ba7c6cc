package metastore

import (
	"path/filepath"
	"testing"
)

func TestAllocInternalIDsIsMonotonicAndContiguous(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "meta.json"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	first := s.AllocInternalIDs(5)
	second := s.AllocInternalIDs(3)
	if first != 0 {
		t.Fatalf("expected first alloc to start at 0, got %d", first)
	}
	if second != 5 {
		t.Fatalf("expected second alloc to start at 5, got %d", second)
	}
}

func TestBulkRollbackRestoresPriorState(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "meta.json"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s.AddMany([]*Record{{ExternalID: "a", InternalID: 0}})

	if err := s.BeginBulk(); err != nil {
		t.Fatalf("BeginBulk: %v", err)
	}
	s.AddMany([]*Record{{ExternalID: "b", InternalID: 1}})
	if err := s.EndBulk(false); err != nil {
		t.Fatalf("EndBulk(false): %v", err)
	}

	if got := s.GetMany([]string{"b"}); got[0] != nil {
		t.Fatalf("expected rollback to discard external id b, got %+v", got[0])
	}
	if got := s.GetMany([]string{"a"}); got[0] == nil {
		t.Fatalf("expected rollback to preserve external id a")
	}
}

func TestBulkCommitKeepsChanges(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "meta.json"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.BeginBulk(); err != nil {
		t.Fatalf("BeginBulk: %v", err)
	}
	s.AddMany([]*Record{{ExternalID: "a", InternalID: 0}})
	if err := s.EndBulk(true); err != nil {
		t.Fatalf("EndBulk(true): %v", err)
	}
	if got := s.GetMany([]string{"a"}); got[0] == nil {
		t.Fatalf("expected commit to keep external id a")
	}
}

func TestMarkDeletedManyIncrementsCounter(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "meta.json"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s.AddMany([]*Record{{ExternalID: "a", InternalID: 0}, {ExternalID: "b", InternalID: 1}})
	s.MarkDeletedMany([]string{"a"})
	if s.DeletedSinceRebuild() != 1 {
		t.Fatalf("expected deleted-since-rebuild 1, got %d", s.DeletedSinceRebuild())
	}
	if s.ActiveCount() != 1 {
		t.Fatalf("expected active count 1, got %d", s.ActiveCount())
	}
}

func TestSaveNowAndReopenRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s.AllocInternalIDs(2)
	s.AddMany([]*Record{
		{ExternalID: "a", InternalID: 0, Metadata: map[string]any{"tag": "x"}},
		{ExternalID: "b", InternalID: 1},
	})
	if err := s.SaveNow(); err != nil {
		t.Fatalf("SaveNow: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.TotalCount() != 2 {
		t.Fatalf("expected 2 records after reopen, got %d", reopened.TotalCount())
	}
	r, ok := reopened.GetByInternalID(0)
	if !ok || r.Metadata["tag"] != "x" {
		t.Fatalf("expected metadata to survive reopen, got %+v", r)
	}
	if next := reopened.AllocInternalIDs(1); next != 2 {
		t.Fatalf("expected next alloc to continue at 2, got %d", next)
	}
}
