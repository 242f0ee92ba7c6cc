// Package metastore implements the external↔internal id map described in
// §4.F: a persistent keyed store from external string id to
// {internal_id, metadata, deleted}, a monotonic internal id allocator,
// and the begin_bulk/end_bulk transaction the orchestrator relies on to
// keep the graph and metadata aligned when an insert pipeline step fails
// mid-flight (§9 "Bulk metadata transactions").
package metastore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Record is one external id's metadata entry.
type Record struct {
	ExternalID string         `json:"external_id"`
	InternalID int32          `json:"internal_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Deleted    bool           `json:"deleted"`
}

func (r *Record) clone() *Record {
	c := *r
	if r.Metadata != nil {
		c.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// Store is the external↔internal id map contract §4.F and §9 require of
// the metadata layer.
type Store struct {
	mu sync.RWMutex

	path    string
	byExt   map[string]*Record
	byInt   map[int32]*Record
	nextID  int32
	deleted int32 // deleted-since-rebuild counter

	bulk *bulkSnapshot
}

type bulkSnapshot struct {
	byExt   map[string]*Record
	byInt   map[int32]*Record
	nextID  int32
	deleted int32
}

// NewFromRecords builds an in-memory store over records whose internal
// ids have already been assigned (dense, starting at 0), bound to path
// for a subsequent SaveNow. Used by compaction to materialize the
// renumbered metadata in one shot instead of replaying Add/Delete calls.
func NewFromRecords(path string, records []*Record, nextID int32) *Store {
	s := &Store{
		path:   path,
		byExt:  make(map[string]*Record, len(records)),
		byInt:  make(map[int32]*Record, len(records)),
		nextID: nextID,
	}
	for _, r := range records {
		s.byExt[r.ExternalID] = r
		s.byInt[r.InternalID] = r
	}
	return s
}

// Open loads path if it exists, or starts a fresh empty store.
func Open(path string) (*Store, error) {
	s := &Store{
		path:  path,
		byExt: make(map[string]*Record),
		byInt: make(map[int32]*Record),
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("metastore: read %s: %w", path, err)
	}
	var doc struct {
		NextID  int32     `json:"next_id"`
		Deleted int32     `json:"deleted_since_rebuild"`
		Records []*Record `json:"records"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("metastore: parse %s: %w", path, err)
	}
	s.nextID = doc.NextID
	s.deleted = doc.Deleted
	for _, r := range doc.Records {
		s.byExt[r.ExternalID] = r
		s.byInt[r.InternalID] = r
	}
	return s, nil
}

// AllocInternalIDs reserves a contiguous range of n internal ids and
// returns the first one, per §4.F's batch allocator.
func (s *Store) AllocInternalIDs(n int32) int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := s.nextID
	s.nextID += n
	return start
}

// AddMany inserts new records (overwriting any existing entry for the
// same external id).
func (s *Store) AddMany(records []*Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		s.byExt[r.ExternalID] = r
		s.byInt[r.InternalID] = r
	}
}

// UpdateMetadata merges new key/value pairs into an existing record's
// metadata.
func (s *Store) UpdateMetadata(externalID string, metadata map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byExt[externalID]
	if !ok {
		return fmt.Errorf("metastore: unknown external id %q", externalID)
	}
	if r.Metadata == nil {
		r.Metadata = make(map[string]any, len(metadata))
	}
	for k, v := range metadata {
		r.Metadata[k] = v
	}
	return nil
}

// MarkDeletedMany soft-deletes the given external ids and bumps the
// deleted-since-rebuild counter for each one actually found active.
func (s *Store) MarkDeletedMany(externalIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ext := range externalIDs {
		r, ok := s.byExt[ext]
		if !ok || r.Deleted {
			continue
		}
		r.Deleted = true
		s.deleted++
	}
}

// GetMany looks up records by external id; missing ids yield a nil slot.
func (s *Store) GetMany(externalIDs []string) []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Record, len(externalIDs))
	for i, ext := range externalIDs {
		if r, ok := s.byExt[ext]; ok {
			out[i] = r.clone()
		}
	}
	return out
}

// GetByInternalID looks up a record by internal id.
func (s *Store) GetByInternalID(id int32) (*Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byInt[id]
	if !ok {
		return nil, false
	}
	return r.clone(), true
}

// FilterInternalIDSet evaluates pred over every active record and returns
// the set of internal ids that pass — used by annvdb's rebuild and
// compaction paths to collect the active id set. The query pipeline does
// not call it; it applies its filter to each candidate's metadata.
func (s *Store) FilterInternalIDSet(pred func(*Record) bool) map[int32]struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int32]struct{})
	for id, r := range s.byInt {
		if r.Deleted {
			continue
		}
		if pred == nil || pred(r) {
			out[id] = struct{}{}
		}
	}
	return out
}

// ActiveCount returns the number of non-deleted records.
func (s *Store) ActiveCount() int32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int32
	for _, r := range s.byInt {
		if !r.Deleted {
			n++
		}
	}
	return n
}

// TotalCount returns the number of records, deleted or not.
func (s *Store) TotalCount() int32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int32(len(s.byInt))
}

// DeletedSinceRebuild returns the running count of soft-deletes since the
// counter was last reset.
func (s *Store) DeletedSinceRebuild() int32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deleted
}

// ResetDeletedSinceRebuild zeros the counter, called after the
// deleted-ratio threshold rebuild in annvdb's Delete. (Compaction builds a
// fresh store whose counter starts at zero.)
func (s *Store) ResetDeletedSinceRebuild() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = 0
}

// BeginBulk snapshots the current state so EndBulk(false) can roll back
// every mutation made since. Nested BeginBulk calls are rejected — the
// orchestrator holds at most one bulk transaction per insert pipeline run.
func (s *Store) BeginBulk() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bulk != nil {
		return fmt.Errorf("metastore: bulk transaction already in progress")
	}
	snap := &bulkSnapshot{
		byExt:   make(map[string]*Record, len(s.byExt)),
		byInt:   make(map[int32]*Record, len(s.byInt)),
		nextID:  s.nextID,
		deleted: s.deleted,
	}
	for k, r := range s.byExt {
		snap.byExt[k] = r.clone()
	}
	for k, r := range s.byInt {
		snap.byInt[k] = snap.byExt[r.ExternalID]
	}
	s.bulk = snap
	return nil
}

// EndBulk closes the transaction. commit=true keeps the live state as-is;
// commit=false restores the pre-BeginBulk snapshot, per §7's rollback
// policy for insert pipeline steps 3-7.
func (s *Store) EndBulk(commit bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bulk == nil {
		return fmt.Errorf("metastore: no bulk transaction in progress")
	}
	if !commit {
		s.byExt = s.bulk.byExt
		s.byInt = s.bulk.byInt
		s.nextID = s.bulk.nextID
		s.deleted = s.bulk.deleted
	}
	s.bulk = nil
	return nil
}

// SaveNow atomically persists the store to its backing file.
func (s *Store) SaveNow() error {
	s.mu.RLock()
	doc := struct {
		NextID  int32     `json:"next_id"`
		Deleted int32     `json:"deleted_since_rebuild"`
		Records []*Record `json:"records"`
	}{
		NextID:  s.nextID,
		Deleted: s.deleted,
		Records: make([]*Record, 0, len(s.byExt)),
	}
	for _, r := range s.byExt {
		doc.Records = append(doc.Records, r)
	}
	s.mu.RUnlock()

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("metastore: marshal: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("metastore: mkdir: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("metastore: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("metastore: rename %s to %s: %w", tmp, s.path, err)
	}
	return nil
}
