// Package fstore implements the f32 vector disk store: a flat file of
// capacity*DIM*4 bytes used only for exact re-rank and for rebuilds. The
// i8 store inside the graph engine's arena is the hot path; this file is
// the cold, authoritative copy.
package fstore

import (
	"fmt"
	"os"
	"sort"

	"golang.org/x/sys/unix"
)

// Store is a fixed-layout f32 vector file: vector i occupies bytes
// [i*dim*4, (i+1)*dim*4).
type Store struct {
	file *os.File
	path string
	dim  int32

	mmapped []byte // non-nil once Mmap has been called
}

// Open creates or opens the f32 store file at path, extending it if needed
// to hold capacity vectors of dim float32 components each. A file that is
// already larger keeps its size.
func Open(path string, dim, capacity int32) (*Store, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("fstore: open %s: %w", path, err)
	}
	size := int64(capacity) * int64(dim) * 4
	if stat, err := f.Stat(); err == nil && stat.Size() < size {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, fmt.Errorf("fstore: truncate %s to %d bytes: %w", path, size, err)
		}
	}
	return &Store{file: f, path: path, dim: dim}, nil
}

func (s *Store) recordSize() int64 { return int64(s.dim) * 4 }

// MmapBytes returns the size of the active mapping, or 0 if unmapped.
func (s *Store) MmapBytes() int64 { return int64(len(s.mmapped)) }

// WriteVector writes a single vector at internal id.
func (s *Store) WriteVector(id int32, v []float32) error {
	if len(v) != int(s.dim) {
		return fmt.Errorf("fstore: vector length %d does not match DIM %d", len(v), s.dim)
	}
	buf := encodeF32(v)
	off := int64(id) * s.recordSize()
	n, err := s.file.WriteAt(buf, off)
	if err != nil {
		return fmt.Errorf("fstore: write id %d: %w", id, err)
	}
	if n != len(buf) {
		return fmt.Errorf("fstore: short write for id %d: wrote %d of %d bytes", id, n, len(buf))
	}
	return nil
}

// WriteRun writes a contiguous run of vectors starting at startID in a
// single syscall, per §4.F step 4's "group new items into contiguous
// runs to issue one write per run".
func (s *Store) WriteRun(startID int32, vecs [][]float32) error {
	if len(vecs) == 0 {
		return nil
	}
	buf := make([]byte, 0, len(vecs)*int(s.dim)*4)
	for _, v := range vecs {
		if len(v) != int(s.dim) {
			return fmt.Errorf("fstore: vector length %d does not match DIM %d", len(v), s.dim)
		}
		buf = append(buf, encodeF32(v)...)
	}
	off := int64(startID) * s.recordSize()
	n, err := s.file.WriteAt(buf, off)
	if err != nil {
		return fmt.Errorf("fstore: write run starting at %d: %w", startID, err)
	}
	if n != len(buf) {
		return fmt.Errorf("fstore: short write for run starting at %d: wrote %d of %d bytes", startID, n, len(buf))
	}
	return nil
}

// Fsync flushes the store to stable storage, per §4.F step 5.
func (s *Store) Fsync() error {
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("fstore: fsync %s: %w", s.path, err)
	}
	return nil
}

// ReadMany batch-reads vectors for the given ids, coalescing contiguous
// runs of ids into single ReadAt calls (or single mmap slices once
// mapped), per §4.F query step 6. Results are returned in the same order
// as ids.
func (s *Store) ReadMany(ids []int32) ([][]float32, error) {
	out := make([][]float32, len(ids))
	order := make([]int, len(ids))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return ids[order[a]] < ids[order[b]] })

	i := 0
	for i < len(order) {
		j := i + 1
		for j < len(order) && ids[order[j]] == ids[order[j-1]]+1 {
			j++
		}
		startID := ids[order[i]]
		count := j - i

		buf, err := s.readRaw(startID, count)
		if err != nil {
			return nil, err
		}
		for k := 0; k < count; k++ {
			vec := make([]float32, s.dim)
			decodeF32(buf[k*int(s.dim)*4:(k+1)*int(s.dim)*4], vec)
			out[order[i+k]] = vec
		}
		i = j
	}
	return out, nil
}

func (s *Store) readRaw(startID int32, count int) ([]byte, error) {
	n := count * int(s.dim) * 4
	if s.mmapped != nil {
		off := int64(startID) * s.recordSize()
		if off < 0 || off+int64(n) > int64(len(s.mmapped)) {
			return nil, fmt.Errorf("fstore: mmap read out of range at id %d", startID)
		}
		return s.mmapped[off : off+int64(n)], nil
	}
	buf := make([]byte, n)
	off := int64(startID) * s.recordSize()
	got, err := s.file.ReadAt(buf, off)
	if err != nil {
		return nil, fmt.Errorf("fstore: read at id %d: %w", startID, err)
	}
	if got != n {
		return nil, fmt.Errorf("fstore: short read at id %d: got %d of %d bytes", startID, got, n)
	}
	return buf, nil
}

// Mmap maps the file read-only, serving subsequent ReadMany calls
// directly from the mapped pages instead of ReadAt. Mapping is opt-in:
// the store reads through ReadAt until a caller invokes Mmap.
func (s *Store) Mmap() error {
	if s.mmapped != nil {
		return nil
	}
	stat, err := s.file.Stat()
	if err != nil {
		return fmt.Errorf("fstore: stat for mmap: %w", err)
	}
	data, err := unix.Mmap(int(s.file.Fd()), 0, int(stat.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("fstore: mmap: %w", err)
	}
	s.mmapped = data
	return nil
}

// Unmap releases the mapping, falling back to ReadAt for subsequent reads.
func (s *Store) Unmap() error {
	if s.mmapped == nil {
		return nil
	}
	if err := unix.Munmap(s.mmapped); err != nil {
		return fmt.Errorf("fstore: munmap: %w", err)
	}
	s.mmapped = nil
	return nil
}

// Close unmaps (if mapped) and closes the underlying file.
func (s *Store) Close() error {
	if err := s.Unmap(); err != nil {
		return err
	}
	return s.file.Close()
}

func encodeF32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		putF32(buf[i*4:i*4+4], f)
	}
	return buf
}

func decodeF32(buf []byte, dst []float32) {
	for i := range dst {
		dst[i] = getF32(buf[i*4 : i*4+4])
	}
}
