package graph

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/xDarkicex/annvdb/internal/arena"
)

const (
	dumpMagic   = 0x57534E48
	dumpVersion = 3
	headerInt32Count = 12
)

// SaveIndex implements §4.E save_index: emits the 12-field header followed
// by every present node in ascending internal id order (id, level, DIM
// bytes of i8 vector, then per layer a count and cap(L) neighbor slots
// including -1 padding), and returns the number of bytes written.
func (idx *Index) SaveIndex(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	var written int64

	present := int32(0)
	for id := int32(0); id < int32(len(idx.offsets)); id++ {
		if idx.HasNode(id) {
			present++
		}
	}

	header := [headerInt32Count]int32{
		dumpMagic, dumpVersion,
		idx.cfg.Dim, idx.cfg.M, idx.cfg.MMax0, idx.cfg.EfConstruction, idx.cfg.MaxLayers,
		idx.cfg.Capacity, present, idx.entryPoint, idx.maxLevel, idx.resultsCap,
	}
	var buf [4]byte
	for _, v := range header {
		binary.LittleEndian.PutUint32(buf[:], uint32(v))
		n, err := bw.Write(buf[:])
		written += int64(n)
		if err != nil {
			return written, fmt.Errorf("graph: dump header write: %w", err)
		}
	}

	for id := int32(0); id < int32(len(idx.offsets)); id++ {
		if !idx.HasNode(id) {
			continue
		}
		node := idx.node(id)
		level := node.levelCount()

		binary.LittleEndian.PutUint32(buf[:], uint32(id))
		n, err := bw.Write(buf[:])
		written += int64(n)
		if err != nil {
			return written, fmt.Errorf("graph: dump node id write: %w", err)
		}
		binary.LittleEndian.PutUint32(buf[:], uint32(level))
		n, err = bw.Write(buf[:])
		written += int64(n)
		if err != nil {
			return written, fmt.Errorf("graph: dump node level write: %w", err)
		}

		n, err = bw.Write(idx.vectorAt(id))
		written += int64(n)
		if err != nil {
			return written, fmt.Errorf("graph: dump node vector write: %w", err)
		}

		for l := int32(0); l <= level; l++ {
			binary.LittleEndian.PutUint32(buf[:], uint32(node.count(l)))
			n, err = bw.Write(buf[:])
			written += int64(n)
			if err != nil {
				return written, fmt.Errorf("graph: dump layer count write: %w", err)
			}
			cap := layerCap(idx.cfg, l)
			for i := int32(0); i < cap; i++ {
				binary.LittleEndian.PutUint32(buf[:], uint32(node.slot(l, i)))
				n, err = bw.Write(buf[:])
				written += int64(n)
				if err != nil {
					return written, fmt.Errorf("graph: dump layer slot write: %w", err)
				}
			}
		}
	}

	if err := bw.Flush(); err != nil {
		return written, fmt.Errorf("graph: dump flush: %w", err)
	}
	return written, nil
}

// LoadIndex implements §4.E load_index: validates magic, version, and
// every frozen config field against the current runtime config, rejects
// structurally inconsistent headers, then reinitializes the index at
// max_elements and replays every node, sanitizing any out-of-range
// neighbor slot to -1. If the declared entry point is absent once loading
// completes, the index is reset to empty and an error is returned.
func (idx *Index) LoadIndex(r io.Reader) error {
	br := bufio.NewReader(r)
	var buf [4]byte

	readI32 := func(what string) (int32, error) {
		if _, err := io.ReadFull(br, buf[:]); err != nil {
			return 0, fmt.Errorf("graph: dump %s read: %w", what, err)
		}
		return int32(binary.LittleEndian.Uint32(buf[:])), nil
	}

	magic, err := readI32("magic")
	if err != nil {
		return err
	}
	if magic != dumpMagic {
		return fmt.Errorf("graph: dump magic mismatch: got %#x, want %#x", uint32(magic), uint32(dumpMagic))
	}
	version, err := readI32("version")
	if err != nil {
		return err
	}
	if version != dumpVersion {
		return fmt.Errorf("graph: dump version mismatch: got %d, want %d", version, dumpVersion)
	}

	var hdr Config
	if hdr.Dim, err = readI32("DIM"); err != nil {
		return err
	}
	if hdr.M, err = readI32("M"); err != nil {
		return err
	}
	if hdr.MMax0, err = readI32("M_MAX0"); err != nil {
		return err
	}
	if hdr.EfConstruction, err = readI32("EF_CONSTRUCTION"); err != nil {
		return err
	}
	if hdr.MaxLayers, err = readI32("MAX_LAYERS"); err != nil {
		return err
	}
	maxElements, err := readI32("max_elements")
	if err != nil {
		return err
	}
	present, err := readI32("present_count")
	if err != nil {
		return err
	}
	entry, err := readI32("entry_point_id")
	if err != nil {
		return err
	}
	maxLevel, err := readI32("max_level")
	if err != nil {
		return err
	}
	resultsCap, err := readI32("results_cap")
	if err != nil {
		return err
	}

	if !hdr.frozenEqual(idx.cfg) {
		return fmt.Errorf("graph: dump config mismatch: have %+v, want %+v", hdr, idx.cfg)
	}
	if present < 0 || present > maxElements {
		return fmt.Errorf("graph: dump present_count %d out of range [0,%d]", present, maxElements)
	}
	if entry != sentinel && (entry < 0 || entry >= maxElements) {
		return fmt.Errorf("graph: dump entry_point_id %d out of range", entry)
	}
	if maxLevel < sentinel || maxLevel >= idx.cfg.MaxLayers {
		return fmt.Errorf("graph: dump max_level %d out of range [-1,%d)", maxLevel, idx.cfg.MaxLayers)
	}

	idx.cfg.Capacity = maxElements
	idx.ar = arena.New(int(maxElements) * int(idx.cfg.Dim))
	idx.offsets = make([]uint32, maxElements)
	idx.vecBase = idx.ar.Alloc(uint32(maxElements)*uint32(idx.cfg.Dim), arena.DefaultAlign)
	idx.visited = newVisitedSet(maxElements)
	idx.entryPoint = sentinel
	idx.maxLevel = sentinel
	idx.size = 0
	if resultsCap > 0 {
		idx.SetResultsCap(resultsCap)
	}

	for i := int32(0); i < present; i++ {
		id, err := readI32("node id")
		if err != nil {
			return err
		}
		level, err := readI32("node level")
		if err != nil {
			return err
		}
		if id < 0 || id >= maxElements || level < 0 || level >= idx.cfg.MaxLayers {
			return fmt.Errorf("graph: dump node %d has out-of-range id/level (%d/%d)", i, id, level)
		}

		vec := make([]byte, idx.cfg.Dim)
		if _, err := io.ReadFull(br, vec); err != nil {
			return fmt.Errorf("graph: dump node vector read: %w", err)
		}

		size := nodeSize(idx.cfg, level)
		off := idx.ar.Alloc(size, arena.DefaultAlign)
		node := newNodeView(idx.ar.Bytes(), off, idx.cfg)
		node.level = level
		node.initEmpty(id)
		idx.offsets[id] = off
		copy(idx.vectorAt(id), vec)

		for l := int32(0); l <= level; l++ {
			cnt, err := readI32("layer count")
			if err != nil {
				return err
			}
			cap := layerCap(idx.cfg, l)
			slots := make([]int32, cap)
			for j := int32(0); j < cap; j++ {
				s, err := readI32("layer slot")
				if err != nil {
					return err
				}
				if s < sentinel || s >= maxElements {
					s = sentinel
				}
				slots[j] = s
			}
			if cnt < 0 || cnt > cap {
				return fmt.Errorf("graph: dump node %d layer %d count %d out of range [0,%d]", id, l, cnt, cap)
			}
			node.setCount(l, cnt)
			for j := int32(0); j < cap; j++ {
				node.setSlot(l, j, slots[j])
			}
		}
		idx.size++
	}

	if entry != sentinel && !idx.HasNode(entry) {
		idx.reset()
		return fmt.Errorf("graph: dump declared entry point %d is absent after load", entry)
	}
	idx.entryPoint = entry
	idx.maxLevel = maxLevel
	return nil
}

// reset empties the index back to a fresh, present-nothing state at the
// current capacity, used when a dump load fails its final consistency
// check after nodes have already been allocated.
func (idx *Index) reset() {
	capacity := int32(len(idx.offsets))
	idx.ar = arena.New(int(capacity) * int(idx.cfg.Dim))
	idx.offsets = make([]uint32, capacity)
	idx.vecBase = idx.ar.Alloc(uint32(capacity)*uint32(idx.cfg.Dim), arena.DefaultAlign)
	idx.visited = newVisitedSet(capacity)
	idx.entryPoint = sentinel
	idx.maxLevel = sentinel
	idx.size = 0
}
