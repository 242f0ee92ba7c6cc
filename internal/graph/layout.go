package graph

import "encoding/binary"

// Node record layout (component C): a node is a variable-length run of
// bytes inside the arena.
//
//	int32 id
//	int32 level
//	for L in [0, level]:
//	    int32 count(L)
//	    int32 slot[cap(L)]   // unused slots hold -1
//
// nodeSize returns the total byte size of a node record at the given
// level.
func nodeSize(cfg Config, level int32) uint32 {
	size := uint32(8)
	for l := int32(0); l <= level; l++ {
		size += 4 + uint32(layerCap(cfg, l))*4
	}
	return size
}

// layerBlockOffset returns the byte offset, relative to the start of the
// node record, of layer L's count field.
func layerBlockOffset(cfg Config, level int32) uint32 {
	off := uint32(8)
	for l := int32(0); l < level; l++ {
		off += 4 + uint32(layerCap(cfg, l))*4
	}
	return off
}

// nodeView is a cheap accessor over a node record living at a fixed offset
// in the arena's backing buffer. It holds no copy of the data — all reads
// and writes go straight through buf.
type nodeView struct {
	buf   []byte
	off   uint32
	cfg   Config
	level int32
}

func newNodeView(buf []byte, off uint32, cfg Config) nodeView {
	level := int32(binary.LittleEndian.Uint32(buf[off+4 : off+8]))
	return nodeView{buf: buf, off: off, cfg: cfg, level: level}
}

func (n nodeView) id() int32 {
	return int32(binary.LittleEndian.Uint32(n.buf[n.off : n.off+4]))
}

func (n nodeView) levelCount() int32 { return n.level }

// layerRunner returns the offset of L's count field within the arena
// buffer (the "count(L)" pointer the spec refers to).
func (n nodeView) layerRunner(level int32) uint32 {
	return n.off + layerBlockOffset(n.cfg, level)
}

func (n nodeView) count(level int32) int32 {
	r := n.layerRunner(level)
	return int32(binary.LittleEndian.Uint32(n.buf[r : r+4]))
}

func (n nodeView) setCount(level, c int32) {
	r := n.layerRunner(level)
	binary.LittleEndian.PutUint32(n.buf[r:r+4], uint32(c))
}

// slots returns the raw, full-capacity neighbor slot slice for a layer
// (length cap(L), not count(L)) so callers can see the -1 padding.
func (n nodeView) slots(level int32) []int32 {
	r := n.layerRunner(level) + 4
	cap := layerCap(n.cfg, level)
	out := make([]int32, cap)
	for i := int32(0); i < cap; i++ {
		out[i] = int32(binary.LittleEndian.Uint32(n.buf[r+uint32(i)*4 : r+uint32(i)*4+4]))
	}
	return out
}

func (n nodeView) slot(level, idx int32) int32 {
	r := n.layerRunner(level) + 4 + uint32(idx)*4
	return int32(binary.LittleEndian.Uint32(n.buf[r : r+4]))
}

func (n nodeView) setSlot(level, idx, val int32) {
	r := n.layerRunner(level) + 4 + uint32(idx)*4
	binary.LittleEndian.PutUint32(n.buf[r:r+4], uint32(val))
}

// initEmpty writes id and n.level into the header and fills every layer
// with count=0 and all slots set to -1.
func (n nodeView) initEmpty(id int32) {
	binary.LittleEndian.PutUint32(n.buf[n.off:n.off+4], uint32(id))
	binary.LittleEndian.PutUint32(n.buf[n.off+4:n.off+8], uint32(n.level))
	for l := int32(0); l <= n.level; l++ {
		n.setCount(l, 0)
		cap := layerCap(n.cfg, l)
		for i := int32(0); i < cap; i++ {
			n.setSlot(l, i, -1)
		}
	}
}
