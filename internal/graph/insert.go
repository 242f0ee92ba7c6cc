package graph

import (
	"fmt"

	"github.com/xDarkicex/annvdb/internal/arena"
	"github.com/xDarkicex/annvdb/internal/kernel"
)

// greedyDescend repeatedly scans the current node's neighbors at level and
// moves to any neighbor strictly closer to v, stopping when no move
// improves — the single-ef-1 descent used both by insert/update (down to
// the target level) and by query (down to layer 1).
func (idx *Index) greedyDescend(v []byte, entry, level int32) int32 {
	cur := entry
	curDist := kernel.L2SqI8(v, idx.vectorAt(cur))
	for {
		node := idx.node(cur)
		if level > node.levelCount() {
			return cur
		}
		cnt := node.count(level)
		cap := layerCap(idx.cfg, level)
		if cnt > cap {
			cnt = cap
		}
		improved := false
		for i := int32(0); i < cnt; i++ {
			n := node.slot(level, i)
			if n < 0 || n >= int32(len(idx.offsets)) || !idx.HasNode(n) {
				continue
			}
			d := kernel.L2SqI8(v, idx.vectorAt(n))
			if d < curDist {
				cur, curDist = n, d
				improved = true
			}
		}
		if !improved {
			return cur
		}
	}
}

// Insert implements §4.D insert: validates id range, delegates to
// UpdateAndReconnect if the node already exists, otherwise allocates a new
// node record, wires it into the graph at every layer from its level down
// to 0, and updates the global entry point if this node reaches a new
// max level.
func (idx *Index) Insert(id int32, v []byte) error {
	if id < 0 || id >= int32(len(idx.offsets)) {
		return fmt.Errorf("graph: internal id %d out of capacity [0,%d)", id, len(idx.offsets))
	}
	if len(v) != int(idx.cfg.Dim) {
		return fmt.Errorf("graph: vector length %d does not match DIM %d", len(v), idx.cfg.Dim)
	}
	if idx.HasNode(id) {
		return idx.UpdateAndReconnect(id, v)
	}

	copy(idx.vectorAt(id), v)

	level := idx.rng.level(idx.cfg.MaxLayers - 1)
	size := nodeSize(idx.cfg, level)
	off := idx.ar.Alloc(size, arena.DefaultAlign)
	node := newNodeView(idx.ar.Bytes(), off, idx.cfg)
	node.level = level
	node.initEmpty(id)
	idx.offsets[id] = off

	if idx.size == 0 {
		idx.entryPoint = id
		idx.maxLevel = level
		idx.size++
		return nil
	}

	cur := idx.entryPoint
	for l := idx.maxLevel; l > level; l-- {
		cur = idx.greedyDescend(v, cur, l)
	}

	top := min32(level, idx.maxLevel)
	for l := top; l >= 0; l-- {
		target := layerCap(idx.cfg, l)
		found := idx.searchLayer(v, cur, l, idx.cfg.EfConstruction, true, target, idx.sortedIDs, idx.sortedDists)
		picked := idx.selectNeighborsHeuristic(idx.sortedIDs[:found], idx.sortedDists[:found], target)

		for _, n := range picked {
			idx.addConnection(id, n, l)
			idx.addConnection(n, id, l)
		}
		if len(picked) > 0 {
			cur = picked[0]
		}
	}

	if level > idx.maxLevel {
		idx.maxLevel = level
		idx.entryPoint = id
	}
	idx.size++
	return nil
}

// UpdateAndReconnect implements §4.D update_and_reconnect: overwrites the
// stored vector, re-descends greedily, and at every layer from the node's
// level down to 0 recomputes its neighbor set, purging stale reverse
// edges for neighbors that fell out of the heuristic's pick and adding
// reverse edges for any new ones.
func (idx *Index) UpdateAndReconnect(id int32, v []byte) error {
	if !idx.HasNode(id) {
		return fmt.Errorf("graph: cannot update absent id %d", id)
	}
	if len(v) != int(idx.cfg.Dim) {
		return fmt.Errorf("graph: vector length %d does not match DIM %d", len(v), idx.cfg.Dim)
	}
	copy(idx.vectorAt(id), v)

	node := idx.node(id)
	level := clamp32(node.levelCount(), 0, idx.cfg.MaxLayers-1)

	cur := idx.entryPoint
	for l := idx.maxLevel; l > level; l-- {
		cur = idx.greedyDescend(v, cur, l)
	}

	top := min32(level, idx.maxLevel)
	for l := top; l >= 0; l-- {
		cnt := node.count(l)
		cap := layerCap(idx.cfg, l)
		if cnt > cap {
			cnt = cap
		}
		old := idx.oldNeigh[:cnt]
		for i := int32(0); i < cnt; i++ {
			old[i] = node.slot(l, i)
		}

		target := cap
		found := idx.searchLayer(v, cur, l, idx.cfg.EfConstruction, true, target, idx.sortedIDs, idx.sortedDists)
		picked := idx.selectNeighborsHeuristic(idx.sortedIDs[:found], idx.sortedDists[:found], target)

		for _, o := range old {
			if o < 0 || o >= int32(len(idx.offsets)) || o == id {
				continue
			}
			if !containsInt32(picked, o) {
				idx.removeConnection(o, id, l)
			}
		}

		idx.overwriteNeighbors(id, l, picked)

		for _, n := range picked {
			if n < 0 || n >= int32(len(idx.offsets)) || n == id {
				continue
			}
			idx.addConnection(n, id, l)
		}

		if len(picked) > 0 {
			cur = picked[0]
		}
	}

	return nil
}
