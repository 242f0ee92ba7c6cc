package graph

import "github.com/xDarkicex/annvdb/internal/kernel"

// selectNeighborsHeuristic implements the diversity-preserving neighbor
// selection from §4.D: scan found candidates in ascending distance order,
// keep c only if it is no farther from q than from every already-accepted
// pick, then pad from the remainder (skipping duplicates) if target
// wasn't reached. found/foundDists must already be sorted ascending by
// distance. The result is written into idx.selectIDs[:n] and returned as
// a slice view — callers must consume it before the next selection call.
func (idx *Index) selectNeighborsHeuristic(foundIDs, foundDists []int32, target int32) []int32 {
	accepted := idx.selectIDs[:0]

	for i := 0; i < len(foundIDs) && int32(len(accepted)) < target; i++ {
		c := foundIDs[i]
		dcq := foundDists[i]

		ok := true
		cVec := idx.vectorAt(c)
		for _, s := range accepted {
			if kernel.L2SqI8(cVec, idx.vectorAt(s)) < dcq {
				ok = false
				break
			}
		}
		if ok {
			accepted = append(accepted, c)
		}
	}

	if int32(len(accepted)) < target {
		for i := 0; i < len(foundIDs) && int32(len(accepted)) < target; i++ {
			c := foundIDs[i]
			if containsInt32(accepted, c) {
				continue
			}
			accepted = append(accepted, c)
		}
	}

	return accepted
}

func containsInt32(s []int32, v int32) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

// addConnection implements §4.D add_connection: dedupe, append if there's
// room, otherwise replace the worst existing neighbor if dst is closer,
// keeping the edge set bidirectional by removing the reverse edge from
// whichever neighbor got evicted.
func (idx *Index) addConnection(src, dst, level int32) {
	if !idx.HasNode(src) {
		return
	}
	node := idx.node(src)
	if level > node.levelCount() {
		return
	}
	cap := layerCap(idx.cfg, level)
	cnt := node.count(level)
	if cnt > cap {
		cnt = cap
	}

	for i := int32(0); i < cnt; i++ {
		if node.slot(level, i) == dst {
			return
		}
	}

	if cnt < cap {
		node.setSlot(level, cnt, dst)
		node.setCount(level, cnt+1)
		return
	}

	srcVec := idx.vectorAt(src)
	dstDist := kernel.L2SqI8(srcVec, idx.vectorAt(dst))

	worstIdx := int32(-1)
	worstDist := int32(-1)
	for i := int32(0); i < cnt; i++ {
		v := node.slot(level, i)
		var d int32
		if v < 0 || !idx.HasNode(v) {
			d = 1<<31 - 1
		} else {
			d = kernel.L2SqI8(srcVec, idx.vectorAt(v))
		}
		if worstIdx == -1 || d > worstDist {
			worstIdx = i
			worstDist = d
		}
	}
	if worstIdx == -1 {
		return
	}
	if dstDist < worstDist {
		victim := node.slot(level, worstIdx)
		node.setSlot(level, worstIdx, dst)
		if victim >= 0 && victim != dst {
			idx.removeConnection(victim, src, level)
		}
	}
}

// removeConnection implements §4.D remove_connection: swap the found slot
// with the last active slot, pad the vacated tail with -1, decrement
// count.
func (idx *Index) removeConnection(src, dst, level int32) {
	if !idx.HasNode(src) {
		return
	}
	node := idx.node(src)
	if level > node.levelCount() {
		return
	}
	cnt := node.count(level)
	for i := int32(0); i < cnt; i++ {
		if node.slot(level, i) == dst {
			last := cnt - 1
			node.setSlot(level, i, node.slot(level, last))
			node.setSlot(level, last, -1)
			node.setCount(level, last)
			return
		}
	}
}

// overwriteNeighbors implements §4.D overwrite_neighbors: write up to
// cap(L) unique, in-range, non-self picks, set count to the written
// length, pad the remainder with -1.
func (idx *Index) overwriteNeighbors(id, level int32, picked []int32) {
	node := idx.node(id)
	cap := layerCap(idx.cfg, level)

	written := int32(0)
	for _, p := range picked {
		if written >= cap {
			break
		}
		if p < 0 || p >= int32(len(idx.offsets)) || p == id {
			continue
		}
		dup := false
		for i := int32(0); i < written; i++ {
			if node.slot(level, i) == p {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		node.setSlot(level, written, p)
		written++
	}
	node.setCount(level, written)
	for i := written; i < cap; i++ {
		node.setSlot(level, i, -1)
	}
}
