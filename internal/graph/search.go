package graph

import "github.com/xDarkicex/annvdb/internal/kernel"

func clamp32(v, lo, hi int32) int32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func min32(a, b int32) int32 {
	if a < b {
		return a
	}
	return b
}

func max32(a, b int32) int32 {
	if a > b {
		return a
	}
	return b
}

// searchLayer implements §4.D search_layer. In build mode it extracts the
// pool = min(max(target, target*2), ef, |res|) smallest elements via the
// used-mark selection scratch buffer (for graph construction, where only
// a handful of the beam's results feed neighbor selection); otherwise it
// heap-sorts the whole result set ascending (for the final query answer).
// It writes up to len(outIDs) pairs into outIDs/outDists and returns the
// count written.
func (idx *Index) searchLayer(q []byte, entry int32, level int32, ef int32, buildMode bool, target int32, outIDs, outDists []int32) int32 {
	if !idx.HasNode(entry) {
		return 0
	}
	ef = idx.clampEf(ef)

	idx.visited.next()
	idx.cand.reset()
	idx.res.reset()

	d0 := kernel.L2SqI8(q, idx.vectorAt(entry))
	idx.cand.push(entry, d0)
	idx.res.push(entry, d0)
	idx.visited.mark(entry)

	candCap := clamp32(ef*2+32, ef, MaxEf)

	for idx.cand.len() > 0 {
		c, dc := idx.cand.pop()
		if idx.res.len() >= int(ef) {
			_, worst := idx.res.top()
			if dc > worst {
				break
			}
		}

		node := idx.node(c)
		lvl := level
		if lvl > node.levelCount() {
			continue
		}
		cnt := node.count(lvl)
		cap := layerCap(idx.cfg, lvl)
		if cnt > cap {
			cnt = cap
		}
		for i := int32(0); i < cnt; i++ {
			n := node.slot(lvl, i)
			if n < 0 || n >= int32(len(idx.offsets)) || !idx.HasNode(n) || idx.visited.isVisited(n) {
				continue
			}
			idx.visited.mark(n)
			d := kernel.L2SqI8(q, idx.vectorAt(n))

			consider := idx.res.len() < int(ef)
			if !consider {
				_, worst := idx.res.top()
				consider = d < worst
			}
			if !consider {
				continue
			}
			if idx.cand.len() < int(candCap) {
				idx.cand.push(n, d)
			}
			if idx.res.len() < int(ef) {
				idx.res.push(n, d)
			} else {
				_, worst := idx.res.top()
				if d < worst {
					idx.res.replaceRoot(n, d)
				}
			}
		}
	}

	if !buildMode {
		total := idx.res.len()
		i := total
		for i > 0 {
			i--
			id, dist := idx.res.pop()
			if i < len(outIDs) {
				outIDs[i] = id
				outDists[i] = dist
			}
		}
		if total > len(outIDs) {
			total = len(outIDs)
		}
		return int32(total)
	}

	pool := min32(min32(max32(target, target*2), ef), int32(idx.res.len()))
	return idx.extractSmallest(pool, outIDs, outDists)
}

// extractSmallest selects the `pool` smallest (id, dist) pairs currently
// held in idx.res via the used-mark scratch buffer, without disturbing
// heap order — used by the build-mode path where only a handful of
// results feed neighbor selection and a full sort would be wasted work.
func (idx *Index) extractSmallest(pool int32, outIDs, outDists []int32) int32 {
	n := int32(idx.res.len())
	for i := int32(0); i < n; i++ {
		idx.usedMark[i] = false
	}
	var count int32
	for count < pool {
		best := int32(-1)
		var bestDist int32
		for i := int32(0); i < n; i++ {
			if idx.usedMark[i] {
				continue
			}
			if best == -1 || idx.res.dists[i] < bestDist {
				best = i
				bestDist = idx.res.dists[i]
			}
		}
		if best == -1 {
			break
		}
		idx.usedMark[best] = true
		if count < int32(len(outIDs)) {
			outIDs[count] = idx.res.ids[best]
			outDists[count] = bestDist
		}
		count++
	}
	return count
}
