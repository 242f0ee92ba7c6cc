package graph

import "encoding/binary"

// Search implements the top-level k-nearest-neighbor query: a single-ef
// greedy descent from the entry point down to layer 1, followed by a
// bounded-beam search_layer at layer 0 with ef = max(EF_SEARCH, k). The
// first min(k, found, results_cap) (id, dist) pairs, ascending by
// distance, are packed into the results buffer as little-endian
// (int32 id, int32 dist) records; the written count is returned.
func (idx *Index) Search(q []byte, k int32) int32 {
	if idx.size == 0 || idx.entryPoint == sentinel {
		return 0
	}
	if len(q) != int(idx.cfg.Dim) || k <= 0 {
		return 0
	}

	cur := idx.entryPoint
	for l := idx.maxLevel; l > 0; l-- {
		cur = idx.greedyDescend(q, cur, l)
	}

	ef := idx.cfg.EfSearch
	if k > ef {
		ef = k
	}
	found := idx.searchLayer(q, cur, 0, ef, false, 0, idx.sortedIDs, idx.sortedDists)

	count := k
	if found < count {
		count = found
	}
	if idx.resultsCap < count {
		count = idx.resultsCap
	}
	if count < 0 {
		count = 0
	}

	for i := int32(0); i < count; i++ {
		binary.LittleEndian.PutUint32(idx.results[i*8:i*8+4], uint32(idx.sortedIDs[i]))
		binary.LittleEndian.PutUint32(idx.results[i*8+4:i*8+8], uint32(idx.sortedDists[i]))
	}
	return count
}
