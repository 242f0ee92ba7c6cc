package graph

// candHeap is a binary heap over parallel id/distance arrays, sized once
// (MaxEf for "res", maxCandCap for "cand") and reused across every search
// call — per the spec's design
// notes, the query hot path must not allocate, which rules out
// container/heap's interface-boxing Push/Pop.
type candHeap struct {
	ids   []int32
	dists []int32
	n     int
	// max reports whether this is a max-heap (largest distance at the
	// root, used for the "res" result set so the worst candidate can be
	// evicted in O(log n)) or a min-heap (smallest at the root, used for
	// "cand").
	max bool
}

func newCandHeap(capacity int, max bool) *candHeap {
	return &candHeap{
		ids:   make([]int32, capacity),
		dists: make([]int32, capacity),
		max:   max,
	}
}

func (h *candHeap) reset() { h.n = 0 }

func (h *candHeap) len() int { return h.n }

func (h *candHeap) full() bool { return h.n >= len(h.ids) }

// worse reports whether distance a should sit below b in this heap's
// ordering (i.e. a is further from the root than b should be).
func (h *candHeap) worse(a, b int32) bool {
	if h.max {
		return a < b
	}
	return a > b
}

func (h *candHeap) push(id, dist int32) {
	i := h.n
	h.ids[i] = id
	h.dists[i] = dist
	h.n++
	h.siftUp(i)
}

func (h *candHeap) siftUp(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if h.worse(h.dists[parent], h.dists[i]) {
			h.swap(i, parent)
			i = parent
			continue
		}
		break
	}
}

func (h *candHeap) siftDown(i int) {
	for {
		l, r := 2*i+1, 2*i+2
		best := i
		if l < h.n && h.worse(h.dists[best], h.dists[l]) {
			best = l
		}
		if r < h.n && h.worse(h.dists[best], h.dists[r]) {
			best = r
		}
		if best == i {
			return
		}
		h.swap(i, best)
		i = best
	}
}

func (h *candHeap) swap(i, j int) {
	h.ids[i], h.ids[j] = h.ids[j], h.ids[i]
	h.dists[i], h.dists[j] = h.dists[j], h.dists[i]
}

// top returns the root (id, dist) without removing it.
func (h *candHeap) top() (int32, int32) {
	return h.ids[0], h.dists[0]
}

// pop removes and returns the root.
func (h *candHeap) pop() (int32, int32) {
	id, dist := h.ids[0], h.dists[0]
	h.n--
	h.ids[0] = h.ids[h.n]
	h.dists[0] = h.dists[h.n]
	if h.n > 0 {
		h.siftDown(0)
	}
	return id, dist
}

// replaceRoot swaps the root for a strictly better candidate and restores
// heap order — used by res's "kick worst if better" step.
func (h *candHeap) replaceRoot(id, dist int32) {
	h.ids[0] = id
	h.dists[0] = dist
	h.siftDown(0)
}
