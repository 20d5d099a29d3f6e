package policy

import "container/heap"

// ExpiryIndex is a min-heap of key deadlines, independent of eviction
// policy choice. Every Cache keeps one of these regardless of its
// configured Policy, because TTL expiry (spec §3, §4.4) is a property of
// individual entries, not of the eviction strategy. The ttlPolicy variant
// reuses the same heap shape for its Victim selection since the two
// concerns — "what expires soonest" and "what should be evicted under the
// TTL strategy" — are the same query.
type ExpiryIndex struct {
	index map[string]*ttlNode
	heap  ttlHeap
}

// NewExpiryIndex builds an empty index.
func NewExpiryIndex() *ExpiryIndex {
	return &ExpiryIndex{index: make(map[string]*ttlNode)}
}

// Set (re)indexes key's deadline. deadlineMillis of 0 removes key from the
// index (no TTL).
func (e *ExpiryIndex) Set(key string, deadlineMillis int64) {
	n, exists := e.index[key]
	if deadlineMillis == 0 {
		if exists {
			heap.Remove(&e.heap, n.idx)
			delete(e.index, key)
		}
		return
	}
	if exists {
		n.deadlineMillis = deadlineMillis
		heap.Fix(&e.heap, n.idx)
		return
	}
	n = &ttlNode{key: key, deadlineMillis: deadlineMillis}
	e.index[key] = n
	heap.Push(&e.heap, n)
}

// Remove drops key from the index; a no-op if it wasn't TTL-bearing.
func (e *ExpiryIndex) Remove(key string) {
	n, ok := e.index[key]
	if !ok {
		return
	}
	heap.Remove(&e.heap, n.idx)
	delete(e.index, key)
}

// Soonest returns the key with the nearest deadline, or ok=false if no
// entry currently carries a TTL.
func (e *ExpiryIndex) Soonest() (key string, ok bool) {
	if len(e.heap) == 0 {
		return "", false
	}
	return e.heap[0].key, true
}

// Expired returns up to limit keys whose deadline is <= nowMillis, bounding
// per-tick sweep work (spec §4.4).
func (e *ExpiryIndex) Expired(nowMillis int64, limit int) []string {
	var out []string
	for _, n := range e.heap {
		if len(out) >= limit {
			break
		}
		if n.deadlineMillis <= nowMillis {
			out = append(out, n.key)
		}
	}
	return out
}

// Len reports how many keys currently carry a TTL.
func (e *ExpiryIndex) Len() int { return len(e.heap) }

type ttlNode struct {
	key            string
	deadlineMillis int64
	idx            int
}

type ttlHeap []*ttlNode

func (h ttlHeap) Len() int           { return len(h) }
func (h ttlHeap) Less(i, j int) bool { return h[i].deadlineMillis < h[j].deadlineMillis }
func (h ttlHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].idx, h[j].idx = i, j
}
func (h *ttlHeap) Push(x any) {
	n := x.(*ttlNode)
	n.idx = len(*h)
	*h = append(*h, n)
}
func (h *ttlHeap) Pop() any {
	old := *h
	n := len(old)
	node := old[n-1]
	*h = old[:n-1]
	return node
}
