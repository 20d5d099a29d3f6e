// Package policy implements the pluggable EvictionPolicy component
// (spec §4.2): TTL, LRU, LFU, FIFO and Size variants sharing one hook-based
// interface. Each policy owns only its auxiliary index (recency list,
// frequency heap, insertion queue, or size heap); the Cache's entries map
// stays authoritative, per spec §4.4 and the Hooks/ShardPolicy split in
// IvanBrykalov-shardcache's policy.go. The concrete sentinel-linked-list
// technique for LRU/FIFO is adapted from the teacher's cache/lru.go and
// cache/queue.go.
package policy

// Meta is the slice of Entry bookkeeping a policy needs to maintain its
// index and break eviction ties deterministically. Policies never see the
// full Entry or its value bytes.
type Meta struct {
	SizeBytes        int64
	CreatedAtMillis  int64
	LastAccessMillis int64
	DeadlineMillis   int64 // 0 when the entry carries no TTL.
}

// Policy is the eviction strategy contract. All methods are called with the
// owning Cache's lock held, so implementations need no internal locking.
type Policy interface {
	// OnInsert indexes a new key, or re-indexes one being replaced in place.
	OnInsert(key string, m Meta)
	// OnAccess records a read of key, refreshing recency/frequency state.
	OnAccess(key string, m Meta)
	// OnRemove drops key from the index (eviction, expiry, or explicit delete).
	OnRemove(key string)
	// Victim selects the next key to evict, or ok=false if the policy has
	// nothing eligible (NoVictim, spec §4.2).
	Victim() (key string, ok bool)
}

// Name identifies a Policy variant, used by Registry.create and in stats.
type Name string

const (
	TTL  Name = "ttl"
	LRU  Name = "lru"
	LFU  Name = "lfu"
	FIFO Name = "fifo"
	Size Name = "size"
)

// New constructs the Policy variant named by n.
func New(n Name) (Policy, error) {
	switch n {
	case TTL:
		return newTTLPolicy(), nil
	case LRU:
		return newLRUPolicy(), nil
	case LFU:
		return newLFUPolicy(), nil
	case FIFO:
		return newFIFOPolicy(), nil
	case Size:
		return newSizePolicy(), nil
	default:
		return nil, &UnknownPolicyError{Name: n}
	}
}

// UnknownPolicyError reports an unrecognized policy name from Registry.create.
type UnknownPolicyError struct{ Name Name }

func (e *UnknownPolicyError) Error() string { return "policy: unknown eviction policy " + string(e.Name) }
