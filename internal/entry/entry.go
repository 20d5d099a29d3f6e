// Package entry implements the Entry & Accounting component (spec §4.1):
// the representation of a cached value plus the byte-accounting rule used
// by Cache and every EvictionPolicy.
package entry

import (
	"github.com/carbondb/carbon/internal/rcbuf"
)

// OverheadPerEntry is the fixed per-entry accounting overhead charged on
// top of key+value length, approximating map-slot and metadata cost. The
// teacher charges an analogous extraSizePerNode constant in cache/lru.go
// for the same reason: without it a cache full of tiny keys can blow past
// real memory use while staying "under budget" by the naive len(key)+len(value)
// count.
const OverheadPerEntry = 64

// Tier identifies where an Entry's bytes currently live.
type Tier uint8

const (
	Memory Tier = iota
	Disk
)

func (t Tier) String() string {
	if t == Disk {
		return "disk"
	}
	return "memory"
}

// Entry is one live key's metadata. The key itself is not stored here; it
// lives in the Cache's map, which owns identity.
type Entry struct {
	Value *rcbuf.Buffer

	SizeBytes       int64
	CreatedAtMillis int64
	LastAccessMillis int64
	TTLMillis       int64 // 0 means no expiry beyond policy eviction.
	Hits            uint64
	Tier            Tier

	// version is a change counter advanced only by Bump. Cache's two-phase
	// disk-overflow commit compares it, together with the Entry pointer, to
	// detect that a key was concurrently changed while a write happened
	// outside the cache lock (spec §5); a replace or removal swaps or drops
	// the whole Entry, which the pointer comparison catches.
	version uint64
}

// Version returns the entry's current change counter.
func (e *Entry) Version() uint64 { return e.version }

// Bump increments the change counter.
func (e *Entry) Bump() { e.version++ }

// New builds an Entry for key/value at nowMillis, computing SizeBytes once.
// ttlMillis of 0 means no TTL.
func New(key string, value *rcbuf.Buffer, ttlMillis int64, nowMillis int64) *Entry {
	return &Entry{
		Value:            value,
		SizeBytes:        Size(key, value.Len()),
		CreatedAtMillis:  nowMillis,
		LastAccessMillis: nowMillis,
		TTLMillis:        ttlMillis,
		Hits:             0,
		Tier:             Memory,
	}
}

// Size computes the accounting size of a key/value pair: spec §4.1's
// len(key) + len(value) + OverheadPerEntry.
func Size(key string, valueLen int) int64 {
	return int64(len(key)) + int64(valueLen) + OverheadPerEntry
}

// Expired reports whether now - CreatedAtMillis >= TTLMillis. An entry with
// TTLMillis == 0 never expires via this check (spec §3: "null means no
// expiry beyond policy eviction").
func (e *Entry) Expired(nowMillis int64) bool {
	if e.TTLMillis == 0 {
		return false
	}
	return nowMillis-e.CreatedAtMillis >= e.TTLMillis
}

// DeadlineMillis returns the absolute expiry instant, or 0 if the entry has
// no TTL. Used by the TTL eviction policy to pick the soonest-expiring key.
func (e *Entry) DeadlineMillis() int64 {
	if e.TTLMillis == 0 {
		return 0
	}
	return e.CreatedAtMillis + e.TTLMillis
}

// Touch bumps Hits and LastAccessMillis on a successful read.
func (e *Entry) Touch(nowMillis int64) {
	e.Hits++
	e.LastAccessMillis = nowMillis
}

// Release frees the entry's backing buffer. Must be called exactly once,
// when the entry permanently leaves the memory tier (a spilled entry's
// bytes live on in its overflow file).
func (e *Entry) Release() {
	e.Value.Release()
}
