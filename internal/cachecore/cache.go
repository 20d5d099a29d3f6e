// Package cachecore implements the Cache component (spec §4.4): a single
// namespace combining a keyed entry map, a pluggable eviction policy, and
// an optional disk overflow tier, under bounded concurrency.
//
// The overall shape — one struct guarding a map plus incremental byte
// accounting behind a single lock, with background expiry handled by a
// dedicated goroutine — generalizes the teacher's cache.cache
// (cache/cache.go). Where the teacher hardcodes a three-segment hot/warm/cold
// LRU, this Cache delegates eviction-order decisions to a policy.Policy and
// tiering decisions to an overflow.Overflow.
package cachecore

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/carbondb/carbon/internal/carbonerr"
	"github.com/carbondb/carbon/internal/clock"
	"github.com/carbondb/carbon/internal/entry"
	"github.com/carbondb/carbon/internal/overflow"
	"github.com/carbondb/carbon/internal/policy"
	"github.com/carbondb/carbon/internal/rcbuf"
)

// MaxKeyBytes and DefaultMaxValueBytes bound the sizes spec §3 requires
// Cache to reject PUTs beyond (Config.MaxValueBytes overrides the latter).
const (
	MaxKeyBytes          = 64 * 1024
	DefaultMaxValueBytes = 1 << 20
)

// Config describes one namespace, carried by Registry.create (spec §4.5).
type Config struct {
	Name             string
	Policy           policy.Name
	MemBytesBudget   int64
	DiskBytesBudget  int64 // 0 disables overflow.
	DefaultTTLMillis int64
	OverflowDir      string
	MaxValueBytes    int64 // 0 means DefaultMaxValueBytes.
	SweepInterval    time.Duration
}

// Description is the read-only view Registry.list/get return alongside a
// handle (spec §4.5).
type Description struct {
	Name             string
	Policy           policy.Name
	MemBytesBudget   int64
	DiskBytesBudget  int64
	DefaultTTLMillis int64
	CreatedAtMillis  int64
	Stats            Stats
	Latencies        Latencies
}

// PutResult distinguishes a fresh insert from an in-place replace, per
// spec §4.4's table.
type PutResult int

const (
	Inserted PutResult = iota
	Replaced
)

// Cache is one namespace: entries, policy, optional overflow, under one
// writer-exclusive lock (spec §5 — "each cache owns one writer-exclusive
// lock").
type Cache struct {
	cfg   Config
	clock clock.Clock
	log   zerolog.Logger

	mu       sync.Mutex
	entries  map[string]*entry.Entry
	pol      policy.Policy
	expiry   *policy.ExpiryIndex
	memBytes int64
	pool     *rcbuf.Pool
	overflow *overflow.Overflow

	stats           statCounters
	timers          *opTimers
	createdAtMillis int64

	sweepLimiter *rate.Limiter
	stopSweep    context.CancelFunc
	sweepDone    chan struct{}
}

// New builds a Cache from cfg. If cfg.DiskBytesBudget > 0, an Overflow is
// opened at cfg.OverflowDir (best-effort re-indexed in the background, per
// spec §4.3/§9).
func New(cfg Config, clk clock.Clock, log zerolog.Logger) (*Cache, error) {
	if cfg.MaxValueBytes == 0 {
		cfg.MaxValueBytes = DefaultMaxValueBytes
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = time.Second
	}
	pol, err := policy.New(cfg.Policy)
	if err != nil {
		return nil, carbonerr.Wrap(carbonerr.InvalidArgument, err)
	}

	c := &Cache{
		cfg:             cfg,
		clock:           clk,
		log:             log.With().Str("cache", cfg.Name).Logger(),
		entries:         make(map[string]*entry.Entry),
		pol:             pol,
		expiry:          policy.NewExpiryIndex(),
		pool:            rcbuf.NewPool(),
		timers:          newOpTimers(),
		createdAtMillis: clk.Millis(),
		sweepLimiter:    rate.NewLimiter(rate.Limit(1000), 1000),
	}

	if cfg.DiskBytesBudget > 0 {
		ov, err := overflow.Open(cfg.OverflowDir, cfg.DiskBytesBudget, c.log)
		if err != nil {
			return nil, err
		}
		c.overflow = ov
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.stopSweep = cancel
	c.sweepDone = make(chan struct{})
	go c.sweepLoop(ctx)

	return c, nil
}

// Close stops the background sweep. Entries and any overflow files are
// left as-is; Carbon is not a durable store (spec §1 Non-goals) so Close
// does no flushing.
func (c *Cache) Close() {
	c.stopSweep()
	<-c.sweepDone
}

func (c *Cache) now() int64 { return c.clock.Millis() }

// Put implements spec §4.4's put operation.
func (c *Cache) Put(key string, value []byte, ttlMillis *int64) (result PutResult, err error) {
	defer func(start time.Time) { c.timers.put.UpdateSince(start) }(time.Now())
	return c.put(key, value, ttlMillis)
}

func (c *Cache) put(key string, value []byte, ttlMillis *int64) (PutResult, error) {
	if len(key) == 0 || len(key) > MaxKeyBytes {
		return 0, carbonerr.New(carbonerr.InvalidArgument, "key length out of bounds")
	}
	if int64(len(value)) > c.cfg.MaxValueBytes {
		return 0, carbonerr.New(carbonerr.InvalidArgument, "value too large")
	}

	ttl := c.cfg.DefaultTTLMillis
	if ttlMillis != nil {
		ttl = *ttlMillis
	}

	buf := c.pool.NewFromBytes(value)
	now := c.now()

	c.mu.Lock()
	result, rollback, err := c.putLocked(key, buf, ttl, now)
	c.mu.Unlock()

	if err != nil {
		rollback()
		buf.Release()
		return 0, err
	}
	return result, nil
}

// putLocked performs the map/policy/accounting mutation and, if the cache
// is now over budget, drives the eviction loop (spec §4.2). The new entry
// is excluded from victim selection for the duration of that loop (it is
// never its own eviction candidate), and every eviction performed is held
// uncommitted until the loop's outcome is known: on InsufficientCapacity,
// both the evictions and the PUT itself are unwound so the cache is left
// byte-for-byte as it was (spec §8's InsufficientCapacity invariant).
func (c *Cache) putLocked(key string, buf *rcbuf.Buffer, ttl int64, now int64) (PutResult, func(), error) {
	result := Inserted
	var previous *entry.Entry
	if existing, ok := c.entries[key]; ok {
		result = Replaced
		previous = existing
	} else if c.overflow != nil && c.overflow.Has(key) {
		// Replacing a disk-tier entry: its record and file are both
		// deleted (by finish) once we've decided the PUT sticks.
		result = Replaced
	}

	e := entry.New(key, buf, ttl, now)
	c.entries[key] = e
	c.memBytes += e.SizeBytes
	meta := policy.Meta{SizeBytes: e.SizeBytes, CreatedAtMillis: e.CreatedAtMillis, LastAccessMillis: e.LastAccessMillis, DeadlineMillis: e.DeadlineMillis()}
	c.pol.OnInsert(key, meta)
	c.expiry.Set(key, e.DeadlineMillis())
	if previous != nil {
		c.memBytes -= previous.SizeBytes
	}

	// abortPut undoes the mutation above: drops the new entry, restores
	// previous in place if this was a replace, and leaves memBytes exactly
	// as it was found. Only valid to call before e has been committed to
	// the policy index a second time (i.e. right after a failed eviction
	// run), since it assumes e is already absent from c.pol.
	abortPut := func() {
		if c.entries[key] == e {
			delete(c.entries, key)
			c.memBytes -= e.SizeBytes
			c.expiry.Remove(key)
			if previous != nil {
				c.entries[key] = previous
				c.memBytes += previous.SizeBytes
				pmeta := policy.Meta{SizeBytes: previous.SizeBytes, CreatedAtMillis: previous.CreatedAtMillis, LastAccessMillis: previous.LastAccessMillis, DeadlineMillis: previous.DeadlineMillis()}
				c.pol.OnInsert(key, pmeta)
				c.expiry.Set(key, previous.DeadlineMillis())
			}
		}
	}

	finish := func() {
		if previous != nil {
			previous.Release()
		}
		if result == Replaced && previous == nil && c.overflow != nil {
			c.deleteOverflowAsync(key)
		}
	}

	if c.memBytes <= c.cfg.MemBytesBudget {
		finish()
		return result, func() {}, nil
	}

	// Exclude e from victim selection: drop it from the policy index for
	// the duration of the eviction run, restoring it only once the run (and
	// hence the PUT) is known to succeed.
	c.pol.OnRemove(key)
	evicted, err := c.evictUntilWithinBudget(now)
	if err != nil {
		c.restoreEvictions(evicted)
		abortPut()
		return 0, func() {}, err
	}
	c.pol.OnInsert(key, meta)
	c.commitEvictions(evicted)
	finish()
	return result, func() {}, nil
}

// deleteOverflowAsync removes a disk-tier record superseded by a fresh
// memory-tier PUT of the same key. Run outside the cache lock since it's
// filesystem I/O; errors are logged, not surfaced, since the PUT that
// triggered it has already committed to memory.
func (c *Cache) deleteOverflowAsync(key string) {
	ov := c.overflow
	go func() {
		if _, err := ov.Delete(key); err != nil {
			c.log.Warn().Err(err).Str("key", key).Msg("overflow: cleanup of superseded disk entry failed")
		}
	}()
}

// evictedItem captures one victim detached from the memory tier, pending a
// decision: commitEvictions finalizes it (buffer released, stats counted)
// once the eviction run and the PUT that triggered it are known to
// succeed; restoreEvictions undoes it (reinserted, any disk write deleted)
// if either fails. A nil entry means the victim's state changed underneath
// an in-flight spill (see evictOne) and there is nothing left to commit or
// restore for it.
type evictedItem struct {
	key     string
	entry   *entry.Entry
	spilled bool
}

// evictUntilWithinBudget runs the eviction loop of spec §4.2 while the
// cache's memory lock is held, except for the disk-write step of each
// candidate, which is done with the lock released and re-acquired
// (two-phase commit, spec §5). The entry that triggered this run must
// already be absent from c.pol (see putLocked) so it can never be chosen
// as its own victim. Returns InsufficientCapacity if the policy runs out
// of victims before budget is restored; evicted entries are returned
// either way so the caller can commit or restore them.
func (c *Cache) evictUntilWithinBudget(now int64) ([]evictedItem, error) {
	var evicted []evictedItem
	for c.memBytes > c.cfg.MemBytesBudget {
		key, ok := c.pol.Victim()
		if !ok {
			return evicted, carbonerr.New(carbonerr.InsufficientCapacity, "no evictable entry to free capacity")
		}
		victim, ok := c.entries[key]
		if !ok {
			// Policy and map disagree; drop the stale index entry and retry.
			c.pol.OnRemove(key)
			continue
		}
		evicted = append(evicted, c.evictOne(key, victim, now))
	}
	return evicted, nil
}

// commitEvictions finalizes a successful eviction run: each victim's
// buffer is released (a spilled victim's data now lives on disk instead)
// and its stat is counted. Only called once the PUT that drove the run is
// certain to succeed.
func (c *Cache) commitEvictions(evicted []evictedItem) {
	for _, item := range evicted {
		if item.entry == nil {
			continue
		}
		item.entry.Release()
		if item.spilled {
			c.stats.overflowsIn.Add(1)
		} else {
			c.stats.evictions.Add(1)
		}
	}
}

// restoreEvictions undoes a failed eviction run in reverse order: every
// detached victim goes back into entries/policy/expiry/memBytes, and any
// disk write it made is deleted, leaving the cache byte-for-byte as it was
// before the PUT that triggered eviction (spec §8).
func (c *Cache) restoreEvictions(evicted []evictedItem) {
	for i := len(evicted) - 1; i >= 0; i-- {
		item := evicted[i]
		if item.entry == nil {
			continue
		}
		if item.spilled {
			c.overflow.Delete(item.key)
		}
		c.entries[item.key] = item.entry
		c.memBytes += item.entry.SizeBytes
		meta := policy.Meta{SizeBytes: item.entry.SizeBytes, CreatedAtMillis: item.entry.CreatedAtMillis, LastAccessMillis: item.entry.LastAccessMillis, DeadlineMillis: item.entry.DeadlineMillis()}
		c.pol.OnInsert(item.key, meta)
		c.expiry.Set(item.key, item.entry.DeadlineMillis())
	}
}

// evictOne detaches one victim from the memory tier, spilling it to disk
// first if overflow is enabled, the victim hasn't expired, and disk has
// room. The victim's buffer is not released and, if spilled, the disk
// write is not final: the returned evictedItem is pending commitEvictions
// or restoreEvictions.
func (c *Cache) evictOne(key string, victim *entry.Entry, now int64) evictedItem {
	spill := c.overflow != nil && !victim.Expired(now) && c.overflow.HasRoom(victim.SizeBytes)
	if !spill {
		c.detachLocked(key, victim)
		return evictedItem{key: key, entry: victim}
	}

	reader := victim.Value.NewReader()
	ttl := victim.TTLMillis
	created := victim.CreatedAtMillis
	dataBuf := make([]byte, 0, victim.SizeBytes)
	ver := victim.Version()
	c.mu.Unlock()
	owBuf := &dataBuf
	_, copyErr := copyAll(owBuf, reader)
	reader.Close()
	var writeErr error
	if copyErr == nil {
		_, writeErr = c.overflow.Put(key, *owBuf, created, ttl)
	}
	c.mu.Lock()

	cur, stillPresent := c.entries[key]
	if !stillPresent || cur != victim || cur.Version() != ver {
		// State changed underneath us (deleted/replaced while unlocked).
		// Don't touch accounting for a key we no longer own; if the write
		// succeeded anyway, undo it so the disk tier doesn't hold a ghost.
		if copyErr == nil && writeErr == nil {
			c.overflow.Delete(key)
		}
		return evictedItem{key: key}
	}
	if copyErr != nil || writeErr != nil {
		c.log.Warn().Err(firstNonNil(copyErr, writeErr)).Str("key", key).Msg("overflow: spill failed, discarding entry")
		c.detachLocked(key, victim)
		return evictedItem{key: key, entry: victim}
	}
	c.detachLocked(key, victim)
	return evictedItem{key: key, entry: victim, spilled: true}
}

func firstNonNil(a, b error) error {
	if a != nil {
		return a
	}
	return b
}

func copyAll(dst *[]byte, r *rcbuf.BufferReader) (int64, error) {
	buf := make([]byte, 32*1024)
	var total int64
	for {
		n, err := r.Read(buf)
		if n > 0 {
			*dst = append(*dst, buf[:n]...)
			total += int64(n)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return total, nil
			}
			return total, err
		}
	}
}

// detachLocked removes key from entries/policy/expiry and adjusts
// memBytes, without releasing its buffer. Caller must hold c.mu and
// decides separately whether the detachment is final (release the buffer)
// or needs undoing (reinsert via restoreEvictions).
func (c *Cache) detachLocked(key string, e *entry.Entry) {
	delete(c.entries, key)
	c.memBytes -= e.SizeBytes
	c.pol.OnRemove(key)
	c.expiry.Remove(key)
}

// removeMemoryLocked detaches key from entries/policy/expiry and releases
// its buffer. Caller must hold c.mu.
func (c *Cache) removeMemoryLocked(key string, e *entry.Entry) {
	c.detachLocked(key, e)
	e.Release()
}

// Get implements spec §4.4's get operation: memory tier first, then disk,
// with optional promotion back to memory on a disk hit.
func (c *Cache) Get(key string) (reader *rcbuf.BufferReader, err error) {
	defer func(start time.Time) { c.timers.get.UpdateSince(start) }(time.Now())
	return c.get(key)
}

func (c *Cache) get(key string) (*rcbuf.BufferReader, error) {
	now := c.now()

	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		if e.Expired(now) {
			c.removeMemoryLocked(key, e)
			c.stats.expirations.Add(1)
			c.mu.Unlock()
			return nil, carbonerr.New(carbonerr.NotFound, "key expired")
		}
		e.Touch(now)
		c.pol.OnAccess(key, policy.Meta{SizeBytes: e.SizeBytes, CreatedAtMillis: e.CreatedAtMillis, LastAccessMillis: e.LastAccessMillis, DeadlineMillis: e.DeadlineMillis()})
		reader := e.Value.NewReader()
		c.stats.hits.Add(1)
		c.mu.Unlock()
		return reader, nil
	}
	c.mu.Unlock()

	if c.overflow == nil {
		c.stats.misses.Add(1)
		return nil, carbonerr.New(carbonerr.NotFound, "key not found")
	}

	data, rec, ok, err := c.overflow.Get(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		c.stats.misses.Add(1)
		return nil, carbonerr.New(carbonerr.NotFound, "key not found")
	}
	if rec.Expired(now) {
		c.overflow.Delete(key)
		c.stats.misses.Add(1)
		return nil, carbonerr.New(carbonerr.NotFound, "key expired")
	}

	c.stats.hits.Add(1)
	c.maybePromote(key, data, rec, now)

	buf := c.pool.NewFromBytes(data)
	reader := buf.NewReader()
	buf.Release() // reader keeps it alive; Cache holds no long-lived copy of a disk-origin buffer it didn't promote.
	return reader, nil
}

// maybePromote moves a disk hit back to Memory tier if there's room,
// otherwise leaves it on disk and returns the value without promotion
// (spec §4.3).
func (c *Cache) maybePromote(key string, data []byte, rec overflow.Record, now int64) {
	c.mu.Lock()
	if _, already := c.entries[key]; already {
		c.mu.Unlock()
		return // raced with a concurrent PUT; leave it alone.
	}
	if c.memBytes+rec.SizeBytes > c.cfg.MemBytesBudget {
		c.mu.Unlock()
		return
	}
	buf := c.pool.NewFromBytes(data)
	e := entryFromRecord(key, buf, rec, now)
	c.entries[key] = e
	c.memBytes += e.SizeBytes
	c.pol.OnInsert(key, policy.Meta{SizeBytes: e.SizeBytes, CreatedAtMillis: e.CreatedAtMillis, LastAccessMillis: e.LastAccessMillis, DeadlineMillis: e.DeadlineMillis()})
	c.expiry.Set(key, e.DeadlineMillis())
	c.stats.overflowsOut.Add(1)
	c.mu.Unlock()
	c.overflow.Delete(key)
}

// Delete implements spec §4.4's delete operation.
func (c *Cache) Delete(key string) (err error) {
	defer func(start time.Time) { c.timers.del.UpdateSince(start) }(time.Now())
	return c.delete(key)
}

func (c *Cache) delete(key string) error {
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok {
		c.removeMemoryLocked(key, e)
	}
	c.mu.Unlock()

	var diskExisted bool
	var err error
	if c.overflow != nil {
		diskExisted, err = c.overflow.Delete(key)
	}
	if !ok && !diskExisted {
		if err != nil {
			return err
		}
		return carbonerr.New(carbonerr.NotFound, "key not found")
	}
	return err
}

// Clear implements spec §4.4's clear operation.
func (c *Cache) Clear() error {
	c.mu.Lock()
	for key, e := range c.entries {
		delete(c.entries, key)
		c.pol.OnRemove(key)
		c.expiry.Remove(key)
		e.Release()
	}
	c.memBytes = 0
	c.mu.Unlock()
	return nil
}

// Stats implements spec §4.4's stats operation.
func (c *Cache) Stats() Stats { return c.stats.snapshot() }

// Latencies returns the go-metrics-backed per-operation latency snapshot
// (SPEC_FULL.md §10).
func (c *Cache) Latencies() Latencies { return c.timers.snapshot() }

// Describe returns the Registry-facing description of this cache.
func (c *Cache) Describe() Description {
	return Description{
		Name:             c.cfg.Name,
		Policy:           c.cfg.Policy,
		MemBytesBudget:   c.cfg.MemBytesBudget,
		DiskBytesBudget:  c.cfg.DiskBytesBudget,
		DefaultTTLMillis: c.cfg.DefaultTTLMillis,
		CreatedAtMillis:  c.createdAtMillis,
		Stats:            c.Stats(),
		Latencies:        c.Latencies(),
	}
}

// sweepLoop is the background sweep of spec §4.4: wakes on
// cfg.SweepInterval and removes entries whose TTL elapsed, bounded per
// tick by sweepLimiter so it never monopolizes the cache lock. Modeled on
// the teacher's AOF.startSync ticker goroutine (aof/aof.go).
func (c *Cache) sweepLoop(ctx context.Context) {
	defer close(c.sweepDone)
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweepTick()
		}
	}
}

const sweepBatchLimit = 1024

func (c *Cache) sweepTick() {
	now := c.now()
	c.mu.Lock()
	keys := c.expiry.Expired(now, sweepBatchLimit)
	for _, key := range keys {
		if !c.sweepLimiter.Allow() {
			break
		}
		if e, ok := c.entries[key]; ok && e.Expired(now) {
			c.removeMemoryLocked(key, e)
			c.stats.expirations.Add(1)
		}
	}
	c.mu.Unlock()
}

func entryFromRecord(key string, buf *rcbuf.Buffer, rec overflow.Record, now int64) *entry.Entry {
	return &entry.Entry{
		Value:            buf,
		SizeBytes:        rec.SizeBytes,
		CreatedAtMillis:  rec.CreatedAtMillis,
		LastAccessMillis: now,
		TTLMillis:        rec.TTLMillis,
		Tier:             entry.Memory,
	}
}
