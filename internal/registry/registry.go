// Package registry implements the Registry component (spec §4.5): a
// process-wide directory of named Cache namespaces, owning create,
// describe, list and delete.
//
// The teacher serves exactly one cache per process, so there is no
// teacher file to generalize directly; the sharing discipline here is
// grounded on the teacher's Server/ConnMeta idiom (server.go) of handing
// out a shared struct pointer that keeps working for in-flight callers
// even as server-level state changes around it.
package registry

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/carbondb/carbon/internal/carbonerr"
	"github.com/carbondb/carbon/internal/cachecore"
	"github.com/carbondb/carbon/internal/clock"
	"github.com/carbondb/carbon/internal/policy"
)

// nameRe-like validation without regexp: spec §3's name grammar is small
// enough to check by hand, and the hot path (every HTTP/TCP request routes
// through Get) benefits from not paying regexp overhead per call.
func validName(name string) bool {
	if len(name) == 0 || len(name) > 128 {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}

// entry wraps a *cachecore.Cache with the draining flag spec §4.5 requires:
// once set, Get reports NotFound for new lookups, but handles already
// obtained keep serving their in-flight operations.
type entry struct {
	cache    *cachecore.Cache
	draining bool
}

// Registry is the process-wide cache directory. One sync.RWMutex guards
// the name->entry map so lookups are cheap and reads dominate, per spec
// §4.5's "reads are lock-free or read-mostly" — here read-mostly via
// RWMutex rather than truly lock-free, since create/delete are rare and a
// sync.Map would not let us hold the draining flag and cache pointer
// atomically together.
type Registry struct {
	mu    sync.RWMutex
	log   zerolog.Logger
	clock clock.Clock
	byName map[string]*entry
}

// New builds an empty Registry.
func New(clk clock.Clock, log zerolog.Logger) *Registry {
	return &Registry{
		log:    log.With().Str("component", "registry").Logger(),
		clock:  clk,
		byName: make(map[string]*entry),
	}
}

// Spec describes a namespace to create, per spec §4.5's "spec carries
// policy, budgets, default TTL, overflow path".
type Spec struct {
	Name             string
	Policy           policy.Name
	MemBytesBudget   int64
	DiskBytesBudget  int64
	DefaultTTLMillis int64
	OverflowDir      string
	MaxValueBytes    int64
	SweepInterval    time.Duration
}

// Create builds and registers a new cache. Returns AlreadyExists if name
// is taken (including by a create of the same name still in progress), and
// InvalidArgument for a malformed name or budget. A deleted cache's name is
// free again as soon as Delete returns, even while old handles still serve.
func (r *Registry) Create(spec Spec) (*cachecore.Cache, error) {
	if !validName(spec.Name) {
		return nil, carbonerr.New(carbonerr.InvalidArgument, "invalid cache name")
	}
	if spec.MemBytesBudget <= 0 {
		return nil, carbonerr.New(carbonerr.InvalidArgument, "mem_bytes_budget must be positive")
	}

	r.mu.Lock()
	if _, exists := r.byName[spec.Name]; exists {
		r.mu.Unlock()
		return nil, carbonerr.New(carbonerr.AlreadyExists, "cache already exists")
	}
	// Reserve the name before the (potentially slow, disk-touching) cache
	// construction runs, so two concurrent creates of the same name can't
	// both succeed.
	r.byName[spec.Name] = &entry{}
	r.mu.Unlock()

	c, err := cachecore.New(cachecore.Config{
		Name:             spec.Name,
		Policy:           spec.Policy,
		MemBytesBudget:   spec.MemBytesBudget,
		DiskBytesBudget:  spec.DiskBytesBudget,
		DefaultTTLMillis: spec.DefaultTTLMillis,
		OverflowDir:      spec.OverflowDir,
		MaxValueBytes:    spec.MaxValueBytes,
		SweepInterval:    spec.SweepInterval,
	}, r.clock, r.log)
	if err != nil {
		r.mu.Lock()
		delete(r.byName, spec.Name)
		r.mu.Unlock()
		return nil, err
	}

	r.mu.Lock()
	r.byName[spec.Name] = &entry{cache: c}
	r.mu.Unlock()
	r.log.Info().Str("cache", spec.Name).Str("policy", string(spec.Policy)).Msg("cache created")
	return c, nil
}

// Get returns a handle to the named cache. Returns NotFound if the cache
// was never created or is draining.
func (r *Registry) Get(name string) (*cachecore.Cache, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byName[name]
	if !ok || e.draining || e.cache == nil {
		return nil, carbonerr.New(carbonerr.NotFound, "cache not found")
	}
	return e.cache, nil
}

// Describe returns name plus policy/budgets/stats for one cache.
func (r *Registry) Describe(name string) (cachecore.Description, error) {
	c, err := r.Get(name)
	if err != nil {
		return cachecore.Description{}, err
	}
	return c.Describe(), nil
}

// List returns a description of every non-draining cache, spec §4.5.
func (r *Registry) List() []cachecore.Description {
	r.mu.RLock()
	names := make([]*entry, 0, len(r.byName))
	for _, e := range r.byName {
		if !e.draining && e.cache != nil {
			names = append(names, e)
		}
	}
	r.mu.RUnlock()

	out := make([]cachecore.Description, 0, len(names))
	for _, e := range names {
		out = append(out, e.cache.Describe())
	}
	return out
}

// Delete marks name as draining so future Get calls report NotFound, then
// closes the cache's background sweep. Handles obtained before the mark
// keep working for their in-flight operations (spec §4.5); resources are
// released once this call returns, since Cache.Close only stops the sweep
// goroutine and does not block on any caller's in-flight op.
func (r *Registry) Delete(name string) error {
	r.mu.Lock()
	e, ok := r.byName[name]
	if !ok || e.draining {
		r.mu.Unlock()
		return carbonerr.New(carbonerr.NotFound, "cache not found")
	}
	e.draining = true
	c := e.cache
	delete(r.byName, name)
	r.mu.Unlock()

	if c != nil {
		c.Close()
	}
	r.log.Info().Str("cache", name).Msg("cache deleted")
	return nil
}

// Len reports how many non-draining caches exist. Used by tests.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.byName {
		if !e.draining {
			n++
		}
	}
	return n
}

// Shutdown closes every cache's background sweep. Called from cmd/carbon's
// graceful shutdown sequence.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.byName))
	for _, e := range r.byName {
		entries = append(entries, e)
	}
	r.mu.Unlock()
	for _, e := range entries {
		if e.cache != nil {
			e.cache.Close()
		}
	}
}
