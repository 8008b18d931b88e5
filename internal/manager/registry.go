package manager

import (
	"container/list"
	"sync"
	"time"

	"github.com/embediq/backend/internal/engine"
)

// timeNow is a variable for testing purposes (allows mocking time).
var timeNow = time.Now

// EvictReason classifies why an instance left the registry.
type EvictReason string

const (
	// EvictCapacity marks an LRU eviction forced by the capacity bound.
	EvictCapacity EvictReason = "capacity"

	// EvictIdle marks an eviction of an instance idle past the configured TTL.
	EvictIdle EvictReason = "idle"

	// EvictExplicit marks an administrative eviction.
	EvictExplicit EvictReason = "explicit"

	// EvictShutdown marks release during manager shutdown.
	EvictShutdown EvictReason = "shutdown"
)

// Instance is one live tenant engine plus its recency metadata. Exactly one
// Instance exists per tenant ID at any time.
type Instance struct {
	TenantID   string
	Engine     engine.Engine
	WorkingDir string
	CreatedAt  time.Time

	lastAccessed time.Time
	elem         *list.Element
}

// LastAccessed returns when the instance was last returned by a lookup.
func (i *Instance) LastAccessed() time.Time {
	return i.lastAccessed
}

// Registry is a bounded, recency-ordered store of tenant instances.
//
// All structural mutations are serialized by a single mutex; the critical
// sections contain no I/O and no engine calls. Release callbacks for
// evicted instances run after the lock is dropped; the registry's
// bookkeeping is authoritative for capacity accounting regardless of
// release outcome.
type Registry struct {
	mu       sync.Mutex
	capacity int
	idleTTL  time.Duration // 0 disables idle-based eligibility
	entries  map[string]*Instance
	order    *list.List // front = most recently used
	onEvict  func(*Instance, EvictReason)
}

// NewRegistry creates a registry with the given capacity.
//
// idleTTL, when positive, makes instances idle for longer than the TTL
// eviction-eligible on the next Insert even below capacity. onEvict is
// invoked for every instance the registry evicts (never for Remove).
func NewRegistry(capacity int, idleTTL time.Duration, onEvict func(*Instance, EvictReason)) *Registry {
	if capacity < 1 {
		capacity = 1
	}
	if onEvict == nil {
		onEvict = func(*Instance, EvictReason) {}
	}
	return &Registry{
		capacity: capacity,
		idleTTL:  idleTTL,
		entries:  make(map[string]*Instance),
		order:    list.New(),
		onEvict:  onEvict,
	}
}

// Lookup returns the instance for tenantID, marking it most-recently-used.
func (r *Registry) Lookup(tenantID string) (*Instance, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.entries[tenantID]
	if !ok {
		return nil, false
	}
	inst.lastAccessed = timeNow()
	r.order.MoveToFront(inst.elem)
	return inst, true
}

// Insert adds a new instance as most-recently-used.
//
// The caller must guarantee tenantID is not already present (the manager's
// per-tenant gate enforces this). If the registry is at capacity the
// least-recently-used entry is evicted first; ties between equally stale
// entries resolve to the earliest inserted. When an idle TTL is configured,
// entries idle past the TTL are evicted as well, even below capacity.
//
// The inserted instance is never an eviction candidate of its own insert.
func (r *Registry) Insert(tenantID string, inst *Instance) {
	r.mu.Lock()

	type eviction struct {
		inst   *Instance
		reason EvictReason
	}
	var evicted []eviction

	if r.idleTTL > 0 {
		cutoff := timeNow().Add(-r.idleTTL)
		for elem := r.order.Back(); elem != nil; {
			prev := elem.Prev()
			old := elem.Value.(*Instance)
			if old.lastAccessed.After(cutoff) {
				break // order is recency-sorted; the rest are fresher
			}
			r.unlink(old)
			evicted = append(evicted, eviction{old, EvictIdle})
			elem = prev
		}
	}

	for len(r.entries) >= r.capacity {
		back := r.order.Back()
		if back == nil {
			break
		}
		old := back.Value.(*Instance)
		r.unlink(old)
		evicted = append(evicted, eviction{old, EvictCapacity})
	}

	inst.lastAccessed = timeNow()
	inst.elem = r.order.PushFront(inst)
	r.entries[tenantID] = inst

	r.mu.Unlock()

	for _, ev := range evicted {
		r.onEvict(ev.inst, ev.reason)
	}
}

// Remove removes and returns the instance for tenantID without invoking the
// eviction callback; the caller decides when to release the engine.
func (r *Registry) Remove(tenantID string) (*Instance, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.entries[tenantID]
	if !ok {
		return nil, false
	}
	r.unlink(inst)
	return inst, true
}

// Snapshot returns all instances, most-recently-used first. It is intended
// for shutdown enumeration, not hot-path decisions.
func (r *Registry) Snapshot() []*Instance {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Instance, 0, len(r.entries))
	for elem := r.order.Front(); elem != nil; elem = elem.Next() {
		out = append(out, elem.Value.(*Instance))
	}
	return out
}

// Len returns the number of live instances.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// unlink removes inst from both the map and the recency list.
// Caller must hold r.mu.
func (r *Registry) unlink(inst *Instance) {
	delete(r.entries, inst.TenantID)
	r.order.Remove(inst.elem)
	inst.elem = nil
}
