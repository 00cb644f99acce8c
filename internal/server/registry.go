package server

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// entry is one registered session or run. busy admits a single mutating request at a time;
// mu guards value so readers never observe a half-written update.
type entry[T any] struct {
	ID    uuid.UUID
	Owner uuid.UUID
	busy  *semaphore.Weighted

	mu    sync.RWMutex
	value T

	touched time.Time // guarded by the registry mutex
}

func (e *entry[T]) load() T {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.value
}

func (e *entry[T]) store(v T) {
	e.mu.Lock()
	e.value = v
	e.mu.Unlock()
}

// registry holds the in-memory sessions or runs of every client. State is ephemeral:
// entries idle for longer than ttl are dropped by sweep.
type registry[T any] struct {
	kind string
	ttl  time.Duration
	now  func() time.Time

	// active reports values that must not be evicted even when idle.
	active func(T) bool
	// onEvict runs after an entry has been removed by sweep or remove.
	onEvict func(T)

	mu    sync.Mutex
	items map[uuid.UUID]*entry[T]
}

func newRegistry[T any](kind string, ttl time.Duration) *registry[T] {
	return &registry[T]{
		kind:  kind,
		ttl:   ttl,
		now:   time.Now,
		items: make(map[uuid.UUID]*entry[T]),
	}
}

func (r *registry[T]) put(id, owner uuid.UUID, value T) *entry[T] {
	e := &entry[T]{
		ID:      id,
		Owner:   owner,
		busy:    semaphore.NewWeighted(1),
		value:   value,
		touched: r.now(),
	}
	r.mu.Lock()
	r.items[id] = e
	r.mu.Unlock()
	return e
}

// get returns the entry for rawID when it belongs to owner. An entry of another owner is
// reported as not found.
func (r *registry[T]) get(rawID string, owner uuid.UUID) (*entry[T], error) {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil, &ErrNotFound{Kind: r.kind, ID: rawID}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.items[id]
	if !ok || e.Owner != owner {
		return nil, &ErrNotFound{Kind: r.kind, ID: rawID}
	}
	e.touched = r.now()
	return e, nil
}

// ownerOf returns the owner recorded for id.
func (r *registry[T]) ownerOf(id uuid.UUID) (uuid.UUID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.items[id]
	if !ok {
		return uuid.Nil, false
	}
	return e.Owner, true
}

func (r *registry[T]) remove(id uuid.UUID) {
	r.mu.Lock()
	e, ok := r.items[id]
	delete(r.items, id)
	r.mu.Unlock()

	if ok && r.onEvict != nil {
		r.onEvict(e.load())
	}
}

func (r *registry[T]) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// sweep removes entries idle for longer than ttl, skipping any with a request in flight.
func (r *registry[T]) sweep() int {
	if r.ttl <= 0 {
		return 0
	}
	cutoff := r.now().Add(-r.ttl)

	var evicted []T
	r.mu.Lock()
	for id, e := range r.items {
		if !e.touched.Before(cutoff) {
			continue
		}
		if !e.busy.TryAcquire(1) {
			continue
		}
		value := e.load()
		if r.active != nil && r.active(value) {
			e.busy.Release(1)
			continue
		}
		delete(r.items, id)
		e.busy.Release(1)
		evicted = append(evicted, value)
	}
	r.mu.Unlock()

	if r.onEvict != nil {
		for _, v := range evicted {
			r.onEvict(v)
		}
	}
	return len(evicted)
}
