// Package cache is the incremental store: computation results keyed by file
// content hash, with recorded inputs so invalidation drops exactly the
// entries that consulted a changed input. Results for unchanged keys are
// reused; everything else is recomputed on demand.
package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2/simplelru"
	"golang.org/x/sync/singleflight"

	"github.com/jward/understory/internal/workspace"
)

// DefaultCapacity bounds the entry count when the caller does not.
const DefaultCapacity = 8192

// Kind separates computation families sharing the store.
type Kind string

const (
	KindIndex   Kind = "index"
	KindResolve Kind = "resolve"
)

// Key identifies one computation over one file at one content version. A
// changed file hashes to a new key, so stale entries are never read again
// even before invalidation removes them.
type Key struct {
	File workspace.FileID
	Hash workspace.Hash
	Kind Kind
}

func (k Key) String() string {
	return fmt.Sprintf("%s|%s|%s", k.Kind, k.File, k.Hash)
}

// Input is one dependency a computation consulted: a file at a hash, or a
// module name whose resolution failed. Both register for invalidation.
type Input struct {
	File   workspace.FileID
	Hash   workspace.Hash
	Module string
}

// FileInput builds a file dependency.
func FileInput(id workspace.FileID, hash workspace.Hash) Input {
	return Input{File: id, Hash: hash}
}

// ModuleInput builds a missing-module sentinel dependency: creating a file
// that satisfies the module must invalidate the entry.
func ModuleInput(name string) Input {
	return Input{Module: name}
}

type entry[V any] struct {
	value  V
	inputs []Input
}

// Store memoizes computations. Readers proceed concurrently; concurrent
// computations of the same key are coalesced into one flight. Capacity is
// bounded; eviction is a future miss, never an error.
type Store[V any] struct {
	mu       sync.RWMutex
	entries  *lru.LRU[Key, entry[V]]
	byFile   map[workspace.FileID]map[Key]struct{}
	byModule map[string]map[Key]struct{}

	group  singleflight.Group
	hits   atomic.Uint64
	misses atomic.Uint64
}

// New builds a store holding at most capacity entries.
func New[V any](capacity int) *Store[V] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	s := &Store[V]{
		byFile:   make(map[workspace.FileID]map[Key]struct{}),
		byModule: make(map[string]map[Key]struct{}),
	}
	// the callback runs under s.mu: every mutation of entries happens
	// with the lock held
	entries, err := lru.NewLRU(capacity, func(k Key, e entry[V]) {
		s.unindex(k, e)
	})
	if err != nil {
		panic(fmt.Sprintf("cache: bad capacity %d: %v", capacity, err))
	}
	s.entries = entries
	return s
}

// GetOrCompute returns the cached value for key or runs compute once,
// coalescing concurrent callers of the same key onto a single flight.
// compute reports the inputs it consulted; errors are returned to every
// waiter and never cached.
func (s *Store[V]) GetOrCompute(ctx context.Context, key Key, compute func(ctx context.Context) (V, []Input, error)) (V, error) {
	s.mu.RLock()
	e, ok := s.entries.Peek(key)
	s.mu.RUnlock()
	if ok {
		s.hits.Add(1)
		return e.value, nil
	}

	v, err, _ := s.group.Do(key.String(), func() (interface{}, error) {
		s.mu.Lock()
		if e, ok := s.entries.Get(key); ok {
			s.mu.Unlock()
			s.hits.Add(1)
			return e.value, nil
		}
		s.mu.Unlock()

		s.misses.Add(1)
		value, inputs, err := compute(ctx)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		s.entries.Add(key, entry[V]{value: value, inputs: inputs})
		s.index(key, inputs)
		s.mu.Unlock()
		return value, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return v.(V), nil
}

// Invalidate drops every entry that belongs to or consulted the file.
// It returns the number of entries removed.
func (s *Store[V]) Invalidate(id workspace.FileID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeAll(s.byFile[id])
}

// InvalidateModule drops every entry that looked for a module and missed.
func (s *Store[V]) InvalidateModule(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeAll(s.byModule[name])
}

func (s *Store[V]) removeAll(keys map[Key]struct{}) int {
	if len(keys) == 0 {
		return 0
	}
	drop := make([]Key, 0, len(keys))
	for k := range keys {
		drop = append(drop, k)
	}
	n := 0
	for _, k := range drop {
		if s.entries.Remove(k) {
			n++
		}
	}
	return n
}

// Len reports the current entry count.
func (s *Store[V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries.Len()
}

// Purge drops everything.
func (s *Store[V]) Purge() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries.Purge()
}

// Stats reports cache hits and misses since construction.
func (s *Store[V]) Stats() (hits, misses uint64) {
	return s.hits.Load(), s.misses.Load()
}

// index registers key under its own file and every consulted input.
// Callers hold s.mu.
func (s *Store[V]) index(key Key, inputs []Input) {
	s.indexFile(key.File, key)
	for _, in := range inputs {
		if in.Module != "" {
			set, ok := s.byModule[in.Module]
			if !ok {
				set = make(map[Key]struct{})
				s.byModule[in.Module] = set
			}
			set[key] = struct{}{}
			continue
		}
		if in.File != "" {
			s.indexFile(in.File, key)
		}
	}
}

func (s *Store[V]) indexFile(id workspace.FileID, key Key) {
	set, ok := s.byFile[id]
	if !ok {
		set = make(map[Key]struct{})
		s.byFile[id] = set
	}
	set[key] = struct{}{}
}

// unindex removes key from every reverse-index set. Runs under s.mu via the
// eviction callback.
func (s *Store[V]) unindex(key Key, e entry[V]) {
	s.dropFileIndex(key.File, key)
	for _, in := range e.inputs {
		if in.Module != "" {
			if set, ok := s.byModule[in.Module]; ok {
				delete(set, key)
				if len(set) == 0 {
					delete(s.byModule, in.Module)
				}
			}
			continue
		}
		if in.File != "" {
			s.dropFileIndex(in.File, key)
		}
	}
}

func (s *Store[V]) dropFileIndex(id workspace.FileID, key Key) {
	if set, ok := s.byFile[id]; ok {
		delete(set, key)
		if len(set) == 0 {
			delete(s.byFile, id)
		}
	}
}
