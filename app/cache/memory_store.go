package cache

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
)

type slot struct {
	generation atomic.Uint64
	entry      atomic.Pointer[Entry]
}

// MemoryStore is a process-local Store. Reads and invalidations are lock free.
type MemoryStore struct {
	slots sync.Map // string -> *slot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) slot(key string) *slot {
	if v, ok := s.slots.Load(key); ok {
		return v.(*slot)
	}
	v, _ := s.slots.LoadOrStore(key, &slot{})
	return v.(*slot)
}

func (s *MemoryStore) Load(_ context.Context, key string) (*Entry, error) {
	sl := s.slot(key)
	stored := sl.entry.Load()
	if stored == nil {
		return nil, nil
	}

	entry := *stored
	entry.Valid = entry.Generation == sl.generation.Load()
	return &entry, nil
}

func (s *MemoryStore) Save(_ context.Context, entry Entry) (bool, error) {
	sl := s.slot(entry.Key)
	entry.Valid = false

	for {
		if entry.Generation != sl.generation.Load() {
			return false, nil
		}
		old := sl.entry.Load()
		if old != nil && old.Generation > entry.Generation {
			return false, nil
		}
		if sl.entry.CompareAndSwap(old, &entry) {
			return true, nil
		}
	}
}

func (s *MemoryStore) MarkInvalid(_ context.Context, key string) (uint64, error) {
	return s.slot(key).generation.Add(1), nil
}

func (s *MemoryStore) Generation(_ context.Context, key string) (uint64, error) {
	return s.slot(key).generation.Load(), nil
}

func (s *MemoryStore) Keys(_ context.Context) ([]string, error) {
	var keys []string
	s.slots.Range(func(k, _ any) bool {
		keys = append(keys, k.(string))
		return true
	})
	sort.Strings(keys)
	return keys, nil
}
