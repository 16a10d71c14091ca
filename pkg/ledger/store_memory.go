// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// MemoryStore is an in-process Store.
// Each key owns an atomic counter, so there is no store-wide lock. It is
// suitable for tests and single-instance deployments; counters are lost on
// restart.
type MemoryStore struct {
	counters sync.Map // Key -> *atomic.Int64
	closed   atomic.Bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) counter(key Key) *atomic.Int64 {
	if v, ok := s.counters.Load(key); ok {
		return v.(*atomic.Int64)
	}
	v, _ := s.counters.LoadOrStore(key, new(atomic.Int64))
	return v.(*atomic.Int64)
}

// IncrementAndGet atomically adds delta to the counter for key.
func (s *MemoryStore) IncrementAndGet(ctx context.Context, key Key, delta int64) (int64, error) {
	if delta < 0 {
		return 0, ErrNegativeDelta
	}
	if s.closed.Load() {
		return 0, fmt.Errorf("%w: memory store closed", ErrStoreUnavailable)
	}
	return s.counter(key).Add(delta), nil
}

// Peek returns the counter for key without creating it.
// IncrementAll adds delta to each key. Every failure is detected before the
// first counter moves.
func (s *MemoryStore) IncrementAll(ctx context.Context, keys []Key, delta int64) ([]int64, error) {
	if delta < 0 {
		return nil, ErrNegativeDelta
	}
	if s.closed.Load() {
		return nil, fmt.Errorf("%w: memory store closed", ErrStoreUnavailable)
	}
	out := make([]int64, len(keys))
	for i, key := range keys {
		out[i] = s.counter(key).Add(delta)
	}
	return out, nil
}

func (s *MemoryStore) Peek(ctx context.Context, key Key) (int64, error) {
	if s.closed.Load() {
		return 0, fmt.Errorf("%w: memory store closed", ErrStoreUnavailable)
	}
	v, ok := s.counters.Load(key)
	if !ok {
		return 0, nil
	}
	return v.(*atomic.Int64).Load(), nil
}

// Close marks the store unavailable. Later calls fail with
// ErrStoreUnavailable.
func (s *MemoryStore) Close() error {
	s.closed.Store(true)
	return nil
}

// Entries returns every counter, ordered by key.
func (s *MemoryStore) Entries() []Entry {
	var out []Entry
	s.counters.Range(func(k, v any) bool {
		key := k.(Key)
		out = append(out, Entry{
			Provider: key.Provider,
			Kind:     key.Kind,
			Window:   key.Window,
			Consumed: v.(*atomic.Int64).Load(),
		})
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key().String() < out[j].Key().String()
	})
	return out
}

// load seeds counters from persisted entries. Used by FileStore on open.
func (s *MemoryStore) load(entries []Entry) {
	for _, e := range entries {
		if e.Consumed < 0 {
			continue
		}
		s.counter(e.Key()).Store(e.Consumed)
	}
}

// Size returns the number of counters (for testing).
func (s *MemoryStore) Size() int {
	n := 0
	s.counters.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
