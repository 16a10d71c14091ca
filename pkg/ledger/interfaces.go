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
	"errors"
)

var (
	// ErrStoreUnavailable is returned (wrapped) whenever the backing store
	// cannot serve a read or write. Callers must treat it as "deny".
	ErrStoreUnavailable = errors.New("usage ledger unavailable")

	// ErrNegativeDelta is returned when an increment would decrease a counter.
	ErrNegativeDelta = errors.New("usage delta must not be negative")
)

// Store is the persistence layer for usage counters.
//
// Implementations must be safe for concurrent use. IncrementAndGet must be
// atomic per key: concurrent increments of one key never lose updates, and
// increments of different keys never wait on each other beyond what the
// backend itself imposes.
type Store interface {
	// IncrementAndGet adds delta (>= 0) to the counter, creating it at zero
	// if absent, and returns the new total.
	IncrementAndGet(ctx context.Context, key Key, delta int64) (int64, error)

	// IncrementAll adds delta (>= 0) to every key as one unit and returns
	// the new totals in key order. Either every counter moves or none does.
	IncrementAll(ctx context.Context, keys []Key, delta int64) ([]int64, error)

	// Peek returns the current value, or zero if the counter does not exist.
	// It never creates a counter.
	Peek(ctx context.Context, key Key) (int64, error)

	// Close releases resources held by the store.
	Close() error
}

// Ensure interface compliance at compile time.
var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*FileStore)(nil)
	_ Store = (*SQLStore)(nil)
	_ Store = (*EtcdStore)(nil)
	_ Store = (*Instrumented)(nil)
)
