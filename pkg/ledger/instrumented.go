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
	"time"
)

// Recorder receives one observation per store operation.
type Recorder interface {
	RecordLedgerOp(ctx context.Context, backend, op string, duration time.Duration, err error)
}

// Instrumented decorates a Store with per-operation metrics.
type Instrumented struct {
	next     Store
	backend  string
	recorder Recorder
}

// NewInstrumented wraps next. A nil recorder returns next unchanged.
func NewInstrumented(next Store, backend string, recorder Recorder) Store {
	if recorder == nil {
		return next
	}
	return &Instrumented{next: next, backend: backend, recorder: recorder}
}

func (s *Instrumented) IncrementAndGet(ctx context.Context, key Key, delta int64) (int64, error) {
	start := time.Now()
	v, err := s.next.IncrementAndGet(ctx, key, delta)
	s.recorder.RecordLedgerOp(ctx, s.backend, "increment", time.Since(start), err)
	return v, err
}

func (s *Instrumented) IncrementAll(ctx context.Context, keys []Key, delta int64) ([]int64, error) {
	start := time.Now()
	v, err := s.next.IncrementAll(ctx, keys, delta)
	s.recorder.RecordLedgerOp(ctx, s.backend, "increment", time.Since(start), err)
	return v, err
}

func (s *Instrumented) Peek(ctx context.Context, key Key) (int64, error) {
	start := time.Now()
	v, err := s.next.Peek(ctx, key)
	s.recorder.RecordLedgerOp(ctx, s.backend, "peek", time.Since(start), err)
	return v, err
}

func (s *Instrumented) Close() error {
	return s.next.Close()
}

// Unwrap returns the decorated store.
func (s *Instrumented) Unwrap() Store {
	return s.next
}
