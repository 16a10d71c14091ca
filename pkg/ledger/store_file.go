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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const fileSchemaVersion = 1

type fileData struct {
	SchemaVersion int       `json:"schema_version"`
	WrittenAt     time.Time `json:"written_at"`
	Counters      []Entry   `json:"counters"`
}

// FileStore is a MemoryStore with write-through JSON persistence.
//
// Every increment rewrites the file (tmp + rename) before returning, so a
// committed value survives a restart. It does not coordinate between
// processes; use the sql or etcd backend when several instances share
// provider credentials.
type FileStore struct {
	mem  *MemoryStore
	path string

	// writeMu serializes file writes only; counter updates stay lock-free.
	writeMu sync.Mutex
}

// NewFileStore opens (or creates) the ledger file at path.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("ledger file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("ledger file: create dir failed: %w", err)
	}

	s := &FileStore{
		mem:  NewMemoryStore(),
		path: path,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// IncrementAndGet adds delta and persists the ledger before returning.
func (s *FileStore) IncrementAndGet(ctx context.Context, key Key, delta int64) (int64, error) {
	total, err := s.mem.IncrementAndGet(ctx, key, delta)
	if err != nil {
		return 0, err
	}
	if delta == 0 {
		return total, nil
	}
	if err := s.flush(); err != nil {
		// The in-memory value already includes delta. Over-counting is the
		// safe direction, so it is not rolled back.
		return 0, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return total, nil
}

// Peek returns the counter for key.
// IncrementAll applies every increment in memory and then writes the file
// once.
func (s *FileStore) IncrementAll(ctx context.Context, keys []Key, delta int64) ([]int64, error) {
	totals, err := s.mem.IncrementAll(ctx, keys, delta)
	if err != nil {
		return nil, err
	}
	if delta == 0 || len(keys) == 0 {
		return totals, nil
	}
	if err := s.flush(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return totals, nil
}

func (s *FileStore) Peek(ctx context.Context, key Key) (int64, error) {
	return s.mem.Peek(ctx, key)
}

// Close flushes the ledger and marks the store unavailable.
func (s *FileStore) Close() error {
	err := s.flush()
	s.mem.Close()
	return err
}

// Path returns the ledger file location.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) load() error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("ledger file: read failed: %w", err)
	}
	if len(raw) == 0 {
		return nil
	}
	var data fileData
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("ledger file: unmarshal failed: %w", err)
	}
	if data.SchemaVersion > fileSchemaVersion {
		return fmt.Errorf("ledger file: unsupported schema version %d", data.SchemaVersion)
	}
	s.mem.load(data.Counters)
	return nil
}

func (s *FileStore) flush() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	data := fileData{
		SchemaVersion: fileSchemaVersion,
		WrittenAt:     time.Now().UTC(),
		Counters:      s.mem.Entries(),
	}
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("ledger file: marshal failed: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("ledger file: write tmp failed: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("ledger file: rename failed: %w", err)
	}
	return nil
}
