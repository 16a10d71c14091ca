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
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const createUsageCountersTableSQL = `
CREATE TABLE IF NOT EXISTS usage_counters (
    provider VARCHAR(50) NOT NULL,
    window_kind VARCHAR(20) NOT NULL,
    window_id VARCHAR(20) NOT NULL,
    consumed BIGINT NOT NULL DEFAULT 0,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (provider, window_kind, window_id)
)`

// SQLStore is a SQL-backed Store shared by every instance pointing at the
// same database. It supports Postgres, MySQL, and SQLite.
//
// Create-if-absent-else-add is a single upsert, so the row lock taken by
// the database is the per-key lock.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

// NewSQLStore creates a SQL-backed store and ensures its table exists.
// Supported dialects: "postgres", "mysql", "sqlite".
func NewSQLStore(db *sql.DB, dialect string) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	switch dialect {
	case "postgres", "mysql", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", dialect)
	}

	s := &SQLStore{
		db:      db,
		dialect: dialect,
	}

	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLStore) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, createUsageCountersTableSQL); err != nil {
		return fmt.Errorf("failed to create usage_counters table: %w", err)
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// IncrementAndGet upserts the counter row and returns the new total.
func (s *SQLStore) IncrementAndGet(ctx context.Context, key Key, delta int64) (int64, error) {
	if delta < 0 {
		return 0, ErrNegativeDelta
	}
	if s.dialect == "mysql" {
		// The MySQL upsert has no RETURNING, so the read-back needs a
		// transaction to keep the row lock.
		totals, err := s.IncrementAll(ctx, []Key{key}, delta)
		if err != nil {
			return 0, err
		}
		return totals[0], nil
	}
	return s.upsert(ctx, s.db, key, delta, time.Now().UTC())
}

// IncrementAll upserts every row inside one transaction. Keys are locked
// in the order given, so callers that always pass the same order cannot
// deadlock against each other.
func (s *SQLStore) IncrementAll(ctx context.Context, keys []Key, delta int64) ([]int64, error) {
	if delta < 0 {
		return nil, ErrNegativeDelta
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin: %w", ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	totals := make([]int64, len(keys))
	for i, key := range keys {
		if totals[i], err = s.upsert(ctx, tx, key, delta, now); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit: %w", ErrStoreUnavailable, err)
	}
	return totals, nil
}

func (s *SQLStore) upsert(ctx context.Context, q querier, key Key, delta int64, now time.Time) (int64, error) {
	if s.dialect == "mysql" {
		return s.upsertMySQL(ctx, q, key, delta, now)
	}

	// SQLite (3.35+) and Postgres both support ON CONFLICT ... RETURNING.
	query := s.rebind(`
		INSERT INTO usage_counters (provider, window_kind, window_id, consumed, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (provider, window_kind, window_id)
		DO UPDATE SET consumed = usage_counters.consumed + excluded.consumed, updated_at = excluded.updated_at
		RETURNING consumed`)

	var total int64
	err := q.QueryRowContext(ctx, query,
		string(key.Provider), string(key.Kind), string(key.Window), delta, now,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("%w: increment %s: %w", ErrStoreUnavailable, key, err)
	}
	return total, nil
}

// upsertMySQL must run inside a transaction; the row lock from the upsert
// is held until commit.
func (s *SQLStore) upsertMySQL(ctx context.Context, q querier, key Key, delta int64, now time.Time) (int64, error) {
	_, err := q.ExecContext(ctx, `
		INSERT INTO usage_counters (provider, window_kind, window_id, consumed, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE consumed = consumed + VALUES(consumed), updated_at = VALUES(updated_at)`,
		string(key.Provider), string(key.Kind), string(key.Window), delta, now,
	)
	if err != nil {
		return 0, fmt.Errorf("%w: increment %s: %w", ErrStoreUnavailable, key, err)
	}

	var total int64
	err = q.QueryRowContext(ctx,
		`SELECT consumed FROM usage_counters WHERE provider = ? AND window_kind = ? AND window_id = ?`,
		string(key.Provider), string(key.Kind), string(key.Window),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("%w: read back %s: %w", ErrStoreUnavailable, key, err)
	}
	return total, nil
}

// Peek reads the counter row; a missing row is zero.
func (s *SQLStore) Peek(ctx context.Context, key Key) (int64, error) {
	query := s.rebind(`SELECT consumed FROM usage_counters WHERE provider = ? AND window_kind = ? AND window_id = ?`)

	var total int64
	err := s.db.QueryRowContext(ctx, query,
		string(key.Provider), string(key.Kind), string(key.Window),
	).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: peek %s: %w", ErrStoreUnavailable, key, err)
	}
	return total, nil
}

// Close does NOT close the underlying database connection, as that
// connection may be shared with other components through the DB pool.
func (s *SQLStore) Close() error {
	return nil
}

// Dialect returns the SQL dialect (for testing).
func (s *SQLStore) Dialect() string {
	return s.dialect
}

// rebind rewrites ? placeholders to $n for Postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$")
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
