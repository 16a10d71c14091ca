package ledger

import (
	"context"
	"database/sql"
	"sync"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/sprout/pkg/window"
)

func newTestSQLStore(t *testing.T) (*SQLStore, *sql.DB) {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// Every connection to :memory: is its own database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s, err := NewSQLStore(db, "sqlite")
	require.NoError(t, err)
	return s, db
}

func TestSQLStore_IncrementAndPeek(t *testing.T) {
	ctx := context.Background()
	s, db := newTestSQLStore(t)
	key := dailyKey(WebSearch, "2026-10-15")

	v, err := s.Peek(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)

	var rows int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM usage_counters`).Scan(&rows))
	assert.Equal(t, 0, rows, "peek must not create a row")

	v, err = s.IncrementAndGet(ctx, key, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	v, err = s.IncrementAndGet(ctx, key, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)

	v, err = s.Peek(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)

	_, err = s.IncrementAndGet(ctx, key, -1)
	assert.ErrorIs(t, err, ErrNegativeDelta)
}

func TestSQLStore_ConcurrentIncrementsAreExact(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestSQLStore(t)
	key := Key{Provider: TextGeneration, Kind: window.Monthly, Window: "2026-10"}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				_, err := s.IncrementAndGet(ctx, key, 10)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	v, err := s.Peek(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(20*25*10), v)
}

func TestSQLStore_IncrementAll(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestSQLStore(t)
	keys := []Key{
		dailyKey(TextGeneration, "2026-10-15"),
		{Provider: TextGeneration, Kind: window.Monthly, Window: "2026-10"},
	}

	totals, err := s.IncrementAll(ctx, keys, 40)
	require.NoError(t, err)
	assert.Equal(t, []int64{40, 40}, totals)

	totals, err = s.IncrementAll(ctx, keys, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{42, 42}, totals)

	_, err = s.IncrementAll(ctx, keys, -1)
	assert.ErrorIs(t, err, ErrNegativeDelta)
}

func TestSQLStore_IncrementAllRollsBackOnPartialFailure(t *testing.T) {
	ctx := context.Background()
	s, db := newTestSQLStore(t)

	_, err := db.Exec(`
		CREATE TRIGGER reject_monthly BEFORE INSERT ON usage_counters
		WHEN NEW.window_kind = 'monthly'
		BEGIN SELECT RAISE(ABORT, 'monthly partition offline'); END`)
	require.NoError(t, err)

	daily := dailyKey(TextGeneration, "2026-10-15")
	_, err = s.IncrementAll(ctx, []Key{daily, {Provider: TextGeneration, Kind: window.Monthly, Window: "2026-10"}}, 50)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	v, err := s.Peek(ctx, daily)
	require.NoError(t, err)
	assert.Equal(t, int64(0), v, "daily write must roll back with the monthly one")

	var rows int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM usage_counters`).Scan(&rows))
	assert.Equal(t, 0, rows)
}

func TestSQLStore_SchemaIsIdempotent(t *testing.T) {
	s, db := newTestSQLStore(t)
	_, err := s.IncrementAndGet(context.Background(), dailyKey(WebSearch, "2026-10-15"), 1)
	require.NoError(t, err)

	again, err := NewSQLStore(db, "sqlite")
	require.NoError(t, err)

	v, err := again.Peek(context.Background(), dailyKey(WebSearch, "2026-10-15"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}

func TestSQLStore_ClosedDatabaseFailsClosed(t *testing.T) {
	s, db := newTestSQLStore(t)
	require.NoError(t, db.Close())

	_, err := s.Peek(context.Background(), dailyKey(WebSearch, "2026-10-15"))
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	_, err = s.IncrementAndGet(context.Background(), dailyKey(WebSearch, "2026-10-15"), 1)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestSQLStore_UnsupportedDialect(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	_, err = NewSQLStore(db, "oracle")
	assert.Error(t, err)

	_, err = NewSQLStore(nil, "sqlite")
	assert.Error(t, err)
}

func TestSQLStore_Rebind(t *testing.T) {
	pg := &SQLStore{dialect: "postgres"}
	assert.Equal(t, "a = $1 AND b = $2", pg.rebind("a = ? AND b = ?"))

	lite := &SQLStore{dialect: "sqlite"}
	assert.Equal(t, "a = ?", lite.rebind("a = ?"))
}
