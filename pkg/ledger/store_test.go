package ledger

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/sprout/pkg/config"
	"github.com/kadirpekel/sprout/pkg/window"
)

func dailyKey(p Provider, id string) Key {
	return Key{Provider: p, Kind: window.Daily, Window: window.ID(id)}
}

func TestMemoryStore_IncrementAndPeek(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	key := dailyKey(WebSearch, "2026-10-15")

	v, err := s.Peek(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)
	assert.Equal(t, 0, s.Size(), "peek must not create a counter")

	v, err = s.IncrementAndGet(ctx, key, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)

	v, err = s.IncrementAndGet(ctx, key, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)

	v, err = s.Peek(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)
}

func TestMemoryStore_NegativeDelta(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.IncrementAndGet(context.Background(), dailyKey(TextGeneration, "2026-10-15"), -1)
	assert.ErrorIs(t, err, ErrNegativeDelta)
}

func TestMemoryStore_IncrementAll(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	keys := []Key{
		dailyKey(WebSearch, "2026-10-15"),
		{Provider: WebSearch, Kind: window.Monthly, Window: "2026-10"},
	}

	totals, err := s.IncrementAll(ctx, keys, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 2}, totals)

	_, err = s.IncrementAll(ctx, keys, -1)
	assert.ErrorIs(t, err, ErrNegativeDelta)

	require.NoError(t, s.Close())
	_, err = s.IncrementAll(ctx, keys, 1)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestMemoryStore_KeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.IncrementAndGet(ctx, dailyKey(TextGeneration, "2026-10-15"), 100)
	require.NoError(t, err)
	_, err = s.IncrementAndGet(ctx, dailyKey(TextGeneration, "2026-10-16"), 7)
	require.NoError(t, err)
	_, err = s.IncrementAndGet(ctx, Key{Provider: TextGeneration, Kind: window.Monthly, Window: "2026-10"}, 107)
	require.NoError(t, err)

	v, _ := s.Peek(ctx, dailyKey(TextGeneration, "2026-10-15"))
	assert.Equal(t, int64(100), v)
	v, _ = s.Peek(ctx, dailyKey(WebSearch, "2026-10-15"))
	assert.Equal(t, int64(0), v)

	entries := s.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "text_generation/daily/2026-10-15", entries[0].Key().String())
}

func TestMemoryStore_ConcurrentIncrementsAreExact(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	key := dailyKey(TextGeneration, "2026-10-15")

	const workers = 50
	const perWorker = 200

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(delta int64) {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				_, err := s.IncrementAndGet(ctx, key, delta)
				assert.NoError(t, err)
			}
		}(int64(i%3 + 1))
	}
	wg.Wait()

	var want int64
	for i := 0; i < workers; i++ {
		want += int64(i%3+1) * perWorker
	}
	v, err := s.Peek(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, want, v)
}

func TestMemoryStore_ClosedFailsClosed(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Close())

	_, err := s.Peek(ctx, dailyKey(WebSearch, "2026-10-15"))
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	_, err = s.IncrementAndGet(ctx, dailyKey(WebSearch, "2026-10-15"), 1)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestFileStore_SurvivesRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "usage.json")

	s, err := NewFileStore(path)
	require.NoError(t, err)

	_, err = s.IncrementAndGet(ctx, dailyKey(WebSearch, "2026-10-15"), 4)
	require.NoError(t, err)
	_, err = s.IncrementAndGet(ctx, Key{Provider: WebSearch, Kind: window.Monthly, Window: "2026-10"}, 4)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temporary file must be renamed away")

	reopened, err := NewFileStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	v, err := reopened.Peek(ctx, dailyKey(WebSearch, "2026-10-15"))
	require.NoError(t, err)
	assert.Equal(t, int64(4), v)

	v, err = reopened.IncrementAndGet(ctx, Key{Provider: WebSearch, Kind: window.Monthly, Window: "2026-10"}, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(5), v)
}

func TestFileStore_IncrementAllPersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "usage.json")
	monthly := Key{Provider: TextGeneration, Kind: window.Monthly, Window: "2026-10"}

	s, err := NewFileStore(path)
	require.NoError(t, err)
	totals, err := s.IncrementAll(ctx, []Key{dailyKey(TextGeneration, "2026-10-15"), monthly}, 120)
	require.NoError(t, err)
	assert.Equal(t, []int64{120, 120}, totals)

	// Read the file without closing the first store: the single write
	// already carries both counters.
	reopened, err := NewFileStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	v, err := reopened.Peek(ctx, monthly)
	require.NoError(t, err)
	assert.Equal(t, int64(120), v)
	v, err = reopened.Peek(ctx, dailyKey(TextGeneration, "2026-10-15"))
	require.NoError(t, err)
	assert.Equal(t, int64(120), v)
}

func TestFileStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := NewFileStore(path)
	assert.Error(t, err)
}

func TestFileStore_FlushFailureIsUnavailable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "usage.json")

	s, err := NewFileStore(path)
	require.NoError(t, err)

	// A directory where the temporary file should go makes the write fail.
	require.NoError(t, os.Mkdir(path+".tmp", 0o700))

	_, err = s.IncrementAndGet(context.Background(), dailyKey(WebSearch, "2026-10-15"), 1)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

type recordedOp struct {
	backend string
	op      string
	err     error
}

type fakeRecorder struct {
	mu  sync.Mutex
	ops []recordedOp
}

func (r *fakeRecorder) RecordLedgerOp(_ context.Context, backend, op string, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, recordedOp{backend: backend, op: op, err: err})
}

func TestInstrumented_RecordsOperations(t *testing.T) {
	ctx := context.Background()
	rec := &fakeRecorder{}
	mem := NewMemoryStore()
	s := NewInstrumented(mem, "memory", rec)

	_, err := s.IncrementAndGet(ctx, dailyKey(WebSearch, "2026-10-15"), 1)
	require.NoError(t, err)
	_, err = s.Peek(ctx, dailyKey(WebSearch, "2026-10-15"))
	require.NoError(t, err)

	require.NoError(t, mem.Close())
	_, err = s.Peek(ctx, dailyKey(WebSearch, "2026-10-15"))
	require.Error(t, err)

	require.Len(t, rec.ops, 3)
	assert.Equal(t, recordedOp{backend: "memory", op: "increment"}, rec.ops[0])
	assert.Equal(t, "peek", rec.ops[1].op)
	assert.True(t, errors.Is(rec.ops[2].err, ErrStoreUnavailable))

	inst, ok := s.(*Instrumented)
	require.True(t, ok)
	assert.Same(t, mem, inst.Unwrap())
}

func TestInstrumented_NilRecorderReturnsStore(t *testing.T) {
	mem := NewMemoryStore()
	assert.Same(t, Store(mem), NewInstrumented(mem, "memory", nil))
}

func TestNewStoreFromConfig(t *testing.T) {
	t.Run("default is memory", func(t *testing.T) {
		cfg := config.Default()
		s, err := NewStoreFromConfig(cfg, nil)
		require.NoError(t, err)
		assert.IsType(t, &MemoryStore{}, s)
	})

	t.Run("file", func(t *testing.T) {
		cfg := &config.Config{Ledger: config.LedgerConfig{
			Backend: config.LedgerBackendFile,
			Path:    filepath.Join(t.TempDir(), "usage.json"),
		}}
		cfg.SetDefaults()

		s, err := NewStoreFromConfig(cfg, nil)
		require.NoError(t, err)
		defer s.Close()
		assert.IsType(t, &FileStore{}, s)
	})

	t.Run("sql requires pool", func(t *testing.T) {
		cfg := &config.Config{
			Databases: map[string]*config.DatabaseConfig{
				"main": {Driver: "sqlite", Database: ":memory:"},
			},
			Ledger: config.LedgerConfig{Backend: config.LedgerBackendSQL, Database: "main"},
		}
		cfg.SetDefaults()

		_, err := NewStoreFromConfig(cfg, nil)
		assert.Error(t, err)
	})

	t.Run("sql through pool", func(t *testing.T) {
		cfg := &config.Config{
			Databases: map[string]*config.DatabaseConfig{
				"main": {Driver: "sqlite", Database: filepath.Join(t.TempDir(), "sprout.db")},
			},
			Ledger: config.LedgerConfig{Backend: config.LedgerBackendSQL, Database: "main"},
		}
		cfg.SetDefaults()

		pool := config.NewDBPool()
		defer pool.Close()

		s, err := NewStoreFromConfig(cfg, pool)
		require.NoError(t, err)
		require.IsType(t, &SQLStore{}, s)
		assert.Equal(t, "sqlite", s.(*SQLStore).Dialect())
	})

	t.Run("unknown backend", func(t *testing.T) {
		cfg := &config.Config{Ledger: config.LedgerConfig{Backend: "redis"}}
		_, err := NewStoreFromConfig(cfg, nil)
		assert.Error(t, err)
	})
}
