package report

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/sprout/pkg/governor"
	"github.com/kadirpekel/sprout/pkg/ledger"
	"github.com/kadirpekel/sprout/pkg/window"
)

func newReporter(t *testing.T, zone string, at time.Time) (*Reporter, *governor.Governor, *ledger.MemoryStore) {
	t.Helper()

	res, err := window.NewResolver(zone)
	require.NoError(t, err)
	store := ledger.NewMemoryStore()
	gov, err := governor.New(store, res, governor.Limits{
		ledger.TextGeneration: {Daily: 1000, Monthly: 20000},
		ledger.WebSearch:      {Daily: 10, Monthly: 200},
	}, governor.WithClock(window.NewManualClock(at)))
	require.NoError(t, err)

	return New(store, gov), gov, store
}

func TestSnapshot(t *testing.T) {
	at := time.Date(2026, time.October, 15, 18, 30, 0, 0, time.UTC)
	r, gov, _ := newReporter(t, "UTC", at)
	ctx := context.Background()

	require.NoError(t, gov.Commit(ctx, ledger.TextGeneration, 250))
	require.NoError(t, gov.Commit(ctx, ledger.WebSearch, 1))

	table, err := r.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, "UTC", table.TimeZone)
	assert.Equal(t, at, table.GeneratedAt)

	text := table.Rows[0]
	assert.Equal(t, ledger.TextGeneration, text.Provider)
	assert.Equal(t, "tokens", text.Unit)
	assert.Equal(t, window.ID("2026-10-15"), text.DailyWindow)
	assert.Equal(t, int64(250), text.DailyConsumed)
	assert.Equal(t, int64(1000), text.DailyCeiling)
	assert.Equal(t, window.ID("2026-10"), text.MonthlyWindow)
	assert.Equal(t, int64(250), text.MonthlyConsumed)
	assert.Equal(t, int64(20000), text.MonthlyCeiling)
	assert.Equal(t, Duration(5*time.Hour+30*time.Minute), text.DailyResetsIn)
	assert.Equal(t, text.DailyResetsIn, text.WindowResetsIn)
	assert.Equal(t, time.Date(2026, time.November, 1, 0, 0, 0, 0, time.UTC), text.MonthlyResetsAt)
	assert.Equal(t, Duration(16*24*time.Hour+5*time.Hour+30*time.Minute), text.MonthlyResetsIn)

	search := table.Rows[1]
	assert.Equal(t, ledger.WebSearch, search.Provider)
	assert.Equal(t, int64(1), search.DailyConsumed)
	assert.Equal(t, int64(10), search.DailyCeiling)
}

func TestSnapshotUsesConfiguredZone(t *testing.T) {
	// 02:00 UTC on the 1st is still the previous day and month in New York.
	at := time.Date(2026, time.November, 1, 2, 0, 0, 0, time.UTC)
	r, _, _ := newReporter(t, "America/New_York", at)

	table, err := r.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", table.TimeZone)
	assert.Equal(t, window.ID("2026-10-31"), table.Rows[0].DailyWindow)
	assert.Equal(t, window.ID("2026-10"), table.Rows[0].MonthlyWindow)
	assert.Equal(t, Duration(2*time.Hour), table.Rows[0].DailyResetsIn)
}

func TestSnapshotNeverMutates(t *testing.T) {
	r, _, store := newReporter(t, "UTC", time.Date(2026, time.October, 15, 12, 0, 0, 0, time.UTC))

	for range 3 {
		_, err := r.Snapshot(context.Background())
		require.NoError(t, err)
	}
	assert.Zero(t, store.Size())
}

func TestSnapshotStoreUnavailable(t *testing.T) {
	r, _, store := newReporter(t, "UTC", time.Date(2026, time.October, 15, 12, 0, 0, 0, time.UTC))
	require.NoError(t, store.Close())

	_, err := r.Snapshot(context.Background())
	assert.ErrorIs(t, err, ledger.ErrStoreUnavailable)
}

func TestTableJSON(t *testing.T) {
	r, _, _ := newReporter(t, "UTC", time.Date(2026, time.October, 15, 12, 0, 0, 0, time.UTC))
	table, err := r.Snapshot(context.Background())
	require.NoError(t, err)

	data, err := json.Marshal(table)
	require.NoError(t, err)

	var decoded struct {
		Providers []struct {
			Provider       string `json:"provider"`
			WindowResetsIn string `json:"window_resets_in"`
		} `json:"providers"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded.Providers, 2)
	assert.Equal(t, "text_generation", decoded.Providers[0].Provider)
	assert.Equal(t, "12h0m0s", decoded.Providers[0].WindowResetsIn)
}

func TestRender(t *testing.T) {
	r, gov, _ := newReporter(t, "UTC", time.Date(2026, time.October, 15, 12, 0, 0, 0, time.UTC))
	require.NoError(t, gov.Commit(context.Background(), ledger.TextGeneration, 500))

	table, err := r.Snapshot(context.Background())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, table.Render(&buf))
	out := buf.String()
	assert.Contains(t, out, "text_generation")
	assert.Contains(t, out, "500/1000 tokens (50.0%)")
	assert.Contains(t, out, "0/10 queries (0.0%)")
}
