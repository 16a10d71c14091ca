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

// Package report builds the read-only admin view of provider usage.
package report

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/kadirpekel/sprout/pkg/governor"
	"github.com/kadirpekel/sprout/pkg/ledger"
	"github.com/kadirpekel/sprout/pkg/window"
)

// Row is one provider's usage in the current windows.
type Row struct {
	Provider ledger.Provider `json:"provider"`
	Unit     string          `json:"unit"`

	DailyWindow     window.ID `json:"daily_window"`
	DailyConsumed   int64     `json:"daily_consumed"`
	DailyCeiling    int64     `json:"daily_ceiling"`
	DailyResetsIn   Duration  `json:"daily_resets_in"`
	DailyResetsAt   time.Time `json:"daily_resets_at"`
	MonthlyWindow   window.ID `json:"monthly_window"`
	MonthlyConsumed int64     `json:"monthly_consumed"`
	MonthlyCeiling  int64     `json:"monthly_ceiling"`
	MonthlyResetsIn Duration  `json:"monthly_resets_in"`
	MonthlyResetsAt time.Time `json:"monthly_resets_at"`

	// WindowResetsIn is the time until the next daily rollover, the
	// soonest moment any ceiling can free up.
	WindowResetsIn Duration `json:"window_resets_in"`
}

// Table is a usage snapshot for every metered provider.
type Table struct {
	GeneratedAt time.Time `json:"generated_at"`
	TimeZone    string    `json:"time_zone"`
	Rows        []Row     `json:"providers"`
}

// Duration marshals as a Go duration string such as "11h59m0s".
type Duration time.Duration

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Reporter reads counters without ever changing them.
type Reporter struct {
	store    ledger.Store
	resolver *window.Resolver
	clock    window.Clock
	limits   governor.Limits
}

// New creates a Reporter that reads store with the governor's ceilings,
// window resolver and clock.
func New(store ledger.Store, gov *governor.Governor) *Reporter {
	return &Reporter{
		store:    store,
		resolver: gov.Resolver(),
		clock:    gov.Clock(),
		limits:   gov.Limits(),
	}
}

// Snapshot peeks every provider's current daily and monthly counters.
func (r *Reporter) Snapshot(ctx context.Context) (*Table, error) {
	now := r.clock.Now()
	table := &Table{
		GeneratedAt: now,
		TimeZone:    r.resolver.Location().String(),
		Rows:        make([]Row, 0, len(ledger.Providers)),
	}

	for _, p := range ledger.Providers {
		ceilings, ok := r.limits[p]
		if !ok {
			continue
		}

		row := Row{
			Provider:       p,
			Unit:           p.Unit(),
			DailyCeiling:   ceilings.Daily,
			MonthlyCeiling: ceilings.Monthly,
		}
		for _, kind := range window.Kinds {
			id := r.resolver.WindowID(kind, now)
			consumed, err := r.store.Peek(ctx, ledger.Key{Provider: p, Kind: kind, Window: id})
			if err != nil {
				return nil, fmt.Errorf("usage report for %s: %w", p, err)
			}
			_, end := r.resolver.Bounds(kind, now)
			resetsIn := Duration(r.resolver.TimeUntilRollover(kind, now))

			switch kind {
			case window.Daily:
				row.DailyWindow, row.DailyConsumed = id, consumed
				row.DailyResetsIn, row.DailyResetsAt = resetsIn, end
			case window.Monthly:
				row.MonthlyWindow, row.MonthlyConsumed = id, consumed
				row.MonthlyResetsIn, row.MonthlyResetsAt = resetsIn, end
			}
		}
		row.WindowResetsIn = row.DailyResetsIn
		table.Rows = append(table.Rows, row)
	}

	return table, nil
}

// Render writes the table as aligned text.
func (t *Table) Render(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Usage at %s (%s)\n\n", t.GeneratedAt.Format(time.RFC3339), t.TimeZone)
	fmt.Fprintln(tw, "PROVIDER\tDAILY\tRESETS IN\tMONTHLY\tRESETS IN")
	for _, row := range t.Rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			row.Provider,
			usage(row.DailyConsumed, row.DailyCeiling, row.Unit),
			time.Duration(row.DailyResetsIn).Round(time.Second),
			usage(row.MonthlyConsumed, row.MonthlyCeiling, row.Unit),
			time.Duration(row.MonthlyResetsIn).Round(time.Minute),
		)
	}
	return tw.Flush()
}

func usage(consumed, ceiling int64, unit string) string {
	pct := 0.0
	if ceiling > 0 {
		pct = float64(consumed) / float64(ceiling) * 100
	}
	return fmt.Sprintf("%d/%d %s (%.1f%%)", consumed, ceiling, unit, pct)
}
