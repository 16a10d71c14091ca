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

// Package governor meters calls to the paid providers against daily and
// monthly ceilings.
//
// Usage is two-phase. Reserve checks admission against an estimate and
// never touches the ledger; the caller then invokes the provider and
// Commits the cost the provider actually reported. Cost is charged at
// commit time to the windows current at that moment, so a call abandoned
// before commit is never charged and a call that straddles midnight lands
// in the new day.
//
// Admission reads are not exclusive with commits. Two callers may both be
// admitted against the same headroom; the overshoot is bounded by the
// calls in flight.
package governor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kadirpekel/sprout/pkg/config"
	"github.com/kadirpekel/sprout/pkg/ledger"
	"github.com/kadirpekel/sprout/pkg/window"
)

// Governor enforces usage ceilings over a ledger.Store.
type Governor struct {
	store    ledger.Store
	resolver *window.Resolver
	clock    window.Clock
	limits   Limits
	recorder Recorder
}

// Option configures a Governor.
type Option func(*Governor)

// WithClock replaces the system clock.
func WithClock(c window.Clock) Option {
	return func(g *Governor) {
		g.clock = c
	}
}

// WithRecorder reports decisions and commits to r.
func WithRecorder(r Recorder) Option {
	return func(g *Governor) {
		g.recorder = r
	}
}

// New creates a Governor. limits must cover every ledger.Provider.
func New(store ledger.Store, resolver *window.Resolver, limits Limits, opts ...Option) (*Governor, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if resolver == nil {
		return nil, fmt.Errorf("window resolver is required")
	}
	if err := limits.Validate(); err != nil {
		return nil, fmt.Errorf("invalid limits: %w", err)
	}

	g := &Governor{
		store:    store,
		resolver: resolver,
		clock:    window.SystemClock{},
		limits:   limits,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// NewFromConfig builds a Governor from the quotas section.
func NewFromConfig(cfg config.QuotaConfig, store ledger.Store, opts ...Option) (*Governor, error) {
	resolver, err := window.NewResolver(cfg.TimeZone)
	if err != nil {
		return nil, err
	}
	return New(store, resolver, LimitsFromConfig(cfg), opts...)
}

// Limits returns a copy of the configured ceilings.
func (g *Governor) Limits() Limits {
	out := make(Limits, len(g.limits))
	for p, c := range g.limits {
		out[p] = c
	}
	return out
}

// Resolver returns the window resolver.
func (g *Governor) Resolver() *window.Resolver {
	return g.resolver
}

// Clock returns the governor's clock.
func (g *Governor) Clock() window.Clock {
	return g.clock
}

// Reserve is the first phase of a metered call: it checks admission for
// estimatedCost and changes nothing. A non-positive estimate counts as one
// unit.
func (g *Governor) Reserve(ctx context.Context, provider ledger.Provider, estimatedCost int64) (Decision, error) {
	return g.CheckAdmission(ctx, provider, estimatedCost)
}

// CheckAdmission evaluates the daily window, then the monthly window, and
// denies on the first one that consumed+estimatedCost would push past its
// ceiling. Reaching a ceiling exactly is allowed.
//
// A store failure denies the call and returns an error wrapping
// ledger.ErrStoreUnavailable.
func (g *Governor) CheckAdmission(ctx context.Context, provider ledger.Provider, estimatedCost int64) (Decision, error) {
	ceilings, ok := g.limits[provider]
	if !ok {
		return Decision{Provider: provider}, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	if estimatedCost <= 0 {
		estimatedCost = 1
	}

	now := g.clock.Now()
	d := Decision{
		Provider:  provider,
		Estimated: estimatedCost,
	}

	// No amount of headroom admits a call larger than a ceiling.
	for _, kind := range window.Kinds {
		if ceiling := ceilings.For(kind); estimatedCost > ceiling {
			d.Reason = ReasonCostTooLarge
			d.Window = kind
			d.WindowID = g.resolver.WindowID(kind, now)
			d.Ceiling = ceiling
			d.Overshoot = estimatedCost - ceiling
			g.deny(ctx, d)
			return d, nil
		}
	}

	for _, kind := range window.Kinds {
		id := g.resolver.WindowID(kind, now)
		key := ledger.Key{Provider: provider, Kind: kind, Window: id}

		consumed, err := g.store.Peek(ctx, key)
		if err != nil {
			d.Reason = ReasonStoreUnavailable
			d.Window = kind
			d.WindowID = id
			slog.Error("Usage ledger read failed, denying call",
				"provider", provider, "window", kind, "window_id", id, "error", err)
			g.record(ctx, d)
			return d, fmt.Errorf("admission check for %s: %w", provider, err)
		}

		ceiling := ceilings.For(kind)
		if consumed+estimatedCost > ceiling {
			d.Reason = exceededReason(kind)
			d.Window = kind
			d.WindowID = id
			d.Consumed = consumed
			d.Ceiling = ceiling
			d.Overshoot = consumed + estimatedCost - ceiling
			d.RetryAfter = g.resolver.TimeUntilRollover(kind, now)
			g.deny(ctx, d)
			return d, nil
		}
	}

	d.Admitted = true
	d.Reason = ReasonAdmitted
	g.record(ctx, d)
	return d, nil
}

// Commit is the second phase: it adds actualCost to the daily and monthly
// windows current at commit time. Both windows are written as one unit, so
// a failed commit leaves neither charged. A zero cost is a no-op.
func (g *Governor) Commit(ctx context.Context, provider ledger.Provider, actualCost int64) error {
	if _, ok := g.limits[provider]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	if actualCost < 0 {
		return fmt.Errorf("%w: %d", ErrNegativeCost, actualCost)
	}
	if actualCost == 0 {
		return nil
	}

	now := g.clock.Now()
	keys := make([]ledger.Key, 0, len(window.Kinds))
	for _, kind := range window.Kinds {
		keys = append(keys, ledger.Key{Provider: provider, Kind: kind, Window: g.resolver.WindowID(kind, now)})
	}

	totals, err := g.store.IncrementAll(ctx, keys, actualCost)
	if err != nil {
		slog.Error("Usage commit failed",
			"provider", provider, "keys", keys, "cost", actualCost, "error", err)
		return fmt.Errorf("commit %d %s for %s: %w", actualCost, provider.Unit(), provider, err)
	}
	for i, key := range keys {
		slog.Debug("Usage committed", "key", key.String(), "cost", actualCost, "total", totals[i])
	}

	if g.recorder != nil {
		g.recorder.RecordCommit(ctx, string(provider), actualCost)
	}
	return nil
}

// Remaining returns the headroom left in the current windows.
func (g *Governor) Remaining(ctx context.Context, provider ledger.Provider) (Remaining, error) {
	ceilings, ok := g.limits[provider]
	if !ok {
		return Remaining{}, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}

	now := g.clock.Now()
	var out Remaining
	for _, kind := range window.Kinds {
		key := ledger.Key{Provider: provider, Kind: kind, Window: g.resolver.WindowID(kind, now)}
		consumed, err := g.store.Peek(ctx, key)
		if err != nil {
			return Remaining{}, fmt.Errorf("remaining for %s: %w", provider, err)
		}
		left := max(ceilings.For(kind)-consumed, 0)
		if kind == window.Monthly {
			out.Monthly = left
		} else {
			out.Daily = left
		}
	}
	return out, nil
}

func (g *Governor) deny(ctx context.Context, d Decision) {
	slog.Info("Usage admission denied",
		"provider", d.Provider,
		"reason", d.Reason,
		"window", d.Window,
		"window_id", d.WindowID,
		"consumed", d.Consumed,
		"ceiling", d.Ceiling,
		"estimated", d.Estimated,
		"overshoot", d.Overshoot,
	)
	g.record(ctx, d)
}

func (g *Governor) record(ctx context.Context, d Decision) {
	if g.recorder != nil {
		g.recorder.RecordDecision(ctx, string(d.Provider), string(d.Reason))
	}
}
