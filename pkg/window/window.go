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

// Package window resolves calendar accounting windows.
//
// A window is identified by an ID derived from its start instant in a fixed,
// configured time zone, so every process computing the same instant derives
// the same key regardless of the machine's local zone:
//
//	daily:   2026-10-15
//	monthly: 2026-10
//
// Rollover is detected by comparing IDs, never by timers.
package window

import (
	"fmt"
	"time"
)

// Kind is an accounting window length.
type Kind string

const (
	Daily   Kind = "daily"
	Monthly Kind = "monthly"
)

// Kinds lists every window kind in admission order.
var Kinds = []Kind{Daily, Monthly}

// ID identifies one concrete window of a Kind.
type ID string

// ParseKind converts a config string to a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case Daily, Monthly:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("unknown window kind %q (valid: daily, monthly)", s)
	}
}

// Resolver computes window boundaries in a fixed location.
type Resolver struct {
	loc *time.Location
}

// NewResolver creates a resolver for the named IANA time zone.
// An empty name means UTC.
func NewResolver(timeZone string) (*Resolver, error) {
	if timeZone == "" {
		timeZone = "UTC"
	}
	loc, err := time.LoadLocation(timeZone)
	if err != nil {
		return nil, fmt.Errorf("invalid time zone %q: %w", timeZone, err)
	}
	return &Resolver{loc: loc}, nil
}

// NewResolverIn creates a resolver for an already loaded location.
func NewResolverIn(loc *time.Location) *Resolver {
	if loc == nil {
		loc = time.UTC
	}
	return &Resolver{loc: loc}
}

// Location returns the resolver's time zone.
func (r *Resolver) Location() *time.Location {
	return r.loc
}

// WindowID returns the ID of the window of the given kind containing at.
func (r *Resolver) WindowID(kind Kind, at time.Time) ID {
	local := at.In(r.loc)
	switch kind {
	case Monthly:
		return ID(local.Format("2006-01"))
	default:
		return ID(local.Format("2006-01-02"))
	}
}

// Bounds returns the half-open interval [start, end) of the window
// containing at. Boundaries are calendar midnights in the resolver's zone,
// so a DST day is 23 or 25 hours long.
func (r *Resolver) Bounds(kind Kind, at time.Time) (start, end time.Time) {
	local := at.In(r.loc)
	y, m, d := local.Date()
	switch kind {
	case Monthly:
		start = time.Date(y, m, 1, 0, 0, 0, 0, r.loc)
		end = start.AddDate(0, 1, 0)
	default:
		start = time.Date(y, m, d, 0, 0, 0, 0, r.loc)
		end = start.AddDate(0, 0, 1)
	}
	return start, end
}

// TimeUntilRollover reports how long until the window containing at ends.
// Advisory only: admission never depends on it.
func (r *Resolver) TimeUntilRollover(kind Kind, at time.Time) time.Duration {
	_, end := r.Bounds(kind, at)
	return end.Sub(at)
}
