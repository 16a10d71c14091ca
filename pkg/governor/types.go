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

package governor

import (
	"context"
	"fmt"
	"time"

	"github.com/kadirpekel/sprout/pkg/config"
	"github.com/kadirpekel/sprout/pkg/ledger"
	"github.com/kadirpekel/sprout/pkg/window"
)

// Reason explains an admission decision.
type Reason string

const (
	ReasonAdmitted         Reason = "admitted"
	ReasonDailyExceeded    Reason = "daily_exceeded"
	ReasonMonthlyExceeded  Reason = "monthly_exceeded"
	ReasonCostTooLarge     Reason = "cost_too_large"
	ReasonStoreUnavailable Reason = "store_unavailable"
)

func exceededReason(kind window.Kind) Reason {
	if kind == window.Monthly {
		return ReasonMonthlyExceeded
	}
	return ReasonDailyExceeded
}

// Ceilings are the window limits of one provider.
type Ceilings struct {
	Daily   int64 `json:"daily"`
	Monthly int64 `json:"monthly"`
}

// For returns the ceiling for kind.
func (c Ceilings) For(kind window.Kind) int64 {
	if kind == window.Monthly {
		return c.Monthly
	}
	return c.Daily
}

// Limits maps each metered provider to its ceilings.
type Limits map[ledger.Provider]Ceilings

// LimitsFromConfig converts the quotas section.
func LimitsFromConfig(cfg config.QuotaConfig) Limits {
	return Limits{
		ledger.TextGeneration: {Daily: cfg.TextGeneration.Daily, Monthly: cfg.TextGeneration.Monthly},
		ledger.WebSearch:      {Daily: cfg.WebSearch.Daily, Monthly: cfg.WebSearch.Monthly},
	}
}

// Validate requires positive ceilings for every known provider.
func (l Limits) Validate() error {
	for _, p := range ledger.Providers {
		c, ok := l[p]
		if !ok {
			return fmt.Errorf("no ceilings for provider %s", p)
		}
		if c.Daily <= 0 || c.Monthly <= 0 {
			return fmt.Errorf("%s ceilings must be positive (daily=%d, monthly=%d)", p, c.Daily, c.Monthly)
		}
	}
	return nil
}

// Decision is the outcome of an admission check.
type Decision struct {
	Provider  ledger.Provider `json:"provider"`
	Admitted  bool            `json:"admitted"`
	Reason    Reason          `json:"reason"`
	Estimated int64           `json:"estimated"`

	// The fields below describe the violated window of a denial.
	Window     window.Kind   `json:"window,omitempty"`
	WindowID   window.ID     `json:"window_id,omitempty"`
	Consumed   int64         `json:"consumed,omitempty"`
	Ceiling    int64         `json:"ceiling,omitempty"`
	Overshoot  int64         `json:"overshoot,omitempty"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// Err converts a ceiling denial into a *QuotaExceededError. It returns nil
// for admitted decisions and for ReasonStoreUnavailable, whose error is
// returned alongside the decision instead.
func (d Decision) Err() error {
	switch d.Reason {
	case ReasonDailyExceeded, ReasonMonthlyExceeded, ReasonCostTooLarge:
		return &QuotaExceededError{
			Provider:   d.Provider,
			Reason:     d.Reason,
			Window:     d.Window,
			Consumed:   d.Consumed,
			Ceiling:    d.Ceiling,
			Requested:  d.Estimated,
			Overshoot:  d.Overshoot,
			RetryAfter: d.RetryAfter,
		}
	default:
		return nil
	}
}

// Remaining is the headroom left in each window, clamped at zero.
type Remaining struct {
	Daily   int64 `json:"daily"`
	Monthly int64 `json:"monthly"`
}

// Recorder receives governor outcomes for metrics.
type Recorder interface {
	RecordDecision(ctx context.Context, provider string, reason string)
	RecordCommit(ctx context.Context, provider string, units int64)
}
