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
	"errors"
	"fmt"
	"time"

	"github.com/kadirpekel/sprout/pkg/ledger"
	"github.com/kadirpekel/sprout/pkg/window"
)

// Common errors.
var (
	// ErrQuotaExceeded is returned when a call would cross a ceiling.
	ErrQuotaExceeded = errors.New("usage quota exceeded")

	// ErrUnknownProvider is returned for a provider with no ceilings.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrNegativeCost is returned when Commit is given a negative cost.
	ErrNegativeCost = errors.New("usage cost must not be negative")
)

// QuotaExceededError describes a denial caused by a ceiling.
type QuotaExceededError struct {
	Provider  ledger.Provider
	Reason    Reason
	Window    window.Kind
	Consumed  int64
	Ceiling   int64
	Requested int64
	Overshoot int64

	// RetryAfter is the time until the violated window rolls over. It is
	// zero for ReasonCostTooLarge, which no amount of waiting fixes.
	RetryAfter time.Duration
}

// Error returns the error message.
func (e *QuotaExceededError) Error() string {
	if e.Reason == ReasonCostTooLarge {
		return fmt.Sprintf("%s: estimated cost %d %s exceeds the %s ceiling of %d",
			e.Provider, e.Requested, e.Provider.Unit(), e.Window, e.Ceiling)
	}
	return fmt.Sprintf("%s %s quota exceeded: %d/%d %s used, request of %d would overshoot by %d",
		e.Provider, e.Window, e.Consumed, e.Ceiling, e.Provider.Unit(), e.Requested, e.Overshoot)
}

// Unwrap returns ErrQuotaExceeded.
func (e *QuotaExceededError) Unwrap() error {
	return ErrQuotaExceeded
}

// IsQuotaExceeded reports whether err is a quota denial.
func IsQuotaExceeded(err error) bool {
	return errors.Is(err, ErrQuotaExceeded)
}

// RetryAfter extracts the retry hint from a quota error, or zero.
func RetryAfter(err error) time.Duration {
	var qe *QuotaExceededError
	if errors.As(err, &qe) {
		return qe.RetryAfter
	}
	return 0
}
