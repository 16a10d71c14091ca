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

package server

import (
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/kadirpekel/sprout/pkg/governor"
	"github.com/kadirpekel/sprout/pkg/ledger"
	"github.com/kadirpekel/sprout/pkg/session"
)

// problem is the JSON error body.
type problem struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Field      string `json:"field,omitempty"`
	Limit      int64  `json:"limit,omitempty"`
	Actual     int64  `json:"actual,omitempty"`
	RetryAfter int64  `json:"retry_after_seconds,omitempty"`

	retryAfter time.Duration
}

type errorBody struct {
	Error problem `json:"error"`
}

// classify maps a domain error to a status code and a client-safe body.
// Provider and ledger details stay in the logs.
func classify(err error) (int, problem) {
	var (
		ve *session.ValidationError
		rl *session.RateLimitError
	)

	switch {
	case errors.As(err, &ve):
		return http.StatusUnprocessableEntity, problem{
			Code:    string(ve.Kind),
			Message: ve.Message,
			Field:   ve.Field,
			Limit:   ve.Limit,
			Actual:  ve.Actual,
		}

	case errors.Is(err, session.ErrSessionNotFound):
		return http.StatusGone, problem{Code: "session_not_found", Message: err.Error()}
	case errors.Is(err, session.ErrSessionExpired):
		return http.StatusGone, problem{Code: "session_expired", Message: err.Error()}
	case errors.Is(err, session.ErrNewSessionRequired):
		return http.StatusGone, problem{Code: "session_closed", Message: err.Error()}

	case errors.As(err, &rl):
		return http.StatusTooManyRequests, problem{
			Code:       "rate_limited",
			Message:    "too many messages, slow down",
			retryAfter: rl.RetryAfter,
		}

	case errors.Is(err, governor.ErrQuotaExceeded):
		return http.StatusServiceUnavailable, problem{
			Code:       "quota_exceeded",
			Message:    session.ErrAssistantUnavailable.Error(),
			retryAfter: governor.RetryAfter(err),
		}
	case errors.Is(err, ledger.ErrStoreUnavailable), errors.Is(err, session.ErrAssistantUnavailable):
		return http.StatusServiceUnavailable, problem{
			Code:    "assistant_unavailable",
			Message: session.ErrAssistantUnavailable.Error(),
		}

	case errors.Is(err, session.ErrProviderFailed):
		return http.StatusBadGateway, problem{
			Code:    "provider_failed",
			Message: "the assistant could not answer, please try again",
		}

	default:
		return http.StatusInternalServerError, problem{Code: "internal", Message: "internal error"}
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, p := classify(err)

	attrs := []any{
		"status", status,
		"code", p.Code,
		"request_id", middleware.GetReqID(r.Context()),
		"error", err,
	}
	switch {
	case status >= 500:
		slog.Error("Request failed", attrs...)
	case status == http.StatusTooManyRequests:
		slog.Info("Request rate limited", attrs...)
	default:
		slog.Debug("Request rejected", attrs...)
	}

	writeProblem(w, status, p)
}

func writeProblem(w http.ResponseWriter, status int, p problem) {
	if p.retryAfter > 0 {
		secs := int64(math.Ceil(p.retryAfter.Seconds()))
		p.RetryAfter = secs
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	writeJSON(w, status, errorBody{Error: p})
}
