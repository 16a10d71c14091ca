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

package session

import (
	"errors"
	"fmt"
	"time"
)

// Common errors.
var (
	// ErrValidation is the parent of every *ValidationError.
	ErrValidation = errors.New("invalid message")

	// ErrNewSessionRequired is matched by every error that means the
	// client must open a new session.
	ErrNewSessionRequired = errors.New("a new chat session is required")

	ErrSessionExpired  error = &endedError{msg: "chat session expired"}
	ErrSessionClosed   error = &endedError{msg: "chat session closed"}
	ErrSessionNotFound error = &endedError{msg: "chat session not found"}

	// ErrAssistantUnavailable wraps an admission denial or a ledger failure.
	// The provider was not called.
	ErrAssistantUnavailable = errors.New("assistant temporarily unavailable")

	// ErrProviderFailed wraps a text generation failure.
	ErrProviderFailed = errors.New("assistant provider failed")

	// ErrRateLimited is the parent of *RateLimitError.
	ErrRateLimited = errors.New("too many messages")
)

type endedError struct {
	msg string
}

func (e *endedError) Error() string { return e.msg }

func (e *endedError) Unwrap() error { return ErrNewSessionRequired }

// ValidationKind names the per-message check that failed.
type ValidationKind string

const (
	KindEmptyMessage       ValidationKind = "empty_message"
	KindMessageTooLong     ValidationKind = "message_too_long"
	KindTooManyImages      ValidationKind = "too_many_images"
	KindFileTypeNotAllowed ValidationKind = "file_type_not_allowed"
	KindFileTooLarge       ValidationKind = "file_too_large"
)

// ValidationError rejects a message before any provider is contacted.
type ValidationError struct {
	Kind    ValidationKind
	Field   string
	Limit   int64
	Actual  int64
	Message string
}

// Error returns the validation error message.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Unwrap returns ErrValidation.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// RateLimitError is returned when a session sends faster than its
// per-minute allowance.
type RateLimitError struct {
	RetryAfter time.Duration
}

// Error returns the rate limit message.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("too many messages, retry in %s", e.RetryAfter.Round(time.Second))
}

// Unwrap returns ErrRateLimited.
func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}
