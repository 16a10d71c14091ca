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

package httpclient

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ParseRetryAfter reads a Retry-After header in either delta-seconds or
// HTTP-date form.
func ParseRetryAfter(headers http.Header) RateLimitInfo {
	return RateLimitInfo{RetryAfter: retryAfter(headers.Get("Retry-After"), time.Now())}
}

func retryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(v); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// ParseBraveHeaders reads Brave Search rate limit headers. Brave reports one
// comma-separated entry per policy window, shortest first:
//
//	X-RateLimit-Remaining: 0, 14999
//	X-RateLimit-Reset: 1, 1419704
//
// The wait is the reset of the first exhausted window. Retry-After wins when
// present.
func ParseBraveHeaders(headers http.Header) RateLimitInfo {
	info := ParseRetryAfter(headers)

	remaining := splitInts(headers.Get("X-RateLimit-Remaining"))
	resets := splitInts(headers.Get("X-RateLimit-Reset"))
	if len(remaining) > 0 {
		info.Remaining = remaining[0]
	}
	if info.RetryAfter > 0 {
		return info
	}

	for i, left := range remaining {
		if left > 0 || i >= len(resets) {
			continue
		}
		info.Remaining = 0
		info.RetryAfter = time.Duration(resets[i]) * time.Second
		break
	}
	return info
}

func splitInts(v string) []int {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return out
		}
		out = append(out, n)
	}
	return out
}
