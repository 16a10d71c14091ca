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

package ledger

import (
	"fmt"

	"github.com/kadirpekel/sprout/pkg/window"
)

// Provider identifies a paid external provider whose usage is metered.
type Provider string

const (
	// TextGeneration is metered in tokens.
	TextGeneration Provider = "text_generation"
	// WebSearch is metered in queries; one call is one unit.
	WebSearch Provider = "web_search"
)

// Providers lists every metered provider.
var Providers = []Provider{TextGeneration, WebSearch}

// Unit returns the metering unit name.
func (p Provider) Unit() string {
	switch p {
	case TextGeneration:
		return "tokens"
	case WebSearch:
		return "queries"
	default:
		return "units"
	}
}

// ParseProvider converts a config or URL string to a Provider.
func ParseProvider(s string) (Provider, error) {
	switch Provider(s) {
	case TextGeneration, WebSearch:
		return Provider(s), nil
	default:
		return "", fmt.Errorf("unknown provider %q (valid: text_generation, web_search)", s)
	}
}

// Key identifies a single usage counter.
type Key struct {
	Provider Provider
	Kind     window.Kind
	Window   window.ID
}

// String renders the key as provider/kind/window, which is also the
// persisted form used by the file and etcd backends.
func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Provider, k.Kind, k.Window)
}

// Entry is a counter and its current value.
type Entry struct {
	Provider Provider    `json:"provider"`
	Kind     window.Kind `json:"window_kind"`
	Window   window.ID   `json:"window_id"`
	Consumed int64       `json:"consumed"`
}

// Key returns the entry's counter key.
func (e Entry) Key() Key {
	return Key{Provider: e.Provider, Kind: e.Kind, Window: e.Window}
}
