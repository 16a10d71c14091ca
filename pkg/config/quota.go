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

package config

import (
	"fmt"
	"time"
)

// Default usage ceilings.
const (
	DefaultDailyTokenCeiling    int64 = 200_000
	DefaultMonthlyTokenCeiling  int64 = 4_000_000
	DefaultDailySearchCeiling   int64 = 100
	DefaultMonthlySearchCeiling int64 = 2_000
	DefaultQuotaTimeZone              = "UTC"
)

// QuotaConfig holds the daily and monthly ceiling for each metered provider
// and the zone in which windows roll over.
//
// Example:
//
//	quotas:
//	  time_zone: Europe/Amsterdam
//	  text_generation:
//	    daily: 200000
//	    monthly: 4000000
//	  web_search:
//	    daily: 100
//	    monthly: 2000
type QuotaConfig struct {
	// TimeZone is an IANA zone name. Window IDs are derived in this zone,
	// never in the machine's local zone.
	// Default: UTC
	TimeZone string `yaml:"time_zone,omitempty" json:"time_zone,omitempty" jsonschema:"title=Time Zone,description=IANA zone used for daily and monthly rollover,default=UTC"`

	// TextGeneration ceilings are in tokens.
	TextGeneration CeilingConfig `yaml:"text_generation,omitempty" json:"text_generation,omitempty" jsonschema:"title=Text Generation Ceilings,description=Token ceilings"`

	// WebSearch ceilings are in queries.
	WebSearch CeilingConfig `yaml:"web_search,omitempty" json:"web_search,omitempty" jsonschema:"title=Web Search Ceilings,description=Query ceilings"`
}

// CeilingConfig is a pair of window ceilings.
type CeilingConfig struct {
	Daily   int64 `yaml:"daily,omitempty" json:"daily,omitempty" jsonschema:"title=Daily Ceiling,minimum=1"`
	Monthly int64 `yaml:"monthly,omitempty" json:"monthly,omitempty" jsonschema:"title=Monthly Ceiling,minimum=1"`
}

// SetDefaults applies default values to QuotaConfig.
func (c *QuotaConfig) SetDefaults() {
	if c.TimeZone == "" {
		c.TimeZone = DefaultQuotaTimeZone
	}
	if c.TextGeneration.Daily == 0 {
		c.TextGeneration.Daily = DefaultDailyTokenCeiling
	}
	if c.TextGeneration.Monthly == 0 {
		c.TextGeneration.Monthly = DefaultMonthlyTokenCeiling
	}
	if c.WebSearch.Daily == 0 {
		c.WebSearch.Daily = DefaultDailySearchCeiling
	}
	if c.WebSearch.Monthly == 0 {
		c.WebSearch.Monthly = DefaultMonthlySearchCeiling
	}
}

// Validate checks the quota configuration.
func (c *QuotaConfig) Validate() error {
	if _, err := time.LoadLocation(c.TimeZone); err != nil {
		return fmt.Errorf("invalid time_zone %q: %w", c.TimeZone, err)
	}
	if err := c.TextGeneration.Validate(); err != nil {
		return fmt.Errorf("text_generation: %w", err)
	}
	if err := c.WebSearch.Validate(); err != nil {
		return fmt.Errorf("web_search: %w", err)
	}
	return nil
}

// Validate checks a ceiling pair.
func (c *CeilingConfig) Validate() error {
	if c.Daily <= 0 {
		return fmt.Errorf("daily must be positive, got %d", c.Daily)
	}
	if c.Monthly <= 0 {
		return fmt.Errorf("monthly must be positive, got %d", c.Monthly)
	}
	if c.Daily > c.Monthly {
		return fmt.Errorf("daily (%d) must not exceed monthly (%d)", c.Daily, c.Monthly)
	}
	return nil
}

// Ceilings returns the ceilings for a provider name, or false if the
// provider is not metered.
func (c *QuotaConfig) Ceilings(provider string) (CeilingConfig, bool) {
	switch provider {
	case "text_generation":
		return c.TextGeneration, true
	case "web_search":
		return c.WebSearch, true
	default:
		return CeilingConfig{}, false
	}
}
