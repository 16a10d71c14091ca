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
	"os"
	"time"
)

// DefaultSearchEndpoint is the Brave web search API.
const DefaultSearchEndpoint = "https://api.search.brave.com/res/v1/web/search"

// DefaultMaxOutputTokens caps the length of a generated answer.
const DefaultMaxOutputTokens = 1024

// ProvidersConfig configures the two paid provider adapters.
//
// Example:
//
//	providers:
//	  text_generation:
//	    model: gemini-2.0-flash
//	    api_key: ${GEMINI_API_KEY}
//	  web_search:
//	    api_key: ${BRAVE_SEARCH_API_KEY}
//	    max_results: 5
type ProvidersConfig struct {
	TextGeneration TextGenerationConfig `yaml:"text_generation,omitempty" json:"text_generation,omitempty" jsonschema:"title=Text Generation"`
	WebSearch      WebSearchConfig      `yaml:"web_search,omitempty" json:"web_search,omitempty" jsonschema:"title=Web Search"`
}

// TextGenerationConfig configures the Gemini adapter.
type TextGenerationConfig struct {
	// Model name.
	// Default: gemini-2.0-flash
	Model string `yaml:"model,omitempty" json:"model,omitempty" jsonschema:"title=Model,default=gemini-2.0-flash"`

	// APIKey for authentication. Supports ${VAR} expansion.
	// Falls back to GEMINI_API_KEY, then GOOGLE_API_KEY.
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty" jsonschema:"title=API Key,description=API key for authentication (use ${ENV_VAR})"`

	// Instruction is the assistant's system instruction.
	Instruction string `yaml:"instruction,omitempty" json:"instruction,omitempty" jsonschema:"title=Instruction"`

	// Temperature for generation (0.0 - 2.0).
	Temperature *float64 `yaml:"temperature,omitempty" json:"temperature,omitempty" jsonschema:"title=Temperature,minimum=0,maximum=2,default=0.7"`

	// MaxTokens limits response length.
	MaxTokens int `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty" jsonschema:"title=Max Tokens,minimum=1,default=1024"`

	// Timeout bounds a single generation call.
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty" jsonschema:"title=Timeout,type=string,default=60s"`
}

// WebSearchConfig configures the search adapter.
type WebSearchConfig struct {
	// Enabled turns on the retrieval step.
	// Default: true when an API key is available.
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty" jsonschema:"title=Enabled"`

	// Endpoint is the search API URL.
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty" jsonschema:"title=Endpoint,format=uri"`

	// APIKey falls back to BRAVE_SEARCH_API_KEY.
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty" jsonschema:"title=API Key"`

	// MaxResults per query.
	// Default: 5
	MaxResults int `yaml:"max_results,omitempty" json:"max_results,omitempty" jsonschema:"title=Max Results,minimum=1,maximum=20,default=5"`

	// MaxRetries on 429/5xx.
	// Default: 2
	MaxRetries int `yaml:"max_retries,omitempty" json:"max_retries,omitempty" jsonschema:"title=Max Retries,minimum=0,default=2"`

	// Timeout bounds a single search call including retries.
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty" jsonschema:"title=Timeout,type=string,default=10s"`

	// CACertificate is a PEM file trusted in addition to the system roots,
	// for egress through an inspecting proxy.
	CACertificate string `yaml:"ca_certificate,omitempty" json:"ca_certificate,omitempty" jsonschema:"title=CA Certificate"`

	// InsecureSkipVerify disables certificate checks (development only).
	InsecureSkipVerify bool `yaml:"insecure_skip_verify,omitempty" json:"insecure_skip_verify,omitempty" jsonschema:"title=Insecure Skip Verify,default=false"`
}

// SetDefaults applies default values to ProvidersConfig.
func (c *ProvidersConfig) SetDefaults() {
	c.TextGeneration.SetDefaults()
	c.WebSearch.SetDefaults()
}

// Validate checks the provider configuration.
func (c *ProvidersConfig) Validate() error {
	if err := c.TextGeneration.Validate(); err != nil {
		return fmt.Errorf("text_generation: %w", err)
	}
	if err := c.WebSearch.Validate(); err != nil {
		return fmt.Errorf("web_search: %w", err)
	}
	return nil
}

// SetDefaults applies default values to TextGenerationConfig.
func (c *TextGenerationConfig) SetDefaults() {
	if c.Model == "" {
		c.Model = "gemini-2.0-flash"
	}
	if c.APIKey == "" {
		c.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if c.APIKey == "" {
		c.APIKey = os.Getenv("GOOGLE_API_KEY")
	}
	if c.Temperature == nil {
		temp := 0.7
		c.Temperature = &temp
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = DefaultMaxOutputTokens
	}
	if c.Timeout == 0 {
		c.Timeout = 60 * time.Second
	}
	if c.Instruction == "" {
		c.Instruction = "You are the shopping assistant of a plant nursery. " +
			"Answer questions about plants, care and the products in the shop. Keep answers short."
	}
}

// Validate checks the text generation configuration. A missing API key is
// not an error here; the server refuses to start without one.
func (c *TextGenerationConfig) Validate() error {
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("max_tokens must be positive")
	}
	return nil
}

// SetDefaults applies default values to WebSearchConfig.
func (c *WebSearchConfig) SetDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = DefaultSearchEndpoint
	}
	if c.APIKey == "" {
		c.APIKey = os.Getenv("BRAVE_SEARCH_API_KEY")
	}
	if c.Enabled == nil {
		c.Enabled = BoolPtr(c.APIKey != "")
	}
	if c.MaxResults == 0 {
		c.MaxResults = 5
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
}

// Validate checks the web search configuration.
func (c *WebSearchConfig) Validate() error {
	if !c.IsEnabled() {
		return nil
	}
	if c.APIKey == "" {
		return fmt.Errorf("api_key is required when web search is enabled")
	}
	if c.MaxResults < 1 || c.MaxResults > 20 {
		return fmt.Errorf("max_results must be between 1 and 20, got %d", c.MaxResults)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative")
	}
	return nil
}

// IsEnabled reports whether the retrieval step runs.
func (c *WebSearchConfig) IsEnabled() bool {
	return c.Enabled != nil && *c.Enabled
}
