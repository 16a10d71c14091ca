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

// Package websearch adapts the Brave Search API to session.Searcher.
package websearch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kadirpekel/sprout/pkg/config"
	"github.com/kadirpekel/sprout/pkg/httpclient"
	"github.com/kadirpekel/sprout/pkg/session"
)

const maxResponseSize = 2 << 20

// ErrUnauthorized is returned when the API key is rejected.
var ErrUnauthorized = errors.New("web search API key rejected")

// StatusError is a non-2xx answer from the search API.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("web search failed: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("web search failed: HTTP %d: %s", e.StatusCode, e.Body)
}

// Config configures the Brave adapter.
type Config struct {
	Endpoint   string
	APIKey     string
	MaxResults int
	MaxRetries int
	Timeout    time.Duration
	TLS        *httpclient.TLSConfig
}

// FromConfig maps the web_search config section.
func FromConfig(cfg config.WebSearchConfig) Config {
	c := Config{
		Endpoint:   cfg.Endpoint,
		APIKey:     cfg.APIKey,
		MaxResults: cfg.MaxResults,
		MaxRetries: cfg.MaxRetries,
		Timeout:    cfg.Timeout,
	}
	if cfg.CACertificate != "" || cfg.InsecureSkipVerify {
		c.TLS = &httpclient.TLSConfig{
			CACertificate:      cfg.CACertificate,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
		}
	}
	return c
}

// Brave implements session.Searcher.
type Brave struct {
	config Config
	client *httpclient.Client
}

var _ session.Searcher = (*Brave)(nil)

// New creates a Brave adapter. Extra options are applied to the underlying
// retrying client.
func New(cfg Config, opts ...httpclient.Option) (*Brave, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = config.DefaultSearchEndpoint
	}
	if _, err := url.Parse(cfg.Endpoint); err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	base := []httpclient.Option{
		httpclient.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		httpclient.WithMaxRetries(cfg.MaxRetries),
		httpclient.WithHeaderParser(httpclient.ParseBraveHeaders),
		httpclient.WithTLSConfig(cfg.TLS),
	}

	return &Brave{
		config: cfg,
		client: httpclient.New(append(base, opts...)...),
	}, nil
}

type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

// Search runs one query. Each call is one billable query, retries included.
func (b *Brave) Search(ctx context.Context, query string) ([]session.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("empty search query")
	}

	ctx, cancel := context.WithTimeout(ctx, b.config.Timeout)
	defer cancel()

	u, _ := url.Parse(b.config.Endpoint)
	q := u.Query()
	q.Set("q", truncate(query, 400))
	q.Set("count", strconv.Itoa(b.config.MaxResults))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", b.config.APIKey)

	resp, err := b.client.Do(req)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("web search request failed: %w", err)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(body), 200)}
	}

	var parsed braveResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	results := make([]session.SearchResult, 0, len(parsed.Web.Results))
	for _, r := range parsed.Web.Results {
		if len(results) == b.config.MaxResults {
			break
		}
		results = append(results, session.SearchResult{
			Title:   stripTags.Replace(r.Title),
			URL:     r.URL,
			Snippet: stripTags.Replace(r.Description),
		})
	}
	return results, nil
}

// Brave highlights query terms inline.
var stripTags = strings.NewReplacer("<strong>", "", "</strong>", "")

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
