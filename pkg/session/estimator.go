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
	"context"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/kadirpekel/sprout/pkg/config"
	"github.com/kadirpekel/sprout/pkg/httpclient"
)

// Estimator predicts the input token count of a text before the provider
// is called. It only has to be close: the provider's reported usage is
// what gets committed.
type Estimator interface {
	Estimate(text string) int64
}

// HeuristicEstimator assumes four characters per token.
type HeuristicEstimator struct{}

// Estimate returns ceil(runes / 4).
func (HeuristicEstimator) Estimate(text string) int64 {
	n := utf8.RuneCountInString(text)
	return int64((n + 3) / 4)
}

// TiktokenEstimator counts tokens with a BPE encoding. Gemini uses its own
// tokenizer; cl100k_base is within a few percent for English text.
type TiktokenEstimator struct {
	mu       sync.Mutex
	encoding *tiktoken.Tiktoken
}

// NewTiktokenEstimator loads the named encoding, e.g. "cl100k_base", through
// whatever rank loader tiktoken is currently configured with.
func NewTiktokenEstimator(encoding string) (*TiktokenEstimator, error) {
	if encoding == "" {
		encoding = config.DefaultTokenizerEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to get encoding %s: %w", encoding, err)
	}
	return &TiktokenEstimator{encoding: enc}, nil
}

// Estimate returns the token count of text.
func (e *TiktokenEstimator) Estimate(text string) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return int64(len(e.encoding.Encode(text, nil, nil)))
}

// NewDefaultEstimator prefers tiktoken and falls back to the heuristic when
// the ranks cannot be found locally or fetched within the configured
// timeout.
func NewDefaultEstimator(cfg config.TokenizerConfig) Estimator {
	cfg.SetDefaults()
	tiktoken.SetBpeLoader(NewRankLoader(cfg))

	start := time.Now()
	e, err := NewTiktokenEstimator(cfg.Encoding)
	if err != nil {
		slog.Warn("Tokenizer unavailable, estimating four characters per token",
			"encoding", cfg.Encoding, "error", err)
		return HeuristicEstimator{}
	}
	slog.Debug("Tokenizer loaded", "encoding", cfg.Encoding, "took", time.Since(start))
	return e
}

// RankLoader resolves BPE rank files for tiktoken. It looks in the
// configured directory, then in tiktoken's download cache, and downloads
// only when allowed and within a deadline.
type RankLoader struct {
	dir      string
	download bool
	timeout  time.Duration
	client   *httpclient.Client
}

// NewRankLoader builds a RankLoader from defaulted configuration.
func NewRankLoader(cfg config.TokenizerConfig) *RankLoader {
	return &RankLoader{
		dir:      cfg.Dir,
		download: cfg.DownloadEnabled(),
		timeout:  cfg.DownloadTimeout,
		client:   httpclient.New(httpclient.WithMaxRetries(1)),
	}
}

// LoadTiktokenBpe implements tiktoken.BpeLoader.
func (l *RankLoader) LoadTiktokenBpe(url string) (map[string]int, error) {
	for _, p := range l.localPaths(url) {
		data, err := os.ReadFile(p)
		if err == nil {
			return parseRanks(data)
		}
	}
	if !l.download {
		return nil, fmt.Errorf("no local copy of %s and downloads are disabled", path.Base(url))
	}

	data, err := l.fetch(url)
	if err != nil {
		return nil, err
	}
	ranks, err := parseRanks(data)
	if err != nil {
		return nil, err
	}
	if err := writeAtomic(l.cachePath(url), data); err != nil {
		slog.Debug("Could not cache tokenizer ranks", "error", err)
	}
	return ranks, nil
}

func (l *RankLoader) fetch(url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, fmt.Errorf("download %s: %w", path.Base(url), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download %s: status %d", path.Base(url), resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", path.Base(url), err)
	}
	return data, nil
}

func (l *RankLoader) localPaths(url string) []string {
	var out []string
	if l.dir != "" {
		out = append(out, filepath.Join(l.dir, path.Base(url)))
	}
	return append(out, l.cachePath(url))
}

// cachePath is where tiktoken itself caches a downloaded file, so ranks
// fetched by either loader are found by both.
func (l *RankLoader) cachePath(url string) string {
	dir := os.Getenv("TIKTOKEN_CACHE_DIR")
	if dir == "" {
		dir = os.Getenv("DATA_GYM_CACHE_DIR")
	}
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "data-gym-cache")
	}
	return filepath.Join(dir, fmt.Sprintf("%x", sha1.Sum([]byte(url))))
}

// parseRanks reads "<base64 token> <rank>" lines.
func parseRanks(data []byte) (map[string]int, error) {
	ranks := make(map[string]int)
	for i, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 2 {
			return nil, fmt.Errorf("rank file line %d: expected token and rank", i+1)
		}
		token, err := base64.StdEncoding.DecodeString(fields[0])
		if err != nil {
			return nil, fmt.Errorf("rank file line %d: %w", i+1, err)
		}
		rank, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("rank file line %d: %w", i+1, err)
		}
		ranks[string(token)] = rank
	}
	if len(ranks) == 0 {
		return nil, fmt.Errorf("rank file is empty")
	}
	return ranks, nil
}

func writeAtomic(name string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return err
	}
	tmp := name + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, name); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

var _ tiktoken.BpeLoader = (*RankLoader)(nil)
