package session

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/sprout/pkg/config"
)

const ranksURL = "https://openaipublic.blob.core.windows.net/encodings/cl100k_base.tiktoken"

// "aGk=" is "hi", "dGhlcmU=" is "there".
const tinyRanks = "aGk= 0\ndGhlcmU= 1\n"

func tokenizerConfig(t *testing.T, dir string, download bool, timeout time.Duration) config.TokenizerConfig {
	t.Helper()
	t.Setenv("TIKTOKEN_CACHE_DIR", t.TempDir())
	cfg := config.TokenizerConfig{Dir: dir, Download: config.BoolPtr(download), DownloadTimeout: timeout}
	cfg.SetDefaults()
	return cfg
}

func TestRankLoader_ReadsLocalDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cl100k_base.tiktoken"), []byte(tinyRanks), 0o600))

	l := NewRankLoader(tokenizerConfig(t, dir, false, time.Second))
	ranks, err := l.LoadTiktokenBpe(ranksURL)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"hi": 0, "there": 1}, ranks)
}

func TestRankLoader_OfflineWithoutCopy(t *testing.T) {
	l := NewRankLoader(tokenizerConfig(t, t.TempDir(), false, time.Second))
	_, err := l.LoadTiktokenBpe(ranksURL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "downloads are disabled")
}

func TestRankLoader_DownloadIsTimeBounded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	l := NewRankLoader(tokenizerConfig(t, "", true, 100*time.Millisecond))

	began := time.Now()
	_, err := l.LoadTiktokenBpe(srv.URL + "/cl100k_base.tiktoken")
	require.Error(t, err)
	assert.Less(t, time.Since(began), 5*time.Second)
}

func TestRankLoader_DownloadIsCached(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(tinyRanks))
	}))
	url := srv.URL + "/cl100k_base.tiktoken"

	cfg := tokenizerConfig(t, "", true, time.Second)
	ranks, err := NewRankLoader(cfg).LoadTiktokenBpe(url)
	require.NoError(t, err)
	assert.Len(t, ranks, 2)
	srv.Close()

	cfg.Download = config.BoolPtr(false)
	ranks, err = NewRankLoader(cfg).LoadTiktokenBpe(url)
	require.NoError(t, err)
	assert.Equal(t, 1, ranks["there"])
}

func TestParseRanksRejectsGarbage(t *testing.T) {
	_, err := parseRanks([]byte("not-base64! 1\n"))
	assert.Error(t, err)
	_, err = parseRanks([]byte("aGk=\n"))
	assert.Error(t, err)
	_, err = parseRanks(nil)
	assert.Error(t, err)
}

func TestNewDefaultEstimator_FallsBackOffline(t *testing.T) {
	e := NewDefaultEstimator(tokenizerConfig(t, t.TempDir(), false, time.Second))
	assert.IsType(t, HeuristicEstimator{}, e)
}
