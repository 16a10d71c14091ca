package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/sprout/pkg/config"
	"github.com/kadirpekel/sprout/pkg/governor"
	"github.com/kadirpekel/sprout/pkg/ledger"
	"github.com/kadirpekel/sprout/pkg/window"
)

type fakeGenerator struct {
	calls  atomic.Int64
	result *GenerateResult
	err    error

	mu       sync.Mutex
	requests []*GenerateRequest
}

func (g *fakeGenerator) Generate(_ context.Context, req *GenerateRequest) (*GenerateResult, error) {
	g.calls.Add(1)
	g.mu.Lock()
	g.requests = append(g.requests, req)
	g.mu.Unlock()
	return g.result, g.err
}

func (g *fakeGenerator) lastRequest() *GenerateRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.requests) == 0 {
		return nil
	}
	return g.requests[len(g.requests)-1]
}

type fakeSearcher struct {
	calls   atomic.Int64
	results []SearchResult
	err     error
}

func (s *fakeSearcher) Search(context.Context, string) ([]SearchResult, error) {
	s.calls.Add(1)
	return s.results, s.err
}

type fixedEstimator int64

func (e fixedEstimator) Estimate(string) int64 { return int64(e) }

type sessionRecorder struct {
	mu     sync.Mutex
	opened int
	ended  []string
}

func (r *sessionRecorder) RecordSessionOpened(context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opened++
}

func (r *sessionRecorder) RecordSessionEnded(_ context.Context, state string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended = append(r.ended, state)
}

var start = time.Date(2026, time.October, 15, 12, 0, 0, 0, time.UTC)

type fixture struct {
	mgr   *Manager
	gov   *governor.Governor
	store *ledger.MemoryStore
	clock *window.ManualClock
	gen   *fakeGenerator
	res   *window.Resolver
}

func newFixture(t *testing.T, limits governor.Limits, opts ...Option) *fixture {
	t.Helper()

	res, err := window.NewResolver("UTC")
	require.NoError(t, err)

	store := ledger.NewMemoryStore()
	clock := window.NewManualClock(start)
	gov, err := governor.New(store, res, limits, governor.WithClock(clock))
	require.NoError(t, err)

	sessions := config.SessionConfig{}
	sessions.SetDefaults()
	uploads := config.UploadConfig{}
	uploads.SetDefaults()

	gen := &fakeGenerator{result: &GenerateResult{
		Text:  "Water your monstera once the top soil is dry.",
		Usage: TokenUsage{InputTokens: 40, OutputTokens: 20, TotalTokens: 60},
	}}

	base := []Option{WithClock(clock), WithEstimator(fixedEstimator(10)), WithOutputBudget(0)}
	mgr, err := NewManager(sessions, uploads, gov, gen, append(base, opts...)...)
	require.NoError(t, err)

	return &fixture{mgr: mgr, gov: gov, store: store, clock: clock, gen: gen, res: res}
}

func defaultLimits() governor.Limits {
	return governor.Limits{
		ledger.TextGeneration: {Daily: 1000, Monthly: 5000},
		ledger.WebSearch:      {Daily: 5, Monthly: 100},
	}
}

func (f *fixture) consumed(t *testing.T, provider ledger.Provider, kind window.Kind) int64 {
	t.Helper()
	key := ledger.Key{Provider: provider, Kind: kind, Window: f.res.WindowID(kind, f.clock.Now())}
	n, err := f.store.Peek(context.Background(), key)
	require.NoError(t, err)
	return n
}

func (f *fixture) open(t *testing.T) string {
	t.Helper()
	snap, err := f.mgr.Open(context.Background())
	require.NoError(t, err)
	return snap.Token
}

func images(n int) []Attachment {
	out := make([]Attachment, n)
	for i := range out {
		out[i] = Attachment{Filename: "leaf.jpg", MIMEType: "image/jpeg", Data: []byte{0xff, 0xd8}}
	}
	return out
}

func TestManager_Open(t *testing.T) {
	f := newFixture(t, defaultLimits())

	snap, err := f.mgr.Open(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.Token, 36)
	assert.Equal(t, StateActive, snap.State)
	assert.Equal(t, start, snap.CreatedAt)
	assert.Equal(t, start.Add(30*time.Minute), snap.ExpiresAt)

	other, err := f.mgr.Open(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, snap.Token, other.Token)
}

func TestManager_SendChargesReportedUsage(t *testing.T) {
	f := newFixture(t, defaultLimits())
	token := f.open(t)

	f.clock.Advance(time.Minute)
	reply, err := f.mgr.Send(context.Background(), token, &Message{Text: "How often should I water a monstera?"})
	require.NoError(t, err)

	assert.Equal(t, f.gen.result.Text, reply.Text)
	assert.Equal(t, int64(60), reply.Usage.Tokens)
	assert.Equal(t, 1, reply.Session.MessageCount)
	assert.Equal(t, start.Add(time.Minute), reply.Session.LastActivityAt)
	assert.Equal(t, int64(60), f.consumed(t, ledger.TextGeneration, window.Daily))
	assert.Equal(t, int64(60), f.consumed(t, ledger.TextGeneration, window.Monthly))
}

func TestManager_TooManyImagesNeverReachesProvider(t *testing.T) {
	f := newFixture(t, defaultLimits())
	token := f.open(t)

	_, err := f.mgr.Send(context.Background(), token, &Message{Text: "Which plant is this?", Attachments: images(6)})

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, KindTooManyImages, verr.Kind)
	assert.Equal(t, int64(5), verr.Limit)
	assert.Equal(t, int64(6), verr.Actual)
	assert.Zero(t, f.gen.calls.Load())
	assert.Zero(t, f.store.Size())
}

func TestManager_Validation(t *testing.T) {
	tests := []struct {
		name string
		msg  *Message
		kind ValidationKind
	}{
		{"empty", &Message{Text: "   "}, KindEmptyMessage},
		{"nil", nil, KindEmptyMessage},
		{"too long", &Message{Text: strings.Repeat("a", 2001)}, KindMessageTooLong},
		{"too long in runes", &Message{Text: strings.Repeat("ü", 2001)}, KindMessageTooLong},
		{"too many images", &Message{Text: "hi", Attachments: images(6)}, KindTooManyImages},
		{"file type", &Message{Text: "hi", Attachments: []Attachment{{MIMEType: "application/pdf", Data: []byte("x")}}}, KindFileTypeNotAllowed},
		{"file size", &Message{Text: "hi", Attachments: []Attachment{{MIMEType: "image/png", Data: make([]byte, 5<<20+1)}}}, KindFileTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, defaultLimits())
			token := f.open(t)

			_, err := f.mgr.Send(context.Background(), token, tt.msg)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.kind, verr.Kind)
			assert.Zero(t, f.gen.calls.Load())
		})
	}
}

func TestManager_ValidationAcceptsLimits(t *testing.T) {
	f := newFixture(t, defaultLimits(), WithImageTokenCost(0))
	token := f.open(t)

	msg := &Message{
		Text:        strings.Repeat("ü", 2000),
		Attachments: []Attachment{{MIMEType: "image/PNG; charset=binary", Data: make([]byte, 5<<20)}},
	}
	msg.Attachments = append(msg.Attachments, images(4)...)

	_, err := f.mgr.Send(context.Background(), token, msg)
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.gen.calls.Load())
	assert.Len(t, f.gen.lastRequest().Images, 5)
}

func TestManager_IdleExpiry(t *testing.T) {
	f := newFixture(t, defaultLimits())

	t.Run("one millisecond before the timeout is still active", func(t *testing.T) {
		f.clock.Set(start)
		token := f.open(t)
		f.clock.Advance(30*time.Minute - time.Millisecond)

		snap, err := f.mgr.Get(context.Background(), token)
		require.NoError(t, err)
		assert.Equal(t, StateActive, snap.State)
	})

	t.Run("exactly at the timeout is still active", func(t *testing.T) {
		f.clock.Set(start)
		token := f.open(t)
		f.clock.Advance(30 * time.Minute)

		_, err := f.mgr.Send(context.Background(), token, &Message{Text: "still there?"})
		require.NoError(t, err)
	})

	t.Run("one millisecond after the timeout is expired", func(t *testing.T) {
		f.clock.Set(start)
		token := f.open(t)
		f.clock.Advance(30*time.Minute + time.Millisecond)

		calls := f.gen.calls.Load()
		_, err := f.mgr.Send(context.Background(), token, &Message{Text: "hello?"})
		assert.ErrorIs(t, err, ErrSessionExpired)
		assert.ErrorIs(t, err, ErrNewSessionRequired)
		assert.True(t, IsEnded(err))
		assert.Equal(t, calls, f.gen.calls.Load())

		snap, err := f.mgr.Get(context.Background(), token)
		require.NoError(t, err)
		assert.Equal(t, StateExpired, snap.State)
	})
}

func TestManager_ActivityExtendsSession(t *testing.T) {
	f := newFixture(t, defaultLimits())
	token := f.open(t)

	for range 3 {
		f.clock.Advance(20 * time.Minute)
		_, err := f.mgr.Send(context.Background(), token, &Message{Text: "and the fern?"})
		require.NoError(t, err)
	}

	snap, err := f.mgr.Get(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, StateActive, snap.State)
	assert.Equal(t, 3, snap.MessageCount)
	assert.Equal(t, 3*len("and the fern?"), snap.TotalCharacters)
}

func TestManager_ExpiredIsTerminal(t *testing.T) {
	f := newFixture(t, defaultLimits())
	token := f.open(t)

	f.clock.Advance(31 * time.Minute)
	snap, err := f.mgr.Get(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, StateExpired, snap.State)

	// Closing an expired session keeps it expired.
	require.NoError(t, f.mgr.Close(context.Background(), token))
	snap, err = f.mgr.Get(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, StateExpired, snap.State)
}

func TestManager_Close(t *testing.T) {
	rec := &sessionRecorder{}
	f := newFixture(t, defaultLimits(), WithRecorder(rec))
	token := f.open(t)

	require.NoError(t, f.mgr.Close(context.Background(), token))
	require.NoError(t, f.mgr.Close(context.Background(), token))

	_, err := f.mgr.Send(context.Background(), token, &Message{Text: "hello"})
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.ErrorIs(t, err, ErrNewSessionRequired)

	f.clock.Advance(time.Hour)
	snap, err := f.mgr.Get(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, StateClosed, snap.State)

	assert.Equal(t, 1, rec.opened)
	assert.Equal(t, []string{"closed"}, rec.ended)
}

func TestManager_UnknownToken(t *testing.T) {
	f := newFixture(t, defaultLimits())

	_, err := f.mgr.Send(context.Background(), "nope", &Message{Text: "hi"})
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, err, ErrNewSessionRequired)

	_, err = f.mgr.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	assert.ErrorIs(t, f.mgr.Close(context.Background(), "nope"), ErrSessionNotFound)
}

func TestManager_QuotaDeniedSkipsProvider(t *testing.T) {
	limits := defaultLimits()
	limits[ledger.TextGeneration] = governor.Ceilings{Daily: 100, Monthly: 5000}
	f := newFixture(t, limits)
	token := f.open(t)

	// 60 tokens committed, then an estimate of 10+258 for one image overshoots.
	_, err := f.mgr.Send(context.Background(), token, &Message{Text: "first"})
	require.NoError(t, err)

	_, err = f.mgr.Send(context.Background(), token, &Message{Text: "second", Attachments: images(1)})
	require.ErrorIs(t, err, ErrAssistantUnavailable)
	assert.ErrorIs(t, err, governor.ErrQuotaExceeded)

	var qerr *governor.QuotaExceededError
	require.ErrorAs(t, err, &qerr)
	assert.Equal(t, governor.ReasonCostTooLarge, qerr.Reason)
	assert.Equal(t, int64(1), f.gen.calls.Load())
	assert.Equal(t, int64(60), f.consumed(t, ledger.TextGeneration, window.Daily))
}

func TestManager_DailyCeilingReportsRetryAfter(t *testing.T) {
	limits := defaultLimits()
	limits[ledger.TextGeneration] = governor.Ceilings{Daily: 100, Monthly: 5000}
	f := newFixture(t, limits)
	token := f.open(t)

	_, err := f.mgr.Send(context.Background(), token, &Message{Text: "first"})
	require.NoError(t, err)
	_, err = f.mgr.Send(context.Background(), token, &Message{Text: "second"})
	require.NoError(t, err)

	// 120 consumed: the next estimate of 10 is over the daily ceiling.
	_, err = f.mgr.Send(context.Background(), token, &Message{Text: "third"})
	require.ErrorIs(t, err, ErrAssistantUnavailable)
	assert.Equal(t, 12*time.Hour, governor.RetryAfter(err))
	assert.Equal(t, int64(2), f.gen.calls.Load())

	snap, err := f.mgr.Get(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.MessageCount)
}

func TestManager_StoreUnavailableFailsClosed(t *testing.T) {
	f := newFixture(t, defaultLimits())
	token := f.open(t)
	require.NoError(t, f.store.Close())

	_, err := f.mgr.Send(context.Background(), token, &Message{Text: "hello"})
	require.ErrorIs(t, err, ErrAssistantUnavailable)
	assert.ErrorIs(t, err, ledger.ErrStoreUnavailable)
	assert.Zero(t, f.gen.calls.Load())
}

func TestManager_ProviderFailureChargesBilledUsage(t *testing.T) {
	f := newFixture(t, defaultLimits())
	token := f.open(t)

	f.gen.err = errors.New("stream interrupted")
	f.gen.result = &GenerateResult{Usage: TokenUsage{InputTokens: 30, TotalTokens: 30}}

	_, err := f.mgr.Send(context.Background(), token, &Message{Text: "hello"})
	require.ErrorIs(t, err, ErrProviderFailed)
	assert.Equal(t, int64(30), f.consumed(t, ledger.TextGeneration, window.Daily))

	snap, err := f.mgr.Get(context.Background(), token)
	require.NoError(t, err)
	assert.Zero(t, snap.MessageCount)
}

func TestManager_ProviderFailureWithoutUsageChargesNothing(t *testing.T) {
	f := newFixture(t, defaultLimits())
	token := f.open(t)

	f.gen.err = errors.New("connection refused")
	f.gen.result = nil

	_, err := f.mgr.Send(context.Background(), token, &Message{Text: "hello"})
	require.ErrorIs(t, err, ErrProviderFailed)
	assert.Zero(t, f.consumed(t, ledger.TextGeneration, window.Daily))
	assert.Zero(t, f.store.Size())
}

type cancellingGenerator struct {
	cancel context.CancelFunc
}

func (g *cancellingGenerator) Generate(context.Context, *GenerateRequest) (*GenerateResult, error) {
	g.cancel()
	return &GenerateResult{Text: "late", Usage: TokenUsage{TotalTokens: 50}}, nil
}

func TestManager_AbandonedCallIsNotCharged(t *testing.T) {
	res, err := window.NewResolver("UTC")
	require.NoError(t, err)
	store := ledger.NewMemoryStore()
	clock := window.NewManualClock(start)
	gov, err := governor.New(store, res, defaultLimits(), governor.WithClock(clock))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sessions := config.SessionConfig{}
	sessions.SetDefaults()
	uploads := config.UploadConfig{}
	uploads.SetDefaults()
	mgr, err := NewManager(sessions, uploads, gov, &cancellingGenerator{cancel: cancel}, WithClock(clock), WithOutputBudget(0))
	require.NoError(t, err)

	snap, err := mgr.Open(context.Background())
	require.NoError(t, err)

	_, _ = mgr.Send(ctx, snap.Token, &Message{Text: "hello"})
	assert.Zero(t, store.Size())
}

func TestManager_WebSearch(t *testing.T) {
	searcher := &fakeSearcher{results: []SearchResult{
		{Title: "Monstera care", URL: "https://example.com/monstera", Snippet: "Bright indirect light."},
	}}
	f := newFixture(t, defaultLimits(), WithSearcher(searcher))
	token := f.open(t)

	reply, err := f.mgr.Send(context.Background(), token, &Message{Text: "monstera light", Search: true})
	require.NoError(t, err)

	assert.Equal(t, searcher.results, reply.Sources)
	assert.Empty(t, reply.SearchSkipped)
	assert.Equal(t, int64(1), reply.Usage.Searches)
	assert.Equal(t, searcher.results, f.gen.lastRequest().Sources)
	assert.Equal(t, int64(1), f.consumed(t, ledger.WebSearch, window.Daily))
	assert.Equal(t, int64(1), f.consumed(t, ledger.WebSearch, window.Monthly))
}

func TestManager_WebSearchDeniedDegrades(t *testing.T) {
	searcher := &fakeSearcher{results: []SearchResult{{Title: "t", URL: "https://example.com"}}}
	f := newFixture(t, defaultLimits(), WithSearcher(searcher))
	f.mgr.cfg.MessagesPerMinute = 0
	token := f.open(t)

	for range 5 {
		_, err := f.mgr.Send(context.Background(), token, &Message{Text: "q", Search: true})
		require.NoError(t, err)
	}

	reply, err := f.mgr.Send(context.Background(), token, &Message{Text: "q", Search: true})
	require.NoError(t, err)
	assert.NotEmpty(t, reply.SearchSkipped)
	assert.Empty(t, reply.Sources)
	assert.Zero(t, reply.Usage.Searches)
	assert.Equal(t, int64(5), searcher.calls.Load())
	assert.Equal(t, int64(5), f.consumed(t, ledger.WebSearch, window.Daily))
	assert.Equal(t, int64(6), f.gen.calls.Load())
}

func TestManager_WebSearchFailureIsNotCharged(t *testing.T) {
	searcher := &fakeSearcher{err: errors.New("upstream 500")}
	f := newFixture(t, defaultLimits(), WithSearcher(searcher))
	token := f.open(t)

	reply, err := f.mgr.Send(context.Background(), token, &Message{Text: "q", Search: true})
	require.NoError(t, err)
	assert.Equal(t, "web search failed", reply.SearchSkipped)
	assert.Zero(t, f.consumed(t, ledger.WebSearch, window.Daily))
}

func TestManager_WebSearchNotConfigured(t *testing.T) {
	f := newFixture(t, defaultLimits())
	token := f.open(t)

	reply, err := f.mgr.Send(context.Background(), token, &Message{Text: "q", Search: true})
	require.NoError(t, err)
	assert.NotEmpty(t, reply.SearchSkipped)
	assert.Zero(t, f.consumed(t, ledger.WebSearch, window.Daily))
}

func TestManager_RateLimit(t *testing.T) {
	limits := defaultLimits()
	limits[ledger.TextGeneration] = governor.Ceilings{Daily: 100_000, Monthly: 1_000_000}
	f := newFixture(t, limits)
	token := f.open(t)

	for range 20 {
		_, err := f.mgr.Send(context.Background(), token, &Message{Text: "hi"})
		require.NoError(t, err)
	}

	_, err := f.mgr.Send(context.Background(), token, &Message{Text: "hi"})
	require.ErrorIs(t, err, ErrRateLimited)
	var rerr *RateLimitError
	require.ErrorAs(t, err, &rerr)
	assert.InDelta(t, float64(3*time.Second), float64(rerr.RetryAfter), float64(time.Millisecond))
	assert.Equal(t, int64(20), f.gen.calls.Load())

	f.clock.Advance(4 * time.Second)
	_, err = f.mgr.Send(context.Background(), token, &Message{Text: "hi"})
	require.NoError(t, err)
}

func TestManager_HistoryIsBounded(t *testing.T) {
	f := newFixture(t, defaultLimits(), WithHistoryTurns(2))
	token := f.open(t)

	for _, text := range []string{"one", "two", "three"} {
		f.clock.Advance(5 * time.Second)
		_, err := f.mgr.Send(context.Background(), token, &Message{Text: text})
		require.NoError(t, err)
	}

	_, err := f.mgr.Send(context.Background(), token, &Message{Text: "four"})
	require.NoError(t, err)
	history := f.gen.lastRequest().History
	require.Len(t, history, 2)
	assert.Equal(t, "two", history[0].User)
	assert.Equal(t, "three", history[1].User)
}

func TestManager_Estimate(t *testing.T) {
	f := newFixture(t, defaultLimits(), WithEstimator(HeuristicEstimator{}), WithOutputBudget(100), WithImageTokenCost(50))

	got := f.mgr.estimate(&GenerateRequest{Text: "abcdefgh", Images: images(2)})
	assert.Equal(t, int64(2+2*50+100), got)
}

type cappedGenerator struct {
	fakeGenerator
	maxOutput int64
}

func (g *cappedGenerator) MaxOutputTokens() int64 { return g.maxOutput }

func newManagerFor(t *testing.T, limits governor.Limits, gen TextGenerator, opts ...Option) (*Manager, *ledger.MemoryStore, *window.ManualClock) {
	t.Helper()
	res, err := window.NewResolver("UTC")
	require.NoError(t, err)
	store := ledger.NewMemoryStore()
	clock := window.NewManualClock(start)
	gov, err := governor.New(store, res, limits, governor.WithClock(clock))
	require.NoError(t, err)

	sessions := config.SessionConfig{}
	sessions.SetDefaults()
	uploads := config.UploadConfig{}
	uploads.SetDefaults()
	mgr, err := NewManager(sessions, uploads, gov, gen, append([]Option{WithClock(clock)}, opts...)...)
	require.NoError(t, err)
	return mgr, store, clock
}

func TestManager_EstimateCoversGeneratorOutputCap(t *testing.T) {
	gen := &cappedGenerator{maxOutput: 1024}
	mgr, _, _ := newManagerFor(t, defaultLimits(), gen, WithEstimator(fixedEstimator(10)))

	assert.Equal(t, int64(10+1024), mgr.estimate(&GenerateRequest{Text: "hi"}))

	mgr, _, _ = newManagerFor(t, defaultLimits(), &fakeGenerator{}, WithEstimator(fixedEstimator(10)))
	assert.Equal(t, 10+DefaultOutputBudget, mgr.estimate(&GenerateRequest{Text: "hi"}))

	mgr, _, _ = newManagerFor(t, defaultLimits(), gen, WithEstimator(fixedEstimator(10)), WithOutputBudget(2048))
	assert.Equal(t, int64(10+2048), mgr.estimate(&GenerateRequest{Text: "hi"}))
}

func TestManager_OutputCapLargerThanHeadroomIsDenied(t *testing.T) {
	gen := &cappedGenerator{maxOutput: 1024}
	gen.result = &GenerateResult{Text: "A long answer.", Usage: TokenUsage{TotalTokens: 1025}}
	limits := defaultLimits()
	limits[ledger.TextGeneration] = governor.Ceilings{Daily: 1000, Monthly: 5000}
	mgr, store, _ := newManagerFor(t, limits, gen, WithEstimator(HeuristicEstimator{}))

	snap, err := mgr.Open(context.Background())
	require.NoError(t, err)

	_, err = mgr.Send(context.Background(), snap.Token, &Message{Text: "hi"})
	require.ErrorIs(t, err, ErrAssistantUnavailable)
	assert.ErrorIs(t, err, governor.ErrQuotaExceeded)
	assert.Zero(t, gen.calls.Load())
	assert.Zero(t, store.Size())
}

// hookGenerator runs during before answering.
type hookGenerator struct {
	during func()
}

func (g *hookGenerator) Generate(context.Context, *GenerateRequest) (*GenerateResult, error) {
	g.during()
	return &GenerateResult{Text: "Repot in spring.", Usage: TokenUsage{TotalTokens: 60}}, nil
}

func TestManager_SessionEndedDuringCallKeepsItsState(t *testing.T) {
	tests := []struct {
		name  string
		end   func(t *testing.T, m *Manager, clock *window.ManualClock, token string)
		state State
	}{
		{
			name: "closed",
			end: func(t *testing.T, m *Manager, _ *window.ManualClock, token string) {
				require.NoError(t, m.Close(context.Background(), token))
			},
			state: StateClosed,
		},
		{
			name: "expired",
			end: func(t *testing.T, m *Manager, clock *window.ManualClock, token string) {
				clock.Advance(31 * time.Minute)
				_, err := m.Get(context.Background(), token)
				require.NoError(t, err)
			},
			state: StateExpired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &hookGenerator{}
			mgr, store, clock := newManagerFor(t, defaultLimits(), gen, WithEstimator(fixedEstimator(10)), WithOutputBudget(0))
			snap, err := mgr.Open(context.Background())
			require.NoError(t, err)
			gen.during = func() { tt.end(t, mgr, clock, snap.Token) }

			reply, err := mgr.Send(context.Background(), snap.Token, &Message{Text: "When should I repot?"})
			require.NoError(t, err)
			assert.Equal(t, "Repot in spring.", reply.Text)
			assert.Equal(t, tt.state, reply.Session.State)
			assert.Zero(t, reply.Session.MessageCount)

			got, err := mgr.Get(context.Background(), snap.Token)
			require.NoError(t, err)
			assert.Equal(t, tt.state, got.State)
			assert.Zero(t, got.MessageCount)
			assert.Equal(t, start, got.LastActivityAt)

			key := ledger.Key{Provider: ledger.TextGeneration, Kind: window.Daily, Window: "2026-10-15"}
			charged, err := store.Peek(context.Background(), key)
			require.NoError(t, err)
			assert.Equal(t, int64(60), charged, "the answer was paid for")
		})
	}
}

func TestValidator_ZeroImageLimitRejectsAttachments(t *testing.T) {
	uploads := config.UploadConfig{}
	uploads.SetDefaults()
	v := NewValidator(config.SessionConfig{MaxImagesPerMessage: config.IntPtr(0)}, uploads)

	require.NoError(t, v.Validate(&Message{Text: "Is this a fern?"}))

	err := v.Validate(&Message{Text: "Is this a fern?", Attachments: images(1)})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, KindTooManyImages, verr.Kind)
	assert.Equal(t, int64(0), verr.Limit)
}

func TestManager_Sweep(t *testing.T) {
	rec := &sessionRecorder{}
	f := newFixture(t, defaultLimits(), WithRecorder(rec))

	closed := f.open(t)
	idle := f.open(t)
	f.clock.Advance(20 * time.Minute)
	live := f.open(t)
	require.NoError(t, f.mgr.Close(context.Background(), closed))

	f.clock.Advance(11 * time.Minute)
	assert.Equal(t, 2, f.mgr.Sweep(context.Background()))
	assert.Equal(t, 1, f.mgr.Len())

	_, err := f.mgr.Get(context.Background(), idle)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	snap, err := f.mgr.Get(context.Background(), live)
	require.NoError(t, err)
	assert.Equal(t, StateActive, snap.State)

	assert.Equal(t, 3, rec.opened)
	assert.ElementsMatch(t, []string{"closed", "expired"}, rec.ended)
}

func TestManager_RunStopsWithContext(t *testing.T) {
	f := newFixture(t, defaultLimits())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.mgr.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestManager_ConcurrentSends(t *testing.T) {
	f := newFixture(t, defaultLimits())
	f.mgr.cfg.MessagesPerMinute = 0

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snap, err := f.mgr.Open(context.Background())
			if !assert.NoError(t, err) {
				return
			}
			for range 2 {
				_, err := f.mgr.Send(context.Background(), snap.Token, &Message{Text: "hi"})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(16*60), f.consumed(t, ledger.TextGeneration, window.Daily))
}

func TestNewManager_Validation(t *testing.T) {
	sessions := config.SessionConfig{}
	sessions.SetDefaults()
	uploads := config.UploadConfig{}
	uploads.SetDefaults()

	_, err := NewManager(sessions, uploads, nil, &fakeGenerator{})
	assert.Error(t, err)

	res, err := window.NewResolver("UTC")
	require.NoError(t, err)
	gov, err := governor.New(ledger.NewMemoryStore(), res, defaultLimits())
	require.NoError(t, err)

	_, err = NewManager(sessions, uploads, gov, nil)
	assert.Error(t, err)

	_, err = NewManager(config.SessionConfig{}, uploads, gov, &fakeGenerator{})
	assert.Error(t, err)
}

func TestHeuristicEstimator(t *testing.T) {
	assert.Equal(t, int64(0), HeuristicEstimator{}.Estimate(""))
	assert.Equal(t, int64(1), HeuristicEstimator{}.Estimate("abc"))
	assert.Equal(t, int64(1), HeuristicEstimator{}.Estimate("abcd"))
	assert.Equal(t, int64(2), HeuristicEstimator{}.Estimate("ababa"))
	assert.Equal(t, int64(1), HeuristicEstimator{}.Estimate("üüüü"))
}
