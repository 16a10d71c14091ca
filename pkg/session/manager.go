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

// Package session bounds chat sessions and meters the provider calls they
// make.
//
// A session is Active until it is closed or has been idle for longer than
// the idle timeout; both end states are terminal. Expiry is evaluated on
// every access. Each message is validated before any provider is called,
// and every provider call goes through Metering.Reserve and Metering.Commit.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/kadirpekel/sprout/pkg/config"
	"github.com/kadirpekel/sprout/pkg/ledger"
	"github.com/kadirpekel/sprout/pkg/window"
)

const (
	// DefaultOutputBudget is added to every text generation estimate for
	// the tokens the answer will use, unless the generator reports its own
	// cap through OutputCapper.
	DefaultOutputBudget int64 = config.DefaultMaxOutputTokens

	// DefaultImageTokenCost is the estimated input cost of one image.
	DefaultImageTokenCost int64 = 258

	// DefaultHistoryTurns is how many past turns are sent as context.
	DefaultHistoryTurns = 10
)

// Manager owns the chat sessions of one process.
type Manager struct {
	cfg       config.SessionConfig
	validator *Validator
	metering  Metering
	generator TextGenerator
	searcher  Searcher
	estimator Estimator
	clock     window.Clock
	recorder  Recorder
	tracer    trace.Tracer

	outputBudget   int64
	imageTokenCost int64
	historyTurns   int

	mu       sync.RWMutex
	sessions map[string]*session
}

type session struct {
	mu sync.Mutex

	token          string
	state          State
	createdAt      time.Time
	lastActivityAt time.Time
	messageCount   int
	imagesLastTurn int
	totalChars     int
	history        []Turn
	limiter        *rate.Limiter
}

// Option configures a Manager.
type Option func(*Manager)

// WithSearcher enables the web retrieval step.
func WithSearcher(s Searcher) Option {
	return func(m *Manager) {
		m.searcher = s
	}
}

// WithEstimator replaces the token estimator.
func WithEstimator(e Estimator) Option {
	return func(m *Manager) {
		m.estimator = e
	}
}

// WithClock replaces the wall clock.
func WithClock(c window.Clock) Option {
	return func(m *Manager) {
		m.clock = c
	}
}

// WithRecorder reports session counts.
func WithRecorder(r Recorder) Option {
	return func(m *Manager) {
		m.recorder = r
	}
}

// WithOutputBudget sets the output tokens assumed by each estimate. It
// should not be lower than the generator's own output cap, or a single call
// can land past a ceiling.
func WithOutputBudget(tokens int64) Option {
	return func(m *Manager) {
		m.outputBudget = tokens
	}
}

// WithImageTokenCost sets the estimated tokens per attached image.
func WithImageTokenCost(tokens int64) Option {
	return func(m *Manager) {
		m.imageTokenCost = tokens
	}
}

// WithHistoryTurns sets how many past turns are sent as context.
func WithHistoryTurns(n int) Option {
	return func(m *Manager) {
		m.historyTurns = n
	}
}

// NewManager creates a session manager. cfg and uploads must already be
// defaulted by the config pipeline.
func NewManager(cfg config.SessionConfig, uploads config.UploadConfig, metering Metering, generator TextGenerator, opts ...Option) (*Manager, error) {
	if metering == nil {
		return nil, fmt.Errorf("metering is required")
	}
	if generator == nil {
		return nil, fmt.Errorf("text generator is required")
	}
	if cfg.IdleTimeout <= 0 {
		return nil, fmt.Errorf("idle_timeout must be positive, got %s", cfg.IdleTimeout)
	}

	m := &Manager{
		cfg:            cfg,
		validator:      NewValidator(cfg, uploads),
		metering:       metering,
		generator:      generator,
		estimator:      HeuristicEstimator{},
		clock:          window.SystemClock{},
		tracer:         otel.Tracer("sprout/session"),
		outputBudget:   -1,
		imageTokenCost: DefaultImageTokenCost,
		historyTurns:   DefaultHistoryTurns,
		sessions:       make(map[string]*session),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.outputBudget < 0 {
		m.outputBudget = DefaultOutputBudget
		if c, ok := generator.(OutputCapper); ok && c.MaxOutputTokens() > 0 {
			m.outputBudget = c.MaxOutputTokens()
		}
	}
	return m, nil
}

// Open starts a new Active session.
func (m *Manager) Open(ctx context.Context) (*Snapshot, error) {
	now := m.clock.Now()
	s := &session{
		token:          uuid.NewString(),
		state:          StateActive,
		createdAt:      now,
		lastActivityAt: now,
	}
	if m.cfg.RateLimitEnabled() {
		n := m.cfg.MessagesPerMinute
		s.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), n)
	}

	m.mu.Lock()
	m.sessions[s.token] = s
	m.mu.Unlock()

	if m.recorder != nil {
		m.recorder.RecordSessionOpened(ctx)
	}
	slog.Debug("Chat session opened", "session", s.token)

	snap := m.snapshot(s)
	return &snap, nil
}

// Get returns the session's current state. An idle session is expired by
// this call if its timeout has elapsed.
func (m *Manager) Get(ctx context.Context, token string) (*Snapshot, error) {
	s, ok := m.lookup(token)
	if !ok {
		return nil, ErrSessionNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	m.touch(ctx, s)
	snap := m.snapshot(s)
	return &snap, nil
}

// Close ends a session. Closing a session that has already ended is a
// no-op.
func (m *Manager) Close(ctx context.Context, token string) error {
	s, ok := m.lookup(token)
	if !ok {
		return ErrSessionNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if m.touch(ctx, s); s.state.IsTerminal() {
		return nil
	}
	m.end(ctx, s, StateClosed)
	return nil
}

// Send validates msg, runs the optional web search and the text generation
// call, and records the exchange.
func (m *Manager) Send(ctx context.Context, token string, msg *Message) (*Reply, error) {
	ctx, span := m.tracer.Start(ctx, "session.send",
		trace.WithAttributes(attribute.String("session.token", token)))
	defer span.End()

	reply, err := m.send(ctx, token, msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int64("usage.tokens", reply.Usage.Tokens),
		attribute.Int64("usage.searches", reply.Usage.Searches),
	)
	return reply, nil
}

func (m *Manager) send(ctx context.Context, token string, msg *Message) (*Reply, error) {
	s, ok := m.lookup(token)
	if !ok {
		return nil, ErrSessionNotFound
	}

	history, err := m.admitMessage(ctx, s, msg)
	if err != nil {
		return nil, err
	}

	reply := &Reply{}

	var sources []SearchResult
	if msg.Search {
		sources, reply.SearchSkipped = m.search(ctx, msg.Text)
		if reply.SearchSkipped == "" {
			reply.Usage.Searches = 1
		}
		reply.Sources = sources
	}

	req := &GenerateRequest{
		Text:    msg.Text,
		Images:  msg.Attachments,
		History: history,
		Sources: sources,
	}
	result, err := m.generate(ctx, req)
	if result != nil {
		reply.Usage.Tokens = result.Usage.TotalTokens
	}
	if err != nil {
		return nil, err
	}
	reply.Text = result.Text

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.IsTerminal() {
		// Closed or expired while the provider was answering. The answer
		// was paid for, so it is returned, but the ended session stays as
		// it was.
		slog.Debug("Session ended during provider call", "session", s.token, "state", s.state)
		reply.Session = m.snapshot(s)
		return reply, nil
	}
	if now := m.clock.Now(); now.After(s.lastActivityAt) {
		s.lastActivityAt = now
	}
	s.messageCount++
	s.imagesLastTurn = len(msg.Attachments)
	s.totalChars += utf8.RuneCountInString(msg.Text)
	s.history = append(s.history, Turn{User: msg.Text, Assistant: result.Text})
	if over := len(s.history) - m.historyTurns; over > 0 {
		s.history = append([]Turn(nil), s.history[over:]...)
	}
	reply.Session = m.snapshot(s)
	return reply, nil
}

// admitMessage checks session state, message limits and the per-session
// rate, and returns a copy of the history to send as context.
func (m *Manager) admitMessage(ctx context.Context, s *session, msg *Message) ([]Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.touch(ctx, s); s.state.IsTerminal() {
		return nil, endedErr(s.state)
	}
	if err := m.validator.Validate(msg); err != nil {
		slog.Debug("Chat message rejected", "session", s.token, "error", err)
		return nil, err
	}
	if s.limiter != nil {
		now := m.clock.Now()
		if !s.limiter.AllowN(now, 1) {
			r := s.limiter.ReserveN(now, 1)
			wait := r.DelayFrom(now)
			r.CancelAt(now)
			return nil, &RateLimitError{RetryAfter: wait}
		}
	}
	return append([]Turn(nil), s.history...), nil
}

// search runs the retrieval step. A denied or failed search does not fail
// the message; the returned reason says why it was skipped.
func (m *Manager) search(ctx context.Context, query string) ([]SearchResult, string) {
	if m.searcher == nil {
		return nil, "web search is not configured"
	}

	d, err := m.metering.Reserve(ctx, ledger.WebSearch, 1)
	if err != nil {
		slog.Warn("Web search skipped, usage ledger unavailable", "error", err)
		return nil, "web search temporarily unavailable"
	}
	if !d.Admitted {
		return nil, d.Err().Error()
	}

	ctx, span := m.tracer.Start(ctx, "provider.web_search")
	results, err := m.searcher.Search(ctx, query)
	span.End()
	if err != nil {
		slog.Warn("Web search failed", "error", err)
		return nil, "web search failed"
	}

	m.commit(ctx, ledger.WebSearch, 1)
	return results, ""
}

// generate reserves the estimated tokens, calls the provider and commits
// the usage it reports, also when the call fails.
func (m *Manager) generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error) {
	estimate := m.estimate(req)

	d, err := m.metering.Reserve(ctx, ledger.TextGeneration, estimate)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAssistantUnavailable, err)
	}
	if !d.Admitted {
		return nil, fmt.Errorf("%w: %w", ErrAssistantUnavailable, d.Err())
	}

	genCtx, span := m.tracer.Start(ctx, "provider.text_generation",
		trace.WithAttributes(attribute.Int64("usage.estimated_tokens", estimate)))
	result, genErr := m.generator.Generate(genCtx, req)
	var billed int64
	if result != nil {
		billed = result.Usage.TotalTokens
	}
	span.SetAttributes(attribute.Int64("usage.tokens", billed))
	if genErr != nil {
		span.RecordError(genErr)
		span.SetStatus(codes.Error, genErr.Error())
	}
	span.End()

	m.commit(ctx, ledger.TextGeneration, billed)

	if genErr != nil {
		return result, fmt.Errorf("%w: %w", ErrProviderFailed, genErr)
	}
	if result == nil {
		return nil, fmt.Errorf("%w: empty result", ErrProviderFailed)
	}
	return result, nil
}

// commit charges cost unless the caller has gone away. Once started, a
// commit runs to completion so both windows stay in step.
func (m *Manager) commit(ctx context.Context, provider ledger.Provider, cost int64) {
	if ctx.Err() != nil {
		slog.Info("Call abandoned before commit, not charged",
			"provider", provider, "cost", cost, "error", ctx.Err())
		return
	}
	if err := m.metering.Commit(context.WithoutCancel(ctx), provider, cost); err != nil {
		slog.Error("Failed to record provider usage", "provider", provider, "cost", cost, "error", err)
	}
}

func (m *Manager) estimate(req *GenerateRequest) int64 {
	var b strings.Builder
	b.WriteString(req.Text)
	for _, t := range req.History {
		b.WriteString("\n")
		b.WriteString(t.User)
		b.WriteString("\n")
		b.WriteString(t.Assistant)
	}
	for _, r := range req.Sources {
		b.WriteString("\n")
		b.WriteString(r.Title)
		b.WriteString(" ")
		b.WriteString(r.Snippet)
	}
	return m.estimator.Estimate(b.String()) +
		int64(len(req.Images))*m.imageTokenCost +
		m.outputBudget
}

// Run evicts ended sessions every sweep interval until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	interval := m.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := m.Sweep(ctx); n > 0 {
				slog.Debug("Evicted ended chat sessions", "count", n)
			}
		}
	}
}

// Sweep removes ended sessions from memory and returns how many were
// removed. Tokens of removed sessions report ErrSessionNotFound.
func (m *Manager) Sweep(ctx context.Context) int {
	m.mu.RLock()
	candidates := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		candidates = append(candidates, s)
	}
	m.mu.RUnlock()

	var ended []string
	for _, s := range candidates {
		s.mu.Lock()
		if m.touch(ctx, s); s.state.IsTerminal() {
			ended = append(ended, s.token)
		}
		s.mu.Unlock()
	}
	if len(ended) == 0 {
		return 0
	}

	m.mu.Lock()
	for _, token := range ended {
		delete(m.sessions, token)
	}
	m.mu.Unlock()
	return len(ended)
}

// Len returns the number of sessions held in memory, ended ones included.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) lookup(token string) (*session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[token]
	return s, ok
}

// touch expires s if it has been idle past the timeout. s.mu must be held.
func (m *Manager) touch(ctx context.Context, s *session) {
	if s.state != StateActive {
		return
	}
	if m.clock.Now().Sub(s.lastActivityAt) > m.cfg.IdleTimeout {
		m.end(ctx, s, StateExpired)
	}
}

// end moves s into a terminal state. s.mu must be held.
func (m *Manager) end(ctx context.Context, s *session, state State) {
	s.state = state
	if m.recorder != nil {
		m.recorder.RecordSessionEnded(ctx, string(state))
	}
	slog.Debug("Chat session ended", "session", s.token, "state", state,
		"messages", s.messageCount, "idle", m.clock.Now().Sub(s.lastActivityAt))
}

func (m *Manager) snapshot(s *session) Snapshot {
	return Snapshot{
		Token:           s.token,
		State:           s.state,
		CreatedAt:       s.createdAt,
		LastActivityAt:  s.lastActivityAt,
		ExpiresAt:       s.lastActivityAt.Add(m.cfg.IdleTimeout),
		MessageCount:    s.messageCount,
		ImagesLastTurn:  s.imagesLastTurn,
		TotalCharacters: s.totalChars,
	}
}

func endedErr(state State) error {
	if state == StateClosed {
		return ErrSessionClosed
	}
	return ErrSessionExpired
}

// IsEnded reports whether err means the client must open a new session.
func IsEnded(err error) bool {
	return errors.Is(err, ErrNewSessionRequired)
}
