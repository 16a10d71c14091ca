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

// Package gemini adapts Google Gemini to session.TextGenerator.
//
// It uses the official google.golang.org/genai SDK. Only the request and the
// billable token counts are handled here; metering is the caller's job.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/kadirpekel/sprout/pkg/config"
	"github.com/kadirpekel/sprout/pkg/session"
)

// ErrEmptyResponse is returned when Gemini answers without any text.
var ErrEmptyResponse = errors.New("empty response from Gemini")

// Config contains configuration for the Gemini adapter.
type Config struct {
	// APIKey is the Google AI API key.
	APIKey string

	// Model is the model name (e.g., "gemini-2.0-flash").
	Model string

	// Instruction is sent as the system instruction.
	Instruction string

	// MaxTokens limits the response length.
	MaxTokens int

	// Temperature controls randomness (0-2).
	Temperature float64

	// Timeout bounds one call. Zero means the caller's context only.
	Timeout time.Duration

	// BaseURL overrides the API endpoint.
	BaseURL string

	// HTTPClient overrides the transport.
	HTTPClient *http.Client
}

// FromConfig maps the text_generation config section.
func FromConfig(cfg config.TextGenerationConfig) Config {
	c := Config{
		APIKey:      cfg.APIKey,
		Model:       cfg.Model,
		Instruction: cfg.Instruction,
		MaxTokens:   cfg.MaxTokens,
		Timeout:     cfg.Timeout,
	}
	if cfg.Temperature != nil {
		c.Temperature = *cfg.Temperature
	}
	return c
}

// Generator implements session.TextGenerator.
type Generator struct {
	client *genai.Client
	config Config
}

var _ session.TextGenerator = (*Generator)(nil)

// New creates a Gemini adapter.
func New(cfg Config) (*Generator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}

	clientCfg := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(context.Background(), clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &Generator{client: client, config: cfg}, nil
}

// Model returns the model identifier.
func (g *Generator) Model() string {
	return g.config.Model
}

// MaxOutputTokens returns the answer length Gemini is allowed to bill.
func (g *Generator) MaxOutputTokens() int64 {
	return int64(g.config.MaxTokens)
}

// Generate answers one user message. When Gemini reports usage on a response
// it cannot use (blocked, empty), the usage is returned together with the
// error so that it is still charged.
func (g *Generator) Generate(ctx context.Context, req *session.GenerateRequest) (*session.GenerateResult, error) {
	if g.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.config.Timeout)
		defer cancel()
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.config.Model, buildContents(req), g.buildConfig())
	if err != nil {
		return nil, fmt.Errorf("Gemini generation failed: %w", err)
	}

	return parseResponse(resp)
}

func (g *Generator) buildConfig() *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if g.config.Instruction != "" {
		cfg.SystemInstruction = genai.NewContentFromText(g.config.Instruction, genai.RoleUser)
	}
	if g.config.Temperature > 0 {
		cfg.Temperature = genai.Ptr(float32(g.config.Temperature))
	}
	if g.config.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(g.config.MaxTokens)
	}
	return cfg
}

// buildContents lays out history, then the user turn carrying the search
// sources, the text and the images.
func buildContents(req *session.GenerateRequest) []*genai.Content {
	contents := make([]*genai.Content, 0, 2*len(req.History)+1)
	for _, turn := range req.History {
		contents = append(contents,
			genai.NewContentFromText(turn.User, genai.RoleUser),
			genai.NewContentFromText(turn.Assistant, genai.RoleModel),
		)
	}

	var parts []*genai.Part
	if len(req.Sources) > 0 {
		parts = append(parts, genai.NewPartFromText(formatSources(req.Sources)))
	}
	if req.Text != "" {
		parts = append(parts, genai.NewPartFromText(req.Text))
	}
	for _, img := range req.Images {
		parts = append(parts, genai.NewPartFromBytes(img.Data, img.MIMEType))
	}
	contents = append(contents, genai.NewContentFromParts(parts, genai.RoleUser))
	return contents
}

func formatSources(sources []session.SearchResult) string {
	var b strings.Builder
	b.WriteString("Web search results:\n")
	for i, s := range sources {
		fmt.Fprintf(&b, "[%d] %s (%s)", i+1, s.Title, s.URL)
		if s.Snippet != "" {
			b.WriteString(": ")
			b.WriteString(s.Snippet)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func parseResponse(resp *genai.GenerateContentResponse) (*session.GenerateResult, error) {
	result := &session.GenerateResult{Usage: usageOf(resp.UsageMetadata)}

	if len(resp.Candidates) == 0 {
		if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != "" {
			return result, fmt.Errorf("prompt blocked: %s", fb.BlockReason)
		}
		return result, ErrEmptyResponse
	}

	candidate := resp.Candidates[0]
	if candidate.Content != nil {
		var texts []string
		for _, part := range candidate.Content.Parts {
			if part.Text != "" && !part.Thought {
				texts = append(texts, part.Text)
			}
		}
		result.Text = strings.Join(texts, "")
	}

	if result.Text == "" {
		if candidate.FinishReason != "" && candidate.FinishReason != genai.FinishReasonStop {
			return result, fmt.Errorf("generation stopped: %s", candidate.FinishReason)
		}
		return result, ErrEmptyResponse
	}
	return result, nil
}

func usageOf(md *genai.GenerateContentResponseUsageMetadata) session.TokenUsage {
	if md == nil {
		return session.TokenUsage{}
	}
	usage := session.TokenUsage{
		InputTokens:  int64(md.PromptTokenCount),
		OutputTokens: int64(md.CandidatesTokenCount) + int64(md.ThoughtsTokenCount),
		TotalTokens:  int64(md.TotalTokenCount),
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	}
	return usage
}
