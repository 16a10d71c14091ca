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
	"time"

	"github.com/kadirpekel/sprout/pkg/governor"
	"github.com/kadirpekel/sprout/pkg/ledger"
)

// State is a session's lifecycle state. Expired and Closed are terminal.
type State string

const (
	StateActive  State = "active"
	StateExpired State = "expired"
	StateClosed  State = "closed"
)

// IsTerminal reports whether no further messages are accepted.
func (s State) IsTerminal() bool {
	return s == StateExpired || s == StateClosed
}

// Attachment is an image sent with a message.
type Attachment struct {
	Filename string `json:"filename,omitempty"`
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

// Size returns the attachment size in bytes.
func (a Attachment) Size() int64 {
	return int64(len(a.Data))
}

// Message is one inbound user message.
type Message struct {
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`

	// Search asks for the web retrieval step before answering.
	Search bool `json:"search,omitempty"`
}

// Turn is one exchange kept as conversation context.
type Turn struct {
	User      string `json:"user"`
	Assistant string `json:"assistant"`
}

// Snapshot is a read-only view of a session.
type Snapshot struct {
	Token           string    `json:"token"`
	State           State     `json:"state"`
	CreatedAt       time.Time `json:"created_at"`
	LastActivityAt  time.Time `json:"last_activity_at"`
	ExpiresAt       time.Time `json:"expires_at"`
	MessageCount    int       `json:"message_count"`
	ImagesLastTurn  int       `json:"images_last_message"`
	TotalCharacters int       `json:"total_characters"`
}

// Usage is what a message cost.
type Usage struct {
	Tokens   int64 `json:"tokens"`
	Searches int64 `json:"searches"`
}

// Reply is the assistant's answer to a message.
type Reply struct {
	Text    string         `json:"text"`
	Sources []SearchResult `json:"sources,omitempty"`
	Usage   Usage          `json:"usage"`

	// SearchSkipped explains why a requested search did not run.
	SearchSkipped string `json:"search_skipped,omitempty"`

	Session Snapshot `json:"session"`
}

// GenerateRequest is the input to a TextGenerator.
type GenerateRequest struct {
	Text    string
	Images  []Attachment
	History []Turn
	Sources []SearchResult
}

// TokenUsage is the billable usage a provider reported.
type TokenUsage struct {
	InputTokens  int64
	OutputTokens int64
	TotalTokens  int64
}

// GenerateResult is a TextGenerator's answer.
type GenerateResult struct {
	Text  string
	Usage TokenUsage
}

// TextGenerator calls the text generation provider.
//
// On failure an implementation may still return a result whose Usage holds
// tokens the provider billed; that usage is charged.
type TextGenerator interface {
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error)
}

// OutputCapper is implemented by generators that cap the tokens a single
// answer may use. The cap becomes the output part of every estimate.
type OutputCapper interface {
	MaxOutputTokens() int64
}

// SearchResult is one web search hit.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// Searcher calls the web search provider. One call is one query.
type Searcher interface {
	Search(ctx context.Context, query string) ([]SearchResult, error)
}

// Metering is the two-phase usage protocol; *governor.Governor implements it.
type Metering interface {
	Reserve(ctx context.Context, provider ledger.Provider, estimatedCost int64) (governor.Decision, error)
	Commit(ctx context.Context, provider ledger.Provider, actualCost int64) error
}

// Recorder tracks the number of live sessions.
type Recorder interface {
	RecordSessionOpened(ctx context.Context)
	RecordSessionEnded(ctx context.Context, state string)
}

var _ Metering = (*governor.Governor)(nil)
