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

// Session defaults.
const (
	DefaultSessionIdleTimeout  = 30 * time.Minute
	DefaultMaxMessageLength    = 2000
	DefaultMaxImagesPerMessage = 5
	DefaultMessagesPerMinute   = 20
	DefaultSweepInterval       = time.Minute

	DefaultTokenizerEncoding        = "cl100k_base"
	DefaultTokenizerDownloadTimeout = 5 * time.Second
)

// SessionConfig bounds a chat session.
//
// Example:
//
//	sessions:
//	  idle_timeout: 30m
//	  max_message_length: 2000
//	  max_images_per_message: 5
//	  messages_per_minute: 20
//	  tokenizer:
//	    dir: /var/lib/sprout/bpe
//	    download: false
type SessionConfig struct {
	// IdleTimeout ends a session once no message arrived for this long.
	// Default: 30m
	IdleTimeout time.Duration `yaml:"idle_timeout,omitempty" json:"idle_timeout,omitempty" jsonschema:"title=Idle Timeout,type=string,default=30m"`

	// MaxMessageLength is counted in characters (runes), not bytes.
	// Default: 2000
	MaxMessageLength int `yaml:"max_message_length,omitempty" json:"max_message_length,omitempty" jsonschema:"title=Max Message Length,minimum=1,default=2000"`

	// MaxImagesPerMessage caps attachments on a single message. Zero
	// disables attachments.
	// Default: 5
	MaxImagesPerMessage *int `yaml:"max_images_per_message,omitempty" json:"max_images_per_message,omitempty" jsonschema:"title=Max Images Per Message,minimum=0,default=5"`

	// MessagesPerMinute is a per-session burst limit. Negative disables it.
	// Default: 20
	MessagesPerMinute int `yaml:"messages_per_minute,omitempty" json:"messages_per_minute,omitempty" jsonschema:"title=Messages Per Minute,default=20"`

	// SweepInterval is how often terminal sessions are evicted from memory.
	// Expiry itself is evaluated on access; the sweep only frees memory.
	// Default: 1m
	SweepInterval time.Duration `yaml:"sweep_interval,omitempty" json:"sweep_interval,omitempty" jsonschema:"title=Sweep Interval,type=string,default=1m"`

	// Tokenizer controls how prompt size is estimated before admission.
	Tokenizer TokenizerConfig `yaml:"tokenizer,omitempty" json:"tokenizer,omitempty" jsonschema:"title=Tokenizer"`
}

// TokenizerConfig locates the BPE ranks used for token estimates. Without
// them the estimate falls back to four characters per token.
type TokenizerConfig struct {
	// Encoding names the BPE encoding.
	// Default: cl100k_base
	Encoding string `yaml:"encoding,omitempty" json:"encoding,omitempty" jsonschema:"title=Encoding,default=cl100k_base"`

	// Dir holds pre-fetched "<encoding>.tiktoken" files and is searched
	// before anything else.
	Dir string `yaml:"dir,omitempty" json:"dir,omitempty" jsonschema:"title=Rank Directory"`

	// Download allows fetching missing ranks at startup.
	// Default: true
	Download *bool `yaml:"download,omitempty" json:"download,omitempty" jsonschema:"title=Download,default=true"`

	// DownloadTimeout bounds that fetch.
	// Default: 5s
	DownloadTimeout time.Duration `yaml:"download_timeout,omitempty" json:"download_timeout,omitempty" jsonschema:"title=Download Timeout,type=string,default=5s"`
}

// SetDefaults applies default values to TokenizerConfig.
func (c *TokenizerConfig) SetDefaults() {
	if c.Encoding == "" {
		c.Encoding = DefaultTokenizerEncoding
	}
	if c.Download == nil {
		c.Download = BoolPtr(true)
	}
	if c.DownloadTimeout == 0 {
		c.DownloadTimeout = DefaultTokenizerDownloadTimeout
	}
}

// DownloadEnabled reports whether missing ranks may be fetched.
func (c *TokenizerConfig) DownloadEnabled() bool {
	return BoolValue(c.Download, true)
}

// SetDefaults applies default values to SessionConfig.
func (c *SessionConfig) SetDefaults() {
	if c.IdleTimeout == 0 {
		c.IdleTimeout = DefaultSessionIdleTimeout
	}
	if c.MaxMessageLength == 0 {
		c.MaxMessageLength = DefaultMaxMessageLength
	}
	if c.MaxImagesPerMessage == nil {
		c.MaxImagesPerMessage = IntPtr(DefaultMaxImagesPerMessage)
	}
	if c.MessagesPerMinute == 0 {
		c.MessagesPerMinute = DefaultMessagesPerMinute
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	c.Tokenizer.SetDefaults()
}

// Validate checks the session configuration.
func (c *SessionConfig) Validate() error {
	if c.IdleTimeout < 0 {
		return fmt.Errorf("idle_timeout must be positive, got %s", c.IdleTimeout)
	}
	if c.MaxMessageLength < 0 {
		return fmt.Errorf("max_message_length must be positive, got %d", c.MaxMessageLength)
	}
	if n := c.ImageLimit(); n < 0 {
		return fmt.Errorf("max_images_per_message must be non-negative, got %d", n)
	}
	if c.SweepInterval < 0 {
		return fmt.Errorf("sweep_interval must be positive, got %s", c.SweepInterval)
	}
	if c.Tokenizer.DownloadTimeout < 0 {
		return fmt.Errorf("tokenizer.download_timeout must be positive, got %s", c.Tokenizer.DownloadTimeout)
	}
	return nil
}

// ImageLimit returns the attachment cap, or the default when unset.
func (c *SessionConfig) ImageLimit() int {
	return IntValue(c.MaxImagesPerMessage, DefaultMaxImagesPerMessage)
}

// RateLimitEnabled reports whether the per-session burst limit applies.
func (c *SessionConfig) RateLimitEnabled() bool {
	return c.MessagesPerMinute > 0
}
