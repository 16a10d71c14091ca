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
	"strings"
)

// DefaultMaxUploadFileSize is 5 MiB.
const DefaultMaxUploadFileSize int64 = 5 << 20

// DefaultAllowedMIMETypes are the image types the assistant accepts.
var DefaultAllowedMIMETypes = []string{"image/jpeg", "image/png", "image/webp", "image/gif"}

// UploadConfig limits image attachments.
type UploadConfig struct {
	// MaxFileSize is per attachment, in bytes.
	// Default: 5242880 (5 MiB)
	MaxFileSize int64 `yaml:"max_file_size,omitempty" json:"max_file_size,omitempty" jsonschema:"title=Max File Size,description=Per-attachment size limit in bytes,minimum=1,default=5242880"`

	// AllowedMIMETypes is the attachment allow-list.
	AllowedMIMETypes []string `yaml:"allowed_mime_types,omitempty" json:"allowed_mime_types,omitempty" jsonschema:"title=Allowed MIME Types"`
}

// SetDefaults applies default values to UploadConfig.
func (c *UploadConfig) SetDefaults() {
	if c.MaxFileSize == 0 {
		c.MaxFileSize = DefaultMaxUploadFileSize
	}
	if len(c.AllowedMIMETypes) == 0 {
		c.AllowedMIMETypes = append([]string(nil), DefaultAllowedMIMETypes...)
	}
	for i, t := range c.AllowedMIMETypes {
		c.AllowedMIMETypes[i] = strings.ToLower(strings.TrimSpace(t))
	}
}

// Validate checks the upload configuration.
func (c *UploadConfig) Validate() error {
	if c.MaxFileSize <= 0 {
		return fmt.Errorf("max_file_size must be positive, got %d", c.MaxFileSize)
	}
	for _, t := range c.AllowedMIMETypes {
		if !strings.Contains(t, "/") {
			return fmt.Errorf("invalid MIME type %q", t)
		}
	}
	return nil
}

// IsAllowed reports whether mimeType is on the allow-list. Parameters such
// as "; charset=" are ignored.
func (c *UploadConfig) IsAllowed(mimeType string) bool {
	base, _, _ := strings.Cut(mimeType, ";")
	base = strings.ToLower(strings.TrimSpace(base))
	for _, t := range c.AllowedMIMETypes {
		if t == base {
			return true
		}
	}
	return false
}
