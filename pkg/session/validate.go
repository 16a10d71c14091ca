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
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kadirpekel/sprout/pkg/config"
)

// Validator applies the per-message limits.
type Validator struct {
	maxMessageLength    int
	maxImagesPerMessage int
	uploads             config.UploadConfig
}

// NewValidator builds a Validator from defaulted configuration.
func NewValidator(sessions config.SessionConfig, uploads config.UploadConfig) *Validator {
	return &Validator{
		maxMessageLength:    sessions.MaxMessageLength,
		maxImagesPerMessage: sessions.ImageLimit(),
		uploads:             uploads,
	}
}

// Validate returns the first violated limit as a *ValidationError.
func (v *Validator) Validate(msg *Message) error {
	if msg == nil || (strings.TrimSpace(msg.Text) == "" && len(msg.Attachments) == 0) {
		return &ValidationError{
			Kind:    KindEmptyMessage,
			Field:   "text",
			Message: "message is empty",
		}
	}

	if n := utf8.RuneCountInString(msg.Text); n > v.maxMessageLength {
		return &ValidationError{
			Kind:    KindMessageTooLong,
			Field:   "text",
			Limit:   int64(v.maxMessageLength),
			Actual:  int64(n),
			Message: fmt.Sprintf("message is %d characters, the limit is %d", n, v.maxMessageLength),
		}
	}

	if n := len(msg.Attachments); n > v.maxImagesPerMessage {
		return &ValidationError{
			Kind:    KindTooManyImages,
			Field:   "attachments",
			Limit:   int64(v.maxImagesPerMessage),
			Actual:  int64(n),
			Message: fmt.Sprintf("%d images attached, the limit is %d per message", n, v.maxImagesPerMessage),
		}
	}

	for i, a := range msg.Attachments {
		field := fmt.Sprintf("attachments[%d]", i)
		if !v.uploads.IsAllowed(a.MIMEType) {
			return &ValidationError{
				Kind:    KindFileTypeNotAllowed,
				Field:   field,
				Message: fmt.Sprintf("file type %q is not allowed (allowed: %s)", a.MIMEType, strings.Join(v.uploads.AllowedMIMETypes, ", ")),
			}
		}
		if size := a.Size(); size > v.uploads.MaxFileSize {
			return &ValidationError{
				Kind:    KindFileTooLarge,
				Field:   field,
				Limit:   v.uploads.MaxFileSize,
				Actual:  size,
				Message: fmt.Sprintf("file is %d bytes, the limit is %d", size, v.uploads.MaxFileSize),
			}
		}
	}

	return nil
}
