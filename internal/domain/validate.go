package domain

import (
	"strings"
	"unicode/utf8"
)

// DefaultMaxPromptLength bounds prompts when no limit is configured.
const DefaultMaxPromptLength = 2000

// ValidateRequest checks a generation request against prompt rules, the kind's
// input requirements and the caller's capability set.
func ValidateRequest(kind Kind, prompt string, images []ImageRef, params Parameters, caps Capabilities, maxPrompt int) error {
	if maxPrompt <= 0 {
		maxPrompt = DefaultMaxPromptLength
	}
	trimmed := strings.TrimSpace(prompt)
	if trimmed == "" {
		return NewValidationError("prompt", "is required")
	}
	if n := utf8.RuneCountInString(trimmed); n > maxPrompt {
		return NewValidationError("prompt", "must be at most %d characters, got %d", maxPrompt, n)
	}
	if need := kind.MinInputImages(); len(images) < need {
		return NewValidationError("images", "%s needs at least %d input image(s)", kind, need)
	}
	for i, img := range images {
		if !img.Inline() && strings.TrimSpace(img.URL) == "" {
			return NewValidationError("images", "image %d has neither url nor data", i)
		}
	}
	return caps.Allows(kind, params)
}
