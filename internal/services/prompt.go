package services

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Enhancer rewrites a generation prompt with a language model.
type Enhancer interface {
	Enhance(ctx context.Context, prompt string) (string, error)
}

var lineBreaks = regexp.MustCompile(`[\r\n]+`)

// PromptService exposes prompt enhancement. A nil Enhancer disables it.
type PromptService struct {
	Enhancer       Enhancer
	MaxPromptRunes int
}

// Enhance returns an improved single-line version of prompt.
func (s *PromptService) Enhance(ctx context.Context, prompt string) (string, error) {
	if s.Enhancer == nil {
		return "", ErrPromptEnhancerDisabled
	}
	prompt = strings.TrimSpace(norm.NFC.String(prompt))
	if prompt == "" {
		return "", ErrEmptyPrompt
	}
	if s.MaxPromptRunes > 0 && utf8.RuneCountInString(prompt) > s.MaxPromptRunes {
		return "", ErrTooLong
	}
	out, err := s.Enhancer.Enhance(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrPromptEnhanceFailed, err)
	}
	out = strings.TrimSpace(lineBreaks.ReplaceAllString(out, " "))
	if out == "" {
		return prompt, nil
	}
	return out, nil
}
