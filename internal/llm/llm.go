// Package llm wraps the text-generation providers behind one prompt-in/text-out call.
package llm

import (
	"context"
	"errors"
	"strings"
)

// ErrEmpty is returned when a provider answers with no text.
var ErrEmpty = errors.New("llm: empty completion")

type Request struct {
	System      string
	User        string
	Temperature float32
	MaxTokens   int32
}

// Generator completes one prompt. The decline value NO_REPLY is ordinary output.
type Generator interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req Request) (string, error)

func (f GeneratorFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// CleanJSON strips markdown code fences some models wrap around JSON answers.
func CleanJSON(input string) string {
	input = strings.TrimSpace(input)
	input = strings.TrimPrefix(input, "```json")
	input = strings.TrimPrefix(input, "```")
	input = strings.TrimSuffix(input, "```")
	return strings.TrimSpace(input)
}
