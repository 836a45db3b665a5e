// Package genai defines the text generation interface used for transcript analysis.
package genai

import (
	"context"
	"errors"
)

// ErrEmptyResponse is returned when the model produced no text.
var ErrEmptyResponse = errors.New("genai: empty response")

// GenerationConfig carries sampling parameters for one request.
type GenerationConfig struct {
	Temperature     float64
	TopP            float64
	TopK            int32
	MaxOutputTokens int32
}

// Generator produces a single text completion for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string, cfg GenerationConfig) (string, error)
}
