// Package textgen is the single-shot text generation service used by the
// pipeline's tracking and rewrite transforms. Streamed narration goes
// through pkg/provider instead; this service is for transforms that need
// one complete response per chunk.
package textgen

import (
	"context"
	"errors"
)

var (
	ErrInvalidConfig  = errors.New("textgen: invalid config")
	ErrGenerateFailed = errors.New("textgen: generation failed")
)

type Request struct {
	SystemPrompt string
	Prompt       string
	Temperature  float64
	MaxTokens    int
}

type Response struct {
	Text string
}

// Service produces one complete response for one request.
type Service interface {
	Generate(ctx context.Context, req Request) (Response, error)
}
