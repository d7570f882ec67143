package provider

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/storyloom/storyloom/pkg/narration"
)

type AnthropicConfig struct {
	APIKey    string
	APIBase   string
	Model     string
	MaxTokens int
}

// AnthropicProvider streams narration through the Anthropic messages API.
type AnthropicProvider struct {
	client anthropic.Client
	cfg    AnthropicConfig
}

func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic provider: missing API key")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("anthropic provider: missing model name")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.APIBase != "" {
		opts = append(opts, option.WithBaseURL(cfg.APIBase))
	}
	return &AnthropicProvider{client: anthropic.NewClient(opts...), cfg: cfg}, nil
}

func (p *AnthropicProvider) Stream(ctx context.Context, nc narration.Context, emit func(token string) error) error {
	parts := buildPrompt(nc)

	messages := make([]anthropic.MessageParam, 0, len(parts.Messages))
	for _, msg := range parts.Messages {
		block := anthropic.NewTextBlock(msg.Content)
		switch msg.Role {
		case "assistant":
			messages = append(messages, anthropic.NewAssistantMessage(block))
		default:
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.cfg.Model),
		MaxTokens: int64(p.cfg.MaxTokens),
		Messages:  messages,
	}
	if parts.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: parts.System}}
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	for stream.Next() {
		event := stream.Current()
		switch variant := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			if delta, ok := variant.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
				if err := emit(delta.Text); err != nil {
					return err
				}
			}
		}
	}

	if err := stream.Err(); err != nil {
		return classifyStreamErr(err)
	}
	return nil
}
