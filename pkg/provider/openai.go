package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/storyloom/storyloom/pkg/narration"
)

type OpenAIConfig struct {
	APIKey    string
	APIBase   string
	Model     string
	MaxTokens int
}

// OpenAIProvider streams narration through the OpenAI chat completions API.
type OpenAIProvider struct {
	client openai.Client
	cfg    OpenAIConfig
}

func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai provider: missing API key")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("openai provider: missing model name")
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.APIBase != "" {
		opts = append(opts, option.WithBaseURL(cfg.APIBase))
	}
	return &OpenAIProvider{client: openai.NewClient(opts...), cfg: cfg}, nil
}

func (p *OpenAIProvider) Stream(ctx context.Context, nc narration.Context, emit func(token string) error) error {
	parts := buildPrompt(nc)

	var messages []openai.ChatCompletionMessageParamUnion
	if parts.System != "" {
		messages = append(messages, openai.SystemMessage(parts.System))
	}
	for _, msg := range parts.Messages {
		switch msg.Role {
		case "assistant":
			messages = append(messages, openai.AssistantMessage(msg.Content))
		default:
			messages = append(messages, openai.UserMessage(msg.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.cfg.Model),
		Messages: messages,
	}
	if p.cfg.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(p.cfg.MaxTokens))
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		content := chunk.Choices[0].Delta.Content
		if content == "" {
			continue
		}
		if err := emit(content); err != nil {
			return err
		}
	}

	if err := stream.Err(); err != nil {
		return classifyStreamErr(err)
	}
	return nil
}

// classifyStreamErr marks JSON parse failures in the event stream as decode
// errors so dispatch can report them apart from transport failures.
func classifyStreamErr(err error) error {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return fmt.Errorf("%w: %w", narration.ErrDecode, err)
	}
	return err
}
