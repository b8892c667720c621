package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/jholhewres/jarvis/pkg/jarvis/memory"
)

// DefaultModel is used when OpenAIConfig.Model is empty.
const DefaultModel = "gpt-4o-mini"

// DefaultSystemPrompt frames the assistant persona for the model.
const DefaultSystemPrompt = "You are Jarvis, a concise personal assistant. Answer in one or two short sentences suitable for being read aloud."

// OpenAIConfig configures the OpenAI-compatible completer.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	Model        string
	SystemPrompt string
	MaxTokens    int
	Timeout      time.Duration
}

// OpenAICompleter implements Completer over the chat completions API. Any
// OpenAI-compatible endpoint works through BaseURL.
type OpenAICompleter struct {
	client openai.Client
	cfg    OpenAIConfig
}

// NewOpenAICompleter creates a completer. An API key is required.
func NewOpenAICompleter(cfg OpenAIConfig) (*OpenAICompleter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAICompleter{
		client: openai.NewClient(opts...),
		cfg:    cfg,
	}, nil
}

// Complete implements Completer.
func (c *OpenAICompleter) Complete(ctx context.Context, prompt string, history []memory.Interaction) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.cfg.Model),
		Messages: buildMessages(c.cfg.SystemPrompt, prompt, history),
	}
	if c.cfg.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(c.cfg.MaxTokens))
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: no choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

// buildMessages maps the interaction log to chat roles. System log lines
// and the trailing copy of prompt are skipped.
func buildMessages(system, prompt string, history []memory.Interaction) []openai.ChatCompletionMessageParamUnion {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+2)
	msgs = append(msgs, openai.SystemMessage(system))

	if n := len(history); n > 0 && history[n-1].Speaker == memory.SpeakerUser && history[n-1].Message == prompt {
		history = history[:n-1]
	}
	for _, it := range history {
		switch it.Speaker {
		case memory.SpeakerUser:
			msgs = append(msgs, openai.UserMessage(it.Message))
		case memory.SpeakerJarvis:
			msgs = append(msgs, openai.AssistantMessage(it.Message))
		}
	}
	return append(msgs, openai.UserMessage(prompt))
}
