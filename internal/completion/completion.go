// Package completion wraps the external language-model completion service
// behind a small interface: given an ordered list of role-tagged turns it
// returns a single assistant turn, or fails.
package completion

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/echobot/chat-relay/internal/history"
)

// Completer is the completion capability the reply pipeline depends on.
type Completer interface {
	Complete(ctx context.Context, turns []history.Turn) (history.Turn, error)
}

// Config holds the completion service credentials and generation parameters.
type Config struct {
	APIKey           string
	Model            string
	Temperature      float32
	MaxTokens        int
	TopP             float32
	FrequencyPenalty float32
	PresencePenalty  float32
}

// DefaultConfig returns the fixed generation parameters the relay runs with.
func DefaultConfig() Config {
	return Config{
		Model:       openai.GPT3Dot5Turbo,
		Temperature: 1,
		MaxTokens:   256,
		TopP:        1,
	}
}

// Client is a Completer backed by the OpenAI chat completions API.
type Client struct {
	api *openai.Client
	cfg Config
}

// NewClient creates a Client with the given config.
func NewClient(cfg Config) *Client {
	return &Client{
		api: openai.NewClient(cfg.APIKey),
		cfg: cfg,
	}
}

// Complete sends the turns to the chat completions endpoint and returns the
// first choice as an assistant turn. The turn roles map directly onto the
// API's role strings. No timeout is imposed here beyond the API client's
// own; cancellation is the caller's ctx.
func (c *Client) Complete(ctx context.Context, turns []history.Turn) (history.Turn, error) {
	msgs := make([]openai.ChatCompletionMessage, len(turns))
	for i, t := range turns {
		msgs[i] = openai.ChatCompletionMessage{Role: t.Role, Content: t.Content}
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:            c.cfg.Model,
		Messages:         msgs,
		Temperature:      c.cfg.Temperature,
		MaxTokens:        c.cfg.MaxTokens,
		TopP:             c.cfg.TopP,
		FrequencyPenalty: c.cfg.FrequencyPenalty,
		PresencePenalty:  c.cfg.PresencePenalty,
	})
	if err != nil {
		return history.Turn{}, fmt.Errorf("completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return history.Turn{}, errors.New("completion: response contained no choices")
	}

	return history.Turn{
		Role:    history.RoleAssistant,
		Content: resp.Choices[0].Message.Content,
	}, nil
}
