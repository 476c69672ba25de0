package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	goopenai "github.com/sashabaranov/go-openai"
)

// Groq provides an implementation of the LLM interface for Groq's hosted models. Groq exposes
// an OpenAI-compatible chat completion API, so the client is the go-openai client pointed at
// the Groq base URL.
type Groq struct {
	model       string
	temperature float32
	maxTokens   int

	client *goopenai.Client

	logger *slog.Logger
}

const groqAPIEndpoint = "https://api.groq.com/openai/v1"

// NewGroq creates a new Groq instance with the specified API key, model name, sampling
// temperature, and output token ceiling. baseURL overrides the Groq endpoint when non-empty.
func NewGroq(apiKey, baseURL, model string, temperature float32, maxTokens int, logger *slog.Logger) Groq {
	if baseURL == "" {
		baseURL = groqAPIEndpoint
	}
	cfg := goopenai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL

	return Groq{
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		client:      goopenai.NewClientWithConfig(cfg),
		logger:      logger.With(slog.String("module", "groq")),
	}
}

// Complete sends a non-streaming chat completion request with the system instruction and the
// single user turn, returning the first choice's content.
func (g Groq) Complete(ctx context.Context, systemInstruction, userTurn string) (string, error) {
	req := goopenai.ChatCompletionRequest{
		Model: g.model,
		Messages: []goopenai.ChatCompletionMessage{
			{
				Role:    goopenai.ChatMessageRoleSystem,
				Content: systemInstruction,
			},
			{
				Role:    goopenai.ChatMessageRoleUser,
				Content: userTurn,
			},
		},
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
	}

	resp, err := g.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("error sending request: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", errors.New("no choices found")
	}

	g.logger.Debug("Completion received", slog.Int("length", len(resp.Choices[0].Message.Content)))

	return resp.Choices[0].Message.Content, nil
}
