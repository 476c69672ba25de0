package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"
)

// Ollama provides an implementation of the LLM interface for interacting with a local Ollama
// server instance.
type Ollama struct {
	host        string
	model       string
	temperature float32
	maxTokens   int

	client *api.Client

	logger *slog.Logger
}

// NewOllama creates a new Ollama instance with the specified host URL and model name. The host
// parameter should be a valid URL pointing to an Ollama server. If the provided host URL is
// invalid, the function will panic.
func NewOllama(host, model string, temperature float32, maxTokens int, logger *slog.Logger) Ollama {
	u, err := url.Parse(host)
	if err != nil {
		panic(err)
	}

	return Ollama{
		host:        host,
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		client:      api.NewClient(u, &http.Client{}),
		logger:      logger.With(slog.String("module", "ollama")),
	}
}

// Complete sends a non-streaming chat request to the Ollama server and returns the full
// response content.
func (o Ollama) Complete(ctx context.Context, systemInstruction, userTurn string) (string, error) {
	f := false
	req := api.ChatRequest{
		Model: o.model,
		Messages: []api.Message{
			{
				Role:    "system",
				Content: systemInstruction,
			},
			{
				Role:    "user",
				Content: userTurn,
			},
		},
		Stream: &f,
		Options: map[string]any{
			"temperature": o.temperature,
			"num_predict": o.maxTokens,
		},
	}

	var content string
	if err := o.client.Chat(ctx, &req, func(res api.ChatResponse) error {
		content += res.Message.Content
		return nil
	}); err != nil {
		return "", fmt.Errorf("error sending request: %w", err)
	}

	o.logger.Debug("Completion received", slog.Int("length", len(content)))

	return content, nil
}
