package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// Gemini provides an implementation of the LLM interface backed by the Google Generative
// Language REST API.
type Gemini struct {
	apiKey      string
	model       string
	temperature float32
	maxTokens   int

	endpoint string
	client   *http.Client

	logger *slog.Logger
}

type geminiRequest struct {
	SystemInstruction *geminiContent   `json:"systemInstruction,omitempty"`
	Contents          []geminiContent  `json:"contents"`
	GenerationConfig  *geminiGenConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenConfig struct {
	Temperature     float32 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *geminiError `json:"error,omitempty"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

const geminiAPIEndpoint = "https://generativelanguage.googleapis.com/v1beta"

// NewGemini creates a new Gemini instance with the specified API key, model name, sampling
// temperature, and output token ceiling.
func NewGemini(apiKey, model string, temperature float32, maxTokens int, logger *slog.Logger) Gemini {
	return Gemini{
		apiKey:      apiKey,
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		endpoint:    geminiAPIEndpoint,
		client:      &http.Client{},
		logger:      logger.With(slog.String("module", "gemini")),
	}
}

// Complete sends a single-turn generateContent request and returns the first candidate's text.
// The context bounds the call; the response is not streamed.
func (g Gemini) Complete(ctx context.Context, systemInstruction, userTurn string) (string, error) {
	reqBody := geminiRequest{
		SystemInstruction: &geminiContent{
			Parts: []geminiPart{{Text: systemInstruction}},
		},
		Contents: []geminiContent{
			{
				Role:  "user",
				Parts: []geminiPart{{Text: userTurn}},
			},
		},
		GenerationConfig: &geminiGenConfig{
			Temperature:     g.temperature,
			MaxOutputTokens: g.maxTokens,
		},
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("error marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", g.endpoint, g.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonBody))
	if err != nil {
		return "", fmt.Errorf("error creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("error reading response: %w", err)
	}

	var res geminiResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return "", fmt.Errorf("error unmarshaling response: %w", err)
	}

	if res.Error != nil {
		return "", fmt.Errorf("gemini error %s: %s", res.Error.Status, res.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(body))
	}
	if len(res.Candidates) == 0 {
		return "", errors.New("no candidates found")
	}

	var text string
	for _, part := range res.Candidates[0].Content.Parts {
		text += part.Text
	}

	g.logger.Debug("Completion received", slog.Int("length", len(text)))

	return text, nil
}
