package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/quickdoc/docchat-web-ui/internal/handlers"
	"github.com/quickdoc/docchat-web-ui/internal/services"
	"gopkg.in/yaml.v3"
)

const (
	defaultPort        = "8080"
	defaultTemperature = 0.7
	defaultMaxTokens   = 2000
)

type llmConfig interface {
	llm(logger *slog.Logger) (handlers.LLM, error)
}

// BaseLLMConfig contains the common fields for all LLM configurations.
type BaseLLMConfig struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"maxTokens"`
}

type config struct {
	Port        string    `yaml:"port"`
	OCRLanguage string    `yaml:"ocrLanguage"`
	LLM         llmConfig `yaml:"llm"`
}

type geminiConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
}

type groqConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
	BaseURL       string `yaml:"baseURL"`
}

type ollamaConfig struct {
	BaseLLMConfig `yaml:",inline"`
	Host          string `yaml:"host"`
}

func (c *config) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig struct {
		Port        string         `yaml:"port"`
		OCRLanguage string         `yaml:"ocrLanguage"`
		LLM         map[string]any `yaml:"llm"`
	}

	if err := value.Decode(&rawConfig); err != nil {
		return err
	}

	c.Port = rawConfig.Port
	if c.Port == "" {
		c.Port = defaultPort
	}
	c.OCRLanguage = rawConfig.OCRLanguage

	llmProvider, ok := rawConfig.LLM["provider"].(string)
	if !ok {
		return fmt.Errorf("llm provider is required")
	}

	llmRawYAML, err := yaml.Marshal(rawConfig.LLM)
	if err != nil {
		return err
	}

	var llm llmConfig
	switch llmProvider {
	case "gemini":
		llm = &geminiConfig{}
	case "groq":
		llm = &groqConfig{}
	case "ollama":
		llm = &ollamaConfig{}
	default:
		return fmt.Errorf("unknown llm provider: %s", llmProvider)
	}

	if err := yaml.Unmarshal(llmRawYAML, llm); err != nil {
		return err
	}

	c.LLM = llm

	return nil
}

// generation applies the shared defaults for sampling parameters.
func (b BaseLLMConfig) generation() (float32, int) {
	temperature := b.Temperature
	if temperature == 0 {
		temperature = defaultTemperature
	}
	maxTokens := b.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}
	return temperature, maxTokens
}

func (g geminiConfig) llm(logger *slog.Logger) (handlers.LLM, error) {
	if g.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	apiKey := g.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}

	temperature, maxTokens := g.generation()
	return services.NewGemini(apiKey, g.Model, temperature, maxTokens, logger), nil
}

func (g groqConfig) llm(logger *slog.Logger) (handlers.LLM, error) {
	if g.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	apiKey := g.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("GROQ_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("groq api key is required")
	}

	temperature, maxTokens := g.generation()
	return services.NewGroq(apiKey, g.BaseURL, g.Model, temperature, maxTokens, logger), nil
}

func (o ollamaConfig) llm(logger *slog.Logger) (handlers.LLM, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	host := o.Host
	if host == "" {
		host = os.Getenv("OLLAMA_HOST")
	}
	if host == "" {
		host = "http://localhost:11434"
	}

	temperature, maxTokens := o.generation()
	return services.NewOllama(host, o.Model, temperature, maxTokens, logger), nil
}
