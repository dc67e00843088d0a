// Package ai turns a natural-language request plus the current Strudel code
// into new code through an OpenAI-compatible chat completion endpoint.
package ai

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/sashabaranov/go-openai"

	"vibepie/pkg/interfaces"
)

var ErrEmptyCompletion = errors.New("empty response from model")

// Config selects the model endpoint and sampling parameters.
type Config struct {
	APIKey      string        `json:"-" toml:"-"`
	BaseURL     string        `json:"base_url" toml:"base_url"`
	Model       string        `json:"model" toml:"model"`
	Temperature float32       `json:"temperature" toml:"temperature"`
	MaxTokens   int           `json:"max_tokens" toml:"max_tokens"`
	TopP        float32       `json:"top_p" toml:"top_p"`
	Timeout     time.Duration `json:"timeout" toml:"timeout"`
}

func DefaultConfig() Config {
	return Config{
		BaseURL:     "https://api.deepseek.com/v1",
		Model:       "deepseek-chat",
		Temperature: 0.7,
		MaxTokens:   2048,
		TopP:        0.9,
		Timeout:     30 * time.Second,
	}
}

// ChatGenerator calls a chat completion endpoint.
type ChatGenerator struct {
	client *openai.Client
	cfg    Config
}

// NewGenerator returns a ChatGenerator, or a MockGenerator when no API key
// is configured.
func NewGenerator(cfg Config) interfaces.Generator {
	if cfg.APIKey == "" {
		log.Printf("WARNING: no model API key configured, using mock generation")
		return &MockGenerator{}
	}
	return NewChatGenerator(cfg)
}

func NewChatGenerator(cfg Config) *ChatGenerator {
	defaults := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaults.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaults.Model
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = cfg.BaseURL

	key := cfg.APIKey
	if len(key) > 8 {
		key = key[:8]
	}
	log.Printf("Model client ready (key %s..., model %s, endpoint %s)", key, cfg.Model, cfg.BaseURL)

	return &ChatGenerator{client: openai.NewClientWithConfig(clientCfg), cfg: cfg}
}

// Generate implements interfaces.Generator.
func (g *ChatGenerator) Generate(ctx context.Context, currentCode, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model: g.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userMessage(currentCode, prompt)},
		},
		Temperature: g.cfg.Temperature,
		MaxTokens:   g.cfg.MaxTokens,
		TopP:        g.cfg.TopP,
	}

	log.Printf("Sending to model (model %s, code length %d)", g.cfg.Model, len(currentCode))
	resp, err := g.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}

	code := StripCodeFences(resp.Choices[0].Message.Content)
	if code == "" {
		return "", ErrEmptyCompletion
	}
	return code, nil
}

// MockGenerator marks the current code with the request. Used when no
// model is configured.
type MockGenerator struct{}

func (MockGenerator) Generate(ctx context.Context, currentCode, prompt string) (string, error) {
	log.Printf("Mock generating for %q", prompt)
	return fmt.Sprintf("// 🎵 Modified: %s\n%s", prompt, currentCode), nil
}
