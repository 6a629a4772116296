// Package llm talks to the language-model providers and turns their replies
// into validated JSON.
package llm

import (
	"context"
	"fmt"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"google.golang.org/genai"

	"github.com/joelkehle/challenge-pipeline/internal/config"
)

const (
	DefaultAnthropicModel = string(anthropic.ModelClaudeSonnet4_20250514)
	DefaultGeminiModel    = "gemini-2.5-flash"
)

// Caller sends one system + user prompt pair and returns the raw reply text.
type Caller interface {
	GenerateJSON(ctx context.Context, system, prompt string) (string, error)
}

// Request settings shared by both providers.
type Settings struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

type AnthropicMessager interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

type AnthropicClientCreator func(apiKey string) AnthropicMessager

func defaultAnthropicCreator(apiKey string) AnthropicMessager {
	c := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &c.Messages
}

var newAnthropicClient AnthropicClientCreator = defaultAnthropicCreator

type AnthropicCaller struct {
	messages AnthropicMessager
	settings Settings
}

func NewAnthropicCaller(apiKey string, s Settings) *AnthropicCaller {
	if s.Model == "" {
		s.Model = DefaultAnthropicModel
	}
	if s.MaxTokens <= 0 {
		s.MaxTokens = 4096
	}
	return &AnthropicCaller{messages: newAnthropicClient(apiKey), settings: s}
}

func (a *AnthropicCaller) GenerateJSON(ctx context.Context, system, prompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(a.settings.Model),
		MaxTokens:   int64(a.settings.MaxTokens),
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(prompt))},
		Temperature: anthropic.Float(a.settings.Temperature),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	resp, err := a.messages.New(ctx, params)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, b := range resp.Content {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	return sb.String(), nil
}

// GeminiModels is the slice of *genai.Models the caller needs.
type GeminiModels interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type GeminiClientCreator func(ctx context.Context, apiKey string) (GeminiModels, error)

func defaultGeminiCreator(ctx context.Context, apiKey string) (GeminiModels, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return client.Models, nil
}

var newGeminiClient GeminiClientCreator = defaultGeminiCreator

type GeminiCaller struct {
	models   GeminiModels
	settings Settings
}

func NewGeminiCaller(ctx context.Context, apiKey string, s Settings) (*GeminiCaller, error) {
	if s.Model == "" {
		s.Model = DefaultGeminiModel
	}
	models, err := newGeminiClient(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	return &GeminiCaller{models: models, settings: s}, nil
}

func (g *GeminiCaller) GenerateJSON(ctx context.Context, system, prompt string) (string, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(float32(g.settings.Temperature)),
		ResponseMIMEType: "application/json",
	}
	if g.settings.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(g.settings.MaxTokens)
	}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	resp, err := g.models.GenerateContent(ctx, g.settings.Model, genai.Text(prompt), cfg)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// NewCaller builds the caller for the configured provider. The API key is
// checked first so a missing credential fails before any client exists.
func NewCaller(ctx context.Context, cfg *config.Config) (Caller, error) {
	key, err := cfg.LLMAPIKey()
	if err != nil {
		return nil, err
	}
	s := Settings{
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	}
	switch cfg.LLM.Provider {
	case config.ProviderGemini:
		g, err := NewGeminiCaller(ctx, key, s)
		if err != nil {
			return nil, err
		}
		return g, nil
	default:
		return NewAnthropicCaller(key, s), nil
	}
}

// ProviderName labels metrics and spans for c.
func ProviderName(c Caller) string {
	switch c.(type) {
	case *AnthropicCaller:
		return config.ProviderAnthropic
	case *GeminiCaller:
		return config.ProviderGemini
	default:
		return "custom"
	}
}

// ModelFor returns the model name the configured provider will use.
func ModelFor(cfg *config.Config) string {
	if m := strings.TrimSpace(cfg.LLM.Model); m != "" {
		return m
	}
	if cfg.LLM.Provider == config.ProviderGemini {
		return DefaultGeminiModel
	}
	return DefaultAnthropicModel
}
