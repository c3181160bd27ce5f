// Package llm is a thin provider-neutral chat completion layer over the
// OpenAI (and OpenAI-compatible, e.g. OpenRouter), Anthropic and Gemini SDKs.
package llm

import (
	"context"
	"fmt"
	"strings"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const defaultMaxTokens = 1024

type Message struct {
	Role    string
	Content string
}

// Request is one completion call. Zero Temperature and MaxTokens leave the
// provider defaults in place; JSON asks the provider for a JSON object reply
// where the API supports it.
type Request struct {
	Messages    []Message
	Temperature float64
	MaxTokens   int
	JSON        bool
}

type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

type Option func(*clientOptions)

type clientOptions struct {
	baseURL string
}

func WithBaseURL(url string) Option {
	return func(o *clientOptions) {
		o.baseURL = url
	}
}

// ParseModel splits "provider/model". Only the first slash separates, so
// OpenRouter-style names such as "openai/google/gemini-2.0-flash-001" keep
// their vendor prefix in the model part.
func ParseModel(model string) (provider, modelName string, err error) {
	parts := strings.SplitN(model, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid model format %q: expected provider/model_name", model)
	}
	return parts[0], parts[1], nil
}

func NewClient(provider, apiKey, model string, opts ...Option) (Client, error) {
	o := &clientOptions{}
	for _, opt := range opts {
		opt(o)
	}

	switch provider {
	case "openai":
		return newOpenAIClient(apiKey, model, o)
	case "anthropic":
		return newAnthropicClient(apiKey, model, o)
	case "gemini":
		return newGeminiClient(apiKey, model, o)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q: supported providers are openai, anthropic, gemini", provider)
	}
}

func hasUserMessage(messages []Message) bool {
	for _, m := range messages {
		if m.Role == RoleUser {
			return true
		}
	}
	return false
}
