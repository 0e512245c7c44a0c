// Package ai bridges assistant conversations to a language model provider.
// It converts stored conversation history into chat prompts, generates
// replies through langchaingo, and enforces a per-user fixed-window budget
// so a single user cannot exhaust the provider quota.
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Supported providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

// Role of a single prompt message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// PromptMessage is one turn of conversation history handed to the model.
type PromptMessage struct {
	Role    Role
	Content string
}

// Responder produces an assistant reply for the given conversation history.
// The last entry is the message being answered.
type Responder interface {
	Respond(ctx context.Context, history []PromptMessage) (string, error)
}

// Config selects and authenticates the model provider.
type Config struct {
	Provider   string
	Model      string
	APIKey     string
	OllamaHost string
	// SystemPrompt is prepended to every request when the history carries no
	// system turn of its own.
	SystemPrompt string
}

const defaultSystemPrompt = "You are a helpful assistant participating in a chat conversation. " +
	"Answer concisely and stay on topic."

// LLMResponder generates replies through a langchaingo chat model.
type LLMResponder struct {
	llm          llms.Model
	modelName    string
	systemPrompt string
}

// NewLLMResponder creates a Responder for the configured provider.
func NewLLMResponder(cfg Config) (*LLMResponder, error) {
	var model llms.Model
	var err error

	switch cfg.Provider {
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, errors.New("ai: OpenAI API key required")
		}
		model, err = openai.New(
			openai.WithToken(cfg.APIKey),
			openai.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("ai: create openai model: %w", err)
		}

	case ProviderAnthropic:
		if cfg.APIKey == "" {
			return nil, errors.New("ai: Anthropic API key required")
		}
		model, err = anthropic.New(
			anthropic.WithToken(cfg.APIKey),
			anthropic.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("ai: create anthropic model: %w", err)
		}

	case ProviderOllama:
		model, err = ollama.New(
			ollama.WithModel(cfg.Model),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if err != nil {
			return nil, fmt.Errorf("ai: create ollama model: %w", err)
		}

	default:
		return nil, fmt.Errorf("ai: unsupported provider: %q", cfg.Provider)
	}

	sys := cfg.SystemPrompt
	if sys == "" {
		sys = defaultSystemPrompt
	}
	return &LLMResponder{llm: model, modelName: cfg.Model, systemPrompt: sys}, nil
}

var _ Responder = (*LLMResponder)(nil)

// Respond implements Responder.
func (r *LLMResponder) Respond(ctx context.Context, history []PromptMessage) (string, error) {
	if len(history) == 0 {
		return "", errors.New("ai: empty history")
	}

	messages := make([]llms.MessageContent, 0, len(history)+1)
	hasSystem := false
	for _, m := range history {
		if m.Role == RoleSystem {
			hasSystem = true
		}
	}
	if !hasSystem {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, r.systemPrompt))
	}
	for _, m := range history {
		messages = append(messages, llms.TextParts(chatType(m.Role), m.Content))
	}

	resp, err := r.llm.GenerateContent(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("ai: generate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("ai: no response choices")
	}
	content := strings.TrimSpace(resp.Choices[0].Content)
	if content == "" {
		return "", errors.New("ai: empty response")
	}
	return content, nil
}

// Model returns the configured model name.
func (r *LLMResponder) Model() string { return r.modelName }

func chatType(role Role) llms.ChatMessageType {
	switch role {
	case RoleSystem:
		return llms.ChatMessageTypeSystem
	case RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}
