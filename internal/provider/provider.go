package provider

import (
	"context"
	"errors"

	"github.com/diego-ramazzini/muniagent/config"
	"github.com/diego-ramazzini/muniagent/internal/provider/openrouter"
)

// Message is one turn of a chat-completion conversation.
type Message = openrouter.Message

// Provider is the capability surface the answer pipeline depends on. The
// language model and embedding model are external services behind it.
type Provider interface {
	// ChatStream runs a streaming completion, invoking onDelta for every
	// decoded text increment in order. onDelta returning an error stops
	// upstream consumption immediately.
	ChatStream(ctx context.Context, messages []Message, onDelta func(delta string) error) error

	// Complete runs a non-streaming completion and returns the full text.
	Complete(ctx context.Context, messages []Message) (string, error)

	// CreateEmbedding returns one vector per input text.
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// Client identifies an LLM provider implementation.
type Client string

const (
	OpenRouter Client = "openrouter"
)

// NewProvider builds a Provider from configuration.
func NewProvider(client Client, cfg config.OpenRouterConfig) (Provider, error) {
	switch client {
	case OpenRouter:
		if cfg.APIKey == "" {
			return nil, errors.New("openrouter api key not configured (providers.openrouter.api_key)")
		}
		return openrouter.NewClient(cfg), nil
	default:
		return nil, errors.New("unsupported LLM provider")
	}
}
