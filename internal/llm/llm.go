// Package llm wraps the chat models the conversation miner uses for
// candidate extraction. Only plain text chat is needed here.
package llm

import (
	"context"
	"fmt"
)

type Message struct {
	Role    string
	Content string
}

type LLM interface {
	Chat(ctx context.Context, systemPrompt string, messages []Message) (string, error)
	Provider() string
	Model() string
}

type Config struct {
	Provider string
	APIKey   string
	Model    string
}

func New(cfg Config) (LLM, error) {
	switch cfg.Provider {
	case "claude":
		return newClaude(cfg.APIKey, cfg.Model), nil
	case "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
}
