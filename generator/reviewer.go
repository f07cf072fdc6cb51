package generator

import (
	"context"
	"fmt"
	"log/slog"
)

// Reviewer executes one review. The orchestrator only sees this interface,
// whatever protocol the backend speaks.
type Reviewer interface {
	Review(ctx context.Context, req ReviewRequest) (ReviewResult, error)
}

// NewReviewer builds the reviewer selected by cfg.
func NewReviewer(cfg *LLMSettings) (Reviewer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("llm config is nil")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Provider {
	case "mock":
		return NewAgent(MockLLM{})
	case "openai", "deepseek":
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
	if cfg.Provider == "deepseek" && cfg.BaseURL == "" {
		return nil, fmt.Errorf("deepseek provider requires llm.base_url")
	}

	switch cfg.Mode {
	case "", ModeChat:
		llm, err := NewOpenAILLMFromConfig(cfg)
		if err != nil {
			return nil, err
		}
		return NewAgent(llm)
	case ModeAssistant:
		if cfg.Provider != "openai" {
			return nil, fmt.Errorf("assistant mode requires the openai provider, got %q", cfg.Provider)
		}
		backend, err := newOpenAIAssistants(cfg)
		if err != nil {
			return nil, err
		}
		return NewAssistantReviewer(backend, AssistantConfig{
			AssistantID:     cfg.AssistantID,
			PollInterval:    cfg.PollInterval,
			PollTimeout:     cfg.PollTimeout,
			MaxPollAttempts: cfg.MaxPollAttempts,
			AttachDocuments: cfg.AttachDocuments,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown llm mode %q", cfg.Mode)
	}
}
