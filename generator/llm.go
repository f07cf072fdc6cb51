package generator

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// LLMClient abstracts a single-shot chat model so it can be swapped or mocked.
type LLMClient interface {
	Complete(ctx context.Context, prompt Prompt) (string, error)
}

// Review modes.
const (
	ModeChat      = "chat"
	ModeAssistant = "assistant"
)

// LLMSettings configures the review backend.
type LLMSettings struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
	Mode     string

	Temperature float64
	MaxTokens   int64

	AssistantID     string
	PollInterval    time.Duration
	PollTimeout     time.Duration
	MaxPollAttempts int
	AttachDocuments bool

	HTTPClient *http.Client
	Logger     *slog.Logger
}
