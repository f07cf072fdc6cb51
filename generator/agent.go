package generator

import (
	"context"
	"errors"
)

// Agent reviews a batch with one synchronous chat completion.
type Agent struct {
	llm LLMClient
}

func NewAgent(llm LLMClient) (*Agent, error) {
	if llm == nil {
		return nil, errors.New("llm client is required")
	}
	return &Agent{llm: llm}, nil
}

// Review sends instructions and corpus in one exchange. The synchronous
// protocol has no run handle, so a success is always RunCompleted.
func (a *Agent) Review(ctx context.Context, req ReviewRequest) (ReviewResult, error) {
	raw, err := a.llm.Complete(ctx, BuildPrompt(req))
	if err != nil {
		return ReviewResult{}, classify(err)
	}
	text, err := Normalize(raw)
	if err != nil {
		return ReviewResult{}, err
	}
	return ReviewResult{Text: text, Status: RunCompleted}, nil
}
