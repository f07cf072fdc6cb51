package generator

import (
	"bytes"
	"context"
	"errors"
	"strings"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// openAIAssistants implements AssistantBackend with the Assistants API of
// the openai-go SDK.
type openAIAssistants struct {
	client openai.Client
}

func newOpenAIAssistants(cfg *LLMSettings) (*openAIAssistants, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key missing; provide llm.api_key or OPENAI_API_KEY")
	}
	return &openAIAssistants{client: openai.NewClient(clientOptions(cfg)...)}, nil
}

// newOpenAIAssistantsWithOptions is used by tests to point the SDK at a fake server.
func newOpenAIAssistantsWithOptions(opts ...option.RequestOption) *openAIAssistants {
	return &openAIAssistants{client: openai.NewClient(opts...)}
}

func (o *openAIAssistants) UploadFile(ctx context.Context, name string, data []byte) (string, error) {
	f, err := o.client.Files.New(ctx, openai.FileNewParams{
		File:    openai.File(bytes.NewReader(data), name, "application/pdf"),
		Purpose: openai.FilePurposeAssistants,
	})
	if err != nil {
		return "", err
	}
	return f.ID, nil
}

func (o *openAIAssistants) DeleteFile(ctx context.Context, fileID string) error {
	_, err := o.client.Files.Delete(ctx, fileID)
	return err
}

func (o *openAIAssistants) CreateThread(ctx context.Context) (string, error) {
	th, err := o.client.Beta.Threads.New(ctx, openai.BetaThreadNewParams{})
	if err != nil {
		return "", err
	}
	return th.ID, nil
}

func (o *openAIAssistants) PostMessage(ctx context.Context, threadID, content string, fileIDs []string) error {
	params := openai.BetaThreadMessageNewParams{
		Role:    openai.BetaThreadMessageNewParamsRoleUser,
		Content: openai.BetaThreadMessageNewParamsContentUnion{OfString: openai.String(content)},
	}
	for _, id := range fileIDs {
		params.Attachments = append(params.Attachments, openai.BetaThreadMessageNewParamsAttachment{
			FileID: openai.String(id),
			Tools: []openai.BetaThreadMessageNewParamsAttachmentToolUnion{
				{OfFileSearch: &openai.BetaThreadMessageNewParamsAttachmentToolFileSearch{}},
			},
		})
	}
	_, err := o.client.Beta.Threads.Messages.New(ctx, threadID, params)
	return err
}

func (o *openAIAssistants) StartRun(ctx context.Context, threadID, assistantID, instructions string) (Run, error) {
	params := openai.BetaThreadRunNewParams{AssistantID: assistantID}
	if instructions != "" {
		params.Instructions = openai.String(instructions)
	}
	r, err := o.client.Beta.Threads.Runs.New(ctx, threadID, params)
	if err != nil {
		return Run{}, err
	}
	return toRun(r), nil
}

func (o *openAIAssistants) GetRun(ctx context.Context, threadID, runID string) (Run, error) {
	r, err := o.client.Beta.Threads.Runs.Get(ctx, threadID, runID)
	if err != nil {
		return Run{}, err
	}
	return toRun(r), nil
}

func (o *openAIAssistants) CancelRun(ctx context.Context, threadID, runID string) error {
	_, err := o.client.Beta.Threads.Runs.Cancel(ctx, threadID, runID)
	return err
}

func (o *openAIAssistants) ListMessages(ctx context.Context, threadID string) ([]ThreadMessage, error) {
	page, err := o.client.Beta.Threads.Messages.List(ctx, threadID, openai.BetaThreadMessageListParams{
		Order: openai.BetaThreadMessageListParamsOrderDesc,
		Limit: openai.Int(20),
	})
	if err != nil {
		return nil, err
	}
	out := make([]ThreadMessage, 0, len(page.Data))
	for _, m := range page.Data {
		var parts []string
		for _, c := range m.Content {
			if c.Type == "text" {
				parts = append(parts, c.Text.Value)
			}
		}
		out = append(out, ThreadMessage{ID: m.ID, Role: string(m.Role), Text: strings.Join(parts, "\n")})
	}
	return out, nil
}

func toRun(r *openai.Run) Run {
	run := Run{ID: r.ID, Status: mapRunStatus(r.Status)}
	if r.LastError.Message != "" {
		run.LastError = r.LastError.Code + ": " + r.LastError.Message
	}
	return run
}

// mapRunStatus folds the backend's run states into RunStatus. A run that
// needs tool output cannot progress here and counts as failed.
func mapRunStatus(s openai.RunStatus) RunStatus {
	switch s {
	case openai.RunStatusQueued:
		return RunQueued
	case openai.RunStatusInProgress, openai.RunStatusCancelling:
		return RunRunning
	case openai.RunStatusCompleted:
		return RunCompleted
	case openai.RunStatusCancelled:
		return RunCancelled
	case openai.RunStatusExpired:
		return RunExpired
	case openai.RunStatusFailed, openai.RunStatusIncomplete, openai.RunStatusRequiresAction:
		return RunFailed
	default:
		return RunStatus(s)
	}
}
