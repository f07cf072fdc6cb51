package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Run is a backend run handle with its normalized status.
type Run struct {
	ID        string
	Status    RunStatus
	LastError string
}

// ThreadMessage is one message of a conversation thread.
type ThreadMessage struct {
	ID   string
	Role string
	Text string
}

// AssistantBackend is the asynchronous review protocol: files, a thread, a
// message, a run to poll and the messages it produced.
type AssistantBackend interface {
	UploadFile(ctx context.Context, name string, data []byte) (string, error)
	DeleteFile(ctx context.Context, fileID string) error
	CreateThread(ctx context.Context) (string, error)
	PostMessage(ctx context.Context, threadID, content string, fileIDs []string) error
	StartRun(ctx context.Context, threadID, assistantID, instructions string) (Run, error)
	GetRun(ctx context.Context, threadID, runID string) (Run, error)
	CancelRun(ctx context.Context, threadID, runID string) error
	// ListMessages returns the thread's messages newest first.
	ListMessages(ctx context.Context, threadID string) ([]ThreadMessage, error)
}

// AssistantConfig bounds the polling loop.
type AssistantConfig struct {
	AssistantID     string
	PollInterval    time.Duration
	PollTimeout     time.Duration
	MaxPollAttempts int
	AttachDocuments bool
}

const (
	defaultPollInterval = 2 * time.Second
	cleanupTimeout      = 15 * time.Second
)

// AssistantReviewer runs the asynchronous review protocol and polls the
// run until it reaches a terminal state or the configured bound.
type AssistantReviewer struct {
	backend AssistantBackend
	cfg     AssistantConfig
	logger  *slog.Logger
}

func NewAssistantReviewer(backend AssistantBackend, cfg AssistantConfig, logger *slog.Logger) (*AssistantReviewer, error) {
	if backend == nil {
		return nil, errors.New("assistant backend is required")
	}
	if cfg.AssistantID == "" {
		return nil, errors.New("assistant id is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.PollTimeout <= 0 && cfg.MaxPollAttempts <= 0 {
		return nil, errors.New("assistant polling needs poll_timeout or max_poll_attempts")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AssistantReviewer{backend: backend, cfg: cfg, logger: logger}, nil
}

func (a *AssistantReviewer) Review(ctx context.Context, req ReviewRequest) (ReviewResult, error) {
	log := a.logger.With("batch_id", req.CorrelationID)

	var fileIDs []string
	if a.cfg.AttachDocuments {
		defer func() { a.deleteFiles(ctx, log, fileIDs) }()
		for _, doc := range req.Documents {
			id, err := a.backend.UploadFile(ctx, doc.Name, doc.Data)
			if err != nil {
				return ReviewResult{}, classify(err)
			}
			fileIDs = append(fileIDs, id)
		}
	}

	threadID, err := a.backend.CreateThread(ctx)
	if err != nil {
		return ReviewResult{}, classify(err)
	}
	if err := a.backend.PostMessage(ctx, threadID, req.Corpus, fileIDs); err != nil {
		return ReviewResult{}, classify(err)
	}
	run, err := a.backend.StartRun(ctx, threadID, a.cfg.AssistantID, req.Instructions)
	if err != nil {
		return ReviewResult{}, classify(err)
	}
	log.Info("review run started", "thread_id", threadID, "run_id", run.ID, "files", len(fileIDs))

	run, err = a.poll(ctx, threadID, run)
	if err != nil {
		return ReviewResult{RunID: run.ID, Status: run.Status}, err
	}
	log.Info("review run finished", "run_id", run.ID, "status", run.Status)

	if run.Status != RunCompleted {
		var cause error
		if run.LastError != "" {
			cause = errors.New(run.LastError)
		}
		return ReviewResult{RunID: run.ID, Status: run.Status}, &GenerationError{Cause: CauseRunState, State: run.Status, Err: cause}
	}

	msgs, err := a.backend.ListMessages(ctx, threadID)
	if err != nil {
		return ReviewResult{RunID: run.ID, Status: run.Status}, classify(err)
	}
	for _, m := range msgs {
		if m.Role != "assistant" {
			continue
		}
		// Only the newest assistant message counts, even when it is blank.
		if strings.TrimSpace(m.Text) == "" {
			break
		}
		text, err := Normalize(m.Text)
		if err != nil {
			return ReviewResult{RunID: run.ID, Status: run.Status}, err
		}
		return ReviewResult{Text: text, RunID: run.ID, Status: run.Status}, nil
	}
	log.Warn("review run completed without an assistant message", "run_id", run.ID)
	return ReviewResult{Empty: true, RunID: run.ID, Status: run.Status}, nil
}

// poll waits for run to reach a terminal state. Exceeding PollTimeout or
// MaxPollAttempts, or the caller's deadline, yields ErrTimeout after a
// best-effort cancel of the run.
func (a *AssistantReviewer) poll(ctx context.Context, threadID string, run Run) (Run, error) {
	pollCtx := ctx
	if a.cfg.PollTimeout > 0 {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithTimeout(ctx, a.cfg.PollTimeout)
		defer cancel()
	}

	timer := time.NewTimer(a.cfg.PollInterval)
	defer timer.Stop()

	for attempts := 0; !run.Status.Terminal(); {
		if a.cfg.MaxPollAttempts > 0 && attempts >= a.cfg.MaxPollAttempts {
			return run, a.timeout(ctx, threadID, run, attempts)
		}
		timer.Reset(a.cfg.PollInterval)
		select {
		case <-pollCtx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return run, ctx.Err()
			}
			return run, a.timeout(ctx, threadID, run, attempts)
		case <-timer.C:
		}

		next, err := a.backend.GetRun(pollCtx, threadID, run.ID)
		attempts++
		if err != nil {
			if pollCtx.Err() != nil && !errors.Is(ctx.Err(), context.Canceled) {
				return run, a.timeout(ctx, threadID, run, attempts)
			}
			return run, classify(err)
		}
		if next.Status != run.Status {
			a.logger.Debug("review run status", "run_id", run.ID, "status", next.Status, "attempt", attempts)
		}
		run = next
	}
	return run, nil
}

func (a *AssistantReviewer) timeout(ctx context.Context, threadID string, run Run, attempts int) error {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := a.backend.CancelRun(cctx, threadID, run.ID); err != nil {
		a.logger.Warn("cancel review run", "run_id", run.ID, "error", err)
	}
	return fmt.Errorf("%w: run %s still %s after %d polls", ErrTimeout, run.ID, run.Status, attempts)
}

func (a *AssistantReviewer) deleteFiles(ctx context.Context, log *slog.Logger, ids []string) {
	if len(ids) == 0 {
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	for _, id := range ids {
		if err := a.backend.DeleteFile(cctx, id); err != nil {
			log.Warn("delete uploaded file", "file_id", id, "error", err)
		}
	}
}
