package generator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/openai/openai-go"
)

var (
	// ErrInstructionsNotFound is returned when the instruction file is absent.
	ErrInstructionsNotFound = errors.New("instructions not found")
	// ErrInstructionsEmpty is returned when the instruction file is blank.
	ErrInstructionsEmpty = errors.New("instructions are empty")
	// ErrTimeout is returned when a review run does not finish within the
	// configured polling bound.
	ErrTimeout = errors.New("review timed out")
)

// Cause classifies a generation failure.
type Cause string

const (
	CauseQuota         Cause = "quota"
	CauseContentLength Cause = "content_length"
	CauseRateLimit     Cause = "rate_limit"
	CauseNetwork       Cause = "network"
	CauseBackend       Cause = "backend"
	CauseRunState      Cause = "run_state"
	CauseEmptyResult   Cause = "empty_result"
)

// GenerationError is a failure reported by, or about, the review backend.
// State is set for CauseRunState and names the terminal run state.
type GenerationError struct {
	Cause Cause
	State RunStatus
	Err   error
}

func (e *GenerationError) Error() string {
	msg := "generation failed: " + string(e.Cause)
	if e.State != "" {
		msg += " (run " + string(e.State) + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *GenerationError) Unwrap() error { return e.Err }

// classify maps an SDK error to a GenerationError. Context errors pass
// through untouched so that callers can tell cancellation from failure.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var ge *GenerationError
	if errors.As(err, &ge) {
		return err
	}

	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return &GenerationError{Cause: CauseNetwork, Err: err}
	}
	code := strings.ToLower(apiErr.Code + " " + apiErr.Type)
	// apiErr.Error() dereferences the request; keep only the API message.
	cause := fmt.Errorf("%d %s", apiErr.StatusCode, apiErr.Message)
	switch {
	case strings.Contains(code, "insufficient_quota"):
		return &GenerationError{Cause: CauseQuota, Err: cause}
	case strings.Contains(code, "context_length_exceeded"), apiErr.StatusCode == http.StatusRequestEntityTooLarge:
		return &GenerationError{Cause: CauseContentLength, Err: cause}
	case apiErr.StatusCode == http.StatusTooManyRequests:
		return &GenerationError{Cause: CauseRateLimit, Err: cause}
	default:
		return &GenerationError{Cause: CauseBackend, Err: cause}
	}
}
