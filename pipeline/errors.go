package pipeline

import (
	"context"
	"errors"
	"fmt"

	"dds_review_service/extractor"
	"dds_review_service/generator"
	"dds_review_service/publisher"
	"dds_review_service/source"
)

// Stage is a batch state.
type Stage string

const (
	StageReceived   Stage = "received"
	StageResolving  Stage = "resolving"
	StageExtracting Stage = "extracting"
	StageReviewing  Stage = "reviewing"
	StageRendering  Stage = "rendering"
	StageCompleted  Stage = "completed"
	StageFailed     Stage = "failed"
	StageWaiting    Stage = "waiting"
	StageIdle       Stage = "idle"
	StageFetching   Stage = "fetching"
)

// Kind classifies a pipeline failure.
type Kind string

const (
	KindIngestion         Kind = "ingestion"
	KindSourceResolution  Kind = "source_resolution"
	KindInvalidRemoteLink Kind = "invalid_remote_link"
	KindExtraction        Kind = "extraction"
	KindNoUsableContent   Kind = "no_usable_content"
	KindInstruction       Kind = "instruction"
	KindGeneration        Kind = "generation"
	KindTimeout           Kind = "timeout"
	KindRender            Kind = "render"
	KindNotFound          Kind = "not_found"
)

// Error is the failure surfaced to callers: where it happened, what kind
// of failure it is and a human-readable cause. Source names the offending
// document when there is one.
type Error struct {
	Stage  Stage
	Kind   Kind
	Source string
	Cause  string
	Err    error
}

func (e *Error) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("%s failed (%s) for %s: %s", e.Stage, e.Kind, e.Source, e.Cause)
	}
	return fmt.Sprintf("%s failed (%s): %s", e.Stage, e.Kind, e.Cause)
}

func (e *Error) Unwrap() error { return e.Err }

// AsError returns err as *Error when it is one.
func AsError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

func newError(stage Stage, kind Kind, err error) *Error {
	return &Error{Stage: stage, Kind: kind, Cause: err.Error(), Err: err}
}

// classify tags a component error raised during stage.
func classify(stage Stage, err error) *Error {
	if pe, ok := AsError(err); ok {
		return pe
	}
	var (
		re *source.ResolutionError
		ge *generator.GenerationError
	)
	e := newError(stage, "", err)
	switch {
	case errors.Is(err, generator.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		e.Kind = KindTimeout
	case errors.Is(err, source.ErrEmptySources):
		e.Kind = KindIngestion
	case errors.Is(err, source.ErrInvalidRemoteLink):
		e.Kind = KindInvalidRemoteLink
		if errors.As(err, &re) {
			e.Source = re.Source
		}
	case errors.As(err, &re):
		e.Kind = KindSourceResolution
		e.Source = re.Source
	case errors.Is(err, extractor.ErrUnreadable), errors.Is(err, extractor.ErrEmptyContent):
		e.Kind = KindExtraction
	case errors.Is(err, generator.ErrInstructionsNotFound), errors.Is(err, generator.ErrInstructionsEmpty):
		e.Kind = KindInstruction
	case errors.As(err, &ge):
		e.Kind = KindGeneration
	case errors.Is(err, publisher.ErrNotFound):
		e.Kind = KindNotFound
	default:
		switch stage {
		case StageRendering:
			e.Kind = KindRender
		case StageReviewing:
			e.Kind = KindGeneration
		case StageResolving:
			e.Kind = KindSourceResolution
		case StageExtracting:
			e.Kind = KindExtraction
		default:
			e.Kind = KindIngestion
		}
	}
	return e
}
