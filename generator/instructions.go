package generator

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// InstructionLoader supplies the fixed system prompt of the review.
type InstructionLoader interface {
	Load(ctx context.Context) (string, error)
}

// FileInstructions reads the prompt from disk on every call, so edits to
// the file apply to the next batch without a restart.
type FileInstructions struct {
	Path string
}

func (f FileInstructions) Load(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrInstructionsNotFound, f.Path)
		}
		return "", fmt.Errorf("read instructions %s: %w", f.Path, err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", fmt.Errorf("%w: %s", ErrInstructionsEmpty, f.Path)
	}
	return text, nil
}

// StaticInstructions is a prompt held in memory.
type StaticInstructions string

func (s StaticInstructions) Load(context.Context) (string, error) {
	text := strings.TrimSpace(string(s))
	if text == "" {
		return "", ErrInstructionsEmpty
	}
	return text, nil
}
