// Package extractor turns PDF bytes into plain text.
//
// Parsing is done by pdfcpu; this package only walks the decoded page
// content streams and collects the text-showing operators. A document that
// parses but carries no text (scanned pages, empty pages) is reported as
// ErrEmptyContent so that callers never review an empty corpus.
package extractor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

var (
	// ErrUnreadable is returned when the bytes are not a parseable PDF.
	ErrUnreadable = errors.New("unreadable document")
	// ErrEmptyContent is returned when a PDF parses but yields no text.
	ErrEmptyContent = errors.New("document has no extractable text")
)

// Text is the result of a successful extraction.
type Text struct {
	Content string `json:"content"`
	Pages   int    `json:"pages"`
}

// Extractor converts one document to text.
type Extractor interface {
	Extract(ctx context.Context, name string, data []byte) (Text, error)
}

// PDF extracts text with pdfcpu.
type PDF struct {
	logger *slog.Logger
}

// NewPDF creates a PDF extractor. A nil logger uses slog.Default().
func NewPDF(logger *slog.Logger) *PDF {
	if logger == nil {
		logger = slog.Default()
	}
	return &PDF{logger: logger}
}

var pdfHeader = []byte("%PDF-")

// Extract parses data and returns the text of every page in page order.
func (p *PDF) Extract(ctx context.Context, name string, data []byte) (Text, error) {
	if err := ctx.Err(); err != nil {
		return Text{}, err
	}
	// Some producers emit a few junk bytes before the header.
	idx := bytes.Index(data[:min(len(data), 1024)], pdfHeader)
	if idx < 0 {
		return Text{}, fmt.Errorf("%w: %s is not a PDF", ErrUnreadable, name)
	}

	pdfCtx, err := readPDF(data[idx:])
	if err != nil {
		return Text{}, fmt.Errorf("%w: %s: %v", ErrUnreadable, name, err)
	}

	var sb strings.Builder
	for pageNr := 1; pageNr <= pdfCtx.PageCount; pageNr++ {
		if err := ctx.Err(); err != nil {
			return Text{}, err
		}
		content, err := pageText(pdfCtx, pageNr)
		if err != nil {
			p.logger.Debug("page content unavailable", "source", name, "page", pageNr, "error", err)
			continue
		}
		if content == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(content)
	}

	text := sb.String()
	if strings.TrimSpace(text) == "" {
		return Text{}, fmt.Errorf("%w: %s (%d pages)", ErrEmptyContent, name, pdfCtx.PageCount)
	}
	p.logger.Debug("extracted document", "source", name, "pages", pdfCtx.PageCount, "chars", len(text))
	return Text{Content: text, Pages: pdfCtx.PageCount}, nil
}

// readPDF never panics on hostile input; pdfcpu occasionally does.
func readPDF(data []byte) (ctx *model.Context, err error) {
	defer func() {
		if r := recover(); r != nil {
			ctx, err = nil, fmt.Errorf("pdfcpu panic: %v", r)
		}
	}()
	conf := model.NewDefaultConfiguration()
	ctx, err = api.ReadValidateAndOptimize(bytes.NewReader(data), conf)
	if err != nil {
		return nil, fmt.Errorf("pdfcpu read: %w", err)
	}
	return ctx, nil
}

func pageText(ctx *model.Context, pageNr int) (string, error) {
	r, err := pdfcpu.ExtractPageContent(ctx, pageNr)
	if err != nil {
		return "", err
	}
	if r == nil {
		return "", nil
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return showText(data), nil
}
