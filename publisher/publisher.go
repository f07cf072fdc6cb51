// Package publisher renders review narratives to PDF reports and stores
// them under deterministic, timestamped names.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// maxNameAttempts bounds the "_2", "_3"... suffixes tried when batches
// finish within the same minute.
const maxNameAttempts = 100

// ArtifactPattern matches names produced by ArtifactName, with an optional
// collision suffix.
var ArtifactPattern = regexp.MustCompile(`^(.+)_(\d{4}-\d{2}-\d{2}_\d{4})(_\d+)?\.pdf$`)

// Published is the outcome of Publish.
type Published struct {
	Artifact
	Pages int
}

// Publisher orchestrates rendering and storage of a report.
type Publisher struct {
	renderer *Renderer
	store    Store
	prefix   string
	logger   *slog.Logger
}

// New creates a Publisher. A nil logger uses slog.Default().
func New(renderer *Renderer, store Store, prefix string, logger *slog.Logger) (*Publisher, error) {
	if renderer == nil || store == nil {
		return nil, errors.New("publisher needs a renderer and a store")
	}
	if prefix == "" || !ValidName(prefix) {
		return nil, fmt.Errorf("invalid report prefix %q", prefix)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{renderer: renderer, store: store, prefix: prefix, logger: logger}, nil
}

// Publish renders narrative and stores it as ArtifactName(prefix, at). If
// that name is taken a numeric suffix is appended.
func (p *Publisher) Publish(ctx context.Context, narrative string, at time.Time) (Published, error) {
	doc, err := p.renderer.Render(narrative, at)
	if err != nil {
		return Published{}, err
	}
	p.logger.Debug("rendered report", "pages", doc.Pages, "bytes", len(doc.Data))

	base := ArtifactName(p.prefix, at)
	for n := 1; n <= maxNameAttempts; n++ {
		name := base
		if n > 1 {
			name = strings.TrimSuffix(base, ".pdf") + "_" + strconv.Itoa(n) + ".pdf"
		}
		art, err := p.store.Put(ctx, name, doc.Data)
		if errors.Is(err, ErrExists) {
			continue
		}
		if err != nil {
			return Published{}, &RenderError{Err: fmt.Errorf("store %s: %w", name, err)}
		}
		p.logger.Info("report stored", "name", art.Name, "location", art.Location, "pages", doc.Pages)
		return Published{Artifact: art, Pages: doc.Pages}, nil
	}
	return Published{}, &RenderError{Err: fmt.Errorf("no free artifact name for %s", base)}
}

// Fetch returns the bytes of a stored artifact.
func (p *Publisher) Fetch(ctx context.Context, name string) ([]byte, error) {
	return p.store.Get(ctx, name)
}

// Stat reports the size and location of a stored artifact.
func (p *Publisher) Stat(ctx context.Context, name string) (Artifact, error) {
	data, err := p.store.Get(ctx, name)
	if err != nil {
		return Artifact{}, err
	}
	return Artifact{Name: name, Size: int64(len(data)), Location: p.store.Location(name)}, nil
}
