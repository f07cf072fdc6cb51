// Package pipeline drives a batch from its sources to a stored report:
// resolve, extract, review, render. Extraction failures are isolated per
// document; every other failure ends the batch with a tagged *Error that
// is also recorded in the Tracker.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"dds_review_service/extractor"
	"dds_review_service/generator"
	"dds_review_service/publisher"
	"dds_review_service/source"
)

// ErrNoUsableContent is returned when no document of a batch yields text.
var ErrNoUsableContent = errors.New("no document produced usable text")

const defaultExtractWorkers = 4

// Resolver turns sources into bytes.
type Resolver interface {
	Resolve(ctx context.Context, docs []source.Document) ([]source.Document, error)
}

// Publisher renders and stores reports.
type Publisher interface {
	Publish(ctx context.Context, narrative string, at time.Time) (publisher.Published, error)
	Fetch(ctx context.Context, name string) ([]byte, error)
	Stat(ctx context.Context, name string) (publisher.Artifact, error)
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Resolver     Resolver
	Extractor    extractor.Extractor
	Instructions generator.InstructionLoader
	Reviewer     generator.Reviewer
	Publisher    Publisher
	Tracker      *Tracker
	Logger       *slog.Logger
	Now          func() time.Time
}

// Options tune batch handling.
type Options struct {
	// MaxDocuments rejects larger batches at submission; 0 means no limit.
	MaxDocuments int
	// AttachDocuments hands the raw PDFs of the usable documents to the
	// reviewer alongside the corpus.
	AttachDocuments bool
	ExtractWorkers  int
}

// Batch is a submitted set of documents.
type Batch struct {
	ID          string            `json:"batch_id"`
	Sources     []source.Document `json:"sources"`
	SubmittedAt time.Time         `json:"submitted_at"`
}

// Result is the outcome of a successful run.
type Result struct {
	publisher.Artifact
	BatchID string    `json:"batch_id"`
	Pages   int       `json:"pages"`
	Dropped []Dropped `json:"dropped"`
	RunID   string    `json:"run_id,omitempty"`
}

// Orchestrator runs batches one at a time.
type Orchestrator struct {
	deps  Deps
	opts  Options
	runMu sync.Mutex
}

func New(deps Deps, opts Options) (*Orchestrator, error) {
	switch {
	case deps.Resolver == nil:
		return nil, errors.New("pipeline: resolver is required")
	case deps.Extractor == nil:
		return nil, errors.New("pipeline: extractor is required")
	case deps.Instructions == nil:
		return nil, errors.New("pipeline: instruction loader is required")
	case deps.Reviewer == nil:
		return nil, errors.New("pipeline: reviewer is required")
	case deps.Publisher == nil:
		return nil, errors.New("pipeline: publisher is required")
	}
	if deps.Tracker == nil {
		deps.Tracker = NewTracker()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if opts.ExtractWorkers <= 0 {
		opts.ExtractWorkers = defaultExtractWorkers
	}
	return &Orchestrator{deps: deps, opts: opts}, nil
}

// Tracker exposes the status slot shared with the HTTP layer.
func (o *Orchestrator) Tracker() *Tracker { return o.deps.Tracker }

// Submit validates sources and registers them as the current batch.
func (o *Orchestrator) Submit(sources []source.Document) (*Batch, error) {
	if err := o.validate(sources); err != nil {
		return nil, o.reject(source.Names(sources), err)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, newError(StageReceived, KindIngestion, err)
	}
	b := &Batch{
		ID:          id.String(),
		Sources:     append([]source.Document(nil), sources...),
		SubmittedAt: o.deps.Now(),
	}
	o.deps.Tracker.Begin(b.ID, source.Names(b.Sources))
	o.deps.Logger.Info("batch received", "batch_id", b.ID, "documents", len(b.Sources))
	return b, nil
}

// Check validates documents one by one, before they are grouped into a
// batch. A failure is recorded like a rejected submission.
func (o *Orchestrator) Check(sources []source.Document) error {
	if err := o.validateEach(sources); err != nil {
		return o.reject(source.Names(sources), err)
	}
	return nil
}

// Reject records sources refused before submission, e.g. a remote link
// that failed validation at the edge.
func (o *Orchestrator) Reject(uploads []string, err error) error {
	return o.reject(uploads, classify(StageReceived, err))
}

// MaxDocuments is the batch size limit, 0 when unlimited.
func (o *Orchestrator) MaxDocuments() int { return o.opts.MaxDocuments }

func (o *Orchestrator) reject(uploads []string, pe *Error) error {
	o.deps.Tracker.Reject(uploads, pe)
	o.deps.Logger.Warn("batch rejected", "documents", len(uploads), "kind", pe.Kind, "source", pe.Source, "error", pe.Cause)
	return pe
}

func (o *Orchestrator) validate(sources []source.Document) *Error {
	if len(sources) == 0 {
		return newError(StageReceived, KindIngestion, source.ErrEmptySources)
	}
	if o.opts.MaxDocuments > 0 && len(sources) > o.opts.MaxDocuments {
		return newError(StageReceived, KindIngestion,
			fmt.Errorf("batch has %d documents, limit is %d", len(sources), o.opts.MaxDocuments))
	}
	return o.validateEach(sources)
}

func (o *Orchestrator) validateEach(sources []source.Document) *Error {
	for i, s := range sources {
		if strings.TrimSpace(s.Name) == "" {
			return newError(StageReceived, KindIngestion, fmt.Errorf("document %d has no name", i+1))
		}
	}
	return nil
}

// Process submits sources and runs the batch.
func (o *Orchestrator) Process(ctx context.Context, sources []source.Document) (Result, error) {
	b, err := o.Submit(sources)
	if err != nil {
		return Result{}, err
	}
	return o.Run(ctx, b)
}

// Run executes a submitted batch. Runs are serialized; the report
// timestamp is taken once when the run starts.
func (o *Orchestrator) Run(ctx context.Context, b *Batch) (Result, error) {
	o.runMu.Lock()
	defer o.runMu.Unlock()

	at := o.deps.Now()
	tr := o.deps.Tracker
	tr.Activate(b.ID, source.Names(b.Sources))
	log := o.deps.Logger.With("batch_id", b.ID)
	fail := func(pe *Error) (Result, error) {
		tr.Fail(b.ID, pe)
		log.Error("batch failed", "stage", pe.Stage, "kind", pe.Kind, "source", pe.Source, "error", pe.Err)
		return Result{}, pe
	}

	tr.Stage(b.ID, StageResolving)
	docs, err := o.deps.Resolver.Resolve(ctx, b.Sources)
	if err != nil {
		return fail(classify(StageResolving, err))
	}

	tr.Stage(b.ID, StageExtracting)
	parts, usable, dropped := o.extractAll(ctx, log, docs)
	if err := ctx.Err(); err != nil {
		return fail(classify(StageExtracting, err))
	}
	for _, d := range dropped {
		tr.Drop(b.ID, d)
	}
	if len(parts) == 0 {
		pe := newError(StageExtracting, KindNoUsableContent, ErrNoUsableContent)
		pe.Cause = fmt.Sprintf("all %d documents failed extraction", len(docs))
		return fail(pe)
	}

	tr.Stage(b.ID, StageReviewing)
	instructions, err := o.deps.Instructions.Load(ctx)
	if err != nil {
		return fail(classify(StageReviewing, err))
	}
	req := generator.ReviewRequest{
		CorrelationID: b.ID,
		Instructions:  instructions,
		Corpus:        generator.BuildCorpus(parts),
	}
	if o.opts.AttachDocuments {
		for _, d := range usable {
			req.Documents = append(req.Documents, generator.Attachment{Name: d.Name, Data: d.Data})
		}
	}
	log.Info("reviewing", "documents", len(parts), "dropped", len(dropped), "corpus_chars", len(req.Corpus))
	res, err := o.deps.Reviewer.Review(ctx, req)
	if err != nil {
		return fail(classify(StageReviewing, err))
	}
	if res.Empty {
		return fail(newError(StageReviewing, KindGeneration,
			&generator.GenerationError{Cause: generator.CauseEmptyResult, State: res.Status}))
	}

	tr.Stage(b.ID, StageRendering)
	out, err := o.deps.Publisher.Publish(ctx, res.Text, at)
	if err != nil {
		return fail(classify(StageRendering, err))
	}
	tr.Complete(b.ID, out.Name)
	log.Info("batch completed", "output", out.Name, "pages", out.Pages)

	return Result{
		Artifact: out.Artifact,
		BatchID:  b.ID,
		Pages:    out.Pages,
		Dropped:  dropped,
		RunID:    res.RunID,
	}, nil
}

// extractAll extracts every document concurrently. A failure only drops
// its own document; results keep submission order.
func (o *Orchestrator) extractAll(ctx context.Context, log *slog.Logger, docs []source.Document) ([]generator.CorpusPart, []source.Document, []Dropped) {
	type outcome struct {
		text string
		err  error
	}
	results := make([]outcome, len(docs))

	var g errgroup.Group
	g.SetLimit(o.opts.ExtractWorkers)
	for i, d := range docs {
		g.Go(func() error {
			t, err := o.deps.Extractor.Extract(ctx, d.Name, d.Data)
			results[i] = outcome{text: t.Content, err: err}
			return nil
		})
	}
	_ = g.Wait()

	var (
		parts   []generator.CorpusPart
		usable  []source.Document
		dropped []Dropped
	)
	for i, r := range results {
		if r.err != nil {
			log.Warn("document dropped", "source", docs[i].Name, "error", r.err)
			dropped = append(dropped, Dropped{Source: docs[i].Name, Reason: r.err.Error()})
			continue
		}
		parts = append(parts, generator.CorpusPart{Source: docs[i].Name, Text: r.text})
		usable = append(usable, docs[i])
	}
	return parts, usable, dropped
}

// Fetch returns the bytes of a stored report.
func (o *Orchestrator) Fetch(ctx context.Context, name string) ([]byte, error) {
	data, err := o.deps.Publisher.Fetch(ctx, name)
	if err != nil {
		return nil, classify(StageFetching, err)
	}
	return data, nil
}

// Artifact describes a stored report.
func (o *Orchestrator) Artifact(ctx context.Context, name string) (publisher.Artifact, error) {
	a, err := o.deps.Publisher.Stat(ctx, name)
	if err != nil {
		return publisher.Artifact{}, classify(StageFetching, err)
	}
	return a, nil
}

// Status is a copy of the latest batch's diagnostic state.
func (o *Orchestrator) Status() Snapshot {
	return o.deps.Tracker.Snapshot()
}
