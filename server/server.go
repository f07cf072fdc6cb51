package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"dds_review_service/pipeline"
	"dds_review_service/source"
)

const liveMessage = "DDS review backend is live"

// Options tune the HTTP surface.
type Options struct {
	MaxUploadBytes int64
	RunTimeout     time.Duration
	// RemoteHosts are the sharing hosts accepted by /upload-links.
	RemoteHosts []string
}

type Server struct {
	orch   *pipeline.Orchestrator
	intake *pipeline.Intake
	opts   Options
	logger *slog.Logger
	bg     sync.WaitGroup
}

func New(orch *pipeline.Orchestrator, intake *pipeline.Intake, opts Options, logger *slog.Logger) (*Server, error) {
	if orch == nil {
		return nil, errors.New("orchestrator required")
	}
	if intake == nil {
		intake = pipeline.NewIntake(0, orch.Tracker())
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 64 << 20
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = 10 * time.Minute
	}
	if limit := orch.MaxDocuments(); limit > 0 && intake.Expected() > limit {
		return nil, fmt.Errorf("batch size %d exceeds the %d document limit", intake.Expected(), limit)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{orch: orch, intake: intake, opts: opts, logger: logger}, nil
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logMiddleware)

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"message": liveMessage})
	})
	r.Post("/upload", s.handleUpload)
	r.Post("/upload-multiple", s.handleUploadMultiple)
	r.Post("/upload-links", s.handleUploadLinks)
	r.Get("/status", s.handleStatus)
	r.Get("/process", s.handleProcess)
	r.Get("/download/{name}", s.handleDownload)
	return r
}

// Wait blocks until every batch started in the background has finished.
func (s *Server) Wait() { s.bg.Wait() }

// --- Handlers ---

type linksReq struct {
	Links []string `json:"links"`
}

type submitResp struct {
	BatchID  string             `json:"batch_id,omitempty"`
	Status   string             `json:"status"`
	Received int                `json:"received,omitempty"`
	Expected int                `json:"expected,omitempty"`
	Output   string             `json:"output,omitempty"`
	Pages    int                `json:"pages,omitempty"`
	Dropped  []pipeline.Dropped `json:"dropped,omitempty"`
	// Batches is set when one request completed several fixed-size batches.
	Batches []submitResp `json:"batches,omitempty"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	form, ok := s.parseForm(w, r)
	if !ok {
		return
	}
	files := form.File["file"]
	if len(files) == 0 || strings.TrimSpace(files[0].Filename) == "" {
		writeBadRequest(w, pipeline.KindIngestion, "no file provided in field \"file\"")
		return
	}
	docs, err := readFiles(files[:1])
	if err != nil {
		writeBadRequest(w, pipeline.KindIngestion, err.Error())
		return
	}
	s.submit(w, r, docs)
}

func (s *Server) handleUploadMultiple(w http.ResponseWriter, r *http.Request) {
	form, ok := s.parseForm(w, r)
	if !ok {
		return
	}
	var files []*multipart.FileHeader
	for _, fh := range form.File["files"] {
		if strings.TrimSpace(fh.Filename) != "" {
			files = append(files, fh)
		}
	}
	if len(files) == 0 {
		writeBadRequest(w, pipeline.KindIngestion, "no files provided in field \"files\"")
		return
	}
	docs, err := readFiles(files)
	if err != nil {
		writeBadRequest(w, pipeline.KindIngestion, err.Error())
		return
	}
	s.submit(w, r, docs)
}

func (s *Server) handleUploadLinks(w http.ResponseWriter, r *http.Request) {
	var req linksReq
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeBadRequest(w, pipeline.KindIngestion, "invalid JSON body: "+err.Error())
		return
	}
	if len(req.Links) == 0 {
		writeBadRequest(w, pipeline.KindIngestion, source.ErrEmptySources.Error())
		return
	}
	docs := make([]source.Document, 0, len(req.Links))
	for _, link := range req.Links {
		if _, err := source.ParseRemoteLink(link, s.opts.RemoteHosts); err != nil {
			writeError(w, s.orch.Reject(req.Links, &source.ResolutionError{Source: link, Err: err}))
			return
		}
		docs = append(docs, source.RemoteLink(link))
	}
	s.submit(w, r, docs)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.Status())
}

// handleProcess reports the latest output file name.
func (s *Server) handleProcess(w http.ResponseWriter, _ *http.Request) {
	st := s.orch.Status()
	if st.Output == "" {
		writeJSON(w, http.StatusNotFound, errorResp{
			Error: "no report has been generated yet",
			Kind:  pipeline.KindNotFound,
			Stage: st.State,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"output": st.Output})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	data, err := s.orch.Fetch(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// submit hands docs to the intake and runs every batch it releases, in
// the background or inline when ?wait=true.
func (s *Server) submit(w http.ResponseWriter, r *http.Request, docs []source.Document) {
	if err := s.orch.Check(docs); err != nil {
		writeError(w, err)
		return
	}
	ready, pending := s.intake.Add(docs)
	if len(ready) == 0 {
		writeJSON(w, http.StatusAccepted, submitResp{
			Status:   string(pipeline.StageWaiting),
			Received: pending,
			Expected: s.intake.Expected(),
		})
		return
	}

	batches := make([]*pipeline.Batch, 0, len(ready))
	for i, batch := range ready {
		b, err := s.orch.Submit(batch)
		if err != nil {
			// Nothing released from here on has been submitted; keep it queued.
			for j := len(ready) - 1; j >= i; j-- {
				s.intake.Requeue(ready[j])
			}
			if len(batches) == 0 {
				writeError(w, err)
				return
			}
			s.logger.Warn("batch requeued", "documents", len(batch), "error", err)
			break
		}
		batches = append(batches, b)
	}

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		s.runInline(w, r, batches)
		return
	}

	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		for _, b := range batches {
			ctx, cancel := context.WithTimeout(context.Background(), s.opts.RunTimeout)
			// Failures are recorded by the tracker and logged by the orchestrator.
			_, _ = s.orch.Run(ctx, b)
			cancel()
		}
	}()
	resps := make([]submitResp, len(batches))
	for i, b := range batches {
		resps[i] = submitResp{BatchID: b.ID, Status: string(pipeline.StageReceived)}
	}
	writeJSON(w, http.StatusAccepted, merge(resps, s.intake.Pending(), s.intake.Expected()))
}

func (s *Server) runInline(w http.ResponseWriter, r *http.Request, batches []*pipeline.Batch) {
	resps := make([]submitResp, 0, len(batches))
	for _, b := range batches {
		ctx, cancel := context.WithTimeout(r.Context(), s.opts.RunTimeout)
		res, err := s.orch.Run(ctx, b)
		cancel()
		if err != nil {
			writeError(w, err)
			return
		}
		resps = append(resps, submitResp{
			BatchID: res.BatchID,
			Status:  string(pipeline.StageCompleted),
			Output:  res.Name,
			Pages:   res.Pages,
			Dropped: res.Dropped,
		})
	}
	writeJSON(w, http.StatusOK, merge(resps, s.intake.Pending(), s.intake.Expected()))
}

// merge returns the single batch response as is, or a summary listing
// every batch. Documents still queued are reported alongside.
func merge(resps []submitResp, pending, expected int) submitResp {
	out := resps[0]
	if len(resps) > 1 {
		out = submitResp{Status: resps[0].Status, Batches: resps}
	}
	if pending > 0 {
		out.Received = pending
		out.Expected = expected
	}
	return out
}

// --- Helpers ---

func (s *Server) parseForm(w http.ResponseWriter, r *http.Request) (*multipart.Form, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResp{
				Error: fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit),
				Kind:  pipeline.KindIngestion,
				Stage: pipeline.StageReceived,
			})
			return nil, false
		}
		writeBadRequest(w, pipeline.KindIngestion, "invalid multipart form: "+err.Error())
		return nil, false
	}
	return r.MultipartForm, true
}

func readFiles(files []*multipart.FileHeader) ([]source.Document, error) {
	docs := make([]source.Document, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", fh.Filename, err)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", fh.Filename, err)
		}
		docs = append(docs, source.Upload(fh.Filename, data))
	}
	return docs, nil
}

type errorResp struct {
	Error  string         `json:"error"`
	Kind   pipeline.Kind  `json:"kind"`
	Stage  pipeline.Stage `json:"stage"`
	Source string         `json:"source,omitempty"`
}

func writeBadRequest(w http.ResponseWriter, kind pipeline.Kind, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResp{Error: msg, Kind: kind, Stage: pipeline.StageReceived})
}

func writeError(w http.ResponseWriter, err error) {
	pe, ok := pipeline.AsError(err)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorResp{Error: err.Error(), Kind: "internal"})
		return
	}
	writeJSON(w, statusFor(pe.Kind), errorResp{Error: pe.Cause, Kind: pe.Kind, Stage: pe.Stage, Source: pe.Source})
}

func statusFor(kind pipeline.Kind) int {
	switch kind {
	case pipeline.KindIngestion, pipeline.KindInvalidRemoteLink:
		return http.StatusBadRequest
	case pipeline.KindNotFound:
		return http.StatusNotFound
	case pipeline.KindExtraction, pipeline.KindNoUsableContent:
		return http.StatusUnprocessableEntity
	case pipeline.KindSourceResolution, pipeline.KindGeneration:
		return http.StatusBadGateway
	case pipeline.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
