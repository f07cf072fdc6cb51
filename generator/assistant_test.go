package generator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// fakeBackend replays a scripted sequence of run states.
type fakeBackend struct {
	mu        sync.Mutex
	states    []RunStatus // returned by StartRun then successive GetRun calls; the last one repeats
	lastError string
	messages  []ThreadMessage

	uploaded  []string
	deleted   []string
	posted    string
	fileIDs   []string
	instr     string
	polls     int
	cancelled bool
}

func (f *fakeBackend) UploadFile(_ context.Context, name string, _ []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := "file-" + name
	f.uploaded = append(f.uploaded, id)
	return id, nil
}

func (f *fakeBackend) DeleteFile(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeBackend) CreateThread(context.Context) (string, error) { return "thread_1", nil }

func (f *fakeBackend) PostMessage(_ context.Context, _ string, content string, fileIDs []string) error {
	f.posted = content
	f.fileIDs = fileIDs
	return nil
}

func (f *fakeBackend) StartRun(_ context.Context, _, _, instructions string) (Run, error) {
	f.instr = instructions
	return f.state(0), nil
}

func (f *fakeBackend) GetRun(context.Context, string, string) (Run, error) {
	f.mu.Lock()
	f.polls++
	n := f.polls
	f.mu.Unlock()
	return f.state(n), nil
}

func (f *fakeBackend) state(i int) Run {
	if i >= len(f.states) {
		i = len(f.states) - 1
	}
	r := Run{ID: "run_1", Status: f.states[i]}
	if r.Status.Terminal() && r.Status != RunCompleted {
		r.LastError = f.lastError
	}
	return r
}

func (f *fakeBackend) CancelRun(context.Context, string, string) error {
	f.mu.Lock()
	f.cancelled = true
	f.mu.Unlock()
	return nil
}

func (f *fakeBackend) ListMessages(context.Context, string) ([]ThreadMessage, error) {
	return f.messages, nil
}

func newTestAssistant(t *testing.T, b AssistantBackend, cfg AssistantConfig) *AssistantReviewer {
	t.Helper()
	if cfg.AssistantID == "" {
		cfg.AssistantID = "asst_1"
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Millisecond
	}
	if cfg.PollTimeout == 0 && cfg.MaxPollAttempts == 0 {
		cfg.PollTimeout = 5 * time.Second
	}
	a, err := NewAssistantReviewer(b, cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestAssistant_CompletesWithNewestAssistantMessage(t *testing.T) {
	b := &fakeBackend{
		states: []RunStatus{RunQueued, RunRunning, RunRunning, RunCompleted},
		messages: []ThreadMessage{
			{ID: "m4", Role: "assistant", Text: "final review"},
			{ID: "m3", Role: "assistant", Text: "earlier draft"},
			{ID: "m1", Role: "user", Text: "corpus"},
		},
	}
	a := newTestAssistant(t, b, AssistantConfig{})

	res, err := a.Review(context.Background(), ReviewRequest{CorrelationID: "b1", Instructions: "SYS", Corpus: "CORPUS"})
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if res.Text != "final review" || res.Status != RunCompleted || res.RunID != "run_1" || res.Empty {
		t.Fatalf("result = %+v", res)
	}
	if b.posted != "CORPUS" || b.instr != "SYS" {
		t.Errorf("posted %q with instructions %q", b.posted, b.instr)
	}
	if b.polls != 3 {
		t.Errorf("polls = %d, want 3", b.polls)
	}
}

func TestAssistant_SkipsUserMessagesWhenNewest(t *testing.T) {
	b := &fakeBackend{
		states: []RunStatus{RunCompleted},
		messages: []ThreadMessage{
			{Role: "user", Text: "follow-up"},
			{Role: "assistant", Text: "the review"},
		},
	}
	res, err := newTestAssistant(t, b, AssistantConfig{}).Review(context.Background(), ReviewRequest{Corpus: "x"})
	if err != nil || res.Text != "the review" {
		t.Fatalf("result = %+v, %v", res, err)
	}
}

func TestAssistant_FailedRunNamesState(t *testing.T) {
	for _, state := range []RunStatus{RunFailed, RunCancelled, RunExpired} {
		b := &fakeBackend{states: []RunStatus{RunQueued, RunRunning, state}, lastError: "server_error: boom"}
		_, err := newTestAssistant(t, b, AssistantConfig{}).Review(context.Background(), ReviewRequest{Corpus: "x"})

		var ge *GenerationError
		if !errors.As(err, &ge) {
			t.Fatalf("%s: expected GenerationError, got %v", state, err)
		}
		if ge.Cause != CauseRunState || ge.State != state {
			t.Errorf("%s: error = %+v", state, ge)
		}
		if !strings.Contains(err.Error(), string(state)) {
			t.Errorf("%s: message %q does not name the state", state, err.Error())
		}
	}
}

func TestAssistant_TimeoutByAttempts(t *testing.T) {
	b := &fakeBackend{states: []RunStatus{RunQueued, RunRunning}}
	a := newTestAssistant(t, b, AssistantConfig{MaxPollAttempts: 5})

	_, err := a.Review(context.Background(), ReviewRequest{Corpus: "x"})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if b.polls != 5 {
		t.Errorf("polls = %d, want 5", b.polls)
	}
	if !b.cancelled {
		t.Error("run was not cancelled after timeout")
	}
}

func TestAssistant_TimeoutByElapsed(t *testing.T) {
	b := &fakeBackend{states: []RunStatus{RunRunning}}
	a := newTestAssistant(t, b, AssistantConfig{PollInterval: 5 * time.Millisecond, PollTimeout: 50 * time.Millisecond})

	start := time.Now()
	_, err := a.Review(context.Background(), ReviewRequest{Corpus: "x"})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("poll loop ran for %s", time.Since(start))
	}
}

func TestAssistant_CallerDeadlineIsTimeout(t *testing.T) {
	b := &fakeBackend{states: []RunStatus{RunRunning}}
	a := newTestAssistant(t, b, AssistantConfig{PollInterval: 5 * time.Millisecond, PollTimeout: time.Hour})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := a.Review(ctx, ReviewRequest{Corpus: "x"}); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestAssistant_CallerCancelIsNotTimeout(t *testing.T) {
	b := &fakeBackend{states: []RunStatus{RunRunning}}
	a := newTestAssistant(t, b, AssistantConfig{PollInterval: 5 * time.Millisecond, PollTimeout: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	_, err := a.Review(ctx, ReviewRequest{Corpus: "x"})
	if !errors.Is(err, context.Canceled) || errors.Is(err, ErrTimeout) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestAssistant_NoAssistantMessageIsEmptyResult(t *testing.T) {
	b := &fakeBackend{
		states:   []RunStatus{RunQueued, RunCompleted},
		messages: []ThreadMessage{{Role: "user", Text: "corpus"}},
	}
	res, err := newTestAssistant(t, b, AssistantConfig{}).Review(context.Background(), ReviewRequest{Corpus: "x"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !res.Empty || res.Text != "" || res.Status != RunCompleted {
		t.Fatalf("result = %+v", res)
	}
}

func TestAssistant_BlankNewestAssistantMessageIsEmptyResult(t *testing.T) {
	b := &fakeBackend{
		states: []RunStatus{RunCompleted},
		messages: []ThreadMessage{
			{ID: "m3", Role: "assistant", Text: "  \n"},
			{ID: "m2", Role: "assistant", Text: "stale answer"},
			{ID: "m1", Role: "user", Text: "corpus"},
		},
	}
	res, err := newTestAssistant(t, b, AssistantConfig{}).Review(context.Background(), ReviewRequest{Corpus: "x"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !res.Empty || res.Text != "" {
		t.Fatalf("older assistant message used: %+v", res)
	}
}

func TestAssistant_AttachesAndCleansUpFiles(t *testing.T) {
	b := &fakeBackend{
		states:   []RunStatus{RunCompleted},
		messages: []ThreadMessage{{Role: "assistant", Text: "ok"}},
	}
	a := newTestAssistant(t, b, AssistantConfig{AttachDocuments: true})
	_, err := a.Review(context.Background(), ReviewRequest{
		Corpus:    "x",
		Documents: []Attachment{{Name: "a.pdf", Data: []byte("%PDF-a")}, {Name: "b.pdf", Data: []byte("%PDF-b")}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(b.fileIDs, ",") != "file-a.pdf,file-b.pdf" {
		t.Errorf("attached = %v", b.fileIDs)
	}
	if strings.Join(b.deleted, ",") != "file-a.pdf,file-b.pdf" {
		t.Errorf("deleted = %v", b.deleted)
	}
}

func TestNewAssistantReviewer_RequiresBound(t *testing.T) {
	if _, err := NewAssistantReviewer(&fakeBackend{}, AssistantConfig{AssistantID: "a"}, nil); err == nil {
		t.Fatal("expected error for unbounded polling")
	}
	if _, err := NewAssistantReviewer(&fakeBackend{}, AssistantConfig{PollTimeout: time.Second}, nil); err == nil {
		t.Fatal("expected error for missing assistant id")
	}
}

func TestMapRunStatus(t *testing.T) {
	tests := map[string]RunStatus{
		"queued":          RunQueued,
		"in_progress":     RunRunning,
		"cancelling":      RunRunning,
		"completed":       RunCompleted,
		"failed":          RunFailed,
		"incomplete":      RunFailed,
		"requires_action": RunFailed,
		"cancelled":       RunCancelled,
		"expired":         RunExpired,
	}
	for in, want := range tests {
		if got := mapRunStatus(openai.RunStatus(in)); got != want {
			t.Errorf("mapRunStatus(%q) = %q, want %q", in, got, want)
		}
	}
}

// --- Assistants API wire flow against a fake server ---

func TestOpenAIAssistants_Flow(t *testing.T) {
	var mu sync.Mutex
	var paths []string
	polls := 0
	var posted map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		paths = append(paths, r.Method+" "+r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/threads":
			io.WriteString(w, `{"id":"thread_1","object":"thread","created_at":1}`)
		case r.Method == http.MethodPost && r.URL.Path == "/threads/thread_1/messages":
			raw, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(raw, &posted)
			io.WriteString(w, `{"id":"msg_1","object":"thread.message","role":"user","thread_id":"thread_1","content":[]}`)
		case r.Method == http.MethodPost && r.URL.Path == "/threads/thread_1/runs":
			io.WriteString(w, `{"id":"run_1","object":"thread.run","status":"queued","thread_id":"thread_1"}`)
		case r.Method == http.MethodGet && r.URL.Path == "/threads/thread_1/runs/run_1":
			polls++
			status := "in_progress"
			if polls >= 2 {
				status = "completed"
			}
			io.WriteString(w, `{"id":"run_1","object":"thread.run","status":"`+status+`","thread_id":"thread_1"}`)
		case r.Method == http.MethodGet && r.URL.Path == "/threads/thread_1/messages":
			if r.URL.Query().Get("order") != "desc" {
				http.Error(w, "expected desc order", http.StatusBadRequest)
				return
			}
			io.WriteString(w, `{"object":"list","has_more":false,"data":[
				{"id":"msg_3","object":"thread.message","role":"assistant","content":[{"type":"text","text":{"value":"# Review\nfindings","annotations":[]}}]},
				{"id":"msg_1","object":"thread.message","role":"user","content":[{"type":"text","text":{"value":"corpus","annotations":[]}}]}
			]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	backend := newOpenAIAssistantsWithOptions(
		option.WithAPIKey("test-key"),
		option.WithBaseURL(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
		option.WithMaxRetries(0),
	)
	a := newTestAssistant(t, backend, AssistantConfig{})

	res, err := a.Review(context.Background(), ReviewRequest{Instructions: "SYS", Corpus: "the corpus"})
	if err != nil {
		t.Fatalf("review: %v (calls %v)", err, paths)
	}
	if res.Text != "# Review\nfindings" || res.RunID != "run_1" {
		t.Fatalf("result = %+v", res)
	}
	if posted["role"] != "user" || posted["content"] != "the corpus" {
		t.Errorf("posted message = %v", posted)
	}
}
