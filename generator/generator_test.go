package generator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuildCorpus_OrderAndHeaders(t *testing.T) {
	got := BuildCorpus([]CorpusPart{
		{Source: "b.pdf", Text: "second"},
		{Source: "a.pdf", Text: "first"},
	})
	want := "\n\n===== b.pdf =====\nsecond\n\n===== a.pdf =====\nfirst"
	if got != want {
		t.Fatalf("corpus = %q, want %q", got, want)
	}
}

func TestBuildCorpus_KeepsFullText(t *testing.T) {
	long := strings.Repeat("lorem ipsum ", 50000)
	got := BuildCorpus([]CorpusPart{{Source: "big.pdf", Text: long}})
	if !strings.HasSuffix(got, long) {
		t.Fatalf("corpus lost text: len %d", len(got))
	}
}

func TestNormalize(t *testing.T) {
	got, err := Normalize("\r\n  # Title\r\nbody\r\n\n")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if got != "# Title\nbody" {
		t.Fatalf("got %q", got)
	}

	_, err = Normalize(" \n\t ")
	var ge *GenerationError
	if !errors.As(err, &ge) || ge.Cause != CauseEmptyResult {
		t.Fatalf("expected empty_result GenerationError, got %v", err)
	}
}

func TestFileInstructions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "GPT_Instructions.txt")
	loader := FileInstructions{Path: path}

	if _, err := loader.Load(context.Background()); !errors.Is(err, ErrInstructionsNotFound) {
		t.Fatalf("missing file: expected ErrInstructionsNotFound, got %v", err)
	}

	if err := os.WriteFile(path, []byte("  \n\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := loader.Load(context.Background()); !errors.Is(err, ErrInstructionsEmpty) {
		t.Fatalf("blank file: expected ErrInstructionsEmpty, got %v", err)
	}

	if err := os.WriteFile(path, []byte("Review v1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := loader.Load(context.Background())
	if err != nil || got != "Review v1" {
		t.Fatalf("load = %q, %v", got, err)
	}

	// Re-read on every call.
	if err := os.WriteFile(path, []byte("Review v2"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got, _ := loader.Load(context.Background()); got != "Review v2" {
		t.Fatalf("second load = %q, want updated instructions", got)
	}
}

func TestStaticInstructions(t *testing.T) {
	if _, err := StaticInstructions("").Load(context.Background()); !errors.Is(err, ErrInstructionsEmpty) {
		t.Fatalf("expected ErrInstructionsEmpty, got %v", err)
	}
	if got, _ := StaticInstructions(" do it ").Load(context.Background()); got != "do it" {
		t.Fatalf("got %q", got)
	}
}

type recordingLLM struct {
	prompt Prompt
	reply  string
	err    error
}

func (r *recordingLLM) Complete(_ context.Context, p Prompt) (string, error) {
	r.prompt = p
	return r.reply, r.err
}

func TestAgent_Review(t *testing.T) {
	llm := &recordingLLM{reply: "  narrative\r\n"}
	agent, err := NewAgent(llm)
	if err != nil {
		t.Fatal(err)
	}
	res, err := agent.Review(context.Background(), ReviewRequest{Instructions: "SYS", Corpus: "CORPUS"})
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if res.Text != "narrative" || res.Status != RunCompleted || res.Empty {
		t.Fatalf("result = %+v", res)
	}
	if llm.prompt.System != "SYS" || llm.prompt.User != "CORPUS" {
		t.Fatalf("prompt = %+v", llm.prompt)
	}
}

func TestAgent_BlankReplyIsGenerationError(t *testing.T) {
	agent, _ := NewAgent(&recordingLLM{reply: ""})
	_, err := agent.Review(context.Background(), ReviewRequest{Corpus: "x"})
	var ge *GenerationError
	if !errors.As(err, &ge) || ge.Cause != CauseEmptyResult {
		t.Fatalf("expected empty_result, got %v", err)
	}
}

func TestMockLLM_ListsSources(t *testing.T) {
	out, err := MockLLM{}.Complete(context.Background(), Prompt{User: BuildCorpus([]CorpusPart{{Source: "a.pdf", Text: "x"}})})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "- a.pdf") {
		t.Fatalf("mock output missing source list:\n%s", out)
	}
}

// --- chat completions against a fake API ---

func newChatServer(t *testing.T, status int, body string, seen *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if seen != nil {
			raw, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(raw, seen)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestOpenAILLM(t *testing.T, srv *httptest.Server) *OpenAILLM {
	t.Helper()
	llm, err := NewOpenAILLMFromConfig(&LLMSettings{
		Provider:    "openai",
		Model:       "gpt-4",
		APIKey:      "test-key",
		BaseURL:     srv.URL + "/",
		Temperature: 0.4,
		MaxTokens:   3000,
		HTTPClient:  srv.Client(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return llm
}

func TestOpenAILLM_Complete(t *testing.T) {
	var seen map[string]any
	srv := newChatServer(t, http.StatusOK, `{
		"id": "chatcmpl-1", "object": "chat.completion", "created": 1, "model": "gpt-4",
		"choices": [{"index": 0, "finish_reason": "stop",
			"message": {"role": "assistant", "content": "# DDS Review\nAll good."}}]
	}`, &seen)

	got, err := newTestOpenAILLM(t, srv).Complete(context.Background(), Prompt{System: "SYS", User: "CORPUS"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got != "# DDS Review\nAll good." {
		t.Fatalf("got %q", got)
	}
	if seen["model"] != "gpt-4" || seen["max_tokens"] != float64(3000) || seen["temperature"] != 0.4 {
		t.Errorf("request params = %v", seen)
	}
	msgs, _ := seen["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("messages = %v", seen["messages"])
	}
	if m := msgs[0].(map[string]any); m["role"] != "system" || m["content"] != "SYS" {
		t.Errorf("system message = %v", m)
	}
	if m := msgs[1].(map[string]any); m["role"] != "user" || m["content"] != "CORPUS" {
		t.Errorf("user message = %v", m)
	}
}

func TestOpenAILLM_ErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   Cause
	}{
		{"quota", 429, `{"error":{"message":"You exceeded your current quota","type":"insufficient_quota","code":"insufficient_quota"}}`, CauseQuota},
		{"rate limit", 429, `{"error":{"message":"Rate limit reached","type":"requests","code":"rate_limit_exceeded"}}`, CauseRateLimit},
		{"context length", 400, `{"error":{"message":"maximum context length is 8192 tokens","type":"invalid_request_error","code":"context_length_exceeded"}}`, CauseContentLength},
		{"payload too large", 413, `{"error":{"message":"too large","type":"invalid_request_error","code":""}}`, CauseContentLength},
		{"server error", 500, `{"error":{"message":"boom","type":"server_error","code":""}}`, CauseBackend},
	}
	for _, tt := range tests {
		srv := newChatServer(t, tt.status, tt.body, nil)
		_, err := newTestOpenAILLM(t, srv).Complete(context.Background(), Prompt{System: "s", User: "u"})
		var ge *GenerationError
		if !errors.As(err, &ge) {
			t.Errorf("%s: expected GenerationError, got %v", tt.name, err)
			continue
		}
		if ge.Cause != tt.want {
			t.Errorf("%s: cause = %s, want %s", tt.name, ge.Cause, tt.want)
		}
	}
}

func TestOpenAILLM_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	llm := newTestOpenAILLM(t, srv)
	srv.Close()

	_, err := llm.Complete(context.Background(), Prompt{System: "s", User: "u"})
	var ge *GenerationError
	if !errors.As(err, &ge) || ge.Cause != CauseNetwork {
		t.Fatalf("expected network GenerationError, got %v", err)
	}
}

func TestNewReviewer(t *testing.T) {
	if r, err := NewReviewer(&LLMSettings{Provider: "mock"}); err != nil || r == nil {
		t.Fatalf("mock reviewer: %v", err)
	}
	if _, err := NewReviewer(&LLMSettings{Provider: "openai", Model: "gpt-4"}); err == nil {
		t.Error("expected error for missing api key")
	}
	if _, err := NewReviewer(&LLMSettings{Provider: "deepseek", Model: "deepseek-chat", APIKey: "k"}); err == nil {
		t.Error("expected error for deepseek without base_url")
	}
	if _, err := NewReviewer(&LLMSettings{Provider: "deepseek", Model: "m", APIKey: "k", BaseURL: "http://x", Mode: ModeAssistant, AssistantID: "a"}); err == nil {
		t.Error("expected error for assistant mode on deepseek")
	}
	r, err := NewReviewer(&LLMSettings{Provider: "openai", Model: "gpt-4", APIKey: "k", Mode: ModeAssistant, AssistantID: "asst_1", PollTimeout: 1})
	if err != nil {
		t.Fatalf("assistant reviewer: %v", err)
	}
	if _, ok := r.(*AssistantReviewer); !ok {
		t.Fatalf("got %T, want *AssistantReviewer", r)
	}
	if _, err := NewReviewer(&LLMSettings{Provider: "other"}); err == nil {
		t.Error("expected error for unknown provider")
	}
}
