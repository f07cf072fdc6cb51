package server

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"dds_review_service/pipeline"
)

var testMCPImpl = &mcp.Implementation{Name: "dds-review-test", Version: "0.1.0"}

func mcpSession(t *testing.T) *mcp.ClientSession {
	t.Helper()
	srv := mcp.NewServer(testMCPImpl, nil)
	RegisterMCP(srv, newOrchestrator(t))

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	client := mcp.NewClient(testMCPImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func mcpCall(t *testing.T, session *mcp.ClientSession, name string, args any) (string, bool) {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent", name)
	}
	return tc.Text, result.IsError
}

func TestMCP_ListTools(t *testing.T) {
	session := mcpSession(t)
	res, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	names := map[string]bool{}
	for _, tool := range res.Tools {
		names[tool.Name] = true
	}
	for _, want := range []string{"dds_review_submit", "dds_review_status", "dds_review_artifact"} {
		if !names[want] {
			t.Errorf("missing tool %s", want)
		}
	}
}

func TestMCP_SubmitStatusArtifact(t *testing.T) {
	session := mcpSession(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "memo.pdf")
	if err := os.WriteFile(path, []byte("Customer concentration: top client is 40% of revenue."), 0o644); err != nil {
		t.Fatal(err)
	}

	text, isErr := mcpCall(t, session, "dds_review_submit", map[string]any{"sources": []string{path}})
	if isErr {
		t.Fatalf("submit failed: %s", text)
	}
	var sub submitResp
	if err := json.Unmarshal([]byte(text), &sub); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if sub.Status != "completed" || !strings.HasPrefix(sub.Output, "DDS_Review_") {
		t.Fatalf("submit = %+v", sub)
	}

	text, _ = mcpCall(t, session, "dds_review_status", map[string]any{})
	var st pipeline.Snapshot
	if err := json.Unmarshal([]byte(text), &st); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if st.Output != sub.Output || st.BatchID != sub.BatchID || len(st.Uploads) != 1 || st.Uploads[0] != "memo.pdf" {
		t.Fatalf("status = %+v", st)
	}

	text, isErr = mcpCall(t, session, "dds_review_artifact", map[string]any{"name": sub.Output})
	if isErr {
		t.Fatalf("artifact failed: %s", text)
	}
	var art struct {
		Name     string `json:"name"`
		Size     int64  `json:"size"`
		Location string `json:"location"`
	}
	if err := json.Unmarshal([]byte(text), &art); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if art.Name != sub.Output || art.Size == 0 || !strings.HasSuffix(art.Location, sub.Output) {
		t.Fatalf("artifact = %+v", art)
	}
}

func TestMCP_Errors(t *testing.T) {
	session := mcpSession(t)

	text, isErr := mcpCall(t, session, "dds_review_submit", map[string]any{"sources": []string{}})
	if !isErr || !strings.Contains(text, string(pipeline.KindIngestion)) {
		t.Errorf("empty submit = %v %s", isErr, text)
	}

	text, isErr = mcpCall(t, session, "dds_review_submit", map[string]any{"sources": []string{"https://example.com/x.pdf"}})
	if !isErr || !strings.Contains(text, string(pipeline.KindInvalidRemoteLink)) {
		t.Errorf("bad link submit = %v %s", isErr, text)
	}

	text, isErr = mcpCall(t, session, "dds_review_artifact", map[string]any{"name": "DDS_Review_2020-01-01_0000.pdf"})
	if !isErr || !strings.Contains(text, string(pipeline.KindNotFound)) {
		t.Errorf("missing artifact = %v %s", isErr, text)
	}
}
