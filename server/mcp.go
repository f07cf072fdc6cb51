package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"dds_review_service/pipeline"
	"dds_review_service/source"
)

// RegisterMCP exposes the review pipeline as MCP tools.
func RegisterMCP(srv *mcp.Server, orch *pipeline.Orchestrator) {
	registerSubmitTool(srv, orch)
	registerStatusTool(srv, orch)
	registerArtifactTool(srv, orch)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// addTool registers a JSON-in JSON-out tool. Handler errors become tool
// errors rather than protocol errors.
func addTool[Req any](srv *mcp.Server, tool *mcp.Tool, endpoint func(context.Context, *Req) (any, error)) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var r Req
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
				return toolError(fmt.Errorf("invalid arguments: %w", err)), nil
			}
		}
		resp, err := endpoint(ctx, &r)
		if err != nil {
			return toolError(err), nil
		}
		data, err := json.Marshal(resp)
		if err != nil {
			return toolError(fmt.Errorf("marshal: %w", err)), nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}

func toolError(err error) *mcp.CallToolResult {
	var res mcp.CallToolResult
	if pe, ok := pipeline.AsError(err); ok {
		data, _ := json.Marshal(errorResp{Error: pe.Cause, Kind: pe.Kind, Stage: pe.Stage, Source: pe.Source})
		res.SetError(errors.New(string(data)))
		return &res
	}
	res.SetError(err)
	return &res
}

// --- submit ---

type submitToolReq struct {
	Sources []string `json:"sources"`
}

func registerSubmitTool(srv *mcp.Server, orch *pipeline.Orchestrator) {
	tool := &mcp.Tool{
		Name:        "dds_review_submit",
		Description: "Review a batch of due-diligence PDFs (local paths or shared-drive links) and return the generated report name.",
		InputSchema: inputSchema(map[string]any{
			"sources": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "PDF file paths or remote links, reviewed together as one batch",
			},
		}, []string{"sources"}),
	}
	addTool(srv, tool, func(ctx context.Context, r *submitToolReq) (any, error) {
		docs := make([]source.Document, 0, len(r.Sources))
		for _, s := range r.Sources {
			if strings.TrimSpace(s) == "" {
				continue
			}
			docs = append(docs, source.FromArg(s))
		}
		res, err := orch.Process(ctx, docs)
		if err != nil {
			return nil, err
		}
		return submitResp{
			BatchID: res.BatchID,
			Status:  string(pipeline.StageCompleted),
			Output:  res.Name,
			Pages:   res.Pages,
			Dropped: res.Dropped,
		}, nil
	})
}

// --- status ---

type statusToolReq struct{}

func registerStatusTool(srv *mcp.Server, orch *pipeline.Orchestrator) {
	tool := &mcp.Tool{
		Name:        "dds_review_status",
		Description: "Show the state of the most recent review batch.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	addTool(srv, tool, func(context.Context, *statusToolReq) (any, error) {
		return orch.Status(), nil
	})
}

// --- artifact ---

type artifactToolReq struct {
	Name string `json:"name"`
}

func registerArtifactTool(srv *mcp.Server, orch *pipeline.Orchestrator) {
	tool := &mcp.Tool{
		Name:        "dds_review_artifact",
		Description: "Describe a stored review report: size and location.",
		InputSchema: inputSchema(map[string]any{
			"name": map[string]any{"type": "string", "description": "Report file name, e.g. DDS_Review_2025-06-02_1430.pdf"},
		}, []string{"name"}),
	}
	addTool(srv, tool, func(ctx context.Context, r *artifactToolReq) (any, error) {
		return orch.Artifact(ctx, r.Name)
	})
}
