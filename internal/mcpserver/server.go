// Package mcpserver exposes script analysis and validation as MCP tools.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mpataki/docforge/internal/analyzer"
	"github.com/mpataki/docforge/internal/correlate"
	"github.com/mpataki/docforge/internal/executor"
	"github.com/mpataki/docforge/internal/models"
)

type Config struct {
	Version        string
	MaxScriptBytes int
	Analyzer       analyzer.Options
	Logger         *slog.Logger
}

type Server struct {
	cfg Config
	log *slog.Logger
}

func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	return &Server{cfg: cfg, log: cfg.Logger}
}

// Run serves the tools on t until the client disconnects or ctx is done.
func (s *Server) Run(ctx context.Context, t mcp.Transport) error {
	srv := mcp.NewServer(&mcp.Implementation{Name: "docforge", Version: s.cfg.Version}, nil)
	s.Register(srv)
	return srv.Run(ctx, t)
}

func (s *Server) Register(srv *mcp.Server) {
	s.registerAnalyzeTool(srv)
	s.registerValidateTool(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// addTool decodes arguments into a fresh Req and marshals the handler's
// response as text content. Handler errors become tool errors.
func addTool[Req any](srv *mcp.Server, tool *mcp.Tool, handle func(context.Context, *Req) (any, error)) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var r Req
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
				var res mcp.CallToolResult
				res.SetError(fmt.Errorf("invalid arguments: %w", err))
				return &res, nil
			}
		}

		resp, err := handle(ctx, &r)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(err)
			return &res, nil
		}

		data, err := json.Marshal(resp)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(fmt.Errorf("marshal: %w", err))
			return &res, nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}

// --- analyze ---

type analyzeReq struct {
	Script   string `json:"script"`
	Markdown bool   `json:"markdown"`
}

type analyzeResp struct {
	Snippets models.SnippetPackage `json:"snippets"`
	Markdown string                `json:"markdown,omitempty"`
}

func (s *Server) registerAnalyzeTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "docforge_analyze",
		Description: "Split a Lua document script into diagram, table and chart snippets with exact line ranges.",
		InputSchema: inputSchema(map[string]any{
			"script":   map[string]any{"type": "string", "description": "Lua document script source"},
			"markdown": map[string]any{"type": "boolean", "description": "Also return a Markdown rendering of the snippets"},
		}, []string{"script"}),
	}

	addTool(srv, tool, func(_ context.Context, r *analyzeReq) (any, error) {
		if r.Script == "" {
			return nil, errors.New("script is required")
		}
		pkg := analyzer.Analyze(models.Script{Source: r.Script, Stage: models.StageFinal}, s.cfg.Analyzer)
		s.log.Debug("analyzed script", "snippets", pkg.Len())

		resp := analyzeResp{Snippets: pkg}
		if r.Markdown {
			md, err := correlate.Markdown(pkg)
			if err != nil {
				return nil, err
			}
			resp.Markdown = md
		}
		return resp, nil
	})
}

// --- validate ---

type validateReq struct {
	Script string `json:"script"`
}

type validateResp struct {
	Valid bool               `json:"valid"`
	Kind  models.FailureKind `json:"kind,omitempty"`
	Error string             `json:"error,omitempty"`
	Line  int                `json:"line,omitempty"`
}

func (s *Server) registerValidateTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "docforge_validate",
		Description: "Check a Lua document script against the sandbox rules and the Lua grammar without running it.",
		InputSchema: inputSchema(map[string]any{
			"script": map[string]any{"type": "string", "description": "Lua document script source"},
		}, []string{"script"}),
	}

	addTool(srv, tool, func(_ context.Context, r *validateReq) (any, error) {
		err := executor.Validate(r.Script, s.cfg.MaxScriptBytes)
		if err == nil {
			err = executor.CheckSyntax(r.Script)
		}
		if err == nil {
			return validateResp{Valid: true}, nil
		}

		var serr *executor.ScriptError
		if !errors.As(err, &serr) {
			return nil, err
		}
		return validateResp{Kind: serr.Kind, Error: serr.Message, Line: serr.Line}, nil
	})
}
