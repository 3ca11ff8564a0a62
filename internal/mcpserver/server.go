// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the undo history and recorded file operations for LLM
// integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/rewind/internal/apperr"
	"github.com/starford/rewind/internal/fileops"
	"github.com/starford/rewind/internal/undo"
)

// Server wraps the MCP server with rewind tools.
type Server struct {
	mcp     *server.MCPServer
	manager *undo.Manager
	ops     *fileops.Service
}

// New creates a new MCP server with all rewind tools registered.
func New(manager *undo.Manager, ops *fileops.Service) *Server {
	s := &Server{manager: manager, ops: ops}

	s.mcp = server.NewMCPServer(
		"Rewind",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("undo_status",
		mcp.WithDescription("Report whether an undo is available and what it would undo."),
	), s.undoStatus)

	s.mcp.AddTool(mcp.NewTool("undo_last",
		mcp.WithDescription("Undo the most recent recorded file operation. "+
			"The undo runs in the background; poll undo_status to see when it is done."),
	), s.undoLast)

	s.mcp.AddTool(mcp.NewTool("stop_undo",
		mcp.WithDescription("Abort the undo that is currently running."),
	), s.stopUndo)

	s.mcp.AddTool(mcp.NewTool("list_history",
		mcp.WithDescription("List the undo history, oldest command first."),
	), s.listHistory)

	s.mcp.AddTool(mcp.NewTool("run_operation",
		mcp.WithDescription("Run a file operation and record it so it can be undone. "+
			"Read the contract first via the get_operation_contract tool or the "+
			"rewind://operations resource."),
		mcp.WithString("type", mcp.Required(), mcp.Description("One of copy, move, rename, link, mkdir, trash")),
		mcp.WithString("sources", mcp.Description("Source paths: a JSON array, or one path per line or comma")),
		mcp.WithString("destination", mcp.Description("Destination directory, new name or new folder")),
	), s.runOperation)

	s.mcp.AddTool(mcp.NewTool("get_operation_contract",
		mcp.WithDescription("Returns how each operation type is recorded and undone."),
	), s.getOperationContract)

	// Resource: operation contract.
	s.mcp.AddResource(
		mcp.NewResource("rewind://operations", "Operation Contract",
			mcp.WithResourceDescription("How recorded file operations are undone."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readOperationsResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

type statusResult struct {
	Available bool   `json:"available"`
	Text      string `json:"text"`
	Locked    bool   `json:"locked"`
}

func (s *Server) status() statusResult {
	return statusResult{
		Available: s.manager.UndoAvailable(),
		Text:      s.manager.UndoText(),
		Locked:    s.manager.Locked(),
	}
}

func (s *Server) undoStatus(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	out, _ := json.Marshal(s.status())
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) undoLast(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text := s.manager.UndoText()
	if err := s.manager.Undo(); err != nil {
		if errors.Is(err, apperr.ErrUnavailable) {
			return mcp.NewToolResultError("nothing to undo"), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("started: " + text), nil
}

func (s *Server) stopUndo(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.manager.StopUndo(true); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("stop requested"), nil
}

func (s *Server) listHistory(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cmds := s.manager.History()
	if len(cmds) == 0 {
		return mcp.NewToolResultText("history is empty"), nil
	}
	lines := make([]string, 0, len(cmds))
	for i, c := range cmds {
		lines = append(lines, fmt.Sprintf("%d. %s -> %s (%d operations)",
			i+1, c.Type, c.Destination, len(c.Operations)))
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) runOperation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rawType, err := req.RequireString("type")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	typ, err := undo.ParseCommandType(rawType)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var sources []string
	if raw, sErr := req.RequireString("sources"); sErr == nil {
		if sources, err = parseSources(raw); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
	}
	destination := ""
	if d, dErr := req.RequireString("destination"); dErr == nil {
		destination = d
	}

	cmd, err := s.ops.Run(ctx, fileops.Request{Type: typ, Sources: sources, Destination: destination})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("recorded: %s (%d operations)", undo.Label(cmd.Type), len(cmd.Operations))), nil
}

// parseSources accepts a JSON array or a newline/comma separated list.
func parseSources(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "[") {
		var out []string
		if err := json.Unmarshal([]byte(raw), &out); err != nil {
			return nil, fmt.Errorf("invalid sources array: %w", err)
		}
		return out, nil
	}
	var out []string
	for _, field := range strings.FieldsFunc(raw, func(r rune) bool { return r == '\n' || r == ',' }) {
		if f := strings.TrimSpace(field); f != "" {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *Server) getOperationContract(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(OperationContract), nil
}

func (s *Server) readOperationsResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "rewind://operations",
			MIMEType: "text/markdown",
			Text:     OperationContract,
		},
	}, nil
}
