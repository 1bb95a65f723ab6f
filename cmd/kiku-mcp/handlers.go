package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/hyperjump/kiku/internal/conversation"
	"github.com/hyperjump/kiku/internal/models"
)

const (
	defaultSession   = "default"
	defaultListLimit = 50
)

type asker interface {
	Ask(ctx context.Context, state *conversation.State, req models.AskRequest) (*models.AskResponse, error)
}

type documentStore interface {
	IngestPaths(ctx context.Context, paths []string) (*models.IngestResult, error)
	ListDocuments(ctx context.Context, offset, limit int) ([]*models.Document, error)
}

// handlers serves the MCP tools. afterIngest runs after every ingest that added or
// replaced documents.
type handlers struct {
	engine      asker
	docs        documentStore
	sessions    *conversation.Sessions
	afterIngest func() error
	logger      *zap.Logger
}

func (h *handlers) register(s *server.MCPServer) {
	s.AddTool(askDocumentsTool(), h.askDocuments)
	s.AddTool(ingestFileTool(), h.ingestFile)
	s.AddTool(listDocumentsTool(), h.listDocuments)
	s.AddTool(clearHistoryTool(), h.clearHistory)
}

func sessionID(request mcp.CallToolRequest) string {
	if id := strings.TrimSpace(request.GetString("session_id", "")); id != "" {
		return id
	}
	return defaultSession
}

func (h *handlers) askDocuments(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := request.RequireString("question")
	if err != nil || strings.TrimSpace(question) == "" {
		return mcp.NewToolResultError("Error: question parameter is required"), nil
	}
	k := request.GetInt("k", 0)
	if k < 0 {
		return mcp.NewToolResultError("Error: k must not be negative"), nil
	}
	id := sessionID(request)
	resp, err := h.engine.Ask(ctx, h.sessions.Get(id), models.AskRequest{Question: question, K: k})
	if err != nil {
		h.logger.Error("ask failed", zap.String("session_id", id), zap.Error(err))
		return mcp.NewToolResultError(fmt.Sprintf("Ask error: %v", err)), nil
	}
	return mcp.NewToolResultText(formatAnswer(resp)), nil
}

func (h *handlers) ingestFile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil || strings.TrimSpace(path) == "" {
		return mcp.NewToolResultError("Error: path parameter is required"), nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return mcp.NewToolResultError(fmt.Sprintf("Error: %s does not exist", path)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("Error: %v", err)), nil
	}
	result, ingestErr := h.docs.IngestPaths(ctx, []string{path})
	if ingestErr != nil {
		h.logger.Error("ingest failed", zap.String("path", path), zap.Error(ingestErr))
	}
	if result != nil && result.ChunksAdded > 0 && h.afterIngest != nil {
		if err := h.afterIngest(); err != nil {
			h.logger.Warn("vector snapshot failed", zap.Error(err))
		}
	}
	if ingestErr != nil {
		text := fmt.Sprintf("Ingest error: %v", ingestErr)
		if result != nil {
			text = formatIngestResult(result) + "\n" + text
		}
		return mcp.NewToolResultError(text), nil
	}
	return mcp.NewToolResultText(formatIngestResult(result)), nil
}

func (h *handlers) listDocuments(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := request.GetInt("limit", defaultListLimit)
	offset := request.GetInt("offset", 0)
	if limit < 0 || offset < 0 {
		return mcp.NewToolResultError("Error: limit and offset must not be negative"), nil
	}
	docs, err := h.docs.ListDocuments(ctx, offset, limit)
	if err != nil {
		h.logger.Error("list documents failed", zap.Error(err))
		return mcp.NewToolResultError(fmt.Sprintf("List error: %v", err)), nil
	}
	return mcp.NewToolResultText(formatDocuments(docs)), nil
}

func (h *handlers) clearHistory(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := sessionID(request)
	state, ok := h.sessions.Lookup(id)
	if !ok {
		return mcp.NewToolResultText(fmt.Sprintf("Session %s has no history.", id)), nil
	}
	n := state.Len()
	state.Clear()
	return mcp.NewToolResultText(fmt.Sprintf("Cleared %d turn(s) from session %s.", n, id)), nil
}
