package main

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// askDocumentsTool returns the ask_documents tool definition
func askDocumentsTool() mcp.Tool {
	return mcp.NewTool("ask_documents",
		mcp.WithDescription("Answer a question using only the ingested documents. Sources are listed after the answer."),
		mcp.WithString("question",
			mcp.Required(),
			mcp.Description("Natural language question"),
		),
		mcp.WithString("session_id",
			mcp.Description("Conversation to continue; follow-up questions see earlier turns (default: \"default\")"),
		),
		mcp.WithNumber("k",
			mcp.Description("Number of chunks to retrieve (default from configuration)"),
		),
	)
}

// ingestFileTool returns the ingest_file tool definition
func ingestFileTool() mcp.Tool {
	return mcp.NewTool("ingest_file",
		mcp.WithDescription("Ingest a file or directory from the local filesystem (txt, md, pdf, docx, xlsx, html)"),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Absolute path to a file or directory"),
		),
	)
}

// listDocumentsTool returns the list_documents tool definition
func listDocumentsTool() mcp.Tool {
	return mcp.NewTool("list_documents",
		mcp.WithDescription("List ingested documents, oldest first"),
		mcp.WithNumber("limit",
			mcp.Description("Max results (default: 50)"),
		),
		mcp.WithNumber("offset",
			mcp.Description("Skip this many documents"),
		),
	)
}

// clearHistoryTool returns the clear_history tool definition
func clearHistoryTool() mcp.Tool {
	return mcp.NewTool("clear_history",
		mcp.WithDescription("Forget the conversation history of a session. Documents are kept."),
		mcp.WithString("session_id",
			mcp.Description("Session to clear (default: \"default\")"),
		),
	)
}
