package main

import (
	"fmt"
	"strings"

	"github.com/hyperjump/kiku/internal/models"
)

// formatAnswer renders an answer with its numbered sources as markdown.
func formatAnswer(resp *models.AskResponse) string {
	var sb strings.Builder
	sb.WriteString(resp.Answer)
	sb.WriteString("\n")
	if len(resp.Sources) == 0 {
		return sb.String()
	}
	sb.WriteString("\n**Sources:**\n")
	for i, src := range resp.Sources {
		fmt.Fprintf(&sb, "%d. %s (relevance: %.2f)\n", i+1, src.Source, src.Score)
	}
	return sb.String()
}

func formatIngestResult(result *models.IngestResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Indexed %d document(s), %d chunk(s)\n", len(result.Documents), result.ChunksAdded)
	for _, doc := range result.Documents {
		fmt.Fprintf(&sb, "- %s (%d chunks, id `%s`)\n", doc.Filename, doc.ChunkCount, doc.ID)
	}
	for _, name := range result.Skipped {
		fmt.Fprintf(&sb, "- %s (unchanged)\n", name)
	}
	for _, fe := range result.Errors {
		fmt.Fprintf(&sb, "- %s: **failed**: %s\n", fe.Filename, fe.Error)
	}
	return sb.String()
}

func formatDocuments(docs []*models.Document) string {
	if len(docs) == 0 {
		return "No documents have been ingested.\n"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Documents (%d)\n\n", len(docs))
	sb.WriteString("| ID | Filename | Format | Chunks | Updated |\n")
	sb.WriteString("|---|---|---|---|---|\n")
	for _, doc := range docs {
		fmt.Fprintf(&sb, "| `%s` | %s | %s | %d | %s |\n",
			doc.ID, doc.Filename, doc.Format, doc.ChunkCount, doc.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return sb.String()
}
