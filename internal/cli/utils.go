// Package cli provides output helpers for the kiku command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/hyperjump/kiku/internal/indexer"
	"github.com/hyperjump/kiku/internal/models"
	"github.com/hyperjump/kiku/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat accepts "text", "json" or "" (text).
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch strings.ToLower(s) {
	case "", "text":
		return OutputText, nil
	case "json":
		return OutputJSON, nil
	default:
		return OutputText, fmt.Errorf("unknown output format %q (want text or json)", s)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteAnswer writes an answer and its sources.
func WriteAnswer(w io.Writer, resp *models.AskResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, resp)
	}
	fmt.Fprintf(w, "\n%s\n", resp.Answer)
	if len(resp.Sources) > 0 {
		fmt.Fprintln(w, "\nSources:")
		for i, s := range resp.Sources {
			fmt.Fprintf(w, "  %d. %s (relevance: %.2f)\n", i+1, s.Source, s.Score)
		}
	}
	fmt.Fprintln(w)
	return nil
}

// PrintAnswer writes an answer to stdout as text.
func PrintAnswer(resp *models.AskResponse) {
	_ = WriteAnswer(os.Stdout, resp, OutputText)
}

// WriteIngestResult summarizes an ingest run.
func WriteIngestResult(w io.Writer, result *models.IngestResult, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, result)
	}
	fmt.Fprintf(w, "Indexed %d document(s), %d chunk(s)\n", len(result.Documents), result.ChunksAdded)
	for _, doc := range result.Documents {
		fmt.Fprintf(w, "  + %s (%d chunks) %s\n", doc.Filename, doc.ChunkCount, doc.ID)
	}
	for _, name := range result.Skipped {
		fmt.Fprintf(w, "  = %s (unchanged)\n", name)
	}
	for _, fe := range result.Errors {
		fmt.Fprintf(w, "  ! %s: %s\n", fe.Filename, fe.Error)
	}
	return nil
}

// WriteDocuments lists registry entries.
func WriteDocuments(w io.Writer, docs []*models.Document, format OutputFormat) error {
	if format == OutputJSON {
		if docs == nil {
			docs = []*models.Document{}
		}
		return writeJSON(w, docs)
	}
	if len(docs) == 0 {
		fmt.Fprintln(w, "No documents indexed.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tFILENAME\tFORMAT\tCHUNKS\tINDEXED")
	for _, d := range docs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			utils.Truncate(d.ID, 16), d.Filename, d.Format, d.ChunkCount, d.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
	return tw.Flush()
}

// WriteStats writes index statistics.
func WriteStats(w io.Writer, stats *indexer.Stats, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, stats)
	}
	fmt.Fprintf(w, "Documents:  %d\n", stats.Documents)
	fmt.Fprintf(w, "Chunks:     %d\n", stats.Chunks)
	fmt.Fprintf(w, "Vectors:    %d (%d dims, %s)\n", stats.Vectors, stats.Dimensions, stats.Metric)
	if stats.Hybrid {
		fmt.Fprintf(w, "Keyword:    %d entries\n", stats.Keyword)
	}
	return nil
}

// WriteHistory writes conversation turns.
func WriteHistory(w io.Writer, turns []models.Turn, format OutputFormat) error {
	if format == OutputJSON {
		if turns == nil {
			turns = []models.Turn{}
		}
		return writeJSON(w, turns)
	}
	for _, t := range turns {
		fmt.Fprintf(w, "[%s] %s\n", t.Role, utils.TruncateWords(t.Content, 60))
	}
	return nil
}
