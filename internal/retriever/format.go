package retriever

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hyperjump/kiku/internal/config"
	"github.com/hyperjump/kiku/internal/models"
)

// truncateMargin is the least room, in characters, worth filling with a cut-off block.
const truncateMargin = 100

// FormatContext renders results, best first, as numbered source blocks:
//
//	[Source 1: report.pdf (relevance: 0.87)]
//	chunk text
//
// Blocks are separated by a blank line. The output stays within maxChars characters
// (config.DefaultMaxContextChars when maxChars <= 0) plus a "..." marker on a truncated
// last block.
func FormatContext(results []models.RetrievalResult, maxChars int) string {
	if len(results) == 0 {
		return ""
	}
	if maxChars <= 0 {
		maxChars = config.DefaultMaxContextChars
	}
	ordered := make([]models.RetrievalResult, len(results))
	copy(ordered, results)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Score > ordered[j].Score })

	parts := make([]string, 0, len(ordered))
	length := 0
	for i, r := range ordered {
		source := r.Source
		if source == "" {
			source = "Unknown"
		}
		block := fmt.Sprintf("[Source %d: %s (relevance: %.2f)]\n%s\n", i+1, source, r.Score, r.Text)
		runes := []rune(block)
		if length+len(runes) > maxChars {
			if remaining := maxChars - length; remaining > truncateMargin {
				parts = append(parts, string(runes[:remaining])+"...\n")
			}
			break
		}
		parts = append(parts, block)
		length += len(runes)
	}
	return strings.Join(parts, "\n")
}

// Sources returns the unique, sorted source names of results.
func Sources(results []models.RetrievalResult) []string {
	seen := make(map[string]struct{}, len(results))
	out := make([]string, 0, len(results))
	for _, r := range results {
		if r.Source == "" {
			continue
		}
		if _, ok := seen[r.Source]; ok {
			continue
		}
		seen[r.Source] = struct{}{}
		out = append(out, r.Source)
	}
	sort.Strings(out)
	return out
}
