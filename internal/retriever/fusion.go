package retriever

import (
	"sort"

	"github.com/hyperjump/kiku/internal/keyword"
	"github.com/hyperjump/kiku/internal/vector"
)

// FusedResult holds a chunk ID and its fused keyword/semantic scores.
type FusedResult struct {
	ChunkID       string
	Score         float64
	KeywordScore  float64
	SemanticScore float64
}

// NormalizeKeywordScores normalizes BM25 scores to [0,1] by the maximum.
func NormalizeKeywordScores(results []keyword.Result) map[string]float64 {
	normalized := make(map[string]float64, len(results))
	if len(results) == 0 {
		return normalized
	}
	maxScore := results[0].Score
	for _, r := range results {
		if r.Score > maxScore {
			maxScore = r.Score
		}
	}
	for _, r := range results {
		if maxScore > 0 {
			normalized[r.ChunkID] = r.Score / maxScore
		} else {
			normalized[r.ChunkID] = 0
		}
	}
	return normalized
}

// SemanticScore maps a raw index score to a relevance in [0,1] where higher is better.
// Cosine similarity is clamped; an L2 distance d becomes 1/(1+d).
func SemanticScore(score float64, metric vector.Metric) float64 {
	if metric == vector.L2 {
		if score < 0 {
			score = 0
		}
		return 1 / (1 + score)
	}
	return max(0, min(1, score))
}

// NormalizeSemanticScores returns relevance scores keyed by chunk ID.
func NormalizeSemanticScores(hits []vector.Hit, metric vector.Metric) map[string]float64 {
	normalized := make(map[string]float64, len(hits))
	for _, h := range hits {
		normalized[h.ChunkID] = SemanticScore(h.Score, metric)
	}
	return normalized
}

// Fuse merges keyword and semantic score maps with weights. Results are sorted by fused
// score, highest first, ties broken by chunk ID.
func Fuse(keywordScores, semanticScores map[string]float64, keywordWeight, semanticWeight float64) []FusedResult {
	scoreMap := make(map[string]*FusedResult, len(keywordScores)+len(semanticScores))
	for id, score := range keywordScores {
		scoreMap[id] = &FusedResult{ChunkID: id, KeywordScore: score}
	}
	for id, score := range semanticScores {
		if result, exists := scoreMap[id]; exists {
			result.SemanticScore = score
		} else {
			scoreMap[id] = &FusedResult{ChunkID: id, SemanticScore: score}
		}
	}
	results := make([]FusedResult, 0, len(scoreMap))
	for _, result := range scoreMap {
		result.Score = (keywordWeight * result.KeywordScore) + (semanticWeight * result.SemanticScore)
		results = append(results, *result)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})
	return results
}
