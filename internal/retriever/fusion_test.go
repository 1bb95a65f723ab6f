package retriever

import (
	"math"
	"testing"

	"github.com/hyperjump/kiku/internal/keyword"
	"github.com/hyperjump/kiku/internal/vector"
)

func TestNormalizeKeywordScores(t *testing.T) {
	results := []keyword.Result{
		{ChunkID: "a", Score: 2},
		{ChunkID: "b", Score: 4},
		{ChunkID: "c", Score: 1},
	}
	m := NormalizeKeywordScores(results)
	if m["b"] != 1.0 {
		t.Errorf("max score should be 1.0, got %f", m["b"])
	}
	if m["a"] != 0.5 {
		t.Errorf("a should be 0.5, got %f", m["a"])
	}
	if len(m) != 3 {
		t.Errorf("expected 3 entries, got %d", len(m))
	}
	if len(NormalizeKeywordScores(nil)) != 0 {
		t.Error("expected empty map for no results")
	}
}

func TestNormalizeSemanticScores(t *testing.T) {
	cosine := NormalizeSemanticScores([]vector.Hit{{ChunkID: "c1", Score: 0.9}, {ChunkID: "c2", Score: -0.2}}, vector.Cosine)
	if cosine["c1"] != 0.9 || cosine["c2"] != 0 {
		t.Errorf("unexpected cosine map %v", cosine)
	}
	l2 := NormalizeSemanticScores([]vector.Hit{{ChunkID: "near", Score: 0}, {ChunkID: "far", Score: 3}}, vector.L2)
	if l2["near"] != 1 || math.Abs(l2["far"]-0.25) > 1e-9 {
		t.Errorf("unexpected l2 map %v", l2)
	}
}

func TestFuse(t *testing.T) {
	kw := map[string]float64{"c1": 1.0, "c2": 0.5}
	sem := map[string]float64{"c1": 0.5, "c2": 1.0, "c3": 0.2}
	results := Fuse(kw, sem, 0.5, 0.5)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i := 1; i < len(results); i++ {
		if results[i-1].Score < results[i].Score {
			t.Error("results should be sorted by score descending")
		}
	}
	// c1 and c2 tie at 0.75; ties are ordered by chunk id.
	if results[0].ChunkID != "c1" || results[1].ChunkID != "c2" {
		t.Errorf("unexpected order: %+v", results)
	}
	if results[2].KeywordScore != 0 || results[2].SemanticScore != 0.2 {
		t.Errorf("semantic-only result: %+v", results[2])
	}
}
