package vector

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hyperjump/kiku/internal/models"
)

type indexFactory func(t *testing.T, dims int, metric Metric) Index

// backends runs the same behaviour checks against every Index implementation.
func backends() map[string]indexFactory {
	return map[string]indexFactory{
		"memory": func(t *testing.T, dims int, metric Metric) Index {
			idx, err := NewMemoryIndex(dims, metric)
			if err != nil {
				t.Fatal(err)
			}
			return idx
		},
		"badger": func(t *testing.T, dims int, metric Metric) Index {
			idx, err := OpenBadgerIndex(filepath.Join(t.TempDir(), "db"), dims, metric, nil)
			if err != nil {
				t.Fatal(err)
			}
			t.Cleanup(func() { idx.Close() })
			return idx
		},
	}
}

func rec(id string, vec ...float32) models.VectorRecord {
	return models.VectorRecord{ChunkID: id, DocumentID: "doc", Vector: vec, Text: "text " + id, Source: id + ".txt"}
}

func hitIDs(hits []Hit) []string {
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ChunkID
	}
	return ids
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestIndex_CosineOrdering(t *testing.T) {
	for name, newIndex := range backends() {
		t.Run(name, func(t *testing.T) {
			idx := newIndex(t, 3, Cosine)
			ctx := context.Background()
			err := idx.Add(ctx, []models.VectorRecord{
				rec("a", 1, 0, 0),
				rec("b", 0.9, 0.1, 0),
				rec("c", 0, 1, 0),
			})
			if err != nil {
				t.Fatal(err)
			}
			if idx.Size() != 3 {
				t.Errorf("Size=%d", idx.Size())
			}

			hits, err := idx.Query(ctx, []float32{2, 0, 0}, 2)
			if err != nil {
				t.Fatal(err)
			}
			if got := hitIDs(hits); !equalIDs(got, []string{"a", "b"}) {
				t.Fatalf("hits = %v, want [a b]", got)
			}
			if hits[0].Score < 0.999 || hits[0].Score > 1.001 {
				t.Errorf("top score = %f, want 1", hits[0].Score)
			}
			if hits[0].Text != "text a" || hits[0].Source != "a.txt" || hits[0].DocumentID != "doc" {
				t.Errorf("hit fields not carried: %+v", hits[0])
			}
		})
	}
}

func TestIndex_L2Ordering(t *testing.T) {
	for name, newIndex := range backends() {
		t.Run(name, func(t *testing.T) {
			idx := newIndex(t, 2, L2)
			ctx := context.Background()
			_ = idx.Add(ctx, []models.VectorRecord{rec("far", 10, 10), rec("near", 1, 1), rec("mid", 3, 3)})

			hits, err := idx.Query(ctx, []float32{0, 0}, 10)
			if err != nil {
				t.Fatal(err)
			}
			if got := hitIDs(hits); !equalIDs(got, []string{"near", "mid", "far"}) {
				t.Fatalf("hits = %v", got)
			}
			if hits[0].Score >= hits[1].Score {
				t.Errorf("l2 scores should ascend: %f, %f", hits[0].Score, hits[1].Score)
			}
		})
	}
}

func TestIndex_TiesKeepInsertionOrder(t *testing.T) {
	for name, newIndex := range backends() {
		t.Run(name, func(t *testing.T) {
			idx := newIndex(t, 2, Cosine)
			ctx := context.Background()
			_ = idx.Add(ctx, []models.VectorRecord{rec("z", 1, 0), rec("y", 1, 0), rec("x", 1, 0)})

			hits, _ := idx.Query(ctx, []float32{1, 0}, 3)
			if got := hitIDs(hits); !equalIDs(got, []string{"z", "y", "x"}) {
				t.Errorf("hits = %v, want insertion order", got)
			}
		})
	}
}

func TestIndex_ReAddReplacesInPlace(t *testing.T) {
	for name, newIndex := range backends() {
		t.Run(name, func(t *testing.T) {
			idx := newIndex(t, 2, Cosine)
			ctx := context.Background()
			_ = idx.Add(ctx, []models.VectorRecord{rec("a", 1, 0), rec("b", 1, 0)})
			updated := rec("a", 1, 0)
			updated.Text = "new text"
			if err := idx.Add(ctx, []models.VectorRecord{updated}); err != nil {
				t.Fatal(err)
			}
			if idx.Size() != 2 {
				t.Fatalf("Size=%d, want 2", idx.Size())
			}
			hits, _ := idx.Query(ctx, []float32{1, 0}, 2)
			if hits[0].ChunkID != "a" || hits[0].Text != "new text" {
				t.Errorf("expected replaced a first, got %+v", hits[0])
			}
		})
	}
}

func TestIndex_DimensionMismatchLeavesIndexUnchanged(t *testing.T) {
	for name, newIndex := range backends() {
		t.Run(name, func(t *testing.T) {
			idx := newIndex(t, 3, Cosine)
			ctx := context.Background()
			err := idx.Add(ctx, []models.VectorRecord{rec("ok", 1, 0, 0), rec("bad", 1, 0)})
			if !errors.Is(err, models.ErrDimensionMismatch) {
				t.Fatalf("Add err = %v, want ErrDimensionMismatch", err)
			}
			if idx.Size() != 0 {
				t.Errorf("Size=%d, want 0", idx.Size())
			}
			if _, err := idx.Query(ctx, []float32{1, 0}, 1); !errors.Is(err, models.ErrDimensionMismatch) {
				t.Errorf("Query err = %v, want ErrDimensionMismatch", err)
			}
		})
	}
}

func TestIndex_EmptyAndNonPositiveK(t *testing.T) {
	for name, newIndex := range backends() {
		t.Run(name, func(t *testing.T) {
			idx := newIndex(t, 2, Cosine)
			ctx := context.Background()
			hits, err := idx.Query(ctx, []float32{1, 0}, 5)
			if err != nil || len(hits) != 0 {
				t.Errorf("empty index: hits=%v err=%v", hits, err)
			}
			_ = idx.Add(ctx, []models.VectorRecord{rec("a", 1, 0)})
			if hits, _ := idx.Query(ctx, []float32{1, 0}, 0); len(hits) != 0 {
				t.Errorf("k=0 returned %d hits", len(hits))
			}
			if hits, _ := idx.Query(ctx, []float32{1, 0}, -1); len(hits) != 0 {
				t.Errorf("k=-1 returned %d hits", len(hits))
			}
		})
	}
}

func TestIndex_RemoveAndClear(t *testing.T) {
	for name, newIndex := range backends() {
		t.Run(name, func(t *testing.T) {
			idx := newIndex(t, 2, Cosine)
			ctx := context.Background()
			_ = idx.Add(ctx, []models.VectorRecord{rec("x", 1, 0), rec("y", 0, 1), rec("z", 1, 1)})
			if err := idx.Remove(ctx, []string{"x", "missing"}); err != nil {
				t.Fatal(err)
			}
			if idx.Size() != 2 {
				t.Errorf("expected size 2, got %d", idx.Size())
			}
			hits, _ := idx.Query(ctx, []float32{1, 0}, 5)
			for _, h := range hits {
				if h.ChunkID == "x" {
					t.Error("removed record returned by query")
				}
			}
			if err := idx.Clear(ctx); err != nil {
				t.Fatal(err)
			}
			if idx.Size() != 0 {
				t.Errorf("expected empty index after Clear, got %d", idx.Size())
			}
		})
	}
}

func TestIndex_PersistLoad(t *testing.T) {
	for name, newIndex := range backends() {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "snap", "index.snapshot")
			ctx := context.Background()
			src := newIndex(t, 2, Cosine)
			_ = src.Add(ctx, []models.VectorRecord{rec("a", 1, 0), rec("b", 0, 1), rec("c", 1, 0)})
			if err := src.Persist(path); err != nil {
				t.Fatalf("Persist: %v", err)
			}

			dst := newIndex(t, 2, Cosine)
			_ = dst.Add(ctx, []models.VectorRecord{rec("stale", 1, 1)})
			if err := dst.Load(path); err != nil {
				t.Fatalf("Load: %v", err)
			}
			if dst.Size() != 3 {
				t.Fatalf("Size=%d, want 3", dst.Size())
			}
			hits, _ := dst.Query(ctx, []float32{1, 0}, 3)
			if got := hitIDs(hits); !equalIDs(got, []string{"a", "c", "b"}) {
				t.Errorf("hits after load = %v", got)
			}
			if hits[0].Source != "a.txt" {
				t.Errorf("source not restored: %+v", hits[0])
			}
		})
	}
}

func TestMemoryIndex_LoadMissingFile(t *testing.T) {
	idx, _ := NewMemoryIndex(2, Cosine)
	_ = idx.Add(context.Background(), []models.VectorRecord{rec("a", 1, 0)})
	if err := idx.Load(filepath.Join(t.TempDir(), "absent")); err != nil {
		t.Fatalf("Load(missing) = %v", err)
	}
	if idx.Size() != 1 {
		t.Errorf("missing snapshot should leave index unchanged, size=%d", idx.Size())
	}
}

func TestMemoryIndex_LoadRejectsIncompatibleSnapshot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.snapshot")
	src, _ := NewMemoryIndex(3, Cosine)
	_ = src.Add(context.Background(), []models.VectorRecord{rec("a", 1, 0, 0)})
	if err := src.Persist(path); err != nil {
		t.Fatal(err)
	}

	wrongDims, _ := NewMemoryIndex(2, Cosine)
	if err := wrongDims.Load(path); !errors.Is(err, models.ErrDimensionMismatch) {
		t.Errorf("Load with other dims = %v, want ErrDimensionMismatch", err)
	}
	wrongMetric, _ := NewMemoryIndex(3, L2)
	_ = wrongMetric.Add(context.Background(), []models.VectorRecord{rec("keep", 1, 1, 1)})
	if err := wrongMetric.Load(path); err == nil {
		t.Error("Load with other metric should fail")
	}
	if wrongMetric.Size() != 1 {
		t.Error("failed Load must not change contents")
	}

	junk := filepath.Join(dir, "junk")
	if err := os.WriteFile(junk, []byte("not a snapshot"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := wrongDims.Load(junk); err == nil {
		t.Error("Load of garbage should fail")
	}
}

func TestMemoryIndex_AddCopiesVector(t *testing.T) {
	idx, _ := NewMemoryIndex(2, Cosine)
	v := []float32{1, 0}
	_ = idx.Add(context.Background(), []models.VectorRecord{{ChunkID: "a", Vector: v}})
	v[0], v[1] = 0, 1
	hits, _ := idx.Query(context.Background(), []float32{1, 0}, 1)
	if hits[0].Score < 0.999 {
		t.Errorf("stored vector changed with caller's slice, score=%f", hits[0].Score)
	}
}

func TestSimilarity(t *testing.T) {
	if got := CosineSimilarity([]float32{1, 0}, []float32{0, 1}); got != 0 {
		t.Errorf("orthogonal cosine = %f", got)
	}
	if got := CosineSimilarity([]float32{0, 0}, []float32{1, 1}); got != 0 {
		t.Errorf("zero-vector cosine = %f", got)
	}
	if got := L2Distance([]float32{0, 0}, []float32{3, 4}); got != 5 {
		t.Errorf("L2Distance = %f, want 5", got)
	}
	if got := InnerProduct([]float32{1, 2}, []float32{3, 4}); got != 11 {
		t.Errorf("InnerProduct = %f, want 11", got)
	}
}
