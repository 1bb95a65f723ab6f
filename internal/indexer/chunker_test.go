package indexer

import (
	"errors"
	"strings"
	"testing"

	"github.com/hyperjump/kiku/internal/models"
)

func mustChunker(t *testing.T, size, overlap int, opts ...ChunkerOption) *Chunker {
	t.Helper()
	c, err := NewChunker(size, overlap, opts...)
	if err != nil {
		t.Fatalf("NewChunker(%d, %d): %v", size, overlap, err)
	}
	return c
}

// reconstruct joins chunks using their offsets, dropping the overlapping prefix of each.
func reconstruct(chunks []*models.Chunk) string {
	var b strings.Builder
	covered := 0
	for _, ch := range chunks {
		r := []rune(ch.Text)
		if ch.End <= covered {
			continue
		}
		b.WriteString(string(r[covered-ch.Start:]))
		covered = ch.End
	}
	return b.String()
}

func TestNewChunker_invalid(t *testing.T) {
	tests := []struct {
		name          string
		size, overlap int
	}{
		{"zero size", 0, 0},
		{"negative size", -1, 0},
		{"overlap equals size", 100, 100},
		{"overlap exceeds size", 100, 150},
		{"negative overlap", 100, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewChunker(tt.size, tt.overlap)
			if !errors.Is(err, models.ErrInvalidConfiguration) {
				t.Errorf("NewChunker(%d, %d) error = %v, want ErrInvalidConfiguration", tt.size, tt.overlap, err)
			}
		})
	}
}

func TestChunker_Chunk(t *testing.T) {
	c := mustChunker(t, 20, 5)
	text := "one two three four five six seven eight nine ten eleven twelve"
	chunks := c.Chunk("doc1", text, map[string]string{models.MetaSource: "a.txt"})
	if len(chunks) < 2 {
		t.Fatalf("expected at least 2 chunks, got %d", len(chunks))
	}
	for i, ch := range chunks {
		if ch.DocumentID != "doc1" {
			t.Errorf("chunk %d DocumentID=%s", i, ch.DocumentID)
		}
		if ch.Index != i {
			t.Errorf("chunk %d Index=%d", i, ch.Index)
		}
		if ch.ID != ChunkID("doc1", i) {
			t.Errorf("chunk %d ID=%s", i, ch.ID)
		}
		if ch.Metadata[models.MetaSource] != "a.txt" {
			t.Errorf("chunk %d metadata not copied: %v", i, ch.Metadata)
		}
		if got := string([]rune(text)[ch.Start:ch.End]); got != ch.Text {
			t.Errorf("chunk %d text %q does not match span [%d,%d) %q", i, ch.Text, ch.Start, ch.End, got)
		}
	}
	if got := reconstruct(chunks); got != text {
		t.Errorf("reconstructed %q, want %q", got, text)
	}
}

func TestChunker_metadataIsCopied(t *testing.T) {
	c := mustChunker(t, 10, 2)
	meta := map[string]string{"k": "v"}
	chunks := c.Chunk("d", strings.Repeat("abcde ", 10), meta)
	chunks[0].Metadata["k"] = "changed"
	if meta["k"] != "v" || chunks[1].Metadata["k"] != "v" {
		t.Error("chunks must not share the caller's metadata map")
	}
}

func TestChunker_ChunkEmpty(t *testing.T) {
	c := mustChunker(t, 5, 1)
	if chunks := c.Chunk("d", "   \n\t  ", nil); chunks != nil {
		t.Errorf("blank text should return nil, got %v", chunks)
	}
	if chunks := c.Chunk("d", "", nil); chunks != nil {
		t.Errorf("empty text should return nil, got %v", chunks)
	}
}

func TestChunker_shortText(t *testing.T) {
	c := mustChunker(t, 1000, 200)
	text := "A short note. It fits in one chunk."
	chunks := c.Chunk("d", text, nil)
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if chunks[0].Text != text || chunks[0].Start != 0 || chunks[0].End != len([]rune(text)) {
		t.Errorf("unexpected chunk %+v", chunks[0])
	}
}

func TestChunker_noBoundaries(t *testing.T) {
	c := mustChunker(t, 1000, 200)
	text := strings.Repeat("x", 2500)
	chunks := c.Chunk("d", text, nil)
	wantStarts := []int{0, 800, 1600, 2400}
	wantEnds := []int{1000, 1800, 2500, 2500}
	if len(chunks) != len(wantStarts) {
		t.Fatalf("got %d chunks, want %d", len(chunks), len(wantStarts))
	}
	for i, ch := range chunks {
		if ch.Start != wantStarts[i] || ch.End != wantEnds[i] {
			t.Errorf("chunk %d = [%d,%d), want [%d,%d)", i, ch.Start, ch.End, wantStarts[i], wantEnds[i])
		}
	}
	if got := reconstruct(chunks); got != text {
		t.Error("reconstruction mismatch")
	}
}

func TestChunker_prefersSentenceBoundary(t *testing.T) {
	c := mustChunker(t, 40, 0, WithLookback(20))
	text := "The first sentence ends here. Then a second one keeps going on and on."
	chunks := c.Chunk("d", text, nil)
	if len(chunks) < 2 {
		t.Fatalf("expected at least 2 chunks, got %d", len(chunks))
	}
	if chunks[0].Text != "The first sentence ends here." {
		t.Errorf("first chunk %q should end at the sentence boundary", chunks[0].Text)
	}
	if got := reconstruct(chunks); got != text {
		t.Errorf("reconstructed %q", got)
	}
}

func TestChunker_fallsBackToWordBoundary(t *testing.T) {
	c := mustChunker(t, 12, 0, WithLookback(6))
	text := "alpha beta gamma delta"
	chunks := c.Chunk("d", text, nil)
	if chunks[0].Text != "alpha beta " {
		t.Errorf("first chunk %q should end after whitespace", chunks[0].Text)
	}
	if got := reconstruct(chunks); got != text {
		t.Errorf("reconstructed %q", got)
	}
}

func TestChunker_runeOffsets(t *testing.T) {
	c := mustChunker(t, 4, 1, WithLookback(0))
	text := "日本語のテキストです"
	chunks := c.Chunk("d", text, nil)
	for _, ch := range chunks {
		if len([]rune(ch.Text)) > 4 {
			t.Errorf("chunk %q longer than 4 characters", ch.Text)
		}
	}
	if got := reconstruct(chunks); got != text {
		t.Errorf("reconstructed %q, want %q", got, text)
	}
}

func TestChunker_reconstructsText(t *testing.T) {
	text := strings.Repeat("Lorem ipsum dolor sit amet. Consectetur adipiscing elit!\nSed do eiusmod? ", 40)
	for _, cfg := range []struct{ size, overlap int }{{50, 0}, {50, 10}, {100, 99}, {300, 50}, {7, 3}} {
		c := mustChunker(t, cfg.size, cfg.overlap)
		chunks := c.Chunk("d", text, nil)
		if got := reconstruct(chunks); got != text {
			t.Errorf("size=%d overlap=%d: reconstruction mismatch", cfg.size, cfg.overlap)
		}
		for i := 1; i < len(chunks); i++ {
			if chunks[i].Start <= chunks[i-1].Start {
				t.Errorf("size=%d overlap=%d: chunk %d does not advance", cfg.size, cfg.overlap, i)
			}
			if chunks[i].Start > chunks[i-1].End {
				t.Errorf("size=%d overlap=%d: gap before chunk %d", cfg.size, cfg.overlap, i)
			}
		}
	}
}

func TestChunker_longWhitespaceRunIsCovered(t *testing.T) {
	text := "a" + strings.Repeat(" ", 30) + "b"
	for _, cfg := range []struct{ size, overlap int }{{10, 2}, {10, 0}, {5, 4}} {
		c := mustChunker(t, cfg.size, cfg.overlap)
		chunks := c.Chunk("d", text, nil)
		if got := reconstruct(chunks); got != text {
			t.Errorf("size=%d overlap=%d: reconstructed %q, want %q", cfg.size, cfg.overlap, got, text)
		}
		if chunks[0].Start != 0 || chunks[len(chunks)-1].End != len([]rune(text)) {
			t.Errorf("size=%d overlap=%d: chunks must span the whole text", cfg.size, cfg.overlap)
		}
		for i := 1; i < len(chunks); i++ {
			if chunks[i].Start > chunks[i-1].End {
				t.Errorf("size=%d overlap=%d: offsets [%d, %d) not covered",
					cfg.size, cfg.overlap, chunks[i-1].End, chunks[i].Start)
			}
			if chunks[i].Index != i {
				t.Errorf("chunk %d has index %d", i, chunks[i].Index)
			}
		}
	}
}
