package fileid

import (
	"strings"
	"testing"
)

func TestDocumentID(t *testing.T) {
	id1 := DocumentID("notes.txt", []byte("hello"))
	id2 := DocumentID("notes.txt", []byte("hello"))
	if id1 != id2 {
		t.Errorf("same input should give same ID: %q vs %q", id1, id2)
	}
	if !strings.HasPrefix(id1, prefix) {
		t.Errorf("ID should have prefix %q: got %q", prefix, id1)
	}
	if len(id1) != len(prefix)+64 {
		t.Errorf("unexpected ID length %d: %q", len(id1), id1)
	}
}

func TestDocumentID_differs(t *testing.T) {
	base := DocumentID("notes.txt", []byte("hello"))
	tests := []struct {
		name     string
		filename string
		content  string
	}{
		{"content", "notes.txt", "hello!"},
		{"filename", "other.txt", "hello"},
		{"empty content", "notes.txt", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DocumentID(tt.filename, []byte(tt.content)); got == base {
				t.Errorf("expected a different ID, got %q", got)
			}
		})
	}
}

func TestContentHash(t *testing.T) {
	// sha256("abc")
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := ContentHash([]byte("abc")); got != want {
		t.Errorf("ContentHash = %q, want %q", got, want)
	}
}
