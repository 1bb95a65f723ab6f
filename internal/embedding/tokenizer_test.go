package embedding

import (
	"testing"
)

func TestHashTokenizer_Encode(t *testing.T) {
	enc := HashTokenizer{}.Encode("Quarterly budget, approved", 8)
	if len(enc.InputIDs) != 8 || len(enc.AttentionMask) != 8 || len(enc.TokenTypeIDs) != 8 {
		t.Fatalf("all inputs should be padded to 8, got %d/%d/%d",
			len(enc.InputIDs), len(enc.AttentionMask), len(enc.TokenTypeIDs))
	}
	if enc.InputIDs[0] != clsTokenID || enc.InputIDs[4] != sepTokenID {
		t.Errorf("expected [CLS] w w w [SEP], got %v", enc.InputIDs)
	}
	for i := 1; i <= 3; i++ {
		if id := enc.InputIDs[i]; id < firstWordID || id >= hashVocabSize {
			t.Errorf("word id %d out of range", id)
		}
	}
	want := []int64{1, 1, 1, 1, 1, 0, 0, 0}
	for i, m := range want {
		if enc.AttentionMask[i] != m {
			t.Fatalf("attention mask = %v, want %v", enc.AttentionMask, want)
		}
	}
	if enc.Truncated {
		t.Error("short text should not be truncated")
	}
}

func TestHashTokenizer_sameWordSameID(t *testing.T) {
	a := HashTokenizer{}.Encode("Budget", 4)
	b := HashTokenizer{}.Encode("the budget", 5)
	if a.InputIDs[1] != b.InputIDs[2] {
		t.Errorf("case-folded words should share an id: %d vs %d", a.InputIDs[1], b.InputIDs[2])
	}
}

func TestHashTokenizer_truncates(t *testing.T) {
	enc := HashTokenizer{}.Encode("one two three four five", 4)
	if !enc.Truncated {
		t.Error("expected truncation")
	}
	if enc.InputIDs[3] != sepTokenID {
		t.Errorf("[SEP] must close a full window, got %v", enc.InputIDs)
	}
	for _, m := range enc.AttentionMask {
		if m != 1 {
			t.Errorf("full window should be fully attended, got %v", enc.AttentionMask)
		}
	}

	if empty := (HashTokenizer{}).Encode("", 3); empty.InputIDs[1] != sepTokenID || empty.AttentionMask[2] != 0 {
		t.Errorf("empty text should encode as [CLS] [SEP], got %v", empty.InputIDs)
	}
}

func TestSplitWords(t *testing.T) {
	words := SplitWords("  a  b  c  ")
	if len(words) != 3 {
		t.Errorf("expected 3 words, got %v", words)
	}
	if got := SplitWords("Hello, World-2"); len(got) != 3 || got[0] != "hello" || got[2] != "2" {
		t.Errorf("expected lowercased words split on punctuation, got %v", got)
	}
	if SplitWords("") != nil {
		t.Error("empty string should return nil")
	}
}

func TestHashString(t *testing.T) {
	if HashString("abc") == 0 {
		t.Error("hash should be non-zero")
	}
	if HashString("abc") != HashString("abc") {
		t.Error("hash should be deterministic")
	}
}
