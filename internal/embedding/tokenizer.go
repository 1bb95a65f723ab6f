package embedding

import (
	"hash/fnv"
	"strings"
	"unicode"
)

// BERT special token ids. Word ids are hashed into [firstWordID, hashVocabSize).
const (
	clsTokenID    = 101
	sepTokenID    = 102
	firstWordID   = 1000
	hashVocabSize = 30522
)

// Encoding is the padded model input for one text.
type Encoding struct {
	InputIDs      []int64
	AttentionMask []int64
	TokenTypeIDs  []int64
	// Truncated reports that words were dropped to fit maxTokens.
	Truncated bool
}

// Tokenizer turns text into BERT-style model inputs of exactly maxTokens positions.
type Tokenizer interface {
	Encode(text string, maxTokens int) Encoding
}

// HashTokenizer maps each lowercased word to a hashed vocabulary id. It stands in for a
// WordPiece vocabulary and suits models exported with a matching hashed vocabulary.
type HashTokenizer struct{}

// Encode frames the words of text with [CLS] and [SEP] and pads to maxTokens.
func (HashTokenizer) Encode(text string, maxTokens int) Encoding {
	if maxTokens < 2 {
		maxTokens = 2
	}
	enc := Encoding{
		InputIDs:      make([]int64, maxTokens),
		AttentionMask: make([]int64, maxTokens),
		TokenTypeIDs:  make([]int64, maxTokens),
	}
	words := SplitWords(text)
	room := maxTokens - 2
	if len(words) > room {
		words = words[:room]
		enc.Truncated = true
	}

	enc.InputIDs[0] = clsTokenID
	for i, w := range words {
		enc.InputIDs[i+1] = wordID(w)
	}
	enc.InputIDs[len(words)+1] = sepTokenID
	for i := 0; i < len(words)+2; i++ {
		enc.AttentionMask[i] = 1
	}
	return enc
}

func wordID(w string) int64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(w))
	return int64(firstWordID + h.Sum32()%(hashVocabSize-firstWordID))
}

// SplitWords splits lowercased text on anything that is not a letter or digit.
func SplitWords(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(words) == 0 {
		return nil
	}
	return words
}

// HashString returns a deterministic non-negative hash of s.
func HashString(s string) int {
	h := 0
	for _, c := range s {
		h = 31*h + int(c)
	}
	if h < 0 {
		h = -h
	}
	return h
}
