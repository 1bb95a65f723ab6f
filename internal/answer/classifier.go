package answer

import (
	"strings"
	"unicode/utf8"
)

// Classifier reports whether a model reply admits it could not answer.
type Classifier func(reply string) bool

// minAnswerChars is the shortest reply treated as a real answer.
const minAnswerChars = 10

var uncertaintyPhrases = []string{
	"i couldn't find",
	"i don't know",
	"not mentioned",
	"no information",
	"cannot find",
	"can't find",
	"not found",
	"doesn't say",
	"not provided",
	"does not contain",
}

// DefaultClassifier matches common "not in the documents" phrasings, case-insensitively,
// and replies shorter than ten characters.
func DefaultClassifier(reply string) bool {
	trimmed := strings.TrimSpace(reply)
	if utf8.RuneCountInString(trimmed) < minAnswerChars {
		return true
	}
	lower := strings.ToLower(trimmed)
	// Curly apostrophes are common in model output.
	lower = strings.ReplaceAll(lower, "\u2019", "'")
	for _, p := range uncertaintyPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
