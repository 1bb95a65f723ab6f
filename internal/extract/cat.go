package extract

import (
	"fmt"

	"github.com/lu4p/cat"
)

// extractWithCat handles RTF and ODT, whose markup lu4p/cat parses correctly.
func extractWithCat(content []byte) (string, error) {
	s, err := cat.FromBytes(content)
	if err != nil {
		return "", fmt.Errorf("read document: %w", err)
	}
	return s, nil
}
