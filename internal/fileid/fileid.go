// Package fileid derives deterministic document identifiers from document content.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
)

const prefix = "doc:"

// DocumentID returns a stable id for a document: the SHA-256 of its filename followed by
// its content. Uploading the same bytes under the same name always yields the same id.
func DocumentID(filename string, content []byte) string {
	h := sha256.New()
	h.Write([]byte(filename))
	h.Write(content)
	return prefix + hex.EncodeToString(h.Sum(nil))
}

// ContentHash returns the hex SHA-256 of content alone.
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
