package models

// VectorRecord is the unit stored in a vector index.
type VectorRecord struct {
	ChunkID    string    `json:"chunk_id"`
	DocumentID string    `json:"document_id"`
	Vector     []float32 `json:"vector"`
	Text       string    `json:"text"`
	Source     string    `json:"source"`
}

// RetrievalResult is one chunk returned for a query.
type RetrievalResult struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Score      float64 `json:"score"`
	Text       string  `json:"text"`
	Source     string  `json:"source"`
}

// SourceRef names a source document and the score it was retrieved with.
type SourceRef struct {
	Source string  `json:"source"`
	Score  float64 `json:"score"`
}

// SourceRefs converts retrieval results to source references in result order.
func SourceRefs(results []RetrievalResult) []SourceRef {
	if len(results) == 0 {
		return nil
	}
	refs := make([]SourceRef, len(results))
	for i, r := range results {
		refs[i] = SourceRef{Source: r.Source, Score: r.Score}
	}
	return refs
}
