package vector

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hyperjump/kiku/internal/metrics"
	"github.com/hyperjump/kiku/internal/models"
)

// MemoryIndex is an in-memory vector index using brute-force search. Records keep their
// insertion order, which breaks score ties.
type MemoryIndex struct {
	dimensions int
	metric     Metric
	records    []models.VectorRecord
	positions  map[string]int
	mu         sync.RWMutex
}

// NewMemoryIndex creates an empty in-memory index with the given dimension and metric.
func NewMemoryIndex(dimensions int, metric Metric) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	if _, err := ParseMetric(string(metric)); err != nil {
		return nil, err
	}
	if metric == "" {
		metric = Cosine
	}
	return &MemoryIndex{
		dimensions: dimensions,
		metric:     metric,
		positions:  make(map[string]int),
	}, nil
}

// validate checks a whole batch before anything is written.
func (m *MemoryIndex) validate(records []models.VectorRecord) error {
	for _, r := range records {
		if r.ChunkID == "" {
			return fmt.Errorf("record without chunk id")
		}
		if len(r.Vector) != m.dimensions {
			return models.DimensionMismatch(len(r.Vector), m.dimensions)
		}
	}
	return nil
}

// Add inserts records. A record whose chunk id is already present replaces the stored
// vector and text but keeps its position.
func (m *MemoryIndex) Add(ctx context.Context, records []models.VectorRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.validate(records); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsert(records)
	metrics.VectorIndexSize.Set(float64(len(m.records)))
	return nil
}

func (m *MemoryIndex) upsert(records []models.VectorRecord) {
	for _, r := range records {
		r.Vector = append([]float32(nil), r.Vector...)
		if pos, ok := m.positions[r.ChunkID]; ok {
			m.records[pos] = r
			continue
		}
		m.positions[r.ChunkID] = len(m.records)
		m.records = append(m.records, r)
	}
}

// Query returns the k records closest to vector. For Cosine the hits are ordered by
// descending similarity; for L2 by ascending distance.
func (m *MemoryIndex) Query(ctx context.Context, vector []float32, k int) ([]Hit, error) {
	if len(vector) != m.dimensions {
		return nil, models.DimensionMismatch(len(vector), m.dimensions)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if k <= 0 || len(m.records) == 0 {
		return nil, nil
	}

	hits := make([]Hit, len(m.records))
	for i, r := range m.records {
		hits[i] = Hit{ChunkID: r.ChunkID, DocumentID: r.DocumentID, Text: r.Text, Source: r.Source}
		if m.metric == L2 {
			hits[i].Score = L2Distance(vector, r.Vector)
		} else {
			hits[i].Score = CosineSimilarity(vector, r.Vector)
		}
	}
	if m.metric == L2 {
		sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score < hits[j].Score })
	} else {
		sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	}
	if k > len(hits) {
		k = len(hits)
	}
	return hits[:k], nil
}

// Remove deletes records by chunk id. Unknown ids are ignored.
func (m *MemoryIndex) Remove(ctx context.Context, chunkIDs []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remove(chunkIDs)
	metrics.VectorIndexSize.Set(float64(len(m.records)))
	return nil
}

func (m *MemoryIndex) remove(chunkIDs []string) {
	drop := make(map[string]bool, len(chunkIDs))
	for _, id := range chunkIDs {
		if _, ok := m.positions[id]; ok {
			drop[id] = true
		}
	}
	if len(drop) == 0 {
		return
	}
	kept := make([]models.VectorRecord, 0, len(m.records)-len(drop))
	for _, r := range m.records {
		if !drop[r.ChunkID] {
			kept = append(kept, r)
		}
	}
	m.replace(kept)
}

// replace swaps the full contents; callers hold the write lock.
func (m *MemoryIndex) replace(records []models.VectorRecord) {
	m.records = records
	m.positions = make(map[string]int, len(records))
	for i, r := range records {
		m.positions[r.ChunkID] = i
	}
}

// Clear removes every record.
func (m *MemoryIndex) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replace(nil)
	metrics.VectorIndexSize.Set(0)
	return nil
}

// Persist writes a snapshot of the index to path. An empty path is a no-op.
func (m *MemoryIndex) Persist(path string) error {
	if path == "" {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return writeSnapshot(path, m.dimensions, m.metric, m.records)
}

// Load replaces the contents with the snapshot at path. A missing file leaves the index
// unchanged and is not an error.
func (m *MemoryIndex) Load(path string) error {
	records, err := m.readCompatibleSnapshot(path)
	if err != nil || records == nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replace(nil)
	m.upsert(records)
	metrics.VectorIndexSize.Set(float64(len(m.records)))
	return nil
}

// readCompatibleSnapshot reads path and checks it against this index's shape. It returns
// nil records when the file does not exist.
func (m *MemoryIndex) readCompatibleSnapshot(path string) ([]models.VectorRecord, error) {
	if path == "" {
		return nil, nil
	}
	header, records, err := readSnapshot(path)
	if err != nil || header == nil {
		return nil, err
	}
	if header.Dimensions != m.dimensions {
		return nil, fmt.Errorf("snapshot %s: %w", path, models.DimensionMismatch(header.Dimensions, m.dimensions))
	}
	if header.Metric != m.metric {
		return nil, fmt.Errorf("snapshot %s uses metric %s, index uses %s", path, header.Metric, m.metric)
	}
	if err := m.validate(records); err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", path, err)
	}
	if records == nil {
		records = []models.VectorRecord{}
	}
	return records, nil
}

// Records returns a copy of the stored records in insertion order.
func (m *MemoryIndex) Records() []models.VectorRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.VectorRecord, len(m.records))
	copy(out, m.records)
	return out
}

// Size returns the number of records in the index.
func (m *MemoryIndex) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Dimensions returns the fixed vector length.
func (m *MemoryIndex) Dimensions() int { return m.dimensions }

// Metric returns the ranking metric.
func (m *MemoryIndex) Metric() Metric { return m.metric }

// Close is a no-op for MemoryIndex.
func (m *MemoryIndex) Close() error {
	return nil
}
