package vector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/hyperjump/kiku/internal/metrics"
	"github.com/hyperjump/kiku/internal/models"
)

const (
	recordPrefix = "vec:"
	metaKey      = "meta:index"
)

// storedRecord is the value kept under vec:{chunk id}. Seq preserves insertion order
// across restarts.
type storedRecord struct {
	Seq    uint64              `json:"seq"`
	Record models.VectorRecord `json:"record"`
}

type indexMeta struct {
	Dimensions int    `json:"dimensions"`
	Metric     Metric `json:"metric"`
}

// BadgerIndex persists records in BadgerDB and mirrors them in a MemoryIndex for search.
// Every write is committed to disk before the mirror changes.
type BadgerIndex struct {
	db     *badger.DB
	mirror *MemoryIndex
	seqs   map[string]uint64
	next   uint64
	logger *zap.Logger
	mu     sync.Mutex
}

// OpenBadgerIndex opens (or creates) a Badger-backed index at path. An empty path opens an
// in-memory store. Reopening restores every committed record; the stored dimension and
// metric must match.
func OpenBadgerIndex(path string, dimensions int, metric Metric, logger *zap.Logger) (*BadgerIndex, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	mirror, err := NewMemoryIndex(dimensions, metric)
	if err != nil {
		return nil, err
	}
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger store: %w", err)
	}
	b := &BadgerIndex{db: db, mirror: mirror, seqs: make(map[string]uint64), logger: logger}
	if err := b.checkMeta(); err != nil {
		db.Close()
		return nil, err
	}
	if err := b.restore(); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("vector store opened",
		zap.String("path", path),
		zap.Int("records", mirror.Size()),
		zap.Int("dimensions", dimensions),
		zap.String("metric", string(mirror.Metric())))
	return b, nil
}

func (b *BadgerIndex) checkMeta() error {
	want := indexMeta{Dimensions: b.mirror.Dimensions(), Metric: b.mirror.Metric()}
	return b.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(metaKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			data, err := json.Marshal(want)
			if err != nil {
				return err
			}
			return txn.Set([]byte(metaKey), data)
		}
		if err != nil {
			return fmt.Errorf("failed to read index metadata: %w", err)
		}
		var got indexMeta
		if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &got) }); err != nil {
			return fmt.Errorf("failed to decode index metadata: %w", err)
		}
		if got.Dimensions != want.Dimensions {
			return fmt.Errorf("vector store: %w", models.DimensionMismatch(want.Dimensions, got.Dimensions))
		}
		if got.Metric != want.Metric {
			return fmt.Errorf("vector store uses metric %s, configured %s", got.Metric, want.Metric)
		}
		return nil
	})
}

// restore loads every stored record into the mirror in insertion order.
func (b *BadgerIndex) restore() error {
	var stored []storedRecord
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(recordPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var s storedRecord
			if err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &s) }); err != nil {
				return fmt.Errorf("failed to decode %s: %w", it.Item().Key(), err)
			}
			stored = append(stored, s)
		}
		return nil
	})
	if err != nil {
		return err
	}
	sort.Slice(stored, func(i, j int) bool { return stored[i].Seq < stored[j].Seq })
	records := make([]models.VectorRecord, len(stored))
	for i, s := range stored {
		records[i] = s.Record
		b.seqs[s.Record.ChunkID] = s.Seq
		if s.Seq >= b.next {
			b.next = s.Seq + 1
		}
	}
	if err := b.mirror.validate(records); err != nil {
		return fmt.Errorf("vector store: %w", err)
	}
	b.mirror.mu.Lock()
	b.mirror.upsert(records)
	b.mirror.mu.Unlock()
	metrics.VectorIndexSize.Set(float64(len(records)))
	return nil
}

// Add commits records to disk, then to the in-memory mirror.
func (b *BadgerIndex) Add(ctx context.Context, records []models.VectorRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.mirror.validate(records); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	seqs := make(map[string]uint64, len(records))
	next := b.next
	muts := make([]mutation, 0, len(records))
	for _, r := range records {
		seq, ok := b.seqs[r.ChunkID]
		if !ok {
			if seq, ok = seqs[r.ChunkID]; !ok {
				seq = next
				next++
			}
		}
		seqs[r.ChunkID] = seq
		data, err := json.Marshal(storedRecord{Seq: seq, Record: r})
		if err != nil {
			return fmt.Errorf("failed to encode record %s: %w", r.ChunkID, err)
		}
		muts = append(muts, mutation{key: []byte(recordPrefix + r.ChunkID), value: data})
	}
	if err := b.apply(muts, mutate); err != nil {
		return fmt.Errorf("failed to store vectors: %w", err)
	}
	for id, seq := range seqs {
		b.seqs[id] = seq
	}
	b.next = next
	return b.mirror.Add(ctx, records)
}

// mutation sets key to value, or deletes it when value is nil. prev holds the value the key
// had before, nil when it was absent.
type mutation struct {
	key, value, prev []byte
}

type mutateFunc func(txn *badger.Txn, key, value []byte) error

func mutate(txn *badger.Txn, key, value []byte) error {
	if value == nil {
		return txn.Delete(key)
	}
	return txn.Set(key, value)
}

// apply writes muts, starting a new transaction whenever Badger reports the current one is
// full. When a later transaction fails, the earlier committed ones are reverted so the store
// keeps either all of muts or none.
func (b *BadgerIndex) apply(muts []mutation, op mutateFunc) error {
	if err := b.loadPrevious(muts); err != nil {
		return err
	}
	committed, err := b.commit(muts, op, false)
	if err == nil || committed == 0 {
		return err
	}
	if _, undoErr := b.commit(muts[:committed], mutate, true); undoErr != nil {
		b.logger.Error("Failed to revert partial vector write",
			zap.Int("committed", committed), zap.Error(undoErr))
	}
	return err
}

// commit applies muts (their prev values when undo is set) and returns how many of them
// are already durable when it fails.
func (b *BadgerIndex) commit(muts []mutation, op mutateFunc, undo bool) (int, error) {
	txn := b.db.NewTransaction(true)
	defer func() { txn.Discard() }()
	durable := 0
	for i, m := range muts {
		value := m.value
		if undo {
			value = m.prev
		}
		err := op(txn, m.key, value)
		if errors.Is(err, badger.ErrTxnTooBig) {
			if err := txn.Commit(); err != nil {
				return durable, err
			}
			durable = i
			txn = b.db.NewTransaction(true)
			err = op(txn, m.key, value)
		}
		if err != nil {
			return durable, err
		}
	}
	if err := txn.Commit(); err != nil {
		return durable, err
	}
	return len(muts), nil
}

// loadPrevious fills prev for every key that may already be stored.
func (b *BadgerIndex) loadPrevious(muts []mutation) error {
	return b.db.View(func(txn *badger.Txn) error {
		for i := range muts {
			if _, known := b.seqs[string(muts[i].key[len(recordPrefix):])]; !known {
				continue
			}
			item, err := txn.Get(muts[i].key)
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return fmt.Errorf("failed to read vector %s: %w", muts[i].key, err)
			}
			if muts[i].prev, err = item.ValueCopy(nil); err != nil {
				return err
			}
		}
		return nil
	})
}

// Query searches the in-memory mirror.
func (b *BadgerIndex) Query(ctx context.Context, vector []float32, k int) ([]Hit, error) {
	return b.mirror.Query(ctx, vector, k)
}

// Remove deletes records by chunk id from disk and memory.
func (b *BadgerIndex) Remove(ctx context.Context, chunkIDs []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	muts := make([]mutation, len(chunkIDs))
	for i, id := range chunkIDs {
		muts[i] = mutation{key: []byte(recordPrefix + id)}
	}
	if err := b.apply(muts, mutate); err != nil {
		return fmt.Errorf("failed to delete vectors: %w", err)
	}
	for _, id := range chunkIDs {
		delete(b.seqs, id)
	}
	return b.mirror.Remove(ctx, chunkIDs)
}

// Clear drops every stored record.
func (b *BadgerIndex) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.db.DropPrefix([]byte(recordPrefix)); err != nil {
		return fmt.Errorf("failed to clear vector store: %w", err)
	}
	b.seqs = make(map[string]uint64)
	b.next = 0
	return b.mirror.Clear(ctx)
}

// Persist writes a snapshot of the mirror to path.
func (b *BadgerIndex) Persist(path string) error {
	return b.mirror.Persist(path)
}

// Load replaces the stored records with the snapshot at path. A missing file is not an error.
func (b *BadgerIndex) Load(path string) error {
	records, err := b.mirror.readCompatibleSnapshot(path)
	if err != nil || records == nil {
		return err
	}
	ctx := context.Background()
	if err := b.Clear(ctx); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	if err := b.Add(ctx, records); err != nil {
		return err
	}
	b.logger.Info("vector snapshot loaded", zap.String("path", path), zap.Int("records", len(records)))
	return nil
}

// Size returns the number of stored records.
func (b *BadgerIndex) Size() int { return b.mirror.Size() }

// Dimensions returns the fixed vector length.
func (b *BadgerIndex) Dimensions() int { return b.mirror.Dimensions() }

// Metric returns the ranking metric.
func (b *BadgerIndex) Metric() Metric { return b.mirror.Metric() }

// Close flushes and closes the Badger store.
func (b *BadgerIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.db.Close()
}
