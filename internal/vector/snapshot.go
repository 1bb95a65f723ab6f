package vector

import (
	"bufio"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/hyperjump/kiku/internal/models"
)

const (
	snapshotMagic   = "KIKU-VECTORS"
	snapshotVersion = 1
)

// snapshotHeader precedes the records in a snapshot file.
type snapshotHeader struct {
	Magic      string
	Version    int
	Dimensions int
	Metric     Metric
	Count      int
}

// writeSnapshot writes header and records to path.tmp, then renames it over path.
func writeSnapshot(path string, dimensions int, metric Metric, records []models.VectorRecord) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create snapshot dir: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create snapshot file: %w", err)
	}
	w := bufio.NewWriter(f)
	enc := gob.NewEncoder(w)
	err = enc.Encode(snapshotHeader{
		Magic:      snapshotMagic,
		Version:    snapshotVersion,
		Dimensions: dimensions,
		Metric:     metric,
		Count:      len(records),
	})
	for i := 0; err == nil && i < len(records); i++ {
		err = enc.Encode(records[i])
	}
	if err == nil {
		err = w.Flush()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}

// readSnapshot decodes the snapshot at path. A missing file yields a nil header and no error.
func readSnapshot(path string) (*snapshotHeader, []models.VectorRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()

	dec := gob.NewDecoder(bufio.NewReader(f))
	var h snapshotHeader
	if err := dec.Decode(&h); err != nil {
		return nil, nil, fmt.Errorf("failed to read snapshot header: %w", err)
	}
	if h.Magic != snapshotMagic {
		return nil, nil, fmt.Errorf("%s is not a vector snapshot", path)
	}
	if h.Version != snapshotVersion {
		return nil, nil, fmt.Errorf("unsupported snapshot version %d", h.Version)
	}
	records := make([]models.VectorRecord, 0, h.Count)
	for i := 0; i < h.Count; i++ {
		var r models.VectorRecord
		if err := dec.Decode(&r); err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return nil, nil, fmt.Errorf("failed to read snapshot record %d: %w", i, err)
		}
		records = append(records, r)
	}
	return &h, records, nil
}
