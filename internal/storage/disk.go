package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// Footprint is the on-disk size of each persistent store, in bytes.
type Footprint struct {
	Database int64 `json:"database"`
	Vectors  int64 `json:"vectors"`
	Keyword  int64 `json:"keyword"`
}

// Total sums all stores.
func (f Footprint) Total() int64 {
	return f.Database + f.Vectors + f.Keyword
}

// MeasureFootprint sizes the registry database (including its -wal and -shm files), the
// vector store paths and the keyword index directory. Paths that do not exist count as 0.
func MeasureFootprint(databasePath string, vectorPaths []string, keywordPath string) (Footprint, error) {
	var fp Footprint
	var err error
	if databasePath != "" {
		if fp.Database, err = pathsSize(databasePath, databasePath+"-wal", databasePath+"-shm"); err != nil {
			return Footprint{}, err
		}
	}
	if fp.Vectors, err = pathsSize(vectorPaths...); err != nil {
		return Footprint{}, err
	}
	if fp.Keyword, err = pathsSize(keywordPath); err != nil {
		return Footprint{}, err
	}
	return fp, nil
}

func pathsSize(paths ...string) (int64, error) {
	var total int64
	for _, p := range paths {
		if p == "" {
			continue
		}
		err := filepath.WalkDir(p, func(_ string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
			return nil
		})
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return 0, err
		}
	}
	return total, nil
}
