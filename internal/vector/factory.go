package vector

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/kiku/internal/config"
)

// Backend names accepted in vector.backend.
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
)

// New creates the index described by cfg for vectors of the given dimension.
func New(cfg config.VectorConfig, dimensions int, logger *zap.Logger) (Index, error) {
	metric, err := ParseMetric(cfg.Metric)
	if err != nil {
		return nil, err
	}
	switch cfg.Backend {
	case BackendMemory, "":
		return NewMemoryIndex(dimensions, metric)
	case BackendBadger:
		if cfg.Path == "" {
			return nil, fmt.Errorf("vector.path is required for the badger backend")
		}
		return OpenBadgerIndex(cfg.Path, dimensions, metric, logger)
	default:
		return nil, fmt.Errorf("unknown vector backend: %s (supported: memory, badger)", cfg.Backend)
	}
}
