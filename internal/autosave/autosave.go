// Package autosave persists the vector index to a snapshot on a cron schedule.
package autosave

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/hyperjump/kiku/internal/vector"
)

// Snapshotter saves and restores a vector index snapshot. Saves are serialized, so the
// scheduled job, an explicit API call and shutdown never write the file concurrently.
type Snapshotter struct {
	index  vector.Index
	path   string
	logger *zap.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	started bool
}

// New creates a Snapshotter for index writing to path.
func New(index vector.Index, path string, logger *zap.Logger) *Snapshotter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Snapshotter{
		index:  index,
		path:   path,
		logger: logger,
		cron:   cron.New(),
	}
}

// Path returns the snapshot location.
func (s *Snapshotter) Path() string { return s.path }

// Save writes the snapshot and returns how many records it holds.
func (s *Snapshotter) Save() (int, error) {
	if s.path == "" {
		return 0, errors.New("snapshot path is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	start := time.Now()
	if err := s.index.Persist(s.path); err != nil {
		return 0, fmt.Errorf("persist vector index: %w", err)
	}
	n := s.index.Size()
	s.logger.Debug("vector snapshot saved",
		zap.String("path", s.path), zap.Int("records", n), zap.Duration("took", time.Since(start)))
	return n, nil
}

// Restore loads the snapshot when one exists. A missing snapshot leaves the index untouched.
func (s *Snapshotter) Restore() error {
	if s.path == "" {
		return nil
	}
	if _, err := os.Stat(s.path); errors.Is(err, os.ErrNotExist) {
		s.logger.Debug("no vector snapshot to restore", zap.String("path", s.path))
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.index.Load(s.path); err != nil {
		return fmt.Errorf("load vector snapshot: %w", err)
	}
	s.logger.Info("vector snapshot restored", zap.String("path", s.path), zap.Int("records", s.index.Size()))
	return nil
}

// Schedule adds an extra job to the same scheduler, e.g. idle session sweeping.
func (s *Snapshotter) Schedule(spec string, job func()) error {
	if _, err := s.cron.AddFunc(spec, job); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return nil
}

// Start saves on the given cron spec (e.g. "@every 5m" or "*/10 * * * *") and starts the
// scheduler. An empty spec schedules no saves but still runs jobs added with Schedule.
func (s *Snapshotter) Start(spec string) error {
	if spec != "" {
		if s.path == "" {
			return errors.New("autosave requires vector.snapshot_path")
		}
		err := s.Schedule(spec, func() {
			if _, err := s.Save(); err != nil {
				s.logger.Error("scheduled snapshot failed", zap.Error(err))
			}
		})
		if err != nil {
			return err
		}
	}
	s.cron.Start()
	s.started = true
	s.logger.Info("autosave scheduler started", zap.String("schedule", spec), zap.String("path", s.path))
	return nil
}

// Stop waits for running jobs, then writes a final snapshot when a path is configured.
func (s *Snapshotter) Stop(ctx context.Context) error {
	if s.started {
		select {
		case <-s.cron.Stop().Done():
		case <-ctx.Done():
			return ctx.Err()
		}
		s.started = false
	}
	if s.path == "" {
		return nil
	}
	_, err := s.Save()
	return err
}
