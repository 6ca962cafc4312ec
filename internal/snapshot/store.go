// Package snapshot implements the local filesystem-backed key/value
// store used both as a read-through cache and as the disaster fallback
// when the remote config service is unreachable.
package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/diamondconfig/diamond-go/model"
)

// maxConcurrentWrites bounds the goroutine fan-out of BatchSave, which
// can otherwise spawn hundreds of writers for one batchGetConfig
// response.
const maxConcurrentWrites = 16

// Store persists arbitrary key/value pairs under a root directory. It
// never returns an error to its caller: failures are reported through
// the injected ErrorReporter and, in the read path, treated the same as
// a missing entry.
type Store struct {
	root     string
	reporter model.ErrorReporter
	logger   *zap.Logger
	sem      *semaphore.Weighted
}

// New creates a store rooted at <cacheDir>/snapshot. The directory is
// created lazily on first write.
func New(cacheDir string, reporter model.ErrorReporter, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		root:     filepath.Join(cacheDir, "snapshot"),
		reporter: reporter,
		logger:   logger,
		sem:      semaphore.NewWeighted(maxConcurrentWrites),
	}
}

func (s *Store) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

// Get returns the stored value for key, or nil if absent or unreadable.
// Callers must treat both cases identically; a read failure is reported
// as an event but never surfaced as a return value.
func (s *Store) Get(key string) *string {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if !os.IsNotExist(err) {
			s.report(&model.SnapshotReadError{Key: key, Err: err})
		}
		return nil
	}
	value := string(data)
	return &value
}

// Save writes value under key, creating intermediate directories as
// needed. Failure is reported, never returned.
func (s *Store) Save(key, value string) {
	p := s.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		s.report(&model.SnapshotWriteError{Key: key, Value: value, Err: err})
		return
	}
	if err := os.WriteFile(p, []byte(value), 0o644); err != nil {
		s.report(&model.SnapshotWriteError{Key: key, Value: value, Err: err})
	}
}

// Delete removes the entry for key, if present. Failure is reported,
// never returned.
func (s *Store) Delete(key string) {
	if err := os.RemoveAll(s.path(key)); err != nil {
		s.report(&model.SnapshotDeleteError{Key: key, Err: err})
	}
}

// BatchSave saves every entry concurrently, bounded by
// maxConcurrentWrites. Each entry's failure is reported independently;
// one bad entry never blocks the others.
func (s *Store) BatchSave(entries map[string]string) {
	var wg sync.WaitGroup
	for key, value := range entries {
		key, value := key, value
		if err := s.sem.Acquire(context.Background(), 1); err != nil {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer s.sem.Release(1)
			s.Save(key, value)
		}()
	}
	wg.Wait()
}

func (s *Store) report(err error) {
	s.logger.Warn("snapshot error", zap.Error(err))
	if s.reporter != nil {
		s.reporter.Report(err)
	}
}
