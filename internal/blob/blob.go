// Package blob abstracts the object store the pipeline reads datasets from
// and writes alert artifacts to.
//
// The production deployment fronts a cloud bucket; the filesystem
// implementation here is the reference one and is also what local runs and
// tests use. Writes are atomic (write to a temp file, then rename) so a rerun
// for the same reference date replaces artifacts without readers ever seeing
// a torn file.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"
)

// ErrNotFound is returned when a key does not exist in the store.
var ErrNotFound = errors.New("blob not found")

// Store is the minimal object-store surface the pipeline needs.
type Store interface {
	// Get reads the blob at key. Returns ErrNotFound if absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put writes the blob at key atomically, replacing any previous value.
	Put(ctx context.Context, key string, data []byte) error
}

// retry schedule for artifact writes.
var writeBackoff = []time.Duration{time.Second, 4 * time.Second, 16 * time.Second}

// FileStore is a filesystem-backed Store rooted at a directory.
type FileStore struct {
	root    string
	limiter *rate.Limiter // nil when reads are unlimited
	logger  *slog.Logger
}

// Options tunes a FileStore.
type Options struct {
	// ReadRateLimit caps Get calls per minute. 0 disables limiting.
	ReadRateLimit int
}

// NewFileStore creates a store rooted at dir, creating it if needed.
func NewFileStore(dir string, opts Options, logger *slog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating blob root: %w", err)
	}
	var limiter *rate.Limiter
	if opts.ReadRateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(opts.ReadRateLimit)/60.0), 1)
	}
	return &FileStore{
		root:    dir,
		limiter: limiter,
		logger:  logger.With("component", "blob_store"),
	}, nil
}

// Get reads a blob, honoring the read rate limit and context cancellation.
func (s *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(key)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", key, err)
	}
	return data, nil
}

// Put writes a blob atomically: temp file in the target directory, fsync,
// rename over the destination.
func (s *FileStore) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dest := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", key, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", key, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("syncing %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing %s: %w", key, err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming %s: %w", key, err)
	}
	return nil
}

// PutWithRetry writes through the store, retrying transient failures with
// exponential backoff (1s / 4s / 16s). Context cancellation aborts between
// attempts.
func PutWithRetry(ctx context.Context, store Store, key string, data []byte, logger *slog.Logger) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = store.Put(ctx, key, data)
		if lastErr == nil {
			return nil
		}
		if attempt >= len(writeBackoff) {
			return fmt.Errorf("persisting %s after %d attempts: %w", key, attempt+1, lastErr)
		}
		logger.Warn("artifact write failed, retrying",
			"key", key,
			"attempt", attempt+1,
			"backoff", writeBackoff[attempt],
			"error", lastErr,
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(writeBackoff[attempt]):
		}
	}
}
