package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"syscall"

	"go.uber.org/zap"
)

var validKey = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// FileStorage stores each key as a JSON file inside a directory. Writes go to a
// temporary file first and are renamed into place, so a failed write never
// leaves a truncated blob behind.
type FileStorage struct {
	dir    string
	quota  int64
	logger *zap.Logger
	mu     sync.Mutex
}

// NewFileStorage creates dir if needed.
func NewFileStorage(dir string, quota int64, logger *zap.Logger) (*FileStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: mkdir %s: %w", dir, err)
	}
	return &FileStorage{dir: dir, quota: quota, logger: logger.Named("storage.file")}, nil
}

func (f *FileStorage) path(key string) (string, error) {
	if !validKey.MatchString(key) {
		return "", fmt.Errorf("storage: invalid key %q", key)
	}
	return filepath.Join(f.dir, key+".json"), nil
}

func (f *FileStorage) Get(ctx context.Context, key string) ([]byte, error) {
	p, err := f.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", p, err)
	}
	return data, nil
}

func (f *FileStorage) Set(ctx context.Context, key string, value []byte) error {
	if err := checkQuota(f.quota, key, value); err != nil {
		return err
	}
	p, err := f.path(key)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	tmp, err := os.CreateTemp(f.dir, "."+key+"-*.tmp")
	if err != nil {
		return fileErr("create temp", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		if rmErr := os.Remove(tmpName); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			f.logger.Warn("failed to remove temp file", zap.String("path", tmpName), zap.Error(rmErr))
		}
	}

	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		cleanup()
		return fileErr("write", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fileErr("sync", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fileErr("close", err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		cleanup()
		return fileErr("rename", err)
	}
	return nil
}

func (f *FileStorage) Delete(ctx context.Context, key string) error {
	p, err := f.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("storage: remove %s: %w", p, err)
	}
	return nil
}

func (f *FileStorage) Close() error { return nil }

func fileErr(op string, err error) error {
	if errors.Is(err, syscall.ENOSPC) {
		return fmt.Errorf("%w: %s: %v", ErrQuotaExceeded, op, err)
	}
	return fmt.Errorf("storage: %s: %w", op, err)
}
