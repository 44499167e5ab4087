// Package storage provides the single-key blob stores that back scan history
// and settings. Every backend enforces an optional byte quota so history
// behaves the same way regardless of where it lives.
package storage

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned by Get for a missing key.
	ErrNotFound = errors.New("storage: key not found")
	// ErrQuotaExceeded is returned by Set when the value does not fit.
	ErrQuotaExceeded = errors.New("storage: quota exceeded")
)

// Storage is a durable key/value blob store.
type Storage interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config selects and configures a backend.
type Config struct {
	Backend    string `yaml:"backend" validate:"oneof=memory file sqlite redis postgres"`
	Path       string `yaml:"path" validate:"required_if=Backend file,required_if=Backend sqlite"`
	RedisAddr  string `yaml:"redis_addr" validate:"required_if=Backend redis"`
	RedisDB    int    `yaml:"redis_db" validate:"gte=0"`
	Prefix     string `yaml:"prefix"`
	DSN        string `yaml:"dsn" validate:"required_if=Backend postgres"`
	QuotaBytes int64  `yaml:"quota_bytes" validate:"gte=0"`
}

// Open builds the configured backend.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (Storage, error) {
	switch cfg.Backend {
	case BackendMemory, "":
		return NewMemoryStorage(cfg.QuotaBytes), nil
	case BackendFile:
		return NewFileStorage(cfg.Path, cfg.QuotaBytes, logger)
	case BackendSQLite:
		return OpenSQLite(cfg.Path, cfg.QuotaBytes)
	case BackendRedis:
		return DialRedis(ctx, cfg.RedisAddr, cfg.RedisDB, cfg.Prefix, cfg.QuotaBytes)
	case BackendPostgres:
		return OpenPostgres(ctx, cfg.DSN, cfg.QuotaBytes, logger)
	default:
		return nil, fmt.Errorf("storage: unsupported backend %q", cfg.Backend)
	}
}

func checkQuota(quota int64, key string, value []byte) error {
	if quota > 0 && int64(len(key)+len(value)) > quota {
		return fmt.Errorf("%w: %d bytes for %q exceeds %d", ErrQuotaExceeded, len(value), key, quota)
	}
	return nil
}
