// Package history keeps the bounded, newest-first list of past scans and
// persists it as a single JSON blob under a fixed storage key.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/example/ingrediscan/internal/logging"
	"github.com/example/ingrediscan/internal/storage"
)

// DefaultKey is the storage key holding the history blob.
const DefaultKey = "scanHistory"

// Options bounds the persisted list.
type Options struct {
	Key            string `yaml:"key" validate:"required"`
	HighWaterBytes int    `yaml:"high_water_bytes" validate:"gt=0"`
	TruncateTo     int    `yaml:"truncate_to" validate:"gt=0"`
	DegradeTo      int    `yaml:"degrade_to" validate:"gt=0,ltefield=TruncateTo"`
}

// DefaultOptions keeps the list below typical browser storage quotas.
func DefaultOptions() Options {
	return Options{
		Key:            DefaultKey,
		HighWaterBytes: 8 * 1024 * 1024,
		TruncateTo:     15,
		DegradeTo:      10,
	}
}

// AppendOutcome reports which tier of the degrade ladder applied.
type AppendOutcome string

const (
	// Persisted: the full list was written.
	Persisted AppendOutcome = "persisted"
	// Truncated: the list crossed the high-water mark and was cut to TruncateTo.
	Truncated AppendOutcome = "truncated"
	// Degraded: the write hit the quota; DegradeTo records without inline images were written.
	Degraded AppendOutcome = "degraded"
	// Dropped: nothing could be written; the in-memory list is unchanged.
	Dropped AppendOutcome = "dropped"
)

// Store is the in-memory history list plus its persistence side channel.
// The list only changes after the corresponding write has succeeded, except
// for Remove, which always applies in memory.
type Store struct {
	mu      sync.Mutex
	backend storage.Storage
	opts    Options
	records []*Record
	logger  *zap.Logger
}

// New constructs an empty store; call Load to populate it.
func New(backend storage.Storage, opts Options, logger *zap.Logger) *Store {
	def := DefaultOptions()
	if opts.Key == "" {
		opts.Key = def.Key
	}
	if opts.HighWaterBytes <= 0 {
		opts.HighWaterBytes = def.HighWaterBytes
	}
	if opts.TruncateTo <= 0 {
		opts.TruncateTo = def.TruncateTo
	}
	if opts.DegradeTo <= 0 {
		opts.DegradeTo = def.DegradeTo
	}
	return &Store{
		backend: backend,
		opts:    opts,
		logger:  logger.Named("history"),
	}
}

// Load replaces the in-memory list with the persisted one. A blob that is not
// a JSON array is discarded and the store starts empty. Read failures leave
// the store empty and are returned for logging.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = nil
	raw, err := s.backend.Get(ctx, s.opts.Key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return logging.NewOperationError("history.load", "", err)
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		s.logger.Warn("history blob is corrupt, discarding", zap.Error(err), zap.String("size", humanize.IBytes(uint64(len(raw)))))
		if delErr := s.backend.Delete(ctx, s.opts.Key); delErr != nil {
			s.logger.Error("failed to discard corrupt history", zap.Error(delErr))
		}
		return nil
	}

	records := make([]*Record, 0, len(items))
	for i, item := range items {
		rec, repaired, ok := decodeRecord(item)
		if !ok {
			s.logger.Warn("skipping malformed history entry", zap.Int("index", i))
			continue
		}
		if repaired {
			s.logger.Debug("repaired history entry", zap.String("id", rec.ID), zap.Int("index", i))
		}
		records = append(records, rec)
	}
	s.records = records
	s.logger.Info("history loaded", zap.Int("records", len(records)), zap.String("size", humanize.IBytes(uint64(len(raw)))))
	return nil
}

// Append inserts rec at the head and persists the list, walking the degrade
// ladder when the list is too large or the backend is out of quota. Failures
// are never returned; the outcome says what was kept.
func (s *Store) Append(ctx context.Context, rec *Record) AppendOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	opLogger := logging.WithOperation(s.logger, "history.append", rec.ID)

	updated := make([]*Record, 0, len(s.records)+1)
	updated = append(updated, rec)
	updated = append(updated, s.records...)

	target, outcome := updated, Persisted
	data, err := json.Marshal(target)
	if err != nil {
		opLogger.Error("failed to serialize history", zap.Error(err))
		return Dropped
	}
	if len(data) > s.opts.HighWaterBytes {
		opLogger.Warn("history above high-water mark, truncating",
			zap.String("size", humanize.IBytes(uint64(len(data)))),
			zap.Int("keep", s.opts.TruncateTo),
		)
		target, outcome = head(updated, s.opts.TruncateTo), Truncated
		if data, err = json.Marshal(target); err != nil {
			opLogger.Error("failed to serialize history", zap.Error(err))
			return Dropped
		}
	}

	err = s.backend.Set(ctx, s.opts.Key, data)
	if err == nil {
		s.records = target
		return outcome
	}
	if !errors.Is(err, storage.ErrQuotaExceeded) {
		opLogger.Error("failed to persist history", zap.Error(err))
		return Dropped
	}

	opLogger.Warn("storage quota exceeded, keeping recent records without images",
		zap.Error(err),
		zap.Int("keep", s.opts.DegradeTo),
	)
	degraded := make([]*Record, 0, s.opts.DegradeTo)
	for _, r := range head(updated, s.opts.DegradeTo) {
		degraded = append(degraded, r.withoutImage())
	}
	if data, err = json.Marshal(degraded); err != nil {
		opLogger.Error("failed to serialize history", zap.Error(err))
		return Dropped
	}
	if err := s.backend.Set(ctx, s.opts.Key, data); err != nil {
		opLogger.Error("degraded history write failed, giving up", zap.Error(err))
		return Dropped
	}
	s.records = degraded
	return Degraded
}

// Remove deletes the first record with id. It reports whether a record was
// removed; removing an unknown id does nothing.
func (s *Store) Remove(ctx context.Context, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, r := range s.records {
		if r.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}

	updated := make([]*Record, 0, len(s.records)-1)
	updated = append(updated, s.records[:idx]...)
	updated = append(updated, s.records[idx+1:]...)
	s.records = updated

	if err := s.persistLocked(ctx); err != nil {
		logging.WithOperation(s.logger, "history.remove", id).Warn("failed to persist removal", zap.Error(err))
	}
	return true
}

// List returns the records newest first. The slice is a copy.
func (s *Store) List() []*Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Record(nil), s.records...)
}

// Get returns the first record with id. A later duplicate id is shadowed by
// the newer entry.
func (s *Store) Get(id string) (*Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.ID == id {
			return r, true
		}
	}
	return nil, false
}

// Len reports the number of records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Options returns the effective options.
func (s *Store) Options() Options {
	return s.opts
}

func (s *Store) persistLocked(ctx context.Context) error {
	data, err := json.Marshal(s.records)
	if err != nil {
		return fmt.Errorf("serialize history: %w", err)
	}
	return s.backend.Set(ctx, s.opts.Key, data)
}

func head(records []*Record, n int) []*Record {
	if len(records) <= n {
		return records
	}
	return records[:n]
}
