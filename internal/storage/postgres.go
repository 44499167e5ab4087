package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// KVEntry is one persisted blob.
type KVEntry struct {
	Key       string    `gorm:"column:key;primaryKey;size:128"`
	Value     []byte    `gorm:"column:value;type:bytea;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

// TableName overrides the default table name.
func (KVEntry) TableName() string {
	return "ingrediscan_kv"
}

// PostgresStorage keeps blobs in a Postgres table through gorm.
type PostgresStorage struct {
	db    *gorm.DB
	quota int64
}

// OpenPostgres connects, pings, and migrates the table.
func OpenPostgres(ctx context.Context, dsn string, quota int64, logger *zap.Logger) (*PostgresStorage, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:               gormlogger.Default.LogMode(gormlogger.Warn),
		DisableAutomaticPing: true,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: connect postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("storage: access db handle: %w", err)
	}
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetMaxOpenConns(4)
	sqlDB.SetConnMaxLifetime(time.Hour)

	s := NewPostgresStorage(db, quota)
	if err := preparePostgres(ctx, sqlDB, s.AutoMigrate); err != nil {
		return nil, err
	}
	logger.Named("storage.postgres").Info("postgres storage ready")
	return s, nil
}

type pingCloser interface {
	PingContext(ctx context.Context) error
	Close() error
}

// preparePostgres checks connectivity and schema. The pool is closed on any
// failure.
func preparePostgres(ctx context.Context, pool pingCloser, migrate func(context.Context) error) (err error) {
	defer func() {
		if err != nil {
			_ = pool.Close()
		}
	}()
	if err := pool.PingContext(ctx); err != nil {
		return fmt.Errorf("storage: postgres ping: %w", err)
	}
	if err := migrate(ctx); err != nil {
		return fmt.Errorf("storage: auto migrate: %w", err)
	}
	return nil
}

// NewPostgresStorage wraps an existing gorm handle.
func NewPostgresStorage(db *gorm.DB, quota int64) *PostgresStorage {
	return &PostgresStorage{db: db, quota: quota}
}

// AutoMigrate ensures the schema is available.
func (p *PostgresStorage) AutoMigrate(ctx context.Context) error {
	return p.db.WithContext(ctx).AutoMigrate(&KVEntry{})
}

func (p *PostgresStorage) Get(ctx context.Context, key string) ([]byte, error) {
	var entry KVEntry
	err := p.db.WithContext(ctx).First(&entry, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: postgres get: %w", err)
	}
	return entry.Value, nil
}

func (p *PostgresStorage) Set(ctx context.Context, key string, value []byte) error {
	if err := checkQuota(p.quota, key, value); err != nil {
		return err
	}
	entry := KVEntry{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	err := p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&entry).Error
	if err != nil {
		// 53100 disk_full, 54000 program_limit_exceeded.
		if msg := err.Error(); strings.Contains(msg, "53100") || strings.Contains(msg, "54000") {
			return fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
		}
		return fmt.Errorf("storage: postgres set: %w", err)
	}
	return nil
}

func (p *PostgresStorage) Delete(ctx context.Context, key string) error {
	if err := p.db.WithContext(ctx).Delete(&KVEntry{}, "key = ?", key).Error; err != nil {
		return fmt.Errorf("storage: postgres delete: %w", err)
	}
	return nil
}

func (p *PostgresStorage) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
