// Package config loads the ingrediscan configuration from YAML and the
// environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/example/ingrediscan/internal/apiclient"
	"github.com/example/ingrediscan/internal/history"
	"github.com/example/ingrediscan/internal/imageprocessor"
	"github.com/example/ingrediscan/internal/storage"
)

// DefaultPath is tried when no explicit path or INGREDISCAN_CONFIG is given.
const DefaultPath = "config/ingrediscan.yaml"

// Environment overrides.
const (
	EnvConfig         = "INGREDISCAN_CONFIG"
	EnvBackendURL     = "INGREDISCAN_BACKEND_URL"
	EnvHistoryBackend = "INGREDISCAN_HISTORY_BACKEND"
	EnvRedisAddr      = "INGREDISCAN_REDIS_ADDR"
	EnvDatabaseDSN    = "INGREDISCAN_DATABASE_DSN"
	EnvLocale         = "INGREDISCAN_LOCALE"
	EnvLogLevel       = "INGREDISCAN_LOG_LEVEL"
	EnvFallbackPort   = "INGREDISCAN_FALLBACK_PORT"
)

// Config is the top-level configuration.
type Config struct {
	Log           LogConfig              `yaml:"log"`
	Locale        string                 `yaml:"locale" validate:"oneof=en zh"`
	Analyzer      apiclient.Config       `yaml:"analyzer"`
	Image         imageprocessor.Options `yaml:"image"`
	ThumbnailSize int                    `yaml:"thumbnail_size" validate:"gt=0,lte=1024"`
	Storage       storage.Config         `yaml:"storage"`
	History       history.Options        `yaml:"history"`
	Server        ServerConfig           `yaml:"server"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level       string `yaml:"level" validate:"omitempty,oneof=debug info warn error dpanic panic fatal"`
	Development bool   `yaml:"development"`
}

// ServerConfig controls the local results bridge.
type ServerConfig struct {
	Addr            string        `yaml:"addr" validate:"required,hostname_port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes" validate:"gt=0"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Log:    LogConfig{Level: "info"},
		Locale: "en",
		Analyzer: apiclient.Config{
			Host:         "localhost",
			FallbackPort: apiclient.DefaultFallbackPort,
			Timeout:      60 * time.Second,
		},
		Image:         imageprocessor.DefaultOptions(),
		ThumbnailSize: 160,
		Storage: storage.Config{
			Backend:    storage.BackendFile,
			Path:       "data",
			QuotaBytes: 10 * 1024 * 1024,
		},
		History: history.DefaultOptions(),
		Server: ServerConfig{
			Addr:            "127.0.0.1:8080",
			ShutdownTimeout: 15 * time.Second,
			MaxUploadBytes:  10 << 20,
		},
	}
}

// Load resolves the config file, applies environment overrides and validates
// the result. An explicit path that does not exist is an error; a missing
// default file is not.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		if env := os.Getenv(EnvConfig); env != "" {
			path, explicit = env, true
		} else {
			path = DefaultPath
		}
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvBackendURL); v != "" {
		c.Analyzer.BaseURL = strings.TrimSpace(v)
	}
	if v := os.Getenv(EnvHistoryBackend); v != "" {
		c.Storage.Backend = v
	}
	if v := os.Getenv(EnvRedisAddr); v != "" {
		c.Storage.RedisAddr = v
	}
	if v := os.Getenv(EnvDatabaseDSN); v != "" {
		c.Storage.DSN = v
	}
	if v := os.Getenv(EnvLocale); v != "" {
		c.Locale = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv(EnvFallbackPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvFallbackPort, err)
		}
		c.Analyzer.FallbackPort = port
	}
	return nil
}

var validate = validator.New()

// Validate checks every struct tag and reports the failing fields.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}
