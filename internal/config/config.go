package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	_ "embed"

	fsync "fieldsync/backend/sync"
	"fieldsync/internal/utils"
)

var customConfigPath string // Custom config path set via --config flag

//go:embed config.sample.yaml
var sampleConfig []byte

const (
	CONFIG_DIR_PATH  = "fieldsync"
	CONFIG_FILE_PATH = "config.yaml"
	CONFIG_DIR_PERM  = 0755
	CONFIG_FILE_PERM = 0600

	// EnvPrefix prefixes every environment override
	EnvPrefix = "FIELDSYNC_"
)

// Config represents the application configuration
type Config struct {
	RiderID  string         `yaml:"rider_id"`
	API      APIConfig      `yaml:"api"`
	Database DatabaseConfig `yaml:"database"`
	Sync     SyncConfig     `yaml:"sync"`
	Health   HealthConfig   `yaml:"health"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Alerts   AlertsConfig   `yaml:"alerts"`
}

// APIConfig describes the task server
type APIConfig struct {
	BaseURL           string        `yaml:"base_url" validate:"omitempty,url"`
	Token             string        `yaml:"token,omitempty"`
	Timeout           time.Duration `yaml:"timeout" validate:"gte=0"`
	RequestsPerSecond float64       `yaml:"requests_per_second" validate:"gte=0"`
	Burst             int           `yaml:"burst" validate:"gte=0"`
}

// DatabaseConfig locates the local store
type DatabaseConfig struct {
	Path string `yaml:"path"` // empty uses the XDG data directory
}

// SyncConfig holds sync engine and scheduler settings
type SyncConfig struct {
	BatchSize            int           `yaml:"batch_size" validate:"gte=1"`
	MaxRetriesPerBatch   int           `yaml:"max_retries_per_batch" validate:"gte=1"`
	InitialBackoff       time.Duration `yaml:"initial_backoff" validate:"gte=0"`
	BackoffMultiplier    float64       `yaml:"backoff_multiplier" validate:"gte=1"`
	MaxBackoff           time.Duration `yaml:"max_backoff" validate:"gtefield=InitialBackoff"`
	MaxRetriesPerAction  int           `yaml:"max_retries_per_action" validate:"gte=1"`
	PageSize             int           `yaml:"page_size" validate:"gte=1"`
	PeriodicSyncInterval time.Duration `yaml:"periodic_sync_interval" validate:"gte=1s"`
	WorkerInitialBackoff time.Duration `yaml:"worker_initial_backoff" validate:"gte=0"`
	MaxWorkerRetries     int           `yaml:"max_worker_retries" validate:"gte=0"`
	CycleTimeout         time.Duration `yaml:"cycle_timeout" validate:"gte=0"`
	// PruneSyncedAfter is how long synced actions are kept; zero keeps them forever
	PruneSyncedAfter time.Duration `yaml:"prune_synced_after" validate:"gte=0"`
	// SyncOnAction starts a detached one-shot sync after CLI actions
	SyncOnAction bool `yaml:"sync_on_action"`
}

// HealthConfig holds health monitor thresholds
type HealthConfig struct {
	FailureThreshold int           `yaml:"failure_threshold" validate:"gte=1"`
	StaleThreshold   time.Duration `yaml:"stale_threshold" validate:"gte=1s"`
}

// LoggingConfig configures the process logger
type LoggingConfig struct {
	Level      string `yaml:"level" validate:"oneof=debug info warn error"`
	Format     string `yaml:"format" validate:"omitempty,oneof=console json"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `yaml:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `yaml:"max_age_days" validate:"gte=0"`
}

// MetricsConfig configures the Prometheus endpoint of 'fieldsync run'
type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr" validate:"omitempty,hostname_port"`
}

// AlertsConfig configures the redis alert list; empty address disables it
type AlertsConfig struct {
	RedisAddr     string `yaml:"redis_addr" validate:"omitempty,hostname_port"`
	RedisPassword string `yaml:"redis_password,omitempty"`
	RedisDB       int    `yaml:"redis_db" validate:"gte=0"`
	RedisKey      string `yaml:"redis_key"`
	MaxEntries    int64  `yaml:"max_entries" validate:"gte=0"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		API: APIConfig{
			Timeout: 30 * time.Second,
		},
		Sync: SyncConfig{
			BatchSize:            50,
			MaxRetriesPerBatch:   3,
			InitialBackoff:       time.Second,
			BackoffMultiplier:    2.0,
			MaxBackoff:           60 * time.Second,
			MaxRetriesPerAction:  5,
			PageSize:             20,
			PeriodicSyncInterval: 15 * time.Minute,
			WorkerInitialBackoff: 30 * time.Second,
			MaxWorkerRetries:     5,
			PruneSyncedAfter:     7 * 24 * time.Hour,
			SyncOnAction:         true,
		},
		Health: HealthConfig{
			FailureThreshold: fsync.DefaultFailureThreshold,
			StaleThreshold:   fsync.DefaultStaleThreshold,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Alerts: AlertsConfig{
			MaxEntries: 1000,
		},
	}
}

func (c Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return utils.ErrInvalidConfig(fe.Namespace(), fmt.Sprintf("failed '%s' check (value: %v)", fe.Tag(), fe.Value()))
		}
		return err
	}
	return nil
}

// SyncOptions maps the config to sync engine options
func (c *Config) SyncOptions() fsync.Options {
	return fsync.Options{
		RiderID:             c.RiderID,
		BatchSize:           c.Sync.BatchSize,
		MaxRetriesPerBatch:  c.Sync.MaxRetriesPerBatch,
		InitialBackoff:      c.Sync.InitialBackoff,
		BackoffMultiplier:   c.Sync.BackoffMultiplier,
		MaxBackoff:          c.Sync.MaxBackoff,
		MaxRetriesPerAction: c.Sync.MaxRetriesPerAction,
		PageSize:            c.Sync.PageSize,
	}
}

// DatabasePath returns the expanded database path (empty means default location)
func (c *Config) DatabasePath() (string, error) {
	return utils.ExpandPath(c.Database.Path)
}

// LogOptions maps the logging section to logger options
func (c *Config) LogOptions() (utils.LogOptions, error) {
	file, err := utils.ExpandPath(c.Logging.File)
	if err != nil {
		return utils.LogOptions{}, err
	}
	return utils.LogOptions{
		Level:      c.Logging.Level,
		Format:     c.Logging.Format,
		File:       file,
		MaxSizeMB:  c.Logging.MaxSizeMB,
		MaxBackups: c.Logging.MaxBackups,
		MaxAgeDays: c.Logging.MaxAgeDays,
	}, nil
}

// SetCustomConfigPath sets a custom config path to use instead of the default user config directory.
// If path is a directory, it looks for "config.yaml" inside it.
func SetCustomConfigPath(path string) {
	if path == "" {
		customConfigPath = ""
		return
	}
	info, err := os.Stat(path)
	if err == nil && info.IsDir() {
		customConfigPath = filepath.Join(path, CONFIG_FILE_PATH)
	} else {
		customConfigPath = path
	}
}

// GetConfigPath returns the config file location
func GetConfigPath() (string, error) {
	if customConfigPath != "" {
		return customConfigPath, nil
	}

	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config dir: %w", err)
	}
	return filepath.Join(dir, CONFIG_DIR_PATH, CONFIG_FILE_PATH), nil
}

// Load reads configPath, falling back to the built-in sample when it does
// not exist, then applies .env and FIELDSYNC_* overrides and validates.
func Load(configPath string) (*Config, error) {
	// A missing .env is fine
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if errors.Is(err, fs.ErrNotExist) {
		utils.Debugf("No config at %s, using built-in defaults", configPath)
		data = sampleConfig
	} else if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", configPath, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults, applies environment overrides and validates
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	expanded := []byte(os.ExpandEnv(string(data)))
	dec := yaml.NewDecoder(bytes.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}

	if err := cfg.applyEnvOverrides(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// WriteSample writes the built-in sample config to configPath unless it exists
func WriteSample(configPath string, force bool) error {
	if !force {
		if _, err := os.Stat(configPath); err == nil {
			return fmt.Errorf("config already exists at %s", configPath)
		}
	}
	if err := os.MkdirAll(filepath.Dir(configPath), CONFIG_DIR_PERM); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	return os.WriteFile(configPath, sampleConfig, CONFIG_FILE_PERM)
}

type lookupFunc func(key string) (string, bool)

// applyEnvOverrides sets fields from FIELDSYNC_* variables
func (c *Config) applyEnvOverrides(lookup lookupFunc) error {
	strs := map[string]*string{
		"RIDER_ID":        &c.RiderID,
		"API_BASE_URL":    &c.API.BaseURL,
		"DATABASE_PATH":   &c.Database.Path,
		"LOG_LEVEL":       &c.Logging.Level,
		"LOG_FORMAT":      &c.Logging.Format,
		"LOG_FILE":        &c.Logging.File,
		"METRICS_ADDR":    &c.Metrics.ListenAddr,
		"REDIS_ADDR":      &c.Alerts.RedisAddr,
		"REDIS_PASSWORD":  &c.Alerts.RedisPassword,
		"REDIS_ALERT_KEY": &c.Alerts.RedisKey,
	}
	for key, dst := range strs {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = strings.TrimSpace(v)
		}
	}

	ints := map[string]*int{
		"SYNC_BATCH_SIZE":             &c.Sync.BatchSize,
		"SYNC_MAX_RETRIES_PER_BATCH":  &c.Sync.MaxRetriesPerBatch,
		"SYNC_MAX_RETRIES_PER_ACTION": &c.Sync.MaxRetriesPerAction,
		"SYNC_PAGE_SIZE":              &c.Sync.PageSize,
		"SYNC_MAX_WORKER_RETRIES":     &c.Sync.MaxWorkerRetries,
	}
	for key, dst := range ints {
		if v, ok := lookup(EnvPrefix + key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return utils.ErrInvalidConfig(EnvPrefix+key, "must be an integer")
			}
			*dst = n
		}
	}

	durations := map[string]*time.Duration{
		"SYNC_INITIAL_BACKOFF":        &c.Sync.InitialBackoff,
		"SYNC_MAX_BACKOFF":            &c.Sync.MaxBackoff,
		"SYNC_PERIODIC_INTERVAL":      &c.Sync.PeriodicSyncInterval,
		"SYNC_WORKER_INITIAL_BACKOFF": &c.Sync.WorkerInitialBackoff,
		"SYNC_CYCLE_TIMEOUT":          &c.Sync.CycleTimeout,
		"HEALTH_STALE_THRESHOLD":      &c.Health.StaleThreshold,
	}
	for key, dst := range durations {
		if v, ok := lookup(EnvPrefix + key); ok {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				return utils.ErrInvalidConfig(EnvPrefix+key, "must be a duration like 30s or 15m")
			}
			*dst = d
		}
	}

	return nil
}
