// Package config provides hierarchical configuration management.
// Priority: defaults < user < project < explicit file < env < flags
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/transitflow/transitflow/internal/model"
	tferrors "github.com/transitflow/transitflow/pkg/errors"
)

// Config holds all transitflow configuration.
type Config struct {
	Version int `yaml:"version"`

	Line      LineConfig      `yaml:"line"`
	Stations  []StationConfig `yaml:"stations" validate:"required,min=1,dive"`
	Endpoints []string        `yaml:"endpoints" validate:"required,min=1,dive,oneof=departures arrivals"`
	API       APIConfig       `yaml:"api"`
	Retry     RetryConfig     `yaml:"retry"`
	Run       RunConfig       `yaml:"run"`
	Storage   StorageConfig   `yaml:"storage"`
	Cache     CacheConfig     `yaml:"cache"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// LineConfig selects the transit line and how its records are classified.
type LineConfig struct {
	Name  string `yaml:"name" validate:"required"`
	Match string `yaml:"match" validate:"oneof=exact fold"` // exact | fold

	// PunctualityThreshold is the largest delay still counted as on time (inclusive).
	PunctualityThreshold time.Duration `yaml:"punctuality_threshold" validate:"gte=0"`

	// Directions, when set, keeps only departures heading to one of these.
	Directions []string `yaml:"directions"`

	// MaxSkipped fails a pair once more records than this are dropped (0 = unlimited).
	MaxSkipped int `yaml:"max_skipped" validate:"gte=0"`
}

// StationConfig names one station to collect.
type StationConfig struct {
	Name string `yaml:"name" validate:"required"`
	ID   string `yaml:"id"`  // pinned upstream id; skips lookup
	Key  string `yaml:"key"` // storage key segment; defaults to a slug of Name
}

// APIConfig points at the upstream transport REST API.
type APIConfig struct {
	BaseURL   string        `yaml:"base_url" validate:"required,url"`
	Timeout   time.Duration `yaml:"timeout" validate:"gt=0"`
	Duration  int           `yaml:"duration" validate:"gt=0"` // minutes of board to request
	Results   int           `yaml:"results" validate:"gt=0"`
	UserAgent string        `yaml:"user_agent"`
}

// RetryConfig bounds retries of fetches and storage writes.
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts" validate:"gte=1"`
	InitialInterval time.Duration `yaml:"initial_interval" validate:"gt=0"`
	MaxInterval     time.Duration `yaml:"max_interval" validate:"gt=0"`
	Multiplier      float64       `yaml:"multiplier" validate:"gte=1"`
	MaxElapsed      time.Duration `yaml:"max_elapsed" validate:"gt=0"`
}

// RunConfig controls a single collection pass.
type RunConfig struct {
	Concurrency int           `yaml:"concurrency" validate:"gte=1"`
	Timeout     time.Duration `yaml:"timeout" validate:"gte=0"`
}

// StorageConfig for persistence.
type StorageConfig struct {
	Backend     string `yaml:"backend" validate:"oneof=s3 local memory"`
	Prefix      string `yaml:"prefix"`
	Compression string `yaml:"compression" validate:"oneof=none snappy gzip zstd lz4"`

	S3    S3Config    `yaml:"s3"`
	Local LocalConfig `yaml:"local"`
}

// S3Config configures the S3 backend.
type S3Config struct {
	Bucket       string        `yaml:"bucket"`
	Region       string        `yaml:"region"`
	Endpoint     string        `yaml:"endpoint"`
	UsePathStyle bool          `yaml:"use_path_style"`
	Timeout      time.Duration `yaml:"timeout"`
}

// LocalConfig configures the filesystem backend.
type LocalConfig struct {
	Root string `yaml:"root"`
}

// CacheConfig configures the optional station lookup cache.
type CacheConfig struct {
	RedisAddress  string        `yaml:"redis_address"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	TTL           time.Duration `yaml:"ttl"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=text json"`
}

// TelemetryConfig for optional tracing.
type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	Environment string  `yaml:"environment"`
	SampleRatio float64 `yaml:"sample_ratio" validate:"gte=0,lte=1"`
}

// Default returns the default configuration: tram M13 at the two stations
// the collector was built for, stored in the bvg-open-data bucket.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Version: 1,
		Line: LineConfig{
			Name:                 "M13",
			Match:                "exact",
			PunctualityThreshold: 60 * time.Second,
		},
		Stations: []StationConfig{
			{Name: "S+U Schönhauser Allee/Bornholmer Str.", ID: "900110007", Key: "schoenhauser_alle_bornholmer_strasse"},
			{Name: "Antonplatz", ID: "900140011", Key: "antonplatz"},
		},
		Endpoints: []string{"departures", "arrivals"},
		API: APIConfig{
			BaseURL:   "https://v6.bvg.transport.rest",
			Timeout:   10 * time.Second,
			Duration:  30,
			Results:   50,
			UserAgent: "transitflow",
		},
		Retry: RetryConfig{
			MaxAttempts:     3,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     5 * time.Second,
			Multiplier:      2,
			MaxElapsed:      30 * time.Second,
		},
		Run: RunConfig{
			Concurrency: 4,
			Timeout:     2 * time.Minute,
		},
		Storage: StorageConfig{
			Backend:     "s3",
			Compression: "snappy",
			S3: S3Config{
				Bucket:  "bvg-open-data",
				Region:  "eu-central-1",
				Timeout: 30 * time.Second,
			},
			Local: LocalConfig{
				Root: filepath.Join(homeDir, ".transitflow", "data"),
			},
		},
		Cache: CacheConfig{
			TTL: 7 * 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			Endpoint:    "localhost:4317",
			Insecure:    true,
			Environment: "production",
			SampleRatio: 1.0,
		},
	}
}

// Validate checks struct-tag constraints and cross-field rules.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return tferrors.Wrap(err, tferrors.CodeInvalidConfig, "invalid configuration")
	}
	if c.Storage.Backend == "s3" && c.Storage.S3.Bucket == "" {
		return tferrors.New(tferrors.CodeInvalidConfig, "s3 backend requires a bucket")
	}
	if c.Storage.Backend == "local" && c.Storage.Local.Root == "" {
		return tferrors.New(tferrors.CodeInvalidConfig, "local backend requires a root directory")
	}

	keys := make(map[string]string, len(c.Stations))
	for _, s := range c.Stations {
		key := s.StorageKey()
		if key == "" {
			return tferrors.New(tferrors.CodeInvalidConfig, "station has no usable storage key").
				WithContext("station", s.Name)
		}
		if other, dup := keys[key]; dup {
			return tferrors.New(tferrors.CodeInvalidConfig, "stations share a storage key").
				WithContext("key", key).
				WithContext("stations", []string{other, s.Name})
		}
		keys[key] = s.Name
	}
	return nil
}

// Manager handles configuration loading and merging.
type Manager struct {
	mu     sync.RWMutex
	config *Config
	paths  []string // Paths that were loaded
}

// NewManager creates a new configuration manager.
func NewManager() *Manager {
	return &Manager{
		config: Default(),
	}
}

// Load loads configuration from all sources in priority order.
// explicit, when non-empty, must exist and is applied after the implicit paths.
func (m *Manager) Load(explicit string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.config = Default()
	m.paths = nil

	for _, path := range m.getConfigPaths() {
		if err := m.loadFile(path); err != nil {
			if !os.IsNotExist(err) {
				return fmt.Errorf("load %s: %w", path, err)
			}
		} else {
			m.paths = append(m.paths, path)
		}
	}

	if explicit != "" {
		if err := m.loadFile(explicit); err != nil {
			return fmt.Errorf("load %s: %w", explicit, err)
		}
		m.paths = append(m.paths, explicit)
	}

	m.loadEnv()
	return nil
}

// getConfigPaths returns config file paths in priority order.
func (m *Manager) getConfigPaths() []string {
	var paths []string

	// User config
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".transitflow", "config.yaml"))
	}

	// Project config (current directory)
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, "transitflow.yaml"))
	}

	return paths
}

// loadFile loads a single config file and merges it.
func (m *Manager) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return m.mergeYAML(data)
}

// mergeYAML decodes data over the current config. Keys absent from the
// document keep their current values; lists are replaced wholesale.
func (m *Manager) mergeYAML(data []byte) error {
	return yaml.Unmarshal(data, m.config)
}

// loadEnv loads configuration from environment variables.
func (m *Manager) loadEnv() {
	if v := os.Getenv("TRANSITFLOW_LINE"); v != "" {
		m.config.Line.Name = v
	}
	if v := os.Getenv("TRANSITFLOW_PUNCTUALITY_THRESHOLD"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			m.config.Line.PunctualityThreshold = d
		}
	}
	if v := os.Getenv("TRANSITFLOW_API_BASE_URL"); v != "" {
		m.config.API.BaseURL = v
	}
	if v := os.Getenv("TRANSITFLOW_STORAGE_BACKEND"); v != "" {
		m.config.Storage.Backend = v
	}
	if v := os.Getenv("TRANSITFLOW_S3_BUCKET"); v != "" {
		m.config.Storage.S3.Bucket = v
	}
	if v := os.Getenv("TRANSITFLOW_S3_REGION"); v != "" {
		m.config.Storage.S3.Region = v
	}
	if v := os.Getenv("TRANSITFLOW_S3_ENDPOINT"); v != "" {
		m.config.Storage.S3.Endpoint = v
	}
	if v := os.Getenv("TRANSITFLOW_LOCAL_ROOT"); v != "" {
		m.config.Storage.Local.Root = v
	}
	if v := os.Getenv("TRANSITFLOW_REDIS_ADDRESS"); v != "" {
		m.config.Cache.RedisAddress = v
	}
	if v := os.Getenv("TRANSITFLOW_RETRY_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			m.config.Retry.MaxAttempts = n
		}
	}
	if v := os.Getenv("TRANSITFLOW_LOG_LEVEL"); v != "" {
		m.config.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("TRANSITFLOW_OTLP_ENDPOINT"); v != "" {
		m.config.Telemetry.Enabled = true
		m.config.Telemetry.Endpoint = v
	}
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetPaths returns the paths that were loaded.
func (m *Manager) GetPaths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paths
}

// StorageKey returns the configured key or a slug of the station name.
func (s StationConfig) StorageKey() string {
	if s.Key != "" {
		return s.Key
	}
	return model.Slug(s.Name)
}

// EndpointKinds returns the configured endpoints as typed kinds.
func (c *Config) EndpointKinds() ([]model.EndpointKind, error) {
	kinds := make([]model.EndpointKind, 0, len(c.Endpoints))
	for _, e := range c.Endpoints {
		k, err := model.ParseEndpointKind(e)
		if err != nil {
			return nil, tferrors.Wrap(err, tferrors.CodeInvalidConfig, "invalid endpoint")
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}
