package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ErrMissingCredentials is returned when the remote object store credentials
// are not configured.
var ErrMissingCredentials = errors.New("missing MASSIVE_S3_ACCESS_KEY / MASSIVE_S3_SECRET_KEY")

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the marketlab pipeline.
type Config struct {
	Storage  Storage        `yaml:"storage"`
	Massive  Massive        `yaml:"massive"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Alpaca   Alpaca         `yaml:"alpaca"`
	Logging  Logging        `yaml:"logging"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Server   Server         `yaml:"server"`
}

// Storage holds paths for the local flat-file cache and the bar library.
type Storage struct {
	DataDir     string `yaml:"data_dir"`
	CacheDir    string `yaml:"cache_dir"`
	CatalogPath string `yaml:"catalog_path"`
}

// Massive holds the endpoint, bucket, and credentials of the S3-compatible
// flat-file store.
type Massive struct {
	Endpoint        string `yaml:"endpoint"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	AccessKey       string `yaml:"access_key"`
	SecretKey       string `yaml:"secret_key"`
	SymbolSet       string `yaml:"symbol_set"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
	MaxRetries      int    `yaml:"max_retries"`
}

// IngestConfig controls the download window and how cached days are folded
// into the bar library.
type IngestConfig struct {
	Timeframe       string `yaml:"timeframe"`
	MaxYearsBack    int    `yaml:"max_years_back"`
	LookbackDays    int    `yaml:"lookback_days"`
	Mode            string `yaml:"mode"` // "daily" or "monthly"
	DownloadWorkers int    `yaml:"download_workers"`
	RecordUniverse  bool   `yaml:"record_universe"`
	Location        string `yaml:"location"`
}

// Alpaca holds optional credentials used to clamp update windows to the
// latest finished trading day.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ScheduleConfig holds cron expressions (with seconds) for daemon mode.
type ScheduleConfig struct {
	UpdateCron string `yaml:"update_cron"`
}

// Server holds network listener configuration.
type Server struct {
	Host     string `yaml:"host"`
	GRPCPort int    `yaml:"grpc_port"`
}

// Ingest modes.
const (
	ModeDaily   = "daily"
	ModeMonthly = "monthly"
)

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, fills defaults, and then applies environment variable
// overrides. A missing file is not an error: the pipeline can run from
// defaults and environment alone.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, err
	}

	applyDefaults(cfg)
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "./data"
	}
	if cfg.Storage.CacheDir == "" {
		cfg.Storage.CacheDir = "./massive_flatfiles"
	}
	if cfg.Massive.Endpoint == "" {
		cfg.Massive.Endpoint = "https://files.massive.com"
	}
	if cfg.Massive.Bucket == "" {
		cfg.Massive.Bucket = "flatfiles"
	}
	if cfg.Massive.Region == "" {
		cfg.Massive.Region = "us-east-1"
	}
	if cfg.Massive.SymbolSet == "" {
		cfg.Massive.SymbolSet = "us_stocks_sip/day_aggs_v1"
	}
	if cfg.Massive.MaxRetries == 0 {
		cfg.Massive.MaxRetries = 3
	}
	if cfg.Ingest.Timeframe == "" {
		cfg.Ingest.Timeframe = "1d"
	}
	if cfg.Ingest.MaxYearsBack == 0 {
		cfg.Ingest.MaxYearsBack = 5
	}
	if cfg.Ingest.LookbackDays == 0 {
		cfg.Ingest.LookbackDays = 10
	}
	if cfg.Ingest.Mode == "" {
		cfg.Ingest.Mode = ModeDaily
	}
	if cfg.Ingest.DownloadWorkers == 0 {
		cfg.Ingest.DownloadWorkers = 1
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Schedule.UpdateCron == "" {
		cfg.Schedule.UpdateCron = "0 30 6 * * *"
	}
	if cfg.Server.GRPCPort == 0 {
		cfg.Server.GRPCPort = 50061
	}
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("MARKETLAB_MASSIVE_CACHE_DIR"); v != "" {
		cfg.Storage.CacheDir = v
	}

	if v := os.Getenv("MASSIVE_S3_ACCESS_KEY"); v != "" {
		cfg.Massive.AccessKey = v
	}
	if v := os.Getenv("MASSIVE_S3_SECRET_KEY"); v != "" {
		cfg.Massive.SecretKey = v
	}
	if v := os.Getenv("MASSIVE_S3_ENDPOINT"); v != "" {
		cfg.Massive.Endpoint = v
	}
	if v := os.Getenv("MASSIVE_S3_BUCKET"); v != "" {
		cfg.Massive.Bucket = v
	}
	if v := os.Getenv("MARKETLAB_DAILY_SYMBOL_SET"); v != "" {
		cfg.Massive.SymbolSet = v
	}

	if v := os.Getenv("MARKETLAB_MAX_YEARS_BACK"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MARKETLAB_MAX_YEARS_BACK: %w", err)
		}
		cfg.Ingest.MaxYearsBack = n
	}
	if v := os.Getenv("MARKETLAB_LOOKBACK_DAYS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MARKETLAB_LOOKBACK_DAYS: %w", err)
		}
		cfg.Ingest.LookbackDays = n
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Standard Alpaca env vars (canonical names used by the SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	return nil
}

// Validate rejects settings no component can work with.
func (c *Config) Validate() error {
	switch c.Ingest.Mode {
	case ModeDaily, ModeMonthly:
	default:
		return fmt.Errorf("ingest.mode %q: want %q or %q", c.Ingest.Mode, ModeDaily, ModeMonthly)
	}
	if c.Ingest.LookbackDays < 0 {
		return fmt.Errorf("ingest.lookback_days must not be negative, got %d", c.Ingest.LookbackDays)
	}
	if c.Ingest.MaxYearsBack < 0 {
		return fmt.Errorf("ingest.max_years_back must not be negative, got %d", c.Ingest.MaxYearsBack)
	}
	if c.Ingest.DownloadWorkers < 1 {
		return fmt.Errorf("ingest.download_workers must be at least 1, got %d", c.Ingest.DownloadWorkers)
	}
	return nil
}

// RequireMassiveCredentials returns the S3 access and secret keys, or
// ErrMissingCredentials when either is unset.
func (c *Config) RequireMassiveCredentials() (string, string, error) {
	if c.Massive.AccessKey == "" || c.Massive.SecretKey == "" {
		return "", "", ErrMissingCredentials
	}
	return c.Massive.AccessKey, c.Massive.SecretKey, nil
}

// CatalogPath returns the sqlite catalog location, defaulting to a file
// inside the data directory.
func (c *Config) CatalogPath() string {
	if c.Storage.CatalogPath != "" {
		return c.Storage.CatalogPath
	}
	return filepath.Join(c.Storage.DataDir, "catalog.db")
}

// HasAlpaca reports whether trading-calendar credentials are configured.
func (c *Config) HasAlpaca() bool {
	return c.Alpaca.APIKey != "" && c.Alpaca.APISecret != ""
}
