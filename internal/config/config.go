// Package config handles run configuration loading and validation.
//
// # Configuration Sources
//
// Configuration is loaded from (in order of precedence):
// 1. Command-line flags
// 2. Environment variables (REFERENCE_DATE_OVERRIDE, SETTLING_DAYS, ...)
// 3. Config file (YAML)
// 4. Defaults
//
// # Example Config File
//
//	settling_days: 3
//	worker_pool_size: 0        # 0 = min(4 * properties, 16)
//	run_timeout: 10m
//	property_timeout: 60s
//
//	storage:
//	  root: /var/lib/scout
//	  data_prefix: clean_dataset
//	  results_prefix: results
//	  registry_path: config/properties.json
//	  read_rate_limit: 120     # blob reads per minute
//
//	cache:
//	  redis_url: redis://localhost:6379/0
//	  ttl: 24h
//
//	history:
//	  database_url: postgres://localhost:5432/scout?sslmode=disable
//
//	delivery:
//	  recipients: [am-team@example.com]
//	  from: scout@example.com
//	  smtp_host: smtp.example.com
//	  smtp_port: 587
//
//	detectors:
//	  spam:
//	    z_threshold: 3.0
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete pipeline configuration.
type Config struct {
	SettlingDays    int           `yaml:"settling_days"`
	WorkerPoolSize  int           `yaml:"worker_pool_size"` // 0 = auto
	RunTimeout      time.Duration `yaml:"run_timeout"`
	PropertyTimeout time.Duration `yaml:"property_timeout"`

	Storage   StorageConfig   `yaml:"storage"`
	Cache     CacheConfig     `yaml:"cache"`
	History   HistoryConfig   `yaml:"history"`
	Delivery  DeliveryConfig  `yaml:"delivery"`
	Detectors DetectorsConfig `yaml:"detectors"`
}

// StorageConfig locates the blob store namespaces.
type StorageConfig struct {
	Root          string `yaml:"root"`
	DataPrefix    string `yaml:"data_prefix"`
	ResultsPrefix string `yaml:"results_prefix"`
	RegistryPath  string `yaml:"registry_path"`

	// ReadRateLimit caps warehouse blob reads per minute. 0 disables limiting.
	ReadRateLimit int `yaml:"read_rate_limit"`
}

// CacheConfig enables the optional Redis dataset cache.
type CacheConfig struct {
	RedisURL string        `yaml:"redis_url"`
	TTL      time.Duration `yaml:"ttl"`
}

// HistoryConfig enables the optional Postgres alert-history sink.
type HistoryConfig struct {
	DatabaseURL string `yaml:"database_url"`
}

// DeliveryConfig drives the digest email handoff.
type DeliveryConfig struct {
	Recipients []string `yaml:"recipients"`
	From       string   `yaml:"from"`
	SMTPHost   string   `yaml:"smtp_host"`
	SMTPPort   int      `yaml:"smtp_port"`

	// CredentialName is the secret item holding the SMTP username/password.
	CredentialName string `yaml:"credential_name"`
}

// DetectorsConfig groups per-detector tuning.
type DetectorsConfig struct {
	Disaster DisasterConfig `yaml:"disaster"`
	Spam     SpamConfig     `yaml:"spam"`
	Record   RecordConfig   `yaml:"record"`
	Trend    TrendConfig    `yaml:"trend"`
}

// DisasterConfig tunes the catastrophic-failure detector.
type DisasterConfig struct {
	SessionsFloor     float64 `yaml:"sessions_floor"`      // sessions below this count as "zeroing"
	BaselineSessions  float64 `yaml:"baseline_sessions"`   // prior mean required for a credible baseline
	BaselineConv      float64 `yaml:"baseline_conversions"`
	DropFraction      float64 `yaml:"drop_fraction"` // relative drop vs prior mean
	BaselineDays      int     `yaml:"baseline_days"`
}

// SpamConfig tunes the bot-burst detector.
type SpamConfig struct {
	ZThreshold         float64 `yaml:"z_threshold"`
	ZCritical          float64 `yaml:"z_critical"`
	BounceRateMax      float64 `yaml:"bounce_rate_max"`      // fraction
	SessionDurationMin float64 `yaml:"session_duration_min"` // seconds
	VolumeFloor        float64 `yaml:"volume_floor"`
	OverallVolumeFloor float64 `yaml:"overall_volume_floor"`
	BaselineDays       int     `yaml:"baseline_days"`
}

// RecordConfig tunes the 90-day record detector.
type RecordConfig struct {
	WindowDays       int     `yaml:"window_days"`
	VolumeFloor      float64 `yaml:"volume_floor"`       // mean sessions over the window
	SignificancePct  float64 `yaml:"significance_pct"`   // minimum |delta| vs prior extremum
	MinSamples       int     `yaml:"min_samples"`
	LowImpactFloor   int     `yaml:"low_impact_floor"`
}

// TrendConfig tunes the moving-average crossover detector.
type TrendConfig struct {
	ShortWindowDays int     `yaml:"short_window_days"`
	LongWindowDays  int     `yaml:"long_window_days"`
	VolumeFloor     float64 `yaml:"volume_floor"`
	DeltaPctMin     float64 `yaml:"delta_pct_min"`
	MinShortSamples int     `yaml:"min_short_samples"`
	MinLongSamples  int     `yaml:"min_long_samples"`
	MaxPerDimension int     `yaml:"max_per_dimension"`
}

// Default returns a config with production defaults.
func Default() *Config {
	return &Config{
		SettlingDays:    3,
		WorkerPoolSize:  0,
		RunTimeout:      10 * time.Minute,
		PropertyTimeout: 60 * time.Second,
		Storage: StorageConfig{
			Root:          "./data",
			DataPrefix:    "clean_dataset",
			ResultsPrefix: "results",
			RegistryPath:  "config/properties.json",
			ReadRateLimit: 0,
		},
		Cache: CacheConfig{
			TTL: 24 * time.Hour,
		},
		Delivery: DeliveryConfig{
			SMTPPort:       587,
			CredentialName: "scout-smtp",
		},
		Detectors: DetectorsConfig{
			Disaster: DisasterConfig{
				SessionsFloor:    10,
				BaselineSessions: 100,
				BaselineConv:     1,
				DropFraction:     0.90,
				BaselineDays:     3,
			},
			Spam: SpamConfig{
				ZThreshold:         3.0,
				ZCritical:          5.0,
				BounceRateMax:      0.85,
				SessionDurationMin: 10,
				VolumeFloor:        10,
				OverallVolumeFloor: 100,
				BaselineDays:       7,
			},
			Record: RecordConfig{
				WindowDays:      90,
				VolumeFloor:     100,
				SignificancePct: 5.0,
				MinSamples:      30,
				LowImpactFloor:  40,
			},
			Trend: TrendConfig{
				ShortWindowDays: 30,
				LongWindowDays:  180,
				VolumeFloor:     50,
				DeltaPctMin:     15.0,
				MinShortSamples: 7,
				MinLongSamples:  30,
				MaxPerDimension: 3,
			},
		},
	}
}

// Load reads a YAML config file over the defaults. An empty path returns the
// defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays the recognized environment variables. Unknown variables
// are ignored.
func (c *Config) applyEnv() {
	if v := os.Getenv("SETTLING_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.SettlingDays = n
		}
	}
	if v := os.Getenv("WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.WorkerPoolSize = n
		}
	}
	if v := os.Getenv("RUN_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RunTimeout = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("SCOUT_REDIS_URL"); v != "" {
		c.Cache.RedisURL = v
	}
	if v := os.Getenv("SCOUT_DATABASE_URL"); v != "" {
		c.History.DatabaseURL = v
	}
}

// Validate checks invariants that would otherwise surface as confusing
// runtime behavior.
func (c *Config) Validate() error {
	if c.SettlingDays < 0 {
		return fmt.Errorf("settling_days must be >= 0, got %d", c.SettlingDays)
	}
	if c.RunTimeout <= 0 {
		return fmt.Errorf("run_timeout must be positive, got %s", c.RunTimeout)
	}
	if c.PropertyTimeout <= 0 {
		return fmt.Errorf("property_timeout must be positive, got %s", c.PropertyTimeout)
	}
	if c.Storage.Root == "" {
		return fmt.Errorf("storage.root is required")
	}
	if c.Detectors.Spam.ZThreshold <= 0 {
		return fmt.Errorf("detectors.spam.z_threshold must be positive")
	}
	if c.Detectors.Trend.ShortWindowDays >= c.Detectors.Trend.LongWindowDays {
		return fmt.Errorf("detectors.trend short window (%d) must be shorter than long window (%d)",
			c.Detectors.Trend.ShortWindowDays, c.Detectors.Trend.LongWindowDays)
	}
	return nil
}

// LongestWindowDays is the history a dataset load must cover to satisfy every
// detector: the long trend window plus a fixed 13-day margin (193 days with
// the defaults). The margin does not change with settling_days.
func (c *Config) LongestWindowDays() int {
	return c.Detectors.Trend.LongWindowDays + 13
}
