// Package config loads the YAML configuration described in the
// service's operations runbook: simhash width, snapshot limits,
// worker pool size, Redis/asynq connection info, CORS origins and
// the statsd sink.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	DefaultConfPath = "./conf.yml"
	ConfEnvVar      = "WAYBACK_DISCOVER_DIFF_CONF"

	defaultSimhashSize       = 256
	defaultExpireAfter       = 86400
	defaultSnapshotsPerYear  = -1
	defaultSnapshotsPerPage  = 100
	defaultThreads           = 20
	defaultMaxDownloadErrors = 10
	defaultMaxCaptureBytes   = 1 << 20 // 1 MiB
	defaultFetchTimeout      = 20
	defaultMaxRetries        = 2
)

// Simhash holds fingerprint-width and TTL settings.
type Simhash struct {
	Size        int `yaml:"size"`
	ExpireAfter int `yaml:"expire_after"`
}

// Snapshots holds change-log enumeration and pagination limits.
type Snapshots struct {
	NumberPerYear int `yaml:"number_per_year"`
	NumberPerPage int `yaml:"number_per_page"`
}

// Redis holds the cache store's connection parameters.
type Redis struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	DB   int    `yaml:"db"`
}

// Celery holds the task queue broker's connection parameters. The
// field name matches the source configuration's section name even
// though the broker itself is asynq, not Celery.
type Celery struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	DB          int    `yaml:"db"`
	Concurrency int    `yaml:"concurrency"`
}

// Statsd holds the metrics sink address.
type Statsd struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Logging mirrors the handful of fields the service's logger cares
// about; unlike Python's dictConfig this is not a general logging
// config, just level/format knobs for zerolog.
type Logging struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Job holds job-runner tuning values that have no natural home under
// the other sections.
type Job struct {
	MaxDownloadErrors     int  `yaml:"max_download_errors"`
	MaxCaptureBytes       int  `yaml:"max_capture_bytes"`
	FetchTimeoutSeconds   int  `yaml:"fetch_timeout_seconds"`
	MaxRetries            int  `yaml:"max_retries"`
	CommitPartialOnCancel bool `yaml:"commit_partial_on_cancel"`
}

// Config is the fully-resolved, process-wide configuration.
type Config struct {
	Simhash      Simhash   `yaml:"simhash"`
	Snapshots    Snapshots `yaml:"snapshots"`
	Threads      int       `yaml:"threads"`
	Redis        Redis     `yaml:"redis"`
	Celery       Celery    `yaml:"celery"`
	CORS         []string  `yaml:"cors"`
	CdxAuthToken string    `yaml:"cdx_auth_token"`
	Logging      Logging   `yaml:"logging"`
	Statsd       Statsd    `yaml:"statsd"`
	Job          Job       `yaml:"job"`
	Addr         string    `yaml:"addr"`
}

// Load reads the YAML file named by $WAYBACK_DISCOVER_DIFF_CONF, or
// ./conf.yml if the variable is unset, applies defaults for any zero
// values, and validates the configured SimHash width.
func Load() (*Config, error) {
	path := os.Getenv(ConfEnvVar)
	if path == "" {
		path = DefaultConfPath
	}

	// CommitPartialOnCancel defaults to true; a zero-valued bool cannot
	// be told apart from an explicit false after parsing, so the default
	// is set before the file is read.
	cfg := &Config{Job: Job{CommitPartialOnCancel: true}}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// No config file is not fatal: defaults carry the
			// process, same as the teacher's hardcoded placeholders.
			applyDefaults(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Simhash.Size == 0 {
		cfg.Simhash.Size = defaultSimhashSize
	}
	if cfg.Simhash.ExpireAfter == 0 {
		cfg.Simhash.ExpireAfter = defaultExpireAfter
	}
	if cfg.Snapshots.NumberPerYear == 0 {
		cfg.Snapshots.NumberPerYear = defaultSnapshotsPerYear
	}
	if cfg.Snapshots.NumberPerPage == 0 {
		cfg.Snapshots.NumberPerPage = defaultSnapshotsPerPage
	}
	if cfg.Threads == 0 {
		cfg.Threads = defaultThreads
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Celery.Host == "" {
		cfg.Celery.Host = cfg.Redis.Host
	}
	if cfg.Celery.Port == 0 {
		cfg.Celery.Port = cfg.Redis.Port
	}
	if cfg.Celery.DB == 0 {
		cfg.Celery.DB = cfg.Redis.DB + 1
	}
	if cfg.Celery.Concurrency == 0 {
		cfg.Celery.Concurrency = cfg.Threads
	}
	if cfg.Job.MaxDownloadErrors == 0 {
		cfg.Job.MaxDownloadErrors = defaultMaxDownloadErrors
	}
	if cfg.Job.MaxCaptureBytes == 0 {
		cfg.Job.MaxCaptureBytes = defaultMaxCaptureBytes
	}
	if cfg.Job.FetchTimeoutSeconds == 0 {
		cfg.Job.FetchTimeoutSeconds = defaultFetchTimeout
	}
	if cfg.Job.MaxRetries == 0 {
		cfg.Job.MaxRetries = defaultMaxRetries
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// Validate rejects configurations the service cannot operate under.
// An oversized SimHash width is a programmer/contract violation per
// the error-handling design: it must fail fast at startup.
func (c *Config) Validate() error {
	switch c.Simhash.Size {
	case 64, 128, 256, 512:
	default:
		return fmt.Errorf("config: simhash.size must be one of 64, 128, 256, 512, got %d", c.Simhash.Size)
	}
	return nil
}
