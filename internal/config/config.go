package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

// Config holds application configuration. Values come from defaults, then
// the TOML config file, then environment variables, then flags.
type Config struct {
	ListenAddr    string `toml:"listen_addr" env:"JOBGATE_LISTEN_ADDR"`
	DBPath        string `toml:"db_path" env:"JOBGATE_DB"`
	WebhookSecret string `toml:"webhook_secret" env:"JOBGATE_WEBHOOK_SECRET"`

	Workers               int `toml:"workers" env:"JOBGATE_WORKERS"`
	PollIntervalSec       int `toml:"poll_interval_sec" env:"JOBGATE_POLL_INTERVAL_SEC"`
	ExecTimeoutSec        int `toml:"exec_timeout_sec" env:"JOBGATE_EXEC_TIMEOUT_SEC"`
	ProcessingDeadlineSec int `toml:"processing_deadline_sec" env:"JOBGATE_PROCESSING_DEADLINE_SEC"`
	ReapIntervalSec       int `toml:"reap_interval_sec" env:"JOBGATE_REAP_INTERVAL_SEC"`
	JobTTLSec             int `toml:"job_ttl_sec" env:"JOBGATE_JOB_TTL_SEC"`
	DispatchGraceSec      int `toml:"dispatch_grace_sec" env:"JOBGATE_DISPATCH_GRACE_SEC"`
	MaxAttempts           int `toml:"max_attempts" env:"JOBGATE_MAX_ATTEMPTS"`
	MaxQueueDepth         int `toml:"max_queue_depth" env:"JOBGATE_MAX_QUEUE_DEPTH"`

	// Costs prices point-priced job types; types absent here are free for
	// active subscribers.
	Costs map[string]int64 `toml:"costs"`

	Providers Providers `toml:"providers"`
}

// Providers holds the external task provider endpoints per task family.
type Providers struct {
	Conversion    string `toml:"conversion" env:"JOBGATE_PROVIDER_CONVERSION"`
	Outline       string `toml:"outline" env:"JOBGATE_PROVIDER_OUTLINE"`
	FormatRewrite string `toml:"format_rewrite" env:"JOBGATE_PROVIDER_FORMAT_REWRITE"`
}

// DefaultDBPath returns the default database path using XDG_STATE_HOME.
func DefaultDBPath() string {
	stateDir := os.Getenv("XDG_STATE_HOME")
	if stateDir == "" {
		home, _ := os.UserHomeDir()
		stateDir = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(stateDir, "jobgate", "jobgate.db")
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		ListenAddr:            ":8080",
		DBPath:                DefaultDBPath(),
		Workers:               4,
		PollIntervalSec:       2,
		ExecTimeoutSec:        300,
		ProcessingDeadlineSec: 600,
		ReapIntervalSec:       30,
		JobTTLSec:             86400,
		DispatchGraceSec:      30,
		MaxAttempts:           3,
		MaxQueueDepth:         1000,
		Costs: map[string]int64{
			"conversion":         10,
			"outline-generation": 20,
			"format-rewrite":     15,
		},
		Providers: Providers{
			Conversion:    "http://localhost:9101/convert",
			Outline:       "http://localhost:9102/outline",
			FormatRewrite: "http://localhost:9103/rewrite",
		},
	}
}

// Load builds the configuration from the optional file at path, the
// environment and the already-parsed flag values.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseFlags reads command line flags and loads the configuration.
func ParseFlags() (*Config, error) {
	var (
		configPath = flag.String("config", "", "TOML config file path")
		listen     = flag.String("listen", "", "HTTP listen address")
		dbPath     = flag.String("db", "", "SQLite database path")
	)
	flag.Parse()

	cfg, err := Load(*configPath)
	if err != nil {
		return nil, err
	}
	if *listen != "" {
		cfg.ListenAddr = *listen
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1")
	}
	if c.MaxQueueDepth < 1 {
		return fmt.Errorf("max_queue_depth must be at least 1")
	}
	if c.ProcessingDeadlineSec <= c.ExecTimeoutSec {
		return fmt.Errorf("processing_deadline_sec must exceed exec_timeout_sec")
	}
	return nil
}

func (c *Config) PollInterval() time.Duration { return time.Duration(c.PollIntervalSec) * time.Second }
func (c *Config) ExecTimeout() time.Duration  { return time.Duration(c.ExecTimeoutSec) * time.Second }
func (c *Config) ProcessingDeadline() time.Duration {
	return time.Duration(c.ProcessingDeadlineSec) * time.Second
}
func (c *Config) ReapInterval() time.Duration { return time.Duration(c.ReapIntervalSec) * time.Second }
func (c *Config) JobTTL() time.Duration       { return time.Duration(c.JobTTLSec) * time.Second }
func (c *Config) DispatchGrace() time.Duration {
	return time.Duration(c.DispatchGraceSec) * time.Second
}
