// Package config loads worker configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the configuration for the worker process.
type Config struct {
	Port        int    `mapstructure:"PORT"`
	Environment string `mapstructure:"ENVIRONMENT"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	BrokerProject      string `mapstructure:"BROKER_PROJECT"`
	BrokerTopic        string `mapstructure:"BROKER_TOPIC"`
	BrokerSubscription string `mapstructure:"BROKER_SUBSCRIPTION"`
	PullMode           bool   `mapstructure:"PULL_MODE"`

	MaxConcurrentJobs int           `mapstructure:"MAX_CONCURRENT_JOBS"`
	JobTimeout        time.Duration `mapstructure:"JOB_TIMEOUT"`
	LockTTL           time.Duration `mapstructure:"LOCK_TTL"`

	// WorkflowsDir holds YAML workflow definitions loaded at boot.
	WorkflowsDir string `mapstructure:"WORKFLOWS_DIR"`
}

// Load reads configuration from environment variables with sane defaults.
// The lock TTL must exceed the job timeout; a crashed worker's lock is
// otherwise reclaimed while its job may still be running elsewhere.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", 8080)
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("BROKER_PROJECT", "")
	v.SetDefault("BROKER_TOPIC", "jobs")
	v.SetDefault("BROKER_SUBSCRIPTION", "jobs-worker")
	v.SetDefault("PULL_MODE", false)
	v.SetDefault("MAX_CONCURRENT_JOBS", 8)
	v.SetDefault("JOB_TIMEOUT", "30s")
	v.SetDefault("LOCK_TTL", "1m")
	v.SetDefault("WORKFLOWS_DIR", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.MaxConcurrentJobs <= 0 {
		return nil, fmt.Errorf("MAX_CONCURRENT_JOBS must be positive, got %d", cfg.MaxConcurrentJobs)
	}
	if cfg.LockTTL <= cfg.JobTimeout {
		return nil, fmt.Errorf("LOCK_TTL (%s) must exceed JOB_TIMEOUT (%s)", cfg.LockTTL, cfg.JobTimeout)
	}
	return &cfg, nil
}

// Mode names the delivery mode for logs and the stats endpoint.
func (c *Config) Mode() string {
	if c.PullMode {
		return "pull"
	}
	return "push"
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
