// Package config loads the daemon configuration from a YAML file and
// INTERPD_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/psantana5/interpreter-runtime/pkg/models"
	"github.com/psantana5/interpreter-runtime/pkg/process"
	"github.com/psantana5/interpreter-runtime/pkg/store"
	tlsutil "github.com/psantana5/interpreter-runtime/pkg/tls"
	"github.com/psantana5/interpreter-runtime/pkg/tracing"
)

// EnvPrefix prefixes every environment override, e.g. INTERPD_LISTEN
const EnvPrefix = "INTERPD"

// Config holds the daemon configuration
type Config struct {
	Listen        string                 `mapstructure:"listen"`
	MetricsListen string                 `mapstructure:"metrics_listen"`
	TLS           tlsutil.Config         `mapstructure:"tls"`
	Log           LogConfig              `mapstructure:"log"`
	Store         store.Config           `mapstructure:"store"`
	Tracing       tracing.Config         `mapstructure:"tracing"`
	RateLimit     RateLimitConfig        `mapstructure:"ratelimit"`
	Process       process.Config         `mapstructure:"process"`
	Scheduler     SchedulerConfig        `mapstructure:"scheduler"`
	Settings      []models.SettingConfig `mapstructure:"-"`
}

// LogConfig selects the log level and format
type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// RateLimitConfig bounds admin API calls per caller
type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"rps"`
	Burst   int     `mapstructure:"burst"`
}

// SchedulerConfig bounds PARALLEL queues
type SchedulerConfig struct {
	MaxConcurrency int `mapstructure:"max_concurrency"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen", "127.0.0.1:8090")
	v.SetDefault("metrics_listen", "127.0.0.1:9190")
	v.SetDefault("tls.enabled", false)
	v.SetDefault("tls.cert_file", "certs/interpreterd.crt")
	v.SetDefault("tls.key_file", "certs/interpreterd.key")
	v.SetDefault("tls.ca_file", "")
	v.SetDefault("tls.generate", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
	v.SetDefault("store.type", "memory")
	v.SetDefault("store.path", "interpreter.db")
	v.SetDefault("store.dsn", "")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "interpreterd")
	v.SetDefault("tracing.otlp_endpoint", "localhost:4318")
	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.rps", 50.0)
	v.SetDefault("ratelimit.burst", 100)
	v.SetDefault("process.start_timeout", 30*time.Second)
	v.SetDefault("process.grace_period", 3*time.Second)
	v.SetDefault("process.log_level", "info")
	v.SetDefault("scheduler.max_concurrency", 0)
}

// New returns a viper instance with defaults and environment binding applied.
// Flags can be bound to it before Load.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path, if set, and unmarshals the result
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if path != "" {
		settings, err := loadSettings(path)
		if err != nil {
			return nil, err
		}
		cfg.Settings = settings
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadSettings decodes the settings list straight from YAML. Viper lowercases
// map keys, and property names are case-sensitive.
func loadSettings(path string) ([]models.SettingConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	var doc struct {
		Settings []models.SettingConfig `yaml:"settings"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}
	return doc.Settings, nil
}

// Validate checks the configuration can start a daemon
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.RateLimit.Enabled && (c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0) {
		return fmt.Errorf("ratelimit: rps and burst must be positive")
	}
	if c.Scheduler.MaxConcurrency < 0 {
		return fmt.Errorf("scheduler: max_concurrency must not be negative")
	}
	seen := make(map[string]bool, len(c.Settings))
	for i := range c.Settings {
		s := &c.Settings[i]
		if err := s.Validate(); err != nil {
			return fmt.Errorf("settings[%d]: %w", i, err)
		}
		if seen[s.ID] {
			return fmt.Errorf("settings[%d]: duplicate id %q", i, s.ID)
		}
		seen[s.ID] = true
	}
	return nil
}
