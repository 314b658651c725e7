// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Backend BackendConfig `mapstructure:"backend"`
	Tracker TrackerConfig `mapstructure:"tracker"`
	Poll    PollConfig    `mapstructure:"poll"`
	API     APIConfig     `mapstructure:"api"`
	Journal JournalConfig `mapstructure:"journal"`
	Log     LogConfig     `mapstructure:"log"`
}

// BackendConfig points at the task backend's HTTP and websocket API.
type BackendConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	Namespace      string `mapstructure:"namespace"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// TrackerConfig governs per-task channel and sampling behavior.
type TrackerConfig struct {
	PingIntervalSeconds   int `mapstructure:"ping_interval_seconds"`
	ConfigRetrySeconds    int `mapstructure:"config_retry_seconds"`
	SampleCap             int `mapstructure:"sample_cap"`
	DialTimeoutSeconds    int `mapstructure:"dial_timeout_seconds"`
	NotifyBufferSize      int `mapstructure:"notify_buffer_size"`
	NotifyMaxBatch        int `mapstructure:"notify_max_batch"`
	NotifyMaxWaitMillis   int `mapstructure:"notify_max_wait_ms"`
	ListenerTimeoutMillis int `mapstructure:"listener_timeout_ms"`
}

// PollConfig tunes the reconciliation poll loop.
type PollConfig struct {
	DefaultIntervalSeconds int `mapstructure:"default_interval_seconds"`
	JitterStdevMillis      int `mapstructure:"jitter_stdev_ms"`
}

// APIConfig controls the local status server.
type APIConfig struct {
	ListenAddr     string `mapstructure:"listen_addr"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// JournalConfig enables persistence of status transitions to Postgres.
type JournalConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	DatabaseURL string `mapstructure:"database_url"`
	Table       string `mapstructure:"table"`
}

// LogConfig toggles zap development features.
type LogConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TASKTRACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backend.namespace", "default")
	v.SetDefault("backend.timeout_seconds", 10)
	v.SetDefault("tracker.ping_interval_seconds", 10)
	v.SetDefault("tracker.config_retry_seconds", 2)
	v.SetDefault("tracker.sample_cap", 64)
	v.SetDefault("tracker.dial_timeout_seconds", 10)
	v.SetDefault("tracker.notify_buffer_size", 256)
	v.SetDefault("tracker.notify_max_batch", 32)
	v.SetDefault("tracker.notify_max_wait_ms", 200)
	v.SetDefault("tracker.listener_timeout_ms", 2000)
	v.SetDefault("poll.default_interval_seconds", 15)
	v.SetDefault("poll.jitter_stdev_ms", 500)
	v.SetDefault("api.listen_addr", ":8080")
	v.SetDefault("api.timeout_seconds", 30)
	v.SetDefault("journal.table", "task_transitions")
	v.SetDefault("log.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url must be set")
	}
	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("backend.base_url must be an http(s) URL")
	}
	if c.Backend.Namespace == "" {
		return fmt.Errorf("backend.namespace must be set")
	}
	if c.Backend.TimeoutSeconds <= 0 {
		return fmt.Errorf("backend.timeout_seconds must be > 0")
	}
	if c.Tracker.PingIntervalSeconds <= 0 {
		return fmt.Errorf("tracker.ping_interval_seconds must be > 0")
	}
	if c.Tracker.SampleCap <= 1 {
		return fmt.Errorf("tracker.sample_cap must be > 1")
	}
	if c.Poll.DefaultIntervalSeconds <= 0 {
		return fmt.Errorf("poll.default_interval_seconds must be > 0")
	}
	if c.API.ListenAddr == "" {
		return fmt.Errorf("api.listen_addr must be set")
	}
	if c.Journal.Enabled && c.Journal.DatabaseURL == "" {
		return fmt.Errorf("journal.database_url must be set when journal is enabled")
	}
	return nil
}

// BackendTimeout returns the request budget for backend HTTP calls.
func (c Config) BackendTimeout() time.Duration {
	return time.Duration(c.Backend.TimeoutSeconds) * time.Second
}

// PingInterval returns the websocket keepalive cadence.
func (c Config) PingInterval() time.Duration {
	return time.Duration(c.Tracker.PingIntervalSeconds) * time.Second
}

// PollInterval returns the fallback poll cadence used before the backend
// supplies its own.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Poll.DefaultIntervalSeconds) * time.Second
}
