// Package config loads rowcache settings from rowcache.yaml and ROWCACHE_
// environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// Config holds all rowcache settings.
type Config struct {
	DataDir string      `mapstructure:"data_dir"`
	Fetch   FetchConfig `mapstructure:"fetch"`
	Sync    SyncConfig  `mapstructure:"sync"`
	Log     LogConfig   `mapstructure:"log"`
	Watch   WatchConfig `mapstructure:"watch"`
}

// FetchConfig controls how records are read into the cache.
type FetchConfig struct {
	// Limit caps the number of records fetched (0 = all).
	Limit int `mapstructure:"limit"`
}

// SyncConfig sizes the synchronizer's worker pool.
type SyncConfig struct {
	Workers     int           `mapstructure:"workers"`
	QueueSize   int           `mapstructure:"queue_size"`
	StopTimeout time.Duration `mapstructure:"stop_timeout"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `mapstructure:"level"`
	// File, when set, receives the log instead of stderr and is rotated.
	File      string `mapstructure:"file"`
	MaxSizeMB int    `mapstructure:"max_size_mb"`
}

// WatchConfig holds settings of the watch command.
type WatchConfig struct {
	Debounce    time.Duration `mapstructure:"debounce"`
	MetricsAddr string        `mapstructure:"metrics_addr"`
}

// Load reads configuration from configPath, or from rowcache.yaml in the
// working directory when configPath is empty, then applies environment
// overrides. A missing default file is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("rowcache")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("ROWCACHE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		DataDir: ".rowcache",
		Sync: SyncConfig{
			Workers:     2,
			QueueSize:   256,
			StopTimeout: 5 * time.Second,
		},
		Log: LogConfig{
			Level:     "info",
			MaxSizeMB: 10,
		},
		Watch: WatchConfig{
			Debounce: 100 * time.Millisecond,
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("fetch.limit", d.Fetch.Limit)

	v.SetDefault("sync.workers", d.Sync.Workers)
	v.SetDefault("sync.queue_size", d.Sync.QueueSize)
	v.SetDefault("sync.stop_timeout", d.Sync.StopTimeout)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)

	v.SetDefault("watch.debounce", d.Watch.Debounce)
	v.SetDefault("watch.metrics_addr", d.Watch.MetricsAddr)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.Fetch.Limit < 0 {
		return fmt.Errorf("fetch.limit must not be negative: %d", c.Fetch.Limit)
	}
	if c.Sync.Workers <= 0 {
		return fmt.Errorf("sync.workers must be positive: %d", c.Sync.Workers)
	}
	if c.Sync.QueueSize <= 0 {
		return fmt.Errorf("sync.queue_size must be positive: %d", c.Sync.QueueSize)
	}
	if c.Sync.StopTimeout <= 0 {
		return fmt.Errorf("sync.stop_timeout must be positive")
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log.level %q", c.Log.Level)
	}
	if c.Log.MaxSizeMB <= 0 {
		return fmt.Errorf("log.max_size_mb must be positive: %d", c.Log.MaxSizeMB)
	}
	if c.Watch.Debounce < 0 {
		return fmt.Errorf("watch.debounce must not be negative")
	}
	return nil
}
