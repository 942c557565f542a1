package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	// Global settings
	Format  string `mapstructure:"format"`
	Quiet   bool   `mapstructure:"quiet"`
	Verbose bool   `mapstructure:"verbose"`

	// Server endpoints
	Server ServerConfig `mapstructure:"server"`

	// Tuning for the stream client
	Stream StreamConfig `mapstructure:"stream"`
}

// ServerConfig holds endpoint settings for the event service.
type ServerConfig struct {
	// Base URL for the HTTP replay/snapshot API, e.g. http://localhost:8844
	BaseURL string `mapstructure:"base_url"`
	// WebSocket URL for the duplex channel; derived from BaseURL when empty
	SocketURL string `mapstructure:"socket_url"`
	// Request timeout for replay/snapshot calls
	HTTPTimeout string `mapstructure:"http_timeout"`
}

// StreamConfig holds reconnect/watchdog/pacing tuning.
type StreamConfig struct {
	// Reconnect backoff
	BackoffInitial string `mapstructure:"backoff_initial"`
	BackoffMax     string `mapstructure:"backoff_max"`
	MaxAttempts    int    `mapstructure:"max_attempts"`

	// Reply watchdog windows
	SlowAfter  string `mapstructure:"slow_after"`
	StuckAfter string `mapstructure:"stuck_after"`

	// Delta render pacing
	FlushInterval string `mapstructure:"flush_interval"`

	// Pending command expiry
	CommandTimeout string `mapstructure:"command_timeout"`
}

// Default returns a Config with default values
func Default() *Config {
	return &Config{
		Format:  "ndjson",
		Quiet:   false,
		Verbose: false,
		Server: ServerConfig{
			BaseURL:     "http://localhost:8844",
			HTTPTimeout: "10s",
		},
		Stream: StreamConfig{
			BackoffInitial: "800ms",
			BackoffMax:     "8s",
			MaxAttempts:    8,
			SlowAfter:      "4s",
			StuckAfter:     "2m",
			FlushInterval:  "50ms",
			CommandTimeout: "15s",
		},
	}
}

// Load loads configuration from files and environment
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("streamsync")
	v.SetConfigType("yaml")

	// Config paths, lowest precedence first
	v.AddConfigPath("/etc/streamsync/")
	if configDir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(configDir, "streamsync"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home)
		v.SetConfigName(".streamsync")
	}
	v.AddConfigPath(".")

	// Environment variables
	v.SetEnvPrefix("STREAMSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.BindEnv("format", "STREAMSYNC_FORMAT")
	v.BindEnv("quiet", "STREAMSYNC_QUIET")
	v.BindEnv("verbose", "STREAMSYNC_VERBOSE")
	v.BindEnv("server.base_url", "STREAMSYNC_SERVER_URL")
	v.BindEnv("server.socket_url", "STREAMSYNC_SOCKET_URL")

	// Set defaults
	cfg := Default()
	v.SetDefault("format", cfg.Format)
	v.SetDefault("quiet", cfg.Quiet)
	v.SetDefault("verbose", cfg.Verbose)
	v.SetDefault("server.base_url", cfg.Server.BaseURL)
	v.SetDefault("server.http_timeout", cfg.Server.HTTPTimeout)
	v.SetDefault("stream.backoff_initial", cfg.Stream.BackoffInitial)
	v.SetDefault("stream.backoff_max", cfg.Stream.BackoffMax)
	v.SetDefault("stream.max_attempts", cfg.Stream.MaxAttempts)
	v.SetDefault("stream.slow_after", cfg.Stream.SlowAfter)
	v.SetDefault("stream.stuck_after", cfg.Stream.StuckAfter)
	v.SetDefault("stream.flush_interval", cfg.Stream.FlushInterval)
	v.SetDefault("stream.command_timeout", cfg.Stream.CommandTimeout)

	// Try to read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific file
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
