// Package config loads the resourcekit server configuration from
// resourcekit.yaml, RESOURCEKIT_* environment variables and defaults.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. RESOURCEKIT_SERVER_PORT
const EnvPrefix = "RESOURCEKIT"

// Storage drivers
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config represents the resourcekit configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Resources ResourcesConfig `mapstructure:"resources"`
	Events    EventsConfig    `mapstructure:"events"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`
	// Domain is prepended to rendered links, e.g. https://api.example.com
	Domain    string `mapstructure:"domain"`
	APIPrefix string `mapstructure:"api_prefix"`
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StorageConfig selects the keeper backend
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// ResourcesConfig points at the resource declaration file
type ResourcesConfig struct {
	File string `mapstructure:"file"`
}

// EventsConfig configures the event sinks
type EventsConfig struct {
	Redis RedisConfig `mapstructure:"redis"`
	// Stream enables the WebSocket event stream at /events
	Stream bool `mapstructure:"stream"`
}

// RedisConfig configures the Redis publisher; an empty Addr disables it
type RedisConfig struct {
	Addr          string `mapstructure:"addr"`
	Password      string `mapstructure:"password"`
	DB            int    `mapstructure:"db"`
	ChannelPrefix string `mapstructure:"channel_prefix"`
}

// LogConfig configures the logger
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// New returns a viper instance with defaults, environment overrides and,
// when file is empty, resourcekit.yaml lookup in the working directory.
func New(file string) *viper.Viper {
	v := viper.New()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.domain", "")
	v.SetDefault("server.api_prefix", "")
	v.SetDefault("storage.driver", DriverMemory)
	v.SetDefault("storage.dsn", "")
	v.SetDefault("resources.file", "resources.yaml")
	v.SetDefault("events.redis.addr", "")
	v.SetDefault("events.redis.password", "")
	v.SetDefault("events.redis.db", 0)
	v.SetDefault("events.redis.channel_prefix", "resourcekit")
	v.SetDefault("events.stream", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("resourcekit")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the configuration. A missing resourcekit.yaml is not an error;
// a missing explicit file is.
func Load(file string) (*Config, error) {
	return FromViper(New(file))
}

// FromViper reads and validates the configuration held by v
func FromViper(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if cfg.Server.APIPrefix != "" {
		if !strings.HasPrefix(cfg.Server.APIPrefix, "/") {
			return fmt.Errorf("server.api_prefix must start with '/', got: %s", cfg.Server.APIPrefix)
		}
		if strings.HasSuffix(cfg.Server.APIPrefix, "/") {
			return fmt.Errorf("server.api_prefix must not end with '/', got: %s", cfg.Server.APIPrefix)
		}
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got: %d", cfg.Server.Port)
	}

	switch cfg.Storage.Driver {
	case DriverMemory:
	case DriverSQLite, DriverPostgres:
		if cfg.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for the %s driver", cfg.Storage.Driver)
		}
	default:
		return fmt.Errorf("storage.driver must be one of memory, sqlite, postgres, got: %s", cfg.Storage.Driver)
	}

	if cfg.Resources.File == "" {
		return fmt.Errorf("resources.file is required")
	}
	return nil
}
