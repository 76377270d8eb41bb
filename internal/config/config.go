// Package config loads actiongraph settings from an optional YAML file and
// ACTIONGRAPH_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const (
	configFileName = "actiongraph"
	configFileType = "yaml"
	envPrefix      = "ACTIONGRAPH"

	KeyDatabase          = "database"
	KeyLogLevel          = "log_level"
	KeyActor             = "actor"
	KeyTeardownBatchSize = "teardown_batch_size"
	KeyMetricsAddr       = "metrics_addr"
)

// Defaults.
const (
	DefaultDatabase          = "actiongraph.db"
	DefaultLogLevel          = "info"
	DefaultActor             = "system"
	DefaultTeardownBatchSize = 500
)

// Config is the validated configuration.
type Config struct {
	// Database is the SQLite file path.
	Database string `mapstructure:"database" validate:"required"`
	LogLevel string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	// Actor is the id or slug Actions run as unless overridden.
	Actor             string `mapstructure:"actor" validate:"required"`
	TeardownBatchSize int    `mapstructure:"teardown_batch_size" validate:"gt=0"`
	// MetricsAddr enables the Prometheus endpoint when set, e.g. localhost:9090.
	MetricsAddr string `mapstructure:"metrics_addr" validate:"omitempty,hostname_port"`
}

var validate = validator.New()

// Load reads the config file at path, or actiongraph.yaml in the working
// directory when path is empty. Only an explicitly named file must exist.
// Environment variables (ACTIONGRAPH_DATABASE, ...) override the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetDefault(KeyDatabase, DefaultDatabase)
	v.SetDefault(KeyLogLevel, DefaultLogLevel)
	v.SetDefault(KeyActor, DefaultActor)
	v.SetDefault(KeyTeardownBatchSize, DefaultTeardownBatchSize)
	v.SetDefault(KeyMetricsAddr, "")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName(configFileName)
		v.SetConfigType(configFileType)
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	return FromViper(v)
}

// FromViper decodes and validates a populated viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("invalid config: %w", err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Field(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// SlogLevel maps LogLevel to a slog level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
