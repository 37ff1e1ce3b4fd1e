// Package config loads service configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level service configuration.
type Config struct {
	Server  Server  `mapstructure:"server"`
	Data    Data    `mapstructure:"data"`
	Logging Logging `mapstructure:"logging"`
	Batch   Batch   `mapstructure:"batch"`
}

// Server holds HTTP listener settings.
type Server struct {
	Host          string        `mapstructure:"host"`
	Port          int           `mapstructure:"port"`
	WebSocketPath string        `mapstructure:"websocket_path"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	EnableMetrics bool          `mapstructure:"enable_metrics"`
}

// Data holds price storage settings.
type Data struct {
	SQLitePath string `mapstructure:"sqlite_path"`
}

// Logging configures the application logger.
type Logging struct {
	Level string `mapstructure:"level"`
}

// Batch configures parallel batch execution.
type Batch struct {
	MaxWorkers   int `mapstructure:"max_workers"`
	DrawdownTopN int `mapstructure:"drawdown_top_n"`
}

// Load reads configuration from the given file path. An empty path falls
// back to ./config.yaml when present; defaults cover everything else.
// Environment variables prefixed PORTFOLIO_ override file values, e.g.
// PORTFOLIO_DATA_SQLITE_PATH.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.websocket_path", "/ws")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.enable_metrics", true)
	v.SetDefault("data.sqlite_path", "trade_data.db")
	v.SetDefault("logging.level", "info")
	v.SetDefault("batch.max_workers", 0) // 0 = one per CPU
	v.SetDefault("batch.drawdown_top_n", 3)

	v.SetEnvPrefix("PORTFOLIO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			// Defaults are a complete configuration; a missing file is fine.
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}
