package config

import (
	"os"

	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	Backend  BackendConfig `mapstructure:"backend"`
	Chat     ChatConfig    `mapstructure:"chat"`
	History  HistoryConfig `mapstructure:"history"`
	LogLevel string        `mapstructure:"log_level"`
}

// BackendConfig holds the generation/history backend configuration
type BackendConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// ChatConfig holds the client-side chat configuration
type ChatConfig struct {
	// Filter is the default conversation family ("private" or "public").
	Filter string `mapstructure:"filter"`
}

// HistoryConfig holds persistence configuration
type HistoryConfig struct {
	// LocalDB is an optional sqlite path snapshotting the local-only
	// projection. Empty keeps local-only mode memory-resident.
	LocalDB string `mapstructure:"local_db"`
}

// Load loads the configuration from config.yaml in the working directory, or
// from the file named by the CONFIG_PATH environment variable when set.
func Load() (*Config, error) {
	v := viper.New()
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		v.SetConfigFile(p)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetDefault("backend.timeout_seconds", 30)
	v.SetDefault("chat.filter", "private")
	v.SetDefault("log_level", "info")

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}
