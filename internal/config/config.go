// Package config loads jsondb settings from an optional config file and
// prefixed environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the environment variable prefix used by the CLI.
const EnvPrefix = "JSONDB_"

// Config is the full jsondb configuration.
type Config struct {
	Data  DataConfig  `mapstructure:"data"`
	Cache CacheConfig `mapstructure:"cache"`
	Query QueryConfig `mapstructure:"query"`
	Pool  PoolConfig  `mapstructure:"pool"`
	Log   LogConfig   `mapstructure:"log"`
}

// DataConfig locates the database on disk.
type DataConfig struct {
	Root  string `mapstructure:"root"`
	Space string `mapstructure:"space"`
	DB    string `mapstructure:"db"`

	// Dataset is the directory file requests load documents from.
	Dataset string `mapstructure:"dataset"`
}

// CacheConfig sizes the document cache. Capacity 0 disables it.
type CacheConfig struct {
	Capacity int           `mapstructure:"capacity"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// QueryConfig bounds query pagination.
type QueryConfig struct {
	MaxLimit     int `mapstructure:"maxlimit"`
	DefaultLimit int `mapstructure:"defaultlimit"`
}

// PoolConfig sizes the worker pool used for parallel document reads.
type PoolConfig struct {
	Workers int `mapstructure:"workers"`
}

// LogConfig configures the global logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Data: DataConfig{
			Root:  "./data",
			Space: "default",
			DB:    "main",
		},
		Cache: CacheConfig{
			Capacity: 1024,
			TTL:      5 * time.Minute,
		},
		Query: QueryConfig{
			MaxLimit:     1000,
			DefaultLimit: 100,
		},
		Pool: PoolConfig{
			Workers: 8,
		},
		Log: LogConfig{
			Level:  "INFO",
			Format: "json",
		},
	}
}

// Load fills target from configFile (optional, any format viper knows)
// and then from environment variables starting with prefix.
// JSONDB_CACHE_CAPACITY maps to cache.capacity.
func Load(prefix, configFile string, target interface{}) error {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	prefixUpper := strings.ToUpper(prefix)
	for _, envStr := range os.Environ() {
		pair := strings.SplitN(envStr, "=", 2)
		if len(pair) != 2 {
			continue
		}
		key, value := pair[0], pair[1]

		if strings.HasPrefix(key, prefixUpper) {
			propKey := strings.TrimPrefix(key, prefixUpper)
			propKey = strings.ToLower(strings.ReplaceAll(propKey, "_", "."))
			propKey = strings.TrimPrefix(propKey, ".")

			v.Set(propKey, value)
		}
	}

	if err := v.Unmarshal(target); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return nil
}

// LoadDefault returns Default() overlaid with configFile and JSONDB_* vars.
func LoadDefault(configFile string) (*Config, error) {
	cfg := Default()
	if err := Load(EnvPrefix, configFile, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
