// Configuration loading for the trestle CLI.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/mesh-intelligence/trestle/internal/paths"
	"github.com/mesh-intelligence/trestle/pkg/types"
)

const (
	configFileName = "config"
	configFileType = "yaml"
	configFileExt  = ".yaml"
)

// Configuration keys.
const (
	cfgKeyDebounceMs     = "debounce_ms"
	cfgKeyWatchGraceMs   = "watch_grace_ms"
	cfgKeyComputeWorkers = "compute_workers"
	cfgKeyCacheDir       = "cache_dir"
	cfgKeyCacheCapacity  = "cache_capacity"
	cfgKeyRecheckSeconds = "recheck_seconds"
)

// defaultConfigYAML is written to the config directory on first run. All
// values are commented out so the built-in defaults apply until the user
// uncomments and edits them.
const defaultConfigYAML = `# trestle configuration
#
# Delay between the last edit and the automatic save, in milliseconds.
#debounce_ms: 2000

# How long after a save to ignore file events for that path, in milliseconds.
#watch_grace_ms: 500

# Number of computation workers.
#compute_workers: 2

# Directory for the derived-result cache. Empty selects the platform cache
# directory. Set to the literal string "off" to disable caching.
#cache_dir: ""

# Maximum number of cached derived results.
#cache_capacity: 10000

# Interval between permission rechecks for degraded files, in seconds.
#recheck_seconds: 30
`

// loadConfig reads configuration from the given directory, creating the
// directory and a commented default config file when absent.
func loadConfig(configDir string) (*viper.Viper, error) {
	if err := ensureConfigDir(configDir); err != nil {
		return nil, err
	}
	if err := ensureDefaultConfigFile(configDir); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigName(configFileName)
	v.SetConfigType(configFileType)
	v.AddConfigPath(configDir)

	v.SetDefault(cfgKeyDebounceMs, 2000)
	v.SetDefault(cfgKeyWatchGraceMs, 500)
	v.SetDefault(cfgKeyComputeWorkers, 2)
	v.SetDefault(cfgKeyCacheDir, "")
	v.SetDefault(cfgKeyCacheCapacity, 10000)
	v.SetDefault(cfgKeyRecheckSeconds, 30)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}
	return v, nil
}

// ensureConfigDir creates the configuration directory if it does not exist.
func ensureConfigDir(configDir string) error {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	return nil
}

// ensureDefaultConfigFile writes the commented default configuration if no
// config file exists yet.
func ensureDefaultConfigFile(configDir string) error {
	path := filepath.Join(configDir, configFileName+configFileExt)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("checking config file: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultConfigYAML), 0o644); err != nil {
		return fmt.Errorf("writing default config: %w", err)
	}
	return nil
}

// buildEngineConfig converts loaded configuration values into the engine's
// Config. The cache directory follows the precedence chain: --cache-dir flag
// > config file > TRESTLE_CACHE_DIR env > platform default. The special
// value "off" disables caching.
func buildEngineConfig(v *viper.Viper) (types.Config, error) {
	cfg := types.DefaultConfig()
	cfg.DebounceInterval = time.Duration(v.GetInt(cfgKeyDebounceMs)) * time.Millisecond
	cfg.WatchGrace = time.Duration(v.GetInt(cfgKeyWatchGraceMs)) * time.Millisecond
	cfg.ComputeWorkers = v.GetInt(cfgKeyComputeWorkers)
	cfg.CacheCapacity = v.GetInt(cfgKeyCacheCapacity)
	cfg.RecheckInterval = time.Duration(v.GetInt(cfgKeyRecheckSeconds)) * time.Second

	cacheDir := v.GetString(cfgKeyCacheDir)
	if flagCacheDir == "off" || (flagCacheDir == "" && cacheDir == "off") {
		cfg.CacheDir = ""
		return cfg, nil
	}
	resolved, err := paths.ResolveCacheDir(flagCacheDir, cacheDir)
	if err != nil {
		return cfg, err
	}
	cfg.CacheDir = resolved
	return cfg, nil
}
