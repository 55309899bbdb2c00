package types

import (
	"errors"
	"time"
)

// Config holds engine tuning for Engine.Attach.
type Config struct {
	// DebounceInterval is the quiet period after an edit before a save
	// fires. Further edits inside the window re-arm it.
	DebounceInterval time.Duration `json:"debounce_interval" yaml:"debounce_interval"`

	// WatchGrace is how long after the process's own save file-change
	// events for that path are ignored.
	WatchGrace time.Duration `json:"watch_grace" yaml:"watch_grace"`

	// RecheckInterval is how often files in a degraded permission state
	// are probed for restored write access. Zero disables the probe
	// ticker; explicit retry still works.
	RecheckInterval time.Duration `json:"recheck_interval" yaml:"recheck_interval"`

	// ComputeWorkers is the number of derived-computation workers.
	ComputeWorkers int `json:"compute_workers" yaml:"compute_workers"`

	// CacheDir is where the derived-result cache database lives. Empty
	// disables the persistent cache.
	CacheDir string `json:"cache_dir" yaml:"cache_dir"`

	// CacheCapacity is the maximum number of cached derived results
	// before least-recently-used eviction.
	CacheCapacity int `json:"cache_capacity" yaml:"cache_capacity"`
}

// Config defaults.
const (
	DefaultDebounceInterval = 2 * time.Second
	DefaultWatchGrace       = 500 * time.Millisecond
	DefaultRecheckInterval  = 30 * time.Second
	DefaultComputeWorkers   = 2
	DefaultCacheCapacity    = 10000
)

// Config validation errors.
var (
	ErrDebounceInvalid   = errors.New("debounce interval must not be negative")
	ErrWorkersInvalid    = errors.New("compute workers must be positive")
	ErrCapacityInvalid   = errors.New("cache capacity must be positive")
	ErrWatchGraceInvalid = errors.New("watch grace must not be negative")
)

// DefaultConfig returns a Config with every field set to its default.
func DefaultConfig() Config {
	return Config{
		DebounceInterval: DefaultDebounceInterval,
		WatchGrace:       DefaultWatchGrace,
		RecheckInterval:  DefaultRecheckInterval,
		ComputeWorkers:   DefaultComputeWorkers,
		CacheCapacity:    DefaultCacheCapacity,
	}
}

// Normalize fills zero-valued fields with their defaults and returns the
// result. Negative values are left for Validate to reject.
func (c Config) Normalize() Config {
	if c.DebounceInterval == 0 {
		c.DebounceInterval = DefaultDebounceInterval
	}
	if c.WatchGrace == 0 {
		c.WatchGrace = DefaultWatchGrace
	}
	if c.ComputeWorkers == 0 {
		c.ComputeWorkers = DefaultComputeWorkers
	}
	if c.CacheCapacity == 0 {
		c.CacheCapacity = DefaultCacheCapacity
	}
	return c
}

// Validate checks that the Config is well-formed. It returns a sentinel
// error from this package on failure.
func (c Config) Validate() error {
	if c.DebounceInterval < 0 {
		return ErrDebounceInvalid
	}
	if c.WatchGrace < 0 {
		return ErrWatchGraceInvalid
	}
	if c.ComputeWorkers <= 0 {
		return ErrWorkersInvalid
	}
	if c.CacheCapacity <= 0 {
		return ErrCapacityInvalid
	}
	return nil
}
