// Package config loads and validates the engine's configuration: a YAML
// file (gopkg.in/yaml.v3) layered with environment variable overrides, in
// the same Load/DefaultConfig/applyEnvOverrides/Validate shape the teacher
// uses, restructured around this engine's sections instead of the
// teacher's Server/Database/Storage/Auth/Versioning/SeafHTTP/CORS/
// OnlyOffice ones.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Sesame-Disk/backupcore/internal/chunker"
	"github.com/Sesame-Disk/backupcore/internal/ignore"
	"github.com/Sesame-Disk/backupcore/internal/sampler"
	"github.com/Sesame-Disk/backupcore/internal/walker"
)

// Config holds all configuration for the backup/sync engine.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Walker    WalkerConfig    `yaml:"walker"`
	Sampling  SamplingConfig  `yaml:"sampling"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// ServerConfig holds the control-plane HTTP server settings.
type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	DevMode        bool          `yaml:"dev_mode"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

// ChunkingConfig holds the content-defined chunker's settings (spec §3
// "ChunkerConfig" plus the adaptive-sizing supplement).
type ChunkingConfig struct {
	HashAlgorithm     string `yaml:"hash_algorithm"` // sha1, sha256, sha512
	MinSize           int64  `yaml:"min_size"`
	AvgSize           int64  `yaml:"avg_size"`
	MaxSize           int64  `yaml:"max_size"`
	ParallelThreshold int64  `yaml:"parallel_threshold"`
	ParallelBlockSize int64  `yaml:"parallel_block_size"`
	Parallel          bool   `yaml:"parallel"`

	Adaptive AdaptiveConfig `yaml:"adaptive"`
}

// AdaptiveConfig holds adaptive chunk sizing settings (driven by a measured
// transfer rate; see internal/chunker/adaptive.go).
type AdaptiveConfig struct {
	Enabled       bool  `yaml:"enabled"`
	AbsoluteMin   int64 `yaml:"absolute_min"`
	AbsoluteMax   int64 `yaml:"absolute_max"`
	InitialSize   int64 `yaml:"initial_size"`
	TargetSeconds int   `yaml:"target_seconds"`

	Probe ProbeConfig `yaml:"probe"`
}

// ProbeConfig holds speed probe settings.
type ProbeConfig struct {
	Size    int64         `yaml:"size"`
	Timeout time.Duration `yaml:"timeout"`
}

// WalkerConfig holds the directory walker's settings (spec §6 "Scan call").
type WalkerConfig struct {
	Root           string        `yaml:"root"`
	MaxDepth       int           `yaml:"max_depth"`
	FollowSymlinks bool          `yaml:"follow_symlinks"`
	IncludeHidden  bool          `yaml:"include_hidden"`
	MinSizeBytes   int64         `yaml:"min_size_bytes"`
	MaxSizeBytes   int64         `yaml:"max_size_bytes"`
	MinAge         time.Duration `yaml:"min_age"`
	MaxAge         time.Duration `yaml:"max_age"`
	QueueCapacity  int           `yaml:"queue_capacity"`
	Workers        int           `yaml:"workers"`
	IgnorePatterns []string      `yaml:"ignore_patterns"`
}

// SamplingConfig holds the sampling digest's settings (spec §4.5).
type SamplingConfig struct {
	SampleSize    int64  `yaml:"sample_size"`
	K             int    `yaml:"k"`
	HashAlgorithm string `yaml:"hash_algorithm"`
	BaseSeed      uint32 `yaml:"base_seed"`
}

// SchedulerConfig holds the set of scheduled scan tasks (spec §4.9).
type SchedulerConfig struct {
	Tasks []ScheduledTaskConfig `yaml:"tasks"`
}

// ScheduledTaskConfig configures one scheduler.Task.
type ScheduledTaskConfig struct {
	Name           string        `yaml:"name"`
	Kind           string        `yaml:"kind"` // "interval" or "cron"
	Interval       time.Duration `yaml:"interval"`
	ImmediateFirst bool          `yaml:"immediate_first"`
	CronExpr       string        `yaml:"cron_expr"`
	LockKey        string        `yaml:"lock_key"`
	LockTimeout    time.Duration `yaml:"lock_timeout"`
}

// Load reads configuration from config.yaml (or $CONFIG_PATH) layered with
// environment variable overrides.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configPath := getEnv("CONFIG_PATH", "config.yaml")
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns sensible defaults, matching the zero-value
// defaults each component package exposes via its own DefaultConfig/
// DefaultOptions/DefaultChunkerConfig constructor.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         ":8088",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			DevMode:      true,
		},
		Chunking: ChunkingConfig{
			HashAlgorithm:     "sha256",
			MinSize:           2 * 1024,
			AvgSize:           16 * 1024,
			MaxSize:           64 * 1024,
			ParallelThreshold: chunker.DefaultParallelThreshold,
			ParallelBlockSize: chunker.DefaultParallelBlockSize,
			Adaptive: AdaptiveConfig{
				Enabled:       false,
				AbsoluteMin:   2 * 1024 * 1024,
				AbsoluteMax:   256 * 1024 * 1024,
				InitialSize:   16 * 1024 * 1024,
				TargetSeconds: 8,
				Probe: ProbeConfig{
					Size:    1 * 1024 * 1024,
					Timeout: 30 * time.Second,
				},
			},
		},
		Walker: WalkerConfig{
			MaxDepth:      0,
			QueueCapacity: 100_000,
			IgnorePatterns: []string{
				".git/**",
				"*.tmp",
			},
		},
		Sampling: SamplingConfig{
			SampleSize:    1024,
			K:             16,
			HashAlgorithm: "sha256",
		},
	}
}

// applyEnvOverrides applies environment variable overrides on top of
// whatever DefaultConfig/the config file set.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Addr = ":" + v
	}
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("DEV_MODE"); v != "" {
		c.Server.DevMode = v == "true" || v == "1"
	}

	if v := os.Getenv("SCAN_ROOT"); v != "" {
		c.Walker.Root = v
	}
	if v := os.Getenv("CHUNK_HASH"); v != "" {
		c.Chunking.HashAlgorithm = v
	}
	if v := getEnvInt64("CHUNK_AVG_SIZE", 0); v != 0 {
		c.Chunking.AvgSize = v
	}
	if v := os.Getenv("CHUNK_ADAPTIVE"); v != "" {
		c.Chunking.Adaptive.Enabled = v == "true" || v == "1"
	}
	if v := getEnvInt("WALKER_WORKERS", 0); v != 0 {
		c.Walker.Workers = v
	}
}

// Validate checks whether the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server addr is required")
	}
	if _, err := chunker.ParseHashKind(c.Chunking.HashAlgorithm); err != nil {
		return fmt.Errorf("chunking: %w", err)
	}
	if c.Chunking.MinSize <= 0 || c.Chunking.AvgSize <= c.Chunking.MinSize || c.Chunking.MaxSize <= c.Chunking.AvgSize {
		return fmt.Errorf("chunking: require 0 < min_size < avg_size < max_size")
	}
	for _, t := range c.Scheduler.Tasks {
		switch t.Kind {
		case "interval":
			if t.Interval <= 0 {
				return fmt.Errorf("scheduler: task %q: interval must be > 0", t.Name)
			}
		case "cron":
			if t.CronExpr == "" {
				return fmt.Errorf("scheduler: task %q: cron_expr is required", t.Name)
			}
		default:
			return fmt.Errorf("scheduler: task %q: unknown kind %q", t.Name, t.Kind)
		}
	}
	return nil
}

// ChunkerConfig builds a chunker.ChunkerConfig from this configuration.
func (c *Config) ChunkerConfig() (chunker.ChunkerConfig, error) {
	hash, err := chunker.ParseHashKind(c.Chunking.HashAlgorithm)
	if err != nil {
		return chunker.ChunkerConfig{}, err
	}
	return chunker.ChunkerConfig{
		MinSize:           c.Chunking.MinSize,
		AvgSize:           c.Chunking.AvgSize,
		MaxSize:           c.Chunking.MaxSize,
		Hash:              hash,
		ParallelThreshold: c.Chunking.ParallelThreshold,
		ParallelBlockSize: c.Chunking.ParallelBlockSize,
	}, nil
}

// AdaptiveSizer builds a chunker.TransferRateSizer from
// Chunking.Adaptive when it is enabled, for wiring into
// pipeline.Config.Adaptive. It returns (nil, nil) when disabled.
func (c *Config) AdaptiveSizer() (*chunker.TransferRateSizer, error) {
	if !c.Chunking.Adaptive.Enabled {
		return nil, nil
	}
	a := c.Chunking.Adaptive
	targetSeconds := a.TargetSeconds
	if targetSeconds <= 0 {
		targetSeconds = 8
	}
	return chunker.NewTransferRateSizer(chunker.SizingConfig{
		MinChunkSize:   a.AbsoluteMin,
		MaxChunkSize:   a.AbsoluteMax,
		StartChunkSize: a.InitialSize,
		TargetDuration: time.Duration(targetSeconds) * time.Second,
		ProbeSize:      a.Probe.Size,
		ProbeTimeout:   a.Probe.Timeout,
	}), nil
}

// WalkerOptions builds a walker.Options from this configuration. set may be
// nil, in which case nothing is ignored.
func (c *Config) WalkerOptions(set *ignore.Set) walker.Options {
	return walker.Options{
		MaxDepth:       c.Walker.MaxDepth,
		FollowSymlinks: c.Walker.FollowSymlinks,
		Ignore:         set,
		MinSize:        c.Walker.MinSizeBytes,
		MaxSize:        c.Walker.MaxSizeBytes,
		MinAge:         c.Walker.MinAge,
		MaxAge:         c.Walker.MaxAge,
		IncludeHidden:  c.Walker.IncludeHidden,
		QueueCapacity:  c.Walker.QueueCapacity,
		Workers:        c.Walker.Workers,
	}
}

// IgnoreSet builds an ignore.Set from Walker.Root and Walker.IgnorePatterns.
func (c *Config) IgnoreSet() (*ignore.Set, error) {
	return ignore.NewSet(c.Walker.Root, c.Walker.IgnorePatterns)
}

// SamplerConfig builds a sampler.Config from this configuration.
func (c *Config) SamplerConfig() (sampler.Config, error) {
	hash, err := chunker.ParseHashKind(c.Sampling.HashAlgorithm)
	if err != nil {
		return sampler.Config{}, err
	}
	return sampler.Config{
		SampleSize: c.Sampling.SampleSize,
		K:          c.Sampling.K,
		Hash:       hash,
	}, nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}
