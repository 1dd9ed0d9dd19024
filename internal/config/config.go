// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"firestige.xyz/festats/internal/core"
	"firestige.xyz/festats/internal/core/decay"
)

// GlobalConfig is the whole configuration, found under the `festats:` root key.
type GlobalConfig struct {
	Engine    EngineConfig     `mapstructure:"engine" yaml:"engine"`
	Source    SourceConfig     `mapstructure:"source" yaml:"source"`
	Reporters []ReporterConfig `mapstructure:"reporters" yaml:"reporters"`
	Metrics   MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
	Log       LogConfig        `mapstructure:"log" yaml:"log"`
}

// ─── Engine ───

// EngineConfig controls dispatch and the statistics kept per flow key.
type EngineConfig struct {
	Workers       int    `mapstructure:"workers" yaml:"workers"`   // 0 = GOMAXPROCS
	Dispatch      string `mapstructure:"dispatch" yaml:"dispatch"` // flow-hash | round-robin
	QueueCapacity int    `mapstructure:"queue_capacity" yaml:"queue_capacity"`

	// Decay rates in 1/s, one per window.
	Lambdas []float64 `mapstructure:"lambdas" yaml:"lambdas"`
	// Packet sizes are multiplied by this before entering the accumulators.
	MeasurementScale float64 `mapstructure:"measurement_scale" yaml:"measurement_scale"`
	// What to do with an observation older than its stream: reject | resync
	RegressionPolicy string `mapstructure:"regression_policy" yaml:"regression_policy"`

	Table TableConfig `mapstructure:"table" yaml:"table"`
}

// TableConfig bounds each flow table.
type TableConfig struct {
	MaxEntries      int    `mapstructure:"max_entries" yaml:"max_entries"`
	IdleTimeout     string `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	CleanupInterval string `mapstructure:"cleanup_interval" yaml:"cleanup_interval"`
}

// ─── Source ───

// SourceConfig selects where packets come from.
type SourceConfig struct {
	Type      string `mapstructure:"type" yaml:"type"`           // pcap | afpacket
	Path      string `mapstructure:"path" yaml:"path"`           // pcap file
	Interface string `mapstructure:"interface" yaml:"interface"` // afpacket
	BPFFilter string `mapstructure:"bpf_filter" yaml:"bpf_filter"`
	SnapLen   int    `mapstructure:"snap_len" yaml:"snap_len"`
	// afpacket ring and fanout
	BlockSizeMB int    `mapstructure:"block_size_mb" yaml:"block_size_mb"`
	NumBlocks   int    `mapstructure:"num_blocks" yaml:"num_blocks"`
	FanoutGroup int    `mapstructure:"fanout_group" yaml:"fanout_group"` // 0 = no fanout
	FanoutMode  string `mapstructure:"fanout_mode" yaml:"fanout_mode"`   // hash | lb | cpu
}

// ─── Reporters ───

// ReporterConfig names a reporter type and its type-specific settings.
type ReporterConfig struct {
	Type   string         `mapstructure:"type" yaml:"type"`
	Config map[string]any `mapstructure:"config" yaml:"config,omitempty"`
	// Fallback receives the vectors this reporter fails to deliver.
	Fallback *ReporterConfig `mapstructure:"fallback" yaml:"fallback,omitempty"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level" yaml:"level"`   // debug / info / warn / error
	Format  string           `mapstructure:"format" yaml:"format"` // json / text
	Outputs LogOutputsConfig `mapstructure:"outputs" yaml:"outputs"`
}

// LogOutputsConfig contains log output destinations besides stdout.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file" yaml:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled" yaml:"enabled"`
	Path     string         `mapstructure:"path" yaml:"path"`
	Rotation RotationConfig `mapstructure:"rotation" yaml:"rotation"`
}

// RotationConfig configures file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days" yaml:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups" yaml:"max_backups"`
	Compress   bool `mapstructure:"compress" yaml:"compress"`
}

// ─── Loading ───

const rootKey = "festats"

// configRoot is the top-level wrapper matching the YAML structure `festats: ...`.
type configRoot struct {
	Festats GlobalConfig `mapstructure:"festats" yaml:"festats"`
}

// Load loads configuration from file. An empty path yields the defaults.
// Env vars override file values through the key path, e.g.
// FESTATS_ENGINE_WORKERS for festats.engine.workers.
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Festats

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// setDefaults sets default values under the festats. prefix.
func setDefaults(v *viper.Viper) {
	// Engine defaults
	v.SetDefault("festats.engine.workers", 1)
	v.SetDefault("festats.engine.dispatch", "flow-hash")
	v.SetDefault("festats.engine.queue_capacity", 4096)
	v.SetDefault("festats.engine.lambdas", decay.DefaultLambdas.Floats())
	v.SetDefault("festats.engine.measurement_scale", 0.001)
	v.SetDefault("festats.engine.regression_policy", "reject")
	v.SetDefault("festats.engine.table.max_entries", 1_000_000)
	v.SetDefault("festats.engine.table.idle_timeout", "5m")
	v.SetDefault("festats.engine.table.cleanup_interval", "30s")

	// Source defaults
	v.SetDefault("festats.source.type", "pcap")
	v.SetDefault("festats.source.snap_len", 65535)
	v.SetDefault("festats.source.block_size_mb", 4)
	v.SetDefault("festats.source.num_blocks", 64)
	v.SetDefault("festats.source.fanout_mode", "hash")

	v.SetDefault("festats.reporters", []map[string]any{{"type": "console"}})

	// Metrics defaults
	v.SetDefault("festats.metrics.enabled", true)
	v.SetDefault("festats.metrics.listen", ":9091")
	v.SetDefault("festats.metrics.path", "/metrics")

	// Log defaults
	v.SetDefault("festats.log.level", "info")
	v.SetDefault("festats.log.format", "json")
	v.SetDefault("festats.log.outputs.file.enabled", false)
	v.SetDefault("festats.log.outputs.file.path", "/var/log/festats/festats.log")
	v.SetDefault("festats.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("festats.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("festats.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("festats.log.outputs.file.rotation.compress", true)
}

// Default returns the configuration used when no file is given.
func Default() *GlobalConfig {
	cfg, err := Load("")
	if err != nil {
		// defaults are static and always valid
		panic(err)
	}
	return cfg
}

// DefaultYAML renders the default configuration as a YAML document.
func DefaultYAML() ([]byte, error) {
	v := viper.New()
	setDefaults(v)
	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, err
	}
	return yaml.Marshal(&root)
}

// ValidateAndApplyDefaults validates configuration and applies runtime defaults.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("%w: invalid log level: %s (must be debug/info/warn/error)", core.ErrConfigInvalid, cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("%w: invalid log format: %s (must be json/text)", core.ErrConfigInvalid, cfg.Log.Format)
	}
	if cfg.Log.Outputs.File.Enabled && cfg.Log.Outputs.File.Path == "" {
		return fmt.Errorf("%w: log.outputs.file.path is required when file output is enabled", core.ErrConfigInvalid)
	}

	if err := cfg.Engine.validate(); err != nil {
		return err
	}
	if err := cfg.Source.validate(); err != nil {
		return err
	}

	// ── Reporters ──
	if len(cfg.Reporters) == 0 {
		return fmt.Errorf("%w: at least one reporter is required", core.ErrConfigInvalid)
	}
	for i, r := range cfg.Reporters {
		if r.Type == "" {
			return fmt.Errorf("%w: reporters[%d]: type is required", core.ErrConfigInvalid, i)
		}
		if r.Fallback != nil && r.Fallback.Type == "" {
			return fmt.Errorf("%w: reporters[%d].fallback: type is required", core.ErrConfigInvalid, i)
		}
	}

	// ── Metrics ──
	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		return fmt.Errorf("%w: metrics.listen is required when metrics are enabled", core.ErrConfigInvalid)
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	return nil
}

func (e *EngineConfig) validate() error {
	if e.Workers < 0 {
		return fmt.Errorf("%w: engine.workers must be >= 0", core.ErrConfigInvalid)
	}
	if e.Workers == 0 {
		e.Workers = runtime.GOMAXPROCS(0)
	}
	if e.Dispatch != "flow-hash" && e.Dispatch != "round-robin" {
		return fmt.Errorf("%w: engine.dispatch must be 'flow-hash' or 'round-robin', got %q", core.ErrConfigInvalid, e.Dispatch)
	}
	if e.QueueCapacity <= 0 {
		e.QueueCapacity = 4096
	}
	if _, err := decay.LambdasFromFloats(e.Lambdas); err != nil {
		return fmt.Errorf("engine.lambdas: %w", err)
	}
	if e.MeasurementScale <= 0 {
		return fmt.Errorf("%w: engine.measurement_scale must be > 0", core.ErrConfigInvalid)
	}
	if e.RegressionPolicy != "reject" && e.RegressionPolicy != "resync" {
		return fmt.Errorf("%w: engine.regression_policy must be 'reject' or 'resync', got %q", core.ErrConfigInvalid, e.RegressionPolicy)
	}
	if e.Table.MaxEntries <= 0 {
		return fmt.Errorf("%w: engine.table.max_entries must be > 0", core.ErrConfigInvalid)
	}
	if _, err := parsePositive("engine.table.idle_timeout", e.Table.IdleTimeout); err != nil {
		return err
	}
	if _, err := parsePositive("engine.table.cleanup_interval", e.Table.CleanupInterval); err != nil {
		return err
	}
	return nil
}

// ParsedLambdas returns the validated decay rates in fixed point.
func (e *EngineConfig) ParsedLambdas() decay.Lambdas {
	l, err := decay.LambdasFromFloats(e.Lambdas)
	if err != nil {
		return decay.DefaultLambdas
	}
	return l
}

// IdleTimeoutDuration returns the parsed table idle timeout.
func (t TableConfig) IdleTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(t.IdleTimeout)
	return d
}

// CleanupIntervalDuration returns the parsed janitor interval.
func (t TableConfig) CleanupIntervalDuration() time.Duration {
	d, _ := time.ParseDuration(t.CleanupInterval)
	return d
}

func parsePositive(key, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", core.ErrConfigInvalid, key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%w: %s must be > 0", core.ErrConfigInvalid, key)
	}
	return d, nil
}

func (s *SourceConfig) validate() error {
	switch s.Type {
	case "pcap":
		// path may come from the command line
	case "afpacket":
		if s.Interface == "" {
			return fmt.Errorf("%w: source.interface is required for afpacket", core.ErrConfigInvalid)
		}
	default:
		return fmt.Errorf("%w: source.type must be 'pcap' or 'afpacket', got %q", core.ErrConfigInvalid, s.Type)
	}
	if s.SnapLen <= 0 {
		s.SnapLen = 65535
	}
	switch s.FanoutMode {
	case "", "hash", "lb", "cpu":
	default:
		return fmt.Errorf("%w: source.fanout_mode must be hash/lb/cpu, got %q", core.ErrConfigInvalid, s.FanoutMode)
	}
	return nil
}
