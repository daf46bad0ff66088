package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete planloop configuration
type Config struct {
	Oracle   OracleConfig   `mapstructure:"oracle"`
	Loop     LoopConfig     `mapstructure:"loop"`
	Manual   ManualConfig   `mapstructure:"manual"`
	Personas PersonasConfig `mapstructure:"personas"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// OracleConfig controls how the judge/rewrite oracle is invoked
type OracleConfig struct {
	// Backend selects the oracle CLI adapter (default: "codex")
	// Options: "codex", "custom"
	Backend string `mapstructure:"backend"`
	// Command is the argv template for the "custom" backend. The prompt is
	// always piped on stdin; occurrences of {schema} are replaced with the
	// response schema path and {model} with the configured model.
	Command []string `mapstructure:"command"`
	// Model is the model identifier passed to the backend (default: "gpt-5.3-codex")
	// An empty string omits the model flag entirely.
	Model string `mapstructure:"model"`
	// TimeoutSeconds is the per-call deadline for auto-lane oracle calls (default: 1200)
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	// Retries is how many times a failed auto call is reattempted before the
	// failure is surfaced (default: 2). Only retryable failures are retried.
	Retries int `mapstructure:"retries"`
	// RetryBackoffSeconds is the pause between auto-call retries (default: 5)
	RetryBackoffSeconds int `mapstructure:"retry_backoff_seconds"`
}

// LoopConfig controls the judge/rewrite loop itself
type LoopConfig struct {
	// Mode is the invocation mode: "auto", "manual", or "hybrid" (default: "hybrid")
	// Hybrid starts on the auto lane and falls back to manual permanently when
	// the auto oracle is unavailable.
	Mode string `mapstructure:"mode"`
	// MaxRounds is the round ceiling for a run (default: 999)
	MaxRounds int `mapstructure:"max_rounds"`
	// NoCap disables the round ceiling entirely (default: false)
	NoCap bool `mapstructure:"no_cap"`
	// FixHistoryLimit caps how many applied fixes are retained in state (default: 80)
	FixHistoryLimit int `mapstructure:"fix_history_limit"`
	// FixHistoryInPrompt is how many recent fixes are surfaced to the judge (default: 8)
	FixHistoryInPrompt int `mapstructure:"fix_history_in_prompt"`
}

// ManualConfig controls the manual handoff lane
type ManualConfig struct {
	// PollSeconds is how often the output file is checked for changes (default: 3)
	PollSeconds int `mapstructure:"poll_seconds"`
	// NoticeEveryTicks prints a waiting reminder every N polls (default: 10)
	NoticeEveryTicks int `mapstructure:"notice_every_ticks"`
}

// PersonasConfig controls prompt persona overrides
type PersonasConfig struct {
	// File is an optional YAML file overriding the built-in judge/rewrite
	// personas. Empty means use the built-ins.
	File string `mapstructure:"file"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of backup log files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups"`
	// Compress gzips rotated log files (default: false)
	Compress bool `mapstructure:"compress"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Oracle: OracleConfig{
			Backend:             "codex",
			Command:             []string{},
			Model:               "gpt-5.3-codex",
			TimeoutSeconds:      1200, // 20 minutes per oracle call
			Retries:             2,
			RetryBackoffSeconds: 5,
		},
		Loop: LoopConfig{
			Mode:               "hybrid",
			MaxRounds:          999,
			NoCap:              false,
			FixHistoryLimit:    80,
			FixHistoryInPrompt: 8,
		},
		Manual: ManualConfig{
			PollSeconds:      3,
			NoticeEveryTicks: 10,
		},
		Personas: PersonasConfig{
			File: "",
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			Compress:   false,
		},
	}
}

// Timeout returns the oracle call timeout as a time.Duration
func (c *OracleConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RetryBackoff returns the retry pause as a time.Duration
func (c *OracleConfig) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffSeconds) * time.Second
}

// PollInterval returns the manual-lane poll interval as a time.Duration
func (c *ManualConfig) PollInterval() time.Duration {
	return time.Duration(c.PollSeconds) * time.Second
}

// EffectiveMaxRounds returns the round ceiling, or a practically unbounded
// value when NoCap is set.
func (c *LoopConfig) EffectiveMaxRounds() int {
	if c.NoCap {
		return 1 << 30
	}
	return c.MaxRounds
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Oracle defaults
	viper.SetDefault("oracle.backend", defaults.Oracle.Backend)
	viper.SetDefault("oracle.command", defaults.Oracle.Command)
	viper.SetDefault("oracle.model", defaults.Oracle.Model)
	viper.SetDefault("oracle.timeout_seconds", defaults.Oracle.TimeoutSeconds)
	viper.SetDefault("oracle.retries", defaults.Oracle.Retries)
	viper.SetDefault("oracle.retry_backoff_seconds", defaults.Oracle.RetryBackoffSeconds)

	// Loop defaults
	viper.SetDefault("loop.mode", defaults.Loop.Mode)
	viper.SetDefault("loop.max_rounds", defaults.Loop.MaxRounds)
	viper.SetDefault("loop.no_cap", defaults.Loop.NoCap)
	viper.SetDefault("loop.fix_history_limit", defaults.Loop.FixHistoryLimit)
	viper.SetDefault("loop.fix_history_in_prompt", defaults.Loop.FixHistoryInPrompt)

	// Manual defaults
	viper.SetDefault("manual.poll_seconds", defaults.Manual.PollSeconds)
	viper.SetDefault("manual.notice_every_ticks", defaults.Manual.NoticeEveryTicks)

	// Personas defaults
	viper.SetDefault("personas.file", defaults.Personas.File)

	// Logging defaults
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	viper.SetDefault("logging.compress", defaults.Logging.Compress)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Validate the configuration
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "planloop")
	}
	// Fall back to ~/.config/planloop
	home, err := os.UserHomeDir()
	if err != nil {
		return ".planloop"
	}
	return filepath.Join(home, ".config", "planloop")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// Invocation modes. Auto and hybrid runs start on the auto lane; manual
// runs never touch the oracle CLI.
const (
	ModeAuto   = "auto"
	ModeManual = "manual"
	ModeHybrid = "hybrid"
)

// ValidModes returns the list of valid invocation mode values
func ValidModes() []string {
	return []string{ModeAuto, ModeManual, ModeHybrid}
}

// IsValidMode checks if the given mode is valid
func IsValidMode(mode string) bool {
	for _, valid := range ValidModes() {
		if mode == valid {
			return true
		}
	}
	return false
}

// ValidBackends returns the list of valid oracle backend values
func ValidBackends() []string {
	return []string{"codex", "custom"}
}

// IsValidBackend checks if the given backend is valid
func IsValidBackend(backend string) bool {
	for _, valid := range ValidBackends() {
		if backend == valid {
			return true
		}
	}
	return false
}
