package config

import (
	"fmt"
	"os"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "oracle.timeout_seconds")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	// Validate Oracle config
	errors = append(errors, c.validateOracle()...)

	// Validate Loop config
	errors = append(errors, c.validateLoop()...)

	// Validate Manual config
	errors = append(errors, c.validateManual()...)

	// Validate Personas config
	errors = append(errors, c.validatePersonas()...)

	// Validate Logging config
	errors = append(errors, c.validateLogging()...)

	return errors
}

// validateOracle validates the OracleConfig
func (c *Config) validateOracle() []ValidationError {
	var errors []ValidationError

	if c.Oracle.Backend != "" && !IsValidBackend(c.Oracle.Backend) {
		errors = append(errors, ValidationError{
			Field:   "oracle.backend",
			Value:   c.Oracle.Backend,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidBackends(), ", ")),
		})
	}

	// The custom backend has no built-in argv, so a command is required
	if c.Oracle.Backend == "custom" && len(c.Oracle.Command) == 0 {
		errors = append(errors, ValidationError{
			Field:   "oracle.command",
			Value:   c.Oracle.Command,
			Message: "cannot be empty when backend is 'custom'",
		})
	}

	// Timeout validation
	const minTimeoutSeconds = 1
	const maxTimeoutSeconds = 86400 // 24 hours

	if c.Oracle.TimeoutSeconds < minTimeoutSeconds {
		errors = append(errors, ValidationError{
			Field:   "oracle.timeout_seconds",
			Value:   c.Oracle.TimeoutSeconds,
			Message: fmt.Sprintf("must be at least %d second", minTimeoutSeconds),
		})
	}
	if c.Oracle.TimeoutSeconds > maxTimeoutSeconds {
		errors = append(errors, ValidationError{
			Field:   "oracle.timeout_seconds",
			Value:   c.Oracle.TimeoutSeconds,
			Message: fmt.Sprintf("exceeds maximum of %d seconds (24h)", maxTimeoutSeconds),
		})
	}

	// Retry validation
	const maxRetries = 10
	if c.Oracle.Retries < 0 {
		errors = append(errors, ValidationError{
			Field:   "oracle.retries",
			Value:   c.Oracle.Retries,
			Message: "must be non-negative (0 disables retries)",
		})
	}
	if c.Oracle.Retries > maxRetries {
		errors = append(errors, ValidationError{
			Field:   "oracle.retries",
			Value:   c.Oracle.Retries,
			Message: fmt.Sprintf("exceeds maximum of %d", maxRetries),
		})
	}

	if c.Oracle.RetryBackoffSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "oracle.retry_backoff_seconds",
			Value:   c.Oracle.RetryBackoffSeconds,
			Message: "must be non-negative",
		})
	}

	return errors
}

// validateLoop validates the LoopConfig
func (c *Config) validateLoop() []ValidationError {
	var errors []ValidationError

	if c.Loop.Mode != "" && !IsValidMode(c.Loop.Mode) {
		errors = append(errors, ValidationError{
			Field:   "loop.mode",
			Value:   c.Loop.Mode,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidModes(), ", ")),
		})
	}

	const minMaxRounds = 1
	const maxMaxRounds = 100000

	if c.Loop.MaxRounds < minMaxRounds {
		errors = append(errors, ValidationError{
			Field:   "loop.max_rounds",
			Value:   c.Loop.MaxRounds,
			Message: fmt.Sprintf("must be at least %d", minMaxRounds),
		})
	}
	if c.Loop.MaxRounds > maxMaxRounds {
		errors = append(errors, ValidationError{
			Field:   "loop.max_rounds",
			Value:   c.Loop.MaxRounds,
			Message: fmt.Sprintf("exceeds maximum of %d (use no_cap for unbounded runs)", maxMaxRounds),
		})
	}

	if c.Loop.FixHistoryLimit < 0 {
		errors = append(errors, ValidationError{
			Field:   "loop.fix_history_limit",
			Value:   c.Loop.FixHistoryLimit,
			Message: "must be non-negative",
		})
	}
	if c.Loop.FixHistoryInPrompt < 0 {
		errors = append(errors, ValidationError{
			Field:   "loop.fix_history_in_prompt",
			Value:   c.Loop.FixHistoryInPrompt,
			Message: "must be non-negative",
		})
	}
	if c.Loop.FixHistoryInPrompt > c.Loop.FixHistoryLimit {
		errors = append(errors, ValidationError{
			Field:   "loop.fix_history_in_prompt",
			Value:   c.Loop.FixHistoryInPrompt,
			Message: fmt.Sprintf("cannot exceed fix_history_limit (%d)", c.Loop.FixHistoryLimit),
		})
	}

	return errors
}

// validateManual validates the ManualConfig
func (c *Config) validateManual() []ValidationError {
	var errors []ValidationError

	const minPollSeconds = 1
	const maxPollSeconds = 300

	if c.Manual.PollSeconds < minPollSeconds {
		errors = append(errors, ValidationError{
			Field:   "manual.poll_seconds",
			Value:   c.Manual.PollSeconds,
			Message: fmt.Sprintf("must be at least %d second", minPollSeconds),
		})
	}
	if c.Manual.PollSeconds > maxPollSeconds {
		errors = append(errors, ValidationError{
			Field:   "manual.poll_seconds",
			Value:   c.Manual.PollSeconds,
			Message: fmt.Sprintf("exceeds maximum of %d seconds", maxPollSeconds),
		})
	}

	if c.Manual.NoticeEveryTicks < 1 {
		errors = append(errors, ValidationError{
			Field:   "manual.notice_every_ticks",
			Value:   c.Manual.NoticeEveryTicks,
			Message: "must be at least 1",
		})
	}

	return errors
}

// validatePersonas validates the PersonasConfig
func (c *Config) validatePersonas() []ValidationError {
	var errors []ValidationError

	// Validate persona file if specified
	if c.Personas.File != "" {
		if _, err := os.Stat(c.Personas.File); err != nil {
			errors = append(errors, ValidationError{
				Field:   "personas.file",
				Value:   c.Personas.File,
				Message: "file does not exist",
			})
		}
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	// Validate log level
	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	// Max size must be positive
	if c.Logging.MaxSizeMB <= 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be positive",
		})
	}

	// Reasonable upper bound for log file size
	const maxLogSizeMB = 1000 // 1GB
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	// Max backups must be non-negative
	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}
