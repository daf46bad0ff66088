package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/planloop/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or modify planloop configuration",
	Long: `View or modify planloop configuration.

Without arguments, displays the current configuration.
Use subcommands to modify settings or create a config file.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the user's config file.

Keys use dot notation, e.g.:
  planloop config set loop.mode auto
  planloop config set loop.max_rounds 50
  planloop config set oracle.model gpt-5.3-codex

Valid keys:
  oracle.backend               - Oracle CLI adapter (codex, custom)
  oracle.model                 - Model identifier passed to the backend
  oracle.timeout_seconds       - Per-call deadline for auto-lane calls
  oracle.retries               - Retry budget for retryable oracle failures
  oracle.retry_backoff_seconds - Pause between oracle retries
  loop.mode                    - Invocation mode (auto, hybrid, manual)
  loop.max_rounds              - Round ceiling for a run
  loop.no_cap                  - Disable the round ceiling (true/false)
  loop.fix_history_limit       - Applied fixes retained in state
  loop.fix_history_in_prompt   - Recent fixes surfaced to the judge
  manual.poll_seconds          - Manual-lane response poll interval
  manual.notice_every_ticks    - Waiting reminder cadence in polls
  personas.file                - YAML file overriding built-in personas
  logging.level                - Log level (debug, info, warn, error)
  logging.max_size_mb          - Log size before rotation
  logging.max_backups          - Rotated log files to keep
  logging.compress             - Gzip rotated logs (true/false)`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at $XDG_CONFIG_HOME/planloop/config.yaml with all available options.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg := config.Get()

	fmt.Println("Current configuration:")
	fmt.Println()

	// Show where config is being read from
	if viper.ConfigFileUsed() != "" {
		fmt.Printf("Config file: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Printf("Config file: (none - using defaults)\n")
	}
	fmt.Println()

	fmt.Println("oracle:")
	fmt.Printf("  backend: %s\n", cfg.Oracle.Backend)
	if len(cfg.Oracle.Command) > 0 {
		fmt.Printf("  command: %s\n", strings.Join(cfg.Oracle.Command, " "))
	}
	fmt.Printf("  model: %s\n", cfg.Oracle.Model)
	fmt.Printf("  timeout_seconds: %d\n", cfg.Oracle.TimeoutSeconds)
	fmt.Printf("  retries: %d\n", cfg.Oracle.Retries)
	fmt.Printf("  retry_backoff_seconds: %d\n", cfg.Oracle.RetryBackoffSeconds)

	fmt.Println("loop:")
	fmt.Printf("  mode: %s\n", cfg.Loop.Mode)
	fmt.Printf("  max_rounds: %d\n", cfg.Loop.MaxRounds)
	fmt.Printf("  no_cap: %v\n", cfg.Loop.NoCap)
	fmt.Printf("  fix_history_limit: %d\n", cfg.Loop.FixHistoryLimit)
	fmt.Printf("  fix_history_in_prompt: %d\n", cfg.Loop.FixHistoryInPrompt)

	fmt.Println("manual:")
	fmt.Printf("  poll_seconds: %d\n", cfg.Manual.PollSeconds)
	fmt.Printf("  notice_every_ticks: %d\n", cfg.Manual.NoticeEveryTicks)

	fmt.Println("personas:")
	if cfg.Personas.File != "" {
		fmt.Printf("  file: %s\n", cfg.Personas.File)
	} else {
		fmt.Printf("  file: (built-in personas)\n")
	}

	fmt.Println("logging:")
	fmt.Printf("  level: %s\n", cfg.Logging.Level)
	fmt.Printf("  max_size_mb: %d\n", cfg.Logging.MaxSizeMB)
	fmt.Printf("  max_backups: %d\n", cfg.Logging.MaxBackups)
	fmt.Printf("  compress: %v\n", cfg.Logging.Compress)

	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	value := args[1]

	// Validate the key exists
	validKeys := map[string]string{
		"oracle.backend":               "string",
		"oracle.model":                 "string",
		"oracle.timeout_seconds":       "int",
		"oracle.retries":               "int",
		"oracle.retry_backoff_seconds": "int",
		"loop.mode":                    "string",
		"loop.max_rounds":              "int",
		"loop.no_cap":                  "bool",
		"loop.fix_history_limit":       "int",
		"loop.fix_history_in_prompt":   "int",
		"manual.poll_seconds":          "int",
		"manual.notice_every_ticks":    "int",
		"personas.file":                "string",
		"logging.level":                "string",
		"logging.max_size_mb":          "int",
		"logging.max_backups":          "int",
		"logging.compress":             "bool",
	}

	keyType, ok := validKeys[key]
	if !ok {
		return fmt.Errorf("unknown configuration key: %s\nRun 'planloop config set --help' to see valid keys", key)
	}

	// Validate the value based on type
	var typedValue interface{}
	switch keyType {
	case "string":
		switch key {
		case "loop.mode":
			if !config.IsValidMode(value) {
				return fmt.Errorf("invalid value for %s: %s\nValid options: %s",
					key, value, strings.Join(config.ValidModes(), ", "))
			}
		case "oracle.backend":
			if !config.IsValidBackend(value) {
				return fmt.Errorf("invalid value for %s: %s\nValid options: %s",
					key, value, strings.Join(config.ValidBackends(), ", "))
			}
		case "logging.level":
			if !isValidLogLevel(value) {
				return fmt.Errorf("invalid value for %s: %s\nValid options: %s",
					key, value, strings.Join(config.ValidLogLevels(), ", "))
			}
		}
		typedValue = value
	case "bool":
		if value != "true" && value != "false" {
			return fmt.Errorf("invalid value for %s: expected true or false", key)
		}
		typedValue = value == "true"
	case "int":
		intVal, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for %s: expected integer", key)
		}
		if intVal < 0 {
			return fmt.Errorf("invalid value for %s: must be non-negative", key)
		}
		typedValue = intVal
	}

	// Ensure config directory exists
	configDir := config.ConfigDir()
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Set the value in viper
	viper.Set(key, typedValue)

	// Write to config file
	configFile := config.ConfigFile()
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Printf("Set %s = %v\n", key, typedValue)
	fmt.Printf("Config saved to %s\n", configFile)

	return nil
}

func isValidLogLevel(level string) bool {
	for _, valid := range config.ValidLogLevels() {
		if strings.EqualFold(level, valid) {
			return true
		}
	}
	return false
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	configDir := config.ConfigDir()
	configFile := config.ConfigFile()

	// Check if config file already exists
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s\nUse 'planloop config set' to modify values", configFile)
	}

	// Create config directory
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Generate a commented config file
	configContent := `# planloop configuration

# Oracle backend settings
oracle:
  # Oracle CLI adapter: codex or custom
  backend: codex
  # Model identifier passed to the backend
  model: gpt-5.3-codex
  # Per-call deadline for auto-lane oracle calls, in seconds
  timeout_seconds: 1200
  # Retry budget for retryable oracle failures
  retries: 2
  # Pause between oracle retries, in seconds
  retry_backoff_seconds: 5

# Loop settings
loop:
  # Invocation mode: auto, hybrid, or manual
  mode: hybrid
  # Round ceiling before the loop gives up
  max_rounds: 999
  # Disable the round ceiling entirely
  no_cap: false
  # Applied fixes retained in state
  fix_history_limit: 80
  # Recent fixes surfaced to the judge and rewrite prompts
  fix_history_in_prompt: 8

# Manual handoff lane settings
manual:
  # How often the awaited response file is checked, in seconds
  poll_seconds: 3
  # Print a waiting reminder every N polls
  notice_every_ticks: 10

# Prompt persona overrides
personas:
  # YAML file overriding the built-in judge/rewrite personas (empty = built-ins)
  file: ""

# Debug log settings
logging:
  # Log level: debug, info, warn, error
  level: info
  # Maximum log file size in megabytes before rotation
  max_size_mb: 10
  # Number of rotated log files to keep
  max_backups: 3
  # Gzip rotated log files
  compress: false
`

	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Printf("Created config file at %s\n", configFile)
	fmt.Println("Edit this file to customize planloop's behavior.")

	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	configFile := config.ConfigFile()

	if viper.ConfigFileUsed() != "" {
		fmt.Printf("Active config: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Printf("Default path: %s (not created)\n", configFile)
	}

	// Also show config search paths
	fmt.Println("\nSearch paths:")
	fmt.Printf("  1. %s\n", config.ConfigFile())
	fmt.Printf("  2. ./config.yaml (current directory)\n")
	fmt.Println("\nEnvironment variables: PLANLOOP_* (e.g., PLANLOOP_LOOP_MAX_ROUNDS)")

	return nil
}
