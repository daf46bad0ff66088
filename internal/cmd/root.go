// Package cmd wires the planloop command tree: run, resume, status,
// stop, report, logs, and watch.
package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/planloop/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "planloop",
	Short: "Judge/rewrite loop that audits a Markdown plan until it passes",
	Long: `planloop drives an oracle-backed review loop over a Markdown plan.

Each round a judge audits the current plan text and returns a structured
verdict. A clean verdict approves the plan; a failing one feeds a rewrite
step that produces a revised plan for the next round. The loop ends on a
strict pass, on the round ceiling, or on a stop request, and archives
every round's prompts, raw outputs, and results next to the plan.`,
	SilenceUsage: true,
}

// exitCode is set by commands that drive a loop to a terminal status.
// Everything that fails before a loop starts returns an error instead,
// which Execute maps to 1.
var exitCode int

// Execute runs the root command and returns the process exit code:
// 0 passed, 2 exhausted, 3 aborted, 130 aborted by an interrupt or a
// stop request, 1 for usage and configuration errors.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		return 1
	}
	return exitCode
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $XDG_CONFIG_HOME/planloop/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("PLANLOOP")
	// Replace dots with underscores for nested keys in env vars
	// e.g., PLANLOOP_LOOP_MAX_ROUNDS for loop.max_rounds
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
