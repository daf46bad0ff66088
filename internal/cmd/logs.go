package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/planloop/internal/errors"
	"github.com/Iron-Ham/planloop/internal/logging"
	"github.com/Iron-Ham/planloop/internal/plan"
	"github.com/Iron-Ham/planloop/internal/state"
)

var logsCmd = &cobra.Command{
	Use:   "logs <plan.md>",
	Short: "View the structured loop log for a plan",
	Long: `View and filter the structured log the loop writes while it runs.

By default, shows the last 50 entries. Use flags to filter and format
the output.

Examples:
  # Show the last 50 entries
  planloop logs plan.md

  # Show everything from a specific run
  planloop logs plan.md --run run_20250101_120000 -n 0

  # Follow the log in real-time
  planloop logs plan.md -f

  # Only warnings and errors from the judge phase
  planloop logs plan.md --level warn --phase judge

  # Entries from the last hour mentioning the oracle
  planloop logs plan.md --since 1h --grep oracle

  # Export matching entries for offline analysis
  planloop logs plan.md --round 3 --export round3.csv --format csv`,
	Args: cobra.ExactArgs(1),
	RunE: runLogs,
}

var (
	logsTail   int
	logsFollow bool
	logsLevel  string
	logsSince  string
	logsRun    string
	logsRound  int
	logsLane   string
	logsPhase  string
	logsGrep   string
	logsExport string
	logsFormat string
)

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 50, "Number of entries to show (0 for all)")
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow log output (like tail -f)")
	logsCmd.Flags().StringVar(&logsLevel, "level", "", "Filter by minimum level (debug/info/warn/error)")
	logsCmd.Flags().StringVar(&logsSince, "since", "", "Show entries since duration ago (e.g., 1h, 30m)")
	logsCmd.Flags().StringVar(&logsRun, "run", "", "Filter by run ID")
	logsCmd.Flags().IntVar(&logsRound, "round", 0, "Filter by round number")
	logsCmd.Flags().StringVar(&logsLane, "lane", "", "Filter by lane (auto/manual)")
	logsCmd.Flags().StringVar(&logsPhase, "phase", "", "Filter by phase (judge/rewrite)")
	logsCmd.Flags().StringVar(&logsGrep, "grep", "", "Filter by message substring")
	logsCmd.Flags().StringVar(&logsExport, "export", "", "Write matching entries to a file instead of stdout")
	logsCmd.Flags().StringVar(&logsFormat, "format", "text", "Export format (json/text/csv)")
}

// ANSI color codes for terminal output
const (
	colorReset  = "\033[0m"
	colorGray   = "\033[90m"
	colorBlue   = "\033[34m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
	colorCyan   = "\033[36m"
)

// levelColor returns the ANSI color code for a log level
func levelColor(level string) string {
	switch strings.ToUpper(level) {
	case logging.LevelDebug:
		return colorGray
	case logging.LevelInfo:
		return colorBlue
	case logging.LevelWarn:
		return colorYellow
	case logging.LevelError:
		return colorRed
	default:
		return colorReset
	}
}

// formatLogEntry formats a log entry for terminal output
func formatLogEntry(entry logging.LogEntry) string {
	var sb strings.Builder

	// Timestamp
	sb.WriteString(colorGray)
	sb.WriteString("[")
	sb.WriteString(entry.Timestamp.Format("15:04:05.000"))
	sb.WriteString("]")
	sb.WriteString(colorReset)

	// Level with color
	sb.WriteString(" ")
	sb.WriteString(levelColor(entry.Level))
	sb.WriteString("[")
	sb.WriteString(strings.ToUpper(entry.Level))
	sb.WriteString("]")
	sb.WriteString(colorReset)

	// Message
	sb.WriteString(" ")
	sb.WriteString(entry.Message)

	// Context fields (run, round, lane, phase)
	if entry.RunID != "" {
		sb.WriteString(contextField("run_id", entry.RunID))
	}
	if entry.Round > 0 {
		sb.WriteString(contextField("round", strconv.Itoa(entry.Round)))
	}
	if entry.Lane != "" {
		sb.WriteString(contextField("lane", entry.Lane))
	}
	if entry.Phase != "" {
		sb.WriteString(contextField("phase", entry.Phase))
	}

	// Extra fields
	for key, value := range entry.Attrs {
		sb.WriteString(contextField(key, fmt.Sprintf("%v", value)))
	}

	return sb.String()
}

func contextField(key, value string) string {
	return " " + colorCyan + key + "=" + colorReset + value
}

func runLogs(cmd *cobra.Command, args []string) error {
	planPath, err := plan.Resolve(args[0])
	if err != nil {
		return err
	}
	layout := state.NewLayout(planPath)

	filter := logging.LogFilter{
		RunID:           logsRun,
		Round:           logsRound,
		Lane:            logsLane,
		Phase:           logsPhase,
		MessageContains: logsGrep,
	}
	if logsLevel != "" {
		filter.Level = logging.ParseLevel(logsLevel)
	}
	if logsSince != "" {
		duration, err := time.ParseDuration(logsSince)
		if err != nil {
			return fmt.Errorf("invalid duration format: %w", err)
		}
		filter.StartTime = time.Now().Add(-duration)
	}

	// Follow mode
	if logsFollow {
		return followLogs(filepath.Join(layout.StateDir(), logging.LogFileName), filter)
	}

	entries, err := logging.AggregateLogs(layout.StateDir())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Println("No logs for this plan yet")
			return nil
		}
		return err
	}

	entries = logging.FilterLogs(entries, filter)

	// Export mode writes to a file instead of the terminal
	if logsExport != "" {
		if err := logging.ExportLogEntries(entries, logsExport, logsFormat); err != nil {
			return err
		}
		fmt.Printf("Exported %d entries to %s\n", len(entries), logsExport)
		return nil
	}

	// Apply tail limit
	if logsTail > 0 && len(entries) > logsTail {
		entries = entries[len(entries)-logsTail:]
	}

	if len(entries) == 0 {
		fmt.Println("No matching log entries found.")
		return nil
	}

	for _, entry := range entries {
		fmt.Println(formatLogEntry(entry))
	}

	return nil
}

// followLogs implements tail -f behavior for the log file
func followLogs(logPath string, filter logging.LogFilter) error {
	file, err := os.Open(logPath)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer file.Close()

	// Seek to end of file
	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("failed to seek to end: %w", err)
	}

	fmt.Printf("Following logs... (Ctrl+C to stop)\n\n")

	reader := bufio.NewReader(file)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				// No new data, wait briefly and try again
				time.Sleep(100 * time.Millisecond)
				continue
			}
			return fmt.Errorf("error reading log file: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		entry, err := logging.ParseEntry(line)
		if err != nil {
			// If we can't parse as JSON, display raw line
			fmt.Println(line)
			continue
		}

		if kept := logging.FilterLogs([]logging.LogEntry{entry}, filter); len(kept) == 0 {
			continue
		}

		fmt.Println(formatLogEntry(entry))
	}
}
