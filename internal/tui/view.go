package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/Iron-Ham/planloop/internal/report"
	"github.com/Iron-Ham/planloop/internal/state"
)

// fixTailSize is how many recent fixes the dashboard shows.
const fixTailSize = 3

// View renders the dashboard.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("planloop watch"))
	b.WriteString("\n")
	b.WriteString(mutedStyle.Render(m.truncate(m.planPath)))
	b.WriteString("\n\n")

	if m.loadErr != nil {
		b.WriteString(errorStyle.Render("cannot read loop state: " + m.loadErr.Error()))
		b.WriteString("\n")
		b.WriteString(m.helpBar())
		return b.String()
	}

	if m.st == nil {
		b.WriteString(m.spin.View())
		b.WriteString(" ")
		b.WriteString(mutedStyle.Render("waiting for a run to start..."))
		b.WriteString("\n")
		b.WriteString(m.helpBar())
		return b.String()
	}

	b.WriteString(m.statusLine())
	b.WriteString("\n\n")
	b.WriteString(m.detailRows())

	if verdict := m.verdictLines(); verdict != "" {
		b.WriteString("\n")
		b.WriteString(verdict)
	}
	if fixes := m.fixTail(); fixes != "" {
		b.WriteString("\n")
		b.WriteString(fixes)
	}

	if m.st.StopRequested && m.st.Status == state.StatusRunning {
		b.WriteString("\n")
		b.WriteString(warnStyle.Render("stop requested, finishing the current step"))
		b.WriteString("\n")
	}
	if m.st.Error != "" {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render(m.truncate("error: " + m.st.Error)))
		b.WriteString("\n")
	}

	b.WriteString(m.helpBar())
	return b.String()
}

// statusLine is the badge plus the round counter, with the spinner while
// the run is live.
func (m Model) statusLine() string {
	var parts []string
	if m.waiting() {
		parts = append(parts, m.spin.View())
	}
	parts = append(parts, statusBadge(m.st.Status))

	round := fmt.Sprintf("round %d / %d", m.st.Round, m.st.MaxRounds)
	if m.st.NoCap {
		round = fmt.Sprintf("round %d (uncapped)", m.st.Round)
	}
	parts = append(parts, valueStyle.Render(round))

	return strings.Join(parts, " ")
}

func (m Model) detailRows() string {
	var b strings.Builder
	row := func(label, value string) {
		b.WriteString(labelStyle.Render(label))
		b.WriteString(valueStyle.Render(m.truncate(value)))
		b.WriteString("\n")
	}

	row("run", m.st.RunID)
	row("mode", fmt.Sprintf("%s (%s lane)", m.st.Mode, m.st.CurrentLane))
	row("updated", m.st.LastUpdatedAt.Format("15:04:05"))

	switch m.st.Status {
	case state.StatusPassed:
		row("approved", m.st.ApprovedPlanPath)
	case state.StatusExhausted, state.StatusAborted:
		if path := report.LatestReportPath(m.store.Layout()); path != "" {
			row("report", path)
		}
	}
	return b.String()
}

// verdictLines summarizes the most recent judge result.
func (m Model) verdictLines() string {
	v := m.st.LastResult
	if v == nil {
		return ""
	}

	var b strings.Builder
	if v.Pass {
		b.WriteString(lineStyleFor(true).Render("last verdict: pass"))
	} else {
		line := fmt.Sprintf("last verdict: fail, %d problem(s)", len(v.Problems))
		if v.Blocking {
			line += ", blocking"
		}
		b.WriteString(lineStyleFor(false).Render(line))
	}
	b.WriteString("\n")
	if v.Summary != "" {
		b.WriteString(mutedStyle.Render(m.truncate(v.Summary)))
		b.WriteString("\n")
	}
	return b.String()
}

// fixTail lists the most recently applied fixes.
func (m Model) fixTail() string {
	history := m.st.FixHistory
	if len(history) == 0 {
		return ""
	}
	if len(history) > fixTailSize {
		history = history[len(history)-fixTailSize:]
	}

	var b strings.Builder
	b.WriteString(mutedStyle.Render("recent fixes:"))
	b.WriteString("\n")
	for _, fix := range history {
		b.WriteString(valueStyle.Render(m.truncate("  - " + fix)))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) helpBar() string {
	return helpStyle.Render("q quit")
}

// truncate clips a line to the terminal width.
func (m Model) truncate(s string) string {
	if !m.ready || m.width <= 3 || len(s) <= m.width {
		return s
	}
	return s[:m.width-3] + "..."
}

func statusBadge(status state.Status) string {
	switch status {
	case state.StatusRunning:
		return badgeRunning.Render("RUNNING")
	case state.StatusPassed:
		return badgePassed.Render("PASSED")
	case state.StatusExhausted:
		return badgeExhausted.Render("EXHAUSTED")
	case state.StatusAborted:
		return badgeAborted.Render("ABORTED")
	default:
		return badgeStyle.Render(strings.ToUpper(string(status)))
	}
}

func lineStyleFor(pass bool) lipgloss.Style {
	if pass {
		return valueStyle.Foreground(successColor)
	}
	return valueStyle.Foreground(errorColor)
}
