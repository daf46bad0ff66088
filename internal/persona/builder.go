package persona

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Iron-Ham/planloop/internal/oracle"
	"github.com/Iron-Ham/planloop/internal/plan"
)

// DefaultFixWindow is how many recent applied fixes are surfaced to the
// oracle when no explicit window is configured.
const DefaultFixWindow = 8

// Builder assembles judge and rewrite prompts from a persona set, an
// objective snapshot, and loop history.
type Builder struct {
	personas  Set
	fixWindow int
}

// NewBuilder creates a prompt builder. fixWindow is how many recent
// applied fixes appear in prompts; zero or negative hides the history.
func NewBuilder(personas Set, fixWindow int) *Builder {
	return &Builder{personas: personas, fixWindow: fixWindow}
}

// JudgePrompt builds the prompt for a judge call.
func (b *Builder) JudgePrompt(planText string, objective *plan.ObjectiveSnapshot, fixHistory []string) (string, error) {
	snapshot, err := json.MarshalIndent(objective, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode objective snapshot: %w", err)
	}

	var sb strings.Builder
	sb.WriteString(b.personas.ObjectiveHeader)
	sb.WriteString("\n\n")
	sb.WriteString(b.personas.JudgeRubric)
	sb.WriteString("\n\n# Objective Snapshot\n```json\n")
	sb.Write(snapshot)
	sb.WriteString("\n```\n\n# Previously Applied Fixes (recent)\n")
	sb.WriteString(formatList(b.recentFixes(fixHistory)))
	sb.WriteString("\n\n# Plan To Judge\n```markdown\n")
	sb.WriteString(planText)
	sb.WriteString("\n```\n")
	return sb.String(), nil
}

// RewritePrompt builds the prompt for a rewrite call from the verdict
// that failed the plan.
func (b *Builder) RewritePrompt(planText string, objective *plan.ObjectiveSnapshot, verdict *oracle.JudgeVerdict, fixHistory []string) (string, error) {
	snapshot, err := json.MarshalIndent(objective, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode objective snapshot: %w", err)
	}
	findings, err := json.MarshalIndent(verdict, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode judge findings: %w", err)
	}

	problems := make([]string, 0, len(verdict.Problems))
	for _, p := range verdict.Problems {
		problems = append(problems, renderProblem(p))
	}

	var sb strings.Builder
	sb.WriteString(b.personas.ObjectiveHeader)
	sb.WriteString("\n\n")
	sb.WriteString(b.personas.RewriteTemplate)
	sb.WriteString("\n\n# Objective Snapshot\n```json\n")
	sb.Write(snapshot)
	sb.WriteString("\n```\n\n# Previously Applied Fixes (recent)\n")
	sb.WriteString(formatList(b.recentFixes(fixHistory)))
	sb.WriteString("\n\n# Judge Findings\n```json\n")
	sb.Write(findings)
	sb.WriteString("\n```\n\n# Rewrite Instructions (priority order)\n")
	sb.WriteString(formatList(verdict.RewriteInstructions))
	sb.WriteString("\n\n# Problems To Resolve\n")
	sb.WriteString(formatList(problems))
	sb.WriteString("\n\n# Current Plan\n```markdown\n")
	sb.WriteString(planText)
	sb.WriteString("\n```\n\n")
	sb.WriteString("Important:\n")
	sb.WriteString("1. Preserve prior resolved issues unless a newer finding makes them invalid.\n")
	sb.WriteString("2. Keep the plan decision-complete.\n")
	return sb.String(), nil
}

// recentFixes returns the newest fixWindow entries of the history.
func (b *Builder) recentFixes(history []string) []string {
	if b.fixWindow <= 0 || len(history) == 0 {
		return nil
	}
	if len(history) > b.fixWindow {
		return history[len(history)-b.fixWindow:]
	}
	return history
}

// renderProblem flattens a judge problem to one list line.
func renderProblem(p oracle.Problem) string {
	line := p.Description
	if p.Severity != "" {
		line = p.Severity + ": " + line
	}
	if p.Blocking {
		line += " (blocking)"
	}
	return line
}

// formatList renders items as a Markdown bullet list, or "[]" when
// empty so the oracle sees an explicit absence rather than a blank.
func formatList(items []string) string {
	if len(items) == 0 {
		return "[]"
	}
	lines := make([]string, len(items))
	for i, item := range items {
		lines[i] = "- " + item
	}
	return strings.Join(lines, "\n")
}
