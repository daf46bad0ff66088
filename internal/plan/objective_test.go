package plan

import (
	"reflect"
	"strings"
	"testing"
)

func TestBuildObjectiveSnapshot(t *testing.T) {
	planText := `# Release Plan

## Summary
Ship the new ingestion pipeline.
Second summary line.

## Scope
Backend services only, no UI changes.

## Acceptance Criteria
1. All integration tests green.
2. Zero data loss during cutover.

## Assumptions and Defaults
- Rollout happens behind a feature flag.
- Staging mirrors production traffic.
`

	snapshot := BuildObjectiveSnapshot(planText)

	if snapshot.Goal != "Release Plan" {
		t.Errorf("Goal = %q, want %q", snapshot.Goal, "Release Plan")
	}
	wantSummary := "Ship the new ingestion pipeline.\nSecond summary line."
	if snapshot.SummaryExcerpt != wantSummary {
		t.Errorf("SummaryExcerpt = %q, want %q", snapshot.SummaryExcerpt, wantSummary)
	}
	if snapshot.ScopeExcerpt != "Backend services only, no UI changes." {
		t.Errorf("ScopeExcerpt = %q", snapshot.ScopeExcerpt)
	}
	wantCriteria := []string{
		"All integration tests green.",
		"Zero data loss during cutover.",
	}
	if !reflect.DeepEqual(snapshot.AcceptanceCriteria, wantCriteria) {
		t.Errorf("AcceptanceCriteria = %v, want %v", snapshot.AcceptanceCriteria, wantCriteria)
	}
	wantConstraints := []string{
		"Rollout happens behind a feature flag.",
		"Staging mirrors production traffic.",
	}
	if !reflect.DeepEqual(snapshot.Constraints, wantConstraints) {
		t.Errorf("Constraints = %v, want %v", snapshot.Constraints, wantConstraints)
	}
	if snapshot.RawExcerpt != planText {
		t.Errorf("RawExcerpt should contain the full short plan")
	}
}

func TestBuildObjectiveSnapshot_GoalFallbacks(t *testing.T) {
	t.Run("falls back to first summary line", func(t *testing.T) {
		planText := "## Summary\nImprove error reporting.\nMore detail.\n\n## Scope\nCLI only.\n"
		snapshot := BuildObjectiveSnapshot(planText)
		if snapshot.Goal != "Improve error reporting." {
			t.Errorf("Goal = %q, want first summary line", snapshot.Goal)
		}
	})

	t.Run("falls back to default goal", func(t *testing.T) {
		snapshot := BuildObjectiveSnapshot("Just prose, no headings at all.\n")
		if snapshot.Goal != DefaultGoal {
			t.Errorf("Goal = %q, want %q", snapshot.Goal, DefaultGoal)
		}
	})

	t.Run("empty plan", func(t *testing.T) {
		snapshot := BuildObjectiveSnapshot("")
		if snapshot.Goal != DefaultGoal {
			t.Errorf("Goal = %q, want %q", snapshot.Goal, DefaultGoal)
		}
		if len(snapshot.AcceptanceCriteria) != 0 || len(snapshot.Constraints) != 0 {
			t.Error("expected empty criteria and constraints for empty plan")
		}
	})
}

func TestBuildObjectiveSnapshot_Truncation(t *testing.T) {
	longSummary := strings.Repeat("a", 3000)
	planText := "# Big Plan\n\n## Summary\n" + longSummary + "\n"

	snapshot := BuildObjectiveSnapshot(planText)

	if got := len([]rune(snapshot.SummaryExcerpt)); got != 1800 {
		t.Errorf("SummaryExcerpt length = %d, want 1800", got)
	}
	if got := len([]rune(snapshot.RawExcerpt)); got != 2400 {
		t.Errorf("RawExcerpt length = %d, want 2400", got)
	}
	if !strings.HasPrefix(snapshot.RawExcerpt, "# Big Plan") {
		t.Error("RawExcerpt should start at the beginning of the plan")
	}
}

func TestParseSections(t *testing.T) {
	t.Run("root content before first heading", func(t *testing.T) {
		sections := parseSections("intro line\n\n## Summary\nbody\n")
		if sections["_root"] != "intro line" {
			t.Errorf("_root = %q, want %q", sections["_root"], "intro line")
		}
		if sections["summary"] != "body" {
			t.Errorf("summary = %q, want %q", sections["summary"], "body")
		}
	})

	t.Run("titles are normalized", func(t *testing.T) {
		sections := parseSections("## Acceptance   CRITERIA\n- item\n")
		if _, ok := sections["acceptance criteria"]; !ok {
			t.Errorf("expected normalized key, got keys %v", sectionKeys(sections))
		}
	})

	t.Run("duplicate headings accumulate", func(t *testing.T) {
		sections := parseSections("## Notes\nfirst\n\n## Notes\nsecond\n")
		want := "first\n\nsecond"
		if sections["notes"] != want {
			t.Errorf("notes = %q, want %q", sections["notes"], want)
		}
	})

	t.Run("heading levels one through three", func(t *testing.T) {
		sections := parseSections("# One\na\n## Two\nb\n### Three\nc\n")
		for _, key := range []string{"one", "two", "three"} {
			if _, ok := sections[key]; !ok {
				t.Errorf("missing section %q", key)
			}
		}
	})

	t.Run("level four headings are content", func(t *testing.T) {
		sections := parseSections("## Scope\n#### Detail\nbody\n")
		if !strings.Contains(sections["scope"], "#### Detail") {
			t.Errorf("scope = %q, should contain level-4 heading as content", sections["scope"])
		}
	})

	t.Run("hash without space is content", func(t *testing.T) {
		sections := parseSections("## Scope\n##NotAHeading\n")
		if !strings.Contains(sections["scope"], "##NotAHeading") {
			t.Errorf("scope = %q", sections["scope"])
		}
	})
}

func sectionKeys(sections map[string]string) []string {
	keys := make([]string, 0, len(sections))
	for k := range sections {
		keys = append(keys, k)
	}
	return keys
}

func TestExtractListItems(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "numbered items",
			text: "1. first\n2. second\n10. tenth",
			want: []string{"first", "second", "tenth"},
		},
		{
			name: "dashed items",
			text: "- alpha\n- beta",
			want: []string{"alpha", "beta"},
		},
		{
			name: "mixed with prose and blanks",
			text: "intro paragraph\n\n1. numbered\n- dashed\n\ntrailing prose",
			want: []string{"numbered", "dashed"},
		},
		{
			name: "indented items are collected",
			text: "- top\n  - nested",
			want: []string{"top", "nested"},
		},
		{
			name: "star bullets are ignored",
			text: "* star\n- dash",
			want: []string{"dash"},
		},
		{
			name: "number without space is ignored",
			text: "1.glued\n2. spaced",
			want: []string{"spaced"},
		},
		{
			name: "empty input",
			text: "",
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractListItems(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("extractListItems(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestExcerpt(t *testing.T) {
	tests := []struct {
		name  string
		input string
		limit int
		want  string
	}{
		{"shorter than limit", "hello", 10, "hello"},
		{"exactly at limit", "hello", 5, "hello"},
		{"truncated", "hello world", 5, "hello"},
		{"zero limit", "hello", 0, ""},
		{"negative limit", "hello", -1, ""},
		{"empty input", "", 5, ""},
		{"multibyte runes", strings.Repeat("é", 5), 3, strings.Repeat("é", 3)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := excerpt(tt.input, tt.limit); got != tt.want {
				t.Errorf("excerpt(%q, %d) = %q, want %q", tt.input, tt.limit, got, tt.want)
			}
		})
	}
}

func TestNormalizeTitle(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Summary", "summary"},
		{"Acceptance  Criteria", "acceptance criteria"},
		{"  Assumptions and Defaults  ", "assumptions and defaults"},
		{"Scope\tBoundaries", "scope boundaries"},
	}

	for _, tt := range tests {
		if got := normalizeTitle(tt.input); got != tt.want {
			t.Errorf("normalizeTitle(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
