package plan

import (
	"regexp"
	"strings"
)

// ObjectiveSnapshot captures the plan's stated goal and scope before the
// first judge round. It is immutable for the lifetime of a run: every
// rewrite request carries it verbatim so later revisions cannot drift from
// the original intent.
type ObjectiveSnapshot struct {
	Goal               string   `json:"goal"`
	SummaryExcerpt     string   `json:"summary_excerpt"`
	ScopeExcerpt       string   `json:"scope_excerpt"`
	AcceptanceCriteria []string `json:"acceptance_criteria"`
	Constraints        []string `json:"constraints"`
	RawExcerpt         string   `json:"raw_excerpt"`
}

// DefaultGoal is used when a plan has neither a top-level heading nor a
// summary section to derive a goal from.
const DefaultGoal = "Plan quality feedback loop"

// Excerpt caps keep snapshots small enough to embed in every oracle
// request without crowding out the plan text itself.
const (
	summaryExcerptLimit = 1800
	scopeExcerptLimit   = 1800
	rawExcerptLimit     = 2400
)

var (
	// sectionHeaderRe matches a markdown heading of level 1-3 on a single
	// line and captures its title.
	sectionHeaderRe = regexp.MustCompile(`^#{1,3}\s+(.+?)\s*$`)

	// goalHeadingRe finds the first top-level heading anywhere in the plan.
	goalHeadingRe = regexp.MustCompile(`(?m)^#\s+(.+?)\s*$`)

	// numberedItemRe matches the "1. " prefix of an ordered list item.
	numberedItemRe = regexp.MustCompile(`^\d+\.\s+`)

	// titleSpaceRe collapses runs of whitespace when normalizing titles.
	titleSpaceRe = regexp.MustCompile(`\s+`)
)

// BuildObjectiveSnapshot extracts the objective snapshot from plan text.
// The goal comes from the first `# ` heading, falling back to the first
// line of the Summary section, falling back to DefaultGoal. Acceptance
// criteria and constraints come from the "Acceptance Criteria" and
// "Assumptions and Defaults" sections as list items.
func BuildObjectiveSnapshot(planText string) *ObjectiveSnapshot {
	sections := parseSections(planText)
	summary := sections["summary"]
	scope := sections["scope"]

	goal := ""
	if matches := goalHeadingRe.FindStringSubmatch(planText); len(matches) == 2 {
		goal = strings.TrimSpace(matches[1])
	}
	if goal == "" && summary != "" {
		goal = strings.TrimSpace(strings.SplitN(summary, "\n", 2)[0])
	}
	if goal == "" {
		goal = DefaultGoal
	}

	return &ObjectiveSnapshot{
		Goal:               goal,
		SummaryExcerpt:     excerpt(summary, summaryExcerptLimit),
		ScopeExcerpt:       excerpt(scope, scopeExcerptLimit),
		AcceptanceCriteria: extractListItems(sections["acceptance criteria"]),
		Constraints:        extractListItems(sections["assumptions and defaults"]),
		RawExcerpt:         excerpt(planText, rawExcerptLimit),
	}
}

// parseSections splits markdown into sections keyed by normalized heading
// title. Content before the first heading is keyed under "_root". A title
// appearing more than once accumulates the content of every occurrence.
func parseSections(md string) map[string]string {
	collected := map[string][]string{"_root": {}}
	current := "_root"

	for _, line := range strings.Split(md, "\n") {
		if matches := sectionHeaderRe.FindStringSubmatch(line); len(matches) == 2 {
			current = normalizeTitle(matches[1])
			if _, ok := collected[current]; !ok {
				collected[current] = []string{}
			}
			continue
		}
		collected[current] = append(collected[current], line)
	}

	sections := make(map[string]string, len(collected))
	for title, lines := range collected {
		sections[title] = strings.TrimSpace(strings.Join(lines, "\n"))
	}
	return sections
}

// normalizeTitle lowercases a heading title and collapses internal
// whitespace, so "Acceptance  Criteria" and "acceptance criteria" key the
// same section.
func normalizeTitle(title string) string {
	return titleSpaceRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(title)), " ")
}

// extractListItems collects the text of ordered ("1. item") and unordered
// ("- item") list entries, in document order. Indentation is not
// significant; plain paragraph lines are ignored.
func extractListItems(text string) []string {
	items := []string{}
	for _, line := range strings.Split(text, "\n") {
		stripped := strings.TrimSpace(line)
		if stripped == "" {
			continue
		}
		if numberedItemRe.MatchString(stripped) {
			items = append(items, strings.TrimSpace(numberedItemRe.ReplaceAllString(stripped, "")))
		} else if strings.HasPrefix(stripped, "- ") {
			items = append(items, strings.TrimSpace(stripped[2:]))
		}
	}
	return items
}

// excerpt returns at most limit runes of s.
func excerpt(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == limit {
			return s[:i]
		}
		count++
	}
	return s
}
