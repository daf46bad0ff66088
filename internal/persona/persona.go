// Package persona holds the reusable prompt text for the judge and
// rewrite oracles and assembles per-round prompts from it. The built-in
// personas can be overridden piecewise from a YAML file.
package persona

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultObjectiveHeader opens every prompt. It frames the exchange so
// the oracle grounds itself in the snapshot rather than inventing
// requirements.
const DefaultObjectiveHeader = `You are working inside an automated plan-quality loop. The sections
below give you an objective snapshot, recent history, and the current
plan. Ground every statement in that material. Do not invent
requirements the objective does not state, and do not relitigate
decisions the plan already makes unless they conflict with the
objective.`

// DefaultJudgeRubric is the built-in judge persona.
const DefaultJudgeRubric = `# Role
You are a strict plan reviewer. Decide whether this plan is ready to
hand to an implementer with no further discussion.

# What to check
1. Completeness: every stated goal and acceptance criterion is covered
   by concrete steps.
2. Decision-completeness: no unresolved choices, open questions, or
   placeholder items remain.
3. Ordering: steps are sequenced so each can start once its
   predecessors finish.
4. Verifiability: each step names an observable result that confirms it
   happened.
5. Scope: nothing in the plan contradicts the stated constraints.

# How to respond
Return a single JSON object matching the provided schema. Set "pass" to
true only when you found zero problems worth fixing. Report each
problem separately with a severity of "low", "medium", or "high",
and mark "blocking" on any problem that must be fixed before
implementation can start. Keep "summary" to one or two sentences. When
the plan fails, fill "rewrite_instructions" with the needed fixes in
priority order.`

// DefaultRewriteTemplate is the built-in rewrite persona.
const DefaultRewriteTemplate = `# Role
You are the plan rewriter. Produce a corrected revision of the current
plan that resolves every listed problem and preserves everything the
judge did not flag.

# Rules
1. Apply the rewrite instructions in the order given.
2. Keep the plan's structure and voice; change only what the findings
   require.
3. Do not drop acceptance criteria, constraints, or previously applied
   fixes.
4. Return a single JSON object matching the provided schema, with the
   complete revised plan in "revised_plan_markdown" and each change you
   made listed in "applied_fixes".`

// Set is the complete persona text used to assemble prompts.
type Set struct {
	ObjectiveHeader string
	JudgeRubric     string
	RewriteTemplate string
}

// DefaultSet returns the built-in personas.
func DefaultSet() Set {
	return Set{
		ObjectiveHeader: DefaultObjectiveHeader,
		JudgeRubric:     DefaultJudgeRubric,
		RewriteTemplate: DefaultRewriteTemplate,
	}
}

// Validate checks that no persona text is empty.
func (s Set) Validate() error {
	if s.ObjectiveHeader == "" {
		return fmt.Errorf("persona objective_header is empty")
	}
	if s.JudgeRubric == "" {
		return fmt.Errorf("persona judge_rubric is empty")
	}
	if s.RewriteTemplate == "" {
		return fmt.Errorf("persona rewrite_template is empty")
	}
	return nil
}

// File is the YAML override format. Fields left empty keep the
// built-in text, so a file can replace one persona without restating
// the others.
type File struct {
	ObjectiveHeader string `yaml:"objective_header,omitempty"`
	JudgeRubric     string `yaml:"judge_rubric,omitempty"`
	RewriteTemplate string `yaml:"rewrite_template,omitempty"`
}

// Load returns the built-in personas overlaid with any overrides from
// the YAML file at path. An empty path returns the built-ins.
func Load(path string) (Set, error) {
	set := DefaultSet()
	if path == "" {
		return set, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Set{}, fmt.Errorf("failed to read persona file: %w", err)
	}

	var overrides File
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return Set{}, fmt.Errorf("failed to parse persona file %s: %w", path, err)
	}

	if overrides.ObjectiveHeader != "" {
		set.ObjectiveHeader = overrides.ObjectiveHeader
	}
	if overrides.JudgeRubric != "" {
		set.JudgeRubric = overrides.JudgeRubric
	}
	if overrides.RewriteTemplate != "" {
		set.RewriteTemplate = overrides.RewriteTemplate
	}

	if err := set.Validate(); err != nil {
		return Set{}, err
	}
	return set, nil
}
