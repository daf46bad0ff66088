package oracle

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSchema_PhaseSelection(t *testing.T) {
	judge := Schema(PhaseJudge)
	if _, ok := judge["properties"].(map[string]any)["pass"]; !ok {
		t.Error("judge schema missing pass property")
	}

	rewrite := Schema(PhaseRewrite)
	if _, ok := rewrite["properties"].(map[string]any)["revised_plan_markdown"]; !ok {
		t.Error("rewrite schema missing revised_plan_markdown property")
	}
}

func TestSchemaJSON_IsValidJSON(t *testing.T) {
	for _, phase := range []Phase{PhaseJudge, PhaseRewrite} {
		var doc map[string]any
		if err := json.Unmarshal([]byte(SchemaJSON(phase)), &doc); err != nil {
			t.Errorf("SchemaJSON(%s) is not valid JSON: %v", phase, err)
		}
	}
}

func TestSchemaFileName(t *testing.T) {
	if got := SchemaFileName(PhaseJudge); got != "judge.json" {
		t.Errorf("SchemaFileName(judge) = %q, want %q", got, "judge.json")
	}
	if got := SchemaFileName(PhaseRewrite); got != "rewrite.json" {
		t.Errorf("SchemaFileName(rewrite) = %q, want %q", got, "rewrite.json")
	}
}

func TestMaterializeSchemas(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "schemas")

	paths, err := MaterializeSchemas(dir)
	if err != nil {
		t.Fatalf("MaterializeSchemas() error: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("got %d paths, want 2", len(paths))
	}

	for phase, path := range paths {
		if !strings.HasPrefix(path, dir) {
			t.Errorf("%s schema written outside dir: %s", phase, path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("reading %s schema: %v", phase, err)
		}
		if string(data) != SchemaJSON(phase) {
			t.Errorf("%s schema content does not match SchemaJSON", phase)
		}
	}
}

func TestJudgeSchema_SeverityVocabulary(t *testing.T) {
	decode := func(t *testing.T, raw string) any {
		t.Helper()
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			t.Fatalf("bad fixture %q: %v", raw, err)
		}
		return v
	}

	for _, severity := range []string{"low", "medium", "high"} {
		raw := `{"pass": false, "summary": "s", "problems": [{"severity": "` + severity + `", "description": "d"}]}`
		if errs := ValidateAgainstSchema(decode(t, raw), Schema(PhaseJudge)); len(errs) != 0 {
			t.Errorf("severity %q rejected: %v", severity, errs)
		}
	}

	raw := `{"pass": false, "summary": "s", "problems": [{"severity": "blocker", "description": "d"}]}`
	errs := ValidateAgainstSchema(decode(t, raw), Schema(PhaseJudge))
	want := "$.problems[0].severity: blocker is not one of the allowed values"
	if len(errs) != 1 || errs[0] != want {
		t.Errorf("errors = %v, want [%s]", errs, want)
	}
}

func TestValidateAgainstSchema(t *testing.T) {
	schema := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []any{"name"},
		"properties": map[string]any{
			"name":  map[string]any{"type": "string"},
			"count": map[string]any{"type": "integer"},
			"level": map[string]any{
				"type": "string",
				"enum": []any{"low", "medium", "high"},
			},
			"tags": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
		},
	}

	// Round-trip inputs through encoding/json so numbers arrive as float64,
	// the same shape real oracle output decodes to.
	decode := func(t *testing.T, raw string) any {
		t.Helper()
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			t.Fatalf("bad fixture %q: %v", raw, err)
		}
		return v
	}

	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{
			name: "valid document",
			raw:  `{"name": "x", "count": 3, "tags": ["a", "b"]}`,
			want: nil,
		},
		{
			name: "missing required",
			raw:  `{"count": 1}`,
			want: []string{"$.name: missing required field"},
		},
		{
			name: "integer accepts whole float",
			raw:  `{"name": "x", "count": 7}`,
			want: nil,
		},
		{
			name: "integer rejects fraction",
			raw:  `{"name": "x", "count": 7.5}`,
			want: []string{"$.count: expected integer, got number"},
		},
		{
			name: "additional property",
			raw:  `{"name": "x", "extra": true}`,
			want: []string{"$.extra: additional property not allowed"},
		},
		{
			name: "array item type",
			raw:  `{"name": "x", "tags": ["ok", 5]}`,
			want: []string{"$.tags[1]: expected string, got number"},
		},
		{
			name: "enum accepts member",
			raw:  `{"name": "x", "level": "medium"}`,
			want: nil,
		},
		{
			name: "enum rejects outsider",
			raw:  `{"name": "x", "level": "critical"}`,
			want: []string{"$.level: critical is not one of the allowed values"},
		},
		{
			name: "root type mismatch",
			raw:  `["not", "an", "object"]`,
			want: []string{"$: expected object, got array"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ValidateAgainstSchema(decode(t, tt.raw), schema)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d errors %v, want %d %v", len(got), got, len(tt.want), tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("error[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}
