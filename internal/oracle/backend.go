package oracle

import (
	"fmt"
	"strings"

	"github.com/Iron-Ham/planloop/internal/config"
)

// BackendName identifies a supported oracle CLI adapter.
type BackendName string

const (
	// BackendCodex shells out to the codex CLI in one-shot exec mode.
	BackendCodex BackendName = "codex"
	// BackendCustom runs a user-supplied argv template.
	BackendCustom BackendName = "custom"
)

// ErrUnknownBackend is returned when the configured backend is not
// supported.
var ErrUnknownBackend = fmt.Errorf("unknown oracle backend")

// Backend builds the argv for one oracle invocation. The prompt always
// arrives on stdin and the JSON response is read from the combined
// output, so backends only decide the command line.
type Backend interface {
	// Name returns the canonical backend identifier.
	Name() BackendName

	// DisplayName returns a human-readable name for progress output.
	DisplayName() string

	// BuildCommand returns the argv for a single call that must emit a
	// JSON object matching the schema at schemaPath. model may be empty,
	// in which case the backend's default model is used.
	BuildCommand(schemaPath, model string) ([]string, error)
}

// NewBackendFromConfig creates a Backend from oracle configuration. An
// empty backend name selects codex.
func NewBackendFromConfig(cfg config.OracleConfig) (Backend, error) {
	switch strings.ToLower(cfg.Backend) {
	case string(BackendCodex), "":
		return NewCodexBackend(), nil
	case string(BackendCustom):
		return NewCustomBackend(cfg.Command)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, cfg.Backend)
	}
}

// CodexBackend invokes the codex CLI. Runs are ephemeral and
// git-agnostic so the oracle never touches the workspace it is judging.
type CodexBackend struct{}

// NewCodexBackend creates a codex backend.
func NewCodexBackend() *CodexBackend {
	return &CodexBackend{}
}

// Name returns "codex".
func (b *CodexBackend) Name() BackendName {
	return BackendCodex
}

// DisplayName returns "Codex".
func (b *CodexBackend) DisplayName() string {
	return "Codex"
}

// BuildCommand builds the codex exec argv. The trailing "-" tells codex
// to read the prompt from stdin.
func (b *CodexBackend) BuildCommand(schemaPath, model string) ([]string, error) {
	if schemaPath == "" {
		return nil, fmt.Errorf("codex backend requires a schema path")
	}

	args := []string{
		"codex", "exec",
		"--ephemeral",
		"--skip-git-repo-check",
		"--output-schema", schemaPath,
	}
	if model != "" {
		args = append(args, "--model", model)
	}
	args = append(args, "-")
	return args, nil
}

// CustomBackend runs a user-supplied argv template. Occurrences of
// {schema} and {model} in the template are substituted per call; the
// prompt still arrives on stdin.
type CustomBackend struct {
	template []string
}

// NewCustomBackend creates a custom backend from an argv template.
func NewCustomBackend(template []string) (*CustomBackend, error) {
	if len(template) == 0 {
		return nil, fmt.Errorf("custom backend requires a command template")
	}
	return &CustomBackend{template: template}, nil
}

// Name returns "custom".
func (b *CustomBackend) Name() BackendName {
	return BackendCustom
}

// DisplayName returns the template's executable name.
func (b *CustomBackend) DisplayName() string {
	return b.template[0]
}

// BuildCommand substitutes the schema path and model into the template.
func (b *CustomBackend) BuildCommand(schemaPath, model string) ([]string, error) {
	args := make([]string, 0, len(b.template))
	for _, arg := range b.template {
		arg = strings.ReplaceAll(arg, "{schema}", schemaPath)
		arg = strings.ReplaceAll(arg, "{model}", model)
		args = append(args, arg)
	}
	return args, nil
}
