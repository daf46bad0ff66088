// Package plan provides plan document handling: loading and identity
// resolution for plan files, immutable per-round revisions, and the
// objective snapshot captured before the first judge round.
package plan

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Iron-Ham/planloop/internal/errors"
)

// Document is a plan markdown file on disk. Path is always the fully
// resolved location (absolute, symlinks followed); loop state derives its
// identity from it, so two Documents compare equal only when they are
// genuinely the same file.
type Document struct {
	Path     string
	Markdown string
}

// Revision is an immutable snapshot of the plan text at a given round.
// Revisions are append-only: the controller never mutates a past revision,
// it only produces the next one.
type Revision struct {
	Round     int       `json:"round"`
	Markdown  string    `json:"markdown"`
	CreatedAt time.Time `json:"created_at"`
}

// NewRevision creates a revision for the given round.
func NewRevision(round int, markdown string) Revision {
	return Revision{
		Round:     round,
		Markdown:  markdown,
		CreatedAt: time.Now().UTC(),
	}
}

// Resolve normalizes a plan path to its canonical on-disk identity.
// If the file itself no longer exists (a resumed run whose original plan
// was replaced by a round revision), the parent directory is resolved
// instead and the base name is kept.
func Resolve(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("plan path cannot be empty")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve plan path %q: %w", path, err)
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err == nil {
		return resolved, nil
	}
	if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to resolve plan path %q: %w", path, err)
	}

	dir, dirErr := filepath.EvalSymlinks(filepath.Dir(abs))
	if dirErr != nil {
		return abs, nil
	}
	return filepath.Join(dir, filepath.Base(abs)), nil
}

// LoadDocument reads a plan file and resolves its identity path.
func LoadDocument(path string) (*Document, error) {
	resolved, err := Resolve(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", errors.ErrPlanNotFound, resolved)
		}
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}

	return &Document{Path: resolved, Markdown: string(data)}, nil
}

// Stem returns the document's base name without its extension. The loop
// directory for a plan named "X.md" is the sibling ".X_loop".
func (d *Document) Stem() string {
	base := filepath.Base(d.Path)
	return base[:len(base)-len(filepath.Ext(base))]
}
