package deploy

import (
	"fmt"
	"os"
	"path/filepath"
)

// OutputPath is where the build result link lands: either a path the
// caller supplied or a "result" link inside an owned temporary
// directory. The owned directory must stay alive until the last pipeline
// state that dereferences the built path has finished, so release is an
// explicit Cleanup call rather than a finalizer.
type OutputPath struct {
	path  string
	owned string
}

// NewOutputPath returns an OutputPath for the explicit link target, or
// an ephemeral one when explicit is empty.
func NewOutputPath(explicit string) (*OutputPath, error) {
	if explicit != "" {
		return &OutputPath{path: explicit}, nil
	}
	dir, err := os.MkdirTemp("", "nixup-*")
	if err != nil {
		return nil, fmt.Errorf("creating temporary output directory: %w", err)
	}
	return &OutputPath{path: filepath.Join(dir, "result"), owned: dir}, nil
}

// Path returns the materialized result-link location.
func (p *OutputPath) Path() string {
	return p.path
}

// Cleanup removes the owned temporary directory, if any. Caller-supplied
// paths are never touched.
func (p *OutputPath) Cleanup() error {
	if p.owned == "" {
		return nil
	}
	return os.RemoveAll(p.owned)
}
