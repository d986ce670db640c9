// Package session holds the state one mach invocation shares between its
// steps: which external tools have been verified and whether they must be
// verified again.
package session

import (
	"context"
	"fmt"
	"os/exec"

	"mach/internal/ctxlog"
)

// ToolMissingError reports an external tool that is not on the search path.
type ToolMissingError struct {
	Tool string
	Err  error
}

func (e *ToolMissingError) Error() string {
	return fmt.Sprintf("please make sure that %q is installed and in your PATH", e.Tool)
}

func (e *ToolMissingError) Unwrap() error { return e.Err }

// Session is created once per command invocation.
type Session struct {
	// Recheck forces every RequireTools call to look tools up again.
	Recheck bool
	// LookPath resolves a tool name. Nil means exec.LookPath.
	LookPath func(name string) (string, error)

	found map[string]string
}

// New returns a session that checks each tool at most once.
func New() *Session {
	return &Session{}
}

// RequireTools verifies that every tool is available and returns a
// *ToolMissingError for the first one that is not.
func (s *Session) RequireTools(ctx context.Context, tools ...string) error {
	logger := ctxlog.FromContext(ctx)
	lookPath := s.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	if s.found == nil {
		s.found = make(map[string]string)
	}

	for _, tool := range tools {
		if _, ok := s.found[tool]; ok && !s.Recheck {
			continue
		}
		p, err := lookPath(tool)
		if err != nil {
			return &ToolMissingError{Tool: tool, Err: err}
		}
		s.found[tool] = p
		logger.Debug("Found tool.", "tool", tool, "path", p)
	}
	return nil
}

// Path returns where a previously verified tool was found.
func (s *Session) Path(tool string) (string, bool) {
	p, ok := s.found[tool]
	return p, ok
}
