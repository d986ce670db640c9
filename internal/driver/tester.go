package driver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"mach/internal/ctxlog"
	"mach/internal/manifest"
	"mach/internal/session"
)

// MissingArtifactError reports a test or benchmark binary that has not been
// built.
type MissingArtifactError struct {
	Kind string
	Path string
}

func (e *MissingArtifactError) Error() string {
	return fmt.Sprintf("%s %q doesn't exist, running it requires a build first (see mach build --help)", e.Kind, e.Path)
}

// ErrUnknownLanguage is returned for bindings the test driver cannot run.
var ErrUnknownLanguage = errors.New("unknown language binding")

func exeName(stem string) string {
	if runtime.GOOS == "windows" {
		return stem + ".exe"
	}
	return stem
}

// artifact returns the path of a binary in dir or a *MissingArtifactError.
func artifact(kind, dir, name string) (string, error) {
	if _, err := os.Stat(dir); err != nil {
		return "", &MissingArtifactError{Kind: "build directory", Path: dir}
	}
	p := filepath.Join(dir, exeName(name))
	if _, err := os.Stat(p); err != nil {
		return "", &MissingArtifactError{Kind: kind, Path: p}
	}
	return p, nil
}

// Tester runs the test binaries listed in the dependency manifest.
type Tester struct {
	Runner Runner
	// BinaryDir holds the built test binaries, <build>/<Config>.
	BinaryDir string
	// TestDir is exported to the binaries as TEST_DIR.
	TestDir string
	// Filter selects tests by algorithm or by test name. Empty runs all.
	Filter []string
	// Args are passed to every test binary.
	Args []string
}

// Selected reports whether the test file of algorithm passes the filter.
func (t *Tester) Selected(algorithm, file string) bool {
	if len(t.Filter) == 0 {
		return true
	}
	name := strings.ToLower(stem(file))
	for _, f := range t.Filter {
		f = strings.ToLower(f)
		if f == strings.ToLower(algorithm) || f == name {
			return true
		}
	}
	return false
}

// Run executes the selected tests in table order and stops at the first
// failure.
func (t *Tester) Run(ctx context.Context, tests manifest.Table[[]string]) error {
	logger := ctxlog.FromContext(ctx)
	logger.Info("Running tests.", "dir", t.BinaryDir)

	ran := 0
	for _, algorithm := range tests.Keys() {
		files, _ := tests.Get(algorithm)
		for _, file := range files {
			if !t.Selected(algorithm, file) {
				continue
			}
			name := stem(file)
			bin, err := artifact("test", t.BinaryDir, name)
			if err != nil {
				return err
			}
			err = t.Runner.Run(ctx, Command{
				Name: bin,
				Args: t.Args,
				Dir:  t.BinaryDir,
				Env: []string{
					"TEST_DIR=" + t.TestDir,
					"LLVM_PROFILE_FILE=" + name + ".profraw",
				},
			})
			if err != nil {
				return err
			}
			ran++
		}
	}
	logger.Info("Tests finished.", "count", ran)
	return nil
}

// RunBindings runs the test suite of a language binding.
func RunBindings(ctx context.Context, r Runner, s *session.Session, language string) error {
	switch strings.ToLower(language) {
	case "rust":
		if err := s.RequireTools(ctx, "cargo"); err != nil {
			return err
		}
		return r.Run(ctx, Command{
			Name: "cargo",
			Args: []string{"test", "--manifest-path", filepath.Join("rust", "Cargo.toml")},
			Env:  []string{"MACH_BUILD=1"},
		})
	}
	return fmt.Errorf("%w %q", ErrUnknownLanguage, language)
}

func stem(file string) string {
	base := filepath.Base(file)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
