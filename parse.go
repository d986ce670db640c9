package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"

	"mach/internal/ctxlog"
)

// $var or ${var} or $@
var varPattern = regexp.MustCompile(`\$\w+|\$\{[^}]+\}|\$@`)

// expandVars substitutes variables in text. Undefined variables are kept as
// written and reported.
func (s *Settings) expandVars(ctx context.Context, text, stage string) string {
	return varPattern.ReplaceAllStringFunc(text, func(m string) string {
		val := s.lookupVar(m, stage)
		if val == "" {
			ctxlog.FromContext(ctx).Warn("Undefined variable.", "variable", m, "stage", stage)
			return m
		}
		return val
	})
}

// loadSettings reads the settings file and its includes. A missing file is
// only an error when required is set; otherwise the defaults apply.
func loadSettings(ctx context.Context, path string, required bool) (*Settings, error) {
	logger := ctxlog.FromContext(ctx)
	s := &Settings{}

	found, err := decodeSettings(path, s)
	if err != nil {
		return nil, err
	}
	if !found && required {
		return nil, fmt.Errorf("settings file %s: %w", path, os.ErrNotExist)
	}

	// Includes are relative to the file that names them and are applied in
	// order on top of it.
	includes := s.Includes
	for _, inc := range includes {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(path), inc)
		}
		ok, err := decodeSettings(inc, s)
		if err != nil {
			return nil, err
		}
		if !ok {
			logger.Warn("Cannot load include.", "include", inc)
		}
	}
	s.Includes = includes

	s.expandAll(ctx)
	s.applyDefaults()
	return s, nil
}

// decodeSettings decodes path into s and reports whether the file exists.
func decodeSettings(path string, s *Settings) (bool, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer func() { _ = f.Close() }()

	if err := yaml.NewDecoder(f).Decode(s); err != nil && !errors.Is(err, io.EOF) {
		return true, fmt.Errorf("settings file %s: %w", path, err)
	}
	return true, nil
}

func (s *Settings) expandAll(ctx context.Context) {
	for _, field := range []*string{
		&s.Manifest, &s.CMakeConfig, &s.DepConfig, &s.SourceDir, &s.ValeDir,
		&s.BuildDir, &s.TestDir, &s.Compiler, &s.BenchmarkResults,
		&s.BenchmarkBaseline, &s.DistDir, &s.Upstream, &s.Toolchain,
	} {
		*field = s.expandVars(ctx, *field, "settings")
	}
	for i, p := range s.IncludePaths {
		s.IncludePaths[i] = s.expandVars(ctx, p, "settings")
	}
}
