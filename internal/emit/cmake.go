// Package emit serializes a resolved configuration for the build system: a
// CMake file of set() statements and a JSON dependency manifest that
// packaging scripts and language bindings read without rescanning.
package emit

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"mach/internal/config"
	"mach/internal/ctxlog"
)

// ProjectDir is the CMake variable every emitted path is relative to.
const ProjectDir = "${PROJECT_SOURCE_DIR}"

// Layout tells the emitter where files live relative to the project root.
type Layout struct {
	SourceDir string
	ValeDir   string
}

// DefaultLayout matches the repository layout of the C distribution.
func DefaultLayout() Layout {
	return Layout{SourceDir: "src", ValeDir: "vale/src"}
}

func (l Layout) source(file string) string {
	return path.Join(ProjectDir, l.SourceDir, file)
}

func (l Layout) vale(file string) string {
	return path.Join(ProjectDir, l.ValeDir, file)
}

// RenderCMake returns the CMake configuration for c. The output only depends
// on c and l.
func RenderCMake(c *config.Config, l Layout) []byte {
	var buf bytes.Buffer
	set := func(name string, values []string) {
		buf.WriteString("set(")
		buf.WriteString(name)
		for _, v := range values {
			buf.WriteByte(' ')
			buf.WriteString(v)
		}
		buf.WriteString(")\n")
	}
	mapped := func(values []string, f func(string) string) []string {
		out := make([]string, len(values))
		for i, v := range values {
			out[i] = f(v)
		}
		return out
	}

	if len(c.Manifest.Karamel) > 0 {
		set("KARAMEL_FILES", mapped(c.Manifest.Karamel, project))
	}
	set("ALGORITHMS", c.Algorithms())
	set("INCLUDE_PATHS", mapped(c.IncludePaths, project))

	features := c.Sources.Features()
	set("FEATURES", features)
	for _, tag := range features {
		set("SOURCES_"+tag, mapped(c.Sources.Files(tag), l.source))
	}

	if c.HasAssembly() {
		platforms := c.Manifest.Platforms()
		set("VALE_PLATFORMS", platforms)
		for _, p := range platforms {
			set("VALE_SOURCES_"+p, mapped(c.AssemblySources(p), l.vale))
		}
	}

	for _, file := range c.RequiredFeatures.Keys() {
		features, _ := c.RequiredFeatures.Get(file)
		set("REQUIRED_FEATURES_"+stem(file), features)
	}
	for _, feature := range c.CPUFeatures.Keys() {
		files, _ := c.CPUFeatures.Get(feature)
		set("CPU_FEATURE_"+feature, mapped(files, l.source))
	}

	tests := c.Manifest.Tests
	set("ALGORITHM_TEST_FILES", mapped(tests.Keys(), func(a string) string { return "TEST_FILES_" + a }))
	for _, alg := range tests.Keys() {
		files, _ := tests.Get(alg)
		set("TEST_FILES_"+alg, files)
	}
	set("TEST_SOURCES", c.Tests())
	set("BENCHMARK_SOURCES", c.Benchmarks())

	return buf.Bytes()
}

// project makes a relative path relative to ProjectDir.
func project(p string) string {
	if path.IsAbs(p) {
		return p
	}
	return path.Join(ProjectDir, p)
}

func stem(file string) string {
	return strings.TrimSuffix(path.Base(file), path.Ext(file))
}

// WriteCMake renders c and replaces whatever is at dest.
func WriteCMake(ctx context.Context, dest string, c *config.Config, l Layout) error {
	return writeFile(ctx, dest, RenderCMake(c, l))
}

func writeFile(ctx context.Context, dest string, data []byte) error {
	logger := ctxlog.FromContext(ctx)
	if _, err := os.Stat(dest); err == nil {
		logger.Warn("This overrides the existing file.", "path", dest)
	}
	if dir := filepath.Dir(dest); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	// #nosec G306 - build configuration is meant to be world readable
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", dest, err)
	}
	logger.Info("Configuration written.", "path", dest, "bytes", len(data))
	return nil
}
