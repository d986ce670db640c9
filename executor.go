package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"mach/internal/bench"
	"mach/internal/config"
	"mach/internal/ctxlog"
	"mach/internal/depscan"
	"mach/internal/driver"
	"mach/internal/emit"
	"mach/internal/manifest"
	"mach/internal/session"
	"mach/internal/snapshot"
)

// workspace carries what one command needs to drive the tools.
type workspace struct {
	settings *Settings
	opts     Options
	runner   driver.Runner
	session  *session.Session
	// scanner overrides the compiler based dependency scan.
	scanner depscan.Scanner
	stdout  io.Writer
}

func newWorkspace(s *Settings, opts Options) *workspace {
	return &workspace{
		settings: s,
		opts:     opts,
		runner:   driver.NewExecRunner(opts.Verbose, opts.DryRun),
		session:  session.New(),
		stdout:   os.Stdout,
	}
}

func (w *workspace) layout() emit.Layout {
	return emit.Layout{SourceDir: w.settings.SourceDir, ValeDir: w.settings.ValeDir}
}

func (w *workspace) buildConfig() string {
	if w.opts.Release {
		return driver.Release
	}
	return driver.Debug
}

func (w *workspace) loadManifest(ctx context.Context) (*manifest.Manifest, error) {
	m, err := manifest.Load(w.settings.Manifest)
	if err != nil {
		return nil, err
	}
	for _, warning := range m.Validate() {
		ctxlog.FromContext(ctx).Warn(warning)
	}
	return m, nil
}

// resolve loads the manifest and resolves the requested configuration.
func (w *workspace) resolve(ctx context.Context) (*config.Config, error) {
	m, err := w.loadManifest(ctx)
	if err != nil {
		return nil, err
	}
	index, err := config.ReadSourceIndex(os.DirFS(w.settings.SourceDir))
	if err != nil {
		return nil, fmt.Errorf("source directory: %w", err)
	}

	scanner := w.scanner
	if scanner == nil {
		if err := w.session.RequireTools(ctx, w.settings.Compiler); err != nil {
			return nil, err
		}
		scanner = &depscan.Compiler{
			CC:           w.settings.Compiler,
			IncludePaths: append(slices.Clone(m.IncludePaths), w.settings.IncludePaths...),
			SourceDir:    w.settings.SourceDir,
		}
	}

	return config.New(ctx, m, scanner, index, config.Options{
		Algorithms:       w.opts.Algorithms,
		DisabledFeatures: w.opts.DisabledFeatures,
		IncludePaths:     w.settings.IncludePaths,
		Jobs:             w.settings.Jobs,
	})
}

// configure resolves the configuration and writes both configuration files.
func (w *workspace) configure(ctx context.Context) (*config.Config, error) {
	c, err := w.resolve(ctx)
	if err != nil {
		return nil, err
	}
	if err := emit.WriteCMake(ctx, w.settings.CMakeConfig, c, w.layout()); err != nil {
		return nil, err
	}
	if err := emit.WriteDepConfig(ctx, w.settings.DepConfig, c, w.layout()); err != nil {
		return nil, err
	}
	return c, nil
}

func (w *workspace) builder() (*driver.Builder, error) {
	sanitizer, err := driver.ParseSanitizer(w.opts.Sanitizer)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errUsage, err)
	}
	return &driver.Builder{
		Runner:    w.runner,
		Session:   w.session,
		BuildDir:  w.settings.BuildDir,
		Compiler:  w.settings.Compiler,
		Sanitizer: sanitizer,
		Target:    w.opts.Target,
		Toolchain: w.settings.Toolchain,
	}, nil
}

// runHooks expands and runs the command lines of a hook stage.
func (w *workspace) runHooks(ctx context.Context, stage string, lines []string) error {
	expanded := make([]string, len(lines))
	for i, l := range lines {
		expanded[i] = w.settings.expandVars(ctx, l, stage)
	}
	return driver.RunShell(ctx, w.runner, stage, expanded, w.settings.ContinueOnError)
}

// build writes the configuration, then configures, builds and optionally
// installs and tests the library.
func (w *workspace) build(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	b, err := w.builder()
	if err != nil {
		return err
	}
	tools := b.Tools()
	if w.scanner == nil {
		tools = append(tools, w.settings.Compiler)
	}
	if err := w.session.RequireTools(ctx, tools...); err != nil {
		return err
	}
	if w.opts.Clean {
		if err := w.clean(ctx); err != nil {
			return err
		}
	}
	if err := w.runHooks(ctx, "pre_build", w.settings.Hooks.PreBuild); err != nil {
		return err
	}
	if _, err := w.configure(ctx); err != nil {
		return err
	}
	if err := b.Configure(ctx); err != nil {
		return err
	}
	if err := b.BuildAndInstall(ctx, w.buildConfig(), w.opts.Install); err != nil {
		return err
	}
	logger.Info("Build finished.", "config", w.buildConfig())
	if err := w.runHooks(ctx, "post_build", w.settings.Hooks.PostBuild); err != nil {
		return err
	}
	if w.opts.Test {
		return w.test(ctx)
	}
	return nil
}

func (w *workspace) readDepConfig() (*emit.DepConfig, error) {
	dc, err := emit.ReadDepConfig(w.settings.DepConfig)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s is missing, run mach configure or mach build first: %w", w.settings.DepConfig, err)
	}
	return dc, err
}

// test runs the test binaries of the current build or a binding's tests.
func (w *workspace) test(ctx context.Context) error {
	if w.opts.Language != "" {
		return driver.RunBindings(ctx, w.runner, w.session, w.opts.Language)
	}
	dc, err := w.readDepConfig()
	if err != nil {
		return err
	}
	testDir, err := filepath.Abs(w.settings.TestDir)
	if err != nil {
		return err
	}
	b, err := w.builder()
	if err != nil {
		return err
	}
	t := &driver.Tester{
		Runner:    w.runner,
		BinaryDir: b.BinaryDir(w.buildConfig()),
		TestDir:   testDir,
		Filter:    w.opts.Algorithms,
	}
	return t.Run(ctx, dc.Tests)
}

// benchmark runs the benchmarks of the Release build and, when asked,
// compares the results with the baseline.
func (w *workspace) benchmark(ctx context.Context) error {
	dc, err := w.readDepConfig()
	if err != nil {
		return err
	}
	if w.opts.Compare && w.settings.BenchmarkBaseline == "" {
		return fmt.Errorf("%w: benchmark comparison needs benchmark_baseline in the settings", errUsage)
	}
	b, err := w.builder()
	if err != nil {
		return err
	}
	keep, err := config.Matcher(dc.Algorithms, w.opts.Algorithms)
	if err != nil {
		return err
	}
	bm := &driver.Benchmarker{
		Runner:     w.runner,
		BinaryDir:  b.BinaryDir(driver.Release),
		ResultsDir: w.settings.BenchmarkResults,
	}
	written, err := bm.Run(ctx, dc.Benchmarks.Select(keep))
	if err != nil {
		return err
	}
	if !w.opts.Compare {
		return nil
	}

	// A subset run is only compared with the baseline of that subset.
	var only []string
	if len(w.opts.Algorithms) > 0 {
		for _, f := range written {
			only = append(only, strings.TrimSuffix(filepath.Base(f), ".json"))
		}
		if len(only) == 0 {
			ctxlog.FromContext(ctx).Info("No benchmark selected, nothing to compare.")
			return nil
		}
	}
	return bench.Check(w.stdout, w.settings.BenchmarkResults, w.settings.BenchmarkBaseline, only...)
}

// clean removes the build directory and the generated configuration.
func (w *workspace) clean(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	for _, p := range []string{w.settings.BuildDir, w.settings.CMakeConfig, w.settings.DepConfig} {
		if w.opts.DryRun {
			fmt.Fprintf(w.stdout, "  [DRY RUN] Would remove: %s\n", p)
			continue
		}
		if err := os.RemoveAll(p); err != nil {
			return err
		}
		logger.Debug("Removed.", "path", p)
	}
	return nil
}

func (w *workspace) snapshot(ctx context.Context) (*snapshot.Result, error) {
	c, err := w.resolve(ctx)
	if err != nil {
		return nil, err
	}
	out := w.opts.Out
	if out == "" {
		out = w.settings.DistDir
	}
	return snapshot.Create(ctx, c, snapshot.Options{
		Root:    ".",
		Out:     out,
		Layout:  w.layout(),
		Archive: w.opts.Archive,
	})
}

func (w *workspace) update(ctx context.Context) error {
	upstream := w.opts.Upstream
	if upstream == "" {
		upstream = w.settings.Upstream
	}
	return snapshot.Update(ctx, snapshot.UpdateOptions{
		Upstream: upstream,
		Root:     ".",
		NoVale:   w.opts.NoVale,
		Runner:   w.runner,
		Session:  w.session,
	})
}

// algorithmInfo is one row of the list command.
type algorithmInfo struct {
	Name       string   `json:"name" yaml:"name"`
	Sources    int      `json:"sources" yaml:"sources"`
	Features   []string `json:"features,omitempty" yaml:"features,omitempty"`
	Tests      int      `json:"tests" yaml:"tests"`
	Benchmarks int      `json:"benchmarks" yaml:"benchmarks"`
	Platforms  []string `json:"platforms,omitempty" yaml:"platforms,omitempty"`
}

func (w *workspace) algorithms(ctx context.Context) ([]algorithmInfo, error) {
	m, err := w.loadManifest(ctx)
	if err != nil {
		return nil, err
	}
	m, err = config.Filter(m, w.opts.Algorithms)
	if err != nil {
		return nil, err
	}

	var infos []algorithmInfo
	for _, alg := range m.Algorithms() {
		entries, _ := m.Sources.Get(alg)
		tests, _ := m.Tests.Get(alg)
		benchmarks, _ := m.Benchmarks.Get(alg)
		info := algorithmInfo{Name: alg, Sources: len(entries), Tests: len(tests), Benchmarks: len(benchmarks)}
		for _, e := range entries {
			if !e.IsBaseline() && !slices.Contains(info.Features, e.Feature) {
				info.Features = append(info.Features, e.Feature)
			}
		}
		for _, p := range m.Platforms() {
			platform, _ := m.Vale.Get(p)
			if files, ok := platform.Get(alg); ok && len(files) > 0 {
				info.Platforms = append(info.Platforms, p)
			}
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (w *workspace) list(ctx context.Context, format string) error {
	infos, err := w.algorithms(ctx)
	if err != nil {
		return err
	}
	switch format {
	case "json":
		return listJSON(w.stdout, infos)
	case "yaml":
		return listYAML(w.stdout, infos)
	case "", "table":
		return listTable(w.stdout, infos)
	}
	return fmt.Errorf("%w: unknown format %q (expected table, json or yaml)", errUsage, format)
}

func listTable(out io.Writer, infos []algorithmInfo) error {
	fmt.Fprintln(out, "Available algorithms:")
	fmt.Fprintln(out, "---------------------")

	if len(infos) == 0 {
		fmt.Fprintln(out, "No algorithms found")
		return nil
	}

	maxNameLen := 0
	for _, info := range infos {
		maxNameLen = max(maxNameLen, len(info.Name))
	}

	for _, info := range infos {
		padding := strings.Repeat(" ", maxNameLen-len(info.Name)+2)
		extra := ""
		if len(info.Features) > 0 {
			extra += fmt.Sprintf(" (features: %s)", strings.Join(info.Features, ", "))
		}
		if len(info.Platforms) > 0 {
			extra += fmt.Sprintf(" (assembly: %s)", strings.Join(info.Platforms, ", "))
		}
		fmt.Fprintf(out, "  %s%s%d sources, %d tests, %d benchmarks%s\n",
			info.Name, padding, info.Sources, info.Tests, info.Benchmarks, extra)
	}

	fmt.Fprintf(out, "\nTotal: %d algorithms\n", len(infos))
	return nil
}

func listJSON(out io.Writer, infos []algorithmInfo) error {
	if infos == nil {
		infos = []algorithmInfo{}
	}
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(map[string]interface{}{
		"algorithms": infos,
		"total":      len(infos),
	})
}

func listYAML(out io.Writer, infos []algorithmInfo) error {
	encoder := yaml.NewEncoder(out)
	defer func() { _ = encoder.Close() }()
	return encoder.Encode(map[string]interface{}{
		"algorithms": infos,
		"total":      len(infos),
	})
}
