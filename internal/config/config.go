// Package config turns a build manifest into the resolved build
// configuration: the algorithm subset, the dependency-scanned source files
// grouped by hardware feature, and the tables derived from them.
package config

import (
	"context"
	"io/fs"
	"path"
	"slices"

	"golang.org/x/sync/errgroup"

	"mach/internal/ctxlog"
	"mach/internal/depscan"
	"mach/internal/manifest"
)

// Options selects what New resolves.
type Options struct {
	// Algorithms restricts the build to these algorithms. Empty means all.
	Algorithms []string
	// DisabledFeatures drops the source entries tagged with these features.
	DisabledFeatures []string
	// IncludePaths are appended to the manifest's include paths.
	IncludePaths []string
	// Jobs bounds the number of concurrent dependency scans. Values below
	// one scan sequentially.
	Jobs int
}

// SourceIndex maps the base name of every C source of the source directory
// to its file name.
type SourceIndex map[string]string

// ReadSourceIndex lists the *.c files at the root of fsys.
func ReadSourceIndex(fsys fs.FS) (SourceIndex, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, err
	}
	idx := make(SourceIndex, len(entries))
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".c" {
			continue
		}
		idx[depscan.BaseName(e.Name())] = e.Name()
	}
	return idx, nil
}

// Lookup returns the source file whose base name matches the header.
func (ix SourceIndex) Lookup(header string) (string, bool) {
	name, ok := ix[depscan.BaseName(header)]
	return name, ok
}

// Config is the resolved configuration of one command invocation.
type Config struct {
	// Manifest is the filtered manifest.
	Manifest *manifest.Manifest
	// Sources holds the resolved files of every algorithm by feature tag.
	Sources DependencySet
	// PerAlgorithm holds the resolved files of each algorithm, all tags
	// together.
	PerAlgorithm manifest.Table[[]string]
	// Headers holds the scanned headers of each baseline file.
	Headers manifest.Table[[]string]
	// RequiredFeatures maps a file to the hardware features it needs.
	RequiredFeatures manifest.Table[[]string]
	// CPUFeatures maps a hardware feature to the files that need it.
	CPUFeatures  manifest.Table[[]string]
	IncludePaths []string

	subset   bool
	excluded map[string]bool
}

// New filters m and resolves the dependencies of every retained source file.
func New(ctx context.Context, m *manifest.Manifest, scanner depscan.Scanner, index SourceIndex, opts Options) (*Config, error) {
	excluded, err := ExcludedFiles(m, opts.DisabledFeatures)
	if err != nil {
		return nil, err
	}
	filtered, err := Filter(m, opts.Algorithms)
	if err != nil {
		return nil, err
	}
	filtered, err = DisableFeatures(filtered, opts.DisabledFeatures)
	if err != nil {
		return nil, err
	}

	c := &Config{
		Manifest:     filtered,
		IncludePaths: Dedup(append(slices.Clone(filtered.IncludePaths), opts.IncludePaths...)),
		subset:       len(opts.Algorithms) > 0,
		excluded:     excluded,
	}
	if err := c.resolve(ctx, scanner, index, opts.Jobs); err != nil {
		return nil, err
	}
	c.collectFeatures()
	return c, nil
}

type workItem struct {
	algorithm string
	entry     manifest.SourceEntry
}

func (c *Config) workItems() []workItem {
	var items []workItem
	for _, table := range []manifest.Table[[]manifest.SourceEntry]{c.Manifest.Sources, c.Manifest.Evercrypt} {
		for _, alg := range table.Keys() {
			entries, _ := table.Get(alg)
			for _, e := range entries {
				items = append(items, workItem{algorithm: alg, entry: e})
			}
		}
	}
	return items
}

func (c *Config) resolve(ctx context.Context, scanner depscan.Scanner, index SourceIndex, jobs int) error {
	logger := ctxlog.FromContext(ctx)
	items := c.workItems()

	// Each baseline file is scanned once, whatever the number of algorithms
	// listing it.
	var scanned []string
	for _, it := range items {
		if it.entry.IsBaseline() && !slices.Contains(scanned, it.entry.File) {
			scanned = append(scanned, it.entry.File)
		}
	}

	headers := make([][]string, len(scanned))
	errs := make([]error, len(scanned))
	if jobs < 1 {
		jobs = 1
	}
	var g errgroup.Group
	g.SetLimit(jobs)
	for i, file := range scanned {
		g.Go(func() error {
			logger.Debug("Scanning dependencies.", "file", file)
			headers[i], errs[i] = scanner.Scan(ctx, file)
			return nil
		})
	}
	_ = g.Wait()
	// The first failure in declaration order is reported, whatever the
	// scheduling.
	for _, err := range errs {
		if err != nil {
			return err
		}
	}

	deps := make(map[string][]string, len(scanned))
	for i, file := range scanned {
		c.Headers.Set(file, nonNil(headers[i]))
		files := []string{file}
		for _, h := range headers[i] {
			if sibling, ok := index.Lookup(h); ok && !c.excluded[sibling] {
				files = append(files, sibling)
			}
		}
		deps[file] = Dedup(files)
	}

	for _, it := range items {
		files := []string{it.entry.File}
		if it.entry.IsBaseline() {
			files = deps[it.entry.File]
		}
		c.Sources.Add(it.entry.Feature, files...)

		prev, _ := c.PerAlgorithm.Get(it.algorithm)
		c.PerAlgorithm.Set(it.algorithm, append(prev, files...))
	}
	for _, alg := range c.PerAlgorithm.Keys() {
		files, _ := c.PerAlgorithm.Get(alg)
		c.PerAlgorithm.Set(alg, Dedup(files))
	}
	c.Sources.normalize()

	logger.Debug("Dependencies resolved.", "files", len(c.Sources.All()), "features", c.Sources.Features())
	return nil
}

// collectFeatures copies the hardware feature map and inverts it. With an
// algorithm subset only files that are part of the build are kept.
func (c *Config) collectFeatures() {
	for _, file := range c.Manifest.Features.Keys() {
		if c.excluded[file] || (c.subset && !c.Sources.Contains(file)) {
			continue
		}
		features, _ := c.Manifest.Features.Get(file)
		c.RequiredFeatures.Set(file, features)
		for _, f := range features {
			prev, _ := c.CPUFeatures.Get(f)
			c.CPUFeatures.Set(f, append(slices.Clone(prev), file))
		}
	}
}

// Algorithms returns the retained algorithms in manifest order.
func (c *Config) Algorithms() []string {
	return c.Manifest.Algorithms()
}

// Tests returns every test file of the retained algorithms.
func (c *Config) Tests() []string {
	return flatten(c.Manifest.Tests)
}

// Benchmarks returns every benchmark file of the retained algorithms.
func (c *Config) Benchmarks() []string {
	return flatten(c.Manifest.Benchmarks)
}

// AssemblySources returns the assembly files of platform.
func (c *Config) AssemblySources(platform string) []string {
	algs, ok := c.Manifest.Vale.Get(platform)
	if !ok {
		return nil
	}
	return flatten(algs)
}

// HasAssembly reports whether any platform carries assembly sources.
func (c *Config) HasAssembly() bool {
	for _, p := range c.Manifest.Platforms() {
		if len(c.AssemblySources(p)) > 0 {
			return true
		}
	}
	return false
}

func flatten(t manifest.Table[[]string]) []string {
	var out []string
	for _, k := range t.Keys() {
		v, _ := t.Get(k)
		out = append(out, v...)
	}
	return Dedup(out)
}
