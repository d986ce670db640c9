package emit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"mach/internal/config"
	"mach/internal/manifest"
)

// FeatureFiles is one bucket of the resolved sources.
type FeatureFiles struct {
	Feature string   `json:"feature"`
	Files   []string `json:"files"`
}

// DepConfig is the JSON dependency manifest.
type DepConfig struct {
	Algorithms   []string                 `json:"algorithms"`
	SourceDir    string                   `json:"source_dir"`
	IncludePaths []string                 `json:"include_paths"`
	Karamel      []string                 `json:"karamel_sources"`
	Sources      []FeatureFiles           `json:"sources"`
	PerAlgorithm manifest.Table[[]string] `json:"algorithm_sources"`
	Headers      manifest.Table[[]string] `json:"headers"`
	Vale         manifest.Table[[]string] `json:"vale_sources"`
	Tests        manifest.Table[[]string] `json:"tests"`
	Benchmarks   manifest.Table[[]string] `json:"benchmarks"`
}

// NewDepConfig captures the tables of c.
func NewDepConfig(c *config.Config, l Layout) *DepConfig {
	dc := &DepConfig{
		Algorithms:   nonNil(c.Algorithms()),
		SourceDir:    l.SourceDir,
		IncludePaths: nonNil(c.IncludePaths),
		Karamel:      nonNil(c.Manifest.Karamel),
		Sources:      []FeatureFiles{},
		PerAlgorithm: c.PerAlgorithm,
		Headers:      c.Headers,
		Tests:        c.Manifest.Tests,
		Benchmarks:   c.Manifest.Benchmarks,
	}
	for _, tag := range c.Sources.Features() {
		dc.Sources = append(dc.Sources, FeatureFiles{Feature: tag, Files: nonNil(c.Sources.Files(tag))})
	}
	if c.HasAssembly() {
		for _, p := range c.Manifest.Platforms() {
			dc.Vale.Set(p, c.AssemblySources(p))
		}
	}
	return dc
}

// Files returns the files of the feature bucket tag.
func (dc *DepConfig) Files(tag string) []string {
	for _, ff := range dc.Sources {
		if ff.Feature == tag {
			return ff.Files
		}
	}
	return nil
}

// RenderDepConfig returns the indented JSON encoding of the dependency
// manifest of c.
func RenderDepConfig(c *config.Config, l Layout) ([]byte, error) {
	data, err := json.MarshalIndent(NewDepConfig(c, l), "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// WriteDepConfig renders the dependency manifest of c and replaces whatever
// is at dest.
func WriteDepConfig(ctx context.Context, dest string, c *config.Config, l Layout) error {
	data, err := RenderDepConfig(c, l)
	if err != nil {
		return fmt.Errorf("failed to encode dependency manifest: %w", err)
	}
	return writeFile(ctx, dest, data)
}

// ReadDepConfig loads a dependency manifest written by WriteDepConfig.
func ReadDepConfig(path string) (*DepConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var dc DepConfig
	if err := json.Unmarshal(data, &dc); err != nil {
		return nil, fmt.Errorf("dependency manifest %s: %w", path, err)
	}
	return &dc, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
