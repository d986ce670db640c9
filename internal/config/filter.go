package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"mach/internal/manifest"
)

// UnknownAlgorithmError reports a requested algorithm that the manifest's
// source table does not declare.
type UnknownAlgorithmError struct {
	Name string
}

func (e *UnknownAlgorithmError) Error() string {
	return fmt.Sprintf("unsupported algorithm requested: %s", e.Name)
}

var listSeparator = regexp.MustCompile(`\W+`)

// ParseAlgorithms splits a user supplied list such as "sha2, blake2 ed25519"
// into lower-cased names. Any run of non-word characters separates names.
func ParseAlgorithms(s string) []string {
	var out []string
	for _, name := range listSeparator.Split(s, -1) {
		name = strings.ToLower(strings.TrimSpace(name))
		if name != "" {
			out = append(out, name)
		}
	}
	return out
}

// Filter returns a copy of m whose per-algorithm tables only hold the
// requested algorithms. An empty request keeps every algorithm. Names are
// matched as Matcher does against the keys of the source table; m is never
// modified.
func Filter(m *manifest.Manifest, requested []string) (*manifest.Manifest, error) {
	keep, err := Matcher(m.Sources.Keys(), requested)
	if err != nil {
		return nil, err
	}
	return selectAlgorithms(m, keep), nil
}

// Matcher returns a predicate holding for the requested algorithms among
// available. Names are matched case-insensitively; the first one that
// matches nothing is reported as an *UnknownAlgorithmError. An empty request
// selects every algorithm.
func Matcher(available, requested []string) (func(string) bool, error) {
	if len(requested) == 0 {
		return func(string) bool { return true }, nil
	}

	byFold := make(map[string]string, len(available))
	for _, alg := range available {
		byFold[strings.ToLower(alg)] = alg
	}

	keep := make(map[string]bool, len(requested))
	for _, name := range requested {
		alg, ok := byFold[strings.ToLower(name)]
		if !ok {
			return nil, &UnknownAlgorithmError{Name: name}
		}
		keep[alg] = true
	}
	return func(alg string) bool { return keep[alg] }, nil
}

func selectAlgorithms(m *manifest.Manifest, keep func(string) bool) *manifest.Manifest {
	out := &manifest.Manifest{
		Sources:      m.Sources.Select(keep),
		Evercrypt:    m.Evercrypt.Select(keep),
		Tests:        m.Tests.Select(keep),
		Benchmarks:   m.Benchmarks.Select(keep),
		Features:     m.Features.Select(func(string) bool { return true }),
		IncludePaths: append([]string(nil), m.IncludePaths...),
		Karamel:      append([]string(nil), m.Karamel...),
	}
	for _, platform := range m.Vale.Keys() {
		algs, _ := m.Vale.Get(platform)
		out.Vale.Set(platform, algs.Select(keep))
	}
	return out
}

// ErrBaselineFeature is returned when the baseline tag is listed among the
// disabled features.
var ErrBaselineFeature = errors.New("feature cannot be disabled")

// ExcludedFiles returns the files a build without the disabled features
// leaves out: the files of entries tagged with one of them, and the files
// whose hardware requirements name one. Both evercrypt and hacl entries are
// considered, whatever algorithm they belong to.
func ExcludedFiles(m *manifest.Manifest, disabled []string) (map[string]bool, error) {
	off := make(map[string]bool, len(disabled))
	for _, f := range disabled {
		f = strings.ToLower(f)
		if f == manifest.Baseline {
			return nil, fmt.Errorf("%w: %q", ErrBaselineFeature, manifest.Baseline)
		}
		off[f] = true
	}

	excluded := make(map[string]bool)
	if len(off) == 0 {
		return excluded, nil
	}
	for _, table := range []manifest.Table[[]manifest.SourceEntry]{m.Sources, m.Evercrypt} {
		for _, alg := range table.Keys() {
			entries, _ := table.Get(alg)
			for _, e := range entries {
				if off[strings.ToLower(e.Feature)] {
					excluded[e.File] = true
				}
			}
		}
	}
	for _, file := range m.Features.Keys() {
		hw, _ := m.Features.Get(file)
		for _, f := range hw {
			if off[strings.ToLower(f)] {
				excluded[file] = true
			}
		}
	}
	return excluded, nil
}

// DisableFeatures returns a copy of m without the entries ExcludedFiles
// reports. Disabling "vale" also drops the assembly sources. The baseline tag
// cannot be disabled.
func DisableFeatures(m *manifest.Manifest, disabled []string) (*manifest.Manifest, error) {
	excluded, err := ExcludedFiles(m, disabled)
	if err != nil {
		return nil, err
	}

	out := selectAlgorithms(m, func(string) bool { return true })
	if len(disabled) == 0 {
		return out, nil
	}

	prune := func(table manifest.Table[[]manifest.SourceEntry]) manifest.Table[[]manifest.SourceEntry] {
		var pruned manifest.Table[[]manifest.SourceEntry]
		for _, alg := range table.Keys() {
			entries, _ := table.Get(alg)
			kept := make([]manifest.SourceEntry, 0, len(entries))
			for _, e := range entries {
				if !excluded[e.File] {
					kept = append(kept, e)
				}
			}
			pruned.Set(alg, kept)
		}
		return pruned
	}
	out.Sources = prune(out.Sources)
	out.Evercrypt = prune(out.Evercrypt)

	for _, f := range disabled {
		if strings.EqualFold(f, "vale") {
			out.Vale = manifest.Table[manifest.Table[[]string]]{}
		}
	}
	return out, nil
}
