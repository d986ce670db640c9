package config

import (
	"slices"

	"mach/internal/manifest"
)

// DependencySet maps feature tags to ordered, duplicate-free file lists. The
// baseline tag always comes first in Features.
type DependencySet struct {
	tags    []string
	buckets map[string][]string
}

// Add appends files to the bucket of tag, creating the bucket on first use.
func (s *DependencySet) Add(tag string, files ...string) {
	if s.buckets == nil {
		s.buckets = make(map[string][]string)
	}
	if _, ok := s.buckets[tag]; !ok {
		s.tags = append(s.tags, tag)
		s.buckets[tag] = []string{}
	}
	s.buckets[tag] = append(s.buckets[tag], files...)
}

// Features returns the tags of the set: the baseline tag first when present,
// then named tags in first-seen order.
func (s *DependencySet) Features() []string {
	out := make([]string, 0, len(s.tags))
	if _, ok := s.buckets[manifest.Baseline]; ok {
		out = append(out, manifest.Baseline)
	}
	for _, tag := range s.tags {
		if tag != manifest.Baseline {
			out = append(out, tag)
		}
	}
	return out
}

// Files returns the bucket of tag.
func (s *DependencySet) Files(tag string) []string {
	return slices.Clone(s.buckets[tag])
}

// Baseline returns the baseline bucket.
func (s *DependencySet) Baseline() []string {
	return s.Files(manifest.Baseline)
}

// All returns every file of the set in Features order.
func (s *DependencySet) All() []string {
	var out []string
	for _, tag := range s.Features() {
		out = append(out, s.buckets[tag]...)
	}
	return out
}

// Contains reports whether file is in any bucket.
func (s *DependencySet) Contains(file string) bool {
	for _, files := range s.buckets {
		if slices.Contains(files, file) {
			return true
		}
	}
	return false
}

// normalize deduplicates every bucket and makes the buckets pairwise
// disjoint. Named buckets are settled first, in first-seen order, each losing
// the files an earlier named bucket already holds; the baseline bucket then
// loses every file held by a named bucket.
func (s *DependencySet) normalize() {
	claimed := make(map[string]bool)
	for _, tag := range s.tags {
		if tag == manifest.Baseline {
			continue
		}
		var kept []string
		for _, f := range Dedup(s.buckets[tag]) {
			if !claimed[f] {
				claimed[f] = true
				kept = append(kept, f)
			}
		}
		s.buckets[tag] = nonNil(kept)
	}

	if std, ok := s.buckets[manifest.Baseline]; ok {
		var kept []string
		for _, f := range Dedup(std) {
			if !claimed[f] {
				kept = append(kept, f)
			}
		}
		s.buckets[manifest.Baseline] = nonNil(kept)
	}
}

// Dedup removes repeated entries, keeping the position of each first
// occurrence.
func Dedup(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
