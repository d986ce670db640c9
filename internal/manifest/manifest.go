// Package manifest loads the declarative JSON build manifest: which source
// files make up each algorithm, which hardware feature each file needs, the
// tests and benchmarks per algorithm, and the per-platform assembly sources.
package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"slices"
)

// Baseline is the feature tag of files that need no optional hardware
// feature.
const Baseline = "std"

// SourceEntry is one file of the source table. It is either a plain file
// name, which carries the Baseline tag, or a file with a named feature.
type SourceEntry struct {
	File    string
	Feature string
}

// Plain returns an entry for a file that needs no hardware feature.
func Plain(name string) SourceEntry {
	return SourceEntry{File: name, Feature: Baseline}
}

// WithFeature returns an entry for a file that requires feature. An empty
// feature yields a Plain entry.
func WithFeature(name, feature string) SourceEntry {
	if feature == "" {
		return Plain(name)
	}
	return SourceEntry{File: name, Feature: feature}
}

// IsBaseline reports whether the entry carries the Baseline tag.
func (e SourceEntry) IsBaseline() bool {
	return e.Feature == Baseline
}

// UnmarshalJSON accepts either "file.c" or {"file": "file.c", "features": tag}.
// The features value may be a string or a list holding at most one tag.
func (e *SourceEntry) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return err
		}
		*e = Plain(name)
		return nil
	}

	var raw struct {
		File     string          `json:"file"`
		Features json.RawMessage `json:"features"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.File == "" {
		return fmt.Errorf("source entry without a file name")
	}

	feature, err := decodeFeature(raw.Features)
	if err != nil {
		return fmt.Errorf("source entry %q: %w", raw.File, err)
	}
	*e = WithFeature(raw.File, feature)
	return nil
}

func decodeFeature(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		err := json.Unmarshal(raw, &s)
		return s, err
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return "", err
	}
	switch len(list) {
	case 0:
		return "", nil
	case 1:
		return list[0], nil
	default:
		return "", fmt.Errorf("%d features declared, at most one is supported", len(list))
	}
}

// MarshalJSON writes baseline entries as bare strings.
func (e SourceEntry) MarshalJSON() ([]byte, error) {
	if e.IsBaseline() {
		return json.Marshal(e.File)
	}
	return json.Marshal(struct {
		File     string `json:"file"`
		Features string `json:"features"`
	}{e.File, e.Feature})
}

// Manifest is the parsed build manifest.
type Manifest struct {
	// Sources maps an algorithm to its source files.
	Sources Table[[]SourceEntry] `json:"hacl_sources"`
	// Evercrypt maps an algorithm to its agile-API source files.
	Evercrypt Table[[]SourceEntry] `json:"evercrypt_sources"`
	// Vale maps a platform to algorithm to assembly files.
	Vale       Table[Table[[]string]] `json:"vale_sources"`
	Tests      Table[[]string]        `json:"tests"`
	Benchmarks Table[[]string]        `json:"benchmarks"`
	// Features maps a file name to the hardware features it requires.
	Features     Table[[]string] `json:"features"`
	IncludePaths []string        `json:"include_paths"`
	// Karamel lists vendored helper sources compiled into every build.
	Karamel []string `json:"karamel_sources"`
}

// Error reports a manifest that is missing or cannot be decoded.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("manifest: %v", e.Err)
	}
	return fmt.Sprintf("manifest %s: %v", e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Load reads and decodes the manifest at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Path: path, Err: err}
	}
	m, err := Parse(data)
	if err != nil {
		err.(*Error).Path = path
		return nil, err
	}
	return m, nil
}

// Parse decodes a manifest document. It returns either a complete manifest
// or an *Error.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &Error{Err: err}
	}
	return &m, nil
}

// Algorithms returns the algorithm names of the source table in declaration
// order.
func (m *Manifest) Algorithms() []string {
	return m.Sources.Keys()
}

// Platforms returns the platforms that declare assembly sources.
func (m *Manifest) Platforms() []string {
	return m.Vale.Keys()
}

// Validate returns one warning per key of a secondary table that does not
// name an algorithm of the source table.
func (m *Manifest) Validate() []string {
	var warnings []string
	check := func(table string, keys []string) {
		for _, k := range keys {
			if !m.Sources.Has(k) {
				warnings = append(warnings, fmt.Sprintf("%s: %q is not an algorithm of hacl_sources", table, k))
			}
		}
	}
	check("evercrypt_sources", m.Evercrypt.Keys())
	check("tests", m.Tests.Keys())
	check("benchmarks", m.Benchmarks.Keys())
	for _, platform := range m.Vale.Keys() {
		algs, _ := m.Vale.Get(platform)
		check("vale_sources."+platform, algs.Keys())
	}
	return warnings
}

// Files returns every file name of the source table, in declaration order,
// without duplicates.
func (m *Manifest) Files() []string {
	var out []string
	for _, alg := range m.Sources.Keys() {
		entries, _ := m.Sources.Get(alg)
		for _, e := range entries {
			if !slices.Contains(out, e.File) {
				out = append(out, e.File)
			}
		}
	}
	return out
}
