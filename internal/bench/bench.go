// Package bench compares two sets of Google Benchmark JSON results and
// reports regressions.
package bench

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
)

// Threshold is the largest tolerated relative slowdown of a benchmark.
const Threshold = 0.2

// MissingResultError lists benchmarks that have a baseline but no current
// result.
type MissingResultError struct {
	Names []string
}

func (e *MissingResultError) Error() string {
	return fmt.Sprintf("missing current results for %s", strings.Join(e.Names, ", "))
}

// RegressionError lists every benchmark whose metric exceeded the threshold.
type RegressionError struct {
	Threshold float64
	Deltas    []Delta
}

func (e *RegressionError) Error() string {
	names := make([]string, len(e.Deltas))
	for i, d := range e.Deltas {
		names[i] = fmt.Sprintf("%s (%+.2f%%)", d.Name, d.Metric*100)
	}
	return fmt.Sprintf("regression above %.0f%%: %s", e.Threshold*100, strings.Join(names, ", "))
}

// Run is a single entry of a result file.
type Run struct {
	Name     string  `json:"name"`
	RunType  string  `json:"run_type"`
	RealTime float64 `json:"real_time"`
	CPUTime  float64 `json:"cpu_time"`
	TimeUnit string  `json:"time_unit"`
}

// Nanoseconds returns the real time of r in nanoseconds.
func (r Run) Nanoseconds() float64 {
	switch r.TimeUnit {
	case "us":
		return r.RealTime * 1e3
	case "ms":
		return r.RealTime * 1e6
	case "s":
		return r.RealTime * 1e9
	}
	return r.RealTime
}

// Results is the content of one result file.
type Results struct {
	Benchmarks []Run `json:"benchmarks"`
}

// ReadResults decodes a result file.
func ReadResults(path string) (*Results, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r Results
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("benchmark results %s: %w", path, err)
	}
	return &r, nil
}

// Names returns the benchmark names found in dir, sorted. A benchmark is named
// after its result file without the .json extension.
func Names(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(names)
	return names, nil
}

// Delta is the comparison result of one benchmark.
type Delta struct {
	Name string
	// Metric is the mean relative change of real time. Positive is slower.
	Metric float64
	// Entries is the number of runs present in both files.
	Entries int
}

// Report holds the outcome of a comparison.
type Report struct {
	Threshold float64
	Deltas    []Delta
	// Skipped names benchmarks without a baseline or without common runs.
	Skipped []string
}

// Regressions returns the deltas above the threshold.
func (r *Report) Regressions() []Delta {
	var out []Delta
	for _, d := range r.Deltas {
		if d.Metric > r.Threshold {
			out = append(out, d)
		}
	}
	return out
}

// Err returns a *RegressionError when any benchmark regressed.
func (r *Report) Err() error {
	if bad := r.Regressions(); len(bad) > 0 {
		return &RegressionError{Threshold: r.Threshold, Deltas: bad}
	}
	return nil
}

// Print writes every delta followed by the skipped benchmarks.
func (r *Report) Print(w io.Writer) {
	width := 0
	for _, d := range r.Deltas {
		width = max(width, len(d.Name))
	}
	for _, name := range r.Skipped {
		width = max(width, len(name))
	}
	for _, d := range r.Deltas {
		mark := "ok"
		if d.Metric > r.Threshold {
			mark = "REGRESSION"
		}
		fmt.Fprintf(w, "  %-*s  %+8.2f%%  %s\n", width, d.Name, d.Metric*100, mark)
	}
	for _, name := range r.Skipped {
		fmt.Fprintf(w, "  %-*s  %9s  skipped\n", width, name, "-")
	}
}

// Compare computes a delta for every benchmark present in both directories.
// Benchmarks that only have a baseline are a *MissingResultError, reported
// before any result file is read. When only names benchmarks, every other
// result file of either directory is ignored.
func Compare(currentDir, baselineDir string, threshold float64, only ...string) (*Report, error) {
	current, err := Names(currentDir)
	if err != nil {
		return nil, fmt.Errorf("current results: %w", err)
	}
	baseline, err := Names(baselineDir)
	if err != nil {
		return nil, fmt.Errorf("baseline results: %w", err)
	}
	if len(only) > 0 {
		other := func(name string) bool { return !slices.Contains(only, name) }
		current = slices.DeleteFunc(current, other)
		baseline = slices.DeleteFunc(baseline, other)
	}

	inCurrent := make(map[string]bool, len(current))
	for _, n := range current {
		inCurrent[n] = true
	}
	inBaseline := make(map[string]bool, len(baseline))
	var missing []string
	for _, n := range baseline {
		inBaseline[n] = true
		if !inCurrent[n] {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return nil, &MissingResultError{Names: missing}
	}

	report := &Report{Threshold: threshold}
	for _, name := range current {
		if !inBaseline[name] {
			report.Skipped = append(report.Skipped, name)
			continue
		}
		d, err := compareFiles(name,
			filepath.Join(currentDir, name+".json"),
			filepath.Join(baselineDir, name+".json"))
		if err != nil {
			return nil, err
		}
		if d.Entries == 0 {
			report.Skipped = append(report.Skipped, name)
			continue
		}
		report.Deltas = append(report.Deltas, d)
	}
	return report, nil
}

func compareFiles(name, currentPath, baselinePath string) (Delta, error) {
	cur, err := ReadResults(currentPath)
	if err != nil {
		return Delta{}, err
	}
	base, err := ReadResults(baselinePath)
	if err != nil {
		return Delta{}, err
	}

	baseline := make(map[string]Run)
	for _, r := range base.Benchmarks {
		if r.RunType == "aggregate" {
			continue
		}
		if _, ok := baseline[r.Name]; !ok {
			baseline[r.Name] = r
		}
	}

	d := Delta{Name: name}
	sum := 0.0
	for _, r := range cur.Benchmarks {
		if r.RunType == "aggregate" {
			continue
		}
		b, ok := baseline[r.Name]
		if !ok || b.Nanoseconds() == 0 {
			continue
		}
		sum += (r.Nanoseconds() - b.Nanoseconds()) / b.Nanoseconds()
		d.Entries++
	}
	if d.Entries > 0 {
		d.Metric = sum / float64(d.Entries)
	}
	return d, nil
}

// Check compares the two directories, prints the full report to w and then
// fails when any benchmark regressed.
func Check(w io.Writer, currentDir, baselineDir string, only ...string) error {
	report, err := Compare(currentDir, baselineDir, Threshold, only...)
	if err != nil {
		return err
	}
	report.Print(w)
	return report.Err()
}

// IsBenchmarkError reports whether err comes from a comparison verdict
// rather than from reading results.
func IsBenchmarkError(err error) bool {
	var missing *MissingResultError
	var regression *RegressionError
	return errors.As(err, &missing) || errors.As(err, &regression)
}
