package driver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"mach/internal/ctxlog"
	"mach/internal/manifest"
)

// Benchmarker runs the benchmark binaries of a Release build and stores one
// Google Benchmark JSON result file per binary.
type Benchmarker struct {
	Runner    Runner
	BinaryDir string
	// ResultsDir receives <stem>.json for every benchmark.
	ResultsDir string
	Args       []string
}

// Run executes every benchmark in table order and returns the result files.
// Result files of earlier runs are removed first, so ResultsDir only holds
// the results of this run.
func (b *Benchmarker) Run(ctx context.Context, benchmarks manifest.Table[[]string]) ([]string, error) {
	logger := ctxlog.FromContext(ctx)
	if err := os.MkdirAll(b.ResultsDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", b.ResultsDir, err)
	}
	results, err := filepath.Abs(b.ResultsDir)
	if err != nil {
		return nil, err
	}
	stale, err := filepath.Glob(filepath.Join(results, "*.json"))
	if err != nil {
		return nil, err
	}
	for _, f := range stale {
		if err := os.Remove(f); err != nil {
			return nil, err
		}
		logger.Debug("Removed stale result.", "file", f)
	}

	var written []string
	seen := make(map[string]bool)
	for _, algorithm := range benchmarks.Keys() {
		files, _ := benchmarks.Get(algorithm)
		for _, file := range files {
			name := stem(file)
			if seen[name] {
				continue
			}
			seen[name] = true

			bin, err := artifact("benchmark", b.BinaryDir, name+"_benchmark")
			if err != nil {
				return written, err
			}
			out := filepath.Join(results, name+".json")
			args := append([]string{
				"--benchmark_out=" + out,
				"--benchmark_out_format=json",
			}, b.Args...)
			if err := b.Runner.Run(ctx, Command{Name: bin, Args: args, Dir: b.BinaryDir}); err != nil {
				return written, err
			}
			logger.Debug("Benchmark finished.", "benchmark", name, "results", out)
			written = append(written, out)
		}
	}
	return written, nil
}
