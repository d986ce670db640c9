package main

// Hooks are shell command lines run around a build.
type Hooks struct {
	PreBuild  []string `yaml:"pre_build"`
	PostBuild []string `yaml:"post_build"`
}

// Settings is the content of mach.yaml. Every field is optional.
type Settings struct {
	Vars              map[string]string `yaml:"vars"`
	Includes          []string          `yaml:"include"`
	Manifest          string            `yaml:"manifest"`
	CMakeConfig       string            `yaml:"cmake_config"`
	DepConfig         string            `yaml:"dep_config"`
	SourceDir         string            `yaml:"source_dir"`
	ValeDir           string            `yaml:"vale_dir"`
	BuildDir          string            `yaml:"build_dir"`
	TestDir           string            `yaml:"test_dir"`
	Compiler          string            `yaml:"compiler"`
	IncludePaths      []string          `yaml:"include_paths"`
	Jobs              int               `yaml:"jobs"`
	BenchmarkResults  string            `yaml:"benchmark_results"`
	BenchmarkBaseline string            `yaml:"benchmark_baseline"`
	DistDir           string            `yaml:"dist_dir"`
	Upstream          string            `yaml:"upstream"`
	Toolchain         string            `yaml:"toolchain"`
	Hooks             Hooks             `yaml:"hooks"`
	ContinueOnError   bool              `yaml:"continue_on_error"`
}

// Options are the command line flags shared by the commands.
type Options struct {
	Algorithms       []string
	DisabledFeatures []string
	Sanitizer        string
	Target           string
	Verbose          bool
	DryRun           bool
	Release          bool
	Clean            bool
	Test             bool
	Install          string
	Language         string
	Compare          bool
	Archive          bool
	Out              string
	Upstream         string
	NoVale           bool
	Format           string
}
