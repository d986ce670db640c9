package main

import (
	"os"
	"strings"
	"time"
)

// Default layout of the C distribution.
const (
	defaultSettingsFile = "mach.yaml"
	defaultManifest     = "config/config.json"
	defaultCMakeConfig  = "config/config.cmake"
	defaultDepConfig    = "config/dep_config.json"
	defaultSourceDir    = "src"
	defaultValeDir      = "vale/src"
	defaultBuildDir     = "build"
	defaultTestDir      = "tests"
	defaultCompiler     = "clang"
	defaultResults      = "benchmarks/results"
	defaultDistDir      = "dist"
	defaultUpstream     = "../../hacl-star"
)

// defaultIncludePaths are passed to the dependency scan in addition to the
// manifest's include paths.
var defaultIncludePaths = []string{"karamel/krmllib/dist/minimal", "karamel/include"}

// lookupVar resolves a built-in, then a settings variable, then the
// environment. Unknown names are empty.
func (s *Settings) lookupVar(name, stage string) string {
	name = strings.Trim(name, "${}")
	switch name {
	case "TIMESTAMP":
		return time.Now().Format("2006-01-02 15:04:05")
	case "@":
		return stage
	case "cwd":
		path, _ := os.Getwd()
		return path
	default:
		if v, ok := s.Vars[name]; ok {
			return v
		}
		return os.Getenv(name)
	}
}

// applyDefaults fills the unset fields. CC in the environment overrides the
// configured compiler.
func (s *Settings) applyDefaults() {
	setDefault(&s.Manifest, defaultManifest)
	setDefault(&s.CMakeConfig, defaultCMakeConfig)
	setDefault(&s.DepConfig, defaultDepConfig)
	setDefault(&s.SourceDir, defaultSourceDir)
	setDefault(&s.ValeDir, defaultValeDir)
	setDefault(&s.BuildDir, defaultBuildDir)
	setDefault(&s.TestDir, defaultTestDir)
	setDefault(&s.Compiler, defaultCompiler)
	setDefault(&s.BenchmarkResults, defaultResults)
	setDefault(&s.DistDir, defaultDistDir)
	setDefault(&s.Upstream, defaultUpstream)
	if cc := os.Getenv("CC"); cc != "" {
		s.Compiler = cc
	}
	if s.IncludePaths == nil {
		s.IncludePaths = append([]string(nil), defaultIncludePaths...)
	}
}

func setDefault(field *string, value string) {
	if strings.TrimSpace(*field) == "" {
		*field = value
	}
}
