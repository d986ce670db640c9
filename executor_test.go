package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"mach/internal/config"
	"mach/internal/driver"
	"mach/internal/session"
)

// ===== TEST DOUBLES =====

type recordingRunner struct {
	commands []driver.Command
	failOn   string
}

func (r *recordingRunner) Run(_ context.Context, cmd driver.Command) error {
	r.commands = append(r.commands, cmd)
	if r.failOn != "" && strings.Contains(cmd.String(), r.failOn) {
		return errors.New("exit status 1")
	}
	return nil
}

func (r *recordingRunner) lines() []string {
	out := make([]string, len(r.commands))
	for i, c := range r.commands {
		out[i] = c.String()
	}
	return out
}

type mapScanner map[string][]string

func (m mapScanner) Scan(_ context.Context, file string) ([]string, error) {
	return m[file], nil
}

const testManifest = `{
  "include_paths": ["include"],
  "hacl_sources": {
    "sha2": ["Hacl_Hash_SHA2.c"],
    "blake2": ["Hacl_Hash_Blake2b.c", {"file": "Hacl_Hash_Blake2b_Simd256.c", "features": "vec256"}]
  },
  "vale_sources": {"x64-linux": {"sha2": ["sha256-x86_64-linux.S"]}},
  "tests": {"sha2": ["sha2.cc"], "blake2": ["blake2b.cc"]},
  "benchmarks": {"sha2": ["sha2.cc"]}
}`

// newTestProject creates a project in a temporary directory, makes it the
// working directory and returns a workspace on it.
func newTestProject(t *testing.T, opts Options) (*workspace, *recordingRunner, *bytes.Buffer) {
	t.Helper()
	t.Setenv("CC", "")
	dir := t.TempDir()
	t.Chdir(dir)

	writeFile(t, "config/config.json", testManifest)
	for _, f := range []string{"Hacl_Hash_SHA2.c", "Hacl_Hash_Blake2b.c", "Hacl_Hash_Blake2b_Simd256.c", "Lib_Memzero0.c"} {
		writeFile(t, filepath.Join("src", f), "/* "+f+" */")
	}
	writeFile(t, "include/Lib_Memzero0.h", "")

	s, err := loadSettings(context.Background(), defaultSettingsFile, false)
	if err != nil {
		t.Fatalf("loadSettings() failed: %v", err)
	}

	runner := &recordingRunner{}
	var out bytes.Buffer
	w := &workspace{
		settings: s,
		opts:     opts,
		runner:   runner,
		session:  &session.Session{LookPath: func(name string) (string, error) { return "/usr/bin/" + name, nil }},
		scanner:  mapScanner{"Hacl_Hash_SHA2.c": {"include/Lib_Memzero0.h"}},
		stdout:   &out,
	}
	return w, runner, &out
}

func touchBinary(t *testing.T, dir, stem string) {
	t.Helper()
	name := stem
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	writeFile(t, filepath.Join(dir, name), "")
}

// ===== WORKFLOW TESTS =====

func TestConfigureWritesBothFiles(t *testing.T) {
	w, _, _ := newTestProject(t, Options{})

	c, err := w.configure(context.Background())
	if err != nil {
		t.Fatalf("configure() failed: %v", err)
	}
	if got := c.Sources.Baseline(); !equalStrings(got, []string{"Hacl_Hash_SHA2.c", "Lib_Memzero0.c", "Hacl_Hash_Blake2b.c"}) {
		t.Errorf("baseline = %v", got)
	}

	cmake, err := os.ReadFile("config/config.cmake")
	if err != nil {
		t.Fatalf("config.cmake not written: %v", err)
	}
	if !strings.Contains(string(cmake), "set(SOURCES_vec256 ${PROJECT_SOURCE_DIR}/src/Hacl_Hash_Blake2b_Simd256.c)") {
		t.Errorf("unexpected config.cmake:\n%s", cmake)
	}
	if _, err := os.Stat("config/dep_config.json"); err != nil {
		t.Errorf("dep_config.json not written: %v", err)
	}
}

func TestConfigureUnknownAlgorithm(t *testing.T) {
	w, _, _ := newTestProject(t, Options{Algorithms: []string{"sha2", "y"}})

	_, err := w.configure(context.Background())
	var unknown *config.UnknownAlgorithmError
	if !errors.As(err, &unknown) || unknown.Name != "y" {
		t.Fatalf("expected UnknownAlgorithmError for y, got %v", err)
	}
	if _, err := os.Stat("config/config.cmake"); !os.IsNotExist(err) {
		t.Error("nothing must be written for an unknown algorithm")
	}
}

func TestConfigureRequiresCompiler(t *testing.T) {
	w, _, _ := newTestProject(t, Options{})
	w.scanner = nil
	w.session = &session.Session{LookPath: func(string) (string, error) { return "", errors.New("not found") }}

	_, err := w.configure(context.Background())
	var missing *session.ToolMissingError
	if !errors.As(err, &missing) || missing.Tool != "clang" {
		t.Fatalf("expected missing clang, got %v", err)
	}
}

func TestBuildRunsHooksAroundBuild(t *testing.T) {
	w, runner, _ := newTestProject(t, Options{Release: true, Install: "dist", Sanitizer: "asan"})
	w.settings.Vars = map[string]string{"GREETING": "hello"}
	w.settings.Hooks = Hooks{PreBuild: []string{"echo $GREETING $@"}, PostBuild: []string{"echo done"}}

	if err := w.build(context.Background()); err != nil {
		t.Fatalf("build() failed: %v", err)
	}

	lines := runner.lines()
	expected := []string{
		driver.Shell("echo hello pre_build").String(),
		"cmake -S . -B build -G Ninja Multi-Config -DCMAKE_C_COMPILER=clang -DENABLE_ASAN=ON",
		"ninja -f build-Release.ninja -C build",
		"cmake --install build --config Release --prefix dist",
		driver.Shell("echo done").String(),
	}
	if !equalStrings(lines, expected) {
		t.Errorf("commands =\n%s\nexpected\n%s", strings.Join(lines, "\n"), strings.Join(expected, "\n"))
	}
}

func TestBuildFailureStopsBeforeInstall(t *testing.T) {
	w, runner, _ := newTestProject(t, Options{Install: "dist"})
	runner.failOn = "ninja"

	if err := w.build(context.Background()); err == nil {
		t.Fatal("expected the build to fail")
	}
	for _, l := range runner.lines() {
		if strings.Contains(l, "--install") {
			t.Errorf("install ran after a failed build: %s", l)
		}
	}
}

func TestBuildHookFailure(t *testing.T) {
	w, runner, _ := newTestProject(t, Options{})
	w.settings.Hooks.PreBuild = []string{"false"}
	runner.failOn = "false"

	if err := w.build(context.Background()); err == nil {
		t.Fatal("expected the pre_build hook to stop the build")
	}
	if len(runner.commands) != 1 {
		t.Errorf("commands after a failed hook: %v", runner.lines())
	}

	w.settings.ContinueOnError = true
	runner.commands = nil
	if err := w.build(context.Background()); err != nil {
		t.Fatalf("continue_on_error should ignore the hook failure: %v", err)
	}
}

func TestBuildMissingToolStopsBeforeAnyWork(t *testing.T) {
	tests := []struct {
		name    string
		missing string
		scanner bool
	}{
		{"Missing cmake", "cmake", true},
		{"Missing ninja", "ninja", true},
		{"Missing compiler", "clang", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, runner, _ := newTestProject(t, Options{Clean: true})
			if !tt.scanner {
				w.scanner = nil
			}
			w.settings.Hooks.PreBuild = []string{"echo pre"}
			w.session = &session.Session{LookPath: func(name string) (string, error) {
				if name == tt.missing {
					return "", errors.New("not found")
				}
				return "/usr/bin/" + name, nil
			}}
			writeFile(t, "build/stale", "")

			err := w.build(context.Background())
			var missing *session.ToolMissingError
			if !errors.As(err, &missing) || missing.Tool != tt.missing {
				t.Fatalf("expected missing %s, got %v", tt.missing, err)
			}
			if exitCode(err) != exitToolMissing {
				t.Errorf("exitCode = %d", exitCode(err))
			}
			if len(runner.commands) != 0 {
				t.Errorf("nothing should run, got %v", runner.lines())
			}
			for _, f := range []string{"config/config.cmake", "config/dep_config.json"} {
				if _, err := os.Stat(f); !os.IsNotExist(err) {
					t.Errorf("%s written before the tool check", f)
				}
			}
			if _, err := os.Stat("build/stale"); err != nil {
				t.Errorf("clean ran before the tool check: %v", err)
			}
		})
	}
}

func TestBuildRejectsUnknownSanitizer(t *testing.T) {
	w, runner, _ := newTestProject(t, Options{Sanitizer: "msan"})

	err := w.build(context.Background())
	if exitCode(err) != exitUsage {
		t.Errorf("exitCode = %d for %v", exitCode(err), err)
	}
	if len(runner.commands) != 0 {
		t.Errorf("nothing should run, got %v", runner.lines())
	}
}

func TestTestWithoutConfiguration(t *testing.T) {
	w, _, _ := newTestProject(t, Options{})

	err := w.test(context.Background())
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected a missing configuration, got %v", err)
	}
	if !strings.Contains(err.Error(), "mach configure") {
		t.Errorf("error should point to configure: %v", err)
	}
}

func TestTestRunsFilteredBinaries(t *testing.T) {
	w, runner, _ := newTestProject(t, Options{Algorithms: []string{"blake2"}})
	if _, err := w.configure(context.Background()); err != nil {
		t.Fatalf("configure() failed: %v", err)
	}
	touchBinary(t, "build/Debug", "blake2b")

	if err := w.test(context.Background()); err != nil {
		t.Fatalf("test() failed: %v", err)
	}
	if len(runner.commands) != 1 || !strings.Contains(runner.commands[0].Name, "blake2b") {
		t.Errorf("commands = %v", runner.lines())
	}
}

func TestTestLanguageBinding(t *testing.T) {
	w, runner, _ := newTestProject(t, Options{Language: "rust"})

	if err := w.test(context.Background()); err != nil {
		t.Fatalf("test() failed: %v", err)
	}
	if len(runner.commands) != 1 || runner.commands[0].Name != "cargo" {
		t.Errorf("commands = %v", runner.lines())
	}
}

func TestBenchmarkCompareNeedsBaseline(t *testing.T) {
	w, _, _ := newTestProject(t, Options{Compare: true})
	if _, err := w.configure(context.Background()); err != nil {
		t.Fatalf("configure() failed: %v", err)
	}

	if err := w.benchmark(context.Background()); exitCode(err) != exitUsage {
		t.Errorf("expected a usage error, got %v", err)
	}
}

func TestClean(t *testing.T) {
	w, _, out := newTestProject(t, Options{DryRun: true})
	if _, err := w.configure(context.Background()); err != nil {
		t.Fatalf("configure() failed: %v", err)
	}
	writeFile(t, "build/Debug/sha2", "")

	if err := w.clean(context.Background()); err != nil {
		t.Fatalf("clean() failed: %v", err)
	}
	if !strings.Contains(out.String(), "[DRY RUN] Would remove: build") {
		t.Errorf("dry run output = %q", out.String())
	}
	if _, err := os.Stat("build"); err != nil {
		t.Error("dry run removed the build directory")
	}

	w.opts.DryRun = false
	if err := w.clean(context.Background()); err != nil {
		t.Fatalf("clean() failed: %v", err)
	}
	for _, p := range []string{"build", "config/config.cmake", "config/dep_config.json"} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("%s still exists", p)
		}
	}
	if _, err := os.Stat("config/config.json"); err != nil {
		t.Error("clean must keep the manifest")
	}
}

// ===== LIST TESTS =====

func TestListFormats(t *testing.T) {
	w, _, out := newTestProject(t, Options{})

	if err := w.list(context.Background(), "table"); err != nil {
		t.Fatalf("list(table) failed: %v", err)
	}
	table := out.String()
	for _, want := range []string{"sha2", "blake2", "(features: vec256)", "(assembly: x64-linux)", "Total: 2 algorithms"} {
		if !strings.Contains(table, want) {
			t.Errorf("table output misses %q:\n%s", want, table)
		}
	}

	out.Reset()
	if err := w.list(context.Background(), "json"); err != nil {
		t.Fatalf("list(json) failed: %v", err)
	}
	var decoded struct {
		Algorithms []algorithmInfo `json:"algorithms"`
		Total      int             `json:"total"`
	}
	if err := json.Unmarshal(out.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if decoded.Total != 2 || decoded.Algorithms[0].Name != "sha2" || decoded.Algorithms[1].Sources != 2 {
		t.Errorf("json output = %+v", decoded)
	}

	out.Reset()
	if err := w.list(context.Background(), "yaml"); err != nil {
		t.Fatalf("list(yaml) failed: %v", err)
	}
	var fromYAML struct {
		Algorithms []algorithmInfo `yaml:"algorithms"`
		Total      int             `yaml:"total"`
	}
	if err := yaml.Unmarshal(out.Bytes(), &fromYAML); err != nil {
		t.Fatalf("invalid yaml: %v", err)
	}
	if fromYAML.Total != 2 || fromYAML.Algorithms[1].Tests != 1 {
		t.Errorf("yaml output = %+v", fromYAML)
	}

	if err := w.list(context.Background(), "xml"); exitCode(err) != exitUsage {
		t.Errorf("unknown format should be a usage error, got %v", err)
	}
}

func TestListSubset(t *testing.T) {
	w, _, out := newTestProject(t, Options{Algorithms: []string{"blake2"}})

	if err := w.list(context.Background(), "table"); err != nil {
		t.Fatalf("list() failed: %v", err)
	}
	if strings.Contains(out.String(), "sha2") || !strings.Contains(out.String(), "Total: 1 algorithms") {
		t.Errorf("subset listing:\n%s", out.String())
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
