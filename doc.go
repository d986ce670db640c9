/*
Package main implements mach, the build driver of the HACL C library.

mach reads the JSON build manifest (default config/config.json) that lists the
source files of every algorithm, optionally tagged with the hardware feature
they need, together with the assembly sources per platform, the tests and the
benchmarks. From it mach resolves the complete set of C files to compile by
running the compiler in dependency-scan mode, and writes the result as a CMake
file of set() statements and as a JSON dependency manifest.

# CLI Commands

Build Operations:
  - configure: resolve dependencies and write config/config.cmake and config/dep_config.json
  - build: configure, then run cmake and ninja (optionally clean, install and test)
  - test: run the test binaries of the last build, or a language binding's tests
  - benchmark: run the benchmarks and optionally compare them with a baseline
  - clean: remove the build directory and the generated configuration

Distribution:
  - snapshot: copy the files needed by the selected algorithms into a directory and archive it
  - update: replace the vendored sources with an upstream distribution
  - list: print the algorithms of the manifest as a table, JSON or YAML

Every command accepts --algorithms to restrict the work to a subset of the
algorithms, for example:

	mach build -a sha2,blake2 --release
	mach test -a blake2
	mach snapshot -a chacha20,poly1305 --archive

# Settings

An optional mach.yaml in the working directory changes the layout and adds
hooks. String values may reference $VAR or ${VAR}, resolved from vars and
then from the environment, and $cwd. The CC environment variable overrides
the compiler.

	vars:
	  HACL: "../../hacl-star"

	compiler: clang
	build_dir: build
	jobs: 8
	upstream: $HACL
	benchmark_baseline: benchmarks/baseline

	hooks:
	  pre_build:
	    - "echo building $@"

	include:
	  - mach.local.yaml

# Exit Status

mach exits with 0 on success. Usage errors, missing files, missing tools,
failed dependency scans and benchmark regressions each have their own
non-zero status.
*/
package main
