package driver

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"mach/internal/ctxlog"
	"mach/internal/session"
)

// Build configurations produced by the Ninja Multi-Config generator.
const (
	Debug   = "Debug"
	Release = "Release"
)

// Sanitizer selects a runtime instrumentation of the build.
type Sanitizer string

const (
	NoSanitizer Sanitizer = ""
	ASan        Sanitizer = "asan"
	UBSan       Sanitizer = "ubsan"
)

// ParseSanitizer accepts "", "asan" and "ubsan" in any case.
func ParseSanitizer(s string) (Sanitizer, error) {
	switch Sanitizer(strings.ToLower(strings.TrimSpace(s))) {
	case NoSanitizer:
		return NoSanitizer, nil
	case ASan:
		return ASan, nil
	case UBSan:
		return UBSan, nil
	}
	return NoSanitizer, fmt.Errorf("unknown sanitizer %q (expected asan or ubsan)", s)
}

// Builder configures and builds the C library with CMake and Ninja.
type Builder struct {
	Runner    Runner
	Session   *session.Session
	BuildDir  string
	Compiler  string
	Sanitizer Sanitizer

	// Target is a cross compilation triple such as aarch64-linux-gnu.
	Target string
	// Toolchain is an optional CMake toolchain file.
	Toolchain string
}

// ConfigureCommand returns the build generator invocation.
func (b *Builder) ConfigureCommand() Command {
	args := []string{"-S", ".", "-B", b.BuildDir, "-G", "Ninja Multi-Config"}
	if b.Compiler != "" {
		args = append(args, "-DCMAKE_C_COMPILER="+b.Compiler)
	}
	switch b.Sanitizer {
	case ASan:
		args = append(args, "-DENABLE_ASAN=ON")
	case UBSan:
		args = append(args, "-DENABLE_UBSAN=ON")
	}
	if b.Target != "" {
		args = append(args,
			"-DCMAKE_SYSTEM_PROCESSOR="+TargetArch(b.Target),
			"-DCMAKE_C_COMPILER_TARGET="+b.Target,
		)
	}
	if b.Toolchain != "" {
		args = append(args, "-DCMAKE_TOOLCHAIN_FILE="+b.Toolchain)
	}
	return Command{Name: "cmake", Args: args}
}

// Tools lists the executables a configure, build and install cycle needs.
func (b *Builder) Tools() []string {
	return []string{"cmake", "ninja"}
}

// Configure runs the build generator.
func (b *Builder) Configure(ctx context.Context) error {
	if err := b.Session.RequireTools(ctx, "cmake", "ninja"); err != nil {
		return err
	}
	ctxlog.FromContext(ctx).Info("Configuring build.", "dir", b.BuildDir)
	return b.Runner.Run(ctx, b.ConfigureCommand())
}

// Build runs the build runner for one configuration.
func (b *Builder) Build(ctx context.Context, config string) error {
	if err := b.Session.RequireTools(ctx, "ninja"); err != nil {
		return err
	}
	ctxlog.FromContext(ctx).Info("Building.", "config", config)
	return b.Runner.Run(ctx, Command{
		Name: "ninja",
		Args: []string{"-f", fmt.Sprintf("build-%s.ninja", config), "-C", b.BuildDir},
	})
}

// Install copies the built artifacts of config below prefix.
func (b *Builder) Install(ctx context.Context, config, prefix string) error {
	if err := b.Session.RequireTools(ctx, "cmake"); err != nil {
		return err
	}
	ctxlog.FromContext(ctx).Info("Installing.", "config", config, "prefix", prefix)
	return b.Runner.Run(ctx, Command{
		Name: "cmake",
		Args: []string{"--install", b.BuildDir, "--config", config, "--prefix", prefix},
	})
}

// BuildAndInstall builds config and installs it when prefix is set. Nothing
// is installed after a failed build.
func (b *Builder) BuildAndInstall(ctx context.Context, config, prefix string) error {
	if err := b.Build(ctx, config); err != nil {
		return err
	}
	if prefix == "" {
		return nil
	}
	return b.Install(ctx, config, prefix)
}

// BinaryDir is where the binaries of config are placed.
func (b *Builder) BinaryDir(config string) string {
	return filepath.Join(b.BuildDir, config)
}

// TargetArch returns the processor part of a target triple.
func TargetArch(triple string) string {
	arch, _, _ := strings.Cut(triple, "-")
	switch arch {
	case "arm64":
		return "aarch64"
	case "amd64":
		return "x86_64"
	}
	return arch
}
