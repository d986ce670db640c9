// Package driver runs the external build generator, build runner, test
// binaries and benchmark binaries. Every tool is invoked as a blocking child
// process through a Runner so that tests can record invocations instead of
// executing them.
package driver

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"mach/internal/ctxlog"
)

// Command is one child process invocation.
type Command struct {
	Name string
	Args []string
	// Dir is the working directory. Empty means the current one.
	Dir string
	// Env is appended to the environment of the current process.
	Env []string
}

func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Shell wraps a command line for the platform shell.
func Shell(line string) Command {
	if runtime.GOOS == "windows" {
		return Command{Name: "cmd", Args: []string{"/C", line}}
	}
	return Command{Name: "/bin/bash", Args: []string{"-c", line}}
}

// Runner executes commands and waits for them to finish.
type Runner interface {
	Run(ctx context.Context, cmd Command) error
}

// ExecRunner runs commands with os/exec and streams their output.
type ExecRunner struct {
	Stdout  io.Writer
	Stderr  io.Writer
	Verbose bool
	DryRun  bool
}

// NewExecRunner returns a runner attached to the process stdout and stderr.
func NewExecRunner(verbose, dryRun bool) *ExecRunner {
	return &ExecRunner{Stdout: os.Stdout, Stderr: os.Stderr, Verbose: verbose, DryRun: dryRun}
}

// Run starts cmd and waits for it. A non-zero exit status is an error.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) error {
	stdout := r.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := r.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	if r.Verbose {
		fmt.Fprintf(stdout, "→ %s\n", cmd)
	}
	if r.DryRun {
		fmt.Fprintf(stdout, "  [DRY RUN] Would execute: %s\n", cmd)
		return nil
	}
	if strings.TrimSpace(cmd.Name) == "" {
		return fmt.Errorf("empty command")
	}

	ctxlog.FromContext(ctx).Debug("Running command.", "command", cmd.String(), "dir", cmd.Dir)

	// #nosec G204 - mach is a build driver, running tools is its job
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}
	c.Stdout = stdout
	c.Stderr = stderr
	if err := c.Run(); err != nil {
		return fmt.Errorf("%s: %w", cmd, err)
	}
	return nil
}

// RunShell runs every line of a hook stage in order. With continueOnError a
// failing line is logged and the next one runs.
func RunShell(ctx context.Context, r Runner, stage string, lines []string, continueOnError bool) error {
	logger := ctxlog.FromContext(ctx)
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if err := r.Run(ctx, Shell(line)); err != nil {
			if continueOnError {
				logger.Warn("Hook command failed.", "stage", stage, "command", line, "error", err)
				continue
			}
			return fmt.Errorf("in %s: %w", stage, err)
		}
	}
	return nil
}
