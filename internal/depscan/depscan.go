// Package depscan runs the C compiler in dependency-scan mode (-MM) and
// turns its make-rule output into the list of headers a source file
// includes.
package depscan

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path"
	"strings"
)

// Scanner lists the headers included, directly or transitively, by a source
// file of the source directory.
type Scanner interface {
	Scan(ctx context.Context, file string) ([]string, error)
}

// ExecFunc runs name with args in dir and returns its standard output and
// standard error.
type ExecFunc func(ctx context.Context, dir, name string, args ...string) (stdout, stderr []byte, err error)

// ScanError reports a dependency scan that exited unsuccessfully.
type ScanError struct {
	File   string
	Stderr string
	Err    error
}

func (e *ScanError) Error() string {
	msg := fmt.Sprintf("dependency scan of %s failed: %v", e.File, e.Err)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += "\n" + s
	}
	return msg
}

func (e *ScanError) Unwrap() error { return e.Err }

// Compiler scans with a clang/gcc compatible compiler.
type Compiler struct {
	// CC is the compiler executable.
	CC string
	// IncludePaths are passed as -I flags, in order.
	IncludePaths []string
	// SourceDir is the directory holding the scanned files, relative to Dir.
	SourceDir string
	// Dir is the working directory of the compiler. Empty means the current
	// directory.
	Dir string
	// Exec runs the compiler. Nil means os/exec.
	Exec ExecFunc
}

// Args returns the compiler arguments used to scan file.
func (c *Compiler) Args(file string) []string {
	args := make([]string, 0, 2*len(c.IncludePaths)+2)
	for _, inc := range c.IncludePaths {
		args = append(args, "-I", inc)
	}
	return append(args, "-MM", c.sourcePath(file))
}

func (c *Compiler) sourcePath(file string) string {
	if c.SourceDir == "" {
		return file
	}
	return path.Join(c.SourceDir, file)
}

// Scan implements Scanner.
func (c *Compiler) Scan(ctx context.Context, file string) ([]string, error) {
	run := c.Exec
	if run == nil {
		run = execCommand
	}
	cc := c.CC
	if cc == "" {
		cc = "clang"
	}

	stdout, stderr, err := run(ctx, c.Dir, cc, c.Args(file)...)
	if err != nil {
		return nil, &ScanError{File: file, Stderr: string(stderr), Err: err}
	}

	src := c.sourcePath(file)
	var headers []string
	for _, dep := range ParseMakeRule(string(stdout)) {
		if dep == src || dep == file {
			continue
		}
		headers = append(headers, dep)
	}
	return headers, nil
}

func execCommand(ctx context.Context, dir, name string, args ...string) ([]byte, []byte, error) {
	// #nosec G204 - the compiler comes from the settings file or $CC
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// ParseMakeRule returns the prerequisites of every rule in out, in order,
// with the targets and line continuations removed.
func ParseMakeRule(out string) []string {
	out = strings.ReplaceAll(out, "\r\n", "\n")
	out = strings.ReplaceAll(out, "\\\n", " ")

	var deps []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if i := targetEnd(line); i >= 0 {
			line = line[i+1:]
		}
		for _, field := range strings.Fields(line) {
			if field == "\\" {
				continue
			}
			deps = append(deps, field)
		}
	}
	return deps
}

// targetEnd returns the index of the colon that ends the rule target, or -1.
// A colon followed by a path separator is part of a drive letter.
func targetEnd(line string) int {
	for i := 0; i < len(line); i++ {
		if line[i] != ':' {
			continue
		}
		if i+1 < len(line) && (line[i+1] == '\\' || line[i+1] == '/') {
			continue
		}
		return i
	}
	return -1
}

// BaseName reduces a header or source path to its file name without
// directory and extension.
func BaseName(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	base := path.Base(p)
	if ext := path.Ext(base); ext != "" && ext != base {
		base = strings.TrimSuffix(base, ext)
	}
	return base
}
