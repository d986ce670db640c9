// Package snapshot produces a self-contained source distribution for a
// filtered configuration and refreshes the vendored sources from upstream.
package snapshot

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"mach/internal/config"
	"mach/internal/ctxlog"
	"mach/internal/emit"
)

// Options controls Create.
type Options struct {
	// Root is the project directory the manifest paths are relative to.
	Root string
	// Out is the distribution directory. It is created if needed.
	Out    string
	Layout emit.Layout
	// Archive also writes Out + ".tar.zst".
	Archive bool
}

// Result summarizes a snapshot.
type Result struct {
	Files   []string
	Archive string
}

// Create copies every file the configuration needs below opts.Out and writes
// the configuration files for it.
func Create(ctx context.Context, c *config.Config, opts Options) (*Result, error) {
	logger := ctxlog.FromContext(ctx)
	if opts.Out == "" {
		return nil, fmt.Errorf("no output directory given")
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, err
	}

	plan := newPlan()
	for _, file := range c.Sources.All() {
		plan.add(filepath.Join(opts.Layout.SourceDir, file))
	}
	for _, file := range c.Headers.Keys() {
		headers, _ := c.Headers.Get(file)
		for _, h := range headers {
			rel, ok := projectRelative(root, h)
			if !ok {
				logger.Debug("Skipping header outside the project.", "header", h)
				continue
			}
			plan.add(rel)
		}
	}
	for _, file := range c.Manifest.Karamel {
		plan.add(file)
	}
	for _, p := range c.Manifest.Platforms() {
		for _, file := range c.AssemblySources(p) {
			plan.add(filepath.Join(opts.Layout.ValeDir, file))
		}
	}

	res := &Result{}
	for _, rel := range plan.files {
		if err := copyFile(filepath.Join(root, rel), filepath.Join(opts.Out, rel)); err != nil {
			return nil, err
		}
		res.Files = append(res.Files, filepath.ToSlash(rel))
	}

	if err := emit.WriteCMake(ctx, filepath.Join(opts.Out, "config", "config.cmake"), c, opts.Layout); err != nil {
		return nil, err
	}
	if err := emit.WriteDepConfig(ctx, filepath.Join(opts.Out, "config", "dep_config.json"), c, opts.Layout); err != nil {
		return nil, err
	}
	logger.Info("Snapshot written.", "dir", opts.Out, "files", len(res.Files))

	if opts.Archive {
		res.Archive = strings.TrimSuffix(opts.Out, string(filepath.Separator)) + ".tar.zst"
		if err := WriteArchive(ctx, opts.Out, res.Archive); err != nil {
			return nil, err
		}
	}
	return res, nil
}

type plan struct {
	files []string
	seen  map[string]bool
}

func newPlan() *plan {
	return &plan{seen: make(map[string]bool)}
}

func (p *plan) add(rel string) {
	rel = filepath.Clean(rel)
	if p.seen[rel] {
		return
	}
	p.seen[rel] = true
	p.files = append(p.files, rel)
}

// projectRelative maps a scanned header path to a path below root.
func projectRelative(root, header string) (string, bool) {
	if !filepath.IsAbs(header) {
		header = filepath.Join(root, header)
	}
	rel, err := filepath.Rel(root, header)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return rel, true
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return out.Close()
}
