package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"mach/internal/ctxlog"
	"mach/internal/driver"
	"mach/internal/session"
)

// UpdateOptions controls Update.
type UpdateOptions struct {
	// Upstream is a local checkout or a git URL of the upstream project.
	Upstream string
	// Root is the project directory that receives the sources.
	Root    string
	NoVale  bool
	Runner  driver.Runner
	Session *session.Session
}

// edition is one compiler flavour of the upstream C distribution.
type edition struct {
	name       string
	dist       string
	srcDest    string
	includeDst string
}

// IsGitURL reports whether upstream has to be cloned.
func IsGitURL(upstream string) bool {
	for _, prefix := range []string{"https://", "http://", "git://", "ssh://", "git@"} {
		if strings.HasPrefix(upstream, prefix) {
			return true
		}
	}
	return strings.HasSuffix(upstream, ".git")
}

// Update replaces the vendored C sources below opts.Root with the ones of the
// upstream distribution.
func Update(ctx context.Context, opts UpdateOptions) error {
	logger := ctxlog.FromContext(ctx)
	home := opts.Upstream

	if IsGitURL(home) {
		if err := opts.Session.RequireTools(ctx, "git"); err != nil {
			return err
		}
		tmp, err := os.MkdirTemp("", "mach-upstream-")
		if err != nil {
			return err
		}
		defer func() { _ = os.RemoveAll(tmp) }()

		logger.Info("Cloning upstream.", "url", home)
		if err := opts.Runner.Run(ctx, driver.Command{
			Name: "git",
			Args: []string{"clone", "--depth", "1", home, tmp},
		}); err != nil {
			return err
		}
		home = tmp
	}

	dist := filepath.Join(home, "dist")
	editions := []edition{
		{"std", filepath.Join(dist, "gcc-compatible"), "src", "include"},
		{"msvc", filepath.Join(dist, "msvc-compatible"), filepath.Join("src", "msvc"), filepath.Join("include", "msvc")},
	}
	if !isDir(editions[0].dist) {
		return fmt.Errorf("unable to find %s, please point to the root directory of the upstream checkout", editions[0].dist)
	}

	if err := removeMatching(filepath.Join(opts.Root, "src"), ".c"); err != nil {
		return err
	}
	if err := removeMatching(filepath.Join(opts.Root, "include"), ".h"); err != nil {
		return err
	}

	for _, ed := range editions {
		if !isDir(ed.dist) {
			logger.Debug("Edition not present upstream.", "edition", ed.name)
			continue
		}
		logger.Info("Updating edition.", "edition", ed.name, "from", ed.dist)
		if err := copyEdition(ed, opts.Root); err != nil {
			return err
		}
	}

	if err := replaceTree(filepath.Join(dist, "karamel", "include"), filepath.Join(opts.Root, "karamel", "include")); err != nil {
		return err
	}
	if err := replaceTree(filepath.Join(dist, "karamel", "krmllib"), filepath.Join(opts.Root, "karamel", "krmllib")); err != nil {
		return err
	}
	if !opts.NoVale {
		if err := updateVale(dist, opts.Root); err != nil {
			return err
		}
	}
	return nil
}

func copyEdition(ed edition, root string) error {
	entries, err := os.ReadDir(ed.dist)
	if err != nil {
		return err
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.Contains(name, "Vale") {
			continue
		}
		var dest string
		switch filepath.Ext(name) {
		case ".c":
			dest = filepath.Join(root, ed.srcDest, name)
		case ".h":
			dest = filepath.Join(root, ed.includeDst, name)
		default:
			continue
		}
		if err := copyFile(filepath.Join(ed.dist, name), dest); err != nil {
			return err
		}
	}
	return replaceTree(filepath.Join(ed.dist, "internal"), filepath.Join(root, ed.includeDst, "internal"))
}

func updateVale(dist, root string) error {
	valeInclude := filepath.Join(root, "vale", "include")
	valeSrc := filepath.Join(root, "vale", "src")
	upstream := filepath.Join(dist, "vale")
	if !isDir(upstream) {
		return nil
	}
	for _, d := range []string{valeInclude, valeSrc} {
		if err := os.RemoveAll(d); err != nil {
			return err
		}
	}

	gcc := filepath.Join(dist, "gcc-compatible")
	if err := copyIfExists(filepath.Join(gcc, "internal", "Vale.h"), filepath.Join(valeInclude, "Vale.h")); err != nil {
		return err
	}
	if err := copyIfExists(filepath.Join(gcc, "Vale.c"), filepath.Join(valeSrc, "Vale.c")); err != nil {
		return err
	}

	entries, err := os.ReadDir(upstream)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := copyFile(filepath.Join(upstream, e.Name()), filepath.Join(valeSrc, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

// removeMatching deletes the files with extension ext anywhere below dir,
// edition subdirectories included.
func removeMatching(dir, ext string) error {
	if !isDir(dir) {
		return nil
	}
	return filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(p) != ext {
			return nil
		}
		return os.Remove(p)
	})
}

// replaceTree mirrors src at dst. A missing src leaves dst untouched.
func replaceTree(src, dst string) error {
	if !isDir(src) {
		return nil
	}
	if err := os.RemoveAll(dst); err != nil {
		return err
	}
	return filepath.WalkDir(src, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		if d.IsDir() {
			return os.MkdirAll(filepath.Join(dst, rel), 0o755)
		}
		return copyFile(p, filepath.Join(dst, rel))
	})
}

func copyIfExists(src, dst string) error {
	if _, err := os.Stat(src); os.IsNotExist(err) {
		return nil
	}
	return copyFile(src, dst)
}

func isDir(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}
