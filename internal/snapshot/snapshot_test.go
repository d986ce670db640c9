package snapshot

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mach/internal/config"
	"mach/internal/driver"
	"mach/internal/emit"
	"mach/internal/manifest"
	"mach/internal/session"
)

type stubScanner map[string][]string

func (s stubScanner) Scan(_ context.Context, file string) ([]string, error) {
	return s[file], nil
}

// writeTree creates files with their name as content.
func writeTree(t *testing.T, root string, files ...string) {
	t.Helper()
	for _, f := range files {
		p := filepath.Join(root, filepath.FromSlash(f))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(f), 0o644))
	}
}

const snapshotManifest = `{
  "karamel_sources": ["karamel/krmllib/dist/minimal/FStar_UInt128_Verified.c"],
  "include_paths": ["include"],
  "hacl_sources": {
    "sha2": ["Hacl_Hash_SHA2.c"],
    "chacha20": ["Hacl_Chacha20.c", {"file": "Hacl_Chacha20_Vec128.c", "features": "vec128"}]
  },
  "vale_sources": {"x64-linux": {"sha2": ["sha256-x86_64-linux.S"]}},
  "tests": {"sha2": ["sha2.cc"]}
}`

func snapshotConfig(t *testing.T, root string, algorithms ...string) *config.Config {
	t.Helper()
	m, err := manifest.Parse([]byte(snapshotManifest))
	require.NoError(t, err)
	scanner := stubScanner{
		"Hacl_Hash_SHA2.c": {"include/Hacl_Hash_SHA2.h", "include/Lib_Memzero0.h", "/usr/include/stdint.h"},
	}
	index := config.SourceIndex{"Lib_Memzero0": "Lib_Memzero0.c", "Hacl_Hash_SHA2": "Hacl_Hash_SHA2.c"}
	c, err := config.New(context.Background(), m, scanner, index, config.Options{Algorithms: algorithms})
	require.NoError(t, err)
	return c
}

func projectTree(t *testing.T) string {
	root := t.TempDir()
	writeTree(t, root,
		"src/Hacl_Hash_SHA2.c", "src/Lib_Memzero0.c", "src/Hacl_Chacha20.c", "src/Hacl_Chacha20_Vec128.c",
		"include/Hacl_Hash_SHA2.h", "include/Lib_Memzero0.h",
		"karamel/krmllib/dist/minimal/FStar_UInt128_Verified.c",
		"vale/src/sha256-x86_64-linux.S",
	)
	return root
}

func TestCreate(t *testing.T) {
	root := projectTree(t)
	out := filepath.Join(t.TempDir(), "hacl-dist")

	res, err := Create(context.Background(), snapshotConfig(t, root), Options{
		Root: root, Out: out, Layout: emit.DefaultLayout(), Archive: true,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"src/Hacl_Hash_SHA2.c",
		"src/Lib_Memzero0.c",
		"src/Hacl_Chacha20.c",
		"src/Hacl_Chacha20_Vec128.c",
		"include/Hacl_Hash_SHA2.h",
		"include/Lib_Memzero0.h",
		"karamel/krmllib/dist/minimal/FStar_UInt128_Verified.c",
		"vale/src/sha256-x86_64-linux.S",
	}, res.Files)

	data, err := os.ReadFile(filepath.Join(out, "src", "Lib_Memzero0.c"))
	require.NoError(t, err)
	assert.Equal(t, "src/Lib_Memzero0.c", string(data))
	assert.FileExists(t, filepath.Join(out, "config", "config.cmake"))
	assert.FileExists(t, filepath.Join(out, "config", "dep_config.json"))
	assert.NoFileExists(t, filepath.Join(out, "usr", "include", "stdint.h"))

	assert.Equal(t, out+".tar.zst", res.Archive)
	names, err := ReadArchive(res.Archive)
	require.NoError(t, err)
	assert.Contains(t, names, "hacl-dist/src/Hacl_Hash_SHA2.c")
	assert.Contains(t, names, "hacl-dist/config/config.cmake")
}

func TestCreateSubset(t *testing.T) {
	root := projectTree(t)
	out := filepath.Join(t.TempDir(), "dist")

	res, err := Create(context.Background(), snapshotConfig(t, root, "chacha20"), Options{
		Root: root, Out: out, Layout: emit.DefaultLayout(),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"src/Hacl_Chacha20.c",
		"src/Hacl_Chacha20_Vec128.c",
		"karamel/krmllib/dist/minimal/FStar_UInt128_Verified.c",
	}, res.Files)
	assert.Empty(t, res.Archive)
	assert.NoFileExists(t, out+".tar.zst")
}

func TestCreateMissingSource(t *testing.T) {
	root := t.TempDir()
	_, err := Create(context.Background(), snapshotConfig(t, root, "chacha20"), Options{
		Root: root, Out: filepath.Join(t.TempDir(), "dist"), Layout: emit.DefaultLayout(),
	})
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestArchiveIsDeterministic(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "tree")
	writeTree(t, dir, "b.c", "a/z.h", "a/y.h")

	first := filepath.Join(t.TempDir(), "first.tar.zst")
	second := filepath.Join(t.TempDir(), "second.tar.zst")
	require.NoError(t, WriteArchive(context.Background(), dir, first))
	require.NoError(t, os.Chtimes(filepath.Join(dir, "b.c"), time.Unix(1_000_000_000, 0), time.Unix(1_000_000_000, 0)))
	require.NoError(t, WriteArchive(context.Background(), dir, second))

	a, err := os.ReadFile(first)
	require.NoError(t, err)
	b, err := os.ReadFile(second)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(a, b))

	names, err := ReadArchive(first)
	require.NoError(t, err)
	assert.Equal(t, []string{"tree/", "tree/a/", "tree/a/y.h", "tree/a/z.h", "tree/b.c"}, names)
}

// cloneRunner pretends to clone by creating an upstream tree at the target.
type cloneRunner struct {
	commands []driver.Command
	files    []string
}

func (r *cloneRunner) Run(_ context.Context, cmd driver.Command) error {
	r.commands = append(r.commands, cmd)
	target := cmd.Args[len(cmd.Args)-1]
	for _, f := range r.files {
		p := filepath.Join(target, filepath.FromSlash(f))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(p, []byte("upstream "+f), 0o644); err != nil {
			return err
		}
	}
	return nil
}

var upstreamFiles = []string{
	"dist/gcc-compatible/Hacl_Hash_SHA2.c",
	"dist/gcc-compatible/Hacl_Hash_SHA2.h",
	"dist/gcc-compatible/Vale.c",
	"dist/gcc-compatible/Makefile",
	"dist/gcc-compatible/internal/Hacl_Hash_SHA2.h",
	"dist/gcc-compatible/internal/Vale.h",
	"dist/msvc-compatible/Hacl_Hash_SHA2.c",
	"dist/msvc-compatible/Hacl_Hash_SHA2.h",
	"dist/karamel/include/krml/internal/target.h",
	"dist/vale/sha256-x86_64-linux.S",
}

func TestUpdateFromLocalCheckout(t *testing.T) {
	upstream := t.TempDir()
	writeTree(t, upstream, upstreamFiles...)
	root := t.TempDir()
	writeTree(t, root, "src/Old.c", "src/notes.txt", "include/Old.h", "include/internal/Old.h", "vale/src/old.S")

	err := Update(context.Background(), UpdateOptions{Upstream: upstream, Root: root})
	require.NoError(t, err)

	assert.NoFileExists(t, filepath.Join(root, "src", "Old.c"))
	assert.FileExists(t, filepath.Join(root, "src", "notes.txt"))
	assert.NoFileExists(t, filepath.Join(root, "include", "Old.h"))
	assert.NoFileExists(t, filepath.Join(root, "include", "internal", "Old.h"))

	assert.FileExists(t, filepath.Join(root, "src", "Hacl_Hash_SHA2.c"))
	assert.FileExists(t, filepath.Join(root, "include", "Hacl_Hash_SHA2.h"))
	assert.FileExists(t, filepath.Join(root, "include", "internal", "Hacl_Hash_SHA2.h"))
	assert.NoFileExists(t, filepath.Join(root, "src", "Vale.c"))
	assert.NoFileExists(t, filepath.Join(root, "src", "Makefile"))
	assert.FileExists(t, filepath.Join(root, "src", "msvc", "Hacl_Hash_SHA2.c"))
	assert.FileExists(t, filepath.Join(root, "include", "msvc", "Hacl_Hash_SHA2.h"))
	assert.FileExists(t, filepath.Join(root, "karamel", "include", "krml", "internal", "target.h"))

	assert.NoFileExists(t, filepath.Join(root, "vale", "src", "old.S"))
	assert.FileExists(t, filepath.Join(root, "vale", "src", "Vale.c"))
	assert.FileExists(t, filepath.Join(root, "vale", "src", "sha256-x86_64-linux.S"))
	assert.FileExists(t, filepath.Join(root, "vale", "include", "Vale.h"))
}

func TestUpdateRemovesStaleEditionFiles(t *testing.T) {
	upstream := t.TempDir()
	writeTree(t, upstream, "dist/gcc-compatible/New.c", "dist/gcc-compatible/New.h")
	root := t.TempDir()
	writeTree(t, root,
		"src/Old.c", "src/msvc/Old.c", "src/msvc/README",
		"include/msvc/Old.h", "include/msvc/internal/Old.h",
	)

	require.NoError(t, Update(context.Background(), UpdateOptions{Upstream: upstream, Root: root, NoVale: true}))

	assert.NoFileExists(t, filepath.Join(root, "src", "Old.c"))
	assert.NoFileExists(t, filepath.Join(root, "src", "msvc", "Old.c"))
	assert.NoFileExists(t, filepath.Join(root, "include", "msvc", "Old.h"))
	assert.NoFileExists(t, filepath.Join(root, "include", "msvc", "internal", "Old.h"))
	assert.FileExists(t, filepath.Join(root, "src", "msvc", "README"))
	assert.FileExists(t, filepath.Join(root, "src", "New.c"))
	assert.FileExists(t, filepath.Join(root, "include", "New.h"))
}

func TestUpdateNoVale(t *testing.T) {
	upstream := t.TempDir()
	writeTree(t, upstream, upstreamFiles...)
	root := t.TempDir()
	writeTree(t, root, "vale/src/old.S")

	require.NoError(t, Update(context.Background(), UpdateOptions{Upstream: upstream, Root: root, NoVale: true}))
	assert.FileExists(t, filepath.Join(root, "vale", "src", "old.S"))
}

func TestUpdateClonesGitURL(t *testing.T) {
	r := &cloneRunner{files: upstreamFiles}
	s := &session.Session{LookPath: func(name string) (string, error) { return "/usr/bin/" + name, nil }}
	root := t.TempDir()

	err := Update(context.Background(), UpdateOptions{
		Upstream: "https://github.com/hacl-star/hacl-star.git",
		Root:     root,
		Runner:   r,
		Session:  s,
	})
	require.NoError(t, err)

	require.Len(t, r.commands, 1)
	assert.Equal(t, "git", r.commands[0].Name)
	assert.Equal(t, []string{"clone", "--depth", "1", "https://github.com/hacl-star/hacl-star.git"}, r.commands[0].Args[:4])
	assert.NoDirExists(t, r.commands[0].Args[4], "the clone is removed afterwards")
	assert.FileExists(t, filepath.Join(root, "src", "Hacl_Hash_SHA2.c"))
}

func TestUpdateRequiresGit(t *testing.T) {
	r := &cloneRunner{}
	s := &session.Session{LookPath: func(string) (string, error) { return "", errors.New("not found") }}

	err := Update(context.Background(), UpdateOptions{Upstream: "git@github.com:hacl-star/hacl-star.git", Runner: r, Session: s})
	var missing *session.ToolMissingError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "git", missing.Tool)
	assert.Empty(t, r.commands)
}

func TestUpdateMissingDistribution(t *testing.T) {
	err := Update(context.Background(), UpdateOptions{Upstream: t.TempDir(), Root: t.TempDir()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gcc-compatible")
}

func TestIsGitURL(t *testing.T) {
	assert.True(t, IsGitURL("https://github.com/hacl-star/hacl-star"))
	assert.True(t, IsGitURL("git@github.com:hacl-star/hacl-star.git"))
	assert.True(t, IsGitURL("../hacl-star.git"))
	assert.False(t, IsGitURL("../../hacl-star"))
}
