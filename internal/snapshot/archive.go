package snapshot

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"mach/internal/ctxlog"
)

// WriteArchive packs dir into a zstd compressed tar at dest. Entries are
// written in lexical order with zeroed ownership and timestamps so the same
// tree always yields the same archive.
func WriteArchive(ctx context.Context, dir, dest string) error {
	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	if err := writeArchive(dir, f); err != nil {
		_ = f.Close()
		_ = os.Remove(dest)
		return fmt.Errorf("failed to write %s: %w", dest, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	ctxlog.FromContext(ctx).Info("Archive written.", "path", dest)
	return nil
}

func writeArchive(dir string, w io.Writer) error {
	zw, err := zstd.NewWriter(w,
		zstd.WithEncoderLevel(zstd.SpeedBetterCompression),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return err
	}
	tw := tar.NewWriter(zw)
	prefix := filepath.Base(filepath.Clean(dir))
	epoch := time.Unix(0, 0)

	// WalkDir visits entries in lexical order.
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() && !info.IsDir() {
			return nil
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(filepath.Join(prefix, rel))
		if info.IsDir() {
			hdr.Name += "/"
		}
		hdr.ModTime = epoch
		hdr.AccessTime = time.Time{}
		hdr.ChangeTime = time.Time{}
		hdr.Uid, hdr.Gid = 0, 0
		hdr.Uname, hdr.Gname = "", ""
		hdr.Format = tar.FormatPAX
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		_ = tw.Close()
		_ = zw.Close()
		return err
	}
	if err := tw.Close(); err != nil {
		_ = zw.Close()
		return err
	}
	return zw.Close()
}

// ReadArchive lists the entry names of an archive written by WriteArchive.
func ReadArchive(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	var names []string
	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return names, nil
		}
		if err != nil {
			return nil, err
		}
		names = append(names, hdr.Name)
	}
}
