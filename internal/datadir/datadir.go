// Package datadir seeds a service's persistent data directory from the
// template shipped inside a runtime distribution.
package datadir

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

var ErrNoSeed = errors.New("seed directory not found")

// Seed copies src into dst when dst does not exist yet. It reports whether
// a copy happened. An existing dst is never touched.
func Seed(src, dst string) (bool, error) {
	if _, err := os.Stat(dst); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}
	fi, err := os.Stat(src)
	if err != nil || !fi.IsDir() {
		return false, fmt.Errorf("%w: %s", ErrNoSeed, src)
	}

	// copy into a sibling temp dir first so a failed copy never leaves a
	// half-populated datadir behind
	parent := filepath.Dir(dst)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return false, err
	}
	tmp, err := os.MkdirTemp(parent, "."+filepath.Base(dst)+"-*")
	if err != nil {
		return false, err
	}
	defer func() { _ = os.RemoveAll(tmp) }()

	if err := copyTree(src, tmp); err != nil {
		return false, fmt.Errorf("seed %s: %w", dst, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		return false, fmt.Errorf("seed %s: %w", dst, err)
	}
	return true, nil
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		info, err := d.Info()
		if err != nil {
			return err
		}
		switch {
		case d.IsDir():
			return os.MkdirAll(target, info.Mode().Perm()|0o700)
		case info.Mode().IsRegular():
			return copyFile(path, target, info.Mode().Perm())
		default:
			// sockets, pipes and links are not part of a data template
			return nil
		}
	})
}

func copyFile(src, dst string, mode fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
