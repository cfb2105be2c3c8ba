// Package atomicfile installs files with write-to-tmp-then-rename semantics.
//
// A file written through this package is either fully present under its final
// name or absent; readers never observe a partially written file. The rename
// is preceded by an fsync of the temporary file and followed by an fsync of
// the final file and its containing directory, so the install survives a
// crash at any point.
package atomicfile

import (
	"bufio"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// TmpSuffix is appended to the final path while the file is being written.
const TmpSuffix = ".tmp"

// WriteFile streams content through write into path+".tmp", syncs it, and
// renames it over path. On error the temporary file is removed.
func WriteFile(path string, write func(w io.Writer) error) error {
	tmp := path + TmpSuffix

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return errors.Wrapf(err, "create %s", tmp)
	}

	w := bufio.NewWriter(f)
	if err := write(w); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}

	if err := w.Flush(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return errors.Wrapf(err, "flush %s", tmp)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return errors.Wrapf(err, "sync %s", tmp)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrapf(err, "close %s", tmp)
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrapf(err, "rename %s", tmp)
	}

	// Make the rename itself durable.
	if err := syncPath(path); err != nil {
		return err
	}
	return SyncDir(filepath.Dir(path))
}

// SyncDir fsyncs a directory so a preceding rename within it is durable.
func SyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return errors.Wrapf(err, "open dir %s", dir)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return errors.Wrapf(err, "sync dir %s", dir)
	}
	return nil
}

// SweepTmp removes stale *.tmp files left behind by a crash mid-install.
// Best effort: removal failures are ignored.
func SweepTmp(dir string) {
	matches, err := filepath.Glob(filepath.Join(dir, "*"+TmpSuffix))
	if err != nil {
		return
	}
	for _, m := range matches {
		_ = os.Remove(m)
	}
}

func syncPath(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()
	if err := f.Sync(); err != nil {
		return errors.Wrapf(err, "sync %s", path)
	}
	return nil
}
