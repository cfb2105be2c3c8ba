// Package manifest maintains the text file naming the live tables of a
// database directory, oldest first. The file is rewritten atomically on
// every change, so readers see either the previous version or the new one.
package manifest

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/tejchid/heliosdb/pkg/atomicfile"
)

// FileName is the manifest's name within a database directory.
const FileName = "manifest.txt"

// Read returns the table filenames listed at path, oldest first. Empty lines
// are ignored. A missing manifest reads as empty.
func Read(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "manifest: read %s", path)
	}

	var files []string
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimRight(line, "\r"); line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

// WriteAtomic replaces the manifest at path with files, one per line.
func WriteAtomic(path string, files []string) error {
	return atomicfile.WriteFile(path, func(w io.Writer) error {
		for _, f := range files {
			if _, err := fmt.Fprintln(w, f); err != nil {
				return errors.Wrap(err, "manifest: write entry")
			}
		}
		return nil
	})
}
