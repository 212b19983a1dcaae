// Package fileutil holds small filesystem helpers shared by the artifact
// store and the model cache.
package fileutil

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// WriteAtomic writes data to path through a temp file in the same directory
// and renames it into place, so readers never observe a partial file.
func WriteAtomic(path string, data []byte, perm os.FileMode) error {
	_, err := WriteReaderAtomic(path, bytes.NewReader(data), perm)
	return err
}

// WriteReaderAtomic streams r to path the same way WriteAtomic does and
// returns the number of bytes written.
func WriteReaderAtomic(path string, r io.Reader, perm os.FileMode) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	fail := func(step string, err error) (int64, error) {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return 0, fmt.Errorf("%s temp file: %w", step, err)
	}

	written, err := io.Copy(tmp, r)
	if err != nil {
		return fail("write", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		return fail("chmod", err)
	}
	if err := tmp.Sync(); err != nil {
		return fail("sync", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return 0, fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return 0, fmt.Errorf("rename temp file: %w", err)
	}
	return written, nil
}
