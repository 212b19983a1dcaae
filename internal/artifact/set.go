package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"disco/internal/services"
)

// SetWriter stages a complete artifact set in a sibling temporary directory
// and moves it into place on Commit, so readers never observe a partial set.
// A lock file next to the target serializes concurrent writers.
type SetWriter struct {
	target  string
	staging *FileStore
	lock    *flock.Flock
	saved   []string
	done    bool
}

// BeginSet prepares to write the artifact set at dir. It fails when another
// writer holds the set.
func BeginSet(dir string) (*SetWriter, error) {
	dir = filepath.Clean(dir)
	parent := filepath.Dir(dir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, services.Wrap(services.ErrArtifact, "artifact", "begin set", "create parent directory", err)
	}

	lock := flock.New(dir + ".lock")
	ok, err := lock.TryLock()
	if err != nil {
		return nil, services.Wrap(services.ErrArtifact, "artifact", "begin set", "acquire lock", err)
	}
	if !ok {
		return nil, services.Wrap(services.ErrArtifact, "artifact", "begin set",
			fmt.Sprintf("artifact set %s is being written by another run", dir), nil)
	}

	staging, err := os.MkdirTemp(parent, "."+filepath.Base(dir)+"-staging-*")
	if err != nil {
		_ = lock.Unlock()
		return nil, services.Wrap(services.ErrArtifact, "artifact", "begin set", "create staging directory", err)
	}
	return &SetWriter{target: dir, staging: NewFileStore(staging), lock: lock}, nil
}

// Dir returns the final location of the set.
func (w *SetWriter) Dir() string {
	return w.target
}

// Save stages one array.
func (w *SetWriter) Save(name string, a Array) error {
	if w.done {
		return services.Wrap(services.ErrArtifact, "artifact", "save", "artifact set already closed", nil)
	}
	if err := w.staging.Save(name, a); err != nil {
		return err
	}
	w.saved = append(w.saved, name)
	return nil
}

// Saved lists the staged array names in save order.
func (w *SetWriter) Saved() []string {
	return append([]string(nil), w.saved...)
}

// Commit replaces any existing set at the target with the staged one.
func (w *SetWriter) Commit() error {
	if w.done {
		return services.Wrap(services.ErrArtifact, "artifact", "commit", "artifact set already closed", nil)
	}
	w.done = true
	defer w.release()

	backup := ""
	if _, err := os.Stat(w.target); err == nil {
		backup = w.target + ".previous"
		if err := os.RemoveAll(backup); err != nil {
			return w.fail("remove stale backup", err)
		}
		if err := os.Rename(w.target, backup); err != nil {
			return w.fail("move previous set aside", err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return w.fail("stat target", err)
	}

	if err := os.Rename(w.staging.Dir(), w.target); err != nil {
		if backup != "" {
			_ = os.Rename(backup, w.target)
		}
		return w.fail("move staged set into place", err)
	}
	if backup != "" {
		_ = os.RemoveAll(backup)
	}
	return nil
}

// Abort discards the staged arrays. It is safe to call after Commit.
func (w *SetWriter) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	defer w.release()
	if err := os.RemoveAll(w.staging.Dir()); err != nil {
		return services.Wrap(services.ErrArtifact, "artifact", "abort", "remove staging directory", err)
	}
	return nil
}

func (w *SetWriter) fail(op string, err error) error {
	_ = os.RemoveAll(w.staging.Dir())
	return services.Wrap(services.ErrArtifact, "artifact", "commit", op, err)
}

func (w *SetWriter) release() {
	_ = w.lock.Unlock()
}
