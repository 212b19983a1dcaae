package artifact

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"disco/internal/fileutil"
	"disco/internal/services"
)

// Extension is the file suffix of stored arrays.
const Extension = ".npy"

var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// Store saves and loads named arrays.
type Store interface {
	Save(name string, a Array) error
	Load(name string) (Array, error)
}

// FileStore keeps one .npy file per array inside a directory.
type FileStore struct {
	dir string
}

// NewFileStore returns a store rooted at dir. The directory is created on
// the first Save.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Dir returns the store directory.
func (s *FileStore) Dir() string {
	return s.dir
}

// Path returns the file path for name.
func (s *FileStore) Path(name string) string {
	return filepath.Join(s.dir, name+Extension)
}

// Save writes a atomically, replacing any previous array with the same name.
func (s *FileStore) Save(name string, a Array) error {
	if err := checkName(name); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := Encode(&buf, a); err != nil {
		return services.Wrap(services.ErrArtifact, "artifact", "encode", name, err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return services.Wrap(services.ErrArtifact, "artifact", "save", "create directory", err)
	}
	if err := fileutil.WriteAtomic(s.Path(name), buf.Bytes(), 0o644); err != nil {
		return services.Wrap(services.ErrArtifact, "artifact", "save", name, err)
	}
	return nil
}

// Load reads the array stored under name. A missing array yields an error
// matching services.ErrNotFound.
func (s *FileStore) Load(name string) (Array, error) {
	if err := checkName(name); err != nil {
		return Array{}, err
	}
	data, err := os.ReadFile(s.Path(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Array{}, services.Wrap(services.ErrNotFound, "artifact", "load", name, err)
		}
		return Array{}, services.Wrap(services.ErrArtifact, "artifact", "load", name, err)
	}
	a, err := Decode(bytes.NewReader(data))
	if err != nil {
		return Array{}, services.Wrap(services.ErrArtifact, "artifact", "decode", name, err)
	}
	return a, nil
}

// Names lists stored array names in lexical order.
func (s *FileStore) Names() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, services.Wrap(services.ErrNotFound, "artifact", "list", s.dir, err)
		}
		return nil, services.Wrap(services.ErrArtifact, "artifact", "list", s.dir, err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), Extension) {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), Extension))
	}
	slices.Sort(names)
	return names, nil
}

func checkName(name string) error {
	if !validName.MatchString(name) {
		return services.Wrap(services.ErrArtifact, "artifact", "name", fmt.Sprintf("invalid artifact name %q", name), nil)
	}
	return nil
}
