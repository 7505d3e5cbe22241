// Package scratch holds uploaded media on disk for the length of one request.
package scratch

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var ErrEmptyPayload = errors.New("uploaded file is empty")

// Store writes uploads under a single directory. Every saved path must be
// handed back to Release exactly once.
type Store struct {
	dir string
}

func New(dir string) *Store {
	return &Store{dir: dir}
}

// Dir is the directory every saved upload is written to.
func (s *Store) Dir() string {
	return s.dir
}

// Save copies r into a new file named after filename and returns its path.
// The path is prefixed with a random id so concurrent uploads of the same
// name never share a file.
func (s *Store) Save(filename string, r io.Reader) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}

	path := filepath.Join(s.dir, uuid.NewString()+"-"+cleanName(filename))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", fmt.Errorf("create scratch file: %w", err)
	}

	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n == 0 {
		err = ErrEmptyPayload
	}
	if err != nil {
		os.Remove(path)
		if errors.Is(err, ErrEmptyPayload) {
			return "", err
		}
		return "", fmt.Errorf("write scratch file: %w", err)
	}
	return path, nil
}

// Release deletes path. A path that is already gone is not an error.
func (s *Store) Release(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove scratch file: %w", err)
	}
	return nil
}

// cleanName keeps only the base name of a client filename. The extension is
// preserved because some decoders sniff it.
func cleanName(filename string) string {
	name := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	switch name {
	case ".", "/", "..", "":
		return "upload"
	}
	return name
}
