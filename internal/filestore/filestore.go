// Package filestore keeps uploaded document files on disk under a single
// directory, one file per registry card.
package filestore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Store writes and removes uploaded files. Disk names are prefixed with the
// document id so uploads with the same original name never collide.
type Store struct {
	dir string
}

// New creates the upload directory if needed and returns a store over it.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the upload directory.
func (s *Store) Dir() string {
	return s.dir
}

// Save streams the upload to disk as "<docID>_<name>" and returns the
// stored path. Any path components in the client-supplied name are dropped.
func (s *Store) Save(docID int64, filename string, r io.Reader) (string, error) {
	name := filepath.Base(filename)
	if name == "." || name == ".." || name == string(filepath.Separator) || name == "" {
		return "", fmt.Errorf("invalid file name %q", filename)
	}

	path := filepath.Join(s.dir, fmt.Sprintf("%d_%s", docID, name))

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	if err := f.Sync(); err != nil {
		return "", fmt.Errorf("failed to sync file: %w", err)
	}

	return path, nil
}

// Remove deletes a stored file. A missing file is not an error, the record
// may never have had an upload.
func (s *Store) Remove(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove file: %w", err)
	}
	return nil
}

// DisplayName builds the registry name shown for an uploaded file,
// "<base>_<docID><ext>", keeping names unique across cards.
func DisplayName(filename string, docID int64) string {
	name := filepath.Base(filename)
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	return fmt.Sprintf("%s_%d%s", base, docID, ext)
}
