// Package blob stores binary attachments on the filesystem. Files are
// namespaced by working-snapshot id and document id so different versions of
// the same logical attachment never collide.
package blob

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Store is a filesystem-backed attachment store rooted at one directory.
type Store struct {
	root string
}

// NewStore opens (creating if needed) an attachment store at root.
func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("blob root: %w", err)
	}
	return &Store{root: root}, nil
}

// OpenWriteStream creates the named attachment for a document version,
// truncating any previous content.
func (s *Store) OpenWriteStream(snapshotID, docID, name string) (io.WriteCloser, error) {
	path, err := s.path(snapshotID, docID, name)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("blob dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("open blob for write: %w", err)
	}
	return f, nil
}

// OpenReadStream opens the named attachment for reading.
func (s *Store) OpenReadStream(snapshotID, docID, name string) (io.ReadCloser, error) {
	path, err := s.path(snapshotID, docID, name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open blob for read: %w", err)
	}
	return f, nil
}

// Remove deletes the named attachment. Removing an absent attachment is a
// no-op.
func (s *Store) Remove(snapshotID, docID, name string) error {
	path, err := s.path(snapshotID, docID, name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove blob: %w", err)
	}
	return nil
}

// List returns the document version's attachment names, sorted.
func (s *Store) List(snapshotID, docID string) ([]string, error) {
	dir, err := s.dir(snapshotID, docID)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list blobs: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) dir(snapshotID, docID string) (string, error) {
	if err := checkSegment(snapshotID); err != nil {
		return "", fmt.Errorf("snapshot id: %w", err)
	}
	if err := checkSegment(docID); err != nil {
		return "", fmt.Errorf("document id: %w", err)
	}
	return filepath.Join(s.root, snapshotID, docID), nil
}

func (s *Store) path(snapshotID, docID, name string) (string, error) {
	dir, err := s.dir(snapshotID, docID)
	if err != nil {
		return "", err
	}
	if err := checkSegment(name); err != nil {
		return "", fmt.Errorf("attachment name: %w", err)
	}
	return filepath.Join(dir, name), nil
}

// checkSegment rejects path components that could escape the store root.
func checkSegment(seg string) error {
	if seg == "" {
		return fmt.Errorf("empty path segment")
	}
	if seg == "." || seg == ".." {
		return fmt.Errorf("invalid path segment %q", seg)
	}
	if strings.ContainsAny(seg, `/\`) {
		return fmt.Errorf("path segment %q contains a separator", seg)
	}
	return nil
}
