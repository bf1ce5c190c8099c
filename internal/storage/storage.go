// Package storage persists task artifacts as blobs outside the database.
// Tasks carry only the returned URI; the ArtDirector agent is the main
// writer.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ObjectStore is the narrow blob contract the agents depend on.
type ObjectStore interface {
	// Put stores data under key and returns a stable URI.
	Put(key string, data []byte) (string, error)
	// Get retrieves the blob for a URI previously returned by Put.
	Get(uri string) ([]byte, error)
}

// FileStore is a filesystem-backed ObjectStore rooted at a data directory.
type FileStore struct {
	root string
}

// NewFileStore creates the root directory if needed.
func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &FileStore{root: root}, nil
}

// Put writes data under key, creating intermediate directories. Keys must
// stay inside the root; path traversal is rejected.
func (s *FileStore) Put(key string, data []byte) (string, error) {
	path, err := s.resolve(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("create object dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write object %s: %w", key, err)
	}
	return "file://" + path, nil
}

// Get reads the blob behind a file:// URI.
func (s *FileStore) Get(uri string) ([]byte, error) {
	path := strings.TrimPrefix(uri, "file://")
	rel, err := filepath.Rel(s.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return nil, fmt.Errorf("uri outside storage root: %s", uri)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", uri, err)
	}
	return data, nil
}

func (s *FileStore) resolve(key string) (string, error) {
	clean := filepath.Clean(key)
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid object key: %s", key)
	}
	return filepath.Join(s.root, clean), nil
}
