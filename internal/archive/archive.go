// Package archive persists captured images before they are described
// and relayed, so a failed relay never loses the original photo.
package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Store saves a captured image under a storage key.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// Key returns the storage key for a capture taken at ts:
// captures/YYYY/MM/DD/<unix-nanos>.jpg. Timestamps are normalized to
// UTC so keys sort chronologically regardless of host timezone.
func Key(ts time.Time) string {
	ts = ts.UTC()
	return fmt.Sprintf("captures/%04d/%02d/%02d/%d.jpg", ts.Year(), int(ts.Month()), ts.Day(), ts.UnixNano())
}

// DiskStore writes captures under a local directory.
type DiskStore struct {
	root string
}

// NewDiskStore creates a disk store rooted at root.
func NewDiskStore(root string) *DiskStore {
	return &DiskStore{root: root}
}

// Put writes data to root/key, creating parent directories as needed.
// The content type is implied by the key's extension.
func (s *DiskStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	path := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("archive: create directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("archive: write %s: %w", key, err)
	}
	return nil
}
