package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Cache is the fast local manifest layer: one JSON file per book under the
// home directory. The hosting model may recycle this filesystem between
// requests, so a miss here is normal and never authoritative.
type Cache struct {
	dir string
}

// NewCache creates a cache rooted at dir, creating it if needed.
func NewCache(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create manifest cache dir: %w", err)
	}
	return &Cache{dir: dir}, nil
}

func (c *Cache) path(bookID string) string {
	return filepath.Join(c.dir, bookID+".json")
}

// Load reads a cached manifest. Returns ErrNotFound on a cache miss.
func (c *Cache) Load(bookID string) (*Manifest, error) {
	data, err := os.ReadFile(c.path(bookID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read cached manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		// A corrupt cache entry is treated as a miss; the remote layer
		// will repopulate it.
		return nil, ErrNotFound
	}
	return &m, nil
}

// Save writes a manifest to the cache. The write is atomic (tmp + rename) so
// a concurrent reader never sees a torn file.
func (c *Cache) Save(m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	tmp := c.path(m.ID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest cache: %w", err)
	}
	if err := os.Rename(tmp, c.path(m.ID)); err != nil {
		return fmt.Errorf("failed to finalize manifest cache: %w", err)
	}
	return nil
}
