package home

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DefaultDirName is the default name for the fable home directory.
	DefaultDirName = ".fable"

	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"

	// ManifestCacheDirName holds the local manifest cache.
	// Files here are a latency optimization only; the remote store is
	// authoritative and this directory may be wiped at any time.
	ManifestCacheDirName = "manifests"

	// BooksDirName holds per-book working files (inputs, stamped pages, PDF).
	BooksDirName = "books"
)

// Dir represents the fable home directory structure.
type Dir struct {
	path string
}

// New creates a new Dir with the given path.
// If path is empty, uses the default (~/.fable).
func New(path string) (*Dir, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(home, DefaultDirName)
	}

	return &Dir{path: path}, nil
}

// Path returns the root path of the home directory.
func (d *Dir) Path() string {
	return d.path
}

// ConfigPath returns the path to the default config file.
func (d *Dir) ConfigPath() string {
	return filepath.Join(d.path, ConfigFileName)
}

// ManifestCacheDir returns the local manifest cache directory.
func (d *Dir) ManifestCacheDir() string {
	return filepath.Join(d.path, ManifestCacheDirName)
}

// ManifestCachePath returns the cache file path for one book's manifest.
func (d *Dir) ManifestCachePath(bookID string) string {
	return filepath.Join(d.ManifestCacheDir(), bookID+".json")
}

// BookDir returns the working directory for one book.
// Everything under it is private to that book; nothing is shared across books.
func (d *Dir) BookDir(bookID string) string {
	return filepath.Join(d.path, BooksDirName, bookID)
}

// PhotoPath returns the path to the normalized reference photo.
func (d *Dir) PhotoPath(bookID string) string {
	return filepath.Join(d.BookDir(bookID), "photo.png")
}

// MaskPath returns the path to the normalized paint mask.
func (d *Dir) MaskPath(bookID string) string {
	return filepath.Join(d.BookDir(bookID), "mask.png")
}

// CoverPath returns the path to the stamped cover illustration.
func (d *Dir) CoverPath(bookID string) string {
	return filepath.Join(d.BookDir(bookID), "cover.png")
}

// PageImagePath returns the path to one stamped page illustration.
// Page numbers are 1-indexed.
func (d *Dir) PageImagePath(bookID string, pageNum int) string {
	return filepath.Join(d.BookDir(bookID), fmt.Sprintf("page_%04d.png", pageNum))
}

// DocumentPath returns the path to the assembled print document.
func (d *Dir) DocumentPath(bookID string) string {
	return filepath.Join(d.BookDir(bookID), "book.pdf")
}

// EnsureExists creates the home directory and subdirectories if they don't exist.
func (d *Dir) EnsureExists() error {
	for _, dir := range []string{d.ManifestCacheDir(), filepath.Join(d.path, BooksDirName)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// EnsureBookDir creates the working directory for a book.
func (d *Dir) EnsureBookDir(bookID string) error {
	return os.MkdirAll(d.BookDir(bookID), 0o755)
}

// Exists returns true if the home directory exists.
func (d *Dir) Exists() bool {
	_, err := os.Stat(d.path)
	return err == nil
}

// ConfigExists returns true if the config file exists in the home directory.
func (d *Dir) ConfigExists() bool {
	_, err := os.Stat(d.ConfigPath())
	return err == nil
}
