package manifest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestCache_SaveLoad(t *testing.T) {
	cache, err := NewCache(filepath.Join(t.TempDir(), "manifests"))
	if err != nil {
		t.Fatalf("NewCache() error = %v", err)
	}

	m := New("book-1", "owner-1")
	m.Theme = "ocean"
	m.PageCount = 8

	if err := cache.Save(m); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := cache.Load("book-1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.ID != "book-1" || got.Theme != "ocean" || got.PageCount != 8 {
		t.Errorf("loaded manifest = %+v", got)
	}
}

func TestCache_LoadMiss(t *testing.T) {
	cache, err := NewCache(t.TempDir())
	if err != nil {
		t.Fatalf("NewCache() error = %v", err)
	}

	if _, err := cache.Load("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load() error = %v, want ErrNotFound", err)
	}
}

func TestCache_CorruptEntryIsMiss(t *testing.T) {
	dir := t.TempDir()
	cache, err := NewCache(dir)
	if err != nil {
		t.Fatalf("NewCache() error = %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := cache.Load("bad"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load() error = %v, want ErrNotFound for corrupt entry", err)
	}
}

func TestStore_CacheOnly(t *testing.T) {
	cache, err := NewCache(t.TempDir())
	if err != nil {
		t.Fatalf("NewCache() error = %v", err)
	}

	store, err := NewStore(StoreConfig{Cache: cache})
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	ctx := context.Background()
	m := New("book-1", "owner-1")

	if err := store.Save(ctx, m); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := store.Load(ctx, "book-1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.ID != "book-1" {
		t.Errorf("loaded manifest ID = %q", got.ID)
	}

	if _, err := store.Load(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load(missing) error = %v, want ErrNotFound", err)
	}

	// Listing has no cache index, so without a remote it is empty.
	books, err := store.ListByOwner(ctx, "owner-1")
	if err != nil {
		t.Fatalf("ListByOwner() error = %v", err)
	}
	if len(books) != 0 {
		t.Errorf("ListByOwner() = %d manifests, want 0", len(books))
	}
}

func TestNewStore_Validation(t *testing.T) {
	if _, err := NewStore(StoreConfig{}); err == nil {
		t.Error("expected error without cache layer")
	}

	cache, err := NewCache(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewStore(StoreConfig{Cache: cache, RequireRemote: true}); err == nil {
		t.Error("expected error when remote is required but missing")
	}
}
