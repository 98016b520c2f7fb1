package manifest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Store combines the local cache and the remote DefraDB layer.
//
// Save writes the cache first, then the remote layer; when the remote layer
// is required for durability a remote failure fails the whole save. Load
// prefers the cache and falls back to the remote layer, repopulating the
// cache on the way back. The asymmetry exists because the hosting model may
// recycle the local filesystem between requests: the remote store is the
// durability anchor, the cache is a latency optimization.
type Store struct {
	cache         *Cache
	remote        *Remote
	requireRemote bool
	logger        *slog.Logger
}

// StoreConfig configures a manifest Store.
type StoreConfig struct {
	Cache *Cache
	// Remote may be nil for cache-only operation (tests, offline dev).
	Remote *Remote
	// RequireRemote makes remote write failures fatal to the save.
	RequireRemote bool
	Logger        *slog.Logger
}

// NewStore creates a dual-layer manifest store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Cache == nil {
		return nil, fmt.Errorf("manifest store requires a cache layer")
	}
	if cfg.RequireRemote && cfg.Remote == nil {
		return nil, fmt.Errorf("remote layer required but not configured")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		cache:         cfg.Cache,
		remote:        cfg.Remote,
		requireRemote: cfg.RequireRemote,
		logger:        logger,
	}, nil
}

// Save persists a manifest to both layers.
func (s *Store) Save(ctx context.Context, m *Manifest) error {
	if err := s.cache.Save(m); err != nil {
		// The cache is best-effort; the remote layer is what counts.
		s.logger.Warn("manifest cache write failed", "book_id", m.ID, "error", err)
	}

	if s.remote == nil {
		return nil
	}

	if err := s.remote.Save(ctx, m); err != nil {
		if s.requireRemote {
			return fmt.Errorf("%w: %v", ErrDurableSave, err)
		}
		s.logger.Warn("remote manifest write failed", "book_id", m.ID, "error", err)
	}
	return nil
}

// Load reads a manifest, preferring the cache. Returns ErrNotFound only when
// both layers miss.
func (s *Store) Load(ctx context.Context, bookID string) (*Manifest, error) {
	m, err := s.cache.Load(bookID)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, ErrNotFound) {
		s.logger.Warn("manifest cache read failed", "book_id", bookID, "error", err)
	}

	if s.remote == nil {
		return nil, ErrNotFound
	}

	m, err = s.remote.Load(ctx, bookID)
	if err != nil {
		return nil, err
	}

	// Repopulate the cache for subsequent requests on this instance.
	if err := s.cache.Save(m); err != nil {
		s.logger.Warn("manifest cache repopulate failed", "book_id", bookID, "error", err)
	}
	return m, nil
}

// ListByOwner returns all manifests owned by ownerID. Listing always goes to
// the remote layer; the cache has no owner index.
func (s *Store) ListByOwner(ctx context.Context, ownerID string) ([]*Manifest, error) {
	if s.remote == nil {
		return nil, nil
	}
	return s.remote.ListByOwner(ctx, ownerID)
}
