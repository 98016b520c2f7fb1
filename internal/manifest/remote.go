package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fablepress/fable/internal/defra"
)

// Collection is the DefraDB collection holding manifests.
const Collection = "Manifest"

// Schema declares the Manifest collection: the full manifest as an opaque
// JSON document plus denormalized columns for querying without decoding.
const Schema = `
type Manifest {
	bookID: String
	ownerID: String
	status: String
	step: String
	error: String
	doc: String
	updatedAt: String
}
`

// Remote is the authoritative manifest layer backed by DefraDB.
type Remote struct {
	client *defra.Client
}

// NewRemote creates a remote manifest layer over a DefraDB client.
func NewRemote(client *defra.Client) *Remote {
	return &Remote{client: client}
}

// EnsureSchema registers the Manifest collection. Safe to call repeatedly.
func (r *Remote) EnsureSchema(ctx context.Context) error {
	return r.client.AddSchema(ctx, Schema)
}

// Load reads a manifest from DefraDB. The read is first attempted as the
// requesting principal (identity on the context); if that identity cannot
// see the document, it is retried as the server's privileged identity.
// Returns ErrNotFound when no document exists.
func (r *Remote) Load(ctx context.Context, bookID string) (*Manifest, error) {
	docs, err := r.client.QueryByField(ctx, Collection, "bookID", bookID, []string{"doc"})
	if err != nil || len(docs) == 0 {
		if err == nil || errors.Is(err, defra.ErrUnauthorized) {
			if defra.IdentityFrom(ctx) == "" {
				if err != nil {
					return nil, err
				}
				return nil, ErrNotFound
			}
			// Retry without the caller identity: the privileged fallback.
			docs, err = r.client.QueryByField(defra.WithIdentity(context.WithoutCancel(ctx), ""),
				Collection, "bookID", bookID, []string{"doc"})
		}
		if err != nil {
			return nil, fmt.Errorf("remote manifest load failed: %w", err)
		}
	}
	if len(docs) == 0 {
		return nil, ErrNotFound
	}

	raw, _ := docs[0]["doc"].(string)
	if raw == "" {
		return nil, fmt.Errorf("remote manifest %s has empty document", bookID)
	}

	var m Manifest
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("remote manifest %s is malformed: %w", bookID, err)
	}
	return &m, nil
}

// Save upserts a manifest into DefraDB, refreshing the denormalized columns
// alongside the opaque document.
func (r *Remote) Save(ctx context.Context, m *Manifest) error {
	doc, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	fields := map[string]any{
		"ownerID":   m.OwnerID,
		"status":    string(m.Status),
		"step":      m.Step.String(),
		"error":     m.Error,
		"doc":       string(doc),
		"updatedAt": m.UpdatedAt.Format("2006-01-02T15:04:05.000Z07:00"),
	}

	existing, err := r.client.QueryByField(ctx, Collection, "bookID", m.ID, []string{"_docID"})
	if err != nil {
		return fmt.Errorf("remote manifest lookup failed: %w", err)
	}

	if len(existing) == 0 {
		fields["bookID"] = m.ID
		if _, err := r.client.Create(ctx, Collection, fields); err != nil {
			return fmt.Errorf("remote manifest create failed: %w", err)
		}
		return nil
	}

	if err := r.client.UpdateByFilter(ctx, Collection, "bookID", m.ID, fields); err != nil {
		return fmt.Errorf("remote manifest update failed: %w", err)
	}
	return nil
}

// ListByOwner returns the status projections for all of an owner's books.
func (r *Remote) ListByOwner(ctx context.Context, ownerID string) ([]*Manifest, error) {
	docs, err := r.client.QueryByField(ctx, Collection, "ownerID", ownerID, []string{"doc"})
	if err != nil {
		return nil, fmt.Errorf("remote manifest list failed: %w", err)
	}

	manifests := make([]*Manifest, 0, len(docs))
	for _, d := range docs {
		raw, _ := d["doc"].(string)
		if raw == "" {
			continue
		}
		var m Manifest
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			continue
		}
		manifests = append(manifests, &m)
	}
	return manifests, nil
}
