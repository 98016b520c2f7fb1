package pipeline

import (
	"time"

	"github.com/fablepress/fable/internal/manifest"
)

// PageProgress reports one page's completion.
type PageProgress struct {
	Page     int    `json:"page"`
	Title    string `json:"title,omitempty"`
	ImageURL string `json:"imageUrl,omitempty"`
}

// Progress is the read-only projection of a job's manifest returned by the
// advance and status operations.
type Progress struct {
	BookID string          `json:"bookId"`
	Status manifest.Status `json:"status"`
	Step   string          `json:"step"`
	Error  string          `json:"error,omitempty"`

	PageCount int            `json:"pageCount"`
	PagesDone int            `json:"pagesDone"`
	Pages     []PageProgress `json:"pages,omitempty"`

	CoverURL    string `json:"coverUrl,omitempty"`
	DocumentURL string `json:"documentUrl,omitempty"`

	// PendingJob is set while an asynchronous provider job is in flight.
	PendingJob bool      `json:"pendingJob"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// ProgressFrom projects a manifest into its client-facing progress view.
func ProgressFrom(m *manifest.Manifest) *Progress {
	p := &Progress{
		BookID:     m.ID,
		Status:     m.Status,
		Step:       m.Step.String(),
		Error:      m.Error,
		PageCount:  m.PageCount,
		PendingJob: m.Pending != nil,
		UpdatedAt:  m.UpdatedAt,
	}

	if m.Cover.OK {
		p.CoverURL = m.Cover.URL
	}
	if m.Document.URL != "" {
		p.DocumentURL = m.Document.URL
	}

	for _, page := range m.Pages {
		pp := PageProgress{Page: page.Page, Title: page.Title}
		if img, ok := m.ImageFor(page.Page); ok {
			pp.ImageURL = img.URL
			p.PagesDone++
		}
		p.Pages = append(p.Pages, pp)
	}
	return p
}
