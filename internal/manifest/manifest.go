// Package manifest defines the durable record of one book-generation job and
// the dual-layer store (local cache + DefraDB) that persists it.
package manifest

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Sentinel errors for the manifest package.
var (
	// ErrNotFound is returned when a manifest exists in neither store layer.
	ErrNotFound = errors.New("manifest not found")

	// ErrDurableSave is returned when the remote store is required for
	// durability and the remote write failed. The request must fail loudly;
	// a job whose state cannot be made durable must not appear saved.
	ErrDurableSave = errors.New("manifest not durably saved")
)

// Status is the coarse lifecycle state of a book job.
type Status string

const (
	StatusCreated    Status = "created"
	StatusGenerating Status = "generating"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

// Phase names one kind of pipeline step.
type Phase string

const (
	PhaseCreated Phase = "created"
	PhaseStory   Phase = "story"
	PhaseCover   Phase = "cover"
	PhasePage    Phase = "page"
	PhasePDF     Phase = "pdf"
	PhaseDone    Phase = "done"
)

// Step is the cursor naming exactly the next incomplete unit of work.
// Page is meaningful only when Phase is PhasePage.
type Step struct {
	Phase Phase `json:"phase"`
	Page  int   `json:"page,omitempty"`
}

// String renders the step in its wire form ("story", "page_3", ...).
func (s Step) String() string {
	if s.Phase == PhasePage {
		return fmt.Sprintf("page_%d", s.Page)
	}
	return string(s.Phase)
}

// ParseStep parses a wire-form step string.
func ParseStep(raw string) (Step, error) {
	if n, ok := strings.CutPrefix(raw, "page_"); ok {
		page, err := strconv.Atoi(n)
		if err != nil || page < 1 {
			return Step{}, fmt.Errorf("invalid page step %q", raw)
		}
		return Step{Phase: PhasePage, Page: page}, nil
	}
	switch Phase(raw) {
	case PhaseCreated, PhaseStory, PhaseCover, PhasePDF, PhaseDone:
		return Step{Phase: Phase(raw)}, nil
	}
	return Step{}, fmt.Errorf("unknown step %q", raw)
}

// ChildProfile holds the story parameters describing the child.
type ChildProfile struct {
	Name string `json:"name"`
	Age  int    `json:"age"`
	// Grammar selects the gender of language used in the narration
	// ("girl", "boy", "neutral").
	Grammar string `json:"grammar,omitempty"`
}

// InputFile tracks an uploaded or produced file by its local path and its
// durable-storage location. Local paths may not survive process restarts,
// so the storage key/URL is the recoverable reference.
type InputFile struct {
	File       string `json:"file,omitempty"`
	StorageKey string `json:"storageKey,omitempty"`
	URL        string `json:"url,omitempty"`
}

// StoryPage is one generated page of narrative text.
type StoryPage struct {
	Page  int    `json:"page"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

// PageImage is one finished (stamped) page illustration.
type PageImage struct {
	Page int    `json:"page"`
	File string `json:"file,omitempty"`
	URL  string `json:"url"`
}

// Cover records the finished cover illustration.
type Cover struct {
	OK   bool   `json:"ok"`
	File string `json:"file,omitempty"`
	URL  string `json:"url,omitempty"`
}

// Pending tracks an in-flight asynchronous provider job. At most one may
// exist per manifest; it is the cross-process signal that a submission is
// outstanding and must be polled rather than re-issued.
type Pending struct {
	// Handle is the opaque provider-side job identifier.
	Handle string `json:"handle"`
	// Target is the step the in-flight job belongs to.
	Target Step `json:"target"`
	// Prompt is kept so a stale job can be resubmitted verbatim.
	Prompt string `json:"prompt"`
	// Attempts counts submissions issued for this step, including the
	// current one.
	Attempts  int       `json:"attempts"`
	CreatedAt time.Time `json:"createdAt"`
}

// StaleAfter reports whether the pending job is older than maxAge and should
// be treated as abandoned by the watchdog.
func (p *Pending) StaleAfter(maxAge time.Duration, now time.Time) bool {
	return now.Sub(p.CreatedAt) > maxAge
}

// Manifest is the sole unit of work: the full durable state of one book.
type Manifest struct {
	ID      string `json:"id"`
	OwnerID string `json:"ownerId"`

	Status Status `json:"status"`
	Step   Step   `json:"step"`
	Error  string `json:"error,omitempty"`

	// Inputs.
	Theme     string       `json:"theme"`
	Style     string       `json:"style"`
	Child     ChildProfile `json:"child"`
	PageCount int          `json:"pageCount"`
	Photo     InputFile    `json:"photo"`
	Mask      InputFile    `json:"mask"`

	// Generated artifacts.
	Pages    []StoryPage `json:"pages,omitempty"`
	Images   []PageImage `json:"images,omitempty"`
	Cover    Cover       `json:"cover"`
	Document InputFile   `json:"document"`

	Pending *Pending `json:"pending,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// New returns an empty manifest in the created state.
func New(id, ownerID string) *Manifest {
	now := time.Now().UTC()
	return &Manifest{
		ID:        id,
		OwnerID:   ownerID,
		Status:    StatusCreated,
		Step:      Step{Phase: PhaseCreated},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Touch refreshes UpdatedAt. Every mutation goes through this so the
// timestamp stays monotonically non-decreasing.
func (m *Manifest) Touch() {
	now := time.Now().UTC()
	if now.After(m.UpdatedAt) {
		m.UpdatedAt = now
	}
}

// HasInputs reports whether both the photo and mask have been recorded.
func (m *Manifest) HasInputs() bool {
	return (m.Photo.File != "" || m.Photo.URL != "") &&
		(m.Mask.File != "" || m.Mask.URL != "")
}

// StoryPageFor returns the story text for a page number.
func (m *Manifest) StoryPageFor(page int) (StoryPage, bool) {
	for _, p := range m.Pages {
		if p.Page == page {
			return p, true
		}
	}
	return StoryPage{}, false
}

// ImageFor returns the finished illustration for a page number.
func (m *Manifest) ImageFor(page int) (PageImage, bool) {
	for _, img := range m.Images {
		if img.Page == page {
			return img, true
		}
	}
	return PageImage{}, false
}

// SetImage records a finished page illustration, replacing any previous
// record for the same page so page numbers stay unique.
func (m *Manifest) SetImage(img PageImage) {
	for i, existing := range m.Images {
		if existing.Page == img.Page {
			m.Images[i] = img
			return
		}
	}
	m.Images = append(m.Images, img)
}

// Fail moves the manifest into the terminal failed state.
func (m *Manifest) Fail(msg string) {
	m.Status = StatusFailed
	m.Error = msg
	m.Pending = nil
	m.Touch()
}

// Advance moves the cursor to the next step after the given one.
func (m *Manifest) Advance(after Step) {
	switch after.Phase {
	case PhaseCreated:
		m.Step = Step{Phase: PhaseStory}
	case PhaseStory:
		m.Step = Step{Phase: PhaseCover}
	case PhaseCover:
		m.Step = Step{Phase: PhasePage, Page: 1}
	case PhasePage:
		if after.Page >= m.PageCount {
			m.Step = Step{Phase: PhasePDF}
		} else {
			m.Step = Step{Phase: PhasePage, Page: after.Page + 1}
		}
	case PhasePDF:
		m.Step = Step{Phase: PhaseDone}
		m.Status = StatusDone
	}
	m.Touch()
}
