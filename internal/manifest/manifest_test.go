package manifest

import (
	"testing"
	"time"
)

func TestStep_String(t *testing.T) {
	tests := []struct {
		step Step
		want string
	}{
		{Step{Phase: PhaseCreated}, "created"},
		{Step{Phase: PhaseStory}, "story"},
		{Step{Phase: PhaseCover}, "cover"},
		{Step{Phase: PhasePage, Page: 1}, "page_1"},
		{Step{Phase: PhasePage, Page: 12}, "page_12"},
		{Step{Phase: PhasePDF}, "pdf"},
		{Step{Phase: PhaseDone}, "done"},
	}

	for _, tt := range tests {
		if got := tt.step.String(); got != tt.want {
			t.Errorf("Step%v.String() = %q, want %q", tt.step, got, tt.want)
		}
	}
}

func TestParseStep(t *testing.T) {
	t.Run("round trips", func(t *testing.T) {
		steps := []Step{
			{Phase: PhaseCreated},
			{Phase: PhaseStory},
			{Phase: PhaseCover},
			{Phase: PhasePage, Page: 1},
			{Phase: PhasePage, Page: 8},
			{Phase: PhasePDF},
			{Phase: PhaseDone},
		}
		for _, s := range steps {
			got, err := ParseStep(s.String())
			if err != nil {
				t.Fatalf("ParseStep(%q) error = %v", s.String(), err)
			}
			if got != s {
				t.Errorf("ParseStep(%q) = %v, want %v", s.String(), got, s)
			}
		}
	})

	t.Run("rejects invalid input", func(t *testing.T) {
		for _, raw := range []string{"", "page_", "page_0", "page_-1", "page_x", "chapter"} {
			if _, err := ParseStep(raw); err == nil {
				t.Errorf("ParseStep(%q) expected error", raw)
			}
		}
	})
}

func TestNew(t *testing.T) {
	m := New("book-1", "owner-1")

	if m.ID != "book-1" {
		t.Errorf("ID = %q", m.ID)
	}
	if m.OwnerID != "owner-1" {
		t.Errorf("OwnerID = %q", m.OwnerID)
	}
	if m.Status != StatusCreated {
		t.Errorf("Status = %q, want %q", m.Status, StatusCreated)
	}
	if m.Step.Phase != PhaseCreated {
		t.Errorf("Step = %v, want created", m.Step)
	}
	if m.CreatedAt.IsZero() || m.UpdatedAt.IsZero() {
		t.Error("timestamps not set")
	}
}

func TestManifest_Advance(t *testing.T) {
	t.Run("walks every step in order", func(t *testing.T) {
		m := New("b", "o")
		m.PageCount = 3

		m.Advance(Step{Phase: PhaseCreated})
		if m.Step.Phase != PhaseStory {
			t.Fatalf("after created: %v", m.Step)
		}

		m.Advance(Step{Phase: PhaseStory})
		if m.Step.Phase != PhaseCover {
			t.Fatalf("after story: %v", m.Step)
		}

		m.Advance(Step{Phase: PhaseCover})
		if m.Step != (Step{Phase: PhasePage, Page: 1}) {
			t.Fatalf("after cover: %v", m.Step)
		}

		m.Advance(Step{Phase: PhasePage, Page: 1})
		if m.Step != (Step{Phase: PhasePage, Page: 2}) {
			t.Fatalf("after page_1: %v", m.Step)
		}

		m.Advance(Step{Phase: PhasePage, Page: 3})
		if m.Step.Phase != PhasePDF {
			t.Fatalf("after last page: %v", m.Step)
		}

		m.Advance(Step{Phase: PhasePDF})
		if m.Step.Phase != PhaseDone {
			t.Fatalf("after pdf: %v", m.Step)
		}
		if m.Status != StatusDone {
			t.Errorf("Status = %q, want done", m.Status)
		}
	})

	t.Run("last page boundary respects page count", func(t *testing.T) {
		m := New("b", "o")
		m.PageCount = 8

		m.Advance(Step{Phase: PhasePage, Page: 7})
		if m.Step != (Step{Phase: PhasePage, Page: 8}) {
			t.Fatalf("after page_7: %v", m.Step)
		}

		m.Advance(Step{Phase: PhasePage, Page: 8})
		if m.Step.Phase != PhasePDF {
			t.Fatalf("after page_8: %v", m.Step)
		}
	})
}

func TestManifest_HasInputs(t *testing.T) {
	m := New("b", "o")
	if m.HasInputs() {
		t.Error("fresh manifest should not have inputs")
	}

	m.Photo = InputFile{File: "/tmp/photo.png"}
	if m.HasInputs() {
		t.Error("photo alone is not enough")
	}

	m.Mask = InputFile{URL: "https://example.com/mask.png"}
	if !m.HasInputs() {
		t.Error("photo file + mask URL should count as inputs")
	}
}

func TestManifest_SetImage(t *testing.T) {
	m := New("b", "o")

	m.SetImage(PageImage{Page: 1, URL: "u1"})
	m.SetImage(PageImage{Page: 2, URL: "u2"})
	m.SetImage(PageImage{Page: 1, URL: "u1-replaced"})

	if len(m.Images) != 2 {
		t.Fatalf("len(Images) = %d, want 2", len(m.Images))
	}
	img, ok := m.ImageFor(1)
	if !ok || img.URL != "u1-replaced" {
		t.Errorf("ImageFor(1) = %+v, %v", img, ok)
	}
}

func TestManifest_Fail(t *testing.T) {
	m := New("b", "o")
	m.Pending = &Pending{Handle: "h"}

	m.Fail("provider exploded")

	if m.Status != StatusFailed {
		t.Errorf("Status = %q", m.Status)
	}
	if m.Error != "provider exploded" {
		t.Errorf("Error = %q", m.Error)
	}
	if m.Pending != nil {
		t.Error("Pending should be cleared on failure")
	}
}

func TestPending_StaleAfter(t *testing.T) {
	now := time.Now()
	p := &Pending{CreatedAt: now.Add(-10 * time.Minute)}

	if !p.StaleAfter(8*time.Minute, now) {
		t.Error("10 minute old job should be stale at 8 minute cutoff")
	}
	if p.StaleAfter(15*time.Minute, now) {
		t.Error("10 minute old job should not be stale at 15 minute cutoff")
	}
}

func TestManifest_StoryPageFor(t *testing.T) {
	m := New("b", "o")
	m.Pages = []StoryPage{
		{Page: 1, Title: "One", Body: "first"},
		{Page: 2, Title: "Two", Body: "second"},
	}

	p, ok := m.StoryPageFor(2)
	if !ok || p.Title != "Two" {
		t.Errorf("StoryPageFor(2) = %+v, %v", p, ok)
	}
	if _, ok := m.StoryPageFor(3); ok {
		t.Error("StoryPageFor(3) should report missing")
	}
}
