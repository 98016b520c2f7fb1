package providers

import (
	"strings"
	"testing"

	"github.com/fablepress/fable/internal/manifest"
)

func TestBuildScenePrompt(t *testing.T) {
	prompt := BuildScenePrompt("cartoon", "Mia rode a seahorse past the reef.")

	if !strings.Contains(prompt, "Mia rode a seahorse past the reef.") {
		t.Error("prompt missing the scene text")
	}
	if !strings.Contains(prompt, "cartoon") {
		t.Error("prompt missing the style descriptor")
	}
	if !strings.Contains(prompt, "No text in the image") {
		t.Error("prompt missing the no-text instruction")
	}
}

func TestBuildCoverPrompt(t *testing.T) {
	prompt := BuildCoverPrompt("storybook", "Mia", "ocean")

	if !strings.Contains(prompt, "Mia") {
		t.Error("prompt missing the child's name")
	}
	if !strings.Contains(prompt, "underwater") {
		t.Error("known theme should expand to its description")
	}
}

func TestThemeAndStyleFallThrough(t *testing.T) {
	// Unknown keys pass through verbatim so new themes need no code change.
	if got := themeDescription("volcanoes"); got != "volcanoes" {
		t.Errorf("themeDescription = %q", got)
	}
	if got := styleDescriptor("charcoal"); got != "charcoal" {
		t.Errorf("styleDescriptor = %q", got)
	}
}

func TestStoryUserPrompt_Grammar(t *testing.T) {
	base := StoryRequest{Child: manifest.ChildProfile{Name: "Sam", Age: 6}, Theme: "space"}

	girl := base
	girl.Child.Grammar = "girl"
	if p := storyUserPrompt(girl); !strings.Contains(p, "she/her") {
		t.Errorf("girl grammar prompt = %q", p)
	}

	boy := base
	boy.Child.Grammar = "boy"
	if p := storyUserPrompt(boy); !strings.Contains(p, "he/him") {
		t.Errorf("boy grammar prompt = %q", p)
	}

	if p := storyUserPrompt(base); !strings.Contains(p, "avoiding gendered pronouns") {
		t.Errorf("neutral grammar prompt = %q", p)
	}
}
