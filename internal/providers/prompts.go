package providers

import (
	"fmt"
	"strings"
)

// Theme descriptions keyed by theme. Unknown keys fall back to the raw key
// so new themes can ship without a code change.
var themeDescriptions = map[string]string{
	"ocean":     "an underwater adventure among coral reefs, friendly sea creatures and sunken treasure",
	"forest":    "a journey through an enchanted forest full of talking animals and hidden paths",
	"space":     "a voyage across the stars with rockets, planets and curious aliens",
	"dinosaurs": "a trip back in time to a land of gentle giant dinosaurs",
	"pirates":   "a treasure hunt on the high seas with a friendly pirate crew",
	"castle":    "a tale of knights, dragons and a grand castle on a hill",
}

// Style descriptors keyed by illustration style.
var styleDescriptors = map[string]string{
	"read":      "soft watercolor children's book illustration, warm pastel palette, gentle lighting",
	"cartoon":   "bright cartoon illustration, bold outlines, cheerful saturated colors",
	"storybook": "classic storybook illustration, textured brush strokes, cozy atmosphere",
	"pixel":     "charming pixel art illustration, vibrant retro palette",
}

func themeDescription(theme string) string {
	if d, ok := themeDescriptions[theme]; ok {
		return d
	}
	return theme
}

func styleDescriptor(style string) string {
	if d, ok := styleDescriptors[style]; ok {
		return d
	}
	return style
}

// storySystemPrompt frames the model as a children's author and pins the
// output contract.
func storySystemPrompt(req StoryRequest) string {
	var b strings.Builder
	b.WriteString("You are a children's book author writing a personalized storybook. ")
	fmt.Fprintf(&b, "Write exactly %d pages. ", req.PageCount)
	fmt.Fprintf(&b, "Each page has a short title and one paragraph of at most %d words. ",
		WordCapForAge(req.Child.Age))
	b.WriteString("Use simple, warm language a child can follow when read aloud. ")
	b.WriteString("Every page must describe one concrete visual scene, because each page will be illustrated.")
	return b.String()
}

// storyUserPrompt carries the story parameters.
func storyUserPrompt(req StoryRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The hero is %s, age %d.", req.Child.Name, req.Child.Age)
	switch req.Child.Grammar {
	case "girl":
		b.WriteString(" Refer to the hero as she/her.")
	case "boy":
		b.WriteString(" Refer to the hero as he/him.")
	default:
		b.WriteString(" Refer to the hero by name, avoiding gendered pronouns.")
	}
	fmt.Fprintf(&b, " The story is %s.", themeDescription(req.Theme))
	return b.String()
}

// BuildScenePrompt produces the illustration prompt for one interior page,
// using that page's story paragraph as the scene source.
func BuildScenePrompt(style, body string) string {
	return fmt.Sprintf(
		"Illustrate this scene with the child from the reference photo as the main character: %s. "+
			"Style: %s. Leave the lower third of the image visually calm for a text panel. No text in the image.",
		body, styleDescriptor(style))
}

// BuildCoverPrompt produces the illustration prompt for the book cover.
func BuildCoverPrompt(style, childName, theme string) string {
	return fmt.Sprintf(
		"A storybook cover illustration starring the child from the reference photo, named %s, set in %s. "+
			"Style: %s. Heroic, inviting composition with the upper part of the image visually calm for the title. "+
			"No text in the image.",
		childName, themeDescription(theme), styleDescriptor(style))
}
