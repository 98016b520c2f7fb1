package compositor

import (
	"math"
	"strings"
)

// glyphWidthRatio is the monospace-width heuristic: average rendered glyph
// width estimated as a fraction of the font size. It deliberately
// overestimates slightly so wrapped lines never overrun the panel.
const glyphWidthRatio = 0.56

// lineSpacing is the rendered line height as a multiple of the font size.
const lineSpacing = 1.3

// Layout is the fitted text block for one panel: wrapped lines and the font
// sizes they were wrapped at.
type Layout struct {
	TitleSize  float64
	BodySize   float64
	TitleLines []string
	BodyLines  []string
}

// Height estimates the rendered height of the layout. The same estimate is
// used while fitting, so a fitted layout's Height never exceeds the panel's
// usable height.
func (l Layout) Height() float64 {
	h := float64(len(l.TitleLines)) * l.TitleSize * lineSpacing
	if len(l.TitleLines) > 0 && len(l.BodyLines) > 0 {
		h += l.BodySize * 0.6 // gap between title and body
	}
	h += float64(len(l.BodyLines)) * l.BodySize * lineSpacing
	return h
}

// WrapText greedily wraps text to lines of at most maxChars characters,
// breaking on word boundaries. Words longer than maxChars get a line of
// their own.
func WrapText(text string, maxChars int) []string {
	if maxChars < 1 {
		maxChars = 1
	}
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var lines []string
	current := words[0]
	for _, word := range words[1:] {
		if len(current)+1+len(word) <= maxChars {
			current += " " + word
		} else {
			lines = append(lines, current)
			current = word
		}
	}
	return append(lines, current)
}

// maxCharsPerLine estimates how many glyphs of the given font size fit into
// a usable width.
func maxCharsPerLine(usableWidth, fontSize float64) int {
	n := int(math.Floor(usableWidth / (glyphWidthRatio * fontSize)))
	if n < 1 {
		return 1
	}
	return n
}

// FitText wraps title and body into the usable panel area, starting at the
// maximum font sizes and shrinking until the block fits: body first down to
// its floor, then title down to its floor. The fit is guaranteed by
// construction for any input the floors can accommodate; extremely long
// text at both floors is still returned (slightly overflowing) rather than
// dropped.
func FitText(title, body string, usableWidth, usableHeight float64, maxTitle, maxBody, minTitle, minBody float64) Layout {
	titleSize := maxTitle
	bodySize := maxBody

	for {
		layout := Layout{
			TitleSize:  titleSize,
			BodySize:   bodySize,
			TitleLines: WrapText(title, maxCharsPerLine(usableWidth, titleSize)),
			BodyLines:  WrapText(body, maxCharsPerLine(usableWidth, bodySize)),
		}
		if layout.Height() <= usableHeight {
			return layout
		}

		switch {
		case bodySize > minBody:
			bodySize = math.Max(bodySize-1, minBody)
		case titleSize > minTitle:
			titleSize = math.Max(titleSize-1, minTitle)
		default:
			// Both floors hit; accept small print over dropped text.
			return layout
		}
	}
}
