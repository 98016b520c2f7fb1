// Package compositor stamps story text onto generated illustrations. A
// semi-opaque rounded panel is drawn over a fixed region of the image and
// wrapped title/body text is rendered inside it; the panel geometry and all
// font sizes are fractions of the image dimensions, so the layout is
// resolution-independent.
package compositor

import (
	"fmt"
	"image"

	"github.com/fogleman/gg"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
)

// PanelKind selects the panel geometry.
type PanelKind int

const (
	// PanelPage is the large bottom band used for interior pages.
	PanelPage PanelKind = iota
	// PanelCover is the smaller top band used for the cover.
	PanelCover
)

// Panel geometry as fractions of the image dimensions.
const (
	panelWidthFrac  = 0.90
	panelMarginFrac = 0.05 // horizontal and vertical distance to image edge

	pagePanelHeightFrac  = 0.30
	coverPanelHeightFrac = 0.18

	panelPaddingFrac = 0.045 // padding inside the panel, fraction of panel width
	cornerRadiusFrac = 0.03  // corner radius, fraction of image width
)

// Font size bounds as fractions of the image width.
const (
	maxTitleFrac = 0.050
	maxBodyFrac  = 0.032
	minTitleFrac = 0.028
	minBodyFrac  = 0.016
)

type rect struct {
	x, y, w, h float64
}

func panelRect(kind PanelKind, imgW, imgH float64) rect {
	r := rect{
		x: imgW * panelMarginFrac,
		w: imgW * panelWidthFrac,
	}
	switch kind {
	case PanelCover:
		r.y = imgH * panelMarginFrac
		r.h = imgH * coverPanelHeightFrac
	default:
		r.h = imgH * pagePanelHeightFrac
		r.y = imgH - r.h - imgH*panelMarginFrac
	}
	return r
}

// Fit computes the wrapped, shrunk-to-fit text layout for an image of the
// given dimensions without rendering anything. Stamp uses exactly this
// layout, so callers can verify the text-fit invariant against it.
func Fit(title, body string, imgW, imgH int, kind PanelKind) (Layout, error) {
	panel := panelRect(kind, float64(imgW), float64(imgH))
	padding := panel.w * panelPaddingFrac
	usableW := panel.w - 2*padding
	usableH := panel.h - 2*padding
	if usableW <= 0 || usableH <= 0 {
		return Layout{}, fmt.Errorf("image %dx%d too small to hold a text panel", imgW, imgH)
	}

	w := float64(imgW)
	return FitText(title, body, usableW, usableH,
		w*maxTitleFrac, w*maxBodyFrac, w*minTitleFrac, w*minBodyFrac), nil
}

// Stamp renders the panel and fitted text onto a copy of the illustration,
// returning a new raster of identical dimensions.
func Stamp(img image.Image, title, body string, kind PanelKind) (image.Image, error) {
	bounds := img.Bounds()
	imgW, imgH := bounds.Dx(), bounds.Dy()

	layout, err := Fit(title, body, imgW, imgH, kind)
	if err != nil {
		return nil, err
	}

	panel := panelRect(kind, float64(imgW), float64(imgH))
	padding := panel.w * panelPaddingFrac

	dc := gg.NewContext(imgW, imgH)
	dc.DrawImage(img, 0, 0)

	// Semi-opaque panel.
	dc.SetRGBA(1, 1, 1, 0.82)
	dc.DrawRoundedRectangle(panel.x, panel.y, panel.w, panel.h, float64(imgW)*cornerRadiusFrac)
	dc.Fill()

	titleFace, err := loadFace(gobold.TTF, layout.TitleSize)
	if err != nil {
		return nil, fmt.Errorf("failed to load title font: %w", err)
	}
	bodyFace, err := loadFace(goregular.TTF, layout.BodySize)
	if err != nil {
		return nil, fmt.Errorf("failed to load body font: %w", err)
	}

	dc.SetRGB(0.13, 0.12, 0.11)
	centerX := panel.x + panel.w/2
	y := panel.y + padding

	dc.SetFontFace(titleFace)
	for _, line := range layout.TitleLines {
		y += layout.TitleSize * lineSpacing
		dc.DrawStringAnchored(line, centerX, y-layout.TitleSize*0.3, 0.5, 0)
	}
	if len(layout.TitleLines) > 0 && len(layout.BodyLines) > 0 {
		y += layout.BodySize * 0.6
	}

	dc.SetFontFace(bodyFace)
	for _, line := range layout.BodyLines {
		y += layout.BodySize * lineSpacing
		dc.DrawStringAnchored(line, centerX, y-layout.BodySize*0.3, 0.5, 0)
	}

	return dc.Image(), nil
}

func loadFace(ttf []byte, size float64) (font.Face, error) {
	parsed, err := opentype.Parse(ttf)
	if err != nil {
		return nil, err
	}
	return opentype.NewFace(parsed, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
}
