// Package inputs validates and normalizes the uploaded reference photo and
// paint mask before any job state is touched.
package inputs

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"

	_ "golang.org/x/image/webp"

	"github.com/disintegration/imaging"
)

// InputError is a rejected upload: malformed image data or a photo/mask
// dimension mismatch. It is always raised before any manifest mutation.
type InputError struct {
	Msg string
}

func (e *InputError) Error() string {
	return e.Msg
}

// Pair is the normalized photo/mask pair, both re-encoded as PNG at the same
// bounded resolution.
type Pair struct {
	Photo  []byte
	Mask   []byte
	Width  int
	Height int
}

// Normalize decodes both uploads, requires identical pixel dimensions, and
// downscales them together so the longest edge is at most maxDim. The two
// images must stay pixel-aligned because the mask selects regions of the
// photo for the edit backends.
func Normalize(photoData, maskData []byte, maxDim int) (*Pair, error) {
	photo, err := decode(photoData, "photo")
	if err != nil {
		return nil, err
	}
	mask, err := decode(maskData, "mask")
	if err != nil {
		return nil, err
	}

	pb, mb := photo.Bounds(), mask.Bounds()
	if pb.Dx() != mb.Dx() || pb.Dy() != mb.Dy() {
		return nil, &InputError{Msg: fmt.Sprintf(
			"photo (%dx%d) and mask (%dx%d) must have identical dimensions",
			pb.Dx(), pb.Dy(), mb.Dx(), mb.Dy())}
	}

	w, h := fitWithin(pb.Dx(), pb.Dy(), maxDim)
	if w != pb.Dx() || h != pb.Dy() {
		photo = imaging.Resize(photo, w, h, imaging.Lanczos)
		// NearestNeighbor keeps mask edges hard instead of feathering them.
		mask = imaging.Resize(mask, w, h, imaging.NearestNeighbor)
	}

	photoPNG, err := encodePNG(photo)
	if err != nil {
		return nil, fmt.Errorf("failed to encode photo: %w", err)
	}
	maskPNG, err := encodePNG(mask)
	if err != nil {
		return nil, fmt.Errorf("failed to encode mask: %w", err)
	}

	return &Pair{Photo: photoPNG, Mask: maskPNG, Width: w, Height: h}, nil
}

func decode(data []byte, label string) (image.Image, error) {
	if len(data) == 0 {
		return nil, &InputError{Msg: fmt.Sprintf("empty %s upload", label)}
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &InputError{Msg: fmt.Sprintf("cannot decode %s: %v", label, err)}
	}
	return img, nil
}

// fitWithin scales (w, h) down proportionally so both fit in maxDim.
// Images already within bounds keep their size.
func fitWithin(w, h, maxDim int) (int, int) {
	if maxDim <= 0 || (w <= maxDim && h <= maxDim) {
		return w, h
	}
	if w >= h {
		return maxDim, max(1, h*maxDim/w)
	}
	return max(1, w*maxDim/h), maxDim
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
