// Package assembler produces the final print-ready PDF from the cover and
// the ordered page illustrations.
package assembler

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// Config holds assembler settings.
type Config struct {
	// Form is the physical page size, e.g. "A4" or "Letter".
	Form   string
	Logger *slog.Logger
}

// Assembler concatenates illustrations into one paginated document, one
// physical page per image, each image fit-scaled to the page while
// preserving aspect ratio.
type Assembler struct {
	form   string
	logger *slog.Logger
}

// New creates an Assembler.
func New(cfg Config) *Assembler {
	if cfg.Form == "" {
		cfg.Form = "A4"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{form: cfg.Form, logger: logger}
}

// Assemble writes the document to outPath. coverPath may be empty; page
// images come in reading order. Slots whose image file is missing are
// skipped rather than left blank; having nothing at all to place is fatal.
func (a *Assembler) Assemble(coverPath string, pagePaths []string, outPath string) error {
	candidates := make([]string, 0, len(pagePaths)+1)
	if coverPath != "" {
		candidates = append(candidates, coverPath)
	}
	candidates = append(candidates, pagePaths...)

	var imgFiles []string
	for _, p := range candidates {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			a.logger.Warn("skipping missing page image", "path", p, "error", err)
			continue
		}
		imgFiles = append(imgFiles, p)
	}

	if len(imgFiles) == 0 {
		return fmt.Errorf("no page images available to assemble")
	}

	// One page per image, centered, scaled to fill while keeping aspect.
	imp, err := api.Import(fmt.Sprintf("form:%s, pos:c, scale:1.0 rel", a.form), types.POINTS)
	if err != nil {
		return fmt.Errorf("failed to build import settings: %w", err)
	}

	if err := api.ImportImagesFile(imgFiles, outPath, imp, nil); err != nil {
		return fmt.Errorf("failed to assemble document: %w", err)
	}

	a.logger.Info("document assembled", "pages", len(imgFiles), "path", outPath)
	return nil
}
