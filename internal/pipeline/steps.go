package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fablepress/fable/internal/compositor"
	"github.com/fablepress/fable/internal/manifest"
	"github.com/fablepress/fable/internal/providers"
	"github.com/fablepress/fable/internal/storage"
)

// stepStory generates the narrative text and advances to the cover.
func (e *Executor) stepStory(ctx context.Context, m *manifest.Manifest) error {
	if len(m.Pages) > 0 {
		// Text already generated on a previous invocation; just move on.
		m.Status = manifest.StatusGenerating
		m.Advance(manifest.Step{Phase: manifest.PhaseStory})
		return nil
	}

	pages, err := e.gw().Story.GenerateStory(ctx, providers.StoryRequest{
		Child:     m.Child,
		Theme:     m.Theme,
		PageCount: m.PageCount,
	})
	if err != nil {
		return err
	}

	m.Pages = pages
	m.Status = manifest.StatusGenerating
	m.Advance(manifest.Step{Phase: manifest.PhaseStory})
	e.logger.Info("story generated", "book_id", m.ID, "pages", len(pages))
	return nil
}

// stepImage runs one illustration step (cover or a single page). With the
// asynchronous primary backend this spans multiple invocations: submit on
// one call, poll on the following calls, finish when the provider job
// succeeds. The synchronous fallback finishes within a single call.
func (e *Executor) stepImage(ctx context.Context, m *manifest.Manifest, target manifest.Step) error {
	if e.imageDone(m, target) {
		// Artifact already produced; advance without touching the provider.
		m.Advance(target)
		return nil
	}
	if !m.HasInputs() {
		return ErrMissingInputs
	}

	prompt, title, body, err := e.promptFor(m, target)
	if err != nil {
		return err
	}

	gw := e.gw()
	if !gw.HasPrimary() {
		raw, err := gw.Fallback.Edit(ctx, providers.ImageRequest{
			Prompt:   prompt,
			PhotoURL: inputLocation(m.Photo),
			MaskURL:  inputLocation(m.Mask),
		})
		if err != nil {
			return err
		}
		return e.finishImage(ctx, m, target, raw, title, body)
	}

	if m.Pending == nil {
		return e.submit(ctx, gw, m, target, prompt, 1)
	}

	if m.Pending.Target != target {
		// A leftover pending record from a step that already completed
		// (e.g. the save after its success failed remotely). Drop it and
		// submit for the current step.
		e.logger.Warn("discarding pending record for completed step",
			"book_id", m.ID, "pending_step", m.Pending.Target.String(), "step", target.String())
		m.Pending = nil
		return e.submit(ctx, gw, m, target, prompt, 1)
	}

	if m.Pending.StaleAfter(e.watchdogMaxAge, time.Now().UTC()) {
		return e.recoverStale(ctx, gw, m, target)
	}

	status, err := gw.Primary.Poll(ctx, m.Pending.Handle)
	if err != nil {
		return err
	}

	switch status.State {
	case providers.JobQueued, providers.JobRunning:
		// Still working; report progress unchanged.
		m.Touch()
		return nil

	case providers.JobSucceeded:
		raw, err := providers.FetchImage(ctx, status.Output)
		if err != nil {
			return err
		}
		return e.finishImage(ctx, m, target, raw, title, body)

	case providers.JobFailed:
		attempts := m.Pending.Attempts
		if attempts >= e.maxSubmitAttempts {
			return &providers.GenerationError{
				Provider: gw.Primary.Name(),
				Op:       target.String(),
				Msg:      fmt.Sprintf("failed after %d attempts: %s", attempts, status.Error),
			}
		}
		e.logger.Warn("provider job failed, resubmitting",
			"book_id", m.ID, "step", target.String(), "attempt", attempts+1, "error", status.Error)
		// The old pending record stays in place until the resubmission lands
		// so a busy provider cannot reset the attempt counter.
		return e.submit(ctx, gw, m, target, prompt, attempts+1)
	}

	return fmt.Errorf("provider job %s in unexpected state %q", status.Handle, status.State)
}

// submit issues a fresh provider job and records the pending handle.
func (e *Executor) submit(ctx context.Context, gw *providers.Gateway, m *manifest.Manifest, target manifest.Step, prompt string, attempt int) error {
	handle, err := gw.Primary.Submit(ctx, providers.ImageRequest{
		Prompt:   prompt,
		PhotoURL: inputLocation(m.Photo),
		MaskURL:  inputLocation(m.Mask),
	})
	if err != nil {
		return err
	}

	m.Pending = &manifest.Pending{
		Handle:    handle,
		Target:    target,
		Prompt:    prompt,
		Attempts:  attempt,
		CreatedAt: time.Now().UTC(),
	}
	m.Status = manifest.StatusGenerating
	m.Touch()
	e.logger.Info("provider job submitted",
		"book_id", m.ID, "step", target.String(), "handle", handle, "attempt", attempt)
	return nil
}

// recoverStale handles a pending record older than the watchdog threshold:
// the job is presumed lost and resubmitted exactly once per invocation, until
// the attempt bound fails the step. The stale record is only replaced once
// the resubmission lands, so the attempt counter survives a busy provider.
func (e *Executor) recoverStale(ctx context.Context, gw *providers.Gateway, m *manifest.Manifest, target manifest.Step) error {
	attempts := m.Pending.Attempts
	prompt := m.Pending.Prompt

	if attempts >= e.maxSubmitAttempts {
		return &providers.GenerationError{
			Provider: gw.Primary.Name(),
			Op:       target.String(),
			Msg:      fmt.Sprintf("abandoned after %d stale submissions", attempts),
		}
	}

	e.logger.Warn("pending provider job went stale, resubmitting",
		"book_id", m.ID, "step", target.String(), "age_limit", e.watchdogMaxAge, "attempt", attempts+1)
	return e.submit(ctx, gw, m, target, prompt, attempts+1)
}

// imageDone reports whether the target step's artifact already exists.
func (e *Executor) imageDone(m *manifest.Manifest, target manifest.Step) bool {
	if target.Phase == manifest.PhaseCover {
		return m.Cover.OK
	}
	_, ok := m.ImageFor(target.Page)
	return ok
}

// promptFor builds the illustration prompt and the text to stamp for a step.
func (e *Executor) promptFor(m *manifest.Manifest, target manifest.Step) (prompt, title, body string, err error) {
	if target.Phase == manifest.PhaseCover {
		title = coverTitle(m)
		return providers.BuildCoverPrompt(m.Style, m.Child.Name, m.Theme), title, "", nil
	}

	page, ok := m.StoryPageFor(target.Page)
	if !ok {
		return "", "", "", fmt.Errorf("manifest %s has no story text for page %d", m.ID, target.Page)
	}
	return providers.BuildScenePrompt(m.Style, page.Body), page.Title, page.Body, nil
}

// finishImage stamps the text panel onto the raw illustration, persists the
// result, records the artifact, clears pending and advances the cursor.
func (e *Executor) finishImage(ctx context.Context, m *manifest.Manifest, target manifest.Step, raw image.Image, title, body string) error {
	kind := compositor.PanelPage
	localPath := e.home.PageImagePath(m.ID, target.Page)
	filename := filepath.Base(localPath)
	if target.Phase == manifest.PhaseCover {
		kind = compositor.PanelCover
		localPath = e.home.CoverPath(m.ID)
		filename = filepath.Base(localPath)
	}

	stamped, err := compositor.Stamp(raw, title, body, kind)
	if err != nil {
		return err
	}

	file, url, err := e.persistPNG(ctx, m.ID, filename, localPath, stamped)
	if err != nil {
		return err
	}

	if target.Phase == manifest.PhaseCover {
		m.Cover = manifest.Cover{OK: true, File: file, URL: url}
	} else {
		m.SetImage(manifest.PageImage{Page: target.Page, File: file, URL: url})
	}
	m.Pending = nil
	m.Status = manifest.StatusGenerating
	m.Advance(target)
	e.logger.Info("illustration finished", "book_id", m.ID, "step", target.String(), "url", url)
	return nil
}

// persistPNG writes the image to the book's working directory and, when the
// object store is configured, uploads it there. The returned URL is the
// durable location if one exists, else the local path.
func (e *Executor) persistPNG(ctx context.Context, bookID, filename, localPath string, img image.Image) (file, url string, err error) {
	if err := e.home.EnsureBookDir(bookID); err != nil {
		return "", "", fmt.Errorf("failed to create book directory: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", "", fmt.Errorf("failed to encode image: %w", err)
	}
	if err := os.WriteFile(localPath, buf.Bytes(), 0o644); err != nil {
		return "", "", fmt.Errorf("failed to write image: %w", err)
	}

	url = localPath
	if e.storage.Enabled() {
		url, err = e.storage.Put(ctx, storage.ObjectKey(bookID, filename), "image/png", buf.Bytes())
		if err != nil {
			return "", "", err
		}
	}
	return localPath, url, nil
}

// stepDocument assembles the final PDF from the cover and all pages.
func (e *Executor) stepDocument(ctx context.Context, m *manifest.Manifest) error {
	if m.Document.File != "" || m.Document.URL != "" {
		m.Advance(manifest.Step{Phase: manifest.PhasePDF})
		return nil
	}

	// The local working files may have been recycled since the images were
	// generated; refetch anything missing from its durable URL.
	coverPath := ""
	if m.Cover.OK {
		coverPath = e.home.CoverPath(m.ID)
		if err := e.materialize(ctx, coverPath, m.Cover.URL); err != nil {
			e.logger.Warn("cover unavailable for assembly", "book_id", m.ID, "error", err)
			coverPath = ""
		}
	}

	pagePaths := make([]string, 0, len(m.Pages))
	for _, page := range m.Pages {
		img, ok := m.ImageFor(page.Page)
		if !ok {
			e.logger.Warn("page has no illustration, skipping", "book_id", m.ID, "page", page.Page)
			continue
		}
		path := e.home.PageImagePath(m.ID, page.Page)
		if err := e.materialize(ctx, path, img.URL); err != nil {
			e.logger.Warn("page image unavailable for assembly",
				"book_id", m.ID, "page", page.Page, "error", err)
			continue
		}
		pagePaths = append(pagePaths, path)
	}

	outPath := e.home.DocumentPath(m.ID)
	if err := e.document.Assemble(coverPath, pagePaths, outPath); err != nil {
		return err
	}

	url := outPath
	if e.storage.Enabled() {
		data, err := os.ReadFile(outPath)
		if err != nil {
			return fmt.Errorf("failed to read assembled document: %w", err)
		}
		url, err = e.storage.Put(ctx, storage.ObjectKey(m.ID, filepath.Base(outPath)), "application/pdf", data)
		if err != nil {
			return err
		}
	}

	m.Document = manifest.InputFile{File: outPath, URL: url}
	m.Advance(manifest.Step{Phase: manifest.PhasePDF})
	e.logger.Info("book complete", "book_id", m.ID, "document", url)
	return nil
}

// materialize ensures a local copy of an artifact exists, downloading it from
// its durable URL when the working file is gone.
func (e *Executor) materialize(ctx context.Context, localPath, url string) error {
	if _, err := os.Stat(localPath); err == nil {
		return nil
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return fmt.Errorf("no local file and no durable url")
	}

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d fetching %s", resp.StatusCode, url)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(localPath, data, 0o644)
}

// inputLocation returns the durable URL of an input when available, else its
// local path.
func inputLocation(f manifest.InputFile) string {
	if f.URL != "" {
		return f.URL
	}
	return f.File
}

// coverTitle derives the cover text from the child profile.
func coverTitle(m *manifest.Manifest) string {
	name := strings.TrimSpace(m.Child.Name)
	if name == "" {
		return "A Storybook Adventure"
	}
	return fmt.Sprintf("The Adventures of %s", name)
}
