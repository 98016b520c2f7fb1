package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/fablepress/fable/internal/assembler"
	"github.com/fablepress/fable/internal/home"
	"github.com/fablepress/fable/internal/manifest"
	"github.com/fablepress/fable/internal/providers"
)

// fakeStory returns PageCount scripted pages, counting calls.
type fakeStory struct {
	calls int
	err   error
}

func (f *fakeStory) GenerateStory(ctx context.Context, req providers.StoryRequest) ([]manifest.StoryPage, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	pages := make([]manifest.StoryPage, req.PageCount)
	for i := range pages {
		pages[i] = manifest.StoryPage{
			Page:  i + 1,
			Title: fmt.Sprintf("Chapter %d", i+1),
			Body:  fmt.Sprintf("On page %d, %s explored the reef.", i+1, req.Child.Name),
		}
	}
	return pages, nil
}

func (f *fakeStory) Name() string { return "fake-story" }

// fakeSync renders a blank illustration on every Edit call.
type fakeSync struct {
	calls int
	err   error
}

func (f *fakeSync) Edit(ctx context.Context, req providers.ImageRequest) (image.Image, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return image.NewRGBA(image.Rect(0, 0, 256, 256)), nil
}

func (f *fakeSync) Name() string { return "fake-sync" }

// fakeAsync is a scriptable asynchronous backend. Poll pops states from the
// queue; when the queue is empty it reports success with an inline image.
type fakeAsync struct {
	submits    int
	polls      int
	submitErr  error
	lastPrompt string
	pollQueue  []providers.JobStatus
	pollErr    error
}

func (f *fakeAsync) Submit(ctx context.Context, req providers.ImageRequest) (string, error) {
	f.submits++
	f.lastPrompt = req.Prompt
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return fmt.Sprintf("job-%d", f.submits), nil
}

func (f *fakeAsync) Poll(ctx context.Context, handle string) (*providers.JobStatus, error) {
	f.polls++
	if f.pollErr != nil {
		return nil, f.pollErr
	}
	if len(f.pollQueue) > 0 {
		st := f.pollQueue[0]
		f.pollQueue = f.pollQueue[1:]
		st.Handle = handle
		return &st, nil
	}
	return &providers.JobStatus{
		Handle: handle,
		State:  providers.JobSucceeded,
		Output: &providers.ImagePayload{Kind: providers.PayloadInline, Data: testPNG()},
	}, nil
}

func (f *fakeAsync) Wait(ctx context.Context, handle string, timeout time.Duration) (*providers.JobStatus, error) {
	return f.Poll(ctx, handle)
}

func (f *fakeAsync) Name() string { return "fake-async" }

func testPNG() []byte {
	var buf bytes.Buffer
	png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 256, 256)))
	return buf.Bytes()
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testRig struct {
	exec  *Executor
	store *manifest.Store
	home  *home.Dir
}

func newTestRig(t *testing.T, gw *providers.Gateway) *testRig {
	t.Helper()

	h, err := home.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := h.EnsureExists(); err != nil {
		t.Fatal(err)
	}

	cache, err := manifest.NewCache(h.ManifestCacheDir())
	if err != nil {
		t.Fatal(err)
	}
	store, err := manifest.NewStore(manifest.StoreConfig{Cache: cache, Logger: quietLogger()})
	if err != nil {
		t.Fatal(err)
	}

	exec, err := New(Config{
		Store:             store,
		Gateway:           gw,
		Home:              h,
		Document:          assembler.New(assembler.Config{Form: "A4", Logger: quietLogger()}),
		WatchdogMaxAge:    8 * time.Minute,
		MaxSubmitAttempts: 3,
		Logger:            quietLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return &testRig{exec: exec, store: store, home: h}
}

func (r *testRig) seed(t *testing.T, pageCount int, withInputs bool) *manifest.Manifest {
	t.Helper()
	m := manifest.New("book-1", "owner-1")
	m.Theme = "ocean"
	m.Style = "cartoon"
	m.Child = manifest.ChildProfile{Name: "Mia", Age: 6}
	m.PageCount = pageCount
	if withInputs {
		m.Photo = manifest.InputFile{File: "/tmp/photo.png", URL: "https://store/photo.png"}
		m.Mask = manifest.InputFile{File: "/tmp/mask.png", URL: "https://store/mask.png"}
	}
	if err := r.store.Save(context.Background(), m); err != nil {
		t.Fatal(err)
	}
	return m
}

func TestExecutor_FullRunWithSyncFallback(t *testing.T) {
	story := &fakeStory{}
	sync := &fakeSync{}
	rig := newTestRig(t, &providers.Gateway{Story: story, Fallback: sync})
	rig.seed(t, 3, true)
	ctx := context.Background()

	// One call per step: story, cover, three pages, pdf.
	steps := []string{"cover", "page_1", "page_2", "page_3", "pdf", "done"}
	for i, wantStep := range steps {
		p, err := rig.exec.Advance(ctx, "owner-1", "book-1")
		if err != nil {
			t.Fatalf("advance %d: %v", i+1, err)
		}
		if p.Step != wantStep {
			t.Fatalf("advance %d: step = %q, want %q", i+1, p.Step, wantStep)
		}
	}

	p, err := rig.exec.Status(ctx, "owner-1", "book-1")
	if err != nil {
		t.Fatal(err)
	}
	if p.Status != manifest.StatusDone {
		t.Errorf("Status = %q, want done", p.Status)
	}
	if p.PagesDone != 3 || p.CoverURL == "" || p.DocumentURL == "" {
		t.Errorf("progress incomplete: %+v", p)
	}
	if story.calls != 1 {
		t.Errorf("story calls = %d, want 1", story.calls)
	}
	if sync.calls != 4 {
		t.Errorf("image calls = %d, want 4 (cover + 3 pages)", sync.calls)
	}
	if _, err := os.Stat(rig.home.DocumentPath("book-1")); err != nil {
		t.Errorf("document file missing: %v", err)
	}

	// Advancing a finished job is a harmless no-op.
	p, err = rig.exec.Advance(ctx, "owner-1", "book-1")
	if err != nil {
		t.Fatalf("advance after done: %v", err)
	}
	if p.Step != "done" {
		t.Errorf("step = %q", p.Step)
	}
	if story.calls != 1 || sync.calls != 4 {
		t.Error("providers called again after done")
	}
}

func TestExecutor_AsyncSubmitThenPoll(t *testing.T) {
	story := &fakeStory{}
	async := &fakeAsync{pollQueue: []providers.JobStatus{{State: providers.JobRunning}}}
	rig := newTestRig(t, &providers.Gateway{Story: story, Primary: async, Fallback: &fakeSync{}})
	rig.seed(t, 1, true)
	ctx := context.Background()

	// Story step.
	if _, err := rig.exec.Advance(ctx, "owner-1", "book-1"); err != nil {
		t.Fatal(err)
	}

	// Cover: first call submits without finishing the step.
	p, err := rig.exec.Advance(ctx, "owner-1", "book-1")
	if err != nil {
		t.Fatal(err)
	}
	if p.Step != "cover" || !p.PendingJob {
		t.Fatalf("after submit: step=%q pending=%v", p.Step, p.PendingJob)
	}
	if async.submits != 1 {
		t.Fatalf("submits = %d, want 1", async.submits)
	}

	// Second call finds a fresh pending record and polls instead of resubmitting.
	p, err = rig.exec.Advance(ctx, "owner-1", "book-1")
	if err != nil {
		t.Fatal(err)
	}
	if p.Step != "cover" || async.submits != 1 || async.polls != 1 {
		t.Fatalf("running poll: step=%q submits=%d polls=%d", p.Step, async.submits, async.polls)
	}

	// Third call polls success and finishes the cover.
	p, err = rig.exec.Advance(ctx, "owner-1", "book-1")
	if err != nil {
		t.Fatal(err)
	}
	if p.Step != "page_1" || p.CoverURL == "" || p.PendingJob {
		t.Fatalf("after success: %+v", p)
	}
	if async.submits != 1 {
		t.Errorf("submits = %d, want 1", async.submits)
	}
}

func TestExecutor_StaleJobResubmittedOnce(t *testing.T) {
	async := &fakeAsync{}
	rig := newTestRig(t, &providers.Gateway{Story: &fakeStory{}, Primary: async, Fallback: &fakeSync{}})
	m := rig.seed(t, 1, true)
	ctx := context.Background()

	m.Pages = []manifest.StoryPage{{Page: 1, Title: "One", Body: "body"}}
	m.Step = manifest.Step{Phase: manifest.PhaseCover}
	m.Status = manifest.StatusGenerating
	m.Pending = &manifest.Pending{
		Handle:    "job-lost",
		Target:    manifest.Step{Phase: manifest.PhaseCover},
		Prompt:    "original cover prompt",
		Attempts:  1,
		CreatedAt: time.Now().UTC().Add(-30 * time.Minute),
	}
	if err := rig.store.Save(ctx, m); err != nil {
		t.Fatal(err)
	}

	p, err := rig.exec.Advance(ctx, "owner-1", "book-1")
	if err != nil {
		t.Fatal(err)
	}

	// Exactly one resubmission this invocation, with the recorded prompt.
	if async.submits != 1 || async.polls != 0 {
		t.Errorf("submits=%d polls=%d, want 1 submit and no poll", async.submits, async.polls)
	}
	if async.lastPrompt != "original cover prompt" {
		t.Errorf("resubmit prompt = %q", async.lastPrompt)
	}
	if !p.PendingJob || p.Step != "cover" {
		t.Errorf("progress after resubmit: %+v", p)
	}

	got, err := rig.store.Load(ctx, "book-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Pending == nil || got.Pending.Attempts != 2 {
		t.Errorf("pending after resubmit: %+v", got.Pending)
	}
}

func TestExecutor_StaleJobExhaustsAttempts(t *testing.T) {
	async := &fakeAsync{}
	rig := newTestRig(t, &providers.Gateway{Story: &fakeStory{}, Primary: async, Fallback: &fakeSync{}})
	m := rig.seed(t, 1, true)
	ctx := context.Background()

	m.Pages = []manifest.StoryPage{{Page: 1, Title: "One", Body: "body"}}
	m.Step = manifest.Step{Phase: manifest.PhaseCover}
	m.Status = manifest.StatusGenerating
	m.Pending = &manifest.Pending{
		Handle:    "job-lost",
		Target:    manifest.Step{Phase: manifest.PhaseCover},
		Prompt:    "p",
		Attempts:  3,
		CreatedAt: time.Now().UTC().Add(-30 * time.Minute),
	}
	if err := rig.store.Save(ctx, m); err != nil {
		t.Fatal(err)
	}

	p, err := rig.exec.Advance(ctx, "owner-1", "book-1")
	if err != nil {
		t.Fatal(err)
	}
	if p.Status != manifest.StatusFailed {
		t.Fatalf("Status = %q, want failed", p.Status)
	}
	if async.submits != 0 {
		t.Errorf("submits = %d, want 0 after exhausted attempts", async.submits)
	}

	// A failed job rejects further advances.
	if _, err := rig.exec.Advance(ctx, "owner-1", "book-1"); !errors.Is(err, ErrJobFailed) {
		t.Errorf("error = %v, want ErrJobFailed", err)
	}
}

func TestExecutor_FailedProviderJobResubmitted(t *testing.T) {
	async := &fakeAsync{pollQueue: []providers.JobStatus{
		{State: providers.JobFailed, Error: "backend crashed"},
	}}
	rig := newTestRig(t, &providers.Gateway{Story: &fakeStory{}, Primary: async, Fallback: &fakeSync{}})
	m := rig.seed(t, 1, true)
	ctx := context.Background()

	m.Pages = []manifest.StoryPage{{Page: 1, Title: "One", Body: "body"}}
	m.Step = manifest.Step{Phase: manifest.PhaseCover}
	m.Status = manifest.StatusGenerating
	m.Pending = &manifest.Pending{
		Handle:    "job-1",
		Target:    manifest.Step{Phase: manifest.PhaseCover},
		Prompt:    "p",
		Attempts:  1,
		CreatedAt: time.Now().UTC(),
	}
	if err := rig.store.Save(ctx, m); err != nil {
		t.Fatal(err)
	}

	p, err := rig.exec.Advance(ctx, "owner-1", "book-1")
	if err != nil {
		t.Fatal(err)
	}
	if async.polls != 1 || async.submits != 1 {
		t.Errorf("polls=%d submits=%d, want one of each", async.polls, async.submits)
	}
	if p.Status != manifest.StatusGenerating || !p.PendingJob {
		t.Errorf("progress = %+v", p)
	}
}

func TestExecutor_BusySubmitKeepsAttemptCount(t *testing.T) {
	async := &fakeAsync{
		pollQueue: []providers.JobStatus{
			{State: providers.JobFailed, Error: "backend crashed"},
			{State: providers.JobFailed, Error: "backend crashed"},
		},
		submitErr: fmt.Errorf("%w: at capacity", providers.ErrBusy),
	}
	rig := newTestRig(t, &providers.Gateway{Story: &fakeStory{}, Primary: async, Fallback: &fakeSync{}})
	m := rig.seed(t, 1, true)
	ctx := context.Background()

	m.Pages = []manifest.StoryPage{{Page: 1, Title: "One", Body: "body"}}
	m.Step = manifest.Step{Phase: manifest.PhaseCover}
	m.Status = manifest.StatusGenerating
	m.Pending = &manifest.Pending{
		Handle:    "job-1",
		Target:    manifest.Step{Phase: manifest.PhaseCover},
		Prompt:    "p",
		Attempts:  2,
		CreatedAt: time.Now().UTC(),
	}
	if err := rig.store.Save(ctx, m); err != nil {
		t.Fatal(err)
	}

	// The provider job failed and the resubmission hits a busy provider. The
	// step defers, keeping the old pending record and its attempt count.
	if _, err := rig.exec.Advance(ctx, "owner-1", "book-1"); err != nil {
		t.Fatalf("busy resubmit should defer, not fail: %v", err)
	}
	got, err := rig.store.Load(ctx, "book-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Pending == nil || got.Pending.Attempts != 2 || got.Pending.Handle != "job-1" {
		t.Fatalf("pending after busy resubmit: %+v", got.Pending)
	}

	// Once the provider recovers, the resubmission carries the counter on.
	async.submitErr = nil
	if _, err := rig.exec.Advance(ctx, "owner-1", "book-1"); err != nil {
		t.Fatal(err)
	}
	got, err = rig.store.Load(ctx, "book-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Pending == nil || got.Pending.Attempts != 3 {
		t.Fatalf("pending after recovery: %+v", got.Pending)
	}
}

func TestExecutor_StaleResubmitBusyKeepsAttemptCount(t *testing.T) {
	async := &fakeAsync{submitErr: fmt.Errorf("%w: at capacity", providers.ErrBusy)}
	rig := newTestRig(t, &providers.Gateway{Story: &fakeStory{}, Primary: async, Fallback: &fakeSync{}})
	m := rig.seed(t, 1, true)
	ctx := context.Background()

	m.Pages = []manifest.StoryPage{{Page: 1, Title: "One", Body: "body"}}
	m.Step = manifest.Step{Phase: manifest.PhaseCover}
	m.Status = manifest.StatusGenerating
	m.Pending = &manifest.Pending{
		Handle:    "job-lost",
		Target:    manifest.Step{Phase: manifest.PhaseCover},
		Prompt:    "p",
		Attempts:  1,
		CreatedAt: time.Now().UTC().Add(-30 * time.Minute),
	}
	if err := rig.store.Save(ctx, m); err != nil {
		t.Fatal(err)
	}

	if _, err := rig.exec.Advance(ctx, "owner-1", "book-1"); err != nil {
		t.Fatalf("busy resubmit should defer, not fail: %v", err)
	}
	got, err := rig.store.Load(ctx, "book-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Pending == nil || got.Pending.Attempts != 1 || got.Pending.Handle != "job-lost" {
		t.Fatalf("stale pending after busy resubmit: %+v", got.Pending)
	}

	async.submitErr = nil
	if _, err := rig.exec.Advance(ctx, "owner-1", "book-1"); err != nil {
		t.Fatal(err)
	}
	got, err = rig.store.Load(ctx, "book-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Pending == nil || got.Pending.Attempts != 2 {
		t.Fatalf("pending after recovery: %+v", got.Pending)
	}
}

func TestExecutor_SetGatewaySwapsProviders(t *testing.T) {
	storyA := &fakeStory{}
	syncA := &fakeSync{}
	rig := newTestRig(t, &providers.Gateway{Story: storyA, Fallback: syncA})
	rig.seed(t, 1, true)
	ctx := context.Background()

	storyB := &fakeStory{}
	syncB := &fakeSync{}
	rig.exec.SetGateway(&providers.Gateway{Story: storyB, Fallback: syncB})

	// Steps after the swap run against the new backends.
	if _, err := rig.exec.Advance(ctx, "owner-1", "book-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := rig.exec.Advance(ctx, "owner-1", "book-1"); err != nil {
		t.Fatal(err)
	}
	if storyA.calls != 0 || syncA.calls != 0 {
		t.Errorf("old gateway still used: story=%d sync=%d", storyA.calls, syncA.calls)
	}
	if storyB.calls != 1 || syncB.calls != 1 {
		t.Errorf("new gateway calls: story=%d sync=%d, want 1 each", storyB.calls, syncB.calls)
	}
}

func TestExecutor_BusyLeavesStatusUntouched(t *testing.T) {
	story := &fakeStory{err: fmt.Errorf("%w: at capacity", providers.ErrBusy)}
	rig := newTestRig(t, &providers.Gateway{Story: story, Fallback: &fakeSync{}})
	rig.seed(t, 1, true)
	ctx := context.Background()

	p, err := rig.exec.Advance(ctx, "owner-1", "book-1")
	if err != nil {
		t.Fatalf("busy should not fail the request: %v", err)
	}
	if p.Status != manifest.StatusCreated {
		t.Errorf("Status = %q, busy must not change it", p.Status)
	}
	if p.Step != "created" {
		t.Errorf("Step = %q, busy must not advance it", p.Step)
	}

	// The next call retries the same step.
	story.err = nil
	p, err = rig.exec.Advance(ctx, "owner-1", "book-1")
	if err != nil {
		t.Fatal(err)
	}
	if p.Step != "cover" {
		t.Errorf("Step = %q after retry", p.Step)
	}
}

func TestExecutor_MissingInputs(t *testing.T) {
	sync := &fakeSync{}
	rig := newTestRig(t, &providers.Gateway{Story: &fakeStory{}, Fallback: sync})
	rig.seed(t, 1, false)
	ctx := context.Background()

	// Story works without inputs.
	if _, err := rig.exec.Advance(ctx, "owner-1", "book-1"); err != nil {
		t.Fatal(err)
	}

	// The cover step needs the photo and mask.
	_, err := rig.exec.Advance(ctx, "owner-1", "book-1")
	if !errors.Is(err, ErrMissingInputs) {
		t.Fatalf("error = %v, want ErrMissingInputs", err)
	}
	if sync.calls != 0 {
		t.Errorf("image backend called without inputs")
	}

	// The rejection must not have mutated the job.
	got, err := rig.store.Load(ctx, "book-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status == manifest.StatusFailed {
		t.Error("missing inputs must not fail the job")
	}
	if got.Step.Phase != manifest.PhaseCover {
		t.Errorf("step = %v", got.Step)
	}
}

func TestExecutor_StoryStepIdempotent(t *testing.T) {
	story := &fakeStory{}
	rig := newTestRig(t, &providers.Gateway{Story: story, Fallback: &fakeSync{}})
	m := rig.seed(t, 2, true)
	ctx := context.Background()

	// Text already generated; the step is replayed after a lost save.
	m.Pages = []manifest.StoryPage{
		{Page: 1, Title: "One", Body: "a"},
		{Page: 2, Title: "Two", Body: "b"},
	}
	m.Step = manifest.Step{Phase: manifest.PhaseStory}
	if err := rig.store.Save(ctx, m); err != nil {
		t.Fatal(err)
	}

	p, err := rig.exec.Advance(ctx, "owner-1", "book-1")
	if err != nil {
		t.Fatal(err)
	}
	if story.calls != 0 {
		t.Errorf("story regenerated on replay, calls = %d", story.calls)
	}
	if p.Step != "cover" {
		t.Errorf("Step = %q", p.Step)
	}
}

func TestExecutor_Conflict(t *testing.T) {
	rig := newTestRig(t, &providers.Gateway{Story: &fakeStory{}, Fallback: &fakeSync{}})
	rig.seed(t, 1, true)

	// Simulate a step executing in this process.
	rig.exec.lockFor("book-1").Lock()
	defer rig.exec.lockFor("book-1").Unlock()

	_, err := rig.exec.Advance(context.Background(), "owner-1", "book-1")
	if !errors.Is(err, ErrConflict) {
		t.Errorf("error = %v, want ErrConflict", err)
	}
}

func TestExecutor_Ownership(t *testing.T) {
	rig := newTestRig(t, &providers.Gateway{Story: &fakeStory{}, Fallback: &fakeSync{}})
	rig.seed(t, 1, true)
	ctx := context.Background()

	if _, err := rig.exec.Status(ctx, "other-owner", "book-1"); !errors.Is(err, ErrForbidden) {
		t.Errorf("error = %v, want ErrForbidden", err)
	}

	// Empty owner is the privileged principal.
	if _, err := rig.exec.Status(ctx, "", "book-1"); err != nil {
		t.Errorf("privileged status error = %v", err)
	}

	if _, err := rig.exec.Status(ctx, "owner-1", "no-such-book"); !errors.Is(err, manifest.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestExecutor_DiscardsPendingForCompletedStep(t *testing.T) {
	async := &fakeAsync{}
	rig := newTestRig(t, &providers.Gateway{Story: &fakeStory{}, Primary: async, Fallback: &fakeSync{}})
	m := rig.seed(t, 2, true)
	ctx := context.Background()

	// The cover finished but its save raced; the manifest still carries the
	// cover's pending record while the cursor points at page_1.
	m.Pages = []manifest.StoryPage{
		{Page: 1, Title: "One", Body: "a"},
		{Page: 2, Title: "Two", Body: "b"},
	}
	m.Cover = manifest.Cover{OK: true, URL: "https://store/cover.png"}
	m.Step = manifest.Step{Phase: manifest.PhasePage, Page: 1}
	m.Status = manifest.StatusGenerating
	m.Pending = &manifest.Pending{
		Handle:    "cover-job",
		Target:    manifest.Step{Phase: manifest.PhaseCover},
		Prompt:    "cover prompt",
		Attempts:  1,
		CreatedAt: time.Now().UTC(),
	}
	if err := rig.store.Save(ctx, m); err != nil {
		t.Fatal(err)
	}

	p, err := rig.exec.Advance(ctx, "owner-1", "book-1")
	if err != nil {
		t.Fatal(err)
	}
	if async.polls != 0 {
		t.Errorf("stale pending polled instead of discarded")
	}
	if async.submits != 1 {
		t.Errorf("submits = %d, want fresh submission for page_1", async.submits)
	}
	if p.Step != "page_1" {
		t.Errorf("Step = %q", p.Step)
	}
}

func TestProgressFrom(t *testing.T) {
	m := manifest.New("b1", "o1")
	m.PageCount = 2
	m.Pages = []manifest.StoryPage{
		{Page: 1, Title: "One", Body: "a"},
		{Page: 2, Title: "Two", Body: "b"},
	}
	m.SetImage(manifest.PageImage{Page: 1, URL: "https://store/p1.png"})

	p := ProgressFrom(m)
	if p.PagesDone != 1 {
		t.Errorf("PagesDone = %d", p.PagesDone)
	}
	if len(p.Pages) != 2 {
		t.Fatalf("len(Pages) = %d", len(p.Pages))
	}
	if p.Pages[0].ImageURL == "" || p.Pages[1].ImageURL != "" {
		t.Errorf("page image URLs wrong: %+v", p.Pages)
	}
}
