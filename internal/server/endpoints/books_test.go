package endpoints

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fablepress/fable/internal/api"
	"github.com/fablepress/fable/internal/assembler"
	"github.com/fablepress/fable/internal/home"
	"github.com/fablepress/fable/internal/manifest"
	"github.com/fablepress/fable/internal/pipeline"
	"github.com/fablepress/fable/internal/providers"
	"github.com/fablepress/fable/internal/svcctx"
)

type stubStory struct{}

func (stubStory) GenerateStory(ctx context.Context, req providers.StoryRequest) ([]manifest.StoryPage, error) {
	pages := make([]manifest.StoryPage, req.PageCount)
	for i := range pages {
		pages[i] = manifest.StoryPage{
			Page:  i + 1,
			Title: fmt.Sprintf("Chapter %d", i+1),
			Body:  "A short adventure unfolded.",
		}
	}
	return pages, nil
}

func (stubStory) Name() string { return "stub-story" }

type stubSync struct{}

func (stubSync) Edit(ctx context.Context, req providers.ImageRequest) (image.Image, error) {
	return image.NewRGBA(image.Rect(0, 0, 256, 256)), nil
}

func (stubSync) Name() string { return "stub-sync" }

// newTestAPI builds the endpoint mux backed by a cache-only store and stub
// providers, the same wiring the server does minus DefraDB and Docker.
func newTestAPI(t *testing.T) *httptest.Server {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

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
	store, err := manifest.NewStore(manifest.StoreConfig{Cache: cache, Logger: logger})
	if err != nil {
		t.Fatal(err)
	}

	gw := &providers.Gateway{Story: stubStory{}, Fallback: stubSync{}}
	exec, err := pipeline.New(pipeline.Config{
		Store:          store,
		Gateway:        gw,
		Home:           h,
		Document:       assembler.New(assembler.Config{Logger: logger}),
		WatchdogMaxAge: time.Minute,
		Logger:         logger,
	})
	if err != nil {
		t.Fatal(err)
	}

	services := &svcctx.Services{
		Manifests: store,
		Gateway:   gw,
		Executor:  exec,
		Logger:    logger,
		Home:      h,
	}

	registry := api.NewRegistry()
	for _, ep := range All(Config{}) {
		registry.Register(ep)
	}

	mux := http.NewServeMux()
	registry.RegisterRoutes(mux, func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			next(w, r.WithContext(svcctx.WithServices(r.Context(), services)))
		}
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url, owner string, body, out any) int {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatal(err)
	}
	if owner != "" {
		req.Header.Set(api.OwnerHeader, owner)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp.StatusCode
}

func pngUpload(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func uploadInputs(t *testing.T, url, owner string, photo, mask []byte) (int, ErrorResponse) {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for field, data := range map[string][]byte{"photo": photo, "mask": mask} {
		part, err := mw.CreateFormFile(field, field+".png")
		if err != nil {
			t.Fatal(err)
		}
		part.Write(data)
	}
	mw.Close()

	req, err := http.NewRequest("POST", url, &body)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if owner != "" {
		req.Header.Set(api.OwnerHeader, owner)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var errResp ErrorResponse
	json.NewDecoder(resp.Body).Decode(&errResp)
	return resp.StatusCode, errResp
}

func TestBooksLifecycle(t *testing.T) {
	srv := newTestAPI(t)

	// Create.
	var created CreateBookResponse
	status := doJSON(t, "POST", srv.URL+"/api/books", "alice", CreateBookRequest{
		Theme:     "ocean",
		Style:     "cartoon",
		ChildName: "Mia",
		ChildAge:  6,
		PageCount: 1,
	}, &created)
	if status != http.StatusCreated {
		t.Fatalf("create status = %d", status)
	}
	if created.ID == "" || created.Step != "created" {
		t.Fatalf("create response = %+v", created)
	}
	bookURL := srv.URL + "/api/books/" + created.ID

	// The document is not available yet.
	if status := doJSON(t, "GET", bookURL+"/document", "alice", nil, nil); status != http.StatusConflict {
		t.Errorf("document before done: status = %d, want 409", status)
	}

	// Upload inputs.
	status, _ = uploadInputs(t, bookURL+"/inputs", "alice", pngUpload(t, 64, 64), pngUpload(t, 64, 64))
	if status != http.StatusOK {
		t.Fatalf("upload status = %d", status)
	}

	// The upload records inputs only; the step cursor stays with the executor.
	var afterUpload pipeline.Progress
	if status := doJSON(t, "GET", bookURL, "alice", nil, &afterUpload); status != http.StatusOK {
		t.Fatalf("get after upload: status = %d", status)
	}
	if afterUpload.Step != "created" {
		t.Errorf("step after upload = %q, want created", afterUpload.Step)
	}

	// Drive the pipeline to completion: story, cover, one page, pdf.
	var progress pipeline.Progress
	for i := 0; i < 4; i++ {
		if status := doJSON(t, "POST", bookURL+"/advance", "alice", nil, &progress); status != http.StatusOK {
			t.Fatalf("advance %d: status = %d", i+1, status)
		}
	}
	if progress.Status != manifest.StatusDone {
		t.Fatalf("status after 4 advances = %q, step %q", progress.Status, progress.Step)
	}

	// Read back.
	var got pipeline.Progress
	if status := doJSON(t, "GET", bookURL, "alice", nil, &got); status != http.StatusOK {
		t.Fatalf("get status = %d", status)
	}
	if got.PagesDone != 1 || got.CoverURL == "" || got.DocumentURL == "" {
		t.Errorf("progress = %+v", got)
	}

	// Download the finished document.
	req, _ := http.NewRequest("GET", bookURL+"/document", nil)
	req.Header.Set(api.OwnerHeader, "alice")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("document status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/pdf" {
		t.Errorf("content-type = %q", ct)
	}
	data, _ := io.ReadAll(resp.Body)
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		t.Error("document body is not a PDF")
	}
}

func TestBooksOwnership(t *testing.T) {
	srv := newTestAPI(t)

	var created CreateBookResponse
	doJSON(t, "POST", srv.URL+"/api/books", "alice", CreateBookRequest{
		Theme: "space", Style: "cartoon", ChildName: "Sam", ChildAge: 9, PageCount: 1,
	}, &created)
	bookURL := srv.URL + "/api/books/" + created.ID

	if status := doJSON(t, "GET", bookURL, "mallory", nil, nil); status != http.StatusForbidden {
		t.Errorf("foreign get status = %d, want 403", status)
	}
	if status := doJSON(t, "POST", bookURL+"/advance", "mallory", nil, nil); status != http.StatusForbidden {
		t.Errorf("foreign advance status = %d, want 403", status)
	}
	// The empty principal is privileged.
	if status := doJSON(t, "GET", bookURL, "", nil, nil); status != http.StatusOK {
		t.Errorf("privileged get status = %d", status)
	}
}

func TestCreateBookValidation(t *testing.T) {
	srv := newTestAPI(t)

	cases := []struct {
		name string
		req  CreateBookRequest
	}{
		{"missing theme", CreateBookRequest{Style: "cartoon", ChildName: "Mia", ChildAge: 6, PageCount: 1}},
		{"missing child name", CreateBookRequest{Theme: "ocean", Style: "cartoon", ChildAge: 6, PageCount: 1}},
		{"age too low", CreateBookRequest{Theme: "ocean", Style: "cartoon", ChildName: "Mia", ChildAge: 0, PageCount: 1}},
		{"age too high", CreateBookRequest{Theme: "ocean", Style: "cartoon", ChildName: "Mia", ChildAge: 30, PageCount: 1}},
		{"too many pages", CreateBookRequest{Theme: "ocean", Style: "cartoon", ChildName: "Mia", ChildAge: 6, PageCount: 100}},
	}
	for _, tc := range cases {
		if status := doJSON(t, "POST", srv.URL+"/api/books", "alice", tc.req, nil); status != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", tc.name, status)
		}
	}
}

func TestUploadInputsValidation(t *testing.T) {
	srv := newTestAPI(t)

	var created CreateBookResponse
	doJSON(t, "POST", srv.URL+"/api/books", "alice", CreateBookRequest{
		Theme: "ocean", Style: "cartoon", ChildName: "Mia", ChildAge: 6, PageCount: 1,
	}, &created)
	inputsURL := srv.URL + "/api/books/" + created.ID + "/inputs"

	t.Run("dimension mismatch", func(t *testing.T) {
		status, errResp := uploadInputs(t, inputsURL, "alice", pngUpload(t, 800, 600), pngUpload(t, 600, 800))
		if status != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", status)
		}
		if errResp.Error == "" {
			t.Error("expected error message")
		}

		// The rejected upload must not have recorded any inputs.
		var got pipeline.Progress
		doJSON(t, "GET", srv.URL+"/api/books/"+created.ID, "alice", nil, &got)
		if got.Step != "created" {
			t.Errorf("step = %q after rejected upload", got.Step)
		}
	})

	t.Run("garbage photo", func(t *testing.T) {
		status, _ := uploadInputs(t, inputsURL, "alice", []byte("not an image"), pngUpload(t, 64, 64))
		if status != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", status)
		}
	})

	t.Run("unknown book", func(t *testing.T) {
		status, _ := uploadInputs(t, srv.URL+"/api/books/nope/inputs", "alice",
			pngUpload(t, 64, 64), pngUpload(t, 64, 64))
		if status != http.StatusNotFound {
			t.Errorf("status = %d, want 404", status)
		}
	})
}

func TestAdvanceUnknownBook(t *testing.T) {
	srv := newTestAPI(t)
	if status := doJSON(t, "POST", srv.URL+"/api/books/ghost/advance", "alice", nil, nil); status != http.StatusNotFound {
		t.Errorf("status = %d, want 404", status)
	}
}

func TestHealth(t *testing.T) {
	srv := newTestAPI(t)
	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}
}
