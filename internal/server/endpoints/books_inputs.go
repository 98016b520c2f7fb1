package endpoints

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fablepress/fable/internal/api"
	"github.com/fablepress/fable/internal/inputs"
	"github.com/fablepress/fable/internal/manifest"
	"github.com/fablepress/fable/internal/pipeline"
	"github.com/fablepress/fable/internal/storage"
	"github.com/fablepress/fable/internal/svcctx"
)

// UploadInputsResponse is the response for uploading job inputs.
type UploadInputsResponse struct {
	PhotoURL string `json:"photo_url"`
	MaskURL  string `json:"mask_url"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Step     string `json:"step"`
}

// UploadInputsEndpoint handles POST /api/books/{book_id}/inputs with a
// multipart photo + mask upload. It writes only the manifest's input fields;
// everything else belongs to the step executor.
type UploadInputsEndpoint struct{}

var _ api.Endpoint = (*UploadInputsEndpoint)(nil)

func (e *UploadInputsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/books/{book_id}/inputs", e.handler
}

func (e *UploadInputsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Upload reference photo and paint mask
//	@Description	Upload the child photo and its paint mask; both must have identical pixel dimensions
//	@Tags			books
//	@Accept			mpfd
//	@Produce		json
//	@Param			book_id	path		string	true	"Book ID"
//	@Param			photo	formData	file	true	"Reference photo"
//	@Param			mask	formData	file	true	"Paint mask"
//	@Success		200		{object}	UploadInputsResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Failure		503		{object}	ErrorResponse
//	@Router			/api/books/{book_id}/inputs [post]
func (e *UploadInputsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	bookID := r.PathValue("book_id")
	if bookID == "" {
		writeError(w, http.StatusBadRequest, "book_id is required")
		return
	}

	const maxMemory = 32 << 20 // 32MB
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to parse form: %v", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	photoData, err := formFileBytes(r, "photo")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	maskData, err := formFileBytes(r, "mask")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	store := svcctx.ManifestsFrom(r.Context())
	homeDir := svcctx.HomeFrom(r.Context())
	if store == nil || homeDir == nil {
		writeError(w, http.StatusServiceUnavailable, "server not fully initialized")
		return
	}

	m, err := store.Load(r.Context(), bookID)
	if err != nil {
		writePipelineError(w, err)
		return
	}
	if owner := ownerID(r); owner != "" && m.OwnerID != owner {
		writePipelineError(w, pipeline.ErrForbidden)
		return
	}
	if m.Status == manifest.StatusDone || m.Status == manifest.StatusFailed {
		writeError(w, http.StatusConflict, fmt.Sprintf("book is %s", m.Status))
		return
	}

	maxDim := 1024
	if cm := svcctx.ConfigFrom(r.Context()); cm != nil {
		maxDim = cm.Get().Pipeline.EditMaxDimension
	}

	// Validation happens before any manifest mutation.
	pair, err := inputs.Normalize(photoData, maskData, maxDim)
	if err != nil {
		writePipelineError(w, err)
		return
	}

	if err := homeDir.EnsureBookDir(bookID); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to create book directory: %v", err))
		return
	}

	photoPath := homeDir.PhotoPath(bookID)
	maskPath := homeDir.MaskPath(bookID)
	if err := os.WriteFile(photoPath, pair.Photo, 0o644); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to write photo: %v", err))
		return
	}
	if err := os.WriteFile(maskPath, pair.Mask, 0o644); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to write mask: %v", err))
		return
	}

	m.Photo = manifest.InputFile{File: photoPath}
	m.Mask = manifest.InputFile{File: maskPath}

	// Durable copies so other instances (and the async backend) can fetch.
	if store2 := svcctx.StorageFrom(r.Context()); store2.Enabled() {
		photoKey := storage.ObjectKey(bookID, filepath.Base(photoPath))
		if url, err := store2.Put(r.Context(), photoKey, "image/png", pair.Photo); err == nil {
			m.Photo.StorageKey = photoKey
			m.Photo.URL = url
		} else {
			writeError(w, http.StatusServiceUnavailable, fmt.Sprintf("failed to store photo: %v", err))
			return
		}
		maskKey := storage.ObjectKey(bookID, filepath.Base(maskPath))
		if url, err := store2.Put(r.Context(), maskKey, "image/png", pair.Mask); err == nil {
			m.Mask.StorageKey = maskKey
			m.Mask.URL = url
		} else {
			writeError(w, http.StatusServiceUnavailable, fmt.Sprintf("failed to store mask: %v", err))
			return
		}
	}

	// The step cursor belongs to the executor; the upload only records inputs.
	m.Touch()

	if err := store.Save(r.Context(), m); err != nil {
		writePipelineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, UploadInputsResponse{
		PhotoURL: m.Photo.URL,
		MaskURL:  m.Mask.URL,
		Width:    pair.Width,
		Height:   pair.Height,
		Step:     m.Step.String(),
	})
}

func formFileBytes(r *http.Request, field string) ([]byte, error) {
	file, _, err := r.FormFile(field)
	if err != nil {
		return nil, fmt.Errorf("%s file is required", field)
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %v", field, err)
	}
	return data, nil
}

func (e *UploadInputsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var photoPath, maskPath, owner string
	cmd := &cobra.Command{
		Use:   "upload <book_id>",
		Short: "Upload the reference photo and paint mask",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if photoPath == "" || maskPath == "" {
				return fmt.Errorf("--photo and --mask are required")
			}
			client := api.NewClient(getServerURL(), owner)
			var resp UploadInputsResponse
			files := map[string]string{"photo": photoPath, "mask": maskPath}
			if err := client.Upload(cmd.Context(), "/api/books/"+args[0]+"/inputs", files, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&photoPath, "photo", "", "Path to the reference photo")
	cmd.Flags().StringVar(&maskPath, "mask", "", "Path to the paint mask")
	cmd.Flags().StringVar(&owner, "owner", "", "Owner id to act as")
	return cmd
}
