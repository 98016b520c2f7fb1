package endpoints

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/fablepress/fable/internal/api"
	"github.com/fablepress/fable/internal/manifest"
	"github.com/fablepress/fable/internal/svcctx"
)

// CreateBookRequest is the request body for creating a book job.
type CreateBookRequest struct {
	Theme     string `json:"theme"`
	Style     string `json:"style"`
	ChildName string `json:"child_name"`
	ChildAge  int    `json:"child_age"`
	Grammar   string `json:"grammar,omitempty"`
	PageCount int    `json:"page_count,omitempty"`
}

// CreateBookResponse is the response for creating a book job.
type CreateBookResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Step   string `json:"step"`
}

// CreateBookEndpoint handles POST /api/books.
type CreateBookEndpoint struct{}

var _ api.Endpoint = (*CreateBookEndpoint)(nil)

func (e *CreateBookEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/books", e.handler
}

func (e *CreateBookEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Create a book job
//	@Description	Create a new storybook generation job with an empty manifest
//	@Tags			books
//	@Accept			json
//	@Produce		json
//	@Param			request	body		CreateBookRequest	true	"Book parameters"
//	@Success		201		{object}	CreateBookResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		503		{object}	ErrorResponse
//	@Router			/api/books [post]
func (e *CreateBookEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req CreateBookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Theme == "" || req.Style == "" {
		writeError(w, http.StatusBadRequest, "theme and style are required")
		return
	}
	if req.ChildName == "" {
		writeError(w, http.StatusBadRequest, "child_name is required")
		return
	}
	if req.ChildAge < 1 || req.ChildAge > 17 {
		writeError(w, http.StatusBadRequest, "child_age must be between 1 and 17")
		return
	}

	store := svcctx.ManifestsFrom(r.Context())
	if store == nil {
		writeError(w, http.StatusServiceUnavailable, "manifest store not initialized")
		return
	}

	pageCount := req.PageCount
	if pageCount == 0 {
		if cm := svcctx.ConfigFrom(r.Context()); cm != nil {
			pageCount = cm.Get().Pipeline.DefaultPageCount
		}
	}
	if pageCount < 1 || pageCount > 24 {
		writeError(w, http.StatusBadRequest, "page_count must be between 1 and 24")
		return
	}

	m := manifest.New(uuid.New().String(), ownerID(r))
	m.Theme = req.Theme
	m.Style = req.Style
	m.Child = manifest.ChildProfile{Name: req.ChildName, Age: req.ChildAge, Grammar: req.Grammar}
	m.PageCount = pageCount

	if err := store.Save(r.Context(), m); err != nil {
		writePipelineError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, CreateBookResponse{
		ID:     m.ID,
		Status: string(m.Status),
		Step:   m.Step.String(),
	})
}

func (e *CreateBookEndpoint) Command(getServerURL func() string) *cobra.Command {
	var req CreateBookRequest
	var owner string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new book job",
		RunE: func(cmd *cobra.Command, args []string) error {
			if req.Theme == "" || req.Style == "" || req.ChildName == "" || req.ChildAge == 0 {
				return fmt.Errorf("--theme, --style, --child-name and --child-age are required")
			}
			client := api.NewClient(getServerURL(), owner)
			var resp CreateBookResponse
			if err := client.Post(cmd.Context(), "/api/books", req, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&req.Theme, "theme", "", "Story theme (e.g. ocean, forest, space)")
	cmd.Flags().StringVar(&req.Style, "style", "", "Illustration style (e.g. read, cartoon)")
	cmd.Flags().StringVar(&req.ChildName, "child-name", "", "Child's name")
	cmd.Flags().IntVar(&req.ChildAge, "child-age", 0, "Child's age")
	cmd.Flags().StringVar(&req.Grammar, "grammar", "", "Narration grammar (girl, boy, neutral)")
	cmd.Flags().IntVar(&req.PageCount, "pages", 0, "Page count (default from config)")
	cmd.Flags().StringVar(&owner, "owner", "", "Owner id to act as")
	return cmd
}
