package endpoints

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/fablepress/fable/internal/api"
	"github.com/fablepress/fable/internal/manifest"
	"github.com/fablepress/fable/internal/pipeline"
	"github.com/fablepress/fable/internal/svcctx"
)

// GetDocumentEndpoint handles GET /api/books/{book_id}/document, serving the
// assembled PDF once the job is done.
type GetDocumentEndpoint struct{}

var _ api.Endpoint = (*GetDocumentEndpoint)(nil)

func (e *GetDocumentEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/books/{book_id}/document", e.handler
}

func (e *GetDocumentEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Download the finished book
//	@Description	Stream the assembled PDF; available once status is done
//	@Tags			books
//	@Produce		application/pdf
//	@Param			book_id	path	string	true	"Book ID"
//	@Success		200
//	@Failure		404	{object}	ErrorResponse
//	@Failure		409	{object}	ErrorResponse
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/books/{book_id}/document [get]
func (e *GetDocumentEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	bookID := r.PathValue("book_id")
	if bookID == "" {
		writeError(w, http.StatusBadRequest, "book_id is required")
		return
	}

	store := svcctx.ManifestsFrom(r.Context())
	if store == nil {
		writeError(w, http.StatusServiceUnavailable, "manifest store not initialized")
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
	if m.Status != manifest.StatusDone {
		writeError(w, http.StatusConflict, fmt.Sprintf("book is %s, document not ready", m.Status))
		return
	}

	// Serve the local file when present; otherwise redirect to the durable copy.
	if m.Document.File != "" {
		if _, err := os.Stat(m.Document.File); err == nil {
			w.Header().Set("Content-Type", "application/pdf")
			w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "book-"+bookID+".pdf"))
			http.ServeFile(w, r, m.Document.File)
			return
		}
	}
	if m.Document.URL != "" {
		http.Redirect(w, r, m.Document.URL, http.StatusTemporaryRedirect)
		return
	}

	writeError(w, http.StatusNotFound, "document reference missing")
}

func (e *GetDocumentEndpoint) Command(getServerURL func() string) *cobra.Command {
	var owner, out string
	cmd := &cobra.Command{
		Use:   "download <book_id>",
		Short: "Download the finished book PDF",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" {
				out = "book-" + args[0] + ".pdf"
			}
			f, err := os.Create(out)
			if err != nil {
				return err
			}
			defer f.Close()

			client := api.NewClient(getServerURL(), owner)
			if err := client.GetRaw(cmd.Context(), "/api/books/"+args[0]+"/document", f); err != nil {
				return err
			}
			cmd.Println("saved", out)
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "Owner id to act as")
	cmd.Flags().StringVarP(&out, "output", "o", "", "Output file path")
	return cmd
}
