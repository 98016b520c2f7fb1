package endpoints

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/fablepress/fable/internal/api"
	"github.com/fablepress/fable/internal/pipeline"
	"github.com/fablepress/fable/internal/svcctx"
)

// GetBookEndpoint handles GET /api/books/{book_id}. It is a pure read of the
// manifest's progress projection and never advances the state machine, so it
// is safe to poll at any rate.
type GetBookEndpoint struct{}

var _ api.Endpoint = (*GetBookEndpoint)(nil)

func (e *GetBookEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/books/{book_id}", e.handler
}

func (e *GetBookEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Get book progress
//	@Description	Read-only status, step cursor, per-page completion and artifact URLs
//	@Tags			books
//	@Produce		json
//	@Param			book_id	path		string	true	"Book ID"
//	@Success		200		{object}	pipeline.Progress
//	@Failure		404		{object}	ErrorResponse
//	@Failure		503		{object}	ErrorResponse
//	@Router			/api/books/{book_id} [get]
func (e *GetBookEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	bookID := r.PathValue("book_id")
	if bookID == "" {
		writeError(w, http.StatusBadRequest, "book_id is required")
		return
	}

	exec := svcctx.ExecutorFrom(r.Context())
	if exec == nil {
		writeError(w, http.StatusServiceUnavailable, "executor not initialized")
		return
	}

	progress, err := exec.Status(r.Context(), ownerID(r), bookID)
	if err != nil {
		writePipelineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, progress)
}

func (e *GetBookEndpoint) Command(getServerURL func() string) *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "get <book_id>",
		Short: "Get book progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL(), owner)
			var resp pipeline.Progress
			if err := client.Get(cmd.Context(), "/api/books/"+args[0], &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "Owner id to act as")
	return cmd
}
