package endpoints

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/fablepress/fable/internal/api"
	"github.com/fablepress/fable/internal/pipeline"
	"github.com/fablepress/fable/internal/svcctx"
)

// AdvanceEndpoint handles POST /api/books/{book_id}/advance. Each call runs
// exactly one state-machine transition; clients poll it until status reaches
// done or failed.
type AdvanceEndpoint struct{}

var _ api.Endpoint = (*AdvanceEndpoint)(nil)

func (e *AdvanceEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/books/{book_id}/advance", e.handler
}

func (e *AdvanceEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Advance one generation step
//	@Description	Perform exactly one pipeline transition for the book and return the resulting progress
//	@Tags			books
//	@Produce		json
//	@Param			book_id	path		string	true	"Book ID"
//	@Success		200		{object}	pipeline.Progress
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Failure		409		{object}	ErrorResponse
//	@Failure		503		{object}	ErrorResponse
//	@Router			/api/books/{book_id}/advance [post]
func (e *AdvanceEndpoint) handler(w http.ResponseWriter, r *http.Request) {
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

	progress, err := exec.Advance(r.Context(), ownerID(r), bookID)
	if err != nil {
		writePipelineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, progress)
}

func (e *AdvanceEndpoint) Command(getServerURL func() string) *cobra.Command {
	var owner string
	var until bool
	cmd := &cobra.Command{
		Use:   "advance <book_id>",
		Short: "Run the next generation step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL(), owner)
			for {
				var resp pipeline.Progress
				if err := client.Post(cmd.Context(), "/api/books/"+args[0]+"/advance", nil, &resp); err != nil {
					return err
				}
				if err := api.Output(resp); err != nil {
					return err
				}
				if !until || resp.Status == "done" || resp.Status == "failed" {
					return nil
				}
			}
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "Owner id to act as")
	cmd.Flags().BoolVar(&until, "until-done", false, "Keep advancing until done or failed")
	return cmd
}
