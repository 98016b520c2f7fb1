package endpoints

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/fablepress/fable/internal/api"
	"github.com/fablepress/fable/internal/pipeline"
	"github.com/fablepress/fable/internal/svcctx"
)

// ListBooksResponse is the gallery listing for one owner.
type ListBooksResponse struct {
	Books []*pipeline.Progress `json:"books"`
	Count int                  `json:"count"`
}

// ListBooksEndpoint handles GET /api/books.
type ListBooksEndpoint struct{}

var _ api.Endpoint = (*ListBooksEndpoint)(nil)

func (e *ListBooksEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/books", e.handler
}

func (e *ListBooksEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		List books
//	@Description	List all book jobs owned by the requesting principal
//	@Tags			books
//	@Produce		json
//	@Success		200	{object}	ListBooksResponse
//	@Failure		500	{object}	ErrorResponse
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/books [get]
func (e *ListBooksEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	store := svcctx.ManifestsFrom(r.Context())
	if store == nil {
		writeError(w, http.StatusServiceUnavailable, "manifest store not initialized")
		return
	}

	manifests, err := store.ListByOwner(r.Context(), ownerID(r))
	if err != nil {
		writePipelineError(w, err)
		return
	}

	resp := ListBooksResponse{Books: make([]*pipeline.Progress, 0, len(manifests))}
	for _, m := range manifests {
		resp.Books = append(resp.Books, pipeline.ProgressFrom(m))
	}
	resp.Count = len(resp.Books)

	writeJSON(w, http.StatusOK, resp)
}

func (e *ListBooksEndpoint) Command(getServerURL func() string) *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List your books",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL(), owner)
			var resp ListBooksResponse
			if err := client.Get(cmd.Context(), "/api/books", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "Owner id to act as")
	return cmd
}
