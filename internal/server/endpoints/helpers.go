package endpoints

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fablepress/fable/internal/api"
	"github.com/fablepress/fable/internal/inputs"
	"github.com/fablepress/fable/internal/manifest"
	"github.com/fablepress/fable/internal/pipeline"
)

// ErrorResponse is a standard error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// ownerID extracts the requesting principal from the owner header. The auth
// layer in front of this service sets it; an empty value is the privileged
// principal (local CLI, admin).
func ownerID(r *http.Request) string {
	return r.Header.Get(api.OwnerHeader)
}

// writePipelineError maps core errors to HTTP statuses.
func writePipelineError(w http.ResponseWriter, err error) {
	var inputErr *inputs.InputError
	switch {
	case errors.Is(err, manifest.ErrNotFound):
		writeError(w, http.StatusNotFound, "book not found")
	case errors.Is(err, pipeline.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, pipeline.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, pipeline.ErrJobFailed):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, pipeline.ErrMissingInputs):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &inputErr):
		writeError(w, http.StatusBadRequest, inputErr.Error())
	case errors.Is(err, manifest.ErrDurableSave):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
