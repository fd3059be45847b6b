package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/forgeflow/orchestrator/internal/orcerr"
)

// errorResponse is the JSON body written for every non-2xx response.
type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps the orcerr taxonomy (spec.md §7) onto the status
// codes spec.md §6 documents for the workflow endpoints.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	switch e := err.(type) {
	case *orcerr.WorkflowNotFoundError:
		status = http.StatusNotFound
	case *orcerr.WorkflowConflictError:
		status = http.StatusConflict
	case *orcerr.ConcurrencyLimitError:
		w.Header().Set("Retry-After", "5")
		status = http.StatusTooManyRequests
	case *orcerr.InvalidStateTransitionError:
		status = http.StatusUnprocessableEntity
	default:
		_ = e
	}

	writeJSON(w, status, errorResponse{Error: err.Error()})
}
