package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/dshills/aidgraph/discovery"
	"github.com/dshills/aidgraph/graph"
	"github.com/dshills/aidgraph/graph/store"
)

// statusFor maps workflow errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, discovery.ErrUnknownUser):
		return http.StatusNotFound
	case errors.Is(err, graph.ErrThreadBusy),
		errors.Is(err, graph.ErrRunPending),
		errors.Is(err, graph.ErrNotSuspended),
		errors.Is(err, graph.ErrInterruptMismatch),
		errors.Is(err, discovery.ErrNothingToRetry),
		errors.Is(err, store.ErrVersionConflict):
		return http.StatusConflict
	case errors.Is(err, discovery.ErrIncompleteProfile), errors.Is(err, discovery.ErrInvalidUpdate):
		return http.StatusUnprocessableEntity
	case errors.Is(err, graph.ErrMissingThreadID):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// respondWorkflowError writes err with its mapped status. Server errors are
// logged and their detail hidden from the client.
func (s *Server) respondWorkflowError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
		respondError(w, status, http.StatusText(status))
		return
	}
	respondError(w, status, err.Error())
}
