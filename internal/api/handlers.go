package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dshills/aidgraph/discovery"
	"github.com/dshills/aidgraph/graph"
	"github.com/dshills/aidgraph/graph/store"
)

const maxBodyBytes = 1 << 20

// StartRunRequest is the body of POST /api/v1/users/{userID}/runs. When
// Input is present it is validated against the update schema and used
// instead of the stored profile.
type StartRunRequest struct {
	SensitiveBandMode bool            `json:"sensitive_band_mode"`
	Scheduled         bool            `json:"scheduled"`
	RunID             string          `json:"run_id,omitempty"`
	Input             json.RawMessage `json:"input,omitempty"`
}

// ResumeRequest is the body of POST /api/v1/threads/{threadID}/resume.
// Node defaults to the SAI confirmation node.
type ResumeRequest struct {
	Decision any    `json:"decision"`
	Node     string `json:"node,omitempty"`
}

// OutcomeResponse reports a finished or suspended run.
type OutcomeResponse struct {
	ThreadID  string                  `json:"thread_id"`
	RunID     string                  `json:"run_id"`
	Suspended bool                    `json:"suspended"`
	Interrupt *graph.Interrupt        `json:"interrupt,omitempty"`
	State     discovery.WorkflowState `json:"state"`
}

// ThreadResponse is the read-only view of a thread's latest checkpoint.
type ThreadResponse struct {
	ThreadID  string                  `json:"thread_id"`
	RunID     string                  `json:"run_id"`
	NextNode  string                  `json:"next_node"`
	LastNode  string                  `json:"last_node"`
	Suspended bool                    `json:"suspended"`
	Interrupt *graph.Interrupt        `json:"interrupt,omitempty"`
	Version   int64                   `json:"version"`
	UpdatedAt time.Time               `json:"updated_at"`
	State     discovery.WorkflowState `json:"state"`
}

func outcomeResponse(out discovery.Outcome) OutcomeResponse {
	return OutcomeResponse{
		ThreadID:  out.ThreadID,
		RunID:     out.RunID,
		Suspended: out.Suspended(),
		Interrupt: out.Interrupt,
		State:     publicState(out.State),
	}
}

func threadResponse(cp store.Checkpoint[discovery.WorkflowState]) ThreadResponse {
	return ThreadResponse{
		ThreadID:  cp.ThreadID,
		RunID:     cp.RunID,
		NextNode:  cp.NextNode,
		LastNode:  cp.LastNode,
		Suspended: cp.Suspended,
		Interrupt: cp.Interrupt,
		Version:   cp.Version,
		UpdatedAt: cp.UpdatedAt,
		State:     publicState(cp.State),
	}
}

// publicState strips fault detail from the error log. Clients get the node
// and time of each fault; the messages stay in the server log and the store.
func publicState(s discovery.WorkflowState) discovery.WorkflowState {
	if len(s.ErrorLog) == 0 {
		return s
	}
	entries := make([]discovery.ErrorEntry, len(s.ErrorLog))
	for i, e := range s.ErrorLog {
		entries[i] = discovery.ErrorEntry{Node: e.Node, Timestamp: e.Timestamp}
	}
	s.ErrorLog = entries
	return s
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req StartRunRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	rc := discovery.RunConfig{
		ThreadID:          discovery.ThreadID(userID),
		RunID:             req.RunID,
		SensitiveBandMode: req.SensitiveBandMode,
		Scheduled:         req.Scheduled,
	}

	var (
		out discovery.Outcome
		err error
	)
	if len(req.Input) > 0 {
		var input discovery.Update
		input, err = discovery.DecodeUpdate(req.Input)
		if err != nil {
			s.respondWorkflowError(w, r, err)
			return
		}
		out, err = s.workflow.Invoke(r.Context(), &input, rc)
	} else {
		out, err = s.workflow.Start(r.Context(), userID, rc)
	}
	if err != nil {
		s.respondWorkflowError(w, r, err)
		return
	}

	status := http.StatusOK
	if out.Suspended() {
		status = http.StatusAccepted
	}
	respondJSON(w, status, outcomeResponse(out))
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")

	var req ResumeRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Decision == nil {
		respondError(w, http.StatusBadRequest, "decision is required")
		return
	}
	node := req.Node
	if node == "" {
		node = discovery.NodeSaiConfirm
	}

	out, err := s.workflow.ResumeAt(r.Context(), threadID, node, req.Decision)
	if err != nil {
		s.respondWorkflowError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, outcomeResponse(out))
}

// handleContinue finishes a run that stopped before completing, for
// example after a crash or a cancelled request.
func (s *Server) handleContinue(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")

	cp, err := s.workflow.GetState(r.Context(), threadID)
	if err != nil {
		s.respondWorkflowError(w, r, err)
		return
	}
	if cp.Suspended {
		respondJSON(w, http.StatusAccepted, threadResponse(cp))
		return
	}
	if cp.NextNode == "" || cp.NextNode == graph.End {
		respondError(w, http.StatusConflict, "thread "+threadID+" has no unfinished run")
		return
	}

	out, err := s.workflow.Invoke(r.Context(), nil, discovery.RunConfig{ThreadID: threadID})
	if err != nil {
		s.respondWorkflowError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, outcomeResponse(out))
}

// handleRetry re-enters a faulted run at the node that failed.
func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	out, err := s.workflow.Retry(r.Context(), chi.URLParam(r, "threadID"))
	if err != nil {
		s.respondWorkflowError(w, r, err)
		return
	}
	status := http.StatusOK
	if out.Suspended() {
		status = http.StatusAccepted
	}
	respondJSON(w, status, outcomeResponse(out))
}

func (s *Server) handleGetThread(w http.ResponseWriter, r *http.Request) {
	cp, err := s.workflow.GetState(r.Context(), chi.URLParam(r, "threadID"))
	if err != nil {
		s.respondWorkflowError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, threadResponse(cp))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")
	records, err := s.workflow.History(r.Context(), threadID)
	if err != nil {
		s.respondWorkflowError(w, r, err)
		return
	}
	if len(records) == 0 {
		respondError(w, http.StatusNotFound, "thread "+threadID+" not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"thread_id": threadID,
		"steps":     records,
	})
}
