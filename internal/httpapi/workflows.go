package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/forgeflow/orchestrator/internal/domain"
	"github.com/forgeflow/orchestrator/internal/orcerr"
	"github.com/forgeflow/orchestrator/internal/orchestrator"
	"github.com/forgeflow/orchestrator/internal/workflowstore"
)

// createWorkflowRequest is the body of POST /api/workflows (spec.md §6).
type createWorkflowRequest struct {
	IssueID         string `json:"issue_id"`
	WorktreePath    string `json:"worktree_path"`
	WorktreeName    string `json:"worktree_name"`
	Profile         string `json:"profile"`
	Start           *bool  `json:"start"`
	TaskTitle       string `json:"task_title"`
	TaskDescription string `json:"task_description"`
	PlanOnly        bool   `json:"plan_only"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if req.IssueID == "" || req.WorktreePath == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "issue_id and worktree_path are required"})
		return
	}

	opts := orchestrator.StartOptions{
		Defer:        req.Start != nil && !*req.Start,
		PlanOnly:     req.PlanOnly,
		WorktreeName: req.WorktreeName,
	}

	id, err := s.orc.StartWorkflow(r.Context(), req.IssueID, req.WorktreePath, req.Profile, opts)
	if err != nil {
		writeError(w, err)
		return
	}

	workflow, err := s.orc.GetWorkflow(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, workflow)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	workflow, err := s.orc.GetWorkflow(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, workflow)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := workflowstore.Filter{
		IssueID:   q.Get("issue_id"),
		ProfileID: q.Get("profile"),
	}
	if status := q.Get("status"); status != "" {
		filter.Statuses = []domain.WorkflowStatus{domain.WorkflowStatus(status)}
	}
	limit := 50
	page, err := s.orc.ListWorkflows(r.Context(), filter, limit, q.Get("cursor"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleListActive(w http.ResponseWriter, r *http.Request) {
	list, err := s.orc.ListActive(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.orc.StartPending(r.Context(), id)
	if err != nil {
		// 409 here is endpoint-specific (spec.md §6): the generic
		// InvalidStateTransitionError otherwise maps to 422 (§7).
		if _, ok := err.(*orcerr.InvalidStateTransitionError); ok {
			writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
			return
		}
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type startBatchRequest struct {
	WorkflowIDs []string `json:"workflow_ids"`
}

type startBatchResponse struct {
	Started []string          `json:"started"`
	Errors  map[string]string `json:"errors"`
}

func (s *Server) handleStartBatch(w http.ResponseWriter, r *http.Request) {
	var req startBatchRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
			return
		}
	}

	filter := workflowstore.Filter{}
	result, err := s.orc.StartBatch(r.Context(), filter, req.WorkflowIDs)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := startBatchResponse{Started: result.Started, Errors: make(map[string]string, len(result.Errors))}
	for id, e := range result.Errors {
		resp.Errors[id] = e.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.orc.ApproveAtInterrupt(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type rejectRequest struct {
	Feedback string `json:"feedback"`
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req rejectRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
			return
		}
	}
	if err := s.orc.RejectAtInterrupt(r.Context(), id, req.Feedback); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req cancelRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
			return
		}
	}
	if err := s.orc.CancelWorkflow(r.Context(), id, req.Reason); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type resolveBlockerRequest struct {
	Resolution string `json:"resolution"`
}

func (s *Server) handleResolveBlocker(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req resolveBlockerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if err := s.orc.ResolveBlocker(r.Context(), id, req.Resolution); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
