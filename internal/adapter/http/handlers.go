package http

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/buildhive/buildhive/internal/adapter/ws"
	"github.com/buildhive/buildhive/internal/domain/task"
	"github.com/buildhive/buildhive/internal/middleware"
	"github.com/buildhive/buildhive/internal/port/database"
	"github.com/buildhive/buildhive/internal/service"
)

// Handlers bundles the HTTP handlers with their service dependencies.
type Handlers struct {
	orchestrator *service.OrchestratorService
	credits      *service.CreditService
	store        database.Store
	hub          *ws.Hub
}

// NewHandlers creates the handler set.
func NewHandlers(orchestrator *service.OrchestratorService, credits *service.CreditService, store database.Store, hub *ws.Hub) *Handlers {
	return &Handlers{orchestrator: orchestrator, credits: credits, store: store, hub: hub}
}

// ---------------------------------------------------------------------------
// Jobs
// ---------------------------------------------------------------------------

type createJobRequest struct {
	Prompt         string `json:"prompt"`
	MultiAgentMode bool   `json:"multi_agent_mode"`
}

// CreateJob handles POST /api/v1/projects/{projectID}/jobs.
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromContext(r.Context())
	projectID := urlParam(r, "projectID")

	req, ok := readJSON[createJobRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.Prompt, "prompt") {
		return
	}

	p, err := h.store.GetProject(r.Context(), projectID)
	if err != nil {
		writeDomainError(w, err, "project not found")
		return
	}
	if p.UserID != u.ID {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}

	j, err := h.orchestrator.CreateJob(r.Context(), u, p, req.Prompt, req.MultiAgentMode)
	if err != nil {
		writeDomainError(w, err, "project not found")
		return
	}
	writeJSON(w, http.StatusCreated, j)
}

// ListJobs handles GET /api/v1/jobs?limit=N.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromContext(r.Context())

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	jobs, err := h.orchestrator.ListJobs(r.Context(), u.ID, limit)
	if err != nil {
		writeDomainError(w, err, "jobs not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

// GetJob handles GET /api/v1/jobs/{jobID}.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromContext(r.Context())

	j, err := h.orchestrator.GetJob(r.Context(), urlParam(r, "jobID"), u.ID)
	if err != nil {
		writeDomainError(w, err, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, j)
}

type approveJobRequest struct {
	Tasks []task.Task `json:"tasks,omitempty"`
}

// ApproveJob handles POST /api/v1/jobs/{jobID}/approve. The optional task list
// replaces the planned one before pricing.
func (h *Handlers) ApproveJob(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromContext(r.Context())

	var req approveJobRequest
	if r.ContentLength > 0 {
		var ok bool
		if req, ok = readJSON[approveJobRequest](w, r); !ok {
			return
		}
	}

	j, err := h.orchestrator.ApproveJob(r.Context(), urlParam(r, "jobID"), u, req.Tasks)
	if err != nil {
		writeDomainError(w, err, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, j)
}

type continueJobRequest struct {
	Approved bool `json:"approved"`
}

// ContinueJob handles POST /api/v1/jobs/{jobID}/continue, resolving a job
// paused for credits.
func (h *Handlers) ContinueJob(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromContext(r.Context())

	req, ok := readJSON[continueJobRequest](w, r)
	if !ok {
		return
	}

	j, err := h.orchestrator.ContinueJob(r.Context(), urlParam(r, "jobID"), u, req.Approved)
	if err != nil {
		writeDomainError(w, err, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, j)
}

// StreamJob handles GET /api/v1/jobs/{jobID}/stream. It executes the job and
// streams progress events over SSE until the run ends or the client leaves.
func (h *Handlers) StreamJob(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromContext(r.Context())
	jobID := urlParam(r, "jobID")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range h.orchestrator.ExecuteJob(r.Context(), jobID, u) {
		data, err := ev.MarshalJSON()
		if err != nil {
			slog.Error("marshal job event", "job_id", jobID, "event", ev.Type, "error", err)
			continue
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
		flusher.Flush()
	}
}

// ---------------------------------------------------------------------------
// Credits
// ---------------------------------------------------------------------------

// GetCredits handles GET /api/v1/credits?limit=N, returning the balance and
// recent ledger entries.
func (h *Handlers) GetCredits(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromContext(r.Context())

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	balance, err := h.store.UserCredits(r.Context(), u.ID)
	if err != nil {
		writeDomainError(w, err, "user not found")
		return
	}
	history, err := h.credits.History(r.Context(), u.ID, limit)
	if err != nil {
		writeDomainError(w, err, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"balance":         balance,
		"credits_enabled": u.CreditsEnabled,
		"history":         history,
	})
}

type addCreditsRequest struct {
	Amount float64 `json:"amount"`
	Reason string  `json:"reason"`
}

// AddCredits handles POST /api/v1/credits/add.
func (h *Handlers) AddCredits(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromContext(r.Context())

	req, ok := readJSON[addCreditsRequest](w, r)
	if !ok {
		return
	}
	if req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = "Credit purchase"
	}

	balance, err := h.credits.Add(r.Context(), u.ID, req.Amount, reason, "purchase", "")
	if err != nil {
		writeDomainError(w, err, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"balance": balance})
}

// ---------------------------------------------------------------------------
// Health
// ---------------------------------------------------------------------------

// Health handles GET /health.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"connections": h.hub.ConnectionCount(),
	})
}
