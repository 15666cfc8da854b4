package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/laph/internal/apperror"
	"github.com/sakif/laph/internal/auth"
	"github.com/sakif/laph/internal/model"
	"github.com/sakif/laph/internal/repair"
	"github.com/sakif/laph/internal/service"
)

// RunService starts and looks up repair runs.
type RunService interface {
	Repair(ctx context.Context, task string) (*repair.Result, error)
	GetByID(ctx context.Context, id string) (*service.RunDetail, error)
	List(ctx context.Context, limit, offset int) ([]model.Run, error)
}

var _ RunService = (*service.RunService)(nil)

// RunHandler serves /api/runs.
type RunHandler struct {
	runs   RunService
	logger *slog.Logger
}

// NewRunHandler creates a new RunHandler.
func NewRunHandler(runs RunService, logger *slog.Logger) *RunHandler {
	return &RunHandler{
		runs:   runs,
		logger: logger,
	}
}

type createRunRequest struct {
	Task string `json:"task"`
}

// RunResponse is the body returned when a run finishes.
type RunResponse struct {
	RunID      string        `json:"runId,omitempty"`
	Status     repair.Status `json:"status"`
	Code       string        `json:"code,omitempty"`
	Iterations int           `json:"iterations"`
}

// HandleCreate runs the repair loop to completion inside the request.
//
// POST /api/runs {"task": "..."} → 200 with status SUCCESS or FAILURE. The
// request context bounds the run: a client that disconnects stops it, and
// the persisted record can be resumed later by posting the same task.
func (h *RunHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if !decodeJSON(w, r, &req, h.logger) {
		return
	}

	if client, ok := auth.ClientFromContext(r.Context()); ok {
		h.logger.Info("repair requested", slog.String("client", client))
	}

	res, err := h.runs.Repair(r.Context(), req.Task)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, RunResponse{
		RunID:      res.RunID,
		Status:     res.Status,
		Code:       res.Code,
		Iterations: res.Iterations,
	})
}

// HandleGet returns a persisted run with its iterations.
//
// GET /api/runs/{id}
func (h *RunHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	detail, err := h.runs.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// HandleList returns persisted runs, newest first.
//
// GET /api/runs?limit=20&offset=0
func (h *RunHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeError(w, err)
		return
	}

	runs, err := h.runs.List(r.Context(), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

// queryInt reads an optional integer query parameter; absent means 0.
func queryInt(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, apperror.ValidationFailed(name, name+" must be an integer")
	}
	return n, nil
}
