package web

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/johnnysoutodev/desafio-capsula-do-tempo-com-ia/internal/config"
	"github.com/johnnysoutodev/desafio-capsula-do-tempo-com-ia/internal/errors"
	"github.com/johnnysoutodev/desafio-capsula-do-tempo-com-ia/internal/ops"
	"github.com/johnnysoutodev/desafio-capsula-do-tempo-com-ia/internal/scheduler"
)

// stopDrainTimeout bounds how long POST /scheduler/stop waits for an
// in-flight cycle.
const stopDrainTimeout = 30 * time.Second

// Handlers contains HTTP route handlers for the capsula API.
type Handlers struct {
	db    *sql.DB
	cfg   *config.Config
	sched *scheduler.Scheduler
}

// createRequest is the JSON body for POST /capsules.
type createRequest struct {
	Name          string  `json:"name"`
	Contact       string  `json:"contact"`
	Message       string  `json:"message"`
	AttachmentRef *string `json:"attachment_ref,omitempty"`
	DeliverAt     int64   `json:"deliver_at"`
}

// abandonRequest is the JSON body for POST /capsules/{id}/abandon.
type abandonRequest struct {
	Reason string `json:"reason"`
}

// controlResponse is the JSON body for scheduler control operations.
type controlResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// HandleHealth handles GET /healthz.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.db.PingContext(r.Context()); err != nil {
		writeError(w, errors.NewInternal(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleCreate handles POST /capsules — store a new submission.
func (h *Handlers) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.NewInvalidRequest("invalid JSON body: "+err.Error()))
		return
	}

	output, err := ops.Create(h.db, h.cfg, ops.CreateInput{
		Name:          req.Name,
		Contact:       req.Contact,
		Message:       req.Message,
		AttachmentRef: req.AttachmentRef,
		DeliverAt:     req.DeliverAt,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, output)
}

// HandleList handles GET /capsules — list capsules, newest first.
func (h *Handlers) HandleList(w http.ResponseWriter, r *http.Request) {
	output, err := ops.List(h.db, ops.ListInput{
		Status:  r.URL.Query().Get("status"),
		Contact: r.URL.Query().Get("contact"),
		Limit:   parseIntParam(r, "limit", 0),
		Offset:  parseIntParam(r, "offset", 0),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, output)
}

// HandleGet handles GET /capsules/{id}.
func (h *Handlers) HandleGet(w http.ResponseWriter, r *http.Request) {
	output, err := ops.Get(h.db, ops.GetInput{ID: r.PathValue("id")})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, output)
}

// HandleStats handles GET /capsules/stats.
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	output, err := ops.Stats(h.db)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, output)
}

// HandleAbandon handles POST /capsules/{id}/abandon — operator-initiated
// terminal failure.
func (h *Handlers) HandleAbandon(w http.ResponseWriter, r *http.Request) {
	var req abandonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.NewInvalidRequest("invalid JSON body: "+err.Error()))
		return
	}

	output, err := ops.Abandon(h.db, ops.AbandonInput{
		ID:     r.PathValue("id"),
		Reason: req.Reason,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, output)
}

// HandleSchedulerStatus handles GET /scheduler/status.
func (h *Handlers) HandleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sched.Status())
}

// HandleSchedulerRun handles POST /scheduler/run — one manual cycle.
// A cycle already in flight yields a skipped result, not an error.
func (h *Handlers) HandleSchedulerRun(w http.ResponseWriter, r *http.Request) {
	result := h.sched.RunCycle(r.Context())
	writeJSON(w, http.StatusOK, result)
}

// HandleSchedulerStart handles POST /scheduler/start.
func (h *Handlers) HandleSchedulerStart(w http.ResponseWriter, r *http.Request) {
	started, err := h.sched.Start()
	if err != nil {
		writeError(w, err)
		return
	}
	resp := controlResponse{Success: started}
	if !started {
		resp.Message = "scheduler already started"
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleSchedulerStop handles POST /scheduler/stop — resolves after the
// in-flight cycle (if any) drains.
func (h *Handlers) HandleSchedulerStop(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), stopDrainTimeout)
	defer cancel()

	stopped, err := h.sched.Stop(ctx)
	if err != nil {
		writeError(w, errors.NewInternal(err))
		return
	}
	resp := controlResponse{Success: stopped}
	if !stopped {
		resp.Message = "scheduler not started"
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleSchedulerResetStats handles POST /scheduler/stats/reset.
func (h *Handlers) HandleSchedulerResetStats(w http.ResponseWriter, r *http.Request) {
	h.sched.ResetStats()
	writeJSON(w, http.StatusOK, controlResponse{Success: true})
}

// writeJSON writes v as an indented JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

// errorBody is the JSON shape of an error response.
type errorBody struct {
	Error   string         `json:"error"`
	Code    string         `json:"code"`
	Details map[string]any `json:"details,omitempty"`
}

// writeError maps a domain error to its HTTP status and JSON body.
func writeError(w http.ResponseWriter, err error) {
	if cErr, ok := err.(*errors.CapsulaError); ok {
		writeJSON(w, cErr.Status, errorBody{
			Error:   cErr.Message,
			Code:    string(cErr.Code),
			Details: cErr.Details,
		})
		return
	}
	writeJSON(w, http.StatusInternalServerError, errorBody{
		Error: err.Error(),
		Code:  string(errors.ErrInternal),
	})
}

// parseIntParam parses a query parameter as int, with a default.
func parseIntParam(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
