package presenter

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/blackholelabs/lpstrategy/internal/scheduler"
	"github.com/blackholelabs/lpstrategy/internal/strategy"
)

// StrategyHandlers implements the `/strategy` routes over a single shared
// Scheduler.
type StrategyHandlers struct {
	sched *scheduler.Scheduler
}

// NewStrategyHandlers builds handlers bound to sched.
func NewStrategyHandlers(sched *scheduler.Scheduler) *StrategyHandlers {
	return &StrategyHandlers{sched: sched}
}

// RegisterRoutes mounts every `/strategy` route under r.
func (h *StrategyHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/strategy", func(r chi.Router) {
		r.Post("/", h.handleCreate)
		r.Get("/", h.handleList)
		r.Get("/{id}", h.handleGet)
		r.Post("/{id}/start", h.handleStart)
		r.Post("/{id}/stop", h.handleStop)
		r.Post("/{id}/reset", h.handleReset)
		r.Post("/{id}/force-exit", h.handleForceExit)
		r.Delete("/{id}", h.handleDelete)
	})
}

func parseID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "id"))
}

func (h *StrategyHandlers) handleCreate(w http.ResponseWriter, r *http.Request) {
	var cfg strategy.StrategyConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "invalid request body: " + err.Error()})
		return
	}

	id, err := h.sched.Create(r.Context(), cfg)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]any{"instanceId": id})
}

func (h *StrategyHandlers) handleList(w http.ResponseWriter, r *http.Request) {
	writeOK(w, h.sched.List())
}

func (h *StrategyHandlers) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "invalid instance id"})
		return
	}
	state, err := h.sched.Get(id)
	if err != nil {
		writeInstanceError(w, err)
		return
	}
	writeOK(w, state)
}

func (h *StrategyHandlers) handleStart(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "invalid instance id"})
		return
	}
	if err := h.sched.Start(r.Context(), id); err != nil {
		writeInstanceError(w, err)
		return
	}
	writeOK(w, nil)
}

func (h *StrategyHandlers) handleStop(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "invalid instance id"})
		return
	}
	if err := h.sched.Stop(r.Context(), id); err != nil {
		writeInstanceError(w, err)
		return
	}
	writeOK(w, nil)
}

func (h *StrategyHandlers) handleReset(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "invalid instance id"})
		return
	}
	if err := h.sched.Reset(r.Context(), id); err != nil {
		writeInstanceError(w, err)
		return
	}
	writeOK(w, nil)
}

// forceExitRequest optionally bounds how long force-exit may run before it
// reports a partial result and gives up.
type forceExitRequest struct {
	DeadlineSeconds int `json:"deadlineSeconds"`
}

func (h *StrategyHandlers) handleForceExit(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "invalid instance id"})
		return
	}

	var req forceExitRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	wait := 2 * time.Minute
	if req.DeadlineSeconds > 0 {
		wait = time.Duration(req.DeadlineSeconds) * time.Second
	}

	result, err := h.sched.ForceExit(r.Context(), id, time.Now().Add(wait))
	if err != nil {
		// ForceExitTimedOut still carries a partial result the Presenter
		// must show, so it is rendered as a 200 with both the result and
		// the error message rather than a bare 5xx/409.
		if strategy.KindOf(err) == strategy.KindForceExitTimedOut {
			writeJSON(w, http.StatusOK, envelope{Success: false, Error: err.Error(), Data: result})
			return
		}
		writeInstanceError(w, err)
		return
	}
	writeOK(w, result)
}

func (h *StrategyHandlers) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "invalid instance id"})
		return
	}
	if err := h.sched.Delete(r.Context(), id); err != nil {
		writeInstanceError(w, err)
		return
	}
	writeOK(w, nil)
}
