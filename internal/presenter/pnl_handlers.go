package presenter

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/blackholelabs/lpstrategy/internal/pnltracker"
)

// PnLHandlers implements the `/profit-loss` routes over a single shared
// PnLTracker.
type PnLHandlers struct {
	tracker *pnltracker.Tracker
}

// NewPnLHandlers builds handlers bound to tracker.
func NewPnLHandlers(tracker *pnltracker.Tracker) *PnLHandlers {
	return &PnLHandlers{tracker: tracker}
}

// RegisterRoutes mounts every `/profit-loss` route under r.
func (h *PnLHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/profit-loss", func(r chi.Router) {
		r.Get("/summary", h.handleSummary)
		r.Get("/all", h.handleAll)
		r.Get("/instance/{id}", h.handleInstance)
		r.Get("/lifecycle/{id}", h.handleInstance)
		r.Get("/lifecycle-summary", h.handleLifecycleSummary)
	})
}

func (h *PnLHandlers) handleSummary(w http.ResponseWriter, r *http.Request) {
	writeOK(w, h.tracker.Aggregate())
}

func (h *PnLHandlers) handleAll(w http.ResponseWriter, r *http.Request) {
	writeOK(w, h.tracker.All())
}

func (h *PnLHandlers) handleInstance(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "invalid instance id"})
		return
	}
	record, ok := h.tracker.Detail(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, envelope{Success: false, Error: "no profit-loss record for instance " + id.String()})
		return
	}
	writeOK(w, record)
}

func (h *PnLHandlers) handleLifecycleSummary(w http.ResponseWriter, r *http.Request) {
	writeOK(w, h.tracker.ClosedInstances())
}
