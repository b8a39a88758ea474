// Package presenter is the HTTP/WebSocket control plane: it translates
// Scheduler and PnLTracker calls into the {success, data|error} JSON
// envelope and the four strategy:* WebSocket events, and never carries any
// domain logic itself. Routing uses a go-chi router with a middleware chain
// of Recoverer/RequestID/RealIP/logging/CORS and routes grouped with
// chi.Router.Route; the WebSocket hub uses gorilla/websocket for a
// per-client event stream.
package presenter

import (
	"encoding/json"
	"net/http"

	"github.com/blackholelabs/lpstrategy/internal/strategy"
)

// envelope is the uniform response body required of every route.
type envelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

// writeError classifies err by strategy.Kind and renders it at the HTTP
// status assigned to that kind.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), envelope{Success: false, Error: err.Error()})
}

func statusFor(err error) int {
	switch strategy.KindOf(err) {
	case strategy.KindInvalidConfig, strategy.KindInvalidTickRange:
		return http.StatusBadRequest
	case strategy.KindInstanceBusy:
		return http.StatusConflict
	case strategy.KindRpcTransient, strategy.KindRpcFatal:
		return http.StatusServiceUnavailable
	case "":
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// writeInstanceError renders an error returned from an id-keyed Scheduler
// call (Get/Start/Stop/Reset/Delete/ForceExit). Scheduler.lookup tags an
// unknown id as KindInvalidConfig, the same kind Create uses for a rejected
// config — on these routes that kind can only mean "no such instance", so it
// maps to 404 here instead of statusFor's 400.
func writeInstanceError(w http.ResponseWriter, err error) {
	if strategy.KindOf(err) == strategy.KindInvalidConfig {
		writeJSON(w, http.StatusNotFound, envelope{Success: false, Error: err.Error()})
		return
	}
	writeError(w, err)
}
