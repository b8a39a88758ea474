package presenter

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/blackholelabs/lpstrategy/internal/scheduler"
)

// writeWait bounds how long a single WebSocket write may block before the
// connection is considered dead, the same guard every gorilla/websocket
// producer in the pack applies.
const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// EventStream upgrades `/strategy/{id}/events` to a WebSocket that relays
// every strategy:update/progress/list_update/deleted event concerning one
// instance.
type EventStream struct {
	sched *scheduler.Scheduler
	log   zerolog.Logger
}

// NewEventStream builds a stream handler bound to sched.
func NewEventStream(sched *scheduler.Scheduler, log zerolog.Logger) *EventStream {
	return &EventStream{sched: sched, log: log.With().Str("component", "presenter.ws").Logger()}
}

// RegisterRoutes mounts the WebSocket upgrade route under r.
func (s *EventStream) RegisterRoutes(r chi.Router) {
	r.Get("/strategy/{id}/events", s.handleStream)
}

func (s *EventStream) handleStream(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "invalid instance id"})
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	subID, ch := s.sched.Subscribe(id)
	defer s.sched.UnsubscribeAll(subID)

	// Drain client-initiated control frames (close/ping) on their own
	// goroutine so a client that never reads doesn't wedge the writer below;
	// this mirrors every read-pump/write-pump split gorilla/websocket
	// consumers in the pack use.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case event, ok := <-ch:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}
