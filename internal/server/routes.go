package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/bourbonbuddy/tastecast/internal/protocol"
	"github.com/bourbonbuddy/tastecast/internal/relay"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// maxPushBytes bounds a long-polling request body.
const maxPushBytes = protocol.MaxBatchSize * 64 * 1024

// Configure the websocket upgrader
var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,

	// The cookie session was validated upstream; origin is not checked here.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func (s *Server) routes() {
	r := s.router
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/rooms", s.handleRooms).Methods(http.MethodGet)
	r.HandleFunc("/rooms", s.handleNewRoom).Methods(http.MethodPost)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)

	r.HandleFunc("/poll", s.handlePollOpen).Methods(http.MethodPost)
	r.HandleFunc("/poll/{sid}", s.handlePollGet).Methods(http.MethodGet)
	r.HandleFunc("/poll/{sid}", s.handlePollPush).Methods(http.MethodPost)
	r.HandleFunc("/poll/{sid}", s.handlePollClose).Methods(http.MethodDelete)

	r.HandleFunc("/channels/{id}/disconnect", s.handleDisconnect).Methods(http.MethodPost)
}

// session returns the cookie session value presented by the client.
func (s *Server) session(r *http.Request) string {
	if s.opts.CookieName == "" {
		return ""
	}
	c, err := r.Cookie(s.opts.CookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Relay is healthy."))
}

func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.hub.Rooms(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, rooms)
}

// handleNewRoom suggests a stream name that no live room uses. The room
// itself only exists once someone joins it.
func (s *Server) handleNewRoom(w http.ResponseWriter, r *http.Request) {
	name, err := s.hub.NewStreamName(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": name})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Failed to upgrade connection", "error", err)
		return
	}

	if err := relay.ServeWebSocket(s.hub, conn, s.session(r), s.logger); err != nil {
		s.logger.Warn("Failed to attach websocket", "error", err)
	}
}

func (s *Server) handlePollOpen(w http.ResponseWriter, r *http.Request) {
	sid, err := s.sessions.Open(s.session(r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"sid": sid})
}

func (s *Server) handlePollGet(w http.ResponseWriter, r *http.Request) {
	sid := mux.Vars(r)["sid"]

	batch, err := s.sessions.Poll(r.Context(), sid, s.opts.PollWait)
	switch {
	case errors.Is(err, relay.ErrUnknownSession):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	case errors.Is(err, relay.ErrSessionClosed):
		http.Error(w, err.Error(), http.StatusGone)
		return
	case err != nil:
		// Client went away mid-poll.
		return
	}

	if len(batch) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	data, err := protocol.EncodeBatch(batch)
	if err != nil {
		s.logger.Error("Failed to encode poll batch", "sid", sid, "error", err)
		http.Error(w, "encode failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", protocol.ContentTypeBatch)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) handlePollPush(w http.ResponseWriter, r *http.Request) {
	sid := mux.Vars(r)["sid"]

	data, err := io.ReadAll(io.LimitReader(r.Body, maxPushBytes))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	msgs, err := protocol.DecodeBatch(data)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.sessions.Push(sid, msgs); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePollClose(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Close(mux.Vars(r)["sid"]); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	err := s.hub.Disconnect(r.Context(), id, protocol.ReasonManual)
	switch {
	case errors.Is(err, relay.ErrUnknownChannel):
		http.Error(w, err.Error(), http.StatusNotFound)
	case err != nil:
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
