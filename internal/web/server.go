// Package web provides the HTTP command gateway and status feed for the bark-door daemon.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"

	"github.com/sweeney/bark-door/internal/door"
	"github.com/sweeney/bark-door/internal/logger"
	"github.com/sweeney/bark-door/internal/status"
)

// maxBodyBytes bounds command request bodies.
const maxBodyBytes = 1 << 10

// Commander accepts door commands.
type Commander interface {
	Submit(cmd door.Command) (door.Result, error)
}

// Server serves the command endpoint, status JSON, and the websocket feed.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	commands   Commander
	hub        *hub
	log        *logger.Logger
}

// New creates a Server that reads state from tracker and forwards commands.
func New(addr string, tracker *status.Tracker, commands Commander, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Discard()
	}
	s := &Server{
		tracker:  tracker,
		commands: commands,
		hub:      newHub(log),
		log:      log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/get_open_close", s.handleCommand)
	mux.HandleFunc("/index.json", s.handleJSON)
	mux.HandleFunc("/ws", s.handleWS)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown disconnects websocket clients and gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.closeAll()
	return s.httpServer.Shutdown(ctx)
}

// Broadcast pushes snap to every websocket client.
func (s *Server) Broadcast(snap status.Snapshot) {
	s.hub.broadcast(status.FormatStatusEvent(snap, "STATUS", ""))
}

// Clients returns the number of connected websocket clients.
func (s *Server) Clients() int {
	return s.hub.len()
}

// CommandRequest is the body of POST /get_open_close.
type CommandRequest struct {
	Action *int `json:"action"`
}

// CommandResponse is returned by POST /get_open_close.
type CommandResponse struct {
	Success bool   `json:"success"`
	Outcome string `json:"outcome,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, CommandResponse{Error: "method not allowed"})
		return
	}

	var req CommandRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.log.Warnf("bad command body: %v", err)
		writeJSON(w, http.StatusBadRequest, CommandResponse{Error: "invalid JSON body"})
		return
	}
	if req.Action == nil {
		writeJSON(w, http.StatusBadRequest, CommandResponse{Error: "missing action"})
		return
	}

	cmd, err := door.ParseCommand(*req.Action)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, CommandResponse{Error: "invalid action"})
		return
	}

	res, err := s.commands.Submit(cmd)
	if err != nil {
		code, reason := commandFailure(err)
		s.log.Warnf("command %s from %s failed: %v", cmd, r.RemoteAddr, err)
		writeJSON(w, code, CommandResponse{Error: reason})
		return
	}
	s.log.Infof("command %s from %s: %s", cmd, r.RemoteAddr, res.Outcome)
	writeJSON(w, http.StatusOK, CommandResponse{Success: true, Outcome: res.Outcome.String()})
}

// commandFailure maps a Submit error to a status code and a fixed reason.
// Driver and sensor detail stays in the log.
func commandFailure(err error) (int, string) {
	switch {
	case errors.Is(err, door.ErrBusy):
		return http.StatusConflict, "busy"
	case errors.Is(err, door.ErrShutdown):
		return http.StatusServiceUnavailable, "shut down"
	case errors.Is(err, door.ErrSensorFault), errors.Is(err, door.ErrSensorTimeout):
		return http.StatusInternalServerError, "sensor fault"
	case errors.Is(err, door.ErrRelayFault):
		return http.StatusInternalServerError, "relay fault"
	}
	return http.StatusInternalServerError, "internal error"
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
