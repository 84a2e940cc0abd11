// Package web provides an HTTP dashboard and command endpoint for the centrifuge daemon.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/sweeney/centrifuge/internal/control"
	"github.com/sweeney/centrifuge/internal/link"
	"github.com/sweeney/centrifuge/internal/status"
)

// maxCommandBody bounds POST /api/command bodies.
const maxCommandBody = 1 << 10

// Server serves the status page over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	commands   chan<- control.Command
}

// New creates a Server that reads state from the given tracker. When
// commands is nil the command endpoint is not registered.
func New(addr string, tracker *status.Tracker, commands chan<- control.Command) *Server {
	s := &Server{tracker: tracker, commands: commands}

	r := mux.NewRouter()
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/index.html", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/index.json", s.handleJSON).Methods(http.MethodGet)
	r.HandleFunc("/history.json", s.handleHistory).Methods(http.MethodGet)
	if commands != nil {
		r.HandleFunc("/api/command", s.handleCommand).Methods(http.MethodPost)
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the router. Useful for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderHTML(w, snap, s.commands != nil); err != nil {
		log.Printf("http: render index: %v", err)
	}
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatHistory(s.tracker.History(), time.Now()))
}

// commandRequest is the JSON form of a command. Seconds is optional.
type commandRequest struct {
	RPM     *float64 `json:"rpm"`
	Seconds *int     `json:"seconds,omitempty"`
}

type commandResponse struct {
	Queued string `json:"queued,omitempty"`
	Error  string `json:"error,omitempty"`
}

// handleCommand accepts either a JSON body or a plain text line in the
// serial wire format. The command is queued for the run loop; acceptance by
// the controller is reported through events, not this response.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBody))
	if err != nil {
		writeCommandResponse(w, http.StatusBadRequest, commandResponse{Error: err.Error()})
		return
	}

	cmd, err := decodeCommand(r.Header.Get("Content-Type"), body)
	if err != nil {
		writeCommandResponse(w, http.StatusBadRequest, commandResponse{Error: err.Error()})
		return
	}

	select {
	case s.commands <- cmd:
		log.Printf("http: queued command %q from %s", link.Encode(cmd), r.RemoteAddr)
		writeCommandResponse(w, http.StatusAccepted, commandResponse{Queued: link.Encode(cmd)})
	default:
		writeCommandResponse(w, http.StatusServiceUnavailable, commandResponse{Error: "command queue full"})
	}
}

func decodeCommand(contentType string, body []byte) (control.Command, error) {
	if strings.HasPrefix(contentType, "application/json") {
		var req commandRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return control.Command{}, fmt.Errorf("decode json: %w", err)
		}
		if req.RPM == nil {
			return control.Command{}, errors.New("missing rpm")
		}
		if req.Seconds != nil {
			return control.SetTargetWithDuration(*req.RPM, *req.Seconds), nil
		}
		return control.SetTarget(*req.RPM), nil
	}
	return link.Decode(string(body))
}

func writeCommandResponse(w http.ResponseWriter, code int, resp commandResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(resp)
}
