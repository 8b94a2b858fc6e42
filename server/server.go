// Package server exposes the session controller over HTTP and streams its events to
// websocket subscribers.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/bosley/minutes/engine"
	"github.com/bosley/minutes/scribe"
	"github.com/bosley/minutes/session"
	"github.com/bosley/minutes/store"
)

// Controller is the part of session.Controller the server drives.
type Controller interface {
	Start(ctx context.Context, title, source string) (string, error)
	Stop(ctx context.Context) (string, error)
	Cancel(ctx context.Context) error
	Status() session.Snapshot
	Transcript() []scribe.TranscriptSegment
	Resummarize(ctx context.Context, id string) (engine.Summary, error)
}

const drainTimeout = 2 * time.Minute

type Config struct {
	Addr string

	// Certificate files for TLS. Plain HTTP when empty.
	CertFile string
	KeyFile  string

	// Bearer token required on control endpoints when set
	Token string
}

type Server struct {
	config   Config
	ctrl     Controller
	store    store.Store
	hub      *Hub
	upgrader websocket.Upgrader
	server   *http.Server
}

func New(cfg Config, ctrl Controller, st store.Store, hub *Hub) *Server {
	s := &Server{
		config: cfg,
		ctrl:   ctrl,
		store:  st,
		hub:    hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: sameHostOrigin,
		},
	}
	s.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/transcript", s.handleTranscript).Methods("GET")
	api.HandleFunc("/meetings", s.handleListMeetings).Methods("GET")
	api.HandleFunc("/meetings/{id}", s.handleGetMeeting).Methods("GET")

	control := api.PathPrefix("/meeting").Subrouter()
	control.Use(s.requireToken)
	control.HandleFunc("/start", s.handleStart).Methods("POST")
	control.HandleFunc("/stop", s.handleStop).Methods("POST")
	control.HandleFunc("/cancel", s.handleCancel).Methods("POST")
	control.HandleFunc("/{id}/summarize", s.handleSummarize).Methods("POST")

	router.HandleFunc("/ws", s.handleWebSocket)
	return router
}

// Run serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", s.config.Addr, "tls", s.config.CertFile != "")
		var err error
		if s.config.CertFile != "" {
			err = s.server.ListenAndServeTLS(s.config.CertFile, s.config.KeyFile)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err, ok := <-errc:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.Token != "" {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(got), []byte(s.config.Token)) != 1 {
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	segs := s.ctrl.Transcript()
	if segs == nil {
		segs = []scribe.TranscriptSegment{}
	}
	writeJSON(w, http.StatusOK, segs)
}

func (s *Server) handleListMeetings(w http.ResponseWriter, r *http.Request) {
	meetings, err := s.store.List(r.Context())
	if err != nil {
		slog.Error("Failed to list meetings", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if meetings == nil {
		meetings = []store.Meeting{}
	}
	writeJSON(w, http.StatusOK, meetings)
}

func (s *Server) handleGetMeeting(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	m, err := s.store.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Meeting not found")
		return
	}
	if err != nil {
		slog.Error("Failed to load meeting", "error", err, "meetingID", id)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

type startRequest struct {
	Title  string `json:"title"`
	Source string `json:"source"`
}

type meetingResponse struct {
	MeetingID string `json:"meetingId"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if req.Source == "" {
		req.Source = "api"
	}

	id, err := s.ctrl.Start(r.Context(), req.Title, req.Source)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, meetingResponse{MeetingID: id})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	// a client hanging up must not cut the drain short
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), drainTimeout)
	defer cancel()

	id, err := s.ctrl.Stop(ctx)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meetingResponse{MeetingID: id})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Cancel(r.Context()); err != nil {
		writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSummarize(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	summary, err := s.ctrl.Resummarize(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "Meeting not found")
	case errors.Is(err, engine.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case err != nil:
		slog.Error("Failed to summarize meeting", "error", err, "meetingID", id)
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeJSON(w, http.StatusOK, summary)
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	c := &wsConnection{
		id:   uuid.New(),
		conn: conn,
		send: make(chan []byte, 256),
		hub:  s.hub,
	}

	// new subscribers get the current state first
	snap := s.ctrl.Status()
	if data, err := json.Marshal(session.Event{
		Kind:      session.EventStatusChanged,
		MeetingID: snap.MeetingID,
		Status:    snap.Status,
		At:        time.Now(),
	}); err == nil {
		c.send <- data
	}

	s.hub.add(c)
	slog.Debug("WebSocket subscriber connected", "connectionID", c.id, "remoteAddr", r.RemoteAddr)

	go c.writePump()
	go c.readPump()
}

func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrAlreadyActive), errors.Is(err, session.ErrNotRecording):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, session.ErrCancelled):
		writeError(w, http.StatusGone, err.Error())
	case errors.Is(err, session.ErrStartFailed), errors.Is(err, session.ErrModelLoadFailed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		slog.Error("Session request failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// sameHostOrigin accepts non-browser clients and browsers on the serving host.
func sameHostOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	origin = strings.TrimPrefix(strings.TrimPrefix(origin, "https://"), "http://")
	return strings.EqualFold(origin, r.Host)
}
