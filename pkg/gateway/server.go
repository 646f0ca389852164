// Package gateway exposes the narrow HTTP and WebSocket surface the chat
// frontend calls: session listing and deletion, message submission, and a
// per-session chat socket.
package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/selune-dev/selune/pkg/controller"
	"github.com/selune-dev/selune/pkg/directory"
	"github.com/selune-dev/selune/pkg/session"
)

// AuthHeader carries the shared secret on every request.
const AuthHeader = "X-Selune-Secret"

// Config holds server configuration.
type Config struct {
	Port         int
	SharedSecret string
	Controller   *controller.Controller
	Directory    *directory.Directory
	Logger       zerolog.Logger
}

// Server is the gateway HTTP server.
type Server struct {
	port         int
	sharedSecret string
	controller   *controller.Controller
	directory    *directory.Directory
	logger       zerolog.Logger
	server       *http.Server
	upgrader     websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*controller.Session
}

// NewServer creates a gateway server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.SharedSecret == "" {
		return nil, fmt.Errorf("shared secret is required")
	}
	if cfg.Controller == nil {
		return nil, fmt.Errorf("controller is required")
	}
	if cfg.Directory == nil {
		return nil, fmt.Errorf("directory is required")
	}

	return &Server{
		port:         cfg.Port,
		sharedSecret: cfg.SharedSecret,
		controller:   cfg.Controller,
		directory:    cfg.Directory,
		logger:       cfg.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		sessions: make(map[string]*controller.Session),
	}, nil
}

// Handler builds the route table. Exported so tests can drive the server
// through httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("/api/sessions", s.requireAuth(s.handleSessions))
	mux.HandleFunc("/api/sessions/", s.requireAuth(s.handleSession))
	mux.HandleFunc("/ws/chat", s.requireAuth(s.handleChatSocket))
	return mux
}

// Start begins serving. It does not block.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.port, err)
	}

	s.server = &http.Server{Handler: s.Handler()}
	s.logger.Info().Int("port", s.port).Msg("Starting gateway server")

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	s.logger.Info().Msg("Shutting down gateway server")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		secret := r.Header.Get(AuthHeader)
		if subtle.ConstantTimeCompare([]byte(secret), []byte(s.sharedSecret)) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

type sessionEntry struct {
	ID      string    `json:"id"`
	Title   string    `json:"title"`
	ModTime time.Time `json:"mod_time"`
	Turns   int       `json:"turns"`
}

type submitRequest struct {
	Text string `json:"text"`
}

type turnResponse struct {
	RequestID   string             `json:"request_id"`
	Role        string             `json:"role"`
	Content     string             `json:"content"`
	Citations   []session.Citation `json:"citations,omitempty"`
	Attachments []session.Artifact `json:"attachments,omitempty"`
}

// handleSessions serves GET /api/sessions.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	entries, err := s.directory.Entries(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list sessions")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list sessions"})
		return
	}

	out := make([]sessionEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, sessionEntry{ID: e.ID, Title: e.Title, ModTime: e.ModTime, Turns: e.Turns})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleSession serves /api/sessions/{id} and its subresources.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session id required"})
		return
	}

	switch {
	case action == "" && r.Method == http.MethodDelete:
		s.deleteSession(w, id)
	case action == "messages" && r.Method == http.MethodPost:
		s.submitMessage(w, r, id)
	case action == "reset" && r.Method == http.MethodPost:
		s.resetSession(w, r, id)
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	}
}

func (s *Server) deleteSession(w http.ResponseWriter, id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()

	if err := s.directory.Delete(id); err != nil {
		s.logger.Error().Err(err).Str("session_id", id).Msg("Failed to delete session")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to delete session"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) submitMessage(w http.ResponseWriter, r *http.Request, id string) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "text is required"})
		return
	}

	sess, err := s.session(id)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	turn, err := s.controller.Submit(r.Context(), sess, req.Text)
	if err != nil {
		s.logger.Error().Err(err).Str("session_id", id).Msg("Failed to persist exchange")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to persist exchange"})
		return
	}

	writeJSON(w, http.StatusOK, turnResponse{
		RequestID:   newRequestID(),
		Role:        turn.Role,
		Content:     turn.Content,
		Citations:   turn.Citations,
		Attachments: turn.Attachments,
	})
}

func (s *Server) resetSession(w http.ResponseWriter, r *http.Request, id string) {
	sess, err := s.session(id)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	s.controller.Reset(r.Context(), sess)
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// session returns the live session for id, loading it on first use so
// REST and WebSocket submissions share conversation state.
func (s *Server) session(id string) (*controller.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[id]; ok {
		return sess, nil
	}
	sess, err := s.controller.StartOrResume(id)
	if err != nil {
		return nil, err
	}
	s.sessions[id] = sess
	return sess, nil
}

// handleChatSocket upgrades to a WebSocket carrying one reply per submitted
// message.
func (s *Server) handleChatSocket(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("session_id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "session_id is required"})
		return
	}

	sess, err := s.session(id)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	s.logger.Debug().Str("session_id", id).Msg("Chat socket opened")

	for {
		var req submitRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn().Err(err).Str("session_id", id).Msg("Chat socket read error")
			}
			return
		}
		if strings.TrimSpace(req.Text) == "" {
			continue
		}

		turn, err := s.controller.Submit(r.Context(), sess, req.Text)
		if err != nil {
			s.logger.Error().Err(err).Str("session_id", id).Msg("Failed to persist exchange")
			_ = conn.WriteJSON(map[string]string{"error": "failed to persist exchange"})
			continue
		}

		if err := conn.WriteJSON(turnResponse{
			RequestID:   newRequestID(),
			Role:        turn.Role,
			Content:     turn.Content,
			Citations:   turn.Citations,
			Attachments: turn.Attachments,
		}); err != nil {
			return
		}
	}
}

func newRequestID() string {
	id, err := gonanoid.New()
	if err != nil {
		return "req_unknown"
	}
	return id
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
