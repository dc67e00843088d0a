package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vibepie/internal/hub"
	"vibepie/internal/presets"
	"vibepie/internal/websocket"
	"vibepie/pkg/interfaces"
	"vibepie/pkg/types"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// Orchestrator is the slice of the hub the HTTP layer needs
type Orchestrator interface {
	Snapshot() hub.StateView
	SwitchPreset(index int) (presets.Preset, error)
	History(ctx context.Context, sessionID string, limit int) ([]*types.GenerationRecord, error)
	Health(ctx context.Context) error
	Stats() websocket.RegistryStats
}

// ARCHITECTURAL DISCOVERY: HTTP layer is a thin shell over the hub, no
// orchestration logic lives here
type Server struct {
	orchestrator Orchestrator
	wsHandler    http.Handler
	router       *http.ServeMux
	started      time.Time
}

// NewServer wires the routes. wsHandler serves /ws and may be nil in tests.
func NewServer(orchestrator Orchestrator, wsHandler http.Handler) *Server {
	s := &Server{
		orchestrator: orchestrator,
		wsHandler:    wsHandler,
		router:       http.NewServeMux(),
		started:      time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Handle("/api/state", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleState))))
	s.router.Handle("/api/pattern/", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handlePattern))))
	s.router.Handle("/api/history", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleHistory))))
	s.router.Handle("/health", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.healthCheck))))
	s.router.Handle("/metrics", promhttp.Handler())
	if s.wsHandler != nil {
		s.router.Handle("/ws", s.wsHandler)
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type PatternResponse struct {
	OK      bool   `json:"ok"`
	Index   int    `json:"index"`
	Pattern string `json:"pattern"`
}

type HistoryResponse struct {
	Generations []*types.GenerationRecord `json:"generations"`
}

type HealthResponse struct {
	Status      string                  `json:"status"`
	Timestamp   time.Time               `json:"timestamp"`
	Hub         string                  `json:"hub"`
	History     string                  `json:"history"`
	Connections websocket.RegistryStats `json:"connections"`
	System      map[string]interface{}  `json:"system"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// GET /api/state
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.sendJSON(w, http.StatusOK, s.orchestrator.Snapshot())
}

// POST /api/pattern/{index} switches the live code to a preset
func (s *Server) handlePattern(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	raw := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/pattern/"), "/")
	index, err := strconv.Atoi(raw)
	if err != nil {
		s.sendError(w, "Invalid pattern index", http.StatusBadRequest)
		return
	}

	preset, err := s.orchestrator.SwitchPreset(index)
	if err != nil {
		switch {
		case errors.Is(err, presets.ErrIndexOutOfRange), errors.Is(err, presets.ErrNoPresets), errors.Is(err, hub.ErrNoPresets):
			s.sendError(w, "Invalid pattern index", http.StatusBadRequest)
		default:
			s.sendError(w, "Failed to switch pattern", http.StatusInternalServerError)
		}
		return
	}
	s.sendJSON(w, http.StatusOK, PatternResponse{OK: true, Index: index, Pattern: preset.Name})
}

// GET /api/history?limit=N&session=ID, newest first
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.sendError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	session := r.URL.Query().Get("session")
	if session != "" && !types.IsValidSessionID(session) {
		s.sendError(w, "Invalid session id", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	records, err := s.orchestrator.History(ctx, session, limit)
	if err != nil {
		if errors.Is(err, interfaces.ErrHistoryUnavailable) {
			s.sendError(w, "Generation history is disabled", http.StatusServiceUnavailable)
			return
		}
		s.sendError(w, "Failed to read history", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []*types.GenerationRecord{}
	}
	s.sendJSON(w, http.StatusOK, HistoryResponse{Generations: records})
}

// GET /health reports 503 when the hub or the history store is down
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:      "healthy",
		Timestamp:   time.Now(),
		Hub:         "running",
		History:     "healthy",
		Connections: s.orchestrator.Stats(),
		System: map[string]interface{}{
			"goroutines": runtime.NumGoroutine(),
			"uptime":     time.Since(s.started).Round(time.Second).String(),
		},
	}

	if err := s.orchestrator.Health(ctx); err != nil {
		response.Status = "unhealthy"
		if errors.Is(err, hub.ErrHubNotRunning) {
			response.Hub = "stopped"
		} else {
			response.History = "error: " + err.Error()
		}
	}

	code := http.StatusOK
	if response.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	s.sendJSON(w, code, response)
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v interface{}) {
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.sendJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// CORS is open: displays and phones load the API from other origins
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
