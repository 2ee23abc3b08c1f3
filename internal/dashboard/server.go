package dashboard

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/crowdvision/people-counter/internal/auth"
	"github.com/crowdvision/people-counter/internal/counter"
	"github.com/crowdvision/people-counter/internal/detect"
	"github.com/crowdvision/people-counter/internal/logger"
	"github.com/crowdvision/people-counter/internal/metrics"
	"github.com/crowdvision/people-counter/internal/pipeline"
)

// ModelLoader builds a detector from a registry entry.
type ModelLoader func(detect.ModelRef) (detect.Detector, error)

// Config holds dashboard server settings.
type Config struct {
	SnapshotDir    string
	StatusInterval time.Duration
}

// DefaultConfig returns sensible dashboard defaults.
func DefaultConfig() Config {
	return Config{
		SnapshotDir:    "./snapshots",
		StatusInterval: time.Second,
	}
}

// Server serves the dashboard endpoints.
type Server struct {
	cfg         Config
	gate        *auth.Gate
	pipe        *pipeline.Pipeline
	registry    *detect.Registry
	loader      ModelLoader
	frames      *FrameBroadcaster
	status      *StatusBroadcaster
	snapshotter *Snapshotter
	metrics     *metrics.Metrics
	placeholder []byte
}

// NewServer returns a configured dashboard server. The frame broadcaster is
// shared with the pipeline, which publishes annotated frames into it.
func NewServer(cfg Config, gate *auth.Gate, pipe *pipeline.Pipeline, registry *detect.Registry, loader ModelLoader, frames *FrameBroadcaster, m *metrics.Metrics) *Server {
	if cfg.StatusInterval == 0 {
		cfg.StatusInterval = DefaultConfig().StatusInterval
	}
	if cfg.SnapshotDir == "" {
		cfg.SnapshotDir = DefaultConfig().SnapshotDir
	}

	status := NewStatusBroadcaster(pipe.Status, cfg.StatusInterval)
	status.Start()

	return &Server{
		cfg:         cfg,
		gate:        gate,
		pipe:        pipe,
		registry:    registry,
		loader:      loader,
		frames:      frames,
		status:      status,
		snapshotter: NewSnapshotter(cfg.SnapshotDir),
		metrics:     m,
		placeholder: blankJPEG(640, 480),
	}
}

// Close stops the background broadcasters.
func (s *Server) Close() {
	s.status.Stop()
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/api/login", s.handleLogin)

	protected := func(h http.HandlerFunc) http.Handler {
		return s.gate.Middleware(h)
	}
	mux.Handle("/api/logout", protected(s.handleLogout))
	mux.Handle("/stream", protected(s.handleStream))
	mux.Handle("/api/status", protected(s.handleStatus))
	mux.Handle("/api/status/stream", protected(s.handleStatusStream))
	mux.Handle("/api/models", protected(s.handleModels))
	mux.Handle("/api/models/select", protected(s.handleModelSelect))
	mux.Handle("/api/mode", protected(s.handleMode))
	mux.Handle("/api/counts/reset", protected(s.handleCountsReset))
	mux.Handle("/api/snapshot", protected(s.handleSnapshot))
	mux.Handle("/api/snapshot/status", protected(s.handleSnapshotStatus))

	return mux
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONWithStatus(w, map[string]any{"error": "method not allowed"}, http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "invalid request body"}, http.StatusBadRequest)
		return
	}

	token, err := s.gate.Login(req.Username, req.Password)
	if err != nil {
		var authErr *auth.AuthError
		if errors.As(err, &authErr) {
			writeJSONWithStatus(w, map[string]any{"error": authErr.Reason}, http.StatusUnauthorized)
			return
		}
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, map[string]any{"status": "ok"})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(auth.SessionCookie); err == nil {
		s.gate.Logout(cookie.Value)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	writeJSON(w, map[string]any{"status": "ok"})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id, frameCh := s.frames.Subscribe()
	defer s.frames.Unsubscribe(id)

	// Seed the client with the last frame, or a placeholder when nothing has
	// been processed yet.
	initial, ok := s.pipe.LatestJPEG()
	if !ok {
		initial = s.placeholder
	}
	streamMJPEG(w, r, initial, frameCh)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.pipe.Status())
}

func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	id, ch := s.status.Subscribe()
	defer s.status.Unsubscribe(id)
	streamSSE(w, r, ch)
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	refs := s.registry.List()
	names := make([]string, 0, len(refs))
	for _, ref := range refs {
		names = append(names, ref.Name)
	}
	writeJSON(w, map[string]any{
		"models":  names,
		"current": s.pipe.CurrentModel(),
	})
}

func (s *Server) handleModelSelect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONWithStatus(w, map[string]any{"error": "method not allowed"}, http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeJSONWithStatus(w, map[string]any{"error": "model name required"}, http.StatusBadRequest)
		return
	}

	ref, ok := s.registry.Lookup(req.Name)
	if !ok {
		// Pick up weights dropped into the directory since the last scan.
		_, _ = s.registry.Scan()
		if ref, ok = s.registry.Lookup(req.Name); !ok {
			writeJSONWithStatus(w, map[string]any{"error": fmt.Sprintf("unknown model %q", req.Name)}, http.StatusNotFound)
			return
		}
	}

	det, err := s.loader(ref)
	if err != nil {
		// The previously selected model stays active on failure.
		logger.Warn("Dashboard", "Model %q failed to load: %v", ref.Name, err)
		var loadErr *detect.LoadError
		if errors.As(err, &loadErr) {
			writeJSONWithStatus(w, map[string]any{
				"error":   loadErr.Error(),
				"current": s.pipe.CurrentModel(),
			}, http.StatusUnprocessableEntity)
			return
		}
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusInternalServerError)
		return
	}

	s.pipe.SetDetector(ref.Name, det)
	logger.Info("Dashboard", "Model switched to %q", ref.Name)
	writeJSON(w, map[string]any{"status": "ok", "model": ref.Name})
}

func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONWithStatus(w, map[string]any{"error": "method not allowed"}, http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Mode  string `json:"mode"`
		Lanes int    `json:"lanes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "invalid request body"}, http.StatusBadRequest)
		return
	}

	mode, err := counter.ParseMode(req.Mode)
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
		return
	}
	if mode == counter.ModeLane && req.Lanes < 1 {
		writeJSONWithStatus(w, map[string]any{"error": "lanes must be at least 1"}, http.StatusBadRequest)
		return
	}

	s.pipe.SetMode(mode, req.Lanes)
	logger.Info("Dashboard", "Counting mode set to %s (lanes=%d)", mode, req.Lanes)
	writeJSON(w, map[string]any{"status": "ok", "mode": string(mode), "lanes": req.Lanes})
}

func (s *Server) handleCountsReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONWithStatus(w, map[string]any{"error": "method not allowed"}, http.StatusMethodNotAllowed)
		return
	}

	s.pipe.ResetCounts()
	writeJSON(w, map[string]any{"status": "ok"})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONWithStatus(w, map[string]any{"error": "method not allowed"}, http.StatusMethodNotAllowed)
		return
	}

	jpg, ok := s.pipe.LatestJPEG()
	if !ok {
		writeJSONWithStatus(w, map[string]any{"error": "no frame available"}, http.StatusConflict)
		return
	}

	filename, err := s.snapshotter.Save(jpg)
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusInternalServerError)
		return
	}
	if s.metrics != nil {
		s.metrics.SnapshotsSaved.Add(1)
	}
	writeJSON(w, map[string]any{"status": "ok", "filename": filename})
}

func (s *Server) handleSnapshotStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.snapshotter.Status())
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = w.Write([]byte(`{"error":"response encoding failed"}`))
	}
}
