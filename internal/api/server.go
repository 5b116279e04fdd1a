// Package api exposes deskcast's HTTP surface: live settings, pipeline
// health and metrics, the MJPEG preview, and the websocket packet ingest on
// the receive side.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/deskcast/deskcast/internal/config"
	"github.com/deskcast/deskcast/internal/decode"
	"github.com/deskcast/deskcast/internal/logger"
	"github.com/deskcast/deskcast/internal/perf"
)

// Health describes the capture pipeline's current condition. DeviceLost is
// the host-visible signal that the capture session needs reconstruction.
type Health struct {
	Running       bool `json:"running"`
	FailureStreak int  `json:"failure_streak"`
	DeviceLost    bool `json:"device_lost"`
}

// Options wires the server to whichever pipeline components the running
// command actually has. Nil fields disable their routes.
type Options struct {
	Settings *config.Manager
	Preview  *Preview
	Decoder  *decode.Session
	Health   func() Health
}

// Server is the HTTP API server.
type Server struct {
	router   *mux.Router
	opts     Options
	upgrader websocket.Upgrader

	metricsMu sync.RWMutex
	metrics   *perf.Metrics
	metricsAt time.Time
}

// NewServer builds the router for the given components.
func NewServer(opts Options) *Server {
	s := &Server{
		router: mux.NewRouter(),
		opts:   opts,
		upgrader: websocket.Upgrader{
			// The ingest peer is a transport component, not a browser.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/settings", s.handleGetSettings).Methods("GET")
	api.HandleFunc("/settings", s.handleUpdateSettings).Methods("PUT")

	if s.opts.Decoder != nil {
		s.router.HandleFunc("/ws/ingest", s.handleIngest)
	}
	if s.opts.Preview != nil {
		s.router.Handle("/stream", s.opts.Preview)
	}
}

// Start serves HTTP on the given port. It blocks until the listener fails.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	logger.WithComponent("api").Info().Str("addr", addr).Msg("HTTP server listening")
	return http.ListenAndServe(addr, s.router)
}

// PublishMetrics stores the latest performance snapshot for /api/status.
// It has the perf.Listener signature, so it can be registered directly on a
// tracker.
func (s *Server) PublishMetrics(m perf.Metrics) {
	s.metricsMu.Lock()
	s.metrics = &m
	s.metricsAt = time.Now()
	s.metricsMu.Unlock()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	if s.opts.Health != nil {
		h := s.opts.Health()
		resp["capture"] = h
		if h.DeviceLost {
			resp["status"] = "degraded"
		}
	}
	writeJSON(w, resp)
}

type statusResponse struct {
	Metrics   *metricsPayload `json:"metrics,omitempty"`
	MetricsAt *time.Time      `json:"metrics_at,omitempty"`
	Capture   *Health         `json:"capture,omitempty"`
	Preview   *int            `json:"preview_clients,omitempty"`
}

type metricsPayload struct {
	Frames   uint64             `json:"frames"`
	FPS      float64            `json:"fps"`
	Elapsed  string             `json:"elapsed"`
	StageAvg map[string]float64 `json:"stage_avg_ms"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var resp statusResponse

	s.metricsMu.RLock()
	if s.metrics != nil {
		p := &metricsPayload{
			Frames:   s.metrics.Frames,
			FPS:      s.metrics.FPS,
			Elapsed:  s.metrics.Elapsed.String(),
			StageAvg: make(map[string]float64, len(s.metrics.StageAvg)),
		}
		for stage, avg := range s.metrics.StageAvg {
			p.StageAvg[stage.String()] = float64(avg.Microseconds()) / 1000.0
		}
		resp.Metrics = p
		at := s.metricsAt
		resp.MetricsAt = &at
	}
	s.metricsMu.RUnlock()

	if s.opts.Health != nil {
		h := s.opts.Health()
		resp.Capture = &h
	}
	if s.opts.Preview != nil {
		n := s.opts.Preview.ClientCount()
		resp.Preview = &n
	}
	writeJSON(w, resp)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	if s.opts.Settings == nil {
		http.Error(w, "settings unavailable", http.StatusNotFound)
		return
	}
	writeJSON(w, s.opts.Settings.Get())
}

type settingsUpdate struct {
	FPS     *int `json:"fps"`
	Quality *int `json:"quality"`
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	if s.opts.Settings == nil {
		http.Error(w, "settings unavailable", http.StatusNotFound)
		return
	}
	var upd settingsUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		http.Error(w, fmt.Sprintf("invalid settings payload: %v", err), http.StatusBadRequest)
		return
	}
	if upd.FPS != nil {
		s.opts.Settings.SetFPS(*upd.FPS)
	}
	if upd.Quality != nil {
		s.opts.Settings.SetQuality(*upd.Quality)
	}
	if err := s.opts.Settings.Save(); err != nil {
		logger.WithComponent("api").Warn().Err(err).Msg("persisting settings")
	}
	writeJSON(w, s.opts.Settings.Get())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithComponent("api").Warn().Err(err).Msg("writing response")
	}
}
