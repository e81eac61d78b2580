package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"device-health-alerts/internal/config"
	"device-health-alerts/internal/service"
)

// RunTrigger starts one evaluation pass.
type RunTrigger interface {
	RunPass(ctx context.Context) (*service.RunSummary, error)
}

// Server exposes the evaluation engine to the external scheduler. The
// only mutating route is the run trigger, guarded by the cron token.
type Server struct {
	trigger RunTrigger
	token   string
	logger  zerolog.Logger
}

// New constructs the HTTP surface.
func New(trigger RunTrigger, cfg config.ServerConfig, logger zerolog.Logger) *Server {
	return &Server{
		trigger: trigger,
		token:   cfg.CronToken,
		logger:  logger.With().Str("component", "server").Logger(),
	}
}

// Handler builds the route tree with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/runs", s.handleRun)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	return recovery(s.logger, logging(s.logger, mux))
}

// handleRun triggers one evaluation pass. Responses: 200 for a completed
// pass (device-level failures included in the summary), 401 for a bad
// credential, 500 only when the device list could not be fetched.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.authorized(r) {
		s.writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	summary, err := s.trigger.RunPass(r.Context())
	if err != nil {
		if errors.Is(err, service.ErrDeviceList) {
			s.logger.Error().Err(err).Msg("evaluation pass could not start")
			s.writeError(w, http.StatusInternalServerError, "device list unavailable")
			return
		}
		s.logger.Error().Err(err).Msg("evaluation pass failed")
		s.writeError(w, http.StatusInternalServerError, "evaluation failed")
		return
	}

	s.writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// authorized checks the trusted-scheduler credential. End users never
// reach this surface.
func (s *Server) authorized(r *http.Request) bool {
	if s.token == "" {
		return false
	}
	header := r.Header.Get("Authorization")
	presented, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(s.token)) == 1
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error().Err(err).Msg("write response failed")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
