package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"proctord/internal/health"
	"proctord/internal/ledger"
	"proctord/internal/metrics"
	"proctord/internal/session"
)

// apiServer is the loopback HTTP surface consumed by the presentation
// layer and by proctorctl. It never listens on a public interface.
type apiServer struct {
	*http.Server

	controller *session.Controller
	store      *ledger.Store
	logger     *slog.Logger
}

func newAPIServer(addr string, controller *session.Controller, store *ledger.Store,
	checker *health.Checker, logger *slog.Logger) *apiServer {
	s := &apiServer{
		controller: controller,
		store:      store,
		logger:     logger.With("component", "api"),
	}

	registry := metrics.NewRegistry("proctord")
	registry.RegisterGauge("violation_count", "Accepted violations this session", func() float64 {
		return float64(controller.View().ViolationCount)
	})
	registry.RegisterGauge("time_remaining_seconds", "Exam time left", func() float64 {
		return controller.View().TimeRemaining.Seconds()
	})
	registry.RegisterGauge("fullscreen", "1 while the exam surface is fullscreen", func() float64 {
		if controller.View().IsFullscreen {
			return 1
		}
		return 0
	})
	registry.RegisterGauge("warning_visible", "1 while a warning awaits acknowledgment", func() float64 {
		if controller.View().WarningVisible {
			return 1
		}
		return 0
	})

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", registry.Handler())
	mux.Handle("GET /livez", checker.LivenessHandler())
	mux.Handle("GET /readyz", checker.ReadinessHandler())
	mux.Handle("GET /healthz", checker.HealthHandler())
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /violations", s.handleViolations)
	mux.HandleFunc("POST /acknowledge", s.handleAcknowledge)
	mux.HandleFunc("POST /fullscreen/manual", s.handleManualFullscreen)
	mux.HandleFunc("POST /end", s.handleEnd)
	mux.HandleFunc("POST /force-exit", s.handleForceExit)

	s.Server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.controller.View())
}

func (s *apiServer) handleViolations(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusOK, s.controller.View().ViolationHistory)
		return
	}
	stored, err := s.store.Violations(s.controller.SessionID())
	if err != nil {
		s.logger.Error("reading audit store", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, stored)
}

func (s *apiServer) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	s.command(w, s.controller.AcknowledgeWarning())
}

func (s *apiServer) handleManualFullscreen(w http.ResponseWriter, r *http.Request) {
	s.command(w, s.controller.RequestFullscreenManually())
}

func (s *apiServer) handleEnd(w http.ResponseWriter, r *http.Request) {
	s.command(w, s.controller.End())
}

func (s *apiServer) handleForceExit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Reason == "" {
		writeError(w, http.StatusBadRequest, errors.New("reason is required"))
		return
	}
	s.command(w, s.controller.ForceExit(req.Reason))
}

func (s *apiServer) command(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"result": "accepted"})
	case errors.Is(err, session.ErrNotRunning):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
