// SPDX-License-Identifier: MIT

// Package api provides the HTTP and websocket control surface of the sync
// controller.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ManuGH/loopsync/internal/engine"
	"github.com/ManuGH/loopsync/internal/journal"
	xlog "github.com/ManuGH/loopsync/internal/log"
)

// Server translates external commands into controller operations and
// publishes status snapshots.
type Server struct {
	ctrl       *engine.Controller
	journal    *journal.Journal // optional; nil disables /api/history
	configPath string
	logger     zerolog.Logger
}

// New creates the control surface around a controller. configPath is where
// settings updates are persisted.
func New(ctrl *engine.Controller, jrnl *journal.Journal, configPath string) *Server {
	return &Server{
		ctrl:       ctrl,
		journal:    jrnl,
		configPath: configPath,
		logger:     xlog.WithComponent("api"),
	}
}

// Router mounts every endpoint.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.logRequests)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/config", s.handleGetConfig)
		r.Post("/config", s.handleUpdateConfig)
		r.Post("/settings", s.handleUpdateConfig) // alias
		r.Post("/mode", s.handleMode)
		r.Post("/preload", s.handlePreload)
		r.Post("/start", s.handleStart)
		r.Post("/pause", s.handlePause)
		r.Post("/resync", s.handleResync)
		r.Post("/reset-clock", s.handleResetClock)
		r.Get("/history", s.handleHistory)
	})
	r.Get("/ws", s.handleWS)
	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}
