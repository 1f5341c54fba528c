package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nidhogg/taskweave/internal/provider"
	"github.com/nidhogg/taskweave/internal/runner"
	"github.com/nidhogg/taskweave/internal/workflow"
	"go.uber.org/zap"
)

// Handler holds dependencies for HTTP handlers. The HTTP surface is a
// host convenience over the orchestration library; the core itself has
// no wire protocol.
type Handler struct {
	manager  *runner.Manager
	provider *provider.Router
	logger   *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(manager *runner.Manager, providerRouter *provider.Router, logger *zap.Logger) *Handler {
	return &Handler{
		manager:  manager,
		provider: providerRouter,
		logger:   logger,
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)
		r.Get("/providers", h.listProviders)
		r.Get("/providers/{id}/models", h.listProviderModels)
		r.Post("/runs", h.startRun)
		r.Get("/runs", h.listRuns)
		r.Get("/runs/{id}", h.getRun)
		r.Get("/runs/{id}/events", h.getRunEvents)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	h.respond(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "taskweave",
	})
}

// healthCheckTimeout bounds each provider probe so one stalled backend
// cannot hold the providers listing.
const healthCheckTimeout = 5 * time.Second

func (h *Handler) listProviders(w http.ResponseWriter, r *http.Request) {
	type providerInfo struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Healthy bool   `json:"healthy"`
	}
	var infos []providerInfo
	for _, p := range h.provider.ListProviders() {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := p.HealthCheck(ctx)
		cancel()
		if err != nil {
			h.logger.Warn("provider health check failed",
				zap.String("provider", p.ID()), zap.Error(err))
		}
		infos = append(infos, providerInfo{ID: p.ID(), Name: p.Name(), Healthy: err == nil})
	}
	h.respond(w, http.StatusOK, infos)
}

func (h *Handler) listProviderModels(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, ok := h.provider.GetProvider(id)
	if !ok {
		h.respondError(w, http.StatusNotFound, "provider not found")
		return
	}
	models, err := p.ListModels(r.Context())
	if err != nil {
		h.logger.Error("list models failed", zap.String("provider", id), zap.Error(err))
		h.respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	h.respond(w, http.StatusOK, models)
}

// startRunRequest is the payload for launching a workflow run.
type startRunRequest struct {
	Task       string           `json:"task"`
	KnownFiles []string         `json:"known_files,omitempty"`
	Options    workflow.Options `json:"options,omitempty"`
}

func (h *Handler) startRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Task == "" {
		h.respondError(w, http.StatusBadRequest, "task is required")
		return
	}

	id, err := h.manager.Start(req.Task, req.KnownFiles, req.Options)
	if err != nil {
		h.logger.Error("start run failed", zap.Error(err))
		h.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.respond(w, http.StatusAccepted, map[string]string{"id": id})
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	h.respond(w, http.StatusOK, h.manager.List())
}

func (h *Handler) getRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, ok := h.manager.Get(id)
	if !ok {
		h.respondError(w, http.StatusNotFound, "run not found")
		return
	}
	h.respond(w, http.StatusOK, run)
}

func (h *Handler) getRunEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	events, ok := h.manager.Events(id)
	if !ok {
		h.respondError(w, http.StatusNotFound, "run not found")
		return
	}
	if events == nil {
		events = []workflow.ProgressUpdate{}
	}
	h.respond(w, http.StatusOK, events)
}

func (h *Handler) respond(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("encode response", zap.Error(err))
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, msg string) {
	h.respond(w, status, map[string]string{"error": msg})
}
