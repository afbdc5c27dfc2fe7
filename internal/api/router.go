package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/Alets-Nexfy/new-setter-wsp-sub001/internal/api/handlers"
	"github.com/Alets-Nexfy/new-setter-wsp-sub001/internal/api/middleware"
	"github.com/Alets-Nexfy/new-setter-wsp-sub001/internal/config"
	"github.com/Alets-Nexfy/new-setter-wsp-sub001/internal/metrics"
)

// NewRouter creates the HTTP router with all API routes.
func NewRouter(cfg *config.Config, h *handlers.Handlers, m *metrics.Metrics) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.TenantExtractor)
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(middleware.NewAPIKeyAuth().Handler)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Tenant-ID", "X-API-Key", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "X-Trace-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health & info
	r.Get("/health", healthHandler)
	r.Get("/version", versionHandler(cfg))
	r.Method(http.MethodGet, "/metrics", m.Handler())

	// Platform workers connect here and become the tenant's runtime.
	r.Get("/ws/{tenantID}", h.ConnectWorker)

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/workers", h.ListWorkers)
		r.Get("/workers/events", h.WorkerEvents)

		r.Route("/tenants/{tenantID}", func(r chi.Router) {
			r.Route("/worker", func(r chi.Router) {
				r.Post("/", h.StartWorker)
				r.Get("/", h.GetWorker)
				r.Delete("/", h.StopWorker)
			})
			r.Post("/nuke", h.NukeTenant)
			r.Post("/messages", h.InjectMessage)

			r.Route("/agents", func(r chi.Router) {
				r.Get("/", h.ListAgents)
				r.Post("/", h.CreateAgent)
				r.Route("/{agentID}", func(r chi.Router) {
					r.Get("/", h.GetAgent)
					r.Put("/", h.UpdateAgent)
					r.Delete("/", h.DeleteAgent)
				})
			})

			r.Route("/network", func(r chi.Router) {
				r.Get("/", h.GetNetwork)
				r.Put("/", h.PutNetwork)
				r.Delete("/", h.DeleteNetwork)
			})

			r.Route("/flows", func(r chi.Router) {
				r.Get("/", h.ListFlows)
				r.Put("/", h.PutFlow)
			})
			r.Route("/rules", func(r chi.Router) {
				r.Get("/", h.ListRules)
				r.Put("/", h.PutRule)
			})
			r.Route("/starters", func(r chi.Router) {
				r.Get("/", h.ListStarters)
				r.Put("/", h.PutStarter)
			})
			r.Delete("/automation", h.DeleteAutomation)

			r.Route("/conversations", func(r chi.Router) {
				r.Get("/", h.ListConversations)
				r.Route("/{conversationID}", func(r chi.Router) {
					r.Get("/", h.GetConversation)
					r.Get("/messages", h.ConversationMessages)
					r.Post("/activate", h.ActivateConversation)
					r.Post("/deactivate", h.DeactivateConversation)
					r.Post("/pause", h.PauseBot)
					r.Post("/resume", h.ResumeBot)
				})
			})

			r.Get("/activity", h.ListActivity)
		})
	})

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "setter-service",
	})
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"version": cfg.Version,
			"service": "setter-service",
		})
	}
}
