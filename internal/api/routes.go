package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/zoobzio/clockz"

	"fleetintel/internal/assistant"
	"fleetintel/internal/fleet"
	"fleetintel/internal/fleetctx"
	"fleetintel/internal/realtime"
	"fleetintel/internal/risk"
	"fleetintel/internal/storage"
)

// Deps are the collaborators the HTTP surface serves.
type Deps struct {
	Feed   *fleet.Feed
	Engine *assistant.Engine
	Hub    *realtime.Hub
	Events storage.EventLog
	Clock  clockz.Clock
	Log    zerolog.Logger
}

// AttachRoutes wires HTTP routes to handlers.
func AttachRoutes(r chi.Router, deps Deps) {
	if deps.Clock == nil {
		deps.Clock = clockz.RealClock
	}
	handler := &Handler{
		feed:     deps.Feed,
		engine:   deps.Engine,
		hub:      deps.Hub,
		events:   deps.Events,
		contexts: fleetctx.NewBuilder(deps.Clock),
		risks:    risk.NewEvaluator(deps.Clock),
		log:      deps.Log.With().Str("component", "api").Logger(),
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(api chi.Router) {
		api.Put("/snapshot", handler.PutSnapshot)
		api.Get("/snapshot", handler.GetSnapshot)
		api.Get("/context", handler.GetContext)
		api.Get("/risks", handler.GetRisks)
		api.Get("/insights", handler.GetInsights)

		api.Post("/sessions", handler.CreateSession)
		api.Route("/sessions/{sessionID}", func(sr chi.Router) {
			sr.Get("/", handler.GetSession)
			sr.Delete("/", handler.DeleteSession)
			sr.Post("/chat", handler.SendMessage)
			sr.Post("/quick/{action}", handler.RunQuickAction)
			sr.Post("/cancel", handler.Cancel)
			sr.Post("/briefing", handler.Briefing)
			sr.Get("/events", handler.ListSessionEvents)
		})

		api.Get("/quick-actions", handler.ListQuickActions)
		api.Get("/settings/model", handler.GetModel)
		api.Put("/settings/model", handler.SetModel)
		api.Get("/settings/models", handler.ListModels)
		api.Post("/settings/test-connection", handler.TestConnection)
	})

	r.Get("/ws/sessions/{sessionID}", handler.SessionWebsocket)
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
