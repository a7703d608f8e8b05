package www

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/sessions"

	"guestcore/engine"
	"guestcore/store"
)

type Handlers struct {
	engine   *engine.Engine
	db       *store.DB
	sessions *sessions.CookieStore
}

// NewRouter builds the HTTP surface over the orchestration engine. db may be
// nil when running without persistence (zone admin then only updates memory).
func NewRouter(eng *engine.Engine, db *store.DB) http.Handler {
	sessionSecret := eng.AppConfig().Session.Secret
	if sessionSecret == "" {
		sessionSecret = "guestcore-dev-secret"
		log.Printf("www: session secret not configured, using dev default")
	}

	h := &Handlers{
		engine:   eng,
		db:       db,
		sessions: sessions.NewCookieStore([]byte(sessionSecret)),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	r.Get("/health", h.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/state", h.apiState)
		r.Post("/position", h.apiPosition)
		r.Post("/intents", h.apiSubmitIntent)
		r.Post("/cart", h.apiUpdateCart)
		r.Get("/zones", h.apiListZones)
		r.Get("/catalog", h.apiCatalog)
		r.Get("/alerts", h.apiAlerts)
		r.Get("/reservations", h.apiListReservations)
		r.Post("/reservations/{id}/cancel", h.apiCancelReservation)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Post("/login", h.handleLogin)
		r.Post("/logout", h.handleLogout)
		r.Group(func(r chi.Router) {
			r.Use(h.requireAdmin)
			r.Put("/zones/{id}", h.adminUpsertZone)
			r.Delete("/zones/{id}", h.adminDeleteZone)
			r.Get("/alert-log", h.adminAlertLog)
			r.Get("/reservation-journal", h.adminReservationJournal)
		})
	})

	return r
}

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := h.engine.State().Current()
	h.jsonOK(w, map[string]any{
		"status":  "ok",
		"version": snap.Version,
		"zones":   len(h.engine.Geo().Zones()),
	})
}

func (h *Handlers) jsonOK(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (h *Handlers) jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
