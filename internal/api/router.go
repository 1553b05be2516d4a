package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/betterseqta/settings-go/internal/auth"
	"github.com/betterseqta/settings-go/internal/models"
)

// NewRouter creates and returns the main HTTP router. authSvc and backups may
// be nil to disable authentication and the backup routes.
func NewRouter(store SettingsStore, authSvc *auth.Service, bus EventBus, backups Backups, info Info) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(corsMiddleware)
	r.Use(middleware.CleanPath)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, models.ErrNotFound("no route for "+r.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, &models.AppError{
			Code:    "METHOD_NOT_ALLOWED",
			Message: r.Method + " not allowed on " + r.URL.Path,
		})
	})

	h := &Handlers{store: store, events: bus, backups: backups, info: info}

	// Status is public so discovery clients can check the daemon.
	r.Get("/api/status", h.getStatus)

	r.Group(func(r chi.Router) {
		if authSvc != nil {
			r.Use(authSvc.Middleware)
		}

		r.Get("/api/settings", h.getSettings)
		r.Patch("/api/settings", h.patchSettings)
		r.Post("/api/settings/reset", h.resetSettings)
		r.Get("/api/settings/{key}", h.getSetting)
		r.Put("/api/settings/{key}", h.putSetting)
		r.Delete("/api/settings/{key}", h.deleteSetting)

		if backups != nil {
			r.Get("/api/backups", h.listBackups)
			r.Post("/api/backups", h.createBackup)
		}

		// SSE
		r.Get("/api/subscribe", h.sseEvents)
	})

	return r
}

// corsMiddleware adds permissive CORS headers so browser extensions can reach the daemon.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, api-key")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
