package api

import (
	"net/http"

	"vodhub/handlers"

	"github.com/gorilla/mux"
)

// corsMiddleware handles CORS for API routes
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleOptions handles OPTIONS requests for CORS preflight
func handleOptions(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// Register mounts API endpoints onto the provided router.
func Register(
	r *mux.Router,
	vodHandler *handlers.VodHandler,
	configHandler *handlers.ConfigHandler,
	cacheHandler *handlers.CacheHandler,
	modulesHandler *handlers.ModulesHandler,
	settingsHandler *handlers.SettingsHandler,
) {
	api := r.PathPrefix("/api").Subrouter()
	api.Use(corsMiddleware)

	// Content operations
	api.HandleFunc("/vod/home", vodHandler.Home).Methods(http.MethodGet)
	api.HandleFunc("/vod/home", handleOptions).Methods(http.MethodOptions)
	api.HandleFunc("/vod/category", vodHandler.Category).Methods(http.MethodGet)
	api.HandleFunc("/vod/category", handleOptions).Methods(http.MethodOptions)
	api.HandleFunc("/vod/detail", vodHandler.Detail).Methods(http.MethodGet)
	api.HandleFunc("/vod/detail", handleOptions).Methods(http.MethodOptions)
	api.HandleFunc("/vod/search", vodHandler.Search).Methods(http.MethodGet)
	api.HandleFunc("/vod/search", handleOptions).Methods(http.MethodOptions)
	api.HandleFunc("/vod/play", vodHandler.Play).Methods(http.MethodGet)
	api.HandleFunc("/vod/play", handleOptions).Methods(http.MethodOptions)

	// Source configuration
	api.HandleFunc("/vod/config", configHandler.Get).Methods(http.MethodGet)
	api.HandleFunc("/vod/config", handleOptions).Methods(http.MethodOptions)
	api.HandleFunc("/vod/config/refresh", configHandler.Refresh).Methods(http.MethodPost)
	api.HandleFunc("/vod/config/refresh", handleOptions).Methods(http.MethodOptions)

	// Cache maintenance
	api.HandleFunc("/cache/stats", cacheHandler.Stats).Methods(http.MethodGet)
	api.HandleFunc("/cache/stats", handleOptions).Methods(http.MethodOptions)
	api.HandleFunc("/cache/sweep", cacheHandler.Sweep).Methods(http.MethodPost)
	api.HandleFunc("/cache/sweep", handleOptions).Methods(http.MethodOptions)
	api.HandleFunc("/cache/clear", cacheHandler.Clear).Methods(http.MethodPost)
	api.HandleFunc("/cache/clear", handleOptions).Methods(http.MethodOptions)

	// Module registry
	api.HandleFunc("/modules/{key}", modulesHandler.Get).Methods(http.MethodGet)
	api.HandleFunc("/modules/{key}", modulesHandler.Unload).Methods(http.MethodDelete)
	api.HandleFunc("/modules/{key}", handleOptions).Methods(http.MethodOptions)
	api.HandleFunc("/modules", modulesHandler.Clear).Methods(http.MethodDelete)
	api.HandleFunc("/modules", handleOptions).Methods(http.MethodOptions)

	// Settings
	api.HandleFunc("/settings", settingsHandler.GetSettings).Methods(http.MethodGet)
	api.HandleFunc("/settings", settingsHandler.PutSettings).Methods(http.MethodPut)
	api.HandleFunc("/settings", handleOptions).Methods(http.MethodOptions)

	// Health endpoint (public)
	api.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods(http.MethodGet)
}
