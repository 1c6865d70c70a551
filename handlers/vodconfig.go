package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"vodhub/models"
	"vodhub/services/vodconfig"
)

// ConfigHandler exposes the resolved source configuration.
type ConfigHandler struct {
	Resolver *vodconfig.Resolver
}

func NewConfigHandler(resolver *vodconfig.Resolver) *ConfigHandler {
	return &ConfigHandler{Resolver: resolver}
}

// configView is the wire shape of the active configuration.
type configView struct {
	URL       string         `json:"url"`
	LoadedAt  time.Time      `json:"loadedAt"`
	Sites     []models.Site  `json:"sites"`
	Parses    []models.Parse `json:"parses,omitempty"`
	Depots    []models.Depot `json:"depots,omitempty"`
	Spider    string         `json:"spider,omitempty"`
	Wallpaper string         `json:"wallpaper,omitempty"`
	Notice    string         `json:"notice,omitempty"`
}

func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	cfg := h.Resolver.Current()
	w.Header().Set("Content-Type", "application/json")
	if cfg == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"error": "config not loaded"})
		return
	}
	json.NewEncoder(w).Encode(configView{
		URL:       cfg.URL,
		LoadedAt:  cfg.LoadedAt,
		Sites:     cfg.Sites,
		Parses:    cfg.Parses,
		Depots:    cfg.Depots,
		Spider:    cfg.Spider,
		Wallpaper: cfg.Wallpaper,
		Notice:    cfg.Notice,
	})
}

// Refresh re-runs the fallback chain and publishes the outcome.
func (h *ConfigHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.Resolver.Load(r.Context())
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	json.NewEncoder(w).Encode(map[string]any{
		"loadedAt": cfg.LoadedAt,
		"sites":    len(cfg.Sites),
		"parses":   len(cfg.Parses),
		"depots":   len(cfg.Depots),
	})
}
