package handlers

import (
	"encoding/json"
	"net/http"

	"vodhub/services/cache"
)

// CacheHandler exposes cache counters and maintenance operations.
type CacheHandler struct {
	Store *cache.Store
}

func NewCacheHandler(store *cache.Store) *CacheHandler {
	return &CacheHandler{Store: store}
}

func (h *CacheHandler) Stats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.Store.Stats())
}

func (h *CacheHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	removed := h.Store.Sweep()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"removed": removed})
}

func (h *CacheHandler) Clear(w http.ResponseWriter, r *http.Request) {
	h.Store.Clear()
	w.WriteHeader(http.StatusNoContent)
}
