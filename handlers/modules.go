package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"vodhub/services/module"
)

// ModulesHandler exposes the module registry for inspection and
// maintenance.
type ModulesHandler struct {
	Registry *module.Registry
}

func NewModulesHandler(registry *module.Registry) *ModulesHandler {
	return &ModulesHandler{Registry: registry}
}

func (h *ModulesHandler) Get(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	w.Header().Set("Content-Type", "application/json")
	rec, ok := h.Registry.Record(key)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "module not loaded"})
		return
	}
	json.NewEncoder(w).Encode(rec)
}

func (h *ModulesHandler) Unload(w http.ResponseWriter, r *http.Request) {
	h.Registry.Unload(mux.Vars(r)["key"])
	w.WriteHeader(http.StatusNoContent)
}

func (h *ModulesHandler) Clear(w http.ResponseWriter, r *http.Request) {
	h.Registry.Clear()
	w.WriteHeader(http.StatusNoContent)
}
