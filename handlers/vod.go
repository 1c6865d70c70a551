package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"vodhub/services/spider"
)

// VodHandler serves the content operations: home, category, detail,
// search, play.
type VodHandler struct {
	Invoker      *spider.Invoker
	Orchestrator *spider.Orchestrator
}

func NewVodHandler(invoker *spider.Invoker, orchestrator *spider.Orchestrator) *VodHandler {
	return &VodHandler{Invoker: invoker, Orchestrator: orchestrator}
}

func (h *VodHandler) Home(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	result, err := h.Invoker.Home(r.Context(), q.Get("site"), q.Get("filter") == "true")
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		w.WriteHeader(http.StatusBadGateway)
	}
	json.NewEncoder(w).Encode(result)
}

func (h *VodHandler) Category(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	extend := map[string]string{}
	if raw := q.Get("ext"); raw != "" {
		// ext is an opaque JSON object of extra CMS parameters.
		if err := json.Unmarshal([]byte(raw), &extend); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": "ext is not a JSON object"})
			return
		}
	}
	result, err := h.Invoker.Category(r.Context(), q.Get("site"), q.Get("t"), q.Get("pg"), q.Get("filter") == "true", extend)
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		w.WriteHeader(http.StatusBadGateway)
	}
	json.NewEncoder(w).Encode(result)
}

func (h *VodHandler) Detail(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ids := strings.Split(q.Get("ids"), ",")
	if len(ids) == 1 && ids[0] == "" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "ids is required"})
		return
	}
	result, err := h.Invoker.Detail(r.Context(), q.Get("site"), ids)
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		w.WriteHeader(http.StatusBadGateway)
	}
	json.NewEncoder(w).Encode(result)
}

// Search runs against one site when the site parameter is set, otherwise
// fans out across every searchable site and returns the aggregate with
// its per-site error manifest.
func (h *VodHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	keyword := q.Get("wd")
	if keyword == "" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "wd is required"})
		return
	}
	quick := q.Get("quick") == "true"

	w.Header().Set("Content-Type", "application/json")
	if site := q.Get("site"); site != "" {
		result, err := h.Invoker.Search(r.Context(), site, keyword, quick)
		if err != nil {
			w.WriteHeader(http.StatusBadGateway)
		}
		json.NewEncoder(w).Encode(result)
		return
	}
	json.NewEncoder(w).Encode(h.Orchestrator.Search(r.Context(), keyword, quick))
}

func (h *VodHandler) Play(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	result, err := h.Invoker.Play(r.Context(), q.Get("site"), q.Get("flag"), q.Get("id"), q["vipFlag"])
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		w.WriteHeader(http.StatusBadGateway)
	}
	json.NewEncoder(w).Encode(result)
}
