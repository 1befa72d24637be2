package coordinator

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// AdminRouter builds the read-only operator surface: /healthz, /stats,
// /metrics, /workers, /builds/{id}, and the cache verify trigger at
// POST /cache/verify.
func (co *Coordinator) AdminRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", co.handleHealthz)
	r.Get("/stats", co.handleStats)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/workers", co.handleWorkers)
	r.Get("/builds/{id}", co.handleBuild)
	r.Post("/cache/verify", co.handleCacheVerify)

	return r
}

func (co *Coordinator) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (co *Coordinator) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"cache":   co.Cache.Stats(),
		"workers": len(co.Registry.All()),
	})
}

func (co *Coordinator) handleWorkers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, co.Registry.All())
}

func (co *Coordinator) handleBuild(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	session, ok := co.Scheduler.Session(id)
	if !ok {
		http.Error(w, "build not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (co *Coordinator) handleCacheVerify(w http.ResponseWriter, r *http.Request) {
	repair := r.URL.Query().Get("repair") == "true"
	issues, err := co.Cache.Verify(repair)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"issues": issues})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
