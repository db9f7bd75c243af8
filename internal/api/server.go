// Package api exposes the run registry over HTTP. The surface is read
// only; writes stay with the training client.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/raphaelBarman/PyLaia/internal/storage"
)

// Server serves run records and metric histories from a Store.
type Server struct {
	store  storage.Store
	logger *log.Logger
}

func NewServer(store storage.Store, logger *log.Logger) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Server{store: store, logger: logger}, nil
}

// Router builds the route table. Callers mount it on an http.Server.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/runs", s.listRuns).Methods("GET")
	api.HandleFunc("/runs/{id}", s.getRun).Methods("GET")
	api.HandleFunc("/runs/{id}/metrics/{name}", s.getMetricHistory).Methods("GET")
	r.HandleFunc("/healthz", s.health).Methods("GET")
	return r
}

// listRuns handles GET /api/runs.
func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListRuns(r.Context())
	if err != nil {
		s.logger.Printf("list runs: %v", err)
		http.Error(w, "failed to list runs", http.StatusInternalServerError)
		return
	}

	items := make([]map[string]any, len(runs))
	for i, run := range runs {
		items[i] = map[string]any{
			"id":             run.ID,
			"name":           run.Name,
			"dataset":        run.Dataset,
			"created_at_utc": run.CreatedAtUTC,
			"epochs":         run.Epochs,
			"iterations":     run.Iterations,
			"stop_reason":    run.StopReason,
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// getRun handles GET /api/runs/{id}.
func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	run, ok, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		s.logger.Printf("get run %s: %v", id, err)
		http.Error(w, "failed to load run", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, run)
}

// getMetricHistory handles GET /api/runs/{id}/metrics/{name}.
func (s *Server) getMetricHistory(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]
	name := vars["name"]

	history, ok, err := s.store.GetMetricHistory(r.Context(), id, name)
	if err != nil {
		s.logger.Printf("get metric %s for run %s: %v", name, id, err)
		http.Error(w, "failed to load metric history", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "metric history not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"run_id": id,
		"name":   name,
		"values": history,
	})
}

// health handles GET /healthz.
func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
