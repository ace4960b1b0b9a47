// Package trackingtest provides an in-process MLflow-compatible tracking
// server for tests, backed by a tracking.MemoryStore.
package trackingtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/gorilla/mux"

	verrors "github.com/veil-org/veil/pkg/errors"
	"github.com/veil-org/veil/pkg/tracking"
)

// Server is a fake tracking server. Close it when done.
type Server struct {
	*httptest.Server
	Store *tracking.MemoryStore

	token    string
	failures map[string]int
	requests []string
	mu       sync.Mutex
}

// Option configures a Server.
type Option func(*Server)

// WithToken requires "Authorization: Bearer <token>" on every request.
func WithToken(token string) Option {
	return func(s *Server) { s.token = token }
}

// NewServer starts a fake tracking server.
func NewServer(opts ...Option) *Server {
	s := &Server{
		Store:    tracking.NewMemoryStore(),
		failures: make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := mux.NewRouter()
	api := r.PathPrefix("/api/2.0/mlflow").Subrouter()
	api.Use(s.middleware)
	api.HandleFunc("/runs/create", s.createRun).Methods(http.MethodPost)
	api.HandleFunc("/runs/get", s.getRun).Methods(http.MethodGet)
	api.HandleFunc("/runs/update", s.updateRun).Methods(http.MethodPost)
	api.HandleFunc("/runs/log-batch", s.logBatch).Methods(http.MethodPost)
	api.HandleFunc("/runs/log-parameter", s.logParam).Methods(http.MethodPost)
	api.HandleFunc("/experiments/get", s.getExperiment).Methods(http.MethodGet)
	api.HandleFunc("/experiments/get-by-name", s.getExperimentByName).Methods(http.MethodGet)
	api.HandleFunc("/experiments/create", s.createExperiment).Methods(http.MethodPost)

	s.Server = httptest.NewServer(r)
	return s
}

// FailNext makes the next request to endpoint (e.g. "runs/create") fail
// with status.
func (s *Server) FailNext(endpoint string, status int) {
	s.mu.Lock()
	s.failures["/api/2.0/mlflow/"+endpoint] = status
	s.mu.Unlock()
}

// Requests returns "METHOD /path" for every request received.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]string, len(s.requests))
	copy(result, s.requests)
	return result
}

func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, r.Method+" "+r.URL.Path)
		status, fail := s.failures[r.URL.Path]
		delete(s.failures, r.URL.Path)
		s.mu.Unlock()

		if s.token != "" && r.Header.Get("Authorization") != "Bearer "+s.token {
			writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "missing or invalid token")
			return
		}
		if fail {
			writeError(w, status, "INTERNAL_ERROR", "injected failure")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type tag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error_code": code, "message": message})
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case verrors.IsCode(err, verrors.ErrRunNotFound), verrors.IsCode(err, verrors.ErrExperimentNotFound):
		writeError(w, http.StatusNotFound, "RESOURCE_DOES_NOT_EXIST", err.Error())
	case verrors.IsCode(err, verrors.ErrParamConflict):
		writeError(w, http.StatusBadRequest, "INVALID_PARAMETER_VALUE", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "MALFORMED_REQUEST", err.Error())
		return false
	}
	return true
}

func runJSON(run *tracking.Run) map[string]any {
	info := map[string]any{
		"run_id":        run.Info.ID,
		"run_name":      run.Info.Name,
		"experiment_id": run.Info.ExperimentID,
		"status":        string(run.Info.Status),
		"start_time":    run.Info.StartTime.UnixMilli(),
	}
	if run.Info.EndTime != nil {
		info["end_time"] = run.Info.EndTime.UnixMilli()
	}
	tags := make([]tag, 0, len(run.Tags))
	for k, v := range run.Tags {
		tags = append(tags, tag{Key: k, Value: v})
	}
	params := make([]tag, 0, len(run.Params))
	for k, v := range run.Params {
		params = append(params, tag{Key: k, Value: v})
	}
	return map[string]any{
		"info": info,
		"data": map[string]any{"tags": tags, "params": params},
	}
}

func (s *Server) createRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ExperimentID string `json:"experiment_id"`
		RunName      string `json:"run_name"`
		StartTime    int64  `json:"start_time"`
		Tags         []tag  `json:"tags"`
	}
	if !decode(w, r, &req) {
		return
	}
	tags := make(map[string]string, len(req.Tags))
	for _, t := range req.Tags {
		tags[t.Key] = t.Value
	}
	name := req.RunName
	if name == "" {
		name = tags[tracking.TagRunName]
	}
	info, err := s.Store.CreateRun(r.Context(), tracking.CreateRunRequest{
		ExperimentID: req.ExperimentID,
		Name:         name,
		StartTime:    time.UnixMilli(req.StartTime),
		Tags:         tags,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	run, _ := s.Store.GetRun(r.Context(), info.ID)
	writeJSON(w, map[string]any{"run": runJSON(run)})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.Store.GetRun(r.Context(), r.URL.Query().Get("run_id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, map[string]any{"run": runJSON(run)})
}

func (s *Server) updateRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RunID   string `json:"run_id"`
		Status  string `json:"status"`
		EndTime *int64 `json:"end_time"`
	}
	if !decode(w, r, &req) {
		return
	}
	var end *time.Time
	if req.EndTime != nil {
		t := time.UnixMilli(*req.EndTime)
		end = &t
	}
	if err := s.Store.UpdateRun(r.Context(), req.RunID, tracking.RunStatus(req.Status), end); err != nil {
		writeStoreError(w, err)
		return
	}
	run, _ := s.Store.GetRun(r.Context(), req.RunID)
	writeJSON(w, map[string]any{"run_info": runJSON(run)["info"]})
}

func (s *Server) logBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RunID string `json:"run_id"`
		Tags  []tag  `json:"tags"`
	}
	if !decode(w, r, &req) {
		return
	}
	tags := make(map[string]string, len(req.Tags))
	for _, t := range req.Tags {
		tags[t.Key] = t.Value
	}
	if err := s.Store.SetTags(r.Context(), req.RunID, tags); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, map[string]any{})
}

func (s *Server) logParam(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RunID string `json:"run_id"`
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := s.Store.LogParam(r.Context(), req.RunID, req.Key, req.Value); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, map[string]any{})
}

func (s *Server) getExperiment(w http.ResponseWriter, r *http.Request) {
	exp, err := s.Store.GetExperiment(r.Context(), r.URL.Query().Get("experiment_id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, map[string]any{"experiment": exp})
}

func (s *Server) getExperimentByName(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("experiment_name")
	exp, err := s.Store.GetExperimentByName(r.Context(), name)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if exp == nil {
		writeError(w, http.StatusNotFound, "RESOURCE_DOES_NOT_EXIST", "experiment '"+name+"' does not exist")
		return
	}
	writeJSON(w, map[string]any{"experiment": exp})
}

func (s *Server) createExperiment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !decode(w, r, &req) {
		return
	}
	exp, err := s.Store.CreateExperiment(r.Context(), req.Name)
	if err != nil {
		writeError(w, http.StatusBadRequest, "RESOURCE_ALREADY_EXISTS", err.Error())
		return
	}
	writeJSON(w, map[string]any{"experiment_id": exp.ID})
}
