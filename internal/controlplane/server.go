package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/lewisai/lewis/internal/models"
	"github.com/lewisai/lewis/internal/orchestrator"
)

// Server provides the HTTP API for the lewis daemon.
type Server struct {
	service *Service
	addr    string
	token   string
	server  *http.Server
}

// NewServer creates a new HTTP server. An empty token disables
// authentication.
func NewServer(service *Service, addr, token string) *Server {
	return &Server{
		service: service,
		addr:    addr,
		token:   token,
	}
}

// Handler builds the route table with auth middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/tasks", s.handleTasks)
	mux.HandleFunc("/tasks/", s.handleTaskByID)
	mux.HandleFunc("/queue/status", s.handleQueueStatus)
	mux.HandleFunc("/health", s.handleHealth)

	return s.withAuth(mux)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	log.Printf("Starting lewis daemon on %s", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// withAuth enforces bearer-token auth on everything except /health.
func (s *Server) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" && r.URL.Path != "/health" {
			header := r.Header.Get("Authorization")
			if header != "Bearer "+s.token {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// HealthResponse is the /health payload.
type HealthResponse struct {
	OK      bool   `json:"ok"`
	DB      string `json:"db"`
	Version string `json:"version"`
	Time    string `json:"time"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	health := HealthResponse{
		OK:      true,
		DB:      "ok",
		Version: Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK
	if err := s.service.Ping(r.Context()); err != nil {
		health.OK = false
		health.DB = err.Error()
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(health)
}

func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status, err := s.service.QueueStatus()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

// handleTasks handles POST /tasks and GET /tasks
func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.submitTask(w, r)
	case http.MethodGet:
		s.listTasks(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleTaskByID handles /tasks/{id}/*
func (s *Server) handleTaskByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/tasks/")
	parts := strings.Split(path, "/")

	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "task id required", http.StatusBadRequest)
		return
	}

	taskID := parts[0]
	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		s.getTask(w, r, taskID)
	case action == "events" && r.Method == http.MethodGet:
		s.getEvents(w, r, taskID)
	case action == "artifacts" && r.Method == http.MethodGet:
		s.getArtifacts(w, r, taskID)
	case action == "cancel" && r.Method == http.MethodPost:
		s.cancelTask(w, r, taskID)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

type submitTaskRequest struct {
	Goal           string                 `json:"goal"`
	Name           string                 `json:"name"`
	Metadata       map[string]interface{} `json:"metadata"`
	Sync           bool                   `json:"sync"`
	RecursionLimit int                    `json:"recursion_limit"`
	CaseReuse      *bool                  `json:"case_reuse"`
}

func (s *Server) submitTask(w http.ResponseWriter, r *http.Request) {
	var req submitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	task, err := s.service.SubmitTask(r.Context(), req.Goal, orchestrator.Options{
		Name:           req.Name,
		Metadata:       req.Metadata,
		Sync:           req.Sync,
		RecursionLimit: req.RecursionLimit,
		CaseReuse:      req.CaseReuse,
	})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrEmptyGoal) {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(task)
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	tasks, err := s.service.ListTasks(status)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if tasks == nil {
		tasks = []models.TaskState{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(tasks)
}

// taskResponse pairs a task with its event log for detail views.
type taskResponse struct {
	Task   *models.TaskState `json:"task"`
	Events []models.Event    `json:"events"`
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request, taskID string) {
	task, events, err := s.service.GetTask(taskID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if events == nil {
		events = []models.Event{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(taskResponse{Task: task, Events: events})
}

func (s *Server) getEvents(w http.ResponseWriter, r *http.Request, taskID string) {
	events, err := s.service.GetEvents(taskID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if events == nil {
		events = []models.Event{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(events)
}

func (s *Server) getArtifacts(w http.ResponseWriter, r *http.Request, taskID string) {
	artifacts, err := s.service.GetArtifacts(taskID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if artifacts == nil {
		artifacts = []models.Artifact{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(artifacts)
}

func (s *Server) cancelTask(w http.ResponseWriter, r *http.Request, taskID string) {
	if err := s.service.CancelTask(taskID); err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"cancellation requested"}`))
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrTaskNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrTaskTerminal):
		status = http.StatusConflict
	}
	http.Error(w, err.Error(), status)
}
