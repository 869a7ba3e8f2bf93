// Package api exposes the approval channel and event stream over HTTP. This
// is the out-of-band surface a reviewer uses to answer approval requests and
// watch a run; the engine itself never depends on it.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/orchestrix-dev/orchestrix/internal/core"
	"github.com/orchestrix-dev/orchestrix/internal/logging"
	"github.com/orchestrix-dev/orchestrix/internal/runtime"
)

// Server serves the approvals and events API.
type Server struct {
	orch   *runtime.Orchestrator
	logger *logging.Logger
}

// NewServer creates a server over the orchestrator.
func NewServer(orch *runtime.Orchestrator, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Server{orch: orch, logger: logger}
}

// Handler builds the HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Post("/tasks", s.handleSubmitTask)
		r.Post("/tasks/{taskID}/cancel", s.handleCancelTask)

		r.Get("/approvals", s.handleListApprovals)
		r.Post("/approvals/{approvalID}/resolve", s.handleResolveApproval)

		r.Get("/events", s.handleEventStream)
	})

	return cors.New(cors.Options{
		AllowedOrigins: []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(r)
}

func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Prompt string `json:"prompt"`
		Plan   bool   `json:"plan"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	task, err := s.orch.SubmitTask(r.Context(), body.Prompt)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	if body.Plan {
		err = s.orch.StartPlanning(task)
	} else {
		err = s.orch.StartTask(task)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, task)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	s.orch.CancelTask(taskID)
	_ = s.orch.Runtime().Store.UpdateTaskStatus(r.Context(), taskID, core.TaskCancelled)
	writeJSON(w, http.StatusOK, map[string]string{"task_id": taskID, "status": "cancelled"})
}

func (s *Server) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	taskID := r.URL.Query().Get("task_id")
	writeJSON(w, http.StatusOK, s.orch.ListPendingApprovals(taskID))
}

func (s *Server) handleResolveApproval(w http.ResponseWriter, r *http.Request) {
	approvalID := chi.URLParam(r, "approvalID")

	var body struct {
		Approve bool `json:"approve"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	request, err := s.orch.ResolveApproval(approvalID, body.Approve)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, request)
}

// handleEventStream streams engine events as server-sent events, optionally
// filtered by run.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	bus := s.orch.Runtime().Recorder.Bus()
	ch := bus.SubscribeForRun(r.URL.Query().Get("run_id"))
	defer bus.Unsubscribe(ch)

	flusher.Flush()
	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.EventType, data)
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func statusFor(err error) int {
	switch core.GetCategory(err) {
	case core.ErrCatValidation:
		return http.StatusBadRequest
	case core.ErrCatNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
