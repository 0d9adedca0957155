package server

import (
	"net/http"
	"strings"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route - per-task progress stream
	mux.HandleFunc("/ws/tasks/", s.handleTaskStream)

	// API routes - Tasks
	mux.HandleFunc("/api/tasks", s.handleTasksRoute)  // GET (list), POST (create)
	mux.HandleFunc("/api/tasks/", s.handleTaskRoutes) // GET/POST /{id} and subpaths

	// API routes - Schedules
	mux.HandleFunc("/api/schedules", s.handleSchedulesRoute)  // GET (list), POST (create)
	mux.HandleFunc("/api/schedules/", s.handleScheduleRoutes) // GET/DELETE /{id}, POST /{id}/trigger

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleTaskStream extracts the task id from /ws/tasks/{id} and upgrades
func (s *Server) handleTaskStream(w http.ResponseWriter, r *http.Request) {
	taskID := strings.TrimPrefix(r.URL.Path, "/ws/tasks/")
	if taskID == "" || strings.Contains(taskID, "/") {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	s.app.WSHandler.HandleTaskStream(w, r, taskID)
}

// handleTasksRoute dispatches the task collection endpoint by method
func (s *Server) handleTasksRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.app.TaskHandler.ListTasksHandler(w, r)
	case http.MethodPost:
		s.app.TaskHandler.CreateTaskHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleTaskRoutes routes /api/tasks/{id} and its subpaths
func (s *Server) handleTaskRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/tasks/")
	parts := strings.Split(path, "/")

	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "Task ID is required", http.StatusBadRequest)
		return
	}
	taskID := parts[0]

	// GET /api/tasks/{id}
	if len(parts) == 1 {
		s.app.TaskHandler.GetTaskHandler(w, r, taskID)
		return
	}

	if len(parts) == 2 {
		switch parts[1] {
		case "start":
			s.app.TaskHandler.StartTaskHandler(w, r, taskID)
		case "cancel":
			s.app.TaskHandler.CancelTaskHandler(w, r, taskID)
		case "retry":
			s.app.TaskHandler.RetryTaskHandler(w, r, taskID)
		case "results":
			s.app.TaskHandler.GetResultsHandler(w, r, taskID)
		case "progress":
			s.app.TaskHandler.GetProgressHandler(w, r, taskID)
		default:
			http.Error(w, "Not found", http.StatusNotFound)
		}
		return
	}

	http.Error(w, "Not found", http.StatusNotFound)
}

// handleSchedulesRoute dispatches the schedule collection endpoint by method
func (s *Server) handleSchedulesRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.app.ScheduleHandler.ListSchedulesHandler(w, r)
	case http.MethodPost:
		s.app.ScheduleHandler.CreateScheduleHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleScheduleRoutes routes /api/schedules/{id} and its subpaths
func (s *Server) handleScheduleRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/schedules/")
	parts := strings.Split(path, "/")

	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "Schedule ID is required", http.StatusBadRequest)
		return
	}
	scheduleID := parts[0]

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			s.app.ScheduleHandler.GetScheduleHandler(w, r, scheduleID)
		case http.MethodDelete:
			s.app.ScheduleHandler.DeleteScheduleHandler(w, r, scheduleID)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	if len(parts) == 2 && parts[1] == "trigger" {
		s.app.ScheduleHandler.TriggerScheduleHandler(w, r, scheduleID)
		return
	}

	http.Error(w, "Not found", http.StatusNotFound)
}
