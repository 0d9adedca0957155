package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/auspex/internal/interfaces"
	"github.com/ternarybob/auspex/internal/models"
)

// TaskHandler handles task-related API requests
type TaskHandler struct {
	orchestrator interfaces.OrchestratorService
	broadcaster  interfaces.ProgressBroadcaster
	logger       arbor.ILogger
}

// NewTaskHandler creates a new task handler
func NewTaskHandler(orchestrator interfaces.OrchestratorService, broadcaster interfaces.ProgressBroadcaster, logger arbor.ILogger) *TaskHandler {
	return &TaskHandler{
		orchestrator: orchestrator,
		broadcaster:  broadcaster,
		logger:       logger,
	}
}

// CreateTaskRequest is the POST /api/tasks body.
type CreateTaskRequest struct {
	Kind      models.TaskKind   `json:"kind"`
	Params    models.TaskParams `json:"params"`
	Priority  int               `json:"priority"`
	AutoStart bool              `json:"auto_start"`
}

// CreateTaskHandler creates a new recommendation task, optionally starting it
// immediately when auto_start is set.
func (h *TaskHandler) CreateTaskHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	task, err := h.orchestrator.Create(r.Context(), req.Kind, req.Params, req.Priority)
	if err != nil {
		h.logger.Warn().Err(err).Str("kind", string(req.Kind)).Msg("Task creation rejected")
		WriteServiceError(w, err)
		return
	}

	if req.AutoStart {
		if err := h.orchestrator.Start(r.Context(), task.ID); err != nil {
			h.logger.Error().Err(err).Str("task_id", task.ID).Msg("Failed to auto-start task")
			WriteServiceError(w, err)
			return
		}
		task, err = h.orchestrator.GetStatus(r.Context(), task.ID)
		if err != nil {
			WriteServiceError(w, err)
			return
		}
	}

	h.logger.Info().
		Str("task_id", task.ID).
		Str("kind", string(task.Kind)).
		Bool("auto_start", req.AutoStart).
		Msg("Task created")

	WriteJSON(w, http.StatusCreated, task)
}

// ListTasksHandler returns a filtered, paginated task listing with stats.
func (h *TaskHandler) ListTasksHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	filter := interfaces.TaskFilter{
		Status: models.TaskStatus(r.URL.Query().Get("status")),
		Kind:   models.TaskKind(r.URL.Query().Get("kind")),
	}

	page, err := h.orchestrator.ListTasks(r.Context(), filter, GetPaginationParams(r))
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list tasks")
		WriteServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, page)
}

// GetTaskHandler returns a single task by id.
func (h *TaskHandler) GetTaskHandler(w http.ResponseWriter, r *http.Request, taskID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	task, err := h.orchestrator.GetStatus(r.Context(), taskID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, task)
}

// StartTaskHandler transitions a pending task to running.
func (h *TaskHandler) StartTaskHandler(w http.ResponseWriter, r *http.Request, taskID string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	if err := h.orchestrator.Start(r.Context(), taskID); err != nil {
		h.logger.Warn().Err(err).Str("task_id", taskID).Msg("Failed to start task")
		WriteServiceError(w, err)
		return
	}

	h.logger.Info().Str("task_id", taskID).Msg("Task started")
	WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "started",
		"task_id": taskID,
	})
}

// CancelTaskHandler requests cooperative cancellation of a task.
func (h *TaskHandler) CancelTaskHandler(w http.ResponseWriter, r *http.Request, taskID string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	if err := h.orchestrator.Cancel(r.Context(), taskID); err != nil {
		h.logger.Warn().Err(err).Str("task_id", taskID).Msg("Failed to cancel task")
		WriteServiceError(w, err)
		return
	}

	h.logger.Info().Str("task_id", taskID).Msg("Task cancellation requested")
	WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "cancelling",
		"task_id": taskID,
	})
}

// RetryTaskHandler re-enters a failed or cancelled task as pending.
func (h *TaskHandler) RetryTaskHandler(w http.ResponseWriter, r *http.Request, taskID string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	if err := h.orchestrator.Retry(r.Context(), taskID); err != nil {
		h.logger.Warn().Err(err).Str("task_id", taskID).Msg("Failed to retry task")
		WriteServiceError(w, err)
		return
	}

	h.logger.Info().Str("task_id", taskID).Msg("Task reset for retry")
	WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "pending",
		"task_id": taskID,
	})
}

// GetResultsHandler returns a task's ranked results.
func (h *TaskHandler) GetResultsHandler(w http.ResponseWriter, r *http.Request, taskID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	results, err := h.orchestrator.GetResults(r.Context(), taskID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"task_id": taskID,
		"count":   len(results),
		"results": results,
	})
}

// GetProgressHandler replays a task's persisted progress events, oldest first.
// The limit query parameter bounds the tail returned (0 = all events).
func (h *TaskHandler) GetProgressHandler(w http.ResponseWriter, r *http.Request, taskID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	if _, err := h.orchestrator.GetStatus(r.Context(), taskID); err != nil {
		WriteServiceError(w, err)
		return
	}

	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}

	events, err := h.broadcaster.Replay(r.Context(), taskID, limit)
	if err != nil {
		h.logger.Error().Err(err).Str("task_id", taskID).Msg("Failed to replay progress events")
		WriteServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"task_id": taskID,
		"count":   len(events),
		"events":  events,
	})
}
