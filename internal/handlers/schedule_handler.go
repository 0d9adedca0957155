package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/auspex/internal/interfaces"
	"github.com/ternarybob/auspex/internal/models"
	"github.com/ternarybob/auspex/internal/services/scheduler"
)

// ScheduleHandler handles cron schedule API requests
type ScheduleHandler struct {
	scheduler *scheduler.Service
	schedules interfaces.ScheduleStorage
	logger    arbor.ILogger
}

// NewScheduleHandler creates a new schedule handler
func NewScheduleHandler(schedulerService *scheduler.Service, schedules interfaces.ScheduleStorage, logger arbor.ILogger) *ScheduleHandler {
	return &ScheduleHandler{
		scheduler: schedulerService,
		schedules: schedules,
		logger:    logger,
	}
}

// CreateScheduleRequest is the POST /api/schedules body.
type CreateScheduleRequest struct {
	Name     string            `json:"name"`
	CronExpr string            `json:"cron_expr"`
	Kind     models.TaskKind   `json:"kind"`
	Params   models.TaskParams `json:"params"`
	Priority int               `json:"priority"`
	Enabled  *bool             `json:"enabled,omitempty"`
}

// CreateScheduleHandler registers a new recurring task schedule.
func (h *ScheduleHandler) CreateScheduleHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req CreateScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if req.Name == "" || req.CronExpr == "" {
		WriteError(w, http.StatusBadRequest, "name and cron_expr are required")
		return
	}

	schedule := models.NewTaskSchedule(req.Name, req.CronExpr, req.Kind, req.Params)
	if req.Priority > 0 {
		schedule.Priority = req.Priority
	}
	if req.Enabled != nil {
		schedule.Enabled = *req.Enabled
	}

	if err := h.scheduler.Register(r.Context(), schedule); err != nil {
		h.logger.Warn().Err(err).Str("name", req.Name).Msg("Schedule registration rejected")
		WriteServiceError(w, err)
		return
	}

	h.logger.Info().
		Str("schedule_id", schedule.ID).
		Str("cron_expr", schedule.CronExpr).
		Bool("enabled", schedule.Enabled).
		Msg("Schedule created")

	WriteJSON(w, http.StatusCreated, schedule)
}

// ListSchedulesHandler returns all stored schedules.
func (h *ScheduleHandler) ListSchedulesHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	enabledOnly := r.URL.Query().Get("enabled") == "true"

	schedules, err := h.schedules.ListSchedules(r.Context(), enabledOnly)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list schedules")
		WriteServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"count":     len(schedules),
		"schedules": schedules,
	})
}

// GetScheduleHandler returns a single schedule by id.
func (h *ScheduleHandler) GetScheduleHandler(w http.ResponseWriter, r *http.Request, scheduleID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	schedule, err := h.schedules.GetSchedule(r.Context(), scheduleID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, schedule)
}

// DeleteScheduleHandler removes a schedule and its cron registration.
func (h *ScheduleHandler) DeleteScheduleHandler(w http.ResponseWriter, r *http.Request, scheduleID string) {
	if !RequireMethod(w, r, http.MethodDelete) {
		return
	}

	if err := h.scheduler.Remove(r.Context(), scheduleID); err != nil {
		WriteServiceError(w, err)
		return
	}

	h.logger.Info().Str("schedule_id", scheduleID).Msg("Schedule removed")
	WriteSuccess(w, "Schedule removed")
}

// TriggerScheduleHandler fires a schedule immediately, out of band of its
// cron expression.
func (h *ScheduleHandler) TriggerScheduleHandler(w http.ResponseWriter, r *http.Request, scheduleID string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	if err := h.scheduler.Trigger(r.Context(), scheduleID); err != nil {
		WriteServiceError(w, err)
		return
	}

	h.logger.Info().Str("schedule_id", scheduleID).Msg("Schedule triggered manually")
	WriteJSON(w, http.StatusOK, map[string]string{
		"status":      "triggered",
		"schedule_id": scheduleID,
	})
}
