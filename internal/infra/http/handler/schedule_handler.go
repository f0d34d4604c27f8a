package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vulnscanio/engine/internal/app"
	"github.com/vulnscanio/engine/internal/infra/http/middleware"
	"github.com/vulnscanio/engine/pkg/apierror"
	"github.com/vulnscanio/engine/pkg/domain/scan"
	"github.com/vulnscanio/engine/pkg/domain/shared"
	"github.com/vulnscanio/engine/pkg/domain/target"
	"github.com/vulnscanio/engine/pkg/logger"
	"github.com/vulnscanio/engine/pkg/pagination"
	"github.com/vulnscanio/engine/pkg/validator"
)

// ScheduleHandler handles recurring scan schedule endpoints.
type ScheduleHandler struct {
	service   *app.ScheduleService
	validator *validator.Validator
	logger    *logger.Logger
}

// NewScheduleHandler creates a new schedule handler.
func NewScheduleHandler(service *app.ScheduleService, v *validator.Validator, log *logger.Logger) *ScheduleHandler {
	return &ScheduleHandler{
		service:   service,
		validator: v,
		logger:    log.With("handler", "schedule"),
	}
}

// CreateScheduleRequest represents the request body for creating a schedule.
type CreateScheduleRequest struct {
	TargetID string `json:"target_id" validate:"required,uuid"`
	Profile  string `json:"profile" validate:"omitempty,oneof=quick standard deep"`
	CronExpr string `json:"cron_expr" validate:"required,cron"`
}

// UpdateScheduleRequest represents the request body for updating a schedule.
type UpdateScheduleRequest struct {
	CronExpr *string `json:"cron_expr" validate:"omitempty,cron"`
	Profile  *string `json:"profile" validate:"omitempty,oneof=quick standard deep"`
	Enabled  *bool   `json:"enabled"`
}

// ScheduleResponse represents a schedule in API responses.
type ScheduleResponse struct {
	ID        string     `json:"id"`
	OrgID     string     `json:"org_id"`
	TargetID  string     `json:"target_id"`
	Target    string     `json:"target"`
	Profile   string     `json:"profile"`
	CronExpr  string     `json:"cron_expr"`
	Enabled   bool       `json:"enabled"`
	NextRunAt *time.Time `json:"next_run_at,omitempty"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func toScheduleResponse(s *scan.Schedule) ScheduleResponse {
	return ScheduleResponse{
		ID:        s.ID.String(),
		OrgID:     s.OrgID.String(),
		TargetID:  s.TargetID.String(),
		Target:    s.Target,
		Profile:   s.Profile,
		CronExpr:  s.CronExpr,
		Enabled:   s.Enabled,
		NextRunAt: s.NextRunAt,
		LastRunAt: s.LastRunAt,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

// CreateSchedule handles schedule creation.
// @Summary      Create a scan schedule
// @Description  Registers a cron-driven recurring scan of a target.
// @Tags         Schedules
// @Accept       json
// @Produce      json
// @Param        request  body      CreateScheduleRequest  true  "Schedule"
// @Success      201      {object}  ScheduleResponse
// @Failure      400      {object}  apierror.Response
// @Security     BearerAuth
// @Router       /schedules [post]
func (h *ScheduleHandler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req CreateScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierror.BadRequest("Invalid request body").WriteJSON(w)
		return
	}

	if err := h.validator.Validate(req); err != nil {
		h.handleValidationError(w, err)
		return
	}

	orgID, err := shared.IDFromString(middleware.GetOrgID(r.Context()))
	if err != nil {
		apierror.Unauthorized("Invalid organization ID").WriteJSON(w)
		return
	}
	targetID, err := shared.IDFromString(req.TargetID)
	if err != nil {
		apierror.BadRequest("Invalid target ID").WriteJSON(w)
		return
	}

	input := app.CreateScheduleInput{
		OrgID:    orgID,
		TargetID: targetID,
		Profile:  req.Profile,
		CronExpr: req.CronExpr,
	}
	if userID, err := shared.IDFromString(middleware.GetUserID(r.Context())); err == nil {
		input.CreatedBy = userID
	}

	sched, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(toScheduleResponse(sched))
}

// GetSchedule handles retrieving a single schedule.
// @Summary      Get a schedule
// @Tags         Schedules
// @Produce      json
// @Param        scheduleID  path      string  true  "Schedule ID"
// @Success      200         {object}  ScheduleResponse
// @Failure      404         {object}  apierror.Response
// @Security     BearerAuth
// @Router       /schedules/{scheduleID} [get]
func (h *ScheduleHandler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	orgID, err := shared.IDFromString(middleware.GetOrgID(r.Context()))
	if err != nil {
		apierror.Unauthorized("Invalid organization ID").WriteJSON(w)
		return
	}
	scheduleID, err := shared.IDFromString(chi.URLParam(r, "scheduleID"))
	if err != nil {
		apierror.BadRequest("Invalid schedule ID").WriteJSON(w)
		return
	}

	sched, err := h.service.Get(r.Context(), orgID, scheduleID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(toScheduleResponse(sched))
}

// ListSchedules handles listing schedules.
// @Summary      List schedules
// @Tags         Schedules
// @Produce      json
// @Param        page      query     int  false  "Page number"
// @Param        per_page  query     int  false  "Items per page"
// @Success      200       {object}  ListResponse[ScheduleResponse]
// @Security     BearerAuth
// @Router       /schedules [get]
func (h *ScheduleHandler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	orgID, err := shared.IDFromString(middleware.GetOrgID(r.Context()))
	if err != nil {
		apierror.Unauthorized("Invalid organization ID").WriteJSON(w)
		return
	}

	query := r.URL.Query()
	page := pagination.New(
		parseQueryInt(query.Get("page"), 1),
		parseQueryInt(query.Get("per_page"), 20),
	)

	result, err := h.service.List(r.Context(), orgID, page)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	data := make([]ScheduleResponse, 0, len(result.Data))
	for _, s := range result.Data {
		data = append(data, toScheduleResponse(s))
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(ListResponse[ScheduleResponse]{
		Data:       data,
		Total:      result.Total,
		Page:       result.Page,
		PerPage:    result.PerPage,
		TotalPages: result.TotalPages,
		Links:      NewPaginationLinks(r, result.Page, result.PerPage, result.TotalPages),
	})
}

// UpdateSchedule handles updating a schedule.
// @Summary      Update a schedule
// @Tags         Schedules
// @Accept       json
// @Produce      json
// @Param        scheduleID  path      string                 true  "Schedule ID"
// @Param        request     body      UpdateScheduleRequest  true  "Changes"
// @Success      200         {object}  ScheduleResponse
// @Failure      404         {object}  apierror.Response
// @Security     BearerAuth
// @Router       /schedules/{scheduleID} [patch]
func (h *ScheduleHandler) UpdateSchedule(w http.ResponseWriter, r *http.Request) {
	var req UpdateScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierror.BadRequest("Invalid request body").WriteJSON(w)
		return
	}

	if err := h.validator.Validate(req); err != nil {
		h.handleValidationError(w, err)
		return
	}

	orgID, err := shared.IDFromString(middleware.GetOrgID(r.Context()))
	if err != nil {
		apierror.Unauthorized("Invalid organization ID").WriteJSON(w)
		return
	}
	scheduleID, err := shared.IDFromString(chi.URLParam(r, "scheduleID"))
	if err != nil {
		apierror.BadRequest("Invalid schedule ID").WriteJSON(w)
		return
	}

	sched, err := h.service.Update(r.Context(), orgID, scheduleID, app.UpdateScheduleInput{
		CronExpr: req.CronExpr,
		Profile:  req.Profile,
		Enabled:  req.Enabled,
	})
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(toScheduleResponse(sched))
}

// DeleteSchedule handles deleting a schedule.
// @Summary      Delete a schedule
// @Tags         Schedules
// @Param        scheduleID  path  string  true  "Schedule ID"
// @Success      204
// @Failure      404  {object}  apierror.Response
// @Security     BearerAuth
// @Router       /schedules/{scheduleID} [delete]
func (h *ScheduleHandler) DeleteSchedule(w http.ResponseWriter, r *http.Request) {
	orgID, err := shared.IDFromString(middleware.GetOrgID(r.Context()))
	if err != nil {
		apierror.Unauthorized("Invalid organization ID").WriteJSON(w)
		return
	}
	scheduleID, err := shared.IDFromString(chi.URLParam(r, "scheduleID"))
	if err != nil {
		apierror.BadRequest("Invalid schedule ID").WriteJSON(w)
		return
	}

	if err := h.service.Delete(r.Context(), orgID, scheduleID); err != nil {
		h.handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *ScheduleHandler) handleValidationError(w http.ResponseWriter, err error) {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		apiErrors := make([]apierror.ValidationError, len(validationErrors))
		for i, ve := range validationErrors {
			apiErrors[i] = apierror.ValidationError{
				Field:   ve.Field,
				Message: ve.Message,
			}
		}
		apierror.ValidationFailed("Validation failed", apiErrors).WriteJSON(w)
		return
	}
	apierror.BadRequest("Validation error").WriteJSON(w)
}

func (h *ScheduleHandler) handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, scan.ErrScheduleNotFound):
		apierror.NotFound("Schedule").WriteJSON(w)
	case errors.Is(err, target.ErrTargetNotFound):
		apierror.NotFound("Target").WriteJSON(w)
	case errors.Is(err, target.ErrTargetDisabled):
		apierror.BadRequest("Target is disabled").WriteJSON(w)
	case errors.Is(err, shared.ErrValidation):
		apierror.BadRequest(domainMessage(err)).WriteJSON(w)
	case errors.Is(err, shared.ErrNotFound):
		apierror.NotFound("Resource").WriteJSON(w)
	case errors.Is(err, shared.ErrConflict):
		apierror.Conflict(domainMessage(err)).WriteJSON(w)
	default:
		h.logger.Error("service error", "error", err)
		apierror.InternalError(err).WriteJSON(w)
	}
}
