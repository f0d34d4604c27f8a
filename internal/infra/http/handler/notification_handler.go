package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vulnscanio/engine/internal/app"
	"github.com/vulnscanio/engine/internal/infra/http/middleware"
	"github.com/vulnscanio/engine/pkg/apierror"
	"github.com/vulnscanio/engine/pkg/domain/scan"
	"github.com/vulnscanio/engine/pkg/domain/shared"
	"github.com/vulnscanio/engine/pkg/logger"
	"github.com/vulnscanio/engine/pkg/validator"
)

// NotificationHandler handles manual notification dispatch. Deliveries run
// on the notifications queue, never in the request path.
type NotificationHandler struct {
	scans     *app.ScanService
	enqueuer  app.JobEnqueuer
	validator *validator.Validator
	logger    *logger.Logger
}

// NewNotificationHandler creates a new notification handler.
func NewNotificationHandler(scans *app.ScanService, enqueuer app.JobEnqueuer, v *validator.Validator, log *logger.Logger) *NotificationHandler {
	return &NotificationHandler{
		scans:     scans,
		enqueuer:  enqueuer,
		validator: v,
		logger:    log.With("handler", "notification"),
	}
}

// DispatchNotificationRequest represents the request body for dispatching a
// scan event to subscribed channels.
type DispatchNotificationRequest struct {
	ScanID    string `json:"scan_id" validate:"required,uuid"`
	EventType string `json:"event_type" validate:"required,event_type"`
}

// DispatchDigestRequest represents the request body for triggering a digest.
type DispatchDigestRequest struct {
	Period string `json:"period" validate:"required,oneof=daily weekly"`
}

// DispatchResponse acknowledges an accepted dispatch.
type DispatchResponse struct {
	Status string `json:"status"`
}

// Dispatch handles manual scan event dispatch.
// @Summary      Dispatch a scan event
// @Description  Queues notification delivery of a scan event to every subscribed channel.
// @Tags         Notifications
// @Accept       json
// @Produce      json
// @Param        request  body      DispatchNotificationRequest  true  "Event"
// @Success      202      {object}  DispatchResponse
// @Failure      400      {object}  apierror.Response
// @Failure      404      {object}  apierror.Response
// @Security     BearerAuth
// @Router       /notifications/dispatch [post]
func (h *NotificationHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	var req DispatchNotificationRequest
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
	scanID, err := shared.IDFromString(req.ScanID)
	if err != nil {
		apierror.BadRequest("Invalid scan ID").WriteJSON(w)
		return
	}

	// Confirms the scan exists and belongs to the caller's organization
	// before anything is queued.
	if _, err := h.scans.Get(r.Context(), orgID, scanID); err != nil {
		h.handleServiceError(w, err)
		return
	}

	if err := h.enqueuer.EnqueueNotification(r.Context(), scanID, orgID, req.EventType); err != nil {
		if errors.Is(err, app.ErrTaskAlreadyQueued) {
			apierror.Conflict("Notification already queued for this scan event").WriteJSON(w)
			return
		}
		h.logger.Error("enqueue notification", "error", err, "scan_id", scanID)
		apierror.InternalError(err).WriteJSON(w)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(DispatchResponse{Status: "queued"})
}

// DispatchDigest handles manual digest dispatch.
// @Summary      Dispatch a findings digest
// @Description  Queues a daily or weekly digest for the caller's organization.
// @Tags         Notifications
// @Accept       json
// @Produce      json
// @Param        request  body      DispatchDigestRequest  true  "Digest period"
// @Success      202      {object}  DispatchResponse
// @Failure      400      {object}  apierror.Response
// @Security     BearerAuth
// @Router       /notifications/digest [post]
func (h *NotificationHandler) DispatchDigest(w http.ResponseWriter, r *http.Request) {
	var req DispatchDigestRequest
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

	if err := h.enqueuer.EnqueueDigest(r.Context(), orgID, req.Period); err != nil {
		if errors.Is(err, app.ErrTaskAlreadyQueued) {
			apierror.Conflict("Digest already queued for this period").WriteJSON(w)
			return
		}
		h.logger.Error("enqueue digest", "error", err, "org_id", orgID)
		apierror.InternalError(err).WriteJSON(w)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(DispatchResponse{Status: "queued"})
}

func (h *NotificationHandler) handleValidationError(w http.ResponseWriter, err error) {
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

func (h *NotificationHandler) handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, scan.ErrNotFound):
		apierror.NotFound("Scan").WriteJSON(w)
	case errors.Is(err, shared.ErrValidation):
		apierror.BadRequest(domainMessage(err)).WriteJSON(w)
	case errors.Is(err, shared.ErrNotFound):
		apierror.NotFound("Resource").WriteJSON(w)
	default:
		h.logger.Error("service error", "error", err)
		apierror.InternalError(err).WriteJSON(w)
	}
}
