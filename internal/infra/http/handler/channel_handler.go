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
	"github.com/vulnscanio/engine/pkg/domain/channel"
	"github.com/vulnscanio/engine/pkg/domain/shared"
	"github.com/vulnscanio/engine/pkg/logger"
	"github.com/vulnscanio/engine/pkg/pagination"
	"github.com/vulnscanio/engine/pkg/validator"
)

// ChannelHandler handles notification channel endpoints.
type ChannelHandler struct {
	service   *app.ChannelService
	validator *validator.Validator
	logger    *logger.Logger
}

// NewChannelHandler creates a new channel handler.
func NewChannelHandler(service *app.ChannelService, v *validator.Validator, log *logger.Logger) *ChannelHandler {
	return &ChannelHandler{
		service:   service,
		validator: v,
		logger:    log.With("handler", "channel"),
	}
}

// CreateChannelRequest represents the request body for registering a channel.
type CreateChannelRequest struct {
	Name              string   `json:"name" validate:"required,min=1,max=128"`
	Kind              string   `json:"kind" validate:"required,channel_kind"`
	Endpoint          string   `json:"endpoint" validate:"required,url,max=2048"`
	Secret            string   `json:"secret" validate:"omitempty,max=512"`
	EventTypes        []string `json:"event_types" validate:"omitempty,dive,event_type"`
	SeverityThreshold string   `json:"severity_threshold" validate:"omitempty,severity"`
}

// UpdateChannelRequest represents the request body for updating a channel.
type UpdateChannelRequest struct {
	Name              *string  `json:"name" validate:"omitempty,min=1,max=128"`
	Endpoint          *string  `json:"endpoint" validate:"omitempty,url,max=2048"`
	Secret            *string  `json:"secret" validate:"omitempty,max=512"`
	EventTypes        []string `json:"event_types" validate:"omitempty,dive,event_type"`
	SeverityThreshold *string  `json:"severity_threshold" validate:"omitempty,severity"`
	Enabled           *bool    `json:"enabled"`
}

// ChannelResponse represents a channel in API responses. The signing secret
// is never included.
type ChannelResponse struct {
	ID                string     `json:"id"`
	OrgID             string     `json:"org_id"`
	Name              string     `json:"name"`
	Kind              string     `json:"kind"`
	Endpoint          string     `json:"endpoint"`
	EventTypes        []string   `json:"event_types"`
	SeverityThreshold string     `json:"severity_threshold,omitempty"`
	Enabled           bool       `json:"enabled"`
	TotalSent         int        `json:"total_sent"`
	TotalFailed       int        `json:"total_failed"`
	LastTriggeredAt   *time.Time `json:"last_triggered_at,omitempty"`
	LastError         string     `json:"last_error,omitempty"`
	LastErrorAt       *time.Time `json:"last_error_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// TestChannelResponse reports the outcome of a test delivery.
type TestChannelResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// DeliveryResponse represents one delivery attempt in API responses.
type DeliveryResponse struct {
	ID           string         `json:"id"`
	ChannelID    string         `json:"channel_id"`
	ScanID       *string        `json:"scan_id,omitempty"`
	EventType    string         `json:"event_type"`
	Payload      map[string]any `json:"payload,omitempty"`
	Success      bool           `json:"success"`
	ErrorMessage string         `json:"error_message,omitempty"`
	DurationMs   *int           `json:"duration_ms,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

func toChannelResponse(c *channel.Channel) ChannelResponse {
	return ChannelResponse{
		ID:                c.ID().String(),
		OrgID:             c.OrgID().String(),
		Name:              c.Name(),
		Kind:              string(c.Kind()),
		Endpoint:          c.Endpoint(),
		EventTypes:        c.EventTypes(),
		SeverityThreshold: c.SeverityThreshold(),
		Enabled:           c.Enabled(),
		TotalSent:         c.TotalSent(),
		TotalFailed:       c.TotalFailed(),
		LastTriggeredAt:   c.LastTriggeredAt(),
		LastError:         c.LastError(),
		LastErrorAt:       c.LastErrorAt(),
		CreatedAt:         c.CreatedAt(),
		UpdatedAt:         c.UpdatedAt(),
	}
}

func toDeliveryResponse(d *channel.Delivery) DeliveryResponse {
	resp := DeliveryResponse{
		ID:           d.ID.String(),
		ChannelID:    d.ChannelID.String(),
		EventType:    d.EventType,
		Payload:      d.Payload,
		Success:      d.Success,
		ErrorMessage: d.ErrorMessage,
		DurationMs:   d.DurationMs,
		CreatedAt:    d.CreatedAt,
	}
	if d.ScanID != nil {
		s := d.ScanID.String()
		resp.ScanID = &s
	}
	return resp
}

// CreateChannel handles channel registration.
// @Summary      Register a notification channel
// @Description  Registers a webhook, Slack or Teams endpoint for scan event notifications.
// @Tags         Channels
// @Accept       json
// @Produce      json
// @Param        request  body      CreateChannelRequest  true  "Channel"
// @Success      201      {object}  ChannelResponse
// @Failure      400      {object}  apierror.Response
// @Failure      409      {object}  apierror.Response
// @Security     BearerAuth
// @Router       /channels [post]
func (h *ChannelHandler) CreateChannel(w http.ResponseWriter, r *http.Request) {
	var req CreateChannelRequest
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

	input := app.CreateChannelInput{
		OrgID:             orgID,
		Name:              req.Name,
		Kind:              req.Kind,
		Endpoint:          req.Endpoint,
		Secret:            req.Secret,
		EventTypes:        req.EventTypes,
		SeverityThreshold: req.SeverityThreshold,
	}
	if userID, err := shared.IDFromString(middleware.GetUserID(r.Context())); err == nil {
		input.CreatedBy = &userID
	}

	created, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(toChannelResponse(created))
}

// GetChannel handles retrieving a single channel.
// @Summary      Get a channel
// @Tags         Channels
// @Produce      json
// @Param        channelID  path      string  true  "Channel ID"
// @Success      200        {object}  ChannelResponse
// @Failure      404        {object}  apierror.Response
// @Security     BearerAuth
// @Router       /channels/{channelID} [get]
func (h *ChannelHandler) GetChannel(w http.ResponseWriter, r *http.Request) {
	orgID, err := shared.IDFromString(middleware.GetOrgID(r.Context()))
	if err != nil {
		apierror.Unauthorized("Invalid organization ID").WriteJSON(w)
		return
	}
	channelID, err := shared.IDFromString(chi.URLParam(r, "channelID"))
	if err != nil {
		apierror.BadRequest("Invalid channel ID").WriteJSON(w)
		return
	}

	ch, err := h.service.Get(r.Context(), orgID, channelID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(toChannelResponse(ch))
}

// ListChannels handles listing channels.
// @Summary      List channels
// @Tags         Channels
// @Produce      json
// @Param        kind        query     string  false  "Filter by kind"
// @Param        enabled     query     bool    false  "Filter by enabled flag"
// @Param        event_type  query     string  false  "Only channels subscribed to this event type"
// @Param        search      query     string  false  "Search in name and endpoint"
// @Param        page        query     int     false  "Page number"
// @Param        per_page    query     int     false  "Items per page"
// @Success      200         {object}  ListResponse[ChannelResponse]
// @Security     BearerAuth
// @Router       /channels [get]
func (h *ChannelHandler) ListChannels(w http.ResponseWriter, r *http.Request) {
	orgID, err := shared.IDFromString(middleware.GetOrgID(r.Context()))
	if err != nil {
		apierror.Unauthorized("Invalid organization ID").WriteJSON(w)
		return
	}

	query := r.URL.Query()
	filter := channel.Filter{
		Enabled:   parseQueryBool(query.Get("enabled")),
		EventType: query.Get("event_type"),
		Search:    query.Get("search"),
	}
	if k := query.Get("kind"); k != "" {
		kind := channel.Kind(k)
		if !kind.IsValid() {
			apierror.BadRequest("Invalid kind filter").WriteJSON(w)
			return
		}
		filter.Kind = &kind
	}

	page := pagination.New(
		parseQueryInt(query.Get("page"), 1),
		parseQueryInt(query.Get("per_page"), 20),
	)

	result, err := h.service.List(r.Context(), orgID, filter, page)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	data := make([]ChannelResponse, 0, len(result.Data))
	for _, ch := range result.Data {
		data = append(data, toChannelResponse(ch))
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(ListResponse[ChannelResponse]{
		Data:       data,
		Total:      result.Total,
		Page:       result.Page,
		PerPage:    result.PerPage,
		TotalPages: result.TotalPages,
		Links:      NewPaginationLinks(r, result.Page, result.PerPage, result.TotalPages),
	})
}

// UpdateChannel handles updating a channel.
// @Summary      Update a channel
// @Tags         Channels
// @Accept       json
// @Produce      json
// @Param        channelID  path      string                true  "Channel ID"
// @Param        request    body      UpdateChannelRequest  true  "Changes"
// @Success      200        {object}  ChannelResponse
// @Failure      404        {object}  apierror.Response
// @Security     BearerAuth
// @Router       /channels/{channelID} [patch]
func (h *ChannelHandler) UpdateChannel(w http.ResponseWriter, r *http.Request) {
	var req UpdateChannelRequest
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
	channelID, err := shared.IDFromString(chi.URLParam(r, "channelID"))
	if err != nil {
		apierror.BadRequest("Invalid channel ID").WriteJSON(w)
		return
	}

	updated, err := h.service.Update(r.Context(), orgID, channelID, app.UpdateChannelInput{
		Name:              req.Name,
		Endpoint:          req.Endpoint,
		Secret:            req.Secret,
		EventTypes:        req.EventTypes,
		SeverityThreshold: req.SeverityThreshold,
		Enabled:           req.Enabled,
	})
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(toChannelResponse(updated))
}

// DeleteChannel handles deleting a channel.
// @Summary      Delete a channel
// @Tags         Channels
// @Param        channelID  path  string  true  "Channel ID"
// @Success      204
// @Failure      404  {object}  apierror.Response
// @Security     BearerAuth
// @Router       /channels/{channelID} [delete]
func (h *ChannelHandler) DeleteChannel(w http.ResponseWriter, r *http.Request) {
	orgID, err := shared.IDFromString(middleware.GetOrgID(r.Context()))
	if err != nil {
		apierror.Unauthorized("Invalid organization ID").WriteJSON(w)
		return
	}
	channelID, err := shared.IDFromString(chi.URLParam(r, "channelID"))
	if err != nil {
		apierror.BadRequest("Invalid channel ID").WriteJSON(w)
		return
	}

	if err := h.service.Delete(r.Context(), orgID, channelID); err != nil {
		h.handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// TestChannel handles sending a test notification.
// @Summary      Test a channel
// @Description  Sends a test message to the channel endpoint and reports the outcome.
// @Tags         Channels
// @Produce      json
// @Param        channelID  path      string  true  "Channel ID"
// @Success      200        {object}  TestChannelResponse
// @Failure      404        {object}  apierror.Response
// @Security     BearerAuth
// @Router       /channels/{channelID}/test [post]
func (h *ChannelHandler) TestChannel(w http.ResponseWriter, r *http.Request) {
	orgID, err := shared.IDFromString(middleware.GetOrgID(r.Context()))
	if err != nil {
		apierror.Unauthorized("Invalid organization ID").WriteJSON(w)
		return
	}
	channelID, err := shared.IDFromString(chi.URLParam(r, "channelID"))
	if err != nil {
		apierror.BadRequest("Invalid channel ID").WriteJSON(w)
		return
	}

	result, err := h.service.Test(r.Context(), orgID, channelID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(TestChannelResponse{
		Success: result.Success,
		Error:   result.Error,
	})
}

// ListDeliveries handles listing delivery attempts of a channel.
// @Summary      List channel deliveries
// @Description  Returns the delivery log of a channel, newest first.
// @Tags         Channels
// @Produce      json
// @Param        channelID  path      string  true   "Channel ID"
// @Param        page       query     int     false  "Page number"
// @Param        per_page   query     int     false  "Items per page"
// @Success      200        {object}  ListResponse[DeliveryResponse]
// @Failure      404        {object}  apierror.Response
// @Security     BearerAuth
// @Router       /channels/{channelID}/deliveries [get]
func (h *ChannelHandler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	orgID, err := shared.IDFromString(middleware.GetOrgID(r.Context()))
	if err != nil {
		apierror.Unauthorized("Invalid organization ID").WriteJSON(w)
		return
	}
	channelID, err := shared.IDFromString(chi.URLParam(r, "channelID"))
	if err != nil {
		apierror.BadRequest("Invalid channel ID").WriteJSON(w)
		return
	}

	query := r.URL.Query()
	page := pagination.New(
		parseQueryInt(query.Get("page"), 1),
		parseQueryInt(query.Get("per_page"), 20),
	)

	result, err := h.service.Deliveries(r.Context(), orgID, channelID, page)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	data := make([]DeliveryResponse, 0, len(result.Data))
	for _, d := range result.Data {
		data = append(data, toDeliveryResponse(d))
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(ListResponse[DeliveryResponse]{
		Data:       data,
		Total:      result.Total,
		Page:       result.Page,
		PerPage:    result.PerPage,
		TotalPages: result.TotalPages,
		Links:      NewPaginationLinks(r, result.Page, result.PerPage, result.TotalPages),
	})
}

func (h *ChannelHandler) handleValidationError(w http.ResponseWriter, err error) {
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

func (h *ChannelHandler) handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, channel.ErrChannelNotFound):
		apierror.NotFound("Channel").WriteJSON(w)
	case errors.Is(err, channel.ErrChannelNameExists):
		apierror.Conflict("A channel with this name already exists").WriteJSON(w)
	case errors.Is(err, channel.ErrUnknownKind), errors.Is(err, channel.ErrUnknownEventType):
		apierror.BadRequest(domainMessage(err)).WriteJSON(w)
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
