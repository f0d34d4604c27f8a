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
	"github.com/vulnscanio/engine/pkg/domain/shared"
	"github.com/vulnscanio/engine/pkg/domain/target"
	"github.com/vulnscanio/engine/pkg/logger"
	"github.com/vulnscanio/engine/pkg/pagination"
	"github.com/vulnscanio/engine/pkg/validator"
)

// TargetHandler handles scan target endpoints.
type TargetHandler struct {
	service   *app.TargetService
	validator *validator.Validator
	logger    *logger.Logger
}

// NewTargetHandler creates a new target handler.
func NewTargetHandler(service *app.TargetService, v *validator.Validator, log *logger.Logger) *TargetHandler {
	return &TargetHandler{
		service:   service,
		validator: v,
		logger:    log.With("handler", "target"),
	}
}

// CreateTargetRequest represents the request body for registering a target.
type CreateTargetRequest struct {
	Value       string   `json:"value" validate:"required,min=1,max=2048"`
	Description string   `json:"description" validate:"omitempty,max=1024"`
	Tags        []string `json:"tags" validate:"omitempty,max=20,dive,min=1,max=64"`
}

// UpdateTargetRequest represents the request body for updating a target.
type UpdateTargetRequest struct {
	Description *string  `json:"description" validate:"omitempty,max=1024"`
	Tags        []string `json:"tags" validate:"omitempty,max=20,dive,min=1,max=64"`
	Enabled     *bool    `json:"enabled"`
	Verified    *bool    `json:"verified"`
}

// ImportTargetsRequest represents the request body for bulk target import.
type ImportTargetsRequest struct {
	Values []string `json:"values" validate:"required,min=1,max=500,dive,min=1,max=2048"`
}

// TargetResponse represents a target in API responses.
type TargetResponse struct {
	ID                string     `json:"id"`
	OrgID             string     `json:"org_id"`
	Value             string     `json:"value"`
	Kind              string     `json:"kind"`
	RegistrableDomain string     `json:"registrable_domain,omitempty"`
	Description       string     `json:"description,omitempty"`
	Tags              []string   `json:"tags,omitempty"`
	Verified          bool       `json:"verified"`
	Enabled           bool       `json:"enabled"`
	LastScanAt        *time.Time `json:"last_scan_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// ImportTargetsResponse summarizes a bulk import.
type ImportTargetsResponse struct {
	Created []TargetResponse            `json:"created"`
	Skipped []validator.ValidatedTarget `json:"skipped"`
}

func toTargetResponse(t *target.Target) TargetResponse {
	return TargetResponse{
		ID:                t.ID().String(),
		OrgID:             t.OrgID().String(),
		Value:             t.Value(),
		Kind:              t.Kind().String(),
		RegistrableDomain: t.RegistrableDomain(),
		Description:       t.Description(),
		Tags:              t.Tags(),
		Verified:          t.Verified(),
		Enabled:           t.Enabled(),
		LastScanAt:        t.LastScanAt(),
		CreatedAt:         t.CreatedAt(),
		UpdatedAt:         t.UpdatedAt(),
	}
}

// CreateTarget handles target registration.
// @Summary      Register a target
// @Description  Validates, classifies and stores a new scan target. Private and reserved addresses are rejected.
// @Tags         Targets
// @Accept       json
// @Produce      json
// @Param        request  body      CreateTargetRequest  true  "Target"
// @Success      201      {object}  TargetResponse
// @Failure      400      {object}  apierror.Response
// @Failure      409      {object}  apierror.Response
// @Security     BearerAuth
// @Router       /targets [post]
func (h *TargetHandler) CreateTarget(w http.ResponseWriter, r *http.Request) {
	var req CreateTargetRequest
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

	input := app.CreateTargetInput{
		OrgID:       orgID,
		Value:       req.Value,
		Description: req.Description,
		Tags:        req.Tags,
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
	_ = json.NewEncoder(w).Encode(toTargetResponse(created))
}

// ImportTargets handles bulk target import.
// @Summary      Import targets
// @Description  Validates a batch of raw target values and stores the valid ones. Invalid entries are reported, not rejected.
// @Tags         Targets
// @Accept       json
// @Produce      json
// @Param        request  body      ImportTargetsRequest  true  "Target values"
// @Success      200      {object}  ImportTargetsResponse
// @Failure      400      {object}  apierror.Response
// @Security     BearerAuth
// @Router       /targets/import [post]
func (h *TargetHandler) ImportTargets(w http.ResponseWriter, r *http.Request) {
	var req ImportTargetsRequest
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

	var createdBy *shared.ID
	if userID, err := shared.IDFromString(middleware.GetUserID(r.Context())); err == nil {
		createdBy = &userID
	}

	result, err := h.service.ImportBatch(r.Context(), orgID, req.Values, createdBy)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	created := make([]TargetResponse, 0, len(result.Created))
	for _, t := range result.Created {
		created = append(created, toTargetResponse(t))
	}
	skipped := result.Skipped
	if skipped == nil {
		skipped = []validator.ValidatedTarget{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(ImportTargetsResponse{
		Created: created,
		Skipped: skipped,
	})
}

// GetTarget handles retrieving a single target.
// @Summary      Get a target
// @Tags         Targets
// @Produce      json
// @Param        targetID  path      string  true  "Target ID"
// @Success      200       {object}  TargetResponse
// @Failure      404       {object}  apierror.Response
// @Security     BearerAuth
// @Router       /targets/{targetID} [get]
func (h *TargetHandler) GetTarget(w http.ResponseWriter, r *http.Request) {
	orgID, err := shared.IDFromString(middleware.GetOrgID(r.Context()))
	if err != nil {
		apierror.Unauthorized("Invalid organization ID").WriteJSON(w)
		return
	}
	targetID, err := shared.IDFromString(chi.URLParam(r, "targetID"))
	if err != nil {
		apierror.BadRequest("Invalid target ID").WriteJSON(w)
		return
	}

	t, err := h.service.Get(r.Context(), orgID, targetID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(toTargetResponse(t))
}

// ListTargets handles listing targets.
// @Summary      List targets
// @Tags         Targets
// @Produce      json
// @Param        kind      query     string  false  "Filter by kind"
// @Param        enabled   query     bool    false  "Filter by enabled flag"
// @Param        verified  query     bool    false  "Filter by verified flag"
// @Param        tags      query     string  false  "Comma-separated tags, all must match"
// @Param        search    query     string  false  "Search in value and description"
// @Param        page      query     int     false  "Page number"
// @Param        per_page  query     int     false  "Items per page"
// @Success      200       {object}  ListResponse[TargetResponse]
// @Security     BearerAuth
// @Router       /targets [get]
func (h *TargetHandler) ListTargets(w http.ResponseWriter, r *http.Request) {
	orgID, err := shared.IDFromString(middleware.GetOrgID(r.Context()))
	if err != nil {
		apierror.Unauthorized("Invalid organization ID").WriteJSON(w)
		return
	}

	query := r.URL.Query()
	filter := target.Filter{
		Enabled:  parseQueryBool(query.Get("enabled")),
		Verified: parseQueryBool(query.Get("verified")),
		Tags:     parseQueryArray(query.Get("tags")),
		Search:   query.Get("search"),
	}
	if k := query.Get("kind"); k != "" {
		kind := target.Type(k)
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

	data := make([]TargetResponse, 0, len(result.Data))
	for _, t := range result.Data {
		data = append(data, toTargetResponse(t))
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(ListResponse[TargetResponse]{
		Data:       data,
		Total:      result.Total,
		Page:       result.Page,
		PerPage:    result.PerPage,
		TotalPages: result.TotalPages,
		Links:      NewPaginationLinks(r, result.Page, result.PerPage, result.TotalPages),
	})
}

// UpdateTarget handles updating a target.
// @Summary      Update a target
// @Tags         Targets
// @Accept       json
// @Produce      json
// @Param        targetID  path      string               true  "Target ID"
// @Param        request   body      UpdateTargetRequest  true  "Changes"
// @Success      200       {object}  TargetResponse
// @Failure      404       {object}  apierror.Response
// @Security     BearerAuth
// @Router       /targets/{targetID} [patch]
func (h *TargetHandler) UpdateTarget(w http.ResponseWriter, r *http.Request) {
	var req UpdateTargetRequest
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
	targetID, err := shared.IDFromString(chi.URLParam(r, "targetID"))
	if err != nil {
		apierror.BadRequest("Invalid target ID").WriteJSON(w)
		return
	}

	updated, err := h.service.Update(r.Context(), orgID, targetID, app.UpdateTargetInput{
		Description: req.Description,
		Tags:        req.Tags,
		Enabled:     req.Enabled,
		Verified:    req.Verified,
	})
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(toTargetResponse(updated))
}

// DeleteTarget handles deleting a target.
// @Summary      Delete a target
// @Tags         Targets
// @Param        targetID  path  string  true  "Target ID"
// @Success      204
// @Failure      404  {object}  apierror.Response
// @Security     BearerAuth
// @Router       /targets/{targetID} [delete]
func (h *TargetHandler) DeleteTarget(w http.ResponseWriter, r *http.Request) {
	orgID, err := shared.IDFromString(middleware.GetOrgID(r.Context()))
	if err != nil {
		apierror.Unauthorized("Invalid organization ID").WriteJSON(w)
		return
	}
	targetID, err := shared.IDFromString(chi.URLParam(r, "targetID"))
	if err != nil {
		apierror.BadRequest("Invalid target ID").WriteJSON(w)
		return
	}

	if err := h.service.Delete(r.Context(), orgID, targetID); err != nil {
		h.handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *TargetHandler) handleValidationError(w http.ResponseWriter, err error) {
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

func (h *TargetHandler) handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, target.ErrTargetNotFound):
		apierror.NotFound("Target").WriteJSON(w)
	case errors.Is(err, target.ErrTargetExists):
		apierror.Conflict("Target already exists").WriteJSON(w)
	case errors.Is(err, target.ErrUnknownType), errors.Is(err, target.ErrTargetDisabled):
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
