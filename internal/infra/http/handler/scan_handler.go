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

// ScanHandler handles scan job endpoints.
type ScanHandler struct {
	service   *app.ScanService
	reports   *app.ReportService
	validator *validator.Validator
	logger    *logger.Logger
}

// NewScanHandler creates a new scan handler.
func NewScanHandler(service *app.ScanService, reports *app.ReportService, v *validator.Validator, log *logger.Logger) *ScanHandler {
	return &ScanHandler{
		service:   service,
		reports:   reports,
		validator: v,
		logger:    log.With("handler", "scan"),
	}
}

// CreateScanRequest represents the request body for triggering a scan.
type CreateScanRequest struct {
	TargetID string   `json:"target_id" validate:"required,uuid"`
	Profile  string   `json:"profile" validate:"omitempty,oneof=quick standard deep"`
	Modules  []string `json:"modules" validate:"omitempty,min=1,dive,module_name"`
	DelaySec int      `json:"delay_seconds" validate:"omitempty,min=0,max=86400"`
}

// CreateScanResponse is returned when a scan has been accepted for execution.
type CreateScanResponse struct {
	ScanID  string   `json:"scan_id"`
	Status  string   `json:"status"`
	Profile string   `json:"profile"`
	Modules []string `json:"modules"`
}

// ScanResponse represents a scan job in API responses.
type ScanResponse struct {
	ID              string                 `json:"id"`
	OrgID           string                 `json:"org_id"`
	TargetID        string                 `json:"target_id"`
	Target          string                 `json:"target"`
	Profile         string                 `json:"profile"`
	Modules         []string               `json:"modules"`
	Status          string                 `json:"status"`
	Progress        int                    `json:"progress"`
	CurrentModule   string                 `json:"current_module,omitempty"`
	CancelRequested bool                   `json:"cancel_requested,omitempty"`
	FailureReason   string                 `json:"failure_reason,omitempty"`
	Summary         *scan.Summary          `json:"summary,omitempty"`
	ReportKey       string                 `json:"report_key,omitempty"`
	ScheduleID      *string                `json:"schedule_id,omitempty"`
	Attempt         int                    `json:"attempt"`
	Results         []ModuleResultResponse `json:"results,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	StartedAt       *time.Time             `json:"started_at,omitempty"`
	CompletedAt     *time.Time             `json:"completed_at,omitempty"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

// ModuleResultResponse represents one module execution within a scan.
type ModuleResultResponse struct {
	ID           string            `json:"id"`
	ModuleName   string            `json:"module_name"`
	Status       string            `json:"status"`
	FindingCount int               `json:"finding_count"`
	Findings     []FindingResponse `json:"findings,omitempty"`
	Error        string            `json:"error,omitempty"`
	StartedAt    time.Time         `json:"started_at"`
	DurationMs   int64             `json:"duration_ms"`
}

// ReportLocationResponse points at the rendered report artifact.
type ReportLocationResponse struct {
	ScanID   string `json:"scan_id"`
	Location string `json:"location"`
}

// ProfileResponse describes one scan profile preset.
type ProfileResponse struct {
	Name             string   `json:"name"`
	Description      string   `json:"description"`
	Modules          []string `json:"modules"`
	EstimatedSeconds int      `json:"estimated_seconds"`
}

func toScanResponse(job *scan.ScanJob, includeResults bool) ScanResponse {
	resp := ScanResponse{
		ID:              job.ID.String(),
		OrgID:           job.OrgID.String(),
		TargetID:        job.TargetID.String(),
		Target:          job.Target,
		Profile:         job.Profile,
		Modules:         job.Modules,
		Status:          job.Status.String(),
		Progress:        job.Progress,
		CurrentModule:   job.CurrentModule,
		CancelRequested: job.CancelRequested,
		FailureReason:   job.FailureReason,
		Summary:         job.Summary,
		ReportKey:       job.ReportKey,
		Attempt:         job.Attempt,
		CreatedAt:       job.CreatedAt,
		StartedAt:       job.StartedAt,
		CompletedAt:     job.CompletedAt,
		UpdatedAt:       job.UpdatedAt,
	}
	if job.ScheduleID != nil {
		s := job.ScheduleID.String()
		resp.ScheduleID = &s
	}
	if includeResults {
		resp.Results = toModuleResultResponses(job.Results, true)
	}
	return resp
}

func toModuleResultResponses(results []*scan.ModuleResult, includeFindings bool) []ModuleResultResponse {
	out := make([]ModuleResultResponse, 0, len(results))
	for _, r := range results {
		mr := ModuleResultResponse{
			ID:           r.ID.String(),
			ModuleName:   r.ModuleName,
			Status:       r.Status.String(),
			FindingCount: len(r.Findings),
			Error:        r.Error,
			StartedAt:    r.StartedAt,
			DurationMs:   r.Duration.Milliseconds(),
		}
		if includeFindings {
			mr.Findings = toFindingResponses(r.Findings)
		}
		out = append(out, mr)
	}
	return out
}

// CreateScan handles scan creation.
// @Summary      Trigger a scan
// @Description  Queues a scan of the given target. Only one active scan per target is allowed.
// @Tags         Scans
// @Accept       json
// @Produce      json
// @Param        request  body      CreateScanRequest  true  "Scan request"
// @Success      202      {object}  CreateScanResponse
// @Failure      400      {object}  apierror.Response
// @Failure      409      {object}  apierror.Response
// @Security     BearerAuth
// @Router       /scans [post]
func (h *ScanHandler) CreateScan(w http.ResponseWriter, r *http.Request) {
	var req CreateScanRequest
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

	input := app.EnqueueScanInput{
		OrgID:    orgID,
		TargetID: targetID,
		Profile:  req.Profile,
		Modules:  req.Modules,
		Delay:    time.Duration(req.DelaySec) * time.Second,
	}
	if userID, err := shared.IDFromString(middleware.GetUserID(r.Context())); err == nil {
		input.RequestedBy = userID
	}

	job, err := h.service.EnqueueScan(r.Context(), input)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(CreateScanResponse{
		ScanID:  job.ID.String(),
		Status:  job.Status.String(),
		Profile: job.Profile,
		Modules: job.Modules,
	})
}

// GetScan handles retrieving a single scan.
// @Summary      Get scan status
// @Description  Returns status, progress and current module; the summary is included once the scan is finished.
// @Tags         Scans
// @Produce      json
// @Param        scanID  path      string  true  "Scan ID"
// @Success      200     {object}  ScanResponse
// @Failure      404     {object}  apierror.Response
// @Security     BearerAuth
// @Router       /scans/{scanID} [get]
func (h *ScanHandler) GetScan(w http.ResponseWriter, r *http.Request) {
	orgID, err := shared.IDFromString(middleware.GetOrgID(r.Context()))
	if err != nil {
		apierror.Unauthorized("Invalid organization ID").WriteJSON(w)
		return
	}
	scanID, err := shared.IDFromString(chi.URLParam(r, "scanID"))
	if err != nil {
		apierror.BadRequest("Invalid scan ID").WriteJSON(w)
		return
	}

	job, err := h.service.Get(r.Context(), orgID, scanID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(toScanResponse(job, false))
}

// GetScanResults handles retrieving per-module results of a scan.
// @Summary      Get scan results
// @Description  Returns the per-module results of a scan, including failed and skipped modules.
// @Tags         Scans
// @Produce      json
// @Param        scanID  path      string  true  "Scan ID"
// @Success      200     {object}  ScanResponse
// @Failure      404     {object}  apierror.Response
// @Security     BearerAuth
// @Router       /scans/{scanID}/results [get]
func (h *ScanHandler) GetScanResults(w http.ResponseWriter, r *http.Request) {
	orgID, err := shared.IDFromString(middleware.GetOrgID(r.Context()))
	if err != nil {
		apierror.Unauthorized("Invalid organization ID").WriteJSON(w)
		return
	}
	scanID, err := shared.IDFromString(chi.URLParam(r, "scanID"))
	if err != nil {
		apierror.BadRequest("Invalid scan ID").WriteJSON(w)
		return
	}

	job, err := h.service.GetWithResults(r.Context(), orgID, scanID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(toScanResponse(job, true))
}

// ListScans handles listing scans.
// @Summary      List scans
// @Description  Lists the organization's scans, newest first.
// @Tags         Scans
// @Produce      json
// @Param        status         query     string  false  "Filter by status"
// @Param        target_id      query     string  false  "Filter by target"
// @Param        schedule_id    query     string  false  "Filter by schedule"
// @Param        profile        query     string  false  "Filter by profile"
// @Param        search         query     string  false  "Search in target descriptor"
// @Param        created_after  query     string  false  "Only scans created after this RFC 3339 timestamp"
// @Param        page           query     int     false  "Page number"
// @Param        per_page       query     int     false  "Items per page"
// @Success      200            {object}  ListResponse[ScanResponse]
// @Security     BearerAuth
// @Router       /scans [get]
func (h *ScanHandler) ListScans(w http.ResponseWriter, r *http.Request) {
	orgID, err := shared.IDFromString(middleware.GetOrgID(r.Context()))
	if err != nil {
		apierror.Unauthorized("Invalid organization ID").WriteJSON(w)
		return
	}

	query := r.URL.Query()
	filter := scan.Filter{
		OrgID:        &orgID,
		Profile:      query.Get("profile"),
		Search:       query.Get("search"),
		CreatedAfter: parseQueryTime(query.Get("created_after")),
	}
	if s := query.Get("status"); s != "" {
		status := scan.Status(s)
		if !status.IsValid() {
			apierror.BadRequest("Invalid status filter").WriteJSON(w)
			return
		}
		filter.Status = &status
	}
	if t := query.Get("target_id"); t != "" {
		id, err := shared.IDFromString(t)
		if err != nil {
			apierror.BadRequest("Invalid target ID filter").WriteJSON(w)
			return
		}
		filter.TargetID = &id
	}
	if s := query.Get("schedule_id"); s != "" {
		id, err := shared.IDFromString(s)
		if err != nil {
			apierror.BadRequest("Invalid schedule ID filter").WriteJSON(w)
			return
		}
		filter.ScheduleID = &id
	}

	page := pagination.New(
		parseQueryInt(query.Get("page"), 1),
		parseQueryInt(query.Get("per_page"), 20),
	)

	result, err := h.service.List(r.Context(), filter, page)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	data := make([]ScanResponse, 0, len(result.Data))
	for _, job := range result.Data {
		data = append(data, toScanResponse(job, false))
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(ListResponse[ScanResponse]{
		Data:       data,
		Total:      result.Total,
		Page:       result.Page,
		PerPage:    result.PerPage,
		TotalPages: result.TotalPages,
		Links:      NewPaginationLinks(r, result.Page, result.PerPage, result.TotalPages),
	})
}

// CancelScan handles cancelling a scan.
// @Summary      Cancel a scan
// @Description  Cancels a queued scan immediately or requests cooperative cancellation of a running one.
// @Tags         Scans
// @Produce      json
// @Param        scanID  path      string  true  "Scan ID"
// @Success      200     {object}  ScanResponse
// @Failure      404     {object}  apierror.Response
// @Failure      409     {object}  apierror.Response
// @Security     BearerAuth
// @Router       /scans/{scanID} [delete]
func (h *ScanHandler) CancelScan(w http.ResponseWriter, r *http.Request) {
	orgID, err := shared.IDFromString(middleware.GetOrgID(r.Context()))
	if err != nil {
		apierror.Unauthorized("Invalid organization ID").WriteJSON(w)
		return
	}
	scanID, err := shared.IDFromString(chi.URLParam(r, "scanID"))
	if err != nil {
		apierror.BadRequest("Invalid scan ID").WriteJSON(w)
		return
	}

	job, err := h.service.Cancel(r.Context(), orgID, scanID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(toScanResponse(job, false))
}

// GetScanReport handles resolving the report artifact of a scan.
// @Summary      Get scan report location
// @Description  Returns a presigned URL for the rendered report artifact.
// @Tags         Scans
// @Produce      json
// @Param        scanID  path      string  true  "Scan ID"
// @Success      200     {object}  ReportLocationResponse
// @Failure      404     {object}  apierror.Response
// @Security     BearerAuth
// @Router       /scans/{scanID}/report [get]
func (h *ScanHandler) GetScanReport(w http.ResponseWriter, r *http.Request) {
	orgID, err := shared.IDFromString(middleware.GetOrgID(r.Context()))
	if err != nil {
		apierror.Unauthorized("Invalid organization ID").WriteJSON(w)
		return
	}
	scanID, err := shared.IDFromString(chi.URLParam(r, "scanID"))
	if err != nil {
		apierror.BadRequest("Invalid scan ID").WriteJSON(w)
		return
	}

	location, err := h.reports.ArtifactLocation(r.Context(), orgID, scanID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(ReportLocationResponse{
		ScanID:   scanID.String(),
		Location: location,
	})
}

// GetStats handles scan statistics.
// @Summary      Scan statistics
// @Description  Returns scan counts grouped by status and profile.
// @Tags         Scans
// @Produce      json
// @Success      200  {object}  scan.Stats
// @Security     BearerAuth
// @Router       /scans/stats [get]
func (h *ScanHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	orgID, err := shared.IDFromString(middleware.GetOrgID(r.Context()))
	if err != nil {
		apierror.Unauthorized("Invalid organization ID").WriteJSON(w)
		return
	}

	stats, err := h.service.Stats(r.Context(), orgID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(stats)
}

// ListProfiles handles listing scan profiles.
// @Summary      List scan profiles
// @Description  Returns the available scan profile presets and their module plans.
// @Tags         Scans
// @Produce      json
// @Success      200  {array}  ProfileResponse
// @Security     BearerAuth
// @Router       /scans/profiles [get]
func (h *ScanHandler) ListProfiles(w http.ResponseWriter, _ *http.Request) {
	profiles := h.service.Profiles()

	data := make([]ProfileResponse, 0, len(profiles))
	for _, p := range profiles {
		data = append(data, ProfileResponse{
			Name:             p.Name,
			Description:      p.Description,
			Modules:          p.Modules,
			EstimatedSeconds: int(p.Estimated.Seconds()),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

func (h *ScanHandler) handleValidationError(w http.ResponseWriter, err error) {
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

func (h *ScanHandler) handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, scan.ErrNotFound):
		apierror.NotFound("Scan").WriteJSON(w)
	case errors.Is(err, target.ErrTargetNotFound):
		apierror.NotFound("Target").WriteJSON(w)
	case errors.Is(err, scan.ErrDuplicateActiveScan):
		apierror.Conflict("An active scan already exists for this target").WriteJSON(w)
	case errors.Is(err, scan.ErrNotCancellable):
		apierror.Conflict("Scan is already finished").WriteJSON(w)
	case errors.Is(err, target.ErrTargetDisabled):
		apierror.BadRequest("Target is disabled").WriteJSON(w)
	case errors.Is(err, scan.ErrUnknownProfile), errors.Is(err, scan.ErrUnknownModule):
		apierror.BadRequest(domainMessage(err)).WriteJSON(w)
	case errors.Is(err, scan.ErrOrchestrator):
		apierror.ServiceUnavailable("Scan queue is unavailable").WriteJSON(w)
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
