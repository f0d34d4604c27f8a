package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/vulnscanio/engine/internal/app"
	"github.com/vulnscanio/engine/internal/infra/http/middleware"
	"github.com/vulnscanio/engine/pkg/apierror"
	"github.com/vulnscanio/engine/pkg/domain/finding"
	"github.com/vulnscanio/engine/pkg/domain/shared"
	"github.com/vulnscanio/engine/pkg/logger"
	"github.com/vulnscanio/engine/pkg/pagination"
)

// FindingHandler handles finding query endpoints.
type FindingHandler struct {
	service *app.FindingService
	logger  *logger.Logger
}

// NewFindingHandler creates a new finding handler.
func NewFindingHandler(service *app.FindingService, log *logger.Logger) *FindingHandler {
	return &FindingHandler{
		service: service,
		logger:  log.With("handler", "finding"),
	}
}

// FindingResponse represents a finding in API responses.
type FindingResponse struct {
	ID                string         `json:"id"`
	ScanID            string         `json:"scan_id"`
	Module            string         `json:"module"`
	Severity          string         `json:"severity"`
	Category          string         `json:"category,omitempty"`
	Title             string         `json:"title"`
	Description       string         `json:"description,omitempty"`
	CVEID             string         `json:"cve_id,omitempty"`
	CVSSScore         float64        `json:"cvss_score,omitempty"`
	AffectedComponent string         `json:"affected_component,omitempty"`
	Evidence          string         `json:"evidence,omitempty"`
	Remediation       string         `json:"remediation,omitempty"`
	References        []string       `json:"references,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}

func toFindingResponse(f *finding.Finding) FindingResponse {
	return FindingResponse{
		ID:                f.ID.String(),
		ScanID:            f.ScanID.String(),
		Module:            f.Module,
		Severity:          f.Severity.String(),
		Category:          f.Category,
		Title:             f.Title,
		Description:       f.Description,
		CVEID:             f.CVEID,
		CVSSScore:         f.CVSSScore,
		AffectedComponent: f.AffectedComponent,
		Evidence:          f.Evidence,
		Remediation:       f.Remediation,
		References:        f.References,
		Metadata:          f.Metadata,
		CreatedAt:         f.CreatedAt,
	}
}

func toFindingResponses(findings []*finding.Finding) []FindingResponse {
	out := make([]FindingResponse, 0, len(findings))
	for _, f := range findings {
		out = append(out, toFindingResponse(f))
	}
	return out
}

// ListFindings handles listing findings.
// @Summary      List findings
// @Description  Lists the organization's findings across scans, newest first.
// @Tags         Findings
// @Produce      json
// @Param        scan_id   query     string  false  "Filter by scan"
// @Param        module    query     string  false  "Filter by producing module"
// @Param        severity  query     string  false  "Filter by severity"
// @Param        cve_only  query     bool    false  "Only findings with a CVE"
// @Param        search    query     string  false  "Search in title and description"
// @Param        page      query     int     false  "Page number"
// @Param        per_page  query     int     false  "Items per page"
// @Success      200       {object}  ListResponse[FindingResponse]
// @Security     BearerAuth
// @Router       /findings [get]
func (h *FindingHandler) ListFindings(w http.ResponseWriter, r *http.Request) {
	orgID, err := shared.IDFromString(middleware.GetOrgID(r.Context()))
	if err != nil {
		apierror.Unauthorized("Invalid organization ID").WriteJSON(w)
		return
	}

	query := r.URL.Query()
	filter := finding.Filter{
		Module: query.Get("module"),
		Search: query.Get("search"),
	}
	if s := query.Get("scan_id"); s != "" {
		id, err := shared.IDFromString(s)
		if err != nil {
			apierror.BadRequest("Invalid scan ID filter").WriteJSON(w)
			return
		}
		filter.ScanID = &id
	}
	if s := query.Get("severity"); s != "" {
		sev, err := finding.ParseSeverity(s)
		if err != nil {
			apierror.BadRequest("Invalid severity filter").WriteJSON(w)
			return
		}
		filter.Severity = &sev
	}
	if b := parseQueryBool(query.Get("cve_only")); b != nil {
		filter.CVEOnly = *b
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

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(ListResponse[FindingResponse]{
		Data:       toFindingResponses(result.Data),
		Total:      result.Total,
		Page:       result.Page,
		PerPage:    result.PerPage,
		TotalPages: result.TotalPages,
		Links:      NewPaginationLinks(r, result.Page, result.PerPage, result.TotalPages),
	})
}

// GetSeverityBreakdown handles the severity breakdown.
// @Summary      Findings by severity
// @Description  Returns the organization's finding counts grouped by severity.
// @Tags         Findings
// @Produce      json
// @Success      200  {object}  map[string]int64
// @Security     BearerAuth
// @Router       /findings/by-severity [get]
func (h *FindingHandler) GetSeverityBreakdown(w http.ResponseWriter, r *http.Request) {
	orgID, err := shared.IDFromString(middleware.GetOrgID(r.Context()))
	if err != nil {
		apierror.Unauthorized("Invalid organization ID").WriteJSON(w)
		return
	}

	counts, err := h.service.BySeverity(r.Context(), orgID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	// Every severity appears in the response, zero counts included, so
	// dashboards never need to special-case missing keys.
	breakdown := make(map[string]int64, len(finding.AllSeverities()))
	for _, sev := range finding.AllSeverities() {
		breakdown[sev.String()] = counts[sev]
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(breakdown)
}

func (h *FindingHandler) handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrValidation):
		apierror.BadRequest(domainMessage(err)).WriteJSON(w)
	case errors.Is(err, shared.ErrNotFound):
		apierror.NotFound("Resource").WriteJSON(w)
	default:
		h.logger.Error("service error", "error", err)
		apierror.InternalError(err).WriteJSON(w)
	}
}
