package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/vulnscanio/engine/internal/config"
	"github.com/vulnscanio/engine/pkg/domain/shared"
	"github.com/vulnscanio/engine/pkg/domain/target"
	"github.com/vulnscanio/engine/pkg/logger"
	"github.com/vulnscanio/engine/pkg/pagination"
	"github.com/vulnscanio/engine/pkg/validator"
)

// TargetService manages the scan target inventory. Every stored value has
// passed target validation, so the rest of the engine can trust the
// normalized form.
type TargetService struct {
	targetRepo target.Repository
	validator  *validator.TargetValidator
	logger     *logger.Logger
}

// NewTargetService creates a new TargetService. Internal and localhost
// addresses are rejected unless the scan configuration allows them.
func NewTargetService(targetRepo target.Repository, cfg config.ScanConfig, log *logger.Logger) *TargetService {
	return &TargetService{
		targetRepo: targetRepo,
		validator: validator.NewTargetValidator(
			validator.WithAllowInternalIPs(cfg.AllowInternalTargets),
			validator.WithAllowLocalhost(cfg.AllowInternalTargets),
		),
		logger: log.With("service", "target"),
	}
}

// CreateTargetInput carries the fields for a new target.
type CreateTargetInput struct {
	OrgID       shared.ID
	Value       string
	Description string
	Tags        []string
	CreatedBy   *shared.ID
}

// Create validates, classifies and stores a new target.
func (s *TargetService) Create(ctx context.Context, input CreateTargetInput) (*target.Target, error) {
	vt := s.validator.ValidateSingleTarget(input.Value)
	if !vt.IsValid {
		return nil, fmt.Errorf("%w: %s", shared.ErrValidation, vt.Error)
	}

	t, err := target.NewTarget(input.OrgID, vt.Value, domainTargetType(vt.Type))
	if err != nil {
		return nil, err
	}
	if vt.RegistrableDomain != "" {
		t.SetRegistrableDomain(vt.RegistrableDomain)
	}
	if input.Description != "" {
		t.SetDescription(input.Description)
	}
	if len(input.Tags) > 0 {
		t.SetTags(input.Tags)
	}
	if input.CreatedBy != nil {
		t.SetCreatedBy(*input.CreatedBy)
	}

	if err := s.targetRepo.Create(ctx, t); err != nil {
		return nil, err
	}

	s.logger.Info("target created",
		"target_id", t.ID().String(),
		"org_id", input.OrgID.String(),
		"value", t.Value(),
		"kind", t.Kind(),
	)
	return t, nil
}

// ImportResult reports the outcome of a bulk import.
type ImportResult struct {
	Created []*target.Target
	Skipped []validator.ValidatedTarget
}

// ImportBatch validates a list of raw target values and stores the valid
// ones. Invalid entries and duplicates are reported back, not treated as
// errors; bulk imports are expected to be messy.
func (s *TargetService) ImportBatch(ctx context.Context, orgID shared.ID, values []string, createdBy *shared.ID) (*ImportResult, error) {
	res := s.validator.ValidateTargets(values)

	out := &ImportResult{Skipped: res.Invalid}
	for _, vt := range res.Valid {
		t, err := target.NewTarget(orgID, vt.Value, domainTargetType(vt.Type))
		if err != nil {
			vt.Error = err.Error()
			out.Skipped = append(out.Skipped, vt)
			continue
		}
		if vt.RegistrableDomain != "" {
			t.SetRegistrableDomain(vt.RegistrableDomain)
		}
		if createdBy != nil {
			t.SetCreatedBy(*createdBy)
		}

		if err := s.targetRepo.Create(ctx, t); err != nil {
			if shared.IsConflict(err) {
				vt.Error = "already exists"
				out.Skipped = append(out.Skipped, vt)
				continue
			}
			return nil, fmt.Errorf("create target %q: %w", vt.Value, err)
		}
		out.Created = append(out.Created, t)
	}

	s.logger.Info("targets imported",
		"org_id", orgID.String(),
		"created", len(out.Created),
		"skipped", len(out.Skipped),
	)
	return out, nil
}

// Get returns a target scoped to the organization.
func (s *TargetService) Get(ctx context.Context, orgID, id shared.ID) (*target.Target, error) {
	return s.targetRepo.GetByID(ctx, id, orgID)
}

// List lists the organization's targets. The org scope in the filter is
// always overridden with the caller's.
func (s *TargetService) List(ctx context.Context, orgID shared.ID, filter target.Filter, page pagination.Pagination) (pagination.Result[*target.Target], error) {
	filter.OrgID = &orgID
	return s.targetRepo.List(ctx, filter, page)
}

// UpdateTargetInput carries target updates. Nil fields are left as-is.
// The value itself is immutable; a different endpoint is a new target.
type UpdateTargetInput struct {
	Description *string
	Tags        []string
	Enabled     *bool
	Verified    *bool
}

// Update applies the given changes to a target.
func (s *TargetService) Update(ctx context.Context, orgID, id shared.ID, input UpdateTargetInput) (*target.Target, error) {
	t, err := s.targetRepo.GetByID(ctx, id, orgID)
	if err != nil {
		return nil, err
	}

	if input.Description != nil {
		t.SetDescription(strings.TrimSpace(*input.Description))
	}
	if input.Tags != nil {
		t.SetTags(input.Tags)
	}
	if input.Enabled != nil {
		if *input.Enabled {
			t.Enable()
		} else {
			t.Disable()
		}
	}
	if input.Verified != nil && *input.Verified {
		t.Verify()
	}

	if err := s.targetRepo.Update(ctx, t); err != nil {
		return nil, fmt.Errorf("update target: %w", err)
	}
	return t, nil
}

// Delete removes a target. Scan history rows keep their copied descriptor,
// so past results stay readable.
func (s *TargetService) Delete(ctx context.Context, orgID, id shared.ID) error {
	if err := s.targetRepo.Delete(ctx, id, orgID); err != nil {
		return err
	}
	s.logger.Info("target deleted", "target_id", id.String(), "org_id", orgID.String())
	return nil
}

// domainTargetType maps a classified validator type onto the stored kind.
// IPv4 and IPv6 collapse into one; the distinction only matters during
// validation.
func domainTargetType(t validator.TargetType) target.Type {
	switch t {
	case validator.TargetTypeDomain:
		return target.TypeDomain
	case validator.TargetTypeIPv4, validator.TargetTypeIPv6:
		return target.TypeIP
	case validator.TargetTypeCIDR:
		return target.TypeCIDR
	case validator.TargetTypeURL:
		return target.TypeURL
	case validator.TargetTypeHostPort:
		return target.TypeHostPort
	default:
		return target.TypeDomain
	}
}
