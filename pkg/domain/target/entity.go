// Package target defines the scan target entity: a validated host, IP, URL or
// CIDR owned by an organization.
package target

import (
	"fmt"
	"strings"
	"time"

	"github.com/vulnscanio/engine/pkg/domain/shared"
)

// ID is a type alias for shared.ID.
type ID = shared.ID

// Type classifies the target value.
type Type string

const (
	TypeDomain   Type = "domain"
	TypeIP       Type = "ip"
	TypeURL      Type = "url"
	TypeHostPort Type = "host_port"
	TypeCIDR     Type = "cidr"
)

// IsValid returns true if the type is valid.
func (t Type) IsValid() bool {
	switch t {
	case TypeDomain, TypeIP, TypeURL, TypeHostPort, TypeCIDR:
		return true
	}
	return false
}

// String returns the string representation of the type.
func (t Type) String() string {
	return string(t)
}

// Target represents a validated scan target. The stored value is the
// normalized form produced by target validation, so lookups and the
// one-active-scan rule key on a canonical string.
type Target struct {
	id                ID
	orgID             ID
	value             string
	kind              Type
	registrableDomain string
	description       string
	tags              []string
	verified          bool
	enabled           bool
	lastScanAt        *time.Time
	createdBy         *ID
	createdAt         time.Time
	updatedAt         time.Time
}

// NewTarget creates an enabled, unverified target.
func NewTarget(orgID ID, value string, kind Type) (*Target, error) {
	if orgID.IsZero() {
		return nil, fmt.Errorf("%w: org_id is required", shared.ErrValidation)
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, fmt.Errorf("%w: value is required", shared.ErrValidation)
	}
	if !kind.IsValid() {
		return nil, ErrUnknownType
	}

	now := time.Now()
	return &Target{
		id:        shared.NewID(),
		orgID:     orgID,
		value:     value,
		kind:      kind,
		tags:      []string{},
		enabled:   true,
		createdAt: now,
		updatedAt: now,
	}, nil
}

// Reconstruct creates a Target from stored data.
func Reconstruct(
	id, orgID ID,
	value string,
	kind Type,
	registrableDomain string,
	description string,
	tags []string,
	verified, enabled bool,
	lastScanAt *time.Time,
	createdBy *ID,
	createdAt, updatedAt time.Time,
) *Target {
	if tags == nil {
		tags = []string{}
	}
	return &Target{
		id:                id,
		orgID:             orgID,
		value:             value,
		kind:              kind,
		registrableDomain: registrableDomain,
		description:       description,
		tags:              tags,
		verified:          verified,
		enabled:           enabled,
		lastScanAt:        lastScanAt,
		createdBy:         createdBy,
		createdAt:         createdAt,
		updatedAt:         updatedAt,
	}
}

// --- Getters ---

func (t *Target) ID() ID                    { return t.id }
func (t *Target) OrgID() ID                 { return t.orgID }
func (t *Target) Value() string             { return t.value }
func (t *Target) Kind() Type                { return t.kind }
func (t *Target) RegistrableDomain() string { return t.registrableDomain }
func (t *Target) Description() string       { return t.description }
func (t *Target) Tags() []string            { return t.tags }
func (t *Target) Verified() bool            { return t.verified }
func (t *Target) Enabled() bool             { return t.enabled }
func (t *Target) LastScanAt() *time.Time    { return t.lastScanAt }
func (t *Target) CreatedBy() *ID            { return t.createdBy }
func (t *Target) CreatedAt() time.Time      { return t.createdAt }
func (t *Target) UpdatedAt() time.Time      { return t.updatedAt }

// --- Setters ---

func (t *Target) SetRegistrableDomain(d string) { t.registrableDomain = d; t.updatedAt = time.Now() }
func (t *Target) SetDescription(d string)       { t.description = d; t.updatedAt = time.Now() }
func (t *Target) SetTags(tags []string) {
	if tags == nil {
		tags = []string{}
	}
	t.tags = tags
	t.updatedAt = time.Now()
}
func (t *Target) SetCreatedBy(id ID) { t.createdBy = &id }

// Verify marks ownership of the target as proven.
func (t *Target) Verify() {
	t.verified = true
	t.updatedAt = time.Now()
}

// Enable enables the target for scanning.
func (t *Target) Enable() {
	t.enabled = true
	t.updatedAt = time.Now()
}

// Disable takes the target out of scanning without deleting its history.
func (t *Target) Disable() {
	t.enabled = false
	t.updatedAt = time.Now()
}

// MarkScanned records when a scan of this target last finished.
func (t *Target) MarkScanned(at time.Time) {
	t.lastScanAt = &at
	t.updatedAt = time.Now()
}

// --- Errors ---

var (
	ErrTargetNotFound = fmt.Errorf("%w: target not found", shared.ErrNotFound)
	ErrTargetExists   = fmt.Errorf("%w: target already exists", shared.ErrConflict)
	ErrUnknownType    = fmt.Errorf("%w: unknown target type", shared.ErrValidation)
	ErrTargetDisabled = fmt.Errorf("%w: target is disabled", shared.ErrValidation)
)
