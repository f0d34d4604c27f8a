// Package validator provides struct validation utilities with custom validators.
package validator

import (
	stderrors "errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"

	"github.com/vulnscanio/engine/pkg/domain/channel"
	"github.com/vulnscanio/engine/pkg/domain/finding"
	"github.com/vulnscanio/engine/pkg/domain/scan"
)

// cveIDRegex validates CVE IDs: CVE-YYYY-NNNNN (4+ digits)
var cveIDRegex = regexp.MustCompile(`^CVE-\d{4}-\d{4,}$`)

// moduleNameRegex validates scanner module names: lowercase snake_case.
var moduleNameRegex = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Validator wraps the go-playground validator with custom validations.
type Validator struct {
	validate *validator.Validate
}

// ValidationError represents a single field validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, e := range v {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(fmt.Sprintf("%s: %s", e.Field, e.Message))
	}
	return sb.String()
}

// New creates a new Validator with custom validators registered.
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Scan domain
	_ = v.RegisterValidation("scan_status", validateScanStatus)
	_ = v.RegisterValidation("module_name", validateModuleName)
	_ = v.RegisterValidation("cron", validateCron)

	// Finding domain
	_ = v.RegisterValidation("severity", validateSeverity)
	_ = v.RegisterValidation("cve_id", validateCVEID)

	// Channel domain
	_ = v.RegisterValidation("channel_kind", validateChannelKind)
	_ = v.RegisterValidation("event_type", validateEventType)

	return &Validator{validate: v}
}

// Validate validates a struct and returns ValidationErrors if validation fails.
func (v *Validator) Validate(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !stderrors.As(err, &validationErrors) {
		return err
	}

	result := make(ValidationErrors, 0, len(validationErrors))
	for _, e := range validationErrors {
		result = append(result, ValidationError{
			Field:   toSnakeCase(e.Field()),
			Message: formatErrorMessage(e),
		})
	}

	return result
}

// validateScanStatus validates that a string is a valid scan Status.
func validateScanStatus(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true // Let 'required' handle empty values
	}
	return scan.Status(value).IsValid()
}

// validateModuleName validates scanner module name format.
func validateModuleName(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true // Let 'required' handle empty values
	}
	return moduleNameRegex.MatchString(value)
}

// validateCron validates a standard 5-field cron expression.
func validateCron(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true // Let 'required' handle empty values
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	_, err := parser.Parse(value)
	return err == nil
}

// validateSeverity validates that a string is a valid finding Severity.
func validateSeverity(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true // Let 'required' handle empty values
	}
	_, err := finding.ParseSeverity(value)
	return err == nil
}

// validateCVEID validates that a string is a valid CVE ID (CVE-YYYY-NNNNN).
func validateCVEID(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true // Let 'required' handle empty values
	}
	return cveIDRegex.MatchString(strings.ToUpper(value))
}

// validateChannelKind validates that a string is a valid channel Kind.
func validateChannelKind(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true // Let 'required' handle empty values
	}
	return channel.Kind(value).IsValid()
}

// validateEventType validates that a string is a subscribable event type.
func validateEventType(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true // Let 'required' handle empty values
	}
	return channel.ValidEventType(value)
}

// formatErrorMessage converts validation errors to human-readable messages.
func formatErrorMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s characters", e.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", e.Param())
	case "email":
		return "must be a valid email address"
	case "url":
		return "must be a valid URL"
	case "scan_status":
		return fmt.Sprintf("must be one of: %s", formatStatuses())
	case "module_name":
		return "must be lowercase snake_case (e.g., port_scan)"
	case "cron":
		return "must be a valid cron expression (e.g., 0 2 * * *)"
	case "severity":
		return fmt.Sprintf("must be one of: %s", formatSeverities())
	case "cve_id":
		return "must be a valid CVE ID (e.g., CVE-2024-12345)"
	case "channel_kind":
		return "must be one of: slack, teams, webhook"
	case "event_type":
		return fmt.Sprintf("must be one of: %s", strings.Join(channel.AllEventTypes(), ", "))
	case "oneof":
		return fmt.Sprintf("must be one of: %s", e.Param())
	case "uuid":
		return "must be a valid UUID"
	default:
		return fmt.Sprintf("failed on '%s' validation", e.Tag())
	}
}

// toSnakeCase converts PascalCase/camelCase to snake_case.
func toSnakeCase(s string) string {
	var result strings.Builder
	for i, r := range s {
		if i > 0 && r >= 'A' && r <= 'Z' {
			result.WriteByte('_')
		}
		result.WriteRune(r)
	}
	return strings.ToLower(result.String())
}

// formatStatuses returns a comma-separated list of valid scan statuses.
func formatStatuses() string {
	statuses := scan.AllStatuses()
	strs := make([]string, len(statuses))
	for i, s := range statuses {
		strs[i] = string(s)
	}
	return strings.Join(strs, ", ")
}

// formatSeverities returns a comma-separated list of valid severities.
func formatSeverities() string {
	severities := finding.AllSeverities()
	strs := make([]string, len(severities))
	for i, s := range severities {
		strs[i] = string(s)
	}
	return strings.Join(strs, ", ")
}
