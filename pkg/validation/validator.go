// Package validation wraps go-playground/validator with the custom
// rules the audit pipeline's struct tags use. It knows nothing about
// HTTP: callers apply it to plain Go structs.
package validation

import (
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/complyaudit/audit-core/pkg/apierr"
)

// Validator wraps the validator library with audit-domain rules.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a new validator instance with the pipeline's
// custom tags registered.
func NewValidator() *Validator {
	v := validator.New()

	v.RegisterValidation("iso8601", validateISO8601)
	v.RegisterValidation("classification", validateClassification)
	v.RegisterValidation("ipaddr", validateIPAddr)
	v.RegisterValidation("safe_audit_string", validateSafeAuditString)
	v.RegisterValidation("audit_status", validateAuditStatus)

	return &Validator{validate: v}
}

// Validate validates a struct and returns an apierr.CodeValidation
// error when it fails.
func (v *Validator) Validate(s interface{}) error {
	if err := v.validate.Struct(s); err != nil {
		return apierr.Wrap(apierr.CodeValidation, err.Error(), err)
	}
	return nil
}

// Custom validation functions

// validateISO8601 checks the field parses as RFC3339 (ISO 8601's
// common profile), with or without fractional seconds.
func validateISO8601(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true
	}
	if _, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return true
	}
	_, err := time.Parse(time.RFC3339, value)
	return err == nil
}

// validateClassification checks the field (case-normalized) is one of
// the four data classification levels.
func validateClassification(fl validator.FieldLevel) bool {
	switch strings.ToUpper(fl.Field().String()) {
	case "PUBLIC", "INTERNAL", "CONFIDENTIAL", "PHI":
		return true
	default:
		return false
	}
}

// validateAuditStatus checks the field is one of attempt/success/failure.
func validateAuditStatus(fl validator.FieldLevel) bool {
	switch strings.ToLower(fl.Field().String()) {
	case "attempt", "success", "failure":
		return true
	default:
		return false
	}
}

// validateIPAddr accepts either IPv4 or IPv6 literals.
func validateIPAddr(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true
	}
	return net.ParseIP(value) != nil
}

// dangerousAuditStringPatterns flags payloads that look like injection
// attempts riding along in a free-text audit field (outcome
// description, user agent, extension values).
var dangerousAuditStringPatterns = []string{
	"<script", "</script>", "javascript:", "vbscript:",
	"onload=", "onerror=", "onclick=",
	"\x00",
}

// validateSafeAuditString rejects control characters (other than
// tab/newline/CR) and common script-injection markers. Sanitization
// (internal/domain/validation) is responsible for cleaning these up;
// this tag is for callers that want a hard reject instead.
func validateSafeAuditString(fl validator.FieldLevel) bool {
	str := fl.Field().String()
	lower := strings.ToLower(str)
	for _, pattern := range dangerousAuditStringPatterns {
		if strings.Contains(lower, pattern) {
			return false
		}
	}
	return !controlCharPattern.MatchString(str)
}

var controlCharPattern = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F]`)
