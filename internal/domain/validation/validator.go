// Package validation implements C2, the validator/sanitizer: required
// field checks, string sanitization, and the HIPAA/GDPR compliance
// overlays. Validator holds a pkg/validation instance, but
// ValidateAndSanitize does not call it: every check here is hand-written.
package validation

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/complyaudit/audit-core/internal/domain/entities"
	"github.com/complyaudit/audit-core/pkg/apierr"
	basevalidation "github.com/complyaudit/audit-core/pkg/validation"
)

// personalDataActionPrefixes names the action namespaces GDPR legal
// basis requirements apply to.
var personalDataActionPrefixes = []string{"auth.", "data.", "user.", "consent.", "fhir."}

// dataSubjectRightsActions require gdprContext.dataSubjectId.
var dataSubjectRightsActions = map[string]bool{
	"data.export":     true,
	"data.delete":     true,
	"data.rectify":    true,
	"data.access":     true,
	"consent.withdraw": true,
}

// Config tunes the validator/sanitizer for one call.
type Config struct {
	MaxStringLength int
	MaxNestingDepth int
	PHIResourceTypes map[string]bool
	Compliance       []string // e.g. "hipaa", "gdpr"
}

// DefaultConfig matches spec §4.2's stated defaults.
func DefaultConfig() Config {
	return Config{
		MaxStringLength:  10_000,
		MaxNestingDepth:  3,
		PHIResourceTypes: map[string]bool{"Patient": true, "Observation": true, "Condition": true, "MedicationRequest": true},
	}
}

// GDPRContext is the extension payload a caller supplies for
// GDPR-relevant actions.
type GDPRContext struct {
	LegalBasis    string `json:"legalBasis,omitempty"`
	DataSubjectID string `json:"dataSubjectId,omitempty"`
}

// Result carries the sanitized event alongside any errors/warnings
// encountered. A non-empty Errors list means the caller must not
// proceed — the event is not mutated on failure.
type Result struct {
	SanitizedEvent *entities.AuditEvent
	Errors         []string
	Warnings       []string
}

func (r *Result) Valid() bool { return len(r.Errors) == 0 }

// Validator is C2: required-field checks, sanitization, and overlays.
type Validator struct {
	base *basevalidation.Validator
}

// NewValidator constructs a Validator.
func NewValidator() *Validator {
	return &Validator{base: basevalidation.NewValidator()}
}

// ValidateAndSanitize implements spec §4.2's contract. It never
// mutates event in place: on success, the returned Result.SanitizedEvent
// is a distinct value.
func (v *Validator) ValidateAndSanitize(event *entities.AuditEvent, cfg Config) *Result {
	result := &Result{}

	if cfg.MaxStringLength == 0 {
		cfg.MaxStringLength = DefaultConfig().MaxStringLength
	}
	if cfg.MaxNestingDepth == 0 {
		cfg.MaxNestingDepth = DefaultConfig().MaxNestingDepth
	}

	if err := requiredFieldErrors(event); err != nil {
		result.Errors = append(result.Errors, err...)
		return result
	}

	sanitized := event.Clone()

	if sanitized.Status != "" && !sanitized.Status.Valid() {
		result.Errors = append(result.Errors, fmt.Sprintf("status %q is not one of attempt/success/failure", sanitized.Status))
	}

	if sanitized.DataClassification != "" {
		upper := entities.DataClassification(strings.ToUpper(string(sanitized.DataClassification)))
		sanitized.DataClassification = upper
		if !upper.Valid() {
			result.Errors = append(result.Errors, fmt.Sprintf("dataClassification %q is not a recognized level", upper))
		}
	}

	if _, err := time.Parse(time.RFC3339Nano, sanitized.Timestamp.Format(time.RFC3339Nano)); err != nil {
		result.Errors = append(result.Errors, "timestamp must be a valid ISO 8601 timestamp")
	}

	truncate(&sanitized.OutcomeDescription, cfg.MaxStringLength, &result.Warnings, "outcomeDescription")
	truncate(&sanitized.TargetResourceID, cfg.MaxStringLength, &result.Warnings, "targetResourceId")

	sanitizeString(&sanitized.OutcomeDescription)
	sanitizeString(&sanitized.TargetResourceType)
	sanitizeString(&sanitized.TargetResourceID)

	if sanitized.Extensions != nil {
		visited := make(map[uintptr]bool)
		sanitized.Extensions = sanitizeMap(sanitized.Extensions, cfg.MaxNestingDepth, 0, visited, &result.Warnings)
	}

	if sanitized.SessionContext != nil {
		if err := normalizeIP(&sanitized.SessionContext.IPAddress); err != nil {
			result.Errors = append(result.Errors, err.Error())
		}
		sanitizeString(&sanitized.SessionContext.UserAgent)
	}

	for _, c := range cfg.Compliance {
		switch strings.ToLower(c) {
		case "hipaa":
			applyHIPAAOverlay(sanitized, cfg, result)
		case "gdpr":
			applyGDPROverlay(sanitized, result)
		}
	}

	if len(result.Errors) > 0 {
		return &Result{Errors: result.Errors, Warnings: result.Warnings}
	}
	result.SanitizedEvent = sanitized
	return result
}

func requiredFieldErrors(event *entities.AuditEvent) []string {
	var errs []string
	if event.Timestamp.IsZero() {
		errs = append(errs, "timestamp is required")
	}
	if strings.TrimSpace(event.Action) == "" {
		errs = append(errs, "action is required")
	}
	if event.Status == "" {
		errs = append(errs, "status is required")
	}
	return errs
}

func applyHIPAAOverlay(event *entities.AuditEvent, cfg Config, result *Result) {
	if event.RequiresSessionContext() && event.SessionContext == nil {
		result.Errors = append(result.Errors, "dataClassification=PHI requires sessionContext (HIPAA)")
	}
	if cfg.PHIResourceTypes[event.TargetResourceType] && event.DataClassification != entities.ClassificationPHI {
		result.Errors = append(result.Errors, fmt.Sprintf("targetResourceType %q is a PHI resource and requires dataClassification=PHI", event.TargetResourceType))
	}
}

func applyGDPROverlay(event *entities.AuditEvent, result *Result) {
	gdprCtx, _ := event.Extensions["gdprContext"].(map[string]interface{})

	isPersonalData := false
	for _, prefix := range personalDataActionPrefixes {
		if strings.HasPrefix(event.Action, prefix) {
			isPersonalData = true
			break
		}
	}
	if isPersonalData {
		legalBasis, _ := gdprCtx["legalBasis"].(string)
		if legalBasis == "" {
			result.Errors = append(result.Errors, fmt.Sprintf("action %q requires gdprContext.legalBasis (GDPR)", event.Action))
		}
	}

	if dataSubjectRightsActions[event.Action] {
		subjectID, _ := gdprCtx["dataSubjectId"].(string)
		if subjectID == "" {
			result.Errors = append(result.Errors, fmt.Sprintf("action %q requires gdprContext.dataSubjectId (GDPR)", event.Action))
		}
	}
}

func truncate(s *string, max int, warnings *[]string, field string) {
	if len(*s) <= max {
		return
	}
	suffix := "...[truncated]"
	if max <= len(suffix) {
		// No room for the suffix within max: cut to max without it.
		*s = (*s)[:max]
	} else {
		*s = (*s)[:max-len(suffix)] + suffix
	}
	*warnings = append(*warnings, fmt.Sprintf("%s exceeded max length and was truncated", field))
}

func normalizeIP(ip *string) error {
	if *ip == "" {
		return nil
	}
	parsed := net.ParseIP(*ip)
	if parsed == nil {
		return apierr.New(apierr.CodeValidation, fmt.Sprintf("sessionContext.ipAddress %q is not a valid IPv4 or IPv6 address", *ip))
	}
	if v4 := parsed.To4(); v4 != nil {
		*ip = v4.String() // strips IPv4 leading zeros/non-canonical forms
	} else {
		*ip = strings.ToLower(parsed.String())
	}
	return nil
}
