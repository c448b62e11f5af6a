// Package entities holds the pipeline's core record types: the
// canonical AuditEvent and the supporting records (queue jobs, dead
// letters, pseudonym mappings, alerts) that travel alongside it.
package entities

import (
	"encoding/json"
	"sort"
	"time"
)

// AuditAction is a namespaced action string, e.g. "auth.login.success"
// or "fhir.patient.read". It is intentionally not an enum: the action
// space is open-ended and organization-extensible.
type AuditAction = string

// Status is the outcome of the audited action.
type Status string

const (
	StatusAttempt Status = "attempt"
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

func (s Status) Valid() bool {
	switch s {
	case StatusAttempt, StatusSuccess, StatusFailure:
		return true
	default:
		return false
	}
}

// DataClassification controls compliance overlays and retention defaults.
type DataClassification string

const (
	ClassificationPublic       DataClassification = "PUBLIC"
	ClassificationInternal     DataClassification = "INTERNAL"
	ClassificationConfidential DataClassification = "CONFIDENTIAL"
	ClassificationPHI          DataClassification = "PHI"
)

func (c DataClassification) Valid() bool {
	switch c {
	case ClassificationPublic, ClassificationInternal, ClassificationConfidential, ClassificationPHI:
		return true
	default:
		return false
	}
}

// SessionContext carries the request-time context an event was
// produced under. Required whenever DataClassification is PHI.
type SessionContext struct {
	SessionID   string `json:"sessionId"`
	IPAddress   string `json:"ipAddress"`
	UserAgent   string `json:"userAgent"`
	Geolocation string `json:"geolocation,omitempty"`
}

// ExtensionValue is a tagged-sum value for the open extension map,
// replacing the source system's permissive object model: FHIR context,
// GDPR context, practitioner context, or any organization-specific
// payload that does not belong in the fixed record.
type ExtensionValue = interface{}

// AuditEvent is the canonical record every component reads and writes.
// Field 1-8 of the critical set below are immutable once persisted
// (invariant 5); everything else may be enriched in place.
type AuditEvent struct {
	// ID is an opaque UUIDv4 string assigned by the producer (C7) at
	// creation time, not by storage on insert. Assigning it at the
	// producer lets the same ID thread through broker, DLQ, and
	// storage without a round trip, and lets callers correlate a
	// Log() return value with rows that may not be durable yet.
	ID        string    `json:"id" db:"id"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
	Action    string    `json:"action" db:"action"`
	Status    Status    `json:"status" db:"status"`

	PrincipalID      string `json:"principalId,omitempty" db:"principal_id"`
	OrganizationID   string `json:"organizationId,omitempty" db:"organization_id"`
	TargetResourceType string `json:"targetResourceType,omitempty" db:"target_resource_type"`
	TargetResourceID   string `json:"targetResourceId,omitempty" db:"target_resource_id"`
	OutcomeDescription string `json:"outcomeDescription,omitempty" db:"outcome_description"`

	DataClassification DataClassification `json:"dataClassification" db:"data_classification"`
	RetentionPolicy    string             `json:"retentionPolicy" db:"retention_policy"`

	CorrelationID string `json:"correlationId,omitempty" db:"correlation_id"`
	EventVersion  string `json:"eventVersion" db:"event_version"`

	SessionContext *SessionContext `json:"sessionContext,omitempty" db:"session_context"`

	Hash          string `json:"hash,omitempty" db:"hash"`
	HashAlgorithm string `json:"hashAlgorithm" db:"hash_algorithm"`

	Signature          string `json:"signature,omitempty" db:"signature"`
	SignatureAlgorithm string `json:"signatureAlgorithm,omitempty" db:"signature_algorithm"`
	SignatureKeyID     string `json:"signatureKeyId,omitempty" db:"signature_key_id"`

	// ProcessingLatency/QueueDepth are observability fields, excluded
	// from the hash so enrichment after enqueue cannot break integrity.
	ProcessingLatency *time.Duration `json:"processingLatency,omitempty" db:"processing_latency_ms"`
	QueueDepth        *int           `json:"queueDepth,omitempty" db:"queue_depth"`

	Extensions map[string]ExtensionValue `json:"extensions,omitempty" db:"extensions"`
}

// DefaultEventVersion is stamped on events that do not specify one.
const DefaultEventVersion = "1.0"

// DefaultRetentionPolicy is the fallback policy identifier.
const DefaultRetentionPolicy = "standard"

// HashAlgorithmSHA256 is the only supported hash algorithm tag.
const HashAlgorithmSHA256 = "SHA-256"

// criticalFieldSet lists the fields that participate in the integrity
// hash, in spec-mandated lexicographic key order.
var criticalFieldSet = []string{
	"action",
	"organizationId",
	"outcomeDescription",
	"principalId",
	"status",
	"targetResourceId",
	"targetResourceType",
	"timestamp",
}

// CriticalFieldProjection returns the critical-field-set map used as
// hashing input, as an unordered map (CanonicalHashInput sorts the
// keys). Absent fields resolve to JSON
// null, matching spec §4.1's explicit encoding rule.
func (e *AuditEvent) CriticalFieldProjection() map[string]interface{} {
	return map[string]interface{}{
		"action":             nullableString(e.Action),
		"organizationId":     nullableString(e.OrganizationID),
		"outcomeDescription": nullableString(e.OutcomeDescription),
		"principalId":        nullableString(e.PrincipalID),
		"status":             nullableString(string(e.Status)),
		"targetResourceId":   nullableString(e.TargetResourceID),
		"targetResourceType": nullableString(e.TargetResourceType),
		"timestamp":          e.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// CanonicalHashInput renders the critical field projection as
// `key=jsonvalue` pairs sorted by key and joined with "|", the exact
// byte sequence C1 hashes. Kept on the entity (rather than only in the
// crypto package) so any component can reproduce the input for
// debugging without importing crypto.
func (e *AuditEvent) CanonicalHashInput() ([]byte, error) {
	projection := e.CriticalFieldProjection()
	keys := make([]string, 0, len(projection))
	for k := range projection {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		encoded, err := json.Marshal(projection[k])
		if err != nil {
			return nil, err
		}
		parts = append(parts, k+"="+string(encoded))
	}

	out := parts[0]
	for _, p := range parts[1:] {
		out += "|" + p
	}
	return []byte(out), nil
}

// IsPHI reports whether this event carries protected health information.
func (e *AuditEvent) IsPHI() bool {
	return e.DataClassification == ClassificationPHI
}

// RequiresSessionContext enforces invariant 3: PHI events must carry a
// session context.
func (e *AuditEvent) RequiresSessionContext() bool {
	return e.IsPHI()
}

// ApplyDefaults fills in the fields the producer is responsible for
// defaulting before validation: classification, retention policy,
// event version, and hash algorithm tag.
func (e *AuditEvent) ApplyDefaults() {
	if e.DataClassification == "" {
		e.DataClassification = ClassificationInternal
	}
	if e.RetentionPolicy == "" {
		e.RetentionPolicy = DefaultRetentionPolicy
	}
	if e.EventVersion == "" {
		e.EventVersion = DefaultEventVersion
	}
	if e.HashAlgorithm == "" {
		e.HashAlgorithm = HashAlgorithmSHA256
	}
}

// DuplicateKey returns the tuple storage uses to enforce exactly-once
// semantics: (correlationId, action, timestamp, principalId).
func (e *AuditEvent) DuplicateKey() string {
	return e.CorrelationID + "|" + e.Action + "|" + e.Timestamp.UTC().Format(time.RFC3339Nano) + "|" + e.PrincipalID
}

// Clone returns a deep-enough copy for mutation in pseudonymization and
// retention flows: the extension map and session context are copied so
// callers cannot accidentally alias the original event.
func (e *AuditEvent) Clone() *AuditEvent {
	clone := *e
	if e.SessionContext != nil {
		sc := *e.SessionContext
		clone.SessionContext = &sc
	}
	if e.Extensions != nil {
		clone.Extensions = make(map[string]ExtensionValue, len(e.Extensions))
		for k, v := range e.Extensions {
			clone.Extensions[k] = v
		}
	}
	return &clone
}

// PseudonymizablePrincipal replaces PrincipalID with pseudonymID. Per
// invariant 5, this is the only post-persistence mutation allowed on
// the critical field set, and only the GDPR flow (C10) may call it.
func (e *AuditEvent) PseudonymizablePrincipal(pseudonymID string) {
	e.PrincipalID = pseudonymID
}
