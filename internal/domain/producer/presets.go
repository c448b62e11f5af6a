package producer

import (
	"context"

	"github.com/complyaudit/audit-core/internal/domain/entities"
)

// Preset fills in default fields for a named event family (e.g.
// "fhir", "auth") so callers don't repeat classification/retention
// boilerplate on every call.
type Preset struct {
	Name               string
	DataClassification entities.DataClassification
	RetentionPolicy    string
}

// ApplyDefaultsTo fills event's classification/retention where they are
// empty or still hold the entity defaults (INTERNAL classification,
// "standard" retention). Other caller values are kept; a caller value
// equal to one of those defaults is replaced by the preset's.
func (p Preset) ApplyDefaultsTo(event *entities.AuditEvent) {
	if event.DataClassification == "" || event.DataClassification == entities.ClassificationInternal {
		if p.DataClassification != "" {
			event.DataClassification = p.DataClassification
		}
	}
	if event.RetentionPolicy == "" || event.RetentionPolicy == entities.DefaultRetentionPolicy {
		if p.RetentionPolicy != "" {
			event.RetentionPolicy = p.RetentionPolicy
		}
	}
}

// PresetRegistry holds the named presets Log(preset:"...") resolves
// against.
type PresetRegistry struct {
	presets map[string]Preset
}

// NewPresetRegistry builds the registry with the pipeline's built-in
// presets. Callers may register organization-specific presets with
// Register.
func NewPresetRegistry() *PresetRegistry {
	r := &PresetRegistry{presets: map[string]Preset{}}
	r.Register(Preset{Name: "fhir", DataClassification: entities.ClassificationPHI, RetentionPolicy: "hipaa-7y"})
	r.Register(Preset{Name: "auth", DataClassification: entities.ClassificationInternal, RetentionPolicy: "standard"})
	r.Register(Preset{Name: "system", DataClassification: entities.ClassificationInternal, RetentionPolicy: "standard"})
	r.Register(Preset{Name: "data", DataClassification: entities.ClassificationConfidential, RetentionPolicy: "gdpr-3y"})
	r.Register(Preset{Name: "critical", DataClassification: entities.ClassificationConfidential, RetentionPolicy: "extended-10y"})
	return r
}

// Register adds or overwrites a preset.
func (r *PresetRegistry) Register(p Preset) {
	r.presets[p.Name] = p
}

// Get looks up a preset by name.
func (r *PresetRegistry) Get(name string) (Preset, bool) {
	p, ok := r.presets[name]
	return p, ok
}

// LogWithEnhancements is Log with an explicit preset and compliance
// overlay list, matching spec §4.7's named operation.
func (p *Producer) LogWithEnhancements(ctx context.Context, event *entities.AuditEvent, preset string, compliance []string) (*entities.AuditEvent, error) {
	opts := DefaultOptions()
	opts.Preset = preset
	opts.Compliance = compliance
	return p.Log(ctx, event, opts)
}

// LogFHIR logs a FHIR-context event under the "fhir" preset with the
// HIPAA overlay, since FHIR resources are PHI by construction.
func (p *Producer) LogFHIR(ctx context.Context, event *entities.AuditEvent) (*entities.AuditEvent, error) {
	return p.LogWithEnhancements(ctx, event, "fhir", []string{"hipaa"})
}

// LogAuth logs an authentication-lifecycle event (login, logout, MFA)
// under the "auth" preset.
func (p *Producer) LogAuth(ctx context.Context, event *entities.AuditEvent) (*entities.AuditEvent, error) {
	return p.LogWithEnhancements(ctx, event, "auth", nil)
}

// LogSystem logs a system-originated event (scheduled jobs, internal
// maintenance) under the "system" preset.
func (p *Producer) LogSystem(ctx context.Context, event *entities.AuditEvent) (*entities.AuditEvent, error) {
	return p.LogWithEnhancements(ctx, event, "system", nil)
}

// LogData logs a data-subject-affecting event under the "data" preset
// with the GDPR overlay.
func (p *Producer) LogData(ctx context.Context, event *entities.AuditEvent) (*entities.AuditEvent, error) {
	return p.LogWithEnhancements(ctx, event, "data", []string{"gdpr"})
}

// LogCritical logs a security-critical event under the "critical"
// preset with durability guarantees and a required signature, since
// these events (e.g. security.alert.generated) must survive broker
// completion and carry non-repudiation.
func (p *Producer) LogCritical(ctx context.Context, event *entities.AuditEvent) (*entities.AuditEvent, error) {
	opts := DefaultOptions()
	opts.Preset = "critical"
	opts.GenerateSignature = true
	opts.SignatureRequired = true
	opts.DurabilityGuarantees = true
	return p.Log(ctx, event, opts)
}
