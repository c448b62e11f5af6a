package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReportType selects the summarizer and overlay rules C11 applies.
type ReportType string

const (
	ReportTypeHIPAA  ReportType = "hipaa"
	ReportTypeGDPR   ReportType = "gdpr"
	ReportTypeCustom ReportType = "custom"
)

// LegalBasisBreakdown counts GDPR events per declared legal basis.
type LegalBasisBreakdown map[string]int64

// DataSubjectRightsCounts tallies data-subject-rights actions observed
// in the report window.
type DataSubjectRightsCounts struct {
	Exports          int64 `json:"exports"`
	Erasures         int64 `json:"erasures"`
	Rectifications   int64 `json:"rectifications"`
	AccessRequests   int64 `json:"accessRequests"`
	ConsentWithdrawn int64 `json:"consentWithdrawn"`
}

// Report is the artifact C11 produces: a pure function of C9 queries
// plus a summarizer, scored with exact decimal arithmetic so
// compliance scores never drift from floating-point rounding.
type Report struct {
	ID              string     `json:"id" db:"id"`
	Type            ReportType `json:"type" db:"type"`
	OrganizationID  string     `json:"organizationId,omitempty" db:"organization_id"`
	PeriodStart     time.Time  `json:"periodStart" db:"period_start"`
	PeriodEnd       time.Time  `json:"periodEnd" db:"period_end"`
	GeneratedAt     time.Time  `json:"generatedAt" db:"generated_at"`

	TotalEvents         int64 `json:"totalEvents" db:"total_events"`
	VerifiedEvents      int64 `json:"verifiedEvents" db:"verified_events"`
	FailedVerifications int64 `json:"failedVerifications" db:"failed_verifications"`

	ComplianceScore decimal.Decimal `json:"complianceScore" db:"compliance_score"`
	ViolationRate   decimal.Decimal `json:"violationRate" db:"violation_rate"`
	Violations      []string        `json:"violations" db:"-"`
	Recommendations []string        `json:"recommendations" db:"-"`
	RiskAssessment  string          `json:"riskAssessment" db:"risk_assessment"`

	LegalBasisBreakdown     LegalBasisBreakdown      `json:"legalBasisBreakdown,omitempty" db:"-"`
	DataSubjectRightsCounts *DataSubjectRightsCounts `json:"dataSubjectRightsCounts,omitempty" db:"-"`
}

// DeliveryMethod names a dispatch contract C11's scheduler invokes
// after storing an artifact. The email, webhook and storage
// implementations live in internal/domain/reports (delivery.go).
type DeliveryMethod string

const (
	DeliveryEmail   DeliveryMethod = "email"
	DeliveryWebhook DeliveryMethod = "webhook"
	DeliveryStorage DeliveryMethod = "storage"
)

// DeliveryDescriptor configures where a scheduled report's artifact is sent.
type DeliveryDescriptor struct {
	Method     DeliveryMethod    `json:"method" db:"method"`
	Target     string            `json:"target" db:"target"`
	Parameters map[string]string `json:"parameters,omitempty" db:"parameters"`
}

// ScheduledReport pairs a cron-like schedule with a report
// configuration and delivery descriptor.
type ScheduledReport struct {
	ID             string              `json:"id" db:"id"`
	OrganizationID string              `json:"organizationId,omitempty" db:"organization_id"`
	Type           ReportType          `json:"type" db:"type"`
	CronExpression string              `json:"cronExpression" db:"cron_expression"`
	Delivery       DeliveryDescriptor  `json:"delivery" db:"delivery"`
	Enabled        bool                `json:"enabled" db:"enabled"`
	CreatedAt      time.Time           `json:"createdAt" db:"created_at"`
	LastRunAt      *time.Time          `json:"lastRunAt,omitempty" db:"last_run_at"`
	NextRunAt      *time.Time          `json:"nextRunAt,omitempty" db:"next_run_at"`
}

// ReportExecutionStatus tracks one run of a ScheduledReport (or an
// on-demand report request).
type ReportExecutionStatus string

const (
	ExecutionStatusSucceeded ReportExecutionStatus = "succeeded"
	ExecutionStatusFailed    ReportExecutionStatus = "failed"
	ExecutionStatusPartial   ReportExecutionStatus = "partial"
)

// ReportExecution records a single report run for audit purposes: the
// spec requires each execution to itself be an audit event, and this
// row is the durable counterpart that backs that event.
type ReportExecution struct {
	ID               string                `json:"id" db:"id"`
	ScheduledReportID string               `json:"scheduledReportId,omitempty" db:"scheduled_report_id"`
	ReportID         string                `json:"reportId" db:"report_id"`
	Status           ReportExecutionStatus `json:"status" db:"status"`
	StartedAt        time.Time             `json:"startedAt" db:"started_at"`
	CompletedAt      time.Time             `json:"completedAt" db:"completed_at"`
	Error            string                `json:"error,omitempty" db:"error"`
}
