// Package reports implements C11: HIPAA/GDPR/custom report generation
// as pure functions of storage queries plus a summarizer, scheduled
// execution, and artifact delivery.
package reports

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/complyaudit/audit-core/internal/domain/entities"
	"github.com/complyaudit/audit-core/internal/domain/integrity"
	"github.com/complyaudit/audit-core/internal/domain/repositories"
	"github.com/complyaudit/audit-core/pkg/apierr"
)

// Engine is C11's report generator.
type Engine struct {
	events   repositories.AuditRepository
	verifier *integrity.Verifier
}

// NewEngine constructs an Engine.
func NewEngine(events repositories.AuditRepository, verifier *integrity.Verifier) *Engine {
	return &Engine{events: events, verifier: verifier}
}

// Generate produces a Report for reportType over [from, to] (both ends
// inclusive) for
// organizationID (empty string for all organizations).
func (e *Engine) Generate(ctx context.Context, reportType entities.ReportType, organizationID string, from, to time.Time) (*entities.Report, error) {
	events, err := e.events.Find(ctx, repositories.AuditEventFilter{
		OrganizationID: organizationID,
		From:           from,
		To:             to,
		Limit:          0, // engine-level queries are expected to stream/paginate internally at the repository
	})
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeStorageUnavailable, "failed to query events for report", err)
	}

	verifyReport, err := e.verifier.Verify(ctx, from, to, organizationID)
	if err != nil {
		return nil, err
	}

	report := &entities.Report{
		ID:                  uuid.NewString(),
		Type:                reportType,
		OrganizationID:      organizationID,
		PeriodStart:         from,
		PeriodEnd:           to,
		GeneratedAt:         time.Now().UTC(),
		TotalEvents:         int64(len(events)),
		VerifiedEvents:      int64(verifyReport.Valid),
		FailedVerifications: int64(len(verifyReport.Tampered) + len(verifyReport.SignatureInvalid)),
	}

	report.ComplianceScore = complianceScore(report.TotalEvents, report.FailedVerifications)
	report.ViolationRate = violationRate(report.TotalEvents, report.FailedVerifications)
	report.Violations = summarizeViolations(verifyReport)
	report.Recommendations = recommendationsFor(report)
	report.RiskAssessment = riskAssessmentFor(report.ComplianceScore)

	switch reportType {
	case entities.ReportTypeGDPR:
		report.LegalBasisBreakdown = legalBasisBreakdown(events)
		report.DataSubjectRightsCounts = dataSubjectRightsCounts(events)
	case entities.ReportTypeHIPAA:
		// HIPAA reports rely on the verification summary and violations
		// list above; no additional breakdown is specified.
	}

	return report, nil
}

// complianceScore expresses (totalEvents - failedVerifications) /
// totalEvents as a percentage, using exact decimal arithmetic so
// repeated report runs never drift due to floating-point rounding.
func complianceScore(total, failed int64) decimal.Decimal {
	if total == 0 {
		return decimal.NewFromInt(100)
	}
	ok := decimal.NewFromInt(total - failed)
	return ok.Div(decimal.NewFromInt(total)).Mul(decimal.NewFromInt(100)).Round(2)
}

func violationRate(total, failed int64) decimal.Decimal {
	if total == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(failed).Div(decimal.NewFromInt(total)).Mul(decimal.NewFromInt(100)).Round(2)
}

func summarizeViolations(v *integrity.Report) []string {
	var out []string
	for _, t := range v.Tampered {
		out = append(out, "tampered: "+t.EventID)
	}
	for _, id := range v.SignatureInvalid {
		out = append(out, "signature_invalid: "+id)
	}
	for _, id := range v.MissingHash {
		out = append(out, "missing_hash: "+id)
	}
	return out
}

func recommendationsFor(report *entities.Report) []string {
	var out []string
	if len(report.Violations) > 0 {
		out = append(out, "Investigate flagged integrity violations before relying on this period's audit trail.")
	}
	if report.ComplianceScore.LessThan(decimal.NewFromInt(95)) {
		out = append(out, "Compliance score below 95%: review retry/circuit-breaker configuration and storage availability for this period.")
	}
	return out
}

func riskAssessmentFor(score decimal.Decimal) string {
	switch {
	case score.GreaterThanOrEqual(decimal.NewFromInt(99)):
		return "low"
	case score.GreaterThanOrEqual(decimal.NewFromInt(90)):
		return "moderate"
	default:
		return "high"
	}
}

func legalBasisBreakdown(events []*entities.AuditEvent) entities.LegalBasisBreakdown {
	breakdown := entities.LegalBasisBreakdown{}
	for _, e := range events {
		ctxMap, ok := e.Extensions["gdprContext"].(map[string]interface{})
		if !ok {
			continue
		}
		basis, _ := ctxMap["legalBasis"].(string)
		if basis == "" {
			basis = "unspecified"
		}
		breakdown[basis]++
	}
	return breakdown
}

func dataSubjectRightsCounts(events []*entities.AuditEvent) *entities.DataSubjectRightsCounts {
	counts := &entities.DataSubjectRightsCounts{}
	for _, e := range events {
		switch e.Action {
		case "gdpr.access", "data.export":
			counts.Exports++
		case "gdpr.delete", "data.delete":
			counts.Erasures++
		case "gdpr.rectify", "data.rectify":
			counts.Rectifications++
		case "data.access":
			counts.AccessRequests++
		case "consent.withdraw":
			counts.ConsentWithdrawn++
		}
	}
	return counts
}
