package entities

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditEvent_ApplyDefaults_FillsEmptyFieldsOnly(t *testing.T) {
	e := &AuditEvent{DataClassification: ClassificationConfidential}
	e.ApplyDefaults()

	assert.Equal(t, ClassificationConfidential, e.DataClassification)
	assert.Equal(t, DefaultRetentionPolicy, e.RetentionPolicy)
	assert.Equal(t, DefaultEventVersion, e.EventVersion)
	assert.Equal(t, HashAlgorithmSHA256, e.HashAlgorithm)
}

func TestAuditEvent_CanonicalHashInput_IsOrderedAndStable(t *testing.T) {
	e := &AuditEvent{
		Action:         "order.create",
		Status:         StatusSuccess,
		PrincipalID:    "user-1",
		OrganizationID: "org-1",
		Timestamp:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	a, err := e.CanonicalHashInput()
	require.NoError(t, err)
	b, err := e.CanonicalHashInput()
	require.NoError(t, err)
	assert.Equal(t, a, b)

	// Fields not in the critical set must not influence the hash input.
	e2 := e.Clone()
	e2.Extensions = map[string]interface{}{"unrelated": "value"}
	e2.SessionContext = &SessionContext{SessionID: "sess-1"}
	c, err := e2.CanonicalHashInput()
	require.NoError(t, err)
	assert.Equal(t, a, c)
}

func TestAuditEvent_CanonicalHashInput_ChangesWithCriticalField(t *testing.T) {
	e := &AuditEvent{Action: "order.create", Status: StatusSuccess, Timestamp: time.Now().UTC()}
	a, err := e.CanonicalHashInput()
	require.NoError(t, err)

	e.Action = "order.cancel"
	b, err := e.CanonicalHashInput()
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestAuditEvent_Clone_DeepCopiesExtensionsAndSessionContext(t *testing.T) {
	original := &AuditEvent{
		SessionContext: &SessionContext{SessionID: "sess-1"},
		Extensions:     map[string]interface{}{"key": "value"},
	}

	clone := original.Clone()
	clone.SessionContext.SessionID = "sess-2"
	clone.Extensions["key"] = "mutated"

	assert.Equal(t, "sess-1", original.SessionContext.SessionID)
	assert.Equal(t, "value", original.Extensions["key"])
}

func TestAuditEvent_RequiresSessionContext_OnlyForPHI(t *testing.T) {
	e := &AuditEvent{DataClassification: ClassificationPHI}
	assert.True(t, e.RequiresSessionContext())

	e.DataClassification = ClassificationInternal
	assert.False(t, e.RequiresSessionContext())
}

func TestAuditEvent_DuplicateKey_IncludesCorrelationActionTimestampPrincipal(t *testing.T) {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e := &AuditEvent{CorrelationID: "corr-1", Action: "order.create", Timestamp: ts, PrincipalID: "user-1"}

	assert.Equal(t, "corr-1|order.create|2026-01-01T00:00:00Z|user-1", e.DuplicateKey())
}

func TestDataClassification_Valid(t *testing.T) {
	assert.True(t, ClassificationPHI.Valid())
	assert.False(t, DataClassification("bogus").Valid())
}

func TestStatus_Valid(t *testing.T) {
	assert.True(t, StatusSuccess.Valid())
	assert.False(t, Status("bogus").Valid())
}
