package reports

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/complyaudit/audit-core/internal/domain/entities"
)

func sampleReport() *entities.Report {
	return &entities.Report{
		ID:              "report-1",
		Type:            entities.ReportTypeCustom,
		ComplianceScore: decimal.NewFromInt(100),
	}
}

func TestWebhookDispatcher_DeliversWithHeaders(t *testing.T) {
	var receivedBody []byte
	var receivedHeaders http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedBody, _ = io.ReadAll(r.Body)
		receivedHeaders = r.Header
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := NewWebhookDispatcher(5 * time.Second)
	err := d.Deliver(context.Background(), sampleReport(), []byte(`{"ok":true}`), entities.DeliveryDescriptor{Method: entities.DeliveryWebhook, Target: server.URL})

	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(receivedBody))
	assert.Equal(t, "report-1", receivedHeaders.Get("X-Report-ID"))
	assert.Equal(t, "custom", receivedHeaders.Get("X-Report-Type"))
}

func TestWebhookDispatcher_NonSuccessStatusIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	d := NewWebhookDispatcher(5 * time.Second)
	err := d.Deliver(context.Background(), sampleReport(), []byte(`{}`), entities.DeliveryDescriptor{Target: server.URL})

	require.Error(t, err)
}

func TestStorageDispatcher_UsesDescriptorTargetAsKey(t *testing.T) {
	var savedKey string
	var savedArtifact []byte
	d := NewStorageDispatcher(func(ctx context.Context, key string, artifact []byte) error {
		savedKey = key
		savedArtifact = artifact
		return nil
	})

	err := d.Deliver(context.Background(), sampleReport(), []byte(`{"ok":true}`), entities.DeliveryDescriptor{Target: "reports/custom/report-1.json"})

	require.NoError(t, err)
	assert.Equal(t, "reports/custom/report-1.json", savedKey)
	assert.Equal(t, `{"ok":true}`, string(savedArtifact))
}

func TestStorageDispatcher_DerivesKeyWhenTargetEmpty(t *testing.T) {
	var savedKey string
	d := NewStorageDispatcher(func(ctx context.Context, key string, artifact []byte) error {
		savedKey = key
		return nil
	})

	err := d.Deliver(context.Background(), sampleReport(), []byte(`{}`), entities.DeliveryDescriptor{})

	require.NoError(t, err)
	assert.Equal(t, "reports/custom/report-1.json", savedKey)
}
