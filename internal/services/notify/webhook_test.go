package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fiscal-eligibility-engine/internal/models"
	"fiscal-eligibility-engine/internal/services/identity"
	"fiscal-eligibility-engine/internal/services/migration"
)

func testEvent() migration.Event {
	return migration.Event{
		Report: &migration.Report{
			SessionID:          "sess-1",
			AccountID:          "acc-1",
			Status:             migration.StatusCompleted,
			MigratedProductIDs: []string{"URSSAF"},
		},
		Principal:      identity.Principal{ID: "acc-1", Email: "a@b.fr"},
		CatalogVersion: "2025.10-default",
		Results: []models.EvaluationResult{
			{ProductID: "URSSAF", Eligible: true, Score: 80, EstimatedGain: 10500, ConfidenceLevel: models.ConfidenceHigh},
		},
	}
}

func TestWebhookNotifier_PostsPayload(t *testing.T) {
	var got Payload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	err := NewWebhookNotifier(server.URL).NotifyMigration(context.Background(), testEvent())
	require.NoError(t, err)

	assert.Equal(t, WorkflowMigration, got.WorkflowType)
	assert.Equal(t, "sess-1", got.SessionID)
	assert.Equal(t, "acc-1", got.AccountID)
	assert.Equal(t, "a@b.fr", got.AccountEmail)
	assert.Equal(t, "completed", got.Status)
	assert.Equal(t, []string{"URSSAF"}, got.MigratedProductIDs)
	assert.Equal(t, 1, got.EligibleCount)
	assert.Equal(t, int64(10500), got.TotalEstimatedGain)
}

func TestWebhookNotifier_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	err := NewWebhookNotifier(server.URL).NotifyMigration(context.Background(), testEvent())
	assert.ErrorContains(t, err, "status 502")
}
