// Package notify posts migration events to an external workflow webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"fiscal-eligibility-engine/internal/services/formatter"
	"fiscal-eligibility-engine/internal/services/migration"
	"fiscal-eligibility-engine/internal/utils"
)

// WorkflowMigration is the workflow type sent with migration events.
const WorkflowMigration = "account_migration"

// WebhookNotifier triggers a workflow (e.g. n8n) after each completed migration.
type WebhookNotifier struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

// Payload is the JSON body posted to the webhook.
type Payload struct {
	WorkflowType       string   `json:"workflow_type"`
	Source             string   `json:"source"`
	Timestamp          string   `json:"timestamp"`
	SessionID          string   `json:"session_id"`
	AccountID          string   `json:"account_id"`
	AccountEmail       string   `json:"account_email,omitempty"`
	Status             string   `json:"status"`
	CatalogVersion     string   `json:"catalog_version,omitempty"`
	MigratedProductIDs []string `json:"migrated_product_ids"`
	EligibleCount      int      `json:"eligible_count"`
	TotalEstimatedGain int64    `json:"total_estimated_gain"`
}

// NewWebhookNotifier creates a notifier posting to url.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: utils.Named("webhook"),
	}
}

// NotifyMigration posts the migration event.
func (n *WebhookNotifier) NotifyMigration(ctx context.Context, event migration.Event) error {
	formatted := formatter.Format(event.Results)
	payload := Payload{
		WorkflowType:       WorkflowMigration,
		Source:             "eligibility_engine",
		Timestamp:          time.Now().UTC().Format(time.RFC3339),
		SessionID:          event.Report.SessionID,
		AccountID:          event.Report.AccountID,
		AccountEmail:       event.Principal.Email,
		Status:             string(event.Report.Status),
		CatalogVersion:     event.CatalogVersion,
		MigratedProductIDs: event.Report.MigratedProductIDs,
		EligibleCount:      formatted.EligibleCount,
		TotalEstimatedGain: formatted.TotalEstimatedGain,
	}

	if err := n.trigger(ctx, payload); err != nil {
		return err
	}

	n.logger.Info("Successfully triggered webhook",
		utils.String("workflowType", WorkflowMigration),
		utils.SessionID(payload.SessionID),
		utils.AccountID(payload.AccountID))
	return nil
}

// trigger sends a POST request to the webhook.
func (n *WebhookNotifier) trigger(ctx context.Context, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
