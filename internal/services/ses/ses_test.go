package ses

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"fiscal-eligibility-engine/internal/models"
	"fiscal-eligibility-engine/internal/services/identity"
	"fiscal-eligibility-engine/internal/services/migration"
)

type mockSender struct {
	mock.Mock
}

func (m *mockSender) SendEmail(ctx context.Context, params *ses.SendEmailInput, _ ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*ses.SendEmailOutput)
	return out, args.Error(1)
}

func migrationEvent(email string) migration.Event {
	return migration.Event{
		Report: &migration.Report{
			SessionID:          "sess-1",
			AccountID:          "acc-1",
			Status:             migration.StatusCompleted,
			MigratedProductIDs: []string{"TICPE", "URSSAF"},
		},
		Principal: identity.Principal{ID: "acc-1", Email: email},
		Results: []models.EvaluationResult{
			{ProductID: "TICPE", Eligible: true, Score: 90, EstimatedGain: 7650, ConfidenceLevel: models.ConfidenceHigh},
			{ProductID: "URSSAF", Eligible: true, Score: 80, EstimatedGain: 10500, ConfidenceLevel: models.ConfidenceMedium},
			{ProductID: "CIR", Eligible: false, ConfidenceLevel: models.ConfidenceLow},
		},
	}
}

func TestFormatEuros(t *testing.T) {
	assert.Equal(t, "0 €", FormatEuros(0))
	assert.Equal(t, "950 €", FormatEuros(950))
	assert.Equal(t, "10 500 €", FormatEuros(10500))
	assert.Equal(t, "1 234 567 €", FormatEuros(1234567))
	assert.Equal(t, "-7 650 €", FormatEuros(-7650))
}

func TestBuildMigrationSummaryParams(t *testing.T) {
	params := BuildMigrationSummaryParams(migrationEvent("a@b.fr"), "https://app.example.fr")

	assert.Equal(t, 2, params.EligibleCount)
	assert.Equal(t, int64(18150), params.TotalEstimatedGain)
	require.Len(t, params.Products, 2)
	assert.Equal(t, "URSSAF", params.Products[0].ProductID)
	assert.Equal(t, "TICPE", params.Products[1].ProductID)
}

func TestNotifyMigration_SendsSummary(t *testing.T) {
	sender := &mockSender{}
	sender.On("SendEmail", mock.Anything, mock.MatchedBy(func(in *ses.SendEmailInput) bool {
		return in.Destination.ToAddresses[0] == "a@b.fr" &&
			aws.ToString(in.Source) == "noreply@example.fr" &&
			in.Message.Body.Html != nil && in.Message.Body.Text != nil
	})).Return(&ses.SendEmailOutput{MessageId: aws.String("m-1")}, nil).Once()

	svc := NewWithClient(sender, "noreply@example.fr", "https://app.example.fr")
	require.NoError(t, svc.NotifyMigration(context.Background(), migrationEvent("a@b.fr")))
	sender.AssertExpectations(t)
}

func TestNotifyMigration_SkipsWithoutEmail(t *testing.T) {
	sender := &mockSender{}
	svc := NewWithClient(sender, "noreply@example.fr", "")

	require.NoError(t, svc.NotifyMigration(context.Background(), migrationEvent("")))
	sender.AssertNotCalled(t, "SendEmail", mock.Anything, mock.Anything)
}

func TestNotifyMigration_PropagatesSendError(t *testing.T) {
	sender := &mockSender{}
	sender.On("SendEmail", mock.Anything, mock.Anything).Return(nil, errors.New("throttled"))

	svc := NewWithClient(sender, "noreply@example.fr", "")
	err := svc.NotifyMigration(context.Background(), migrationEvent("a@b.fr"))
	assert.ErrorContains(t, err, "throttled")
}

func TestRenderMigrationSummary(t *testing.T) {
	params := BuildMigrationSummaryParams(migrationEvent("a@b.fr"), "https://app.example.fr")

	html, err := renderMigrationSummaryHTML(params)
	require.NoError(t, err)
	assert.Contains(t, html, "10 500 €")
	assert.Contains(t, html, "https://app.example.fr")

	text := renderMigrationSummaryText(params)
	assert.Contains(t, text, "1. URSSAF")
	assert.Contains(t, text, "18 150 €")
}
