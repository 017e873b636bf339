// Package ses provides email notification services via AWS SES
package ses

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"

	"fiscal-eligibility-engine/internal/models"
	"fiscal-eligibility-engine/internal/services/formatter"
	"fiscal-eligibility-engine/internal/services/migration"
	"fiscal-eligibility-engine/internal/utils"
)

// Sender is the subset of the SES API used by the service.
type Sender interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// Service handles SES email operations
type Service struct {
	client       Sender
	fromEmail    string
	dashboardURL string
	logger       *zap.Logger
}

// EmailParams represents parameters for sending an email
type EmailParams struct {
	To       string
	Subject  string
	HTMLBody string
	TextBody string
	ReplyTo  string
}

// MigrationSummaryParams contains data for the post-migration summary email
type MigrationSummaryParams struct {
	AccountEmail       string
	EligibleCount      int
	TotalEstimatedGain int64
	Products           []ProductLine
	DashboardURL       string
}

// ProductLine is one eligible product in the summary email
type ProductLine struct {
	ProductID     string
	Score         int
	EstimatedGain int64
	Confidence    models.ConfidenceLevel
}

// SendEmailResult contains the result of sending an email
type SendEmailResult struct {
	MessageID string
	SentAt    time.Time
}

// NewService creates a new SES service
func NewService(ctx context.Context, region, fromEmail, dashboardURL string) (*Service, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewWithClient(ses.NewFromConfig(cfg), fromEmail, dashboardURL), nil
}

// NewWithClient creates a service on an existing SES client.
func NewWithClient(client Sender, fromEmail, dashboardURL string) *Service {
	return &Service{
		client:       client,
		fromEmail:    fromEmail,
		dashboardURL: dashboardURL,
		logger:       utils.Named("ses"),
	}
}

// SendEmail sends a basic email
func (s *Service) SendEmail(ctx context.Context, params EmailParams) (*SendEmailResult, error) {
	input := &ses.SendEmailInput{
		Source: aws.String(s.fromEmail),
		Destination: &types.Destination{
			ToAddresses: []string{params.To},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(params.Subject),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{},
		},
	}

	// Add HTML body if provided
	if params.HTMLBody != "" {
		input.Message.Body.Html = &types.Content{
			Data:    aws.String(params.HTMLBody),
			Charset: aws.String("UTF-8"),
		}
	}

	// Add text body if provided
	if params.TextBody != "" {
		input.Message.Body.Text = &types.Content{
			Data:    aws.String(params.TextBody),
			Charset: aws.String("UTF-8"),
		}
	}

	if params.ReplyTo != "" {
		input.ReplyToAddresses = []string{params.ReplyTo}
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		s.logger.Error("Failed to send email",
			zap.String("to", params.To),
			zap.String("subject", params.Subject),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to send email: %w", err)
	}

	messageID := aws.ToString(result.MessageId)
	s.logger.Info("Email sent successfully",
		zap.String("to", params.To),
		zap.String("subject", params.Subject),
		zap.String("messageId", messageID),
	)

	return &SendEmailResult{
		MessageID: messageID,
		SentAt:    time.Now(),
	}, nil
}

// SendMigrationSummary sends the eligibility summary of a freshly migrated account
func (s *Service) SendMigrationSummary(ctx context.Context, params MigrationSummaryParams) (*SendEmailResult, error) {
	htmlBody, err := renderMigrationSummaryHTML(params)
	if err != nil {
		return nil, fmt.Errorf("failed to render email template: %w", err)
	}

	subject := fmt.Sprintf("Vos %d dispositifs éligibles, jusqu'à %s d'économies estimées",
		params.EligibleCount, FormatEuros(params.TotalEstimatedGain))

	return s.SendEmail(ctx, EmailParams{
		To:       params.AccountEmail,
		Subject:  subject,
		HTMLBody: htmlBody,
		TextBody: renderMigrationSummaryText(params),
	})
}

// NotifyMigration emails the account owner the products committed by a migration.
// Principals without an email address are skipped.
func (s *Service) NotifyMigration(ctx context.Context, event migration.Event) error {
	if event.Principal.Email == "" {
		s.logger.Debug("No email for principal, summary not sent", utils.AccountID(event.Report.AccountID))
		return nil
	}
	params := BuildMigrationSummaryParams(event, s.dashboardURL)
	if params.EligibleCount == 0 {
		return nil
	}
	_, err := s.SendMigrationSummary(ctx, params)
	return err
}

// BuildMigrationSummaryParams collects the migrated products of event, ranked.
func BuildMigrationSummaryParams(event migration.Event, dashboardURL string) MigrationSummaryParams {
	migrated := make(map[string]bool, len(event.Report.MigratedProductIDs))
	for _, id := range event.Report.MigratedProductIDs {
		migrated[id] = true
	}

	var committed []models.EvaluationResult
	for _, r := range event.Results {
		if r.Eligible && migrated[r.ProductID] {
			committed = append(committed, r)
		}
	}
	formatted := formatter.Format(committed)

	params := MigrationSummaryParams{
		AccountEmail:       event.Principal.Email,
		EligibleCount:      formatted.EligibleCount,
		TotalEstimatedGain: formatted.TotalEstimatedGain,
		DashboardURL:       dashboardURL,
	}
	for _, r := range formatted.Ranked {
		params.Products = append(params.Products, ProductLine{
			ProductID:     r.ProductID,
			Score:         r.Score,
			EstimatedGain: r.EstimatedGain,
			Confidence:    r.ConfidenceLevel,
		})
	}
	return params
}

// FormatEuros renders an amount with French digit grouping, e.g. 10500 -> "10 500 €".
func FormatEuros(amount int64) string {
	digits := strconv.FormatInt(amount, 10)
	sign := ""
	if strings.HasPrefix(digits, "-") {
		sign, digits = "-", digits[1:]
	}
	var b strings.Builder
	for i, d := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(d)
	}
	return sign + b.String() + " €"
}

var summaryTemplate = template.Must(template.New("migration_summary").Funcs(template.FuncMap{
	"euros": FormatEuros,
}).Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: 'Segoe UI', Tahoma, Geneva, Verdana, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { background: #1f4e79; color: white; padding: 30px; border-radius: 10px 10px 0 0; text-align: center; }
        .content { background: #f9f9f9; padding: 30px; border-radius: 0 0 10px 10px; }
        .product-card { background: white; border-radius: 8px; padding: 16px; margin: 12px 0; box-shadow: 0 2px 4px rgba(0,0,0,0.1); }
        .gain { font-weight: bold; color: #28a745; }
        .cta-button { display: inline-block; background: #1f4e79; color: white; padding: 15px 30px; text-decoration: none; border-radius: 8px; font-weight: bold; margin-top: 20px; }
    </style>
</head>
<body>
    <div class="header">
        <h1>Votre bilan d'éligibilité</h1>
        <p>{{.EligibleCount}} dispositifs, {{euros .TotalEstimatedGain}} d'économies estimées</p>
    </div>
    <div class="content">
        {{range .Products}}
        <div class="product-card">
            <h3>{{.ProductID}}</h3>
            <p>Gain estimé : <span class="gain">{{euros .EstimatedGain}}</span></p>
            <p>Score : {{.Score}}/100, confiance : {{.Confidence}}</p>
        </div>
        {{end}}
        {{if .DashboardURL}}
        <div style="text-align: center;">
            <a href="{{.DashboardURL}}" class="cta-button">Voir mon espace client</a>
        </div>
        {{end}}
    </div>
</body>
</html>`))

func renderMigrationSummaryHTML(params MigrationSummaryParams) (string, error) {
	var buf bytes.Buffer
	if err := summaryTemplate.Execute(&buf, params); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func renderMigrationSummaryText(params MigrationSummaryParams) string {
	var buf bytes.Buffer

	buf.WriteString("Bonjour,\n\n")
	fmt.Fprintf(&buf, "Votre simulation a été rattachée à votre compte : %d dispositifs éligibles, %s d'économies estimées.\n\n",
		params.EligibleCount, FormatEuros(params.TotalEstimatedGain))

	for i, p := range params.Products {
		fmt.Fprintf(&buf, "%d. %s\n", i+1, p.ProductID)
		fmt.Fprintf(&buf, "   Gain estimé : %s\n", FormatEuros(p.EstimatedGain))
		fmt.Fprintf(&buf, "   Score : %d/100, confiance : %s\n\n", p.Score, p.Confidence)
	}

	if params.DashboardURL != "" {
		fmt.Fprintf(&buf, "Votre espace client : %s\n\n", params.DashboardURL)
	}

	buf.WriteString("L'équipe Fiscal Eligibility\n")
	return buf.String()
}
