package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/aws/aws-lambda-go/events"

	"fiscal-eligibility-engine/internal/services/catalog"
	"fiscal-eligibility-engine/internal/services/evaluator"
	"fiscal-eligibility-engine/internal/services/formatter"
	"fiscal-eligibility-engine/internal/services/identity"
	"fiscal-eligibility-engine/internal/services/migration"
	"fiscal-eligibility-engine/internal/services/session"
	"fiscal-eligibility-engine/internal/utils"
)

// EvaluateRequest is the body of the evaluate function. With a session token the
// session's answers are evaluated and cached; otherwise Answers are evaluated statelessly.
type EvaluateRequest struct {
	SessionToken string `json:"session_token,omitempty"`
	AnswersRequest
}

// EvaluateHandler handles evaluation requests from API Gateway.
type EvaluateHandler struct {
	source    catalog.Source
	evaluator *evaluator.Evaluator
	sessions  *session.Service
}

// NewEvaluateHandler creates a new evaluate handler.
func NewEvaluateHandler(source catalog.Source, eval *evaluator.Evaluator, sessions *session.Service) *EvaluateHandler {
	return &EvaluateHandler{source: source, evaluator: eval, sessions: sessions}
}

// Handle processes the API Gateway request.
func (h *EvaluateHandler) Handle(ctx context.Context, request events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	headers := lambdaHeaders("POST,OPTIONS")

	// Handle CORS preflight
	if request.HTTPMethod == http.MethodOptions {
		return events.APIGatewayProxyResponse{StatusCode: http.StatusOK, Headers: headers}, nil
	}

	var req EvaluateRequest
	if err := json.Unmarshal([]byte(request.Body), &req); err != nil {
		return errorResponse(headers, http.StatusBadRequest, "Invalid JSON in request body")
	}

	if req.SessionToken != "" {
		results, sess, err := h.sessions.Evaluate(ctx, req.SessionToken)
		if err != nil {
			return lambdaError(headers, err)
		}
		return jsonResponse(headers, http.StatusOK, Response{
			Success: true,
			Data:    SessionResponse{Session: sess, Results: results},
		})
	}

	snap, err := h.source.Load(ctx)
	if err != nil {
		return lambdaError(headers, err)
	}
	results, err := h.evaluator.Evaluate(ctx, snap, req.Answers)
	if err != nil {
		return lambdaError(headers, err)
	}
	return jsonResponse(headers, http.StatusOK, Response{Success: true, Data: formatter.Format(results)})
}

// MigrateHandler handles session migration requests from API Gateway.
// The account is taken from the request authorizer, never from the body.
type MigrateHandler struct {
	migrations *migration.Service
}

// NewMigrateHandler creates a new migrate handler.
func NewMigrateHandler(migrations *migration.Service) *MigrateHandler {
	return &MigrateHandler{migrations: migrations}
}

// Handle processes the API Gateway request.
func (h *MigrateHandler) Handle(ctx context.Context, request events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	headers := lambdaHeaders("POST,OPTIONS")

	if request.HTTPMethod == http.MethodOptions {
		return events.APIGatewayProxyResponse{StatusCode: http.StatusOK, Headers: headers}, nil
	}

	principal, err := identity.FromClaims(request.RequestContext.Authorizer)
	if err != nil {
		return lambdaError(headers, err)
	}

	var req MigrateRequest
	if err := json.Unmarshal([]byte(request.Body), &req); err != nil {
		return errorResponse(headers, http.StatusBadRequest, "Invalid JSON in request body")
	}

	report, err := h.migrations.MigrateFor(ctx, req.SessionToken, principal)
	if err != nil {
		utils.Named("lambda").Info("Migration rejected", utils.AccountID(principal.ID), utils.Error(err))
		return lambdaError(headers, err)
	}

	resp := Response{Success: true, Data: MigrateResponse{Report: report, AlreadyMigrated: report.AlreadyMigrated()}}
	status := http.StatusOK
	if perr := report.Err(); perr != nil {
		status = http.StatusMultiStatus
		resp.Success = false
		resp.Error = perr.Error()
	}
	return jsonResponse(headers, status, resp)
}
