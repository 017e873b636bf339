// Package handlers provides the HTTP and Lambda handlers of the eligibility engine.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/aws/aws-lambda-go/events"

	"fiscal-eligibility-engine/internal/models"
)

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// StatusForError maps engine errors to HTTP status codes.
func StatusForError(err error) int {
	switch {
	case errors.Is(err, models.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrSessionConsumed), errors.Is(err, models.ErrSessionBusy),
		errors.Is(err, models.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, models.ErrSessionExpired):
		return http.StatusGone
	case errors.Is(err, models.ErrEmptyAccountID):
		return http.StatusUnauthorized
	case errors.Is(err, models.ErrEmptySessionToken):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNoEligibleResults), errors.Is(err, models.ErrInvalidAnswer):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrCatalogUnavailable), errors.Is(err, models.ErrInvalidCatalog):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// errorMessage hides internal failures from clients.
func errorMessage(status int, err error) string {
	if status == http.StatusInternalServerError {
		return "internal error"
	}
	return err.Error()
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	status := StatusForError(err)
	writeJSON(w, status, Response{Success: false, Error: errorMessage(status, err)})
}

// lambdaHeaders are the headers set on every API Gateway response.
func lambdaHeaders(methods string) map[string]string {
	return map[string]string{
		"Access-Control-Allow-Origin":  "*",
		"Access-Control-Allow-Headers": "Content-Type,Authorization",
		"Access-Control-Allow-Methods": methods,
		"Content-Type":                 "application/json",
	}
}

func jsonResponse(headers map[string]string, statusCode int, payload interface{}) (events.APIGatewayProxyResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return events.APIGatewayProxyResponse{}, err
	}
	return events.APIGatewayProxyResponse{
		StatusCode: statusCode,
		Headers:    headers,
		Body:       string(body),
	}, nil
}

// errorResponse creates an error response.
func errorResponse(headers map[string]string, statusCode int, message string) (events.APIGatewayProxyResponse, error) {
	return jsonResponse(headers, statusCode, Response{Success: false, Error: message})
}

func lambdaError(headers map[string]string, err error) (events.APIGatewayProxyResponse, error) {
	status := StatusForError(err)
	return errorResponse(headers, status, errorMessage(status, err))
}
