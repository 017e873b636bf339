package handlers

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"fiscal-eligibility-engine/internal/services/catalog"
)

// Pinger checks a backing store is reachable.
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// HealthHandler handles health check requests.
type HealthHandler struct {
	db     Pinger
	source catalog.Source
	stage  string
}

// NewHealthHandler creates a new health handler. db may be nil in demo mode.
func NewHealthHandler(db Pinger, source catalog.Source, stage string) *HealthHandler {
	return &HealthHandler{db: db, source: source, stage: stage}
}

// HealthResponse is the response structure for health checks.
type HealthResponse struct {
	Status         string `json:"status"`
	Timestamp      string `json:"timestamp"`
	Service        string `json:"service"`
	Version        string `json:"version"`
	Stage          string `json:"stage"`
	Database       string `json:"database,omitempty"`
	CatalogVersion string `json:"catalog_version,omitempty"`
}

// Check reports database and catalog availability.
func (h *HealthHandler) Check(ctx context.Context) HealthResponse {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Service:   "fiscal-eligibility-engine",
		Version:   getEnvOrDefault("SERVICE_VERSION", "1.0.0"),
		Stage:     h.stage,
	}

	// Check database connectivity
	if h.db != nil {
		if err := h.db.HealthCheck(ctx); err != nil {
			response.Database = "disconnected"
			response.Status = "degraded"
		} else {
			response.Database = "connected"
		}
	} else {
		response.Database = "not configured"
	}

	if h.source != nil {
		if snap, err := h.source.Load(ctx); err != nil {
			response.Status = "degraded"
		} else {
			response.CatalogVersion = snap.Version()
		}
	}

	return response
}

func (r HealthResponse) statusCode() int {
	if r.Status != "healthy" {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

// ServeHTTP serves the health check over HTTP.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	response := h.Check(r.Context())
	writeJSON(w, response.statusCode(), response)
}

// Handle processes health check requests from API Gateway.
func (h *HealthHandler) Handle(ctx context.Context, request events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	response := h.Check(ctx)
	return jsonResponse(lambdaHeaders("GET,OPTIONS"), response.statusCode(), response)
}

// getEnvOrDefault returns environment variable or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
