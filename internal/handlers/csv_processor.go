package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"fiscal-eligibility-engine/internal/services/prospects"
	"fiscal-eligibility-engine/internal/utils"
)

// maxReportedErrors caps the parse errors echoed in a processing result.
const maxReportedErrors = 10

// ResultWriter stores simulation results next to the uploaded file.
type ResultWriter interface {
	UploadFile(ctx context.Context, key string, data []byte, contentType string) error
}

// CSVProcessorHandler simulates prospect files as they land in the bucket.
type CSVProcessorHandler struct {
	prospects *prospects.Service
	results   ResultWriter
}

// NewCSVProcessorHandler creates a new CSV processor handler.
func NewCSVProcessorHandler(svc *prospects.Service, results ResultWriter) *CSVProcessorHandler {
	return &CSVProcessorHandler{prospects: svc, results: results}
}

// FileResult summarizes the simulation of one uploaded file.
type FileResult struct {
	Key               string   `json:"key"`
	ResultKey         string   `json:"result_key,omitempty"`
	Prospects         int      `json:"prospects"`
	EligibleProspects int      `json:"eligible_prospects"`
	Errors            []string `json:"errors,omitempty"`
}

// CSVProcessResult is the result of processing an S3 event.
type CSVProcessResult struct {
	Message string       `json:"message"`
	Files   []FileResult `json:"files"`
}

// Handle processes S3 events for uploaded CSV files.
func (h *CSVProcessorHandler) Handle(ctx context.Context, s3Event events.S3Event) (CSVProcessResult, error) {
	logger := utils.Named("csv_processor")

	if len(s3Event.Records) == 0 {
		return CSVProcessResult{Message: "No records to process"}, nil
	}

	result := CSVProcessResult{Message: "CSV processed successfully"}
	for _, record := range s3Event.Records {
		key, err := url.QueryUnescape(record.S3.Object.Key)
		if err != nil {
			return result, fmt.Errorf("failed to decode S3 key: %w", err)
		}
		if !strings.HasSuffix(strings.ToLower(key), ".csv") {
			logger.Debug("Skipping non CSV object", utils.String("key", key))
			continue
		}

		logger.Info("Processing prospect file",
			utils.String("bucket", record.S3.Bucket.Name),
			utils.String("key", key))

		file, err := h.processFile(ctx, key)
		if err != nil {
			logger.Error("Failed to process prospect file", utils.String("key", key), utils.Error(err))
			file = FileResult{Key: key, Errors: []string{err.Error()}}
		}
		result.Files = append(result.Files, file)
	}
	return result, nil
}

func (h *CSVProcessorHandler) processFile(ctx context.Context, key string) (FileResult, error) {
	sim, err := h.prospects.SimulateObject(ctx, key)
	if err != nil {
		return FileResult{}, err
	}

	body, err := json.Marshal(sim)
	if err != nil {
		return FileResult{}, fmt.Errorf("failed to encode simulation: %w", err)
	}
	resultKey := ResultKey(key)
	if err := h.results.UploadFile(ctx, resultKey, body, "application/json"); err != nil {
		return FileResult{}, err
	}

	errs := sim.Errors
	if len(errs) > maxReportedErrors {
		errs = errs[:maxReportedErrors]
	}
	return FileResult{
		Key:               key,
		ResultKey:         resultKey,
		Prospects:         len(sim.Prospects),
		EligibleProspects: sim.EligibleProspects,
		Errors:            errs,
	}, nil
}

// ResultKey maps an upload key to the key of its simulation result,
// e.g. "uploads/2025/10/01/x.csv" -> "results/2025/10/01/x.json".
func ResultKey(key string) string {
	key = strings.TrimPrefix(key, "uploads/")
	return "results/" + strings.TrimSuffix(key, ".csv") + ".json"
}
