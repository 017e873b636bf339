package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fiscal-eligibility-engine/internal/models"
	"fiscal-eligibility-engine/internal/services/accounts"
	"fiscal-eligibility-engine/internal/services/catalog"
	"fiscal-eligibility-engine/internal/services/evaluator"
	"fiscal-eligibility-engine/internal/services/formatter"
	"fiscal-eligibility-engine/internal/services/identity"
	"fiscal-eligibility-engine/internal/services/migration"
	"fiscal-eligibility-engine/internal/services/prospects"
	s3service "fiscal-eligibility-engine/internal/services/s3"
	"fiscal-eligibility-engine/internal/services/session"
	"fiscal-eligibility-engine/internal/utils"
)

// maxBodyBytes bounds request bodies, CSV uploads included.
const maxBodyBytes = 10 << 20

// API serves the engine over HTTP. Files may be nil when no bucket is configured.
type API struct {
	Source     catalog.Source
	Evaluator  *evaluator.Evaluator
	Sessions   *session.Service
	Migrations *migration.Service
	Accounts   *accounts.Service
	Prospects  *prospects.Service
	Files      *s3service.Service
	Health     *HealthHandler
}

// AnswersRequest carries answers to record or evaluate.
type AnswersRequest struct {
	Answers []models.Answer `json:"answers"`
}

// MigrateRequest names the session to migrate to the caller's account.
type MigrateRequest struct {
	SessionToken string `json:"session_token"`
}

// QuestionsResponse lists questions of a catalog version.
type QuestionsResponse struct {
	CatalogVersion string            `json:"catalog_version"`
	Questions      []models.Question `json:"questions"`
}

// SessionResponse describes a session and, once evaluated, its results.
type SessionResponse struct {
	Session *models.Session             `json:"session"`
	Results *formatter.FormattedResults `json:"results,omitempty"`
}

// MigrateResponse wraps a migration report.
type MigrateResponse struct {
	Report          *migration.Report `json:"report"`
	AlreadyMigrated bool              `json:"already_migrated"`
}

// UploadURLRequest asks for a presigned prospect file upload.
type UploadURLRequest struct {
	Filename string `json:"filename"`
}

// SimulateObjectRequest simulates a file previously uploaded to the bucket.
type SimulateObjectRequest struct {
	Key string `json:"key"`
}

// Routes registers every endpoint on a new mux.
func (a *API) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("GET /health", a.Health)
	mux.Handle("GET /api/health", a.Health)

	mux.HandleFunc("GET /api/questions", a.questions)
	mux.HandleFunc("POST /api/evaluate", a.evaluate)

	mux.HandleFunc("POST /api/sessions", a.createSession)
	mux.HandleFunc("GET /api/sessions/{token}", a.getSession)
	mux.HandleFunc("POST /api/sessions/{token}/answers", a.recordSessionAnswers)
	mux.HandleFunc("GET /api/sessions/{token}/questions", a.sessionQuestions)
	mux.HandleFunc("POST /api/sessions/{token}/evaluate", a.evaluateSession)

	mux.HandleFunc("POST /api/migrate", a.withPrincipal(a.migrate))
	mux.HandleFunc("POST /api/accounts/answers", a.withPrincipal(a.recordAccountAnswers))
	mux.HandleFunc("GET /api/accounts/records", a.withPrincipal(a.accountRecords))
	mux.HandleFunc("POST /api/accounts/reevaluate", a.withPrincipal(a.reevaluate))

	mux.HandleFunc("POST /api/prospects/simulate", a.simulateProspects)
	mux.HandleFunc("POST /api/prospects/upload-url", a.prospectUploadURL)

	return mux
}

func (a *API) withPrincipal(next func(http.ResponseWriter, *http.Request, identity.Principal)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, err := identity.FromHeaders(r.Header)
		if err != nil {
			writeError(w, err)
			return
		}
		next(w, r, principal)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Success: false, Error: "Invalid request body"})
		return false
	}
	return true
}

func (a *API) questions(w http.ResponseWriter, r *http.Request) {
	snap, err := a.Source.Load(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    QuestionsResponse{CatalogVersion: snap.Version(), Questions: snap.Questions()},
	})
}

// evaluate runs a stateless evaluation over the posted answers.
func (a *API) evaluate(w http.ResponseWriter, r *http.Request) {
	var req AnswersRequest
	if !decodeBody(w, r, &req) {
		return
	}
	snap, err := a.Source.Load(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	results, err := a.Evaluator.Evaluate(r.Context(), snap, req.Answers)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: formatter.Format(results)})
}

func (a *API) createSession(w http.ResponseWriter, r *http.Request) {
	sess, err := a.Sessions.Create(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, Response{Success: true, Data: SessionResponse{Session: sess}})
}

func (a *API) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := a.Sessions.Get(r.Context(), r.PathValue("token"))
	if err != nil {
		writeError(w, err)
		return
	}
	resp := SessionResponse{Session: sess}
	if sess.Results != nil {
		formatted := formatter.Format(sess.Results)
		resp.Results = &formatted
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: resp})
}

func (a *API) recordSessionAnswers(w http.ResponseWriter, r *http.Request) {
	var req AnswersRequest
	if !decodeBody(w, r, &req) {
		return
	}
	sess, err := a.Sessions.RecordAnswers(r.Context(), r.PathValue("token"), req.Answers)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: SessionResponse{Session: sess}})
}

func (a *API) sessionQuestions(w http.ResponseWriter, r *http.Request) {
	questions, err := a.Sessions.VisibleQuestions(r.Context(), r.PathValue("token"))
	if err != nil {
		writeError(w, err)
		return
	}
	if questions == nil {
		questions = []models.Question{}
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: questions})
}

func (a *API) evaluateSession(w http.ResponseWriter, r *http.Request) {
	results, sess, err := a.Sessions.Evaluate(r.Context(), r.PathValue("token"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: SessionResponse{Session: sess, Results: results}})
}

func (a *API) migrate(w http.ResponseWriter, r *http.Request, principal identity.Principal) {
	var req MigrateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	report, err := a.Migrations.MigrateFor(r.Context(), req.SessionToken, principal)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := Response{Success: true, Data: MigrateResponse{Report: report, AlreadyMigrated: report.AlreadyMigrated()}}
	status := http.StatusOK
	if perr := report.Err(); perr != nil {
		status = http.StatusMultiStatus
		resp.Success = false
		resp.Error = perr.Error()
	}
	writeJSON(w, status, resp)
}

func (a *API) recordAccountAnswers(w http.ResponseWriter, r *http.Request, principal identity.Principal) {
	var req AnswersRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := a.Accounts.RecordAnswers(r.Context(), principal.ID, req.Answers); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Message: fmt.Sprintf("%d answers recorded", len(req.Answers))})
}

func (a *API) accountRecords(w http.ResponseWriter, r *http.Request, principal identity.Principal) {
	records, err := a.Accounts.Records(r.Context(), principal.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	if records == nil {
		records = []models.AccountEligibilityRecord{}
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: records})
}

func (a *API) reevaluate(w http.ResponseWriter, r *http.Request, principal identity.Principal) {
	out, err := a.Accounts.Reevaluate(r.Context(), principal.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: out})
}

// simulateProspects accepts a multipart "file" field, a JSON {"key"} naming an
// uploaded object, or a raw CSV body.
func (a *API) simulateProspects(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	var (
		sim *prospects.Simulation
		err error
	)
	switch mediaType {
	case "multipart/form-data":
		content, ferr := readFormFile(r)
		if ferr != nil {
			writeJSON(w, http.StatusBadRequest, Response{Success: false, Error: ferr.Error()})
			return
		}
		sim, err = a.Prospects.Simulate(r.Context(), content)
	case "application/json":
		var req SimulateObjectRequest
		if !decodeBody(w, r, &req) {
			return
		}
		sim, err = a.Prospects.SimulateObject(r.Context(), req.Key)
	default:
		content, rerr := io.ReadAll(r.Body)
		if rerr != nil {
			writeJSON(w, http.StatusBadRequest, Response{Success: false, Error: "Failed to read body"})
			return
		}
		sim, err = a.Prospects.Simulate(r.Context(), string(content))
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: sim})
}

func readFormFile(r *http.Request) (string, error) {
	if err := r.ParseMultipartForm(maxBodyBytes); err != nil {
		return "", fmt.Errorf("failed to parse form: %w", err)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return "", errors.New("no file provided")
	}
	defer file.Close()

	if !strings.HasSuffix(strings.ToLower(header.Filename), ".csv") {
		return "", errors.New("only CSV files are allowed")
	}
	content, err := io.ReadAll(file)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	return string(content), nil
}

func (a *API) prospectUploadURL(w http.ResponseWriter, r *http.Request) {
	if a.Files == nil {
		writeJSON(w, http.StatusServiceUnavailable, Response{Success: false, Error: "file storage not configured"})
		return
	}
	var req UploadURLRequest
	if !decodeBody(w, r, &req) {
		return
	}
	key, err := ProspectUploadKey(req.Filename, time.Now())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Success: false, Error: err.Error()})
		return
	}

	result, err := a.Files.GeneratePresignedUploadURL(r.Context(), key, "text/csv", 60)
	if err != nil {
		utils.Named("api").Error("Failed to generate upload URL", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Response{Success: false, Error: "Failed to generate upload URL"})
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: result})
}

// ProspectUploadKey builds a unique object key for an uploaded prospect file.
// An empty filename gets a generated one; anything but .csv is rejected.
func ProspectUploadKey(filename string, now time.Time) (string, error) {
	if filename == "" {
		filename = "prospects_" + uuid.New().String()[:8] + ".csv"
	}
	if !strings.HasSuffix(strings.ToLower(filename), ".csv") {
		return "", errors.New("only CSV files are allowed")
	}
	return "uploads/" + now.UTC().Format("2006/01/02") + "/" + uuid.New().String() + "_" + sanitizeFilename(filename), nil
}

// sanitizeFilename keeps letters, digits, '.', '-' and '_', up to 100 bytes.
func sanitizeFilename(filename string) string {
	var b strings.Builder
	for _, r := range filename {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '.' || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}
	safe := b.String()
	if len(safe) > 100 {
		safe = safe[:100]
	}
	return safe
}
