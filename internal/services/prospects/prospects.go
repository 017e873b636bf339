// Package prospects runs the eligibility evaluator over a CSV file of prospects.
package prospects

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"fiscal-eligibility-engine/internal/models"
	"fiscal-eligibility-engine/internal/services/catalog"
	"fiscal-eligibility-engine/internal/services/evaluator"
	"fiscal-eligibility-engine/internal/services/formatter"
	"fiscal-eligibility-engine/internal/utils"
)

// Downloader fetches an uploaded CSV file.
type Downloader interface {
	DownloadFile(ctx context.Context, key string) ([]byte, error)
}

// ProspectResult holds the formatted evaluation of one CSV row.
type ProspectResult struct {
	Line       int                        `json:"line"`
	ProspectID string                     `json:"prospect_id"`
	Results    formatter.FormattedResults `json:"results"`
}

// Simulation is the outcome of a bulk simulation.
type Simulation struct {
	CatalogVersion     string           `json:"catalog_version"`
	Prospects          []ProspectResult `json:"prospects"`
	EligibleProspects  int              `json:"eligible_prospects"`
	TotalEstimatedGain int64            `json:"total_estimated_gain"`
	IgnoredColumns     []string         `json:"ignored_columns"`
	Errors             []string         `json:"errors"`
}

// Service evaluates prospect files.
type Service struct {
	source     catalog.Source
	evaluator  *evaluator.Evaluator
	downloader Downloader
	logger     *zap.Logger
}

// NewService creates a prospect simulation service. downloader may be nil
// when files are only submitted inline.
func NewService(source catalog.Source, eval *evaluator.Evaluator, downloader Downloader) *Service {
	return &Service{
		source:     source,
		evaluator:  eval,
		downloader: downloader,
		logger:     utils.Named("prospects"),
	}
}

// Simulate parses content and evaluates each prospect against the current catalog.
// Rows that cannot be parsed are reported in Errors and columns matching no
// question in IgnoredColumns. A file without an id column or without any
// usable row fails with ErrInvalidAnswer.
func (s *Service) Simulate(ctx context.Context, content string) (*Simulation, error) {
	snap, err := s.source.Load(ctx)
	if err != nil {
		return nil, err
	}

	check, err := utils.ValidateCSVStructure(content, snap.Questions())
	if err != nil {
		return nil, err
	}
	if !check.Valid {
		return nil, fmt.Errorf("%w: %s", models.ErrInvalidAnswer, describeInvalid(check))
	}

	rows, parseErrors := utils.NewCSVParser(snap.Questions()).ParseProspects(content)
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %w", models.ErrInvalidAnswer, errors.Join(parseErrors...))
	}

	sim := &Simulation{
		CatalogVersion: snap.Version(),
		Prospects:      make([]ProspectResult, 0, len(rows)),
		IgnoredColumns: check.UnknownColumns,
		Errors:         make([]string, 0, len(parseErrors)),
	}
	for _, perr := range parseErrors {
		sim.Errors = append(sim.Errors, perr.Error())
	}

	for _, row := range rows {
		results, err := s.evaluator.Evaluate(ctx, snap, row.Answers)
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate prospect %s: %w", row.ProspectID, err)
		}
		formatted := formatter.Format(results)
		if formatted.EligibleCount > 0 {
			sim.EligibleProspects++
		}
		sim.TotalEstimatedGain += formatted.TotalEstimatedGain
		sim.Prospects = append(sim.Prospects, ProspectResult{
			Line:       row.Line,
			ProspectID: row.ProspectID,
			Results:    formatted,
		})
	}

	s.logger.Info("Prospect simulation completed",
		utils.CatalogVersion(snap.Version()),
		zap.Int("prospects", len(sim.Prospects)),
		zap.Int("eligible_prospects", sim.EligibleProspects),
		zap.Int("errors", len(sim.Errors)))

	return sim, nil
}

func describeInvalid(check *utils.CSVValidationResult) string {
	var problems []string
	if len(check.MissingColumns) > 0 {
		problems = append(problems, "missing columns "+strings.Join(check.MissingColumns, ", "))
	}
	if check.RowCount == 0 {
		problems = append(problems, utils.ErrNoDataRows.Error())
	}
	problems = append(problems, check.Errors...)
	return strings.Join(problems, "; ")
}

// SimulateObject downloads an uploaded CSV file and simulates it.
func (s *Service) SimulateObject(ctx context.Context, key string) (*Simulation, error) {
	if s.downloader == nil {
		return nil, errors.New("no file storage configured")
	}
	data, err := s.downloader.DownloadFile(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch prospect file: %w", err)
	}
	return s.Simulate(ctx, string(data))
}
