package utils

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"fiscal-eligibility-engine/internal/models"
)

// CSVParser errors
var (
	ErrEmptyCSV       = errors.New("CSV content is empty")
	ErrMissingColumns = errors.New("missing required columns")
	ErrNoDataRows     = errors.New("CSV file contains no data rows")
	ErrInvalidRowData = errors.New("invalid row data")
)

// ProspectIDColumn is the column identifying a prospect.
const ProspectIDColumn = "prospect_id"

// ColumnAliases maps alternative column names to question ids.
var ColumnAliases = map[string]string{
	// prospect_id aliases
	"id":             ProspectIDColumn,
	"prospect":       ProspectIDColumn,
	"entreprise":     ProspectIDColumn,
	"company":        ProspectIDColumn,
	"siren":          ProspectIDColumn,
	"raison_sociale": ProspectIDColumn,

	// question aliases
	"sector":              "secteur",
	"secteur_activite":    "secteur",
	"employes":            "nb_employes",
	"salaries":            "nb_employes",
	"nb_salaries":         "nb_employes",
	"ca":                  "chiffre_affaires",
	"chiffre_d'affaires":  "chiffre_affaires",
	"possede_vehicules":   "vehicules",
	"vehicles":            "vehicules",
	"litres_carburant_an": "carburant_litres_an",
	"carburant":           "carburant_litres_an",
	"chauffeurs":          "nb_chauffeurs",
	"taxe_fonciere":       "montant_taxe_fonciere",
	"factures_energie":    "factures_energie_mois",
	"rd":                  "montant_rd",
}

// ProspectRow is one prospect parsed from a CSV file.
type ProspectRow struct {
	Line       int             `json:"line"`
	ProspectID string          `json:"prospect_id"`
	Answers    []models.Answer `json:"answers"`
}

// CSVParser turns prospect CSV files into typed answers.
// Columns are question ids (or aliases); one prospect per row.
type CSVParser struct {
	questions map[string]models.Question
	columns   []questionColumn
	idColumn  int
	now       func() time.Time
}

type questionColumn struct {
	index      int
	questionID string
}

// NewCSVParser creates a parser for the given question catalog.
func NewCSVParser(questions []models.Question) *CSVParser {
	byID := make(map[string]models.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}
	return &CSVParser{
		questions: byID,
		idColumn:  -1,
		now:       time.Now,
	}
}

// ParseProspects parses CSV content. Rows that fail are reported in the
// returned errors and skipped; empty cells are left unanswered.
func (p *CSVParser) ParseProspects(content string) ([]*ProspectRow, []error) {
	if strings.TrimSpace(content) == "" {
		return nil, []error{ErrEmptyCSV}
	}

	reader := csv.NewReader(strings.NewReader(content))
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, []error{fmt.Errorf("failed to read header: %w", err)}
	}
	if err := p.buildColumnMapping(header); err != nil {
		return nil, []error{err}
	}

	var rows []*ProspectRow
	var parseErrors []error
	lineNum := 1 // Header is line 1
	stamp := p.now().UTC()

	for {
		lineNum++
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			parseErrors = append(parseErrors, fmt.Errorf("line %d: %w", lineNum, err))
			continue
		}

		row, err := p.parseRow(record, stamp)
		if err != nil {
			parseErrors = append(parseErrors, fmt.Errorf("line %d: %w", lineNum, err))
			continue
		}
		row.Line = lineNum
		rows = append(rows, row)
	}

	if len(rows) == 0 {
		return nil, append([]error{ErrNoDataRows}, parseErrors...)
	}
	return rows, parseErrors
}

// canonicalColumn normalizes a header cell and resolves aliases.
func canonicalColumn(col string) string {
	normalized := models.NormalizeKey(col)
	if alias, ok := ColumnAliases[normalized]; ok {
		return alias
	}
	return normalized
}

func (p *CSVParser) buildColumnMapping(header []string) error {
	p.columns = nil
	p.idColumn = -1

	for i, col := range header {
		name := canonicalColumn(col)
		if name == ProspectIDColumn {
			p.idColumn = i
			continue
		}
		if _, ok := p.questions[name]; ok {
			p.columns = append(p.columns, questionColumn{index: i, questionID: name})
		}
	}

	if p.idColumn < 0 {
		return fmt.Errorf("%w: %s", ErrMissingColumns, ProspectIDColumn)
	}
	if len(p.columns) == 0 {
		return fmt.Errorf("%w: no column matches a known question", ErrMissingColumns)
	}
	return nil
}

func (p *CSVParser) parseRow(record []string, stamp time.Time) (*ProspectRow, error) {
	if p.idColumn >= len(record) || strings.TrimSpace(record[p.idColumn]) == "" {
		return nil, fmt.Errorf("%w: empty %s", ErrInvalidRowData, ProspectIDColumn)
	}
	row := &ProspectRow{ProspectID: strings.TrimSpace(record[p.idColumn])}

	for _, col := range p.columns {
		if col.index >= len(record) {
			continue
		}
		questionID := col.questionID
		cell := strings.TrimSpace(record[col.index])
		if cell == "" {
			continue
		}
		value, err := ParseAnswerValue(p.questions[questionID].ValueType, cell)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidRowData, questionID, err)
		}
		row.Answers = append(row.Answers, models.Answer{
			QuestionID: questionID,
			OwnerID:    row.ProspectID,
			Value:      value,
			Timestamp:  stamp,
		})
	}
	return row, nil
}

// ParseAnswerValue converts a raw cell to the variant expected by a question.
// Multi-choice cells separate items with ';'.
func ParseAnswerValue(valueType models.QuestionValueType, raw string) (models.AnswerValue, error) {
	raw = strings.TrimSpace(raw)
	switch valueType {
	case models.QuestionValueNumber:
		n, err := parseFloat(raw)
		if err != nil {
			return models.AnswerValue{}, fmt.Errorf("invalid number %q", raw)
		}
		return models.NumberValue(n), nil
	case models.QuestionValueBoolean:
		b, err := parseBool(raw)
		if err != nil {
			return models.AnswerValue{}, err
		}
		return models.BoolValue(b), nil
	case models.QuestionValueMultiChoice:
		var items []string
		for _, item := range strings.Split(raw, ";") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		return models.ListValue(items...), nil
	default:
		return models.StringValue(raw), nil
	}
}

// parseFloat parses a string to float64, handling French and English formats
// such as "45 000", "1 234,5 €" or "1,234.5".
func parseFloat(s string) (float64, error) {
	if s == "" {
		return 0, errors.New("empty value")
	}

	s = strings.TrimSuffix(strings.TrimSpace(s), "€")
	s = strings.NewReplacer(" ", "", "\u00a0", "", "\u202f", "").Replace(s)
	if strings.Contains(s, ".") {
		s = strings.ReplaceAll(s, ",", "")
	} else {
		s = strings.ReplaceAll(s, ",", ".")
	}

	return strconv.ParseFloat(s, 64)
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "oui", "yes", "true", "vrai", "1":
		return true, nil
	case "non", "no", "false", "faux", "0":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", s)
}

// ValidateCSVStructure performs a quick validation of CSV structure without full parsing.
func ValidateCSVStructure(content string, questions []models.Question) (*CSVValidationResult, error) {
	result := &CSVValidationResult{
		Valid:          false,
		RowCount:       0,
		Columns:        []string{},
		UnknownColumns: []string{},
		MissingColumns: []string{},
		Errors:         []string{},
	}

	if strings.TrimSpace(content) == "" {
		result.Errors = append(result.Errors, "empty file")
		return result, nil
	}

	known := make(map[string]bool, len(questions))
	for _, q := range questions {
		known[q.ID] = true
	}

	reader := csv.NewReader(strings.NewReader(content))
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("failed to read header: %v", err))
		return result, nil
	}

	hasID := false
	for _, col := range header {
		name := canonicalColumn(col)
		result.Columns = append(result.Columns, col)
		switch {
		case name == ProspectIDColumn:
			hasID = true
		case !known[name]:
			result.UnknownColumns = append(result.UnknownColumns, col)
		}
	}
	if !hasID {
		result.MissingColumns = append(result.MissingColumns, ProspectIDColumn)
	}

	for {
		_, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("row error: %v", err))
			continue
		}
		result.RowCount++
	}

	result.Valid = len(result.MissingColumns) == 0 && result.RowCount > 0
	return result, nil
}

// CSVValidationResult contains the results of CSV validation.
type CSVValidationResult struct {
	Valid          bool     `json:"valid"`
	RowCount       int      `json:"row_count"`
	Columns        []string `json:"columns"`
	UnknownColumns []string `json:"unknown_columns"`
	MissingColumns []string `json:"missing_columns"`
	Errors         []string `json:"errors"`
}
