package catalog

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"

	"fiscal-eligibility-engine/internal/models"
)

//go:embed default_catalog.json
var defaultCatalog []byte

// Document is the serialized form of a catalog snapshot.
type Document struct {
	Version   string            `json:"version"`
	Questions []models.Question `json:"questions"`
	Products  []models.Product  `json:"products"`
	Rules     []models.Rule     `json:"rules"`
}

// Decode reads a catalog document and builds a snapshot from it.
// Unknown fields are rejected so malformed rules fail at load time.
func Decode(r io.Reader) (*Snapshot, error) {
	doc, err := DecodeDocument(r)
	if err != nil {
		return nil, err
	}
	return doc.Snapshot()
}

// DecodeDocument reads a catalog document without validating it.
func DecodeDocument(r io.Reader) (*Document, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: failed to decode catalog: %v", models.ErrInvalidCatalog, err)
	}
	if doc.Version == "" {
		return nil, fmt.Errorf("%w: missing version", models.ErrInvalidCatalog)
	}
	return &doc, nil
}

// Snapshot validates the document.
func (d *Document) Snapshot() (*Snapshot, error) {
	return Build(d.Version, d.Questions, d.Products, d.Rules)
}

// Encode writes the document as indented JSON.
func (d *Document) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(d); err != nil {
		return fmt.Errorf("failed to encode catalog: %w", err)
	}
	return nil
}

// DefaultDocument returns the catalog shipped with the binary.
func DefaultDocument() (*Document, error) {
	return DecodeDocument(bytes.NewReader(defaultCatalog))
}

// Default builds the snapshot shipped with the binary.
func Default() (*Snapshot, error) {
	return Decode(bytes.NewReader(defaultCatalog))
}
