// Package policy loads the allocation policy and continuity metric table
// from YAML or JSON documents.
package policy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/Oss53pa/Atlas-Finance-sub012/internal/allocation"
	"github.com/Oss53pa/Atlas-Finance-sub012/internal/continuity"
	"github.com/Oss53pa/Atlas-Finance-sub012/internal/shared"
)

// Document is the policy file.
type Document struct {
	Allocation allocation.Policy `json:"allocation" yaml:"allocation"`
	Continuity continuity.Config `json:"continuity" yaml:"continuity"`
}

// Default returns the built-in policy: a 5% legal reserve capped at nothing,
// everything else carried forward, and the default metric table.
func Default() Document {
	return Document{
		Allocation: allocation.Policy{
			LegalReserve: allocation.LegalReserve{Rate: decimal.RequireFromString("0.05")},
		},
		Continuity: continuity.DefaultConfig(),
	}
}

// Validate checks both sections, reporting every problem.
func (d Document) Validate() error {
	return errors.Join(d.Allocation.Validate(), d.Continuity.Validate())
}

// Parse decodes and validates a document. JSON is accepted as a YAML subset.
// Unknown fields are rejected.
func Parse(data []byte) (Document, error) {
	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return Document{}, shared.NewConfigError("policy document", err.Error())
	}
	if len(doc.Continuity.Metrics) == 0 {
		defaults := continuity.DefaultConfig()
		doc.Continuity.Metrics = defaults.Metrics
	}
	if err := doc.Validate(); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// Load reads the document at path. An empty path yields Default().
func Load(path string) (Document, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("policy: read %s: %w", path, err)
	}
	return Parse(data)
}
