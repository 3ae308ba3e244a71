// Package cli implements the glctl commands. Every command reads a workbook,
// a JSON document holding journal entries and the context needed to project
// them, and reports with an exit code: 0 clean, 1 failure, 10 findings.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Oss53pa/Atlas-Finance-sub012/internal/accounting"
	"github.com/Oss53pa/Atlas-Finance-sub012/internal/ledger"
)

const (
	ExitOK       = 0
	ExitFailure  = 1
	ExitFindings = 10
)

// Workbook is the file format consumed by glctl.
type Workbook struct {
	Entries        []accounting.JournalEntry `json:"entries"`
	Accounts       []accounting.Account      `json:"accounts"`
	ClosedChart    bool                      `json:"closed_chart"`
	Opening        ledger.Balances           `json:"opening"`
	Reconciliation map[string]bool           `json:"reconciliation"`
	Currency       string                    `json:"currency"`
}

// Chart returns the workbook chart, or nil when it lists no accounts.
func (w Workbook) Chart() *accounting.Chart {
	if len(w.Accounts) == 0 {
		return nil
	}
	return accounting.NewChart(w.Accounts, w.ClosedChart)
}

// LoadWorkbook decodes the workbook at path. "-" reads stdin.
func LoadWorkbook(path string, stdin io.Reader) (Workbook, error) {
	var r io.Reader
	switch path {
	case "":
		return Workbook{}, fmt.Errorf("workbook path is required")
	case "-":
		r = stdin
	default:
		f, err := os.Open(path)
		if err != nil {
			return Workbook{}, fmt.Errorf("open workbook: %w", err)
		}
		defer f.Close()
		r = f
	}
	var wb Workbook
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&wb); err != nil {
		return Workbook{}, fmt.Errorf("decode workbook %s: %w", path, err)
	}
	return wb, nil
}

// parseDate accepts YYYY-MM-DD. An empty string yields the zero time.
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (expected YYYY-MM-DD)", s)
	}
	return t, nil
}
