package close

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Oss53pa/Atlas-Finance-sub012/internal/accounting"
	"github.com/Oss53pa/Atlas-Finance-sub012/internal/accounting/reports"
	"github.com/Oss53pa/Atlas-Finance-sub012/internal/ledger"
)

// PeriodStatus enumerates fiscal year lifecycle stages.
type PeriodStatus string

const (
	PeriodStatusOpen       PeriodStatus = "OPEN"
	PeriodStatusSoftClosed PeriodStatus = "SOFT_CLOSED"
	PeriodStatusHardClosed PeriodStatus = "HARD_CLOSED"
)

// RunStatus captures the lifecycle of a close run.
type RunStatus string

const (
	RunStatusCompleted  RunStatus = "COMPLETED"
	RunStatusSuperseded RunStatus = "SUPERSEDED"
)

// FiscalYear is the unit that gets closed and rolled forward.
type FiscalYear struct {
	Year         int          `json:"year"`
	Start        time.Time    `json:"start"`
	End          time.Time    `json:"end"`
	Status       PeriodStatus `json:"status"`
	SoftClosedBy *int64       `json:"soft_closed_by,omitempty"`
	SoftClosedAt *time.Time   `json:"soft_closed_at,omitempty"`
	ClosedBy     *int64       `json:"closed_by,omitempty"`
	ClosedAt     *time.Time   `json:"closed_at,omitempty"`
	LatestRunID  *uuid.UUID   `json:"latest_run_id,omitempty"`
}

// FiscalYearOf returns the fiscal year containing date. Fiscal years are named
// after the calendar year they start in.
func FiscalYearOf(date time.Time, startMonth time.Month) int {
	if startMonth < time.January || startMonth > time.December {
		startMonth = time.January
	}
	if date.Month() < startMonth {
		return date.Year() - 1
	}
	return date.Year()
}

// Range returns the inclusive date window of the fiscal year.
func (fy FiscalYear) Range() ledger.DateRange {
	return ledger.DateRange{Start: fy.Start, End: fy.End}
}

// NewFiscalYear builds an open fiscal year starting on the first day of startMonth.
func NewFiscalYear(year int, startMonth time.Month) FiscalYear {
	if startMonth < time.January || startMonth > time.December {
		startMonth = time.January
	}
	start := time.Date(year, startMonth, 1, 0, 0, 0, 0, time.UTC)
	return FiscalYear{
		Year:   year,
		Start:  start,
		End:    start.AddDate(1, 0, -1),
		Status: PeriodStatusOpen,
	}
}

// RunSummary counts what a close run saw.
type RunSummary struct {
	Entries     int `json:"entries"`
	Rejected    int `json:"rejected"`
	OrphanLines int `json:"orphan_lines"`
	Accounts    int `json:"accounts"`
	Validated   int `json:"validated"`
	Issues      int `json:"issues"`
}

// CloseRun records one execution of a fiscal year close.
type CloseRun struct {
	ID          uuid.UUID  `json:"id"`
	Year        int        `json:"fiscal_year"`
	Status      RunStatus  `json:"status"`
	CreatedBy   int64      `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Summary     RunSummary `json:"summary"`
}

// CloseYearInput bundles parameters for a soft close.
type CloseYearInput struct {
	Year    int
	ActorID int64
}

// Validate ensures the input is coherent.
func (in CloseYearInput) Validate() error {
	if in.Year < 1900 || in.Year > 9999 {
		return ErrInvalidYear
	}
	if in.ActorID == 0 {
		return ErrActorRequired
	}
	return nil
}

// LedgerView is the ledger projection of a fiscal year with its diagnostics.
type LedgerView struct {
	Year  int              `json:"fiscal_year"`
	Range ledger.DateRange `json:"range"`
	ledger.Result
	Entries     int                            `json:"entries"`
	Rejected    []*accounting.EntryError       `json:"rejected"`
	OrphanLines []accounting.OrphanLineWarning `json:"orphan_lines"`
}

// FinancialStatements are the reports of a fiscal year, built from ledgers
// seeded with the previous carry-forward.
type FinancialStatements struct {
	Year  int              `json:"fiscal_year"`
	Range ledger.DateRange `json:"range"`
	reports.Statements
	Rejected []*accounting.EntryError `json:"rejected"`
}

// CloseOutcome is returned by a soft close.
type CloseOutcome struct {
	FiscalYear   FiscalYear               `json:"fiscal_year"`
	Run          CloseRun                 `json:"run"`
	CarryForward CarryForward             `json:"carry_forward"`
	Rejected     []*accounting.EntryError `json:"rejected"`
}

var (
	// ErrPeriodHardClosed is returned when writing to a hard closed fiscal year.
	ErrPeriodHardClosed = errors.New("close: period already hard closed")
	// ErrRunNotFound indicates a close run could not be loaded.
	ErrRunNotFound = fmt.Errorf("close: run not found")
	// ErrFiscalYearNotFound indicates the fiscal year has never been opened.
	ErrFiscalYearNotFound = errors.New("close: fiscal year not found")
	// ErrCarryForwardNotFound indicates the fiscal year has no stored carry-forward.
	ErrCarryForwardNotFound = errors.New("close: carry-forward not found")
	// ErrNotSoftClosed is returned when an operation needs a soft closed year.
	ErrNotSoftClosed = errors.New("close: fiscal year not soft closed")
	// ErrRollForwardNotValidated blocks the hard close while balances carry issues.
	ErrRollForwardNotValidated = errors.New("close: carry-forward has unvalidated balances")
	// ErrDuplicateEntry indicates an entry id that was already posted.
	ErrDuplicateEntry = errors.New("close: duplicate journal entry")
	// ErrActorRequired is returned when a workflow step has no actor.
	ErrActorRequired = errors.New("close: actor required")
	// ErrInvalidEntry wraps structural problems of a posted entry.
	ErrInvalidEntry = errors.New("close: invalid journal entry")
	// ErrInvalidYear indicates an out of range fiscal year.
	ErrInvalidYear = errors.New("close: invalid fiscal year")
)
