package accounting

import (
	"fmt"
	"strings"
)

// EntryErrorKind classifies why an entry was refused.
type EntryErrorKind string

const (
	KindUnbalancedEntry        EntryErrorKind = "UNBALANCED_ENTRY"
	KindEmptyEntry             EntryErrorKind = "EMPTY_ENTRY"
	KindOrphanAccountReference EntryErrorKind = "ORPHAN_ACCOUNT_REFERENCE"
	KindNegativeAmount         EntryErrorKind = "NEGATIVE_AMOUNT"
	KindAmountOverflow         EntryErrorKind = "AMOUNT_OVERFLOW"
)

// EntryError describes a rejected journal entry.
type EntryError struct {
	EntryID     string         `json:"entry_id"`
	Kind        EntryErrorKind `json:"kind"`
	Line        int            `json:"line,omitempty"`
	AccountCode string         `json:"account_code,omitempty"`
	Debit       Amount         `json:"debit,omitempty"`
	Credit      Amount         `json:"credit,omitempty"`
}

func (e *EntryError) Error() string {
	switch e.Kind {
	case KindUnbalancedEntry:
		return fmt.Sprintf("%v: entry %s debit %d credit %d", ErrUnbalanced, e.EntryID, e.Debit, e.Credit)
	case KindOrphanAccountReference:
		return fmt.Sprintf("%v: entry %s line %d account %s", ErrOrphanAccount, e.EntryID, e.Line, e.AccountCode)
	case KindNegativeAmount:
		return fmt.Sprintf("%v: entry %s line %d", ErrNegativeAmount, e.EntryID, e.Line)
	case KindAmountOverflow:
		return fmt.Sprintf("%v: entry %s line %d", ErrAmountOverflow, e.EntryID, e.Line)
	default:
		return fmt.Sprintf("%v: entry %s", ErrEmptyEntry, e.EntryID)
	}
}

// Unwrap exposes the sentinel matching the error kind.
func (e *EntryError) Unwrap() error {
	switch e.Kind {
	case KindUnbalancedEntry:
		return ErrUnbalanced
	case KindOrphanAccountReference:
		return ErrOrphanAccount
	case KindNegativeAmount:
		return ErrNegativeAmount
	case KindAmountOverflow:
		return ErrAmountOverflow
	default:
		return ErrEmptyEntry
	}
}

// OrphanLineWarning reports a line rerouted to the unassigned bucket.
type OrphanLineWarning struct {
	EntryID     string `json:"entry_id"`
	Line        int    `json:"line"`
	AccountCode string `json:"account_code"`
}

// ValidatedEntry is an entry admitted to aggregation.
type ValidatedEntry struct {
	Entry    JournalEntry
	Warnings []OrphanLineWarning
}

// Validate checks the double-entry invariant of a single entry. When chart is
// nil account codes are not checked.
func Validate(entry JournalEntry, chart *Chart) (ValidatedEntry, error) {
	if len(entry.Lines) == 0 {
		return ValidatedEntry{}, &EntryError{EntryID: entry.ID, Kind: KindEmptyEntry}
	}
	for idx, line := range entry.Lines {
		if line.Debit < 0 || line.Credit < 0 {
			return ValidatedEntry{}, &EntryError{EntryID: entry.ID, Kind: KindNegativeAmount, Line: idx + 1, AccountCode: line.AccountCode}
		}
	}
	debit, credit, overflow := entry.Totals()
	if overflow > 0 {
		return ValidatedEntry{}, &EntryError{EntryID: entry.ID, Kind: KindAmountOverflow, Line: overflow, AccountCode: entry.Lines[overflow-1].AccountCode}
	}
	if debit != credit {
		return ValidatedEntry{}, &EntryError{EntryID: entry.ID, Kind: KindUnbalancedEntry, Debit: debit, Credit: credit}
	}
	if chart == nil {
		return ValidatedEntry{Entry: entry}, nil
	}

	var warnings []OrphanLineWarning
	lines := entry.Lines
	copied := false
	for idx, line := range entry.Lines {
		code := strings.TrimSpace(line.AccountCode)
		if _, ok := chart.Lookup(code); ok {
			continue
		}
		if chart.Closed {
			return ValidatedEntry{}, &EntryError{EntryID: entry.ID, Kind: KindOrphanAccountReference, Line: idx + 1, AccountCode: line.AccountCode}
		}
		if !copied {
			lines = append([]JournalLine(nil), entry.Lines...)
			copied = true
		}
		lines[idx].OriginalAccountCode = line.AccountCode
		lines[idx].AccountCode = UnassignedAccount
		warnings = append(warnings, OrphanLineWarning{EntryID: entry.ID, Line: idx + 1, AccountCode: line.AccountCode})
	}
	entry.Lines = lines
	return ValidatedEntry{Entry: entry, Warnings: warnings}, nil
}

// ValidationReport splits a batch of entries into admitted and rejected ones.
type ValidationReport struct {
	Valid    []JournalEntry      `json:"-"`
	Rejected []*EntryError       `json:"rejected"`
	Warnings []OrphanLineWarning `json:"warnings"`
}

// ValidateAll validates every entry, keeping input order for admitted entries.
func ValidateAll(entries []JournalEntry, chart *Chart) ValidationReport {
	report := ValidationReport{
		Valid:    make([]JournalEntry, 0, len(entries)),
		Rejected: make([]*EntryError, 0),
		Warnings: make([]OrphanLineWarning, 0),
	}
	for _, entry := range entries {
		validated, err := Validate(entry, chart)
		if err != nil {
			report.Rejected = append(report.Rejected, err.(*EntryError))
			continue
		}
		report.Valid = append(report.Valid, validated.Entry)
		report.Warnings = append(report.Warnings, validated.Warnings...)
	}
	return report
}
