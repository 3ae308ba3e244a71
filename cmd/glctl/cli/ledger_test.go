package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Oss53pa/Atlas-Finance-sub012/internal/accounting"
	"github.com/Oss53pa/Atlas-Finance-sub012/internal/allocation"
	"github.com/Oss53pa/Atlas-Finance-sub012/internal/close"
	"github.com/Oss53pa/Atlas-Finance-sub012/internal/continuity"
	"github.com/Oss53pa/Atlas-Finance-sub012/internal/policy"
	_ "github.com/Oss53pa/Atlas-Finance-sub012/testing"
)

func day(m time.Month, d int) time.Time {
	return time.Date(2024, m, d, 0, 0, 0, 0, time.UTC)
}

func entry(id string, date time.Time, seq int64, debit, credit string, amount accounting.Amount) accounting.JournalEntry {
	return accounting.JournalEntry{
		ID: id, Date: date, Sequence: seq,
		Lines: []accounting.JournalLine{
			{AccountCode: debit, Debit: amount},
			{AccountCode: credit, Credit: amount},
		},
	}
}

func sampleWorkbook() Workbook {
	return Workbook{
		Accounts: []accounting.Account{
			{Code: "101000", Label: "Share capital"},
			{Code: "401100", Label: "Suppliers"},
			{Code: "512000", Label: "Bank"},
			{Code: "601000", Label: "Purchases"},
			{Code: "701000", Label: "Sales"},
		},
		Entries: []accounting.JournalEntry{
			entry("E0", day(1, 2), 1, "512000", "101000", 1000000),
			entry("E1", day(3, 15), 2, "512000", "701000", 500000),
			entry("E2", day(6, 30), 3, "601000", "401100", 125000),
			entry("E9", time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC), 4, "512000", "701000", 1),
		},
		Reconciliation: map[string]bool{"512000": true},
		Currency:       "USD",
	}
}

func writeWorkbook(t *testing.T, wb Workbook) string {
	t.Helper()
	data, err := json.Marshal(wb)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "workbook.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func run(t *testing.T, fn func(Output) int) (int, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	code := fn(Output{JSONOutput: true, Stdout: stdout, Stderr: stderr})
	return code, stdout, stderr
}

func period(path string) PeriodOptions {
	return PeriodOptions{Workbook: path, Year: 2024, StartMonth: time.January}
}

func TestAggregateCommand(t *testing.T) {
	c := NewLedgerCLI(policy.Default(), 4)
	path := writeWorkbook(t, sampleWorkbook())

	code, stdout, stderr := run(t, func(o Output) int {
		return c.AggregateCommand(AggregateOptions{PeriodOptions: period(path), Output: o, SortByCode: true})
	})
	require.Equal(t, ExitOK, code, stderr.String())

	var summary struct {
		Ledgers []struct {
			AccountCode    string            `json:"account_code"`
			ClosingBalance accounting.Amount `json:"closing_balance"`
		} `json:"ledgers"`
		Rejected []accounting.EntryError `json:"rejected"`
	}
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &summary))
	require.Empty(t, summary.Rejected)
	codes := make([]string, 0, len(summary.Ledgers))
	for _, l := range summary.Ledgers {
		codes = append(codes, l.AccountCode)
		if l.AccountCode == "512000" {
			require.Equal(t, accounting.Amount(1500000), l.ClosingBalance, "entries after the fiscal year are excluded")
		}
	}
	require.Equal(t, []string{"101000", "401100", "512000", "601000", "701000"}, codes)
}

func TestAggregateCommandReportsRejectedEntries(t *testing.T) {
	wb := sampleWorkbook()
	wb.Entries = append(wb.Entries, accounting.JournalEntry{
		ID: "BAD", Date: day(4, 1), Sequence: 9,
		Lines: []accounting.JournalLine{{AccountCode: "512000", Debit: 10}, {AccountCode: "701000", Credit: 9}},
	})
	c := NewLedgerCLI(policy.Default(), 1)
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	code := c.AggregateCommand(AggregateOptions{
		PeriodOptions: period(writeWorkbook(t, wb)),
		Output:        Output{Stdout: stdout, Stderr: stderr},
	})
	require.Equal(t, ExitFindings, code)
	require.Contains(t, stdout.String(), "rejected:")
	require.Contains(t, stdout.String(), "BAD")
	require.Contains(t, stdout.String(), "$15,000.00")
}

func TestCloseCommand(t *testing.T) {
	c := NewLedgerCLI(policy.Default(), 1)

	t.Run("validated", func(t *testing.T) {
		code, stdout, stderr := run(t, func(o Output) int {
			return c.CloseCommand(CloseOptions{PeriodOptions: period(writeWorkbook(t, sampleWorkbook())), Output: o})
		})
		require.Equal(t, ExitOK, code, stderr.String())
		var cf close.CarryForward
		require.NoError(t, json.Unmarshal(stdout.Bytes(), &cf))
		bank, ok := cf.Balance("512000")
		require.True(t, ok)
		require.Equal(t, accounting.Amount(1500000), bank.ClosingDebit)
	})

	t.Run("bank not reconciled", func(t *testing.T) {
		wb := sampleWorkbook()
		wb.Reconciliation = nil
		stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
		code := c.CloseCommand(CloseOptions{
			PeriodOptions: period(writeWorkbook(t, wb)),
			Output:        Output{Stdout: stdout, Stderr: stderr},
			AsOf:          "2024-12-31",
		})
		require.Equal(t, ExitFindings, code)
		require.Contains(t, stdout.String(), string(close.IssueUnreconciled))
	})

	t.Run("usage errors", func(t *testing.T) {
		code, _, stderr := run(t, func(o Output) int {
			return c.CloseCommand(CloseOptions{PeriodOptions: PeriodOptions{Workbook: "x.json"}, Output: o})
		})
		require.Equal(t, ExitFailure, code)
		require.Contains(t, stderr.String(), "--year is required")

		code, _, stderr = run(t, func(o Output) int {
			return c.CloseCommand(CloseOptions{PeriodOptions: period(filepath.Join(t.TempDir(), "missing.json")), Output: o})
		})
		require.Equal(t, ExitFailure, code)
		require.Contains(t, stderr.String(), "open workbook")

		code, _, stderr = run(t, func(o Output) int {
			return c.CloseCommand(CloseOptions{PeriodOptions: period("-"), Output: o, AsOf: "31/12/2024"})
		})
		require.Equal(t, ExitFailure, code)
		require.Contains(t, stderr.String(), "invalid date")
	})
}

func TestAllocateCommand(t *testing.T) {
	c := NewLedgerCLI(policy.Default(), 1)
	path := writeWorkbook(t, sampleWorkbook())

	code, stdout, stderr := run(t, func(o Output) int {
		return c.AllocateCommand(AllocateOptions{PeriodOptions: period(path), Output: o})
	})
	require.Equal(t, ExitOK, code, stderr.String())
	var summary AllocateSummary
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &summary))
	require.Equal(t, accounting.Amount(375000), summary.NetResult)
	require.Equal(t, accounting.Amount(18750), summary.LegalReservesAmount)
	require.Equal(t, accounting.Amount(356250), summary.CarriedForwardAmount)
	require.True(t, summary.Approvable)

	net := accounting.Amount(100000)
	dividends := accounting.Amount(200000)
	code, stdout, _ = run(t, func(o Output) int {
		return c.AllocateCommand(AllocateOptions{
			PeriodOptions: PeriodOptions{Year: 2024},
			Output:        o,
			NetResult:     &net,
			Adjust:        &allocation.Amounts{Dividends: &dividends},
		})
	})
	require.Equal(t, ExitFindings, code)
	summary = AllocateSummary{}
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &summary))
	require.False(t, summary.Approvable)
	require.NotEmpty(t, summary.ApprovalProblem)
}

func TestContinuityCommand(t *testing.T) {
	c := NewLedgerCLI(policy.Default(), 1)
	code, stdout, stderr := run(t, func(o Output) int {
		return c.ContinuityCommand(ContinuityOptions{PeriodOptions: period(writeWorkbook(t, sampleWorkbook())), Output: o})
	})
	require.Equal(t, ExitOK, code, stderr.String())
	var summary ContinuitySummary
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &summary))
	require.NotEmpty(t, summary.Controls)
	for _, ctl := range summary.Controls {
		require.Equal(t, continuity.RiskLow, ctl.RiskLevel, ctl.MetricName)
	}
}

func TestStatementsCommand(t *testing.T) {
	wb := sampleWorkbook()
	wb.Entries = append(wb.Entries, entry("E8", time.Date(2024, 12, 31, 10, 0, 0, 0, time.UTC), 5, "512000", "701000", 20000))
	c := NewLedgerCLI(policy.Default(), 1)
	path := writeWorkbook(t, wb)

	code, stdout, stderr := run(t, func(o Output) int {
		return c.StatementsCommand(StatementsOptions{PeriodOptions: period(path), Output: o})
	})
	require.Equal(t, ExitOK, code, stderr.String())
	var summary StatementsSummary
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &summary))
	require.Equal(t, accounting.Amount(395000), summary.ProfitAndLoss.NetIncome, "the last day counts whatever its time")
	require.Equal(t, accounting.Amount(1520000), summary.BalanceSheet.Assets.Total)
	require.True(t, summary.BalanceSheet.Balanced())

	text := new(bytes.Buffer)
	code = c.StatementsCommand(StatementsOptions{PeriodOptions: period(path), Output: Output{Stdout: text, Stderr: stderr}})
	require.Equal(t, ExitOK, code)
	require.Contains(t, text.String(), "Net income")
	require.Contains(t, text.String(), "$3,950.00")
}

func TestWorkbookFromStdinRejectsUnknownFields(t *testing.T) {
	c := NewLedgerCLI(policy.Default(), 1).WithStdin(strings.NewReader(`{"entries":[],"journal":[]}`))
	code, _, stderr := run(t, func(o Output) int {
		return c.AggregateCommand(AggregateOptions{PeriodOptions: period("-"), Output: o})
	})
	require.Equal(t, ExitFailure, code)
	require.Contains(t, stderr.String(), "unknown field")
}

func TestFormatAmount(t *testing.T) {
	require.Equal(t, "$3,750.00", formatAmount(375000, "USD"))
	require.Equal(t, "-$12.50", formatAmount(-1250, "USD"))
}
