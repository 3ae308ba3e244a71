package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/Oss53pa/Atlas-Finance-sub012/internal/accounting"
	"github.com/Oss53pa/Atlas-Finance-sub012/internal/accounting/reports"
	"github.com/Oss53pa/Atlas-Finance-sub012/internal/allocation"
	"github.com/Oss53pa/Atlas-Finance-sub012/internal/close"
	"github.com/Oss53pa/Atlas-Finance-sub012/internal/continuity"
	"github.com/Oss53pa/Atlas-Finance-sub012/internal/ledger"
	"github.com/Oss53pa/Atlas-Finance-sub012/internal/policy"
)

// LedgerCLI computes ledgers, closes, allocations and continuity controls
// from workbooks without touching a database.
type LedgerCLI struct {
	policy     policy.Document
	partitions int
	stdin      io.Reader
}

// NewLedgerCLI constructs the helper. partitions below 2 aggregate in one pass.
func NewLedgerCLI(doc policy.Document, partitions int) *LedgerCLI {
	return &LedgerCLI{policy: doc, partitions: partitions, stdin: os.Stdin}
}

// Output selects the writers and format shared by every command.
type Output struct {
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

func (o *Output) defaults() {
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
}

func (o Output) fail(cmd string, err error) int {
	_, _ = fmt.Fprintf(o.Stderr, "%s: %v\n", cmd, err)
	return ExitFailure
}

func (o Output) json(cmd string, v any) int {
	enc := json.NewEncoder(o.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return o.fail(cmd, fmt.Errorf("encode json: %w", err))
	}
	return ExitOK
}

// PeriodOptions selects the fiscal year a command projects.
type PeriodOptions struct {
	Workbook   string
	Year       int
	StartMonth time.Month
}

func (p PeriodOptions) fiscalYear() (close.FiscalYear, error) {
	if p.Year == 0 {
		return close.FiscalYear{}, nil
	}
	if p.Year < 1900 || p.Year > 9999 {
		return close.FiscalYear{}, close.ErrInvalidYear
	}
	return close.NewFiscalYear(p.Year, p.StartMonth), nil
}

type projection struct {
	workbook Workbook
	fy       close.FiscalYear
	chart    *accounting.Chart
	result   ledger.Result
	report   accounting.ValidationReport
}

func (c *LedgerCLI) project(p PeriodOptions, sortByCode bool) (projection, error) {
	wb, err := LoadWorkbook(p.Workbook, c.stdin)
	if err != nil {
		return projection{}, err
	}
	fy, err := p.fiscalYear()
	if err != nil {
		return projection{}, err
	}
	chart := wb.Chart()
	report := accounting.ValidateAll(wb.Entries, chart)
	res := ledger.AggregatePartitioned(ledger.Request{
		Postings:   ledger.PostingsOf(report.Valid),
		Range:      fy.Range(),
		Opening:    wb.Opening,
		Chart:      chart,
		SortByCode: sortByCode,
	}, c.partitions)
	return projection{workbook: wb, fy: fy, chart: chart, result: res, report: report}, nil
}

// AggregateOptions configures the aggregate command.
type AggregateOptions struct {
	PeriodOptions
	Output
	SortByCode bool
}

// AggregateSummary is the JSON output of the aggregate command.
type AggregateSummary struct {
	ledger.Result
	Rejected    []*accounting.EntryError       `json:"rejected"`
	OrphanLines []accounting.OrphanLineWarning `json:"orphan_lines"`
}

// AggregateCommand prints the account ledgers. Rejected entries yield ExitFindings.
func (c *LedgerCLI) AggregateCommand(opts AggregateOptions) int {
	opts.defaults()
	p, err := c.project(opts.PeriodOptions, opts.SortByCode)
	if err != nil {
		return opts.fail("aggregate", err)
	}
	if opts.JSONOutput {
		if code := opts.json("aggregate", AggregateSummary{Result: p.result, Rejected: p.report.Rejected, OrphanLines: p.report.Warnings}); code != ExitOK {
			return code
		}
	} else {
		renderLedgers(opts.Stdout, p)
	}
	if len(p.report.Rejected) > 0 {
		return ExitFindings
	}
	return ExitOK
}

func renderLedgers(out io.Writer, p projection) {
	cur := p.workbook.Currency
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	_, _ = fmt.Fprintln(tw, "Account\tLabel\tOpening\tDebit\tCredit\tClosing\t")
	var debit, credit accounting.Amount
	for _, l := range p.result.Book.Ledgers() {
		debit += l.TotalDebit
		credit += l.TotalCredit
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t\n", l.AccountCode, l.Label,
			formatAmount(l.OpeningBalance, cur), formatAmount(l.TotalDebit, cur),
			formatAmount(l.TotalCredit, cur), formatAmount(l.ClosingBalance, cur))
	}
	_, _ = fmt.Fprintf(tw, "Total\t\t\t%s\t%s\t\t\n", formatAmount(debit, cur), formatAmount(credit, cur))
	_ = tw.Flush()
	for _, w := range p.result.Warnings {
		_, _ = fmt.Fprintf(out, "warning: %s %s\n", w.Kind, w.AccountCode)
	}
	for _, rej := range p.report.Rejected {
		_, _ = fmt.Fprintf(out, "rejected: %v\n", rej)
	}
}

// CloseOptions configures the close command.
type CloseOptions struct {
	PeriodOptions
	Output
	AsOf string
}

// CloseCommand computes the year-end carry-forward. Unvalidated balances yield ExitFindings.
func (c *LedgerCLI) CloseCommand(opts CloseOptions) int {
	opts.defaults()
	if opts.Year == 0 {
		return opts.fail("close", fmt.Errorf("--year is required"))
	}
	asOf, err := parseDate(opts.AsOf)
	if err != nil {
		return opts.fail("close", err)
	}
	p, err := c.project(opts.PeriodOptions, false)
	if err != nil {
		return opts.fail("close", err)
	}
	if asOf.IsZero() {
		asOf = p.fy.End
	}
	cf := close.Close(close.CloseRequest{
		FiscalYear:     opts.Year,
		Book:           p.result.Book,
		AsOf:           asOf,
		Reconciliation: p.workbook.Reconciliation,
		Chart:          p.chart,
	})
	if opts.JSONOutput {
		if code := opts.json("close", cf); code != ExitOK {
			return code
		}
	} else {
		renderCarryForward(opts.Stdout, cf, p.workbook.Currency)
	}
	if !cf.Validated() {
		return ExitFindings
	}
	return ExitOK
}

func renderCarryForward(out io.Writer, cf close.CarryForward, cur string) {
	_, _ = fmt.Fprintf(out, "Carry-forward for fiscal year %d\n", cf.FiscalYear)
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "Account\tSide\tDebit\tCredit\tStatus")
	for _, b := range cf.Balances {
		status := "ok"
		if !b.IsValidated {
			status = fmt.Sprintf("%d issue(s)", len(b.ValidationErrors))
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", b.AccountCode, b.BalanceSide,
			formatAmount(b.ClosingDebit, cur), formatAmount(b.ClosingCredit, cur), status)
	}
	_ = tw.Flush()
	for _, b := range cf.Unvalidated() {
		for _, issue := range b.ValidationErrors {
			_, _ = fmt.Fprintf(out, "%s: %s: %s\n", b.AccountCode, issue.Kind, issue.Message)
		}
	}
}

// AllocateOptions configures the allocate command.
type AllocateOptions struct {
	PeriodOptions
	Output
	// NetResult overrides the result derived from the workbook when set.
	NetResult *accounting.Amount
	Adjust    *allocation.Amounts
}

// AllocateSummary is the JSON output of the allocate command.
type AllocateSummary struct {
	allocation.ResultAllocation
	Approvable      bool   `json:"approvable"`
	ApprovalProblem string `json:"approval_problem,omitempty"`
}

// AllocateCommand splits the year's net result following the policy. An
// allocation that could not be approved yields ExitFindings.
func (c *LedgerCLI) AllocateCommand(opts AllocateOptions) int {
	opts.defaults()
	var net accounting.Amount
	cur := ""
	if opts.NetResult != nil {
		net = *opts.NetResult
	} else {
		p, err := c.project(opts.PeriodOptions, false)
		if err != nil {
			return opts.fail("allocate", err)
		}
		net = reports.BuildProfitAndLoss(reports.BalancesFromBook(p.result.Book, p.chart)).NetIncome
		cur = p.workbook.Currency
	}
	a, err := allocation.Allocate(opts.Year, net, c.policy.Allocation)
	if err != nil {
		return opts.fail("allocate", err)
	}
	if opts.Adjust != nil {
		if err := a.Adjust(*opts.Adjust); err != nil {
			return opts.fail("allocate", err)
		}
	}
	summary := AllocateSummary{ResultAllocation: a, Approvable: true}
	trial := a
	if err := trial.Approve(time.Time{}); err != nil {
		summary.Approvable = false
		summary.ApprovalProblem = err.Error()
	}
	if opts.JSONOutput {
		if code := opts.json("allocate", summary); code != ExitOK {
			return code
		}
	} else {
		renderAllocation(opts.Stdout, summary, cur)
	}
	if !summary.Approvable {
		return ExitFindings
	}
	return ExitOK
}

func renderAllocation(out io.Writer, s AllocateSummary, cur string) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	rows := []struct {
		label  string
		amount accounting.Amount
	}{
		{"Net result", s.NetResult},
		{"Legal reserves", s.LegalReservesAmount},
		{"Statutory reserves", s.StatutoryReservesAmount},
		{"Optional reserves", s.OptionalReservesAmount},
		{"Dividends", s.DividendsAmount},
		{"Carried forward", s.CarriedForwardAmount},
		{"Allocation balance", s.AllocationBalance},
	}
	for _, row := range rows {
		_, _ = fmt.Fprintf(tw, "%s\t%s\n", row.label, formatAmount(row.amount, cur))
	}
	_ = tw.Flush()
	if !s.Approvable {
		_, _ = fmt.Fprintf(out, "not approvable: %s\n", s.ApprovalProblem)
	}
}

// StatementsOptions configures the statements command.
type StatementsOptions struct {
	PeriodOptions
	Output
}

// StatementsSummary is the JSON output of the statements command.
type StatementsSummary struct {
	reports.Statements
	Rejected []*accounting.EntryError `json:"rejected"`
}

// StatementsCommand prints the trial balance totals, P&L and balance sheet.
// Rejected entries or a sheet that does not balance yield ExitFindings.
func (c *LedgerCLI) StatementsCommand(opts StatementsOptions) int {
	opts.defaults()
	p, err := c.project(opts.PeriodOptions, false)
	if err != nil {
		return opts.fail("statements", err)
	}
	summary := StatementsSummary{
		Statements: reports.BuildStatements(reports.BalancesFromBook(p.result.Book, p.chart)),
		Rejected:   p.report.Rejected,
	}
	if opts.JSONOutput {
		if code := opts.json("statements", summary); code != ExitOK {
			return code
		}
	} else {
		renderStatements(opts.Stdout, summary, p.workbook.Currency)
	}
	if len(summary.Rejected) > 0 || !summary.BalanceSheet.Balanced() || !summary.TrialBalance.Balanced() {
		return ExitFindings
	}
	return ExitOK
}

func renderStatements(out io.Writer, s StatementsSummary, cur string) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	bs := s.BalanceSheet
	rows := []struct {
		label  string
		amount accounting.Amount
	}{
		{"Revenue", s.ProfitAndLoss.Revenue.Total},
		{"Expense", s.ProfitAndLoss.Expense.Total},
		{"Net income", s.ProfitAndLoss.NetIncome},
		{"Assets", bs.Assets.Total},
		{"Liabilities", bs.Liabilities.Total},
		{"Equity", bs.Equity.Total},
		{"Retained result", bs.RetainedResult},
		{"Current result", bs.CurrentResult},
		{"Suspense", bs.Suspense.Total},
		{"Liabilities and equity", bs.TotalLiabilitiesAndEquity},
	}
	for _, row := range rows {
		_, _ = fmt.Fprintf(tw, "%s\t%s\n", row.label, formatAmount(row.amount, cur))
	}
	_ = tw.Flush()
	if !bs.Balanced() {
		_, _ = fmt.Fprintln(out, "balance sheet does not balance")
	}
	for _, rej := range s.Rejected {
		_, _ = fmt.Fprintf(out, "rejected: %v\n", rej)
	}
}

// ContinuityOptions configures the continuity command.
type ContinuityOptions struct {
	PeriodOptions
	Output
}

// ContinuitySummary is the JSON output of the continuity command.
type ContinuitySummary struct {
	Controls []continuity.Control `json:"controls"`
	Skipped  []string             `json:"skipped"`
}

// ContinuityCommand measures the policy metrics on the closing balances and
// evaluates them. A non-compliant control yields ExitFindings.
func (c *LedgerCLI) ContinuityCommand(opts ContinuityOptions) int {
	opts.defaults()
	p, err := c.project(opts.PeriodOptions, false)
	if err != nil {
		return opts.fail("continuity", err)
	}
	cfg := c.policy.Continuity
	measurements, skipped := continuity.Measure(p.result.Book.Closing(), cfg.Metrics)
	summary := ContinuitySummary{Controls: continuity.Evaluate(measurements, cfg), Skipped: skipped}
	if summary.Skipped == nil {
		summary.Skipped = []string{}
	}
	if opts.JSONOutput {
		if code := opts.json("continuity", summary); code != ExitOK {
			return code
		}
	} else {
		tw := tabwriter.NewWriter(opts.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "Metric\tValue\tThreshold\tRisk")
		for _, ctl := range summary.Controls {
			_, _ = fmt.Fprintf(tw, "%s\t%.4f\t%.4f\t%s\n", ctl.MetricName, ctl.CurrentValue, ctl.ThresholdValue, ctl.RiskLevel)
		}
		_ = tw.Flush()
		for _, name := range summary.Skipped {
			_, _ = fmt.Fprintf(opts.Stdout, "skipped %s: zero denominator\n", name)
		}
	}
	for _, ctl := range summary.Controls {
		if !ctl.IsCompliant {
			return ExitFindings
		}
	}
	return ExitOK
}

// WithStdin replaces the reader used for the "-" workbook.
func (c *LedgerCLI) WithStdin(r io.Reader) *LedgerCLI {
	if r != nil {
		c.stdin = r
	}
	return c
}
