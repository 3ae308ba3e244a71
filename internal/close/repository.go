package close

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Oss53pa/Atlas-Finance-sub012/internal/accounting"
	"github.com/Oss53pa/Atlas-Finance-sub012/internal/allocation"
	"github.com/Oss53pa/Atlas-Finance-sub012/internal/ledger"
	"github.com/Oss53pa/Atlas-Finance-sub012/internal/platform/db"
)

// Schema creates the general ledger tables when missing.
//
//go:embed schema.sql
var Schema string

type dbtx interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Repository persists ledger entries and close state in Postgres.
type Repository struct {
	pool *pgxpool.Pool
	db   dbtx
}

// NewRepository constructs a Repository using the provided pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, db: pool}
}

// EnsureSchema applies Schema.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.Exec(ctx, Schema)
	return err
}

// WithTx executes fn with a repository bound to a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, Store) error) error {
	if r == nil || r.pool == nil {
		return fmt.Errorf("close: repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &Repository{pool: r.pool, db: tx})
	})
}

// LoadChart returns every account of the chart.
func (r *Repository) LoadChart(ctx context.Context) (*accounting.Chart, error) {
	rows, err := r.db.Query(ctx, `SELECT code, label, type, nature, requires_reconciliation FROM gl_accounts ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []accounting.Account
	for rows.Next() {
		var acc accounting.Account
		var typ, nature string
		if err := rows.Scan(&acc.Code, &acc.Label, &typ, &nature, &acc.RequiresReconciliation); err != nil {
			return nil, err
		}
		acc.Type = accounting.AccountType(typ)
		acc.Nature = accounting.Nature(nature)
		accounts = append(accounts, acc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return accounting.NewChart(accounts, false), nil
}

// ListEntries returns the entries dated within rng, in ingestion order.
func (r *Repository) ListEntries(ctx context.Context, rng ledger.DateRange) ([]accounting.JournalEntry, error) {
	rows, err := r.db.Query(ctx, `
SELECT e.id, e.entry_date, e.sequence, e.reference, e.memo,
       l.account_code, l.debit, l.credit, l.label, l.third_party, l.analytical_code, l.external_reference
FROM gl_journal_entries e
LEFT JOIN gl_journal_lines l ON l.entry_id = e.id
WHERE e.entry_date BETWEEN $1 AND $2
ORDER BY e.sequence, l.line_no`, rng.Start, rng.End)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]accounting.JournalEntry, 0)
	for rows.Next() {
		var (
			entry                                      accounting.JournalEntry
			code                                       *string
			line                                       accounting.JournalLine
			debit, credit                              *int64
			label, thirdParty, analytical, externalRef *string
		)
		if err := rows.Scan(&entry.ID, &entry.Date, &entry.Sequence, &entry.Reference, &entry.Memo,
			&code, &debit, &credit, &label, &thirdParty, &analytical, &externalRef); err != nil {
			return nil, err
		}
		n := len(entries)
		if n == 0 || entries[n-1].ID != entry.ID {
			entry.Lines = make([]accounting.JournalLine, 0, 2)
			entries = append(entries, entry)
			n++
		}
		if code == nil {
			continue
		}
		line.AccountCode = *code
		line.Debit = accounting.Amount(deref(debit))
		line.Credit = accounting.Amount(deref(credit))
		line.Label = deref(label)
		line.ThirdParty = deref(thirdParty)
		line.AnalyticalCode = deref(analytical)
		line.ExternalReference = deref(externalRef)
		entries[n-1].Lines = append(entries[n-1].Lines, line)
	}
	return entries, rows.Err()
}

// InsertEntry stores a journal entry with its lines and returns the assigned sequence.
func (r *Repository) InsertEntry(ctx context.Context, entry accounting.JournalEntry) (int64, error) {
	var seq int64
	err := r.db.QueryRow(ctx, `INSERT INTO gl_journal_entries (id, entry_date, reference, memo) VALUES ($1, $2, $3, $4) RETURNING sequence`,
		entry.ID, entry.Date, entry.Reference, entry.Memo).Scan(&seq)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: %s", ErrDuplicateEntry, entry.ID)
		}
		return 0, err
	}
	batch := &pgx.Batch{}
	for i, line := range entry.Lines {
		batch.Queue(`INSERT INTO gl_journal_lines (entry_id, line_no, account_code, debit, credit, label, third_party, analytical_code, external_reference)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			entry.ID, i+1, line.AccountCode, int64(line.Debit), int64(line.Credit), line.Label, line.ThirdParty, line.AnalyticalCode, line.ExternalReference)
	}
	if err := r.sendBatch(ctx, batch); err != nil {
		return 0, err
	}
	return seq, nil
}

// SaveAccount upserts a chart of accounts node.
func (r *Repository) SaveAccount(ctx context.Context, acc accounting.Account) error {
	_, err := r.db.Exec(ctx, `
INSERT INTO gl_accounts (code, label, type, nature, requires_reconciliation) VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (code) DO UPDATE SET label = EXCLUDED.label, type = EXCLUDED.type, nature = EXCLUDED.nature,
    requires_reconciliation = EXCLUDED.requires_reconciliation`,
		acc.Code, acc.Label, string(acc.Type), string(acc.Nature), acc.RequiresReconciliation)
	return err
}

// RecordReconciliation stores the reconciliation status of an account as of a date.
func (r *Repository) RecordReconciliation(ctx context.Context, code string, asOf time.Time, reconciled bool) error {
	_, err := r.db.Exec(ctx, `
INSERT INTO gl_reconciliations (account_code, as_of, reconciled) VALUES ($1, $2, $3)
ON CONFLICT (account_code, as_of) DO UPDATE SET reconciled = EXCLUDED.reconciled`, code, asOf, reconciled)
	return err
}

// LoadReconciliation returns the latest reconciliation status per account as of asOf.
func (r *Repository) LoadReconciliation(ctx context.Context, asOf time.Time) (map[string]bool, error) {
	rows, err := r.db.Query(ctx, `
SELECT DISTINCT ON (account_code) account_code, reconciled
FROM gl_reconciliations
WHERE as_of <= $1
ORDER BY account_code, as_of DESC`, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]bool)
	for rows.Next() {
		var code string
		var ok bool
		if err := rows.Scan(&code, &ok); err != nil {
			return nil, err
		}
		out[code] = ok
	}
	return out, rows.Err()
}

const fiscalYearColumns = `year, start_date, end_date, status, soft_closed_by, soft_closed_at, closed_by, closed_at, latest_run_id`

// LoadFiscalYear fetches a fiscal year, locking the row when forUpdate is set.
func (r *Repository) LoadFiscalYear(ctx context.Context, year int, forUpdate bool) (FiscalYear, error) {
	query := `SELECT ` + fiscalYearColumns + ` FROM gl_fiscal_years WHERE year = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var fy FiscalYear
	var status string
	err := r.db.QueryRow(ctx, query, year).Scan(&fy.Year, &fy.Start, &fy.End, &status,
		&fy.SoftClosedBy, &fy.SoftClosedAt, &fy.ClosedBy, &fy.ClosedAt, &fy.LatestRunID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return FiscalYear{}, ErrFiscalYearNotFound
		}
		return FiscalYear{}, err
	}
	fy.Status = PeriodStatus(status)
	return fy, nil
}

// InsertFiscalYear creates the fiscal year row. An existing row is left untouched.
func (r *Repository) InsertFiscalYear(ctx context.Context, fy FiscalYear) error {
	_, err := r.db.Exec(ctx, `INSERT INTO gl_fiscal_years (year, start_date, end_date, status) VALUES ($1, $2, $3, $4) ON CONFLICT (year) DO NOTHING`,
		fy.Year, fy.Start, fy.End, string(fy.Status))
	return err
}

// UpdateFiscalYearStatus records a soft or hard close.
func (r *Repository) UpdateFiscalYearStatus(ctx context.Context, year int, status PeriodStatus, actorID int64, at time.Time, runID *uuid.UUID) error {
	var tag pgconn.CommandTag
	var err error
	switch status {
	case PeriodStatusSoftClosed:
		tag, err = r.db.Exec(ctx, `UPDATE gl_fiscal_years SET status = $2, soft_closed_by = $3, soft_closed_at = $4, latest_run_id = COALESCE($5, latest_run_id) WHERE year = $1`,
			year, string(status), actorID, at, runID)
	case PeriodStatusHardClosed:
		tag, err = r.db.Exec(ctx, `UPDATE gl_fiscal_years SET status = $2, closed_by = $3, closed_at = $4, latest_run_id = COALESCE($5, latest_run_id) WHERE year = $1`,
			year, string(status), actorID, at, runID)
	default:
		tag, err = r.db.Exec(ctx, `UPDATE gl_fiscal_years SET status = $2 WHERE year = $1`, year, string(status))
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrFiscalYearNotFound
	}
	return nil
}

// InsertRun stores a close run and supersedes earlier runs of the same year.
func (r *Repository) InsertRun(ctx context.Context, run CloseRun) error {
	summary, err := json.Marshal(run.Summary)
	if err != nil {
		return err
	}
	if _, err := r.db.Exec(ctx, `UPDATE gl_close_runs SET status = $2 WHERE fiscal_year = $1 AND status = $3`,
		run.Year, string(RunStatusSuperseded), string(RunStatusCompleted)); err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO gl_close_runs (id, fiscal_year, status, created_by, created_at, completed_at, summary) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.ID, run.Year, string(run.Status), run.CreatedBy, run.CreatedAt, run.CompletedAt, summary)
	return err
}

// LoadRun fetches a close run.
func (r *Repository) LoadRun(ctx context.Context, id uuid.UUID) (CloseRun, error) {
	var run CloseRun
	var status string
	var summary []byte
	err := r.db.QueryRow(ctx, `SELECT id, fiscal_year, status, created_by, created_at, completed_at, summary FROM gl_close_runs WHERE id = $1`, id).
		Scan(&run.ID, &run.Year, &status, &run.CreatedBy, &run.CreatedAt, &run.CompletedAt, &summary)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CloseRun{}, ErrRunNotFound
		}
		return CloseRun{}, err
	}
	run.Status = RunStatus(status)
	if run.Summary, err = decodeRunSummary(run.ID, summary); err != nil {
		return CloseRun{}, err
	}
	return run, nil
}

func decodeRunSummary(id uuid.UUID, raw []byte) (RunSummary, error) {
	var summary RunSummary
	if len(raw) == 0 {
		return summary, nil
	}
	if err := json.Unmarshal(raw, &summary); err != nil {
		return RunSummary{}, fmt.Errorf("close: decode summary of run %s: %w", id, err)
	}
	return summary, nil
}

// SaveCarryForward replaces the stored carry-forward of the fiscal year.
func (r *Repository) SaveCarryForward(ctx context.Context, runID uuid.UUID, cf CarryForward) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM gl_carry_forwards WHERE fiscal_year = $1`, cf.FiscalYear); err != nil {
		return err
	}
	batch := &pgx.Batch{}
	for i, b := range cf.Balances {
		issues, err := json.Marshal(b.ValidationErrors)
		if err != nil {
			return err
		}
		batch.Queue(`INSERT INTO gl_carry_forwards (fiscal_year, account_code, position, run_id, as_of, label, closing_debit, closing_credit, net_balance, balance_side, is_validated, validation_errors)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			cf.FiscalYear, b.AccountCode, i, runID, cf.AsOf, b.Label, int64(b.ClosingDebit), int64(b.ClosingCredit), int64(b.NetBalance), string(b.BalanceSide), b.IsValidated, issues)
	}
	return r.sendBatch(ctx, batch)
}

func (r *Repository) sendBatch(ctx context.Context, batch *pgx.Batch) error {
	if batch.Len() == 0 {
		return nil
	}
	sender, ok := r.db.(interface {
		SendBatch(context.Context, *pgx.Batch) pgx.BatchResults
	})
	if !ok {
		return fmt.Errorf("close: connection does not support batches")
	}
	results := sender.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return err
		}
	}
	return results.Close()
}

// LoadCarryForward returns the stored carry-forward of the fiscal year.
func (r *Repository) LoadCarryForward(ctx context.Context, year int) (CarryForward, error) {
	rows, err := r.db.Query(ctx, `
SELECT as_of, account_code, label, closing_debit, closing_credit, net_balance, balance_side, is_validated, validation_errors
FROM gl_carry_forwards
WHERE fiscal_year = $1
ORDER BY position`, year)
	if err != nil {
		return CarryForward{}, err
	}
	defer rows.Close()
	cf := CarryForward{FiscalYear: year, Balances: make([]CarryForwardBalance, 0)}
	for rows.Next() {
		var b CarryForwardBalance
		var debit, credit, net int64
		var side string
		var issues []byte
		if err := rows.Scan(&cf.AsOf, &b.AccountCode, &b.Label, &debit, &credit, &net, &side, &b.IsValidated, &issues); err != nil {
			return CarryForward{}, err
		}
		b.ClosingDebit = accounting.Amount(debit)
		b.ClosingCredit = accounting.Amount(credit)
		b.NetBalance = accounting.Amount(net)
		b.BalanceSide = BalanceSide(side)
		b.ValidationErrors = make([]Issue, 0)
		if len(issues) > 0 {
			if err := json.Unmarshal(issues, &b.ValidationErrors); err != nil {
				return CarryForward{}, fmt.Errorf("close: decode issues of %s: %w", b.AccountCode, err)
			}
		}
		cf.Balances = append(cf.Balances, b)
	}
	if err := rows.Err(); err != nil {
		return CarryForward{}, err
	}
	if len(cf.Balances) == 0 {
		return CarryForward{}, ErrCarryForwardNotFound
	}
	return cf, nil
}

// LoadAllocation returns the result allocation of the fiscal year.
func (r *Repository) LoadAllocation(ctx context.Context, year int) (allocation.ResultAllocation, error) {
	var a allocation.ResultAllocation
	var net, legal, statutory, optional, dividends, carried, total, balance int64
	err := r.db.QueryRow(ctx, `
SELECT id, fiscal_year, net_result, legal_reserves_amount, statutory_reserves_amount, optional_reserves_amount,
       dividends_amount, carried_forward_amount, total_allocated, allocation_balance, is_approved, is_recorded, approved_at, recorded_at
FROM gl_result_allocations WHERE fiscal_year = $1`, year).
		Scan(&a.ID, &a.FiscalYear, &net, &legal, &statutory, &optional, &dividends, &carried, &total, &balance,
			&a.IsApproved, &a.IsRecorded, &a.ApprovedAt, &a.RecordedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return allocation.ResultAllocation{}, allocation.ErrNotFound
		}
		return allocation.ResultAllocation{}, err
	}
	a.NetResult = accounting.Amount(net)
	a.LegalReservesAmount = accounting.Amount(legal)
	a.StatutoryReservesAmount = accounting.Amount(statutory)
	a.OptionalReservesAmount = accounting.Amount(optional)
	a.DividendsAmount = accounting.Amount(dividends)
	a.CarriedForwardAmount = accounting.Amount(carried)
	a.TotalAllocated = accounting.Amount(total)
	a.AllocationBalance = accounting.Amount(balance)
	return a, nil
}

// SaveAllocation upserts the result allocation of its fiscal year.
func (r *Repository) SaveAllocation(ctx context.Context, a allocation.ResultAllocation) error {
	_, err := r.db.Exec(ctx, `
INSERT INTO gl_result_allocations (fiscal_year, id, net_result, legal_reserves_amount, statutory_reserves_amount, optional_reserves_amount,
    dividends_amount, carried_forward_amount, total_allocated, allocation_balance, is_approved, is_recorded, approved_at, recorded_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (fiscal_year) DO UPDATE SET
    id = EXCLUDED.id,
    net_result = EXCLUDED.net_result,
    legal_reserves_amount = EXCLUDED.legal_reserves_amount,
    statutory_reserves_amount = EXCLUDED.statutory_reserves_amount,
    optional_reserves_amount = EXCLUDED.optional_reserves_amount,
    dividends_amount = EXCLUDED.dividends_amount,
    carried_forward_amount = EXCLUDED.carried_forward_amount,
    total_allocated = EXCLUDED.total_allocated,
    allocation_balance = EXCLUDED.allocation_balance,
    is_approved = EXCLUDED.is_approved,
    is_recorded = EXCLUDED.is_recorded,
    approved_at = EXCLUDED.approved_at,
    recorded_at = EXCLUDED.recorded_at`,
		a.FiscalYear, a.ID, int64(a.NetResult), int64(a.LegalReservesAmount), int64(a.StatutoryReservesAmount), int64(a.OptionalReservesAmount),
		int64(a.DividendsAmount), int64(a.CarriedForwardAmount), int64(a.TotalAllocated), int64(a.AllocationBalance),
		a.IsApproved, a.IsRecorded, a.ApprovedAt, a.RecordedAt)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
