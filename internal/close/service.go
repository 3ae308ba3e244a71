package close

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Oss53pa/Atlas-Finance-sub012/internal/accounting"
	"github.com/Oss53pa/Atlas-Finance-sub012/internal/accounting/reports"
	"github.com/Oss53pa/Atlas-Finance-sub012/internal/allocation"
	"github.com/Oss53pa/Atlas-Finance-sub012/internal/continuity"
	"github.com/Oss53pa/Atlas-Finance-sub012/internal/ledger"
	"github.com/Oss53pa/Atlas-Finance-sub012/internal/policy"
)

// EntrySource supplies posted journal entries.
type EntrySource interface {
	ListEntries(ctx context.Context, rng ledger.DateRange) ([]accounting.JournalEntry, error)
}

// ChartSource supplies the chart of accounts.
type ChartSource interface {
	LoadChart(ctx context.Context) (*accounting.Chart, error)
}

// ReconciliationSource supplies account reconciliation statuses.
type ReconciliationSource interface {
	LoadReconciliation(ctx context.Context, asOf time.Time) (map[string]bool, error)
}

// Store is the persistence port of the close workflow.
type Store interface {
	EntrySource
	ChartSource
	ReconciliationSource
	WithTx(ctx context.Context, fn func(context.Context, Store) error) error
	LoadFiscalYear(ctx context.Context, year int, forUpdate bool) (FiscalYear, error)
	InsertFiscalYear(ctx context.Context, fy FiscalYear) error
	UpdateFiscalYearStatus(ctx context.Context, year int, status PeriodStatus, actorID int64, at time.Time, runID *uuid.UUID) error
	InsertRun(ctx context.Context, run CloseRun) error
	LoadRun(ctx context.Context, id uuid.UUID) (CloseRun, error)
	SaveCarryForward(ctx context.Context, runID uuid.UUID, cf CarryForward) error
	LoadCarryForward(ctx context.Context, year int) (CarryForward, error)
	LoadAllocation(ctx context.Context, year int) (allocation.ResultAllocation, error)
	SaveAllocation(ctx context.Context, a allocation.ResultAllocation) error
	InsertEntry(ctx context.Context, entry accounting.JournalEntry) (int64, error)
	SaveAccount(ctx context.Context, acc accounting.Account) error
	RecordReconciliation(ctx context.Context, code string, asOf time.Time, reconciled bool) error
}

// Options tunes the service.
type Options struct {
	FiscalYearStartMonth time.Month
	// ClosedChart rejects entries that reference accounts missing from the chart.
	ClosedChart bool
	// Partitions above one enables partitioned aggregation once a year holds
	// more than PartitionThreshold postings.
	Partitions         int
	PartitionThreshold int
}

// Service orchestrates ledger projections, fiscal year closes, result
// allocation and continuity controls.
type Service struct {
	store  Store
	cache  *ledger.Cache
	policy policy.Document
	logger *slog.Logger
	opts   Options
	now    func() time.Time
	// observer is optional.
	observer Observer
}

// Observer receives close workflow events, typically to export metrics.
type Observer interface {
	FiscalYearTransition(year int, status PeriodStatus)
	LedgerProjection(year, accounts, rejected int, took time.Duration)
}

// NewService constructs a Service instance.
func NewService(store Store, cache *ledger.Cache, doc policy.Document, logger *slog.Logger, opts Options) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		cache:  cache,
		policy: doc,
		logger: logger,
		opts:   opts,
		now:    time.Now,
	}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithObserver registers an Observer for fiscal year transitions and ledger projections.
func (s *Service) WithObserver(o Observer) *Service {
	s.observer = o
	return s
}

// Policy returns the allocation and continuity policy in use.
func (s *Service) Policy() policy.Document {
	return s.policy
}

// FiscalYear returns the stored fiscal year, or an open one derived from the
// configured start month when it has never been persisted.
func (s *Service) FiscalYear(ctx context.Context, year int) (FiscalYear, error) {
	fy, err := s.store.LoadFiscalYear(ctx, year, false)
	if errors.Is(err, ErrFiscalYearNotFound) {
		return NewFiscalYear(year, s.opts.FiscalYearStartMonth), nil
	}
	return fy, err
}

// PostEntry validates a journal entry against the chart and stores it. Entries
// dated in a hard closed fiscal year are refused.
func (s *Service) PostEntry(ctx context.Context, entry accounting.JournalEntry) (accounting.JournalEntry, error) {
	if entry.Date.IsZero() {
		return accounting.JournalEntry{}, fmt.Errorf("%w: date required", ErrInvalidEntry)
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	chart, err := s.store.LoadChart(ctx)
	if err != nil {
		return accounting.JournalEntry{}, fmt.Errorf("close: load chart: %w", err)
	}
	if chart != nil {
		chart.Closed = s.opts.ClosedChart
	}
	if _, err := accounting.Validate(entry, chart); err != nil {
		return accounting.JournalEntry{}, err
	}
	year := FiscalYearOf(entry.Date, s.opts.FiscalYearStartMonth)
	err = s.store.WithTx(ctx, func(ctx context.Context, tx Store) error {
		fy, err := s.ensureFiscalYear(ctx, tx, year)
		if err != nil {
			return err
		}
		if fy.Status == PeriodStatusHardClosed {
			return ErrPeriodHardClosed
		}
		entry.Sequence, err = tx.InsertEntry(ctx, entry)
		return err
	})
	if err != nil {
		return accounting.JournalEntry{}, err
	}
	s.invalidate(ctx)
	return entry, nil
}

// SaveAccounts upserts chart of accounts nodes, deriving missing types and natures.
func (s *Service) SaveAccounts(ctx context.Context, accounts []accounting.Account) ([]accounting.Account, error) {
	chart := accounting.NewChart(accounts, false)
	out := make([]accounting.Account, 0, len(chart.Accounts))
	for _, acc := range accounts {
		if normalised, ok := chart.Lookup(strings.TrimSpace(acc.Code)); ok {
			out = append(out, normalised)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no account codes", ErrInvalidEntry)
	}
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Store) error {
		for _, acc := range out {
			if err := tx.SaveAccount(ctx, acc); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	return out, nil
}

// RecordReconciliation stores the reconciliation status of an account.
func (s *Service) RecordReconciliation(ctx context.Context, code string, asOf time.Time, reconciled bool) error {
	code = strings.TrimSpace(code)
	if code == "" || asOf.IsZero() {
		return fmt.Errorf("%w: account code and date required", ErrInvalidEntry)
	}
	return s.store.RecordReconciliation(ctx, code, asOf, reconciled)
}

// Ledgers returns the cached ledger projection of a fiscal year.
func (s *Service) Ledgers(ctx context.Context, year int) (LedgerView, error) {
	key, err := s.cache.BuildKey(ctx, "fy", strconv.Itoa(year))
	if err != nil {
		s.logger.Warn("ledger cache key", slog.Any("error", err))
		view, _, err := s.project(ctx, s.store, year)
		return view, err
	}
	return ledger.Fetch(ctx, s.cache, key, func(ctx context.Context) (LedgerView, error) {
		view, _, err := s.project(ctx, s.store, year)
		return view, err
	})
}

func (s *Service) project(ctx context.Context, store Store, year int) (LedgerView, *accounting.Chart, error) {
	start := s.now()
	fy, err := store.LoadFiscalYear(ctx, year, false)
	if errors.Is(err, ErrFiscalYearNotFound) {
		fy, err = NewFiscalYear(year, s.opts.FiscalYearStartMonth), nil
	}
	if err != nil {
		return LedgerView{}, nil, err
	}
	chart, err := store.LoadChart(ctx)
	if err != nil {
		return LedgerView{}, nil, fmt.Errorf("close: load chart: %w", err)
	}
	if chart != nil && len(chart.Accounts) == 0 {
		chart = nil
	} else if chart != nil {
		chart.Closed = s.opts.ClosedChart
	}
	entries, err := store.ListEntries(ctx, fy.Range())
	if err != nil {
		return LedgerView{}, nil, fmt.Errorf("close: list entries: %w", err)
	}
	opening, err := s.opening(ctx, store, year)
	if err != nil {
		return LedgerView{}, nil, err
	}

	report := accounting.ValidateAll(entries, chart)
	req := ledger.Request{
		Postings: ledger.PostingsOf(report.Valid),
		Range:    fy.Range(),
		Opening:  opening,
		Chart:    chart,
	}
	var res ledger.Result
	if s.opts.Partitions > 1 && len(req.Postings) > s.opts.PartitionThreshold {
		res = ledger.AggregatePartitioned(req, s.opts.Partitions)
	} else {
		res = ledger.Aggregate(req)
	}
	if len(report.Rejected) > 0 {
		s.logger.Warn("entries rejected", slog.Int("fiscal_year", year), slog.Int("rejected", len(report.Rejected)))
	}
	if s.observer != nil {
		s.observer.LedgerProjection(year, res.Book.Len(), len(report.Rejected), s.now().Sub(start))
	}
	return LedgerView{
		Year:        year,
		Range:       fy.Range(),
		Result:      res,
		Entries:     len(entries),
		Rejected:    report.Rejected,
		OrphanLines: report.Warnings,
	}, chart, nil
}

// opening seeds a fiscal year with the previous year's carry-forward.
func (s *Service) opening(ctx context.Context, store Store, year int) (ledger.Balances, error) {
	prev, err := store.LoadCarryForward(ctx, year-1)
	if errors.Is(err, ErrCarryForwardNotFound) {
		return ledger.Balances{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("close: load carry-forward %d: %w", year-1, err)
	}
	return prev.OpeningBalances(), nil
}

func (s *Service) ensureFiscalYear(ctx context.Context, store Store, year int) (FiscalYear, error) {
	fy, err := store.LoadFiscalYear(ctx, year, true)
	if !errors.Is(err, ErrFiscalYearNotFound) {
		return fy, err
	}
	if err := store.InsertFiscalYear(ctx, NewFiscalYear(year, s.opts.FiscalYearStartMonth)); err != nil {
		return FiscalYear{}, err
	}
	return store.LoadFiscalYear(ctx, year, true)
}

// CloseYear soft closes a fiscal year: it recomputes the ledgers, derives the
// carry-forward balances and stores them with a new close run. Closing again
// replaces the previous carry-forward until the year is hard closed.
func (s *Service) CloseYear(ctx context.Context, in CloseYearInput) (CloseOutcome, error) {
	if err := in.Validate(); err != nil {
		return CloseOutcome{}, err
	}
	var outcome CloseOutcome
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Store) error {
		fy, err := s.ensureFiscalYear(ctx, tx, in.Year)
		if err != nil {
			return err
		}
		if fy.Status == PeriodStatusHardClosed {
			return ErrPeriodHardClosed
		}
		view, chart, err := s.project(ctx, tx, in.Year)
		if err != nil {
			return err
		}
		recon, err := tx.LoadReconciliation(ctx, fy.End)
		if err != nil {
			return fmt.Errorf("close: load reconciliation: %w", err)
		}
		cf := Close(CloseRequest{
			FiscalYear:     in.Year,
			Book:           view.Book,
			AsOf:           fy.End,
			Reconciliation: recon,
			Chart:          chart,
		})

		now := s.now().UTC()
		run := CloseRun{
			ID:          uuid.New(),
			Year:        in.Year,
			Status:      RunStatusCompleted,
			CreatedBy:   in.ActorID,
			CreatedAt:   now,
			CompletedAt: &now,
			Summary:     summarize(view, cf),
		}
		if err := tx.InsertRun(ctx, run); err != nil {
			return err
		}
		if err := tx.SaveCarryForward(ctx, run.ID, cf); err != nil {
			return err
		}
		if err := tx.UpdateFiscalYearStatus(ctx, in.Year, PeriodStatusSoftClosed, in.ActorID, now, &run.ID); err != nil {
			return err
		}
		fy.Status = PeriodStatusSoftClosed
		fy.SoftClosedBy = &in.ActorID
		fy.SoftClosedAt = &now
		fy.LatestRunID = &run.ID
		outcome = CloseOutcome{FiscalYear: fy, Run: run, CarryForward: cf, Rejected: view.Rejected}
		return nil
	})
	if err != nil {
		return CloseOutcome{}, err
	}
	s.invalidate(ctx)
	if s.observer != nil {
		s.observer.FiscalYearTransition(in.Year, PeriodStatusSoftClosed)
	}
	s.logger.Info("fiscal year soft closed",
		slog.Int("fiscal_year", in.Year),
		slog.String("run_id", outcome.Run.ID.String()),
		slog.Int("accounts", outcome.Run.Summary.Accounts),
		slog.Int("unvalidated", outcome.Run.Summary.Accounts-outcome.Run.Summary.Validated),
		slog.Int("rejected", outcome.Run.Summary.Rejected),
	)
	return outcome, nil
}

func summarize(view LedgerView, cf CarryForward) RunSummary {
	sum := RunSummary{
		Entries:     view.Entries,
		Rejected:    len(view.Rejected),
		OrphanLines: len(view.OrphanLines),
		Accounts:    len(cf.Balances),
	}
	for _, b := range cf.Balances {
		if b.IsValidated {
			sum.Validated++
		}
		sum.Issues += len(b.ValidationErrors)
	}
	return sum
}

// ApproveRollForward hard closes a soft closed year once every carry-forward
// balance is validated, and opens the next fiscal year.
func (s *Service) ApproveRollForward(ctx context.Context, year int, actorID int64) (FiscalYear, error) {
	if actorID == 0 {
		return FiscalYear{}, ErrActorRequired
	}
	var fy FiscalYear
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Store) error {
		var err error
		fy, err = tx.LoadFiscalYear(ctx, year, true)
		if err != nil {
			return err
		}
		switch fy.Status {
		case PeriodStatusHardClosed:
			return ErrPeriodHardClosed
		case PeriodStatusSoftClosed:
		default:
			return ErrNotSoftClosed
		}
		cf, err := tx.LoadCarryForward(ctx, year)
		switch {
		case errors.Is(err, ErrCarryForwardNotFound):
			// the close run found no accounts
			cf = CarryForward{FiscalYear: year}
		case err != nil:
			return err
		}
		if pending := cf.Unvalidated(); len(pending) > 0 {
			return fmt.Errorf("%w: %d of %d balances, first %s", ErrRollForwardNotValidated, len(pending), len(cf.Balances), pending[0].AccountCode)
		}
		now := s.now().UTC()
		if err := tx.UpdateFiscalYearStatus(ctx, year, PeriodStatusHardClosed, actorID, now, nil); err != nil {
			return err
		}
		if err := tx.InsertFiscalYear(ctx, NewFiscalYear(year+1, s.opts.FiscalYearStartMonth)); err != nil {
			return err
		}
		fy.Status = PeriodStatusHardClosed
		fy.ClosedBy = &actorID
		fy.ClosedAt = &now
		return nil
	})
	if err != nil {
		return FiscalYear{}, err
	}
	s.invalidate(ctx)
	if s.observer != nil {
		s.observer.FiscalYearTransition(year, PeriodStatusHardClosed)
	}
	s.logger.Info("fiscal year hard closed", slog.Int("fiscal_year", year), slog.Int64("actor_id", actorID))
	return fy, nil
}

// CarryForward returns the stored carry-forward of a fiscal year.
func (s *Service) CarryForward(ctx context.Context, year int) (CarryForward, error) {
	return s.store.LoadCarryForward(ctx, year)
}

// Run returns a close run.
func (s *Service) Run(ctx context.Context, id uuid.UUID) (CloseRun, error) {
	return s.store.LoadRun(ctx, id)
}

// AllocateInput drives a result allocation. A nil Policy uses the service policy.
type AllocateInput struct {
	Year    int
	Policy  *allocation.Policy
	Adjust  *allocation.Amounts
	ActorID int64
}

// AllocateResult computes (or recomputes) the allocation of a closed year's
// net result. The net result is the P&L net income of the year's ledgers.
func (s *Service) AllocateResult(ctx context.Context, in AllocateInput) (allocation.ResultAllocation, error) {
	p := s.policy.Allocation
	if in.Policy != nil {
		p = *in.Policy
	}
	if err := p.Validate(); err != nil {
		return allocation.ResultAllocation{}, err
	}
	var out allocation.ResultAllocation
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Store) error {
		fy, err := tx.LoadFiscalYear(ctx, in.Year, true)
		if err != nil {
			return err
		}
		if fy.Status == PeriodStatusOpen {
			return ErrNotSoftClosed
		}
		view, chart, err := s.project(ctx, tx, in.Year)
		if err != nil {
			return err
		}
		net := reports.BuildProfitAndLoss(reports.BalancesFromBook(view.Book, chart)).NetIncome

		current, err := tx.LoadAllocation(ctx, in.Year)
		switch {
		case errors.Is(err, allocation.ErrNotFound):
			current, err = allocation.Allocate(in.Year, net, p)
			if err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			if current.IsApproved {
				return allocation.ErrAllocationFrozen
			}
			current.NetResult = net
			if err := current.Reallocate(p); err != nil {
				return err
			}
		}
		if in.Adjust != nil {
			if err := current.Adjust(*in.Adjust); err != nil {
				return err
			}
		}
		if err := tx.SaveAllocation(ctx, current); err != nil {
			return err
		}
		out = current
		return nil
	})
	if err != nil {
		return allocation.ResultAllocation{}, err
	}
	s.logger.Info("result allocated",
		slog.Int("fiscal_year", in.Year),
		slog.Int64("net_result", int64(out.NetResult)),
		slog.Int64("allocation_balance", int64(out.AllocationBalance)),
	)
	return out, nil
}

// Allocation returns the stored allocation of a fiscal year.
func (s *Service) Allocation(ctx context.Context, year int) (allocation.ResultAllocation, error) {
	return s.store.LoadAllocation(ctx, year)
}

// ApproveAllocation approves the stored allocation.
func (s *Service) ApproveAllocation(ctx context.Context, year int, actorID int64) (allocation.ResultAllocation, error) {
	return s.transitionAllocation(ctx, year, actorID, "approved", func(a *allocation.ResultAllocation, at time.Time) error {
		return a.Approve(at)
	})
}

// RecordAllocation marks the stored, approved allocation as recorded.
func (s *Service) RecordAllocation(ctx context.Context, year int, actorID int64) (allocation.ResultAllocation, error) {
	return s.transitionAllocation(ctx, year, actorID, "recorded", func(a *allocation.ResultAllocation, at time.Time) error {
		return a.Record(at)
	})
}

func (s *Service) transitionAllocation(ctx context.Context, year int, actorID int64, verb string, fn func(*allocation.ResultAllocation, time.Time) error) (allocation.ResultAllocation, error) {
	if actorID == 0 {
		return allocation.ResultAllocation{}, ErrActorRequired
	}
	var out allocation.ResultAllocation
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Store) error {
		a, err := tx.LoadAllocation(ctx, year)
		if err != nil {
			return err
		}
		if err := fn(&a, s.now().UTC()); err != nil {
			return err
		}
		if err := tx.SaveAllocation(ctx, a); err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return allocation.ResultAllocation{}, err
	}
	s.logger.Info("allocation "+verb, slog.Int("fiscal_year", year), slog.Int64("actor_id", actorID))
	return out, nil
}

// ContinuityReport lists the continuity controls of a closed year.
type ContinuityReport struct {
	Year     int                  `json:"fiscal_year"`
	Controls []continuity.Control `json:"controls"`
	// Skipped names metrics whose denominator was zero.
	Skipped []string `json:"skipped,omitempty"`
}

// Continuity evaluates the metric table against the year's carry-forward.
func (s *Service) Continuity(ctx context.Context, year int) (ContinuityReport, error) {
	cf, err := s.store.LoadCarryForward(ctx, year)
	if err != nil {
		return ContinuityReport{}, err
	}
	measurements, skipped := continuity.Measure(cf.OpeningBalances(), s.policy.Continuity.Metrics)
	return ContinuityReport{
		Year:     year,
		Controls: continuity.Evaluate(measurements, s.policy.Continuity),
		Skipped:  skipped,
	}, nil
}

// IntegrityReport is the outcome of a ledger integrity check.
type IntegrityReport struct {
	Year         int                      `json:"fiscal_year"`
	Entries      int                      `json:"entries"`
	Rejected     []*accounting.EntryError `json:"rejected"`
	OrphanLines  int                      `json:"orphan_lines"`
	TotalDebit   accounting.Amount        `json:"total_debit"`
	TotalCredit  accounting.Amount        `json:"total_credit"`
	Balanced     bool                     `json:"balanced"`
	CarryForward bool                     `json:"carry_forward_checked"`
	// Drift lists accounts whose stored carry-forward no longer matches the ledgers.
	Drift []string `json:"drift"`
}

// Healthy reports whether the check found nothing to act on.
func (r IntegrityReport) Healthy() bool {
	return r.Balanced && len(r.Rejected) == 0 && len(r.Drift) == 0
}

// Statements builds the trial balance, P&L and balance sheet of a fiscal year.
func (s *Service) Statements(ctx context.Context, year int) (FinancialStatements, error) {
	view, chart, err := s.project(ctx, s.store, year)
	if err != nil {
		return FinancialStatements{}, err
	}
	return FinancialStatements{
		Year:       year,
		Range:      view.Range,
		Statements: reports.BuildStatements(reports.BalancesFromBook(view.Book, chart)),
		Rejected:   view.Rejected,
	}, nil
}

// CheckIntegrity re-validates every entry of a year, checks the trial balance
// and compares the stored carry-forward with freshly aggregated ledgers.
func (s *Service) CheckIntegrity(ctx context.Context, year int) (IntegrityReport, error) {
	view, chart, err := s.project(ctx, s.store, year)
	if err != nil {
		return IntegrityReport{}, err
	}
	tb := reports.BuildTrialBalance(reports.BalancesFromBook(view.Book, chart))
	report := IntegrityReport{
		Year:        year,
		Entries:     view.Entries,
		Rejected:    view.Rejected,
		OrphanLines: len(view.OrphanLines),
		TotalDebit:  tb.TotalDebit,
		TotalCredit: tb.TotalCredit,
		Balanced:    tb.Balanced(),
		Drift:       make([]string, 0),
	}
	stored, err := s.store.LoadCarryForward(ctx, year)
	switch {
	case errors.Is(err, ErrCarryForwardNotFound):
		return report, nil
	case err != nil:
		return IntegrityReport{}, err
	}
	report.CarryForward = true
	closing := view.Book.Closing()
	for _, b := range stored.Balances {
		if closing[b.AccountCode] != b.NetBalance {
			report.Drift = append(report.Drift, b.AccountCode)
		}
	}
	for _, code := range view.Book.Codes() {
		if _, ok := stored.Balance(code); !ok && closing[code] != 0 {
			report.Drift = append(report.Drift, code)
		}
	}
	return report, nil
}

func (s *Service) invalidate(ctx context.Context) {
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("ledger cache bump", slog.Any("error", err))
	}
}
