package close

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/Oss53pa/Atlas-Finance-sub012/internal/accounting"
	"github.com/Oss53pa/Atlas-Finance-sub012/internal/allocation"
	"github.com/Oss53pa/Atlas-Finance-sub012/internal/continuity"
	"github.com/Oss53pa/Atlas-Finance-sub012/internal/ledger"
	"github.com/Oss53pa/Atlas-Finance-sub012/internal/policy"
	"github.com/Oss53pa/Atlas-Finance-sub012/internal/testing/gen"
)

const actor int64 = 7

var fixedNow = time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, store *memStore, cache *ledger.Cache, opts Options) *Service {
	t.Helper()
	svc := NewService(store, cache, policy.Default(), nil, opts)
	svc.WithNow(func() time.Time { return fixedNow })
	return svc
}

func seedYear(t *testing.T, svc *Service) {
	t.Helper()
	ctx := context.Background()
	_, err := svc.SaveAccounts(ctx, []accounting.Account{
		{Code: "101000", Label: "Share capital"},
		{Code: "401100", Label: "Suppliers"},
		{Code: "512000", Label: "Bank"},
		{Code: "601000", Label: "Purchases"},
		{Code: "701000", Label: "Sales"},
	})
	require.NoError(t, err)
	entries := []accounting.JournalEntry{
		{ID: "E0", Date: day(2024, 1, 2), Lines: []accounting.JournalLine{
			{AccountCode: "512000", Debit: 1_000_000}, {AccountCode: "101000", Credit: 1_000_000},
		}},
		{ID: "E1", Date: day(2024, 1, 15), Lines: []accounting.JournalLine{
			{AccountCode: "512000", Debit: 500_000}, {AccountCode: "701000", Credit: 500_000},
		}},
		{ID: "E2", Date: day(2024, 1, 20), Lines: []accounting.JournalLine{
			{AccountCode: "601000", Debit: 125_000}, {AccountCode: "401100", Credit: 125_000},
		}},
	}
	for _, e := range entries {
		_, err := svc.PostEntry(ctx, e)
		require.NoError(t, err)
	}
}

func TestServiceCloseWorkflow(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc := newTestService(t, store, nil, Options{})
	seedYear(t, svc)

	out, err := svc.CloseYear(ctx, CloseYearInput{Year: 2024, ActorID: actor})
	require.NoError(t, err)
	require.Equal(t, PeriodStatusSoftClosed, out.FiscalYear.Status)
	require.Equal(t, RunSummary{Entries: 3, Accounts: 5, Validated: 4, Issues: 1}, out.Run.Summary)
	bank, _ := out.CarryForward.Balance("512000")
	require.Equal(t, accounting.Amount(1_500_000), bank.NetBalance)
	require.False(t, bank.IsValidated)

	_, err = svc.ApproveRollForward(ctx, 2024, actor)
	require.ErrorIs(t, err, ErrRollForwardNotValidated)
	require.Contains(t, err.Error(), "512000")

	require.NoError(t, svc.RecordReconciliation(ctx, "512000", day(2024, 12, 31), true))
	second, err := svc.CloseYear(ctx, CloseYearInput{Year: 2024, ActorID: actor})
	require.NoError(t, err)
	require.True(t, second.CarryForward.Validated())

	first, err := svc.Run(ctx, out.Run.ID)
	require.NoError(t, err)
	require.Equal(t, RunStatusSuperseded, first.Status)

	fy, err := svc.ApproveRollForward(ctx, 2024, actor)
	require.NoError(t, err)
	require.Equal(t, PeriodStatusHardClosed, fy.Status)
	require.Equal(t, &fixedNow, fy.ClosedAt)

	next, err := svc.FiscalYear(ctx, 2025)
	require.NoError(t, err)
	require.Equal(t, PeriodStatusOpen, next.Status)

	_, err = svc.CloseYear(ctx, CloseYearInput{Year: 2024, ActorID: actor})
	require.ErrorIs(t, err, ErrPeriodHardClosed)
	_, err = svc.PostEntry(ctx, accounting.JournalEntry{ID: "LATE", Date: day(2024, 6, 1), Lines: []accounting.JournalLine{
		{AccountCode: "512000", Debit: 1}, {AccountCode: "701000", Credit: 1},
	}})
	require.ErrorIs(t, err, ErrPeriodHardClosed)

	view, err := svc.Ledgers(ctx, 2025)
	require.NoError(t, err)
	for _, b := range second.CarryForward.Balances {
		l, ok := view.Book.Get(b.AccountCode)
		require.True(t, ok)
		require.Equal(t, b.NetBalance, l.OpeningBalance, b.AccountCode)
	}
}

func TestServiceCloseYearRejectsBadInput(t *testing.T) {
	svc := newTestService(t, newMemStore(), nil, Options{})
	_, err := svc.CloseYear(context.Background(), CloseYearInput{Year: 12, ActorID: actor})
	require.ErrorIs(t, err, ErrInvalidYear)
	_, err = svc.CloseYear(context.Background(), CloseYearInput{Year: 2024})
	require.ErrorIs(t, err, ErrActorRequired)
	_, err = svc.ApproveRollForward(context.Background(), 2024, actor)
	require.ErrorIs(t, err, ErrFiscalYearNotFound)
}

func TestServiceApproveRequiresSoftClose(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, newMemStore(), nil, Options{})
	seedYear(t, svc)
	_, err := svc.ApproveRollForward(ctx, 2024, actor)
	require.ErrorIs(t, err, ErrNotSoftClosed)
}

func TestServiceHardClosesYearWithoutAccounts(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc := newTestService(t, store, nil, Options{})

	out, err := svc.CloseYear(ctx, CloseYearInput{Year: 2023, ActorID: actor})
	require.NoError(t, err)
	require.Empty(t, out.CarryForward.Balances)

	fy, err := svc.ApproveRollForward(ctx, 2023, actor)
	require.NoError(t, err)
	require.Equal(t, PeriodStatusHardClosed, fy.Status)
	next, err := svc.FiscalYear(ctx, 2024)
	require.NoError(t, err)
	require.Equal(t, PeriodStatusOpen, next.Status)
}

func TestServiceCloseRollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc := newTestService(t, store, nil, Options{})
	seedYear(t, svc)

	store.failChart = errors.New("connection reset")
	_, err := svc.CloseYear(ctx, CloseYearInput{Year: 2024, ActorID: actor})
	require.ErrorContains(t, err, "connection reset")

	fy, err := svc.FiscalYear(ctx, 2024)
	require.NoError(t, err)
	require.Equal(t, PeriodStatusOpen, fy.Status)
	require.Empty(t, store.runs)
}

func TestServicePostEntryValidates(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, newMemStore(), nil, Options{ClosedChart: true})
	seedYear(t, svc)

	_, err := svc.PostEntry(ctx, accounting.JournalEntry{ID: "U", Date: day(2024, 2, 1), Lines: []accounting.JournalLine{
		{AccountCode: "512000", Debit: 10}, {AccountCode: "701000", Credit: 9},
	}})
	require.ErrorIs(t, err, accounting.ErrUnbalanced)

	_, err = svc.PostEntry(ctx, accounting.JournalEntry{ID: "O", Date: day(2024, 2, 1), Lines: []accounting.JournalLine{
		{AccountCode: "999999", Debit: 10}, {AccountCode: "701000", Credit: 10},
	}})
	require.ErrorIs(t, err, accounting.ErrOrphanAccount)

	_, err = svc.PostEntry(ctx, accounting.JournalEntry{ID: "E1", Date: day(2024, 2, 1), Lines: []accounting.JournalLine{
		{AccountCode: "512000", Debit: 10}, {AccountCode: "701000", Credit: 10},
	}})
	require.ErrorIs(t, err, ErrDuplicateEntry)

	_, err = svc.PostEntry(ctx, accounting.JournalEntry{ID: "D", Lines: []accounting.JournalLine{
		{AccountCode: "512000", Debit: 10}, {AccountCode: "701000", Credit: 10},
	}})
	require.ErrorIs(t, err, ErrInvalidEntry)

	posted, err := svc.PostEntry(ctx, accounting.JournalEntry{Date: day(2024, 2, 1), Lines: []accounting.JournalLine{
		{AccountCode: "512000", Debit: 10}, {AccountCode: "701000", Credit: 10},
	}})
	require.NoError(t, err)
	require.NotEmpty(t, posted.ID)
	require.Equal(t, int64(4), posted.Sequence)
}

func TestServiceLedgersAreCachedAndInvalidated(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cache := ledger.NewCache(client, time.Minute)

	svc := newTestService(t, newMemStore(), cache, Options{})
	seedYear(t, svc)

	first, err := svc.Ledgers(ctx, 2024)
	require.NoError(t, err)
	key, err := cache.BuildKey(ctx, "fy", "2024")
	require.NoError(t, err)
	require.True(t, mr.Exists(key))

	cached, err := svc.Ledgers(ctx, 2024)
	require.NoError(t, err)
	require.Equal(t, first.Book.Codes(), cached.Book.Codes())
	require.Equal(t, first.Book.Ledgers(), cached.Book.Ledgers())
	require.Equal(t, first.Range, cached.Range)

	_, err = svc.PostEntry(ctx, accounting.JournalEntry{ID: "E3", Date: day(2024, 3, 1), Lines: []accounting.JournalLine{
		{AccountCode: "512000", Debit: 42}, {AccountCode: "701000", Credit: 42},
	}})
	require.NoError(t, err)

	fresh, err := svc.Ledgers(ctx, 2024)
	require.NoError(t, err)
	bank, _ := fresh.Book.Get("512000")
	require.Equal(t, accounting.Amount(1_500_042), bank.ClosingBalance)
	require.Equal(t, 4, fresh.Entries)
}

func TestServicePartitionedLedgersMatchOneShot(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.entries = gen.Entries(gen.New(3), 400, nil, day(2024, 1, 1), 366)

	plain, err := newTestService(t, store, nil, Options{}).Ledgers(ctx, 2024)
	require.NoError(t, err)
	sharded, err := newTestService(t, store, nil, Options{Partitions: 4}).Ledgers(ctx, 2024)
	require.NoError(t, err)
	require.Equal(t, plain.Book.Codes(), sharded.Book.Codes())
	require.Equal(t, plain.Book.Ledgers(), sharded.Book.Ledgers())
}

func TestServiceAllocationLifecycle(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, newMemStore(), nil, Options{})
	seedYear(t, svc)

	_, err := svc.AllocateResult(ctx, AllocateInput{Year: 2024, ActorID: actor})
	require.ErrorIs(t, err, ErrNotSoftClosed)

	_, err = svc.CloseYear(ctx, CloseYearInput{Year: 2024, ActorID: actor})
	require.NoError(t, err)

	alloc, err := svc.AllocateResult(ctx, AllocateInput{Year: 2024, ActorID: actor})
	require.NoError(t, err)
	require.Equal(t, accounting.Amount(375_000), alloc.NetResult)
	require.Equal(t, accounting.Amount(18_750), alloc.LegalReservesAmount)
	require.Equal(t, accounting.Amount(356_250), alloc.CarriedForwardAmount)
	require.Zero(t, alloc.AllocationBalance)

	_, err = svc.RecordAllocation(ctx, 2024, actor)
	require.ErrorIs(t, err, allocation.ErrNotApproved)

	dividends := accounting.Amount(400_000)
	skewed, err := svc.AllocateResult(ctx, AllocateInput{Year: 2024, ActorID: actor, Adjust: &allocation.Amounts{Dividends: &dividends}})
	require.NoError(t, err)
	require.Equal(t, alloc.ID, skewed.ID)
	require.NotZero(t, skewed.AllocationBalance)
	_, err = svc.ApproveAllocation(ctx, 2024, actor)
	var imbalance *allocation.ImbalanceError
	require.ErrorAs(t, err, &imbalance)

	_, err = svc.AllocateResult(ctx, AllocateInput{Year: 2024, ActorID: actor})
	require.NoError(t, err)
	approved, err := svc.ApproveAllocation(ctx, 2024, actor)
	require.NoError(t, err)
	require.True(t, approved.IsApproved)

	_, err = svc.AllocateResult(ctx, AllocateInput{Year: 2024, ActorID: actor})
	require.ErrorIs(t, err, allocation.ErrAllocationFrozen)

	recorded, err := svc.RecordAllocation(ctx, 2024, actor)
	require.NoError(t, err)
	require.True(t, recorded.IsRecorded)
	require.Equal(t, &fixedNow, recorded.RecordedAt)
	_, err = svc.RecordAllocation(ctx, 2024, actor)
	require.ErrorIs(t, err, allocation.ErrAlreadyRecorded)

	stored, err := svc.Allocation(ctx, 2024)
	require.NoError(t, err)
	require.Equal(t, recorded, stored)
}

func TestServiceContinuity(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, newMemStore(), nil, Options{})
	seedYear(t, svc)

	_, err := svc.Continuity(ctx, 2024)
	require.ErrorIs(t, err, ErrCarryForwardNotFound)

	_, err = svc.CloseYear(ctx, CloseYearInput{Year: 2024, ActorID: actor})
	require.NoError(t, err)
	report, err := svc.Continuity(ctx, 2024)
	require.NoError(t, err)
	require.Empty(t, report.Skipped)
	require.Len(t, report.Controls, 3)

	values := make(map[string]float64)
	for _, c := range report.Controls {
		values[c.MetricName] = c.CurrentValue
		require.Equal(t, continuity.RiskLow, c.RiskLevel, c.MetricName)
		require.True(t, c.IsCompliant)
	}
	require.Equal(t, map[string]float64{
		"general_liquidity": 12,
		"debt_to_equity":    0.125,
		"equity_ratio":      0.6667,
	}, values)
}

func TestServiceCheckIntegrityDetectsDrift(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, newMemStore(), nil, Options{})
	seedYear(t, svc)

	report, err := svc.CheckIntegrity(ctx, 2024)
	require.NoError(t, err)
	require.True(t, report.Healthy())
	require.False(t, report.CarryForward)

	_, err = svc.CloseYear(ctx, CloseYearInput{Year: 2024, ActorID: actor})
	require.NoError(t, err)
	report, err = svc.CheckIntegrity(ctx, 2024)
	require.NoError(t, err)
	require.True(t, report.CarryForward)
	require.Empty(t, report.Drift)
	require.Equal(t, accounting.Amount(1_625_000), report.TotalDebit)
	require.True(t, report.Balanced)

	_, err = svc.PostEntry(ctx, accounting.JournalEntry{ID: "AFTER", Date: day(2024, 12, 30), Lines: []accounting.JournalLine{
		{AccountCode: "512000", Debit: 5}, {AccountCode: "701000", Credit: 5},
	}})
	require.NoError(t, err)
	report, err = svc.CheckIntegrity(ctx, 2024)
	require.NoError(t, err)
	require.Equal(t, []string{"512000", "701000"}, report.Drift)
	require.False(t, report.Healthy())
}

func TestServiceStatementsUseCarryForward(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, newMemStore(), nil, Options{})
	seedYear(t, svc)

	_, err := svc.CloseYear(ctx, CloseYearInput{Year: 2024, ActorID: actor})
	require.NoError(t, err)
	_, err = svc.PostEntry(ctx, accounting.JournalEntry{ID: "N1", Date: time.Date(2025, 3, 2, 14, 30, 0, 0, time.UTC), Lines: []accounting.JournalLine{
		{AccountCode: "512000", Debit: 80_000}, {AccountCode: "701000", Credit: 80_000},
	}})
	require.NoError(t, err)

	first, err := svc.Statements(ctx, 2024)
	require.NoError(t, err)
	require.Equal(t, accounting.Amount(375_000), first.ProfitAndLoss.NetIncome)
	require.True(t, first.BalanceSheet.Balanced())

	second, err := svc.Statements(ctx, 2025)
	require.NoError(t, err)
	require.Equal(t, accounting.Amount(80_000), second.ProfitAndLoss.NetIncome)
	require.Equal(t, accounting.Amount(375_000), second.BalanceSheet.RetainedResult)
	require.Equal(t, accounting.Amount(1_580_000), second.BalanceSheet.Assets.Total)
	require.True(t, second.BalanceSheet.Balanced())
	require.True(t, second.TrialBalance.Balanced())
}

type recordingObserver struct {
	transitions []PeriodStatus
	projections []int
}

func (o *recordingObserver) FiscalYearTransition(_ int, status PeriodStatus) {
	o.transitions = append(o.transitions, status)
}

func (o *recordingObserver) LedgerProjection(_ int, accounts, _ int, _ time.Duration) {
	o.projections = append(o.projections, accounts)
}

func TestServiceNotifiesObserver(t *testing.T) {
	ctx := context.Background()
	obs := &recordingObserver{}
	svc := newTestService(t, newMemStore(), nil, Options{}).WithObserver(obs)
	seedYear(t, svc)
	require.NoError(t, svc.RecordReconciliation(ctx, "512000", day(2024, 12, 31), true))

	_, err := svc.CloseYear(ctx, CloseYearInput{Year: 2024, ActorID: actor})
	require.NoError(t, err)
	_, err = svc.ApproveRollForward(ctx, 2024, actor)
	require.NoError(t, err)

	require.Equal(t, []PeriodStatus{PeriodStatusSoftClosed, PeriodStatusHardClosed}, obs.transitions)
	require.Equal(t, []int{5}, obs.projections)
}
