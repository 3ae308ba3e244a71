package close

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/Oss53pa/Atlas-Finance-sub012/internal/accounting"
	"github.com/Oss53pa/Atlas-Finance-sub012/internal/allocation"
	"github.com/Oss53pa/Atlas-Finance-sub012/internal/ledger"
)

// memStore is an in-memory Store. WithTx restores the previous state when fn fails.
type memStore struct {
	accounts  []accounting.Account
	entries   []accounting.JournalEntry
	recon     map[string]bool
	years     map[int]FiscalYear
	runs      map[uuid.UUID]CloseRun
	carry     map[int]CarryForward
	allocs    map[int]allocation.ResultAllocation
	sequence  int64
	failChart error
}

func newMemStore() *memStore {
	return &memStore{
		recon:  make(map[string]bool),
		years:  make(map[int]FiscalYear),
		runs:   make(map[uuid.UUID]CloseRun),
		carry:  make(map[int]CarryForward),
		allocs: make(map[int]allocation.ResultAllocation),
	}
}

func (m *memStore) snapshot() *memStore {
	return &memStore{
		accounts: slices.Clone(m.accounts),
		entries:  slices.Clone(m.entries),
		recon:    maps.Clone(m.recon),
		years:    maps.Clone(m.years),
		runs:     maps.Clone(m.runs),
		carry:    maps.Clone(m.carry),
		allocs:   maps.Clone(m.allocs),
		sequence: m.sequence,
	}
}

func (m *memStore) restore(s *memStore) {
	m.accounts, m.entries, m.recon = s.accounts, s.entries, s.recon
	m.years, m.runs, m.carry, m.allocs = s.years, s.runs, s.carry, s.allocs
	m.sequence = s.sequence
}

func (m *memStore) WithTx(ctx context.Context, fn func(context.Context, Store) error) error {
	before := m.snapshot()
	if err := fn(ctx, m); err != nil {
		m.restore(before)
		return err
	}
	return nil
}

func (m *memStore) ListEntries(_ context.Context, rng ledger.DateRange) ([]accounting.JournalEntry, error) {
	out := make([]accounting.JournalEntry, 0)
	for _, e := range m.entries {
		if rng.Contains(e.Date) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memStore) LoadChart(context.Context) (*accounting.Chart, error) {
	if m.failChart != nil {
		return nil, m.failChart
	}
	return accounting.NewChart(m.accounts, false), nil
}

func (m *memStore) LoadReconciliation(context.Context, time.Time) (map[string]bool, error) {
	return maps.Clone(m.recon), nil
}

func (m *memStore) LoadFiscalYear(_ context.Context, year int, _ bool) (FiscalYear, error) {
	fy, ok := m.years[year]
	if !ok {
		return FiscalYear{}, ErrFiscalYearNotFound
	}
	return fy, nil
}

func (m *memStore) InsertFiscalYear(_ context.Context, fy FiscalYear) error {
	if _, ok := m.years[fy.Year]; !ok {
		m.years[fy.Year] = fy
	}
	return nil
}

func (m *memStore) UpdateFiscalYearStatus(_ context.Context, year int, status PeriodStatus, actorID int64, at time.Time, runID *uuid.UUID) error {
	fy, ok := m.years[year]
	if !ok {
		return ErrFiscalYearNotFound
	}
	fy.Status = status
	switch status {
	case PeriodStatusSoftClosed:
		fy.SoftClosedBy, fy.SoftClosedAt = &actorID, &at
	case PeriodStatusHardClosed:
		fy.ClosedBy, fy.ClosedAt = &actorID, &at
	}
	if runID != nil {
		fy.LatestRunID = runID
	}
	m.years[year] = fy
	return nil
}

func (m *memStore) InsertRun(_ context.Context, run CloseRun) error {
	for id, prev := range m.runs {
		if prev.Year == run.Year && prev.Status == RunStatusCompleted {
			prev.Status = RunStatusSuperseded
			m.runs[id] = prev
		}
	}
	m.runs[run.ID] = run
	return nil
}

func (m *memStore) LoadRun(_ context.Context, id uuid.UUID) (CloseRun, error) {
	run, ok := m.runs[id]
	if !ok {
		return CloseRun{}, ErrRunNotFound
	}
	return run, nil
}

func (m *memStore) SaveCarryForward(_ context.Context, _ uuid.UUID, cf CarryForward) error {
	m.carry[cf.FiscalYear] = cf
	return nil
}

func (m *memStore) LoadCarryForward(_ context.Context, year int) (CarryForward, error) {
	cf, ok := m.carry[year]
	if !ok || len(cf.Balances) == 0 {
		return CarryForward{}, ErrCarryForwardNotFound
	}
	return cf, nil
}

func (m *memStore) LoadAllocation(_ context.Context, year int) (allocation.ResultAllocation, error) {
	a, ok := m.allocs[year]
	if !ok {
		return allocation.ResultAllocation{}, allocation.ErrNotFound
	}
	return a, nil
}

func (m *memStore) SaveAllocation(_ context.Context, a allocation.ResultAllocation) error {
	m.allocs[a.FiscalYear] = a
	return nil
}

func (m *memStore) InsertEntry(_ context.Context, entry accounting.JournalEntry) (int64, error) {
	for _, e := range m.entries {
		if e.ID == entry.ID {
			return 0, fmt.Errorf("%w: %s", ErrDuplicateEntry, entry.ID)
		}
	}
	m.sequence++
	entry.Sequence = m.sequence
	m.entries = append(m.entries, entry)
	return m.sequence, nil
}

func (m *memStore) SaveAccount(_ context.Context, acc accounting.Account) error {
	for i, existing := range m.accounts {
		if existing.Code == acc.Code {
			m.accounts[i] = acc
			return nil
		}
	}
	m.accounts = append(m.accounts, acc)
	return nil
}

func (m *memStore) RecordReconciliation(_ context.Context, code string, _ time.Time, reconciled bool) error {
	m.recon[code] = reconciled
	return nil
}
