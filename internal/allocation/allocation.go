package allocation

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Oss53pa/Atlas-Finance-sub012/internal/accounting"
)

var (
	// ErrAllocationImbalance indicates the buckets do not add up to the net result.
	ErrAllocationImbalance = errors.New("allocation: allocation does not balance")
	// ErrRuleViolation indicates a business rule blocks approval.
	ErrRuleViolation = errors.New("allocation: business rule violated")
	// ErrAllocationFrozen is returned when editing an approved allocation.
	ErrAllocationFrozen = errors.New("allocation: allocation already approved")
	// ErrNotApproved is returned when recording an allocation that is not approved.
	ErrNotApproved = errors.New("allocation: allocation not approved")
	// ErrAlreadyRecorded is returned when recording twice.
	ErrAlreadyRecorded = errors.New("allocation: allocation already recorded")
	// ErrNotFound indicates no allocation exists for the fiscal year.
	ErrNotFound = errors.New("allocation: allocation not found")
)

// ImbalanceError reports a nonzero allocation balance at approval time.
type ImbalanceError struct {
	FiscalYear int
	NetResult  accounting.Amount
	Allocated  accounting.Amount
	Balance    accounting.Amount
}

func (e *ImbalanceError) Error() string {
	return fmt.Sprintf("allocation: fiscal year %d allocates %d of net result %d (balance %d)", e.FiscalYear, e.Allocated, e.NetResult, e.Balance)
}

// Unwrap allows errors.Is(err, ErrAllocationImbalance).
func (e *ImbalanceError) Unwrap() error { return ErrAllocationImbalance }

// Rule names checked on approval.
const (
	RuleNonNegativeBucket = "NON_NEGATIVE_BUCKET"
)

// RuleViolationError reports a bucket breaking an approval rule.
type RuleViolationError struct {
	Rule   string
	Bucket string
	Amount accounting.Amount
}

func (e *RuleViolationError) Error() string {
	return fmt.Sprintf("allocation: %s: %s is %d", e.Rule, e.Bucket, e.Amount)
}

// Unwrap allows errors.Is(err, ErrRuleViolation).
func (e *RuleViolationError) Unwrap() error { return ErrRuleViolation }

// ResultAllocation distributes a fiscal year's net result.
type ResultAllocation struct {
	ID                      uuid.UUID         `json:"id"`
	FiscalYear              int               `json:"fiscal_year"`
	NetResult               accounting.Amount `json:"net_result"`
	LegalReservesAmount     accounting.Amount `json:"legal_reserves_amount"`
	StatutoryReservesAmount accounting.Amount `json:"statutory_reserves_amount"`
	OptionalReservesAmount  accounting.Amount `json:"optional_reserves_amount"`
	DividendsAmount         accounting.Amount `json:"dividends_amount"`
	CarriedForwardAmount    accounting.Amount `json:"carried_forward_amount"`
	TotalAllocated          accounting.Amount `json:"total_allocated"`
	AllocationBalance       accounting.Amount `json:"allocation_balance"`
	IsApproved              bool              `json:"is_approved"`
	IsRecorded              bool              `json:"is_recorded"`
	ApprovedAt              *time.Time        `json:"approved_at,omitempty"`
	RecordedAt              *time.Time        `json:"recorded_at,omitempty"`
}

// Allocate splits netResult following the policy in the order legal,
// statutory, optional, dividends. The remainder is carried forward and may be
// negative when the policy over-allocates.
func Allocate(fiscalYear int, netResult accounting.Amount, p Policy) (ResultAllocation, error) {
	if err := p.Validate(); err != nil {
		return ResultAllocation{}, err
	}
	a := ResultAllocation{ID: uuid.New(), FiscalYear: fiscalYear, NetResult: netResult}
	a.apply(p)
	return a, nil
}

func (a *ResultAllocation) apply(p Policy) {
	a.LegalReservesAmount = legalReserve(a.NetResult, p.LegalReserve)
	a.StatutoryReservesAmount = shareOf(a.NetResult, p.StatutoryReserve)
	a.OptionalReservesAmount = shareOf(a.NetResult, p.OptionalReserve)
	a.DividendsAmount = shareOf(a.NetResult, p.Dividends)
	a.CarriedForwardAmount = a.NetResult - a.buckets()
	a.recompute()
}

// Reallocate recomputes the buckets under a new policy. Approved allocations are frozen.
func (a *ResultAllocation) Reallocate(p Policy) error {
	if a.IsApproved {
		return ErrAllocationFrozen
	}
	if err := p.Validate(); err != nil {
		return err
	}
	a.apply(p)
	return nil
}

// Amounts overrides individual buckets. Nil fields are left untouched.
type Amounts struct {
	LegalReserves     *accounting.Amount `json:"legal_reserves,omitempty"`
	StatutoryReserves *accounting.Amount `json:"statutory_reserves,omitempty"`
	OptionalReserves  *accounting.Amount `json:"optional_reserves,omitempty"`
	Dividends         *accounting.Amount `json:"dividends,omitempty"`
	CarriedForward    *accounting.Amount `json:"carried_forward,omitempty"`
}

// Adjust applies manual bucket edits. The carried-forward amount is not
// rebalanced, so an edit can leave a nonzero allocation balance.
func (a *ResultAllocation) Adjust(in Amounts) error {
	if a.IsApproved {
		return ErrAllocationFrozen
	}
	set := func(dst *accounting.Amount, v *accounting.Amount) {
		if v != nil {
			*dst = *v
		}
	}
	set(&a.LegalReservesAmount, in.LegalReserves)
	set(&a.StatutoryReservesAmount, in.StatutoryReserves)
	set(&a.OptionalReservesAmount, in.OptionalReserves)
	set(&a.DividendsAmount, in.Dividends)
	set(&a.CarriedForwardAmount, in.CarriedForward)
	a.recompute()
	return nil
}

// Approve freezes the allocation once it balances and passes the bucket rules.
func (a *ResultAllocation) Approve(at time.Time) error {
	if a.IsApproved {
		return ErrAllocationFrozen
	}
	a.recompute()
	if a.AllocationBalance != 0 {
		return &ImbalanceError{
			FiscalYear: a.FiscalYear,
			NetResult:  a.NetResult,
			Allocated:  a.TotalAllocated + a.CarriedForwardAmount,
			Balance:    a.AllocationBalance,
		}
	}
	if err := a.CheckRules(); err != nil {
		return err
	}
	a.IsApproved = true
	a.ApprovedAt = &at
	return nil
}

// CheckRules reports the first bucket that is negative while the net result is not.
func (a *ResultAllocation) CheckRules() error {
	if a.NetResult < 0 {
		return nil
	}
	buckets := []struct {
		name   string
		amount accounting.Amount
	}{
		{"legal_reserves", a.LegalReservesAmount},
		{"statutory_reserves", a.StatutoryReservesAmount},
		{"optional_reserves", a.OptionalReservesAmount},
		{"dividends", a.DividendsAmount},
		{"carried_forward", a.CarriedForwardAmount},
	}
	for _, b := range buckets {
		if b.amount < 0 {
			return &RuleViolationError{Rule: RuleNonNegativeBucket, Bucket: b.name, Amount: b.amount}
		}
	}
	return nil
}

// Record marks an approved allocation as posted.
func (a *ResultAllocation) Record(at time.Time) error {
	if !a.IsApproved {
		return ErrNotApproved
	}
	if a.IsRecorded {
		return ErrAlreadyRecorded
	}
	a.IsRecorded = true
	a.RecordedAt = &at
	return nil
}

func (a *ResultAllocation) buckets() accounting.Amount {
	return a.LegalReservesAmount + a.StatutoryReservesAmount + a.OptionalReservesAmount + a.DividendsAmount
}

func (a *ResultAllocation) recompute() {
	a.TotalAllocated = a.buckets()
	a.AllocationBalance = a.NetResult - (a.TotalAllocated + a.CarriedForwardAmount)
}

func legalReserve(net accounting.Amount, cfg LegalReserve) accounting.Amount {
	amount := rateOf(net, cfg.Rate)
	if cfg.Ceiling > 0 {
		room := (cfg.Ceiling - cfg.Accumulated).Positive()
		if amount > room {
			amount = room
		}
	}
	return amount
}

func shareOf(net accounting.Amount, s Share) accounting.Amount {
	switch {
	case s.Fixed != nil:
		return *s.Fixed
	case s.Rate != nil:
		return rateOf(net, *s.Rate)
	default:
		return 0
	}
}

// rateOf applies rate to a positive net result, rounding half away from zero
// to the minor unit. Losses yield no rate-based allocation.
func rateOf(net accounting.Amount, rate decimal.Decimal) accounting.Amount {
	if net <= 0 {
		return 0
	}
	return accounting.Amount(decimal.NewFromInt(int64(net)).Mul(rate).Round(0).IntPart())
}
