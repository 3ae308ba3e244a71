package close

import (
	"fmt"
	"time"

	"github.com/Oss53pa/Atlas-Finance-sub012/internal/accounting"
	"github.com/Oss53pa/Atlas-Finance-sub012/internal/ledger"
)

// BalanceSide is the side a closing balance sits on.
type BalanceSide string

const (
	SideDebit  BalanceSide = "DEBIT"
	SideCredit BalanceSide = "CREDIT"
	SideZero   BalanceSide = "ZERO"
)

// IssueKind classifies a closing validation failure.
type IssueKind string

const (
	IssueSignMismatch IssueKind = "ACCOUNT_SIGN_MISMATCH"
	IssueUnreconciled IssueKind = "UNRECONCILED_ACCOUNT"
	IssueUnclassified IssueKind = "UNCLASSIFIED_ACCOUNT"
)

// Issue is one reason a balance could not be validated.
type Issue struct {
	Kind    IssueKind `json:"kind"`
	Message string    `json:"message"`
}

// CarryForwardBalance is the closing position of an account, seeded as the
// next fiscal year's opening balance.
type CarryForwardBalance struct {
	AccountCode      string            `json:"account_code"`
	Label            string            `json:"label"`
	ClosingDebit     accounting.Amount `json:"closing_debit"`
	ClosingCredit    accounting.Amount `json:"closing_credit"`
	NetBalance       accounting.Amount `json:"net_balance"`
	BalanceSide      BalanceSide       `json:"balance_side"`
	IsValidated      bool              `json:"is_validated"`
	ValidationErrors []Issue           `json:"validation_errors"`
}

// CarryForward holds the closing balances of a fiscal year in ledger order.
type CarryForward struct {
	FiscalYear int                   `json:"fiscal_year"`
	AsOf       time.Time             `json:"as_of"`
	Balances   []CarryForwardBalance `json:"balances"`
}

// OpeningBalances maps every account to its net balance for the next year.
func (cf CarryForward) OpeningBalances() ledger.Balances {
	out := make(ledger.Balances, len(cf.Balances))
	for _, b := range cf.Balances {
		out[b.AccountCode] = b.NetBalance
	}
	return out
}

// Balance returns the carry-forward balance of code.
func (cf CarryForward) Balance(code string) (CarryForwardBalance, bool) {
	for _, b := range cf.Balances {
		if b.AccountCode == code {
			return b, true
		}
	}
	return CarryForwardBalance{}, false
}

// Unvalidated lists the balances that carry validation errors.
func (cf CarryForward) Unvalidated() []CarryForwardBalance {
	out := make([]CarryForwardBalance, 0)
	for _, b := range cf.Balances {
		if !b.IsValidated {
			out = append(out, b)
		}
	}
	return out
}

// Validated reports whether every balance passed validation.
func (cf CarryForward) Validated() bool {
	for _, b := range cf.Balances {
		if !b.IsValidated {
			return false
		}
	}
	return true
}

// CloseRequest is the input of a period close.
type CloseRequest struct {
	FiscalYear int
	Book       *ledger.Book
	AsOf       time.Time
	// Reconciliation holds the reconciliation status of accounts as of AsOf.
	// Listed accounts must be reconciled even if the chart does not require it.
	Reconciliation map[string]bool
	Chart          *accounting.Chart
}

// Close computes carry-forward balances from aggregated ledgers. Every
// account yields a balance; validation failures only clear IsValidated.
func Close(req CloseRequest) CarryForward {
	cf := CarryForward{
		FiscalYear: req.FiscalYear,
		AsOf:       req.AsOf,
		Balances:   make([]CarryForwardBalance, 0, req.Book.Len()),
	}
	for _, l := range req.Book.Ledgers() {
		cf.Balances = append(cf.Balances, closeAccount(l, req))
	}
	return cf
}

func closeAccount(l ledger.AccountLedger, req CloseRequest) CarryForwardBalance {
	net := l.ClosingBalance
	b := CarryForwardBalance{
		AccountCode:      l.AccountCode,
		Label:            l.Label,
		ClosingDebit:     net.Positive(),
		ClosingCredit:    (-net).Positive(),
		NetBalance:       net,
		BalanceSide:      sideOf(net),
		ValidationErrors: make([]Issue, 0),
	}

	acc, known := req.Chart.Lookup(l.AccountCode)
	if known && b.Label == "" {
		b.Label = acc.Label
	}
	if !known {
		acc = accounting.DefaultAccount(l.AccountCode)
		if req.Chart != nil {
			b.ValidationErrors = append(b.ValidationErrors, Issue{
				Kind:    IssueUnclassified,
				Message: fmt.Sprintf("account %s is not in the chart of accounts", l.AccountCode),
			})
		}
	}
	if !signMatches(acc.Nature, b.BalanceSide) {
		b.ValidationErrors = append(b.ValidationErrors, Issue{
			Kind:    IssueSignMismatch,
			Message: fmt.Sprintf("account %s closes with a %s balance of %d but its nature is %s", l.AccountCode, b.BalanceSide, net.Abs(), acc.Nature),
		})
	}
	reconciled, listed := req.Reconciliation[l.AccountCode]
	if (acc.RequiresReconciliation || listed) && !reconciled {
		b.ValidationErrors = append(b.ValidationErrors, Issue{
			Kind:    IssueUnreconciled,
			Message: fmt.Sprintf("account %s is not reconciled as of %s", l.AccountCode, req.AsOf.Format("2006-01-02")),
		})
	}
	b.IsValidated = len(b.ValidationErrors) == 0
	return b
}

func sideOf(net accounting.Amount) BalanceSide {
	switch {
	case net > 0:
		return SideDebit
	case net < 0:
		return SideCredit
	default:
		return SideZero
	}
}

func signMatches(nature accounting.Nature, side BalanceSide) bool {
	switch {
	case side == SideZero, nature == accounting.NatureEither, nature == "":
		return true
	case nature == accounting.NatureDebit:
		return side == SideDebit
	case nature == accounting.NatureCredit:
		return side == SideCredit
	default:
		return true
	}
}
