package accounting

import (
	"errors"
	"strings"
	"time"
)

// Amount is a monetary value expressed in ledger minor units.
type Amount int64

// AddChecked returns a+b, or false when the sum leaves the int64 range.
func (a Amount) AddChecked(b Amount) (Amount, bool) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, false
	}
	return sum, true
}

// Abs returns the absolute value of the amount.
func (a Amount) Abs() Amount {
	if a < 0 {
		return -a
	}
	return a
}

// Positive returns the amount when above zero, zero otherwise.
func (a Amount) Positive() Amount {
	if a > 0 {
		return a
	}
	return 0
}

// AccountType enumerates CoA categories.
type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeEquity    AccountType = "EQUITY"
	AccountTypeRevenue   AccountType = "REVENUE"
	AccountTypeExpense   AccountType = "EXPENSE"
)

// Nature is the balance side an account is expected to carry.
type Nature string

const (
	NatureDebit  Nature = "DEBIT"
	NatureCredit Nature = "CREDIT"
	NatureEither Nature = "EITHER"
)

// UnassignedAccount collects lines whose account is missing from an open chart.
const UnassignedAccount = "~unassigned"

// Account models a chart of accounts node.
type Account struct {
	Code                   string      `json:"code" yaml:"code"`
	Label                  string      `json:"label" yaml:"label"`
	Type                   AccountType `json:"type,omitempty" yaml:"type,omitempty"`
	Nature                 Nature      `json:"nature,omitempty" yaml:"nature,omitempty"`
	RequiresReconciliation bool        `json:"requires_reconciliation,omitempty" yaml:"requires_reconciliation,omitempty"`
}

// Chart is a materialised chart of accounts. A closed chart rejects unknown accounts.
type Chart struct {
	Accounts map[string]Account
	Closed   bool
}

// NewChart indexes accounts by code, fills in missing natures and flags bank
// accounts (512*) for reconciliation.
func NewChart(accounts []Account, closed bool) *Chart {
	chart := &Chart{Accounts: make(map[string]Account, len(accounts)), Closed: closed}
	for _, acc := range accounts {
		acc.Code = strings.TrimSpace(acc.Code)
		if acc.Code == "" {
			continue
		}
		if acc.Nature == "" {
			acc.Nature = NatureForType(acc.Type)
		}
		if acc.Nature == "" {
			acc.Nature = DefaultNature(acc.Code)
		}
		if acc.Type == "" {
			acc.Type = TypeForCode(acc.Code)
		}
		if strings.HasPrefix(acc.Code, "512") {
			acc.RequiresReconciliation = true
		}
		chart.Accounts[acc.Code] = acc
	}
	return chart
}

// Lookup returns the account for code. A nil chart knows no accounts.
func (c *Chart) Lookup(code string) (Account, bool) {
	if c == nil {
		return Account{}, false
	}
	acc, ok := c.Accounts[code]
	return acc, ok
}

// Label returns the account label or an empty string.
func (c *Chart) Label(code string) string {
	if code == UnassignedAccount {
		return "Unassigned lines"
	}
	acc, _ := c.Lookup(code)
	return acc.Label
}

// NatureForType maps an account type to its normal balance side.
func NatureForType(t AccountType) Nature {
	switch AccountType(strings.ToUpper(string(t))) {
	case AccountTypeAsset, AccountTypeExpense:
		return NatureDebit
	case AccountTypeLiability, AccountTypeEquity, AccountTypeRevenue:
		return NatureCredit
	default:
		return ""
	}
}

// DefaultNature derives the expected side from the PCG class digit of the code.
func DefaultNature(code string) Nature {
	if code == "" {
		return NatureEither
	}
	switch code[0] {
	case '1', '7':
		return NatureCredit
	case '2', '3', '5', '6':
		return NatureDebit
	default:
		return NatureEither
	}
}

// JournalLine stores debit or credit amount for an account.
type JournalLine struct {
	AccountCode         string `json:"account_code"`
	Debit               Amount `json:"debit"`
	Credit              Amount `json:"credit"`
	Label               string `json:"label"`
	ThirdParty          string `json:"third_party,omitempty"`
	AnalyticalCode      string `json:"analytical_code,omitempty"`
	ExternalReference   string `json:"external_reference,omitempty"`
	OriginalAccountCode string `json:"original_account_code,omitempty"`
}

// JournalEntry captures posting metadata.
type JournalEntry struct {
	ID        string        `json:"id"`
	Date      time.Time     `json:"date"`
	Sequence  int64         `json:"sequence"`
	Reference string        `json:"reference,omitempty"`
	Memo      string        `json:"memo,omitempty"`
	Lines     []JournalLine `json:"lines"`
}

// Totals sums debit and credit over the entry lines. The line index is 0 when
// both sums fit in an Amount, otherwise it is the 1-based line that overflowed.
func (e JournalEntry) Totals() (debit, credit Amount, overflowLine int) {
	for idx, line := range e.Lines {
		var okDebit, okCredit bool
		debit, okDebit = debit.AddChecked(line.Debit)
		credit, okCredit = credit.AddChecked(line.Credit)
		if !okDebit || !okCredit {
			return 0, 0, idx + 1
		}
	}
	return debit, credit, 0
}

var (
	// ErrUnbalanced indicates debit != credit.
	ErrUnbalanced = errors.New("accounting: journal lines must balance")
	// ErrEmptyEntry indicates an entry without lines.
	ErrEmptyEntry = errors.New("accounting: journal requires at least one line")
	// ErrOrphanAccount indicates a line referencing an account outside a closed chart.
	ErrOrphanAccount = errors.New("accounting: account not in chart")
	// ErrNegativeAmount indicates a line carrying a negative debit or credit.
	ErrNegativeAmount = errors.New("accounting: negative amount")
	// ErrAmountOverflow indicates entry totals beyond the Amount range.
	ErrAmountOverflow = errors.New("accounting: amount overflow")
)

// TypeForCode derives the account type from the PCG class of the code.
func TypeForCode(code string) AccountType {
	if code == "" {
		return ""
	}
	switch code[0] {
	case '1':
		if strings.HasPrefix(code, "16") || strings.HasPrefix(code, "17") {
			return AccountTypeLiability
		}
		return AccountTypeEquity
	case '2', '3', '5':
		return AccountTypeAsset
	case '4':
		if strings.HasPrefix(code, "41") {
			return AccountTypeAsset
		}
		return AccountTypeLiability
	case '6':
		return AccountTypeExpense
	case '7':
		return AccountTypeRevenue
	default:
		return ""
	}
}

// DefaultAccount returns the account implied by the code alone.
func DefaultAccount(code string) Account {
	return Account{
		Code:                   code,
		Type:                   TypeForCode(code),
		Nature:                 DefaultNature(code),
		RequiresReconciliation: strings.HasPrefix(code, "512"),
	}
}
