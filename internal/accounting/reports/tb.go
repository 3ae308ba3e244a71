package reports

import (
	"sort"
	"strings"

	"github.com/Oss53pa/Atlas-Finance-sub012/internal/accounting"
	"github.com/Oss53pa/Atlas-Finance-sub012/internal/ledger"
)

// AccountBalance models a general ledger account with aggregated balances.
type AccountBalance struct {
	Code    string                 `json:"code"`
	Name    string                 `json:"name"`
	Type    accounting.AccountType `json:"type"`
	Opening accounting.Amount      `json:"opening"`
	Debit   accounting.Amount      `json:"debit"`
	Credit  accounting.Amount      `json:"credit"`
}

// Closing computes the closing balance for the account.
func (a AccountBalance) Closing() accounting.Amount {
	return a.Opening + a.Debit - a.Credit
}

// GroupKey returns a key used for grouping trial balance rows.
func (a AccountBalance) GroupKey() string {
	if idx := strings.Index(a.Code, "."); idx > 0 {
		return a.Code[:idx]
	}
	if len(a.Code) >= 2 {
		return a.Code[:2]
	}
	return a.Code
}

// BalancesFromBook flattens aggregated ledgers into report rows. The account
// type comes from the chart, or from the code when the chart does not know it.
func BalancesFromBook(book *ledger.Book, chart *accounting.Chart) []AccountBalance {
	out := make([]AccountBalance, 0, book.Len())
	for _, l := range book.Ledgers() {
		acc, ok := chart.Lookup(l.AccountCode)
		if !ok || acc.Type == "" {
			acc.Type = accounting.TypeForCode(l.AccountCode)
		}
		out = append(out, AccountBalance{
			Code:    l.AccountCode,
			Name:    l.Label,
			Type:    acc.Type,
			Opening: l.OpeningBalance,
			Debit:   l.TotalDebit,
			Credit:  l.TotalCredit,
		})
	}
	return out
}

// TrialBalanceAccount represents a row inside a trial balance group.
type TrialBalanceAccount struct {
	Code    string            `json:"code"`
	Name    string            `json:"name"`
	Opening accounting.Amount `json:"opening"`
	Debit   accounting.Amount `json:"debit"`
	Credit  accounting.Amount `json:"credit"`
	Closing accounting.Amount `json:"closing"`
}

// TrialBalanceGroup aggregates accounts sharing a code prefix.
type TrialBalanceGroup struct {
	Key      string                `json:"key"`
	Accounts []TrialBalanceAccount `json:"accounts"`
	Opening  accounting.Amount     `json:"opening"`
	Debit    accounting.Amount     `json:"debit"`
	Credit   accounting.Amount     `json:"credit"`
	Closing  accounting.Amount     `json:"closing"`
}

// TrialBalance lists every account with its movements, grouped by prefix.
type TrialBalance struct {
	Groups       []TrialBalanceGroup `json:"groups"`
	TotalDebit   accounting.Amount   `json:"total_debit"`
	TotalCredit  accounting.Amount   `json:"total_credit"`
	TotalOpening accounting.Amount   `json:"total_opening"`
	TotalClosing accounting.Amount   `json:"total_closing"`
}

// Balanced reports whether movements and closing balances net to zero.
func (tb TrialBalance) Balanced() bool {
	return tb.TotalDebit == tb.TotalCredit && tb.TotalClosing == tb.TotalOpening
}

// BuildTrialBalance converts account balances into grouped trial balance data.
func BuildTrialBalance(accounts []AccountBalance) TrialBalance {
	groups := make(map[string]*TrialBalanceGroup)
	keys := make([]string, 0)
	for _, acc := range accounts {
		key := acc.GroupKey()
		grp, ok := groups[key]
		if !ok {
			grp = &TrialBalanceGroup{Key: key}
			groups[key] = grp
			keys = append(keys, key)
		}
		row := TrialBalanceAccount{
			Code:    acc.Code,
			Name:    acc.Name,
			Opening: acc.Opening,
			Debit:   acc.Debit,
			Credit:  acc.Credit,
			Closing: acc.Closing(),
		}
		grp.Accounts = append(grp.Accounts, row)
		grp.Opening += row.Opening
		grp.Debit += row.Debit
		grp.Credit += row.Credit
		grp.Closing += row.Closing
	}

	sort.Strings(keys)
	result := TrialBalance{Groups: make([]TrialBalanceGroup, 0, len(keys))}
	for _, key := range keys {
		grp := groups[key]
		sort.Slice(grp.Accounts, func(i, j int) bool {
			return grp.Accounts[i].Code < grp.Accounts[j].Code
		})
		result.Groups = append(result.Groups, *grp)
		result.TotalOpening += grp.Opening
		result.TotalDebit += grp.Debit
		result.TotalCredit += grp.Credit
		result.TotalClosing += grp.Closing
	}
	return result
}
