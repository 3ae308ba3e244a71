package reports

import (
	"sort"

	"github.com/Oss53pa/Atlas-Finance-sub012/internal/accounting"
)

// BalanceSheetAccount summarises an account for assets, liabilities, or equity.
type BalanceSheetAccount struct {
	Code    string            `json:"code"`
	Name    string            `json:"name"`
	Balance accounting.Amount `json:"balance"`
}

// BalanceSheetSection contains the accounts and totals for a classification.
type BalanceSheetSection struct {
	Label    string                `json:"label"`
	Accounts []BalanceSheetAccount `json:"accounts"`
	Total    accounting.Amount     `json:"total"`
}

// BalanceSheet is the structured response for the balance sheet report.
// Liability and equity balances are shown credit-positive.
type BalanceSheet struct {
	Assets      BalanceSheetSection `json:"assets"`
	Liabilities BalanceSheetSection `json:"liabilities"`
	Equity      BalanceSheetSection `json:"equity"`
	// RetainedResult is the income statement balance brought forward from
	// earlier years and not yet allocated to equity.
	RetainedResult accounting.Amount `json:"retained_result"`
	CurrentResult  accounting.Amount `json:"current_result"`
	// Suspense holds accounts without a balance sheet or income classification,
	// such as the unassigned bucket, credit-positive.
	Suspense                  BalanceSheetSection `json:"suspense"`
	TotalLiabilitiesAndEquity accounting.Amount   `json:"total_liabilities_and_equity"`
}

// Balanced reports whether both sides of the sheet agree.
func (bs BalanceSheet) Balanced() bool {
	return bs.Assets.Total == bs.TotalLiabilitiesAndEquity
}

// BuildBalanceSheet aggregates balances into assets, liabilities, and equity
// sections. The result of the period and any income statement balance carried
// in from earlier years are shown within equity.
func BuildBalanceSheet(accounts []AccountBalance) BalanceSheet {
	assets := BalanceSheetSection{Label: "Assets", Accounts: []BalanceSheetAccount{}}
	liabilities := BalanceSheetSection{Label: "Liabilities", Accounts: []BalanceSheetAccount{}}
	equity := BalanceSheetSection{Label: "Equity", Accounts: []BalanceSheetAccount{}}
	suspense := BalanceSheetSection{Label: "Suspense", Accounts: []BalanceSheetAccount{}}
	var retained accounting.Amount

	for _, acc := range accounts {
		balance := acc.Closing()
		row := BalanceSheetAccount{Code: acc.Code, Name: acc.Name, Balance: balance}
		switch acc.Type {
		case accounting.AccountTypeAsset:
			assets.Accounts = append(assets.Accounts, row)
			assets.Total += row.Balance
		case accounting.AccountTypeLiability:
			row.Balance = -balance
			liabilities.Accounts = append(liabilities.Accounts, row)
			liabilities.Total += row.Balance
		case accounting.AccountTypeEquity:
			row.Balance = -balance
			equity.Accounts = append(equity.Accounts, row)
			equity.Total += row.Balance
		case accounting.AccountTypeRevenue, accounting.AccountTypeExpense:
			retained -= acc.Opening
		default:
			row.Balance = -balance
			suspense.Accounts = append(suspense.Accounts, row)
			suspense.Total += row.Balance
		}
	}

	for _, section := range []*BalanceSheetSection{&assets, &liabilities, &equity, &suspense} {
		rows := section.Accounts
		sort.Slice(rows, func(i, j int) bool { return rows[i].Code < rows[j].Code })
	}

	result := BuildProfitAndLoss(accounts).NetIncome
	return BalanceSheet{
		Assets:                    assets,
		Liabilities:               liabilities,
		Equity:                    equity,
		RetainedResult:            retained,
		CurrentResult:             result,
		Suspense:                  suspense,
		TotalLiabilitiesAndEquity: liabilities.Total + equity.Total + retained + result + suspense.Total,
	}
}
