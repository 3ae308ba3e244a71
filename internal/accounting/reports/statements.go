package reports

// Statements bundles the reports built from one set of account balances.
type Statements struct {
	TrialBalance  TrialBalance  `json:"trial_balance"`
	ProfitAndLoss ProfitAndLoss `json:"profit_and_loss"`
	BalanceSheet  BalanceSheet  `json:"balance_sheet"`
}

// BuildStatements builds the trial balance, P&L and balance sheet.
func BuildStatements(accounts []AccountBalance) Statements {
	return Statements{
		TrialBalance:  BuildTrialBalance(accounts),
		ProfitAndLoss: BuildProfitAndLoss(accounts),
		BalanceSheet:  BuildBalanceSheet(accounts),
	}
}
