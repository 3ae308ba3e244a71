package cli

import (
	"github.com/Rhymond/go-money"

	"github.com/Oss53pa/Atlas-Finance-sub012/internal/accounting"
)

const defaultCurrency = "XOF"

// formatAmount renders minor units with the currency's symbol, separators and fraction.
func formatAmount(a accounting.Amount, currency string) string {
	if currency == "" {
		currency = defaultCurrency
	}
	return money.New(int64(a), currency).Display()
}
