// Package gen builds random journal entries that satisfy the double-entry
// invariant by construction. It backs the property tests of the ledger packages.
package gen

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/Oss53pa/Atlas-Finance-sub012/internal/accounting"
)

// DefaultAccounts is a small PCG-flavoured account set.
var DefaultAccounts = []string{"101000", "401100", "411000", "512000", "601000", "701000"}

// New returns a deterministic source for the given seed.
func New(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Entries returns n balanced entries dated within [start, start+days).
// Dates are shuffled relative to sequence numbers so callers exercise sorting.
func Entries(r *rand.Rand, n int, accounts []string, start time.Time, days int) []accounting.JournalEntry {
	if len(accounts) == 0 {
		accounts = DefaultAccounts
	}
	if days <= 0 {
		days = 1
	}
	entries := make([]accounting.JournalEntry, 0, n)
	for i := 0; i < n; i++ {
		entries = append(entries, accounting.JournalEntry{
			ID:        fmt.Sprintf("GEN-%05d", i+1),
			Date:      start.AddDate(0, 0, r.IntN(days)),
			Sequence:  int64(i + 1),
			Reference: fmt.Sprintf("PC-%05d", i+1),
			Lines:     lines(r, accounts),
		})
	}
	return entries
}

func lines(r *rand.Rand, accounts []string) []accounting.JournalLine {
	debits := 1 + r.IntN(3)
	credits := 1 + r.IntN(2)
	out := make([]accounting.JournalLine, 0, debits+credits)
	var total accounting.Amount
	for i := 0; i < debits; i++ {
		amount := accounting.Amount(1 + r.Int64N(1_000_000))
		total += amount
		out = append(out, accounting.JournalLine{
			AccountCode: accounts[r.IntN(len(accounts))],
			Debit:       amount,
			Label:       "generated debit",
		})
	}
	remaining := total
	for i := 0; i < credits; i++ {
		amount := remaining
		if i < credits-1 && remaining > 1 {
			amount = accounting.Amount(1 + r.Int64N(int64(remaining-1)))
		}
		remaining -= amount
		out = append(out, accounting.JournalLine{
			AccountCode: accounts[r.IntN(len(accounts))],
			Credit:      amount,
			Label:       "generated credit",
		})
	}
	return out
}
