package ledger

import (
	"slices"
	"sort"
	"strings"

	"github.com/Oss53pa/Atlas-Finance-sub012/internal/accounting"
)

// Aggregate folds postings into per-account ledgers with running balances.
//
// Postings outside req.Range are dropped before sorting. Accounts keep the
// order in which they are first seen; accounts that only appear in the
// opening balances follow in code order. Within an account, movements are
// ordered by (date, entry sequence) with a stable sort.
func Aggregate(req Request) Result {
	order := firstSeen(req)
	book := buildBook(order, req.Postings, req)
	if req.SortByCode {
		book.sortByCode()
	}
	return Result{Book: book, Warnings: collectWarnings(book, req)}
}

// firstSeen lists account codes in aggregation order.
func firstSeen(req Request) []string {
	seen := make(map[string]struct{})
	order := make([]string, 0)
	for _, p := range req.Postings {
		if !req.Range.Contains(p.Entry.Date) {
			continue
		}
		code := strings.TrimSpace(p.Line.AccountCode)
		if _, ok := seen[code]; ok {
			continue
		}
		seen[code] = struct{}{}
		order = append(order, code)
	}
	extra := make([]string, 0)
	for code := range req.Opening {
		if _, ok := seen[code]; !ok {
			extra = append(extra, code)
		}
	}
	sort.Strings(extra)
	return append(order, extra...)
}

// buildBook aggregates the postings of the accounts listed in order.
func buildBook(order []string, postings []Posting, req Request) *Book {
	grouped := make(map[string][]Movement, len(order))
	for _, p := range postings {
		if !req.Range.Contains(p.Entry.Date) {
			continue
		}
		code := strings.TrimSpace(p.Line.AccountCode)
		label := p.Line.Label
		if label == "" {
			label = p.Entry.Memo
		}
		grouped[code] = append(grouped[code], Movement{
			Date:           p.Entry.Date,
			EntryID:        p.Entry.ID,
			Sequence:       p.Entry.Sequence,
			Reference:      p.Entry.Reference,
			Label:          label,
			ThirdParty:     p.Line.ThirdParty,
			AnalyticalCode: p.Line.AnalyticalCode,
			Debit:          p.Line.Debit,
			Credit:         p.Line.Credit,
		})
	}

	book := newBook(len(order))
	for _, code := range order {
		moves := grouped[code]
		slices.SortStableFunc(moves, func(a, b Movement) int {
			if c := a.Date.Compare(b.Date); c != 0 {
				return c
			}
			switch {
			case a.Sequence < b.Sequence:
				return -1
			case a.Sequence > b.Sequence:
				return 1
			}
			return 0
		})
		book.put(fold(code, req.Chart.Label(code), req.Opening[code], moves))
	}
	return book
}

func fold(code, label string, opening accounting.Amount, moves []Movement) AccountLedger {
	l := AccountLedger{
		AccountCode:    code,
		Label:          label,
		OpeningBalance: opening,
		ClosingBalance: opening,
		Movements:      make([]Movement, 0, len(moves)),
	}
	running := opening
	for _, m := range moves {
		running += m.Debit - m.Credit
		m.RunningBalance = running
		l.TotalDebit += m.Debit
		l.TotalCredit += m.Credit
		l.Movements = append(l.Movements, m)
	}
	l.ClosingBalance = running
	return l
}

func collectWarnings(book *Book, req Request) []Warning {
	warnings := make([]Warning, 0)
	if req.Chart == nil {
		return warnings
	}
	opening := make([]string, 0, len(req.Opening))
	for code := range req.Opening {
		if _, ok := req.Chart.Lookup(code); !ok {
			opening = append(opening, code)
		}
	}
	sort.Strings(opening)
	for _, code := range opening {
		warnings = append(warnings, Warning{Kind: WarningOpeningAccountUnknown, AccountCode: code, Amount: req.Opening[code]})
	}
	for _, code := range book.codes {
		if book.accounts[code].Label == "" {
			warnings = append(warnings, Warning{Kind: WarningUnlabelledAccount, AccountCode: code})
		}
	}
	return warnings
}
