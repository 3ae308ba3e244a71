package ledger

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/Oss53pa/Atlas-Finance-sub012/internal/accounting"
)

// Balances maps account codes to signed balances (debit positive).
type Balances map[string]accounting.Amount

// DateRange is an inclusive window of calendar days. Zero bounds are open.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether the calendar day of date falls inside the range,
// bounds included. Times of day are ignored on both sides.
func (r DateRange) Contains(date time.Time) bool {
	day := calendarDay(date)
	if !r.Start.IsZero() && day.Before(calendarDay(r.Start)) {
		return false
	}
	if !r.End.IsZero() && day.After(calendarDay(r.End)) {
		return false
	}
	return true
}

// calendarDay keeps the year, month and day of t as seen in its own location.
func calendarDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Posting pairs a journal line with the entry that carries it.
type Posting struct {
	Entry accounting.JournalEntry
	Line  accounting.JournalLine
}

// PostingsOf flattens entries into postings, preserving line order.
func PostingsOf(entries []accounting.JournalEntry) []Posting {
	total := 0
	for _, entry := range entries {
		total += len(entry.Lines)
	}
	out := make([]Posting, 0, total)
	for _, entry := range entries {
		for _, line := range entry.Lines {
			out = append(out, Posting{Entry: entry, Line: line})
		}
	}
	return out
}

// Movement is one line of an account ledger.
type Movement struct {
	Date           time.Time         `json:"date"`
	EntryID        string            `json:"entry_id"`
	Sequence       int64             `json:"sequence"`
	Reference      string            `json:"reference,omitempty"`
	Label          string            `json:"label"`
	ThirdParty     string            `json:"third_party,omitempty"`
	AnalyticalCode string            `json:"analytical_code,omitempty"`
	Debit          accounting.Amount `json:"debit"`
	Credit         accounting.Amount `json:"credit"`
	RunningBalance accounting.Amount `json:"running_balance"`
}

// AccountLedger is the chronological record of one account.
type AccountLedger struct {
	AccountCode    string            `json:"account_code"`
	Label          string            `json:"label"`
	OpeningBalance accounting.Amount `json:"opening_balance"`
	TotalDebit     accounting.Amount `json:"total_debit"`
	TotalCredit    accounting.Amount `json:"total_credit"`
	ClosingBalance accounting.Amount `json:"closing_balance"`
	Movements      []Movement        `json:"movements"`
}

// Book is an ordered set of account ledgers keyed by account code.
type Book struct {
	codes    []string
	accounts map[string]*AccountLedger
}

func newBook(capacity int) *Book {
	return &Book{
		codes:    make([]string, 0, capacity),
		accounts: make(map[string]*AccountLedger, capacity),
	}
}

// BookOf builds a book from ledgers, keeping their order. Later duplicates win.
func BookOf(ledgers []AccountLedger) *Book {
	book := newBook(len(ledgers))
	for i := range ledgers {
		book.put(ledgers[i])
	}
	return book
}

func (b *Book) put(l AccountLedger) {
	if _, ok := b.accounts[l.AccountCode]; !ok {
		b.codes = append(b.codes, l.AccountCode)
	}
	b.accounts[l.AccountCode] = &l
}

// Len returns the number of accounts.
func (b *Book) Len() int {
	if b == nil {
		return 0
	}
	return len(b.codes)
}

// Codes returns account codes in book order.
func (b *Book) Codes() []string {
	if b == nil {
		return nil
	}
	return append([]string(nil), b.codes...)
}

// Get returns the ledger for code.
func (b *Book) Get(code string) (AccountLedger, bool) {
	if b == nil {
		return AccountLedger{}, false
	}
	l, ok := b.accounts[code]
	if !ok {
		return AccountLedger{}, false
	}
	return *l, true
}

// Ledgers returns the ledgers in book order.
func (b *Book) Ledgers() []AccountLedger {
	if b == nil {
		return nil
	}
	out := make([]AccountLedger, 0, len(b.codes))
	for _, code := range b.codes {
		out = append(out, *b.accounts[code])
	}
	return out
}

// Closing returns the closing balance of every account.
func (b *Book) Closing() Balances {
	out := make(Balances, b.Len())
	if b == nil {
		return out
	}
	for code, l := range b.accounts {
		out[code] = l.ClosingBalance
	}
	return out
}

func (b *Book) sortByCode() {
	sort.Strings(b.codes)
}

// MarshalJSON renders the book as an array in book order.
func (b *Book) MarshalJSON() ([]byte, error) {
	ledgers := b.Ledgers()
	if ledgers == nil {
		ledgers = []AccountLedger{}
	}
	return json.Marshal(ledgers)
}

// UnmarshalJSON rebuilds the book from an array of ledgers.
func (b *Book) UnmarshalJSON(data []byte) error {
	var ledgers []AccountLedger
	if err := json.Unmarshal(data, &ledgers); err != nil {
		return err
	}
	*b = *BookOf(ledgers)
	return nil
}

// WarningKind classifies non-fatal aggregation diagnostics.
type WarningKind string

const (
	WarningOpeningAccountUnknown WarningKind = "OPENING_ACCOUNT_UNKNOWN"
	WarningUnlabelledAccount     WarningKind = "UNLABELLED_ACCOUNT"
)

// Warning flags a ledger that was built but deserves attention.
type Warning struct {
	Kind        WarningKind       `json:"kind"`
	AccountCode string            `json:"account_code"`
	Amount      accounting.Amount `json:"amount,omitempty"`
}

// Request describes a single aggregation run.
type Request struct {
	Postings   []Posting
	Range      DateRange
	Opening    Balances
	Chart      *accounting.Chart
	SortByCode bool
}

// Result carries the aggregated book and its diagnostics.
type Result struct {
	Book     *Book     `json:"ledgers"`
	Warnings []Warning `json:"warnings"`
}
