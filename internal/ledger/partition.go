package ledger

import (
	"hash/fnv"
	"strings"

	"golang.org/x/sync/errgroup"
)

// AggregatePartitioned shards postings by account code and aggregates every
// shard concurrently. Accounts never span shards, so the merge is a plain key
// union; the result is identical to Aggregate for the same request.
func AggregatePartitioned(req Request, shards int) Result {
	if shards <= 1 {
		return Aggregate(req)
	}
	order := firstSeen(req)

	postings := make([][]Posting, shards)
	for _, p := range req.Postings {
		idx := shardOf(strings.TrimSpace(p.Line.AccountCode), shards)
		postings[idx] = append(postings[idx], p)
	}
	orders := make([][]string, shards)
	for _, code := range order {
		idx := shardOf(code, shards)
		orders[idx] = append(orders[idx], code)
	}

	books := make([]*Book, shards)
	var g errgroup.Group
	for i := 0; i < shards; i++ {
		if len(orders[i]) == 0 {
			continue
		}
		g.Go(func() error {
			books[i] = buildBook(orders[i], postings[i], req)
			return nil
		})
	}
	_ = g.Wait()

	book := mergeBooks(order, books)
	if req.SortByCode {
		book.sortByCode()
	}
	return Result{Book: book, Warnings: collectWarnings(book, req)}
}

func mergeBooks(order []string, shards []*Book) *Book {
	union := make(map[string]*AccountLedger, len(order))
	for _, shard := range shards {
		if shard == nil {
			continue
		}
		for code, l := range shard.accounts {
			union[code] = l
		}
	}
	book := newBook(len(order))
	for _, code := range order {
		book.codes = append(book.codes, code)
		book.accounts[code] = union[code]
	}
	return book
}

func shardOf(code string, shards int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(code))
	return int(h.Sum32() % uint32(shards))
}
