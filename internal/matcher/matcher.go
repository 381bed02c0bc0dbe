// Package matcher groups transactions and settlement entries into day
// buckets for manual matching.
package matcher

import (
	"sort"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/settlement-reconciler/internal/domain"
)

// DayBucket holds the transactions booked on Date and every unconsumed
// settlement entry dated inside the window ending on Date.
type DayBucket struct {
	Date         civil.Date
	Transactions []domain.Transaction
	Entries      []domain.SettlementEntry
}

// Bucket anchors one bucket per distinct transaction date D and attaches
// the entries dated in [D-windowDays, D], both ends inclusive. Dates with
// entries but no transactions produce no bucket. Consumed entries and
// reconciled transactions are left out. An entry may appear in several
// buckets; once consumed it disappears from all of them.
func Bucket(transactions []domain.Transaction, entries []domain.SettlementEntry, windowDays int) map[civil.Date]DayBucket {
	if windowDays < 0 {
		windowDays = 0
	}

	buckets := make(map[civil.Date]DayBucket)
	for _, tx := range transactions {
		if tx.SettlementState == domain.StateReconciled {
			continue
		}
		b := buckets[tx.Date]
		b.Date = tx.Date
		b.Transactions = append(b.Transactions, tx)
		buckets[tx.Date] = b
	}

	open := make([]domain.SettlementEntry, 0, len(entries))
	for _, e := range entries {
		if !e.Consumed {
			open = append(open, e)
		}
	}
	sort.SliceStable(open, func(i, j int) bool { return open[i].Date.Before(open[j].Date) })

	for date, b := range buckets {
		from := date.AddDays(-windowDays)
		for _, e := range open {
			if e.Date.After(date) {
				break
			}
			if e.Date.Before(from) {
				continue
			}
			b.Entries = append(b.Entries, e)
		}
		buckets[date] = b
	}
	return buckets
}

// Dates returns the bucket dates in ascending order.
func Dates(buckets map[civil.Date]DayBucket) []civil.Date {
	out := make([]civil.Date, 0, len(buckets))
	for d := range buckets {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// Window returns the inclusive entry date range of the bucket anchored on
// date. Stores use it to load only the entries a bucket can show.
func Window(date civil.Date, windowDays int) (from, to civil.Date) {
	if windowDays < 0 {
		windowDays = 0
	}
	return date.AddDays(-windowDays), date
}
