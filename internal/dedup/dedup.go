// Package dedup filters already-known transactions out of an import batch.
package dedup

import "github.com/dvloznov/settlement-reconciler/internal/domain"

// IDSet is the set of transaction ids already persisted.
type IDSet map[string]struct{}

// NewIDSet builds an IDSet from ids.
func NewIDSet(ids ...string) IDSet {
	set := make(IDSet, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// Has reports whether id is in the set.
func (s IDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Dedupe splits incoming into transactions to add and duplicates, comparing
// ids only. A transaction whose id repeats inside the batch is a duplicate of
// its first occurrence. existing is not modified.
func Dedupe(existing IDSet, incoming []domain.Transaction) (toAdd, duplicates []domain.Transaction) {
	seen := make(IDSet, len(incoming))
	for _, tx := range incoming {
		if existing.Has(tx.ID) || seen.Has(tx.ID) {
			duplicates = append(duplicates, tx)
			continue
		}
		seen[tx.ID] = struct{}{}
		toAdd = append(toAdd, tx)
	}
	return toAdd, duplicates
}

// DedupeEntries applies the same rule to settlement entries, keyed by the
// provider transaction id.
func DedupeEntries(existing IDSet, incoming []domain.SettlementEntry) (toAdd, duplicates []domain.SettlementEntry) {
	seen := make(IDSet, len(incoming))
	for _, e := range incoming {
		if existing.Has(e.ID) || seen.Has(e.ID) {
			duplicates = append(duplicates, e)
			continue
		}
		seen[e.ID] = struct{}{}
		toAdd = append(toAdd, e)
	}
	return toAdd, duplicates
}
