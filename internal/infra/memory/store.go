// Package memory is an in-memory ledger store. It backs tests, the CLI's
// dry runs and single-instance deployments that do not need durability.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dvloznov/settlement-reconciler/internal/domain"
	"github.com/dvloznov/settlement-reconciler/internal/reconcile"
)

// Store keeps transactions, settlement entries, contract rules and the chart
// of accounts in maps. It is safe for concurrent use. Data is lost on
// restart.
type Store struct {
	mu       sync.RWMutex
	txs      map[string]domain.Transaction
	entries  map[string]domain.SettlementEntry
	rules    []domain.ContractPercentageRule
	accounts []domain.ChartAccount

	txMu sync.Mutex // serializes WithinTransaction
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		txs:     make(map[string]domain.Transaction),
		entries: make(map[string]domain.SettlementEntry),
	}
}

// ListTransactions returns the transactions matching filter ordered by date
// then id.
func (s *Store) ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Transaction
	if len(filter.IDs) > 0 {
		for _, id := range filter.IDs {
			if tx, ok := s.txs[id]; ok && filter.Matches(tx) {
				out = append(out, copyTransaction(tx))
			}
		}
	} else {
		for _, tx := range s.txs {
			if filter.Matches(tx) {
				out = append(out, copyTransaction(tx))
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// WriteTransactions inserts txs. Nothing is written when any id exists.
func (s *Store) WriteTransactions(ctx context.Context, txs []domain.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(txs))
	for _, tx := range txs {
		if tx.ID == "" {
			return fmt.Errorf("WriteTransactions: transaction ID is required")
		}
		if _, exists := s.txs[tx.ID]; exists || seen[tx.ID] {
			return fmt.Errorf("WriteTransactions: duplicate transaction id %s", tx.ID)
		}
		seen[tx.ID] = true
	}
	for _, tx := range txs {
		s.txs[tx.ID] = copyTransaction(tx)
	}
	return nil
}

// UpdateTransactionState sets the state, and the group when not empty.
func (s *Store) UpdateTransactionState(ctx context.Context, ids []string, state domain.SettlementState, group string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !state.Valid() {
		return fmt.Errorf("UpdateTransactionState: invalid state %q", state)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		if _, ok := s.txs[id]; !ok {
			return fmt.Errorf("UpdateTransactionState: transaction not found: %s", id)
		}
	}
	for _, id := range ids {
		tx := s.txs[id]
		tx.SettlementState = state
		if group != "" {
			g := group
			tx.ReconciliationGroup = &g
		}
		s.txs[id] = tx
	}
	return nil
}

// ListSettlementEntries returns the entries matching filter ordered by date
// then id.
func (s *Store) ListSettlementEntries(ctx context.Context, filter domain.EntryFilter) ([]domain.SettlementEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.SettlementEntry
	for _, e := range s.entries {
		if filter.Matches(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// WriteSettlementEntries inserts entries. Nothing is written when any id
// exists.
func (s *Store) WriteSettlementEntries(ctx context.Context, entries []domain.SettlementEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range entries {
		if _, exists := s.entries[e.ID]; exists {
			return fmt.Errorf("WriteSettlementEntries: duplicate entry id %s", e.ID)
		}
	}
	for _, e := range entries {
		s.entries[e.ID] = e
	}
	return nil
}

// MarkEntriesConsumed flags ids as consumed.
func (s *Store) MarkEntriesConsumed(ctx context.Context, ids []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		if _, ok := s.entries[id]; !ok {
			return fmt.Errorf("MarkEntriesConsumed: entry not found: %s", id)
		}
	}
	for _, id := range ids {
		e := s.entries[id]
		e.Consumed = true
		s.entries[id] = e
	}
	return nil
}

// ReplaceContractRules swaps the whole rule set.
func (s *Store) ReplaceContractRules(ctx context.Context, rules []domain.ContractPercentageRule) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append([]domain.ContractPercentageRule(nil), rules...)
	return nil
}

// ListContractRules returns the rules bound to any of contractIDs or
// entryIDs.
func (s *Store) ListContractRules(ctx context.Context, contractIDs, entryIDs []string) ([]domain.ContractPercentageRule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := make(map[string]bool, len(contractIDs)+len(entryIDs))
	for _, id := range contractIDs {
		want["c:"+id] = true
	}
	for _, id := range entryIDs {
		want["e:"+id] = true
	}

	var out []domain.ContractPercentageRule
	for _, r := range s.rules {
		if (r.ContractID != "" && want["c:"+r.ContractID]) || (r.SettlementEntryID != "" && want["e:"+r.SettlementEntryID]) {
			out = append(out, r)
		}
	}
	return out, nil
}

// ReplaceAccounts swaps the chart of accounts.
func (s *Store) ReplaceAccounts(ctx context.Context, accounts []domain.ChartAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts = append([]domain.ChartAccount(nil), accounts...)
	return nil
}

// ListActiveAccounts returns the active accounts.
func (s *Store) ListActiveAccounts(ctx context.Context) ([]domain.ChartAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.ChartAccount
	for _, a := range s.accounts {
		if a.Active {
			out = append(out, a)
		}
	}
	return out, nil
}

// WithinTransaction runs fn and rolls every ledger change back when fn
// fails. Transactions are serialized with each other, not with plain calls.
func (s *Store) WithinTransaction(ctx context.Context, fn func(ctx context.Context, tx reconcile.Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	txs := make(map[string]domain.Transaction, len(s.txs))
	for k, v := range s.txs {
		txs[k] = v
	}
	entries := make(map[string]domain.SettlementEntry, len(s.entries))
	for k, v := range s.entries {
		entries[k] = v
	}
	s.mu.RUnlock()

	if err := fn(ctx, s); err != nil {
		s.mu.Lock()
		s.txs = txs
		s.entries = entries
		s.mu.Unlock()
		return err
	}
	return nil
}

// copyTransaction detaches the pointer fields from the stored value.
func copyTransaction(tx domain.Transaction) domain.Transaction {
	if tx.Classification != nil {
		c := *tx.Classification
		tx.Classification = &c
	}
	if tx.ReconciliationGroup != nil {
		g := *tx.ReconciliationGroup
		tx.ReconciliationGroup = &g
	}
	if tx.ReconciliationMetadata != nil {
		m := *tx.ReconciliationMetadata
		m.ParentIDs = append([]string(nil), m.ParentIDs...)
		tx.ReconciliationMetadata = &m
	}
	return tx
}

// Ensure Store implements the ledger interfaces.
var (
	_ reconcile.Store      = (*Store)(nil)
	_ reconcile.Transactor = (*Store)(nil)
	_ reconcile.RuleSource = (*Store)(nil)
)
