package reconcile

import (
	"context"

	"github.com/dvloznov/settlement-reconciler/internal/domain"
)

// TransactionStore persists transactions.
type TransactionStore interface {
	ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error)
	// WriteTransactions inserts new transactions. Ids must not exist yet.
	WriteTransactions(ctx context.Context, txs []domain.Transaction) error
	// UpdateTransactionState sets state on ids and, when group is not
	// empty, their reconciliation group.
	UpdateTransactionState(ctx context.Context, ids []string, state domain.SettlementState, group string) error
}

// EntryStore persists settlement entries.
type EntryStore interface {
	ListSettlementEntries(ctx context.Context, filter domain.EntryFilter) ([]domain.SettlementEntry, error)
	MarkEntriesConsumed(ctx context.Context, ids []string) error
}

// Store is everything the committer and the engine need.
type Store interface {
	TransactionStore
	EntryStore
}

// Transactor is implemented by stores that can run several writes
// atomically. fn receives a Store bound to the transaction.
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}

// RuleSource provides read-only contract percentage rules.
type RuleSource interface {
	ListContractRules(ctx context.Context, contractIDs, entryIDs []string) ([]domain.ContractPercentageRule, error)
}
