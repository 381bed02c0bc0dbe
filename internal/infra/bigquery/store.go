// Package bigquery is the warehouse-backed ledger store.
package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"

	"github.com/dvloznov/settlement-reconciler/internal/domain"
	"github.com/dvloznov/settlement-reconciler/internal/reconcile"
)

// Store is the BigQuery implementation of the ledger interfaces. It holds a
// shared client so operations do not open a connection each.
//
// Store does not implement reconcile.Transactor; the committer's resumable
// write order covers it.
type Store struct {
	client *bigquery.Client
	cfg    Config
}

// NewStore creates a Store with its own client.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("NewStore: project id is required")
	}
	client, err := bigquery.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("NewStore: creating client: %w", err)
	}
	return &Store{client: client, cfg: cfg}, nil
}

// Close closes the BigQuery client connection.
func (s *Store) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// ListTransactions delegates to ListTransactionsWithClient.
func (s *Store) ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	return ListTransactionsWithClient(ctx, s.client, s.cfg, filter)
}

// WriteTransactions delegates to InsertTransactionsWithClient.
func (s *Store) WriteTransactions(ctx context.Context, txs []domain.Transaction) error {
	return InsertTransactionsWithClient(ctx, s.client, s.cfg, txs)
}

// UpdateTransactionState delegates to UpdateTransactionStateWithClient.
func (s *Store) UpdateTransactionState(ctx context.Context, ids []string, state domain.SettlementState, group string) error {
	return UpdateTransactionStateWithClient(ctx, s.client, s.cfg, ids, state, group)
}

// ListSettlementEntries delegates to ListSettlementEntriesWithClient.
func (s *Store) ListSettlementEntries(ctx context.Context, filter domain.EntryFilter) ([]domain.SettlementEntry, error) {
	return ListSettlementEntriesWithClient(ctx, s.client, s.cfg, filter)
}

// WriteSettlementEntries delegates to InsertSettlementEntriesWithClient.
func (s *Store) WriteSettlementEntries(ctx context.Context, entries []domain.SettlementEntry) error {
	return InsertSettlementEntriesWithClient(ctx, s.client, s.cfg, entries)
}

// MarkEntriesConsumed delegates to MarkEntriesConsumedWithClient.
func (s *Store) MarkEntriesConsumed(ctx context.Context, ids []string) error {
	return MarkEntriesConsumedWithClient(ctx, s.client, s.cfg, ids)
}

// ReplaceContractRules delegates to ReplaceContractRulesWithClient.
func (s *Store) ReplaceContractRules(ctx context.Context, rules []domain.ContractPercentageRule) error {
	return ReplaceContractRulesWithClient(ctx, s.client, s.cfg, rules)
}

// ListContractRules delegates to ListContractRulesWithClient.
func (s *Store) ListContractRules(ctx context.Context, contractIDs, entryIDs []string) ([]domain.ContractPercentageRule, error) {
	return ListContractRulesWithClient(ctx, s.client, s.cfg, contractIDs, entryIDs)
}

// ListActiveAccounts delegates to ListActiveAccountsWithClient.
func (s *Store) ListActiveAccounts(ctx context.Context) ([]domain.ChartAccount, error) {
	return ListActiveAccountsWithClient(ctx, s.client, s.cfg)
}

// Ensure Store implements the ledger interfaces.
var (
	_ reconcile.Store      = (*Store)(nil)
	_ reconcile.RuleSource = (*Store)(nil)
)
