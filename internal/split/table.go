package split

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/dvloznov/settlement-reconciler/internal/domain"
)

// Key selects a classification for a generated share.
type Key struct {
	Debit      bool // the parent transactions are outgoing
	Individual bool // the contract carries the individual marker
	Catalog    bool // catalog share (false: plans share)
}

// ClassificationTable maps share attributes to chart-of-accounts leaves.
type ClassificationTable struct {
	Shares map[Key]string
	Cost   string // classification of cost children
}

// DefaultClassificationTable returns the built-in mapping.
func DefaultClassificationTable() ClassificationTable {
	return ClassificationTable{
		Shares: map[Key]string{
			{Debit: false, Individual: true, Catalog: true}:   "revenue:individual:catalog",
			{Debit: false, Individual: true, Catalog: false}:  "revenue:individual:plan",
			{Debit: false, Individual: false, Catalog: true}:  "revenue:corporate:catalog",
			{Debit: false, Individual: false, Catalog: false}: "revenue:corporate:plan",
			{Debit: true, Individual: true, Catalog: true}:    "refund:individual:catalog",
			{Debit: true, Individual: true, Catalog: false}:   "refund:individual:plan",
			{Debit: true, Individual: false, Catalog: true}:   "refund:corporate:catalog",
			{Debit: true, Individual: false, Catalog: false}:  "refund:corporate:plan",
		},
		Cost: "expense:payment-processing",
	}
}

// Lookup returns the classification for k.
func (t ClassificationTable) Lookup(k Key) (string, bool) {
	c, ok := t.Shares[k]
	return c, ok && c != ""
}

// AccountRepository lists the chart of accounts.
type AccountRepository interface {
	ListActiveAccounts(ctx context.Context) ([]domain.ChartAccount, error)
}

// Validate checks that every classification the table (and extra, e.g. flow
// defaults) can produce is an active leaf of the chart of accounts.
func (t ClassificationTable) Validate(ctx context.Context, repo AccountRepository, extra ...string) error {
	accounts, err := repo.ListActiveAccounts(ctx)
	if err != nil {
		return fmt.Errorf("ClassificationTable.Validate: list accounts: %w", err)
	}
	leaves := make(map[string]bool)
	for id := range domain.Leaves(accounts) {
		leaves[normalizeAccount(id)] = true
	}

	want := make([]string, 0, len(t.Shares)+1+len(extra))
	for _, c := range t.Shares {
		want = append(want, c)
	}
	want = append(want, t.Cost)
	want = append(want, extra...)

	var invalid []string
	for _, c := range want {
		if c == "" {
			continue
		}
		if !leaves[normalizeAccount(c)] {
			invalid = append(invalid, c)
		}
	}
	if len(invalid) > 0 {
		sort.Strings(invalid)
		return fmt.Errorf("ClassificationTable.Validate: not active leaf accounts: %v", invalid)
	}
	return nil
}

func normalizeAccount(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
