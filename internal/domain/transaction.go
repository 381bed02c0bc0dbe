package domain

import (
	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// SettlementState tracks where a transaction sits in the classification and
// reconciliation lifecycle.
type SettlementState string

const (
	// StatePending is the state of a freshly imported transaction.
	StatePending SettlementState = "pending"
	// StateClassified marks a transaction with a leaf classification. Children
	// created by a reconciliation are born classified.
	StateClassified SettlementState = "classified"
	// StateReconciled marks a transaction that was the source of a
	// reconciliation. Only its children count toward the balance.
	StateReconciled SettlementState = "reconciled"
)

// Valid reports whether s is one of the known states.
func (s SettlementState) Valid() bool {
	switch s {
	case StatePending, StateClassified, StateReconciled:
		return true
	}
	return false
}

// Transaction represents a single bank or card movement, or a child produced
// by a reconciliation.
type Transaction struct {
	ID                string          `json:"id"`                 // deterministic, see internal/identity
	Date              civil.Date      `json:"date"`               // booking date
	Amount            decimal.Decimal `json:"amount"`             // IN = positive, OUT = negative
	OriginDescription string          `json:"origin_description"` // description as printed on the statement
	Source            string          `json:"source"`             // bank or card identifier
	Account           string          `json:"account"`            // ledger account reference

	Classification *string `json:"classification,omitempty"` // leaf of the chart of accounts, nil when unclassified

	SettlementState        SettlementState         `json:"settlement_state"`
	ReconciliationGroup    *string                 `json:"reconciliation_group,omitempty"`
	ReconciliationMetadata *ReconciliationMetadata `json:"reconciliation_metadata,omitempty"`
}

// CountsTowardBalance reports whether the transaction contributes to the
// user's balance. Reconciliation children are classified, parents are
// reconciled and never count.
func (t Transaction) CountsTowardBalance() bool {
	return t.SettlementState == StateClassified
}

// IsReconciliationChild reports whether the transaction was generated by a
// committed reconciliation.
func (t Transaction) IsReconciliationChild() bool {
	return t.ReconciliationMetadata != nil
}

// Balance sums the amounts of the transactions that count toward the balance.
func Balance(txs []Transaction) decimal.Decimal {
	total := decimal.Zero
	for _, tx := range txs {
		if tx.CountsTowardBalance() {
			total = total.Add(tx.Amount)
		}
	}
	return total
}

// TransactionFilter narrows ListTransactions. Zero values mean "no constraint".
type TransactionFilter struct {
	IDs    []string
	From   civil.Date
	To     civil.Date
	States []SettlementState
	Source string
}

// Matches reports whether tx satisfies the filter. Stores without a query
// language use it directly.
func (f TransactionFilter) Matches(tx Transaction) bool {
	if len(f.IDs) > 0 && !containsString(f.IDs, tx.ID) {
		return false
	}
	if f.From.IsValid() && tx.Date.Before(f.From) {
		return false
	}
	if f.To.IsValid() && tx.Date.After(f.To) {
		return false
	}
	if len(f.States) > 0 {
		found := false
		for _, s := range f.States {
			if s == tx.SettlementState {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Source != "" && f.Source != tx.Source {
		return false
	}
	return true
}

func containsString(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
