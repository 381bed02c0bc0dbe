package session

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/settlement-reconciler/internal/domain"
	"github.com/dvloznov/settlement-reconciler/internal/split"
)

// Snapshot is a read-only view of a session for rendering.
type Snapshot struct {
	ID       string                    `json:"id"`
	Operator string                    `json:"operator"`
	Flow     domain.ReconciliationType `json:"flow"`
	Date     civil.Date                `json:"date"`
	State    State                     `json:"state"`
	OpenedAt time.Time                 `json:"opened_at"`

	Transactions []TransactionView `json:"transactions"`
	Entries      []EntryView       `json:"entries"`

	TransactionTotal decimal.Decimal `json:"transaction_total"`
	GeneratedTotal   decimal.Decimal `json:"generated_total"`
	Difference       decimal.Decimal `json:"difference"`
	Balanced         bool            `json:"balanced"`

	Preview       []domain.Transaction `json:"preview"`
	DeferredCosts []string             `json:"deferred_costs,omitempty"`
	Issues        []string             `json:"issues,omitempty"`
}

// TransactionView is a candidate transaction and its selection flag.
type TransactionView struct {
	Transaction domain.Transaction `json:"transaction"`
	Selected    bool               `json:"selected"`
}

// EntryView is a candidate entry with its selection and availability.
type EntryView struct {
	Entry     domain.SettlementEntry `json:"entry"`
	Selected  bool                   `json:"selected"`
	Available bool                   `json:"available"`
	Cost      bool                   `json:"cost"`
}

// SelectedTransactionIDs returns the ids of the selected transactions.
func (s Snapshot) SelectedTransactionIDs() []string {
	var ids []string
	for _, v := range s.Transactions {
		if v.Selected {
			ids = append(ids, v.Transaction.ID)
		}
	}
	return ids
}

// SelectedEntryIDs returns the ids of the selected entries.
func (s Snapshot) SelectedEntryIDs() []string {
	var ids []string
	for _, v := range s.Entries {
		if v.Selected {
			ids = append(ids, v.Entry.ID)
		}
	}
	return ids
}

func (s *Session) snapshot() Snapshot {
	snap := Snapshot{
		ID:               s.cfg.ID,
		Operator:         s.cfg.Operator,
		Flow:             s.cfg.Flow.Type,
		Date:             s.cfg.Bucket.Date,
		State:            s.state,
		OpenedAt:         s.cfg.OpenedAt,
		TransactionTotal: s.preview.txTotal,
		GeneratedTotal:   s.preview.generated,
		Difference:       s.preview.diff,
		Balanced:         s.preview.balanced,
		Preview:          append([]domain.Transaction(nil), s.preview.children...),
		DeferredCosts:    append([]string(nil), s.preview.deferred...),
	}
	for _, tx := range s.cfg.Bucket.Transactions {
		snap.Transactions = append(snap.Transactions, TransactionView{Transaction: tx, Selected: s.selectedTx[tx.ID]})
	}
	for _, e := range s.cfg.Bucket.Entries {
		snap.Entries = append(snap.Entries, EntryView{
			Entry:     e,
			Selected:  s.selectedEntries[e.ID],
			Available: !s.unavailable[e.ID],
			Cost:      split.IsCost(e),
		})
	}
	for _, err := range s.preview.issues {
		snap.Issues = append(snap.Issues, err.Error())
	}
	return snap
}
