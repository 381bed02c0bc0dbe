package domain

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

func date(y int, m int, d int) civil.Date {
	return civil.Date{Year: y, Month: time.Month(m), Day: d}
}

func TestBalance_ExcludesReconciledParents(t *testing.T) {
	txs := []Transaction{
		{ID: "parent", Amount: decimal.NewFromInt(500), SettlementState: StateReconciled},
		{ID: "child-1", Amount: decimal.NewFromInt(150), SettlementState: StateClassified,
			ReconciliationMetadata: &ReconciliationMetadata{ParentIDs: []string{"parent"}}},
		{ID: "child-2", Amount: decimal.NewFromInt(350), SettlementState: StateClassified,
			ReconciliationMetadata: &ReconciliationMetadata{ParentIDs: []string{"parent"}}},
		{ID: "pending", Amount: decimal.NewFromInt(99), SettlementState: StatePending},
	}

	got := Balance(txs)
	if !got.Equal(decimal.NewFromInt(500)) {
		t.Errorf("Balance() = %s, want 500", got)
	}
	if !txs[1].IsReconciliationChild() || txs[0].IsReconciliationChild() {
		t.Error("IsReconciliationChild() misreports parent/child")
	}
}

func TestTransactionFilter_Matches(t *testing.T) {
	tx := Transaction{ID: "a", Date: date(2025, 7, 10), Source: "inter", SettlementState: StatePending}

	tests := []struct {
		name   string
		filter TransactionFilter
		want   bool
	}{
		{"empty filter", TransactionFilter{}, true},
		{"id hit", TransactionFilter{IDs: []string{"x", "a"}}, true},
		{"id miss", TransactionFilter{IDs: []string{"x"}}, false},
		{"inside range", TransactionFilter{From: date(2025, 7, 10), To: date(2025, 7, 10)}, true},
		{"before range", TransactionFilter{From: date(2025, 7, 11)}, false},
		{"after range", TransactionFilter{To: date(2025, 7, 9)}, false},
		{"state hit", TransactionFilter{States: []SettlementState{StateClassified, StatePending}}, true},
		{"state miss", TransactionFilter{States: []SettlementState{StateReconciled}}, false},
		{"source miss", TransactionFilter{Source: "nubank"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Matches(tx); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEntryFilter_ExcludesConsumedByDefault(t *testing.T) {
	e := SettlementEntry{ID: "e1", Date: date(2025, 7, 1), Consumed: true}
	if (EntryFilter{}).Matches(e) {
		t.Error("consumed entry matched default filter")
	}
	if !(EntryFilter{IncludeConsumed: true}).Matches(e) {
		t.Error("consumed entry not matched with IncludeConsumed")
	}
}

func TestRuleIndex_PrefersEntryRule(t *testing.T) {
	contract := "IND-1"
	rules := []ContractPercentageRule{
		{ContractID: "IND-1", CatalogPercent: decimal.NewFromInt(30), PlansPercent: decimal.NewFromInt(70)},
		{SettlementEntryID: "e1", CatalogPercent: decimal.NewFromInt(50), PlansPercent: decimal.NewFromInt(50)},
	}
	idx := NewRuleIndex(rules)

	r := idx.For(SettlementEntry{ID: "e1", ContractID: &contract})
	if r == nil || !r.CatalogPercent.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("For(e1) = %+v, want the entry-bound 50/50 rule", r)
	}
	r = idx.For(SettlementEntry{ID: "e2", ContractID: &contract})
	if r == nil || !r.CatalogPercent.Equal(decimal.NewFromInt(30)) {
		t.Fatalf("For(e2) = %+v, want the contract 30/70 rule", r)
	}
	if idx.For(SettlementEntry{ID: "e3"}) != nil {
		t.Error("For(e3) should be nil")
	}
}

func TestPersistence_WrapsOnce(t *testing.T) {
	base := context.DeadlineExceeded
	err := Persistence("WriteTransactions", base)
	if !errors.Is(err, ErrPersistence) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Persistence() = %v, want ErrPersistence wrapping deadline", err)
	}
	again := Persistence("Commit", err)
	var pe *PersistenceError
	if !errors.As(again, &pe) || pe.Op != "WriteTransactions" {
		t.Errorf("Persistence() re-wrapped an existing PersistenceError: %v", again)
	}
	if Persistence("noop", nil) != nil {
		t.Error("Persistence(nil) should be nil")
	}
}

func TestMetadata_Blob(t *testing.T) {
	m := &ReconciliationMetadata{
		Type:              TypeInterPag,
		Group:             "g1",
		ParentIDs:         []string{"p1", "p2"},
		SettlementEntryID: "e1",
		SplitType:         SplitCatalog,
		Percentage:        decimal.NewFromInt(30),
	}
	raw, err := MarshalMetadata(m)
	if err != nil {
		t.Fatalf("MarshalMetadata: %v", err)
	}
	back, err := UnmarshalMetadata(raw)
	if err != nil {
		t.Fatalf("UnmarshalMetadata: %v", err)
	}
	if back.Group != "g1" || len(back.ParentIDs) != 2 || !back.Percentage.Equal(decimal.NewFromInt(30)) {
		t.Errorf("round trip lost fields: %+v", back)
	}
	if got, _ := UnmarshalMetadata(""); got != nil {
		t.Error("empty blob should decode to nil")
	}
}
