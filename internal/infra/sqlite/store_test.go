package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/settlement-reconciler/internal/domain"
	"github.com/dvloznov/settlement-reconciler/internal/reconcile"
)

var (
	july8  = civil.Date{Year: 2025, Month: 7, Day: 8}
	july10 = civil.Date{Year: 2025, Month: 7, Day: 10}
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func strptr(s string) *string { return &s }

func TestStore_TransactionRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	committed := time.Date(2025, 7, 11, 9, 0, 0, 0, time.UTC)
	child := domain.Transaction{
		ID:              "child-1",
		Date:            july10,
		Amount:          decimal.RequireFromString("-150.05"),
		Source:          "inter",
		Account:         "inter-pj",
		Classification:  strptr("revenue:individual:catalog"),
		SettlementState: domain.StateClassified,
		ReconciliationMetadata: &domain.ReconciliationMetadata{
			Type:              domain.TypePixInter,
			Group:             "g1",
			ParentIDs:         []string{"tx1"},
			SettlementEntryID: "sale",
			SplitType:         domain.SplitCatalog,
			Percentage:        decimal.NewFromInt(30),
			CommittedAt:       committed,
		},
	}
	if err := s.WriteTransactions(ctx, []domain.Transaction{child}); err != nil {
		t.Fatal(err)
	}

	got, err := s.ListTransactions(ctx, domain.TransactionFilter{IDs: []string{"child-1"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("ListTransactions() returned %d rows", len(got))
	}
	tx := got[0]
	if !tx.Amount.Equal(child.Amount) || tx.Date != july10 || *tx.Classification != "revenue:individual:catalog" {
		t.Errorf("round trip = %+v", tx)
	}
	m := tx.ReconciliationMetadata
	if m == nil || m.Group != "g1" || m.SplitType != domain.SplitCatalog || !m.Percentage.Equal(decimal.NewFromInt(30)) || !m.CommittedAt.Equal(committed) {
		t.Errorf("metadata = %+v", m)
	}
}

func TestStore_TransactionFilters(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	_ = s.WriteTransactions(ctx, []domain.Transaction{
		{ID: "a", Date: july8, Amount: decimal.NewFromInt(1), Source: "inter", SettlementState: domain.StatePending},
		{ID: "b", Date: july10, Amount: decimal.NewFromInt(2), Source: "inter", SettlementState: domain.StateReconciled},
		{ID: "c", Date: july10, Amount: decimal.NewFromInt(3), Source: "ton"},
	})

	tests := []struct {
		name   string
		filter domain.TransactionFilter
		want   []string
	}{
		{"all ordered by date", domain.TransactionFilter{}, []string{"a", "b", "c"}},
		{"from", domain.TransactionFilter{From: july10}, []string{"b", "c"}},
		{"to", domain.TransactionFilter{To: july8}, []string{"a"}},
		{"state", domain.TransactionFilter{States: []domain.SettlementState{domain.StatePending}}, []string{"a", "c"}},
		{"source", domain.TransactionFilter{Source: "ton"}, []string{"c"}},
		{"ids", domain.TransactionFilter{IDs: []string{"c", "a"}}, []string{"a", "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListTransactions(ctx, tt.filter)
			if err != nil {
				t.Fatal(err)
			}
			var ids []string
			for _, tx := range got {
				ids = append(ids, tx.ID)
			}
			if len(ids) != len(tt.want) {
				t.Fatalf("ids = %v, want %v", ids, tt.want)
			}
			for i := range ids {
				if ids[i] != tt.want[i] {
					t.Errorf("ids = %v, want %v", ids, tt.want)
					break
				}
			}
		})
	}
}

func TestStore_WriteRejectsExistingIDs(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	_ = s.WriteTransactions(ctx, []domain.Transaction{{ID: "a", Date: july8}})

	if err := s.WriteTransactions(ctx, []domain.Transaction{{ID: "b", Date: july8}, {ID: "a", Date: july8}}); err == nil {
		t.Fatal("existing id accepted")
	}
	if got, _ := s.ListTransactions(ctx, domain.TransactionFilter{}); len(got) != 1 {
		t.Errorf("partial write happened: %d rows", len(got))
	}
}

func TestStore_UpdateStateIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	_ = s.WriteTransactions(ctx, []domain.Transaction{{ID: "a", Date: july8, SettlementState: domain.StatePending}})

	if err := s.UpdateTransactionState(ctx, []string{"a", "ghost"}, domain.StateReconciled, "g1"); err == nil {
		t.Fatal("update with unknown id succeeded")
	}
	got, _ := s.ListTransactions(ctx, domain.TransactionFilter{IDs: []string{"a"}})
	if got[0].SettlementState != domain.StatePending || got[0].ReconciliationGroup != nil {
		t.Errorf("failed update left changes: %+v", got[0])
	}

	if err := s.UpdateTransactionState(ctx, []string{"a", "a"}, domain.StateReconciled, "g1"); err != nil {
		t.Fatal(err)
	}
	got, _ = s.ListTransactions(ctx, domain.TransactionFilter{IDs: []string{"a"}})
	if got[0].SettlementState != domain.StateReconciled || *got[0].ReconciliationGroup != "g1" {
		t.Errorf("transaction = %+v", got[0])
	}
}

func TestStore_Entries(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	if err := s.WriteSettlementEntries(ctx, []domain.SettlementEntry{
		{ID: "sale", Date: july8, Value: decimal.RequireFromString("520.00"), Type: "venda", ContractID: strptr("IND-1")},
		{ID: "cost", Date: july10, Value: decimal.RequireFromString("-20"), Type: "tarifa"},
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkEntriesConsumed(ctx, []string{"cost"}); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkEntriesConsumed(ctx, []string{"nope"}); err == nil {
		t.Error("consuming unknown entry succeeded")
	}

	open, _ := s.ListSettlementEntries(ctx, domain.EntryFilter{})
	if len(open) != 1 || open[0].ID != "sale" || open[0].ContractIDOrEmpty() != "IND-1" {
		t.Errorf("open entries = %+v", open)
	}
	all, _ := s.ListSettlementEntries(ctx, domain.EntryFilter{IncludeConsumed: true, From: july10})
	if len(all) != 1 || !all[0].Consumed {
		t.Errorf("consumed listing = %+v", all)
	}
}

func TestStore_RulesAndAccounts(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_ = s.ReplaceContractRules(ctx, []domain.ContractPercentageRule{{ContractID: "OLD"}})
	if err := s.ReplaceContractRules(ctx, []domain.ContractPercentageRule{
		{ContractID: "IND-1", CatalogPercent: decimal.NewFromInt(30), PlansPercent: decimal.NewFromInt(70)},
		{SettlementEntryID: "e9", CatalogPercent: decimal.NewFromInt(100)},
	}); err != nil {
		t.Fatal(err)
	}
	rules, err := s.ListContractRules(ctx, []string{"IND-1", "OLD"}, []string{"e9"})
	if err != nil {
		t.Fatal(err)
	}
	if len(rules) != 2 || !rules[0].PlansPercent.Equal(decimal.NewFromInt(70)) {
		t.Errorf("rules = %+v", rules)
	}

	_ = s.ReplaceAccounts(ctx, []domain.ChartAccount{
		{ID: "revenue", Depth: 1, Active: true},
		{ID: "revenue:cremacao", ParentID: "revenue", Depth: 2, Active: true},
		{ID: "revenue:legacy", ParentID: "revenue", Depth: 2, Active: false},
	})
	accounts, _ := s.ListActiveAccounts(ctx)
	leaves := domain.Leaves(accounts)
	if len(accounts) != 2 || !leaves["revenue:cremacao"] || leaves["revenue"] {
		t.Errorf("accounts = %+v, leaves = %v", accounts, leaves)
	}
}

func TestStore_WithinTransactionRollsBack(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	_ = s.WriteSettlementEntries(ctx, []domain.SettlementEntry{{ID: "e", Date: july10}})

	boom := errors.New("boom")
	err := s.WithinTransaction(ctx, func(ctx context.Context, tx reconcile.Store) error {
		if err := tx.WriteTransactions(ctx, []domain.Transaction{{ID: "child", Date: july10}}); err != nil {
			return err
		}
		if err := tx.MarkEntriesConsumed(ctx, []string{"e"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if txs, _ := s.ListTransactions(ctx, domain.TransactionFilter{}); len(txs) != 0 {
		t.Errorf("rolled back write still visible: %+v", txs)
	}
	if open, _ := s.ListSettlementEntries(ctx, domain.EntryFilter{}); len(open) != 1 {
		t.Error("rolled back consumption still visible")
	}
}
