package session

import (
	"errors"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/settlement-reconciler/internal/domain"
	"github.com/dvloznov/settlement-reconciler/internal/matcher"
	"github.com/dvloznov/settlement-reconciler/internal/split"
)

var july10 = civil.Date{Year: 2025, Month: 7, Day: 10}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func strptr(s string) *string { return &s }

// newCostScenario builds a bucket with one 500.00 credit, a -20.00 cost
// entry and a 520.00 entry split 50/50.
func newCostScenario(extra ...domain.SettlementEntry) *Session {
	bucket := matcher.DayBucket{
		Date: july10,
		Transactions: []domain.Transaction{
			{ID: "tx1", Date: july10, Amount: dec("500.00"), Source: "inter", Account: "inter-pj", SettlementState: domain.StatePending},
		},
		Entries: append([]domain.SettlementEntry{
			{ID: "cost", Date: july10, Value: dec("-20.00"), Type: "ajuste", ContractID: strptr("IND-1")},
			{ID: "sale", Date: july10, Value: dec("520.00"), Type: "venda", ContractID: strptr("IND-1")},
		}, extra...),
	}
	rules := domain.NewRuleIndex([]domain.ContractPercentageRule{
		{ContractID: "IND-1", CatalogPercent: dec("50"), PlansPercent: dec("50")},
	})
	return New(Config{
		ID:        "s1",
		Operator:  "ana",
		Flow:      domain.DefaultFlows()[domain.TypeInterPag],
		Bucket:    bucket,
		Rules:     rules,
		Generator: split.NewGenerator(split.DefaultClassificationTable()),
	})
}

func mustToggleTx(t *testing.T, s *Session, id string) Snapshot {
	t.Helper()
	snap, err := s.ToggleTransaction(id)
	if err != nil {
		t.Fatalf("ToggleTransaction(%s): %v", id, err)
	}
	return snap
}

func mustToggleEntry(t *testing.T, s *Session, id string) Snapshot {
	t.Helper()
	snap, err := s.ToggleEntry(id)
	if err != nil {
		t.Fatalf("ToggleEntry(%s): %v", id, err)
	}
	return snap
}

func TestSession_NegativeEntryScenario(t *testing.T) {
	s := newCostScenario()
	if s.State() != StateEmpty {
		t.Fatalf("initial state = %s, want empty", s.State())
	}

	snap := mustToggleTx(t, s, "tx1")
	if snap.State != StateSelecting {
		t.Errorf("after one side, state = %s, want selecting", snap.State)
	}

	snap = mustToggleEntry(t, s, "sale")
	if snap.State != StateUnbalanced {
		t.Errorf("without cost, state = %s, want unbalanced", snap.State)
	}
	if !snap.GeneratedTotal.Equal(dec("520")) || !snap.Difference.Equal(dec("-20")) {
		t.Errorf("without cost: generated %s diff %s, want 520 and -20", snap.GeneratedTotal, snap.Difference)
	}

	snap = mustToggleEntry(t, s, "cost")
	if snap.State != StateBalanced {
		t.Fatalf("with cost, state = %s, want balanced (issues %v)", snap.State, snap.Issues)
	}
	if len(snap.Preview) != 3 {
		t.Fatalf("preview has %d children, want 3", len(snap.Preview))
	}
	want := map[domain.SplitType]string{domain.SplitCatalog: "260", domain.SplitPlans: "260", domain.SplitCost: "-20"}
	for _, c := range snap.Preview {
		w := want[c.ReconciliationMetadata.SplitType]
		if !c.Amount.Equal(dec(w)) {
			t.Errorf("%s child = %s, want %s", c.ReconciliationMetadata.SplitType, c.Amount, w)
		}
	}

	plan, err := s.BeginCommit(false)
	if err != nil {
		t.Fatalf("BeginCommit: %v", err)
	}
	if len(plan.Children) != 3 || len(plan.EntryIDs()) != 2 || plan.Override {
		t.Errorf("plan = %+v", plan)
	}
	if s.State() != StateCommitting {
		t.Errorf("state = %s, want committing", s.State())
	}
}

func TestSession_CostDeferredUntilAllRevenueSelected(t *testing.T) {
	s := newCostScenario(domain.SettlementEntry{ID: "other", Date: july10, Value: dec("10"), Type: "venda", ContractID: strptr("IND-1")})

	mustToggleTx(t, s, "tx1")
	mustToggleEntry(t, s, "sale")
	snap := mustToggleEntry(t, s, "cost")
	if len(snap.DeferredCosts) != 1 || snap.DeferredCosts[0] != "cost" {
		t.Errorf("DeferredCosts = %v, want [cost]", snap.DeferredCosts)
	}
	if !snap.GeneratedTotal.Equal(dec("520")) {
		t.Errorf("generated = %s, want 520 while cost is deferred", snap.GeneratedTotal)
	}

	snap = mustToggleEntry(t, s, "other")
	if len(snap.DeferredCosts) != 0 || !snap.GeneratedTotal.Equal(dec("510")) {
		t.Errorf("all selected: deferred %v generated %s, want none and 510", snap.DeferredCosts, snap.GeneratedTotal)
	}
}

func TestSession_ToggleIsIdempotentPair(t *testing.T) {
	s := newCostScenario()
	mustToggleTx(t, s, "tx1")
	snap := mustToggleTx(t, s, "tx1")
	if snap.State != StateEmpty || len(snap.SelectedTransactionIDs()) != 0 {
		t.Errorf("double toggle left %v in state %s", snap.SelectedTransactionIDs(), snap.State)
	}
}

func TestSession_ToggleErrors(t *testing.T) {
	s := newCostScenario()

	if _, err := s.ToggleTransaction("nope"); !errors.Is(err, domain.ErrUnknownCandidate) {
		t.Errorf("unknown transaction: err = %v", err)
	}
	if _, err := s.ToggleEntry("nope"); !errors.Is(err, domain.ErrUnknownCandidate) {
		t.Errorf("unknown entry: err = %v", err)
	}

	mustToggleEntry(t, s, "sale")
	snap := s.MarkConsumed("sale")
	if len(snap.SelectedEntryIDs()) != 0 {
		t.Errorf("consumed entry still selected: %v", snap.SelectedEntryIDs())
	}
	if _, err := s.ToggleEntry("sale"); !errors.Is(err, domain.ErrAlreadyConsumed) {
		t.Errorf("consumed entry: err = %v, want ErrAlreadyConsumed", err)
	}
}

func TestSession_BeginCommitGuards(t *testing.T) {
	s := newCostScenario()
	if _, err := s.BeginCommit(true); !errors.Is(err, domain.ErrEmptySelection) {
		t.Errorf("empty: err = %v, want ErrEmptySelection", err)
	}

	mustToggleTx(t, s, "tx1")
	mustToggleEntry(t, s, "sale")
	_, err := s.BeginCommit(false)
	var ie *domain.ImbalanceError
	if !errors.As(err, &ie) || !ie.Difference.Equal(dec("-20")) {
		t.Fatalf("unbalanced without override: err = %v", err)
	}
	if s.State() != StateUnbalanced {
		t.Errorf("state after refused commit = %s", s.State())
	}

	plan, err := s.BeginCommit(true)
	if err != nil {
		t.Fatalf("override: %v", err)
	}
	if !plan.Override || plan.Balanced {
		t.Errorf("plan override=%v balanced=%v", plan.Override, plan.Balanced)
	}
	if _, err := s.ToggleEntry("cost"); !errors.Is(err, domain.ErrSessionBusy) {
		t.Errorf("toggle while committing: err = %v, want ErrSessionBusy", err)
	}

	snap := s.AbortCommit()
	if snap.State != StateUnbalanced || len(snap.SelectedEntryIDs()) != 1 {
		t.Errorf("after abort: state %s selections %v", snap.State, snap.SelectedEntryIDs())
	}

	if _, err := s.BeginCommit(true); err != nil {
		t.Fatal(err)
	}
	if snap := s.FinishCommit(); snap.State != StateClosed {
		t.Errorf("after finish: state %s", snap.State)
	}
	if _, err := s.ToggleTransaction("tx1"); !errors.Is(err, domain.ErrSessionClosed) {
		t.Errorf("toggle after close: err = %v", err)
	}
}

func TestSession_RuleIssuesBlockCommit(t *testing.T) {
	s := New(Config{
		ID:   "s2",
		Flow: domain.DefaultFlows()[domain.TypePixInter],
		Bucket: matcher.DayBucket{
			Date:         july10,
			Transactions: []domain.Transaction{{ID: "tx", Date: july10, Amount: dec("100")}},
			Entries:      []domain.SettlementEntry{{ID: "e", Date: july10, Value: dec("100"), Type: "pix", ContractID: strptr("CORP-1")}},
		},
		Rules:     domain.NewRuleIndex(nil),
		Generator: split.NewGenerator(split.DefaultClassificationTable()),
	})

	mustToggleTx(t, s, "tx")
	snap := mustToggleEntry(t, s, "e")
	if len(snap.Issues) != 1 || snap.Balanced {
		t.Fatalf("issues = %v balanced = %v", snap.Issues, snap.Balanced)
	}
	if _, err := s.BeginCommit(true); !errors.Is(err, domain.ErrNoRule) {
		t.Errorf("BeginCommit err = %v, want ErrNoRule even with override", err)
	}
}

func TestSession_CancelClears(t *testing.T) {
	s := newCostScenario()
	mustToggleTx(t, s, "tx1")
	snap := s.Cancel()
	if snap.State != StateClosed || len(snap.SelectedTransactionIDs()) != 0 {
		t.Errorf("after cancel: state %s selected %v", snap.State, snap.SelectedTransactionIDs())
	}
}

func TestSession_ToleranceBoundary(t *testing.T) {
	s := New(Config{
		ID:   "s3",
		Flow: domain.DefaultFlows()[domain.TypeCremacaoCreateNew],
		Bucket: matcher.DayBucket{
			Date:         july10,
			Transactions: []domain.Transaction{{ID: "tx", Date: july10, Amount: dec("100.01")}},
			Entries: []domain.SettlementEntry{
				{ID: "e", Date: july10, Value: dec("100.00"), Type: "servico"},
				{ID: "e2", Date: july10, Value: dec("0.03"), Type: "servico"},
			},
		},
		Generator: split.NewGenerator(split.DefaultClassificationTable()),
	})
	mustToggleTx(t, s, "tx")
	if snap := mustToggleEntry(t, s, "e"); snap.State != StateBalanced {
		t.Errorf("0.01 difference: state %s, want balanced", snap.State)
	}
	if snap := mustToggleEntry(t, s, "e2"); snap.State != StateUnbalanced {
		t.Errorf("0.02 difference: state %s, want unbalanced", snap.State)
	}
}

func TestSession_DebitSelection(t *testing.T) {
	s := New(Config{
		ID:   "s4",
		Flow: domain.DefaultFlows()[domain.TypeTonManual],
		Bucket: matcher.DayBucket{
			Date:         july10,
			Transactions: []domain.Transaction{{ID: "tx", Date: july10, Amount: dec("-80")}},
			Entries:      []domain.SettlementEntry{{ID: "e", Date: july10, Value: dec("80"), Type: "estorno", ContractID: strptr("IND-7")}},
		},
		Rules:     domain.NewRuleIndex([]domain.ContractPercentageRule{{ContractID: "IND-7", CatalogPercent: dec("25"), PlansPercent: dec("75")}}),
		Generator: split.NewGenerator(split.DefaultClassificationTable()),
	})
	mustToggleTx(t, s, "tx")
	snap := mustToggleEntry(t, s, "e")
	if snap.State != StateBalanced {
		t.Fatalf("state = %s, want balanced", snap.State)
	}
	for _, c := range snap.Preview {
		if !c.Amount.IsNegative() {
			t.Errorf("debit child amount %s, want negative", c.Amount)
		}
	}
}
