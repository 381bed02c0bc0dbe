package split

import (
	"context"
	"errors"
	"strings"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/settlement-reconciler/internal/domain"
)

var (
	july10   = civil.Date{Year: 2025, Month: 7, Day: 10}
	byRule   = domain.DefaultFlows()[domain.TypeInterPag]
	parentTx = ParentContext{ParentIDs: []string{"tx-b", "tx-a"}, Date: july10, Account: "inter-pj", Source: "inter", Flow: byRule}
)

func rule(catalog, plans string) *domain.ContractPercentageRule {
	return &domain.ContractPercentageRule{
		ContractID:     "IND-42",
		CatalogPercent: decimal.RequireFromString(catalog),
		PlansPercent:   decimal.RequireFromString(plans),
	}
}

func entry(id, value string) domain.SettlementEntry {
	contract := "IND-42"
	return domain.SettlementEntry{ID: id, Date: july10, Value: decimal.RequireFromString(value), Type: "venda credito", ContractID: &contract}
}

func TestSplit_IndividualContract(t *testing.T) {
	g := NewGenerator(DefaultClassificationTable())

	children, err := g.Split(entry("e1", "500.00"), rule("30", "70"), parentTx)
	if err != nil {
		t.Fatalf("Split() error: %v", err)
	}
	if len(children) != 2 {
		t.Fatalf("len(children) = %d, want 2", len(children))
	}

	want := []struct {
		amount string
		class  string
		split  domain.SplitType
	}{
		{"150", "revenue:individual:catalog", domain.SplitCatalog},
		{"350", "revenue:individual:plan", domain.SplitPlans},
	}
	for i, w := range want {
		c := children[i]
		if !c.Amount.Equal(decimal.RequireFromString(w.amount)) {
			t.Errorf("child %d amount = %s, want %s", i, c.Amount, w.amount)
		}
		if c.Classification == nil || *c.Classification != w.class {
			t.Errorf("child %d classification = %v, want %s", i, c.Classification, w.class)
		}
		if c.SettlementState != domain.StateClassified {
			t.Errorf("child %d state = %s, want classified", i, c.SettlementState)
		}
		m := c.ReconciliationMetadata
		if m == nil || m.SplitType != w.split || m.SettlementEntryID != "e1" || m.Type != domain.TypeInterPag {
			t.Errorf("child %d metadata = %+v", i, m)
		}
		if m != nil && (len(m.ParentIDs) != 2 || m.ParentIDs[0] != "tx-a") {
			t.Errorf("child %d parent ids = %v, want sorted", i, m.ParentIDs)
		}
	}
}

func TestSplit_ConservesValue(t *testing.T) {
	g := NewGenerator(DefaultClassificationTable())
	values := []string{"0.01", "0.03", "1.00", "10.01", "33.33", "99.99", "100.07", "1234.57", "98765.43"}
	rules := [][2]string{{"30", "70"}, {"33.33", "66.67"}, {"50", "50"}, {"12.5", "87.5"}, {"99.99", "0.01"}}

	for _, v := range values {
		for _, r := range rules {
			children, err := g.Split(entry("e", v), rule(r[0], r[1]), parentTx)
			if err != nil {
				t.Fatalf("Split(%s, %v) error: %v", v, r, err)
			}
			if got := Total(children, false); !got.Equal(decimal.RequireFromString(v)) {
				t.Errorf("Split(%s, %v) children sum to %s", v, r, got)
			}
			for _, c := range children {
				if c.Amount.Exponent() < -2 {
					t.Errorf("Split(%s, %v) produced sub-cent amount %s", v, r, c.Amount)
				}
			}
		}
	}
}

func TestSplit_ResidualToLargerShare(t *testing.T) {
	g := NewGenerator(DefaultClassificationTable())

	// 0.05 at 50/50: 0.025 rounds to 0.03 twice, residual -0.01 goes to catalog on the tie.
	children, err := g.Split(entry("e", "0.05"), rule("50", "50"), parentTx)
	if err != nil {
		t.Fatal(err)
	}
	if !children[0].Amount.Equal(decimal.RequireFromString("0.02")) || !children[1].Amount.Equal(decimal.RequireFromString("0.03")) {
		t.Errorf("50/50 of 0.05 = %s/%s, want 0.02/0.03", children[0].Amount, children[1].Amount)
	}

	// 10.00 at 33.33/66.67: 3.333 -> 3.33, 6.667 -> 6.67, no residual.
	children, err = g.Split(entry("e", "10.00"), rule("33.33", "66.67"), parentTx)
	if err != nil {
		t.Fatal(err)
	}
	if !children[0].Amount.Equal(decimal.RequireFromString("3.33")) || !children[1].Amount.Equal(decimal.RequireFromString("6.67")) {
		t.Errorf("33.33/66.67 of 10 = %s/%s", children[0].Amount, children[1].Amount)
	}
}

func TestSplit_ZeroShareOmitted(t *testing.T) {
	g := NewGenerator(DefaultClassificationTable())
	children, err := g.Split(entry("e", "80"), rule("0", "100"), parentTx)
	if err != nil {
		t.Fatal(err)
	}
	if len(children) != 1 || children[0].ReconciliationMetadata.SplitType != domain.SplitPlans {
		t.Errorf("children = %+v, want only the plans share", children)
	}
}

func TestSplit_ZeroValueShareOmitted(t *testing.T) {
	g := NewGenerator(DefaultClassificationTable())

	tests := []struct {
		name      string
		value     string
		rule      *domain.ContractPercentageRule
		wantSplit domain.SplitType
	}{
		// 0.005 rounds to 0.01 twice; the residual takes catalog back to zero.
		{"one cent tie", "0.01", rule("50", "50"), domain.SplitPlans},
		{"one cent to the larger share", "0.01", rule("70", "30"), domain.SplitCatalog},
		{"tiny share rounds away", "10.00", rule("99.99", "0.01"), domain.SplitCatalog},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			children, err := g.Split(entry("e", tt.value), tt.rule, parentTx)
			if err != nil {
				t.Fatal(err)
			}
			if len(children) != 1 || children[0].ReconciliationMetadata.SplitType != tt.wantSplit {
				t.Fatalf("children = %+v, want only the %s share", children, tt.wantSplit)
			}
			if !children[0].Amount.Equal(decimal.RequireFromString(tt.value)) {
				t.Errorf("amount = %s, want %s", children[0].Amount, tt.value)
			}
		})
	}
}

func TestSplit_SubCentValueRejected(t *testing.T) {
	g := NewGenerator(DefaultClassificationTable())

	for _, v := range []string{"100.005", "-0.001"} {
		_, err := g.Split(entry("e7", v), rule("50", "50"), parentTx)
		if !errors.Is(err, domain.ErrInvalidRule) {
			t.Errorf("Split(%s) error = %v, want ErrInvalidRule", v, err)
		}
	}
	if _, err := g.Split(entry("e7", "100.000"), rule("50", "50"), parentTx); err != nil {
		t.Errorf("trailing zeros rejected: %v", err)
	}
}

func TestSplit_RuleErrors(t *testing.T) {
	g := NewGenerator(DefaultClassificationTable())

	tests := []struct {
		name    string
		rule    *domain.ContractPercentageRule
		wantErr error
	}{
		{"no rule", nil, domain.ErrNoRule},
		{"sum above 100", rule("30", "71"), domain.ErrInvalidRule},
		{"sum below 100", rule("30", "69.98"), domain.ErrInvalidRule},
		{"negative share", rule("-10", "110"), domain.ErrInvalidRule},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.Split(entry("e9", "100"), tt.rule, parentTx)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Split() error = %v, want %v", err, tt.wantErr)
			}
			var re *domain.RuleError
			if !errors.As(err, &re) || re.EntryID != "e9" {
				t.Errorf("error does not name the entry: %v", err)
			}
		})
	}

	if _, err := g.Split(entry("e", "100"), rule("30", "69.995"), parentTx); err != nil {
		t.Errorf("sum within tolerance rejected: %v", err)
	}
}

func TestSplit_NoRuleFallback(t *testing.T) {
	g := NewGenerator(DefaultClassificationTable(), WithNoRuleFallback("revenue:unallocated"))
	children, err := g.Split(entry("e", "42"), nil, parentTx)
	if err != nil {
		t.Fatal(err)
	}
	if len(children) != 1 || *children[0].Classification != "revenue:unallocated" || children[0].ReconciliationMetadata.SplitType != domain.SplitDirect {
		t.Errorf("children = %+v, want one direct fallback child", children)
	}
}

func TestSplit_CostEntry(t *testing.T) {
	g := NewGenerator(DefaultClassificationTable())

	for _, e := range []domain.SettlementEntry{
		{ID: "neg", Value: decimal.RequireFromString("-20"), Type: "ajuste"},
		{ID: "fee", Value: decimal.RequireFromString("20"), Type: "Tarifa de antecipacao"},
	} {
		children, err := g.Split(e, nil, parentTx)
		if err != nil {
			t.Fatalf("Split(%s) error: %v", e.ID, err)
		}
		if len(children) != 1 || !children[0].Amount.Equal(decimal.NewFromInt(-20)) {
			t.Fatalf("Split(%s) = %+v, want one -20 child", e.ID, children)
		}
		if *children[0].Classification != DefaultClassificationTable().Cost {
			t.Errorf("Split(%s) classification = %s", e.ID, *children[0].Classification)
		}
	}
}

func TestSplit_DebitFlow(t *testing.T) {
	g := NewGenerator(DefaultClassificationTable())
	parent := parentTx
	parent.Debit = true

	children, err := g.Split(entry("e", "100"), rule("40", "60"), parent)
	if err != nil {
		t.Fatal(err)
	}
	if !children[0].Amount.Equal(decimal.NewFromInt(-40)) || *children[0].Classification != "refund:individual:catalog" {
		t.Errorf("debit catalog child = %s %s", children[0].Amount, *children[0].Classification)
	}
	if got := Total(children, true); !got.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Total() = %s, want 100", got)
	}
}

func TestSplit_SplitNoneFlow(t *testing.T) {
	g := NewGenerator(DefaultClassificationTable())
	parent := parentTx
	parent.Flow = domain.DefaultFlows()[domain.TypeCremacaoCreateNew]

	children, err := g.Split(entry("e", "250"), nil, parent)
	if err != nil {
		t.Fatal(err)
	}
	if len(children) != 1 || *children[0].Classification != "revenue:cremacao" {
		t.Errorf("children = %+v", children)
	}
}

func TestChildID_Deterministic(t *testing.T) {
	a := ChildID([]string{"p2", "p1"}, "e", domain.SplitCatalog)
	b := ChildID([]string{"p1", "p2"}, "e", domain.SplitCatalog)
	if a != b {
		t.Errorf("ChildID depends on parent order: %s vs %s", a, b)
	}
	if a == ChildID([]string{"p1", "p2"}, "e", domain.SplitPlans) {
		t.Error("ChildID ignores split type")
	}
}

func TestClassifyEntryType(t *testing.T) {
	tests := map[string]EntryKind{
		"Venda Crédito":         KindRevenue,
		"PIX recebido":          KindRevenue,
		"Tarifa PIX":            KindCost,
		"Processing FEE":        KindCost,
		"aluguel de maquininha": KindCost,
	}
	for raw, want := range tests {
		if got := ClassifyEntryType(raw); got != want {
			t.Errorf("ClassifyEntryType(%q) = %s, want %s", raw, got, want)
		}
	}
	if !IsIndividualContract("ind-2024-7") || IsIndividualContract("CORP-9") {
		t.Error("IsIndividualContract misreads the marker")
	}
}

type mockAccountRepository struct {
	ListActiveAccountsFunc func(ctx context.Context) ([]domain.ChartAccount, error)
}

func (m *mockAccountRepository) ListActiveAccounts(ctx context.Context) ([]domain.ChartAccount, error) {
	return m.ListActiveAccountsFunc(ctx)
}

func TestClassificationTable_Validate(t *testing.T) {
	var accounts []domain.ChartAccount
	ids := []string{"revenue", "refund", "expense", "revenue:individual", "revenue:corporate", "refund:individual", "refund:corporate"}
	for id := range leavesOf(DefaultClassificationTable()) {
		ids = append(ids, id)
	}
	for _, id := range ids {
		parent := ""
		if i := strings.LastIndex(id, ":"); i > 0 {
			parent = id[:i]
		}
		accounts = append(accounts, domain.ChartAccount{ID: id, ParentID: parent, Depth: strings.Count(id, ":") + 1, Active: true})
	}

	repo := &mockAccountRepository{ListActiveAccountsFunc: func(ctx context.Context) ([]domain.ChartAccount, error) {
		return accounts, nil
	}}

	if err := DefaultClassificationTable().Validate(context.Background(), repo); err != nil {
		t.Errorf("Validate() error: %v", err)
	}
	if err := DefaultClassificationTable().Validate(context.Background(), repo, "revenue"); err == nil {
		t.Error("Validate() accepted a non-leaf account")
	}
	if err := DefaultClassificationTable().Validate(context.Background(), repo, "revenue:cremacao"); err == nil {
		t.Error("Validate() accepted an unknown account")
	}

	repo.ListActiveAccountsFunc = func(ctx context.Context) ([]domain.ChartAccount, error) {
		return nil, errors.New("boom")
	}
	if err := DefaultClassificationTable().Validate(context.Background(), repo); err == nil {
		t.Error("Validate() ignored repository error")
	}
}

func leavesOf(t ClassificationTable) map[string]bool {
	out := map[string]bool{t.Cost: true}
	for _, c := range t.Shares {
		out[c] = true
	}
	return out
}
