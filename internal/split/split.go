// Package split turns settlement entries into classified child transactions
// according to contract percentage rules.
package split

import (
	"fmt"
	"sort"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/settlement-reconciler/internal/domain"
)

// Namespace for deterministic child and group ids.
var Namespace = uuid.MustParse("6f1c2a8e-3b0d-5e47-9a21-7c4d8b1e0f35")

var (
	hundred   = decimal.NewFromInt(100)
	tolerance = decimal.RequireFromString("0.01")
)

// ParentContext is what a split needs to know about the selection the
// children replace.
type ParentContext struct {
	ParentIDs []string
	Date      civil.Date
	Account   string
	Source    string
	Debit     bool // parents are outgoing; children carry negative amounts
	Flow      domain.Flow
}

// Generator produces child transactions. The zero value is not usable; use
// NewGenerator.
type Generator struct {
	table    ClassificationTable
	fallback string
}

// Option configures a Generator.
type Option func(*Generator)

// WithNoRuleFallback makes entries without a rule produce one direct child
// with classification instead of failing with ErrNoRule.
func WithNoRuleFallback(classification string) Option {
	return func(g *Generator) { g.fallback = classification }
}

// NewGenerator creates a Generator over table.
func NewGenerator(table ClassificationTable, opts ...Option) *Generator {
	g := &Generator{table: table}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Table returns the classification table in use.
func (g *Generator) Table() ClassificationTable { return g.table }

// Split returns the children for entry. Child amounts carry the ledger sign
// of the parents; Value reports them in entry space for balancing.
//
// Cost entries (negative value or a cost type) yield a single cost child
// valued -|value| and need no rule. Flows with SplitNone yield one direct
// child with the flow's default classification. Otherwise the rule divides
// the entry: each share is rounded to cents and the residual cent goes to the
// larger share, the catalog share on ties, so the shares always sum to the
// entry value. Shares that come to zero produce no child. Values finer than
// a cent fail with ErrInvalidRule.
func (g *Generator) Split(entry domain.SettlementEntry, rule *domain.ContractPercentageRule, parent ParentContext) ([]domain.Transaction, error) {
	value := entry.Value
	if !value.Equal(value.Round(2)) {
		return nil, &domain.RuleError{EntryID: entry.ID, Reason: domain.ErrInvalidRule, Detail: fmt.Sprintf("value %s is finer than a cent", value)}
	}

	if IsCost(entry) {
		return []domain.Transaction{
			g.child(entry, parent, domain.SplitCost, g.table.Cost, value.Abs().Neg(), hundred),
		}, nil
	}

	if parent.Flow.SplitMode == domain.SplitNone {
		if parent.Flow.DefaultClassification == "" {
			return nil, &domain.RuleError{EntryID: entry.ID, Reason: domain.ErrNoRule, Detail: fmt.Sprintf("flow %s has no default classification", parent.Flow.Type)}
		}
		return []domain.Transaction{
			g.child(entry, parent, domain.SplitDirect, parent.Flow.DefaultClassification, value, hundred),
		}, nil
	}

	if rule == nil {
		if g.fallback != "" {
			return []domain.Transaction{
				g.child(entry, parent, domain.SplitDirect, g.fallback, value, hundred),
			}, nil
		}
		return nil, &domain.RuleError{EntryID: entry.ID, Reason: domain.ErrNoRule, Detail: fmt.Sprintf("contract %q", entry.ContractIDOrEmpty())}
	}

	if err := ValidateRule(*rule); err != nil {
		return nil, &domain.RuleError{EntryID: entry.ID, Reason: domain.ErrInvalidRule, Detail: err.Error()}
	}

	catalog := value.Mul(rule.CatalogPercent).Div(hundred).Round(2)
	plans := value.Mul(rule.PlansPercent).Div(hundred).Round(2)
	residual := value.Sub(catalog).Sub(plans)
	if rule.PlansPercent.GreaterThan(rule.CatalogPercent) {
		plans = plans.Add(residual)
	} else {
		catalog = catalog.Add(residual)
	}

	individual := IsIndividualContract(entry.ContractIDOrEmpty())
	var children []domain.Transaction
	for _, share := range []struct {
		catalog bool
		percent decimal.Decimal
		value   decimal.Decimal
	}{
		{true, rule.CatalogPercent, catalog},
		{false, rule.PlansPercent, plans},
	} {
		if share.percent.IsZero() || share.value.IsZero() {
			continue
		}
		splitType := domain.SplitPlans
		if share.catalog {
			splitType = domain.SplitCatalog
		}
		class, ok := g.table.Lookup(Key{Debit: parent.Debit, Individual: individual, Catalog: share.catalog})
		if !ok {
			return nil, &domain.RuleError{EntryID: entry.ID, Reason: domain.ErrInvalidRule, Detail: fmt.Sprintf("no classification for %s share", splitType)}
		}
		children = append(children, g.child(entry, parent, splitType, class, share.value, share.percent))
	}
	return children, nil
}

// ValidateRule checks that the shares are non-negative and sum to 100 within
// one cent of a percent.
func ValidateRule(rule domain.ContractPercentageRule) error {
	if rule.CatalogPercent.IsNegative() || rule.PlansPercent.IsNegative() {
		return fmt.Errorf("negative share %s/%s", rule.CatalogPercent, rule.PlansPercent)
	}
	sum := rule.CatalogPercent.Add(rule.PlansPercent)
	if sum.Sub(hundred).Abs().GreaterThan(tolerance) {
		return fmt.Errorf("shares sum to %s, want 100", sum)
	}
	return nil
}

// IsCost reports whether entry is a cost: negative value or a cost type.
func IsCost(entry domain.SettlementEntry) bool {
	return entry.Value.IsNegative() || ClassifyEntryType(entry.Type) == KindCost
}

// Value returns a child's amount in entry space, undoing the debit sign.
func Value(child domain.Transaction, debit bool) decimal.Decimal {
	if debit {
		return child.Amount.Neg()
	}
	return child.Amount
}

// Total sums the entry-space values of children.
func Total(children []domain.Transaction, debit bool) decimal.Decimal {
	total := decimal.Zero
	for _, c := range children {
		total = total.Add(Value(c, debit))
	}
	return total
}

func (g *Generator) child(entry domain.SettlementEntry, parent ParentContext, splitType domain.SplitType, classification string, value, percent decimal.Decimal) domain.Transaction {
	amount := value
	if parent.Debit {
		amount = amount.Neg()
	}
	group := GroupID(parent.ParentIDs)
	class := classification
	return domain.Transaction{
		ID:                  ChildID(parent.ParentIDs, entry.ID, splitType),
		Date:                parent.Date,
		Amount:              amount,
		OriginDescription:   fmt.Sprintf("%s %s %s", parent.Flow.Type, splitType, entry.ID),
		Source:              parent.Source,
		Account:             parent.Account,
		Classification:      &class,
		SettlementState:     domain.StateClassified,
		ReconciliationGroup: &group,
		ReconciliationMetadata: &domain.ReconciliationMetadata{
			Type:              parent.Flow.Type,
			Group:             group,
			ParentIDs:         sortedCopy(parent.ParentIDs),
			SettlementEntryID: entry.ID,
			SplitType:         splitType,
			Percentage:        percent,
		},
	}
}

// ChildID derives the id of the child for (parents, entry, split type). A
// retried commit regenerates the same ids.
func ChildID(parentIDs []string, entryID string, splitType domain.SplitType) string {
	key := strings.Join(sortedCopy(parentIDs), ",") + "|" + entryID + "|" + string(splitType)
	return uuid.NewSHA1(Namespace, []byte(key)).String()
}

// GroupID derives the reconciliation group shared by all children of one
// commit.
func GroupID(parentIDs []string) string {
	return uuid.NewSHA1(Namespace, []byte("group|"+strings.Join(sortedCopy(parentIDs), ","))).String()
}

func sortedCopy(ids []string) []string {
	out := append([]string(nil), ids...)
	sort.Strings(out)
	return out
}
