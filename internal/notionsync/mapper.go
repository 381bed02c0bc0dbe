package notionsync

import (
	"sort"
	"strings"
	"time"

	"github.com/jomei/notionapi"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/settlement-reconciler/internal/domain"
	"github.com/dvloznov/settlement-reconciler/internal/reconcile"
)

// Notion property names of the audit database.
const (
	PropGroup       = "Reconciliation Group"
	PropFlow        = "Flow"
	PropCommittedAt = "Committed At"
	PropTotal       = "Total"
	PropChildren    = "Children"
	PropParents     = "Parent Transactions"
	PropEntries     = "Settlement Entries"
	PropBreakdown   = "Breakdown"
	PropOverride    = "Override"
)

// AuditRecord summarizes one committed reconciliation group.
type AuditRecord struct {
	Group       string
	Flow        domain.ReconciliationType
	CommittedAt time.Time
	Override    bool
	ParentIDs   []string
	EntryIDs    []string
	Children    int
	Total       decimal.Decimal

	// ByClassification sums child amounts per leaf.
	ByClassification map[string]decimal.Decimal
}

// RecordFromCommit builds the audit record of a fresh commit. Children that
// already existed from an earlier attempt are counted but carry no amount.
func RecordFromCommit(res reconcile.CommitResult) AuditRecord {
	rec := recordFromChildren(res.Group, res.CreatedChildren)
	rec.Flow = res.Flow
	rec.CommittedAt = res.CommittedAt
	rec.Override = res.Override
	rec.ParentIDs = sortedCopy(res.ReconciledParentIDs)
	rec.EntryIDs = sortedCopy(res.ConsumedEntryIDs)
	rec.Children += len(res.ExistingChildIDs)
	return rec
}

// RecordsFromTransactions groups stored reconciliation children by group.
// Transactions without metadata are ignored. Records are ordered by commit
// time, then group.
func RecordsFromTransactions(txs []domain.Transaction) []AuditRecord {
	byGroup := map[string][]domain.Transaction{}
	for _, tx := range txs {
		if tx.ReconciliationMetadata == nil || tx.ReconciliationMetadata.Group == "" {
			continue
		}
		g := tx.ReconciliationMetadata.Group
		byGroup[g] = append(byGroup[g], tx)
	}

	records := make([]AuditRecord, 0, len(byGroup))
	for group, children := range byGroup {
		rec := recordFromChildren(group, children)
		parents := map[string]struct{}{}
		entries := map[string]struct{}{}
		for _, c := range children {
			md := c.ReconciliationMetadata
			rec.Flow = md.Type
			if md.CommittedAt.After(rec.CommittedAt) {
				rec.CommittedAt = md.CommittedAt
			}
			for _, p := range md.ParentIDs {
				parents[p] = struct{}{}
			}
			if md.SettlementEntryID != "" {
				entries[md.SettlementEntryID] = struct{}{}
			}
		}
		rec.ParentIDs = keys(parents)
		rec.EntryIDs = keys(entries)
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		if !records[i].CommittedAt.Equal(records[j].CommittedAt) {
			return records[i].CommittedAt.Before(records[j].CommittedAt)
		}
		return records[i].Group < records[j].Group
	})
	return records
}

func recordFromChildren(group string, children []domain.Transaction) AuditRecord {
	rec := AuditRecord{Group: group, Total: decimal.Zero, ByClassification: map[string]decimal.Decimal{}}
	for _, c := range children {
		rec.Children++
		rec.Total = rec.Total.Add(c.Amount)
		leaf := "unclassified"
		if c.Classification != nil {
			leaf = *c.Classification
		}
		rec.ByClassification[leaf] = rec.ByClassification[leaf].Add(c.Amount)
	}
	return rec
}

// RecordToNotionProperties converts an audit record to Notion properties.
func RecordToNotionProperties(rec AuditRecord) notionapi.Properties {
	props := notionapi.Properties{
		PropGroup: notionapi.TitleProperty{
			Title: []notionapi.RichText{richText(rec.Group)},
		},
		PropTotal: notionapi.NumberProperty{
			Number: rec.Total.InexactFloat64(),
		},
		PropChildren: notionapi.NumberProperty{
			Number: float64(rec.Children),
		},
		PropOverride: notionapi.CheckboxProperty{
			Checkbox: rec.Override,
		},
	}

	if rec.Flow != "" {
		props[PropFlow] = notionapi.SelectProperty{
			Select: notionapi.Option{Name: string(rec.Flow)},
		}
	}

	if !rec.CommittedAt.IsZero() {
		d := notionapi.Date(rec.CommittedAt.UTC())
		props[PropCommittedAt] = notionapi.DateProperty{
			Date: &notionapi.DateObject{Start: &d},
		}
	}

	if len(rec.ParentIDs) > 0 {
		props[PropParents] = notionapi.RichTextProperty{
			RichText: []notionapi.RichText{richText(strings.Join(rec.ParentIDs, ", "))},
		}
	}
	if len(rec.EntryIDs) > 0 {
		props[PropEntries] = notionapi.RichTextProperty{
			RichText: []notionapi.RichText{richText(strings.Join(rec.EntryIDs, ", "))},
		}
	}
	if len(rec.ByClassification) > 0 {
		props[PropBreakdown] = notionapi.RichTextProperty{
			RichText: []notionapi.RichText{richText(Breakdown(rec.ByClassification))},
		}
	}
	return props
}

// Breakdown renders per-leaf sums one per line, sorted by leaf.
func Breakdown(sums map[string]decimal.Decimal) string {
	leaves := make([]string, 0, len(sums))
	for leaf := range sums {
		leaves = append(leaves, leaf)
	}
	sort.Strings(leaves)

	lines := make([]string, len(leaves))
	for i, leaf := range leaves {
		lines[i] = leaf + ": " + sums[leaf].StringFixed(2)
	}
	return strings.Join(lines, "\n")
}

// Notion caps a rich text item at 2000 characters.
const maxRichText = 2000

func richText(s string) notionapi.RichText {
	if len(s) > maxRichText {
		s = s[:maxRichText-3] + "..."
	}
	return notionapi.RichText{
		Type: notionapi.ObjectTypeText,
		Text: &notionapi.Text{Content: s},
	}
}

func sortedCopy(ids []string) []string {
	out := append([]string(nil), ids...)
	sort.Strings(out)
	return out
}

func keys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
