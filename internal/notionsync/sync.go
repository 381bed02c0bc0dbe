package notionsync

import (
	"context"
	"fmt"

	"github.com/jomei/notionapi"

	"github.com/dvloznov/settlement-reconciler/internal/domain"
	"github.com/dvloznov/settlement-reconciler/internal/logger"
	"github.com/dvloznov/settlement-reconciler/internal/reconcile"
)

// ExportSummary counts the outcome of an export run.
type ExportSummary struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Failed  int `json:"failed"`
}

// ExportAudit writes one Notion page per record. Pages are keyed by the
// reconciliation group title, so re-exporting updates instead of duplicating.
// Individual page failures are logged and counted; the run continues.
func ExportAudit(ctx context.Context, db AuditDatabase, records []AuditRecord, dryRun bool) (ExportSummary, error) {
	log := logger.FromContext(ctx)
	var sum ExportSummary

	log.Info().
		Int("records", len(records)).
		Bool("dry_run", dryRun).
		Msg("Starting audit export to Notion")

	pages, err := allPages(ctx, db)
	if err != nil {
		return sum, fmt.Errorf("ExportAudit: %w", err)
	}
	existing := make(map[string]string, len(pages))
	for _, page := range pages {
		if group := extractGroup(page); group != "" {
			existing[group] = string(page.ID)
		}
	}

	for _, rec := range records {
		pageID, found := existing[rec.Group]

		if dryRun {
			if found {
				log.Info().Str("group", rec.Group).Str("page_id", pageID).Msg("[DRY RUN] Would update audit page")
				sum.Updated++
			} else {
				log.Info().Str("group", rec.Group).Msg("[DRY RUN] Would create audit page")
				sum.Created++
			}
			continue
		}

		props := RecordToNotionProperties(rec)
		if found {
			if _, err := db.UpdatePage(ctx, pageID, props); err != nil {
				log.Warn().Err(err).Str("group", rec.Group).Str("page_id", pageID).Msg("Failed to update audit page")
				sum.Failed++
				continue
			}
			sum.Updated++
			continue
		}

		page, err := db.CreatePage(ctx, props)
		if err != nil {
			log.Warn().Err(err).Str("group", rec.Group).Msg("Failed to create audit page")
			sum.Failed++
			continue
		}
		existing[rec.Group] = string(page.ID)
		sum.Created++
	}

	log.Info().
		Int("created", sum.Created).
		Int("updated", sum.Updated).
		Int("failed", sum.Failed).
		Msg("Audit export completed")
	return sum, nil
}

// ExportReconciled reads every stored reconciliation child and exports one
// record per group.
func ExportReconciled(ctx context.Context, store reconcile.TransactionStore, db AuditDatabase, dryRun bool) (ExportSummary, error) {
	children, err := store.ListTransactions(ctx, domain.TransactionFilter{
		States: []domain.SettlementState{domain.StateClassified},
	})
	if err != nil {
		return ExportSummary{}, fmt.Errorf("ExportReconciled: list transactions: %w", err)
	}
	return ExportAudit(ctx, db, RecordsFromTransactions(children), dryRun)
}

// Exporter pushes each commit to Notion as it happens.
type Exporter struct {
	db AuditDatabase
}

// NewExporter creates an Exporter for the given audit database.
func NewExporter(db AuditDatabase) *Exporter {
	return &Exporter{db: db}
}

// ExportCommit writes the audit page of one commit.
func (e *Exporter) ExportCommit(ctx context.Context, res reconcile.CommitResult) error {
	sum, err := ExportAudit(ctx, e.db, []AuditRecord{RecordFromCommit(res)}, false)
	if err != nil {
		return err
	}
	if sum.Failed > 0 {
		return fmt.Errorf("ExportCommit: audit page for group %s not written", res.Group)
	}
	return nil
}

// extractGroup reads the reconciliation group title of an audit page.
func extractGroup(page notionapi.Page) string {
	if prop, ok := page.Properties[PropGroup]; ok {
		if title, ok := prop.(*notionapi.TitleProperty); ok && len(title.Title) > 0 {
			return title.Title[0].PlainText
		}
	}
	return ""
}
