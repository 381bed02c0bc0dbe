package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/user"
	"sort"
	"text/tabwriter"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/settlement-reconciler/internal/app"
	"github.com/dvloznov/settlement-reconciler/internal/domain"
	"github.com/dvloznov/settlement-reconciler/internal/matcher"
	"github.com/dvloznov/settlement-reconciler/internal/notionsync"
	"github.com/dvloznov/settlement-reconciler/internal/reconcile"
	"github.com/dvloznov/settlement-reconciler/internal/session"
)

func runBuckets() {
	fs := flag.NewFlagSet("buckets", flag.ExitOnError)
	flowName := fs.String("flow", string(domain.TypeInterPag), "Reconciliation type")
	fromStr := fs.String("from", "", "First date (YYYY-MM-DD, default 30 days ago)")
	toStr := fs.String("to", "", "Last date (YYYY-MM-DD, default today)")
	source := fs.String("source", "", "Only transactions of this bank or card")
	fs.Parse(os.Args[2:])

	e := setup()
	flow, err := domain.ParseReconciliationType(*flowName)
	if err != nil {
		e.log.Fatal().Err(err).Msg("Invalid flow")
	}
	to := civil.DateOf(time.Now())
	if *toStr != "" {
		if to, err = civil.ParseDate(*toStr); err != nil {
			e.log.Fatal().Err(err).Msg("Invalid -to")
		}
	}
	from := to.AddDays(-30)
	if *fromStr != "" {
		if from, err = civil.ParseDate(*fromStr); err != nil {
			e.log.Fatal().Err(err).Msg("Invalid -from")
		}
	}

	ledger, closeLedger := e.openLedger()
	defer closeLedger()
	engine, err := app.NewEngine(e.ctx, e.cfg, ledger)
	if err != nil {
		e.log.Fatal().Err(err).Msg("Failed to build reconciliation engine")
	}

	buckets, err := engine.Buckets(e.ctx, reconcile.BucketQuery{Flow: flow, From: from, To: to, Source: *source})
	if err != nil {
		e.log.Fatal().Err(err).Msg("Failed to list buckets")
	}
	printBuckets(os.Stdout, buckets)
}

func runReconcile() {
	fs := flag.NewFlagSet("reconcile", flag.ExitOnError)
	flowName := fs.String("flow", string(domain.TypeInterPag), "Reconciliation type")
	dateStr := fs.String("date", "", "Bucket date (YYYY-MM-DD)")
	source := fs.String("source", "", "Only transactions of this bank or card")
	operator := fs.String("operator", currentUser(), "Operator recorded on the session")
	override := fs.Bool("override", false, "Commit even when the bucket does not balance")
	dryRun := fs.Bool("dry-run", false, "Preview the split without committing")
	fs.Parse(os.Args[2:])

	e := setup()
	flow, err := domain.ParseReconciliationType(*flowName)
	if err != nil {
		e.log.Fatal().Err(err).Msg("Invalid flow")
	}
	date, err := civil.ParseDate(*dateStr)
	if err != nil {
		e.log.Fatal().Err(err).Msg("Invalid or missing -date")
	}

	ledger, closeLedger := e.openLedger()
	defer closeLedger()
	engine, err := app.NewEngine(e.ctx, e.cfg, ledger)
	if err != nil {
		e.log.Fatal().Err(err).Msg("Failed to build reconciliation engine")
	}

	snap, err := engine.OpenSession(e.ctx, *operator, flow, date, *source)
	if err != nil {
		e.log.Fatal().Err(err).Msg("Failed to open session")
	}
	snap, err = selectAll(e.ctx, engine, snap)
	if err != nil {
		e.log.Fatal().Err(err).Msg("Failed to select bucket")
	}
	printSnapshot(os.Stdout, snap)

	if *dryRun {
		_, _ = engine.Cancel(e.ctx, snap.ID)
		return
	}

	res, _, err := engine.Commit(e.ctx, snap.ID, *override)
	if err != nil {
		e.log.Fatal().Err(err).Msg("Commit failed")
	}
	fmt.Printf("\ncommitted group %s: %d parents, %d children, %d entries consumed\n",
		res.Group, len(res.ReconciledParentIDs), len(res.CreatedChildren)+len(res.ExistingChildIDs), len(res.ConsumedEntryIDs))

	if e.cfg.NotionEnabled() {
		exporter := notionsync.NewExporter(notionsync.NewAuditDB(e.cfg.NotionToken, e.cfg.NotionAuditDBID))
		if err := exporter.ExportCommit(e.ctx, res); err != nil {
			e.log.Warn().Err(err).Str("group", res.Group).Msg("Audit export failed; run export-audit to retry")
		}
	}
}

func runExportAudit() {
	fs := flag.NewFlagSet("export-audit", flag.ExitOnError)
	dryRun := fs.Bool("dry-run", false, "Show what would be exported without writing to Notion")
	fs.Parse(os.Args[2:])

	e := setup()
	if !e.cfg.NotionEnabled() {
		e.log.Fatal().Msg("NOTION_TOKEN and NOTION_AUDIT_DB_ID are required")
	}

	ledger, closeLedger := e.openLedger()
	defer closeLedger()

	db := notionsync.NewAuditDB(e.cfg.NotionToken, e.cfg.NotionAuditDBID)
	sum, err := notionsync.ExportReconciled(e.ctx, ledger, db, *dryRun)
	if err != nil {
		e.log.Fatal().Err(err).Msg("Audit export failed")
	}
	fmt.Printf("created=%d updated=%d failed=%d\n", sum.Created, sum.Updated, sum.Failed)
	if sum.Failed > 0 {
		os.Exit(1)
	}
}

// selector is the part of the engine selectAll drives.
type selector interface {
	ToggleTransaction(ctx context.Context, sessionID, txID string) (session.Snapshot, error)
	ToggleEntry(ctx context.Context, sessionID, entryID string) (session.Snapshot, error)
}

// selectAll selects every candidate transaction and every available entry.
// Cost entries go last since they need the revenue selected first.
func selectAll(ctx context.Context, engine selector, snap session.Snapshot) (session.Snapshot, error) {
	var err error
	for _, v := range snap.Transactions {
		if v.Selected {
			continue
		}
		if snap, err = engine.ToggleTransaction(ctx, snap.ID, v.Transaction.ID); err != nil {
			return snap, err
		}
	}

	entries := append([]session.EntryView(nil), snap.Entries...)
	sort.SliceStable(entries, func(i, j int) bool { return !entries[i].Cost && entries[j].Cost })
	for _, v := range entries {
		if v.Selected || !v.Available {
			continue
		}
		if snap, err = engine.ToggleEntry(ctx, snap.ID, v.Entry.ID); err != nil {
			return snap, err
		}
	}
	return snap, nil
}

func printBuckets(w io.Writer, buckets map[civil.Date]matcher.DayBucket) {
	dates := make([]civil.Date, 0, len(buckets))
	for d := range buckets {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tTXS\tTX TOTAL\tENTRIES\tENTRY TOTAL")
	for _, d := range dates {
		b := buckets[d]
		txTotal, entryTotal := decimal.Zero, decimal.Zero
		for _, tx := range b.Transactions {
			txTotal = txTotal.Add(tx.Amount)
		}
		for _, e := range b.Entries {
			entryTotal = entryTotal.Add(e.Value)
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%d\t%s\n", d, len(b.Transactions), txTotal.StringFixed(2), len(b.Entries), entryTotal.StringFixed(2))
	}
	tw.Flush()
}

func printSnapshot(w io.Writer, snap session.Snapshot) {
	fmt.Fprintf(w, "session %s  %s  %s  %s\n", snap.ID, snap.Flow, snap.Date, snap.State)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\nCHILD\tDATE\tAMOUNT\tCLASSIFICATION")
	for _, c := range snap.Preview {
		class := "-"
		if c.Classification != nil {
			class = *c.Classification
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.ID, c.Date, c.Amount.StringFixed(2), class)
	}
	tw.Flush()

	fmt.Fprintf(w, "\ntransactions %s  generated %s  difference %s  balanced=%t\n",
		snap.TransactionTotal.StringFixed(2), snap.GeneratedTotal.StringFixed(2), snap.Difference.StringFixed(2), snap.Balanced)
	for _, issue := range snap.Issues {
		fmt.Fprintln(w, "  issue: "+issue)
	}
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "cli"
}
