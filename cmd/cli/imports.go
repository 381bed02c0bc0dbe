package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dvloznov/settlement-reconciler/internal/app"
	"github.com/dvloznov/settlement-reconciler/internal/gcs"
	"github.com/dvloznov/settlement-reconciler/internal/importer"
)

func runImport() {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	file := fs.String("file", "", "Local CSV or JSON statement export")
	format := fs.String("format", "", "csv or json (defaults to the file extension)")
	gcsURI := fs.String("gcs-uri", "", "GCS URI of a statement PDF")
	source := fs.String("source", "", "Bank or card for lines that do not name one")
	account := fs.String("account", "", "Account for lines that do not name one")
	fs.Parse(os.Args[2:])

	if (*file == "") == (*gcsURI == "") {
		fmt.Fprintln(os.Stderr, "Usage: cli import (-file PATH | -gcs-uri gs://...) [-source NAME] [-account ID]")
		os.Exit(2)
	}

	e := setup()
	ledger, closeLedger := e.openLedger()
	defer closeLedger()

	var (
		sum importer.Summary
		err error
	)
	if *gcsURI != "" {
		services, serr := app.OpenServices(e.ctx, e.cfg)
		if serr != nil {
			e.log.Fatal().Err(serr).Msg("Failed to connect cloud services")
		}
		defer services.Close()
		im := app.NewImporter(e.cfg, ledger, services.ImporterOptions()...)
		sum, err = im.ImportPDF(e.ctx, *gcsURI, *source, *account)
	} else {
		rows := readRowsFile(e, *file, *format)
		sum, err = app.NewImporter(e.cfg, ledger).ImportStatementRows(e.ctx, *source, *account, rows)
	}
	report(e, sum, err)
}

func runImportEntries() {
	fs := flag.NewFlagSet("import-entries", flag.ExitOnError)
	file := fs.String("file", "", "Local CSV or JSON settlement export")
	format := fs.String("format", "", "csv or json (defaults to the file extension)")
	fs.Parse(os.Args[2:])

	if *file == "" {
		fmt.Fprintln(os.Stderr, "Usage: cli import-entries -file PATH [-format csv|json]")
		os.Exit(2)
	}

	e := setup()
	ledger, closeLedger := e.openLedger()
	defer closeLedger()

	rows := readRowsFile(e, *file, *format)
	sum, err := app.NewImporter(e.cfg, ledger).ImportSettlementEntries(e.ctx, rows)
	report(e, sum, err)
}

func runImportRules() {
	fs := flag.NewFlagSet("import-rules", flag.ExitOnError)
	file := fs.String("file", "", "Local CSV or JSON rule table")
	format := fs.String("format", "", "csv or json (defaults to the file extension)")
	fs.Parse(os.Args[2:])

	if *file == "" {
		fmt.Fprintln(os.Stderr, "Usage: cli import-rules -file PATH [-format csv|json]")
		os.Exit(2)
	}

	e := setup()
	ledger, closeLedger := e.openLedger()
	defer closeLedger()

	rows := readRowsFile(e, *file, *format)
	sum, err := app.NewImporter(e.cfg, ledger).ImportContractRules(e.ctx, rows)
	report(e, sum, err)
}

func runUpload() {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	bucketName := fs.String("bucket", "", "GCS bucket name (defaults to GCS_BUCKET)")
	kind := fs.String("kind", "statement_pdf", "Import kind, used in the object path")
	filePath := fs.String("file", "", "Path to the local file")
	fs.Parse(os.Args[2:])

	e := setup()
	if *bucketName == "" {
		*bucketName = e.cfg.GCSBucket
	}
	if *bucketName == "" || *filePath == "" {
		e.log.Fatal().Msg("Usage: cli upload -file PATH [-bucket NAME] [-kind KIND]")
	}

	svc, err := gcs.NewService(e.ctx)
	if err != nil {
		e.log.Fatal().Err(err).Msg("Failed to create storage client")
	}
	defer svc.Close()

	objectName := gcs.ObjectName(*kind, *filePath, time.Now())
	e.log.Info().
		Str("bucket", *bucketName).
		Str("object", objectName).
		Str("file", *filePath).
		Msg("Uploading file to GCS")

	uri, err := svc.UploadFile(e.ctx, *bucketName, objectName, *filePath)
	if err != nil {
		e.log.Fatal().Err(err).Msg("Upload failed")
	}
	fmt.Println(uri)
}

func readRowsFile(e env, path, format string) []importer.Row {
	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	}
	f, err := os.Open(path)
	if err != nil {
		e.log.Fatal().Err(err).Msg("Failed to open file")
	}
	defer f.Close()

	rows, err := importer.ReadRows(f, format)
	if err != nil {
		e.log.Fatal().Err(err).Str("file", path).Msg("Failed to read rows")
	}
	return rows
}

func report(e env, sum importer.Summary, err error) {
	fmt.Printf("lines=%d added=%d duplicates=%d skipped=%d parse_errors=%d\n",
		sum.Lines, sum.Added, sum.Duplicates, sum.Skipped, sum.ParseErrors)
	for _, msg := range sum.Errors {
		fmt.Println("  " + msg)
	}
	if err != nil {
		e.log.Fatal().Err(err).Msg("Import failed")
	}
}
