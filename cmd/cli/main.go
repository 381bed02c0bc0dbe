package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/dvloznov/settlement-reconciler/internal/app"
	"github.com/dvloznov/settlement-reconciler/internal/config"
	"github.com/dvloznov/settlement-reconciler/internal/logger"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "import":
		runImport()
	case "import-entries":
		runImportEntries()
	case "import-rules":
		runImportRules()
	case "upload":
		runUpload()
	case "buckets":
		runBuckets()
	case "reconcile":
		runReconcile()
	case "export-audit":
		runExportAudit()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Settlement Reconciler CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  import          Import a bank statement (CSV/JSON file, or PDF from GCS)")
	fmt.Println("  import-entries  Import provider settlement entries")
	fmt.Println("  import-rules    Replace the contract percentage rules")
	fmt.Println("  upload          Upload an import file to GCS")
	fmt.Println("  buckets         List day buckets of a flow")
	fmt.Println("  reconcile       Reconcile a whole day bucket")
	fmt.Println("  export-audit    Export reconciled groups to Notion")
	fmt.Println("  help            Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
	fmt.Println("Configuration is read from the environment and .env (STORE_BACKEND, GCS_BUCKET, ...).")
}

// env holds what every command needs.
type env struct {
	ctx context.Context
	cfg *config.Config
	log zerolog.Logger
}

func setup() env {
	log := logger.New()
	if err := config.LoadDotEnv(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load .env")
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	configured, err := logger.NewFromConfig(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid logger configuration")
	}
	log = configured
	return env{ctx: logger.WithContext(context.Background(), log), cfg: cfg, log: log}
}

func (e env) openLedger() (app.Ledger, func() error) {
	ledger, closeFn, err := app.OpenLedger(e.ctx, e.cfg)
	if err != nil {
		e.log.Fatal().Err(err).Msg("Failed to open ledger")
	}
	return ledger, closeFn
}
