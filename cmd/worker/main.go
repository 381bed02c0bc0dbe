// Command worker runs a batch of import jobs read as a JSON array from a
// file or stdin and exits non-zero when any of them fails.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/settlement-reconciler/internal/app"
	"github.com/dvloznov/settlement-reconciler/internal/config"
	"github.com/dvloznov/settlement-reconciler/internal/jobs"
	"github.com/dvloznov/settlement-reconciler/internal/jobs/inmemory"
	"github.com/dvloznov/settlement-reconciler/internal/logger"
)

func main() {
	var (
		envFile = flag.String("env", ".env", "Path to a .env file (ignored when missing)")
		file    = flag.String("jobs", "-", "JSON file with an array of import jobs (- for stdin)")
		workers = flag.Int("workers", inmemory.DefaultWorkers, "Number of import workers")
		timeout = flag.Duration("timeout", 30*time.Minute, "Give up after this long")
	)
	flag.Parse()

	log := logger.New()
	if err := config.LoadDotEnv(*envFile); err != nil {
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

	batch, err := readJobsFile(*file)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read jobs")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx, log)

	ledger, closeLedger, err := app.OpenLedger(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open ledger")
	}
	defer closeLedger()

	services, err := app.OpenServices(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect cloud services")
	}
	defer services.Close()

	im := app.NewImporter(cfg, ledger, services.ImporterOptions()...)

	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(len(batch), *workers, jobStore)
	if err := jobQueue.Start(ctx, jobs.NewImportHandler(services.Fetcher(), im)); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job workers")
	}

	log.Info().Int("jobs", len(batch)).Msg("Worker started")

	done, err := runBatch(ctx, jobQueue, jobStore, batch, 250*time.Millisecond)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if stopErr := jobQueue.Stop(shutdownCtx); stopErr != nil {
		log.Error().Err(stopErr).Msg("Error during graceful shutdown")
	}

	failed := printSummary(os.Stdout, done)
	if err != nil {
		log.Error().Err(err).Msg("Batch interrupted")
		os.Exit(1)
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func readJobsFile(path string) ([]*jobs.ImportJob, error) {
	if path == "-" {
		return readJobs(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("readJobsFile: %w", err)
	}
	defer f.Close()
	return readJobs(f)
}

// readJobs decodes and validates a job batch.
func readJobs(r io.Reader) ([]*jobs.ImportJob, error) {
	var batch []*jobs.ImportJob
	if err := json.NewDecoder(r).Decode(&batch); err != nil {
		return nil, fmt.Errorf("readJobs: decode: %w", err)
	}
	if len(batch) == 0 {
		return nil, fmt.Errorf("readJobs: no jobs")
	}
	for i, job := range batch {
		if job == nil {
			return nil, fmt.Errorf("readJobs: job %d is null", i)
		}
		if err := job.Validate(); err != nil {
			return nil, fmt.Errorf("readJobs: job %d: %w", i, err)
		}
		// Status fields come from the queue.
		job.Status = ""
		job.RetryCount = 0
		job.Error = ""
		job.Summary = nil
	}
	return batch, nil
}

// runBatch publishes every job and polls the store until each one is
// completed or failed. It returns the last known state of every job, in
// batch order, even when ctx ends first.
func runBatch(ctx context.Context, pub jobs.Publisher, store jobs.JobStore, batch []*jobs.ImportJob, poll time.Duration) ([]*jobs.ImportJob, error) {
	ids := make([]string, 0, len(batch))
	for _, job := range batch {
		if err := pub.PublishImport(ctx, job); err != nil {
			return snapshot(ctx, store, ids), fmt.Errorf("runBatch: publish: %w", err)
		}
		ids = append(ids, job.JobID)
	}

	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		current := snapshot(ctx, store, ids)
		if allTerminal(current) {
			return current, nil
		}
		select {
		case <-ctx.Done():
			return current, ctx.Err()
		case <-ticker.C:
		}
	}
}

func snapshot(ctx context.Context, store jobs.JobStore, ids []string) []*jobs.ImportJob {
	out := make([]*jobs.ImportJob, 0, len(ids))
	for _, id := range ids {
		job, err := store.GetJob(ctx, id)
		if err != nil {
			job = &jobs.ImportJob{JobID: id, Status: jobs.JobStatusPending}
		}
		out = append(out, job)
	}
	return out
}

func allTerminal(batch []*jobs.ImportJob) bool {
	for _, job := range batch {
		if job.Status != jobs.JobStatusCompleted && job.Status != jobs.JobStatusFailed {
			return false
		}
	}
	return true
}

// printSummary writes one line per job and returns how many did not
// complete.
func printSummary(w io.Writer, batch []*jobs.ImportJob) int {
	failed := 0
	for _, job := range batch {
		line := fmt.Sprintf("%-10s %-20s %s", job.Status, job.Kind, job.GCSURI)
		if job.Summary != nil {
			line += fmt.Sprintf("  added=%d duplicates=%d skipped=%d", job.Summary.Added, job.Summary.Duplicates, job.Summary.Skipped)
		}
		if job.Error != "" {
			line += "  error=" + job.Error
		}
		fmt.Fprintln(w, line)
		if job.Status != jobs.JobStatusCompleted {
			failed++
		}
	}
	fmt.Fprintf(w, "%d jobs, %d failed\n", len(batch), failed)
	return failed
}
