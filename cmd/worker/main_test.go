package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dvloznov/settlement-reconciler/internal/jobs"
	"github.com/dvloznov/settlement-reconciler/internal/jobs/inmemory"
)

func TestReadJobs(t *testing.T) {
	batch, err := readJobs(strings.NewReader(`[
		{"kind": "settlement_entries", "gcs_uri": "gs://b/entries.csv", "format": "csv", "status": "failed", "retry_count": 2},
		{"kind": "statement_pdf", "gcs_uri": "gs://b/jul.pdf", "source": "inter"}
	]`))
	if err != nil {
		t.Fatalf("readJobs() error = %v", err)
	}
	if len(batch) != 2 {
		t.Fatalf("got %d jobs, want 2", len(batch))
	}
	if batch[0].Status != "" || batch[0].RetryCount != 0 {
		t.Errorf("queue state not reset: %+v", batch[0])
	}
}

func TestReadJobs_Invalid(t *testing.T) {
	tests := map[string]string{
		"not json":     `{`,
		"empty":        `[]`,
		"null job":     `[null]`,
		"unknown kind": `[{"kind": "ledger", "gcs_uri": "gs://b/x.csv", "format": "csv"}]`,
		"no format":    `[{"kind": "contract_rules", "gcs_uri": "gs://b/x.csv"}]`,
	}
	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := readJobs(strings.NewReader(input)); err == nil {
				t.Error("readJobs() accepted invalid input")
			}
		})
	}
}

func TestRunBatch(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store := inmemory.NewStore()
	queue := inmemory.NewQueue(4, 2, store)
	handler := func(ctx context.Context, job *jobs.ImportJob) error {
		if strings.HasSuffix(job.GCSURI, "bad.csv") {
			return jobs.Permanent(errors.New("malformed file"))
		}
		return nil
	}
	if err := queue.Start(ctx, handler); err != nil {
		t.Fatal(err)
	}
	defer queue.Stop(context.Background())

	batch := []*jobs.ImportJob{
		{Kind: jobs.KindSettlementEntries, GCSURI: "gs://b/good.csv", Format: "csv"},
		{Kind: jobs.KindContractRules, GCSURI: "gs://b/bad.csv", Format: "csv"},
	}
	done, err := runBatch(ctx, queue, store, batch, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("runBatch() error = %v", err)
	}
	if done[0].Status != jobs.JobStatusCompleted || done[1].Status != jobs.JobStatusFailed {
		t.Errorf("statuses = %s, %s", done[0].Status, done[1].Status)
	}

	var out bytes.Buffer
	if failed := printSummary(&out, done); failed != 1 {
		t.Errorf("printSummary() failed = %d, want 1", failed)
	}
	if !strings.Contains(out.String(), "malformed file") || !strings.Contains(out.String(), "2 jobs, 1 failed") {
		t.Errorf("summary = %q", out.String())
	}
}
