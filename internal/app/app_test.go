package app

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dvloznov/settlement-reconciler/internal/config"
	"github.com/dvloznov/settlement-reconciler/internal/domain"
	"github.com/dvloznov/settlement-reconciler/internal/split"
)

func testConfig(t *testing.T, backend string) *config.Config {
	t.Helper()
	return &config.Config{
		StoreBackend: backend,
		SQLitePath:   filepath.Join(t.TempDir(), "ledger.db"),
		Flows:        domain.DefaultFlows(),
	}
}

func TestOpenLedger_SeedsChart(t *testing.T) {
	for _, backend := range []string{config.BackendMemory, config.BackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			ledger, closeFn, err := OpenLedger(ctx, testConfig(t, backend))
			if err != nil {
				t.Fatalf("OpenLedger() error = %v", err)
			}
			defer closeFn()

			accounts, err := ledger.ListActiveAccounts(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if len(accounts) != len(DefaultChart()) {
				t.Errorf("got %d accounts, want %d", len(accounts), len(DefaultChart()))
			}
		})
	}
}

func TestDefaultChart_CoversClassificationTable(t *testing.T) {
	leaves := domain.Leaves(DefaultChart())
	table := split.DefaultClassificationTable()
	for _, c := range table.Shares {
		if !leaves[c] {
			t.Errorf("%s is not a leaf of the default chart", c)
		}
	}
	if !leaves[table.Cost] {
		t.Errorf("%s is not a leaf of the default chart", table.Cost)
	}
	for _, f := range domain.DefaultFlows() {
		if f.DefaultClassification != "" && !leaves[f.DefaultClassification] {
			t.Errorf("flow default %s is not a leaf", f.DefaultClassification)
		}
	}
}

func TestNewEngine_RejectsUnknownFallback(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, config.BackendMemory)
	ledger, closeFn, err := OpenLedger(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer closeFn()

	if _, err := NewEngine(ctx, cfg, ledger); err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}

	cfg.NoRuleFallbackClassification = "revenue:misc"
	_, err = NewEngine(ctx, cfg, ledger)
	if err == nil || !strings.Contains(err.Error(), "revenue:misc") {
		t.Errorf("NewEngine() error = %v, want it to name revenue:misc", err)
	}
}

func TestOpenServices_NothingConfigured(t *testing.T) {
	s, err := OpenServices(context.Background(), &config.Config{})
	if err != nil {
		t.Fatalf("OpenServices() error = %v", err)
	}
	defer s.Close()

	if s.Storage != nil || s.Extractor != nil || s.Exporter != nil {
		t.Errorf("services = %+v, want none", s)
	}
	if opts := s.ImporterOptions(); len(opts) != 0 {
		t.Errorf("ImporterOptions() = %d options, want 0", len(opts))
	}
	if _, err := s.Fetcher().FetchFromGCS(context.Background(), "gs://b/o"); !errors.Is(err, ErrStorageDisabled) {
		t.Errorf("FetchFromGCS() error = %v, want ErrStorageDisabled", err)
	}
}

func TestOpenServices_Notion(t *testing.T) {
	s, err := OpenServices(context.Background(), &config.Config{NotionToken: "secret", NotionAuditDBID: "db"})
	if err != nil {
		t.Fatal(err)
	}
	if s.Exporter == nil || s.Notion == nil {
		t.Error("notion exporter not created")
	}
}
