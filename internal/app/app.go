// Package app wires the configured backends into the engine and importer.
package app

import (
	"context"
	"fmt"

	"github.com/dvloznov/settlement-reconciler/internal/config"
	"github.com/dvloznov/settlement-reconciler/internal/domain"
	infra "github.com/dvloznov/settlement-reconciler/internal/infra/bigquery"
	"github.com/dvloznov/settlement-reconciler/internal/infra/memory"
	"github.com/dvloznov/settlement-reconciler/internal/infra/sqlite"
	"github.com/dvloznov/settlement-reconciler/internal/importer"
	"github.com/dvloznov/settlement-reconciler/internal/logger"
	"github.com/dvloznov/settlement-reconciler/internal/reconcile"
	"github.com/dvloznov/settlement-reconciler/internal/split"
)

// Ledger is what every backend provides.
type Ledger interface {
	reconcile.Store
	reconcile.RuleSource
	split.AccountRepository
	WriteSettlementEntries(ctx context.Context, entries []domain.SettlementEntry) error
	ReplaceContractRules(ctx context.Context, rules []domain.ContractPercentageRule) error
}

type accountSeeder interface {
	ReplaceAccounts(ctx context.Context, accounts []domain.ChartAccount) error
}

// OpenLedger opens the configured backend. Local backends without a chart
// of accounts are seeded with DefaultChart; the BigQuery chart comes from
// migrations.
func OpenLedger(ctx context.Context, cfg *config.Config) (Ledger, func() error, error) {
	var (
		ledger Ledger
		closer = func() error { return nil }
	)

	switch cfg.StoreBackend {
	case config.BackendMemory:
		ledger = memory.NewStore()
	case config.BackendSQLite:
		st, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("OpenLedger: %w", err)
		}
		ledger, closer = st, st.Close
	case config.BackendBigQuery:
		st, err := infra.NewStore(ctx, infra.Config{ProjectID: cfg.BQProjectID, DatasetID: cfg.BQDataset})
		if err != nil {
			return nil, nil, fmt.Errorf("OpenLedger: %w", err)
		}
		ledger, closer = st, st.Close
	default:
		return nil, nil, fmt.Errorf("OpenLedger: unknown backend %q", cfg.StoreBackend)
	}

	if seeder, ok := ledger.(accountSeeder); ok {
		accounts, err := ledger.ListActiveAccounts(ctx)
		if err == nil && len(accounts) == 0 {
			err = seeder.ReplaceAccounts(ctx, DefaultChart())
		}
		if err != nil {
			_ = closer()
			return nil, nil, fmt.Errorf("OpenLedger: seed chart of accounts: %w", err)
		}
	}

	log := logger.FromContext(ctx)
	log.Info().Str("backend", cfg.StoreBackend).Msg("ledger opened")
	return ledger, closer, nil
}

// NewEngine validates the classification table against the chart of
// accounts and builds the engine. An invalid table stops startup.
func NewEngine(ctx context.Context, cfg *config.Config, ledger Ledger, opts ...reconcile.EngineOption) (*reconcile.Engine, error) {
	table := split.DefaultClassificationTable()

	var extra []string
	for _, flow := range cfg.Flows {
		if flow.DefaultClassification != "" {
			extra = append(extra, flow.DefaultClassification)
		}
	}
	var genOpts []split.Option
	if cfg.NoRuleFallbackClassification != "" {
		extra = append(extra, cfg.NoRuleFallbackClassification)
		genOpts = append(genOpts, split.WithNoRuleFallback(cfg.NoRuleFallbackClassification))
	}

	if err := table.Validate(ctx, ledger, extra...); err != nil {
		return nil, fmt.Errorf("NewEngine: %w", err)
	}

	opts = append([]reconcile.EngineOption{
		reconcile.WithFlows(cfg.Flows),
		reconcile.WithTolerance(cfg.BalanceTolerance),
	}, opts...)
	return reconcile.NewEngine(ledger, ledger, split.NewGenerator(table, genOpts...), opts...), nil
}

// NewImporter builds an importer over the ledger using the configured locale.
func NewImporter(cfg *config.Config, ledger Ledger, opts ...importer.Option) *importer.Importer {
	opts = append([]importer.Option{importer.WithLocale(cfg.AmountLocale)}, opts...)
	return importer.New(ledger, ledger, ledger, opts...)
}

// DefaultChart is the chart of accounts seeded into local backends. It
// matches migrations/bigquery/0004_create_chart_of_accounts.sql.
func DefaultChart() []domain.ChartAccount {
	node := func(id, parent, name string, depth int) domain.ChartAccount {
		return domain.ChartAccount{ID: id, ParentID: parent, Name: name, Depth: depth, Active: true}
	}
	return []domain.ChartAccount{
		node("revenue", "", "Revenue", 1),
		node("revenue:individual", "revenue", "Individual contracts", 2),
		node("revenue:individual:catalog", "revenue:individual", "Catalog", 3),
		node("revenue:individual:plan", "revenue:individual", "Plans", 3),
		node("revenue:corporate", "revenue", "Corporate contracts", 2),
		node("revenue:corporate:catalog", "revenue:corporate", "Catalog", 3),
		node("revenue:corporate:plan", "revenue:corporate", "Plans", 3),
		node("revenue:cremacao", "revenue", "Cremation services", 2),
		node("refund", "", "Refunds", 1),
		node("refund:individual", "refund", "Individual contracts", 2),
		node("refund:individual:catalog", "refund:individual", "Catalog", 3),
		node("refund:individual:plan", "refund:individual", "Plans", 3),
		node("refund:corporate", "refund", "Corporate contracts", 2),
		node("refund:corporate:catalog", "refund:corporate", "Catalog", 3),
		node("refund:corporate:plan", "refund:corporate", "Plans", 3),
		node("expense", "", "Expenses", 1),
		node("expense:payment-processing", "expense", "Payment processing", 2),
	}
}
