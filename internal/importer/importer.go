// Package importer loads bank statements, settlement entries and contract
// rules into the ledger store.
package importer

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/settlement-reconciler/internal/dedup"
	"github.com/dvloznov/settlement-reconciler/internal/domain"
	"github.com/dvloznov/settlement-reconciler/internal/logger"
	"github.com/dvloznov/settlement-reconciler/internal/money"
)

// TransactionStore is the part of the ledger the statement import needs.
type TransactionStore interface {
	ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error)
	WriteTransactions(ctx context.Context, txs []domain.Transaction) error
}

// EntryStore receives settlement entries.
type EntryStore interface {
	ListSettlementEntries(ctx context.Context, filter domain.EntryFilter) ([]domain.SettlementEntry, error)
	WriteSettlementEntries(ctx context.Context, entries []domain.SettlementEntry) error
}

// RuleStore receives the contract rule set.
type RuleStore interface {
	ReplaceContractRules(ctx context.Context, rules []domain.ContractPercentageRule) error
}

// StorageService fetches uploaded files.
type StorageService interface {
	FetchFromGCS(ctx context.Context, gcsURI string) ([]byte, error)
}

// StatementParser extracts raw statement rows from a PDF.
type StatementParser interface {
	ParseStatement(ctx context.Context, pdfBytes []byte) ([]Row, error)
}

// Importer runs imports against one store.
type Importer struct {
	txs     TransactionStore
	entries EntryStore
	rules   RuleStore
	locale  money.Locale

	storage StorageService
	parser  StatementParser
}

// Option configures an Importer.
type Option func(*Importer)

// WithLocale sets how amount strings are read. The default is AUTO.
func WithLocale(l money.Locale) Option {
	return func(im *Importer) { im.locale = l }
}

// WithPDFSupport enables ImportPDF.
func WithPDFSupport(storage StorageService, parser StatementParser) Option {
	return func(im *Importer) {
		im.storage = storage
		im.parser = parser
	}
}

// New creates an Importer. Any of the stores may be nil when the matching
// import is never used.
func New(txs TransactionStore, entries EntryStore, rules RuleStore, opts ...Option) *Importer {
	im := &Importer{txs: txs, entries: entries, rules: rules, locale: money.LocaleAuto}
	for _, opt := range opts {
		opt(im)
	}
	return im
}

// ImportStatementRows imports decoded statement rows. source and account
// apply to rows that do not name their own.
func (im *Importer) ImportStatementRows(ctx context.Context, source, account string, rows []Row) (Summary, error) {
	if im.txs == nil {
		return Summary{}, errors.New("ImportStatementRows: no transaction store configured")
	}
	state := &State{Source: source, Account: account, Locale: im.locale, Rows: rows}
	err := NewRowImportPipeline(im.txs).Execute(ctx, state)
	im.log(ctx, "statement_rows", source, state.Summary, err)
	if err != nil {
		return state.Summary, fmt.Errorf("ImportStatementRows: %w", err)
	}
	return state.Summary, nil
}

// ImportPDF extracts and imports the statement stored at gcsURI.
func (im *Importer) ImportPDF(ctx context.Context, gcsURI, source, account string) (Summary, error) {
	if im.storage == nil || im.parser == nil {
		return Summary{}, errors.New("ImportPDF: PDF extraction is not configured")
	}
	if im.txs == nil {
		return Summary{}, errors.New("ImportPDF: no transaction store configured")
	}
	state := &State{URI: gcsURI, Source: source, Account: account, Locale: im.locale}
	err := NewPDFImportPipeline(im.storage, im.parser, im.txs).Execute(ctx, state)
	im.log(ctx, "statement_pdf", source, state.Summary, err)
	if err != nil {
		return state.Summary, fmt.Errorf("ImportPDF: %w", err)
	}
	return state.Summary, nil
}

// ImportSettlementEntries parses and stores settlement entries. Entries whose
// provider id is already stored are counted as duplicates.
func (im *Importer) ImportSettlementEntries(ctx context.Context, rows []Row) (Summary, error) {
	if im.entries == nil {
		return Summary{}, errors.New("ImportSettlementEntries: no entry store configured")
	}
	sum := Summary{Lines: len(rows)}
	var parsed []domain.SettlementEntry
	for i, row := range rows {
		e, err := settlementEntry(row, im.locale, i+1)
		if errors.Is(err, money.ErrBlank) {
			sum.Skipped++
			continue
		}
		if err != nil {
			sum.addError(err)
			continue
		}
		parsed = append(parsed, e)
	}

	existing := dedup.NewIDSet()
	if len(parsed) > 0 {
		ids := make([]string, len(parsed))
		for i, e := range parsed {
			ids[i] = e.ID
		}
		stored, err := im.entries.ListSettlementEntries(ctx, domain.EntryFilter{IDs: ids, IncludeConsumed: true})
		if err != nil {
			return sum, fmt.Errorf("ImportSettlementEntries: list entries: %w", err)
		}
		for _, e := range stored {
			existing[e.ID] = struct{}{}
		}
	}

	toAdd, dups := dedup.DedupeEntries(existing, parsed)
	sum.Duplicates = len(dups)
	if len(toAdd) > 0 {
		if err := im.entries.WriteSettlementEntries(ctx, toAdd); err != nil {
			err = domain.Persistence("WriteSettlementEntries", err)
			im.log(ctx, "settlement_entries", "", sum, err)
			return sum, fmt.Errorf("ImportSettlementEntries: %w", err)
		}
		sum.Added = len(toAdd)
	}
	im.log(ctx, "settlement_entries", "", sum, nil)
	return sum, nil
}

// ImportContractRules replaces the stored rule set with rows. Rules whose
// percentages do not add up to 100 are still stored and only fail at split
// time; they are reported in Summary.Errors.
func (im *Importer) ImportContractRules(ctx context.Context, rows []Row) (Summary, error) {
	if im.rules == nil {
		return Summary{}, errors.New("ImportContractRules: no rule store configured")
	}
	sum := Summary{Lines: len(rows)}
	var rules []domain.ContractPercentageRule
	for i, row := range rows {
		r, err := contractRule(row, im.locale, i+1)
		if err != nil {
			sum.addError(err)
			continue
		}
		if !r.CatalogPercent.Add(r.PlansPercent).Equal(hundred) && len(sum.Errors) < maxReportedErrors {
			sum.Errors = append(sum.Errors, fmt.Sprintf("line %d: percentages sum to %s", i+1, r.CatalogPercent.Add(r.PlansPercent)))
		}
		rules = append(rules, r)
	}
	if sum.ParseErrors > 0 {
		im.log(ctx, "contract_rules", "", sum, nil)
		return sum, fmt.Errorf("ImportContractRules: %d malformed rows, rule set left unchanged: %w", sum.ParseErrors, domain.ErrParse)
	}
	if err := im.rules.ReplaceContractRules(ctx, rules); err != nil {
		err = domain.Persistence("ReplaceContractRules", err)
		im.log(ctx, "contract_rules", "", sum, err)
		return sum, fmt.Errorf("ImportContractRules: %w", err)
	}
	sum.Added = len(rules)
	im.log(ctx, "contract_rules", "", sum, nil)
	return sum, nil
}

func (im *Importer) log(ctx context.Context, kind, source string, sum Summary, err error) {
	log := logger.FromContext(ctx)
	ev := log.Info()
	if err != nil {
		ev = log.Error().Err(err)
	}
	ev.Str("kind", kind).
		Str("source", source).
		Int("lines", sum.Lines).
		Int("added", sum.Added).
		Int("duplicates", sum.Duplicates).
		Int("skipped", sum.Skipped).
		Int("parse_errors", sum.ParseErrors).
		Msg("import finished")
}
