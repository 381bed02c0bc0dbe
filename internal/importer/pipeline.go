package importer

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/settlement-reconciler/internal/dedup"
	"github.com/dvloznov/settlement-reconciler/internal/domain"
	"github.com/dvloznov/settlement-reconciler/internal/identity"
	"github.com/dvloznov/settlement-reconciler/internal/money"
)

// maxReportedErrors caps Summary.Errors. The counters stay exact.
const maxReportedErrors = 20

// Summary reports the outcome of one import.
type Summary struct {
	Lines       int      `json:"lines"`
	Added       int      `json:"added"`
	Duplicates  int      `json:"duplicates"`
	Skipped     int      `json:"skipped"` // blank amounts
	ParseErrors int      `json:"parse_errors"`
	Errors      []string `json:"errors,omitempty"`
}

func (s *Summary) addError(err error) {
	s.ParseErrors++
	if len(s.Errors) < maxReportedErrors {
		s.Errors = append(s.Errors, err.Error())
	}
}

// Step represents a single stage of a statement import.
type Step interface {
	Execute(ctx context.Context, state *State) error
}

// State holds the shared state across all steps.
type State struct {
	URI     string // gs:// location, statement PDFs only
	Source  string
	Account string
	Locale  money.Locale

	PDFBytes     []byte
	Rows         []Row
	Lines        []identity.Line
	Transactions []domain.Transaction
	Existing     dedup.IDSet
	ToAdd        []domain.Transaction

	Summary Summary
}

// FetchStep downloads the statement file.
type FetchStep struct{ Storage StorageService }

func (s *FetchStep) Execute(ctx context.Context, state *State) error {
	data, err := s.Storage.FetchFromGCS(ctx, state.URI)
	if err != nil {
		return err
	}
	state.PDFBytes = data
	return nil
}

// ExtractStep turns the statement PDF into raw rows.
type ExtractStep struct{ Parser StatementParser }

func (s *ExtractStep) Execute(ctx context.Context, state *State) error {
	rows, err := s.Parser.ParseStatement(ctx, state.PDFBytes)
	if err != nil {
		return err
	}
	state.Rows = rows
	return nil
}

// ParseRowsStep parses dates and amounts. Malformed rows are counted and
// reported, blank amounts are skipped silently.
type ParseRowsStep struct{}

func (s *ParseRowsStep) Execute(ctx context.Context, state *State) error {
	state.Summary.Lines = len(state.Rows)
	state.Lines = state.Lines[:0]
	state.Transactions = state.Transactions[:0]

	for i, row := range state.Rows {
		line := i + 1
		tx, err := statementTransaction(row, state, line)
		if errors.Is(err, money.ErrBlank) {
			state.Summary.Skipped++
			continue
		}
		if err != nil {
			state.Summary.addError(err)
			continue
		}
		state.Lines = append(state.Lines, identity.Line{
			Source:      tx.Source,
			Date:        tx.Date,
			Description: tx.OriginDescription,
			Amount:      tx.Amount,
		})
		state.Transactions = append(state.Transactions, tx)
	}
	return nil
}

func statementTransaction(row Row, state *State, line int) (domain.Transaction, error) {
	date, err := dateField(row, line, "date", "data", "booking_date")
	if err != nil {
		return domain.Transaction{}, err
	}
	description, err := requiredField(row, line, "description", "descricao", "historico")
	if err != nil {
		return domain.Transaction{}, err
	}
	amount, err := amountField(row, state.Locale, line, "amount", "valor")
	if err != nil {
		return domain.Transaction{}, err
	}

	source := state.Source
	if _, v := row.first("source", "banco"); v != "" {
		source = v
	}
	if source == "" {
		return domain.Transaction{}, &domain.ParseError{Line: line, Field: "source", Err: errors.New("no source for statement line")}
	}
	account := state.Account
	if _, v := row.first("account", "account_number", "conta"); v != "" {
		account = v
	}

	return domain.Transaction{
		Date:              date,
		Amount:            amount,
		OriginDescription: description,
		Source:            source,
		Account:           account,
		SettlementState:   domain.StatePending,
	}, nil
}

// AssignIdentityStep derives the deterministic id of every parsed line.
type AssignIdentityStep struct{}

func (s *AssignIdentityStep) Execute(ctx context.Context, state *State) error {
	ids := identity.IdentifyAll(state.Lines)
	for i := range state.Transactions {
		state.Transactions[i].ID = ids[i]
	}
	return nil
}

// LoadExistingStep reads which of the candidate ids are already stored.
type LoadExistingStep struct{ Store TransactionStore }

func (s *LoadExistingStep) Execute(ctx context.Context, state *State) error {
	state.Existing = dedup.NewIDSet()
	if len(state.Transactions) == 0 {
		return nil
	}
	ids := make([]string, len(state.Transactions))
	for i, tx := range state.Transactions {
		ids[i] = tx.ID
	}
	existing, err := s.Store.ListTransactions(ctx, domain.TransactionFilter{IDs: ids})
	if err != nil {
		return fmt.Errorf("LoadExistingStep: list transactions: %w", err)
	}
	for _, tx := range existing {
		state.Existing[tx.ID] = struct{}{}
	}
	return nil
}

// DedupeStep drops lines that are already stored or repeated in the batch.
type DedupeStep struct{}

func (s *DedupeStep) Execute(ctx context.Context, state *State) error {
	toAdd, dups := dedup.Dedupe(state.Existing, state.Transactions)
	state.ToAdd = toAdd
	state.Summary.Duplicates = len(dups)
	return nil
}

// WriteStep stores the new transactions in one batch.
type WriteStep struct{ Store TransactionStore }

func (s *WriteStep) Execute(ctx context.Context, state *State) error {
	if len(state.ToAdd) == 0 {
		return nil
	}
	if err := s.Store.WriteTransactions(ctx, state.ToAdd); err != nil {
		return domain.Persistence("WriteTransactions", err)
	}
	state.Summary.Added = len(state.ToAdd)
	return nil
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []Step
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...Step) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs all steps sequentially and stops at the first failure.
func (p *Pipeline) Execute(ctx context.Context, state *State) error {
	for i, step := range p.steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("import step %d failed: %w", i+1, err)
		}
	}
	return nil
}

// NewRowImportPipeline parses already decoded rows and stores the new ones.
func NewRowImportPipeline(store TransactionStore) *Pipeline {
	return NewPipeline(
		&ParseRowsStep{},
		&AssignIdentityStep{},
		&LoadExistingStep{Store: store},
		&DedupeStep{},
		&WriteStep{Store: store},
	)
}

// NewPDFImportPipeline fetches and extracts a statement PDF before running
// the row steps.
func NewPDFImportPipeline(storage StorageService, parser StatementParser, store TransactionStore) *Pipeline {
	return NewPipeline(
		&FetchStep{Storage: storage},
		&ExtractStep{Parser: parser},
		&ParseRowsStep{},
		&AssignIdentityStep{},
		&LoadExistingStep{Store: store},
		&DedupeStep{},
		&WriteStep{Store: store},
	)
}
