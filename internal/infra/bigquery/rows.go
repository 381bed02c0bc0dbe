package bigquery

import (
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/settlement-reconciler/internal/domain"
)

// numericScale is the fractional precision of a BigQuery NUMERIC.
const numericScale = 9

type TransactionRow struct {
	TransactionID   string     `bigquery:"transaction_id"`   // REQUIRED
	TransactionDate civil.Date `bigquery:"transaction_date"` // REQUIRED
	Amount          *big.Rat   `bigquery:"amount"`           // REQUIRED NUMERIC
	RawDescription  string     `bigquery:"raw_description"`  // REQUIRED
	Source          string     `bigquery:"source"`           // REQUIRED
	AccountID       string     `bigquery:"account_id"`       // NULLABLE (empty string → "")

	Classification bigquery.NullString `bigquery:"classification"` // NULLABLE

	SettlementState        string              `bigquery:"settlement_state"`        // REQUIRED
	ReconciliationGroup    bigquery.NullString `bigquery:"reconciliation_group"`    // NULLABLE
	ReconciliationMetadata bigquery.NullString `bigquery:"reconciliation_metadata"` // JSON, read through TO_JSON_STRING
}

type SettlementEntryRow struct {
	EntryID        string              `bigquery:"entry_id"`        // REQUIRED
	SettlementDate civil.Date          `bigquery:"settlement_date"` // REQUIRED
	Value          *big.Rat            `bigquery:"value"`           // REQUIRED NUMERIC
	EntryType      string              `bigquery:"entry_type"`      // NULLABLE
	ContractID     bigquery.NullString `bigquery:"contract_id"`     // NULLABLE
	Consumed       bool                `bigquery:"consumed"`        // REQUIRED, default FALSE
}

type ContractRuleRow struct {
	ContractID        bigquery.NullString `bigquery:"contract_id"`         // NULLABLE
	SettlementEntryID bigquery.NullString `bigquery:"settlement_entry_id"` // NULLABLE
	CatalogPercent    *big.Rat            `bigquery:"catalog_percent"`     // REQUIRED NUMERIC
	PlansPercent      *big.Rat            `bigquery:"plans_percent"`       // REQUIRED NUMERIC
	LoadedTS          time.Time           `bigquery:"loaded_ts"`           // REQUIRED
}

type AccountRow struct {
	AccountID       string              `bigquery:"account_id"`        // REQUIRED, e.g. "revenue:individual:catalog"
	ParentAccountID bigquery.NullString `bigquery:"parent_account_id"` // NULLABLE
	Name            string              `bigquery:"name"`              // REQUIRED
	Depth           int64               `bigquery:"depth"`             // REQUIRED
	IsActive        bigquery.NullBool   `bigquery:"is_active"`         // NULLABLE, NULL means active
}

func toRat(d decimal.Decimal) *big.Rat { return d.Rat() }

func fromRat(r *big.Rat) (decimal.Decimal, error) {
	if r == nil {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(r.FloatString(numericScale))
}

func nullString(p *string) bigquery.NullString {
	if p == nil {
		return bigquery.NullString{}
	}
	return bigquery.NullString{StringVal: *p, Valid: true}
}

func nonEmpty(s string) bigquery.NullString {
	return bigquery.NullString{StringVal: s, Valid: s != ""}
}

func stringPtr(n bigquery.NullString) *string {
	if !n.Valid {
		return nil
	}
	s := n.StringVal
	return &s
}

// TransactionToRow converts a ledger transaction into its table row.
func TransactionToRow(tx domain.Transaction) (TransactionRow, error) {
	meta, err := domain.MarshalMetadata(tx.ReconciliationMetadata)
	if err != nil {
		return TransactionRow{}, fmt.Errorf("TransactionToRow: %s: %w", tx.ID, err)
	}
	state := tx.SettlementState
	if state == "" {
		state = domain.StatePending
	}
	return TransactionRow{
		TransactionID:          tx.ID,
		TransactionDate:        tx.Date,
		Amount:                 toRat(tx.Amount),
		RawDescription:         tx.OriginDescription,
		Source:                 tx.Source,
		AccountID:              tx.Account,
		Classification:         nullString(tx.Classification),
		SettlementState:        string(state),
		ReconciliationGroup:    nullString(tx.ReconciliationGroup),
		ReconciliationMetadata: nonEmpty(meta),
	}, nil
}

// ToDomain converts the row back into a ledger transaction.
func (r TransactionRow) ToDomain() (domain.Transaction, error) {
	amount, err := fromRat(r.Amount)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("TransactionRow.ToDomain: %s: amount: %w", r.TransactionID, err)
	}
	meta, err := domain.UnmarshalMetadata(r.ReconciliationMetadata.StringVal)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("TransactionRow.ToDomain: %s: %w", r.TransactionID, err)
	}
	return domain.Transaction{
		ID:                     r.TransactionID,
		Date:                   r.TransactionDate,
		Amount:                 amount,
		OriginDescription:      r.RawDescription,
		Source:                 r.Source,
		Account:                r.AccountID,
		Classification:         stringPtr(r.Classification),
		SettlementState:        domain.SettlementState(r.SettlementState),
		ReconciliationGroup:    stringPtr(r.ReconciliationGroup),
		ReconciliationMetadata: meta,
	}, nil
}

// EntryToRow converts a settlement entry into its table row.
func EntryToRow(e domain.SettlementEntry) SettlementEntryRow {
	return SettlementEntryRow{
		EntryID:        e.ID,
		SettlementDate: e.Date,
		Value:          toRat(e.Value),
		EntryType:      e.Type,
		ContractID:     nullString(e.ContractID),
		Consumed:       e.Consumed,
	}
}

// ToDomain converts the row back into a settlement entry.
func (r SettlementEntryRow) ToDomain() (domain.SettlementEntry, error) {
	value, err := fromRat(r.Value)
	if err != nil {
		return domain.SettlementEntry{}, fmt.Errorf("SettlementEntryRow.ToDomain: %s: %w", r.EntryID, err)
	}
	return domain.SettlementEntry{
		ID:         r.EntryID,
		Date:       r.SettlementDate,
		Value:      value,
		Type:       r.EntryType,
		ContractID: stringPtr(r.ContractID),
		Consumed:   r.Consumed,
	}, nil
}

// RuleToRow converts a contract rule into its table row.
func RuleToRow(rule domain.ContractPercentageRule, loaded time.Time) ContractRuleRow {
	return ContractRuleRow{
		ContractID:        nonEmpty(rule.ContractID),
		SettlementEntryID: nonEmpty(rule.SettlementEntryID),
		CatalogPercent:    toRat(rule.CatalogPercent),
		PlansPercent:      toRat(rule.PlansPercent),
		LoadedTS:          loaded,
	}
}

// ToDomain converts the row back into a contract rule.
func (r ContractRuleRow) ToDomain() (domain.ContractPercentageRule, error) {
	catalog, err := fromRat(r.CatalogPercent)
	if err != nil {
		return domain.ContractPercentageRule{}, fmt.Errorf("ContractRuleRow.ToDomain: catalog_percent: %w", err)
	}
	plans, err := fromRat(r.PlansPercent)
	if err != nil {
		return domain.ContractPercentageRule{}, fmt.Errorf("ContractRuleRow.ToDomain: plans_percent: %w", err)
	}
	return domain.ContractPercentageRule{
		ContractID:        r.ContractID.StringVal,
		SettlementEntryID: r.SettlementEntryID.StringVal,
		CatalogPercent:    catalog,
		PlansPercent:      plans,
	}, nil
}

// ToDomain converts the row into a chart-of-accounts node.
func (r AccountRow) ToDomain() domain.ChartAccount {
	return domain.ChartAccount{
		ID:       r.AccountID,
		ParentID: r.ParentAccountID.StringVal,
		Name:     r.Name,
		Depth:    int(r.Depth),
		Active:   !r.IsActive.Valid || r.IsActive.Bool,
	}
}
