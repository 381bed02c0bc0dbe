package sqlite

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/settlement-reconciler/internal/domain"
)

// TransactionModel is the transactions table. Dates are stored as
// YYYY-MM-DD text so range filters compare lexically.
type TransactionModel struct {
	ID                     string          `gorm:"primaryKey"`
	Date                   string          `gorm:"index;not null"`
	Amount                 decimal.Decimal `gorm:"type:text;not null"`
	OriginDescription      string
	Source                 string  `gorm:"index"`
	Account                string
	Classification         *string
	SettlementState        string  `gorm:"index;not null;default:'pending'"`
	ReconciliationGroup    *string `gorm:"index"`
	ReconciliationMetadata string  `gorm:"type:text"`
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

func (TransactionModel) TableName() string { return "transactions" }

// SettlementEntryModel is the settlement_entries table.
type SettlementEntryModel struct {
	ID         string          `gorm:"primaryKey"`
	Date       string          `gorm:"index;not null"`
	Value      decimal.Decimal `gorm:"type:text;not null"`
	Type       string
	ContractID *string `gorm:"index"`
	Consumed   bool    `gorm:"index;not null;default:false"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (SettlementEntryModel) TableName() string { return "settlement_entries" }

// ContractRuleModel is the contract_rules table.
type ContractRuleModel struct {
	ID                uint            `gorm:"primaryKey"`
	ContractID        string          `gorm:"index"`
	SettlementEntryID string          `gorm:"index"`
	CatalogPercent    decimal.Decimal `gorm:"type:text;not null"`
	PlansPercent      decimal.Decimal `gorm:"type:text;not null"`
}

func (ContractRuleModel) TableName() string { return "contract_rules" }

// AccountModel is the chart_of_accounts table.
type AccountModel struct {
	ID       string `gorm:"primaryKey"`
	ParentID *string
	Name     string
	Depth    int
	Active   bool `gorm:"index"`
}

func (AccountModel) TableName() string { return "chart_of_accounts" }

func toTransactionModel(tx domain.Transaction) (TransactionModel, error) {
	meta, err := domain.MarshalMetadata(tx.ReconciliationMetadata)
	if err != nil {
		return TransactionModel{}, err
	}
	state := tx.SettlementState
	if state == "" {
		state = domain.StatePending
	}
	return TransactionModel{
		ID:                     tx.ID,
		Date:                   tx.Date.String(),
		Amount:                 tx.Amount,
		OriginDescription:      tx.OriginDescription,
		Source:                 tx.Source,
		Account:                tx.Account,
		Classification:         tx.Classification,
		SettlementState:        string(state),
		ReconciliationGroup:    tx.ReconciliationGroup,
		ReconciliationMetadata: meta,
	}, nil
}

func (m TransactionModel) toDomain() (domain.Transaction, error) {
	date, err := civil.ParseDate(m.Date)
	if err != nil {
		return domain.Transaction{}, err
	}
	meta, err := domain.UnmarshalMetadata(m.ReconciliationMetadata)
	if err != nil {
		return domain.Transaction{}, err
	}
	return domain.Transaction{
		ID:                     m.ID,
		Date:                   date,
		Amount:                 m.Amount,
		OriginDescription:      m.OriginDescription,
		Source:                 m.Source,
		Account:                m.Account,
		Classification:         m.Classification,
		SettlementState:        domain.SettlementState(m.SettlementState),
		ReconciliationGroup:    m.ReconciliationGroup,
		ReconciliationMetadata: meta,
	}, nil
}

func toEntryModel(e domain.SettlementEntry) SettlementEntryModel {
	return SettlementEntryModel{
		ID:         e.ID,
		Date:       e.Date.String(),
		Value:      e.Value,
		Type:       e.Type,
		ContractID: e.ContractID,
		Consumed:   e.Consumed,
	}
}

func (m SettlementEntryModel) toDomain() (domain.SettlementEntry, error) {
	date, err := civil.ParseDate(m.Date)
	if err != nil {
		return domain.SettlementEntry{}, err
	}
	return domain.SettlementEntry{
		ID:         m.ID,
		Date:       date,
		Value:      m.Value,
		Type:       m.Type,
		ContractID: m.ContractID,
		Consumed:   m.Consumed,
	}, nil
}
