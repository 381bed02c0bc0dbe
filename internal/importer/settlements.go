package importer

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/settlement-reconciler/internal/domain"
	"github.com/dvloznov/settlement-reconciler/internal/money"
)

var hundred = decimal.NewFromInt(100)

var errSubCent = errors.New("value is finer than a cent")

// settlementEntry reads one provider row. A blank value yields money.ErrBlank
// wrapped in a ParseError; values finer than a cent are rejected.
func settlementEntry(row Row, locale money.Locale, line int) (domain.SettlementEntry, error) {
	id, err := requiredField(row, line, "id", "transaction_id", "settlement_entry_id", "id_transacao")
	if err != nil {
		return domain.SettlementEntry{}, err
	}
	date, err := dateField(row, line, "date", "settlement_date", "data_liquidacao", "data")
	if err != nil {
		return domain.SettlementEntry{}, err
	}
	value, err := amountField(row, locale, line, "value", "valor", "amount")
	if err != nil {
		return domain.SettlementEntry{}, err
	}
	if !value.Equal(value.Round(2)) {
		return domain.SettlementEntry{}, &domain.ParseError{Line: line, Field: "value", Value: value.String(), Err: errSubCent}
	}

	_, typ := row.first("type", "tipo", "transaction_type")
	e := domain.SettlementEntry{
		ID:       id,
		Date:     date,
		Value:    value,
		Type:     typ,
		Consumed: false,
	}
	if _, contract := row.first("contract_id", "contrato", "contract"); contract != "" {
		e.ContractID = &contract
	}
	return e, nil
}

// contractRule reads one rule row. Either a contract id or a settlement
// entry id is required.
func contractRule(row Row, locale money.Locale, line int) (domain.ContractPercentageRule, error) {
	_, contract := row.first("contract_id", "contrato")
	_, entryID := row.first("settlement_entry_id", "entry_id")
	if contract == "" && entryID == "" {
		return domain.ContractPercentageRule{}, &domain.ParseError{
			Line:  line,
			Field: "contract_id",
			Err:   errors.New("rule needs a contract_id or a settlement_entry_id"),
		}
	}
	catalog, err := amountField(row, locale, line, "catalog_percent", "percentual_catalogo", "catalog")
	if err != nil {
		return domain.ContractPercentageRule{}, err
	}
	plans, err := amountField(row, locale, line, "plans_percent", "percentual_planos", "plans")
	if err != nil {
		return domain.ContractPercentageRule{}, err
	}
	return domain.ContractPercentageRule{
		ContractID:        contract,
		SettlementEntryID: entryID,
		CatalogPercent:    catalog,
		PlansPercent:      plans,
	}, nil
}
