package bigquery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/settlement-reconciler/internal/domain"
)

// entriesQuery builds the SELECT for filter.
func entriesQuery(cfg Config, filter domain.EntryFilter) (string, []bigquery.QueryParameter) {
	var where []string
	var params []bigquery.QueryParameter

	if !filter.IncludeConsumed {
		where = append(where, "consumed = FALSE")
	}
	if len(filter.IDs) > 0 {
		where = append(where, "entry_id IN UNNEST(@ids)")
		params = append(params, bigquery.QueryParameter{Name: "ids", Value: uniqueIDs(filter.IDs)})
	}
	if filter.From.IsValid() {
		where = append(where, "settlement_date >= @from_date")
		params = append(params, bigquery.QueryParameter{Name: "from_date", Value: filter.From})
	}
	if filter.To.IsValid() {
		where = append(where, "settlement_date <= @to_date")
		params = append(params, bigquery.QueryParameter{Name: "to_date", Value: filter.To})
	}

	var b strings.Builder
	b.WriteString(`SELECT
			entry_id,
			settlement_date,
			value,
			entry_type,
			contract_id,
			consumed`)
	b.WriteString("\n\t\tFROM " + cfg.table(entriesTable))
	if len(where) > 0 {
		b.WriteString("\n\t\tWHERE " + strings.Join(where, "\n\t\t  AND "))
	}
	b.WriteString("\n\t\tORDER BY settlement_date, entry_id")
	return b.String(), params
}

// ListSettlementEntriesWithClient returns the entries matching filter
// ordered by date then id.
func ListSettlementEntriesWithClient(ctx context.Context, client *bigquery.Client, cfg Config, filter domain.EntryFilter) ([]domain.SettlementEntry, error) {
	sql, params := entriesQuery(cfg, filter)
	q := client.Query(sql)
	q.Parameters = params

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListSettlementEntries: query read: %w", err)
	}

	var out []domain.SettlementEntry
	for {
		var r SettlementEntryRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListSettlementEntries: iter next: %w", err)
		}
		e, err := r.ToDomain()
		if err != nil {
			return nil, fmt.Errorf("ListSettlementEntries: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

// InsertSettlementEntriesWithClient inserts entries. Nothing is written when
// any id already exists.
func InsertSettlementEntriesWithClient(ctx context.Context, client *bigquery.Client, cfg Config, entries []domain.SettlementEntry) error {
	if len(entries) == 0 {
		return nil
	}
	rows := make([]SettlementEntryRow, len(entries))
	ids := make([]string, len(entries))
	for i, e := range entries {
		rows[i] = EntryToRow(e)
		ids[i] = e.ID
	}
	t := cfg.table(entriesTable)
	sql := `
		IF EXISTS (SELECT 1 FROM ` + t + ` WHERE entry_id IN UNNEST(@ids)) THEN
		  RAISE USING MESSAGE = 'settlement entry ids already exist';
		END IF;
		INSERT INTO ` + t + ` (entry_id, settlement_date, value, entry_type, contract_id, consumed, created_ts)
		SELECT r.entry_id, r.settlement_date, r.value, r.entry_type, r.contract_id, r.consumed, CURRENT_TIMESTAMP()
		FROM UNNEST(@rows) AS r`

	if _, err := runScript(ctx, client, sql, []bigquery.QueryParameter{
		{Name: "ids", Value: ids},
		{Name: "rows", Value: rows},
	}); err != nil {
		return fmt.Errorf("InsertSettlementEntries: %w", err)
	}
	return nil
}

// MarkEntriesConsumedWithClient flags ids as consumed. Nothing changes when
// any id is missing.
func MarkEntriesConsumedWithClient(ctx context.Context, client *bigquery.Client, cfg Config, ids []string) error {
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return nil
	}
	t := cfg.table(entriesTable)
	sql := `
		IF (SELECT COUNT(*) FROM ` + t + ` WHERE entry_id IN UNNEST(@ids)) != ARRAY_LENGTH(@ids) THEN
		  RAISE USING MESSAGE = 'settlement entries not found';
		END IF;
		UPDATE ` + t + `
		SET consumed = TRUE, consumed_ts = CURRENT_TIMESTAMP()
		WHERE entry_id IN UNNEST(@ids)`

	if _, err := runScript(ctx, client, sql, []bigquery.QueryParameter{{Name: "ids", Value: ids}}); err != nil {
		return fmt.Errorf("MarkEntriesConsumed: %w", err)
	}
	return nil
}

// ReplaceContractRulesWithClient swaps the rule set inside one
// multi-statement transaction.
func ReplaceContractRulesWithClient(ctx context.Context, client *bigquery.Client, cfg Config, rules []domain.ContractPercentageRule) error {
	now := time.Now().UTC()
	rows := make([]ContractRuleRow, len(rules))
	for i, r := range rules {
		rows[i] = RuleToRow(r, now)
	}
	t := cfg.table(rulesTable)
	sql := `
		BEGIN TRANSACTION;
		DELETE FROM ` + t + ` WHERE TRUE;
		INSERT INTO ` + t + ` (contract_id, settlement_entry_id, catalog_percent, plans_percent, loaded_ts)
		SELECT r.contract_id, r.settlement_entry_id, r.catalog_percent, r.plans_percent, r.loaded_ts
		FROM UNNEST(@rows) AS r;
		COMMIT TRANSACTION;`

	if _, err := runScript(ctx, client, sql, []bigquery.QueryParameter{{Name: "rows", Value: rows}}); err != nil {
		return fmt.Errorf("ReplaceContractRules: %w", err)
	}
	return nil
}

// ListContractRulesWithClient returns the rules bound to any of contractIDs
// or entryIDs.
func ListContractRulesWithClient(ctx context.Context, client *bigquery.Client, cfg Config, contractIDs, entryIDs []string) ([]domain.ContractPercentageRule, error) {
	if len(contractIDs) == 0 && len(entryIDs) == 0 {
		return nil, nil
	}
	q := client.Query(`
		SELECT
			contract_id,
			settlement_entry_id,
			catalog_percent,
			plans_percent,
			loaded_ts
		FROM ` + cfg.table(rulesTable) + `
		WHERE contract_id IN UNNEST(@contract_ids)
		   OR settlement_entry_id IN UNNEST(@entry_ids)
		ORDER BY loaded_ts, contract_id, settlement_entry_id`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "contract_ids", Value: uniqueIDs(contractIDs)},
		{Name: "entry_ids", Value: uniqueIDs(entryIDs)},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListContractRules: query read: %w", err)
	}

	var out []domain.ContractPercentageRule
	for {
		var r ContractRuleRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListContractRules: iter next: %w", err)
		}
		rule, err := r.ToDomain()
		if err != nil {
			return nil, fmt.Errorf("ListContractRules: %w", err)
		}
		out = append(out, rule)
	}
	return out, nil
}

// ListActiveAccountsWithClient returns the active chart-of-accounts nodes
// ordered by depth then id.
func ListActiveAccountsWithClient(ctx context.Context, client *bigquery.Client, cfg Config) ([]domain.ChartAccount, error) {
	q := client.Query(`
		SELECT
		  account_id,
		  parent_account_id,
		  name,
		  depth,
		  is_active
		FROM ` + cfg.table(accountsTable) + `
		WHERE is_active IS NULL OR is_active = TRUE
		ORDER BY depth, account_id`)

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListActiveAccounts: query read: %w", err)
	}

	var out []domain.ChartAccount
	for {
		var r AccountRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListActiveAccounts: iter next: %w", err)
		}
		out = append(out, r.ToDomain())
	}
	return out, nil
}
