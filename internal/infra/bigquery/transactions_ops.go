package bigquery

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/settlement-reconciler/internal/domain"
)

const transactionColumns = `
			transaction_id,
			transaction_date,
			amount,
			raw_description,
			source,
			account_id,
			classification,
			settlement_state,
			reconciliation_group,
			TO_JSON_STRING(reconciliation_metadata) AS reconciliation_metadata`

// transactionsQuery builds the SELECT for filter.
func transactionsQuery(cfg Config, filter domain.TransactionFilter) (string, []bigquery.QueryParameter) {
	var where []string
	var params []bigquery.QueryParameter

	if len(filter.IDs) > 0 {
		where = append(where, "transaction_id IN UNNEST(@ids)")
		params = append(params, bigquery.QueryParameter{Name: "ids", Value: uniqueIDs(filter.IDs)})
	}
	if filter.From.IsValid() {
		where = append(where, "transaction_date >= @from_date")
		params = append(params, bigquery.QueryParameter{Name: "from_date", Value: filter.From})
	}
	if filter.To.IsValid() {
		where = append(where, "transaction_date <= @to_date")
		params = append(params, bigquery.QueryParameter{Name: "to_date", Value: filter.To})
	}
	if len(filter.States) > 0 {
		states := make([]string, len(filter.States))
		for i, s := range filter.States {
			states[i] = string(s)
		}
		where = append(where, "settlement_state IN UNNEST(@states)")
		params = append(params, bigquery.QueryParameter{Name: "states", Value: states})
	}
	if filter.Source != "" {
		where = append(where, "source = @source")
		params = append(params, bigquery.QueryParameter{Name: "source", Value: filter.Source})
	}

	var b strings.Builder
	b.WriteString("SELECT")
	b.WriteString(transactionColumns)
	b.WriteString("\n\t\tFROM " + cfg.table(transactionsTable))
	if len(where) > 0 {
		b.WriteString("\n\t\tWHERE " + strings.Join(where, "\n\t\t  AND "))
	}
	b.WriteString("\n\t\tORDER BY transaction_date, transaction_id")
	return b.String(), params
}

// ListTransactionsWithClient returns the transactions matching filter
// ordered by date then id.
func ListTransactionsWithClient(ctx context.Context, client *bigquery.Client, cfg Config, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	sql, params := transactionsQuery(cfg, filter)
	q := client.Query(sql)
	q.Parameters = params

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListTransactions: query read: %w", err)
	}

	var out []domain.Transaction
	for {
		var r TransactionRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListTransactions: iter next: %w", err)
		}
		tx, err := r.ToDomain()
		if err != nil {
			return nil, fmt.Errorf("ListTransactions: %w", err)
		}
		out = append(out, tx)
	}
	return out, nil
}

// insertTransactionsScript refuses the whole batch when any id exists. DML
// keeps the rows out of the streaming buffer so they can be updated at once.
func insertTransactionsScript(cfg Config) string {
	t := cfg.table(transactionsTable)
	return `
		IF EXISTS (SELECT 1 FROM ` + t + ` WHERE transaction_id IN UNNEST(@ids)) THEN
		  RAISE USING MESSAGE = 'transaction ids already exist';
		END IF;
		INSERT INTO ` + t + ` (
			transaction_id, transaction_date, amount, raw_description, source, account_id,
			classification, settlement_state, reconciliation_group, reconciliation_metadata,
			created_ts
		)
		SELECT
			r.transaction_id, r.transaction_date, r.amount, r.raw_description, r.source, r.account_id,
			r.classification, r.settlement_state, r.reconciliation_group,
			IF(r.reconciliation_metadata IS NULL, NULL, PARSE_JSON(r.reconciliation_metadata)),
			CURRENT_TIMESTAMP()
		FROM UNNEST(@rows) AS r`
}

// InsertTransactionsWithClient inserts txs. Nothing is written when any id
// already exists.
func InsertTransactionsWithClient(ctx context.Context, client *bigquery.Client, cfg Config, txs []domain.Transaction) error {
	if len(txs) == 0 {
		return nil
	}
	rows := make([]TransactionRow, len(txs))
	ids := make([]string, len(txs))
	for i, tx := range txs {
		if tx.ID == "" {
			return fmt.Errorf("InsertTransactions: transaction ID is required")
		}
		r, err := TransactionToRow(tx)
		if err != nil {
			return fmt.Errorf("InsertTransactions: %w", err)
		}
		rows[i] = r
		ids[i] = tx.ID
	}

	if _, err := runScript(ctx, client, insertTransactionsScript(cfg), []bigquery.QueryParameter{
		{Name: "ids", Value: ids},
		{Name: "rows", Value: rows},
	}); err != nil {
		return fmt.Errorf("InsertTransactions: %w", err)
	}
	return nil
}

// UpdateTransactionStateWithClient sets state on ids and, when group is not
// empty, their reconciliation group. Nothing changes when any id is missing.
func UpdateTransactionStateWithClient(ctx context.Context, client *bigquery.Client, cfg Config, ids []string, state domain.SettlementState, group string) error {
	if !state.Valid() {
		return fmt.Errorf("UpdateTransactionState: invalid state %q", state)
	}
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return nil
	}
	t := cfg.table(transactionsTable)
	sql := `
		IF (SELECT COUNT(*) FROM ` + t + ` WHERE transaction_id IN UNNEST(@ids)) != ARRAY_LENGTH(@ids) THEN
		  RAISE USING MESSAGE = 'transactions not found';
		END IF;
		UPDATE ` + t + `
		SET settlement_state = @state,
		    reconciliation_group = IF(@group = '', reconciliation_group, @group),
		    updated_ts = CURRENT_TIMESTAMP()
		WHERE transaction_id IN UNNEST(@ids)`

	if _, err := runScript(ctx, client, sql, []bigquery.QueryParameter{
		{Name: "ids", Value: ids},
		{Name: "state", Value: string(state)},
		{Name: "group", Value: group},
	}); err != nil {
		return fmt.Errorf("UpdateTransactionState: %w", err)
	}
	return nil
}
