package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
)

// Config names the dataset holding the ledger tables.
type Config struct {
	ProjectID string
	DatasetID string
}

// DefaultDatasetID is used when Config.DatasetID is empty.
const DefaultDatasetID = "reconciliation"

func (c Config) dataset() string {
	if c.DatasetID == "" {
		return DefaultDatasetID
	}
	return c.DatasetID
}

// table returns the quoted, fully qualified name of a ledger table.
func (c Config) table(name string) string {
	return fmt.Sprintf("`%s.%s.%s`", c.ProjectID, c.dataset(), name)
}

const (
	transactionsTable = "transactions"
	entriesTable      = "settlement_entries"
	rulesTable        = "contract_rules"
	accountsTable     = "chart_of_accounts"
)

// runScript runs a DML statement or script and waits for it. It returns the
// number of rows the last DML statement touched.
func runScript(ctx context.Context, client *bigquery.Client, sql string, params []bigquery.QueryParameter) (int64, error) {
	q := client.Query(sql)
	q.Parameters = params

	job, err := q.Run(ctx)
	if err != nil {
		return 0, fmt.Errorf("running query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return 0, fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return 0, fmt.Errorf("job error: %w", err)
	}
	if status.Statistics != nil {
		if qs, ok := status.Statistics.Details.(*bigquery.QueryStatistics); ok {
			return qs.NumDMLAffectedRows, nil
		}
	}
	return 0, nil
}

// uniqueIDs drops repeated ids and never returns nil, so an empty list still
// binds as an empty ARRAY<STRING>.
func uniqueIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
