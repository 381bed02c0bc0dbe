package notionsync

import (
	"context"
	"fmt"

	"github.com/jomei/notionapi"
)

// DefaultPageSize is the largest page the Notion query endpoint returns.
const DefaultPageSize = 100

// AuditDatabase is the Notion database the audit pages live in. Tests
// replace it with a mock.
type AuditDatabase interface {
	// ListPages returns one batch of pages and the cursor of the next
	// batch, empty after the last one.
	ListPages(ctx context.Context, cursor string) ([]notionapi.Page, string, error)

	CreatePage(ctx context.Context, properties notionapi.Properties) (*notionapi.Page, error)

	UpdatePage(ctx context.Context, pageID string, properties notionapi.Properties) (*notionapi.Page, error)
}

// AuditDB is the AuditDatabase backed by the Notion SDK.
type AuditDB struct {
	client     *notionapi.Client
	databaseID notionapi.DatabaseID
	pageSize   int
}

// NewAuditDB binds an integration token to one audit database.
func NewAuditDB(token, databaseID string) *AuditDB {
	return &AuditDB{
		client:     notionapi.NewClient(notionapi.Token(token)),
		databaseID: notionapi.DatabaseID(databaseID),
		pageSize:   DefaultPageSize,
	}
}

// ListPages implements AuditDatabase.
func (db *AuditDB) ListPages(ctx context.Context, cursor string) ([]notionapi.Page, string, error) {
	req := &notionapi.DatabaseQueryRequest{PageSize: db.pageSize}
	if cursor != "" {
		req.StartCursor = notionapi.Cursor(cursor)
	}

	resp, err := db.client.Database.Query(ctx, db.databaseID, req)
	if err != nil {
		return nil, "", fmt.Errorf("ListPages: database %s: %w", db.databaseID, err)
	}
	if !resp.HasMore {
		return resp.Results, "", nil
	}
	return resp.Results, string(resp.NextCursor), nil
}

// CreatePage adds an audit page to the database.
func (db *AuditDB) CreatePage(ctx context.Context, properties notionapi.Properties) (*notionapi.Page, error) {
	page, err := db.client.Page.Create(ctx, &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: db.databaseID,
		},
		Properties: properties,
	})
	if err != nil {
		return nil, fmt.Errorf("CreatePage: %w", err)
	}
	return page, nil
}

// UpdatePage rewrites the properties of an existing audit page.
func (db *AuditDB) UpdatePage(ctx context.Context, pageID string, properties notionapi.Properties) (*notionapi.Page, error) {
	page, err := db.client.Page.Update(ctx, notionapi.PageID(pageID), &notionapi.PageUpdateRequest{Properties: properties})
	if err != nil {
		return nil, fmt.Errorf("UpdatePage: page %s: %w", pageID, err)
	}
	return page, nil
}

// allPages follows the cursor until the database is exhausted.
func allPages(ctx context.Context, db AuditDatabase) ([]notionapi.Page, error) {
	var (
		pages  []notionapi.Page
		cursor string
	)
	for {
		batch, next, err := db.ListPages(ctx, cursor)
		if err != nil {
			return nil, err
		}
		pages = append(pages, batch...)
		if next == "" {
			return pages, nil
		}
		cursor = next
	}
}

var _ AuditDatabase = (*AuditDB)(nil)
