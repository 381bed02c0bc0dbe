// Package sqlite is the single-node ledger store, built on gorm and SQLite.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"sort"

	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/dvloznov/settlement-reconciler/internal/domain"
	"github.com/dvloznov/settlement-reconciler/internal/reconcile"
)

// maxInParams bounds the ids bound into a single IN clause.
const maxInParams = 500

// Store implements the ledger interfaces on a gorm database.
type Store struct {
	db *gorm.DB
}

// Open connects to the SQLite file at path and migrates the schema.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(gormsqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql handle: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps ":memory:" shared.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&TransactionModel{}, &SettlementEntryModel{}, &ContractRuleModel{}, &AccountModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ListTransactions returns the transactions matching filter ordered by date
// then id.
func (s *Store) ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	var rows []TransactionModel
	query := func(ids []string) error {
		q := s.db.WithContext(ctx).Model(&TransactionModel{})
		if ids != nil {
			q = q.Where("id IN ?", ids)
		}
		if filter.From.IsValid() {
			q = q.Where("date >= ?", filter.From.String())
		}
		if filter.To.IsValid() {
			q = q.Where("date <= ?", filter.To.String())
		}
		if len(filter.States) > 0 {
			states := make([]string, len(filter.States))
			for i, st := range filter.States {
				states[i] = string(st)
			}
			q = q.Where("settlement_state IN ?", states)
		}
		if filter.Source != "" {
			q = q.Where("source = ?", filter.Source)
		}
		var batch []TransactionModel
		if err := q.Order("date, id").Find(&batch).Error; err != nil {
			return err
		}
		rows = append(rows, batch...)
		return nil
	}

	if err := forEachChunk(filter.IDs, query); err != nil {
		return nil, fmt.Errorf("ListTransactions: %w", err)
	}

	out := make([]domain.Transaction, 0, len(rows))
	for _, r := range rows {
		tx, err := r.toDomain()
		if err != nil {
			return nil, fmt.Errorf("ListTransactions: row %s: %w", r.ID, err)
		}
		out = append(out, tx)
	}
	if len(filter.IDs) > maxInParams {
		sort.Slice(out, func(i, j int) bool {
			if out[i].Date != out[j].Date {
				return out[i].Date.Before(out[j].Date)
			}
			return out[i].ID < out[j].ID
		})
	}
	return out, nil
}

// WriteTransactions inserts txs in one database transaction. Nothing is
// written when any id exists.
func (s *Store) WriteTransactions(ctx context.Context, txs []domain.Transaction) error {
	if len(txs) == 0 {
		return nil
	}
	rows := make([]TransactionModel, 0, len(txs))
	ids := make([]string, 0, len(txs))
	for _, tx := range txs {
		if tx.ID == "" {
			return fmt.Errorf("WriteTransactions: transaction ID is required")
		}
		m, err := toTransactionModel(tx)
		if err != nil {
			return fmt.Errorf("WriteTransactions: %w", err)
		}
		rows = append(rows, m)
		ids = append(ids, tx.ID)
	}

	err := s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		existing, err := countExisting(db, &TransactionModel{}, ids)
		if err != nil {
			return err
		}
		if existing > 0 {
			return fmt.Errorf("%d transaction ids already exist", existing)
		}
		return db.CreateInBatches(rows, 200).Error
	})
	if err != nil {
		return fmt.Errorf("WriteTransactions: %w", err)
	}
	return nil
}

// UpdateTransactionState sets the state, and the group when not empty. Every
// id must exist.
func (s *Store) UpdateTransactionState(ctx context.Context, ids []string, state domain.SettlementState, group string) error {
	if !state.Valid() {
		return fmt.Errorf("UpdateTransactionState: invalid state %q", state)
	}
	updates := map[string]interface{}{"settlement_state": string(state)}
	if group != "" {
		updates["reconciliation_group"] = group
	}
	if err := updateAll(ctx, s.db, &TransactionModel{}, ids, updates); err != nil {
		return fmt.Errorf("UpdateTransactionState: %w", err)
	}
	return nil
}

// ListSettlementEntries returns the entries matching filter ordered by date
// then id.
func (s *Store) ListSettlementEntries(ctx context.Context, filter domain.EntryFilter) ([]domain.SettlementEntry, error) {
	var rows []SettlementEntryModel
	query := func(ids []string) error {
		q := s.db.WithContext(ctx).Model(&SettlementEntryModel{})
		if ids != nil {
			q = q.Where("id IN ?", ids)
		}
		if !filter.IncludeConsumed {
			q = q.Where("consumed = ?", false)
		}
		if filter.From.IsValid() {
			q = q.Where("date >= ?", filter.From.String())
		}
		if filter.To.IsValid() {
			q = q.Where("date <= ?", filter.To.String())
		}
		var batch []SettlementEntryModel
		if err := q.Order("date, id").Find(&batch).Error; err != nil {
			return err
		}
		rows = append(rows, batch...)
		return nil
	}
	if err := forEachChunk(filter.IDs, query); err != nil {
		return nil, fmt.Errorf("ListSettlementEntries: %w", err)
	}

	out := make([]domain.SettlementEntry, 0, len(rows))
	for _, r := range rows {
		e, err := r.toDomain()
		if err != nil {
			return nil, fmt.Errorf("ListSettlementEntries: row %s: %w", r.ID, err)
		}
		out = append(out, e)
	}
	return out, nil
}

// WriteSettlementEntries inserts entries. Nothing is written when any id
// exists.
func (s *Store) WriteSettlementEntries(ctx context.Context, entries []domain.SettlementEntry) error {
	if len(entries) == 0 {
		return nil
	}
	rows := make([]SettlementEntryModel, len(entries))
	ids := make([]string, len(entries))
	for i, e := range entries {
		rows[i] = toEntryModel(e)
		ids[i] = e.ID
	}
	err := s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		existing, err := countExisting(db, &SettlementEntryModel{}, ids)
		if err != nil {
			return err
		}
		if existing > 0 {
			return fmt.Errorf("%d entry ids already exist", existing)
		}
		return db.CreateInBatches(rows, 200).Error
	})
	if err != nil {
		return fmt.Errorf("WriteSettlementEntries: %w", err)
	}
	return nil
}

// MarkEntriesConsumed flags ids as consumed. Every id must exist.
func (s *Store) MarkEntriesConsumed(ctx context.Context, ids []string) error {
	if err := updateAll(ctx, s.db, &SettlementEntryModel{}, ids, map[string]interface{}{"consumed": true}); err != nil {
		return fmt.Errorf("MarkEntriesConsumed: %w", err)
	}
	return nil
}

// ReplaceContractRules swaps the whole rule set atomically.
func (s *Store) ReplaceContractRules(ctx context.Context, rules []domain.ContractPercentageRule) error {
	rows := make([]ContractRuleModel, len(rules))
	for i, r := range rules {
		rows[i] = ContractRuleModel{
			ContractID:        r.ContractID,
			SettlementEntryID: r.SettlementEntryID,
			CatalogPercent:    r.CatalogPercent,
			PlansPercent:      r.PlansPercent,
		}
	}
	err := s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		if err := db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&ContractRuleModel{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return db.CreateInBatches(rows, 200).Error
	})
	if err != nil {
		return fmt.Errorf("ReplaceContractRules: %w", err)
	}
	return nil
}

// ListContractRules returns the rules bound to any of contractIDs or
// entryIDs.
func (s *Store) ListContractRules(ctx context.Context, contractIDs, entryIDs []string) ([]domain.ContractPercentageRule, error) {
	if len(contractIDs) == 0 && len(entryIDs) == 0 {
		return nil, nil
	}
	q := s.db.WithContext(ctx).Model(&ContractRuleModel{})
	switch {
	case len(contractIDs) > 0 && len(entryIDs) > 0:
		q = q.Where("contract_id IN ? OR settlement_entry_id IN ?", contractIDs, entryIDs)
	case len(contractIDs) > 0:
		q = q.Where("contract_id IN ?", contractIDs)
	default:
		q = q.Where("settlement_entry_id IN ?", entryIDs)
	}
	var rows []ContractRuleModel
	if err := q.Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("ListContractRules: %w", err)
	}
	out := make([]domain.ContractPercentageRule, len(rows))
	for i, r := range rows {
		out[i] = domain.ContractPercentageRule{
			ContractID:        r.ContractID,
			SettlementEntryID: r.SettlementEntryID,
			CatalogPercent:    r.CatalogPercent,
			PlansPercent:      r.PlansPercent,
		}
	}
	return out, nil
}

// ReplaceAccounts swaps the chart of accounts.
func (s *Store) ReplaceAccounts(ctx context.Context, accounts []domain.ChartAccount) error {
	rows := make([]AccountModel, len(accounts))
	for i, a := range accounts {
		rows[i] = AccountModel{ID: a.ID, Name: a.Name, Depth: a.Depth, Active: a.Active}
		if a.ParentID != "" {
			p := a.ParentID
			rows[i].ParentID = &p
		}
	}
	err := s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		if err := db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&AccountModel{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return db.Create(&rows).Error
	})
	if err != nil {
		return fmt.Errorf("ReplaceAccounts: %w", err)
	}
	return nil
}

// ListActiveAccounts returns the active accounts ordered by depth then id.
func (s *Store) ListActiveAccounts(ctx context.Context) ([]domain.ChartAccount, error) {
	var rows []AccountModel
	if err := s.db.WithContext(ctx).Where("active = ?", true).Order("depth, id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("ListActiveAccounts: %w", err)
	}
	out := make([]domain.ChartAccount, len(rows))
	for i, r := range rows {
		out[i] = domain.ChartAccount{ID: r.ID, Name: r.Name, Depth: r.Depth, Active: r.Active}
		if r.ParentID != nil {
			out[i].ParentID = *r.ParentID
		}
	}
	return out, nil
}

// WithinTransaction runs fn inside a database transaction. The Store handed
// to fn is bound to it; any error rolls everything back.
func (s *Store) WithinTransaction(ctx context.Context, fn func(ctx context.Context, tx reconcile.Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		return fn(ctx, &Store{db: db})
	})
}

// forEachChunk calls fn once per chunk of ids, or once with nil when ids is
// empty.
func forEachChunk(ids []string, fn func(ids []string) error) error {
	if len(ids) == 0 {
		return fn(nil)
	}
	for start := 0; start < len(ids); start += maxInParams {
		end := start + maxInParams
		if end > len(ids) {
			end = len(ids)
		}
		if err := fn(ids[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func countExisting(db *gorm.DB, model interface{}, ids []string) (int64, error) {
	var total int64
	err := forEachChunk(ids, func(chunk []string) error {
		var n int64
		if err := db.Model(model).Where("id IN ?", chunk).Count(&n).Error; err != nil {
			return err
		}
		total += n
		return nil
	})
	return total, err
}

var errMissingRows = errors.New("rows not found")

// updateAll applies updates to every id, or to none when any is missing.
func updateAll(ctx context.Context, db *gorm.DB, model interface{}, ids []string, updates map[string]interface{}) error {
	unique := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}
	if len(unique) == 0 {
		return nil
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var affected int64
		err := forEachChunk(unique, func(chunk []string) error {
			res := tx.Model(model).Where("id IN ?", chunk).Updates(updates)
			affected += res.RowsAffected
			return res.Error
		})
		if err != nil {
			return err
		}
		if affected != int64(len(unique)) {
			return fmt.Errorf("%w: updated %d of %d", errMissingRows, affected, len(unique))
		}
		return nil
	})
}

// Ensure Store implements the ledger interfaces.
var (
	_ reconcile.Store      = (*Store)(nil)
	_ reconcile.Transactor = (*Store)(nil)
	_ reconcile.RuleSource = (*Store)(nil)
)
