// Package reconcile persists match sessions and exposes the engine the
// presentation layers drive.
package reconcile

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dvloznov/settlement-reconciler/internal/domain"
	"github.com/dvloznov/settlement-reconciler/internal/logger"
	"github.com/dvloznov/settlement-reconciler/internal/session"
	"github.com/dvloznov/settlement-reconciler/internal/split"
)

// CommitResult describes what a commit persisted.
type CommitResult struct {
	Group               string                    `json:"reconciliation_group"`
	Flow                domain.ReconciliationType `json:"flow"`
	ReconciledParentIDs []string                  `json:"reconciled_parent_ids"`
	CreatedChildren     []domain.Transaction      `json:"created_children"`
	ExistingChildIDs    []string                  `json:"existing_child_ids,omitempty"`
	ConsumedEntryIDs    []string                  `json:"consumed_entry_ids"`
	CommittedAt         time.Time                 `json:"committed_at"`
	Override            bool                      `json:"override"`
}

// Committer applies a CommitPlan to a Store: children are written first,
// then the parents are marked reconciled, then the entries consumed. Child
// ids are deterministic, so a retry after a partial failure skips what was
// already written and completes the rest.
type Committer struct {
	store   Store
	clock   func() time.Time
	timeout time.Duration
}

// CommitterOption configures a Committer.
type CommitterOption func(*Committer)

// WithClock overrides time.Now.
func WithClock(clock func() time.Time) CommitterOption {
	return func(c *Committer) { c.clock = clock }
}

// WithTimeout bounds every commit. Zero means no bound beyond ctx.
func WithTimeout(d time.Duration) CommitterOption {
	return func(c *Committer) { c.timeout = d }
}

// NewCommitter creates a Committer over store.
func NewCommitter(store Store, opts ...CommitterOption) *Committer {
	c := &Committer{store: store, clock: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Commit persists plan. Storage failures, timeouts included, are returned as
// *domain.PersistenceError and leave the plan safe to retry.
func (c *Committer) Commit(ctx context.Context, plan session.CommitPlan) (CommitResult, error) {
	if len(plan.Parents) == 0 || len(plan.Entries) == 0 {
		return CommitResult{}, domain.ErrEmptySelection
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var res CommitResult
	run := func(ctx context.Context, store Store) error {
		var err error
		res, err = c.apply(ctx, store, plan)
		return err
	}

	var err error
	if tx, ok := c.store.(Transactor); ok {
		err = tx.WithinTransaction(ctx, run)
	} else {
		err = run(ctx, c.store)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return CommitResult{}, domain.Persistence("Commit", ctxErr)
		}
		return CommitResult{}, err
	}

	log := logger.FromContext(ctx)
	log.Info().
		Str("session_id", plan.SessionID).
		Str("flow", string(plan.Flow.Type)).
		Str("group", res.Group).
		Int("children", len(res.CreatedChildren)).
		Int("existing_children", len(res.ExistingChildIDs)).
		Strs("entries", res.ConsumedEntryIDs).
		Bool("override", res.Override).
		Msg("reconciliation committed")
	return res, nil
}

func (c *Committer) apply(ctx context.Context, store Store, plan session.CommitPlan) (CommitResult, error) {
	parentIDs := plan.ParentIDs()
	entryIDs := plan.EntryIDs()
	group := split.GroupID(parentIDs)

	childIDs := make([]string, len(plan.Children))
	for i, ch := range plan.Children {
		childIDs[i] = ch.ID
	}
	existing, err := store.ListTransactions(ctx, domain.TransactionFilter{IDs: childIDs})
	if err != nil {
		return CommitResult{}, domain.Persistence("ListTransactions", err)
	}
	written := make(map[string]bool, len(existing))
	for _, tx := range existing {
		written[tx.ID] = true
	}
	resuming := len(written) > 0 && len(written) == len(childIDs)

	if err := c.checkEntries(ctx, store, entryIDs, resuming); err != nil {
		return CommitResult{}, err
	}
	if err := c.checkParents(ctx, store, parentIDs, group); err != nil {
		return CommitResult{}, err
	}

	now := c.clock().UTC()
	res := CommitResult{
		Group:               group,
		Flow:                plan.Flow.Type,
		ReconciledParentIDs: parentIDs,
		ConsumedEntryIDs:    entryIDs,
		CommittedAt:         now,
		Override:            plan.Override,
	}

	var missing []domain.Transaction
	for _, ch := range plan.Children {
		if written[ch.ID] {
			res.ExistingChildIDs = append(res.ExistingChildIDs, ch.ID)
			continue
		}
		ch.SettlementState = domain.StateClassified
		if ch.ReconciliationMetadata != nil {
			m := *ch.ReconciliationMetadata
			m.CommittedAt = now
			ch.ReconciliationMetadata = &m
		}
		missing = append(missing, ch)
	}
	if len(missing) > 0 {
		if err := store.WriteTransactions(ctx, missing); err != nil {
			return CommitResult{}, domain.Persistence("WriteTransactions", err)
		}
	}
	res.CreatedChildren = missing

	if err := store.UpdateTransactionState(ctx, parentIDs, domain.StateReconciled, group); err != nil {
		return CommitResult{}, domain.Persistence("UpdateTransactionState", err)
	}
	if err := store.MarkEntriesConsumed(ctx, entryIDs); err != nil {
		return CommitResult{}, domain.Persistence("MarkEntriesConsumed", err)
	}
	return res, nil
}

// checkEntries fails with a ConsumedError when an entry vanished or was
// consumed by someone else. A consumed entry is accepted only when every
// child of the plan already exists, i.e. it is this plan's own earlier
// attempt.
func (c *Committer) checkEntries(ctx context.Context, store Store, ids []string, resuming bool) error {
	entries, err := store.ListSettlementEntries(ctx, domain.EntryFilter{IDs: ids, IncludeConsumed: true})
	if err != nil {
		return domain.Persistence("ListSettlementEntries", err)
	}
	found := make(map[string]domain.SettlementEntry, len(entries))
	for _, e := range entries {
		found[e.ID] = e
	}

	var unavailable []string
	for _, id := range ids {
		e, ok := found[id]
		switch {
		case !ok:
			unavailable = append(unavailable, id)
		case e.Consumed && !resuming:
			unavailable = append(unavailable, id)
		}
	}
	if len(unavailable) > 0 {
		sort.Strings(unavailable)
		return &domain.ConsumedError{EntryIDs: unavailable}
	}
	return nil
}

// checkParents refuses parents reconciled into a different group.
func (c *Committer) checkParents(ctx context.Context, store Store, ids []string, group string) error {
	parents, err := store.ListTransactions(ctx, domain.TransactionFilter{IDs: ids})
	if err != nil {
		return domain.Persistence("ListTransactions", err)
	}
	if len(parents) != len(ids) {
		return fmt.Errorf("Commit: %d of %d parent transactions found", len(parents), len(ids))
	}
	for _, p := range parents {
		if p.SettlementState != domain.StateReconciled {
			continue
		}
		if p.ReconciliationGroup == nil || *p.ReconciliationGroup != group {
			return fmt.Errorf("Commit: transaction %s already reconciled: %w", p.ID, domain.ErrAlreadyConsumed)
		}
	}
	return nil
}
