// Package session holds the selection state of one operator matching a day
// bucket. A Session never touches storage; the engine loads its inputs and
// persists its CommitPlan.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/settlement-reconciler/internal/domain"
	"github.com/dvloznov/settlement-reconciler/internal/matcher"
	"github.com/dvloznov/settlement-reconciler/internal/split"
)

// State is the lifecycle position of a session.
type State string

const (
	StateEmpty      State = "empty"
	StateSelecting  State = "selecting"
	StateBalanced   State = "balanced"
	StateUnbalanced State = "unbalanced"
	StateCommitting State = "committing"
	StateClosed     State = "closed"
)

// DefaultTolerance is the largest difference still considered balanced.
var DefaultTolerance = decimal.RequireFromString("0.01")

// Config carries everything a session needs.
type Config struct {
	ID        string
	Operator  string
	Flow      domain.Flow
	Bucket    matcher.DayBucket
	Rules     domain.RuleIndex
	Generator *split.Generator
	Tolerance decimal.Decimal // zero means DefaultTolerance
	OpenedAt  time.Time
}

// Session is safe for concurrent use; calls are serialized.
type Session struct {
	mu sync.Mutex

	cfg   Config
	state State

	selectedTx      map[string]bool
	selectedEntries map[string]bool
	unavailable     map[string]bool

	preview preview
}

type preview struct {
	txTotal   decimal.Decimal
	generated decimal.Decimal
	diff      decimal.Decimal
	balanced  bool
	debit     bool
	parents   []domain.Transaction
	entries   []domain.SettlementEntry // entries whose children are in the preview
	children  []domain.Transaction
	deferred  []string
	issues    []error
}

// New opens a session over cfg.Bucket. Consumed entries already in the
// bucket are treated as unavailable.
func New(cfg Config) *Session {
	if cfg.Tolerance.IsZero() {
		cfg.Tolerance = DefaultTolerance
	}
	s := &Session{
		cfg:             cfg,
		state:           StateEmpty,
		selectedTx:      make(map[string]bool),
		selectedEntries: make(map[string]bool),
		unavailable:     make(map[string]bool),
	}
	for _, e := range cfg.Bucket.Entries {
		if e.Consumed {
			s.unavailable[e.ID] = true
		}
	}
	s.recompute()
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.cfg.ID }

// Operator returns the operator owning the session.
func (s *Session) Operator() string { return s.cfg.Operator }

// ToggleTransaction adds or removes a candidate transaction.
func (s *Session) ToggleTransaction(id string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.editable(); err != nil {
		return s.snapshot(), err
	}
	if !s.isCandidateTx(id) {
		return s.snapshot(), fmt.Errorf("ToggleTransaction: %s: %w", id, domain.ErrUnknownCandidate)
	}
	toggle(s.selectedTx, id)
	s.recompute()
	return s.snapshot(), nil
}

// ToggleEntry adds or removes a candidate entry. Selecting an entry known to
// be consumed fails with ErrAlreadyConsumed; deselecting always succeeds.
func (s *Session) ToggleEntry(id string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.editable(); err != nil {
		return s.snapshot(), err
	}
	if !s.isCandidateEntry(id) {
		return s.snapshot(), fmt.Errorf("ToggleEntry: %s: %w", id, domain.ErrUnknownCandidate)
	}
	if !s.selectedEntries[id] && s.unavailable[id] {
		return s.snapshot(), &domain.ConsumedError{EntryIDs: []string{id}}
	}
	toggle(s.selectedEntries, id)
	s.recompute()
	return s.snapshot(), nil
}

// MarkConsumed records entries found consumed in the store. They are
// deselected and can no longer be selected.
func (s *Session) MarkConsumed(ids ...string) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		s.unavailable[id] = true
		delete(s.selectedEntries, id)
	}
	if s.state != StateCommitting && s.state != StateClosed {
		s.recompute()
	}
	return s.snapshot()
}

// Preview returns the current snapshot with its generated children.
func (s *Session) Preview() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

// BeginCommit freezes the session and returns the plan to persist. An
// unbalanced selection needs override. Entries the generator could not split
// always block.
func (s *Session) BeginCommit(override bool) (CommitPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.editable(); err != nil {
		return CommitPlan{}, err
	}
	switch s.state {
	case StateEmpty, StateSelecting:
		return CommitPlan{}, domain.ErrEmptySelection
	}
	if len(s.preview.issues) > 0 {
		return CommitPlan{}, errors.Join(s.preview.issues...)
	}
	if s.state == StateUnbalanced && !override {
		return CommitPlan{}, &domain.ImbalanceError{
			TransactionTotal: s.preview.txTotal,
			GeneratedTotal:   s.preview.generated,
			Difference:       s.preview.diff,
		}
	}

	s.state = StateCommitting
	p := s.preview
	return CommitPlan{
		SessionID:        s.cfg.ID,
		Operator:         s.cfg.Operator,
		Flow:             s.cfg.Flow,
		Date:             s.cfg.Bucket.Date,
		Parents:          append([]domain.Transaction(nil), p.parents...),
		Entries:          append([]domain.SettlementEntry(nil), p.entries...),
		Children:         append([]domain.Transaction(nil), p.children...),
		TransactionTotal: p.txTotal,
		GeneratedTotal:   p.generated,
		Difference:       p.diff,
		Balanced:         p.balanced,
		Override:         !p.balanced,
	}, nil
}

// AbortCommit returns a committing session to its selection state with every
// selection kept, so the operator can retry.
func (s *Session) AbortCommit() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateCommitting {
		s.recompute()
	}
	return s.snapshot()
}

// FinishCommit closes a committing session.
func (s *Session) FinishCommit() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateCommitting {
		s.state = StateClosed
	}
	return s.snapshot()
}

// Cancel discards the session. It has no side effects.
func (s *Session) Cancel() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectedTx = make(map[string]bool)
	s.selectedEntries = make(map[string]bool)
	s.preview = preview{}
	s.state = StateClosed
	return s.snapshot()
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) editable() error {
	switch s.state {
	case StateCommitting:
		return domain.ErrSessionBusy
	case StateClosed:
		return domain.ErrSessionClosed
	}
	return nil
}

func (s *Session) isCandidateTx(id string) bool {
	for _, tx := range s.cfg.Bucket.Transactions {
		if tx.ID == id {
			return true
		}
	}
	return false
}

func (s *Session) isCandidateEntry(id string) bool {
	for _, e := range s.cfg.Bucket.Entries {
		if e.ID == id {
			return true
		}
	}
	return false
}

func toggle(set map[string]bool, id string) {
	if set[id] {
		delete(set, id)
		return
	}
	set[id] = true
}

// recompute rebuilds the preview and derives the state from it.
func (s *Session) recompute() {
	s.preview = s.buildPreview()
	switch {
	case len(s.selectedTx) == 0 && len(s.selectedEntries) == 0:
		s.state = StateEmpty
	case len(s.selectedTx) == 0 || len(s.selectedEntries) == 0:
		s.state = StateSelecting
	case s.preview.balanced:
		s.state = StateBalanced
	default:
		s.state = StateUnbalanced
	}
}

func (s *Session) buildPreview() preview {
	var p preview
	p.txTotal = decimal.Zero
	p.generated = decimal.Zero

	for _, tx := range s.cfg.Bucket.Transactions {
		if s.selectedTx[tx.ID] {
			p.parents = append(p.parents, tx)
			p.txTotal = p.txTotal.Add(tx.Amount)
		}
	}
	p.debit = p.txTotal.IsNegative()

	parent := split.ParentContext{
		Date:  s.cfg.Bucket.Date,
		Debit: p.debit,
		Flow:  s.cfg.Flow,
	}
	for _, tx := range p.parents {
		parent.ParentIDs = append(parent.ParentIDs, tx.ID)
	}
	if len(p.parents) > 0 {
		parent.Account = p.parents[0].Account
		parent.Source = p.parents[0].Source
	}

	includeCosts := s.allRevenueSelected()
	for _, e := range s.cfg.Bucket.Entries {
		if !s.selectedEntries[e.ID] {
			continue
		}
		if split.IsCost(e) && !includeCosts {
			p.deferred = append(p.deferred, e.ID)
			continue
		}
		children, err := s.cfg.Generator.Split(e, s.cfg.Rules.For(e), parent)
		if err != nil {
			p.issues = append(p.issues, err)
			continue
		}
		p.entries = append(p.entries, e)
		p.children = append(p.children, children...)
	}

	p.generated = split.Total(p.children, p.debit)
	p.diff = p.txTotal.Abs().Sub(p.generated)
	p.balanced = len(p.parents) > 0 && len(p.entries) > 0 && len(p.issues) == 0 &&
		p.diff.Abs().LessThanOrEqual(s.cfg.Tolerance)
	return p
}

// allRevenueSelected reports whether every candidate transaction and every
// available non-cost entry is selected. Only then do cost entries count.
func (s *Session) allRevenueSelected() bool {
	for _, tx := range s.cfg.Bucket.Transactions {
		if !s.selectedTx[tx.ID] {
			return false
		}
	}
	for _, e := range s.cfg.Bucket.Entries {
		if s.unavailable[e.ID] || split.IsCost(e) {
			continue
		}
		if !s.selectedEntries[e.ID] {
			return false
		}
	}
	return true
}

// CommitPlan is the immutable result of BeginCommit.
type CommitPlan struct {
	SessionID        string
	Operator         string
	Flow             domain.Flow
	Date             civil.Date
	Parents          []domain.Transaction
	Entries          []domain.SettlementEntry
	Children         []domain.Transaction
	TransactionTotal decimal.Decimal
	GeneratedTotal   decimal.Decimal
	Difference       decimal.Decimal
	Balanced         bool
	Override         bool
}

// ParentIDs returns the ids of the plan's parents.
func (p CommitPlan) ParentIDs() []string {
	ids := make([]string, len(p.Parents))
	for i, tx := range p.Parents {
		ids[i] = tx.ID
	}
	return ids
}

// EntryIDs returns the ids of the entries the plan consumes.
func (p CommitPlan) EntryIDs() []string {
	ids := make([]string, len(p.Entries))
	for i, e := range p.Entries {
		ids[i] = e.ID
	}
	return ids
}
