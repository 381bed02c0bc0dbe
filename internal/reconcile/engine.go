package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/settlement-reconciler/internal/domain"
	"github.com/dvloznov/settlement-reconciler/internal/logger"
	"github.com/dvloznov/settlement-reconciler/internal/matcher"
	"github.com/dvloznov/settlement-reconciler/internal/session"
	"github.com/dvloznov/settlement-reconciler/internal/split"
)

// BucketQuery selects the day buckets of one flow.
type BucketQuery struct {
	Flow   domain.ReconciliationType
	From   civil.Date
	To     civil.Date
	Source string // optional bank or card filter
}

// Engine is the façade the HTTP API and the CLI drive. It owns the open
// sessions, at most one per operator, and assumes a single writer per
// deployment; the committer's store checks narrow the remaining race window.
type Engine struct {
	store     Store
	rules     RuleSource
	generator *split.Generator
	committer *Committer
	flows     map[domain.ReconciliationType]domain.Flow
	tolerance decimal.Decimal
	clock     func() time.Time

	mu         sync.Mutex
	sessions   map[string]*session.Session
	byOperator map[string]string
}

// EngineOption configures an Engine.
type EngineOption func(*engineConfig)

type engineConfig struct {
	flows         map[domain.ReconciliationType]domain.Flow
	tolerance     decimal.Decimal
	clock         func() time.Time
	commitTimeout time.Duration
}

// WithFlows replaces the flow configuration.
func WithFlows(flows map[domain.ReconciliationType]domain.Flow) EngineOption {
	return func(c *engineConfig) { c.flows = flows }
}

// WithTolerance sets the balance tolerance.
func WithTolerance(t decimal.Decimal) EngineOption {
	return func(c *engineConfig) { c.tolerance = t }
}

// WithEngineClock overrides time.Now for sessions and commits.
func WithEngineClock(clock func() time.Time) EngineOption {
	return func(c *engineConfig) { c.clock = clock }
}

// WithCommitTimeout bounds each commit.
func WithCommitTimeout(d time.Duration) EngineOption {
	return func(c *engineConfig) { c.commitTimeout = d }
}

// NewEngine wires an Engine.
func NewEngine(store Store, rules RuleSource, generator *split.Generator, opts ...EngineOption) *Engine {
	cfg := engineConfig{
		flows:     domain.DefaultFlows(),
		tolerance: session.DefaultTolerance,
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Engine{
		store:      store,
		rules:      rules,
		generator:  generator,
		committer:  NewCommitter(store, WithClock(cfg.clock), WithTimeout(cfg.commitTimeout)),
		flows:      cfg.flows,
		tolerance:  cfg.tolerance,
		clock:      cfg.clock,
		sessions:   make(map[string]*session.Session),
		byOperator: make(map[string]string),
	}
}

// Flow returns the configuration of t.
func (e *Engine) Flow(t domain.ReconciliationType) (domain.Flow, error) {
	f, ok := e.flows[t]
	if !ok {
		return domain.Flow{}, fmt.Errorf("unknown reconciliation type %q", t)
	}
	return f, nil
}

// Buckets loads pending transactions and open entries and groups them into
// day buckets for q.Flow's window.
func (e *Engine) Buckets(ctx context.Context, q BucketQuery) (map[civil.Date]matcher.DayBucket, error) {
	flow, err := e.Flow(q.Flow)
	if err != nil {
		return nil, err
	}

	txs, err := e.store.ListTransactions(ctx, domain.TransactionFilter{
		From:   q.From,
		To:     q.To,
		States: []domain.SettlementState{domain.StatePending},
		Source: q.Source,
	})
	if err != nil {
		return nil, domain.Persistence("ListTransactions", err)
	}

	from, _ := matcher.Window(q.From, flow.WindowDays)
	entries, err := e.store.ListSettlementEntries(ctx, domain.EntryFilter{From: from, To: q.To})
	if err != nil {
		return nil, domain.Persistence("ListSettlementEntries", err)
	}

	return matcher.Bucket(txs, entries, flow.WindowDays), nil
}

// OpenSession opens a session on the bucket of date for operator. A session
// the operator already had open is cancelled.
func (e *Engine) OpenSession(ctx context.Context, operator string, flowType domain.ReconciliationType, date civil.Date, source string) (session.Snapshot, error) {
	flow, err := e.Flow(flowType)
	if err != nil {
		return session.Snapshot{}, err
	}
	buckets, err := e.Buckets(ctx, BucketQuery{Flow: flowType, From: date, To: date, Source: source})
	if err != nil {
		return session.Snapshot{}, err
	}
	bucket, ok := buckets[date]
	if !ok {
		return session.Snapshot{}, fmt.Errorf("OpenSession: %s: %w", date, domain.ErrNoCandidates)
	}

	rules, err := e.loadRules(ctx, bucket.Entries)
	if err != nil {
		return session.Snapshot{}, err
	}

	s := session.New(session.Config{
		ID:        uuid.NewString(),
		Operator:  operator,
		Flow:      flow,
		Bucket:    bucket,
		Rules:     rules,
		Generator: e.generator,
		Tolerance: e.tolerance,
		OpenedAt:  e.clock().UTC(),
	})

	e.mu.Lock()
	if prev, ok := e.byOperator[operator]; ok {
		if old, ok := e.sessions[prev]; ok {
			old.Cancel()
		}
		delete(e.sessions, prev)
	}
	e.sessions[s.ID()] = s
	e.byOperator[operator] = s.ID()
	e.mu.Unlock()

	log := logger.FromContext(ctx)
	log.Info().
		Str("session_id", s.ID()).
		Str("operator", operator).
		Str("flow", string(flowType)).
		Str("date", date.String()).
		Int("transactions", len(bucket.Transactions)).
		Int("entries", len(bucket.Entries)).
		Msg("session opened")
	return s.Preview(), nil
}

func (e *Engine) loadRules(ctx context.Context, entries []domain.SettlementEntry) (domain.RuleIndex, error) {
	if e.rules == nil || len(entries) == 0 {
		return domain.NewRuleIndex(nil), nil
	}
	contracts := make(map[string]bool)
	entryIDs := make([]string, 0, len(entries))
	for _, en := range entries {
		entryIDs = append(entryIDs, en.ID)
		if c := en.ContractIDOrEmpty(); c != "" {
			contracts[c] = true
		}
	}
	contractIDs := make([]string, 0, len(contracts))
	for c := range contracts {
		contractIDs = append(contractIDs, c)
	}
	sort.Strings(contractIDs)

	rules, err := e.rules.ListContractRules(ctx, contractIDs, entryIDs)
	if err != nil {
		return domain.RuleIndex{}, domain.Persistence("ListContractRules", err)
	}
	return domain.NewRuleIndex(rules), nil
}

// Session returns the current snapshot of an open session.
func (e *Engine) Session(id string) (session.Snapshot, error) {
	s, err := e.lookup(id)
	if err != nil {
		return session.Snapshot{}, err
	}
	return s.Preview(), nil
}

// Sessions lists the snapshots of all open sessions ordered by operator.
func (e *Engine) Sessions() []session.Snapshot {
	e.mu.Lock()
	open := make([]*session.Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		open = append(open, s)
	}
	e.mu.Unlock()

	out := make([]session.Snapshot, 0, len(open))
	for _, s := range open {
		out = append(out, s.Preview())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Operator < out[j].Operator })
	return out
}

// ToggleTransaction adds or removes a candidate transaction.
func (e *Engine) ToggleTransaction(ctx context.Context, sessionID, txID string) (session.Snapshot, error) {
	s, err := e.lookup(sessionID)
	if err != nil {
		return session.Snapshot{}, err
	}
	snap, err := s.ToggleTransaction(txID)
	logToggle(ctx, snap, "transaction", txID, err)
	return snap, err
}

// ToggleEntry adds or removes a candidate entry. Before selecting, the entry
// is re-read from the store: one consumed in the meantime is marked
// unavailable in the session and rejected with ErrAlreadyConsumed.
func (e *Engine) ToggleEntry(ctx context.Context, sessionID, entryID string) (session.Snapshot, error) {
	s, err := e.lookup(sessionID)
	if err != nil {
		return session.Snapshot{}, err
	}

	if !contains(s.Preview().SelectedEntryIDs(), entryID) {
		current, err := e.store.ListSettlementEntries(ctx, domain.EntryFilter{IDs: []string{entryID}, IncludeConsumed: true})
		if err != nil {
			return s.Preview(), domain.Persistence("ListSettlementEntries", err)
		}
		if len(current) == 1 && current[0].Consumed {
			snap := s.MarkConsumed(entryID)
			return snap, &domain.ConsumedError{EntryIDs: []string{entryID}}
		}
	}

	snap, err := s.ToggleEntry(entryID)
	logToggle(ctx, snap, "entry", entryID, err)
	return snap, err
}

// PreviewSplit returns the session with its generated children.
func (e *Engine) PreviewSplit(ctx context.Context, sessionID string) (session.Snapshot, error) {
	return e.Session(sessionID)
}

// Commit persists the session. On success the session closes and is
// forgotten. On failure it returns to its selection state; entries found
// consumed are marked unavailable.
func (e *Engine) Commit(ctx context.Context, sessionID string, override bool) (CommitResult, session.Snapshot, error) {
	s, err := e.lookup(sessionID)
	if err != nil {
		return CommitResult{}, session.Snapshot{}, err
	}

	plan, err := s.BeginCommit(override)
	if err != nil {
		return CommitResult{}, s.Preview(), err
	}

	res, err := e.committer.Commit(ctx, plan)
	if err != nil {
		snap := s.AbortCommit()
		var ce *domain.ConsumedError
		if errors.As(err, &ce) {
			snap = s.MarkConsumed(ce.EntryIDs...)
		}
		log := logger.FromContext(ctx)
		log.Warn().Err(err).
			Str("session_id", sessionID).
			Str("operator", s.Operator()).
			Msg("commit failed")
		return CommitResult{}, snap, err
	}

	snap := s.FinishCommit()
	e.forget(s)
	return res, snap, nil
}

// Cancel discards a session without touching storage.
func (e *Engine) Cancel(ctx context.Context, sessionID string) (session.Snapshot, error) {
	s, err := e.lookup(sessionID)
	if err != nil {
		return session.Snapshot{}, err
	}
	snap := s.Cancel()
	e.forget(s)
	log := logger.FromContext(ctx)
	log.Info().Str("session_id", sessionID).Str("operator", s.Operator()).Msg("session cancelled")
	return snap, nil
}

func (e *Engine) lookup(id string) (*session.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, domain.ErrSessionNotFound)
	}
	return s, nil
}

func (e *Engine) forget(s *session.Session) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.sessions, s.ID())
	if e.byOperator[s.Operator()] == s.ID() {
		delete(e.byOperator, s.Operator())
	}
}

func logToggle(ctx context.Context, snap session.Snapshot, kind, id string, err error) {
	log := logger.FromContext(ctx)
	ev := log.Debug()
	if err != nil {
		ev = log.Warn().Err(err)
	}
	ev.Str("session_id", snap.ID).
		Str(kind+"_id", id).
		Str("state", string(snap.State)).
		Str("difference", snap.Difference.StringFixed(2)).
		Msg("toggle")
}

func contains(values []string, v string) bool {
	for _, c := range values {
		if c == v {
			return true
		}
	}
	return false
}
