package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ReconciliationType discriminates the reconciliation flows. It replaces
// matching on free-form description text.
type ReconciliationType string

const (
	// TypeInterPag reconciles card-processor payouts against contract splits.
	TypeInterPag ReconciliationType = "inter_pag_n_to_m"
	// TypePixInter reconciles PIX ledger rows against bank credits.
	TypePixInter ReconciliationType = "pix_inter_n_to_m"
	// TypeTonManual reconciles manually pasted processor ledgers.
	TypeTonManual ReconciliationType = "ton_manual_n_to_m"
	// TypeCremacaoCreateNew turns each entry into one directly classified child.
	TypeCremacaoCreateNew ReconciliationType = "cremacao_create_new"
)

// AllReconciliationTypes lists the known flows in a stable order.
func AllReconciliationTypes() []ReconciliationType {
	return []ReconciliationType{TypeInterPag, TypePixInter, TypeTonManual, TypeCremacaoCreateNew}
}

// ParseReconciliationType validates a raw flow name.
func ParseReconciliationType(raw string) (ReconciliationType, error) {
	for _, t := range AllReconciliationTypes() {
		if string(t) == raw {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown reconciliation type %q", raw)
}

// SplitType names the share a child transaction represents.
type SplitType string

const (
	SplitCatalog SplitType = "catalog"
	SplitPlans   SplitType = "plans"
	SplitCost    SplitType = "cost"
	SplitDirect  SplitType = "direct"
)

// SplitMode selects how a flow turns entries into children.
type SplitMode string

const (
	// SplitByRule divides each entry by its contract percentage rule.
	SplitByRule SplitMode = "by_rule"
	// SplitNone maps each entry to a single child with the flow's default
	// classification.
	SplitNone SplitMode = "none"
)

// Flow is the per-channel configuration of a reconciliation.
type Flow struct {
	Type                  ReconciliationType
	WindowDays            int
	SplitMode             SplitMode
	DefaultClassification string // used by SplitNone flows
}

// DefaultFlows returns the built-in flow configuration. Window sizes are the
// observed values for each settlement channel.
func DefaultFlows() map[ReconciliationType]Flow {
	return map[ReconciliationType]Flow{
		TypeInterPag:          {Type: TypeInterPag, WindowDays: 16, SplitMode: SplitByRule},
		TypePixInter:          {Type: TypePixInter, WindowDays: 3, SplitMode: SplitByRule},
		TypeTonManual:         {Type: TypeTonManual, WindowDays: 3, SplitMode: SplitByRule},
		TypeCremacaoCreateNew: {Type: TypeCremacaoCreateNew, WindowDays: 0, SplitMode: SplitNone, DefaultClassification: "revenue:cremacao"},
	}
}

// ReconciliationMetadata is the provenance blob stored on every child. It is
// what audit and reversal read back.
type ReconciliationMetadata struct {
	Type              ReconciliationType `json:"reconciliation_type"`
	Group             string             `json:"reconciliation_group"`
	ParentIDs         []string           `json:"parent_ids"`
	SettlementEntryID string             `json:"settlement_entry_id"`
	SplitType         SplitType          `json:"split_type"`
	Percentage        decimal.Decimal    `json:"percentage"`
	CommittedAt       time.Time          `json:"committed_at"`
}

// MarshalMetadata encodes metadata for storage as an opaque JSON blob.
func MarshalMetadata(m *ReconciliationMetadata) (string, error) {
	if m == nil {
		return "", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("MarshalMetadata: %w", err)
	}
	return string(b), nil
}

// UnmarshalMetadata decodes a stored blob. An empty blob yields nil.
func UnmarshalMetadata(raw string) (*ReconciliationMetadata, error) {
	if raw == "" || raw == "null" {
		return nil, nil
	}
	var m ReconciliationMetadata
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("UnmarshalMetadata: %w", err)
	}
	return &m, nil
}
