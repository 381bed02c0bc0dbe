package domain

import (
	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// SettlementEntry is an external record that explains money arriving in the
// bank: a payout-schedule row, a PIX ledger line, an installment row.
type SettlementEntry struct {
	ID         string          `json:"id"`    // provider transaction id
	Date       civil.Date      `json:"date"`  // settlement date
	Value      decimal.Decimal `json:"value"` // gross or net value as reported by the provider
	Type       string          `json:"type"`  // free-text provider type, see split.ClassifyEntryType
	ContractID *string         `json:"contract_id,omitempty"`
	Consumed   bool            `json:"consumed"`
}

// ContractIDOrEmpty returns the contract id or "" when absent.
func (e SettlementEntry) ContractIDOrEmpty() string {
	if e.ContractID == nil {
		return ""
	}
	return *e.ContractID
}

// EntryFilter narrows ListSettlementEntries. Consumed entries are excluded
// unless IncludeConsumed is set.
type EntryFilter struct {
	IDs             []string
	From            civil.Date
	To              civil.Date
	IncludeConsumed bool
}

// Matches reports whether e satisfies the filter.
func (f EntryFilter) Matches(e SettlementEntry) bool {
	if e.Consumed && !f.IncludeConsumed {
		return false
	}
	if len(f.IDs) > 0 && !containsString(f.IDs, e.ID) {
		return false
	}
	if f.From.IsValid() && e.Date.Before(f.From) {
		return false
	}
	if f.To.IsValid() && e.Date.After(f.To) {
		return false
	}
	return true
}

// ContractPercentageRule splits a settlement entry between the catalog share
// and the plans share. CatalogPercent + PlansPercent should be 100, which is
// only validated at split time.
type ContractPercentageRule struct {
	ContractID        string          `json:"contract_id,omitempty"`
	SettlementEntryID string          `json:"settlement_entry_id,omitempty"`
	CatalogPercent    decimal.Decimal `json:"catalog_percent"`
	PlansPercent      decimal.Decimal `json:"plans_percent"`
}

// RuleIndex resolves the rule for an entry, preferring a rule bound to the
// entry id over one bound to its contract id.
type RuleIndex struct {
	byEntry    map[string]ContractPercentageRule
	byContract map[string]ContractPercentageRule
}

// NewRuleIndex indexes rules by entry id and contract id.
func NewRuleIndex(rules []ContractPercentageRule) RuleIndex {
	idx := RuleIndex{
		byEntry:    make(map[string]ContractPercentageRule),
		byContract: make(map[string]ContractPercentageRule),
	}
	for _, r := range rules {
		if r.SettlementEntryID != "" {
			idx.byEntry[r.SettlementEntryID] = r
		}
		if r.ContractID != "" {
			idx.byContract[r.ContractID] = r
		}
	}
	return idx
}

// For returns the rule for entry, or nil when none exists.
func (idx RuleIndex) For(entry SettlementEntry) *ContractPercentageRule {
	if r, ok := idx.byEntry[entry.ID]; ok {
		return &r
	}
	if entry.ContractID != nil {
		if r, ok := idx.byContract[*entry.ContractID]; ok {
			return &r
		}
	}
	return nil
}
