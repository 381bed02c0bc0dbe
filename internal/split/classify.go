package split

import "strings"

// EntryKind is the coarse meaning of a provider entry type.
type EntryKind int

const (
	KindRevenue EntryKind = iota
	KindCost
)

func (k EntryKind) String() string {
	if k == KindCost {
		return "cost"
	}
	return "revenue"
}

// Substrings of provider type labels that denote fees and other costs.
// Providers use free text in several languages; anything unmatched is revenue.
var costMarkers = []string{"tarifa", "taxa", "custo", "fee", "cost", "mdr", "chargeback", "aluguel"}

// ClassifyEntryType maps a free-text provider type to an EntryKind.
func ClassifyEntryType(raw string) EntryKind {
	t := strings.ToLower(raw)
	for _, m := range costMarkers {
		if strings.Contains(t, m) {
			return KindCost
		}
	}
	return KindRevenue
}

// IsIndividualContract reports whether a contract id carries the "IND"
// marker used for individual (as opposed to corporate) contracts.
func IsIndividualContract(contractID string) bool {
	return strings.Contains(strings.ToUpper(contractID), "IND")
}
