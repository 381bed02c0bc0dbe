package domain

// ChartAccount is one node of the chart of accounts. Classifications must
// reference leaves.
type ChartAccount struct {
	ID       string // e.g. "revenue:individual:catalog"
	ParentID string // empty for roots
	Name     string
	Depth    int
	Active   bool
}

// Leaves returns the ids of active accounts that no other active account
// names as parent.
func Leaves(accounts []ChartAccount) map[string]bool {
	parents := make(map[string]bool, len(accounts))
	for _, a := range accounts {
		if a.Active && a.ParentID != "" {
			parents[a.ParentID] = true
		}
	}
	leaves := make(map[string]bool, len(accounts))
	for _, a := range accounts {
		if a.Active && !parents[a.ID] {
			leaves[a.ID] = true
		}
	}
	return leaves
}
