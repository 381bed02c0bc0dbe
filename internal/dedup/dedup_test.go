package dedup

import (
	"testing"

	"github.com/dvloznov/settlement-reconciler/internal/domain"
)

func ids(txs []domain.Transaction) []string {
	out := make([]string, len(txs))
	for i, tx := range txs {
		out[i] = tx.ID
	}
	return out
}

func TestDedupe(t *testing.T) {
	tests := []struct {
		name     string
		existing IDSet
		incoming []string
		wantAdd  []string
		wantDup  []string
	}{
		{"empty store", NewIDSet(), []string{"a", "b"}, []string{"a", "b"}, nil},
		{"all known", NewIDSet("a", "b"), []string{"a", "b"}, nil, []string{"a", "b"}},
		{"partial overlap", NewIDSet("b"), []string{"a", "b", "c"}, []string{"a", "c"}, []string{"b"}},
		{"repeat inside batch", NewIDSet(), []string{"a", "a"}, []string{"a"}, []string{"a"}},
		{"nil existing", nil, []string{"a"}, []string{"a"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			incoming := make([]domain.Transaction, len(tt.incoming))
			for i, id := range tt.incoming {
				incoming[i] = domain.Transaction{ID: id}
			}
			add, dup := Dedupe(tt.existing, incoming)
			if got := ids(add); !equal(got, tt.wantAdd) {
				t.Errorf("toAdd = %v, want %v", got, tt.wantAdd)
			}
			if got := ids(dup); !equal(got, tt.wantDup) {
				t.Errorf("duplicates = %v, want %v", got, tt.wantDup)
			}
		})
	}
}

func TestDedupe_Idempotent(t *testing.T) {
	batch := []domain.Transaction{{ID: "x"}, {ID: "y"}}
	store := NewIDSet()

	add, _ := Dedupe(store, batch)
	for _, tx := range add {
		store[tx.ID] = struct{}{}
	}
	add, dup := Dedupe(store, batch)
	if len(add) != 0 || len(dup) != 2 {
		t.Errorf("second import: toAdd=%d duplicates=%d, want 0 and 2", len(add), len(dup))
	}
}

func TestDedupeEntries(t *testing.T) {
	add, dup := DedupeEntries(NewIDSet("e1"), []domain.SettlementEntry{{ID: "e1"}, {ID: "e2"}, {ID: "e2"}})
	if len(add) != 1 || add[0].ID != "e2" || len(dup) != 2 {
		t.Errorf("DedupeEntries() add=%v dup=%v", add, dup)
	}
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
