package identity

import (
	"strings"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

var july1 = civil.Date{Year: 2025, Month: 7, Day: 1}

func TestIdentity_Deterministic(t *testing.T) {
	amount := decimal.RequireFromString("-1234.56")
	a := Identity("Inter PJ", july1, "PIX RECEBIDO  FULANO", amount, 0)
	b := Identity("Inter PJ", july1, "PIX RECEBIDO  FULANO", amount, 0)
	if a != b {
		t.Fatalf("Identity() not deterministic: %q != %q", a, b)
	}
	if !strings.HasPrefix(a, "INTERPJ-20250701-") {
		t.Errorf("Identity() = %q, want INTERPJ-20250701- prefix", a)
	}
	if !strings.HasSuffix(a, "-000") {
		t.Errorf("Identity() = %q, want -000 occurrence suffix", a)
	}
}

func TestIdentity_FixedWidth(t *testing.T) {
	small := Identity("inter", july1, "a", decimal.RequireFromString("0.01"), 1)
	large := Identity("inter", july1, "a much longer description text", decimal.RequireFromString("987654.32"), 12)
	if len(small) != len(large) {
		t.Errorf("ids differ in width: %q (%d) vs %q (%d)", small, len(small), large, len(large))
	}
}

func TestIdentity_Distinguishes(t *testing.T) {
	base := Identity("inter", july1, "TED", decimal.NewFromInt(500), 0)

	tests := []struct {
		name string
		id   string
	}{
		{"source", Identity("nubank", july1, "TED", decimal.NewFromInt(500), 0)},
		{"date", Identity("inter", civil.Date{Year: 2025, Month: 7, Day: 2}, "TED", decimal.NewFromInt(500), 0)},
		{"description", Identity("inter", july1, "DOC", decimal.NewFromInt(500), 0)},
		{"amount", Identity("inter", july1, "TED", decimal.RequireFromString("500.01"), 0)},
		{"sign", Identity("inter", july1, "TED", decimal.NewFromInt(-500), 0)},
		{"occurrence", Identity("inter", july1, "TED", decimal.NewFromInt(500), 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.id == base {
				t.Errorf("changing %s did not change the id %q", tt.name, base)
			}
		})
	}
}

func TestIdentity_IgnoresCosmeticDescriptionChanges(t *testing.T) {
	a := Identity("inter", july1, "Pix  recebido fulano ", decimal.NewFromInt(10), 0)
	b := Identity("inter", july1, "PIX RECEBIDO FULANO", decimal.NewFromInt(10), 0)
	if a != b {
		t.Errorf("whitespace/case changed id: %q vs %q", a, b)
	}
}

func TestAssignOccurrences(t *testing.T) {
	coffee := Line{Source: "card", Date: july1, Description: "COFFEE", Amount: decimal.NewFromInt(-10)}
	lunch := Line{Source: "card", Date: july1, Description: "LUNCH", Amount: decimal.NewFromInt(-30)}

	got := AssignOccurrences([]Line{coffee, lunch, coffee, coffee})
	want := []int{0, 0, 1, 2}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("AssignOccurrences() = %v, want %v", got, want)
		}
	}

	ids := IdentifyAll([]Line{coffee, lunch, coffee})
	if ids[0] == ids[2] {
		t.Error("repeated lines received the same id")
	}
	again := IdentifyAll([]Line{coffee, lunch, coffee})
	for i := range ids {
		if ids[i] != again[i] {
			t.Errorf("IdentifyAll() not stable at %d: %q vs %q", i, ids[i], again[i])
		}
	}
}
