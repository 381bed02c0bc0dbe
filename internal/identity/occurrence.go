package identity

import (
	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// Line is the minimum a statement-format parser must extract per row.
type Line struct {
	Source      string
	Date        civil.Date
	Description string
	Amount      decimal.Decimal
}

// AssignOccurrences numbers identical-looking lines of one statement. The
// n-th repetition of the same (source, date, description, amount) gets index
// n, counting from 0 in statement order, so two genuine 10.00 coffees on the
// same day keep distinct ids across re-imports.
func AssignOccurrences(lines []Line) []int {
	seen := make(map[string]int, len(lines))
	out := make([]int, len(lines))
	for i, l := range lines {
		key := sourceToken(l.Source) + "|" + dateToken(l.Date) + "|" +
			NormalizeDescription(l.Description) + "|" + amountToken(l.Amount)
		out[i] = seen[key]
		seen[key]++
	}
	return out
}

// IdentifyAll assigns occurrence indexes and returns the id of every line.
func IdentifyAll(lines []Line) []string {
	occ := AssignOccurrences(lines)
	ids := make([]string, len(lines))
	for i, l := range lines {
		ids[i] = Identity(l.Source, l.Date, l.Description, l.Amount, occ[i])
	}
	return ids
}
