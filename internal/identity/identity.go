// Package identity derives deterministic transaction ids so that re-importing
// the same statement always yields the same ids.
package identity

import (
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"unicode"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

const (
	sourceWidth      = 12
	descriptionWidth = 7 // base-36 digits of a 32-bit FNV-1a hash fit in 7
	amountWidth      = 9 // base-36 cents up to ~1e14 minor units
	occurrenceWidth  = 3
)

// Identity returns the stable id of a statement line:
//
//	SOURCE-YYYYMMDD-HHHHHHH-SAAAAAAAAA-NNN
//
// where H is the description hash, S the sign marker (C credit, D debit),
// A the absolute amount in cents and N the occurrence index.
func Identity(source string, date civil.Date, description string, amount decimal.Decimal, occurrenceIndex int) string {
	return fmt.Sprintf("%s-%s-%s-%s-%s",
		sourceToken(source),
		dateToken(date),
		descriptionToken(description),
		amountToken(amount),
		occurrenceToken(occurrenceIndex),
	)
}

func sourceToken(source string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(source) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
		}
		if b.Len() == sourceWidth {
			break
		}
	}
	if b.Len() == 0 {
		return "SRC"
	}
	return b.String()
}

func dateToken(d civil.Date) string {
	return fmt.Sprintf("%04d%02d%02d", d.Year, int(d.Month), d.Day)
}

// NormalizeDescription uppercases and collapses whitespace so cosmetic
// differences between exports do not change the id.
func NormalizeDescription(description string) string {
	return strings.Join(strings.Fields(strings.ToUpper(description)), " ")
}

func descriptionToken(description string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(NormalizeDescription(description)))
	return padBase36(uint64(h.Sum32()), descriptionWidth)
}

func amountToken(amount decimal.Decimal) string {
	sign := "C"
	if amount.IsNegative() {
		sign = "D"
	}
	cents := amount.Abs().Round(2).Shift(2).BigInt()
	return sign + padBase36(cents.Uint64(), amountWidth)
}

func occurrenceToken(i int) string {
	if i < 0 {
		i = 0
	}
	return fmt.Sprintf("%0*d", occurrenceWidth, i)
}

func padBase36(v uint64, width int) string {
	s := strings.ToUpper(strconv.FormatUint(v, 36))
	if len(s) >= width {
		return s
	}
	return strings.Repeat("0", width-len(s)) + s
}
