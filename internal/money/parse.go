// Package money normalizes locale-formatted monetary strings.
package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Locale selects how a lone separator is read.
type Locale string

const (
	// LocaleBR reads "1.234,56": dot groups thousands, comma is decimal.
	LocaleBR Locale = "BR"
	// LocaleUS reads "1,234.56".
	LocaleUS Locale = "US"
	// LocaleAuto reads the last separator as the decimal one.
	LocaleAuto Locale = "AUTO"
)

// ParseLocale validates a configured locale name.
func ParseLocale(raw string) (Locale, error) {
	switch Locale(strings.ToUpper(strings.TrimSpace(raw))) {
	case LocaleBR:
		return LocaleBR, nil
	case LocaleUS:
		return LocaleUS, nil
	case LocaleAuto, "":
		return LocaleAuto, nil
	}
	return "", fmt.Errorf("unknown amount locale %q", raw)
}

var (
	// ErrBlank is returned for an empty field. Callers skip the record.
	ErrBlank = errors.New("blank amount")
	// ErrNotNumeric is returned when anything but digits and separators is
	// left after stripping signs and currency markers.
	ErrNotNumeric = errors.New("non-numeric residue")
)

// Currency markers stripped from either end, longest first.
var currencyMarkers = []string{"R$", "US$", "BRL", "USD", "EUR", "GBP", "$", "€", "£"}

// Suffixes used by statement exports instead of a sign.
var (
	debitSuffixes  = []string{"DB", "D"}
	creditSuffixes = []string{"CR", "C"}
)

// ParseAmount is the boolean form of Parse.
func ParseAmount(raw string, locale Locale) (decimal.Decimal, bool) {
	d, err := Parse(raw, locale)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// Parse converts raw into a signed decimal.
func Parse(raw string, locale Locale) (decimal.Decimal, error) {
	s := strings.TrimSpace(strings.ReplaceAll(raw, "\u00a0", " "))
	if s == "" {
		return decimal.Zero, ErrBlank
	}

	// At most one sign marker: a leading or trailing minus, a plus,
	// parentheses or a D/C suffix. Signs and currency markers may be
	// interleaved: "-R$ 20,00", "R$ -20,00", "20,00-", "20,00 D".
	negative, signs := false, 0
	mark := func(neg bool) {
		signs++
		negative = neg
	}
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		mark(true)
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	for changed := true; changed; {
		changed = false
		var ok bool
		if s, ok = trimCurrency(s); ok {
			changed = true
		}
		if strings.HasPrefix(s, "-") {
			mark(true)
			s = strings.TrimSpace(s[1:])
			changed = true
		} else if strings.HasPrefix(s, "+") {
			mark(false)
			s = strings.TrimSpace(s[1:])
			changed = true
		}
		if strings.HasSuffix(s, "-") {
			mark(true)
			s = strings.TrimSpace(s[:len(s)-1])
			changed = true
		}
		if rest, ok := trimNumericSuffix(s, debitSuffixes); ok {
			mark(true)
			s = rest
			changed = true
		} else if rest, ok := trimNumericSuffix(s, creditSuffixes); ok {
			mark(false)
			s = rest
			changed = true
		}
	}
	if signs > 1 {
		return decimal.Zero, fmt.Errorf("%w: more than one sign in %q", ErrNotNumeric, raw)
	}

	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, "'", "")
	if s == "" {
		return decimal.Zero, ErrNotNumeric
	}
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' && r != ',' {
			return decimal.Zero, fmt.Errorf("%w in %q", ErrNotNumeric, raw)
		}
	}

	canonical, err := canonicalize(s, locale)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w in %q", err, raw)
	}
	d, err := decimal.NewFromString(canonical)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w in %q", ErrNotNumeric, raw)
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}

func trimCurrency(s string) (string, bool) {
	upper := strings.ToUpper(s)
	for _, m := range currencyMarkers {
		if strings.HasPrefix(upper, m) {
			return strings.TrimSpace(s[len(m):]), true
		}
		if strings.HasSuffix(upper, m) {
			return strings.TrimSpace(s[:len(s)-len(m)]), true
		}
	}
	return s, false
}

func trimNumericSuffix(s string, suffixes []string) (string, bool) {
	upper := strings.ToUpper(s)
	for _, suf := range suffixes {
		if !strings.HasSuffix(upper, suf) {
			continue
		}
		rest := strings.TrimSpace(s[:len(s)-len(suf)])
		// Only a suffix when what precedes it is numeric.
		if rest != "" && strings.ContainsAny(rest[len(rest)-1:], "0123456789") {
			return rest, true
		}
	}
	return s, false
}

// canonicalize rewrites digits and separators into "1234.56" form. Any
// separator left of the decimal one must group the integer part by three.
func canonicalize(s string, locale Locale) (string, error) {
	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")

	var decimalSep, thousandsSep rune
	switch {
	case lastDot >= 0 && lastComma >= 0:
		// Both present: the last one wins.
		decimalSep, thousandsSep = ',', '.'
		if lastDot > lastComma {
			decimalSep, thousandsSep = '.', ','
		}
	case lastDot < 0 && lastComma < 0:
		return s, nil
	default:
		sep := '.'
		if lastComma >= 0 {
			sep = ','
		}
		if loneSeparator(s, sep, locale) == 0 {
			thousandsSep = sep
		} else {
			decimalSep = sep
		}
	}

	intPart, frac := s, ""
	if decimalSep != 0 {
		i := strings.LastIndex(s, string(decimalSep))
		intPart, frac = s[:i], s[i+1:]
	}
	if strings.ContainsAny(frac, ".,") || (decimalSep != 0 && strings.ContainsRune(intPart, decimalSep)) {
		return "", ErrNotNumeric
	}
	if thousandsSep != 0 && strings.ContainsRune(intPart, thousandsSep) {
		if !groupedByThree(intPart, thousandsSep) {
			return "", fmt.Errorf("%w: bad thousands grouping", ErrNotNumeric)
		}
		intPart = strings.ReplaceAll(intPart, string(thousandsSep), "")
	}

	switch {
	case intPart == "" && frac == "":
		return "", ErrNotNumeric
	case intPart == "":
		intPart = "0"
	}
	if frac == "" {
		return intPart, nil
	}
	return intPart + "." + frac, nil
}

// loneSeparator decides whether the only separator kind present is a decimal
// separator (returned) or a thousands separator (0 returned). Repeated
// separators are thousands; canonicalize checks their grouping.
func loneSeparator(s string, sep rune, locale Locale) rune {
	count := strings.Count(s, string(sep))
	if count > 1 {
		return 0
	}
	thousands := rune(0)
	switch locale {
	case LocaleBR:
		thousands = '.'
	case LocaleUS:
		thousands = ','
	}
	if sep == thousands && groupedByThree(s, sep) {
		return 0
	}
	return sep
}

func groupedByThree(s string, sep rune) bool {
	parts := strings.Split(s, string(sep))
	if len(parts[0]) == 0 || len(parts[0]) > 3 {
		return false
	}
	for _, p := range parts[1:] {
		if len(p) != 3 {
			return false
		}
	}
	return true
}
