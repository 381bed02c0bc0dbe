package importer

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/settlement-reconciler/internal/domain"
	"github.com/dvloznov/settlement-reconciler/internal/money"
)

// Row is one raw record as decoded from JSON, CSV or the statement
// extractor. Values are strings or JSON scalars.
type Row map[string]interface{}

// ReadRows decodes rows from r. format is "json" (an array of objects, or an
// object with a "transactions", "entries" or "rules" array) or "csv" (header
// line, comma or semicolon separated).
func ReadRows(r io.Reader, format string) ([]Row, error) {
	switch strings.ToLower(format) {
	case "json":
		return readJSONRows(r)
	case "csv":
		return readCSVRows(r)
	}
	return nil, fmt.Errorf("ReadRows: unknown format %q", format)
}

func readJSONRows(r io.Reader) ([]Row, error) {
	var raw interface{}
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("ReadRows: decode json: %w", err)
	}
	if obj, ok := raw.(map[string]interface{}); ok {
		for _, key := range []string{"transactions", "entries", "rules"} {
			if v, ok := obj[key]; ok {
				raw = v
				break
			}
		}
	}
	return RowsFromModelOutput(raw)
}

// RowsFromModelOutput converts a decoded JSON array into rows.
func RowsFromModelOutput(raw interface{}) ([]Row, error) {
	items, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("RowsFromModelOutput: got %T, want array", raw)
	}
	rows := make([]Row, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("RowsFromModelOutput: element %d is %T, want object", i, item)
		}
		rows = append(rows, Row(obj))
	}
	return rows, nil
}

func readCSVRows(r io.Reader) ([]Row, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("ReadRows: read csv: %w", err)
	}
	text := strings.TrimPrefix(string(data), "\ufeff")
	header, _, _ := strings.Cut(text, "\n")

	cr := csv.NewReader(strings.NewReader(text))
	if strings.Count(header, ";") > strings.Count(header, ",") {
		cr.Comma = ';'
	}
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("ReadRows: parse csv: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	keys := make([]string, len(records[0]))
	for i, h := range records[0] {
		keys[i] = strings.ToLower(strings.TrimSpace(h))
	}
	rows := make([]Row, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make(Row, len(keys))
		for i, k := range keys {
			if i < len(rec) {
				row[k] = rec[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Accepted date layouts, tried in order.
var dateLayouts = []string{"2006-01-02", "02/01/2006", "02/01/06", "02.01.2006"}

// ParseDate reads a statement date.
func ParseDate(raw string) (civil.Date, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return civil.Date{}, errors.New("empty date")
	}
	if len(raw) > 10 && raw[4] == '-' {
		raw = raw[:10] // timestamps such as 2025-07-10T00:00:00Z
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return civil.DateOf(t), nil
		}
	}
	return civil.Date{}, fmt.Errorf("unrecognized date %q", raw)
}

func (r Row) string(key string) (string, bool) {
	v, ok := r[key]
	if !ok || v == nil {
		return "", false
	}
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val), true
	case json.Number:
		return val.String(), true
	case float64:
		return decimal.NewFromFloat(val).String(), true
	case bool:
		return fmt.Sprint(val), true
	default:
		return fmt.Sprint(val), true
	}
}

// first returns the first present, non-empty value among keys.
func (r Row) first(keys ...string) (string, string) {
	for _, k := range keys {
		if v, ok := r.string(k); ok && v != "" {
			return k, v
		}
	}
	return keys[0], ""
}

func requiredField(r Row, line int, keys ...string) (string, error) {
	key, v := r.first(keys...)
	if v == "" {
		return "", &domain.ParseError{Line: line, Field: key, Err: errors.New("missing required field")}
	}
	return v, nil
}

func dateField(r Row, line int, keys ...string) (civil.Date, error) {
	key, v := r.first(keys...)
	d, err := ParseDate(v)
	if err != nil {
		return civil.Date{}, &domain.ParseError{Line: line, Field: key, Value: v, Err: err}
	}
	return d, nil
}

// amountField parses a monetary field. JSON numbers bypass locale handling.
func amountField(r Row, locale money.Locale, line int, keys ...string) (decimal.Decimal, error) {
	for _, k := range keys {
		if n, ok := r[k].(json.Number); ok {
			d, err := decimal.NewFromString(n.String())
			if err != nil {
				return decimal.Zero, &domain.ParseError{Line: line, Field: k, Value: n.String(), Err: err}
			}
			return d, nil
		}
	}
	key, v := r.first(keys...)
	d, err := money.Parse(v, locale)
	if err != nil {
		return decimal.Zero, &domain.ParseError{Line: line, Field: key, Value: v, Err: err}
	}
	return d, nil
}

func boolField(r Row, key string) bool {
	v, ok := r.string(key)
	if !ok {
		return false
	}
	switch strings.ToLower(v) {
	case "true", "1", "yes", "y", "sim", "s":
		return true
	}
	return false
}
