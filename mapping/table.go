// Package mapping loads and queries the LIVD-style vendor-to-LIS analyte
// mapping table: vendor result code normalization, unit override, and the
// handful of closed-form numeric conversions the analyzer's results need
// before they can be emitted as HL7 OBX segments.
package mapping

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// ConvertMode names one of the numeric conversions a mapping row can apply
// to a raw result value.
type ConvertMode string

const (
	ConvertNone     ConvertMode = "none"
	ConvertMultiply ConvertMode = "multiply"
	ConvertDivide   ConvertMode = "divide"
	ConvertAdd      ConvertMode = "add"
	ConvertSubtract ConvertMode = "subtract"
	ConvertLog10    ConvertMode = "log10"
)

// Row is one entry of the ivd_mapping table.
type Row struct {
	Test             string
	VendorResultCode string
	LISResultCode    string
	LISUnit          string
	Convert          ConvertMode
	Factor           tomlNumber
}

// IsGlobal reports whether the row applies regardless of the current test
// context (Test absent or blank). Sysmex's table is entirely global rows.
func (r Row) IsGlobal() bool {
	return strings.TrimSpace(r.Test) == ""
}

// Table is the loaded, queryable set of mapping rows.
type Table struct {
	Rows []Row
}

var trailingCaretDigits = regexp.MustCompile(`(\^[0-9]+)+$`)

// Normalize strips one or more trailing "^<digits>" suffixes from a vendor
// result code, so dilution/mode-suffix variations the analyzer emits still
// land on the same mapping row. Normalize is idempotent.
func Normalize(code string) string {
	return trailingCaretDigits.ReplaceAllString(code, "")
}

// Lookup returns the first global row whose normalized vendor code matches
// the normalized form of code (case-insensitive), and true if one was found.
func (t *Table) Lookup(code string) (Row, bool) {
	norm := strings.ToUpper(Normalize(code))

	for _, row := range t.Rows {
		if !row.IsGlobal() {
			continue
		}

		if strings.ToUpper(Normalize(row.VendorResultCode)) == norm {
			return row, true
		}
	}

	return Row{}, false
}

// noValueTokens are raw result values that mean "no result", rendered as an
// empty OBX-5 rather than run through numeric conversion.
var noValueTokens = map[string]bool{
	"----": true,
	"---":  true,
	"--":   true,
	"":     true,
}

// IsNoValue reports whether raw is one of the ASTM "no value" tokens.
func IsNoValue(raw string) bool {
	return noValueTokens[strings.TrimSpace(raw)]
}

// Apply converts raw per row's convert mode and returns the value to place
// in OBX-5, along with the unit to place in OBX-6 (rawUnit if the row does
// not override it).
//
// raw that is a "no value" token always yields an empty result, regardless
// of convert mode. A raw value that does not parse as a number is passed
// through unchanged, per the mapping table's documented pitfall: a
// non-numeric parse failure is not an error, it's "leave it alone."
func Apply(row Row, raw, rawUnit string) (value, unit string) {
	unit = rawUnit
	if row.LISUnit != "" {
		unit = row.LISUnit
	}

	if IsNoValue(raw) {
		return "", unit
	}

	num, ok := parseNumber(raw)
	if !ok || row.Convert == "" || row.Convert == ConvertNone {
		return raw, unit
	}

	factor := row.Factor.Value()

	switch row.Convert {
	case ConvertMultiply:
		num *= factor
	case ConvertDivide:
		if factor != 0 {
			num /= factor
		}
	case ConvertAdd:
		num += factor
	case ConvertSubtract:
		num -= factor
	case ConvertLog10:
		if num > 0 {
			num = math.Log10(num)
		}
	default:
		return raw, unit
	}

	return formatNumber(num), unit
}

// parseNumber accepts both "." and "," as the decimal separator.
func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	s = strings.Replace(s, ",", ".", 1)

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}

	return f, true
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// tomlNumber holds the mapping file's "factor" field, which the TOML file
// may write as a bare number or as a numeric string using "." or "," as the
// decimal separator. Parse failure defaults to 0, per the documented
// pitfall that this silently turns "multiply" into a zeroing conversion and
// "divide" into a no-op.
type tomlNumber float64

// Value returns the parsed factor as a float64.
func (n tomlNumber) Value() float64 { return float64(n) }

// numberFromAny converts the raw value BurntSushi/toml decoded for a
// "factor" key (float64, int64, or string) into a tomlNumber.
func numberFromAny(v any) tomlNumber {
	switch val := v.(type) {
	case float64:
		return tomlNumber(val)
	case int64:
		return tomlNumber(val)
	case string:
		f, ok := parseNumber(val)
		if !ok {
			return 0
		}

		return tomlNumber(f)
	default:
		return 0
	}
}
