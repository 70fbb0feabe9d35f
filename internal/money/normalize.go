// Package money decodes free-form price text into cents-accurate decimals.
package money

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Places is the precision every normalized amount is rounded to.
const Places = 2

var (
	nonNumeric = regexp.MustCompile(`[^0-9,.\-]`)
	plainFloat = regexp.MustCompile(`^-?(\d+\.?\d*|\.\d+)$`)
)

// Normalize converts a string or number into a decimal rounded to two places.
// It keeps the sign; clamping belongs to the payload builder. Anything that
// cannot be decoded yields zero.
func Normalize(raw any) decimal.Decimal {
	switch v := raw.(type) {
	case nil:
		return decimal.Zero
	case decimal.Decimal:
		return v.Round(Places)
	case *decimal.Decimal:
		if v == nil {
			return decimal.Zero
		}
		return v.Round(Places)
	case float64:
		return fromFloat(v)
	case float32:
		return fromFloat(float64(v))
	case int:
		return decimal.NewFromInt(int64(v))
	case int32:
		return decimal.NewFromInt(int64(v))
	case int64:
		return decimal.NewFromInt(v)
	case json.Number:
		return parse(string(v))
	case string:
		return parse(v)
	case fmt.Stringer:
		return parse(v.String())
	default:
		return parse(fmt.Sprint(v))
	}
}

func fromFloat(f float64) decimal.Decimal {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(f).Round(Places)
}

func parse(s string) decimal.Decimal {
	num := disambiguate(nonNumeric.ReplaceAllString(s, ""))
	if !plainFloat.MatchString(num) {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(num)
	if err != nil {
		return decimal.Zero
	}
	return d.Round(Places)
}

// disambiguate rewrites the separators so that at most one '.' remains as the
// decimal point. With both separators present the last one is the decimal
// separator. A single lone separator is decimal. A repeated one is grouping only
// when it splits the number into thousands groups; otherwise the text is left
// alone and fails to parse.
func disambiguate(s string) string {
	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")

	switch {
	case lastComma >= 0 && lastDot >= 0:
		decimalAt := max(lastComma, lastDot)
		return keepOnly(s, decimalAt)
	case lastComma >= 0:
		if strings.Count(s, ",") == 1 {
			return strings.Replace(s, ",", ".", 1)
		}
		if thousandsGroups(s, ",") {
			return strings.ReplaceAll(s, ",", "")
		}
		return s
	case lastDot >= 0:
		if strings.Count(s, ".") > 1 && thousandsGroups(s, ".") {
			return strings.ReplaceAll(s, ".", "")
		}
		return s
	default:
		return s
	}
}

// thousandsGroups reports whether sep splits s into a 1-3 digit lead followed
// by groups of exactly three digits, as in "1,234,567".
func thousandsGroups(s, sep string) bool {
	parts := strings.Split(strings.TrimPrefix(s, "-"), sep)
	if len(parts[0]) == 0 || len(parts[0]) > 3 || !allDigits(parts[0]) {
		return false
	}
	for _, p := range parts[1:] {
		if len(p) != 3 || !allDigits(p) {
			return false
		}
	}
	return true
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func keepOnly(s string, decimalAt int) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == ',' || c == '.' {
			if i == decimalAt {
				b.WriteByte('.')
			}
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// Format renders d with exactly two decimals.
func Format(d decimal.Decimal) string {
	return d.StringFixed(Places)
}
