// Package analytics derives trend signals from rows already fetched by the
// SQL branch. Every function here is pure.
package analytics

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var dateLayouts = []string{
	"2006-01-02",
	"20060102",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006/01/02",
	"2006.01.02",
}

// ToFloat coerces driver values (int64, float64, []byte, string, ...) into a float.
func ToFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case nil:
		return 0, false
	case float64:
		return x, !math.IsNaN(x) && !math.IsInf(x, 0)
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case []byte:
		return parseNumber(string(x))
	case string:
		return parseNumber(x)
	default:
		return 0, false
	}
}

func parseNumber(s string) (float64, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// ToDate coerces a date-like column value into a UTC calendar date.
func ToDate(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return truncateDay(x), !x.IsZero()
	case []byte:
		return parseDate(string(x))
	case string:
		return parseDate(x)
	case int64:
		return parseDate(strconv.FormatInt(x, 10))
	case int:
		return parseDate(strconv.Itoa(x))
	default:
		return time.Time{}, false
	}
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return truncateDay(t), true
		}
	}
	return time.Time{}, false
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ToMonth normalizes a statistic month ("202401", "2024-01", a date) to "YYYY-MM".
func ToMonth(v any) (string, bool) {
	var s string
	switch x := v.(type) {
	case time.Time:
		if x.IsZero() {
			return "", false
		}
		return x.UTC().Format("2006-01"), true
	case []byte:
		s = string(x)
	case string:
		s = x
	case int64:
		s = strconv.FormatInt(x, 10)
	case int:
		s = strconv.Itoa(x)
	case float64:
		s = strconv.FormatInt(int64(x), 10)
	default:
		return "", false
	}

	s = strings.TrimSpace(s)
	for _, layout := range []string{"200601", "2006-01", "2006/01", "2006.01"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01"), true
		}
	}
	if t, ok := parseDate(s); ok {
		return t.Format("2006-01"), true
	}
	return "", false
}

// Round rounds x to the given number of decimal places.
func Round(x float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(x*p) / p
}

// PctChange is (to/from - 1) * 100, rounded to 4 places.
func PctChange(from, to float64) (float64, bool) {
	if from == 0 {
		return 0, false
	}
	return Round((to/from-1)*100, 4), true
}

// ToKey normalizes a security key column value (symbol, stock code,
// security id) so rows and requested keys compare equal.
func ToKey(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.ToUpper(strings.TrimSpace(x))
	case []byte:
		return strings.ToUpper(strings.TrimSpace(string(x)))
	default:
		return strings.ToUpper(strings.TrimSpace(fmt.Sprint(x)))
	}
}

func firstValue(row map[string]any, columns []string) (any, bool) {
	for _, c := range columns {
		if v, ok := row[c]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func floatPtr(f float64) *float64 {
	return &f
}
