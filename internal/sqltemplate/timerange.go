package sqltemplate

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var timeRangePattern = regexp.MustCompile(`^(\d{1,3})\s*([dwmy])$`)

// ParseTimeRange turns "30d", "12w", "6m", "1y" or "ytd" into the start of the window.
func ParseTimeRange(s string, now time.Time) (time.Time, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return time.Time{}, false
	}
	if s == "ytd" {
		return time.Date(now.Year(), 1, 1, 0, 0, 0, 0, now.Location()), true
	}

	m := timeRangePattern.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return time.Time{}, false
	}

	switch m[2] {
	case "d":
		return now.AddDate(0, 0, -n), true
	case "w":
		return now.AddDate(0, 0, -7*n), true
	case "m":
		return now.AddDate(0, -n, 0), true
	default:
		return now.AddDate(-n, 0, 0), true
	}
}

// FormatBound renders t the way a template's date column stores it.
func FormatBound(t time.Time, format DateFormat) string {
	switch format {
	case DateFormatMonth:
		return t.Format("200601")
	case DateFormatCompactDay:
		return t.Format("20060102")
	default:
		return t.Format("2006-01-02")
	}
}
