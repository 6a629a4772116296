package challenge

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ncruces/go-strftime"
)

// NormalizeID renders numeric ids without a fractional part, so "7.0" from a
// spreadsheet cell and "7" from a sequential counter match.
func NormalizeID(id string) string {
	id = strings.TrimSpace(id)
	if f, err := strconv.ParseFloat(id, 64); err == nil && f == math.Trunc(f) && !math.IsInf(f, 0) {
		return strconv.FormatInt(int64(f), 10)
	}
	return id
}

// CompareIDs orders ids numerically when both are integers and lexically
// otherwise.
func CompareIDs(a, b string) int {
	a, b = NormalizeID(a), NormalizeID(b)
	ai, aErr := strconv.ParseInt(a, 10, 64)
	bi, bErr := strconv.ParseInt(b, 10, 64)
	if aErr == nil && bErr == nil {
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		default:
			return 0
		}
	}
	if aErr == nil {
		return -1
	}
	if bErr == nil {
		return 1
	}
	return strings.Compare(a, b)
}

var timestampLayouts = []string{
	"2006-01-02T15:04:05",
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseTimestamp reads timestamp text in the strftime format ingestion wrote
// it with, falling back to the common ISO variants. An empty format means
// ISO only.
func ParseTimestamp(s, format string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if format != "" {
		if t, err := strftime.Parse(format, s); err == nil {
			return t, nil
		}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// MonthOf returns "YYYY-MM" for a timestamp string.
func MonthOf(s, format string) (string, error) {
	t, err := ParseTimestamp(s, format)
	if err != nil {
		return "", err
	}
	return t.Format("2006-01"), nil
}

// ParseMonth validates a "YYYY-MM" value.
func ParseMonth(s string) (time.Time, error) {
	t, err := time.Parse("2006-01", strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("month %q must be YYYY-MM", s)
	}
	return t, nil
}

// CheckDateFormat verifies that text written with format can be read back to
// the same calendar day, which month grouping and daily counts rely on.
func CheckDateFormat(format string) error {
	ref := time.Date(2025, time.March, 14, 9, 30, 45, 0, time.UTC)
	t, err := strftime.Parse(format, strftime.Format(format, ref))
	if err != nil {
		return fmt.Errorf("date format %q cannot be parsed back: %w", format, err)
	}
	if t.Year() != ref.Year() || t.Month() != ref.Month() || t.Day() != ref.Day() {
		return fmt.Errorf("date format %q must carry year, month and day", format)
	}
	return nil
}
